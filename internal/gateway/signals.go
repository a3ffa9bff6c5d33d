package gateway

import (
	"errors"

	"github.com/park285/chess-arena/internal/botgame"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

type rule struct {
	err       error
	code      string
	key       string
	retryable bool
}

// signalRules is checked in order; bot sentinels come first since a bot room
// error should not be reported as a rated-room one.
var signalRules = []rule{
	{botgame.ErrRoomNotFound, chessdto.SignalBotRoomNotFound, "bot.room_not_found", false},
	{botgame.ErrBotNotFound, chessdto.SignalBotNotFound, "bot.not_found", false},
	{botgame.ErrNotYourTurn, chessdto.SignalNotYourTurn, "room.not_your_turn", false},
	{botgame.ErrInvalidMove, chessdto.SignalInvalidMove, "room.invalid_move", false},
	{botgame.ErrBadBotMove, chessdto.SignalError, "bot.invalid_move", true},
	{botgame.ErrEngineUnavailable, chessdto.SignalError, "bot.engine_unavailable", true},
	{botgame.ErrNotParticipant, chessdto.SignalError, "room.not_participant", false},
	{botgame.ErrGameOver, chessdto.SignalError, "room.game_over", false},
	{botgame.ErrUserNotFound, chessdto.SignalError, "user.not_found", false},

	{room.ErrRoomNotFound, chessdto.SignalRoomNotFound, "room.not_found", false},
	{room.ErrNotYourTurn, chessdto.SignalNotYourTurn, "room.not_your_turn", false},
	{room.ErrInvalidMove, chessdto.SignalInvalidMove, "room.invalid_move", false},
	{room.ErrNotParticipant, chessdto.SignalError, "room.not_participant", false},
	{room.ErrGameOver, chessdto.SignalError, "room.game_over", false},

	{matchmaking.ErrAlreadySearching, chessdto.SignalError, "match.already_searching", false},
	{matchmaking.ErrInvalidTimeControl, chessdto.SignalError, "match.invalid_time_control", false},
	{matchmaking.ErrUserNotFound, chessdto.SignalError, "user.not_found", false},

	{store.ErrConflict, chessdto.SignalError, "room.conflict", true},
	{ErrIdentityMismatch, chessdto.SignalError, "room.not_participant", false},
}

// Signal maps a failed action to the signal sent back on the connection.
// Anything unrecognised becomes a generic error naming the event.
func (g *Gateway) Signal(event string, err error) chessdto.DomainError {
	var de chessdto.DomainError
	if errors.As(err, &de) {
		return de
	}
	for _, r := range signalRules {
		if errors.Is(err, r.err) {
			return chessdto.DomainError{Code: r.code, Message: g.msgs.Text(r.key), Retryable: r.retryable}
		}
	}
	return chessdto.DomainError{
		Code:    chessdto.SignalError,
		Message: g.msgs.Textf("server.error", map[string]any{"action": event}),
	}
}
