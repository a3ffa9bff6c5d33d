// Package gateway routes inbound WebSocket events to the game components
// and turns their failures into the signals clients understand.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/botgame"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/realtime"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/pkg/chessdto"
)

var (
	ErrBadPayload       = errors.New("malformed event payload")
	ErrIdentityMismatch = errors.New("userId does not match the connection")
)

type Searcher interface {
	Search(ctx context.Context, req matchmaking.SearchRequest) error
	Cancel(ctx context.Context, userID string) error
}

type Rooms interface {
	ApplyMove(ctx context.Context, req room.MoveRequest) (*room.MoveResult, error)
	Resign(ctx context.Context, roomID, userID string) (*room.Room, error)
	OfferDraw(ctx context.Context, roomID, userID string) error
	ResolveDraw(ctx context.Context, roomID, userID string, accepted bool) (*room.Room, error)
}

type Bots interface {
	Start(ctx context.Context, userID, botID string) (*botgame.Room, error)
	SubmitPlayerMove(ctx context.Context, req botgame.PlayerMoveRequest) (*botgame.Room, error)
	Resign(ctx context.Context, roomID, userID string) (*botgame.Room, error)
}

type Deps struct {
	Search   Searcher
	Rooms    Rooms
	Bots     Bots
	Messages *msgcat.Catalog
}

type Gateway struct {
	search Searcher
	rooms  Rooms
	bots   Bots
	msgs   *msgcat.Catalog
}

var _ realtime.Handler = (*Gateway)(nil)

func New(d Deps) *Gateway {
	g := &Gateway{search: d.Search, rooms: d.Rooms, bots: d.Bots, msgs: d.Messages}
	if g.msgs == nil {
		g.msgs = msgcat.Embedded()
	}
	return g
}

func (g *Gateway) Handle(ctx context.Context, c realtime.Client, event string, data json.RawMessage) {
	var err error
	switch event {
	case chessdto.EventJoinRoom:
		err = g.joinRoom(ctx, c, data)
	case chessdto.EventCancelSearch:
		err = g.cancelSearch(ctx, c, data)
	case chessdto.EventHandleMove:
		err = g.handleMove(ctx, c, data)
	case chessdto.EventResign:
		err = g.resign(ctx, c, data)
	case chessdto.EventOfferDraw:
		err = g.offerDraw(ctx, c, data)
	case chessdto.EventDrawResolution:
		err = g.drawResolution(ctx, c, data)
	case chessdto.EventPlayBot:
		err = g.playBot(ctx, c, data)
	case chessdto.EventHandlePlayerMove:
		err = g.handlePlayerMove(ctx, c, data)
	case chessdto.EventBotGameResign:
		err = g.botGameResign(ctx, c, data)
	default:
		obslog.L().Debug("ws_unknown_event", zap.String("user_id", c.UserID()), zap.String("event", event))
		return
	}
	if err != nil {
		g.reject(ctx, c, event, err)
	}
}

// Disconnected abandons any search the user left running.
func (g *Gateway) Disconnected(ctx context.Context, userID string) {
	if err := g.search.Cancel(ctx, userID); err != nil {
		obslog.L().Warn("disconnect_cancel_failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// decode reads the payload and settles who is asking: the connection's
// user, which a payload userId may repeat but not replace.
func decode[T any](c realtime.Client, data json.RawMessage, userID func(*T) *string) (*T, error) {
	var req T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
		}
	}
	id := userID(&req)
	claimed := strings.TrimSpace(*id)
	if claimed != "" && claimed != c.UserID() {
		return nil, ErrIdentityMismatch
	}
	*id = c.UserID()
	return &req, nil
}

func (g *Gateway) joinRoom(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.JoinRoomRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	err = g.search.Search(ctx, matchmaking.SearchRequest{
		UserID:      req.UserID,
		Mode:        req.Mode,
		TimeControl: room.TimeControl{Initial: req.TimeControls.Initial, Increment: req.TimeControls.Increment},
	})
	if errors.Is(err, matchmaking.ErrUnknownMode) {
		return chessdto.DomainError{
			Code:    chessdto.SignalError,
			Message: g.msgs.Textf("match.unknown_mode", map[string]any{"mode": req.Mode}),
		}
	}
	return err
}

func (g *Gateway) cancelSearch(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.CancelSearchRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	return g.search.Cancel(ctx, req.UserID)
}

func (g *Gateway) handleMove(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.HandleMoveRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.rooms.ApplyMove(ctx, room.MoveRequest{RoomID: req.RoomID, UserID: req.UserID, FEN: req.FEN, Move: req.Move})
	return err
}

func (g *Gateway) resign(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.RoomRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.rooms.Resign(ctx, req.RoomID, req.UserID)
	return err
}

func (g *Gateway) offerDraw(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.RoomRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	return g.rooms.OfferDraw(ctx, req.RoomID, req.UserID)
}

func (g *Gateway) drawResolution(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.DrawResolutionRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.rooms.ResolveDraw(ctx, req.RoomID, req.UserID, req.Accepted)
	return err
}

func (g *Gateway) playBot(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.PlayBotRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.bots.Start(ctx, req.UserID, strings.TrimSpace(req.BotID))
	return err
}

func (g *Gateway) handlePlayerMove(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.HandlePlayerMoveRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.bots.SubmitPlayerMove(ctx, botgame.PlayerMoveRequest{RoomID: req.RoomID, UserID: req.UserID, FEN: req.FEN, Moves: req.Moves})
	return err
}

func (g *Gateway) botGameResign(ctx context.Context, c realtime.Client, data json.RawMessage) error {
	req, err := decode(c, data, func(r *chessdto.RoomRequest) *string { return &r.UserID })
	if err != nil {
		return err
	}
	_, err = g.bots.Resign(ctx, req.RoomID, req.UserID)
	return err
}

func (g *Gateway) reject(ctx context.Context, c realtime.Client, event string, err error) {
	sig := g.Signal(event, err)
	lvl := obslog.L().Info
	if sig.Code == chessdto.SignalError && !sig.Retryable {
		lvl = obslog.L().Warn
	}
	lvl("ws_event_rejected",
		zap.String("user_id", c.UserID()),
		zap.String("event", event),
		zap.String("signal", sig.Code),
		zap.Error(err),
	)
	if sendErr := c.Send(ctx, sig.Code, sig.Message); sendErr != nil {
		obslog.L().Warn("ws_signal_failed", zap.String("user_id", c.UserID()), zap.String("signal", sig.Code), zap.Error(sendErr))
	}
}
