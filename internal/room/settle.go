package room

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rating"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

var drawMessageKeys = map[rules.DrawReason]string{
	rules.DrawRepetition:   "result.repetition",
	rules.DrawFiftyMove:    "result.fifty_move",
	rules.DrawInsufficient: "result.insufficient",
}

var statusMessageKeys = map[Status]string{
	StatusCheckmate:   "result.checkmate",
	StatusStalemate:   "result.stalemate",
	StatusTimeout:     "result.timeout",
	StatusResignation: "result.resignation",
	StatusAbandoned:   "result.abandoned",
}

// finish moves r out of ongoing. winner is empty for draws and stalemates.
func (e *Engine) finish(r *Room, status Status, winner string, reason rules.DrawReason) {
	r.Status = status
	r.Winner = winner
	switch {
	case status == StatusDraw && reason == rules.DrawNone:
		r.Message = e.msgs.Text("result.agreement")
	case status == StatusDraw:
		r.Message = e.msgs.Text(drawMessageKeys[reason])
	default:
		r.Message = e.msgs.Text(statusMessageKeys[status])
	}
}

// settle runs once per room, by whoever committed the transition out of
// ongoing: the room leaves the active index and both accounts are updated.
func (e *Engine) settle(ctx context.Context, r *Room) {
	log := obslog.L().With(zap.String("room_id", r.RoomID), zap.String("status", string(r.Status)))
	if err := e.store.SRem(ctx, store.ActiveGamesKey, r.RoomID); err != nil {
		log.Error("room_unindex_failed", zap.Error(err))
	}
	if e.accounts == nil {
		return
	}
	if err := e.accounts.Apply(ctx, ratingChanges(r)...); err != nil {
		log.Error("room_settle_accounts_failed", zap.Error(err))
		return
	}
	log.Info("room_settled", zap.String("winner", r.Winner))
}

func ratingChanges(r *Room) []accounts.Change {
	a, b := &r.Player1, &r.Player2
	if r.Status.Decisive() {
		if r.Winner == b.UserID {
			a, b = b, a
		}
		newA, newB := rating.Update(a.Elo, b.Elo, 1, rating.K)
		return []accounts.Change{
			{UserID: a.UserID, Elo: newA, Won: 1},
			{UserID: b.UserID, Elo: newB, Lost: 1},
		}
	}
	newA, newB := rating.Update(a.Elo, b.Elo, 0.5, rating.K)
	ca := accounts.Change{UserID: a.UserID, Elo: newA}
	cb := accounts.Change{UserID: b.UserID, Elo: newB}
	if r.Status == StatusStalemate {
		ca.Stalemate, cb.Stalemate = 1, 1
	} else {
		ca.Draw, cb.Draw = 1, 1
	}
	return []accounts.Change{ca, cb}
}

// transition applies fn to an ongoing room the user plays in.
func (e *Engine) transition(ctx context.Context, roomID, userID string, fn func(r *Room, me, opp *Player)) (*Room, error) {
	var r Room
	err := e.store.Mutate(ctx, store.RoomKey(roomID), &r, func() (bool, error) {
		if r.Status != StatusOngoing {
			return false, ErrGameOver
		}
		me, opp := r.sides(userID)
		if me == nil {
			return false, ErrNotParticipant
		}
		fn(&r, me, opp)
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Resign ends the game in the opponent's favor regardless of the clocks.
func (e *Engine) Resign(ctx context.Context, roomID, userID string) (*Room, error) {
	r, err := e.transition(ctx, roomID, userID, func(r *Room, _, opp *Player) {
		e.finish(r, StatusResignation, opp.UserID, rules.DrawNone)
	})
	if err != nil {
		return nil, err
	}
	e.conclude(ctx, r, r.Player1.UserID, r.Player2.UserID)
	return r, nil
}

// OfferDraw tells the opponent; the room is unchanged.
func (e *Engine) OfferDraw(ctx context.Context, roomID, userID string) error {
	r, err := e.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != StatusOngoing {
		return ErrGameOver
	}
	_, opp := r.sides(userID)
	if opp == nil {
		return ErrNotParticipant
	}
	e.emit(ctx, opp.UserID, chessdto.EventDrawOffered, userID)
	return nil
}

// ResolveDraw settles the room as a draw when accepted. A decline does nothing.
func (e *Engine) ResolveDraw(ctx context.Context, roomID, userID string, accepted bool) (*Room, error) {
	if !accepted {
		return e.Get(ctx, roomID)
	}
	r, err := e.transition(ctx, roomID, userID, func(r *Room, _, _ *Player) {
		e.finish(r, StatusDraw, "", rules.DrawNone)
	})
	if err != nil {
		return nil, err
	}
	e.conclude(ctx, r, r.Player1.UserID, r.Player2.UserID)
	return r, nil
}

// CheckTimeout settles the room when the side to move has run out of time
// and drops stale ids from the active index. It reports whether the room
// was settled.
func (e *Engine) CheckTimeout(ctx context.Context, roomID string) (bool, error) {
	var (
		r     Room
		stale bool
	)
	err := e.store.Mutate(ctx, store.RoomKey(roomID), &r, func() (bool, error) {
		if r.Status != StatusOngoing {
			stale = true
			return false, nil
		}
		toMove := rules.TurnOf(r.FEN)
		if r.Remaining(toMove, e.clock.Now().UnixMilli()) > 0 {
			return false, nil
		}
		loser, winner := r.byColor(toMove)
		loser.TimeRemaining = 0
		e.finish(&r, StatusTimeout, winner.UserID, rules.DrawNone)
		return true, nil
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		stale = true
	case errors.Is(err, store.ErrConflict):
		// a move landed meanwhile; the next sweep looks again
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check timeout %s: %w", roomID, err)
	}
	if stale {
		return false, e.store.SRem(ctx, store.ActiveGamesKey, roomID)
	}
	if r.Status != StatusTimeout {
		return false, nil
	}
	obslog.L().Info("room_flagged", zap.String("room_id", roomID), zap.String("winner", r.Winner))
	e.conclude(ctx, &r, r.Player1.UserID, r.Player2.UserID)
	return true, nil
}
