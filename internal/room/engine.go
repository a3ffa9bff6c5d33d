// Package room runs rated human games: move validation against the stored
// room, clocks, termination, and settlement of ratings and counters.
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/engine"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/realtime"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

const idPrefix = "GM-"

type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (engine.Evaluation, error)
}

type Deps struct {
	Store    *store.Store
	Accounts accounts.Store
	Notifier realtime.Notifier
	// Evaluator is optional; without it no gameEval is sent.
	Evaluator Evaluator
	Messages  *msgcat.Catalog
	Clock     quartz.Clock
}

type Engine struct {
	store    *store.Store
	accounts accounts.Store
	notifier realtime.Notifier
	eval     Evaluator
	msgs     *msgcat.Catalog
	clock    quartz.Clock
}

func New(d Deps) *Engine {
	e := &Engine{
		store:    d.Store,
		accounts: d.Accounts,
		notifier: d.Notifier,
		eval:     d.Evaluator,
		msgs:     d.Messages,
		clock:    d.Clock,
	}
	if e.msgs == nil {
		e.msgs = msgcat.Embedded()
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	return e
}

type CreateParams struct {
	Mode        string
	TimeControl TimeControl
	// A and B are seated in random colors.
	A, B Player
}

// Create persists a new ongoing room and registers it for timeout sweeps.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*Room, error) {
	white, black := p.A, p.B
	if rand.IntN(2) == 0 {
		white, black = black, white
	}
	white.Color, black.Color = White, Black
	white.TimeRemaining = p.TimeControl.Initial
	black.TimeRemaining = p.TimeControl.Initial

	now := e.clock.Now().UnixMilli()
	r := &Room{
		RoomID:            NewID(idPrefix),
		Mode:              p.Mode,
		Player1:           white,
		Player2:           black,
		FEN:               rules.StartFEN,
		Moves:             []string{},
		Status:            StatusOngoing,
		TimeControl:       p.TimeControl,
		LastMoveTimestamp: now,
		CreatedAt:         now,
	}
	if err := e.store.PutJSON(ctx, store.RoomKey(r.RoomID), r, e.store.RoomTTL()); err != nil {
		return nil, fmt.Errorf("save room: %w", err)
	}
	if err := e.store.SAdd(ctx, store.ActiveGamesKey, r.RoomID); err != nil {
		return nil, fmt.Errorf("index room: %w", err)
	}
	obslog.L().Info("room_created",
		zap.String("room_id", r.RoomID),
		zap.String("mode", r.Mode),
		zap.String("white_id", white.UserID),
		zap.String("black_id", black.UserID),
	)
	return r, nil
}

func (e *Engine) Get(ctx context.Context, roomID string) (*Room, error) {
	var r Room
	if err := e.store.GetJSON(ctx, store.RoomKey(roomID), &r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

type MoveRequest struct {
	RoomID string
	UserID string
	// FEN is the client's resulting position; the stored position always
	// comes from replaying the move list.
	FEN  string
	Move string
}

type MoveResult struct {
	Room *Room
	// Applied is false when the game ended before the move was recorded.
	Applied bool
	IsCheck bool
}

// ApplyMove validates and records one move, then notifies both players.
func (e *Engine) ApplyMove(ctx context.Context, req MoveRequest) (*MoveResult, error) {
	var r Room
	res := &MoveResult{Room: &r}
	err := e.store.Mutate(ctx, store.RoomKey(req.RoomID), &r, func() (bool, error) {
		*res = MoveResult{Room: &r}
		if r.Status != StatusOngoing {
			return false, ErrGameOver
		}
		mover, opp := r.sides(req.UserID)
		if mover == nil {
			return false, ErrNotParticipant
		}
		if rules.TurnOf(r.FEN) != mover.Color {
			return false, ErrNotYourTurn
		}

		online, err := e.notifier.Online(ctx, opp.UserID)
		if err != nil {
			return false, fmt.Errorf("opponent route: %w", err)
		}
		if !online {
			e.finish(&r, StatusAbandoned, mover.UserID, rules.DrawNone)
			return true, nil
		}

		now := e.clock.Now().UnixMilli()
		remaining := r.Remaining(mover.Color, now)
		if remaining <= 0 {
			mover.TimeRemaining = 0
			e.finish(&r, StatusTimeout, opp.UserID, rules.DrawNone)
			return true, nil
		}

		g, err := rules.Replay(r.Moves)
		if err != nil {
			return false, fmt.Errorf("replay %s: %w", r.RoomID, err)
		}
		if _, err := g.Push(req.Move); err != nil {
			return false, fmt.Errorf("%w: %s", ErrInvalidMove, req.Move)
		}
		mover.TimeRemaining = remaining + r.TimeControl.Increment
		r.LastMoveTimestamp = now
		r.Moves = g.Moves()
		r.FEN = g.FEN()
		r.MaterialInfo = g.Material()

		v := g.Verdict()
		res.Applied, res.IsCheck = true, v.InCheck
		switch v.Status {
		case rules.StatusCheckmate:
			e.finish(&r, StatusCheckmate, mover.UserID, rules.DrawNone)
		case rules.StatusStalemate:
			e.finish(&r, StatusStalemate, "", rules.DrawNone)
		case rules.StatusDraw:
			e.finish(&r, StatusDraw, "", v.DrawReason)
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if req.FEN != "" && req.FEN != r.FEN && res.Applied {
		obslog.L().Debug("room_client_fen_mismatch", zap.String("room_id", r.RoomID), zap.String("client_fen", req.FEN))
	}

	mover, opp := r.sides(req.UserID)
	switch {
	case r.Status == StatusAbandoned:
		// the opponent has no connection to tell
		e.conclude(ctx, &r, mover.UserID)
		return res, nil
	case !res.Applied:
		e.conclude(ctx, &r, r.Player1.UserID, r.Player2.UserID)
		return res, nil
	}

	e.emit(ctx, opp.UserID, chessdto.EventHandleMove, chessdto.MoveBroadcast{
		OpponentFEN:       r.FEN,
		Moves:             r.Moves,
		IsCheck:           res.IsCheck,
		PlayerTimes:       r.PlayerTimes(),
		LastMoveTimestamp: r.LastMoveTimestamp,
	})
	e.emit(ctx, mover.UserID, chessdto.EventMaterialInfo, r.MaterialInfo)
	e.emit(ctx, opp.UserID, chessdto.EventMaterialInfo, r.MaterialInfo)
	if r.Status != StatusOngoing {
		e.conclude(ctx, &r, r.Player1.UserID, r.Player2.UserID)
	}
	e.sendEval(ctx, &r)
	return res, nil
}

func (e *Engine) sendEval(ctx context.Context, r *Room) {
	if e.eval == nil {
		return
	}
	ev, err := e.eval.Evaluate(ctx, r.FEN)
	if err != nil {
		obslog.L().Warn("room_eval_failed", zap.String("room_id", r.RoomID), zap.Error(err))
		return
	}
	e.emit(ctx, r.Player1.UserID, chessdto.EventGameEval, ev)
	e.emit(ctx, r.Player2.UserID, chessdto.EventGameEval, ev)
}

func (e *Engine) emit(ctx context.Context, userID, event string, payload any) {
	if _, err := e.notifier.Emit(ctx, userID, event, payload); err != nil {
		obslog.L().Warn("room_emit_failed", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}

// conclude sends gameEnd to recipients and settles r. The terminal state is
// already committed, so this must finish even after the caller's
// connection is gone.
func (e *Engine) conclude(ctx context.Context, r *Room, recipients ...string) {
	ctx = context.WithoutCancel(ctx)
	end := gameEnd(r)
	for _, id := range recipients {
		e.emit(ctx, id, chessdto.EventGameEnd, end)
	}
	e.settle(ctx, r)
}

func gameEnd(r *Room) chessdto.GameEnd {
	end := chessdto.GameEnd{Status: string(r.Status), Message: r.Message}
	if r.Winner != "" {
		w := r.Winner
		end.Winner = &w
	}
	return end
}
