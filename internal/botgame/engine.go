// Package botgame runs untimed, unrated games against engine personalities.
package botgame

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/engine"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/realtime"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

var (
	ErrRoomNotFound      = errors.New("bot room not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrBotNotFound       = errors.New("bot not found")
	ErrNotYourTurn       = errors.New("not your turn")
	ErrNotParticipant    = errors.New("user is not the player of this bot room")
	ErrInvalidMove       = errors.New("invalid move history")
	ErrBadBotMove        = errors.New("engine move is not legal")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrGameOver          = errors.New("game is over")
)

const idPrefix = "BM-"

type Bot struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	Color  string `json:"color"`
}

// Room is the stored document of a bot game.
type Room struct {
	RoomID       string         `json:"roomId"`
	User         room.Player    `json:"user"`
	Bot          Bot            `json:"bot"`
	FEN          string         `json:"fen"`
	Moves        []string       `json:"moves"`
	Status       room.Status    `json:"status"`
	MaterialInfo rules.Material `json:"materialInfo"`
	Winner       string         `json:"winner,omitempty"`
	Message      string         `json:"message,omitempty"`
	CreatedAt    int64          `json:"createdAt"`
}

func (r *Room) botToMove() bool { return rules.TurnOf(r.FEN) == r.Bot.Color }

// Mover is the engine surface a bot game needs.
type Mover interface {
	BestMove(ctx context.Context, fen string, p engine.Personality) (engine.Move, error)
	Evaluate(ctx context.Context, fen string) (engine.Evaluation, error)
}

type Deps struct {
	Store    *store.Store
	Accounts accounts.Store
	Engine   Mover
	Roster   *engine.Roster
	Notifier realtime.Notifier
	Messages *msgcat.Catalog
	Clock    quartz.Clock
}

type Engine struct {
	store    *store.Store
	accounts accounts.Store
	mover    Mover
	roster   *engine.Roster
	notifier realtime.Notifier
	msgs     *msgcat.Catalog
	clock    quartz.Clock

	userWhite func() bool
}

func New(d Deps) *Engine {
	e := &Engine{
		store:     d.Store,
		accounts:  d.Accounts,
		mover:     d.Engine,
		roster:    d.Roster,
		notifier:  d.Notifier,
		msgs:      d.Messages,
		clock:     d.Clock,
		userWhite: func() bool { return rand.IntN(2) == 0 },
	}
	if e.msgs == nil {
		e.msgs = msgcat.Embedded()
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	return e
}

func (e *Engine) Get(ctx context.Context, roomID string) (*Room, error) {
	var r Room
	if err := e.store.GetJSON(ctx, store.BotRoomKey(roomID), &r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Start opens a bot room for userID against botID, or the default bot when
// botID is empty. A user seated as black sees the bot's first move at once.
func (e *Engine) Start(ctx context.Context, userID, botID string) (*Room, error) {
	acc, err := e.accounts.Get(ctx, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	p := e.roster.Default()
	if botID != "" {
		var ok bool
		if p, ok = e.roster.Get(botID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrBotNotFound, botID)
		}
	}

	userColor, botColor := room.White, room.Black
	if !e.userWhite() {
		userColor, botColor = room.Black, room.White
	}
	r := &Room{
		RoomID: room.NewID(idPrefix),
		User: room.Player{
			UserID:      acc.ID,
			Username:    acc.Username,
			Elo:         acc.Elo,
			Nationality: acc.Nationality,
			ProfilePic:  acc.ProfilePic,
			Gender:      acc.Gender,
			Color:       userColor,
		},
		Bot:       Bot{ID: p.ID, Name: p.Name, Rating: p.Rating, Color: botColor},
		FEN:       rules.StartFEN,
		Moves:     []string{},
		Status:    room.StatusOngoing,
		CreatedAt: e.clock.Now().UnixMilli(),
	}
	if err := e.store.PutJSON(ctx, store.BotRoomKey(r.RoomID), r, e.store.RoomTTL()); err != nil {
		return nil, fmt.Errorf("save bot room: %w", err)
	}
	obslog.L().Info("bot_room_created",
		zap.String("room_id", r.RoomID),
		zap.String("user_id", userID),
		zap.String("bot_id", p.ID),
		zap.String("user_color", userColor),
	)
	e.emit(ctx, userID, chessdto.EventStartGame, r.RoomID)

	if r.botToMove() {
		next, err := e.botTurn(ctx, r.RoomID)
		if err != nil {
			return r, err
		}
		r = next
	}
	return r, nil
}

type PlayerMoveRequest struct {
	RoomID string
	UserID string
	FEN    string
	// Moves is the client's full history including its new move.
	Moves []string
}

// SubmitPlayerMove records the player's move and answers with the bot's.
// Resubmitting the stored history while the bot is to move retries the
// bot's turn.
func (e *Engine) SubmitPlayerMove(ctx context.Context, req PlayerMoveRequest) (*Room, error) {
	var (
		r     Room
		retry bool
	)
	err := e.store.Mutate(ctx, store.BotRoomKey(req.RoomID), &r, func() (bool, error) {
		retry = false
		if r.Status != room.StatusOngoing {
			return false, ErrGameOver
		}
		if r.User.UserID != req.UserID {
			return false, ErrNotParticipant
		}
		if r.botToMove() {
			if slices.Equal(req.Moves, r.Moves) {
				retry = true
				return false, nil
			}
			return false, ErrNotYourTurn
		}
		if len(req.Moves) != len(r.Moves)+1 || !slices.Equal(req.Moves[:len(r.Moves)], r.Moves) {
			return false, ErrInvalidMove
		}
		g, err := rules.Replay(r.Moves)
		if err != nil {
			return false, fmt.Errorf("replay %s: %w", r.RoomID, err)
		}
		if _, err := g.Push(req.Moves[len(r.Moves)]); err != nil {
			return false, ErrInvalidMove
		}
		e.record(&r, g, r.User.UserID)
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	if !retry {
		e.emit(ctx, r.User.UserID, chessdto.EventBotMaterialInfo, r.MaterialInfo)
		e.sendEval(ctx, &r)
		if r.Status != room.StatusOngoing {
			e.emit(ctx, r.User.UserID, chessdto.EventBotGameEnd, gameEnd(&r))
			return &r, nil
		}
	}
	return e.botTurn(ctx, r.RoomID)
}

// botTurn asks the engine for the bot's move in the stored position and
// records it.
func (e *Engine) botTurn(ctx context.Context, roomID string) (*Room, error) {
	cur, err := e.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	p, ok := e.roster.Get(cur.Bot.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, cur.Bot.ID)
	}
	mv, err := e.mover.BestMove(ctx, cur.FEN, p)
	if err != nil {
		obslog.L().Warn("bot_move_failed", zap.String("room_id", roomID), zap.String("bot_id", p.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}

	var (
		r       Room
		isCheck bool
	)
	err = e.store.Mutate(ctx, store.BotRoomKey(roomID), &r, func() (bool, error) {
		if r.Status != room.StatusOngoing || r.FEN != cur.FEN {
			return false, store.ErrConflict
		}
		g, err := rules.Replay(r.Moves)
		if err != nil {
			return false, fmt.Errorf("replay %s: %w", r.RoomID, err)
		}
		if _, err := g.PushUCI(mv.UCI()); err != nil {
			return false, fmt.Errorf("%w: %s", ErrBadBotMove, mv.UCI())
		}
		isCheck = e.record(&r, g, r.Bot.ID)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	uid := r.User.UserID
	e.emit(ctx, uid, chessdto.EventHandleBotMove, chessdto.MoveBroadcast{
		OpponentFEN: r.FEN,
		Moves:       r.Moves,
		IsCheck:     isCheck,
	})
	e.emit(ctx, uid, chessdto.EventBotMaterialInfo, r.MaterialInfo)
	if r.Status != room.StatusOngoing {
		e.emit(ctx, uid, chessdto.EventBotGameEnd, gameEnd(&r))
	}
	e.sendEval(ctx, &r)
	return &r, nil
}

// record copies the replayed game into r and applies its verdict; mover is
// credited with a checkmate. It returns the check flag.
func (e *Engine) record(r *Room, g *rules.Game, mover string) bool {
	r.Moves = g.Moves()
	r.FEN = g.FEN()
	r.MaterialInfo = g.Material()
	v := g.Verdict()
	switch v.Status {
	case rules.StatusCheckmate:
		r.Status, r.Winner, r.Message = room.StatusCheckmate, mover, e.msgs.Text("result.checkmate")
	case rules.StatusStalemate:
		r.Status, r.Message = room.StatusStalemate, e.msgs.Text("result.stalemate")
	case rules.StatusDraw:
		r.Status = room.StatusDraw
		switch v.DrawReason {
		case rules.DrawRepetition:
			r.Message = e.msgs.Text("result.repetition")
		case rules.DrawFiftyMove:
			r.Message = e.msgs.Text("result.fifty_move")
		default:
			r.Message = e.msgs.Text("result.insufficient")
		}
	}
	return v.InCheck
}

// Resign hands the game to the bot. Bot games leave ratings untouched.
func (e *Engine) Resign(ctx context.Context, roomID, userID string) (*Room, error) {
	var r Room
	err := e.store.Mutate(ctx, store.BotRoomKey(roomID), &r, func() (bool, error) {
		if r.Status != room.StatusOngoing {
			return false, ErrGameOver
		}
		if r.User.UserID != userID {
			return false, ErrNotParticipant
		}
		r.Status, r.Winner, r.Message = room.StatusResignation, r.Bot.ID, e.msgs.Text("result.resignation")
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	e.emit(ctx, userID, chessdto.EventBotGameEnd, gameEnd(&r))
	return &r, nil
}

func (e *Engine) sendEval(ctx context.Context, r *Room) {
	ev, err := e.mover.Evaluate(ctx, r.FEN)
	if err != nil {
		obslog.L().Warn("bot_eval_failed", zap.String("room_id", r.RoomID), zap.Error(err))
		return
	}
	e.emit(ctx, r.User.UserID, chessdto.EventBotGameEval, ev)
}

func (e *Engine) emit(ctx context.Context, userID, event string, payload any) {
	if _, err := e.notifier.Emit(ctx, userID, event, payload); err != nil {
		obslog.L().Warn("bot_emit_failed", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}

func gameEnd(r *Room) chessdto.GameEnd {
	end := chessdto.GameEnd{Status: string(r.Status), Message: r.Message}
	if r.Winner != "" {
		w := r.Winner
		end.Winner = &w
	}
	return end
}
