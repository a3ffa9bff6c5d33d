package botgame

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/engine"
	"github.com/park285/chess-arena/internal/engine/uci"
	"github.com/park285/chess-arena/internal/realtime/realtimetest"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

type scriptedMover struct {
	mu    sync.Mutex
	moves []string
	err   error
	fens  []string
	bots  []string
}

func (m *scriptedMover) BestMove(_ context.Context, fen string, p engine.Personality) (engine.Move, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fens = append(m.fens, fen)
	m.bots = append(m.bots, p.ID)
	if m.err != nil {
		return engine.Move{}, m.err
	}
	if len(m.moves) == 0 {
		return engine.Move{}, engine.ErrNoMove
	}
	mv := m.moves[0]
	m.moves = m.moves[1:]
	return engine.Move{From: mv[0:2], To: mv[2:4], Promotion: mv[4:]}, nil
}

func (m *scriptedMover) Evaluate(_ context.Context, fen string) (engine.Evaluation, error) {
	return engine.Evaluation{Score: engine.Score{Pawns: 0.2}, Turn: rules.TurnOf(fen)}, nil
}

func (m *scriptedMover) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fens)
}

type fixture struct {
	eng      *Engine
	mover    *scriptedMover
	rec      *realtimetest.Recorder
	accounts accounts.Store
}

func newFixture(t *testing.T, userWhite bool, moves ...string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	roster, err := engine.DefaultRoster()
	require.NoError(t, err)
	accts := accounts.NewMemory()
	require.NoError(t, accts.Save(context.Background(), &domain.Account{ID: "u1", Username: "alice", Elo: 900}))

	f := &fixture{mover: &scriptedMover{moves: moves}, rec: realtimetest.NewRecorder(), accounts: accts}
	f.eng = New(Deps{
		Store:    store.New(rdb, store.DefaultRoomTTL),
		Accounts: accts,
		Engine:   f.mover,
		Roster:   roster,
		Notifier: f.rec,
		Clock:    quartz.NewMock(t),
	})
	f.eng.userWhite = func() bool { return userWhite }
	return f
}

func (f *fixture) submit(t *testing.T, roomID string, moves ...string) *Room {
	t.Helper()
	r, err := f.eng.SubmitPlayerMove(context.Background(), PlayerMoveRequest{RoomID: roomID, UserID: "u1", Moves: moves})
	require.NoError(t, err)
	return r
}

func TestStartAsBlackBotMovesFirst(t *testing.T) {
	f := newFixture(t, false, "e2e4")

	r, err := f.eng.Start(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Equal(t, room.Black, r.User.Color)
	require.Equal(t, room.White, r.Bot.Color)
	require.Equal(t, "EP:BOT-1", r.Bot.ID)
	require.Equal(t, []string{"e4"}, r.Moves)
	require.Equal(t, "b", rules.TurnOf(r.FEN))

	require.Equal(t, []string{rules.StartFEN}, f.mover.fens)
	require.Equal(t, []string{
		chessdto.EventStartGame,
		chessdto.EventHandleBotMove,
		chessdto.EventBotMaterialInfo,
		chessdto.EventBotGameEval,
	}, f.rec.Events("u1"))

	p, _ := f.rec.Last("u1", chessdto.EventHandleBotMove)
	require.Equal(t, []string{"e4"}, p.(chessdto.MoveBroadcast).Moves)
	require.Nil(t, p.(chessdto.MoveBroadcast).PlayerTimes)

	stored, err := f.eng.Get(context.Background(), r.RoomID)
	require.NoError(t, err)
	require.Equal(t, r.FEN, stored.FEN)
}

func TestStartAsWhiteWaitsForPlayer(t *testing.T) {
	f := newFixture(t, true)

	r, err := f.eng.Start(context.Background(), "u1", "EP:BOT-7")
	require.NoError(t, err)
	require.Equal(t, room.White, r.User.Color)
	require.Equal(t, "Wandering Knight", r.Bot.Name)
	require.Equal(t, 1200, r.Bot.Rating)
	require.Empty(t, r.Moves)
	require.Zero(t, f.mover.calls())
	require.Equal(t, []string{chessdto.EventStartGame}, f.rec.Events("u1"))

	p, _ := f.rec.Last("u1", chessdto.EventStartGame)
	require.Equal(t, r.RoomID, p)
}

func TestStartRejectsUnknownBotOrUser(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.eng.Start(ctx, "u1", "EP:BOT-404")
	require.ErrorIs(t, err, ErrBotNotFound)
	_, err = f.eng.Start(ctx, "nobody", "")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Empty(t, f.rec.Events("u1"))
}

func TestPlayerMoveGetsBotReply(t *testing.T) {
	f := newFixture(t, true, "e7e5")
	r, err := f.eng.Start(context.Background(), "u1", "")
	require.NoError(t, err)

	got := f.submit(t, r.RoomID, "e4")
	require.Equal(t, []string{"e4", "e5"}, got.Moves)
	require.Equal(t, room.StatusOngoing, got.Status)

	g, err := rules.Replay(got.Moves)
	require.NoError(t, err)
	require.Equal(t, g.FEN(), got.FEN)

	require.Equal(t, []string{
		chessdto.EventStartGame,
		chessdto.EventBotMaterialInfo,
		chessdto.EventBotGameEval,
		chessdto.EventHandleBotMove,
		chessdto.EventBotMaterialInfo,
		chessdto.EventBotGameEval,
	}, f.rec.Events("u1"))
}

func TestPlayerMoveRejections(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	r, err := f.eng.Start(ctx, "u1", "")
	require.NoError(t, err)

	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: "BM-missing", UserID: "u1", Moves: []string{"e4"}})
	require.ErrorIs(t, err, ErrRoomNotFound)
	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u2", Moves: []string{"e4"}})
	require.ErrorIs(t, err, ErrNotParticipant)
	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u1", Moves: []string{"e4", "e5"}})
	require.ErrorIs(t, err, ErrInvalidMove)
	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u1", Moves: []string{"e5"}})
	require.ErrorIs(t, err, ErrInvalidMove)

	stored, err := f.eng.Get(ctx, r.RoomID)
	require.NoError(t, err)
	require.Empty(t, stored.Moves)
}

func TestEngineFailureLeavesBotToMoveAndRetries(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	r, err := f.eng.Start(ctx, "u1", "")
	require.NoError(t, err)

	f.mover.err = uci.ErrTimeout
	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u1", Moves: []string{"e4"}})
	require.ErrorIs(t, err, ErrEngineUnavailable)
	require.ErrorIs(t, err, uci.ErrTimeout)

	stored, err := f.eng.Get(ctx, r.RoomID)
	require.NoError(t, err)
	require.Equal(t, []string{"e4"}, stored.Moves)

	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u1", Moves: []string{"e4", "d4"}})
	require.ErrorIs(t, err, ErrNotYourTurn)

	f.mover.err = nil
	f.mover.moves = []string{"c7c5"}
	got := f.submit(t, r.RoomID, "e4")
	require.Equal(t, []string{"e4", "c5"}, got.Moves)
}

func TestPlayerCheckmateSkipsBotTurn(t *testing.T) {
	f := newFixture(t, false, "f2f3", "g2g4", "a2a3")
	r, err := f.eng.Start(context.Background(), "u1", "")
	require.NoError(t, err)

	f.submit(t, r.RoomID, "f3", "e5")
	got := f.submit(t, r.RoomID, "f3", "e5", "g4", "Qh4#")

	require.Equal(t, room.StatusCheckmate, got.Status)
	require.Equal(t, "u1", got.Winner)
	require.Equal(t, 2, f.mover.calls())

	p, ok := f.rec.Last("u1", chessdto.EventBotGameEnd)
	require.True(t, ok)
	end := p.(chessdto.GameEnd)
	require.Equal(t, "checkmate", end.Status)
	require.Equal(t, "u1", *end.Winner)
}

func TestBotCheckmateIsCreditedToBot(t *testing.T) {
	f := newFixture(t, true, "e7e5", "d8h4")
	r, err := f.eng.Start(context.Background(), "u1", "")
	require.NoError(t, err)

	f.submit(t, r.RoomID, "f3")
	got := f.submit(t, r.RoomID, "f3", "e5", "g4")

	require.Equal(t, room.StatusCheckmate, got.Status)
	require.Equal(t, "EP:BOT-1", got.Winner)
	require.True(t, strings.HasPrefix(got.Moves[len(got.Moves)-1], "Qh4"))

	p, _ := f.rec.Last("u1", chessdto.EventHandleBotMove)
	require.True(t, p.(chessdto.MoveBroadcast).IsCheck)
	p, _ = f.rec.Last("u1", chessdto.EventBotGameEnd)
	require.Equal(t, "EP:BOT-1", *p.(chessdto.GameEnd).Winner)
}

func TestResignLeavesRatingAlone(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	r, err := f.eng.Start(ctx, "u1", "")
	require.NoError(t, err)

	got, err := f.eng.Resign(ctx, r.RoomID, "u1")
	require.NoError(t, err)
	require.Equal(t, room.StatusResignation, got.Status)
	require.Equal(t, r.Bot.ID, got.Winner)

	p, ok := f.rec.Last("u1", chessdto.EventBotGameEnd)
	require.True(t, ok)
	require.Equal(t, "resignation", p.(chessdto.GameEnd).Status)

	acc, err := f.accounts.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 900, acc.Elo)
	require.Equal(t, domain.GameStats{}, acc.GameStats)

	_, err = f.eng.Resign(ctx, r.RoomID, "u1")
	require.ErrorIs(t, err, ErrGameOver)
	_, err = f.eng.SubmitPlayerMove(ctx, PlayerMoveRequest{RoomID: r.RoomID, UserID: "u1", Moves: []string{"e4"}})
	require.ErrorIs(t, err, ErrGameOver)
}
