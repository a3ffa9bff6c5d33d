package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/quartz"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/domain"
	"github.com/park285/chess-arena/internal/realtime/realtimetest"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/store"
)

func newStore(t *testing.T) (*store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.New(rdb, store.DefaultRoomTTL), mr
}

func TestSweepSettlesOnlyExpiredRooms(t *testing.T) {
	st, mr := newStore(t)
	ctx := context.Background()
	clock := quartz.NewMock(t)
	accts := accounts.NewMemory()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, accts.Save(ctx, &domain.Account{ID: id, Elo: 1500}))
	}
	rooms := room.New(room.Deps{Store: st, Accounts: accts, Notifier: realtimetest.NewRecorder(), Clock: clock})

	fast, err := rooms.Create(ctx, room.CreateParams{Mode: "Bullet", TimeControl: room.TimeControl{Initial: 1000}, A: room.Player{UserID: "a", Elo: 1500}, B: room.Player{UserID: "b", Elo: 1500}})
	require.NoError(t, err)
	slow, err := rooms.Create(ctx, room.CreateParams{Mode: "Rapid", TimeControl: room.TimeControl{Initial: 600_000}, A: room.Player{UserID: "c", Elo: 1500}, B: room.Player{UserID: "d", Elo: 1500}})
	require.NoError(t, err)
	_, err = mr.SAdd(store.ActiveGamesKey, "GM-gone")
	require.NoError(t, err)

	sw := New(st, rooms, Config{Clock: clock})
	n, err := sw.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	clock.Advance(time.Second).MustWait(ctx)
	n, err = sw.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := rooms.Get(ctx, fast.RoomID)
	require.NoError(t, err)
	require.Equal(t, room.StatusTimeout, got.Status)
	require.Equal(t, got.Player2.UserID, got.Winner)

	members, err := mr.Members(store.ActiveGamesKey)
	require.NoError(t, err)
	require.Equal(t, []string{slow.RoomID}, members)

	loser, err := accts.Get(ctx, got.Player1.UserID)
	require.NoError(t, err)
	require.Equal(t, 1484, loser.Elo)
	require.Equal(t, 1, loser.GameStats.Lost)
}

type scriptedChecker struct {
	calls   atomic.Int32
	results map[string]error
}

func (s *scriptedChecker) CheckTimeout(_ context.Context, roomID string) (bool, error) {
	s.calls.Add(1)
	if err := s.results[roomID]; err != nil {
		return false, err
	}
	return true, nil
}

func TestSweepSurvivesRoomErrors(t *testing.T) {
	st, mr := newStore(t)
	for _, id := range []string{"GM-1", "GM-2", "GM-3"} {
		_, err := mr.SAdd(store.ActiveGamesKey, id)
		require.NoError(t, err)
	}
	chk := &scriptedChecker{results: map[string]error{"GM-2": errors.New("redis hiccup")}}

	n, err := New(st, chk, Config{Concurrency: 1}).Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int32(3), chk.calls.Load())
}

func TestRunSweepsEveryTick(t *testing.T) {
	st, mr := newStore(t)
	_, err := mr.SAdd(store.ActiveGamesKey, "GM-1")
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	chk := &scriptedChecker{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(st, chk, Config{Clock: clock}).Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second).MustWait(context.Background())
		return chk.calls.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
