// Package sweeper ends timed games whose side to move stopped playing.
package sweeper

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/store"
)

const (
	DefaultInterval    = time.Second
	DefaultConcurrency = 16
)

type TimeoutChecker interface {
	CheckTimeout(ctx context.Context, roomID string) (bool, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	Clock       quartz.Clock
}

type Sweeper struct {
	store    *store.Store
	rooms    TimeoutChecker
	interval time.Duration
	limit    int
	clock    quartz.Clock
}

func New(st *store.Store, rooms TimeoutChecker, cfg Config) *Sweeper {
	s := &Sweeper{store: st, rooms: rooms, interval: cfg.Interval, limit: cfg.Concurrency, clock: cfg.Clock}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.limit <= 0 {
		s.limit = DefaultConcurrency
	}
	if s.clock == nil {
		s.clock = quartz.NewReal()
	}
	return s
}

// Run sweeps on every tick until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	t := s.clock.NewTicker(s.interval, "sweeper")
	defer t.Stop()
	obslog.L().Info("sweeper_started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				obslog.L().Warn("sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep checks every active room once and returns how many it settled.
// A failing room is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.SMembers(ctx, store.ActiveGamesKey)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	settled := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, id := range ids {
		g.Go(func() error {
			done, err := s.rooms.CheckTimeout(gctx, id)
			if err != nil {
				obslog.L().Warn("sweep_room_failed", zap.String("room_id", id), zap.Error(err))
				return nil
			}
			settled[i] = done
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range settled {
		if ok {
			n++
		}
	}
	if n > 0 {
		obslog.L().Info("sweep_settled", zap.Int("rooms", n), zap.Int("active", len(ids)))
	}
	return n, nil
}
