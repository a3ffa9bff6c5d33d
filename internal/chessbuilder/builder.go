package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/botgame"
	"github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/engine"
	"github.com/park285/chess-arena/internal/engine/uci"
	"github.com/park285/chess-arena/internal/gateway"
	"github.com/park285/chess-arena/internal/httpapi"
	"github.com/park285/chess-arena/internal/matchmaking"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/realtime"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/sweeper"
)

type Deps struct {
	Store       *store.Store
	Accounts    accounts.Store
	Engine      *engine.Manager
	Roster      *engine.Roster
	Hub         *realtime.Hub
	Rooms       *room.Engine
	Matchmaking *matchmaking.Coordinator
	Bots        *botgame.Engine
	Sweeper     *sweeper.Sweeper
	Handler     http.Handler

	closers []func() error
}

// New connects the shared store and the account database and assembles
// every game component on top of them.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireEngine(); err != nil {
		return nil, err
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	roster, err := engine.DefaultRoster()
	if err != nil {
		return nil, fmt.Errorf("load bot roster: %w", err)
	}
	if cfg.DefaultBot != "" {
		if err := roster.SetDefault(cfg.DefaultBot); err != nil {
			return nil, err
		}
	}

	d := &Deps{Roster: roster}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if d.Store, err = store.Open(dialCtx, cfg.RedisURL, cfg.RoomTTL); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	d.closers = append(d.closers, d.Store.Close)
	if d.Accounts, err = accounts.Open(dialCtx, cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("init accounts: %w", err)
	}
	d.closers = append(d.closers, d.Accounts.Close)

	var runner uci.Runner
	if cfg.EnginePool {
		pool, err := uci.NewPool(uci.PoolConfig{BinaryPath: cfg.StockfishPath, PerSpecCapacity: cfg.EnginePoolPerSpec})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		runner = pool
	} else {
		runner = uci.NewSpawner(cfg.StockfishPath)
	}
	d.Engine = engine.NewManager(runner, engine.Config{EvalTimeout: cfg.EngineTimeout, BotTimeout: cfg.EngineBotTimeout})

	d.Hub = realtime.NewHub(d.Store, realtime.Options{InstanceID: cfg.InstanceID, AllowedOrigins: cfg.AllowedOrigins})
	d.Rooms = room.New(room.Deps{
		Store:     d.Store,
		Accounts:  d.Accounts,
		Notifier:  d.Hub,
		Evaluator: d.Engine,
		Messages:  msgs,
	})
	mode := matchmaking.ModeConfig{EloBand: cfg.MatchEloBand, Poll: cfg.MatchPoll, Window: cfg.MatchWindow}
	modes := make(map[string]matchmaking.ModeConfig, len(matchmaking.DefaultTimeControls))
	for m := range matchmaking.DefaultTimeControls {
		modes[m] = mode
	}
	d.Matchmaking = matchmaking.New(matchmaking.Deps{
		Store:    d.Store,
		Accounts: d.Accounts,
		Rooms:    d.Rooms,
		Notifier: d.Hub,
		Messages: msgs,
	}, matchmaking.Config{Modes: modes})
	d.closers = append(d.closers, func() error { d.Matchmaking.Close(); return nil })

	d.Bots = botgame.New(botgame.Deps{
		Store:    d.Store,
		Accounts: d.Accounts,
		Engine:   d.Engine,
		Roster:   roster,
		Notifier: d.Hub,
		Messages: msgs,
	})
	d.Sweeper = sweeper.New(d.Store, d.Rooms, sweeper.Config{Interval: cfg.SweepInterval, Concurrency: cfg.SweepConcurrency})

	d.Hub.SetHandler(gateway.New(gateway.Deps{
		Search:   d.Matchmaking,
		Rooms:    d.Rooms,
		Bots:     d.Bots,
		Messages: msgs,
	}))
	api := &httpapi.Server{
		Rooms:    d.Rooms,
		BotRooms: d.Bots,
		Socket:   d.Hub,
		Ping:     d.Store.Ping,
		Messages: msgs,
	}
	d.Handler = api.Routes()

	logger.Info("chess_server_assembled",
		zap.String("instance_id", d.Hub.InstanceID()),
		zap.Bool("engine_pool", cfg.EnginePool),
		zap.String("default_bot", roster.Default().ID),
		zap.Bool("persistent_accounts", cfg.DatabaseURL != ""),
	)
	ok = true
	return d, nil
}

// Close releases resources in reverse order of acquisition.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
