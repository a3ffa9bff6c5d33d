package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/park285/chess-arena/internal/engine"
	"github.com/park285/chess-arena/internal/engine/uci"
	"github.com/park285/chess-arena/internal/rules"
)

type EngineCheckCmd struct {
	Stockfish string        `env:"STOCKFISH_PATH" required:"" help:"Path to the UCI engine binary"`
	FEN       string        `name:"fen" help:"Position to check; defaults to the initial position"`
	Bot       string        `help:"Bot id to ask for a move; defaults to the roster default"`
	Timeout   time.Duration `default:"30s" help:"Overall time limit"`
}

type engineReport struct {
	FEN        string            `json:"fen"`
	Evaluation engine.Evaluation `json:"evaluation"`
	Bot        string            `json:"bot"`
	Move       engine.Move       `json:"move"`
	Elapsed    string            `json:"elapsed"`
}

func (c *EngineCheckCmd) Run() error {
	fen := c.FEN
	if fen == "" {
		fen = rules.StartFEN
	}
	roster, err := engine.DefaultRoster()
	if err != nil {
		return err
	}
	bot := roster.Default()
	if c.Bot != "" {
		var ok bool
		if bot, ok = roster.Get(c.Bot); !ok {
			return fmt.Errorf("unknown bot %q", c.Bot)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	m := engine.NewManager(uci.NewSpawner(c.Stockfish), engine.Config{})

	start := time.Now()
	ev, err := m.Evaluate(ctx, fen)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	mv, err := m.BestMove(ctx, fen, bot)
	if err != nil {
		return fmt.Errorf("best move: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(engineReport{FEN: fen, Evaluation: ev, Bot: bot.ID, Move: mv, Elapsed: time.Since(start).Round(time.Millisecond).String()})
}
