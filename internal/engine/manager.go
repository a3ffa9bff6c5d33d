// Package engine turns UCI searches into the two things the game core asks
// for: a display evaluation of a position and a bot's next move.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/engine/uci"
	"github.com/park285/chess-arena/internal/rules"
)

var (
	ErrNoMove  = errors.New("engine returned no move")
	ErrNoScore = errors.New("engine returned no score")
)

const (
	evalDepth      = 15
	evalMoveTimeMs = 2000

	DefaultEvalTimeout = 5 * time.Second
	DefaultBotTimeout  = 10 * time.Second
)

// Score is a pawn-unit evaluation from white's point of view, or a mate
// announcement such as "Mate in 3" (white mates) or "Mate in -3".
type Score struct {
	Pawns float64
	Mate  string
}

func (s Score) MarshalJSON() ([]byte, error) {
	if s.Mate != "" {
		return json.Marshal(s.Mate)
	}
	return json.Marshal(s.Pawns)
}

func (s *Score) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*s = Score{Mate: text}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("score: %w", err)
	}
	*s = Score{Pawns: f}
	return nil
}

type Evaluation struct {
	Score Score  `json:"score"`
	Turn  string `json:"turn"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI is the move in long algebraic form, e.g. "e7e8q".
func (m Move) UCI() string { return m.From + m.To + m.Promotion }

type Config struct {
	EvalTimeout time.Duration
	BotTimeout  time.Duration
}

type Manager struct {
	runner      uci.Runner
	evalTimeout time.Duration
	botTimeout  time.Duration
}

func NewManager(runner uci.Runner, cfg Config) *Manager {
	m := &Manager{runner: runner, evalTimeout: cfg.EvalTimeout, botTimeout: cfg.BotTimeout}
	if m.evalTimeout <= 0 {
		m.evalTimeout = DefaultEvalTimeout
	}
	if m.botTimeout <= 0 {
		m.botTimeout = DefaultBotTimeout
	}
	return m
}

// Evaluate scores fen with a single principal variation.
func (m *Manager) Evaluate(ctx context.Context, fen string) (Evaluation, error) {
	resp, err := m.runner.Search(ctx, uci.Options{MultiPV: 1}, uci.SearchRequest{
		FEN:     fen,
		Limits:  uci.Limits{Depth: evalDepth, MoveTimeMillis: evalMoveTimeMs},
		Timeout: m.evalTimeout,
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}
	if len(resp.Lines) == 0 {
		return Evaluation{}, ErrNoScore
	}
	turn := rules.TurnOf(fen)
	return Evaluation{Score: whiteScore(resp.Lines[0].Score, turn), Turn: turn}, nil
}

func whiteScore(s uci.Score, turn string) Score {
	whiteToMove := turn == "w"
	if !s.Mate {
		pawns := float64(s.Value) / 100
		if !whiteToMove {
			pawns = -pawns
		}
		return Score{Pawns: pawns}
	}
	n := s.Value
	var forWhite bool
	switch {
	case n > 0:
		forWhite = whiteToMove
	case n < 0:
		forWhite = !whiteToMove
	default:
		// mated already: the side not to move delivered it
		forWhite = !whiteToMove
	}
	abs := strconv.Itoa(int(math.Abs(float64(n))))
	if forWhite {
		return Score{Mate: "Mate in " + abs}
	}
	return Score{Mate: "Mate in -" + abs}
}

// BestMove asks the engine for p's move in fen.
func (m *Manager) BestMove(ctx context.Context, fen string, p Personality) (Move, error) {
	resp, err := m.runner.Search(ctx, p.options(), uci.SearchRequest{
		FEN:     fen,
		Limits:  p.limits(),
		Timeout: m.botTimeout,
	})
	if err != nil {
		return Move{}, fmt.Errorf("bot move: %w", err)
	}
	return parseMove(pickMove(p, resp))
}

// pickMove walks p.Pick in order and returns the first rank the engine
// reported. Rank 1 is the engine's bestmove.
func pickMove(p Personality, resp uci.SearchResponse) string {
	byRank := make(map[int]string, len(resp.Lines))
	for _, l := range resp.Lines {
		if mv := l.Move(); mv != "" {
			byRank[l.MultiPV] = mv
		}
	}
	for _, rank := range p.Pick {
		if rank == 1 && resp.BestMove != "" {
			return resp.BestMove
		}
		if mv, ok := byRank[rank]; ok {
			return mv
		}
	}
	return resp.BestMove
}

func parseMove(uciMove string) (Move, error) {
	mv := strings.ToLower(strings.TrimSpace(uciMove))
	if len(mv) < 4 || len(mv) > 5 {
		return Move{}, ErrNoMove
	}
	return Move{From: mv[0:2], To: mv[2:4], Promotion: mv[4:]}, nil
}
