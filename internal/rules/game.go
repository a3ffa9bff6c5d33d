// Package rules wraps the chess move generator with the small surface the
// game rooms need: SAN replay, canonical move notation, terminal-state
// classification and material accounting.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var ErrIllegalMove = errors.New("illegal move")

// Game is a position reached from the initial position by a list of SAN moves.
type Game struct {
	g   *nchess.Game
	san []string
}

func New() *Game { return &Game{g: nchess.NewGame()} }

// Replay rebuilds a game from the initial position.
func Replay(moves []string) (*Game, error) {
	game := New()
	for i, mv := range moves {
		if _, err := game.Push(mv); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

// Push applies a SAN move and returns its canonical spelling.
func (g *Game) Push(san string) (string, error) {
	raw := strings.TrimSpace(san)
	if raw == "" {
		return "", ErrIllegalMove
	}
	if g.g.Outcome() != nchess.NoOutcome {
		return "", ErrIllegalMove
	}
	pos := g.g.Position()
	err := g.g.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil)
	if err != nil {
		stripped := strings.TrimRight(raw, "+#!?")
		if stripped == raw || stripped == "" {
			return "", ErrIllegalMove
		}
		if err := g.g.PushNotationMove(stripped, nchess.AlgebraicNotation{}, nil); err != nil {
			return "", ErrIllegalMove
		}
	}
	return g.record(pos), nil
}

// PushUCI applies a long-algebraic move such as "e2e4" or "e7e8q" and
// returns the SAN it corresponds to.
func (g *Game) PushUCI(uci string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(uci))
	if len(raw) < 4 || g.g.Outcome() != nchess.NoOutcome {
		return "", ErrIllegalMove
	}
	pos := g.g.Position()
	if err := g.g.PushNotationMove(raw, nchess.UCINotation{}, nil); err != nil {
		return "", ErrIllegalMove
	}
	return g.record(pos), nil
}

func (g *Game) record(before *nchess.Position) string {
	last := g.lastMove()
	san := nchess.AlgebraicNotation{}.Encode(before, last)
	g.san = append(g.san, san)
	return san
}

func (g *Game) lastMove() *nchess.Move {
	moves := g.g.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func (g *Game) FEN() string { return g.g.FEN() }

// Turn is "w" or "b", the side to move.
func (g *Game) Turn() string { return colorCode(g.g.Position().Turn()) }

func (g *Game) Moves() []string { return append([]string(nil), g.san...) }

// InCheck reports whether the side to move is in check.
func (g *Game) InCheck() bool {
	last := g.lastMove()
	return last != nil && last.HasTag(nchess.Check)
}

func colorCode(c nchess.Color) string {
	if c == nchess.Black {
		return "b"
	}
	return "w"
}

// TurnOf reads the side to move from a FEN.
func TurnOf(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 1 && fields[1] == "b" {
		return "b"
	}
	return "w"
}
