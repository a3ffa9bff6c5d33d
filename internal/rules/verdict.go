package rules

import (
	"slices"

	nchess "github.com/corentings/chess/v2"
)

type Status string

const (
	StatusOngoing   Status = "ongoing"
	StatusCheckmate Status = "checkmate"
	StatusStalemate Status = "stalemate"
	StatusDraw      Status = "draw"
)

type DrawReason string

const (
	DrawNone         DrawReason = ""
	DrawRepetition   DrawReason = "repetition"
	DrawFiftyMove    DrawReason = "fifty_move"
	DrawInsufficient DrawReason = "insufficient"
)

type Verdict struct {
	Status     Status
	DrawReason DrawReason
	InCheck    bool
}

func (v Verdict) Over() bool { return v.Status != StatusOngoing }

// Verdict classifies the position. Checks run in a fixed order: checkmate,
// stalemate, threefold repetition, fifty-move rule, insufficient material.
// Repetition and fifty-move draws end the game as soon as they are claimable.
func (g *Game) Verdict() Verdict {
	v := Verdict{Status: StatusOngoing, InCheck: g.InCheck()}
	method := g.g.Method()
	switch method {
	case nchess.Checkmate:
		v.Status = StatusCheckmate
		return v
	case nchess.Stalemate:
		v.Status = StatusStalemate
		return v
	}

	eligible := g.g.EligibleDraws()
	switch {
	case method == nchess.FivefoldRepetition || slices.Contains(eligible, nchess.ThreefoldRepetition):
		v.Status, v.DrawReason = StatusDraw, DrawRepetition
	case method == nchess.SeventyFiveMoveRule || slices.Contains(eligible, nchess.FiftyMoveRule):
		v.Status, v.DrawReason = StatusDraw, DrawFiftyMove
	case method == nchess.InsufficientMaterial:
		v.Status, v.DrawReason = StatusDraw, DrawInsufficient
	}
	return v
}
