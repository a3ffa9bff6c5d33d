package rules

import nchess "github.com/corentings/chess/v2"

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   1,
	nchess.Knight: 3,
	nchess.Bishop: 3,
	nchess.Rook:   5,
	nchess.Queen:  9,
}

var startingCounts = map[nchess.PieceType]int{
	nchess.Pawn:   8,
	nchess.Knight: 2,
	nchess.Bishop: 2,
	nchess.Rook:   2,
	nchess.Queen:  1,
}

// Captured counts missing pieces of one side, by kind.
type Captured struct {
	P int `json:"p"`
	N int `json:"n"`
	B int `json:"b"`
	R int `json:"r"`
	Q int `json:"q"`
}

type Material struct {
	CapturedByWhite Captured `json:"capturedByWhite"`
	CapturedByBlack Captured `json:"capturedByBlack"`
	// MaterialAdvantage is white's piece value minus black's.
	MaterialAdvantage int `json:"materialAdvantage"`
}

// Material counts the pieces on the board. A promoted piece can leave the
// count for its kind above the starting count; captured counts never go
// below zero.
func (g *Game) Material() Material {
	counts := map[nchess.Color]map[nchess.PieceType]int{
		nchess.White: {},
		nchess.Black: {},
	}
	totals := map[nchess.Color]int{}

	board := g.g.Position().Board()
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece {
				continue
			}
			counts[piece.Color()][piece.Type()]++
			totals[piece.Color()] += pieceValues[piece.Type()]
		}
	}

	return Material{
		CapturedByWhite:   missing(counts[nchess.Black]),
		CapturedByBlack:   missing(counts[nchess.White]),
		MaterialAdvantage: totals[nchess.White] - totals[nchess.Black],
	}
}

func missing(onBoard map[nchess.PieceType]int) Captured {
	gone := func(pt nchess.PieceType) int {
		return max(0, startingCounts[pt]-onBoard[pt])
	}
	return Captured{
		P: gone(nchess.Pawn),
		N: gone(nchess.Knight),
		B: gone(nchess.Bishop),
		R: gone(nchess.Rook),
		Q: gone(nchess.Queen),
	}
}
