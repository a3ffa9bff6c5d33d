package rules

import (
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/stretchr/testify/require"
)

func TestFoolsMateIsCheckmate(t *testing.T) {
	g, err := Replay([]string{"f3", "e5", "g4"})
	require.NoError(t, err)
	require.False(t, g.Verdict().Over())

	san, err := g.Push("Qh4#")
	require.NoError(t, err)
	require.Equal(t, "Qh4#", san)

	v := g.Verdict()
	require.Equal(t, StatusCheckmate, v.Status)
	require.True(t, v.InCheck)
	require.Equal(t, "w", g.Turn())

	_, err = g.Push("a3")
	require.ErrorIs(t, err, ErrIllegalMove)
}

func TestStalemate(t *testing.T) {
	g, err := Replay([]string{
		"e3", "a5", "Qh5", "Ra6", "Qxa5", "h5", "h4", "Rah6", "Qxc7", "f6",
		"Qxd7+", "Kf7", "Qxb7", "Qd3", "Qxb8", "Qh7", "Qxc8", "Kg6", "Qe6",
	})
	require.NoError(t, err)
	v := g.Verdict()
	require.Equal(t, StatusStalemate, v.Status)
	require.False(t, v.InCheck)
}

func TestThreefoldRepetitionEndsGame(t *testing.T) {
	g, err := Replay([]string{"Nf3", "Nf6", "Ng1", "Ng8", "Nf3", "Nf6", "Ng1"})
	require.NoError(t, err)
	require.False(t, g.Verdict().Over())

	_, err = g.Push("Ng8")
	require.NoError(t, err)
	v := g.Verdict()
	require.Equal(t, StatusDraw, v.Status)
	require.Equal(t, DrawRepetition, v.DrawReason)
}

func fromFEN(t *testing.T, fen string) *Game {
	t.Helper()
	opt, err := nchess.FEN(fen)
	require.NoError(t, err)
	return &Game{g: nchess.NewGame(opt)}
}

func TestFiftyMoveRuleEndsGame(t *testing.T) {
	g := fromFEN(t, "8/8/8/4k3/8/8/R7/4K3 w - - 99 80")
	require.False(t, g.Verdict().Over())

	san, err := g.Push("Ra3")
	require.NoError(t, err)
	require.Equal(t, "Ra3", san)
	v := g.Verdict()
	require.Equal(t, StatusDraw, v.Status)
	require.Equal(t, DrawFiftyMove, v.DrawReason)
	require.False(t, v.InCheck)
}

func TestCaptureResetsFiftyMoveCount(t *testing.T) {
	g := fromFEN(t, "8/8/8/4k3/8/p7/R7/4K3 w - - 99 80")
	_, err := g.Push("Rxa3")
	require.NoError(t, err)
	require.False(t, g.Verdict().Over())
}

func TestInsufficientMaterialEndsGame(t *testing.T) {
	g := fromFEN(t, "8/3Qk3/8/8/8/8/8/4K3 b - - 0 1")
	require.False(t, g.Verdict().Over())

	_, err := g.Push("Kxd7")
	require.NoError(t, err)
	v := g.Verdict()
	require.Equal(t, StatusDraw, v.Status)
	require.Equal(t, DrawInsufficient, v.DrawReason)

	_, err = g.Push("Ke2")
	require.ErrorIs(t, err, ErrIllegalMove)
}

func TestIllegalMoves(t *testing.T) {
	g := New()
	for _, mv := range []string{"", "e5", "Ke2", "zz9"} {
		_, err := g.Push(mv)
		require.ErrorIs(t, err, ErrIllegalMove, mv)
	}
	_, err := g.PushUCI("e2e5")
	require.ErrorIs(t, err, ErrIllegalMove)
	require.Empty(t, g.Moves())
	require.Equal(t, StartFEN, g.FEN())
}

func TestPushUCIReturnsSAN(t *testing.T) {
	g := New()
	san, err := g.PushUCI("g1f3")
	require.NoError(t, err)
	require.Equal(t, "Nf3", san)
	require.Equal(t, "b", g.Turn())
	require.Equal(t, "b", TurnOf(g.FEN()))
}

func TestReplayReproducesFEN(t *testing.T) {
	g, err := Replay([]string{"e4", "e5", "Nf3", "Nc6", "Bb5", "a6", "Bxc6", "dxc6", "O-O"})
	require.NoError(t, err)

	again, err := Replay(g.Moves())
	require.NoError(t, err)
	require.Equal(t, g.FEN(), again.FEN())
	require.Equal(t, g.Moves(), again.Moves())
}

func TestMaterialAfterCapture(t *testing.T) {
	g, err := Replay([]string{"e4", "d5", "exd5"})
	require.NoError(t, err)
	m := g.Material()
	require.Equal(t, Captured{P: 1}, m.CapturedByWhite)
	require.Equal(t, Captured{}, m.CapturedByBlack)
	require.Equal(t, 1, m.MaterialAdvantage)

	_, err = g.Push("Qxd5")
	require.NoError(t, err)
	m = g.Material()
	require.Equal(t, Captured{P: 1}, m.CapturedByBlack)
	require.Equal(t, 0, m.MaterialAdvantage)
}

func TestMaterialAtStart(t *testing.T) {
	m := New().Material()
	require.Equal(t, Material{}, m)
}
