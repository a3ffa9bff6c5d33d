package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/chess-arena/internal/engine/uci"
)

type fakeRunner struct {
	resp uci.SearchResponse
	err  error

	gotOpt uci.Options
	gotReq uci.SearchRequest
}

func (f *fakeRunner) Search(_ context.Context, opt uci.Options, req uci.SearchRequest) (uci.SearchResponse, error) {
	f.gotOpt, f.gotReq = opt, req
	return f.resp, f.err
}

const blackToMove = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"

func TestEvaluateFlipsSignForBlack(t *testing.T) {
	r := &fakeRunner{resp: uci.SearchResponse{Lines: []uci.Line{{MultiPV: 1, Score: uci.Score{Value: -35}}}}}
	m := NewManager(r, Config{})

	ev, err := m.Evaluate(context.Background(), blackToMove)
	require.NoError(t, err)
	require.Equal(t, "b", ev.Turn)
	require.Equal(t, Score{Pawns: 0.35}, ev.Score)

	require.Equal(t, uci.Options{MultiPV: 1}, r.gotOpt)
	require.Equal(t, uci.Limits{Depth: 15, MoveTimeMillis: 2000}, r.gotReq.Limits)
	require.Equal(t, DefaultEvalTimeout, r.gotReq.Timeout)
}

func TestWhiteScoreMate(t *testing.T) {
	cases := []struct {
		turn string
		mate int
		want string
	}{
		{"w", 3, "Mate in 3"},
		{"w", -2, "Mate in -2"},
		{"b", 4, "Mate in -4"},
		{"b", -1, "Mate in 1"},
		{"b", 0, "Mate in 0"},
		{"w", 0, "Mate in -0"},
	}
	for _, tc := range cases {
		got := whiteScore(uci.Score{Mate: true, Value: tc.mate}, tc.turn)
		require.Equal(t, tc.want, got.Mate, "%s mate %d", tc.turn, tc.mate)
	}
}

func TestScoreJSON(t *testing.T) {
	raw, err := json.Marshal(Evaluation{Score: Score{Pawns: -1.25}, Turn: "w"})
	require.NoError(t, err)
	require.JSONEq(t, `{"score":-1.25,"turn":"w"}`, string(raw))

	raw, err = json.Marshal(Evaluation{Score: Score{Mate: "Mate in 2"}, Turn: "b"})
	require.NoError(t, err)
	require.JSONEq(t, `{"score":"Mate in 2","turn":"b"}`, string(raw))

	var back Evaluation
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, "Mate in 2", back.Score.Mate)
}

func TestEvaluateNoLines(t *testing.T) {
	m := NewManager(&fakeRunner{resp: uci.SearchResponse{BestMove: "e2e4"}}, Config{})
	_, err := m.Evaluate(context.Background(), blackToMove)
	require.ErrorIs(t, err, ErrNoScore)
}

func TestEvaluatePropagatesTimeout(t *testing.T) {
	m := NewManager(&fakeRunner{err: uci.ErrTimeout}, Config{EvalTimeout: time.Second})
	_, err := m.Evaluate(context.Background(), blackToMove)
	require.ErrorIs(t, err, uci.ErrTimeout)
}

func TestRosterDefaults(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	require.Len(t, r.All(), 11)

	def := r.Default()
	require.Equal(t, "EP:BOT-1", def.ID)
	require.Equal(t, "Sorcerer Supreme", def.Name)
	require.Equal(t, 3000, def.Rating)

	b10, ok := r.Get("EP:BOT-10")
	require.True(t, ok)
	require.True(t, b10.LimitStrength)
	require.Equal(t, 1700, b10.Elo)

	_, ok = r.Get("EP:BOT-99")
	require.False(t, ok)
	require.Error(t, r.SetDefault("EP:BOT-99"))
}

func TestParseRosterRejectsBadPick(t *testing.T) {
	_, err := ParseRoster([]byte(`
bots:
  - id: X
    multipv: 1
    pick: [2]
    depth: 5
`))
	require.Error(t, err)
}

func TestRosterSkillLevelReachesEngine(t *testing.T) {
	r, err := ParseRoster([]byte(`
default: W
bots:
  - id: W
    multipv: 2
    pick: [2, 1]
    depth: 4
    skillLevel: 5
`))
	require.NoError(t, err)
	w, ok := r.Get("W")
	require.True(t, ok)
	require.Equal(t, 5, w.SkillLevel)

	fr := &fakeRunner{resp: uci.SearchResponse{BestMove: "e7e5"}}
	_, err = NewManager(fr, Config{}).BestMove(context.Background(), blackToMove, w)
	require.NoError(t, err)
	require.Equal(t, uci.Options{MultiPV: 2, SkillLevel: 5}, fr.gotOpt)

	_, err = ParseRoster([]byte(`
bots:
  - id: X
    multipv: 1
    pick: [1]
    depth: 5
    skillLevel: 21
`))
	require.Error(t, err)
}

func TestBestMovePicksRankWithFallback(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	bot8, _ := r.Get("EP:BOT-8")
	bot7, _ := r.Get("EP:BOT-7")

	three := uci.SearchResponse{
		BestMove: "e2e4",
		Lines: []uci.Line{
			{MultiPV: 1, PV: []string{"e2e4"}},
			{MultiPV: 2, PV: []string{"d2d4"}},
			{MultiPV: 3, PV: []string{"c2c4"}},
		},
	}
	two := uci.SearchResponse{
		BestMove: "e2e4",
		Lines: []uci.Line{
			{MultiPV: 1, PV: []string{"e2e4"}},
			{MultiPV: 2, PV: []string{"d2d4"}},
		},
	}

	require.Equal(t, "c2c4", pickMove(bot8, three))
	require.Equal(t, "e2e4", pickMove(bot8, two))
	require.Equal(t, "d2d4", pickMove(bot7, two))

	fr := &fakeRunner{resp: uci.SearchResponse{BestMove: "e7e8q"}}
	m := NewManager(fr, Config{})
	mv, err := m.BestMove(context.Background(), blackToMove, r.Default())
	require.NoError(t, err)
	require.Equal(t, Move{From: "e7", To: "e8", Promotion: "q"}, mv)
	require.Equal(t, "e7e8q", mv.UCI())
	require.Equal(t, uci.Limits{Depth: 25, MoveTimeMillis: 2000}, fr.gotReq.Limits)
	require.Equal(t, DefaultBotTimeout, fr.gotReq.Timeout)
}

func TestBestMoveNone(t *testing.T) {
	r, err := DefaultRoster()
	require.NoError(t, err)
	m := NewManager(&fakeRunner{resp: uci.SearchResponse{}}, Config{})
	_, err = m.BestMove(context.Background(), blackToMove, r.Default())
	require.ErrorIs(t, err, ErrNoMove)
}
