package uci

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fakeEngine = `#!/bin/sh
echo $$ >> "__PIDS__"
while IFS= read -r line; do
  case "$line" in
    uci) echo "id name FakeFish"; echo "uciok" ;;
    isready) echo "readyok" ;;
    go*)
__GO__
      ;;
    quit) exit 0 ;;
  esac
done
`

const answerGo = `      echo "info depth 1 multipv 1 score cp 10 pv d2d4"
      echo "info string NNUE enabled"
      echo "info depth 8 currmove e2e4 currmovenumber 1"
      echo "info depth 12 seldepth 14 multipv 1 score cp 35 nodes 100 pv e2e4 e7e5 g1f3"
      echo "info depth 12 seldepth 14 multipv 2 score mate -3 nodes 100 pv f2f3"
      echo "bestmove e2e4 ponder e7e5"`

func writeFakeEngine(t *testing.T, goBody string) (bin, pids string) {
	t.Helper()
	dir := t.TempDir()
	pids = filepath.Join(dir, "pids")
	script := strings.ReplaceAll(fakeEngine, "__PIDS__", pids)
	script = strings.ReplaceAll(script, "__GO__", goBody)
	bin = filepath.Join(dir, "fakefish")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, pids
}

func readPIDs(t *testing.T, path string) []int {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []int
	for _, f := range strings.Fields(string(raw)) {
		pid, err := strconv.Atoi(f)
		require.NoError(t, err)
		out = append(out, pid)
	}
	return out
}

func processGone(pid int) bool {
	err := syscall.Kill(pid, 0)
	return errors.Is(err, syscall.ESRCH)
}

func TestSpawnerSearchParsesLinesAndKillsProcess(t *testing.T) {
	bin, pids := writeFakeEngine(t, answerGo)
	sp := NewSpawner(bin)

	resp, err := sp.Search(context.Background(), Options{MultiPV: 2}, SearchRequest{
		FEN:    "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		Limits: Limits{Depth: 12, MoveTimeMillis: 500},
	})
	require.NoError(t, err)
	require.Equal(t, "e2e4", resp.BestMove)
	require.Len(t, resp.Lines, 2)
	require.Equal(t, Score{Value: 35}, resp.Lines[0].Score)
	require.Equal(t, []string{"e2e4", "e7e5", "g1f3"}, resp.Lines[0].PV)
	require.Equal(t, Score{Mate: true, Value: -3}, resp.Lines[1].Score)
	require.Equal(t, "f2f3", resp.Lines[1].Move())

	for _, pid := range readPIDs(t, pids) {
		require.Eventually(t, func() bool { return processGone(pid) }, 2*time.Second, 10*time.Millisecond)
	}
}

func TestSpawnerTimeoutKillsProcess(t *testing.T) {
	bin, pids := writeFakeEngine(t, "      :")
	sp := NewSpawner(bin)

	started := time.Now()
	_, err := sp.Search(context.Background(), Options{}, SearchRequest{
		Limits:  Limits{Depth: 30},
		Timeout: 300 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(started), 3*time.Second)

	got := readPIDs(t, pids)
	require.Len(t, got, 1)
	require.Eventually(t, func() bool { return processGone(got[0]) }, 2*time.Second, 10*time.Millisecond)
}

func TestSpawnerMissingBinary(t *testing.T) {
	sp := NewSpawner(filepath.Join(t.TempDir(), "nope"))
	_, err := sp.Search(context.Background(), Options{}, SearchRequest{Limits: Limits{Depth: 1}})
	require.ErrorIs(t, err, ErrSpawn)
}

func TestSpawnerNoMove(t *testing.T) {
	bin, _ := writeFakeEngine(t, `      echo "info depth 0 score mate 0"
      echo "bestmove (none)"`)
	resp, err := NewSpawner(bin).Search(context.Background(), Options{}, SearchRequest{Limits: Limits{Depth: 5}})
	require.NoError(t, err)
	require.Empty(t, resp.BestMove)
	require.Len(t, resp.Lines, 1)
	require.Equal(t, Score{Mate: true, Value: 0}, resp.Lines[0].Score)
	require.Empty(t, resp.Lines[0].Move())
}

func TestPoolReusesSessionAndDiscardsOnTimeout(t *testing.T) {
	bin, pids := writeFakeEngine(t, answerGo)
	pool, err := NewPool(PoolConfig{BinaryPath: bin, PerSpecCapacity: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	req := SearchRequest{Limits: Limits{Depth: 3}}
	for i := 0; i < 3; i++ {
		resp, err := pool.Search(context.Background(), Options{MultiPV: 1}, req)
		require.NoError(t, err)
		require.Equal(t, "e2e4", resp.BestMove)
	}
	require.Len(t, readPIDs(t, pids), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Search(ctx, Options{MultiPV: 1}, req)
	require.Error(t, err)

	resp, err := pool.Search(context.Background(), Options{MultiPV: 1}, req)
	require.NoError(t, err)
	require.Equal(t, "e2e4", resp.BestMove)
}

func TestBuildGoTokens(t *testing.T) {
	got, err := buildGoTokens(Limits{Depth: 15, MoveTimeMillis: 2000})
	require.NoError(t, err)
	require.Equal(t, "go depth 15 movetime 2000", strings.Join(got, " "))

	_, err = buildGoTokens(Limits{})
	require.Error(t, err)
}

func TestOptionCommands(t *testing.T) {
	cmds := optionCommands(Options{MultiPV: 2, LimitStrength: true, Elo: 1700})
	require.Equal(t, []string{
		"setoption name UCI_LimitStrength value true\n",
		"setoption name UCI_Elo value 1700\n",
		"setoption name MultiPV value 2\n",
	}, cmds)
	require.Error(t, validateOptions(Options{LimitStrength: true}))
}

func TestParseInfo(t *testing.T) {
	l, ok := parseInfo("info depth 20 multipv 3 score cp -41 upperbound nodes 9 pv g8f6 c2c4")
	require.True(t, ok)
	require.Equal(t, 3, l.MultiPV)
	require.Equal(t, Score{Value: -41}, l.Score)
	require.Equal(t, "g8f6", l.Move())

	_, ok = parseInfo("info depth 20 currmove e2e4 currmovenumber 1")
	require.False(t, ok)
	_, ok = parseInfo("info string score cp 5")
	require.False(t, ok)
}

func TestPoolAcquireAtCapacityTimesOut(t *testing.T) {
	bin, _ := writeFakeEngine(t, answerGo)
	pool, err := NewPool(PoolConfig{BinaryPath: bin, PerSpecCapacity: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	held, err := pool.Acquire(context.Background(), Options{MultiPV: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, Options{MultiPV: 1})
	require.ErrorIs(t, err, ErrTimeout)

	pool.Release(held, nil)
	again, err := pool.Acquire(context.Background(), Options{MultiPV: 1})
	require.NoError(t, err)
	require.Same(t, held, again)
	pool.Release(again, nil)
}
