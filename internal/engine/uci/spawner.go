package uci

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

// Runner runs one search with the given options.
type Runner interface {
	Search(ctx context.Context, opt Options, req SearchRequest) (SearchResponse, error)
}

// Spawner starts a fresh engine process for every search and always kills it
// before returning, whatever the outcome.
type Spawner struct {
	BinaryPath string
}

func NewSpawner(binaryPath string) *Spawner { return &Spawner{BinaryPath: binaryPath} }

func (s *Spawner) Search(ctx context.Context, opt Options, req SearchRequest) (SearchResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeoutOf(req))
	defer cancel()

	started := time.Now()
	sess, err := NewSession(callCtx, s.BinaryPath, opt)
	if err != nil {
		return SearchResponse{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			obslog.L().Warn("uci_close_failed", zap.Int("pid", sess.PID()), zap.Error(cerr))
		}
	}()

	if err := sess.NewGame(callCtx); err != nil {
		return SearchResponse{}, fmt.Errorf("new game: %w", err)
	}
	resp, err := sess.Search(callCtx, req)
	if err != nil {
		return SearchResponse{}, err
	}
	obslog.L().Debug("uci_search_done",
		zap.Int("pid", sess.PID()),
		zap.Int("lines", len(resp.Lines)),
		zap.String("bestmove", resp.BestMove),
		zap.Duration("elapsed", time.Since(started)),
	)
	return resp, nil
}

func timeoutOf(req SearchRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return DefaultTimeout
}
