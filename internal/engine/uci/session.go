package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

const (
	defaultReadyTimeout = 4 * time.Second
	DefaultTimeout      = 5 * time.Second
)

var (
	// ErrSpawn reports that the engine binary could not be started or did not
	// complete the UCI handshake.
	ErrSpawn   = errors.New("uci: engine spawn failed")
	ErrTimeout = errors.New("uci: engine timeout")
	// ErrExited reports that the engine closed its output mid-conversation.
	ErrExited = errors.New("uci: engine exited")
)

// Options are sent as setoption commands right after the handshake.
type Options struct {
	MultiPV       int
	LimitStrength bool
	Elo           int
	// SkillLevel is sent when positive.
	SkillLevel int
	Threads    int
	HashMB     int
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
}

type SearchRequest struct {
	FEN    string
	Limits Limits
	// Timeout bounds the whole call including spawn and handshake.
	Timeout time.Duration
}

// Score is centipawns, or moves to mate when Mate is set. Both are from the
// point of view of the side to move.
type Score struct {
	Mate  bool
	Value int
}

type Line struct {
	MultiPV int
	Score   Score
	PV      []string
}

// Move is the first move of the principal variation, or "" for score-only lines.
func (l Line) Move() string {
	if len(l.PV) == 0 {
		return ""
	}
	return l.PV[0]
}

type SearchResponse struct {
	// Lines holds the deepest reported line per multipv index, best first.
	Lines []Line
	// BestMove is empty when the engine answered "bestmove (none)".
	BestMove string
}

// Session is one running engine process.
type Session struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string
	done  chan struct{}

	mu        sync.Mutex
	search    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSession starts the binary and completes the uci/isready handshake with
// opt applied. The process outlives ctx; callers must Close the session.
func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	s := &Session{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}
	go s.readLoop(stdoutPipe)

	if err := s.initialize(ctx, opt); err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("handshake: %w", ctxErr(ctx))
		}
		return nil, fmt.Errorf("%w: handshake: %v", ErrSpawn, err)
	}
	return s, nil
}

// readLoop is the only reader of the engine's stdout. It exits when the
// process closes its output or the session is closed.
func (s *Session) readLoop(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		case <-s.done:
			return
		}
	}
}

// Search sends the position and a go command, then collects info lines
// until bestmove.
func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	if err := s.send(buildPositionCommand(req.FEN)); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	lines := make(map[int]Line)
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			obslog.L().Debug("uci_read_failed", zap.String("go", goCmd), zap.Error(err))
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if l, ok := parseInfo(line); ok {
				lines[l.MultiPV] = l
			}
		case strings.HasPrefix(line, "bestmove"):
			best := ""
			if parts := strings.Fields(line); len(parts) >= 2 && parts[1] != "(none)" && parts[1] != "0000" {
				best = parts[1]
			}
			return SearchResponse{Lines: collapseLines(lines), BestMove: best}, nil
		}
	}
}

func buildPositionCommand(fen string) string {
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		return "position startpos\n"
	}
	return "position fen " + strings.TrimSpace(fen) + "\n"
}

func validateOptions(opt Options) error {
	if opt.MultiPV < 0 {
		return fmt.Errorf("multipv must be >= 0: %d", opt.MultiPV)
	}
	if opt.SkillLevel < 0 || opt.SkillLevel > 20 {
		return fmt.Errorf("skill level %d out of range 0-20", opt.SkillLevel)
	}
	if opt.LimitStrength && opt.Elo <= 0 {
		return fmt.Errorf("elo required with limit strength")
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

// parseInfo reads multipv, score and pv from an info line. Lines without a
// score (currmove, string, hashfull) are ignored; a score without pv is kept,
// which is what engines report for terminal positions.
func parseInfo(line string) (Line, bool) {
	parts := strings.Fields(line)
	out := Line{MultiPV: 1}
	scored := false
	for i := 1; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			return Line{}, false
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil && v > 0 {
					out.MultiPV = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil && (parts[i+1] == "cp" || parts[i+1] == "mate") {
					out.Score = Score{Mate: parts[i+1] == "mate", Value: v}
					scored = true
				}
				i += 2
			}
		case "pv":
			out.PV = append([]string(nil), parts[i+1:]...)
			i = len(parts)
		}
	}
	return out, scored
}

func collapseLines(m map[int]Line) []Line {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	result := make([]Line, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	return s.EnsureReady(ctx)
}

// Close kills the process and reaps it. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.stdin != nil {
			_ = s.stdin.Close()
		}
		s.mu.Unlock()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// PID is the engine's process id.
func (s *Session) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(opt) {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func optionCommands(opt Options) []string {
	var cmds []string
	if opt.Threads > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Threads value %d\n", opt.Threads))
	}
	if opt.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB))
	}
	if opt.LimitStrength {
		cmds = append(cmds,
			"setoption name UCI_LimitStrength value true\n",
			fmt.Sprintf("setoption name UCI_Elo value %d\n", opt.Elo),
		)
	}
	if opt.SkillLevel > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Skill Level value %d\n", opt.SkillLevel))
	}
	multipv := opt.MultiPV
	if multipv <= 0 {
		multipv = 1
	}
	return append(cmds, fmt.Sprintf("setoption name MultiPV value %d\n", multipv))
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctxErr(ctx)
	case line, ok := <-s.lines:
		if !ok {
			return "", ErrExited
		}
		return line, nil
	}
}

// ctxErr maps an expired deadline to ErrTimeout and keeps cancellation as is.
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
