// Package matchmaking pairs searching players of similar rating within a
// mode and opens a rated room for each pair.
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/accounts"
	"github.com/park285/chess-arena/internal/msgcat"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/realtime"
	"github.com/park285/chess-arena/internal/room"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/pkg/chessdto"
)

var (
	ErrAlreadySearching   = errors.New("already searching for a match")
	ErrUnknownMode        = errors.New("unknown game mode")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidTimeControl = errors.New("invalid time control")
)

const (
	ModeBullet = "Bullet"
	ModeBlitz  = "Blitz"
	ModeRapid  = "Rapid"
)

// DefaultTimeControls apply when a search does not name an allotment.
var DefaultTimeControls = map[string]room.TimeControl{
	ModeBullet: {Initial: 60_000},
	ModeBlitz:  {Initial: 180_000, Increment: 2_000},
	ModeRapid:  {Initial: 600_000},
}

const (
	DefaultEloBand = 100
	DefaultPoll    = time.Second
	DefaultWindow  = 30 * time.Second
)

// ModeConfig bounds one mode's search.
type ModeConfig struct {
	EloBand int
	Poll    time.Duration
	Window  time.Duration
}

type Config struct {
	// Modes overrides the defaults per mode.
	Modes map[string]ModeConfig
	Clock quartz.Clock
}

type RoomCreator interface {
	Create(ctx context.Context, p room.CreateParams) (*room.Room, error)
}

type Deps struct {
	Store    *store.Store
	Accounts accounts.Store
	Rooms    RoomCreator
	Notifier realtime.Notifier
	Messages *msgcat.Catalog
}

type SearchRequest struct {
	UserID string
	Mode   string
	// TimeControl in milliseconds; a zero Initial picks the mode default.
	TimeControl room.TimeControl
}

// entry is the pool member: the searcher's public identity, scored by Elo.
type entry struct {
	UserID      string           `json:"userId"`
	Username    string           `json:"username"`
	Elo         int              `json:"elo"`
	Nationality string           `json:"nationality"`
	ProfilePic  string           `json:"profilePic"`
	Gender      string           `json:"gender"`
	Mode        string           `json:"mode"`
	TimeControl room.TimeControl `json:"timeControl"`
}

func (e entry) player() room.Player {
	return room.Player{
		UserID:      e.UserID,
		Username:    e.Username,
		Elo:         e.Elo,
		Nationality: e.Nationality,
		ProfilePic:  e.ProfilePic,
		Gender:      e.Gender,
	}
}

type Coordinator struct {
	store    *store.Store
	accounts accounts.Store
	rooms    RoomCreator
	notifier realtime.Notifier
	msgs     *msgcat.Catalog
	clock    quartz.Clock
	modes    map[string]ModeConfig
	registry *Registry

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func New(d Deps, cfg Config) *Coordinator {
	modes := make(map[string]ModeConfig, len(DefaultTimeControls))
	for m := range DefaultTimeControls {
		mc := cfg.Modes[m]
		if mc.EloBand <= 0 {
			mc.EloBand = DefaultEloBand
		}
		if mc.Poll <= 0 {
			mc.Poll = DefaultPoll
		}
		if mc.Window <= 0 {
			mc.Window = DefaultWindow
		}
		modes[m] = mc
	}
	clock := cfg.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	msgs := d.Messages
	if msgs == nil {
		msgs = msgcat.Embedded()
	}
	root, stop := context.WithCancel(context.Background())
	return &Coordinator{
		store:    d.Store,
		accounts: d.Accounts,
		rooms:    d.Rooms,
		notifier: d.Notifier,
		msgs:     msgs,
		clock:    clock,
		modes:    modes,
		registry: NewRegistry(),
		root:     root,
		stop:     stop,
	}
}

func (c *Coordinator) Active(userID string) bool { return c.registry.Active(userID) }

// Search enrolls the user and returns once the search loop is running. The
// outcome arrives as matchFound or noMatchFound.
func (c *Coordinator) Search(ctx context.Context, req SearchRequest) error {
	mc, ok := c.modes[req.Mode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	tc := req.TimeControl
	if tc.Increment < 0 {
		return ErrInvalidTimeControl
	}
	if tc.Initial <= 0 {
		tc = DefaultTimeControls[req.Mode]
	}
	if c.registry.Active(req.UserID) {
		return ErrAlreadySearching
	}

	acc, err := c.accounts.Get(ctx, req.UserID)
	if errors.Is(err, accounts.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	raw, err := json.Marshal(entry{
		UserID:      acc.ID,
		Username:    acc.Username,
		Elo:         acc.Elo,
		Nationality: acc.Nationality,
		ProfilePic:  acc.ProfilePic,
		Gender:      acc.Gender,
		Mode:        req.Mode,
		TimeControl: tc,
	})
	if err != nil {
		return err
	}
	member := string(raw)
	pool := store.PoolKey(req.Mode)

	queued, err := c.inPool(ctx, pool, acc.ID)
	if err != nil {
		return fmt.Errorf("pool lookup: %w", err)
	}
	if queued {
		return ErrAlreadySearching
	}

	sctx, cancel := context.WithCancel(c.root)
	s := &session{userID: acc.ID, mode: req.Mode, elo: acc.Elo, member: member, cancel: cancel, state: StateSearching}
	if !c.registry.add(s) {
		cancel()
		return ErrAlreadySearching
	}
	if err := c.store.ZAdd(ctx, pool, float64(acc.Elo), member); err != nil {
		c.registry.remove(s)
		cancel()
		return fmt.Errorf("join pool: %w", err)
	}

	deadline := c.clock.Now().Add(mc.Window)
	ticker := c.clock.NewTicker(mc.Poll, "matchmaking", "poll")
	obslog.L().Info("match_search_started",
		zap.String("user_id", s.userID),
		zap.String("mode", s.mode),
		zap.Int("elo", s.elo),
	)
	c.wg.Add(1)
	go c.run(sctx, s, mc, ticker, deadline)
	return nil
}

// inPool finds an entry of userID in the mode's pool, whichever instance,
// rating or time control placed it there.
func (c *Coordinator) inPool(ctx context.Context, pool, userID string) (bool, error) {
	members, err := c.store.ZMembers(ctx, pool)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		var e entry
		if json.Unmarshal([]byte(m), &e) == nil && e.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Cancel stops the user's search and leaves the pool. A match already being
// committed wins over the cancel.
func (c *Coordinator) Cancel(ctx context.Context, userID string) error {
	s, ok := c.registry.end(userID, StateCanceled)
	if !ok {
		return nil
	}
	if _, err := c.store.ZRem(ctx, store.PoolKey(s.mode), s.member); err != nil {
		return fmt.Errorf("leave pool: %w", err)
	}
	obslog.L().Info("match_search_cancelled", zap.String("user_id", userID))
	return nil
}

// Close stops every search on this instance and waits for the loops.
func (c *Coordinator) Close() {
	c.stop()
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context, s *session, mc ModeConfig, ticker *quartz.Ticker, deadline time.Time) {
	defer c.wg.Done()
	defer ticker.Stop()
	defer func() {
		// stopped by Close: the entry must not outlive the loop
		if c.registry.state(s) == StateSearching {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = c.store.ZRem(ctx, store.PoolKey(s.mode), s.member)
		}
		c.registry.remove(s)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if c.registry.state(s) == StateSearching {
			if c.scan(ctx, s, mc) {
				return
			}
			if !c.clock.Now().Before(deadline) && c.expire(s) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) expire(s *session) bool {
	if _, ok := c.registry.end(s.userID, StateTimedOut); !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.store.ZRem(ctx, store.PoolKey(s.mode), s.member); err != nil {
		obslog.L().Error("match_pool_evict_failed", zap.String("user_id", s.userID), zap.Error(err))
	}
	c.emit(ctx, s.userID, chessdto.EventNoMatchFound, c.msgs.Text("match.no_opponent"))
	obslog.L().Info("match_search_timeout", zap.String("user_id", s.userID), zap.String("mode", s.mode))
	return true
}

// scan runs one pass over the rating band. It reports true when the
// session is over.
func (c *Coordinator) scan(ctx context.Context, s *session, mc ModeConfig) bool {
	log := obslog.L().With(zap.String("user_id", s.userID), zap.String("mode", s.mode))
	pool := store.PoolKey(s.mode)

	_, present, err := c.store.ZScore(ctx, pool, s.member)
	if err != nil {
		log.Warn("match_pool_lookup_failed", zap.Error(err))
		return false
	}
	if !present {
		// matched or evicted by another instance
		if _, ok := c.registry.end(s.userID, StateMatched); ok {
			log.Info("match_entry_gone")
		}
		return true
	}

	members, err := c.store.ZRangeByScore(ctx, pool, float64(s.elo-mc.EloBand), float64(s.elo+mc.EloBand))
	if err != nil {
		log.Warn("match_pool_range_failed", zap.Error(err))
		return false
	}
	for _, m := range members {
		if ctx.Err() != nil {
			return true
		}
		var cand entry
		if err := json.Unmarshal([]byte(m), &cand); err != nil {
			log.Warn("match_pool_bad_entry", zap.Error(err))
			_, _ = c.store.ZRem(ctx, pool, m)
			continue
		}
		if cand.UserID == s.userID {
			continue
		}
		online, err := c.notifier.Online(ctx, cand.UserID)
		if err != nil {
			log.Warn("match_route_lookup_failed", zap.Error(err))
			return false
		}
		if !online {
			if _, err := c.store.ZRem(ctx, pool, m); err == nil {
				log.Info("match_offline_candidate_evicted", zap.String("candidate_id", cand.UserID))
			}
			continue
		}
		if c.commit(ctx, s, m, cand) {
			return true
		}
	}
	return false
}

// commit turns a candidate into a room. Both sessions are claimed before the
// pool entries are removed, so a concurrent cancel or a second pass seeing
// the same pair cannot produce another room.
func (c *Coordinator) commit(ctx context.Context, s *session, member string, cand entry) bool {
	log := obslog.L().With(zap.String("user_id", s.userID), zap.String("candidate_id", cand.UserID))
	if !c.registry.claim(s.userID, cand.UserID) {
		return false
	}
	won, err := c.store.ZClaimPair(ctx, store.PoolKey(s.mode), s.member, member)
	if err != nil || !won {
		c.registry.release(s.userID, cand.UserID)
		if err != nil {
			log.Warn("match_claim_failed", zap.Error(err))
		}
		return false
	}
	c.registry.matched(s.userID, cand.UserID)

	cctx := context.WithoutCancel(ctx)
	var self entry
	if err := json.Unmarshal([]byte(s.member), &self); err != nil {
		log.Error("match_self_entry_corrupt", zap.Error(err))
		return true
	}
	r, err := c.rooms.Create(cctx, room.CreateParams{
		Mode:        s.mode,
		TimeControl: self.TimeControl,
		A:           self.player(),
		B:           cand.player(),
	})
	if err != nil {
		log.Error("match_room_create_failed", zap.Error(err))
		msg := c.msgs.Text("match.search_error")
		c.emit(cctx, s.userID, chessdto.SignalError, msg)
		c.emit(cctx, cand.UserID, chessdto.SignalError, msg)
		return true
	}
	c.emit(cctx, s.userID, chessdto.EventMatchFound, r.RoomID)
	c.emit(cctx, cand.UserID, chessdto.EventMatchFound, r.RoomID)
	log.Info("match_found", zap.String("room_id", r.RoomID))

	if c.accounts != nil {
		err := c.accounts.Apply(cctx,
			accounts.Change{UserID: s.userID, Played: 1},
			accounts.Change{UserID: cand.UserID, Played: 1},
		)
		if err != nil {
			log.Error("match_played_count_failed", zap.Error(err))
		}
	}
	return true
}

func (c *Coordinator) emit(ctx context.Context, userID, event string, payload any) {
	if _, err := c.notifier.Emit(ctx, userID, event, payload); err != nil {
		obslog.L().Warn("match_emit_failed", zap.String("user_id", userID), zap.String("event", event), zap.Error(err))
	}
}
