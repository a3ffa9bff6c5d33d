package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
)

type PoolConfig struct {
	BinaryPath string
	// PerSpecCapacity caps live sessions per distinct Options value.
	PerSpecCapacity int
}

// Pool keeps warm engine sessions bucketed by their options. It satisfies
// Runner; the per-call timeout still applies and a session that errors or
// times out is killed instead of being returned to its bucket.
type Pool struct {
	binaryPath      string
	perSpecCapacity int

	mu       sync.Mutex
	buckets  map[string]*sessionBucket
	sessions map[*Session]*sessionBucket
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	capacity := cfg.PerSpecCapacity
	if capacity <= 0 {
		capacity = defaultPerSpecCapacity()
	}
	return &Pool{
		binaryPath:      cfg.BinaryPath,
		perSpecCapacity: capacity,
		buckets:         make(map[string]*sessionBucket),
		sessions:        make(map[*Session]*sessionBucket),
	}, nil
}

func (p *Pool) Search(ctx context.Context, opt Options, req SearchRequest) (SearchResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeoutOf(req))
	defer cancel()

	sess, err := p.Acquire(callCtx, opt)
	if err != nil {
		if callCtx.Err() != nil {
			return SearchResponse{}, ctxErr(callCtx)
		}
		return SearchResponse{}, err
	}
	resp, err := p.search(callCtx, sess, req)
	p.Release(sess, err)
	return resp, err
}

func (p *Pool) search(ctx context.Context, sess *Session, req SearchRequest) (SearchResponse, error) {
	if err := sess.NewGame(ctx); err != nil {
		return SearchResponse{}, fmt.Errorf("new game: %w", err)
	}
	return sess.Search(ctx, req)
}

func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	bucket := p.getBucket(opt)

	for {
		select {
		case sess := <-bucket.idle:
			if err := sess.EnsureReady(ctx); err != nil {
				bucket.discard(sess)
				continue
			}
			p.track(sess, bucket)
			return sess, nil
		default:
		}

		sess, err := bucket.create(ctx, p.binaryPath)
		if err == nil {
			p.track(sess, bucket)
			return sess, nil
		}
		if !errors.Is(err, errBucketAtCapacity) {
			return nil, err
		}

		select {
		case sess := <-bucket.idle:
			if err := sess.EnsureReady(ctx); err != nil {
				bucket.discard(sess)
				continue
			}
			p.track(sess, bucket)
			return sess, nil
		case <-bucket.freed:
		case <-ctx.Done():
			return nil, ctxErr(ctx)
		}
	}
}

// Release returns sess to its bucket, or kills it when err is non-nil.
func (p *Pool) Release(sess *Session, err error) {
	if sess == nil {
		return
	}
	p.mu.Lock()
	bucket, ok := p.sessions[sess]
	delete(p.sessions, sess)
	p.mu.Unlock()
	if !ok {
		_ = sess.Close()
		return
	}
	if err != nil || !bucket.put(sess) {
		bucket.discard(sess)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*sessionBucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	var errs []error
	for _, bucket := range buckets {
		errs = append(errs, bucket.drain()...)
	}
	return errors.Join(errs...)
}

func (p *Pool) track(sess *Session, bucket *sessionBucket) {
	p.mu.Lock()
	p.sessions[sess] = bucket
	p.mu.Unlock()
}

func (p *Pool) getBucket(opt Options) *sessionBucket {
	key := optionsKey(opt)
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket, ok := p.buckets[key]
	if !ok {
		bucket = newSessionBucket(opt, p.perSpecCapacity)
		p.buckets[key] = bucket
	}
	return bucket
}

type sessionBucket struct {
	opt      Options
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *Session
	freed chan struct{}
}

var errBucketAtCapacity = errors.New("session bucket at capacity")

func newSessionBucket(opt Options, capacity int) *sessionBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &sessionBucket{
		opt:      opt,
		capacity: capacity,
		idle:     make(chan *Session, capacity),
		freed:    make(chan struct{}, capacity),
	}
}

func (b *sessionBucket) create(ctx context.Context, binaryPath string) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketAtCapacity
	}
	b.total++
	b.mu.Unlock()

	sess, err := NewSession(ctx, binaryPath, b.opt)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return sess, nil
}

func (b *sessionBucket) put(sess *Session) bool {
	select {
	case b.idle <- sess:
		return true
	default:
		return false
	}
}

func (b *sessionBucket) discard(sess *Session) {
	_ = sess.Close()
	b.decrement()
}

func (b *sessionBucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
	select {
	case b.freed <- struct{}{}:
	default:
	}
}

func (b *sessionBucket) drain() []error {
	var errs []error
	for {
		select {
		case sess := <-b.idle:
			if err := sess.Close(); err != nil {
				errs = append(errs, err)
			}
			b.decrement()
		default:
			return errs
		}
	}
}

func optionsKey(opt Options) string {
	return fmt.Sprintf("mpv=%d|ls=%t|elo=%d|skill=%d|thr=%d|hash=%d",
		opt.MultiPV, opt.LimitStrength, opt.Elo, opt.SkillLevel, opt.Threads, opt.HashMB)
}

func defaultPerSpecCapacity() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	if n > 4 {
		return 4
	}
	return n
}
