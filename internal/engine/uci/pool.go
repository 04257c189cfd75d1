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
	// PerOptionsCapacity bounds concurrent processes sharing one option set.
	PerOptionsCapacity int
}

// Pool keeps warm engine processes grouped by their Options, since setoption
// is applied once per process.
type Pool struct {
	binaryPath string
	capacity   int

	mu      sync.Mutex
	buckets map[string]*bucket
	leased  map[*Session]*bucket
}

var errBucketFull = errors.New("engine bucket at capacity")

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("engine binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("engine binary check: %w", err)
	}
	capacity := cfg.PerOptionsCapacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		binaryPath: cfg.BinaryPath,
		capacity:   capacity,
		buckets:    make(map[string]*bucket),
		leased:     make(map[*Session]*bucket),
	}, nil
}

// Acquire returns an idle session for opt, starts a new one when the bucket
// has room, or waits for a release.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	b := p.bucketFor(opt)
	for {
		if s, ok := b.tryIdle(); ok {
			if s = p.revive(ctx, s, b); s != nil {
				return s, nil
			}
			continue
		}

		s, err := b.spawn(ctx, p.binaryPath)
		if err == nil {
			p.lease(s, b)
			return s, nil
		}
		if !errors.Is(err, errBucketFull) {
			return nil, err
		}

		select {
		case s := <-b.idle:
			if s = p.revive(ctx, s, b); s != nil {
				return s, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) revive(ctx context.Context, s *Session, b *bucket) *Session {
	if s == nil {
		return nil
	}
	if err := s.EnsureReady(ctx); err != nil {
		b.drop(s)
		return nil
	}
	p.lease(s, b)
	return s
}

// Release returns a session to its bucket. A non-nil err means the session
// is in an unknown state and is closed instead.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	b, ok := p.leased[s]
	delete(p.leased, s)
	p.mu.Unlock()

	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || !b.park(s) {
		b.drop(s)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.leased = make(map[*Session]*bucket)
	p.mu.Unlock()

	var errs []error
	for _, b := range buckets {
		for {
			s, ok := b.tryIdle()
			if !ok {
				break
			}
			if s == nil {
				continue
			}
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			b.release()
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) lease(s *Session, b *bucket) {
	p.mu.Lock()
	p.leased[s] = b
	p.mu.Unlock()
}

func (p *Pool) bucketFor(opt Options) *bucket {
	key := optionsKey(opt)
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{opt: opt, capacity: p.capacity, idle: make(chan *Session, p.capacity)}
		p.buckets[key] = b
	}
	return b
}

type bucket struct {
	opt      Options
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *Session
}

func (b *bucket) tryIdle() (*Session, bool) {
	select {
	case s := <-b.idle:
		return s, true
	default:
		return nil, false
	}
}

func (b *bucket) spawn(ctx context.Context, binaryPath string) (*Session, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketFull
	}
	b.total++
	b.mu.Unlock()

	s, err := NewSession(ctx, binaryPath, b.opt)
	if err != nil {
		b.release()
		return nil, err
	}
	return s, nil
}

func (b *bucket) park(s *Session) bool {
	select {
	case b.idle <- s:
		return true
	default:
		return false
	}
}

func (b *bucket) drop(s *Session) {
	if s != nil {
		_ = s.Close()
	}
	b.release()
}

func (b *bucket) release() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func optionsKey(opt Options) string {
	return fmt.Sprintf("thr=%d|skill=%d|hash=%d|multipv=%d|elo=%d",
		opt.Threads, opt.SkillLevel, opt.HashMB, opt.MultiPV, opt.Elo)
}

func defaultCapacity() int {
	return min(max(runtime.NumCPU(), 2), 4)
}
