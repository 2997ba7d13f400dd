package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolStopped is returned by Acquire when the pool has not been started
// (or has been stopped).
var ErrPoolStopped = errors.New("sandbox: pool is stopped")

// Factory creates a fresh, unstarted Executor. The pool calls Start on the
// result itself.
type Factory func() Executor

// Pool is a mutex-guarded, pre-warmed set of sandbox executors. Available
// executors are held in FIFO order; in-use executors are tracked in a set.
// No executor is ever visible in both collections at once.
type Pool struct {
	factory Factory
	size    int
	logger  *slog.Logger

	mu        sync.Mutex
	available []Executor
	inUse     map[Executor]struct{}
	started   bool
}

// NewPool builds a pool that will pre-warm size executors from factory.
func NewPool(factory Factory, size int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		factory: factory,
		size:    size,
		logger:  logger,
		inUse:   make(map[Executor]struct{}),
	}
}

// Start is idempotent: it pre-warms exactly Size executors in total,
// starting each one concurrently via errgroup.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	fresh := make([]Executor, p.size)
	for i := range fresh {
		fresh[i] = p.factory()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range fresh {
		ex := ex
		g.Go(func() error { return ex.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		// Lost a race with a concurrent Start; the extras were started for
		// nothing but are harmless to stop.
		for _, ex := range fresh {
			_ = ex.Stop(context.Background())
		}
		return nil
	}
	p.available = append(p.available, fresh...)
	p.started = true
	p.logger.Info("sandbox pool started", "size", p.size)
	return nil
}

// Acquire pops the head of the available queue, or — to preserve liveness —
// creates and starts a fresh executor on overflow when the pool is empty.
func (p *Pool) Acquire(ctx context.Context) (Executor, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrPoolStopped
	}
	if len(p.available) > 0 {
		ex := p.available[0]
		p.available = p.available[1:]
		p.inUse[ex] = struct{}{}
		p.mu.Unlock()
		return ex, nil
	}
	p.mu.Unlock()

	ex := p.factory()
	if err := ex.Start(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		_ = ex.Stop(context.Background())
		return nil, ErrPoolStopped
	}
	p.inUse[ex] = struct{}{}
	p.logger.Warn("sandbox pool overflow: created executor on demand")
	return ex, nil
}

// Release moves ex from in-use back to the tail of available. Callers must
// call ResetNamespace before releasing (the pool does not do this for
// them — the reset-before-release contract belongs to the caller per
// the reset-before-release contract belongs to the caller).
func (p *Pool) Release(ex Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, ex)
	if p.started {
		p.available = append(p.available, ex)
	}
}

// Discard removes ex from in-use without returning it to the pool. The
// caller remains responsible for stopping ex.
func (p *Pool) Discard(ex Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, ex)
}

// Stop stops every executor in both the available and in-use sets, clears
// them, and unsets started. Safe to call without Start.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	all := append([]Executor{}, p.available...)
	for ex := range p.inUse {
		all = append(all, ex)
	}
	p.available = nil
	p.inUse = make(map[Executor]struct{})
	p.started = false
	p.mu.Unlock()

	for _, ex := range all {
		_ = ex.Stop(ctx)
	}
	p.logger.Info("sandbox pool stopped", "executors_stopped", len(all))
}

// Stats reports the current sizes of both collections, for health checks.
type Stats struct {
	Available int
	InUse     int
	Started   bool
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Available: len(p.available), InUse: len(p.inUse), Started: p.started}
}
