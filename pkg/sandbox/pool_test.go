package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExecutor is a minimal in-memory Executor used to exercise pool
// bookkeeping without spawning real processes.
type stubExecutor struct {
	mu      sync.Mutex
	started bool
	stopped bool
	alive   bool
}

func newStubExecutor() *stubExecutor { return &stubExecutor{alive: true} }

func (s *stubExecutor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}
func (s *stubExecutor) SetupContext(ctx context.Context, documents []string) error { return nil }
func (s *stubExecutor) Execute(ctx context.Context, code string, timeout time.Duration, onQuery QueryHandler) (ExecutionResult, error) {
	return ExecutionResult{Status: StatusOK}, nil
}
func (s *stubExecutor) ResetNamespace(ctx context.Context) error { return nil }
func (s *stubExecutor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
func (s *stubExecutor) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

func newCountingFactory(t *testing.T) (Factory, func() int) {
	t.Helper()
	var mu sync.Mutex
	count := 0
	factory := func() Executor {
		mu.Lock()
		count++
		mu.Unlock()
		return newStubExecutor()
	}
	return factory, func() int {
		mu.Lock()
		defer mu.Unlock()
		return count
	}
}

func TestPool_StartIsIdempotent(t *testing.T) {
	factory, created := newCountingFactory(t)
	p := NewPool(factory, 3, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))

	assert.Equal(t, 3, created())
	assert.Equal(t, Stats{Available: 3, InUse: 0, Started: true}, p.Stats())
}

func TestPool_AcquireBeforeStartFails(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 2, nil)

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_AcquireReleaseFIFO(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 2, nil)
	require.NoError(t, p.Start(context.Background()))

	e1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	e2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Available: 0, InUse: 2, Started: true}, p.Stats())
	assert.NotSame(t, e1, e2)

	p.Release(e1)
	assert.Equal(t, Stats{Available: 1, InUse: 1, Started: true}, p.Stats())

	// FIFO: the released executor comes back out first.
	e3, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, e1, e3)
}

func TestPool_AcquireOverflowsOnDemand(t *testing.T) {
	factory, created := newCountingFactory(t)
	p := NewPool(factory, 1, nil)
	require.NoError(t, p.Start(context.Background()))

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	// Pool of size 1 is now empty; a second acquire must overflow rather
	// than block.
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, created())
}

func TestPool_DiscardDropsWithoutReturning(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 1, nil)
	require.NoError(t, p.Start(context.Background()))

	e, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(e)

	assert.Equal(t, Stats{Available: 0, InUse: 0, Started: true}, p.Stats())
}

func TestPool_StopStopsEveryExecutor(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 2, nil)
	require.NoError(t, p.Start(context.Background()))

	inUse, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Stop(context.Background())

	assert.Equal(t, Stats{Available: 0, InUse: 0, Started: false}, p.Stats())
	assert.True(t, inUse.(*stubExecutor).stopped)
}

func TestPool_StopWithoutStartIsSafe(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 2, nil)
	assert.NotPanics(t, func() { p.Stop(context.Background()) })
}

func TestPool_NoExecutorVisibleInBothSets(t *testing.T) {
	factory, _ := newCountingFactory(t)
	p := NewPool(factory, 3, nil)
	require.NoError(t, p.Start(context.Background()))

	var acquired []Executor
	for i := 0; i < 3; i++ {
		e, err := p.Acquire(context.Background())
		require.NoError(t, err)
		acquired = append(acquired, e)
	}

	p.mu.Lock()
	for _, a := range p.available {
		_, inUse := p.inUse[a]
		assert.False(t, inUse)
	}
	p.mu.Unlock()

	for _, e := range acquired {
		p.Release(e)
	}
	assert.Equal(t, Stats{Available: 3, InUse: 0, Started: true}, p.Stats())
}
