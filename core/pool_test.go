package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

type whoAmI struct {
	Reply[int]
}

type failOn struct {
	Reply[int]
	Worker int
}

type panicOn struct {
	Worker int
}

type worker struct {
	index   int
	started *atomic.Int32
	stopped *atomic.Int32
	startFn func(i int) error
}

func (w *worker) OnStart(*Context) error {
	w.started.Inc()
	if w.startFn != nil {
		return w.startFn(w.index)
	}
	return nil
}

func (w *worker) OnStop(*Context, error) {
	w.stopped.Inc()
}

func (w *worker) Receive(_ *Context, msg any) (any, error) {
	switch m := msg.(type) {
	case whoAmI:
		return w.index, nil
	case failOn:
		if m.Worker == w.index {
			return nil, fmt.Errorf("worker %d refuses", w.index)
		}
		return w.index, nil
	case panicOn:
		if m.Worker == w.index {
			panic("worker exploded")
		}
		return nil, nil
	default:
		return nil, errors.New("unexpected message")
	}
}

type workerCounters struct {
	started *atomic.Int32
	stopped *atomic.Int32
}

func newCounters() workerCounters {
	return workerCounters{started: atomic.NewInt32(0), stopped: atomic.NewInt32(0)}
}

func (c workerCounters) factory(startFn func(int) error) Factory {
	return func(i int) (Actor, error) {
		return &worker{index: i, started: c.started, stopped: c.stopped, startFn: startFn}, nil
	}
}

func spawnTestPool(t *testing.T, size int) (*Pool, workerCounters) {
	t.Helper()
	c := newCounters()
	p, err := SpawnPool(context.Background(), size, c.factory(nil), WithName("workers"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if !p.Stopped() {
			_ = p.Stop(context.Background())
		}
	})
	return p, c
}

func TestPoolDispatchRoundRobin(t *testing.T) {
	t.Parallel()
	p, c := spawnTestPool(t, 4)
	ctx := context.Background()
	require.Equal(t, int32(4), c.started.Load())

	var visited []int
	for i := 0; i < 8; i++ {
		idx, err := Ask[int](ctx, p, whoAmI{})
		require.NoError(t, err)
		visited = append(visited, idx)
	}
	require.Equal(t, []int{0, 1, 2, 3, 0, 1, 2, 3}, visited)
}

func TestPoolBroadcastAskOutcomePerWorker(t *testing.T) {
	t.Parallel()
	p, _ := spawnTestPool(t, 4)
	ctx := context.Background()

	results := BroadcastAsk[int](ctx, p, failOn{Worker: 2})
	require.Len(t, results, 4)
	for i, r := range results {
		if i == 2 {
			require.EqualError(t, r.Err, "worker 2 refuses")
			continue
		}
		require.NoError(t, r.Err)
		require.Equal(t, i, r.Reply)
	}

	// a dead worker still yields its own outcome
	require.NoError(t, p.Workers()[1].StopAndWait(ctx))
	results = BroadcastAsk[int](ctx, p, whoAmI{})
	require.Len(t, results, 4)
	require.True(t, cerrors.IsDeliveryError(results[1].Err))
	require.Equal(t, 3, results[3].Reply)
}

func TestPoolBroadcastTell(t *testing.T) {
	t.Parallel()
	p, _ := spawnTestPool(t, 3)

	errs := p.Broadcast(context.Background(), whoAmI{})
	require.Len(t, errs, 3)
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestPoolStartupIsAllOrNothing(t *testing.T) {
	t.Parallel()
	c := newCounters()
	base := c.factory(nil)
	factory := func(i int) (Actor, error) {
		if i == 2 {
			return nil, errors.New("factory of worker 3 failed")
		}
		return base(i)
	}

	p, err := SpawnPool(context.Background(), 4, factory)
	require.Nil(t, p)
	require.True(t, cerrors.ErrPoolStartup.Equal(err), "%v", err)
	require.True(t, cerrors.IsLifecycleError(err))
	// workers #1 and #2 were started and then stopped
	require.Equal(t, int32(2), c.started.Load())
	require.Equal(t, int32(2), c.stopped.Load())
}

func TestPoolStartupFailsOnWorkerOnStart(t *testing.T) {
	t.Parallel()
	c := newCounters()
	p, err := SpawnPool(context.Background(), 4, c.factory(func(i int) error {
		if i == 1 {
			return errors.New("cannot connect")
		}
		return nil
	}))
	require.Nil(t, p)
	require.True(t, cerrors.ErrPoolStartup.Equal(err), "%v", err)
	require.Equal(t, int32(4), c.started.Load())
	require.Equal(t, int32(4), c.stopped.Load())
}

func TestPoolStop(t *testing.T) {
	t.Parallel()
	p, c := spawnTestPool(t, 4)
	ctx := context.Background()

	require.NoError(t, p.Stop(ctx))
	require.Equal(t, int32(4), c.stopped.Load())
	for _, w := range p.Workers() {
		require.Equal(t, StateStopped, w.State())
	}

	err := p.Dispatch(ctx, whoAmI{})
	require.True(t, cerrors.ErrPoolStopped.Equal(err))
	_, err = p.Ask(ctx, whoAmI{})
	require.True(t, cerrors.ErrPoolStopped.Equal(err))
	for _, err := range p.Broadcast(ctx, whoAmI{}) {
		require.True(t, cerrors.ErrPoolStopped.Equal(err))
	}
	require.True(t, cerrors.ErrAlreadyStopped.Equal(p.Stop(ctx)))
}

func TestPoolStopCollectsWorkerFailures(t *testing.T) {
	t.Parallel()
	p, _ := spawnTestPool(t, 4)
	ctx := context.Background()

	errs := p.Broadcast(ctx, panicOn{Worker: 1})
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, p.Workers()[1].Wait(ctx))

	err := p.Stop(ctx)
	require.Error(t, err)
	collected := multierr.Errors(err)
	require.Len(t, collected, 1)
	require.True(t, cerrors.ErrHandlerPanicked.Equal(collected[0]))
}

func TestPoolLeavesCallerOptionsUntouched(t *testing.T) {
	t.Parallel()
	backing := make([]Option, 2)
	backing[0] = WithName("workers")
	opts := backing[:1]

	c := newCounters()
	p, err := SpawnPool(context.Background(), 2, c.factory(nil), opts...)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Stop(context.Background())) }()

	require.Nil(t, backing[1])
	for _, w := range p.Workers() {
		require.Equal(t, "workers", w.Name())
	}
}

func TestPoolInvalidSize(t *testing.T) {
	t.Parallel()
	_, err := SpawnPool(context.Background(), 0, newCounters().factory(nil))
	require.True(t, cerrors.ErrInvalidPoolSize.Equal(err))
}
