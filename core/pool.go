package core

import (
	"context"
	"fmt"
	"sync"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Factory creates the actor of worker i of a pool.
type Factory func(i int) (Actor, error)

// Pool owns a fixed number of homogeneous actors. It is safe for concurrent
// use and implements Target by dispatching to one worker.
type Pool struct {
	name    string
	workers []*Ref
	next    atomic.Uint64
	stopped atomic.Bool
}

// SpawnPool spawns size workers and blocks until all of them have started.
// If any factory call or OnStart fails, the workers started so far are
// stopped and awaited, and ErrPoolStartup is returned.
func SpawnPool(ctx context.Context, size int, factory Factory, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, cerrors.ErrInvalidPoolSize.GenWithStackByArgs(size)
	}
	o := buildOptions(DefaultOptions(), opts)
	p := &Pool{name: o.Name, workers: make([]*Ref, 0, size)}
	// a fresh slice: appending to opts could write into the caller's array
	workerOpts := make([]Option, 0, len(opts)+1)
	workerOpts = append(append(workerOpts, opts...), WithName(o.Name))

	for i := 0; i < size; i++ {
		a, err := factory(i)
		if err != nil {
			p.rollback(ctx)
			return nil, cerrors.ErrPoolStartup.GenWithStackByArgs(p.name, i, err)
		}
		ref, err := Spawn(a, workerOpts...)
		if err != nil {
			p.rollback(ctx)
			return nil, cerrors.ErrPoolStartup.GenWithStackByArgs(p.name, i, err)
		}
		p.workers = append(p.workers, ref)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range p.workers {
		i, w := i, w
		g.Go(func() error {
			if err := w.WaitForStartup(gctx); err != nil {
				return cerrors.ErrPoolStartup.GenWithStackByArgs(p.name, i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.rollback(ctx)
		return nil, err
	}

	poolWorkers.WithLabelValues(p.name).Add(float64(size))
	log.Info("actor pool started", zap.String("pool", p.name), zap.Int("size", size))
	return p, nil
}

// rollback stops every worker spawned so far and waits for them.
func (p *Pool) rollback(ctx context.Context) {
	for _, w := range p.workers {
		_ = w.Stop()
	}
	for _, w := range p.workers {
		if err := w.Wait(ctx); err != nil {
			log.Warn("pool worker did not stop during rollback",
				zap.String("pool", p.name), zap.Stringer("worker", w), zap.Error(err))
		}
	}
	p.workers = nil
}

// String implements fmt.Stringer.
func (p *Pool) String() string {
	return fmt.Sprintf("pool(%s)", p.name)
}

// Size returns the fixed number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Workers returns the worker references in worker order.
func (p *Pool) Workers() []*Ref {
	out := make([]*Ref, len(p.workers))
	copy(out, p.workers)
	return out
}

// pick selects the next worker round-robin. Dead workers are not skipped.
func (p *Pool) pick() (*Ref, error) {
	if p.stopped.Load() {
		return nil, cerrors.ErrPoolStopped.GenWithStackByArgs(p.name)
	}
	n := p.next.Inc() - 1
	return p.workers[n%uint64(len(p.workers))], nil
}

// Dispatch tells msg to exactly one worker.
func (p *Pool) Dispatch(ctx context.Context, msg any) error {
	w, err := p.pick()
	if err != nil {
		return err
	}
	return w.Tell(ctx, msg)
}

// Tell is Dispatch; it lets a Pool be used as a Target.
func (p *Pool) Tell(ctx context.Context, msg any) error {
	return p.Dispatch(ctx, msg)
}

// TryDispatch tells msg to one worker without waiting for mailbox space.
func (p *Pool) TryDispatch(msg any) error {
	w, err := p.pick()
	if err != nil {
		return err
	}
	return w.TryTell(msg)
}

// Ask asks exactly one worker.
func (p *Pool) Ask(ctx context.Context, msg any) (any, error) {
	w, err := p.pick()
	if err != nil {
		return nil, err
	}
	return w.Ask(ctx, msg)
}

// Broadcast tells msg to every worker. The result has one entry per worker,
// in worker order; nil means accepted.
func (p *Pool) Broadcast(ctx context.Context, msg any) []error {
	errs := make([]error, len(p.workers))
	if p.stopped.Load() {
		for i := range errs {
			errs[i] = cerrors.ErrPoolStopped.GenWithStackByArgs(p.name)
		}
		return errs
	}
	var wg sync.WaitGroup
	for i, w := range p.workers {
		wg.Add(1)
		go func(i int, w *Ref) {
			defer wg.Done()
			errs[i] = w.Tell(ctx, msg)
		}(i, w)
	}
	wg.Wait()
	return errs
}

// BroadcastAsk asks every worker and returns one outcome per worker, in
// worker order. Workers fail independently.
func (p *Pool) BroadcastAsk(ctx context.Context, msg any) []Outcome {
	out := make([]Outcome, len(p.workers))
	if p.stopped.Load() {
		for i := range out {
			out[i].Err = cerrors.ErrPoolStopped.GenWithStackByArgs(p.name)
		}
		return out
	}
	futures := make([]*Future, len(p.workers))
	var wg sync.WaitGroup
	for i, w := range p.workers {
		wg.Add(1)
		go func(i int, w *Ref) {
			defer wg.Done()
			futures[i] = w.AskAsync(ctx, msg)
		}(i, w)
	}
	wg.Wait()
	for i, f := range futures {
		out[i].Reply, out[i].Err = f.Await(ctx)
	}
	return out
}

// BroadcastAsk is the typed form of Pool.BroadcastAsk.
func BroadcastAsk[R any](ctx context.Context, p *Pool, msg Request[R]) []Result[R] {
	raw := p.BroadcastAsk(ctx, msg)
	out := make([]Result[R], len(raw))
	for i, o := range raw {
		if o.Err != nil {
			out[i].Err = o.Err
			continue
		}
		out[i].Reply, out[i].Err = CastReply[R](o.Reply)
	}
	return out
}

// Stop stops every worker and waits for all of them. Failures are collected,
// not short-circuited. The pool is unusable afterwards.
func (p *Pool) Stop(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return cerrors.ErrAlreadyStopped.GenWithStackByArgs(p.String())
	}
	var errs error
	for _, w := range p.workers {
		if err := w.Stop(); err != nil && !cerrors.ErrAlreadyStopped.Equal(err) {
			errs = multierr.Append(errs, err)
		}
	}
	errs = multierr.Append(errs, p.Wait(ctx))
	for _, w := range p.workers {
		if reason := w.StopReason(); reason != nil {
			errs = multierr.Append(errs, reason)
		}
	}
	poolWorkers.WithLabelValues(p.name).Sub(float64(len(p.workers)))
	log.Info("actor pool stopped", zap.String("pool", p.name), zap.Error(errs))
	return errs
}

// Wait blocks until every worker has stopped.
func (p *Pool) Wait(ctx context.Context) error {
	var errs error
	for _, w := range p.workers {
		if err := w.Wait(ctx); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
	}
	return errs
}

// Stopped reports whether Stop has been called.
func (p *Pool) Stopped() bool {
	return p.stopped.Load()
}
