package core

import (
	"context"
	"sync"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// System tracks the actors and pools spawned through it so they can be shut
// down together.
type System struct {
	mu       sync.Mutex
	defaults Options
	actors   map[ActorID]*Ref
	pools    []*Pool
	closed   bool
}

// NewSystem creates a System whose spawns start from the given options.
func NewSystem(opts ...Option) *System {
	return &System{
		defaults: buildOptions(DefaultOptions(), opts),
		actors:   make(map[ActorID]*Ref),
	}
}

// Spawn spawns an actor owned by the system.
func (s *System) Spawn(a Actor, opts ...Option) (*Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cerrors.ErrSystemShutdown.GenWithStackByArgs()
	}
	s.prune()
	ref, err := Spawn(a, s.withDefaults(opts)...)
	if err != nil {
		return nil, err
	}
	s.actors[ref.ID()] = ref
	return ref, nil
}

// SpawnPool spawns a pool owned by the system.
func (s *System) SpawnPool(ctx context.Context, size int, factory Factory, opts ...Option) (*Pool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, cerrors.ErrSystemShutdown.GenWithStackByArgs()
	}
	defaults := s.withDefaults(opts)
	s.mu.Unlock()

	p, err := SpawnPool(ctx, size, factory, defaults...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, multierr.Append(cerrors.ErrSystemShutdown.GenWithStackByArgs(), p.Stop(ctx))
	}
	s.pools = append(s.pools, p)
	return p, nil
}

func (s *System) withDefaults(opts []Option) []Option {
	d := s.defaults
	return append([]Option{
		WithName(d.Name),
		WithMailboxCapacity(d.MailboxCapacity),
		WithSendPolicy(d.SendPolicy),
	}, opts...)
}

// prune forgets actors that already stopped. Caller holds s.mu.
func (s *System) prune() {
	for id, ref := range s.actors {
		if ref.State() == StateStopped {
			delete(s.actors, id)
		}
	}
}

// Shutdown stops all pools and actors and waits for them. Errors of the
// individual stops are combined. Further spawns fail with ErrSystemShutdown.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pools := s.pools
	actors := make([]*Ref, 0, len(s.actors))
	for _, ref := range s.actors {
		actors = append(actors, ref)
	}
	s.mu.Unlock()

	var errs error
	for _, p := range pools {
		if p.Stopped() {
			continue
		}
		errs = multierr.Append(errs, p.Stop(ctx))
	}
	for _, ref := range actors {
		if err := ref.Stop(); err != nil && !cerrors.ErrAlreadyStopped.Equal(err) {
			errs = multierr.Append(errs, err)
		}
	}
	for _, ref := range actors {
		errs = multierr.Append(errs, ref.Wait(ctx))
	}
	log.Info("actor system shut down",
		zap.Int("pools", len(pools)), zap.Int("actors", len(actors)), zap.Error(errs))
	return errs
}

// Stats returns statistics of every live actor, pool workers included.
func (s *System) Stats() []ActorStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats []ActorStats
	for _, ref := range s.actors {
		stats = append(stats, ref.Stats())
	}
	for _, p := range s.pools {
		for _, w := range p.workers {
			stats = append(stats, w.Stats())
		}
	}
	return stats
}
