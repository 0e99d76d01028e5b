package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var actorIDGen atomic.Uint64

// Ref is a cloneable, non-owning handle to a spawned actor. Dropping every
// Ref does not stop the actor; only Stop, StopGracefully, Context.Stop, a
// failed OnStart or a handler panic end its runtime.
type Ref struct {
	id        ActorID
	name      string
	actor     Actor
	mb        *mailbox
	policy    SendPolicy
	createdAt time.Time

	state     atomic.Int32
	processed atomic.Uint64
	dropped   atomic.Uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	// closed by StopGracefully once the mailbox refuses new messages
	graceful chan struct{}
	started  chan struct{}
	done     chan struct{}

	// written by the runtime goroutine before started/done are closed
	startErr error
	reason   error
}

// Spawn starts a new actor and returns immediately. Use WaitForStartup to
// observe the result of OnStart.
func Spawn(a Actor, opts ...Option) (*Ref, error) {
	o := buildOptions(DefaultOptions(), opts)
	if o.MailboxCapacity <= 0 {
		return nil, cerrors.ErrInvalidCapacity.GenWithStackByArgs(o.MailboxCapacity)
	}
	id := ActorID(actorIDGen.Inc())
	r := &Ref{
		id:        id,
		name:      o.Name,
		actor:     a,
		policy:    o.SendPolicy,
		createdAt: time.Now(),
		stopCh:    make(chan struct{}),
		graceful:  make(chan struct{}),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.mb = newMailbox(r.String(), o.MailboxCapacity)
	r.state.Store(int32(StateSpawned))
	actorsAlive.WithLabelValues(r.name).Inc()
	go r.run()
	return r, nil
}

// ID returns the process-local id of the actor.
func (r *Ref) ID() ActorID {
	return r.id
}

// Name returns the name given at spawn time.
func (r *Ref) Name() string {
	return r.name
}

// String implements fmt.Stringer.
func (r *Ref) String() string {
	return fmt.Sprintf("%s#%d", r.name, r.id)
}

// State returns the current lifecycle state.
func (r *Ref) State() ActorState {
	return ActorState(r.state.Load())
}

// Tell enqueues msg. Depending on the send policy a full mailbox either
// suspends the caller or fails with ErrMailboxFull.
func (r *Ref) Tell(ctx context.Context, msg any) error {
	return r.enqueue(ctx, envelope{msg: msg})
}

// TryTell enqueues msg or fails immediately if the mailbox is full.
func (r *Ref) TryTell(msg any) error {
	return r.mb.trySend(envelope{msg: msg})
}

// Ask enqueues msg and waits for the handler's reply.
func (r *Ref) Ask(ctx context.Context, msg any) (any, error) {
	return r.AskAsync(ctx, msg).Await(ctx)
}

// AskAsync enqueues msg and returns a future of the reply. Enqueue failures
// are reported by the future.
func (r *Ref) AskAsync(ctx context.Context, msg any) *Future {
	env := envelope{msg: msg, reply: make(chan result, 1)}
	if err := r.enqueue(ctx, env); err != nil {
		return failedFuture(err)
	}
	return newFuture(env.reply)
}

func (r *Ref) enqueue(ctx context.Context, env envelope) error {
	if r.policy == SendFail {
		return r.mb.trySend(env)
	}
	return r.mb.send(ctx, env)
}

// Stop closes the mailbox and cancels every queued message. The handler that
// is currently running, if any, completes first. Stopping twice returns
// ErrAlreadyStopped.
func (r *Ref) Stop() error {
	if !r.markStopping() {
		return cerrors.ErrAlreadyStopped.GenWithStackByArgs(r.String())
	}
	r.halt()
	return nil
}

// StopGracefully moves the actor to StateStopping and closes its mailbox,
// but the messages already queued are still processed before the actor
// stops. It does not wait; use Wait for that. Stopping twice returns
// ErrAlreadyStopped.
func (r *Ref) StopGracefully(context.Context) error {
	if !r.markStopping() {
		return cerrors.ErrAlreadyStopped.GenWithStackByArgs(r.String())
	}
	// every accepted message is in the mailbox once close returns
	r.mb.close()
	close(r.graceful)
	return nil
}

// StopAndWait stops the actor and waits until it reaches StateStopped.
func (r *Ref) StopAndWait(ctx context.Context) error {
	if err := r.Stop(); err != nil {
		return err
	}
	return r.Wait(ctx)
}

// WaitForStartup blocks until OnStart completed and returns its error.
func (r *Ref) WaitForStartup(ctx context.Context) error {
	select {
	case <-r.started:
		return r.startErr
	case <-ctx.Done():
		return cerrors.Trace(ctx.Err())
	}
}

// Wait blocks until the runtime goroutine has exited.
func (r *Ref) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return cerrors.Trace(ctx.Err())
	}
}

// Done is closed when the actor reaches StateStopped.
func (r *Ref) Done() <-chan struct{} {
	return r.done
}

// StopReason returns the error that terminated the actor: a failed OnStart,
// a handler panic, or nil for a requested stop or a running actor.
func (r *Ref) StopReason() error {
	select {
	case <-r.done:
		return r.reason
	default:
		return nil
	}
}

// Stats returns a snapshot of runtime statistics.
func (r *Ref) Stats() ActorStats {
	return ActorStats{
		ID:                r.id,
		Name:              r.name,
		State:             r.State(),
		MessagesProcessed: r.processed.Load(),
		MessagesDropped:   r.dropped.Load(),
		MailboxDepth:      r.mb.len(),
		MailboxCapacity:   r.mb.cap(),
		CreatedAt:         r.createdAt,
	}
}

// markStopping moves the actor to StateStopping. It returns false if the
// actor was already stopping.
func (r *Ref) markStopping() bool {
	for {
		s := r.state.Load()
		if ActorState(s) >= StateStopping {
			return false
		}
		if r.state.CompareAndSwap(s, int32(StateStopping)) {
			return true
		}
	}
}

// halt closes the mailbox and makes the runtime cancel whatever is queued,
// including a graceful drain in progress.
func (r *Ref) halt() {
	r.markStopping()
	r.mb.close()
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Ref) halted() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *Ref) run() {
	ctx := &Context{ref: r}

	if s, ok := r.actor.(Starter); ok {
		if err := r.start(ctx, s); err != nil {
			r.startErr = cerrors.ErrActorStartFailed.GenWithStackByArgs(r.String(), err)
			r.reason = r.startErr
			close(r.started)
			log.Warn("actor failed to start", zap.Stringer("actor", r), zap.Error(err))
			r.halt()
			r.finish(ctx)
			return
		}
	}
	if !r.state.CompareAndSwap(int32(StateSpawned), int32(StateRunning)) {
		// stopped while OnStart was running
		r.startErr = cerrors.ErrAlreadyStopped.GenWithStackByArgs(r.String())
	}
	close(r.started)

	for {
		select {
		case env := <-r.mb.ch:
			if r.halted() {
				r.cancel(env)
				r.finish(ctx)
				return
			}
			if !r.handle(ctx, env) {
				r.halt()
				r.finish(ctx)
				return
			}
		case <-r.stopCh:
			r.finish(ctx)
			return
		case <-r.graceful:
			r.drain(ctx)
			return
		}
	}
}

// drain processes what is left in the closed mailbox, unless the actor is
// halted or a handler panics, and then finishes.
func (r *Ref) drain(ctx *Context) {
	for !r.halted() {
		env, ok := r.mb.tryReceive()
		if !ok {
			break
		}
		if !r.handle(ctx, env) {
			r.halt()
			break
		}
	}
	r.finish(ctx)
}

func (r *Ref) start(ctx *Context, s Starter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = cerrors.Errorf("OnStart panicked: %v", p)
		}
	}()
	return s.OnStart(ctx)
}

// handle runs one handler. It returns false if the handler panicked, which
// terminates the actor.
func (r *Ref) handle(ctx *Context, env envelope) (ok bool) {
	start := time.Now()
	defer func() {
		handlerDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
		r.processed.Inc()
		messagesProcessed.WithLabelValues(r.name).Inc()
		if p := recover(); p != nil {
			err := cerrors.ErrHandlerPanicked.GenWithStackByArgs(r.String(), p)
			r.reason = err
			handlerPanics.WithLabelValues(r.name).Inc()
			log.Error("actor handler panicked, stopping actor",
				zap.Stringer("actor", r),
				zap.String("message", fmt.Sprintf("%T", env.msg)),
				zap.Any("panic", p),
				zap.Stack("stack"))
			env.resolve(nil, err)
			ok = false
		}
	}()

	reply, err := r.actor.Receive(ctx, env.msg)
	if err != nil && env.reply == nil {
		log.Warn("actor handler failed",
			zap.Stringer("actor", r),
			zap.String("message", fmt.Sprintf("%T", env.msg)),
			zap.Error(err))
	}
	env.resolve(reply, err)
	return true
}

// cancel fails a message that will never be processed.
func (r *Ref) cancel(env envelope) {
	r.dropped.Inc()
	messagesDropped.WithLabelValues(r.name).Inc()
	if env.reply != nil {
		env.resolve(nil, cerrors.ErrActorStopped.GenWithStackByArgs(r.String()))
		return
	}
	log.Debug("dropping message of stopped actor",
		zap.Stringer("actor", r),
		zap.String("message", fmt.Sprintf("%T", env.msg)))
}

// finish drains the closed mailbox, runs OnStop and marks the actor stopped.
func (r *Ref) finish(ctx *Context) {
	r.mb.close()
	for {
		env, ok := r.mb.tryReceive()
		if !ok {
			break
		}
		r.cancel(env)
	}
	if s, ok := r.actor.(Stopper); ok {
		func() {
			defer func() {
				if p := recover(); p != nil {
					log.Error("actor OnStop panicked", zap.Stringer("actor", r), zap.Any("panic", p))
				}
			}()
			s.OnStop(ctx, r.reason)
		}()
	}
	r.state.Store(int32(StateStopped))
	actorsAlive.WithLabelValues(r.name).Dec()
	log.Debug("actor stopped", zap.Stringer("actor", r), zap.Error(r.reason))
	close(r.done)
}
