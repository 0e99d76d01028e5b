package core

import (
	"context"
)

// Unit is the reply type of messages that produce no value.
type Unit struct{}

// Request is implemented by every message whose reply type is R. It can only
// be satisfied by embedding Reply[R], which fixes the reply type at the
// message definition.
type Request[R any] interface {
	replyOf() R
}

// Reply binds a message type to its reply type R when embedded.
type Reply[R any] struct{}

func (Reply[R]) replyOf() (r R) { return r }

// Actor is the behaviour of an actor. Receive is never called concurrently
// for the same actor. Implementations match their closed set of message
// types with a type switch and return ErrUnhandledMessage for anything else.
type Actor interface {
	Receive(ctx *Context, msg any) (any, error)
}

// Starter is implemented by actors that need to initialise before the first
// message. A non-nil error stops the actor and fails its startup.
type Starter interface {
	OnStart(ctx *Context) error
}

// Stopper is implemented by actors that want to observe their termination.
// reason is nil for a requested stop.
type Stopper interface {
	OnStop(ctx *Context, reason error)
}

// ActorFunc adapts a plain function to Actor.
type ActorFunc func(ctx *Context, msg any) (any, error)

// Receive calls f.
func (f ActorFunc) Receive(ctx *Context, msg any) (any, error) {
	return f(ctx, msg)
}

// Target is anything a message can be addressed to: a single actor or a pool.
type Target interface {
	// Tell enqueues msg without waiting for it to be processed.
	Tell(ctx context.Context, msg any) error
	// Ask enqueues msg and waits for the reply.
	Ask(ctx context.Context, msg any) (any, error)
	String() string
}

// Context is handed to every handler invocation of one actor.
type Context struct {
	ref *Ref
}

// Self returns the reference of the running actor.
func (c *Context) Self() *Ref {
	return c.ref
}

// Stop asks the runtime to stop once the current handler returns. Messages
// still queued are cancelled.
func (c *Context) Stop() {
	c.ref.halt()
}
