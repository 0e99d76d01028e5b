package core

import (
	"context"
	"fmt"
	"sync"

	cerrors "github.com/najoast/actormesh/errors"
)

// Future is the pending reply of an ask. It may be awaited any number of
// times from any goroutine.
type Future struct {
	ch   chan result
	once sync.Once
	done chan struct{}
	res  result
}

func newFuture(ch chan result) *Future {
	return &Future{ch: ch, done: make(chan struct{})}
}

func failedFuture(err error) *Future {
	ch := make(chan result, 1)
	ch <- result{err: err}
	return newFuture(ch)
}

// Await waits for the reply or for ctx to end. A cancelled ctx does not
// cancel the handler; the reply is still recorded if it arrives later and
// Await is called again.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.res.reply, f.res.err
	case res := <-f.ch:
		f.once.Do(func() {
			f.res = res
			close(f.done)
		})
		return res.reply, res.err
	case <-ctx.Done():
		return nil, cerrors.Trace(ctx.Err())
	}
}

// Result is the typed outcome of one ask.
type Result[R any] struct {
	Reply R
	Err   error
}

// Outcome is the untyped outcome of one ask of a broadcast.
type Outcome = Result[any]

// Ask sends msg to t and returns its typed reply. The reply type is fixed by
// the Reply[R] embedded in the message type.
func Ask[R any](ctx context.Context, t Target, msg Request[R]) (R, error) {
	reply, err := t.Ask(ctx, msg)
	if err != nil {
		var zero R
		return zero, err
	}
	return CastReply[R](reply)
}

// AskAsync is the non-blocking form of Ask on a single actor.
func AskAsync[R any](ctx context.Context, ref *Ref, msg Request[R]) *Future {
	return ref.AskAsync(ctx, msg)
}

// Await waits for f and converts its reply to R.
func Await[R any](ctx context.Context, f *Future) (R, error) {
	reply, err := f.Await(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	return CastReply[R](reply)
}

// CastReply converts an untyped reply to R. A nil reply yields the zero
// value, so handlers of Unit messages may return nil.
func CastReply[R any](reply any) (R, error) {
	var zero R
	if reply == nil {
		return zero, nil
	}
	r, ok := reply.(R)
	if !ok {
		return zero, cerrors.ErrReplyTypeMismatch.GenWithStackByArgs(reply, fmt.Sprintf("%T", zero))
	}
	return r, nil
}
