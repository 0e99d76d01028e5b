package core

import (
	"context"
	"sync"

	cerrors "github.com/najoast/actormesh/errors"
)

// envelope carries one message through a mailbox. reply is nil for tells.
type envelope struct {
	msg   any
	reply chan result
}

type result struct {
	reply any
	err   error
}

func (e envelope) resolve(reply any, err error) {
	if e.reply != nil {
		// buffered with capacity one, never blocks
		e.reply <- result{reply: reply, err: err}
	}
}

// mailbox is a bounded FIFO with a single consumer. Senders hold the read
// lock while enqueueing so close can wait for in-flight sends before the
// owner drains what is left.
type mailbox struct {
	owner string
	ch    chan envelope

	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

func newMailbox(owner string, capacity int) *mailbox {
	return &mailbox{
		owner:   owner,
		ch:      make(chan envelope, capacity),
		closing: make(chan struct{}),
	}
}

// trySend never blocks; it returns ErrMailboxFull at capacity.
func (m *mailbox) trySend(env envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return cerrors.ErrMailboxClosed.GenWithStackByArgs(m.owner)
	}
	select {
	case <-m.closing:
		return cerrors.ErrMailboxClosed.GenWithStackByArgs(m.owner)
	default:
	}
	select {
	case m.ch <- env:
		return nil
	default:
		return cerrors.ErrMailboxFull.GenWithStackByArgs(m.owner)
	}
}

// send blocks until the message is enqueued, the mailbox closes or ctx ends.
func (m *mailbox) send(ctx context.Context, env envelope) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return cerrors.ErrMailboxClosed.GenWithStackByArgs(m.owner)
	}
	select {
	case <-m.closing:
		return cerrors.ErrMailboxClosed.GenWithStackByArgs(m.owner)
	default:
	}
	select {
	case m.ch <- env:
		return nil
	case <-m.closing:
		return cerrors.ErrMailboxClosed.GenWithStackByArgs(m.owner)
	case <-ctx.Done():
		return cerrors.Trace(ctx.Err())
	}
}

// close is irreversible. When it returns no sender is inside send any more,
// so everything that was accepted is already in ch.
func (m *mailbox) close() {
	m.closeOnce.Do(func() {
		close(m.closing)
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
	})
}

func (m *mailbox) isClosed() bool {
	select {
	case <-m.closing:
		return true
	default:
		return false
	}
}

// tryReceive pops one message without blocking.
func (m *mailbox) tryReceive() (envelope, bool) {
	select {
	case env := <-m.ch:
		return env, true
	default:
		return envelope{}, false
	}
}

func (m *mailbox) len() int {
	return len(m.ch)
}

func (m *mailbox) cap() int {
	return cap(m.ch)
}
