package core

import (
	"strings"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
)

const (
	// DefaultMailboxCapacity is the mailbox capacity used when none is given.
	DefaultMailboxCapacity = 16
	// DefaultPoolSize is the number of workers of a pool when none is given.
	DefaultPoolSize = 4
)

// ActorID identifies an actor inside one process.
type ActorID uint64

// ActorState represents the lifecycle state of an actor.
type ActorState int32

const (
	// StateSpawned means the runtime goroutine exists but OnStart has not
	// completed yet.
	StateSpawned ActorState = iota
	// StateRunning means the actor is processing its mailbox.
	StateRunning
	// StateStopping means the mailbox is closed and pending messages are
	// being drained.
	StateStopping
	// StateStopped is terminal.
	StateStopped
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SendPolicy decides what Tell does when the mailbox is at capacity.
type SendPolicy int

const (
	// SendBlock suspends the sender until space frees or its context ends.
	SendBlock SendPolicy = iota
	// SendFail fails immediately with ErrMailboxFull.
	SendFail
)

// String returns the string representation of SendPolicy.
func (p SendPolicy) String() string {
	switch p {
	case SendBlock:
		return "block"
	case SendFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ParseSendPolicy parses "block" or "fail".
func ParseSendPolicy(s string) (SendPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return SendBlock, nil
	case "fail":
		return SendFail, nil
	default:
		return SendBlock, cerrors.Errorf("unknown send policy %q", s)
	}
}

// Options configures a spawned actor.
type Options struct {
	// Name is used in logs, metrics and error messages
	Name string

	// MailboxCapacity bounds the number of queued messages
	MailboxCapacity int

	// SendPolicy applies to Tell and Ask when the mailbox is full
	SendPolicy SendPolicy
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions returns the options used by Spawn when none are given.
func DefaultOptions() Options {
	return Options{
		Name:            "actor",
		MailboxCapacity: DefaultMailboxCapacity,
		SendPolicy:      SendBlock,
	}
}

// WithName sets the actor name.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithMailboxCapacity sets the mailbox capacity.
func WithMailboxCapacity(capacity int) Option {
	return func(o *Options) { o.MailboxCapacity = capacity }
}

// WithSendPolicy sets the full-mailbox policy.
func WithSendPolicy(p SendPolicy) Option {
	return func(o *Options) { o.SendPolicy = p }
}

func buildOptions(base Options, opts []Option) Options {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

// ActorStats contains runtime statistics for an actor.
type ActorStats struct {
	// ID of the actor
	ID ActorID

	// Name of the actor
	Name string

	// Current state
	State ActorState

	// Total messages handled, including failed ones
	MessagesProcessed uint64

	// Messages dropped or cancelled while stopping
	MessagesDropped uint64

	// Messages currently queued
	MailboxDepth int

	// Mailbox capacity
	MailboxCapacity int

	// Time when the actor was spawned
	CreatedAt time.Time
}
