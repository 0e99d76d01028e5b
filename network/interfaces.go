// Package network provides the secure multiplexed transports of an actormesh
// peer and the Host that composes them into a swarm.
package network

import (
	"context"
	"io"
	"time"

	"github.com/najoast/actormesh/identity"
)

const (
	// SchemeTCP is TCP with the sealed-box secure channel and yamux.
	SchemeTCP = "tcp"
	// SchemeQUIC is QUIC with TLS 1.3 over a self-signed node certificate.
	SchemeQUIC = "quic"
)

// RawStream is one bidirectional stream of a muxed connection.
type RawStream interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// Conn is an authenticated, multiplexed connection to one peer.
type Conn interface {
	// RemotePeer is the identity proven during the handshake.
	RemotePeer() identity.PeerID
	// RemoteAddr is the transport address of the other end.
	RemoteAddr() string
	// Scheme names the transport that produced the connection.
	Scheme() string
	// Outbound reports whether this side dialed.
	Outbound() bool

	OpenStream(ctx context.Context) (RawStream, error)
	// AcceptStream blocks until the peer opens a stream or the
	// connection closes.
	AcceptStream() (RawStream, error)

	Done() <-chan struct{}
	Close() error
}

// Listener accepts authenticated connections.
type Listener interface {
	Accept() (Conn, error)
	// Addr is the full listen address, e.g. "quic://127.0.0.1:4001".
	Addr() string
	Close() error
}

// Transport dials and listens for one address scheme.
type Transport interface {
	Scheme() string
	Listen(hostport string) (Listener, error)
	// Dial connects to hostport and fails with ErrPeerMismatch when the
	// remote side does not prove the expected identity.
	Dial(ctx context.Context, hostport string, expect identity.PeerID) (Conn, error)
}

// StreamHandler serves one inbound stream of a registered protocol. The
// handler owns the stream and must close it.
type StreamHandler func(ctx context.Context, s *Stream)

// Notifiee observes the peer set of a Host.
type Notifiee interface {
	// Connected fires when the first connection to a peer is established.
	Connected(peer identity.PeerID)
	// Disconnected fires when the last connection to a peer is gone.
	Disconnected(peer identity.PeerID)
}

// NotifyFuncs adapts plain functions to Notifiee. Nil fields are ignored.
type NotifyFuncs struct {
	OnConnected    func(identity.PeerID)
	OnDisconnected func(identity.PeerID)
}

// Connected implements Notifiee.
func (n NotifyFuncs) Connected(p identity.PeerID) {
	if n.OnConnected != nil {
		n.OnConnected(p)
	}
}

// Disconnected implements Notifiee.
func (n NotifyFuncs) Disconnected(p identity.PeerID) {
	if n.OnDisconnected != nil {
		n.OnDisconnected(p)
	}
}
