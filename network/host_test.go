package network

import (
	"context"
	"testing"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const echoProtocol = "/test/echo/1"

type echoMsg struct {
	Text string
}

func newTestHost(t *testing.T, listen ...string) *Host {
	ident, err := identity.Generate()
	require.NoError(t, err)
	h, err := NewHost(ident, HostConfig{ListenAddrs: listen, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(func() { _ = h.Close() })
	h.SetStreamHandler(echoProtocol, func(_ context.Context, s *Stream) {
		defer s.Close()
		var m echoMsg
		if err := s.ReadMsg(&m); err != nil {
			return
		}
		_ = s.WriteMsg(echoMsg{Text: m.Text + " from " + s.Peer().ShortString()})
	})
	return h
}

func echo(t *testing.T, from *Host, to identity.PeerID, text string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := from.NewStream(ctx, to, echoProtocol)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.WriteMsg(echoMsg{Text: text}))
	var reply echoMsg
	require.NoError(t, s.ReadMsg(&reply))
	return reply.Text
}

func TestHostEchoOverEachTransport(t *testing.T) {
	for _, scheme := range []string{SchemeTCP, SchemeQUIC} {
		t.Run(scheme, func(t *testing.T) {
			a := newTestHost(t, scheme+"://127.0.0.1:0")
			b := newTestHost(t, scheme+"://127.0.0.1:0")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, a.Connect(ctx, b.Info()))
			require.True(t, a.IsConnected(b.ID()))

			require.Equal(t, "hi from "+a.ID().ShortString(), echo(t, a, b.ID(), "hi"))
			require.Eventually(t, func() bool { return b.IsConnected(a.ID()) }, 5*time.Second, 10*time.Millisecond)
			require.Equal(t, "yo from "+b.ID().ShortString(), echo(t, b, a.ID(), "yo"))
		})
	}
}

func TestHostPrefersQUICAndFallsBackToTCP(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0", "quic://127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, b.Info()))
	conn, ok := a.conns.get(b.ID())
	require.True(t, ok)
	require.Equal(t, SchemeQUIC, conn.Scheme())

	// A dead QUIC address is skipped in favour of the live TCP one.
	c := newTestHost(t, "tcp://127.0.0.1:0")
	info := c.Info()
	info.Addrs = append([]string{"quic://127.0.0.1:1"}, info.Addrs...)
	require.NoError(t, a.Connect(ctx, info))
	conn, ok = a.conns.get(c.ID())
	require.True(t, ok)
	require.Equal(t, SchemeTCP, conn.Scheme())
}

func TestHostIdentifyLearnsListenAddrs(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "quic://127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx, a.Info()))

	require.Eventually(t, func() bool {
		return len(a.PeerInfo(b.ID()).Addrs) > 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, b.Addrs(), a.PeerInfo(b.ID()).Addrs)
}

func TestHostUnknownProtocol(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, b.Info()))
	_, err := a.NewStream(ctx, b.ID(), "/nope/1")
	require.True(t, cerrors.ErrUnknownProtocol.Equal(err))
}

func TestHostPeerMismatch(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0")
	impostor, err := identity.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Connect(ctx, PeerInfo{ID: impostor.ID(), Addrs: b.Addrs()})
	require.True(t, cerrors.ErrPeerMismatch.Equal(cerrors.Cause(err)))
	require.False(t, a.IsConnected(impostor.ID()))
}

func TestHostUnreachable(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	stranger, err := identity.Generate()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = a.NewStream(ctx, stranger.ID(), echoProtocol)
	require.True(t, cerrors.ErrPeerUnreachable.Equal(cerrors.Cause(err)))
}

func TestHostNotifications(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0")

	var connected, disconnected atomic.Int32
	a.Notify(NotifyFuncs{
		OnConnected: func(p identity.PeerID) {
			if p == b.ID() {
				connected.Inc()
			}
		},
		OnDisconnected: func(p identity.PeerID) {
			if p == b.ID() {
				disconnected.Inc()
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, b.Info()))
	require.NoError(t, a.Connect(ctx, b.Info()))
	require.Equal(t, int32(1), connected.Load())
	require.Equal(t, []identity.PeerID{b.ID()}, a.Peers())

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return disconnected.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, a.Peers())
}

func TestHostClosedRejectsWork(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.NewStream(context.Background(), b.ID(), echoProtocol)
	require.True(t, cerrors.ErrNodeShutdown.Equal(err))
	require.True(t, cerrors.ErrNodeShutdown.Equal(a.Connect(context.Background(), b.Info())))
}

func TestHostRejectsConnectionAfterClose(t *testing.T) {
	a := newTestHost(t, "tcp://127.0.0.1:0")
	b := newTestHost(t, "tcp://127.0.0.1:0")

	addr, err := ParseAddr(b.Addrs()[0])
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := a.transports[SchemeTCP].Dial(ctx, addr.HostPort, b.ID())
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.False(t, a.addConn(c))
	require.Empty(t, a.Peers())
	require.Eventually(t, func() bool { return len(b.Peers()) == 0 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, cerrors.ErrNodeShutdown.Equal(a.Start()))
}
