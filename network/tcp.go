package network

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TCPTransport runs yamux over the sealed-box secure channel.
type TCPTransport struct {
	self             *identity.Identity
	handshakeTimeout time.Duration
}

// NewTCPTransport creates the TCP transport for self.
func NewTCPTransport(self *identity.Identity, handshakeTimeout time.Duration) *TCPTransport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &TCPTransport{self: self, handshakeTimeout: handshakeTimeout}
}

// Scheme implements Transport.
func (t *TCPTransport) Scheme() string { return SchemeTCP }

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	cfg.KeepAliveInterval = 15 * time.Second
	return cfg
}

// Listen implements Transport.
func (t *TCPTransport) Listen(hostport string) (Listener, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, cerrors.Annotatef(err, "listen tcp %s", hostport)
	}
	return &tcpListener{t: t, ln: ln}, nil
}

// Dial implements Transport.
func (t *TCPTransport) Dial(ctx context.Context, hostport string, expect identity.PeerID) (Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(hostport + ": " + err.Error())
	}
	hsCtx, cancel := context.WithTimeout(ctx, t.handshakeTimeout)
	defer cancel()
	sc, err := secureHandshake(hsCtx, raw, t.self, true, expect)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	sess, err := yamux.Client(sc, yamuxConfig())
	if err != nil {
		_ = raw.Close()
		return nil, cerrors.Trace(err)
	}
	return &tcpConn{sess: sess, remote: sc.remote, addr: hostport, outbound: true}, nil
}

type tcpListener struct {
	t  *TCPTransport
	ln net.Listener
}

// Accept returns the next authenticated connection. Connections that fail
// the handshake are logged and skipped.
func (l *tcpListener) Accept() (Conn, error) {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			return nil, cerrors.Trace(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.t.handshakeTimeout)
		sc, err := secureHandshake(ctx, raw, l.t.self, false, identity.PeerID{})
		cancel()
		if err != nil {
			log.Warn("inbound tcp handshake failed",
				zap.String("remote", raw.RemoteAddr().String()), zap.Error(err))
			_ = raw.Close()
			continue
		}
		sess, err := yamux.Server(sc, yamuxConfig())
		if err != nil {
			_ = raw.Close()
			return nil, cerrors.Trace(err)
		}
		return &tcpConn{sess: sess, remote: sc.remote, addr: raw.RemoteAddr().String()}, nil
	}
}

func (l *tcpListener) Addr() string {
	return Addr{Scheme: SchemeTCP, HostPort: l.ln.Addr().String()}.String()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

type tcpConn struct {
	sess     *yamux.Session
	remote   identity.PeerID
	addr     string
	outbound bool
}

func (c *tcpConn) RemotePeer() identity.PeerID { return c.remote }
func (c *tcpConn) RemoteAddr() string          { return Addr{Scheme: SchemeTCP, HostPort: c.addr}.String() }
func (c *tcpConn) Scheme() string              { return SchemeTCP }
func (c *tcpConn) Outbound() bool              { return c.outbound }
func (c *tcpConn) Done() <-chan struct{}       { return c.sess.CloseChan() }
func (c *tcpConn) Close() error                { return c.sess.Close() }

func (c *tcpConn) OpenStream(ctx context.Context) (RawStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerrors.Trace(err)
	}
	s, err := c.sess.OpenStream()
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return s, nil
}

func (c *tcpConn) AcceptStream() (RawStream, error) {
	s, err := c.sess.AcceptStream()
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return s, nil
}
