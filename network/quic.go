package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/quic-go/quic-go"
)

const quicALPN = "actormesh/1"

// QUICTransport authenticates peers with a self-signed ed25519 certificate
// whose key is the peer identity.
type QUICTransport struct {
	self *identity.Identity
	cert tls.Certificate
	conf *quic.Config
}

// NewQUICTransport creates the QUIC transport for self.
func NewQUICTransport(self *identity.Identity) (*QUICTransport, error) {
	cert, err := selfSignedCert(self)
	if err != nil {
		return nil, err
	}
	return &QUICTransport{
		self: self,
		cert: cert,
		conf: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
	}, nil
}

func selfSignedCert(self *identity.Identity) (tls.Certificate, error) {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	priv := self.PrivateKey()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, cerrors.Trace(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// peerFromCerts derives the PeerID from the leaf certificate key.
func peerFromCerts(rawCerts [][]byte) (identity.PeerID, error) {
	if len(rawCerts) == 0 {
		return identity.PeerID{}, cerrors.ErrHandshakeFailed.GenWithStackByArgs("no peer certificate")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return identity.PeerID{}, cerrors.ErrHandshakeFailed.GenWithStackByArgs(err.Error())
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return identity.PeerID{}, cerrors.ErrHandshakeFailed.GenWithStackByArgs(err.Error())
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return identity.PeerID{}, cerrors.ErrHandshakeFailed.GenWithStackByArgs("peer certificate is not ed25519")
	}
	return identity.PeerIDFromPublicKey(pub)
}

func (t *QUICTransport) tlsConfig(expect identity.PeerID) *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{t.cert},
		NextProtos:   []string{quicALPN},
		ClientAuth:   tls.RequireAnyClientCert,
		// Chains are not used; the certificate key is the identity.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			remote, err := peerFromCerts(rawCerts)
			if err != nil {
				return err
			}
			if !expect.IsZero() && remote != expect {
				return cerrors.ErrPeerMismatch.GenWithStackByArgs(expect.String(), remote.String())
			}
			return nil
		},
	}
}

// Scheme implements Transport.
func (t *QUICTransport) Scheme() string { return SchemeQUIC }

// Listen implements Transport.
func (t *QUICTransport) Listen(hostport string) (Listener, error) {
	ln, err := quic.ListenAddr(hostport, t.tlsConfig(identity.PeerID{}), t.conf)
	if err != nil {
		return nil, cerrors.Annotatef(err, "listen quic %s", hostport)
	}
	return &quicListener{ln: ln}, nil
}

// Dial implements Transport.
func (t *QUICTransport) Dial(ctx context.Context, hostport string, expect identity.PeerID) (Conn, error) {
	conn, err := quic.DialAddr(ctx, hostport, t.tlsConfig(expect), t.conf)
	if err != nil {
		if cerrors.ErrPeerMismatch.Equal(cerrors.Cause(err)) {
			return nil, err
		}
		return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(hostport + ": " + err.Error())
	}
	return newQUICConn(conn, true)
}

func newQUICConn(conn quic.Connection, outbound bool) (*quicConn, error) {
	remote, err := peerFromCerts(rawPeerCerts(conn))
	if err != nil {
		_ = conn.CloseWithError(1, "bad certificate")
		return nil, err
	}
	return &quicConn{conn: conn, remote: remote, outbound: outbound}, nil
}

func rawPeerCerts(conn quic.Connection) [][]byte {
	certs := conn.ConnectionState().TLS.PeerCertificates
	raw := make([][]byte, 0, len(certs))
	for _, c := range certs {
		raw = append(raw, c.Raw)
	}
	return raw
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept() (Conn, error) {
	for {
		conn, err := l.ln.Accept(context.Background())
		if err != nil {
			return nil, cerrors.Trace(err)
		}
		qc, err := newQUICConn(conn, false)
		if err != nil {
			continue
		}
		return qc, nil
	}
}

func (l *quicListener) Addr() string {
	return Addr{Scheme: SchemeQUIC, HostPort: l.ln.Addr().String()}.String()
}

func (l *quicListener) Close() error {
	return l.ln.Close()
}

type quicConn struct {
	conn     quic.Connection
	remote   identity.PeerID
	outbound bool
}

func (c *quicConn) RemotePeer() identity.PeerID { return c.remote }
func (c *quicConn) RemoteAddr() string {
	return Addr{Scheme: SchemeQUIC, HostPort: c.conn.RemoteAddr().String()}.String()
}
func (c *quicConn) Scheme() string        { return SchemeQUIC }
func (c *quicConn) Outbound() bool        { return c.outbound }
func (c *quicConn) Done() <-chan struct{} { return c.conn.Context().Done() }
func (c *quicConn) Close() error          { return c.conn.CloseWithError(0, "closed") }

func (c *quicConn) OpenStream(ctx context.Context) (RawStream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return quicStream{s}, nil
}

func (c *quicConn) AcceptStream() (RawStream, error) {
	s, err := c.conn.AcceptStream(c.conn.Context())
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	return quicStream{s}, nil
}

// quicStream releases both directions on Close; quic.Stream.Close only
// ends the send side.
type quicStream struct {
	quic.Stream
}

func (s quicStream) Close() error {
	s.Stream.CancelRead(0)
	return s.Stream.Close()
}
