package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"golang.org/x/crypto/nacl/box"
)

const (
	handshakeContext = "actormesh-secure-v1"
	helloSize        = ed25519.PublicKeySize + 32 + ed25519.SignatureSize

	// maxPlaintext bounds one sealed frame; larger writes are split.
	maxPlaintext = 64 * 1024
	maxSealed    = maxPlaintext + box.Overhead
)

const (
	dirInitiator byte = 0
	dirResponder byte = 1
)

// secureConn seals every frame with a nacl/box key precomputed from the
// ephemeral keys of both sides. Nonces are implicit: a direction byte and a
// per-direction counter, so reordered or replayed frames fail to open.
type secureConn struct {
	net.Conn
	shared *[32]byte
	remote identity.PeerID

	readMu   sync.Mutex
	readBuf  []byte
	recvDir  byte
	recvSeq  uint64
	writeMu  sync.Mutex
	sendDir  byte
	sendSeq  uint64
	frameBuf []byte
}

// secureHandshake authenticates both sides of conn. The initiator passes
// the peer it expects; a zero expect accepts any peer.
func secureHandshake(ctx context.Context, conn net.Conn, self *identity.Identity, initiator bool, expect identity.PeerID) (*secureConn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	eph, err := identity.NewSessionKey()
	if err != nil {
		return nil, err
	}
	ephPub := eph.Public()

	hello := make([]byte, 0, helloSize)
	selfID := self.ID()
	hello = append(hello, selfID[:]...)
	hello = append(hello, ephPub[:]...)
	hello = append(hello, self.Sign(signedHello(ephPub[:]))...)
	if _, err := conn.Write(hello); err != nil {
		return nil, cerrors.ErrHandshakeFailed.GenWithStackByArgs(err.Error())
	}

	peerHello := make([]byte, helloSize)
	if _, err := io.ReadFull(conn, peerHello); err != nil {
		return nil, cerrors.ErrHandshakeFailed.GenWithStackByArgs(err.Error())
	}
	var remote identity.PeerID
	copy(remote[:], peerHello[:ed25519.PublicKeySize])
	var peerEph [32]byte
	copy(peerEph[:], peerHello[ed25519.PublicKeySize:ed25519.PublicKeySize+32])
	sig := peerHello[ed25519.PublicKeySize+32:]

	if !identity.Verify(remote, signedHello(peerEph[:]), sig) {
		return nil, cerrors.ErrHandshakeFailed.GenWithStackByArgs("bad signature")
	}
	if bytes.Equal(peerEph[:], ephPub[:]) {
		return nil, cerrors.ErrHandshakeFailed.GenWithStackByArgs("reflected hello")
	}
	if !expect.IsZero() && expect != remote {
		return nil, cerrors.ErrPeerMismatch.GenWithStackByArgs(expect.String(), remote.String())
	}

	sc := &secureConn{
		Conn:   conn,
		shared: eph.Shared(peerEph),
		remote: remote,
	}
	if initiator {
		sc.sendDir, sc.recvDir = dirInitiator, dirResponder
	} else {
		sc.sendDir, sc.recvDir = dirResponder, dirInitiator
	}
	return sc, nil
}

func signedHello(ephPub []byte) []byte {
	msg := make([]byte, 0, len(handshakeContext)+len(ephPub))
	msg = append(msg, handshakeContext...)
	return append(msg, ephPub...)
}

func makeNonce(dir byte, seq uint64) *[24]byte {
	var n [24]byte
	n[0] = dir
	binary.BigEndian.PutUint64(n[16:], seq)
	return &n
}

// Read implements io.Reader.
func (c *secureConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.readBuf) == 0 {
		var header [4]byte
		if _, err := io.ReadFull(c.Conn, header[:]); err != nil {
			return 0, err
		}
		size := binary.BigEndian.Uint32(header[:])
		if size < box.Overhead || size > maxSealed {
			return 0, cerrors.ErrFrameTooLarge.GenWithStackByArgs(size, maxSealed)
		}
		sealed := make([]byte, size)
		if _, err := io.ReadFull(c.Conn, sealed); err != nil {
			return 0, err
		}
		plain, ok := box.OpenAfterPrecomputation(nil, sealed, makeNonce(c.recvDir, c.recvSeq), c.shared)
		if !ok {
			return 0, cerrors.ErrHandshakeFailed.GenWithStackByArgs("frame authentication failed")
		}
		c.recvSeq++
		c.readBuf = plain
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write implements io.Writer.
func (c *secureConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlaintext {
			chunk = chunk[:maxPlaintext]
		}
		c.frameBuf = append(c.frameBuf[:0], 0, 0, 0, 0)
		c.frameBuf = box.SealAfterPrecomputation(c.frameBuf, chunk, makeNonce(c.sendDir, c.sendSeq), c.shared)
		binary.BigEndian.PutUint32(c.frameBuf[:4], uint32(len(c.frameBuf)-4))
		if _, err := c.Conn.Write(c.frameBuf); err != nil {
			return written, err
		}
		c.sendSeq++
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}
