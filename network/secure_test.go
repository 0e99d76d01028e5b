package network

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/stretchr/testify/require"
)

type handshakeResult struct {
	conn *secureConn
	err  error
}

func loopbackPair(t *testing.T) (net.Conn, net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	return client, server
}

func handshakePair(t *testing.T, a, b *identity.Identity, expect identity.PeerID) (handshakeResult, handshakeResult) {
	client, server := loopbackPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan handshakeResult, 1)
	go func() {
		sc, err := secureHandshake(ctx, server, b, false, identity.PeerID{})
		if err != nil {
			server.Close()
		}
		done <- handshakeResult{sc, err}
	}()
	sc, err := secureHandshake(ctx, client, a, true, expect)
	if err != nil {
		client.Close()
	}
	return handshakeResult{sc, err}, <-done
}

func TestSecureChannelExchangesData(t *testing.T) {
	a, err := identity.Generate()
	require.NoError(t, err)
	b, err := identity.Generate()
	require.NoError(t, err)

	ca, cb := handshakePair(t, a, b, b.ID())
	require.NoError(t, ca.err)
	require.NoError(t, cb.err)
	defer ca.conn.Close()
	defer cb.conn.Close()

	require.Equal(t, b.ID(), ca.conn.remote)
	require.Equal(t, a.ID(), cb.conn.remote)

	big := make([]byte, 3*maxPlaintext+17)
	for i := range big {
		big[i] = byte(i)
	}
	go func() {
		_, _ = ca.conn.Write(big)
	}()
	got := make([]byte, len(big))
	_, err = io.ReadFull(cb.conn, got)
	require.NoError(t, err)
	require.Equal(t, big, got)

	_, err = cb.conn.Write([]byte("pong"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_, err = io.ReadFull(ca.conn, reply)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply))
}

func TestSecureChannelRejectsUnexpectedPeer(t *testing.T) {
	a, err := identity.Generate()
	require.NoError(t, err)
	b, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	ca, cb := handshakePair(t, a, b, other.ID())
	require.True(t, cerrors.ErrPeerMismatch.Equal(ca.err))
	if cb.err == nil {
		cb.conn.Close()
	}
}
