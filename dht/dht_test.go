package dht

import (
	"context"
	"testing"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/network"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	host *network.Host
	dht  *DHT
}

func newTestNode(t *testing.T) *testNode {
	ident, err := identity.Generate()
	require.NoError(t, err)
	h, err := network.NewHost(ident, network.HostConfig{ListenAddrs: []string{"tcp://127.0.0.1:0"}})
	require.NoError(t, err)
	require.NoError(t, h.Start())
	t.Cleanup(func() { _ = h.Close() })
	d, err := New(h, Config{RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return &testNode{host: h, dht: d}
}

func connect(t *testing.T, from, to *testNode) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, from.host.Connect(ctx, to.host.Info()))
	require.Eventually(t, func() bool {
		return len(to.host.PeerInfo(from.host.ID()).Addrs) > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIsolatedNodeHasNoPeers(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	err := n.dht.Put(ctx, "svc", []byte("v"))
	require.True(t, cerrors.ErrNoPeers.Equal(err))

	// The local replica still answers.
	rec, err := n.dht.Get(ctx, "svc")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), rec.Value)

	_, err = n.dht.Get(ctx, "missing")
	require.True(t, cerrors.ErrNoPeers.Equal(err))
}

func TestPutGetAcrossPeers(t *testing.T) {
	a, b, c := newTestNode(t), newTestNode(t), newTestNode(t)
	connect(t, a, b)
	connect(t, c, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.dht.Put(ctx, "svc-a", []byte("owner-a")))

	// b was reached directly and c through b's FIND_NODE answer.
	require.NotNil(t, b.dht.store.get("svc-a"))
	require.NotNil(t, c.dht.store.get("svc-a"))
	require.True(t, a.host.IsConnected(c.host.ID()))

	rec, err := c.dht.Get(ctx, "svc-a")
	require.NoError(t, err)
	require.Equal(t, []byte("owner-a"), rec.Value)
	require.Equal(t, a.host.ID(), rec.Publisher)

	_, err = c.dht.Get(ctx, "svc-unknown")
	require.True(t, cerrors.ErrRecordNotFound.Equal(err))
}

func TestGetReturnsNewestRecord(t *testing.T) {
	a, b := newTestNode(t), newTestNode(t)
	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.dht.Put(ctx, "svc", []byte("first")))
	time.Sleep(time.Millisecond)
	require.NoError(t, b.dht.Put(ctx, "svc", []byte("second")))

	for _, n := range []*testNode{a, b} {
		rec, err := n.dht.Get(ctx, "svc")
		require.NoError(t, err)
		require.Equal(t, []byte("second"), rec.Value)
	}
}

func TestRoutingTableFollowsConnections(t *testing.T) {
	a, b := newTestNode(t), newTestNode(t)
	connect(t, a, b)
	require.Equal(t, []identity.PeerID{b.host.ID()}, a.dht.RoutingTable().Peers())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.dht.Ping(ctx, b.host.ID()))
	require.NoError(t, a.dht.Bootstrap(ctx))

	require.NoError(t, b.host.Close())
	require.Eventually(t, func() bool {
		return a.dht.RoutingTable().Size() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
