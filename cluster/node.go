package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"github.com/najoast/actormesh/core"
	"github.com/najoast/actormesh/dht"
	"github.com/najoast/actormesh/discovery"
	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/network"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Node is the local participant of the mesh. It composes the host, the DHT
// and optional mDNS discovery, and answers remote requests for the names
// bound in its registry.
type Node struct {
	config   *ClusterConfig
	ident    *identity.Identity
	host     *network.Host
	dht      *dht.DHT
	dir      Directory
	registry *core.Registry
	cache    *lru.Cache
	mdns     *discovery.Service

	mu        sync.Mutex
	state     NodeState
	changed   chan struct{}
	listeners []func(ClusterEvent)

	started  atomic.Bool
	closing  atomic.Bool
	refusing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node for ident. It does not listen until Start.
func NewNode(ident *identity.Identity, config *ClusterConfig) (*Node, error) {
	if config == nil {
		config = DefaultClusterConfig()
	}
	def := DefaultClusterConfig()
	if config.CacheSize <= 0 {
		config.CacheSize = def.CacheSize
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	host, err := network.NewHost(ident, network.HostConfig{
		ListenAddrs:      config.ListenAddrs,
		DialTimeout:      config.DialTimeout,
		HandshakeTimeout: config.HandshakeTimeout,
	})
	if err != nil {
		return nil, err
	}
	d, err := dht.New(host, config.DHT)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(config.CacheSize)
	if err != nil {
		return nil, cerrors.Trace(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   config,
		ident:    ident,
		host:     host,
		dht:      d,
		dir:      d,
		registry: core.NewRegistry(),
		cache:    cache,
		state:    NodeStateBootstrapping,
		changed:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	host.SetStreamHandler(RemoteProtocol, n.handleRemote)
	host.Notify(network.NotifyFuncs{
		OnConnected:    n.peerConnected,
		OnDisconnected: n.peerDisconnected,
	})
	nodeStateGauge.Set(float64(NodeStateBootstrapping))
	return n, nil
}

// Start listens, starts mDNS when enabled and dials the bootstrap peers in
// the background.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return cerrors.ErrNodeStarted.GenWithStackByArgs()
	}
	if n.closing.Load() {
		return cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}
	if err := n.host.Start(); err != nil {
		return err
	}
	if n.config.EnableMDNS {
		if err := n.startMDNS(); err != nil {
			log.Warn("mdns disabled", zap.Error(err))
		}
	}

	var peers []network.PeerInfo
	for _, s := range n.config.BootstrapPeers {
		info, err := network.ParsePeerAddr(s)
		if err != nil {
			log.Warn("ignoring bootstrap peer", zap.String("addr", s), zap.Error(err))
			continue
		}
		peers = append(peers, info)
	}
	for _, info := range peers {
		n.wg.Add(1)
		go n.dialBootstrapPeer(info)
	}

	log.Info("node started",
		zap.Stringer("peer", n.ID()),
		zap.Strings("addrs", n.host.Addrs()),
		zap.Int("bootstrapPeers", len(peers)))
	return nil
}

func (n *Node) startMDNS() error {
	conn, group, err := discovery.ListenMulticast()
	if err != nil {
		return err
	}
	svc, err := discovery.NewService(conn, group, discovery.Config{
		ServiceName: n.config.MDNSServiceName,
		Interval:    n.config.AnnounceInterval,
	}, n.host.Info, n.peerDiscovered)
	if err != nil {
		_ = conn.Close()
		return err
	}
	n.mdns = svc
	svc.Start()
	return nil
}

// peerDiscovered connects to a peer heard on the local segment.
func (n *Node) peerDiscovered(info network.PeerInfo) {
	if n.closing.Load() || n.host.IsConnected(info.ID) {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, n.config.DialTimeout)
		defer cancel()
		if err := n.host.Connect(ctx, info); err != nil {
			log.Debug("connect to discovered peer failed", zap.Stringer("peer", info.ID), zap.Error(err))
		}
	}()
}

func (n *Node) dialBootstrapPeer(info network.PeerInfo) {
	defer n.wg.Done()

	var policy backoff.BackOff = backoff.NewExponentialBackOff()
	if n.config.BootstrapRetries > 0 {
		policy = backoff.WithMaxRetries(policy, n.config.BootstrapRetries)
	}
	policy = backoff.WithContext(policy, n.ctx)

	err := backoff.RetryNotify(func() error {
		err := n.host.Connect(n.ctx, info)
		if cerrors.ErrPeerMismatch.Equal(cerrors.Cause(err)) || cerrors.ErrNodeShutdown.Equal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		log.Info("bootstrap dial failed, retrying",
			zap.String("peer", info.String()), zap.Duration("next", next), zap.Error(err))
	})
	if err != nil && !n.closing.Load() {
		log.Warn("giving up on bootstrap peer", zap.String("peer", info.String()), zap.Error(err))
	}
}

func (n *Node) peerConnected(p identity.PeerID) {
	n.publish(ClusterEvent{Type: EventPeerConnected, Peer: p})
	if n.closing.Load() {
		return
	}
	if n.transition(NodeStateConnected, NodeStateBootstrapping, NodeStatePartitioned) {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(n.ctx, n.config.RequestTimeout)
			defer cancel()
			if err := n.dht.Bootstrap(ctx); err != nil {
				log.Debug("dht bootstrap failed", zap.Error(err))
			}
		}()
	}
}

func (n *Node) peerDisconnected(p identity.PeerID) {
	n.publish(ClusterEvent{Type: EventPeerDisconnected, Peer: p})
	if len(n.host.Peers()) == 0 {
		n.transition(NodeStatePartitioned, NodeStateConnected)
	}
}

// transition moves to next when the current state is one of from.
func (n *Node) transition(next NodeState, from ...NodeState) bool {
	n.mu.Lock()
	cur := n.state
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		n.mu.Unlock()
		return false
	}
	n.state = next
	close(n.changed)
	n.changed = make(chan struct{})
	n.mu.Unlock()

	nodeStateGauge.Set(float64(next))
	log.Info("node state changed", zap.Stringer("from", cur), zap.Stringer("to", next))
	n.publish(ClusterEvent{Type: EventStateChanged, State: next})
	return true
}

// AddEventListener adds an event listener. Listeners run synchronously and
// must not block.
func (n *Node) AddEventListener(listener func(ClusterEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
}

func (n *Node) publish(event ClusterEvent) {
	event.Timestamp = time.Now()
	n.mu.Lock()
	if event.Type != EventStateChanged {
		event.State = n.state
	}
	listeners := append(([]func(ClusterEvent))(nil), n.listeners...)
	n.mu.Unlock()
	for _, l := range listeners {
		l(event)
	}
}

// State returns the participation state.
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// WaitConnected blocks until the node is Connected.
func (n *Node) WaitConnected(ctx context.Context) error {
	for {
		n.mu.Lock()
		state, changed := n.state, n.changed
		n.mu.Unlock()
		switch state {
		case NodeStateConnected:
			return nil
		case NodeStateShutdown:
			return cerrors.ErrNodeShutdown.GenWithStackByArgs()
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return cerrors.Trace(ctx.Err())
		}
	}
}

// ID returns the local peer id.
func (n *Node) ID() identity.PeerID { return n.ident.ID() }

// Host returns the underlying host.
func (n *Node) Host() *network.Host { return n.host }

// DHT returns the distributed directory.
func (n *Node) DHT() *dht.DHT { return n.dht }

// Registry returns the local name table remote requests are served from.
func (n *Node) Registry() *core.Registry { return n.registry }

// Info returns the local PeerInfo, usable as a bootstrap address.
func (n *Node) Info() network.PeerInfo { return n.host.Info() }

// Connect dials a peer directly.
func (n *Node) Connect(ctx context.Context, info network.PeerInfo) error {
	return n.host.Connect(ctx, info)
}

// RefuseRegistrations makes further Register calls fail with
// ErrNodeShutdown while remote requests are still served.
func (n *Node) RefuseRegistrations() {
	n.refusing.Store(true)
}

// Close stops accepting registrations and remote requests, closes every
// connection and waits for background work.
func (n *Node) Close() error {
	if !n.closing.CompareAndSwap(false, true) {
		return nil
	}
	n.transition(NodeStateShutdown, NodeStateBootstrapping, NodeStateConnected, NodeStatePartitioned)
	n.cancel()

	var err error
	if n.mdns != nil {
		err = multierr.Append(err, n.mdns.Close())
	}
	err = multierr.Append(err, n.host.Close())
	n.wg.Wait()
	log.Info("node closed", zap.Stringer("peer", n.ID()))
	return err
}
