// Package cluster joins the local actor runtime to the peer network: it owns
// the node participation state machine, publishes named registrations in the
// DHT and carries tell/ask requests to the peer that owns a name.
package cluster

import (
	"context"
	"time"

	"github.com/najoast/actormesh/dht"
	"github.com/najoast/actormesh/identity"
)

// NodeState is the participation state of the local node.
type NodeState int

const (
	// NodeStateBootstrapping: no live peer connection yet.
	NodeStateBootstrapping NodeState = iota
	NodeStateConnected
	// NodeStatePartitioned: every connection was lost after being connected.
	NodeStatePartitioned
	NodeStateShutdown
)

// String returns the string representation of NodeState
func (ns NodeState) String() string {
	switch ns {
	case NodeStateBootstrapping:
		return "bootstrapping"
	case NodeStateConnected:
		return "connected"
	case NodeStatePartitioned:
		return "partitioned"
	case NodeStateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// ClusterEventType represents the type of cluster event
type ClusterEventType string

const (
	EventPeerConnected    ClusterEventType = "peer_connected"
	EventPeerDisconnected ClusterEventType = "peer_disconnected"
	EventStateChanged     ClusterEventType = "state_changed"
)

// ClusterEvent represents an event in the cluster
type ClusterEvent struct {
	Type      ClusterEventType
	Peer      identity.PeerID
	State     NodeState
	Timestamp time.Time
}

// Kind selects the send pattern of a remote request.
type Kind uint8

const (
	KindTell Kind = iota + 1
	KindAsk
)

func (k Kind) String() string {
	switch k {
	case KindTell:
		return "tell"
	case KindAsk:
		return "ask"
	default:
		return "unknown"
	}
}

// Directory is the eventually consistent key-value service names are
// published in. Get returns the newest value it can find.
type Directory interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (*dht.Record, error)
}

// Registration binds a name to the peer that owns it.
type Registration struct {
	Name      string          `msgpack:"name"`
	Peer      identity.PeerID `msgpack:"peer"`
	Addrs     []string        `msgpack:"addrs"`
	Timestamp int64           `msgpack:"ts"`
}

// ClusterConfig configures a Node.
type ClusterConfig struct {
	// ListenAddrs such as "quic://0.0.0.0:4001".
	ListenAddrs []string
	// BootstrapPeers such as "tcp://10.0.0.2:4001/pk:<hex>".
	BootstrapPeers   []string
	BootstrapRetries uint64
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// RequestTimeout bounds remote requests whose ctx has no deadline.
	RequestTimeout time.Duration

	EnableMDNS       bool
	MDNSServiceName  string
	AnnounceInterval time.Duration

	DHT dht.Config
	// CacheSize bounds the name resolution cache.
	CacheSize int
}

// DefaultClusterConfig returns a configuration listening on QUIC and TCP on
// all interfaces with mDNS enabled.
func DefaultClusterConfig() *ClusterConfig {
	return &ClusterConfig{
		ListenAddrs:      []string{"quic://0.0.0.0:0", "tcp://0.0.0.0:0"},
		BootstrapRetries: 10,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   10 * time.Second,
		EnableMDNS:       true,
		AnnounceInterval: 10 * time.Second,
		DHT:              dht.DefaultConfig(),
		CacheSize:        1024,
	}
}
