package network

import (
	"sync"
	"time"

	"github.com/najoast/actormesh/identity"
	"go.uber.org/multierr"
)

// connectionManager tracks live connections per peer. A peer may briefly
// hold several connections after simultaneous dials; streams use the oldest.
type connectionManager struct {
	mu    sync.RWMutex
	peers map[identity.PeerID][]Conn

	totalConnections int64
	startTime        time.Time
}

func newConnectionManager() *connectionManager {
	return &connectionManager{
		peers:     make(map[identity.PeerID][]Conn),
		startTime: time.Now(),
	}
}

// add registers conn and reports whether it is the first for its peer.
func (cm *connectionManager) add(conn Conn) (first bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	peer := conn.RemotePeer()
	first = len(cm.peers[peer]) == 0
	cm.peers[peer] = append(cm.peers[peer], conn)
	cm.totalConnections++
	return first
}

// remove drops conn. last reports whether its peer has no connection left.
func (cm *connectionManager) remove(conn Conn) (removed, last bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	peer := conn.RemotePeer()
	conns := cm.peers[peer]
	for i, c := range conns {
		if c == conn {
			conns = append(conns[:i:i], conns[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false, false
	}
	if len(conns) == 0 {
		delete(cm.peers, peer)
		return true, true
	}
	cm.peers[peer] = conns
	return true, false
}

func (cm *connectionManager) get(peer identity.PeerID) (Conn, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	conns := cm.peers[peer]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[0], true
}

func (cm *connectionManager) connectedPeers() []identity.PeerID {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]identity.PeerID, 0, len(cm.peers))
	for p := range cm.peers {
		out = append(out, p)
	}
	return out
}

func (cm *connectionManager) count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	n := 0
	for _, conns := range cm.peers {
		n += len(conns)
	}
	return n
}

// closeAll closes every connection and collects the errors.
func (cm *connectionManager) closeAll() error {
	cm.mu.RLock()
	var all []Conn
	for _, conns := range cm.peers {
		all = append(all, conns...)
	}
	cm.mu.RUnlock()

	var err error
	for _, c := range all {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// ConnectionStatistics summarises the connection table.
type ConnectionStatistics struct {
	Peers            int
	Connections      int
	TotalConnections int64
	Uptime           time.Duration
}

func (cm *connectionManager) statistics() ConnectionStatistics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStatistics{
		Peers:            len(cm.peers),
		TotalConnections: cm.totalConnections,
		Uptime:           time.Since(cm.startTime),
	}
	for _, conns := range cm.peers {
		stats.Connections += len(conns)
	}
	return stats
}
