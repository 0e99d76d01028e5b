package dht

import (
	"sort"
	"sync"

	"github.com/edwingeng/deque"
	"github.com/najoast/actormesh/identity"
)

const numBuckets = KeySize * 8

// RoutingTable keeps up to k peers per bucket, one bucket per shared prefix
// length with the local key. Within a bucket the front is the least
// recently seen peer.
type RoutingTable struct {
	self    Key
	k       int
	isAlive func(identity.PeerID) bool

	mu      sync.Mutex
	buckets [numBuckets]deque.Deque
}

// NewRoutingTable creates a table for self. isAlive decides whether the
// least recently seen peer of a full bucket may be evicted.
func NewRoutingTable(self identity.PeerID, k int, isAlive func(identity.PeerID) bool) *RoutingTable {
	rt := &RoutingTable{self: PeerKey(self), k: k, isAlive: isAlive}
	for i := range rt.buckets {
		rt.buckets[i] = deque.NewDeque()
	}
	return rt
}

func (rt *RoutingTable) bucketFor(p identity.PeerID) (deque.Deque, bool) {
	cpl := commonPrefixLen(rt.self, PeerKey(p))
	if cpl >= numBuckets {
		return nil, false
	}
	return rt.buckets[cpl], true
}

// take removes p from b and reports whether it was present.
func take(b deque.Deque, p identity.PeerID) bool {
	found := false
	for i, n := 0, b.Len(); i < n; i++ {
		v := b.PopFront().(identity.PeerID)
		if v == p {
			found = true
			continue
		}
		b.PushBack(v)
	}
	return found
}

// Update marks p as seen. It returns false when p was not added because
// its bucket is full of live peers.
func (rt *RoutingTable) Update(p identity.PeerID) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	b, ok := rt.bucketFor(p)
	if !ok {
		return false
	}
	if take(b, p) || b.Len() < rt.k {
		b.PushBack(p)
		return true
	}
	oldest := b.Front().(identity.PeerID)
	if rt.isAlive != nil && rt.isAlive(oldest) {
		return false
	}
	b.PopFront()
	b.PushBack(p)
	return true
}

// Remove drops p.
func (rt *RoutingTable) Remove(p identity.PeerID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if b, ok := rt.bucketFor(p); ok {
		take(b, p)
	}
}

// Size returns the number of peers in the table.
func (rt *RoutingTable) Size() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	n := 0
	for _, b := range rt.buckets {
		n += b.Len()
	}
	return n
}

// Peers returns every peer in the table.
func (rt *RoutingTable) Peers() []identity.PeerID {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var out []identity.PeerID
	for _, b := range rt.buckets {
		for i, n := 0, b.Len(); i < n; i++ {
			v := b.PopFront()
			out = append(out, v.(identity.PeerID))
			b.PushBack(v)
		}
	}
	return out
}

// NearestPeers returns up to count peers ordered by distance to target.
func (rt *RoutingTable) NearestPeers(target Key, count int) []identity.PeerID {
	peers := rt.Peers()
	sortByDistance(target, peers)
	if len(peers) > count {
		peers = peers[:count]
	}
	return peers
}

func sortByDistance(target Key, peers []identity.PeerID) {
	sort.Slice(peers, func(i, j int) bool {
		return closer(target, PeerKey(peers[i]), PeerKey(peers[j]))
	})
}
