// Package dht implements a Kademlia style distributed directory over the
// network Host: a routing table of peers ordered by XOR distance, an
// expiring record store, and iterative lookups used by Put and Get.
package dht

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/network"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Protocol is the stream protocol id of DHT RPCs.
const Protocol = "/actormesh/kad/1"

// Config tunes the DHT.
type Config struct {
	K              int
	Alpha          int
	RecordTTL      time.Duration
	MaxRecords     int
	RequestTimeout time.Duration
}

// DefaultConfig returns the standard Kademlia parameters.
func DefaultConfig() Config {
	return Config{
		K:              20,
		Alpha:          3,
		RecordTTL:      time.Hour,
		MaxRecords:     4096,
		RequestTimeout: 5 * time.Second,
	}
}

// DHT is one node of the distributed directory.
type DHT struct {
	host  *network.Host
	cfg   Config
	rt    *RoutingTable
	store *recordStore
}

// New attaches a DHT to host. Connected peers join the routing table and
// disconnected ones leave it.
func New(host *network.Host, cfg Config) (*DHT, error) {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = def.RecordTTL
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = def.MaxRecords
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	store, err := newRecordStore(cfg.MaxRecords, cfg.RecordTTL)
	if err != nil {
		return nil, err
	}
	d := &DHT{
		host:  host,
		cfg:   cfg,
		rt:    NewRoutingTable(host.ID(), cfg.K, host.IsConnected),
		store: store,
	}
	host.SetStreamHandler(Protocol, d.handleStream)
	host.Notify(network.NotifyFuncs{
		OnConnected: func(p identity.PeerID) {
			d.rt.Update(p)
			routingTableSize.Set(float64(d.rt.Size()))
		},
		OnDisconnected: func(p identity.PeerID) {
			d.rt.Remove(p)
			routingTableSize.Set(float64(d.rt.Size()))
		},
	})
	return d, nil
}

// RoutingTable exposes the routing table.
func (d *DHT) RoutingTable() *RoutingTable {
	return d.rt
}

// Bootstrap looks up the local key so the routing table learns the peers
// around this node.
func (d *DHT) Bootstrap(ctx context.Context) error {
	_, err := d.closestPeers(ctx, PeerKey(d.host.ID()))
	return err
}

// Put stores the record locally and on the K peers closest to key. It
// succeeds when at least one remote peer accepted it.
func (d *DHT) Put(ctx context.Context, key string, value []byte) error {
	rec := &Record{
		Key:       key,
		Value:     value,
		Publisher: d.host.ID(),
		Timestamp: time.Now().UnixNano(),
	}
	d.store.put(rec)
	recordsGauge.Set(float64(d.store.len()))

	peers, err := d.closestPeers(ctx, KeyFor(key))
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		accepted int
		errs     error
	)
	for _, p := range peers {
		wg.Add(1)
		go func(p identity.PeerID) {
			defer wg.Done()
			_, err := d.call(ctx, p, &message{Type: msgPutValue, Record: rec})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return
			}
			accepted++
		}(p)
	}
	wg.Wait()

	if accepted == 0 {
		err := cerrors.ErrNoPeers.GenWithStackByArgs()
		if errs != nil {
			err = cerrors.Annotate(err, errs.Error())
		}
		return err
	}
	log.Debug("dht record published", zap.String("key", key), zap.Int("replicas", accepted))
	return nil
}

// Get returns the newest record stored under key, locally or on the
// peers closest to it.
func (d *DHT) Get(ctx context.Context, key string) (*Record, error) {
	best := d.store.get(key)
	if d.rt.Size() == 0 {
		if best != nil {
			return best, nil
		}
		return nil, cerrors.ErrNoPeers.GenWithStackByArgs()
	}

	var mu sync.Mutex
	_, err := d.lookup(ctx, KeyFor(key), func(ctx context.Context, p identity.PeerID) (*message, error) {
		resp, err := d.call(ctx, p, &message{Type: msgGetValue, Key: keyBytes(KeyFor(key)), Name: key})
		if err == nil && resp.Record != nil && resp.Record.Key == key {
			mu.Lock()
			if resp.Record.newer(best) {
				best = resp.Record
			}
			mu.Unlock()
		}
		return resp, err
	})
	if err != nil && best == nil {
		return nil, err
	}
	if best == nil {
		return nil, cerrors.ErrRecordNotFound.GenWithStackByArgs(key)
	}
	if d.store.put(best) {
		recordsGauge.Set(float64(d.store.len()))
	}
	return best, nil
}

func keyBytes(k Key) []byte {
	return append([]byte(nil), k[:]...)
}

// closestPeers runs a FIND_NODE lookup for target.
func (d *DHT) closestPeers(ctx context.Context, target Key) ([]identity.PeerID, error) {
	return d.lookup(ctx, target, func(ctx context.Context, p identity.PeerID) (*message, error) {
		return d.call(ctx, p, &message{Type: msgFindNode, Key: keyBytes(target)})
	})
}

type lookupState struct {
	queried   bool
	responded bool
}

// lookup iteratively queries the alpha closest unqueried candidates until
// the K closest known peers have all been asked. It returns the closest
// peers that answered.
func (d *DHT) lookup(ctx context.Context, target Key, query func(context.Context, identity.PeerID) (*message, error)) ([]identity.PeerID, error) {
	seeds := d.rt.NearestPeers(target, d.cfg.K)
	if len(seeds) == 0 {
		return nil, cerrors.ErrNoPeers.GenWithStackByArgs()
	}

	self := d.host.ID()
	states := make(map[identity.PeerID]*lookupState)
	var candidates []identity.PeerID
	addCandidate := func(p identity.PeerID) {
		if p == self {
			return
		}
		if _, ok := states[p]; ok {
			return
		}
		states[p] = &lookupState{}
		candidates = append(candidates, p)
	}
	for _, p := range seeds {
		addCandidate(p)
	}

	type answer struct {
		peer identity.PeerID
		resp *message
		err  error
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, cerrors.Trace(err)
		}
		sortByDistance(target, candidates)
		var batch []identity.PeerID
		for i := 0; i < len(candidates) && i < d.cfg.K && len(batch) < d.cfg.Alpha; i++ {
			if st := states[candidates[i]]; !st.queried {
				st.queried = true
				batch = append(batch, candidates[i])
			}
		}
		if len(batch) == 0 {
			break
		}

		answers := make(chan answer, len(batch))
		for _, p := range batch {
			go func(p identity.PeerID) {
				resp, err := query(ctx, p)
				answers <- answer{peer: p, resp: resp, err: err}
			}(p)
		}
		for range batch {
			a := <-answers
			if a.err != nil {
				log.Debug("dht query failed", zap.Stringer("peer", a.peer), zap.Error(a.err))
				continue
			}
			states[a.peer].responded = true
			for _, info := range a.resp.Closer {
				d.host.AddAddrs(info.ID, info.Addrs...)
				addCandidate(info.ID)
			}
		}
	}

	var out []identity.PeerID
	for _, p := range candidates {
		if states[p].responded {
			out = append(out, p)
			if len(out) == d.cfg.K {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, cerrors.ErrNoPeers.GenWithStackByArgs()
	}
	return out, nil
}

// call performs one RPC on a fresh stream.
func (d *DHT) call(ctx context.Context, p identity.PeerID, req *message) (*message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	resp, err := d.roundTrip(ctx, p, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	rpcCounter.WithLabelValues(req.Type.String(), result).Inc()
	return resp, err
}

func (d *DHT) roundTrip(ctx context.Context, p identity.PeerID, req *message) (*message, error) {
	s, err := d.host.NewStream(ctx, p, Protocol)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	req.From = d.host.Info()
	if err := s.WriteMsg(req); err != nil {
		return nil, err
	}
	resp := &message{}
	if err := s.ReadMsg(resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, cerrors.Errorf("dht %s on %s: %s", req.Type, p.ShortString(), resp.Error)
	}
	return resp, nil
}

func (d *DHT) handleStream(_ context.Context, s *network.Stream) {
	defer s.Close()
	_ = s.SetDeadline(time.Now().Add(d.cfg.RequestTimeout))

	req := &message{}
	if err := s.ReadMsg(req); err != nil {
		log.Debug("dht read request failed", zap.Stringer("peer", s.Peer()), zap.Error(err))
		return
	}
	if req.From.ID == s.Peer() {
		d.host.AddAddrs(req.From.ID, req.From.Addrs...)
	}
	d.rt.Update(s.Peer())

	resp := d.handleRequest(s.Peer(), req)
	if err := s.WriteMsg(resp); err != nil {
		log.Debug("dht write response failed", zap.Stringer("peer", s.Peer()), zap.Error(err))
	}
}

func (d *DHT) handleRequest(from identity.PeerID, req *message) *message {
	resp := &message{Type: req.Type}
	switch req.Type {
	case msgPing:
	case msgFindNode:
		target, ok := keyFromBytes(req.Key)
		if !ok {
			resp.Error = "malformed key"
			break
		}
		resp.Closer = d.closerInfos(target, from)
	case msgGetValue:
		target, ok := keyFromBytes(req.Key)
		if !ok {
			resp.Error = "malformed key"
			break
		}
		resp.Record = d.store.get(req.Name)
		resp.Closer = d.closerInfos(target, from)
	case msgPutValue:
		if req.Record == nil || req.Record.Key == "" {
			resp.Error = "missing record"
			break
		}
		// records are only replicated by their publisher
		if req.Record.Publisher != from {
			resp.Error = "record publisher is not the sender"
			break
		}
		if d.store.put(req.Record) {
			recordsGauge.Set(float64(d.store.len()))
		}
	default:
		resp.Error = "unknown request type"
	}
	return resp
}

// closerInfos returns the K peers closest to target with their addresses,
// excluding the requester.
func (d *DHT) closerInfos(target Key, requester identity.PeerID) []network.PeerInfo {
	peers := d.rt.NearestPeers(target, d.cfg.K+1)
	out := make([]network.PeerInfo, 0, len(peers))
	for _, p := range peers {
		if p == requester {
			continue
		}
		info := d.host.PeerInfo(p)
		if len(info.Addrs) == 0 {
			continue
		}
		out = append(out, info)
		if len(out) == d.cfg.K {
			break
		}
	}
	return out
}

// Ping checks that p answers DHT requests.
func (d *DHT) Ping(ctx context.Context, p identity.PeerID) error {
	_, err := d.call(ctx, p, &message{Type: msgPing})
	return err
}
