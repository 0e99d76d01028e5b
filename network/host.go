package network

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// IdentifyProtocol carries the listen addresses of a newly connected peer.
	IdentifyProtocol = "/actormesh/id/1"

	negotiateTimeout = 10 * time.Second
	protoAccepted    = 1
	protoRejected    = 0
)

// HostConfig configures a Host.
type HostConfig struct {
	// ListenAddrs such as "quic://0.0.0.0:4001" and "tcp://0.0.0.0:4001".
	ListenAddrs      []string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
}

// Stream is a protocol-tagged stream to a known peer.
type Stream struct {
	RawStream
	peer     identity.PeerID
	protocol string
	stop     func() bool
}

// Peer returns the remote peer.
func (s *Stream) Peer() identity.PeerID { return s.peer }

// Protocol returns the negotiated protocol id.
func (s *Stream) Protocol() string { return s.protocol }

// WriteMsg writes v as one msgpack frame.
func (s *Stream) WriteMsg(v any) error { return WriteMsg(s, v) }

// ReadMsg reads one msgpack frame into v.
func (s *Stream) ReadMsg(v any) error { return ReadMsg(s, v) }

// Close releases the stream.
func (s *Stream) Close() error {
	if s.stop != nil {
		s.stop()
	}
	return s.RawStream.Close()
}

// Host is the swarm of one peer: it listens on every configured transport,
// keeps the connections to other peers and routes inbound streams to the
// handler registered for their protocol.
type Host struct {
	self       *identity.Identity
	cfg        HostConfig
	transports map[string]Transport
	conns      *connectionManager
	dials      singleflight.Group

	mu        sync.RWMutex
	listeners []Listener
	handlers  map[string]StreamHandler
	notifiees []Notifiee
	book      map[identity.PeerID][]string

	// notifyMu orders Connected/Disconnected for the same peer.
	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewHost creates a host with the TCP and QUIC transports.
func NewHost(self *identity.Identity, cfg HostConfig) (*Host, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	q, err := NewQUICTransport(self)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		self: self,
		cfg:  cfg,
		transports: map[string]Transport{
			SchemeTCP:  NewTCPTransport(self, cfg.HandshakeTimeout),
			SchemeQUIC: q,
		},
		conns:    newConnectionManager(),
		handlers: make(map[string]StreamHandler),
		book:     make(map[identity.PeerID][]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.SetStreamHandler(IdentifyProtocol, h.handleIdentify)
	return h, nil
}

// Start opens every listen address. Either all listeners start or none.
func (h *Host) Start() error {
	var started []Listener
	for _, s := range h.cfg.ListenAddrs {
		a, err := ParseAddr(s)
		if err != nil {
			return multierr.Append(err, closeListeners(started))
		}
		ln, err := h.transports[a.Scheme].Listen(a.HostPort)
		if err != nil {
			return multierr.Append(err, closeListeners(started))
		}
		started = append(started, ln)
	}

	// closed is checked under mu so no goroutine is added once Close waits
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return multierr.Append(cerrors.ErrNodeShutdown.GenWithStackByArgs(), closeListeners(started))
	}
	h.listeners = append(h.listeners, started...)
	h.wg.Add(len(started))
	h.mu.Unlock()
	for _, ln := range started {
		go h.acceptLoop(ln)
		log.Info("host listening", zap.String("addr", ln.Addr()), zap.Stringer("peer", h.ID()))
	}
	return nil
}

func closeListeners(lns []Listener) error {
	var err error
	for _, ln := range lns {
		err = multierr.Append(err, ln.Close())
	}
	return err
}

// ID returns the local peer id.
func (h *Host) ID() identity.PeerID {
	return h.self.ID()
}

// Addrs returns the advertised listen addresses.
func (h *Host) Addrs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []string
	for _, ln := range h.listeners {
		out = append(out, expandUnspecified(ln.Addr())...)
	}
	return out
}

// Info returns the local PeerInfo.
func (h *Host) Info() PeerInfo {
	return PeerInfo{ID: h.ID(), Addrs: h.Addrs()}
}

// SetStreamHandler registers the handler for inbound streams of protocol.
func (h *Host) SetStreamHandler(protocol string, handler StreamHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[protocol] = handler
}

// Notify subscribes n to peer connect and disconnect events.
func (h *Host) Notify(n Notifiee) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifiees = append(h.notifiees, n)
}

// AddAddrs records known addresses of peer.
func (h *Host) AddAddrs(peer identity.PeerID, addrs ...string) {
	if peer == h.ID() || len(addrs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.book[peer] = mergeAddrs(h.book[peer], addrs...)
}

// PeerInfo returns what the host knows about peer.
func (h *Host) PeerInfo(peer identity.PeerID) PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return PeerInfo{ID: peer, Addrs: append([]string(nil), h.book[peer]...)}
}

// Peers returns the currently connected peers.
func (h *Host) Peers() []identity.PeerID {
	return h.conns.connectedPeers()
}

// IsConnected reports whether a live connection to peer exists.
func (h *Host) IsConnected(peer identity.PeerID) bool {
	_, ok := h.conns.get(peer)
	return ok
}

// Statistics reports the connection table.
func (h *Host) Statistics() ConnectionStatistics {
	return h.conns.statistics()
}

// Connect ensures a connection to info.ID, dialing its addresses with QUIC
// preferred over TCP.
func (h *Host) Connect(ctx context.Context, info PeerInfo) error {
	if h.closed.Load() {
		return cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}
	if info.ID == h.ID() {
		return cerrors.Errorf("cannot dial self")
	}
	h.AddAddrs(info.ID, info.Addrs...)
	if h.IsConnected(info.ID) {
		return nil
	}
	_, err, _ := h.dials.Do(info.ID.String(), func() (interface{}, error) {
		if h.IsConnected(info.ID) {
			return nil, nil
		}
		return nil, h.dial(ctx, info.ID)
	})
	return err
}

func (h *Host) dial(ctx context.Context, peer identity.PeerID) error {
	addrs := sortForDial(h.PeerInfo(peer).Addrs, h.transports)
	if len(addrs) == 0 {
		return cerrors.ErrPeerUnreachable.GenWithStackByArgs(peer.ShortString())
	}
	var errs error
	for _, a := range addrs {
		dctx, cancel := context.WithTimeout(ctx, h.cfg.DialTimeout)
		c, err := h.transports[a.Scheme].Dial(dctx, a.HostPort, peer)
		cancel()
		if err != nil {
			dialCounter.WithLabelValues(a.Scheme, "error").Inc()
			log.Debug("dial failed", zap.String("addr", a.String()), zap.Error(err))
			if cerrors.ErrPeerMismatch.Equal(cerrors.Cause(err)) {
				return err
			}
			errs = multierr.Append(errs, err)
			continue
		}
		dialCounter.WithLabelValues(a.Scheme, "ok").Inc()
		if !h.addConn(c) {
			return cerrors.ErrNodeShutdown.GenWithStackByArgs()
		}
		return nil
	}
	return cerrors.Annotate(cerrors.ErrPeerUnreachable.GenWithStackByArgs(peer.ShortString()), errs.Error())
}

// NewStream opens a stream speaking protocol to peer, connecting first when
// needed. The stream is bound to ctx: cancelling ctx unblocks its reads and
// writes.
func (h *Host) NewStream(ctx context.Context, peer identity.PeerID, protocol string) (*Stream, error) {
	if h.closed.Load() {
		return nil, cerrors.ErrNodeShutdown.GenWithStackByArgs()
	}
	conn, ok := h.conns.get(peer)
	if !ok {
		if err := h.Connect(ctx, h.PeerInfo(peer)); err != nil {
			return nil, err
		}
		if conn, ok = h.conns.get(peer); !ok {
			return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(peer.ShortString())
		}
	}
	return h.openOn(ctx, conn, protocol)
}

func (h *Host) openOn(ctx context.Context, conn Conn, protocol string) (*Stream, error) {
	raw, err := conn.OpenStream(ctx)
	if err != nil {
		return nil, cerrors.ErrPeerUnreachable.GenWithStackByArgs(conn.RemotePeer().ShortString() + ": " + err.Error())
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Now()) })
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	s := &Stream{RawStream: raw, peer: conn.RemotePeer(), protocol: protocol, stop: stop}

	if err := WriteFrame(raw, []byte(protocol)); err != nil {
		_ = s.Close()
		return nil, err
	}
	ack, err := ReadFrame(raw)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if len(ack) != 1 || ack[0] != protoAccepted {
		_ = s.Close()
		return nil, cerrors.ErrUnknownProtocol.GenWithStackByArgs(protocol)
	}
	streamCounter.WithLabelValues(protocol, "outbound").Inc()
	return s, nil
}

// ClosePeer closes every connection to peer.
func (h *Host) ClosePeer(peer identity.PeerID) error {
	var err error
	for {
		c, ok := h.conns.get(peer)
		if !ok {
			return err
		}
		err = multierr.Append(err, c.Close())
		h.dropConn(c)
	}
}

// Close stops listening, closes every connection and waits for the
// connection and handler goroutines.
func (h *Host) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()

	h.mu.Lock()
	lns := h.listeners
	h.listeners = nil
	h.mu.Unlock()

	err := closeListeners(lns)
	err = multierr.Append(err, h.conns.closeAll())
	h.wg.Wait()
	log.Info("host closed", zap.Stringer("peer", h.ID()))
	return err
}

func (h *Host) acceptLoop(ln Listener) {
	defer h.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if !h.closed.Load() {
				log.Warn("listener stopped", zap.String("addr", ln.Addr()), zap.Error(err))
			}
			return
		}
		h.addConn(c)
	}
}

// addConn takes over c and serves it. It returns false, closing c, once the
// host is closed.
func (h *Host) addConn(c Conn) bool {
	h.notifyMu.Lock()
	// Close sets closed before taking mu and closes the table after it, so c
	// is either rejected here or closed and waited for by Close.
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		h.notifyMu.Unlock()
		_ = c.Close()
		return false
	}
	h.wg.Add(2)
	first := h.conns.add(c)
	h.mu.Unlock()

	connectionsGauge.WithLabelValues(c.Scheme()).Inc()
	log.Info("peer connection established",
		zap.Stringer("peer", c.RemotePeer()),
		zap.String("addr", c.RemoteAddr()),
		zap.Bool("outbound", c.Outbound()))
	if first {
		for _, n := range h.notifieeList() {
			n.Connected(c.RemotePeer())
		}
	}
	h.notifyMu.Unlock()

	go h.serveConn(c)
	go h.sendIdentify(c)
	return true
}

func (h *Host) dropConn(c Conn) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()

	removed, last := h.conns.remove(c)
	if !removed {
		return
	}
	connectionsGauge.WithLabelValues(c.Scheme()).Dec()
	log.Info("peer connection closed", zap.Stringer("peer", c.RemotePeer()))
	if last {
		for _, n := range h.notifieeList() {
			n.Disconnected(c.RemotePeer())
		}
	}
}

func (h *Host) notifieeList() []Notifiee {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Notifiee(nil), h.notifiees...)
}

func (h *Host) serveConn(c Conn) {
	defer h.wg.Done()
	for {
		raw, err := c.AcceptStream()
		if err != nil {
			break
		}
		h.wg.Add(1)
		go h.handleStream(c, raw)
	}
	_ = c.Close()
	h.dropConn(c)
}

func (h *Host) handleStream(c Conn, raw RawStream) {
	defer h.wg.Done()

	_ = raw.SetDeadline(time.Now().Add(negotiateTimeout))
	proto, err := ReadFrame(raw)
	if err != nil {
		_ = raw.Close()
		return
	}
	protocol := string(proto)
	h.mu.RLock()
	handler := h.handlers[protocol]
	h.mu.RUnlock()
	if handler == nil {
		log.Debug("rejecting stream", zap.String("protocol", protocol), zap.Stringer("peer", c.RemotePeer()))
		_ = WriteFrame(raw, []byte{protoRejected})
		_ = raw.Close()
		return
	}
	if err := WriteFrame(raw, []byte{protoAccepted}); err != nil {
		_ = raw.Close()
		return
	}
	_ = raw.SetDeadline(time.Time{})
	streamCounter.WithLabelValues(protocol, "inbound").Inc()
	handler(h.ctx, &Stream{RawStream: raw, peer: c.RemotePeer(), protocol: protocol})
}

func (h *Host) sendIdentify(c Conn) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(h.ctx, negotiateTimeout)
	defer cancel()
	s, err := h.openOn(ctx, c, IdentifyProtocol)
	if err != nil {
		log.Debug("identify failed", zap.Stringer("peer", c.RemotePeer()), zap.Error(err))
		return
	}
	defer s.Close()
	if err := s.WriteMsg(h.Info()); err != nil {
		log.Debug("identify failed", zap.Stringer("peer", c.RemotePeer()), zap.Error(err))
	}
}

func (h *Host) handleIdentify(_ context.Context, s *Stream) {
	defer s.Close()
	var info PeerInfo
	if err := s.ReadMsg(&info); err != nil {
		return
	}
	if info.ID != s.Peer() {
		log.Warn("identify carries a foreign peer id",
			zap.Stringer("peer", s.Peer()), zap.Stringer("claimed", info.ID))
		return
	}
	h.AddAddrs(info.ID, info.Addrs...)
}
