// Package discovery announces the local peer on the LAN with mDNS and reports
// the peers it hears about.
package discovery

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/najoast/actormesh/network"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultServiceName is the DNS-SD service peers announce under.
	DefaultServiceName = "_actormesh._udp.local."
	// DefaultInterval between unsolicited announcements.
	DefaultInterval = 10 * time.Second

	recordTTL = 120
	txtID     = "id="
	txtAddr   = "addr="
)

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// PacketConn is the datagram socket the service speaks over.
type PacketConn interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	WriteTo(p []byte, addr net.Addr) (int, error)
	Close() error
}

// ListenMulticast joins the IPv4 mDNS group on every multicast capable
// interface. It returns the socket and the group address to send to.
func ListenMulticast() (PacketConn, net.Addr, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, mdnsGroup)
	if err != nil {
		return nil, nil, cerrors.Annotate(err, "listen mdns")
	}
	p4 := ipv4.NewPacketConn(conn)
	ifaces, err := net.Interfaces()
	if err != nil {
		_ = conn.Close()
		return nil, nil, cerrors.Trace(err)
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p4.JoinGroup(ifi, &net.UDPAddr{IP: mdnsGroup.IP}); err != nil {
			log.Debug("mdns join group failed", zap.String("iface", ifi.Name), zap.Error(err))
		}
	}
	if err := p4.SetMulticastLoopback(true); err != nil {
		_ = conn.Close()
		return nil, nil, cerrors.Annotate(err, "set multicast loopback")
	}
	if err := p4.SetMulticastTTL(255); err != nil {
		_ = conn.Close()
		return nil, nil, cerrors.Annotate(err, "set multicast ttl")
	}
	return conn, mdnsGroup, nil
}

// Config configures the mDNS service.
type Config struct {
	ServiceName string
	Interval    time.Duration
}

// Service periodically announces Self and calls OnPeer for every
// announcement of another peer.
type Service struct {
	conn    PacketConn
	group   net.Addr
	cfg     Config
	service dnsmessage.Name
	self    func() network.PeerInfo
	onPeer  func(network.PeerInfo)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService creates the service; self is consulted on every announcement
// so listen addresses may change after construction.
func NewService(conn PacketConn, group net.Addr, cfg Config, self func() network.PeerInfo, onPeer func(network.PeerInfo)) (*Service, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if !strings.HasSuffix(cfg.ServiceName, ".") {
		cfg.ServiceName += "."
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	name, err := dnsmessage.NewName(cfg.ServiceName)
	if err != nil {
		return nil, cerrors.Annotatef(err, "mdns service name %s", cfg.ServiceName)
	}
	return &Service{
		conn:    conn,
		group:   group,
		cfg:     cfg,
		service: name,
		self:    self,
		onPeer:  onPeer,
	}, nil
}

// Start queries for peers, announces once and keeps announcing every
// interval until Close.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.readLoop()
	go s.announceLoop(ctx)
}

// Close stops the loops and closes the socket.
func (s *Service) Close() error {
	var err error
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *Service) announceLoop(ctx context.Context) {
	defer s.wg.Done()
	if err := s.Query(); err != nil {
		log.Debug("mdns query failed", zap.Error(err))
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Announce(); err != nil {
			log.Debug("mdns announce failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Query asks other peers to announce themselves.
func (s *Service) Query() error {
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{})
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return cerrors.Trace(err)
	}
	if err := b.Question(dnsmessage.Question{Name: s.service, Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET}); err != nil {
		return cerrors.Trace(err)
	}
	msg, err := b.Finish()
	if err != nil {
		return cerrors.Trace(err)
	}
	_, err = s.conn.WriteTo(msg, s.group)
	return cerrors.Trace(err)
}

// Announce sends the PTR and TXT records of the local peer.
func (s *Service) Announce() error {
	msg, err := s.buildAnnouncement(s.self())
	if err != nil {
		return err
	}
	_, err = s.conn.WriteTo(msg, s.group)
	return cerrors.Trace(err)
}

func (s *Service) buildAnnouncement(info network.PeerInfo) ([]byte, error) {
	instance, err := dnsmessage.NewName(instanceLabel(info.ID) + "." + s.cfg.ServiceName)
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	txt := []string{txtID + info.ID.String()}
	for _, a := range info.Addrs {
		txt = append(txt, txtAddr+a)
	}

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{Response: true, Authoritative: true})
	b.EnableCompression()
	if err := b.StartAnswers(); err != nil {
		return nil, cerrors.Trace(err)
	}
	err = b.PTRResource(dnsmessage.ResourceHeader{
		Name:  s.service,
		Type:  dnsmessage.TypePTR,
		Class: dnsmessage.ClassINET,
		TTL:   recordTTL,
	}, dnsmessage.PTRResource{PTR: instance})
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	err = b.TXTResource(dnsmessage.ResourceHeader{
		Name:  instance,
		Type:  dnsmessage.TypeTXT,
		Class: dnsmessage.ClassINET,
		TTL:   recordTTL,
	}, dnsmessage.TXTResource{TXT: txt})
	if err != nil {
		return nil, cerrors.Trace(err)
	}
	msg, err := b.Finish()
	return msg, cerrors.Trace(err)
}

// instanceLabel is a DNS label unique to the peer.
func instanceLabel(id identity.PeerID) string {
	return strings.TrimPrefix(id.ShortString(), "pk:")
}

func (s *Service) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 1<<16)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		s.handlePacket(buf[:n], from)
	}
}

func (s *Service) handlePacket(pkt []byte, from net.Addr) {
	var p dnsmessage.Parser
	header, err := p.Start(pkt)
	if err != nil {
		log.Debug("dropping malformed mdns packet", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if !header.Response {
		s.handleQuery(&p)
		return
	}
	if err := p.SkipAllQuestions(); err != nil {
		return
	}
	for {
		h, err := p.AnswerHeader()
		if err != nil {
			return
		}
		if h.Type != dnsmessage.TypeTXT || !strings.HasSuffix(h.Name.String(), "."+s.cfg.ServiceName) {
			if err := p.SkipAnswer(); err != nil {
				return
			}
			continue
		}
		txt, err := p.TXTResource()
		if err != nil {
			return
		}
		info, ok := parseTXT(txt.TXT)
		if !ok || info.ID == s.self().ID {
			continue
		}
		log.Debug("mdns discovered peer", zap.Stringer("peer", info.ID), zap.Strings("addrs", info.Addrs))
		s.onPeer(info)
	}
}

func (s *Service) handleQuery(p *dnsmessage.Parser) {
	for {
		q, err := p.Question()
		if err != nil {
			return
		}
		if q.Type == dnsmessage.TypePTR && q.Name.String() == s.cfg.ServiceName {
			if err := s.Announce(); err != nil {
				log.Debug("mdns announce failed", zap.Error(err))
			}
			return
		}
	}
}

func parseTXT(entries []string) (network.PeerInfo, bool) {
	var info network.PeerInfo
	var haveID bool
	for _, e := range entries {
		switch {
		case strings.HasPrefix(e, txtID):
			id, err := identity.ParsePeerID(strings.TrimPrefix(e, txtID))
			if err != nil {
				return info, false
			}
			info.ID, haveID = id, true
		case strings.HasPrefix(e, txtAddr):
			addr := strings.TrimPrefix(e, txtAddr)
			if _, err := network.ParseAddr(addr); err == nil {
				info.Addrs = append(info.Addrs, addr)
			}
		}
	}
	return info, haveID && len(info.Addrs) > 0
}
