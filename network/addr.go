package network

import (
	"net"
	"sort"
	"strings"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
)

// Addr is a parsed transport address such as "tcp://127.0.0.1:4001".
type Addr struct {
	Scheme   string
	HostPort string
}

// String renders the address in URL form.
func (a Addr) String() string {
	return a.Scheme + "://" + a.HostPort
}

// ParseAddr parses "<scheme>://host:port".
func ParseAddr(s string) (Addr, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Addr{}, cerrors.ErrUnsupportedAddr.GenWithStackByArgs(s)
	}
	switch scheme {
	case SchemeTCP, SchemeQUIC:
	default:
		return Addr{}, cerrors.ErrUnsupportedAddr.GenWithStackByArgs(s)
	}
	if _, _, err := net.SplitHostPort(rest); err != nil {
		return Addr{}, cerrors.ErrUnsupportedAddr.GenWithStackByArgs(s)
	}
	return Addr{Scheme: scheme, HostPort: rest}, nil
}

// PeerInfo is a peer identity plus the addresses it listens on.
type PeerInfo struct {
	ID    identity.PeerID `msgpack:"id"`
	Addrs []string        `msgpack:"addrs"`
}

// String renders the first address with the peer id appended, the form
// accepted by ParsePeerAddr.
func (p PeerInfo) String() string {
	if len(p.Addrs) == 0 {
		return p.ID.String()
	}
	return p.Addrs[0] + "/" + p.ID.String()
}

// ParsePeerAddr parses "tcp://host:port/pk:<hex>".
func ParsePeerAddr(s string) (PeerInfo, error) {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return PeerInfo{}, cerrors.ErrUnsupportedAddr.GenWithStackByArgs(s)
	}
	addr, err := ParseAddr(s[:idx])
	if err != nil {
		return PeerInfo{}, err
	}
	id, err := identity.ParsePeerID(s[idx+1:])
	if err != nil {
		return PeerInfo{}, cerrors.Annotatef(err, "peer address %s", s)
	}
	return PeerInfo{ID: id, Addrs: []string{addr.String()}}, nil
}

// schemeRank orders transports for dialing; QUIC first.
func schemeRank(scheme string) int {
	switch scheme {
	case SchemeQUIC:
		return 0
	case SchemeTCP:
		return 1
	default:
		return 2
	}
}

// sortForDial returns the parsed addresses ordered by preference, keeping
// only those whose scheme is supported.
func sortForDial(addrs []string, supported map[string]Transport) []Addr {
	out := make([]Addr, 0, len(addrs))
	for _, s := range addrs {
		a, err := ParseAddr(s)
		if err != nil {
			continue
		}
		if _, ok := supported[a.Scheme]; !ok {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return schemeRank(out[i].Scheme) < schemeRank(out[j].Scheme)
	})
	return out
}

// mergeAddrs appends addrs missing from dst.
func mergeAddrs(dst []string, addrs ...string) []string {
	for _, a := range addrs {
		found := false
		for _, d := range dst {
			if d == a {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, a)
		}
	}
	return dst
}

// expandUnspecified replaces a wildcard listen host with the IPv4
// addresses of the local interfaces so the result can be advertised.
func expandUnspecified(s string) []string {
	a, err := ParseAddr(s)
	if err != nil {
		return []string{s}
	}
	host, port, _ := net.SplitHostPort(a.HostPort)
	if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
		return []string{s}
	}
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return []string{s}
	}
	var out []string
	for _, ia := range ifaddrs {
		ipnet, ok := ia.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			out = append(out, Addr{Scheme: a.Scheme, HostPort: net.JoinHostPort(v4.String(), port)}.String())
		}
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}
