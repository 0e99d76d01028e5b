package network

import (
	"testing"

	cerrors "github.com/najoast/actormesh/errors"
	"github.com/najoast/actormesh/identity"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("quic://127.0.0.1:4001")
	require.NoError(t, err)
	require.Equal(t, Addr{Scheme: SchemeQUIC, HostPort: "127.0.0.1:4001"}, a)
	require.Equal(t, "quic://127.0.0.1:4001", a.String())

	for _, bad := range []string{"127.0.0.1:4001", "udp://127.0.0.1:1", "tcp://nohost"} {
		_, err := ParseAddr(bad)
		require.True(t, cerrors.ErrUnsupportedAddr.Equal(err), bad)
	}
}

func TestParsePeerAddr(t *testing.T) {
	ident, err := identity.Generate()
	require.NoError(t, err)

	s := "tcp://10.0.0.1:4001/" + ident.ID().String()
	info, err := ParsePeerAddr(s)
	require.NoError(t, err)
	require.Equal(t, ident.ID(), info.ID)
	require.Equal(t, []string{"tcp://10.0.0.1:4001"}, info.Addrs)
	require.Equal(t, s, info.String())

	_, err = ParsePeerAddr("tcp://10.0.0.1:4001/pk:00")
	require.Error(t, err)
}

func TestSortForDialPrefersQUIC(t *testing.T) {
	supported := map[string]Transport{SchemeTCP: nil, SchemeQUIC: nil}
	got := sortForDial([]string{
		"tcp://127.0.0.1:1",
		"bogus",
		"quic://127.0.0.1:2",
	}, supported)
	require.Equal(t, []Addr{
		{Scheme: SchemeQUIC, HostPort: "127.0.0.1:2"},
		{Scheme: SchemeTCP, HostPort: "127.0.0.1:1"},
	}, got)

	got = sortForDial([]string{"quic://127.0.0.1:2"}, map[string]Transport{SchemeTCP: nil})
	require.Empty(t, got)
}

func TestMergeAddrs(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, mergeAddrs([]string{"a", "b"}, "b", "c", "a"))
}
