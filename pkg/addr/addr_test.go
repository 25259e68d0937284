package addr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitPort(t *testing.T) {
	t.Run("Simple", func(t *testing.T) {
		rest, port, err := SplitPort("*:5555")
		require.NoError(t, err)
		require.Equal(t, "*", rest)
		require.Equal(t, uint16(5555), port)
	})

	t.Run("NoColon", func(t *testing.T) {
		_, _, err := SplitPort("nocolonhere")
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("BadPort", func(t *testing.T) {
		_, _, err := SplitPort("host:notaport")
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("ZeroPort", func(t *testing.T) {
		_, _, err := SplitPort("host:0")
		require.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("BracketedIPv6NotSpecialCased", func(t *testing.T) {
		// Rightmost colon wins and the brackets are kept -- not a bug to fix.
		rest, port, err := SplitPort("[fe80::1]:5555")
		require.NoError(t, err)
		require.Equal(t, "[fe80::1]", rest)
		require.Equal(t, uint16(5555), port)
	})
}

func TestSplitIface(t *testing.T) {
	iface, rest := SplitIface("eth0;example.com:80")
	require.Equal(t, "eth0", iface)
	require.Equal(t, "example.com:80", rest)

	iface, rest = SplitIface("example.com:80")
	require.Equal(t, "", iface)
	require.Equal(t, "example.com:80", rest)
}

func TestLooksLikeHostname(t *testing.T) {
	cases := map[string]bool{
		"example.com":     true,
		"a.b.c":            true,
		"-bad.com":         false,
		"bad-.com":         false,
		"":                 false,
		"valid-host":       true,
		"192.168.0.1":      true, // also a valid hostname grammar, caller tries literal first
		"has space":        false,
		"has_underscore.x": false,
	}
	for in, want := range cases {
		require.Equalf(t, want, LooksLikeHostname(in), "input %q", in)
	}
}

func TestIsLocalMDNSName(t *testing.T) {
	require.True(t, IsLocalMDNSName("foo.local"))
	require.True(t, IsLocalMDNSName("foo.LOCAL"))
	require.False(t, IsLocalMDNSName("foo.com"))
}

func TestParseLiteral(t *testing.T) {
	ip, err := ParseLiteral("127.0.0.1", false)
	require.NoError(t, err)
	require.True(t, ip.Equal(net.ParseIP("127.0.0.1")))

	_, err = ParseLiteral("::1", true)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = ParseLiteral("not-an-ip", false)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestResolveIfaceWildcard(t *testing.T) {
	ip, err := ResolveIface("*", true)
	require.NoError(t, err)
	require.True(t, ip.Equal(net.IPv4zero))

	ip, err = ResolveIface("", false)
	require.NoError(t, err)
	require.True(t, ip.Equal(net.IPv6zero))
}

func TestResolveIfaceUnknown(t *testing.T) {
	_, err := ResolveIface("no-such-nic-xyz", false)
	require.ErrorIs(t, err, ErrNoDevice)
}
