package upstreamio

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBindPushSocketRoundTrip(t *testing.T) {
	fd, err := bindPushSocket(net.IPv4(127, 0, 0, 1), 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	sa4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.NotZero(t, sa4.Port)
}

func TestOpenOutboundTCPConnectsNonBlocking(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	fd, err := openOutboundTCP(net.IPv4(127, 0, 0, 1), addr.IP, addr.Port)
	require.NoError(t, err)
	defer unix.Close(fd)

	conn, err := ln.Accept()
	require.NoError(t, err)
	conn.Close()
}
