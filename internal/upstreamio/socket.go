package upstreamio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func sockaddrInet4(ip net.IP, port int) (*unix.SockaddrInet4, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("upstreamio: %s is not an IPv4 address", ip)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// bindPushSocket opens and binds one upstream UDP socket, whose source
// port encodes the grid index (§4.4: "base forward_local_port + i").
func bindPushSocket(localAddr net.IP, localPort int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("upstreamio: socket(udp): %w", err)
	}
	sa, err := sockaddrInet4(localAddr, localPort)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("upstreamio: bind(udp %s:%d): %w", localAddr, localPort, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("upstreamio: set nonblocking: %w", err)
	}
	return fd, nil
}

// openOutboundTCP opens a TCP socket bound to the local forwarding address
// and begins connecting to the resolver; the connect is not awaited, per
// §4.4 ("the write is attempted immediately").
func openOutboundTCP(localAddr net.IP, resolverAddr net.IP, resolverPort int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("upstreamio: socket(tcp): %w", err)
	}
	localSA, err := sockaddrInet4(localAddr, 0)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, localSA); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("upstreamio: bind(tcp local): %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("upstreamio: set nonblocking: %w", err)
	}
	remoteSA, err := sockaddrInet4(resolverAddr, resolverPort)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Connect(fd, remoteSA); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("upstreamio: connect: %w", err)
	}
	return fd, nil
}
