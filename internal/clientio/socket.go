package clientio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// sockaddrInet4 builds a unix.Sockaddr for an IPv4 address and port.
func sockaddrInet4(ip net.IP, port int) (*unix.SockaddrInet4, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("clientio: %s is not an IPv4 address", ip)
	}
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// bindUDPListener opens, binds, and marks non-blocking a UDP socket for
// addr:port with SO_REUSEADDR (§4.3).
func bindUDPListener(addr net.IP, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, fmt.Errorf("clientio: socket(udp): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: setsockopt(SO_REUSEADDR): %w", err)
	}
	sa, err := sockaddrInet4(addr, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: bind(udp %s:%d): %w", addr, port, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: set nonblocking: %w", err)
	}
	return fd, nil
}

// bindTCPListener opens, binds, and listens a TCP socket for addr:port
// with SO_REUSEADDR and the configured backlog (§4.3).
func bindTCPListener(addr net.IP, port, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("clientio: socket(tcp): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: setsockopt(SO_REUSEADDR): %w", err)
	}
	sa, err := sockaddrInet4(addr, port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: bind(tcp %s:%d): %w", addr, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("clientio: set nonblocking: %w", err)
	}
	return fd, nil
}

// addrPortFromSockaddr splits the peer address recvfrom/getpeername hand
// back into an IPv4 address and port; ok is false for non-IPv4 addresses.
func addrPortFromSockaddr(sa unix.Sockaddr) (net.IP, int, bool) {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, 0, false
	}
	ip := make(net.IP, 4)
	copy(ip, sa4.Addr[:])
	return ip, sa4.Port, true
}
