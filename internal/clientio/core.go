// Package clientio is the client-facing I/O core (C3): it binds UDP and
// TCP listeners on every eligible local IPv4 interface, runs a single
// readiness-driven event loop that accepts queries and inserts them into
// the outstanding-query table, and exposes the reply-transmission entry
// points the filter pools call back into.
package clientio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
	"github.com/nullhorizon/dnsfilterproxy/internal/dnswire"
	"github.com/nullhorizon/dnsfilterproxy/internal/ioready"
	"github.com/nullhorizon/dnsfilterproxy/internal/iosession"
	"github.com/nullhorizon/dnsfilterproxy/internal/logging"
	"github.com/nullhorizon/dnsfilterproxy/internal/proxytable"
)

const (
	tagKindUDPListener int32 = 0
	tagKindTCPListener int32 = 1
	tagKindTCPSession  int32 = 2
	tagKindShift             = 30
	tagIndexMask       int32 = (1 << tagKindShift) - 1

	sweepInterval = time.Second
	pollTimeoutMS = 1000
)

func encodeTag(kind int32, idx int) int32 { return (kind << tagKindShift) | (int32(idx) & tagIndexMask) }
func decodeTag(tag int32) (kind int32, idx int) {
	return int32(uint32(tag) >> tagKindShift), int(tag & tagIndexMask)
}

type udpListener struct {
	fd   int
	addr net.IP
	port int
}

type tcpListener struct {
	fd   int
	addr net.IP
	port int
}

// Core owns every client-facing socket and the single goroutine that
// services them.
type Core struct {
	log *slog.Logger

	udpListeners []udpListener
	tcpListeners []tcpListener
	poller       *ioready.Poller

	sessions       *iosession.Table
	sessionTimeout time.Duration

	table      *proxytable.Table
	queryQueue chan<- proxytable.Ref
	builder    *dnswire.Builder
	scratch    []byte
	logBinary  bool

	lastSweep time.Time
}

// New builds a Core from configuration; sockets are not opened until
// Start.
func New(log *slog.Logger, cfg *config.Config, tbl *proxytable.Table, queryQueue chan<- proxytable.Ref) *Core {
	return &Core{
		log:            log,
		sessions:       iosession.NewTable(cfg.TCP.SessionLimit),
		sessionTimeout: time.Duration(cfg.TCP.SessionTimeout) * time.Second,
		table:          tbl,
		queryQueue:     queryQueue,
		builder:        dnswire.NewBuilder(),
		scratch:        make([]byte, dnswire.BufferSize),
		logBinary:      cfg.Logging.ClientBinary != 0,
	}
}

// Start enumerates eligible interfaces, binds a UDP and TCP socket on each,
// and registers all of them with the readiness facility (§4.3).
func (c *Core) Start(cfg *config.Config) error {
	addrs, err := eligibleAddresses(cfg.NetFilter)
	if err != nil {
		return fmt.Errorf("clientio: enumerate interfaces: %w", err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("clientio: no eligible local IPv4 interfaces")
	}

	poller, err := ioready.New()
	if err != nil {
		return err
	}
	c.poller = poller

	port := cfg.General.ServerPort
	for _, addr := range addrs {
		ufd, err := bindUDPListener(addr, port)
		if err != nil {
			return err
		}
		idx := len(c.udpListeners)
		c.udpListeners = append(c.udpListeners, udpListener{fd: ufd, addr: addr, port: port})
		if err := c.poller.Register(ufd, encodeTag(tagKindUDPListener, idx)); err != nil {
			return err
		}

		tfd, err := bindTCPListener(addr, port, cfg.TCP.ListenBacklog)
		if err != nil {
			return err
		}
		tidx := len(c.tcpListeners)
		c.tcpListeners = append(c.tcpListeners, tcpListener{fd: tfd, addr: addr, port: port})
		if err := c.poller.Register(tfd, encodeTag(tagKindTCPListener, tidx)); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the single-threaded client event loop until ctx is
// cancelled. Any error returned here is a fatal SocketError (§7).
func (c *Core) Run(ctx context.Context) error {
	events := ioready.NewEventBuffer(len(c.udpListeners) + len(c.tcpListeners) + c.sessions.Limit)
	c.lastSweep = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now()
		if now.Sub(c.lastSweep) >= sweepInterval {
			c.sweepSessions(now)
			c.lastSweep = now
		}

		ready, err := c.poller.Wait(events, pollTimeoutMS)
		if err != nil {
			return fmt.Errorf("clientio: %w", err)
		}
		for _, ev := range ready {
			kind, idx := decodeTag(ev.Fd)
			switch kind {
			case tagKindUDPListener:
				c.handleUDPReadable(idx)
			case tagKindTCPListener:
				c.handleTCPAcceptable(idx)
			case tagKindTCPSession:
				c.handleTCPReadable(idx)
			}
		}
	}
}

func (c *Core) sweepSessions(now time.Time) {
	c.sessions.Sweep(now, c.sessionTimeout, func(s *iosession.Session) {
		c.poller.Unregister(s.FD)
		unix.Close(s.FD)
	})
}

// handleUDPReadable implements the UDP receive path.
func (c *Core) handleUDPReadable(idx int) {
	lst := c.udpListeners[idx]
	n, sa, err := unix.Recvfrom(lst.fd, c.scratch, 0)
	if err != nil {
		return
	}
	if n < dnswire.MinQuerySize {
		return
	}
	peerIP, peerPort, ok := addrPortFromSockaddr(sa)
	if !ok {
		return
	}
	if c.logBinary {
		c.log.Debug("CLIENT UDP", "bytes", n, "peer", peerIP, "port", peerPort, "dump", logging.HexDump(c.scratch[:n]))
	}

	msg := append([]byte(nil), c.scratch[:n]...)
	h, q, err := dnswire.Parse(msg)
	if err != nil {
		c.log.Warn("malformed UDP query", "error", err, "peer", peerIP)
		return
	}

	addr, ok := netip.AddrFromSlice(peerIP.To4())
	if !ok {
		return
	}
	oq := &proxytable.OQ{
		Origin:       netip.AddrPortFrom(addr, uint16(peerPort)),
		Transport:    proxytable.TransportUDP,
		ReturnHandle: lst.fd,
		RawQuery:     msg,
		QID:          h.ID,
		QFlags:       h.Flags,
		QName:        q.Name,
		QType:        q.Type,
		QClass:       q.Class,
	}
	c.table.Insert(oq)
	c.enqueue(oq)
}

// handleTCPAcceptable implements the TCP accept path.
func (c *Core) handleTCPAcceptable(idx int) {
	lst := c.tcpListeners[idx]
	if c.sessions.AtCapacity() {
		// Leave the listener readable; revisited on the next wake-up.
		return
	}
	connFD, _, err := unix.Accept(lst.fd)
	if err != nil {
		return
	}
	unix.SetNonblock(connFD, true)

	sess := &iosession.Session{FD: connFD, LastActive: time.Now()}
	c.sessions.Add(sess)
	c.poller.Register(connFD, encodeTag(tagKindTCPSession, connFD))
}

// handleTCPReadable implements the two-phase TCP data path.
func (c *Core) handleTCPReadable(fd int) {
	sess, ok := c.sessions.Get(fd)
	if !ok {
		return
	}
	sess.LastActive = time.Now()

	if !sess.HaveLength {
		var lenBuf [2]byte
		n, err := unix.Read(fd, lenBuf[:])
		if err != nil || n != 2 {
			c.teardownSession(sess)
			return
		}
		sess.PartialLength = uint16(lenBuf[0])<<8 | uint16(lenBuf[1])
		sess.HaveLength = true
		return
	}

	if int(sess.PartialLength) < dnswire.MinQuerySize || int(sess.PartialLength) > len(c.scratch) {
		c.teardownSession(sess)
		return
	}
	body := c.scratch[:sess.PartialLength]
	n, err := unix.Read(fd, body)
	if err != nil || n != int(sess.PartialLength) {
		c.teardownSession(sess)
		return
	}
	sess.HaveLength = false
	sess.PartialLength = 0

	if c.logBinary {
		c.log.Debug("CLIENT TCP", "bytes", n, "fd", fd, "dump", logging.HexDump(body))
	}

	msg := append([]byte(nil), body...)
	h, q, err := dnswire.Parse(msg)
	if err != nil {
		c.log.Warn("malformed TCP query", "error", err, "fd", fd)
		c.teardownSession(sess)
		return
	}

	peerIP, peerPort := peerAddrOfFD(fd)
	addr, _ := netip.AddrFromSlice(peerIP.To4())
	oq := &proxytable.OQ{
		Origin:       netip.AddrPortFrom(addr, uint16(peerPort)),
		Transport:    proxytable.TransportTCP,
		ReturnHandle: fd,
		RawQuery:     msg,
		QID:          h.ID,
		QFlags:       h.Flags,
		QName:        q.Name,
		QType:        q.Type,
		QClass:       q.Class,
	}
	c.table.Insert(oq)
	c.enqueue(oq)
}

func (c *Core) teardownSession(sess *iosession.Session) {
	c.poller.Unregister(sess.FD)
	unix.Close(sess.FD)
	c.sessions.Remove(sess.FD)
}

func (c *Core) enqueue(oq *proxytable.OQ) {
	select {
	case c.queryQueue <- proxytable.Ref{Grid: oq.Grid, Slot: oq.Slot}:
	default:
		// Queue saturated beyond the pool's ability to keep up; the entry
		// stays in the table until wraparound evicts it (§7 WraparoundEviction).
	}
}

// ForwardUDPReply implements the UDP reply-transmission entry point.
// Callable from any filter-pool worker goroutine.
func (c *Core) ForwardUDPReply(oq *proxytable.OQ) {
	fd, ok := oq.ReturnHandle.(int)
	if !ok {
		return
	}
	reply := append([]byte(nil), oq.RawReply...)
	if len(reply) < 2 {
		return
	}
	reply[0] = byte(oq.QID >> 8)
	reply[1] = byte(oq.QID)

	sa, err := sockaddrInet4(net.IP(oq.Origin.Addr().AsSlice()), int(oq.Origin.Port()))
	if err != nil {
		return
	}
	_ = unix.Sendto(fd, reply, 0, sa)
}

// ForwardTCPReply implements the TCP reply-transmission entry point.
func (c *Core) ForwardTCPReply(oq *proxytable.OQ) {
	fd, ok := oq.ReturnHandle.(int)
	if !ok {
		return
	}
	reply := oq.RawReply
	if len(reply) < 2 {
		return
	}
	out := make([]byte, 2+len(reply))
	out[0] = byte(len(reply) >> 8)
	out[1] = byte(len(reply))
	copy(out[2:], reply)
	out[2] = byte(oq.QID >> 8)
	out[3] = byte(oq.QID)
	_, _ = unix.Write(fd, out)
}

// peerAddrOfFD retrieves the remote address of an already-connected socket
// via getpeername, used to populate OQ.Origin for TCP queries.
func peerAddrOfFD(fd int) (net.IP, int) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return net.IPv4zero, 0
	}
	ip, port, ok := addrPortFromSockaddr(sa)
	if !ok {
		return net.IPv4zero, 0
	}
	return ip, port
}
