// Package upstreamio is the upstream-facing I/O core (C4): it owns the
// push_count bank of UDP sockets used to reach the configured resolver,
// opens ad hoc one-shot TCP sockets when a query arrived over TCP, and
// runs the single event loop that forwards queries and harvests replies.
package upstreamio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
	"github.com/nullhorizon/dnsfilterproxy/internal/dnswire"
	"github.com/nullhorizon/dnsfilterproxy/internal/helpers"
	"github.com/nullhorizon/dnsfilterproxy/internal/ioready"
	"github.com/nullhorizon/dnsfilterproxy/internal/iosession"
	"github.com/nullhorizon/dnsfilterproxy/internal/logging"
	"github.com/nullhorizon/dnsfilterproxy/internal/proxytable"
)

const (
	tagKindUDPSocket  int32 = 0
	tagKindTCPSession int32 = 1
	tagKindShift            = 30
	tagIndexMask      int32 = (1 << tagKindShift) - 1

	sweepInterval = time.Second
	pollTimeoutMS = 1000
)

func encodeTag(kind int32, idx int) int32 { return (kind << tagKindShift) | (int32(idx) & tagIndexMask) }
func decodeTag(tag int32) (kind int32, idx int) {
	return tag >> tagKindShift, int(tag & tagIndexMask)
}

// Core owns the upstream socket bank and the single goroutine that
// services it.
type Core struct {
	log *slog.Logger

	udpSockets []int // index == grid
	poller     *ioready.Poller

	sessions       *iosession.Table
	sessionTimeout time.Duration

	table      *proxytable.Table
	replyQueue chan<- proxytable.Ref
	scratch    []byte
	logBinary  bool

	localAddr    net.IP
	resolverAddr net.IP
	resolverPort int

	lastSweep time.Time
}

// New builds a Core; configuration is read and sockets are opened in
// Start.
func New(log *slog.Logger, tbl *proxytable.Table, replyQueue chan<- proxytable.Ref) *Core {
	return &Core{
		log:        log,
		table:      tbl,
		replyQueue: replyQueue,
		scratch:    make([]byte, dnswire.BufferSize),
	}
}

// Start opens the push_count UDP socket bank (one per grid, source port
// forward_local_port+i) and registers them with the readiness facility
// (§4.4).
func (c *Core) Start(cfg *config.Config) error {
	c.localAddr = net.ParseIP(cfg.Forward.LocalAddr)
	c.resolverAddr = net.ParseIP(cfg.Forward.ServerAddr)
	c.resolverPort = cfg.Forward.ServerPort
	c.sessions = iosession.NewTable(cfg.TCP.SessionLimit)
	c.sessionTimeout = time.Duration(cfg.TCP.SessionTimeout) * time.Second
	c.logBinary = cfg.Logging.ServerBinary != 0

	poller, err := ioready.New()
	if err != nil {
		return err
	}
	c.poller = poller

	c.udpSockets = make([]int, cfg.Forward.LocalCount)
	for grid := 0; grid < cfg.Forward.LocalCount; grid++ {
		port := int(helpers.ClampIntToUint16(cfg.Forward.LocalPort + grid))
		fd, err := bindPushSocket(c.localAddr, port)
		if err != nil {
			return err
		}
		c.udpSockets[grid] = fd
		if err := c.poller.Register(fd, encodeTag(tagKindUDPSocket, grid)); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the single-threaded upstream event loop until ctx is
// cancelled. Any error returned here is a fatal SocketError (§7).
func (c *Core) Run(ctx context.Context) error {
	events := ioready.NewEventBuffer(len(c.udpSockets) + c.sessions.Limit)
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
			return fmt.Errorf("upstreamio: %w", err)
		}
		for _, ev := range ready {
			kind, idx := decodeTag(ev.Fd)
			switch kind {
			case tagKindUDPSocket:
				c.handleUDPReadable(idx)
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

// ForwardUDP implements Forward-UDP(OQ): rewrite the on-wire ID to the
// OQ's slot and send from the socket whose index is the OQ's grid.
func (c *Core) ForwardUDP(oq *proxytable.OQ) {
	if int(oq.Grid) >= len(c.udpSockets) {
		return
	}
	query := append([]byte(nil), oq.RawQuery...)
	if len(query) < 2 {
		return
	}
	query[0] = byte(oq.Slot >> 8)
	query[1] = byte(oq.Slot)

	sa, err := sockaddrInet4(c.resolverAddr, c.resolverPort)
	if err != nil {
		return
	}
	_ = unix.Sendto(c.udpSockets[oq.Grid], query, 0, sa)
}

// ForwardTCP implements Forward-TCP(OQ): open a fresh outbound socket,
// rewrite the ID, prepend the length, send, and track the session for the
// eventual one-shot reply.
func (c *Core) ForwardTCP(oq *proxytable.OQ) {
	fd, err := openOutboundTCP(c.localAddr, c.resolverAddr, c.resolverPort)
	if err != nil {
		c.log.Warn("upstream TCP forward failed", "error", err)
		return
	}

	query := append([]byte(nil), oq.RawQuery...)
	if len(query) >= 2 {
		query[0] = byte(oq.Slot >> 8)
		query[1] = byte(oq.Slot)
	}
	out := make([]byte, 2+len(query))
	out[0] = byte(len(query) >> 8)
	out[1] = byte(len(query))
	copy(out[2:], query)
	if _, err := unix.Write(fd, out); err != nil {
		unix.Close(fd)
		return
	}

	sess := &iosession.Session{FD: fd, LastActive: time.Now(), Grid: oq.Grid}
	c.sessions.Add(sess)
	c.poller.Register(fd, encodeTag(tagKindTCPSession, fd))
}

// handleUDPReadable implements Receive-UDP.
func (c *Core) handleUDPReadable(grid int) {
	n, _, err := unix.Recvfrom(c.udpSockets[grid], c.scratch, 0)
	if err != nil || n < 2 {
		return
	}
	if c.logBinary {
		c.log.Debug("SERVER UDP", "bytes", n, "grid", grid, "dump", logging.HexDump(c.scratch[:n]))
	}
	slot := uint16(c.scratch[0])<<8 | uint16(c.scratch[1])

	oq, ok := c.table.Retrieve(uint16(grid), slot)
	if !ok {
		return
	}
	if n < len(oq.RawQuery) {
		c.log.Warn("upstream reply shorter than stored query", "grid", grid, "slot", slot)
		return
	}
	oq.RawReply = append([]byte(nil), c.scratch[:n]...)
	c.enqueueReply(oq)
}

// handleTCPReadable implements Receive-TCP: the same two-phase
// length/body read as the client side, one-shot.
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
			c.closeSession(sess)
			return
		}
		sess.PartialLength = uint16(lenBuf[0])<<8 | uint16(lenBuf[1])
		sess.HaveLength = true
		return
	}

	if int(sess.PartialLength) < 2 || int(sess.PartialLength) > len(c.scratch) {
		c.closeSession(sess)
		return
	}
	body := c.scratch[:sess.PartialLength]
	n, err := unix.Read(fd, body)
	if err != nil || n != int(sess.PartialLength) {
		c.closeSession(sess)
		return
	}
	if c.logBinary {
		c.log.Debug("SERVER TCP", "bytes", n, "fd", fd, "dump", logging.HexDump(body))
	}

	slot := uint16(body[0])<<8 | uint16(body[1])
	oq, found := c.table.Retrieve(sess.Grid, slot)
	if found {
		if len(body) >= len(oq.RawQuery) {
			oq.RawReply = append([]byte(nil), body...)
			c.enqueueReply(oq)
		} else {
			c.log.Warn("upstream TCP reply shorter than stored query", "grid", sess.Grid, "slot", slot)
		}
	}
	c.closeSession(sess)
}

func (c *Core) closeSession(sess *iosession.Session) {
	c.poller.Unregister(sess.FD)
	unix.Close(sess.FD)
	c.sessions.Remove(sess.FD)
}

func (c *Core) enqueueReply(oq *proxytable.OQ) {
	select {
	case c.replyQueue <- proxytable.Ref{Grid: oq.Grid, Slot: oq.Slot}:
	default:
		// Reply pool saturated; the OQ stays resident until the pool
		// catches up or wraparound evicts it.
	}
}
