// Package ioready wraps the Linux epoll readiness facility used by the
// client- and upstream-facing I/O cores to multiplex many sockets from a
// single goroutine apiece, mirroring the one-thread-per-core event loop
// the rest of this proxy's concurrency model assumes.
package ioready

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Poller wraps a single epoll instance.
type Poller struct {
	fd int
}

// New creates a new epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ioready: epoll_create1: %w", err)
	}
	return &Poller{fd: fd}, nil
}

// Register adds fd to the watched set for readability, tagging it with
// data (typically an index into the caller's own socket table) so Wait
// can report which descriptor fired without a separate fd lookup.
func (p *Poller) Register(fd int, data int32) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: data}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("ioready: epoll_ctl(add, fd=%d): %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the watched set. ENOENT (already removed) and
// EBADF (the fd was closed first) are not treated as errors.
func (p *Poller) Unregister(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("ioready: epoll_ctl(del, fd=%d): %w", fd, err)
	}
	return nil
}

// NewEventBuffer allocates a reusable buffer for Wait.
func NewEventBuffer(capacity int) []unix.EpollEvent {
	return make([]unix.EpollEvent, capacity)
}

// Wait blocks up to timeoutMS milliseconds (-1 = forever) for a
// registered fd to become readable, returning the prefix of buf that was
// filled. A signal interruption is reported as zero ready events, not an
// error (§7 QueueEmptyOnTimeout).
func (p *Poller) Wait(buf []unix.EpollEvent, timeoutMS int) ([]unix.EpollEvent, error) {
	n, err := unix.EpollWait(p.fd, buf, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf[:0], nil
		}
		return nil, fmt.Errorf("ioready: epoll_wait: %w", err)
	}
	return buf[:n], nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}
