// Package iosession tracks open TCP connections for the client- and
// upstream-facing I/O cores, which share an identical contract for
// accepting, two-phase length-prefixed reads, and idle-timeout eviction
// (§4.3, §4.4). A map keyed by file descriptor stands in for the original
// design's owned-array doubly linked list, sidestepping the prev/next
// aliasing hazard that design called out.
package iosession

import "time"

// Session is one tracked TCP connection.
type Session struct {
	FD            int
	LastActive    time.Time
	PartialLength uint16
	HaveLength    bool
	Grid          uint16 // meaningful only for upstream forward-TCP sessions
}

// Table is a bounded set of sessions, keyed by file descriptor.
type Table struct {
	Limit    int
	sessions map[int]*Session
}

// NewTable creates a session table capped at limit entries.
func NewTable(limit int) *Table {
	return &Table{Limit: limit, sessions: make(map[int]*Session)}
}

// Len returns the number of tracked sessions.
func (t *Table) Len() int { return len(t.sessions) }

// AtCapacity reports whether the table has reached its configured limit;
// callers must stop accepting new connections while this holds (§4.3).
func (t *Table) AtCapacity() bool { return len(t.sessions) >= t.Limit }

// Add starts tracking s.
func (t *Table) Add(s *Session) { t.sessions[s.FD] = s }

// Get returns the session for fd, if tracked.
func (t *Table) Get(fd int) (*Session, bool) {
	s, ok := t.sessions[fd]
	return s, ok
}

// Touch refreshes a session's liveness timestamp.
func (t *Table) Touch(fd int, now time.Time) {
	if s, ok := t.sessions[fd]; ok {
		s.LastActive = now
	}
}

// Remove stops tracking fd.
func (t *Table) Remove(fd int) { delete(t.sessions, fd) }

// Sweep evicts every session idle for at least timeout, invoking evict for
// each one before removing it. Evict is responsible for closing the fd and
// unregistering it from the readiness facility.
func (t *Table) Sweep(now time.Time, timeout time.Duration, evict func(*Session)) {
	for fd, s := range t.sessions {
		if now.Sub(s.LastActive) >= timeout {
			evict(s)
			delete(t.sessions, fd)
		}
	}
}
