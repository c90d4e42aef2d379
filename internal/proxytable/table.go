// Package proxytable implements the outstanding-query correlation table: a
// fixed grid x 65536 array that translates between a client's 16-bit DNS
// query ID and a (grid, slot) index pair, so the proxy can track far more
// concurrent queries than the protocol's 16-bit ID space would otherwise
// allow.
package proxytable

import (
	"net/netip"
	"sync/atomic"
)

// Transport distinguishes which socket type an outstanding query arrived on
// and must be replied on.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

// OQ is one outstanding query: received from a client, not yet answered.
// Between Insert and Remove the Table is its sole owner; callers reach it
// only through Retrieve, by (grid, slot), never by a retained reference.
type OQ struct {
	Origin       netip.AddrPort
	Transport    Transport
	ReturnHandle any // bound UDP listener or accepted TCP connection

	Grid uint16
	Slot uint16

	RawQuery []byte
	QID      uint16
	QFlags   uint16
	QName    string
	QType    uint16
	QClass   uint16

	RawReply []byte
}

// Table is the fixed-size grid x slot correlation array. pushCount grids,
// each with 65536 slots, matching one cell per possible upstream socket /
// on-wire DNS ID combination.
type Table struct {
	cells      [][]atomic.Pointer[OQ]
	pushCount  int
	gridCursor uint16
	slotCursor uint16
	dirty      atomic.Uint64
}

// New allocates a table sized for pushCount upstream sockets (§4.4).
func New(pushCount int) *Table {
	cells := make([][]atomic.Pointer[OQ], pushCount)
	for i := range cells {
		cells[i] = make([]atomic.Pointer[OQ], 1<<16)
	}
	return &Table{cells: cells, pushCount: pushCount}
}

// PushCount returns the number of grids the table was sized for.
func (t *Table) PushCount() int { return t.pushCount }

// DirtyCount returns the number of wraparound collisions observed so far:
// inserts that landed on a still-occupied cell and silently evicted it.
func (t *Table) DirtyCount() uint64 { return t.dirty.Load() }

// Insert assigns the next (grid, slot) pair to oq and places it in the
// table, advancing the cursor. Only the single client I/O goroutine may call
// Insert; it is the table's one writer of fresh cells.
func (t *Table) Insert(oq *OQ) {
	grid, slot := t.gridCursor, t.slotCursor
	oq.Grid, oq.Slot = grid, slot

	cell := &t.cells[grid][slot]
	if cell.Load() != nil {
		t.dirty.Add(1)
	}
	cell.Store(oq)

	t.slotCursor++
	if t.slotCursor == 0 {
		t.gridCursor++
		if int(t.gridCursor) == t.pushCount {
			t.gridCursor = 0
		}
	}
}

// Retrieve returns the OQ at (grid, slot), or ok=false if the cell is empty
// or grid is out of range. Safe for concurrent use from any number of
// readers and from the single remover of a given cell.
func (t *Table) Retrieve(grid, slot uint16) (oq *OQ, ok bool) {
	if int(grid) >= t.pushCount {
		return nil, false
	}
	oq = t.cells[grid][slot].Load()
	return oq, oq != nil
}

// Remove clears the cell at (grid, slot). A no-op if already empty, which is
// the normal case when a reply arrives after wraparound already evicted the
// entry.
func (t *Table) Remove(grid, slot uint16) {
	if int(grid) >= t.pushCount {
		return
	}
	t.cells[grid][slot].Store(nil)
}
