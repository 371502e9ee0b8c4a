// Package presence answers "is this user reachable over a live connection".
// It is a latency optimization only: the durable message path never depends
// on what the directory says.
package presence

import "sync"

// Conn is a live connection handle. Deliver reports whether the payload was
// accepted for writing; a full or closed connection returns false.
type Conn interface {
	Deliver(payload []byte) bool
}

type entry struct {
	conn   Conn
	active bool
}

// Directory maps user ids to their current connection, O(1) per lookup.
type Directory struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[int64]*entry)}
}

// Connect stores the handle and marks the user active.
func (d *Directory) Connect(userID int64, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[userID] = &entry{conn: conn, active: true}
}

// Disconnect removes the entry, but only if conn still owns it. A stale
// disconnect racing a fresh connect must not evict the newer handle.
func (d *Directory) Disconnect(userID int64, conn Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[userID]; ok && e.conn == conn {
		delete(d.entries, userID)
	}
}

// SetActive toggles the active flag without touching the handle. A user can
// be connected but inactive (app backgrounded); notifications are then
// suppressed while the durable path is unaffected.
func (d *Directory) SetActive(userID int64, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[userID]; ok {
		e.active = active
	}
}

// Online returns the connection handle iff the user is connected and active.
func (d *Directory) Online(userID int64) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[userID]
	if !ok || !e.active {
		return nil, false
	}
	return e.conn, true
}

// Known reports whether the user has a live connection at all, active or not.
func (d *Directory) Known(userID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[userID]
	return ok
}
