// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package peertable holds the hub's live connection bookkeeping: the
// dual by-handshake-id / by-peer-id index the router and liveness
// prober consult.
package peertable

import (
	"errors"
	"sync"

	"github.com/linkaan/fgevents/transport"
)

// ErrSaturated is returned by AddNext when every id in the int8 space
// is currently occupied in one of the two indices.
var ErrSaturated = errors.New("peertable: no free handshake id")

// State is the lifecycle stage of a tracked peer connection.
type State int

const (
	// Uninitialized is the state from accept until a CONFIRMED/CONNECTED
	// handshake completes.
	Uninitialized State = iota
	Connected
	Disconnected
	// Dropped marks a peer that missed too many liveness probes; the
	// transport has not yet surfaced EOF or an error.
	Dropped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Dropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// Entry is everything the hub tracks about one accepted Connection.
type Entry struct {
	Conn         *transport.Connection
	State        State
	HandshakeID  int8
	PeerID       int8
	MissedProbes int
}

// Table is the hub's peer directory: at most one of the two indices
// holds a given *Entry at a time (handshake slot XOR peer slot). All
// operations are serialized under a single mutex, per the single
// locking discipline the hub's I/O task relies on.
type Table struct {
	mu            sync.Mutex
	byHandshakeID map[int8]*Entry
	byPeerID      map[int8]*Entry
	nextHandshake int8
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		byHandshakeID: make(map[int8]*Entry),
		byPeerID:      make(map[int8]*Entry),
	}
}

// Add registers a freshly accepted connection under its handshake id.
// Callers that need collision-safe allocation (the hub's accept path)
// should use AddNext instead; Add is for callers that already know
// which id they want (tests, and AddNext itself).
func (t *Table) Add(conn *transport.Connection, handshakeID int8) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := &Entry{
		Conn:        conn,
		State:       Uninitialized,
		HandshakeID: handshakeID,
	}
	t.byHandshakeID[handshakeID] = e
	return e
}

// AddNext allocates the next free handshake id and registers conn
// under it in one locked step, so the hub's accept path never hands
// out an id that collides with a connection still live in either
// index. The search starts from the table's own cursor (a per-table
// field mutated only here, under the lock) and wraps through the
// entire int8 space at most once; ErrSaturated signals that all 256
// ids are currently occupied, which the caller should treat as a
// transient accept-time failure rather than silently truncating a
// wider counter into int8 and risking a collision.
func (t *Table) AddNext(conn *transport.Connection) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < 256; i++ {
		id := t.nextHandshake
		t.nextHandshake++
		if _, occupied := t.byHandshakeID[id]; occupied {
			continue
		}
		if _, occupied := t.byPeerID[id]; occupied {
			continue
		}
		e := &Entry{
			Conn:        conn,
			State:       Uninitialized,
			HandshakeID: id,
		}
		t.byHandshakeID[id] = e
		return e, nil
	}
	return nil, ErrSaturated
}

// Bind moves an entry from the handshake index to the peer index,
// clearing its handshake id. It rejects binding onto a peer id
// already held by a Connected entry (duplicate identity); the
// incumbent wins and ok is false. If the existing holder of peerID is
// not Connected, it is evicted (the caller is responsible for closing
// the evicted Connection) and e takes its place.
func (t *Table) Bind(e *Entry, peerID int8) (evicted *Entry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if incumbent, found := t.byPeerID[peerID]; found {
		if incumbent.State == Connected {
			return nil, false
		}
		delete(t.byPeerID, peerID)
		evicted = incumbent
	}
	delete(t.byHandshakeID, e.HandshakeID)
	e.HandshakeID = 0
	e.PeerID = peerID
	e.State = Connected
	t.byPeerID[peerID] = e
	return evicted, true
}

// LookupByPeer returns the entry bound to peerID, if any.
func (t *Table) LookupByPeer(peerID int8) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byPeerID[peerID]
	return e, ok
}

// LookupByHandshake returns the entry still parked under handshakeID,
// if any.
func (t *Table) LookupByHandshake(handshakeID int8) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byHandshakeID[handshakeID]
	return e, ok
}

// Remove deletes e from whichever index currently holds it. The
// caller is responsible for closing e.Conn afterward.
func (t *Table) Remove(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// e holds at most one of these slots; deleting a key an entry
	// never occupied is a harmless no-op.
	if existing, ok := t.byPeerID[e.PeerID]; ok && existing == e {
		delete(t.byPeerID, e.PeerID)
	}
	if existing, ok := t.byHandshakeID[e.HandshakeID]; ok && existing == e {
		delete(t.byHandshakeID, e.HandshakeID)
	}
}

// Snapshot returns every tracked entry, for iteration by the liveness
// prober without holding the table lock across probe sends.
func (t *Table) Snapshot() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.byHandshakeID)+len(t.byPeerID))
	for _, e := range t.byHandshakeID {
		out = append(out, e)
	}
	for _, e := range t.byPeerID {
		out = append(out, e)
	}
	return out
}

// SetState updates e's state under the table lock, so readers of
// Snapshot/LookupByPeer never observe a torn state transition.
func (t *Table) SetState(e *Entry, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.State = s
}

// IncrementMissed bumps e's missed-probe counter under the table
// lock and returns the new value, so the liveness prober's ticker
// goroutine and the router's ALIVE_CONFIRM handler (reached from a
// connection's own reader goroutine) never race on it.
func (t *Table) IncrementMissed(e *Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.MissedProbes++
	return e.MissedProbes
}

// ResetMissed clears e's missed-probe counter under the table lock.
func (t *Table) ResetMissed(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.MissedProbes = 0
}
