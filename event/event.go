// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package event defines the wire event exchanged between peers and the
// hub, and the framer that serializes/parses it.
package event

import "fmt"

// Reserved control event ids. Application event ids must be strictly
// greater than Floor; values at or below Floor are produced by the
// library itself and never by application code.
const (
	Floor = 100

	// Confirmed is sent hub -> client carrying the handshake id assigned
	// at accept time. The client is expected to reply with Connected.
	Confirmed int32 = iota + 1
	// Connected is sent client -> hub carrying the handshake id the
	// client was given; Sender on the event is the peer id the client
	// has chosen for itself.
	Connected
	// Disconnected is a graceful shutdown notice, client -> hub.
	Disconnected
	// Alive is a liveness query, hub -> client, Receiver is the target peer.
	Alive
	// AliveConfirm answers Alive, client -> hub, Sender is the responder.
	AliveConfirm
	// UserOffline tells a sender that its last message's receiver was
	// not connected, hub -> client.
	UserOffline
)

// Event is the unit of communication routed between peers.
type Event struct {
	ID        int32
	Sender    int8
	Receiver  int8
	Writeback bool
	Payload   []int32
}

// Length returns the number of payload words, matching the wire field
// of the same name.
func (e *Event) Length() int32 {
	return int32(len(e.Payload))
}

// IsControl reports whether this event was produced by the library
// itself rather than application code.
func (e *Event) IsControl() bool {
	return e.ID <= Floor
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{id:%d sender:%d receiver:%d wb:%v len:%d}",
		e.ID, e.Sender, e.Receiver, e.Writeback, len(e.Payload))
}

// New builds an event with the given header fields and payload.
func New(id int32, sender, receiver int8, writeback bool, payload []int32) *Event {
	return &Event{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Writeback: writeback,
		Payload:   payload,
	}
}
