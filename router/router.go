// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package router implements the hub's inbound-event decision table:
// given the Connection an event arrived on and the decoded event
// itself, decide whether to handle it as hub control traffic, invoke
// the application callback, or forward it toward its receiver.
package router

import (
	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/peertable"
)

// Callback is invoked for events addressed to the hub itself
// (receiver == LocalID). ev == nil signals an error condition (the
// caller's LastError is expected to have recorded it). A non-nil
// returned event is sent back through Route as a reply if writeback
// is true and the inbound event had Writeback set.
type Callback func(ev *event.Event) (reply *event.Event, writeback bool)

// Hooks lets the hub observe router decisions without the router
// needing to know about liveness bookkeeping or presence publishing
// directly.
type Hooks struct {
	// OnAliveConfirm resets the missed-probe counter for the entry.
	OnAliveConfirm func(e *peertable.Entry)
	// OnConnected fires once a handshake completes and e is bound.
	OnConnected func(e *peertable.Entry)
	// OnDisconnected fires on a graceful client shutdown notice.
	OnDisconnected func(e *peertable.Entry)
}

// Router holds everything the decision table needs to resolve and
// act on one inbound event.
type Router struct {
	Table    *peertable.Table
	LocalID  int8
	Callback Callback
	Hooks    Hooks
}

// New builds a Router. cb may be nil if the hub has no local
// application callback.
func New(table *peertable.Table, localID int8, cb Callback) *Router {
	return &Router{Table: table, LocalID: localID, Callback: cb}
}

// Route applies the decision table to one (source, event) pair.
func (r *Router) Route(src *peertable.Entry, ev *event.Event) {
	switch {
	case ev.ID == event.Connected:
		r.handleConnected(src, ev)
		return
	case ev.ID == event.AliveConfirm:
		r.handleAliveConfirm(src, ev)
		return
	case ev.ID == event.Disconnected:
		r.handleDisconnected(src, ev)
		return
	case ev.Receiver == r.LocalID:
		r.handleLocal(src, ev)
		return
	default:
		r.forward(src, ev)
	}
}

func (r *Router) handleConnected(src *peertable.Entry, ev *event.Event) {
	if len(ev.Payload) < 1 {
		logger.Printf(logger.WARN, "[router] CONNECTED with no handshake id from %s\n", src.Conn.Remote())
		return
	}
	handshakeID := int8(ev.Payload[0])
	e, ok := r.Table.LookupByHandshake(handshakeID)
	if !ok || e != src {
		logger.Printf(logger.WARN, "[router] CONNECTED references unknown handshake id %d\n", handshakeID)
		return
	}
	evicted, ok := r.Table.Bind(e, ev.Sender)
	if !ok {
		logger.Printf(logger.WARN, "[router] rejecting duplicate identity for peer %d\n", ev.Sender)
		return
	}
	if evicted != nil {
		evicted.Conn.Close()
	}
	if r.Hooks.OnConnected != nil {
		r.Hooks.OnConnected(e)
	}
}

func (r *Router) handleAliveConfirm(src *peertable.Entry, ev *event.Event) {
	e, ok := r.Table.LookupByPeer(ev.Sender)
	if !ok {
		logger.Printf(logger.WARN, "[router] ALIVE_CONFIRM from unknown peer %d\n", ev.Sender)
		return
	}
	if r.Hooks.OnAliveConfirm != nil {
		r.Hooks.OnAliveConfirm(e)
	}
}

func (r *Router) handleDisconnected(src *peertable.Entry, ev *event.Event) {
	e, ok := r.Table.LookupByPeer(ev.Sender)
	if !ok {
		e = src
	}
	r.Table.SetState(e, peertable.Disconnected)
	if r.Hooks.OnDisconnected != nil {
		r.Hooks.OnDisconnected(e)
	}
}

func (r *Router) handleLocal(src *peertable.Entry, ev *event.Event) {
	if r.Callback == nil {
		return
	}
	reply, writeback := r.Callback(ev)
	if reply != nil && writeback && ev.Writeback {
		r.Route(src, reply)
	}
}

// forward delivers ev to its receiver's Connection, or tells the
// sender the receiver is offline, or silently drops it if the
// receiver is entirely unknown.
func (r *Router) forward(src *peertable.Entry, ev *event.Event) {
	target, ok := r.Table.LookupByPeer(ev.Receiver)
	if !ok {
		// Unknown receiver: dropped silently (open question, decided:
		// no NO_SUCH_USER reply without a spec for its shape).
		return
	}
	if target.State != peertable.Connected {
		offline := event.New(event.UserOffline, r.LocalID, ev.Sender, false, nil)
		if err := src.Conn.SendEvent(offline); err != nil {
			logger.Printf(logger.WARN, "[router] USER_OFFLINE reply: %s\n", err.Error())
		}
		return
	}
	if err := target.Conn.SendEvent(ev); err != nil {
		logger.Printf(logger.WARN, "[router] forward to peer %d: %s\n", ev.Receiver, err.Error())
	}
}
