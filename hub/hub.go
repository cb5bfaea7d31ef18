// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package hub implements the fgevents hub: it accepts peer
// connections over TCP and/or UDS, assigns identities, routes
// between peers, and probes liveness.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/config"
	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/liveness"
	"github.com/linkaan/fgevents/peertable"
	"github.com/linkaan/fgevents/router"
	"github.com/linkaan/fgevents/transport"
)

// Callback handles events addressed to the hub itself. See
// router.Callback for the exact contract.
type Callback = router.Callback

// Presence is the minimal interface the hub needs from an optional
// presence publisher; satisfied by *hub.PresencePublisher.
type Presence interface {
	Publish(kind string, peerID int8)
}

// Hub orchestrates the TCP/UDS listeners, the PeerTable, the Router,
// and the LivenessProbe. Construct with New; it starts accepting
// immediately.
type Hub struct {
	localID  int8
	udsPath  string
	table    *peertable.Table
	router   *router.Router
	prober   *liveness.Prober
	ln       *transport.Listener
	admin    *AdminServer
	presence Presence

	lastErr atomic.Value // error

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New binds the hub's listeners and starts its accept and probe
// loops. cb handles events addressed to the hub itself and may be
// nil.
func New(cfg config.HubConfig, cb Callback, presence Presence) (*Hub, error) {
	ln, err := transport.Listen(addrFor(cfg.Port), cfg.UDSPath)
	if err != nil {
		return nil, err
	}

	h := &Hub{
		localID:  cfg.LocalID,
		udsPath:  cfg.UDSPath,
		table:    peertable.New(),
		ln:       ln,
		presence: presence,
		shutdown: make(chan struct{}),
	}
	h.router = router.New(h.table, cfg.LocalID, cb)
	h.router.Hooks = router.Hooks{
		OnAliveConfirm: func(e *peertable.Entry) {
			h.table.ResetMissed(e)
		},
		OnConnected: func(e *peertable.Entry) {
			logger.Printf(logger.INFO, "[hub] peer %d connected (handshake %d)\n", e.PeerID, e.HandshakeID)
			if h.presence != nil {
				h.presence.Publish("connected", e.PeerID)
			}
		},
		OnDisconnected: func(e *peertable.Entry) {
			logger.Printf(logger.INFO, "[hub] peer %d disconnected\n", e.PeerID)
			if h.presence != nil {
				h.presence.Publish("disconnected", e.PeerID)
			}
		},
	}

	interval := 0
	if cfg.ProbeIntervalMS > 0 {
		interval = cfg.ProbeIntervalMS
	}
	h.prober = liveness.New(h.table, cfg.LocalID, msToDuration(interval), cfg.ProbeMissThreshold)
	h.prober.OnDropped = func(e *peertable.Entry) {
		logger.Printf(logger.WARN, "[hub] peer %d dropped (missed probes)\n", e.PeerID)
		if h.presence != nil {
			h.presence.Publish("dropped", e.PeerID)
		}
	}
	h.prober.Start()

	h.wg.Add(1)
	go h.acceptLoop()

	return h, nil
}

// AttachAdmin starts the read-only admin HTTP/RPC surface and ties
// its lifetime to the hub's shutdown. Safe to call at most once.
func (h *Hub) AttachAdmin(cfg config.AdminConfig) error {
	if cfg.Addr == "" {
		return nil
	}
	admin, err := newAdminServer(cfg.Addr, h.Status)
	if err != nil {
		return err
	}
	h.admin = admin
	return nil
}

// Status reports a snapshot of PeerTable state for the admin surface.
func (h *Hub) Status() HubStatus {
	snap := h.table.Snapshot()
	peers := make([]PeerStatus, 0, len(snap))
	for _, e := range snap {
		peers = append(peers, PeerStatus{
			HandshakeID:  e.HandshakeID,
			PeerID:       e.PeerID,
			State:        e.State.String(),
			MissedProbes: e.MissedProbes,
		})
	}
	return HubStatus{
		LocalID: h.localID,
		TCPAddr: h.ln.Addr().String(),
		UDSAddr: h.udsPath,
		Peers:   peers,
	}
}

// LastError returns the most recently recorded asynchronous error, or
// nil if none occurred.
func (h *Hub) LastError() error {
	if v := h.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (h *Hub) setLastError(err error) {
	h.lastErr.Store(err)
}

// SendEvent writes ev to the Connection bound to ev.Receiver and
// returns an error if no Connected peer holds that id. The event does
// not pass through the Router: ev.Sender is sent as given, no
// USER_OFFLINE reply is produced, and an event addressed to the hub's
// own local_id is not handed to its callback.
func (h *Hub) SendEvent(ev *event.Event) error {
	entry, ok := h.table.LookupByPeer(ev.Receiver)
	if !ok {
		return errors.New("hub: receiver not connected")
	}
	if entry.State != peertable.Connected {
		return errors.New("hub: receiver not connected")
	}
	return entry.Conn.SendEvent(ev)
}

// Shutdown stops accepting new connections, stops the liveness
// prober and admin surface, and closes every tracked Connection.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		close(h.shutdown)
		h.ln.Close()
		h.prober.Stop()
		if h.admin != nil {
			h.admin.Close()
		}
		h.wg.Wait()
		for _, e := range h.table.Snapshot() {
			e.Conn.Close()
		}
	})
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for conn := range h.ln.Accept() {
		h.onAccept(conn)
	}
}

func (h *Hub) onAccept(conn *transport.Connection) {
	entry, err := h.table.AddNext(conn)
	if err != nil {
		logger.Printf(logger.ERROR, "[hub] accept rejected: %s\n", err.Error())
		conn.Close()
		return
	}
	conn.Tag = entry

	conn.Subscribe(
		func(c *transport.Connection, ev *event.Event) {
			h.router.Route(entry, ev)
		},
		func(c *transport.Connection, err error) {
			h.setLastError(err)
			h.markAndDrop(entry)
		},
		func(c *transport.Connection) {
			h.markAndDrop(entry)
		},
	)

	confirmed := event.New(event.Confirmed, h.localID, 0, false, []int32{int32(entry.HandshakeID)})
	if err := conn.SendEvent(confirmed); err != nil {
		logger.Printf(logger.WARN, "[hub] CONFIRMED send failed: %s\n", err.Error())
	}
}

func (h *Hub) markAndDrop(e *peertable.Entry) {
	h.table.Remove(e)
	e.Conn.Close()
}

