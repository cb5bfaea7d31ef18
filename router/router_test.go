// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package router

import (
	"net"
	"testing"
	"time"

	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/peertable"
	"github.com/linkaan/fgevents/transport"
)

func pairedEntries(t *testing.T) (a, b *peertable.Entry, table *peertable.Table) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted

	table = peertable.New()
	a = table.Add(transport.NewConnection(clientConn), 1)
	table.Bind(a, 2)
	b = table.Add(transport.NewConnection(serverConn), 2)
	table.Bind(b, 3)
	return
}

func TestRouteForwardsToConnectedReceiver(t *testing.T) {
	a, b, table := pairedEntries(t)
	_ = a
	defer b.Conn.Close()

	// a and b are the two ends of one socket: what the router writes to
	// b's Connection is read on a's.
	received := make(chan *event.Event, 1)
	a.Conn.Subscribe(func(c *transport.Connection, ev *event.Event) {
		received <- ev
	}, nil, nil)

	r := New(table, 0, nil)
	ev := event.New(101, 2, 3, false, []int32{1, 2, 3})
	r.Route(a, ev)

	select {
	case got := <-received:
		if got.ID != 101 || got.Sender != 2 {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never forwarded")
	}
}

func TestRouteUnknownReceiverDroppedSilently(t *testing.T) {
	a, b, table := pairedEntries(t)
	defer b.Conn.Close()

	r := New(table, 0, nil)
	// receiver 99 doesn't exist in the table
	ev := event.New(101, 2, 99, false, nil)
	r.Route(a, ev) // must not panic or block
}

func TestRouteOfflineReceiverGetsUserOffline(t *testing.T) {
	a, b, table := pairedEntries(t)
	defer b.Conn.Close()
	table.SetState(b, peertable.Disconnected)

	// what the router writes back to a's Connection is read on b's
	// (the other end of the same socket).
	received := make(chan *event.Event, 1)
	b.Conn.Subscribe(func(c *transport.Connection, ev *event.Event) {
		received <- ev
	}, nil, nil)

	r := New(table, 0, nil)
	ev := event.New(101, 2, 3, false, nil)
	r.Route(a, ev)

	select {
	case got := <-received:
		if got.ID != event.UserOffline || got.Receiver != 2 {
			t.Fatalf("got %+v, want USER_OFFLINE addressed back to sender", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("USER_OFFLINE never sent")
	}
}

func TestRouteAliveConfirmInvokesHook(t *testing.T) {
	a, b, table := pairedEntries(t)
	defer a.Conn.Close()
	defer b.Conn.Close()

	r := New(table, 0, nil)
	called := make(chan *peertable.Entry, 1)
	r.Hooks.OnAliveConfirm = func(e *peertable.Entry) { called <- e }

	ev := event.New(event.AliveConfirm, 2, 0, false, nil)
	r.Route(a, ev)

	select {
	case e := <-called:
		if e != a {
			t.Fatal("hook invoked with wrong entry")
		}
	case <-time.After(time.Second):
		t.Fatal("OnAliveConfirm hook never called")
	}
}

func TestRouteConnectedBindsAndFiresHook(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	serverConn := <-accepted
	defer clientConn.Close()
	defer serverConn.Close()

	table := peertable.New()
	parked := table.Add(transport.NewConnection(serverConn), 5)

	r := New(table, 0, nil)
	called := make(chan *peertable.Entry, 1)
	r.Hooks.OnConnected = func(e *peertable.Entry) { called <- e }

	ev := event.New(event.Connected, 7, 0, false, []int32{5})
	r.Route(parked, ev)

	select {
	case e := <-called:
		if e.PeerID != 7 || e.State != peertable.Connected {
			t.Fatalf("entry after bind = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("OnConnected hook never called")
	}
	if _, ok := table.LookupByHandshake(5); ok {
		t.Fatal("handshake slot should be cleared")
	}
}
