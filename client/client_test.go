// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package client

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/linkaan/fgevents/config"
	"github.com/linkaan/fgevents/event"
)

// splitHostPort parses an "host:port" address into the (host string,
// port int) pair NewPeerClientTCP wants.
func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// fakeHub accepts exactly one connection, sends CONFIRMED with a fixed
// handshake id, and hands the caller a net.Conn to script further
// protocol exchange over.
func fakeHub(t *testing.T) (addr string, accepted <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		confirmed := event.New(event.Confirmed, 1, 0, false, []int32{42})
		wire, _ := event.Encode(confirmed)
		conn.Write(wire)
		ch <- conn
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), ch
}

func TestPeerClientHandshakeCompletesReady(t *testing.T) {
	addr, accepted := fakeHub(t)
	host, port := splitHostPort(t, addr)

	c, err := NewPeerClientTCP(config.ClientConfig{LocalID: 7, ReconnectDelayMS: 50}, host, port, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Shutdown)

	if !c.WaitReady(2 * time.Second) {
		t.Fatal("client never became ready")
	}

	conn := <-accepted
	defer conn.Close()

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	ev, _, status := event.Parse(buf[:n], 0)
	if status != event.OK || ev.ID != event.Connected || ev.Sender != 7 || ev.Payload[0] != 42 {
		t.Fatalf("got status=%v ev=%+v, want CONNECTED{sender:7 payload:[42]}", status, ev)
	}
}

func TestPeerClientAnswersAliveWithAliveConfirm(t *testing.T) {
	addr, accepted := fakeHub(t)
	host, port := splitHostPort(t, addr)

	c, err := NewPeerClientTCP(config.ClientConfig{LocalID: 9, ReconnectDelayMS: 50}, host, port, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Shutdown)
	if !c.WaitReady(2 * time.Second) {
		t.Fatal("client never became ready")
	}

	conn := <-accepted
	defer conn.Close()
	// drain the CONNECTED reply first
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.Read(buf)

	alive := event.New(event.Alive, 1, 9, false, nil)
	wire, _ := event.Encode(alive)
	if _, err := conn.Write(wire); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	ev, _, status := event.Parse(buf[:n], 0)
	if status != event.OK || ev.ID != event.AliveConfirm || ev.Sender != 9 {
		t.Fatalf("got status=%v ev=%+v, want ALIVE_CONFIRM{sender:9}", status, ev)
	}
}

func TestPeerClientCallbackInvokedForApplicationEvents(t *testing.T) {
	addr, accepted := fakeHub(t)
	host, port := splitHostPort(t, addr)

	received := make(chan *event.Event, 1)
	cb := func(ev *event.Event) (*event.Event, bool) {
		if ev != nil {
			received <- ev
		}
		return nil, false
	}

	c, err := NewPeerClientTCP(config.ClientConfig{LocalID: 2, ReconnectDelayMS: 50}, host, port, cb, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Shutdown)
	if !c.WaitReady(2 * time.Second) {
		t.Fatal("client never became ready")
	}

	conn := <-accepted
	defer conn.Close()
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.Read(buf) // drain CONNECTED

	appEv := event.New(101, 3, 2, false, []int32{1, 2, 3})
	wire, _ := event.Encode(appEv)
	conn.Write(wire)

	select {
	case ev := <-received:
		if ev.ID != 101 || ev.Sender != 3 {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestPeerClientShutdownSendsDisconnected(t *testing.T) {
	addr, accepted := fakeHub(t)
	host, port := splitHostPort(t, addr)

	c, err := NewPeerClientTCP(config.ClientConfig{LocalID: 4, ReconnectDelayMS: 50}, host, port, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.WaitReady(2 * time.Second) {
		t.Fatal("client never became ready")
	}

	conn := <-accepted
	defer conn.Close()
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	conn.Read(buf) // drain CONNECTED

	c.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	ev, _, status := event.Parse(buf[:n], 0)
	if status != event.OK || ev.ID != event.Disconnected || ev.Sender != 4 {
		t.Fatalf("got status=%v ev=%+v, want DISCONNECTED{sender:4}", status, ev)
	}
}
