// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package client implements PeerClient: the peer-side counterpart to
// the hub, owning a single reconnecting Connection, the handshake
// that assigns it a peer identity, and liveness probe replies.
package client

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/config"
	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/transport"
)

// DefaultReconnectDelay is used when ClientConfig.ReconnectDelayMS is
// zero or negative. The protocol specifies a fixed delay with no
// jitter.
const DefaultReconnectDelay = 10 * time.Second

// Callback handles events delivered to this peer, other than the
// handshake and liveness control traffic the client answers itself.
// ev == nil signals a transport or protocol error; LastError carries
// the detail. See router.Callback for the reply/writeback contract.
type Callback func(ev *event.Event) (reply *event.Event, writeback bool)

// ReadCallback, if non-nil, is handed every raw chunk of bytes read
// off the wire before framing is applied — the receive-side escape
// hatch paired with SendData's raw passthrough.
type ReadCallback func(b []byte)

// dialer abstracts dialing a TCP address or a Unix-domain socket path
// behind one reconnect loop.
type dialer func() (net.Conn, error)

// PeerClient owns one reconnecting Connection to a hub. Construct
// with NewPeerClientTCP or NewPeerClientUDS.
type PeerClient struct {
	localID int8
	dial    dialer
	cb      Callback
	onRead  ReadCallback
	delay   time.Duration

	mu   sync.Mutex
	conn *transport.Connection

	ready    chan struct{} // closed once, on first CONFIRMED
	readyOne sync.Once

	lastErr atomic.Value // error

	running int32
	stop    chan struct{}
	done    chan struct{}
}

// NewPeerClientTCP dials host:port and starts the reconnect loop.
func NewPeerClientTCP(cfg config.ClientConfig, host string, port int, cb Callback, onRead ReadCallback) (*PeerClient, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return newPeerClient(cfg, func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	}, cb, onRead)
}

// NewPeerClientUDS dials a Unix-domain stream socket at path and
// starts the reconnect loop.
func NewPeerClientUDS(cfg config.ClientConfig, path string, cb Callback, onRead ReadCallback) (*PeerClient, error) {
	return newPeerClient(cfg, func() (net.Conn, error) {
		return net.Dial("unix", path)
	}, cb, onRead)
}

func newPeerClient(cfg config.ClientConfig, dial dialer, cb Callback, onRead ReadCallback) (*PeerClient, error) {
	delay := DefaultReconnectDelay
	if cfg.ReconnectDelayMS > 0 {
		delay = time.Duration(cfg.ReconnectDelayMS) * time.Millisecond
	}
	c := &PeerClient{
		localID: cfg.LocalID,
		dial:    dial,
		cb:      cb,
		onRead:  onRead,
		delay:   delay,
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	atomic.StoreInt32(&c.running, 1)
	go c.loop()
	return c, nil
}

// loop is the client's reactor: (re)dial, subscribe, wait for the
// Connection to end, sleep the fixed delay, repeat until Shutdown.
func (c *PeerClient) loop() {
	defer close(c.done)
	for atomic.LoadInt32(&c.running) == 1 {
		c.connectOnce()
		if atomic.LoadInt32(&c.running) == 0 {
			return
		}
		select {
		case <-c.stop:
			return
		case <-time.After(c.delay):
		}
	}
}

// connectOnce dials, subscribes, and blocks until the Connection ends
// (error, EOF, or Shutdown closing it out from under the reader).
func (c *PeerClient) connectOnce() {
	ended := make(chan struct{})

	nc, err := c.dial()
	if err != nil {
		c.setLastError(err)
		c.notifyError(err)
		return
	}

	conn := transport.NewConnection(nc)
	if c.onRead != nil {
		conn.SetOnRaw(func(_ *transport.Connection, b []byte) {
			c.onRead(b)
		})
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.Subscribe(
		func(cc *transport.Connection, ev *event.Event) { c.onEvent(ev) },
		func(cc *transport.Connection, err error) {
			c.setLastError(err)
			c.notifyError(err)
			close(ended)
		},
		func(cc *transport.Connection) {
			close(ended)
		},
	)

	<-ended
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *PeerClient) onEvent(ev *event.Event) {
	switch ev.ID {
	case event.Confirmed:
		c.handleConfirmed(ev)
		return
	case event.Alive:
		c.replyAliveConfirm()
		return
	}
	if c.cb == nil {
		return
	}
	reply, writeback := c.cb(ev)
	if reply != nil && writeback && ev.Writeback {
		if err := c.SendEvent(reply); err != nil {
			logger.Printf(logger.WARN, "[client] reply send: %s\n", err.Error())
		}
	}
}

func (c *PeerClient) handleConfirmed(ev *event.Event) {
	if len(ev.Payload) < 1 {
		logger.Printf(logger.WARN, "[client] CONFIRMED with no handshake id\n")
		return
	}
	connected := event.New(event.Connected, c.localID, 0, false, ev.Payload[:1])
	if err := c.SendEvent(connected); err != nil {
		logger.Printf(logger.WARN, "[client] CONNECTED send failed: %s\n", err.Error())
		return
	}
	c.readyOne.Do(func() { close(c.ready) })
}

func (c *PeerClient) replyAliveConfirm() {
	confirm := event.New(event.AliveConfirm, c.localID, 0, false, nil)
	if err := c.SendEvent(confirm); err != nil {
		logger.Printf(logger.WARN, "[client] ALIVE_CONFIRM send failed: %s\n", err.Error())
	}
}

func (c *PeerClient) notifyError(err error) {
	if c.cb == nil {
		return
	}
	c.cb(nil)
}

// WaitReady blocks until the handshake completes (CONFIRMED seen and
// CONNECTED sent) or the timeout elapses.
func (c *PeerClient) WaitReady(timeout time.Duration) bool {
	select {
	case <-c.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SendEvent stamps ev.Sender with this client's local id and sends it
// on the current Connection.
func (c *PeerClient) SendEvent(ev *event.Event) error {
	ev.Sender = c.localID
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrClosed
	}
	return conn.SendEvent(ev)
}

// SendData writes b directly to the wire, bypassing event.Encode.
// Callers are responsible for ensuring the receiver can make sense of
// unframed (or self-framed) bytes; this must never be used to send
// control events.
func (c *PeerClient) SendData(b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.ErrClosed
	}
	return conn.Write(b)
}

// LastError returns the most recently recorded asynchronous error, or
// nil if none occurred.
func (c *PeerClient) LastError() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (c *PeerClient) setLastError(err error) {
	c.lastErr.Store(err)
}

// Shutdown stops the reconnect loop and closes the current Connection
// after best-effort sending a DISCONNECTED notice. It blocks until the
// loop goroutine has exited.
func (c *PeerClient) Shutdown() {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		<-c.done
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		bye := event.New(event.Disconnected, c.localID, 0, false, nil)
		if err := conn.SendEvent(bye); err != nil {
			logger.Printf(logger.WARN, "[client] DISCONNECTED send failed: %s\n", err.Error())
		}
		conn.Close()
	}
	close(c.stop)
	<-c.done
}

