// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package transport implements the framed Connection abstraction over
// TCP and Unix-domain stream sockets, and the dual-transport Listener
// the hub accepts on.
package transport

import (
	"errors"
	"io"
	"net"
	"runtime"
	"sync"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/event"
)

// OnBytes is invoked by the owning reader task for every decoded
// event found in a read. OnError is invoked on transport or staging
// failures; OnEOF on a clean peer-initiated close. All three run on
// the Connection's own reader goroutine and must not block it for
// long.
type OnBytes func(conn *Connection, ev *event.Event)
type OnError func(conn *Connection, err error)
type OnEOF func(conn *Connection)

// OnRaw, if set via SetOnRaw, is invoked with every raw chunk read off
// the wire before framing is applied — the escape hatch a caller uses
// to observe bytes sent as a raw passthrough (see Connection.Write
// callers that bypass event.Encode).
type OnRaw func(conn *Connection, b []byte)

// Connection wraps a single accepted or dialed net.Conn. Writes from
// arbitrary goroutines are serialized by wmu; exactly one reader
// goroutine (started by Subscribe) owns the staging buffer and the
// decode loop.
type Connection struct {
	conn   net.Conn
	remote string

	wmu    sync.Mutex
	closed bool

	onBytes OnBytes
	onError OnError
	onEOF   OnEOF
	onRaw   OnRaw

	// Tag is free-form storage for the owner (hub/client) to stash its
	// own bookkeeping (peer id, handshake id, ...) without needing a
	// side table keyed by *Connection.
	Tag interface{}
}

// NewConnection wraps an already-open net.Conn. TCP_NODELAY is
// enabled where applicable; Unix-domain sockets have no such option.
func NewConnection(conn net.Conn) *Connection {
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logger.Printf(logger.WARN, "[transport] SetNoDelay: %s\n", err.Error())
		}
	}
	return &Connection{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
	}
}

// Remote returns the peer address string, for logging.
func (c *Connection) Remote() string {
	return c.remote
}

// SetOnRaw installs a raw-bytes tap, called once per successful read
// with exactly the bytes that arrived in that read (before framing).
// Must be set before Subscribe starts the reader goroutine.
func (c *Connection) SetOnRaw(fn OnRaw) {
	c.onRaw = fn
}

// Subscribe installs the callbacks invoked by the reader task and
// starts that task. It must be called at most once per Connection.
func (c *Connection) Subscribe(onBytes OnBytes, onError OnError, onEOF OnEOF) {
	c.onBytes = onBytes
	c.onError = onError
	c.onEOF = onEOF
	go c.readLoop()
}

// Write appends buf to the connection under the send-buffer lock and
// writes it to the transport. Safe to call concurrently from any
// number of goroutines; each call's bytes reach the wire as one
// contiguous, non-interleaved write.
//
// suppressSigpipe/restoreSigpipe manipulate the calling OS thread's
// signal mask, not the goroutine's; without LockOSThread the runtime
// is free to resume this goroutine on a different thread between the
// suppress call and the write (or between the write and the restore),
// which would mask SIGPIPE on one thread and unmask it on another and
// could leak a thread with SIGPIPE permanently blocked back into the
// scheduler's pool. Locking for the duration of the three calls is
// the fix recommended for exactly this class of bug.
func (c *Connection) Write(buf []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pending, blocked := suppressSigpipe()
	_, err := c.conn.Write(buf)
	restoreSigpipe(pending, blocked)
	return err
}

// SendEvent encodes ev and writes it.
func (c *Connection) SendEvent(ev *event.Event) error {
	buf, err := event.Encode(ev)
	if err != nil {
		return err
	}
	return c.Write(buf)
}

// Close is idempotent. Subsequent Write calls return ErrClosed.
func (c *Connection) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// readLoop reads into a growable staging buffer, drains complete
// frames out of it with event.Parse, and hands each decoded event to
// onBytes. A short read at the tail of the buffer that does not yet
// form a complete frame is preserved for the next read.
func (c *Connection) readLoop() {
	staging := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := c.conn.Read(chunk)
		if n > 0 {
			if c.onRaw != nil {
				c.onRaw(c, chunk[:n])
			}
			staging = append(staging, chunk[:n]...)
			staging = c.drain(staging)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if c.onEOF != nil {
					c.onEOF(c)
				}
			} else if c.onError != nil {
				c.onError(c, err)
			}
			return
		}
	}
}

// drain loops event.Parse over buf until it reports Empty or
// Truncated, delivering each OK frame, and returns whatever unparsed
// tail remains (to be grown by the next read). A header declaring a
// negative length is skipped and scanning goes on after it.
func (c *Connection) drain(buf []byte) []byte {
	cursor := 0
	for {
		ev, next, status := event.Parse(buf, cursor)
		switch status {
		case event.OK:
			if c.onBytes != nil {
				c.onBytes(c, ev)
			}
			cursor = next
		case event.Truncated:
			if next < len(buf) {
				// malformed header: skip past it and keep scanning
				cursor = next
				continue
			}
			return append([]byte(nil), buf[cursor:]...)
		case event.Empty:
			return buf[:0]
		}
	}
}
