// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package transport

import (
	"net"
	"os"
	"path/filepath"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/util"
)

// Listener accepts connections on a TCP address and, optionally, a
// Unix-domain socket path, and delivers each as a *Connection on a
// single channel. Close stops both listeners; the accept channel is
// then closed once both goroutines have exited.
type Listener struct {
	tcp net.Listener
	uds net.Listener

	conns chan *Connection
	done  chan struct{}
}

// Listen binds a TCP listener on addr (":0" for an OS-chosen port)
// and, if udsPath is non-empty, a Unix-domain stream listener at that
// path, removing any stale socket file first.
func Listen(addr, udsPath string) (*Listener, error) {
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		tcp:   tcp,
		conns: make(chan *Connection),
		done:  make(chan struct{}),
	}
	if udsPath != "" {
		if err := util.EnforceDirExists(filepath.Dir(udsPath)); err != nil {
			tcp.Close()
			return nil, err
		}
		if err := removeStaleSocket(udsPath); err != nil {
			tcp.Close()
			return nil, err
		}
		uds, err := net.Listen("unix", udsPath)
		if err != nil {
			tcp.Close()
			return nil, err
		}
		l.uds = uds
	}

	pending := 1
	if l.uds != nil {
		pending = 2
	}
	finished := make(chan struct{}, pending)
	go l.acceptLoop(l.tcp, finished)
	if l.uds != nil {
		go l.acceptLoop(l.uds, finished)
	}
	go func() {
		for i := 0; i < pending; i++ {
			<-finished
		}
		close(l.conns)
	}()
	return l, nil
}

// removeStaleSocket unlinks a leftover Unix-domain socket file from a
// previous, uncleanly terminated run so bind can succeed.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener, finished chan<- struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.done:
			default:
				logger.Printf(logger.WARN, "[transport] accept: %s\n", err.Error())
			}
			finished <- struct{}{}
			return
		}
		l.conns <- NewConnection(conn)
	}
}

// Accept returns the channel new Connections arrive on. It is closed
// once Close has stopped both listeners and both accept loops exit.
func (l *Listener) Accept() <-chan *Connection {
	return l.conns
}

// Addr returns the bound TCP address, letting a caller read back an
// OS-chosen port.
func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}

// Close stops both listeners. Already-accepted Connections are
// unaffected.
func (l *Listener) Close() error {
	close(l.done)
	err := l.tcp.Close()
	if l.uds != nil {
		if err2 := l.uds.Close(); err == nil {
			err = err2
		}
	}
	return err
}
