// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

// Package liveness implements the hub's periodic peer liveness probe.
package liveness

import (
	"time"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/peertable"
)

const (
	// DefaultInterval is the probe tick period.
	DefaultInterval = time.Second
	// DefaultMissThreshold is the number of consecutive unanswered
	// probes after which a peer is marked Dropped.
	DefaultMissThreshold = 5
)

// OnDropped is invoked when a Connected entry crosses the miss
// threshold, outside the table lock.
type OnDropped func(e *peertable.Entry)

// Prober ticks on Interval, sending ALIVE to every Connected peer and
// counting misses since the last ALIVE_CONFIRM.
type Prober struct {
	Table         *peertable.Table
	LocalID       int8
	Interval      time.Duration
	MissThreshold int
	OnDropped     OnDropped

	stop chan struct{}
	done chan struct{}
}

// New builds a Prober with the given configuration, defaulting zero
// values to DefaultInterval/DefaultMissThreshold.
func New(table *peertable.Table, localID int8, interval time.Duration, missThreshold int) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if missThreshold <= 0 {
		missThreshold = DefaultMissThreshold
	}
	return &Prober{
		Table:         table,
		LocalID:       localID,
		Interval:      interval,
		MissThreshold: missThreshold,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the probe loop in its own goroutine until Stop is called.
func (p *Prober) Start() {
	go p.loop()
}

// Stop ends the probe loop and waits for it to exit.
func (p *Prober) Stop() {
	close(p.stop)
	<-p.done
}

func (p *Prober) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Prober) tick() {
	for _, e := range p.Table.Snapshot() {
		if e.State != peertable.Connected {
			continue
		}
		if p.Table.IncrementMissed(e) > p.MissThreshold {
			p.Table.SetState(e, peertable.Dropped)
			if p.OnDropped != nil {
				p.OnDropped(e)
			}
			continue
		}
		alive := event.New(event.Alive, p.LocalID, e.PeerID, false, nil)
		if err := e.Conn.SendEvent(alive); err != nil {
			logger.Printf(logger.WARN, "[liveness] probe to peer %d: %s\n", e.PeerID, err.Error())
		}
	}
}
