// This file is part of fgevents, a typed event-routing fabric for
// embedded peer fleets written in Go.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/config"
	"github.com/linkaan/fgevents/event"
	"github.com/linkaan/fgevents/hub"
)

func main() {
	defer func() {
		logger.Println(logger.INFO, "[fgeventsd] Bye.")
		logger.Flush()
	}()
	logger.Println(logger.INFO, "[fgeventsd] Starting hub...")

	var (
		cfgFile  string
		logLevel int
	)
	flag.StringVar(&cfgFile, "c", "fgevents-config.json", "fgevents configuration file")
	flag.IntVar(&logLevel, "L", logger.INFO, "log level (default: INFO)")
	flag.Parse()

	if err := config.ParseConfig(cfgFile); err != nil {
		logger.Printf(logger.ERROR, "[fgeventsd] invalid configuration file: %s\n", err.Error())
		return
	}
	logger.SetLogLevel(logLevel)

	if config.Cfg.Hub == nil {
		logger.Println(logger.ERROR, "[fgeventsd] configuration has no \"hub\" section")
		return
	}

	pub, err := hub.NewPresencePublisher(config.Cfg.Redis)
	if err != nil {
		logger.Printf(logger.WARN, "[fgeventsd] presence publisher disabled: %s\n", err.Error())
		pub = nil
	}
	if pub != nil {
		defer pub.Close()
	}

	var presence hub.Presence
	if pub != nil {
		presence = pub
	}

	h, err := hub.New(*config.Cfg.Hub, echoCallback, presence)
	if err != nil {
		logger.Printf(logger.ERROR, "[fgeventsd] hub init failed: %s\n", err.Error())
		return
	}
	defer h.Shutdown()

	if config.Cfg.Admin != nil {
		if err := h.AttachAdmin(*config.Cfg.Admin); err != nil {
			logger.Printf(logger.ERROR, "[fgeventsd] admin surface failed: %s\n", err.Error())
			return
		}
	}

	sigCh := make(chan os.Signal, 5)
	signal.Notify(sigCh)

	tick := time.NewTicker(5 * time.Minute)
	defer tick.Stop()

loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGKILL, syscall.SIGINT, syscall.SIGTERM:
				logger.Printf(logger.INFO, "[fgeventsd] terminating (on signal '%s')\n", sig)
				break loop
			case syscall.SIGHUP:
				logger.Println(logger.INFO, "[fgeventsd] SIGHUP")
			default:
				logger.Println(logger.INFO, "[fgeventsd] unhandled signal: "+sig.String())
			}
		case now := <-tick.C:
			logger.Println(logger.INFO, "[fgeventsd] heart beat at "+now.String())
			if err := h.LastError(); err != nil {
				logger.Printf(logger.WARN, "[fgeventsd] last error: %s\n", err.Error())
			}
		}
	}
}

// echoCallback handles events addressed to the hub's own local_id.
// fgeventsd has no application logic of its own; it logs and, if the
// sender asked for writeback, echoes the event back unchanged.
func echoCallback(ev *event.Event) (*event.Event, bool) {
	if ev == nil {
		logger.Println(logger.WARN, "[fgeventsd] callback invoked with an error condition")
		return nil, false
	}
	logger.Printf(logger.DBG, "[fgeventsd] %s\n", ev.String())
	if !ev.Writeback {
		return nil, false
	}
	reply := event.New(ev.ID, ev.Receiver, ev.Sender, false, ev.Payload)
	return reply, true
}
