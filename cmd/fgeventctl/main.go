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

	"github.com/linkaan/fgevents/client"
	"github.com/linkaan/fgevents/config"
	"github.com/linkaan/fgevents/event"
)

func main() {
	defer func() {
		logger.Println(logger.INFO, "[fgeventctl] Bye.")
		logger.Flush()
	}()
	logger.Println(logger.INFO, "[fgeventctl] Starting peer client...")

	var (
		cfgFile  string
		logLevel int
	)
	flag.StringVar(&cfgFile, "c", "fgevents-config.json", "fgevents configuration file")
	flag.IntVar(&logLevel, "L", logger.INFO, "log level (default: INFO)")
	flag.Parse()

	if err := config.ParseConfig(cfgFile); err != nil {
		logger.Printf(logger.ERROR, "[fgeventctl] invalid configuration file: %s\n", err.Error())
		return
	}
	logger.SetLogLevel(logLevel)

	if config.Cfg.Client == nil {
		logger.Println(logger.ERROR, "[fgeventctl] configuration has no \"client\" section")
		return
	}
	cfg := *config.Cfg.Client

	var (
		c   *client.PeerClient
		err error
	)
	if cfg.UDSPath != "" {
		c, err = client.NewPeerClientUDS(cfg, cfg.UDSPath, logCallback, nil)
	} else {
		c, err = client.NewPeerClientTCP(cfg, cfg.Host, cfg.Port, logCallback, nil)
	}
	if err != nil {
		logger.Printf(logger.ERROR, "[fgeventctl] client init failed: %s\n", err.Error())
		return
	}
	defer c.Shutdown()

	if !c.WaitReady(30 * time.Second) {
		logger.Println(logger.WARN, "[fgeventctl] still waiting on handshake after 30s")
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
				logger.Printf(logger.INFO, "[fgeventctl] terminating (on signal '%s')\n", sig)
				break loop
			case syscall.SIGHUP:
				logger.Println(logger.INFO, "[fgeventctl] SIGHUP")
			default:
				logger.Println(logger.INFO, "[fgeventctl] unhandled signal: "+sig.String())
			}
		case now := <-tick.C:
			logger.Println(logger.INFO, "[fgeventctl] heart beat at "+now.String())
			if err := c.LastError(); err != nil {
				logger.Printf(logger.WARN, "[fgeventctl] last error: %s\n", err.Error())
			}
		}
	}
}

// logCallback just logs inbound application events; a real peer
// would replace this with domain logic.
func logCallback(ev *event.Event) (*event.Event, bool) {
	if ev == nil {
		logger.Println(logger.WARN, "[fgeventctl] callback invoked with an error condition")
		return nil, false
	}
	logger.Printf(logger.INFO, "[fgeventctl] received %s\n", ev.String())
	return nil, false
}
