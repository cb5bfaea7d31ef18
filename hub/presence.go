// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bfix/gospel/logger"

	"github.com/linkaan/fgevents/config"
)

// PresencePublisher fans out connect/disconnect/drop notifications to
// a Redis pub/sub channel for external monitoring. It is explicitly
// not durable storage: nothing is persisted, there is no consumer
// group, and a missed publish is simply lost.
type PresencePublisher struct {
	client  *redis.Client
	channel string
}

// presenceMessage is the JSON payload published on Channel.
type presenceMessage struct {
	Kind   string `json:"kind"`
	PeerID int8   `json:"peerId"`
}

// NewPresencePublisher connects to the configured Redis address. A
// nil cfg or empty Addr means presence publishing is disabled; New
// returns (nil, nil) in that case.
func NewPresencePublisher(cfg *config.RedisConfig) (*PresencePublisher, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "fgevents.presence"
	}
	return &PresencePublisher{client: client, channel: channel}, nil
}

// Publish sends a best-effort presence notification. Failures are
// logged and otherwise ignored; Publish never blocks the caller
// (hub/liveness loops) for more than a short timeout.
func (p *PresencePublisher) Publish(kind string, peerID int8) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(presenceMessage{Kind: kind, PeerID: peerID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logger.Printf(logger.WARN, "[hub/presence] publish: %s\n", err.Error())
	}
}

// Close releases the Redis client connection.
func (p *PresencePublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
