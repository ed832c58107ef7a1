package gateway

import (
	"context"
	"time"

	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/store/redis"
)

// PubSubRouter relays fresh_analytics envelopes from Redis to the hub, so
// an API process can push outputs computed by another process.
type PubSubRouter struct {
	hub    *Hub
	reader *redis.Reader
	log    *logger.Logger
}

// NewPubSubRouter creates a router reading from r.
func NewPubSubRouter(hub *Hub, r *redis.Reader) *PubSubRouter {
	return &PubSubRouter{hub: hub, reader: r, log: hub.log.With(logger.String("component", "ws_relay"))}
}

// Run subscribes and relays until ctx is cancelled, resubscribing after
// connection errors.
func (r *PubSubRouter) Run(ctx context.Context) {
	var lastCycle string
	for {
		err := r.reader.Subscribe(ctx, func(env redis.Envelope, _ []byte) {
			// outputs can arrive twice after a resubscribe
			if env.Analytics.CycleID != "" && env.Analytics.CycleID == lastCycle {
				return
			}
			lastCycle = env.Analytics.CycleID
			if _, err := r.hub.Broadcaster.Broadcast(env.Analytics); err != nil {
				r.log.Warn("relay broadcast failed", logger.Error(err))
			}
		}, func(err error) {
			r.log.Warn("relay dropped message", logger.Error(err))
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.log.Error("relay subscribe failed", logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}
