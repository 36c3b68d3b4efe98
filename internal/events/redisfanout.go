package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisFanout republishes local Bus events to a Redis Pub/Sub channel for
// out-of-process observers — dashboards, the transport/UI layer the core
// explicitly does not own (spec.md §1). It never feeds anything back into
// the engine and carries no state the engine depends on; if Redis is
// unreachable, events are simply dropped and logged. Grounded on the
// teacher's internal/fabric/redis_event_bus.go.
type RedisFanout struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisFanout wires a RedisFanout publishing to the given channel.
func NewRedisFanout(client *redis.Client, channel string, logger *slog.Logger) *RedisFanout {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = "synapse:events"
	}
	return &RedisFanout{client: client, channel: channel, logger: logger.With("component", "events.redisfanout")}
}

// wireEvent is the JSON-safe projection of Event published to Redis; the
// live Event.Payload may hold domain types that aren't meant to be
// re-decoded by an external observer, so only identifying fields cross.
type wireEvent struct {
	Kind    Kind   `json:"kind"`
	Subject string `json:"subject"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

// Attach subscribes the fanout to every event on bus.
func (f *RedisFanout) Attach(bus *Bus) func() {
	return bus.Subscribe(func(ev Event) {
		f.publish(ev)
	})
}

func (f *RedisFanout) publish(ev Event) {
	data, err := json.Marshal(wireEvent{
		Kind:    ev.Kind,
		Subject: ev.Subject,
		Reason:  ev.Reason,
		At:      ev.At.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		f.logger.Warn("marshal event for fanout failed", "error", err)
		return
	}
	if err := f.client.Publish(context.Background(), f.channel, data).Err(); err != nil {
		f.logger.Warn("redis fanout publish failed", "kind", ev.Kind, "error", err)
	}
}
