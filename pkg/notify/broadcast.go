// Package notify fans state-change events out to push consumers and keeps
// a durable update log for clients that poll instead.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"querydesk/pkg/logger"
	"querydesk/pkg/models"
	"querydesk/pkg/store"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "querydesk:updates"

// Broadcaster publishes update events. Publish failures are contained:
// the state transition that produced the event has already committed, so
// a lost broadcast is logged and recoverable through the durable log.
type Broadcaster struct {
	client  *redis.Client
	channel string

	mu   sync.Mutex
	subs []chan models.UpdateEvent
}

// New creates a broadcaster. redisURL may be empty, in which case the
// pub/sub leg is disabled and only the durable log and in-process
// subscribers are served.
func New(redisURL, channel string) (*Broadcaster, error) {
	b := &Broadcaster{channel: channel}
	if b.channel == "" {
		b.channel = DefaultChannel
	}
	if redisURL == "" {
		return b, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	b.client = client
	return b, nil
}

// Close drops every in-process subscriber and releases the redis
// connection if one was configured.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// Subscribe registers an in-process consumer. The returned cancel drops
// the registration and closes the channel. Slow consumers drop events
// rather than blocking the publisher; the durable log is the catch-up
// path.
func (b *Broadcaster) Subscribe() (<-chan models.UpdateEvent, func()) {
	ch := make(chan models.UpdateEvent, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subs {
			if c == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish appends the event to the durable update log and fans it out.
// Never returns an error: failures are logged and counted.
func (b *Broadcaster) Publish(ctx context.Context, ev models.UpdateEvent) {
	if ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}
	if err := store.AppendUpdate(ev); err != nil {
		store.Broadcasts.WithLabelValues("log_failed").Inc()
		logger.Error("update_log_append_failed", "query", ev.CanonicalID, "error", err)
	}

	// sends stay under the lock so a concurrent cancel cannot close a
	// channel mid-send; they never block, so the lock is held briefly
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()

	if b.client == nil {
		store.Broadcasts.WithLabelValues("local").Inc()
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		store.Broadcasts.WithLabelValues("marshal_failed").Inc()
		logger.Error("broadcast_marshal_failed", "query", ev.CanonicalID, "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		store.Broadcasts.WithLabelValues("publish_failed").Inc()
		logger.Error("broadcast_publish_failed", "query", ev.CanonicalID, "channel", b.channel, "error", err)
		return
	}
	store.Broadcasts.WithLabelValues("ok").Inc()
	logger.Debug("update_broadcast", "query", ev.CanonicalID, "action", ev.Action)
}

// Updates returns the durable log entries newer than afterTS, the polling
// fallback for consumers without a pub/sub connection.
func (b *Broadcaster) Updates(ctx context.Context, afterTS int64) ([]models.UpdateEvent, error) {
	return store.ListUpdatesAfter(afterTS)
}
