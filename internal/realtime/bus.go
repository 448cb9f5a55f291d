package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// Publisher sends an envelope to every instance.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// RedisBus fans envelopes out over Redis pub/sub.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
}

// NewRedisBus creates a bus on channel that delivers into hub.
func NewRedisBus(rdb redis.UniversalClient, channel string, hub *Hub) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel, hub: hub}
}

// Publish implements Publisher. Local delivery happens when this instance
// receives its own message back from Redis.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	return nil
}

// Run subscribes to the channel and delivers envelopes until ctx is done.
// ready, if non-nil, is closed once the subscription is confirmed.
func (b *RedisBus) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	logger.Info("Realtime bus subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("Malformed envelope on bus", zap.Error(err))
				continue
			}
			b.hub.Deliver(env)
		}
	}
}

// LocalBus delivers straight into a hub. It serves single-instance
// deployments and tests.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus creates a LocalBus.
func NewLocalBus(hub *Hub) *LocalBus { return &LocalBus{hub: hub} }

// Publish implements Publisher.
func (b *LocalBus) Publish(_ context.Context, env Envelope) error {
	b.hub.Deliver(env)
	return nil
}
