// Package bus provides change-bus implementations for cross-process
// state propagation. The Redis bus fans StateChange records out over a
// pub/sub channel; single-process deployments use state.NoopBus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"edusync/internal/domain/state"
)

// DefaultChannel is the pub/sub channel carrying state changes.
const DefaultChannel = "edusync:changes"

// RedisBus implements state.ChangeBus over Redis pub/sub. Delivery is
// at-most-once and unordered relative to local writes; consumers must
// treat remote changes as eventually consistent.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     *logrus.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	wg      sync.WaitGroup
	running bool
}

// Config configures a RedisBus.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Channel defaults to DefaultChannel.
	Channel string
	// Logger defaults to the standard logrus logger.
	Logger *logrus.Logger
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg Config) (*RedisBus, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBus{
		client:  client,
		channel: cfg.Channel,
		log:     cfg.Logger,
	}, nil
}

// Publish broadcasts a change to all subscribed instances.
func (b *RedisBus) Publish(ctx context.Context, change *state.StateChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe starts delivering remote changes to the handler. The message
// loop runs until Close or context cancellation.
func (b *RedisBus) Subscribe(ctx context.Context, handler state.ChangeHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bus already subscribed")
	}

	b.pubsub = b.client.Subscribe(ctx, b.channel)
	// Force the subscription to be established before returning.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
		return fmt.Errorf("redis subscribe failed: %w", err)
	}
	b.running = true

	b.wg.Add(1)
	go b.handleMessages(ctx, handler)
	return nil
}

func (b *RedisBus) handleMessages(ctx context.Context, handler state.ChangeHandler) {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change state.StateChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.WithError(err).Warn("dropping malformed change message")
				continue
			}
			handler(&change)
		}
	}
}

// Close stops the message loop and disconnects.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.pubsub != nil {
		_ = b.pubsub.Close()
		b.pubsub = nil
	}
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()
	return b.client.Close()
}
