package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OpenRedis parses url, connects and pings the server.
func OpenRedis(url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisBroker uses Redis PUBLISH/SUBSCRIBE so producers and listeners can
// live in different processes. Patterns use PSUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
	buffer int

	drops  DropRecorder
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client, buffer int, drops DropRecorder, logger *slog.Logger) *RedisBroker {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		client: client,
		buffer: buffer,
		drops:  drops,
		logger: logger.With("component", "pubsub.redis"),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	var ps *redis.PubSub
	if IsPattern(pattern) {
		ps = b.client.PSubscribe(ctx, pattern)
	} else {
		ps = b.client.Subscribe(ctx, pattern)
	}
	// Wait for the server to confirm so publishes that follow are seen.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", pattern, err)
	}

	sub := &redisSubscription{
		ps: ps,
		ch: make(chan Message, b.buffer),
	}
	go b.forward(sub, pattern)
	return sub, nil
}

func (b *RedisBroker) forward(sub *redisSubscription, pattern string) {
	defer close(sub.ch)
	for m := range sub.ps.Channel(redis.WithChannelSize(b.buffer)) {
		msg := Message{Topic: m.Channel, Payload: []byte(m.Payload)}
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("subscriber buffer full, dropping message", "pattern", pattern, "topic", m.Channel)
			if b.drops != nil {
				b.drops.MessageDropped("redis")
			}
		}
	}
}

// Close releases the underlying client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan Message
	once sync.Once
	err  error
}

func (s *redisSubscription) C() <-chan Message { return s.ch }

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.err = s.ps.Close()
	})
	return s.err
}
