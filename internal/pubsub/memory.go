package pubsub

import (
	"context"
	"log/slog"
	"path"
	"sync"
)

// MemoryBroker delivers messages inside a single process. Each
// subscription owns a bounded channel; a full channel drops the message
// for that subscription only.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
	closed bool

	drops  DropRecorder
	logger *slog.Logger
}

type memorySubscription struct {
	broker  *MemoryBroker
	pattern string
	ch      chan Message
	once    sync.Once
}

// NewMemoryBroker creates a broker whose subscriptions buffer up to
// buffer messages.
func NewMemoryBroker(buffer int, drops DropRecorder, logger *slog.Logger) *MemoryBroker {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
		drops:  drops,
		logger: logger.With("component", "pubsub.memory"),
	}
}

// Publish fans payload out to every matching subscription. It never
// blocks on a slow subscriber.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		if !topicMatches(sub.pattern, topic) {
			continue
		}
		msg := Message{Topic: topic, Payload: payload}
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("subscriber buffer full, dropping message", "pattern", sub.pattern, "topic", topic)
			if b.drops != nil {
				b.drops.MessageDropped("memory")
			}
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, pattern string) (Subscription, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		broker:  b,
		pattern: pattern,
		ch:      make(chan Message, b.buffer),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

// SubscriptionCount returns the number of open subscriptions.
func (b *MemoryBroker) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *memorySubscription) C() <-chan Message { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		close(s.ch)
		s.broker.mu.Unlock()
	})
	return nil
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !IsPattern(pattern) {
		return false
	}
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}
