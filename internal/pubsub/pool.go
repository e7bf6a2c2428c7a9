package pubsub

import (
	"context"
	"log/slog"
	"sync"
)

// SubscriberGauge tracks how many subscribers a pool holds.
type SubscriberGauge interface {
	SubscriberAdded()
	SubscriberRemoved()
}

type subscriberKey struct {
	id    string
	topic string
}

// Pool owns long-lived named subscribers, such as one per dashboard tab,
// so a reconnecting client can pick its subscription back up.
type Pool struct {
	transport *Transport
	gauge     SubscriberGauge
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[subscriberKey]*Subscriber
	closed bool
}

func NewPool(transport *Transport, gauge SubscriberGauge, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		transport: transport,
		gauge:     gauge,
		logger:    logger.With("component", "pubsub.pool"),
		ctx:       ctx,
		cancel:    cancel,
		subs:      make(map[subscriberKey]*Subscriber),
	}
}

// CreateSubscriber returns the subscriber registered for (id, topic),
// creating it if needed. With recreate the existing one is closed and
// replaced. ctx only bounds the subscribe call; the subscriber lives until
// cancelled or the pool is closed.
func (p *Pool) CreateSubscriber(ctx context.Context, id, topic string, recreate bool) (*Subscriber, error) {
	key := subscriberKey{id: id, topic: topic}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	if existing, ok := p.subs[key]; ok {
		select {
		case <-existing.Done():
			p.remove(key)
		default:
			if !recreate {
				return existing, nil
			}
			_ = existing.Close()
			p.remove(key)
		}
	}

	sub, err := p.transport.subscribe(ctx, p.ctx, id, topic, nil)
	if err != nil {
		return nil, err
	}
	p.subs[key] = sub
	if p.gauge != nil {
		p.gauge.SubscriberAdded()
	}
	p.logger.Debug("subscriber created", "subscriber_id", id, "topic", topic, "recreate", recreate)
	return sub, nil
}

// CancelSubscriber closes and forgets the subscriber for (id, topic).
// Unknown pairs are ignored.
func (p *Pool) CancelSubscriber(id, topic string) {
	key := subscriberKey{id: id, topic: topic}

	p.mu.Lock()
	sub, ok := p.subs[key]
	if ok {
		p.remove(key)
	}
	p.mu.Unlock()

	if ok {
		_ = sub.Close()
	}
}

// Len returns the number of registered subscribers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close shuts every subscriber down. Later CreateSubscriber calls fail
// with ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := make([]*Subscriber, 0, len(p.subs))
	for key, sub := range p.subs {
		subs = append(subs, sub)
		p.remove(key)
	}
	p.mu.Unlock()

	p.cancel()
	for _, sub := range subs {
		_ = sub.Close()
	}
}

// remove must be called with p.mu held.
func (p *Pool) remove(key subscriberKey) {
	delete(p.subs, key)
	if p.gauge != nil {
		p.gauge.SubscriberRemoved()
	}
}
