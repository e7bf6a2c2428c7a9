// Package pubsub carries serialized run events between producers and any
// number of live listeners. Delivery is at-most-once with no durable
// queue; the run log is the durable record.
package pubsub

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed subscriber or broker.
var ErrClosed = errors.New("pubsub: closed")

// Message is one payload received on a subscription.
type Message struct {
	// Topic is the concrete channel the payload was published to, which
	// may differ from the subscribed pattern.
	Topic string
	// Type is the payload's "type" field, or DefaultDiscriminator.
	Type    string
	Payload []byte
	// Value is Payload decoded from JSON.
	Value any
}

// Subscription is a broker-level stream of messages for one pattern.
type Subscription interface {
	// C yields received messages. It is closed when the subscription ends.
	C() <-chan Message
	Close() error
}

// Broker moves raw payloads between topics.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe binds to a topic or glob pattern (*, ?, [...]).
	Subscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// DropRecorder is notified when a message is discarded because a
// subscriber's buffer is full.
type DropRecorder interface {
	MessageDropped(broker string)
}

// IsPattern reports whether topic contains glob metacharacters.
func IsPattern(topic string) bool {
	return strings.ContainsAny(topic, "*?[")
}
