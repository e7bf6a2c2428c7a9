package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaot623/agentrun/internal/event"
)

const (
	// DefaultDiscriminator is passed to handlers when a payload carries no
	// type field.
	DefaultDiscriminator = "message"
	// DefaultPollInterval bounds how long Subscriber.Poll waits when idle.
	DefaultPollInterval = 500 * time.Millisecond
)

var errInvalidPayload = errors.New("payload is not valid JSON")

// Handler receives every message of a subscription. discriminator is the
// payload's type field or DefaultDiscriminator; payload is the decoded
// JSON value (map[string]any for objects). Message.Payload keeps the raw
// bytes for pull-style consumers.
type Handler func(ctx context.Context, discriminator string, payload any)

// Transport publishes normalized JSON payloads and hands out subscribers.
type Transport struct {
	broker       Broker
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewTransport(broker Broker, pollInterval time.Duration, logger *slog.Logger) *Transport {
	if pollInterval <= 0 || pollInterval > DefaultPollInterval {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		broker:       broker,
		pollInterval: pollInterval,
		logger:       logger.With("component", "pubsub"),
	}
}

// Publish serializes msg and sends it to topic. It does not wait for
// listeners; publishing to a topic nobody listens on succeeds.
func (t *Transport) Publish(ctx context.Context, topic string, msg any) error {
	payload, err := Normalize(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return t.broker.Publish(ctx, topic, payload)
}

// Subscribe binds a new subscriber to topic. With a non-nil cb a goroutine
// delivers every message to it; otherwise the caller pulls with Next or
// Poll. The subscriber is closed when ctx is done.
func (t *Transport) Subscribe(ctx context.Context, topic string, cb Handler) (*Subscriber, error) {
	return t.subscribe(ctx, ctx, "", topic, cb)
}

func (t *Transport) subscribe(ctx, lifetime context.Context, id, topic string, cb Handler) (*Subscriber, error) {
	sub, err := t.broker.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := newSubscriber(id, topic, sub, cb, t.pollInterval, t.logger)
	s.stop = context.AfterFunc(lifetime, func() { _ = s.Close() })
	if cb != nil {
		go s.run(lifetime)
	}
	return s, nil
}

// Normalize turns msg into the JSON text sent on the wire. Events are
// encoded with their discriminator; raw JSON passes through; any other
// string is encoded as a JSON string.
func Normalize(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case nil:
		return nil, errors.New("nil message")
	case event.AgentEvent:
		return event.Encode(v)
	case json.RawMessage:
		return rawOrQuoted(v)
	case []byte:
		return rawOrQuoted(v)
	case string:
		return rawOrQuoted([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal message: %w", err)
		}
		return data, nil
	}
}

func rawOrQuoted(b []byte) ([]byte, error) {
	if json.Valid(b) {
		return b, nil
	}
	return json.Marshal(string(b))
}

// decodePayload returns the routing discriminator and the decoded value.
func decodePayload(payload []byte) (string, any, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", nil, errInvalidPayload
	}
	if obj, ok := v.(map[string]any); ok {
		if typ, ok := obj["type"].(string); ok && typ != "" {
			return typ, v, nil
		}
	}
	return DefaultDiscriminator, v, nil
}
