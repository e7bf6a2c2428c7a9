package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Subscriber is a handle bound to one topic or pattern.
type Subscriber struct {
	ID    string
	Topic string

	sub          Subscription
	handler      Handler
	pollInterval time.Duration
	logger       *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	stop      func() bool
}

func newSubscriber(id, topic string, sub Subscription, cb Handler, poll time.Duration, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		ID:           id,
		Topic:        topic,
		sub:          sub,
		handler:      cb,
		pollInterval: poll,
		logger:       logger.With("topic", topic, "subscriber_id", id),
		done:         make(chan struct{}),
	}
}

func (s *Subscriber) run(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.sub.C():
			if !ok {
				return
			}
			if msg, ok = s.decode(msg); ok {
				s.dispatch(ctx, msg)
			}
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber handler panicked", "panic", r, "type", msg.Type)
		}
	}()
	s.handler(ctx, msg.Type, msg.Value)
}

func (s *Subscriber) decode(msg Message) (Message, bool) {
	typ, value, err := decodePayload(msg.Payload)
	if err != nil {
		s.logger.Warn("dropping undecodable message", "error", err, "source", msg.Topic)
		return msg, false
	}
	msg.Type = typ
	msg.Value = value
	return msg, true
}

// Next blocks until a message arrives, ctx is done or the subscriber is
// closed. It is meant for subscribers created without a handler.
func (s *Subscriber) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-s.done:
			return Message{}, ErrClosed
		case msg, ok := <-s.sub.C():
			if !ok {
				return Message{}, ErrClosed
			}
			if msg, ok = s.decode(msg); ok {
				return msg, nil
			}
		}
	}
}

// Poll is Next bounded by the poll interval. ok is false when nothing
// arrived in time.
func (s *Subscriber) Poll(ctx context.Context) (msg Message, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.pollInterval)
	defer cancel()
	msg, err = s.Next(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// Done is closed once the subscriber has been closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close unsubscribes. It is safe to call more than once and from inside
// the handler.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
		err = s.sub.Close()
	})
	return err
}
