package pubsub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentrun/internal/event"
)

type countingDrops struct{ n atomic.Int64 }

func (c *countingDrops) MessageDropped(string) { c.n.Add(1) }

type received struct {
	typ   string
	value any
}

func newMemoryTransport(t *testing.T, buffer int, drops DropRecorder) *Transport {
	t.Helper()
	broker := NewMemoryBroker(buffer, drops, nil)
	t.Cleanup(func() { _ = broker.Close() })
	return NewTransport(broker, 20*time.Millisecond, nil)
}

func waitFor(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestPublishWithoutSubscriberSucceeds(t *testing.T) {
	tr := newMemoryTransport(t, 8, nil)
	err := tr.Publish(context.Background(), "logs:run1", event.NewOutput(event.Meta{RunID: "run1"}, "hi"))
	assert.NoError(t, err)
}

func TestSubscribeHandlerReceivesDiscriminator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newMemoryTransport(t, 8, nil)

	got := make(chan received, 4)
	_, err := tr.Subscribe(ctx, "logs:r1", func(_ context.Context, typ string, payload any) {
		got <- received{typ: typ, value: payload}
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "logs:r1", event.NewOutput(event.Meta{RunID: "r1"}, "Hel")))
	require.NoError(t, tr.Publish(ctx, "logs:r1", map[string]int{"n": 1}))
	require.NoError(t, tr.Publish(ctx, "logs:r1", "hello"))

	first := waitFor(t, got)
	assert.Equal(t, "output", first.typ)
	obj, ok := first.value.(map[string]any)
	require.True(t, ok, "expected decoded object, got %T", first.value)
	assert.Equal(t, "Hel", obj["str_result"])

	second := waitFor(t, got)
	assert.Equal(t, DefaultDiscriminator, second.typ)
	assert.Equal(t, map[string]any{"n": float64(1)}, second.value)

	third := waitFor(t, got)
	assert.Equal(t, DefaultDiscriminator, third.typ)
	assert.Equal(t, "hello", third.value)
}

func TestPatternSubscription(t *testing.T) {
	ctx := context.Background()
	tr := newMemoryTransport(t, 8, nil)

	sub, err := tr.Subscribe(ctx, "tenant:t1:logs:*", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "tenant:t2:logs:r9", `{"type":"end"}`))
	require.NoError(t, tr.Publish(ctx, "tenant:t1:logs:r1", `{"type":"end"}`))

	msg, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "tenant:t1:logs:r1", msg.Topic)
	assert.Equal(t, "end", msg.Type)
}

func TestFullBufferDropsMessages(t *testing.T) {
	ctx := context.Background()
	drops := &countingDrops{}
	tr := newMemoryTransport(t, 1, drops)

	sub, err := tr.Subscribe(ctx, "logs:r1", nil)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Publish(ctx, "logs:r1", map[string]int{"i": i}))
	}
	assert.Equal(t, int64(2), drops.n.Load())

	msg, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.JSONEq(t, `{"i":0}`, string(msg.Payload))
}

func TestHandlerPanicDoesNotStopSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := newMemoryTransport(t, 8, nil)

	got := make(chan received, 2)
	var calls atomic.Int32
	_, err := tr.Subscribe(ctx, "logs:r1", func(_ context.Context, typ string, payload any) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		got <- received{typ: typ, value: payload}
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "logs:r1", `{"type":"first"}`))
	require.NoError(t, tr.Publish(ctx, "logs:r1", `{"type":"second"}`))

	assert.Equal(t, "second", waitFor(t, got).typ)
}

func TestUndecodablePayloadIsSkipped(t *testing.T) {
	ctx := context.Background()
	broker := NewMemoryBroker(8, nil, nil)
	defer broker.Close()
	tr := NewTransport(broker, 0, nil)

	sub, err := tr.Subscribe(ctx, "logs:r1", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, broker.Publish(ctx, "logs:r1", []byte("{not json")))
	require.NoError(t, broker.Publish(ctx, "logs:r1", []byte(`{"type":"end"}`)))

	msg, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "end", msg.Type)
}

func TestPollReturnsWhenIdle(t *testing.T) {
	tr := newMemoryTransport(t, 8, nil)
	sub, err := tr.Subscribe(context.Background(), "logs:idle", nil)
	require.NoError(t, err)
	defer sub.Close()

	start := time.Now()
	_, ok, err := sub.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubscriberClosedWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := newMemoryTransport(t, 8, nil)

	sub, err := tr.Subscribe(ctx, "logs:r1", nil)
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not closed after context cancel")
	}
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, sub.Close())
}

func TestNormalize(t *testing.T) {
	data, err := Normalize(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	data, err = Normalize([]byte("plain text"))
	require.NoError(t, err)
	assert.Equal(t, `"plain text"`, string(data))

	_, err = Normalize(nil)
	assert.Error(t, err)
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
