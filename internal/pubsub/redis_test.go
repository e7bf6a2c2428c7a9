package pubsub

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTransport(t *testing.T) *Transport {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	broker := NewRedisBroker(client, 16, nil, nil)
	t.Cleanup(func() { _ = broker.Close() })
	return NewTransport(broker, 0, nil)
}

func TestRedisBrokerDelivers(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTransport(t)

	sub, err := tr.Subscribe(ctx, "logs:r1", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "logs:r1", `{"type":"output","str_result":"hi"}`))

	msg, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "output", msg.Type)
	assert.Equal(t, "logs:r1", msg.Topic)
}

func TestRedisBrokerPatternSubscribe(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTransport(t)

	sub, err := tr.Subscribe(ctx, "logs:*", nil)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "logs:r42", map[string]string{"type": "end"}))

	msg, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "end", msg.Type)
	assert.Equal(t, "logs:r42", msg.Topic)
}

func TestRedisPublishWithoutSubscriber(t *testing.T) {
	tr := newRedisTransport(t)
	assert.NoError(t, tr.Publish(context.Background(), "logs:run1", `{"type":"end"}`))
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis("redis://" + mr.Addr())
	require.NoError(t, err)
	_ = client.Close()

	_, err = OpenRedis("  ")
	assert.Error(t, err)
}
