package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims items so that each is processed once across all
// dispatchers. Claim is an atomic insert-if-absent: true means the
// caller owns the item. Release gives up a claim whose run never started.
type Deduper interface {
	Claim(ctx context.Context, triggerID, key string) (bool, error)
	Release(ctx context.Context, triggerID, key string) error
}

// ItemClaimer is the part of repository.Store a StoreDeduper needs.
type ItemClaimer interface {
	ClaimTriggerItem(ctx context.Context, triggerID, key string) (bool, error)
	ReleaseTriggerItem(ctx context.Context, triggerID, key string) error
}

// StoreDeduper claims items in the trigger_items table.
type StoreDeduper struct {
	store ItemClaimer
}

func NewStoreDeduper(store ItemClaimer) *StoreDeduper {
	return &StoreDeduper{store: store}
}

func (d *StoreDeduper) Claim(ctx context.Context, triggerID, key string) (bool, error) {
	return d.store.ClaimTriggerItem(ctx, triggerID, key)
}

func (d *StoreDeduper) Release(ctx context.Context, triggerID, key string) error {
	return d.store.ReleaseTriggerItem(ctx, triggerID, key)
}

// RedisDeduper claims items with SETNX. Claims expire after ttl, which
// should exceed the time a source keeps reporting an item.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, triggerID, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, claimKey(triggerID, key), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim trigger item: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, triggerID, key string) error {
	if err := d.client.Del(ctx, claimKey(triggerID, key)).Err(); err != nil {
		return fmt.Errorf("release trigger item: %w", err)
	}
	return nil
}

func claimKey(triggerID, key string) string {
	return "trigger:" + triggerID + ":item:" + key
}
