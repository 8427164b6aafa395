package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultDedupTTL   = 24 * time.Hour
	historyTTL        = 7 * 24 * time.Hour
	maxHistoryEntries = 20
)

// RedisDeduper claims inbound message keys with SETNX so a replayed webhook
// is processed at most once within the TTL.
type RedisDeduper struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisDeduper creates a deduper; ttl <= 0 uses 24h.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduper{redis: client, ttl: ttl}
}

// Claim returns true for the first caller of key within ttl, or within the
// deduper's TTL when ttl <= 0.
func (d *RedisDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = d.ttl
	}
	ok, err := d.redis.SetNX(ctx, "inbound:"+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: claim inbound key: %w", err)
	}
	return ok, nil
}

// Release frees key so a failed exchange can be retried by a redelivery.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.redis.Del(ctx, "inbound:"+key).Err()
}

// RedisHistory keeps the last few turns per contact.
type RedisHistory struct {
	redis *redis.Client
}

func NewRedisHistory(client *redis.Client) *RedisHistory {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &RedisHistory{redis: client}
}

func (h *RedisHistory) Load(ctx context.Context, contactID string) ([]ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "conversation.load_history")
	defer span.End()
	span.SetAttributes(attribute.String("crm.contact_id", contactID))

	data, err := h.redis.Get(ctx, historyKey(contactID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to load history: %w", err)
	}
	var history []ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: failed to decode history: %w", err)
	}
	return history, nil
}

func (h *RedisHistory) Save(ctx context.Context, contactID string, history []ChatMessage) error {
	ctx, span := tracer.Start(ctx, "conversation.save_history")
	defer span.End()

	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}
	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to marshal history: %w", err)
	}
	if err := h.redis.Set(ctx, historyKey(contactID), data, historyTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: failed to persist history: %w", err)
	}
	return nil
}

func historyKey(contactID string) string {
	return fmt.Sprintf("conversation:%s", contactID)
}
