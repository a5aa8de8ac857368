package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message is the envelope stored in the list.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisQueue is the producer side of a FIFO on a Redis list. Consumers pop
// with BRPOP from Key(msgType).
type RedisQueue struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	newID     func() string
	now       func() time.Time
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keyPrefix = prefix
	}
}

// WithMaxLen caps the list length; older messages are trimmed on enqueue.
func WithMaxLen(n int64) RedisQueueOption {
	return func(r *RedisQueue) {
		r.maxLen = n
	}
}

// WithIDFunc overrides message ID generation.
func WithIDFunc(f func() string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.newID = f
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) RedisQueueOption {
	return func(r *RedisQueue) {
		r.now = now
	}
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	rq := &RedisQueue{
		client:    client,
		keyPrefix: "signalgate:queue",
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// Key returns the list key for msgType.
func (r *RedisQueue) Key(msgType string) string {
	return r.keyPrefix + ":" + msgType
}

// Enqueue adds a message to the msgType list.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Message{
		ID:        r.newID(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := r.Key(msgType)
	if r.maxLen <= 0 {
		if err := r.client.LPush(ctx, key, data).Err(); err != nil {
			return fmt.Errorf("lpush: %w", err)
		}
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}
