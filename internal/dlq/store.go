// Package dlq provides bounded-retry message processing with a Redis-backed
// dead-letter queue. Messages that exhaust their retry budget are parked on
// a Redis list for out-of-band inspection and reprocessing.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list holding dead-lettered messages.
const QueueKey = "dlq:messages"

// Entry is one dead-lettered message. Created only after retry exhaustion.
type Entry struct {
	Original   map[string]any `json:"original_message"`
	Error      string         `json:"error"`
	Attempts   int            `json:"attempts"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Store persists dead-letter entries in Redis.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a dead-letter store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Enqueue pushes an entry onto the dead-letter list.
func (s *Store) Enqueue(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("dlq: marshal entry: %w", err)
	}
	if err := s.rdb.LPush(ctx, QueueKey, data).Err(); err != nil {
		return fmt.Errorf("dlq: enqueue: %w", err)
	}
	return nil
}

// Pop removes and returns the oldest entry, or nil if the queue is empty.
// Used by the out-of-band reprocessing path.
func (s *Store) Pop(ctx context.Context) (*Entry, error) {
	data, err := s.rdb.RPop(ctx, QueueKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dlq: pop: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("dlq: decode entry: %w", err)
	}
	return &e, nil
}

// Len returns the number of parked entries.
func (s *Store) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq: len: %w", err)
	}
	return n, nil
}
