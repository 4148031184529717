package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig holds the Redis connection and list names.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	List       string
	DeadLetter string
}

// RedisSource reads from a Redis list. Producers LPUSH; the consumer pops
// from the right, so the list is FIFO.
type RedisSource struct {
	client     *redis.Client
	list       string
	deadLetter string
	seq        uint64
}

// NewRedisSource connects to Redis and verifies the connection.
func NewRedisSource(ctx context.Context, cfg RedisConfig) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("queue: failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisSourceWithClient(client, cfg.List, cfg.DeadLetter), nil
}

// NewRedisSourceWithClient wraps an existing client.
func NewRedisSourceWithClient(client *redis.Client, list, deadLetter string) *RedisSource {
	return &RedisSource{client: client, list: list, deadLetter: deadLetter}
}

// Fetch implements Source.
func (s *RedisSource) Fetch(ctx context.Context, max int, timeout time.Duration) ([]Message, error) {
	res, err := s.client.BRPop(ctx, timeout, s.list).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: brpop %s: %w", s.list, err)
	}

	// BRPop returns [list, value].
	msgs := []Message{s.message(res[1])}
	for len(msgs) < max {
		v, err := s.client.RPop(ctx, s.list).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			// Keep what was already popped; the caller processes it.
			break
		}
		msgs = append(msgs, s.message(v))
	}
	return msgs, nil
}

// Requeue implements Source.
func (s *RedisSource) Requeue(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, len(msgs))
	for i, m := range msgs {
		values[i] = string(m.Body)
	}
	if err := s.client.LPush(ctx, s.list, values...).Err(); err != nil {
		return fmt.Errorf("queue: requeue %d messages: %w", len(msgs), err)
	}
	return nil
}

// DeadLetter implements Source. Without a dead-letter list entries are dropped.
func (s *RedisSource) DeadLetter(ctx context.Context, entries []DeadLetter) error {
	if len(entries) == 0 || s.deadLetter == "" {
		return nil
	}
	values := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("queue: encode dead letter: %w", err)
		}
		values = append(values, string(data))
	}
	if err := s.client.LPush(ctx, s.deadLetter, values...).Err(); err != nil {
		return fmt.Errorf("queue: dead-letter %d messages: %w", len(entries), err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (s *RedisSource) message(v string) Message {
	id := atomic.AddUint64(&s.seq, 1)
	return Message{ID: strconv.FormatUint(id, 10), Body: []byte(v)}
}
