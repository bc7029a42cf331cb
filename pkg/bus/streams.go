package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one message popped off a stream, carrying enough to ack it after
// processing.
type Entry struct {
	ID     string
	Fields map[string]interface{}
}

// Stream is the durable job/transcription stream contract: append,
// measure depth for backpressure, and consume via a consumer group with
// explicit ack.
type Stream interface {
	// Append adds a row and returns the backpressure-relevant queue depth
	// check result: ok=false means the row was NOT appended because the
	// stream exceeded maxDepth.
	Append(ctx context.Context, fields map[string]interface{}, maxDepth int64) (ok bool, err error)
	// EnsureGroup creates the consumer group if absent (BUSYGROUP is not an
	// error, mirroring the worker's xgroup_create handling).
	EnsureGroup(ctx context.Context, group string) error
	// Read blocks for up to block for new entries for consumer within
	// group.
	Read(ctx context.Context, group, consumer string, block time.Duration) ([]Entry, error)
	Ack(ctx context.Context, group string, ids ...string) error
	Len(ctx context.Context) (int64, error)
}

// RedisStream implements Stream on a Redis Streams key, grounded on the
// original worker's XGROUP CREATE ... MKSTREAM / XREADGROUP / XACK usage.
type RedisStream struct {
	rdb  *redis.Client
	name string
}

func NewRedisStream(rdb *redis.Client, name string) *RedisStream {
	return &RedisStream{rdb: rdb, name: name}
}

func (s *RedisStream) Append(ctx context.Context, fields map[string]interface{}, maxDepth int64) (bool, error) {
	depth, err := s.Len(ctx)
	if err != nil {
		return false, err
	}
	if depth > maxDepth {
		return false, nil
	}
	if err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		Values: fields,
	}).Err(); err != nil {
		return false, fmt.Errorf("bus: append to %s: %w", s.name, err)
	}
	return true, nil
}

func (s *RedisStream) EnsureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("bus: create group %s on %s: %w", group, s.name, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func (s *RedisStream) Read(ctx context.Context, group, consumer string, block time.Duration) ([]Entry, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.name, ">"},
		Count:    10,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: read group %s on %s: %w", group, s.name, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: msg.Values})
		}
	}
	return entries, nil
}

// Ack acknowledges and deletes each entry. Deleting is not optional: the
// stream length doubles as the admission-control depth gauge (Len), so an
// acked-but-undeleted entry would permanently count against MAX_QUEUE_DEPTH
// even though no worker is still holding it.
func (s *RedisStream) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.rdb.XAck(ctx, s.name, group, ids...).Err(); err != nil {
		return fmt.Errorf("bus: ack on %s: %w", s.name, err)
	}
	if err := s.rdb.XDel(ctx, s.name, ids...).Err(); err != nil {
		return fmt.Errorf("bus: delete acked entries on %s: %w", s.name, err)
	}
	return nil
}

func (s *RedisStream) Len(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("bus: len %s: %w", s.name, err)
	}
	return n, nil
}
