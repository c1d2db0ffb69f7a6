package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// bodyField is the stream entry field holding the encoded job.
const bodyField = "body"

// RedisQueue is a Queue on a Redis stream read through a consumer group.
// Handles are stream entry IDs.
type RedisQueue struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string

	// ClaimIdle, when positive, lets Receive take over entries another
	// consumer read but did not acknowledge within this long.
	ClaimIdle time.Duration
}

// NewRedis creates the consumer group if needed and returns the queue.
func NewRedis(ctx context.Context, rdb *redis.Client, stream, group, consumer string) (*RedisQueue, error) {
	if err := EnsureGroup(ctx, rdb, stream, group); err != nil {
		return nil, err
	}
	return &RedisQueue{rdb: rdb, stream: stream, group: group, consumer: consumer}, nil
}

// EnsureGroup creates the stream and consumer group, tolerating an existing group.
func EnsureGroup(ctx context.Context, rdb *redis.Client, stream, group string) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s/%s: %w", stream, group, err)
	}
	return nil
}

// Receive returns stale entries claimed from other consumers first. When
// there are none it reads new entries, blocking up to wait.
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if q.ClaimIdle > 0 {
		claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.ClaimIdle,
			Start:    "0-0",
			Count:    int64(max),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("claiming stale entries on %s: %w", q.stream, err)
		}
		if len(claimed) > 0 {
			return toMessages(claimed), nil
		}
	}

	block := wait
	if block <= 0 {
		// BLOCK 0 waits forever; a negative value omits BLOCK.
		block = -1
	}
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", q.stream, err)
	}

	var msgs []Message
	for _, s := range streams {
		msgs = append(msgs, toMessages(s.Messages)...)
	}
	return msgs, nil
}

func toMessages(entries []redis.XMessage) []Message {
	msgs := make([]Message, 0, len(entries))
	for _, m := range entries {
		body, _ := m.Values[bodyField].(string)
		msgs = append(msgs, Message{Body: []byte(body), Handle: m.ID})
	}
	return msgs
}

// Delete acknowledges the entry and removes it from the stream.
func (q *RedisQueue) Delete(ctx context.Context, handle string) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.stream, q.group, handle)
		pipe.XDel(ctx, q.stream, handle)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", handle, q.stream, err)
	}
	return nil
}

func (q *RedisQueue) Send(ctx context.Context, body []byte) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		ID:     "*",
		Values: map[string]any{bodyField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding to stream %s: %w", q.stream, err)
	}
	return nil
}
