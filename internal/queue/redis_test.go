package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisQueue(t *testing.T, consumer string) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q, err := NewRedis(context.Background(), rdb, "jobs", "workers", consumer)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	return q, rdb
}

func TestRedisSendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q, rdb := newRedisQueue(t, "c1")

	for _, b := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, []byte(b)); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := q.Receive(ctx, 2, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Body) != "a" || string(msgs[1].Body) != "b" {
		t.Fatalf("first batch = %+v", msgs)
	}

	pending, err := rdb.XPending(ctx, "jobs", "workers").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 2 {
		t.Errorf("pending = %d, want 2 before delete", pending.Count)
	}

	for _, m := range msgs {
		if err := q.Delete(ctx, m.Handle); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}

	pending, err = rdb.XPending(ctx, "jobs", "workers").Result()
	if err != nil {
		t.Fatal(err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0 after delete", pending.Count)
	}
	if n := rdb.XLen(ctx, "jobs").Val(); n != 1 {
		t.Errorf("stream length = %d, want 1 (only c left)", n)
	}

	rest, err := q.Receive(ctx, 5, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || string(rest[0].Body) != "c" {
		t.Errorf("second batch = %+v", rest)
	}
}

func TestRedisReceiveEmptyAfterWait(t *testing.T) {
	q, _ := newRedisQueue(t, "c1")

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 5, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages from an empty stream", len(msgs))
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Receive blocked far beyond its wait")
	}
}

func TestRedisEnsureGroupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q, rdb := newRedisQueue(t, "c1")
	if err := q.Send(ctx, []byte("kept")); err != nil {
		t.Fatal(err)
	}

	if err := EnsureGroup(ctx, rdb, "jobs", "workers"); err != nil {
		t.Fatalf("second EnsureGroup: %v", err)
	}
	// The existing group and its backlog survive.
	msgs, err := q.Receive(ctx, 5, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != "kept" {
		t.Errorf("after second EnsureGroup got %+v", msgs)
	}
}

func TestRedisClaimsStaleEntries(t *testing.T) {
	ctx := context.Background()
	crashed, rdb := newRedisQueue(t, "crashed")

	if err := crashed.Send(ctx, []byte("job")); err != nil {
		t.Fatal(err)
	}
	if msgs, err := crashed.Receive(ctx, 1, 50*time.Millisecond); err != nil || len(msgs) != 1 {
		t.Fatalf("Receive = %v, %v", msgs, err)
	}

	// A consumer without claiming never sees the entry again.
	other := &RedisQueue{rdb: rdb, stream: "jobs", group: "workers", consumer: "other"}
	if msgs, err := other.Receive(ctx, 1, 20*time.Millisecond); err != nil || len(msgs) != 0 {
		t.Fatalf("unclaimed Receive = %v, %v", msgs, err)
	}

	other.ClaimIdle = time.Millisecond
	time.Sleep(20 * time.Millisecond)
	msgs, err := other.Receive(ctx, 1, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body) != "job" {
		t.Fatalf("claimed = %+v", msgs)
	}
	if err := other.Delete(ctx, msgs[0].Handle); err != nil {
		t.Fatal(err)
	}
	if p := rdb.XPending(ctx, "jobs", "workers").Val(); p.Count != 0 {
		t.Errorf("pending = %d after delete", p.Count)
	}
}
