package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	s := NewRedis(rdb, "crucible:blob:")

	key := SourceKey("s1", ".py")
	if err := s.Put(ctx, key, []byte("print('hi')\n")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "print('hi')\n" {
		t.Errorf("Get = %q", got)
	}
	if !mr.Exists("crucible:blob:" + key) {
		t.Error("blob not stored under the prefix")
	}

	if _, err := s.Get(ctx, OutputKey("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key error = %v, want ErrNotFound", err)
	}
}
