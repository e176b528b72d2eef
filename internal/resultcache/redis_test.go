package resultcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()
	c := New(NewRedisBackend(client, ""), nil)

	ref, err := c.Put(ctx, map[string]any{"queue": []string{"Dune", "Heat", "Ran"}}, time.Minute)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists(DefaultRedisPrefix + ref) {
		t.Fatalf("key %q not written with prefix", ref)
	}

	res, err := c.Get(ctx, ref, Query{Start: 1, Count: intPtr(1)})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, _ := json.Marshal(res.Value)
	if string(got) != `{"queue":["Heat"]}` {
		t.Errorf("value = %s", got)
	}
}

func TestRedisBackend_Expiry(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()
	c := New(NewRedisBackend(client, "test:"), nil)

	ref, err := c.Put(ctx, "payload", 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(11 * time.Second)

	res, err := c.Get(ctx, ref, Query{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.OK || res.Error != ErrNotFound || res.RefID != ref {
		t.Errorf("expired read = %+v", res)
	}
}

func TestRedisBackend_SubSecondTTL(t *testing.T) {
	mr, client := testRedis(t)
	ctx := context.Background()
	c := New(NewRedisBackend(client, ""), nil)

	ref, err := c.Put(ctx, "payload", 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(DefaultRedisPrefix + ref); ttl != 500*time.Millisecond {
		t.Errorf("stored ttl = %s, want 500ms", ttl)
	}

	mr.FastForward(400 * time.Millisecond)
	if res, _ := c.Get(ctx, ref, Query{}); !res.OK {
		t.Fatal("entry expired early")
	}
	mr.FastForward(100 * time.Millisecond)
	if res, _ := c.Get(ctx, ref, Query{}); res.OK {
		t.Errorf("entry outlived its 500ms ttl: %+v", res)
	}
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	client.Close()

	if _, err := DialRedis(context.Background(), "not a url"); err == nil {
		t.Error("expected error for malformed url")
	}
}
