package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestRoundTrip_ProjectAndSlice(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)

	ref, err := c.Put(ctx, map[string]any{
		"items": []int{1, 2, 3, 4},
		"meta":  map[string]any{"a": 1},
	}, 60*time.Second)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	res, err := c.Get(ctx, ref, Query{Fields: []string{"items"}, Start: 1, Count: intPtr(2)})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	want := `{"ok":true,"ref_id":"` + ref + `","value":{"items":[2,3]}}`
	if got := mustJSON(t, res); got != want {
		t.Errorf("Get = %s\nwant  %s", got, want)
	}
}

func TestGet_Miss(t *testing.T) {
	c := New(NewMemoryBackend(), nil)
	res, err := c.Get(context.Background(), "nonexistent-id", Query{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := map[string]any{"ok": false, "error": "not_found", "ref_id": "nonexistent-id"}
	if got := mustJSON(t, res.Map()); got != mustJSON(t, want) {
		t.Errorf("miss = %s, want %s", got, mustJSON(t, want))
	}
}

func TestPut_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		ref, err := c.Put(ctx, i, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if seen[ref] {
			t.Fatalf("duplicate ref id %q after %d puts", ref, i)
		}
		seen[ref] = true
	}
}

func TestGet_Slicing(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	list := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name  string
		value any
		q     Query
		want  string
	}{
		{"whole list", list, Query{}, `["a","b","c","d","e"]`},
		{"start only", list, Query{Start: 3}, `["d","e"]`},
		{"negative start clamps", list, Query{Start: -4, Count: intPtr(2)}, `["a","b"]`},
		{"negative count means rest", list, Query{Start: 1, Count: intPtr(-1)}, `["b","c","d","e"]`},
		{"count past end", list, Query{Start: 3, Count: intPtr(10)}, `["d","e"]`},
		{"start past end", list, Query{Start: 9}, `[]`},
		{"zero count", list, Query{Count: intPtr(0)}, `[]`},
		{
			"single-key mapping slices inner list",
			map[string]any{"results": list},
			Query{Start: 1, Count: intPtr(1)},
			`{"results":["b"]}`,
		},
		{
			"multi-key mapping is not sliced",
			map[string]any{"results": list, "page": 1},
			Query{Start: 1, Count: intPtr(1)},
			`{"page":1,"results":["a","b","c","d","e"]}`,
		},
		{
			"projection keeps present keys only",
			map[string]any{"movies": []int{1, 2}, "total": 2},
			Query{Fields: []string{"total", "missing"}},
			`{"total":2}`,
		},
		{
			"single-key mapping with scalar untouched",
			map[string]any{"total": 7},
			Query{Start: 2},
			`{"total":7}`,
		},
		{
			"fields ignored for lists",
			list,
			Query{Fields: []string{"x"}, Count: intPtr(1)},
			`["a"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := c.Put(ctx, tt.value, time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			res, err := c.Get(ctx, ref, tt.q)
			if err != nil {
				t.Fatal(err)
			}
			if !res.OK {
				t.Fatalf("Get not ok: %+v", res)
			}
			if got := mustJSON(t, res.Value); got != tt.want {
				t.Errorf("value = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGet_DoesNotMutateStoredValue(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryBackend(), nil)
	ref, _ := c.Put(ctx, map[string]any{"items": []int{1, 2, 3}}, time.Minute)

	if _, err := c.Get(ctx, ref, Query{Count: intPtr(1)}); err != nil {
		t.Fatal(err)
	}
	res, _ := c.Get(ctx, ref, Query{})
	if got := mustJSON(t, res.Value); got != `{"items":[1,2,3]}` {
		t.Errorf("stored value changed after sliced read: %s", got)
	}
}

func TestGet_Expired(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }
	c := New(backend, nil)

	ref, _ := c.Put(ctx, "payload", 30*time.Second)

	now = now.Add(29 * time.Second)
	if res, _ := c.Get(ctx, ref, Query{}); !res.OK {
		t.Fatal("entry expired early")
	}

	now = now.Add(time.Second)
	res, _ := c.Get(ctx, ref, Query{})
	if res.OK || res.Error != ErrNotFound {
		t.Errorf("expired read = %+v, want not_found", res)
	}
	if backend.Len() != 0 {
		t.Errorf("expired entry still stored, Len = %d", backend.Len())
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Set(ctx, "short", []byte("1"), time.Second)
	b.Set(ctx, "long", []byte("2"), time.Hour)

	now = now.Add(time.Minute)
	if n := b.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if _, ok, _ := b.Get(ctx, "long"); !ok {
		t.Error("Sweep removed a live entry")
	}
}

func TestPut_RejectsShortTTL(t *testing.T) {
	ctx := context.Background()
	_, client := testRedis(t)
	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"redis":  NewRedisBackend(client, ""),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			c := New(backend, nil)
			for _, ttl := range []time.Duration{0, -time.Minute, time.Microsecond} {
				if _, err := c.Put(ctx, "payload", ttl); !errors.Is(err, ErrTTLTooShort) {
					t.Errorf("Put(ttl=%s) error = %v, want ErrTTLTooShort", ttl, err)
				}
			}
			if _, err := c.Put(ctx, "payload", MinTTL); err != nil {
				t.Errorf("Put(ttl=MinTTL) error = %v", err)
			}
		})
	}
}

func TestMemoryBackend_RunJanitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clock atomic.Int64
	clock.Store(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	b := NewMemoryBackend()
	b.now = func() time.Time { return time.Unix(0, clock.Load()) }

	b.Set(ctx, "stale", []byte("1"), time.Second)
	b.Set(ctx, "fresh", []byte("2"), time.Hour)
	clock.Add(int64(time.Minute))

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.RunJanitor(ctx, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	deadline := time.Now().Add(3 * MinJanitorInterval)
	for b.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := b.Len(); n != 1 {
		t.Fatalf("Len = %d after janitor, want 1", n)
	}
	if _, ok, _ := b.Get(ctx, "fresh"); !ok {
		t.Error("janitor removed a live entry")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}

type failingBackend struct{}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestBackendErrors(t *testing.T) {
	c := New(failingBackend{}, nil)
	if _, err := c.Put(context.Background(), 1, time.Minute); err == nil {
		t.Error("Put should surface backend errors")
	}
	if _, err := c.Get(context.Background(), "x", Query{}); err == nil {
		t.Error("Get should surface backend errors")
	}
}
