// Package resultcache stores large tool results under short reference
// ids so the conversation carries a handle instead of the payload. The
// model reads entries back with projection and list slicing through the
// fetch_cached_result tool.
//
// Values are stored as JSON, so every read decodes a fresh copy and a
// stored value is never modified in place. Expiry is lazy: an expired
// entry reads as not found.
package resultcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// ErrNotFound is the error string reported for unknown or expired ids.
const ErrNotFound = "not_found"

// MinTTL is the shortest lifetime Put accepts. Both backends expire at
// millisecond precision.
const MinTTL = time.Millisecond

// ErrTTLTooShort is returned by Put for a ttl below MinTTL.
var ErrTTLTooShort = errors.New("resultcache: ttl must be at least 1ms")

// Backend is a byte store with per-entry expiry.
type Backend interface {
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value and true, or false when the key is missing
	// or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Query narrows a read. Fields projects a mapping to the named keys.
// Start and Count slice a list result: Start defaults to 0 and is
// clamped at 0, a nil or negative Count means "to the end".
type Query struct {
	Fields []string
	Start  int
	Count  *int
}

// Result is the shape every cache read returns to the model.
type Result struct {
	OK    bool   `json:"ok"`
	RefID string `json:"ref_id,omitempty"`
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Map renders r as a tool result.
func (r Result) Map() map[string]any {
	out := map[string]any{"ok": r.OK}
	if r.RefID != "" {
		out["ref_id"] = r.RefID
	}
	if r.OK {
		out["value"] = r.Value
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// Cache is the process-wide result cache, shared by every conversation.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Cache over backend.
func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger}
}

// Put stores value for ttl and returns a fresh reference id. ttl is
// truncated to whole milliseconds; anything below MinTTL is rejected so
// that no driver silently stores an entry that is already expired.
func (c *Cache) Put(ctx context.Context, value any, ttl time.Duration) (string, error) {
	if ttl < MinTTL {
		return "", ErrTTLTooShort
	}
	ttl = ttl.Truncate(time.Millisecond)

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode cached value: %w", err)
	}

	id := shortuuid.New()
	if err := c.backend.Set(ctx, id, data, ttl); err != nil {
		return "", fmt.Errorf("store cached value: %w", err)
	}

	c.logger.Debug("result cached", "ref_id", id, "bytes", len(data), "ttl", ttl)
	return id, nil
}

// Get reads refID and applies q. A missing or expired entry is a normal
// outcome and yields {ok:false, error:"not_found"}; the error return is
// reserved for backend failures.
func (c *Cache) Get(ctx context.Context, refID string, q Query) (Result, error) {
	data, ok, err := c.backend.Get(ctx, refID)
	if err != nil {
		return Result{}, fmt.Errorf("read cached value %s: %w", refID, err)
	}
	if !ok {
		return Result{OK: false, Error: ErrNotFound, RefID: refID}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Result{}, fmt.Errorf("decode cached value %s: %w", refID, err)
	}

	return Result{OK: true, RefID: refID, Value: apply(value, q)}, nil
}

// apply projects then slices. Slicing applies to a top-level list, or to
// the list held by a mapping that has exactly one key.
func apply(value any, q Query) any {
	if m, ok := value.(map[string]any); ok && len(q.Fields) > 0 {
		projected := make(map[string]any, len(q.Fields))
		for _, f := range q.Fields {
			if v, ok := m[f]; ok {
				projected[f] = v
			}
		}
		value = projected
	}

	switch v := value.(type) {
	case map[string]any:
		if len(v) == 1 {
			for k, inner := range v {
				if list, ok := inner.([]any); ok {
					v[k] = sliceList(list, q.Start, q.Count)
				}
			}
		}
	case []any:
		return sliceList(v, q.Start, q.Count)
	}
	return value
}

func sliceList(list []any, start int, count *int) []any {
	if start < 0 {
		start = 0
	}
	if start >= len(list) {
		return []any{}
	}
	end := len(list)
	if count != nil && *count >= 0 && start+*count < end {
		end = start + *count
	}
	return list[start:end]
}
