// Package tools defines the tools available to the agent: a static
// catalog advertised to the model, and a registry of handlers bound to
// the configured backend clients.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/resultcache"
	"github.com/nugget/marquee-media-agent/internal/usage"
)

// levelTrace mirrors config.LevelTrace without importing config.
const levelTrace = slog.Level(-8)

// Offload defaults.
const (
	DefaultInlineLimit = 12000
	DefaultCacheTTL    = 15 * time.Minute
	previewItems       = 5
)

// Handler executes one tool call. It returns a JSON-shaped result. An
// error is reserved for transport or configuration failures; "nothing
// found" is a successful, empty result.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// CallRecorder receives one row per executed tool call.
type CallRecorder interface {
	RecordToolCall(ctx context.Context, call usage.ToolCall) error
}

// Registry maps tool names to handlers. The catalog advertised to the
// model is fixed; handlers are bound separately and may be replaced.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	catalog  []llm.ToolDefinition

	cache       *resultcache.Cache
	cacheTTL    time.Duration
	inlineLimit int
	callTimeout time.Duration
	recorder    CallRecorder
	logger      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithResultCache enables large-result offload. Results whose JSON is
// longer than inlineLimit bytes are stored for ttl and replaced by a
// reference.
func WithResultCache(c *resultcache.Cache, ttl time.Duration, inlineLimit int) Option {
	return func(r *Registry) {
		r.cache = c
		if ttl > 0 {
			r.cacheTTL = ttl
		}
		if inlineLimit > 0 {
			r.inlineLimit = inlineLimit
		}
	}
}

// WithCallTimeout bounds each tool call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) { r.callTimeout = d }
}

// WithRecorder records every executed call.
func WithRecorder(rec CallRecorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry over the static catalog.
// Handlers are added with Register or Bind.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handlers:    make(map[string]Handler),
		catalog:     Catalog(),
		cacheTTL:    DefaultCacheTTL,
		inlineLimit: DefaultInlineLimit,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register binds h to name, replacing any earlier binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler for name, or *ErrToolUnavailable.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok || h == nil {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return h, nil
}

// Definitions returns the catalog advertised to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// Validate checks that every catalog entry has a handler and every
// handler has a catalog entry.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	declared := make(map[string]bool, len(r.catalog))
	var missing, orphans []string
	for _, d := range r.catalog {
		declared[d.Name] = true
		if r.handlers[d.Name] == nil {
			missing = append(missing, d.Name)
		}
	}
	for name := range r.handlers {
		if !declared[name] {
			orphans = append(orphans, name)
		}
	}
	if len(missing) == 0 && len(orphans) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(orphans)
	return &ErrCatalogMismatch{Missing: missing, Orphans: orphans}
}

// Execute runs one tool call and returns the JSON tool message. Handler
// failures, panics, timeouts and malformed arguments all become a
// structured {"success": false} result; only an unknown tool name is
// returned as an error.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	h, err := r.Get(name)
	if err != nil {
		return "", err
	}

	start := time.Now()
	result := r.run(ctx, name, h, argsJSON)

	offloaded := false
	payload, err := json.Marshal(result)
	if err != nil {
		result = failure(fmt.Errorf("encode result: %w", err))
		payload, _ = json.Marshal(result)
	}
	if r.shouldOffload(name, result, len(payload)) {
		if ref, err := r.offload(ctx, result); err != nil {
			r.logger.Warn("result offload failed, returning inline", "tool", name, "error", err)
		} else {
			payload, _ = json.Marshal(ref)
			offloaded = true
		}
	}

	elapsed := time.Since(start)
	ok := succeeded(result)
	r.logger.Info("tool executed", "tool", name, "ok", ok, "elapsed", elapsed, "bytes", len(payload), "cached", offloaded)
	r.logger.Log(ctx, levelTrace, "tool result", "tool", name, "result", string(payload))

	if r.recorder != nil {
		call := usage.ToolCall{
			RequestID:      RequestIDFromContext(ctx),
			ConversationID: ConversationIDFromContext(ctx),
			Tool:           name,
			OK:             ok,
			ElapsedMS:      elapsed.Milliseconds(),
			ResultBytes:    len(payload),
			Cached:         offloaded,
		}
		if err := r.recorder.RecordToolCall(context.WithoutCancel(ctx), call); err != nil {
			r.logger.Warn("failed to record tool call", "tool", name, "error", err)
		}
	}
	return string(payload), nil
}

func (r *Registry) run(ctx context.Context, name string, h Handler, argsJSON string) (result map[string]any) {
	args := map[string]any{}
	if s := strings.TrimSpace(argsJSON); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			r.logger.Warn("malformed tool arguments", "tool", name, "error", err)
			return map[string]any{"success": false, "error": "invalid_json", "details": err.Error()}
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	r.logger.Log(ctx, levelTrace, "tool call", "tool", name, "args", argsJSON)

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", p)
			result = failure(fmt.Errorf("%s failed unexpectedly: %v", name, p))
		}
	}()

	out, err := h(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.callTimeout > 0 {
			err = fmt.Errorf("%s timed out after %s", name, r.callTimeout)
		}
		var argErr *normalize.ArgError
		if !errors.As(err, &argErr) {
			r.logger.Warn("tool failed", "tool", name, "error", err)
		}
		return failure(err)
	}
	if out == nil {
		out = map[string]any{"success": true}
	}
	return out
}

func (r *Registry) shouldOffload(name string, result map[string]any, size int) bool {
	return r.cache != nil && name != fetchCachedResult && size > r.inlineLimit && succeeded(result)
}

func (r *Registry) offload(ctx context.Context, result map[string]any) (map[string]any, error) {
	ref, err := r.cache.Put(ctx, result, r.cacheTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":      true,
		"ref_id":  ref,
		"cached":  true,
		"preview": preview(result),
		"hint":    "Result was large and is cached. Call fetch_cached_result with this ref_id, optionally with fields, start and count, to read more.",
	}, nil
}

// preview keeps scalar keys and the head of every list, descending
// one level into nested sections.
func preview(result map[string]any) map[string]any {
	return previewDepth(result, 1)
}

func previewDepth(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case []map[string]any:
			out[k] = x[:min(len(x), previewItems)]
			out[k+"_total"] = len(x)
		case []any:
			out[k] = x[:min(len(x), previewItems)]
			out[k+"_total"] = len(x)
		case map[string]any:
			if depth > 0 {
				out[k] = previewDepth(x, depth-1)
			}
		default:
			out[k] = v
		}
	}
	return out
}

func failure(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}

// succeeded treats a result as failed only when it says so.
func succeeded(result map[string]any) bool {
	if v, ok := result["success"].(bool); ok && !v {
		return false
	}
	if v, ok := result["ok"].(bool); ok && !v {
		return false
	}
	return true
}
