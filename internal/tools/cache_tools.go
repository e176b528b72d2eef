package tools

import (
	"context"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/resultcache"
)

const fetchCachedResult = "fetch_cached_result"

func cacheDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def(fetchCachedResult,
			"Read a large tool result that was cached instead of returned inline. Use the ref_id from the earlier result. Narrow the read with fields (keep only these keys) and start/count (slice the list).",
			[]string{"ref_id"},
			props{
				"ref_id": reqString("Reference id returned with cached:true."),
				"fields": optStringArray("Keys to keep from the cached object."),
				"start":  optInt("Index of the first list element to return (default 0)."),
				"count":  optInt("Number of list elements to return (default all)."),
			}),
	}
}

type cacheTools struct {
	cache *resultcache.Cache
}

func (t cacheTools) handlers() map[string]Handler {
	return map[string]Handler{
		fetchCachedResult: t.fetch,
	}
}

func (t cacheTools) fetch(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	ref := a.String("ref_id")
	if ref == "" {
		return map[string]any{"ok": false, "error": "ref_id_required"}, nil
	}

	q := resultcache.Query{
		Fields: a.StringList("fields"),
		Start:  a.Int("start", 0),
	}
	if n, ok := normalize.Int(raw["count"]); ok {
		q.Count = &n
	}

	res, err := t.cache.Get(ctx, ref, q)
	if err != nil {
		return nil, err
	}
	return res.Map(), nil
}
