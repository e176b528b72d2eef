package tools

import (
	"context"
	"net/url"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/plex"
)

// overviewLimit caps each section of a bundled overview.
const overviewLimit = 10

var plexListProps = props{
	"limit":          optInt("Maximum items to return (default 20, max 100)."),
	"section_id":     optString("Library section id from get_plex_library_sections. Defaults to all libraries or the first matching one."),
	"media_type":     optEnum("Only return this kind of item.", "movie", "show", "season", "episode"),
	"year_min":       optInt("Earliest release year."),
	"year_max":       optInt("Latest release year."),
	"min_rating":     optNumber("Minimum rating on a 0-10 scale."),
	"genres":         optStringArray("Genres the item must have, all of them."),
	"actors":         optStringArray("Actors the item must feature, all of them."),
	"directors":      optStringArray("Directors, all of them."),
	"sort_by":        optEnum("Client-side sort order.", "title", "year", "rating", "added_at"),
	"descending":     optBool("Sort descending (default true)."),
	"response_level": level(detail.Compact),
}

func plexDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("search_plex",
			"Search the household Plex library for movies, shows, seasons, episodes and collections by title or keyword. Use before recommending to check what is already owned.",
			[]string{"query"},
			props{
				"query":          reqString("Title or keywords."),
				"limit":          optInt("Maximum results (default 25, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_library_sections",
			"List the Plex library sections (Movies, TV Shows, ...) with their section ids.",
			nil,
			props{"response_level": level(detail.Compact)}),
		def("get_plex_recently_added",
			"List items recently added to Plex, newest first, optionally filtered by type, year, rating, genre or people.",
			nil, plexListProps),
		def("get_plex_on_deck",
			"List the Plex On Deck items: next episodes of shows in progress and partly watched movies.",
			nil,
			props{
				"limit":          optInt("Maximum items (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_continue_watching",
			"List items with saved playback progress that can be resumed.",
			nil,
			props{
				"limit":          optInt("Maximum items (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_unwatched",
			"List unwatched movies or shows from a library section, with optional filters. Defaults to the first movie library.",
			nil, plexListProps),
		def("get_plex_movies_4k_or_hdr",
			"List movies in Plex that are 4K or HDR. Tries OR-filtered queries first, then unions 4K-only and HDR-only queries.",
			nil,
			props{
				"limit":          optInt("Maximum movies (default 30, max 100)."),
				"section_id":     optString("Movie library section id (default first movie library)."),
				"or_semantics":   optBool("Try a single OR-filtered request before the union fallback (default true)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_collections",
			"List collections in a library section. Defaults to the first movie library.",
			nil,
			props{
				"section_id":     optString("Library section id."),
				"media_type":     optEnum("Library kind to use when section_id is omitted (default movie).", "movie", "show"),
				"limit":          optInt("Maximum collections (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_playlists",
			"List Plex playlists.",
			nil,
			props{
				"limit":          optInt("Maximum playlists (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_similar_items",
			"List library items Plex considers similar to the given item.",
			[]string{"rating_key"},
			props{
				"rating_key":     reqString("Plex rating key of the reference item."),
				"limit":          optInt("Maximum items (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_extras",
			"List trailers, deleted scenes, featurettes and other bonus material for a Plex item.",
			[]string{"rating_key"},
			props{"rating_key": reqString("Plex rating key.")}),
		def("get_plex_playback_status",
			"Show what is playing right now on any Plex client, who is watching and how far along.",
			nil,
			props{"response_level": level(detail.Compact)}),
		def("get_plex_watch_history",
			"List recently watched items, newest first.",
			nil,
			props{
				"limit":          optInt("Maximum rows (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("get_plex_item_details",
			"Get full details for one Plex item: summary, cast, genres, media quality and watch state.",
			[]string{"rating_key"},
			props{
				"rating_key":     reqString("Plex rating key."),
				"response_level": level(detail.Detailed),
			}),
		def("set_plex_rating",
			"Set the household's rating for a Plex item.",
			[]string{"rating_key", "rating"},
			props{
				"rating_key": reqString("Plex rating key."),
				"rating":     reqNumber("Rating, 0-10 (or 0-5 when scale is stars)."),
				"scale":      optEnum("Scale of rating (default 10).", "10", "5", "stars"),
			}),
		def("plex_library_overview",
			"One call overview of the Plex server: library sections, recently added, on deck, continue watching, unwatched movies and current playback. Sections that fail are reported individually.",
			nil,
			props{
				"limit":          optInt("Items per section (default 10)."),
				"response_level": level(detail.Minimal),
			}),
	}
}

type plexTools struct {
	client *plex.Client
	args   normalize.Plex
}

func (t plexTools) handlers() map[string]Handler {
	return map[string]Handler{
		"search_plex":                t.search,
		"get_plex_library_sections":  t.sections,
		"get_plex_recently_added":    t.recentlyAdded,
		"get_plex_on_deck":           t.onDeck,
		"get_plex_continue_watching": t.continueWatching,
		"get_plex_unwatched":         t.unwatched,
		"get_plex_movies_4k_or_hdr":  t.uhdOrHDR,
		"get_plex_collections":       t.collections,
		"get_plex_playlists":         t.playlists,
		"get_plex_similar_items":     t.similar,
		"get_plex_extras":            t.extras,
		"get_plex_playback_status":   t.playbackStatus,
		"get_plex_watch_history":     t.history,
		"get_plex_item_details":      t.itemDetails,
		"set_plex_rating":            t.rate,
		"plex_library_overview":      t.overview,
	}
}

func (t plexTools) search(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Search(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	items, err := t.client.Search(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	items = items[:min(len(items), req.Limit)]
	return okResult("query", req.Query, "count", len(items), "results", plex.Views(items, req.Level)), nil
}

func (t plexTools) sections(ctx context.Context, raw map[string]any) (map[string]any, error) {
	l := normalize.Args(raw).Level(detail.Compact)
	secs, err := t.client.Sections(ctx)
	if err != nil {
		return nil, err
	}
	return okResult("sections", sectionViews(secs, l)), nil
}

func sectionViews(secs []plex.Section, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(secs))
	for _, s := range secs {
		out = append(out, s.View(l))
	}
	return out
}

func (t plexTools) recentlyAdded(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	var (
		items []plex.Item
		err   error
	)
	if req.SectionID != "" {
		q := req.Query()
		q.Set("sort", "addedAt:desc")
		items, err = t.client.SectionItems(ctx, req.SectionID, q, scanLimit(req))
	} else {
		items, err = t.client.RecentlyAdded(ctx, scanLimit(req))
	}
	if err != nil {
		return nil, err
	}
	return listResult(items, req), nil
}

func (t plexTools) onDeck(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	items, err := t.client.OnDeck(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return listResult(items, req), nil
}

func (t plexTools) continueWatching(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	items, err := t.client.ContinueWatching(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return listResult(items, req), nil
}

func (t plexTools) unwatched(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	section, err := t.section(ctx, req.SectionID, req.Filter.Type)
	if err != nil {
		return nil, err
	}
	q := req.Query()
	q.Set("unwatched", "1")
	if req.SortBy == "" {
		q.Set("sort", "addedAt:desc")
	}
	items, err := t.client.SectionItems(ctx, section, q, scanLimit(req))
	if err != nil {
		return nil, err
	}
	out := listResult(items, req)
	out["section_id"] = section
	return out, nil
}

func (t plexTools) uhdOrHDR(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.UHD(normalize.Args(raw))
	section, err := t.section(ctx, req.SectionID, "movie")
	if err != nil {
		return nil, err
	}
	items, attempts, err := t.client.UHDOrHDR(ctx, section, req.Limit, req.OrFirst)
	if err != nil {
		return nil, err
	}
	return okResult(
		"section_id", section,
		"count", len(items),
		"items", plex.Views(items, req.Level),
		"attempts", attempts,
	), nil
}

func (t plexTools) collections(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	section, err := t.section(ctx, req.SectionID, req.Filter.Type)
	if err != nil {
		return nil, err
	}
	items, err := t.client.Collections(ctx, section, req.Limit)
	if err != nil {
		return nil, err
	}
	return okResult("section_id", section, "count", len(items), "collections", plex.Views(items, req.Level)), nil
}

func (t plexTools) playlists(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	items, err := t.client.Playlists(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	return okResult("count", len(items), "playlists", plex.Views(items, req.Level)), nil
}

func (t plexTools) similar(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Item(normalize.Args(raw), detail.Compact)
	if err != nil {
		return nil, err
	}
	items, err := t.client.Similar(ctx, req.RatingKey, req.Limit)
	if err != nil {
		return nil, err
	}
	return okResult("rating_key", req.RatingKey, "count", len(items), "items", plex.Views(items, req.Level)), nil
}

func (t plexTools) extras(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Item(normalize.Args(raw), detail.Compact)
	if err != nil {
		return nil, err
	}
	items, err := t.client.Extras(ctx, req.RatingKey)
	if isNotFound(err) {
		return okResult("found", false, "rating_key", req.RatingKey), nil
	}
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.ExtraView())
	}
	return okResult("found", true, "rating_key", req.RatingKey, "count", len(rows), "extras", rows), nil
}

func (t plexTools) playbackStatus(ctx context.Context, raw map[string]any) (map[string]any, error) {
	l := normalize.Args(raw).Level(detail.Compact)
	sessions, err := t.client.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	return okResult("active_sessions", len(sessions), "sessions", sessionViews(sessions, l)), nil
}

func sessionViews(items []plex.Item, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.SessionView(l))
	}
	return out
}

func (t plexTools) history(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	limit := normalize.Clamp(a.Int("limit", normalize.PlexHistoryLimit), normalize.PlexHistoryLimit, normalize.PlexListMax)
	l := a.Level(detail.Compact)
	items, err := t.client.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		rows = append(rows, it.HistoryView(l))
	}
	return okResult("count", len(rows), "history", rows), nil
}

func (t plexTools) itemDetails(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Item(normalize.Args(raw), detail.Detailed)
	if err != nil {
		return nil, err
	}
	it, err := t.client.Item(ctx, req.RatingKey)
	if isNotFound(err) {
		it, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if it == nil {
		return okResult("found", false, "rating_key", req.RatingKey), nil
	}
	return okResult("found", true, "item", it.View(req.Level)), nil
}

func (t plexTools) rate(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Rating(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	if err := t.client.Rate(ctx, req.RatingKey, req.Rating); err != nil {
		return nil, err
	}
	return okResult("rating_key", req.RatingKey, "rating", req.Rating), nil
}

func (t plexTools) overview(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	limit := normalize.Clamp(a.Int("limit", overviewLimit), overviewLimit, normalize.PlexListMax)
	l := a.Level(detail.Minimal)

	list := func(fetch func(context.Context, int) ([]plex.Item, error)) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			items, err := fetch(ctx, limit)
			if err != nil {
				return nil, err
			}
			return plex.Views(items, l), nil
		}
	}

	outcomes := gather.All(ctx, 0,
		gather.Task{Name: "sections", Run: func(ctx context.Context) (any, error) {
			secs, err := t.client.Sections(ctx)
			if err != nil {
				return nil, err
			}
			return sectionViews(secs, l), nil
		}},
		gather.Task{Name: "recently_added", Run: list(t.client.RecentlyAdded)},
		gather.Task{Name: "on_deck", Run: list(t.client.OnDeck)},
		gather.Task{Name: "continue_watching", Run: list(t.client.ContinueWatching)},
		gather.Task{Name: "unwatched_movies", Run: func(ctx context.Context) (any, error) {
			sec, err := t.client.SectionByType(ctx, "movie")
			if err != nil {
				return nil, err
			}
			items, err := t.client.SectionItems(ctx, sec.Key, url.Values{"unwatched": {"1"}, "sort": {"addedAt:desc"}}, limit)
			if err != nil {
				return nil, err
			}
			return plex.Views(items, l), nil
		}},
		gather.Task{Name: "playback_status", Run: func(ctx context.Context) (any, error) {
			sessions, err := t.client.Sessions(ctx)
			if err != nil {
				return nil, err
			}
			return sessionViews(sessions, l), nil
		}},
	)
	return gather.Report(outcomes), nil
}

// section resolves an explicit section id, or the first library of the
// requested kind (movie by default).
func (t plexTools) section(ctx context.Context, id, mediaType string) (string, error) {
	if id != "" {
		return id, nil
	}
	kind := "movie"
	if mediaType == "show" || mediaType == "season" || mediaType == "episode" {
		kind = "show"
	}
	sec, err := t.client.SectionByType(ctx, kind)
	if err != nil {
		return "", err
	}
	return sec.Key, nil
}

// scanLimit widens the fetch when client-side filters will discard
// some of the page.
func scanLimit(req normalize.PlexList) int {
	f := req.Filter
	if f.YearMin == 0 && f.YearMax == 0 && f.MinRating == 0 && len(f.Genres) == 0 && len(f.Actors) == 0 && len(f.Directors) == 0 {
		return req.Limit
	}
	return min(req.Limit*5, 500)
}

func listResult(items []plex.Item, req normalize.PlexList) map[string]any {
	items = req.Filter.Apply(items)
	if req.SortBy != "" {
		plex.SortItems(items, req.SortBy, req.Desc)
	}
	items = items[:min(len(items), req.Limit)]
	return okResult("count", len(items), "items", plex.Views(items, req.Level))
}
