package tools

import (
	"context"
	"strconv"
	"strings"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/plex"
	"github.com/nugget/marquee-media-agent/internal/preferences"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
)

const (
	smartRecommendations = "smart_recommendations"
	intelligentSearch    = "intelligent_search"

	smartDefault     = 3
	smartMax         = 20
	smartSearchLimit = 10

	// ownedLookups bounds concurrent Plex searches when checking
	// candidates against the library.
	ownedLookups = 4
)

func smartDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def(smartRecommendations,
			"Recommend titles the household does not already own. Candidates come from TMDb recommendations for a seed title, a discover query built from genres named in the prompt, a title search on the prompt, or this week's trending list. Titles already in Plex or listed under dislikes in the preferences are set aside.",
			nil,
			props{
				"seed_tmdb_id": optInt("TMDb id of a title to base recommendations on."),
				"prompt":       optString("Free text steering the picks, e.g. \"a light comedy\"."),
				"max_results":  optInt("Recommendations to return (default 3, max 20)."),
				"media_type":   optEnum("Kind of title (default movie).", "movie", "tv", "all"),
			}),
		def(intelligentSearch,
			"Search TMDb and the Plex library together. Each TMDb match says whether it is already in Plex; Plex items TMDb did not match are listed separately.",
			[]string{"query"},
			props{
				"query":          reqString("Title or keywords."),
				"limit":          optInt("Maximum results per source (default 10, max 100)."),
				"response_level": level(detail.Compact),
			}),
	}
}

// smartTools combine TMDb with the Plex library and the household
// preferences. TMDb is required; Plex and preferences are optional.
type smartTools struct {
	tmdb  *tmdb.Client
	plex  *plex.Client
	prefs *preferences.Store
}

func (t smartTools) recommend(ctx context.Context, raw map[string]any) (map[string]any, error) {
	if t.tmdb == nil {
		return notConfigured("TMDb")(ctx, raw)
	}
	a := normalize.Args(raw)
	limit := normalize.Clamp(a.Int("max_results", smartDefault), smartDefault, smartMax)
	mediaType := strings.ToLower(a.StringOr("media_type", "movie"))
	switch mediaType {
	case "movie", "tv", "all":
	default:
		mediaType = "movie"
	}

	candidates, source, err := t.candidates(ctx, a, mediaType)
	if err != nil {
		return nil, err
	}

	disliked := t.dislikes(ctx)
	var kept []tmdb.Title
	excluded := []string{}
	for _, c := range candidates {
		if c.MediaType == "person" || (mediaType != "all" && c.MediaType != "" && c.MediaType != mediaType) {
			continue
		}
		if disliked[strings.ToLower(c.DisplayTitle())] {
			excluded = append(excluded, c.DisplayTitle())
			continue
		}
		kept = append(kept, c)
	}

	// Check a few more than needed so owned titles can be skipped.
	kept = kept[:min(len(kept), limit*3)]
	owned := t.owned(ctx, kept)
	recs := make([]map[string]any, 0, limit)
	alreadyOwned := []string{}
	for i, c := range kept {
		if owned[i] {
			alreadyOwned = append(alreadyOwned, c.DisplayTitle())
			continue
		}
		if len(recs) < limit {
			recs = append(recs, c.View(detail.Compact))
		}
	}

	return okResult(
		"source", source,
		"media_type", mediaType,
		"count", len(recs),
		"recommendations", recs,
		"already_owned", alreadyOwned,
		"excluded_by_preferences", excluded,
		"library_checked", t.plex != nil,
	), nil
}

// candidates picks the first source that applies: seed, genres named
// in the prompt, the prompt as a search, then trending.
func (t smartTools) candidates(ctx context.Context, a normalize.Args, mediaType string) ([]tmdb.Title, string, error) {
	if seed, ok := normalize.Int(a["seed_tmdb_id"]); ok && seed > 0 {
		mt := mediaType
		if mt == "all" {
			mt = "movie"
		}
		p, err := t.tmdb.Recommendations(ctx, mt, seed, 1)
		if err != nil {
			return nil, "", err
		}
		return p.Results, "recommendations", nil
	}

	if prompt := a.String("prompt"); prompt != "" {
		if mediaType != "tv" {
			if ids := t.genresIn(ctx, prompt); len(ids) > 0 {
				p, err := t.tmdb.DiscoverMovies(ctx, tmdb.Discover{
					SortBy:         "vote_average.desc",
					WithGenres:     ids,
					VoteAverageGTE: 6.5,
				})
				if err != nil {
					return nil, "", err
				}
				return p.Results, "discover", nil
			}
		}
		p, err := t.tmdb.SearchMulti(ctx, prompt, 1)
		if err != nil {
			return nil, "", err
		}
		if len(p.Results) > 0 {
			return p.Results, "search", nil
		}
	}

	p, err := t.tmdb.Trending(ctx, mediaType, "week", 1)
	if err != nil {
		return nil, "", err
	}
	return p.Results, "trending", nil
}

// genresIn returns the ids of movie genres whose names appear in text.
// A genre lookup failure means no genres.
func (t smartTools) genresIn(ctx context.Context, text string) []int {
	genres, err := t.tmdb.Genres(ctx, "movie")
	if err != nil {
		return nil
	}
	text = strings.ToLower(text)
	var ids []int
	for _, g := range genres {
		if g.Name != "" && strings.Contains(text, strings.ToLower(g.Name)) {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// dislikes collects lowercased leaf values stored under any preference
// path mentioning dislikes, avoid or never.
func (t smartTools) dislikes(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if t.prefs == nil {
		return out
	}
	doc, err := t.prefs.Load(ctx)
	if err != nil {
		return out
	}
	for _, leaf := range preferences.Flatten(doc) {
		p := strings.ToLower(leaf.Path)
		if strings.Contains(p, "dislike") || strings.Contains(p, "avoid") || strings.Contains(p, "never") {
			out[strings.ToLower(strings.TrimSpace(leaf.Value))] = true
		}
	}
	return out
}

// owned reports, per candidate, whether Plex has a title of the same
// name and year. Lookups that fail count as not owned.
func (t smartTools) owned(ctx context.Context, titles []tmdb.Title) []bool {
	out := make([]bool, len(titles))
	if t.plex == nil || len(titles) == 0 {
		return out
	}
	tasks := make([]gather.Task, len(titles))
	for i, c := range titles {
		tasks[i] = gather.Task{Name: c.DisplayTitle(), Run: func(ctx context.Context) (any, error) {
			return t.plex.Search(ctx, c.DisplayTitle(), 5)
		}}
	}
	for i, o := range gather.All(ctx, ownedLookups, tasks...) {
		items, _ := o.Value.([]plex.Item)
		out[i] = o.Err == nil && matchIndex(titles[i], items) >= 0
	}
	return out
}

// matchIndex returns the index of the Plex item with the same title as
// c and, when both sides know it, the same year; or -1.
func matchIndex(c tmdb.Title, items []plex.Item) int {
	title := strings.ToLower(c.DisplayTitle())
	year := c.Year()
	for i, it := range items {
		if strings.ToLower(it.Title) != title {
			continue
		}
		if year == "" || it.Year == 0 || year == strconv.Itoa(it.Year) {
			return i
		}
	}
	return -1
}

func (t smartTools) search(ctx context.Context, raw map[string]any) (map[string]any, error) {
	if t.tmdb == nil && t.plex == nil {
		return map[string]any{"success": false, "error": "neither TMDb nor Plex is configured"}, nil
	}
	a := normalize.Args(raw)
	query := a.String("query")
	if query == "" {
		return nil, &normalize.ArgError{Field: "query"}
	}
	limit := normalize.Clamp(a.Int("limit", smartSearchLimit), smartSearchLimit, normalize.PlexListMax)
	l := a.Level(detail.Compact)

	var tasks []gather.Task
	if t.tmdb != nil {
		tasks = append(tasks, gather.Task{Name: "tmdb", Run: func(ctx context.Context) (any, error) {
			p, err := t.tmdb.SearchMulti(ctx, query, 1)
			if err != nil {
				return nil, err
			}
			return p.Results, nil
		}})
	}
	if t.plex != nil {
		tasks = append(tasks, gather.Task{Name: "plex", Run: func(ctx context.Context) (any, error) {
			return t.plex.Search(ctx, query, limit)
		}})
	}

	var (
		titles []tmdb.Title
		items  []plex.Item
	)
	failed := []string{}
	errs := map[string]any{}
	for _, o := range gather.All(ctx, 0, tasks...) {
		if o.Err != nil {
			failed = append(failed, o.Name)
			errs[o.Name] = o.Err.Error()
			continue
		}
		switch v := o.Value.(type) {
		case []tmdb.Title:
			titles = v
		case []plex.Item:
			items = v
		}
	}

	matched := make([]bool, len(items))
	results := make([]map[string]any, 0, limit)
	for _, c := range titles {
		if len(results) == limit {
			break
		}
		if c.MediaType == "person" {
			continue
		}
		row := c.View(l)
		row["in_library"] = false
		if i := matchIndex(c, items); i >= 0 {
			matched[i] = true
			row["in_library"] = true
			row["plex_rating_key"] = items[i].RatingKey
		}
		results = append(results, row)
	}
	libraryOnly := make([]map[string]any, 0)
	for i, it := range items {
		if !matched[i] {
			libraryOnly = append(libraryOnly, it.View(l))
		}
	}

	out := okResult(
		"query", query,
		"results", results,
		"library_only", libraryOnly,
		"failed_sections", failed,
		"partial", len(failed) > 0,
	)
	if len(errs) > 0 {
		out["errors"] = errs
	}
	return out, nil
}
