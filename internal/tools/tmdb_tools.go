package tools

import (
	"context"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
)

var (
	tmdbPageProps = props{
		"page":           optInt("Result page, starting at 1."),
		"limit":          optInt("Maximum results to return from the page (default 20)."),
		"response_level": level(detail.Compact),
	}
	tmdbSearchProps = with(tmdbPageProps, props{
		"query": reqString("Title or name to search for."),
	})
)

func tmdbDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("tmdb_search",
			"Search TMDb for movies by title. Returns TMDb ids used by radarr_add_movie and the detail tools.",
			[]string{"query"},
			with(tmdbSearchProps, props{"year": optInt("Release year to narrow the search.")})),
		def("tmdb_search_tv",
			"Search TMDb for TV shows by name.",
			[]string{"query"},
			with(tmdbSearchProps, props{"first_air_date_year": optInt("Year the show first aired.")})),
		def("tmdb_search_multi",
			"Search TMDb for movies, shows and people in one query.",
			[]string{"query"}, tmdbSearchProps),
		def("tmdb_search_person",
			"Search TMDb for actors, directors and other people. Returns person ids usable as with_cast or with_crew in tmdb_discover_movies.",
			[]string{"query"}, tmdbSearchProps),
		def("tmdb_movie_details",
			"Get full TMDb details for a movie: overview, runtime, genres, cast and director.",
			[]string{"movie_id"},
			props{
				"movie_id":       reqInt("TMDb movie id."),
				"response_level": level(detail.Detailed),
			}),
		def("tmdb_tv_details",
			"Get full TMDb details for a TV show: overview, seasons, networks and cast.",
			[]string{"tv_id"},
			props{
				"tv_id":          reqInt("TMDb TV id."),
				"response_level": level(detail.Detailed),
			}),
		def("tmdb_similar_movies",
			"List movies TMDb considers similar to the given movie.",
			[]string{"movie_id"},
			with(tmdbPageProps, props{"movie_id": reqInt("TMDb movie id.")})),
		def("tmdb_similar_tv",
			"List shows TMDb considers similar to the given show.",
			[]string{"tv_id"},
			with(tmdbPageProps, props{"tv_id": reqInt("TMDb TV id.")})),
		def("tmdb_recommendations",
			"List TMDb recommendations based on a movie or show.",
			[]string{"tmdb_id"},
			with(tmdbPageProps, props{
				"tmdb_id":    reqInt("TMDb id of the movie or show."),
				"media_type": optEnum("Kind of title (default movie).", "movie", "tv"),
			})),
		def("tmdb_discover_movies",
			"Discover movies by filters: genres, year, cast, crew, runtime, rating, language or streaming provider. Use tmdb_genres for genre ids.",
			nil,
			with(tmdbPageProps, props{
				"sort_by":                optString("Sort order, e.g. popularity.desc, vote_average.desc, primary_release_date.desc."),
				"year":                   optInt("Release year."),
				"primary_release_year":   optInt("Primary release year."),
				"with_genres":            optIntList("Genre ids the movie must have."),
				"without_genres":         optIntList("Genre ids to exclude."),
				"with_cast":              optIntList("Person ids of cast members."),
				"with_crew":              optIntList("Person ids of crew members."),
				"with_keywords":          optIntList("Keyword ids."),
				"with_runtime_gte":       optInt("Minimum runtime in minutes."),
				"with_runtime_lte":       optInt("Maximum runtime in minutes."),
				"vote_average_gte":       optNumber("Minimum vote average, 0-10."),
				"with_original_language": optString("ISO 639-1 language code, e.g. en, ko."),
				"with_watch_providers":   optIntList("Watch provider ids (any of them)."),
				"watch_region":           optString("ISO 3166-1 country for watch providers (default configured region)."),
			})),
		def("tmdb_trending",
			"List trending movies, shows or people on TMDb.",
			nil,
			with(tmdbPageProps, props{
				"media_type":  optEnum("What to list (default all).", "all", "movie", "tv", "person"),
				"time_window": optEnum("Trending window (default week).", "day", "week"),
			})),
		def("tmdb_upcoming_movies",
			"List movies releasing soon in the configured region.",
			nil, tmdbPageProps),
		def("tmdb_now_playing_movies",
			"List movies now in theaters in the configured region.",
			nil, tmdbPageProps),
		def("tmdb_on_the_air_tv",
			"List TV shows with an episode airing in the next seven days.",
			nil, tmdbPageProps),
		def("tmdb_airing_today_tv",
			"List TV shows with an episode airing today.",
			nil, tmdbPageProps),
		def("tmdb_collection_details",
			"Get a movie franchise collection (for example every Alien film) with its parts in release order. Collection ids appear in tmdb_movie_details at the detailed level.",
			[]string{"collection_id"},
			props{
				"collection_id":  reqInt("TMDb collection id."),
				"response_level": level(detail.Compact),
			}),
		def("tmdb_genres",
			"List TMDb genre ids and names.",
			nil,
			props{"media_type": optEnum("Genre list to return (default movie).", "movie", "tv")}),
		def("tmdb_watch_providers_movie",
			"Show where a movie can be streamed, rented or bought in the configured region.",
			[]string{"movie_id"},
			props{
				"movie_id": reqInt("TMDb movie id."),
				"region":   optString("ISO 3166-1 country (default configured region)."),
			}),
		def("tmdb_watch_providers_tv",
			"Show where a TV show can be streamed, rented or bought in the configured region.",
			[]string{"tv_id"},
			props{
				"tv_id":  reqInt("TMDb TV id."),
				"region": optString("ISO 3166-1 country (default configured region)."),
			}),
		def("tmdb_discovery_suite",
			"One call snapshot of what is new and notable: trending, popular, top rated, upcoming and now playing movies. Sections that fail are reported individually.",
			nil,
			props{
				"limit":          optInt("Titles per section (default 10)."),
				"response_level": level(detail.Minimal),
			}),
	}
}

type tmdbTools struct {
	client *tmdb.Client
	args   normalize.TMDb
}

func (t tmdbTools) handlers() map[string]Handler {
	return map[string]Handler{
		"tmdb_search":                t.searchMovie,
		"tmdb_search_tv":             t.searchTV,
		"tmdb_search_multi":          t.searchMulti,
		"tmdb_search_person":         t.searchPerson,
		"tmdb_movie_details":         t.movieDetails,
		"tmdb_tv_details":            t.tvDetails,
		"tmdb_similar_movies":        t.similarMovies,
		"tmdb_similar_tv":            t.similarTV,
		"tmdb_recommendations":       t.recommendations,
		"tmdb_discover_movies":       t.discover,
		"tmdb_trending":              t.trending,
		"tmdb_upcoming_movies":       t.movieList("upcoming"),
		"tmdb_now_playing_movies":    t.movieList("now_playing"),
		"tmdb_on_the_air_tv":         t.tvList("on_the_air"),
		"tmdb_airing_today_tv":       t.tvList("airing_today"),
		"tmdb_collection_details":    t.collection,
		"tmdb_genres":                t.genres,
		"tmdb_watch_providers_movie": t.watchProviders("movie", "movie_id"),
		"tmdb_watch_providers_tv":    t.watchProviders("tv", "tv_id"),
		"tmdb_discovery_suite":       t.discoverySuite,
	}
}

func pageResult(p *tmdb.Page[tmdb.Title], l detail.Level, limit int) map[string]any {
	out := tmdb.PageView(p, l, limit)
	out["success"] = true
	return out
}

func (t tmdbTools) searchMovie(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Search(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	p, err := t.client.SearchMovie(ctx, req.Query, req.Year, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) searchTV(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Search(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	p, err := t.client.SearchTV(ctx, req.Query, req.Year, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) searchMulti(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Search(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	p, err := t.client.SearchMulti(ctx, req.Query, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) searchPerson(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Search(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	p, err := t.client.SearchPerson(ctx, req.Query, req.Page)
	if err != nil {
		return nil, err
	}
	people := p.Results[:min(len(p.Results), req.Limit)]
	views := make([]map[string]any, 0, len(people))
	for _, person := range people {
		views = append(views, person.View(req.Level))
	}
	return okResult("page", p.Page, "total_results", p.TotalResults, "results", views), nil
}

func (t tmdbTools) movieDetails(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "movie_id", detail.Detailed)
	if err != nil {
		return nil, err
	}
	m, err := t.client.MovieDetails(ctx, req.ID, appendFor(req.Level))
	if isNotFound(err) {
		return okResult("found", false, "movie_id", req.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return okResult("found", true, "movie", m.View(req.Level)), nil
}

func (t tmdbTools) tvDetails(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "tv_id", detail.Detailed)
	if err != nil {
		return nil, err
	}
	s, err := t.client.TVDetails(ctx, req.ID, appendFor(req.Level))
	if isNotFound(err) {
		return okResult("found", false, "tv_id", req.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return okResult("found", true, "show", s.View(req.Level)), nil
}

// appendFor requests credits only when the level will show them.
func appendFor(l detail.Level) string {
	if l == detail.Detailed {
		return "credits"
	}
	return ""
}

func (t tmdbTools) similarMovies(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "movie_id", detail.Compact)
	if err != nil {
		return nil, err
	}
	p, err := t.client.SimilarMovies(ctx, req.ID, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) similarTV(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "tv_id", detail.Compact)
	if err != nil {
		return nil, err
	}
	p, err := t.client.SimilarTV(ctx, req.ID, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) recommendations(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "tmdb_id", detail.Compact)
	if err != nil {
		return nil, err
	}
	p, err := t.client.Recommendations(ctx, req.MediaType, req.ID, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) discover(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.Discover(normalize.Args(raw))
	p, err := t.client.DiscoverMovies(ctx, req.Discover)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) trending(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req := t.args.List(normalize.Args(raw))
	p, err := t.client.Trending(ctx, req.MediaType, req.Window, req.Page)
	if err != nil {
		return nil, err
	}
	return pageResult(p, req.Level, req.Limit), nil
}

func (t tmdbTools) movieList(list string) Handler {
	return func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		req := t.args.List(normalize.Args(raw))
		p, err := t.client.MovieList(ctx, list, req.Page)
		if err != nil {
			return nil, err
		}
		return pageResult(p, req.Level, req.Limit), nil
	}
}

func (t tmdbTools) tvList(list string) Handler {
	return func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		req := t.args.List(normalize.Args(raw))
		p, err := t.client.TVList(ctx, list, req.Page)
		if err != nil {
			return nil, err
		}
		return pageResult(p, req.Level, req.Limit), nil
	}
}

func (t tmdbTools) collection(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.Title(normalize.Args(raw), "collection_id", detail.Compact)
	if err != nil {
		return nil, err
	}
	c, err := t.client.Collection(ctx, req.ID)
	if isNotFound(err) {
		return okResult("found", false, "collection_id", req.ID), nil
	}
	if err != nil {
		return nil, err
	}
	return okResult("found", true, "collection", c.View(req.Level)), nil
}

func (t tmdbTools) genres(ctx context.Context, raw map[string]any) (map[string]any, error) {
	mt := t.args.Genres(normalize.Args(raw))
	gs, err := t.client.Genres(ctx, mt)
	if err != nil {
		return nil, err
	}
	return okResult("media_type", mt, "genres", gs), nil
}

func (t tmdbTools) watchProviders(mediaType, idKey string) Handler {
	return func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		a := normalize.Args(raw)
		req, err := t.args.Title(a, idKey, detail.Compact)
		if err != nil {
			return nil, err
		}
		wp, err := t.client.WatchProviders(ctx, mediaType, req.ID)
		if err != nil {
			return nil, err
		}
		region := a.StringOr("region", t.client.Region())
		return okResult("providers", wp.View(region)), nil
	}
}

// discoverySuite fetches five curated lists at once. Each section is
// {name, data} or, when it failed, {name, error, data: []}.
func (t tmdbTools) discoverySuite(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	limit := normalize.Clamp(a.Int("limit", overviewLimit), overviewLimit, normalize.TMDbLimitDefault)
	l := a.Level(detail.Minimal)

	list := func(fetch func(ctx context.Context) (*tmdb.Page[tmdb.Title], error)) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			p, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			return tmdb.PageView(p, l, limit)["results"], nil
		}
	}
	curated := func(name string) func(context.Context) (any, error) {
		return list(func(ctx context.Context) (*tmdb.Page[tmdb.Title], error) {
			return t.client.MovieList(ctx, name, 1)
		})
	}

	outcomes := gather.All(ctx, 0,
		gather.Task{Name: "trending", Run: list(func(ctx context.Context) (*tmdb.Page[tmdb.Title], error) {
			return t.client.Trending(ctx, "all", "week", 1)
		})},
		gather.Task{Name: "popular", Run: curated("popular")},
		gather.Task{Name: "top_rated", Run: curated("top_rated")},
		gather.Task{Name: "upcoming", Run: curated("upcoming")},
		gather.Task{Name: "now_playing", Run: curated("now_playing")},
	)

	sections := make([]map[string]any, 0, len(outcomes))
	summary := make(map[string]any, len(outcomes))
	failed := gather.Failed(outcomes)
	for _, o := range outcomes {
		if o.Err != nil {
			sections = append(sections, map[string]any{"name": o.Name, "error": o.Err.Error(), "data": []any{}})
			summary[o.Name] = 0
			continue
		}
		data, _ := o.Value.([]map[string]any)
		sections = append(sections, map[string]any{"name": o.Name, "data": data})
		summary[o.Name] = len(data)
	}
	if failed == nil {
		failed = []string{}
	}
	return okResult(
		"sections", sections,
		"summary", summary,
		"failed_sections", failed,
		"partial", len(failed) > 0,
	), nil
}
