package normalize

import (
	"strings"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
)

// TMDbLimitDefault caps list results when the model gives no limit.
const TMDbLimitDefault = 20

// TMDbSearch is a normalized search.
type TMDbSearch struct {
	Query string
	Year  int
	Page  int
	Limit int
	Level detail.Level
}

// TMDbTitle addresses one movie or show.
type TMDbTitle struct {
	ID        int
	MediaType string
	Page      int
	Limit     int
	Level     detail.Level
}

// TMDbList is a curated or trending list request.
type TMDbList struct {
	MediaType string
	Window    string
	Page      int
	Limit     int
	Level     detail.Level
}

// TMDbDiscover is a normalized discover request.
type TMDbDiscover struct {
	Discover tmdb.Discover
	Limit    int
	Level    detail.Level
}

// TMDb normalizes arguments for TMDb tools.
type TMDb struct{}

// Search normalizes the search tools. year is accepted as "year" or
// "first_air_date_year".
func (TMDb) Search(a Args) (TMDbSearch, error) {
	q, err := requireString(a, "query")
	if err != nil {
		return TMDbSearch{}, err
	}
	year := a.Int("year", 0)
	if year == 0 {
		year = a.Int("first_air_date_year", 0)
	}
	return TMDbSearch{
		Query: q,
		Year:  year,
		Page:  max(a.Int("page", 1), 1),
		Limit: Clamp(a.Int("limit", TMDbLimitDefault), TMDbLimitDefault, 100),
		Level: a.Level(detail.Compact),
	}, nil
}

// Title normalizes tools that take a TMDb id. idKey names the id
// argument ("movie_id", "tv_id" or "tmdb_id").
func (TMDb) Title(a Args, idKey string, def detail.Level) (TMDbTitle, error) {
	id, err := requireInt(a, idKey)
	if err != nil {
		return TMDbTitle{}, err
	}
	mt := strings.ToLower(a.StringOr("media_type", "movie"))
	if mt != "tv" {
		mt = "movie"
	}
	return TMDbTitle{
		ID:        id,
		MediaType: mt,
		Page:      max(a.Int("page", 1), 1),
		Limit:     Clamp(a.Int("limit", TMDbLimitDefault), TMDbLimitDefault, 100),
		Level:     a.Level(def),
	}, nil
}

// List normalizes trending and curated list tools.
func (TMDb) List(a Args) TMDbList {
	mt := strings.ToLower(a.StringOr("media_type", "all"))
	switch mt {
	case "all", "movie", "tv", "person":
	default:
		mt = "all"
	}
	window := strings.ToLower(a.StringOr("time_window", "week"))
	if window != "day" {
		window = "week"
	}
	return TMDbList{
		MediaType: mt,
		Window:    window,
		Page:      max(a.Int("page", 1), 1),
		Limit:     Clamp(a.Int("limit", TMDbLimitDefault), TMDbLimitDefault, 100),
		Level:     a.Level(detail.Compact),
	}
}

// Discover normalizes tmdb_discover_movies. Genre, cast and provider
// lists accept ints, numeric strings or comma lists; anything else is
// dropped so the query degrades to "no filter".
func (TMDb) Discover(a Args) TMDbDiscover {
	return TMDbDiscover{
		Discover: tmdb.Discover{
			SortBy:             a.StringOr("sort_by", "popularity.desc"),
			Year:               a.Int("year", 0),
			PrimaryReleaseYear: a.Int("primary_release_year", 0),
			WithGenres:         a.IntList("with_genres"),
			WithoutGenres:      a.IntList("without_genres"),
			WithCast:           a.IntList("with_cast"),
			WithCrew:           a.IntList("with_crew"),
			WithKeywords:       a.IntList("with_keywords"),
			RuntimeGTE:         a.Int("with_runtime_gte", 0),
			RuntimeLTE:         a.Int("with_runtime_lte", 0),
			VoteAverageGTE:     a.Float("vote_average_gte", 0),
			OriginalLanguage:   a.String("with_original_language"),
			WithWatchProviders: a.IntList("with_watch_providers"),
			WatchRegion:        strings.ToUpper(a.String("watch_region")),
			Page:               max(a.Int("page", 1), 1),
		},
		Limit: Clamp(a.Int("limit", TMDbLimitDefault), TMDbLimitDefault, 100),
		Level: a.Level(detail.Compact),
	}
}

// Genres normalizes tmdb_genres.
func (TMDb) Genres(a Args) string {
	if strings.ToLower(a.String("media_type")) == "tv" {
		return "tv"
	}
	return "movie"
}
