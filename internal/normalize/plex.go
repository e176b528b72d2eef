package normalize

import (
	"net/url"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/plex"
)

// List-size caps for Plex operations.
const (
	PlexListDefault   = 20
	PlexListMax       = 100
	PlexSearchDefault = 25
	PlexHistoryLimit  = 20
	PlexUHDDefault    = 30
)

// PlexList is a normalized library listing request.
type PlexList struct {
	SectionID string
	Limit     int
	Level     detail.Level
	Filter    plex.Filter
	SortBy    string
	Desc      bool
}

// Query returns the server-side filters Plex understands.
func (p PlexList) Query() url.Values {
	q := url.Values{}
	if p.Filter.Type != "" {
		if t, ok := plexTypeCodes[p.Filter.Type]; ok {
			q.Set("type", t)
		}
	}
	return q
}

var plexTypeCodes = map[string]string{"movie": "1", "show": "2", "season": "3", "episode": "4"}

// PlexSearch is a normalized search request.
type PlexSearch struct {
	Query string
	Limit int
	Level detail.Level
}

// PlexItem addresses one library item.
type PlexItem struct {
	RatingKey string
	Limit     int
	Level     detail.Level
}

// PlexRating sets a user rating on a 0-10 scale.
type PlexRating struct {
	RatingKey string
	Rating    float64
}

// PlexUHD is a normalized get_plex_movies_4k_or_hdr request.
type PlexUHD struct {
	SectionID string
	Limit     int
	OrFirst   bool
	Level     detail.Level
}

// Plex normalizes arguments for Plex tools.
type Plex struct{}

// List normalizes section listings (recently added, unwatched, ...).
func (Plex) List(a Args) PlexList {
	l := PlexList{
		SectionID: a.String("section_id"),
		Limit:     Clamp(a.Int("limit", PlexListDefault), PlexListDefault, PlexListMax),
		Level:     a.Level(detail.Compact),
		SortBy:    a.String("sort_by"),
		Desc:      a.Bool("descending", true),
		Filter: plex.Filter{
			Type:      a.String("media_type"),
			YearMin:   a.Int("year_min", 0),
			YearMax:   a.Int("year_max", 0),
			MinRating: a.Float("min_rating", 0),
			Genres:    a.StringList("genres"),
			Actors:    a.StringList("actors"),
			Directors: a.StringList("directors"),
		},
	}
	switch l.Filter.Type {
	case "movies":
		l.Filter.Type = "movie"
	case "tv", "shows", "series":
		l.Filter.Type = "show"
	}
	return l
}

// Search normalizes search_plex.
func (Plex) Search(a Args) (PlexSearch, error) {
	q, err := requireString(a, "query")
	if err != nil {
		return PlexSearch{}, err
	}
	return PlexSearch{
		Query: q,
		Limit: Clamp(a.Int("limit", PlexSearchDefault), PlexSearchDefault, PlexListMax),
		Level: a.Level(detail.Compact),
	}, nil
}

// Item normalizes tools addressing one item. def is the level used
// when the model does not ask for one.
func (Plex) Item(a Args, def detail.Level) (PlexItem, error) {
	key := a.String("rating_key")
	if key == "" {
		return PlexItem{}, required("rating_key")
	}
	return PlexItem{
		RatingKey: key,
		Limit:     Clamp(a.Int("limit", PlexListDefault), PlexListDefault, PlexListMax),
		Level:     a.Level(def),
	}, nil
}

// Rating normalizes set_plex_rating. Ratings above 10 are clamped and
// a five-star scale is accepted when the caller says so.
func (Plex) Rating(a Args) (PlexRating, error) {
	key := a.String("rating_key")
	if key == "" {
		return PlexRating{}, required("rating_key")
	}
	r, ok := Float(a["rating"])
	if !ok {
		return PlexRating{}, required("rating")
	}
	if a.String("scale") == "5" || a.String("scale") == "stars" {
		r *= 2
	}
	if r < 0 {
		r = 0
	}
	if r > 10 {
		r = 10
	}
	return PlexRating{RatingKey: key, Rating: r}, nil
}

// UHD normalizes get_plex_movies_4k_or_hdr.
func (Plex) UHD(a Args) PlexUHD {
	return PlexUHD{
		SectionID: a.String("section_id"),
		Limit:     Clamp(a.Int("limit", PlexUHDDefault), PlexUHDDefault, PlexListMax),
		OrFirst:   a.Bool("or_semantics", true),
		Level:     a.Level(detail.Compact),
	}
}
