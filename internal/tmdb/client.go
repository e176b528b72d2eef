// Package tmdb is a client for The Movie Database v3 API.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/httpkit"
)

// DefaultBaseURL is the public TMDb v3 endpoint.
const DefaultBaseURL = "https://api.themoviedb.org/3"

// Client queries TMDb. Language and region apply to every request
// that accepts them.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	region     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a TMDb client.
func NewClient(apiKey, baseURL, language, region string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := []httpkit.ClientOption{
		httpkit.WithTimeout(20 * time.Second),
		httpkit.WithRetry(2, time.Second),
		httpkit.WithLogger(logger),
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		language:   language,
		region:     region,
		httpClient: httpkit.NewClient(append(base, opts...)...),
		logger:     logger,
	}
}

// Region returns the configured watch region.
func (c *Client) Region() string { return c.region }

// SearchMovie searches movies by title. year may be zero.
func (c *Client) SearchMovie(ctx context.Context, query string, year, page int) (*Page[Title], error) {
	q := url.Values{"query": {query}}
	setInt(q, "year", year)
	setInt(q, "page", page)
	return c.titles(ctx, "/search/movie", q, "movie")
}

// SearchTV searches shows by name. firstAirYear may be zero.
func (c *Client) SearchTV(ctx context.Context, query string, firstAirYear, page int) (*Page[Title], error) {
	q := url.Values{"query": {query}}
	setInt(q, "first_air_date_year", firstAirYear)
	setInt(q, "page", page)
	return c.titles(ctx, "/search/tv", q, "tv")
}

// SearchMulti searches movies, shows and people at once.
func (c *Client) SearchMulti(ctx context.Context, query string, page int) (*Page[Title], error) {
	q := url.Values{"query": {query}}
	setInt(q, "page", page)
	return c.titles(ctx, "/search/multi", q, "")
}

// SearchPerson searches people by name.
func (c *Client) SearchPerson(ctx context.Context, query string, page int) (*Page[Person], error) {
	q := url.Values{"query": {query}}
	setInt(q, "page", page)
	var out Page[Person]
	if err := c.get(ctx, "/search/person", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MovieDetails fetches one movie. appendTo is TMDb's
// append_to_response list (for example "credits").
func (c *Client) MovieDetails(ctx context.Context, id int, appendTo string) (*Title, error) {
	return c.details(ctx, "/movie/"+strconv.Itoa(id), appendTo, "movie")
}

// TVDetails fetches one show.
func (c *Client) TVDetails(ctx context.Context, id int, appendTo string) (*Title, error) {
	return c.details(ctx, "/tv/"+strconv.Itoa(id), appendTo, "tv")
}

// SimilarMovies lists movies similar to id.
func (c *Client) SimilarMovies(ctx context.Context, id, page int) (*Page[Title], error) {
	return c.titles(ctx, "/movie/"+strconv.Itoa(id)+"/similar", pageQuery(page), "movie")
}

// SimilarTV lists shows similar to id.
func (c *Client) SimilarTV(ctx context.Context, id, page int) (*Page[Title], error) {
	return c.titles(ctx, "/tv/"+strconv.Itoa(id)+"/similar", pageQuery(page), "tv")
}

// Recommendations lists TMDb's recommendations for a movie or show.
func (c *Client) Recommendations(ctx context.Context, mediaType string, id, page int) (*Page[Title], error) {
	if mediaType != "tv" {
		mediaType = "movie"
	}
	return c.titles(ctx, "/"+mediaType+"/"+strconv.Itoa(id)+"/recommendations", pageQuery(page), mediaType)
}

// Discover holds /discover/movie filters. Zero fields are omitted.
type Discover struct {
	SortBy             string
	Year               int
	PrimaryReleaseYear int
	WithGenres         []int
	WithoutGenres      []int
	WithCast           []int
	WithCrew           []int
	WithKeywords       []int
	RuntimeGTE         int
	RuntimeLTE         int
	VoteAverageGTE     float64
	OriginalLanguage   string
	WithWatchProviders []int
	WatchRegion        string
	Page               int
}

func (d Discover) values() url.Values {
	q := url.Values{}
	if d.SortBy != "" {
		q.Set("sort_by", d.SortBy)
	}
	setInt(q, "year", d.Year)
	setInt(q, "primary_release_year", d.PrimaryReleaseYear)
	setInts(q, "with_genres", d.WithGenres)
	setInts(q, "without_genres", d.WithoutGenres)
	setInts(q, "with_cast", d.WithCast)
	setInts(q, "with_crew", d.WithCrew)
	setInts(q, "with_keywords", d.WithKeywords)
	setInt(q, "with_runtime.gte", d.RuntimeGTE)
	setInt(q, "with_runtime.lte", d.RuntimeLTE)
	if d.VoteAverageGTE > 0 {
		q.Set("vote_average.gte", strconv.FormatFloat(d.VoteAverageGTE, 'f', -1, 64))
	}
	if d.OriginalLanguage != "" {
		q.Set("with_original_language", d.OriginalLanguage)
	}
	if len(d.WithWatchProviders) > 0 {
		// TMDb treats | as OR for providers.
		parts := make([]string, len(d.WithWatchProviders))
		for i, id := range d.WithWatchProviders {
			parts[i] = strconv.Itoa(id)
		}
		q.Set("with_watch_providers", strings.Join(parts, "|"))
	}
	if d.WatchRegion != "" {
		q.Set("watch_region", d.WatchRegion)
	}
	setInt(q, "page", d.Page)
	return q
}

// DiscoverMovies runs a filtered movie discovery query.
func (c *Client) DiscoverMovies(ctx context.Context, d Discover) (*Page[Title], error) {
	if d.WatchRegion == "" && len(d.WithWatchProviders) > 0 {
		d.WatchRegion = c.region
	}
	return c.titles(ctx, "/discover/movie", d.values(), "movie")
}

// Trending lists trending titles. mediaType is all, movie, tv or
// person; window is day or week.
func (c *Client) Trending(ctx context.Context, mediaType, window string, page int) (*Page[Title], error) {
	return c.titles(ctx, "/trending/"+mediaType+"/"+window, pageQuery(page), "")
}

// MovieList fetches a curated movie list: popular, top_rated, upcoming
// or now_playing.
func (c *Client) MovieList(ctx context.Context, list string, page int) (*Page[Title], error) {
	q := pageQuery(page)
	if list == "upcoming" || list == "now_playing" {
		q.Set("region", c.region)
	}
	return c.titles(ctx, "/movie/"+list, q, "movie")
}

// TVList fetches a curated show list: popular, top_rated, on_the_air
// or airing_today.
func (c *Client) TVList(ctx context.Context, list string, page int) (*Page[Title], error) {
	return c.titles(ctx, "/tv/"+list, pageQuery(page), "tv")
}

// Collection fetches a franchise collection and its parts.
func (c *Client) Collection(ctx context.Context, id int) (*Collection, error) {
	var out Collection
	if err := c.get(ctx, "/collection/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Parts {
		if out.Parts[i].MediaType == "" {
			out.Parts[i].MediaType = "movie"
		}
	}
	return &out, nil
}

// Genres lists genres for movie or tv.
func (c *Client) Genres(ctx context.Context, mediaType string) ([]Genre, error) {
	var out struct {
		Genres []Genre `json:"genres"`
	}
	if err := c.get(ctx, "/genre/"+mediaType+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Genres, nil
}

// WatchProviders lists where a movie or show can be watched.
func (c *Client) WatchProviders(ctx context.Context, mediaType string, id int) (*WatchProviders, error) {
	var out WatchProviders
	if err := c.get(ctx, "/"+mediaType+"/"+strconv.Itoa(id)+"/watch/providers", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) titles(ctx context.Context, path string, q url.Values, mediaType string) (*Page[Title], error) {
	var out Page[Title]
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	if mediaType != "" {
		for i := range out.Results {
			if out.Results[i].MediaType == "" {
				out.Results[i].MediaType = mediaType
			}
		}
	}
	return &out, nil
}

func (c *Client) details(ctx context.Context, path, appendTo, mediaType string) (*Title, error) {
	q := url.Values{}
	if appendTo != "" {
		q.Set("append_to_response", appendTo)
	}
	var out Title
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	out.MediaType = mediaType
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)
	if c.language != "" && q.Get("language") == "" {
		q.Set("language", c.language)
	}
	req, err := httpkit.NewJSONRequest(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if err := httpkit.DoJSON(c.httpClient, req, out); err != nil {
		return fmt.Errorf("tmdb %s: %w", path, redact(err, c.apiKey))
	}
	return nil
}

// redact strips the API key from the request URL that transport and
// status errors carry.
func redact(err error, key string) error {
	if key == "" {
		return err
	}
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		cp := *se
		cp.URL = strings.ReplaceAll(cp.URL, key, "REDACTED")
		return &cp
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		cp := *ue
		cp.URL = strings.ReplaceAll(cp.URL, key, "REDACTED")
		return &cp
	}
	return err
}

func pageQuery(page int) url.Values {
	q := url.Values{}
	setInt(q, "page", page)
	return q
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

func setInts(q url.Values, key string, vs []int) {
	if len(vs) == 0 {
		return
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	q.Set(key, strings.Join(parts, ","))
}
