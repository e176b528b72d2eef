// Package radarr is a Radarr v3 client.
package radarr

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

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/httpkit"
)

// Client talks to Radarr. The embedded arr.Client supplies status,
// health, queue, commands and blocklist.
type Client struct {
	*arr.Client
}

// NewClient creates a Radarr client.
func NewClient(baseURL, apiKey string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	return &Client{Client: arr.NewClient("radarr", baseURL, apiKey, logger, opts...)}
}

// Lookup searches for movies by title or "tmdb:<id>"/"imdb:<id>".
func (c *Client) Lookup(ctx context.Context, term string) ([]Movie, error) {
	var out []Movie
	if err := c.Get(ctx, "/movie/lookup", url.Values{"term": {term}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Movies lists the whole library.
func (c *Client) Movies(ctx context.Context) ([]Movie, error) {
	var out []Movie
	if err := c.Get(ctx, "/movie", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Movie fetches one library movie.
func (c *Client) Movie(ctx context.Context, id int) (*Movie, error) {
	var out Movie
	if err := c.Get(ctx, "/movie/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MovieByTMDb returns the library movie with the given TMDb id, or nil.
func (c *Client) MovieByTMDb(ctx context.Context, tmdbID int) (*Movie, error) {
	var out []Movie
	if err := c.Get(ctx, "/movie", url.Values{"tmdbId": {strconv.Itoa(tmdbID)}}, &out); err != nil {
		return nil, err
	}
	for _, m := range out {
		if m.TMDbID == tmdbID {
			return &m, nil
		}
	}
	return nil, nil
}

// AddMovie adds a movie by TMDb id. A movie already in the library is
// returned with AlreadyExists set rather than an error.
func (c *Client) AddMovie(ctx context.Context, req AddRequest) (*AddResult, error) {
	if existing, err := c.MovieByTMDb(ctx, req.TMDbID); err != nil {
		return nil, err
	} else if existing != nil {
		return &AddResult{Movie: existing, AlreadyExists: true}, nil
	}

	// Radarr wants the lookup record (title, slug, images) in the body.
	var payload map[string]any
	q := url.Values{"tmdbId": {strconv.Itoa(req.TMDbID)}}
	if err := c.Get(ctx, "/movie/lookup/tmdb", q, &payload); err != nil {
		return nil, fmt.Errorf("lookup tmdb %d: %w", req.TMDbID, err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	delete(payload, "id")
	delete(payload, "path")
	payload["tmdbId"] = req.TMDbID
	payload["qualityProfileId"] = req.QualityProfileID
	payload["rootFolderPath"] = req.RootFolderPath
	payload["monitored"] = req.Monitored
	payload["minimumAvailability"] = orDefault(req.MinimumAvailability, "announced")
	payload["addOptions"] = map[string]any{"searchForMovie": req.SearchNow}

	var added Movie
	err := c.Post(ctx, "/movie", payload, &added)
	if err != nil {
		var se *httpkit.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(se.Body), "already been added") {
			existing, lerr := c.MovieByTMDb(ctx, req.TMDbID)
			if lerr == nil && existing != nil {
				return &AddResult{Movie: existing, AlreadyExists: true}, nil
			}
		}
		return nil, err
	}
	return &AddResult{Movie: &added}, nil
}

// UpdateMovie overlays patch onto the stored movie and saves it.
func (c *Client) UpdateMovie(ctx context.Context, id int, patch map[string]any) (*Movie, error) {
	var out Movie
	if err := c.Patch(ctx, "/movie/"+strconv.Itoa(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteMovie removes a movie, optionally deleting its files and
// excluding it from import lists.
func (c *Client) DeleteMovie(ctx context.Context, id int, deleteFiles, addExclusion bool) error {
	q := url.Values{}
	q.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	q.Set("addImportExclusion", strconv.FormatBool(addExclusion))
	return c.Delete(ctx, "/movie/"+strconv.Itoa(id), q)
}

// SearchMovies triggers an indexer search for the given movies.
func (c *Client) SearchMovies(ctx context.Context, ids ...int) (*arr.Command, error) {
	return c.Command(ctx, "MoviesSearch", map[string]any{"movieIds": ids})
}

// SearchMissing triggers a search for every monitored missing movie.
func (c *Client) SearchMissing(ctx context.Context) (*arr.Command, error) {
	return c.Command(ctx, "MissingMoviesSearch", nil)
}

// SearchCutoff triggers a search for movies below their quality cutoff.
func (c *Client) SearchCutoff(ctx context.Context) (*arr.Command, error) {
	return c.Command(ctx, "CutOffUnmetMoviesSearch", nil)
}

// Wanted returns one page of monitored movies without files.
func (c *Client) Wanted(ctx context.Context, p arr.Paging) (*arr.Paged[Movie], error) {
	return arr.Wanted[Movie](ctx, c.Client, p)
}

// Calendar returns movies releasing between start and end.
func (c *Client) Calendar(ctx context.Context, start, end time.Time) ([]Movie, error) {
	return arr.Calendar[Movie](ctx, c.Client, start, end, url.Values{"unmonitored": {"false"}})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
