// Package plex provides a client for the Plex Media Server HTTP API.
//
// Responses are requested as JSON and decoded into [Item], the full
// record for any library object. Callers project items with
// [Item.View] at the response-detail level they need.
package plex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nugget/marquee-media-agent/internal/httpkit"
)

// sectionsTTL bounds how long the library section list is reused.
// Sections change only when the server owner edits libraries.
const sectionsTTL = 5 * time.Minute

// Client is a Plex Media Server client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	sections   []Section
	sectionsAt time.Time
	flight     singleflight.Group
	now        func() time.Time
}

// NewClient creates a Plex client. Extra httpkit options (for example
// WithTLSInsecureSkipVerify) are appended to the defaults.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := []httpkit.ClientOption{
		httpkit.WithTimeout(30 * time.Second),
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpkit.NewClient(append(base, opts...)...),
		logger:     logger,
		now:        time.Now,
	}
}

// Identity returns the server's name and version.
func (c *Client) Identity(ctx context.Context) (*Server, error) {
	mc, err := c.container(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return nil, err
	}
	return &Server{
		FriendlyName:      mc.FriendlyName,
		Version:           mc.Version,
		Platform:          mc.Platform,
		MachineIdentifier: mc.MachineIdentifier,
	}, nil
}

// Sections lists library sections. Results are cached briefly and
// concurrent callers share a single request.
func (c *Client) Sections(ctx context.Context) ([]Section, error) {
	c.mu.Lock()
	if c.sections != nil && c.now().Sub(c.sectionsAt) < sectionsTTL {
		out := c.sections
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("sections", func() (any, error) {
		mc, err := c.container(ctx, http.MethodGet, "/library/sections", nil)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sections = mc.Directory
		c.sectionsAt = c.now()
		c.mu.Unlock()
		return mc.Directory, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Section), nil
}

// SectionByType returns the first section of the given type ("movie"
// or "show").
func (c *Client) SectionByType(ctx context.Context, sectionType string) (*Section, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if s.Type == sectionType {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("no %s library section on this server", sectionType)
}

// Search queries every library. Hubs of non-media types (people,
// genres) are skipped.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	mc, err := c.container(ctx, http.MethodGet, "/hubs/search", q)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, hub := range mc.Hub {
		switch hub.Type {
		case "movie", "show", "season", "episode", "collection":
			items = append(items, hub.Metadata...)
		}
	}
	return items, nil
}

// SectionItems lists items in a section with optional Plex filters
// (for example unwatched=1 or sort=addedAt:desc).
func (c *Client) SectionItems(ctx context.Context, sectionKey string, filter url.Values, limit int) ([]Item, error) {
	q := withPage(filter, limit)
	return c.items(ctx, "/library/sections/"+url.PathEscape(sectionKey)+"/all", q)
}

// RecentlyAdded lists the newest items across libraries.
func (c *Client) RecentlyAdded(ctx context.Context, limit int) ([]Item, error) {
	return c.items(ctx, "/library/recentlyAdded", withPage(nil, limit))
}

// OnDeck lists the next unwatched item of in-progress shows and
// partially watched movies.
func (c *Client) OnDeck(ctx context.Context, limit int) ([]Item, error) {
	return c.items(ctx, "/library/onDeck", withPage(nil, limit))
}

// ContinueWatching lists items with saved playback progress.
func (c *Client) ContinueWatching(ctx context.Context, limit int) ([]Item, error) {
	return c.items(ctx, "/hubs/continueWatching/items", withPage(nil, limit))
}

// Collections lists collections in a section.
func (c *Client) Collections(ctx context.Context, sectionKey string, limit int) ([]Item, error) {
	return c.items(ctx, "/library/sections/"+url.PathEscape(sectionKey)+"/collections", withPage(nil, limit))
}

// Playlists lists server playlists.
func (c *Client) Playlists(ctx context.Context, limit int) ([]Item, error) {
	return c.items(ctx, "/playlists", withPage(nil, limit))
}

// Similar lists items Plex considers related to ratingKey.
func (c *Client) Similar(ctx context.Context, ratingKey string, limit int) ([]Item, error) {
	return c.items(ctx, "/library/metadata/"+url.PathEscape(ratingKey)+"/similar", withPage(nil, limit))
}

// Sessions lists active playback sessions.
func (c *Client) Sessions(ctx context.Context) ([]Item, error) {
	return c.items(ctx, "/status/sessions", nil)
}

// History lists recent plays, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]Item, error) {
	q := withPage(nil, limit)
	q.Set("sort", "viewedAt:desc")
	return c.items(ctx, "/status/sessions/history/all", q)
}

// Item fetches the full record for ratingKey.
func (c *Client) Item(ctx context.Context, ratingKey string) (*Item, error) {
	items, err := c.items(ctx, "/library/metadata/"+url.PathEscape(ratingKey), nil)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// Extras lists trailers, deleted scenes and other bonus material for
// ratingKey.
func (c *Client) Extras(ctx context.Context, ratingKey string) ([]Item, error) {
	return c.items(ctx, "/library/metadata/"+url.PathEscape(ratingKey)+"/extras", nil)
}

// FilterAttempt records one filter tried by UHDOrHDR.
type FilterAttempt struct {
	Filter string `json:"filter"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// Plex servers disagree on the filter names for resolution and HDR, so
// UHDOrHDR tries several spellings.
var (
	uhdOrHDRFilters = []url.Values{
		{"or": {"1"}, "resolution": {"4k"}, "hdr": {"1"}},
		{"or": {"1"}, "videoResolution": {"4k"}, "hdr": {"1"}},
		{"or": {"1"}, "resolution": {"4k"}, "hdr": {"true"}},
		{"or": {"1"}, "videoResolution": {"4k"}, "hdr": {"true"}},
	}
	uhdOrHDRUnion = []url.Values{
		{"resolution": {"4k"}},
		{"videoResolution": {"4k"}},
		{"hdr": {"1"}},
		{"hdr": {"true"}},
	}
)

// UHDOrHDR lists movies in sectionKey that are 4K or HDR. With
// orFirst it tries a single OR-filtered request per filter spelling
// and stops at the first non-empty answer. Otherwise, or when those
// all come back empty, it unions single-facet queries until limit
// distinct items are found. The attempts are returned for diagnosis.
func (c *Client) UHDOrHDR(ctx context.Context, sectionKey string, limit int, orFirst bool) ([]Item, []FilterAttempt, error) {
	var attempts []FilterAttempt
	run := func(f url.Values) []Item {
		q := url.Values{"type": {"1"}}
		for k, v := range f {
			q[k] = v
		}
		items, err := c.SectionItems(ctx, sectionKey, q, limit)
		a := FilterAttempt{Filter: f.Encode(), Count: len(items)}
		if err != nil {
			a.Error = err.Error()
		}
		attempts = append(attempts, a)
		return items
	}

	if orFirst {
		for _, f := range uhdOrHDRFilters {
			if items := run(f); len(items) > 0 {
				return items, attempts, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, attempts, err
			}
		}
	}

	seen := make(map[string]bool)
	var out []Item
	for _, f := range uhdOrHDRUnion {
		for _, it := range run(f) {
			if seen[it.RatingKey] {
				continue
			}
			seen[it.RatingKey] = true
			out = append(out, it)
		}
		if len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, attempts, nil
}

// Rate sets the user rating (0-10) on ratingKey.
func (c *Client) Rate(ctx context.Context, ratingKey string, rating float64) error {
	q := url.Values{}
	q.Set("key", ratingKey)
	q.Set("identifier", "com.plexapp.plugins.library")
	q.Set("rating", strconv.FormatFloat(rating, 'f', -1, 64))
	_, err := c.container(ctx, http.MethodPut, "/:/rate", q)
	return err
}

func (c *Client) items(ctx context.Context, path string, q url.Values) ([]Item, error) {
	mc, err := c.container(ctx, http.MethodGet, path, q)
	if err != nil {
		return nil, err
	}
	return mc.Metadata, nil
}

func (c *Client) container(ctx context.Context, method, path string, q url.Values) (*Container, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := httpkit.NewJSONRequest(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Product", "Marquee")

	var env envelope
	if err := httpkit.DoJSON(c.httpClient, req, &env); err != nil {
		return nil, fmt.Errorf("plex: %w", err)
	}
	return &env.MediaContainer, nil
}

func withPage(q url.Values, limit int) url.Values {
	out := url.Values{}
	for k, v := range q {
		out[k] = v
	}
	if limit > 0 {
		out.Set("X-Plex-Container-Start", "0")
		out.Set("X-Plex-Container-Size", strconv.Itoa(limit))
	}
	return out
}

// Filter narrows a list of items client-side. Zero fields are ignored.
// String facets match case-insensitively and all listed values must be
// present.
type Filter struct {
	Type      string
	YearMin   int
	YearMax   int
	MinRating float64
	Genres    []string
	Actors    []string
	Directors []string
}

// Match reports whether it passes every set criterion.
func (f Filter) Match(it Item) bool {
	if f.Type != "" && it.Type != f.Type {
		return false
	}
	if f.YearMin > 0 && it.Year < f.YearMin {
		return false
	}
	if f.YearMax > 0 && (it.Year == 0 || it.Year > f.YearMax) {
		return false
	}
	if f.MinRating > 0 && it.BestRating() < f.MinRating {
		return false
	}
	return hasAll(it.Genre, f.Genres) && hasAll(it.Role, f.Actors) && hasAll(it.Director, f.Directors)
}

// Apply returns the items that match.
func (f Filter) Apply(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if f.Match(it) {
			out = append(out, it)
		}
	}
	return out
}

func hasAll(have []Tag, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h.Tag, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SortItems orders items in place by title, year, rating or added_at.
// Unknown keys leave the order untouched.
func SortItems(items []Item, by string, desc bool) {
	var less func(a, b Item) bool
	switch by {
	case "title":
		less = func(a, b Item) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "year":
		less = func(a, b Item) bool { return a.Year < b.Year }
	case "rating":
		less = func(a, b Item) bool { return a.BestRating() < b.BestRating() }
	case "added_at":
		less = func(a, b Item) bool { return a.AddedAt < b.AddedAt }
	default:
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}
