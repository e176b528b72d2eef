// Package sonarr is a Sonarr v3/v4 client.
package sonarr

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/httpkit"
)

// Client talks to Sonarr. The embedded arr.Client supplies status,
// health, queue, commands and blocklist.
type Client struct {
	*arr.Client
}

// NewClient creates a Sonarr client.
func NewClient(baseURL, apiKey string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	return &Client{Client: arr.NewClient("sonarr", baseURL, apiKey, logger, opts...)}
}

// Lookup searches for series by title or "tvdb:<id>".
func (c *Client) Lookup(ctx context.Context, term string) ([]Series, error) {
	var out []Series
	if err := c.Get(ctx, "/series/lookup", url.Values{"term": {term}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllSeries lists the whole library.
func (c *Client) AllSeries(ctx context.Context) ([]Series, error) {
	var out []Series
	if err := c.Get(ctx, "/series", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Series fetches one library series.
func (c *Client) Series(ctx context.Context, id int) (*Series, error) {
	var out Series
	if err := c.Get(ctx, "/series/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SeriesByTVDB returns the library series with the given TVDB id, or nil.
func (c *Client) SeriesByTVDB(ctx context.Context, tvdbID int) (*Series, error) {
	var out []Series
	if err := c.Get(ctx, "/series", url.Values{"tvdbId": {strconv.Itoa(tvdbID)}}, &out); err != nil {
		return nil, err
	}
	for _, s := range out {
		if s.TVDBID == tvdbID {
			return &s, nil
		}
	}
	return nil, nil
}

// AddSeries adds a series by TVDB id. A series already in the library
// is returned with AlreadyExists set.
func (c *Client) AddSeries(ctx context.Context, req AddRequest) (*AddResult, error) {
	if existing, err := c.SeriesByTVDB(ctx, req.TVDBID); err != nil {
		return nil, err
	} else if existing != nil {
		return &AddResult{Series: existing, AlreadyExists: true}, nil
	}

	var found []map[string]any
	if err := c.Get(ctx, "/series/lookup", url.Values{"term": {"tvdb:" + strconv.Itoa(req.TVDBID)}}, &found); err != nil {
		return nil, fmt.Errorf("lookup tvdb %d: %w", req.TVDBID, err)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("sonarr: no series found for tvdb id %d", req.TVDBID)
	}

	payload := found[0]
	delete(payload, "id")
	delete(payload, "path")
	payload["tvdbId"] = req.TVDBID
	payload["qualityProfileId"] = req.QualityProfileID
	payload["rootFolderPath"] = req.RootFolderPath
	payload["monitored"] = req.Monitored
	payload["seasonFolder"] = req.SeasonFolder
	if req.LanguageProfileID > 0 {
		payload["languageProfileId"] = req.LanguageProfileID
	}
	payload["addOptions"] = map[string]any{
		"searchForMissingEpisodes": req.SearchMissing,
		"monitor":                  monitorMode(req.Monitored),
	}

	var added Series
	if err := c.Post(ctx, "/series", payload, &added); err != nil {
		return nil, err
	}
	return &AddResult{Series: &added}, nil
}

func monitorMode(monitored bool) string {
	if monitored {
		return "all"
	}
	return "none"
}

// UpdateSeries overlays patch onto the stored series and saves it.
func (c *Client) UpdateSeries(ctx context.Context, id int, patch map[string]any) (*Series, error) {
	var out Series
	if err := c.Patch(ctx, "/series/"+strconv.Itoa(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSeries removes a series.
func (c *Client) DeleteSeries(ctx context.Context, id int, deleteFiles, addExclusion bool) error {
	q := url.Values{}
	q.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	q.Set("addImportListExclusion", strconv.FormatBool(addExclusion))
	return c.Delete(ctx, "/series/"+strconv.Itoa(id), q)
}

// Episodes lists episodes of a series. A nil season returns every
// season; season 0 is specials.
func (c *Client) Episodes(ctx context.Context, seriesID int, season *int) ([]Episode, error) {
	q := url.Values{"seriesId": {strconv.Itoa(seriesID)}}
	if season != nil {
		q.Set("seasonNumber", strconv.Itoa(*season))
	}
	var out []Episode
	if err := c.Get(ctx, "/episode", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Episode fetches one episode.
func (c *Client) Episode(ctx context.Context, id int) (*Episode, error) {
	var out Episode
	if err := c.Get(ctx, "/episode/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EpisodeFile fetches one episode file.
func (c *Client) EpisodeFile(ctx context.Context, id int) (*EpisodeFile, error) {
	var out EpisodeFile
	if err := c.Get(ctx, "/episodefile/"+strconv.Itoa(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MonitorEpisodes sets the monitored flag on episodes.
func (c *Client) MonitorEpisodes(ctx context.Context, ids []int, monitored bool) error {
	return c.Put(ctx, "/episode/monitor", map[string]any{
		"episodeIds": ids,
		"monitored":  monitored,
	}, nil)
}

// MonitorSeason sets the monitored flag on one season of a series.
func (c *Client) MonitorSeason(ctx context.Context, seriesID, season int, monitored bool) (*Series, error) {
	path := "/series/" + strconv.Itoa(seriesID)
	var raw map[string]any
	if err := c.Get(ctx, path, nil, &raw); err != nil {
		return nil, err
	}
	seasons, _ := raw["seasons"].([]any)
	found := false
	for _, s := range seasons {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := m["seasonNumber"].(float64); ok && int(n) == season {
			m["monitored"] = monitored
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("sonarr: series %d has no season %d", seriesID, season)
	}
	var out Series
	if err := c.Put(ctx, path, raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchSeries searches for every monitored episode of a series.
func (c *Client) SearchSeries(ctx context.Context, seriesID int) (*arr.Command, error) {
	return c.Command(ctx, "SeriesSearch", map[string]any{"seriesId": seriesID})
}

// SearchSeason searches for one season.
func (c *Client) SearchSeason(ctx context.Context, seriesID, season int) (*arr.Command, error) {
	return c.Command(ctx, "SeasonSearch", map[string]any{"seriesId": seriesID, "seasonNumber": season})
}

// SearchEpisodes searches for specific episodes.
func (c *Client) SearchEpisodes(ctx context.Context, ids []int) (*arr.Command, error) {
	return c.Command(ctx, "EpisodeSearch", map[string]any{"episodeIds": ids})
}

// SearchMissing searches for every monitored missing episode.
func (c *Client) SearchMissing(ctx context.Context) (*arr.Command, error) {
	return c.Command(ctx, "MissingEpisodeSearch", nil)
}

// Wanted returns one page of missing episodes with their series.
func (c *Client) Wanted(ctx context.Context, p arr.Paging) (*arr.Paged[Episode], error) {
	var out arr.Paged[Episode]
	q := p.Values()
	q.Set("includeSeries", "true")
	if err := c.Get(ctx, "/wanted/missing", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Calendar returns episodes airing between start and end.
func (c *Client) Calendar(ctx context.Context, start, end time.Time) ([]Episode, error) {
	return arr.Calendar[Episode](ctx, c.Client, start, end, url.Values{"includeSeries": {"true"}})
}
