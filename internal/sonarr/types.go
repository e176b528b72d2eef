package sonarr

import (
	"time"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/detail"
)

// SeasonStats counts files for one season.
type SeasonStats struct {
	EpisodeFileCount  int     `json:"episodeFileCount"`
	EpisodeCount      int     `json:"episodeCount"`
	TotalEpisodeCount int     `json:"totalEpisodeCount"`
	SizeOnDisk        int64   `json:"sizeOnDisk"`
	PercentOfEpisodes float64 `json:"percentOfEpisodes"`
}

// Season is one season entry on a series.
type Season struct {
	SeasonNumber int          `json:"seasonNumber"`
	Monitored    bool         `json:"monitored"`
	Statistics   *SeasonStats `json:"statistics,omitempty"`
}

// SeriesStats aggregates across seasons.
type SeriesStats struct {
	SeasonCount       int     `json:"seasonCount"`
	EpisodeFileCount  int     `json:"episodeFileCount"`
	EpisodeCount      int     `json:"episodeCount"`
	TotalEpisodeCount int     `json:"totalEpisodeCount"`
	SizeOnDisk        int64   `json:"sizeOnDisk"`
	PercentOfEpisodes float64 `json:"percentOfEpisodes"`
}

// Series is the full Sonarr series record.
type Series struct {
	ID                int         `json:"id"`
	Title             string      `json:"title"`
	Year              int         `json:"year"`
	TVDBID            int         `json:"tvdbId"`
	TMDbID            int         `json:"tmdbId"`
	IMDbID            string      `json:"imdbId"`
	TitleSlug         string      `json:"titleSlug"`
	Overview          string      `json:"overview"`
	Status            string      `json:"status"`
	Network           string      `json:"network"`
	Runtime           int         `json:"runtime"`
	Genres            []string    `json:"genres"`
	Monitored         bool        `json:"monitored"`
	SeasonFolder      bool        `json:"seasonFolder"`
	QualityProfileID  int         `json:"qualityProfileId"`
	LanguageProfileID int         `json:"languageProfileId"`
	RootFolderPath    string      `json:"rootFolderPath"`
	Path              string      `json:"path"`
	FirstAired        time.Time   `json:"firstAired"`
	NextAiring        time.Time   `json:"nextAiring"`
	PreviousAiring    time.Time   `json:"previousAiring"`
	Added             time.Time   `json:"added"`
	Seasons           []Season    `json:"seasons"`
	Images            []arr.Image `json:"images"`
	Tags              []int       `json:"tags"`

	Statistics *SeriesStats `json:"statistics,omitempty"`
	Ratings    struct {
		Value float64 `json:"value"`
		Votes int     `json:"votes"`
	} `json:"ratings"`
}

// InLibrary reports whether the record came from the library rather
// than a lookup.
func (s Series) InLibrary() bool { return s.ID > 0 }

// View projects the series to the requested level.
func (s Series) View(l detail.Level) map[string]any {
	out := map[string]any{
		"title":   s.Title,
		"year":    s.Year,
		"tvdb_id": s.TVDBID,
	}
	if s.InLibrary() {
		out["id"] = s.ID
	}
	if l == detail.Minimal {
		return out
	}

	out["status"] = s.Status
	out["monitored"] = s.Monitored
	if s.Network != "" {
		out["network"] = s.Network
	}
	if st := s.Statistics; st != nil {
		out["seasons"] = st.SeasonCount
		out["episodes_on_disk"] = st.EpisodeFileCount
		out["episodes_total"] = st.TotalEpisodeCount
	} else if len(s.Seasons) > 0 {
		out["seasons"] = len(s.Seasons)
	}
	if !s.NextAiring.IsZero() {
		out["next_airing"] = s.NextAiring.UTC().Format(time.RFC3339)
	}
	if l == detail.Compact {
		return out
	}

	out["overview"] = s.Overview
	if len(s.Genres) > 0 {
		out["genres"] = s.Genres
	}
	if s.Runtime > 0 {
		out["runtime"] = s.Runtime
	}
	if s.Ratings.Value > 0 {
		out["rating"] = s.Ratings.Value
	}
	out["quality_profile_id"] = s.QualityProfileID
	if s.Statistics != nil && s.Statistics.SizeOnDisk > 0 {
		out["size_gb"] = arr.GiB(s.Statistics.SizeOnDisk)
	}
	if l == detail.Standard {
		return out
	}

	out["title_slug"] = s.TitleSlug
	out["path"] = s.Path
	out["imdb_id"] = s.IMDbID
	out["tmdb_id"] = s.TMDbID
	out["season_folder"] = s.SeasonFolder
	out["tags"] = s.Tags
	seasons := make([]map[string]any, 0, len(s.Seasons))
	for _, se := range s.Seasons {
		row := map[string]any{"season": se.SeasonNumber, "monitored": se.Monitored}
		if se.Statistics != nil {
			row["episodes_on_disk"] = se.Statistics.EpisodeFileCount
			row["episodes_total"] = se.Statistics.TotalEpisodeCount
		}
		seasons = append(seasons, row)
	}
	out["season_detail"] = seasons
	if !s.PreviousAiring.IsZero() {
		out["previous_airing"] = s.PreviousAiring.UTC().Format(time.RFC3339)
	}
	if !s.FirstAired.IsZero() {
		out["first_aired"] = s.FirstAired.UTC().Format(time.DateOnly)
	}
	return out
}

// SeriesViews projects a slice of series.
func SeriesViews(series []Series, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(series))
	for _, s := range series {
		out = append(out, s.View(l))
	}
	return out
}

// Episode is the full Sonarr episode record. Series is populated on
// calendar and wanted responses when requested.
type Episode struct {
	ID            int       `json:"id"`
	SeriesID      int       `json:"seriesId"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	Title         string    `json:"title"`
	AirDate       string    `json:"airDate"`
	AirDateUTC    time.Time `json:"airDateUtc"`
	Overview      string    `json:"overview"`
	HasFile       bool      `json:"hasFile"`
	EpisodeFileID int       `json:"episodeFileId"`
	Monitored     bool      `json:"monitored"`
	Runtime       int       `json:"runtime"`
	Series        *Series   `json:"series,omitempty"`
}

// View projects the episode to the requested level.
func (e Episode) View(l detail.Level) map[string]any {
	out := map[string]any{
		"id":      e.ID,
		"season":  e.SeasonNumber,
		"episode": e.EpisodeNumber,
		"title":   e.Title,
	}
	if e.Series != nil {
		out["series"] = e.Series.Title
	}
	if l == detail.Minimal {
		return out
	}
	out["air_date"] = e.AirDate
	out["has_file"] = e.HasFile
	out["monitored"] = e.Monitored
	if l == detail.Compact {
		return out
	}
	out["series_id"] = e.SeriesID
	out["overview"] = e.Overview
	if !e.AirDateUTC.IsZero() {
		out["air_date_utc"] = e.AirDateUTC.UTC().Format(time.RFC3339)
	}
	if e.Runtime > 0 {
		out["runtime"] = e.Runtime
	}
	return out
}

// EpisodeViews projects a slice of episodes.
func EpisodeViews(eps []Episode, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(eps))
	for _, e := range eps {
		out = append(out, e.View(l))
	}
	return out
}

// EpisodeFile is a file on disk backing one or more episodes.
type EpisodeFile struct {
	ID           int       `json:"id"`
	SeriesID     int       `json:"seriesId"`
	SeasonNumber int       `json:"seasonNumber"`
	RelativePath string    `json:"relativePath"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	DateAdded    time.Time `json:"dateAdded"`
	ReleaseGroup string    `json:"releaseGroup"`
	Quality      struct {
		Quality struct {
			Name       string `json:"name"`
			Resolution int    `json:"resolution"`
		} `json:"quality"`
	} `json:"quality"`
	MediaInfo *struct {
		VideoCodec        string  `json:"videoCodec"`
		VideoDynamicRange string  `json:"videoDynamicRange"`
		AudioCodec        string  `json:"audioCodec"`
		AudioChannels     float64 `json:"audioChannels"`
		Resolution        string  `json:"resolution"`
		RunTime           string  `json:"runTime"`
	} `json:"mediaInfo,omitempty"`
}

// View projects the file.
func (f EpisodeFile) View() map[string]any {
	out := map[string]any{
		"id":            f.ID,
		"relative_path": f.RelativePath,
		"size_gb":       arr.GiB(f.Size),
		"quality":       f.Quality.Quality.Name,
	}
	if f.ReleaseGroup != "" {
		out["release_group"] = f.ReleaseGroup
	}
	if !f.DateAdded.IsZero() {
		out["date_added"] = f.DateAdded.UTC().Format(time.RFC3339)
	}
	if m := f.MediaInfo; m != nil {
		out["video_codec"] = m.VideoCodec
		out["audio_codec"] = m.AudioCodec
		out["audio_channels"] = m.AudioChannels
		if m.Resolution != "" {
			out["resolution"] = m.Resolution
		}
		if m.VideoDynamicRange != "" {
			out["dynamic_range"] = m.VideoDynamicRange
		}
		if m.RunTime != "" {
			out["runtime"] = m.RunTime
		}
	}
	return out
}

// SeasonSummary counts episode states for one season.
type SeasonSummary struct {
	SeasonNumber int
	Total        int
	Aired        int
	OnDisk       int
	Monitored    int
	Missing      []int
	Upcoming     []int
}

// Summarize counts episode states as of now. An episode is missing when
// it has aired and has no file.
func Summarize(season int, eps []Episode, now time.Time) SeasonSummary {
	s := SeasonSummary{SeasonNumber: season}
	for _, e := range eps {
		if e.SeasonNumber != season {
			continue
		}
		s.Total++
		if e.Monitored {
			s.Monitored++
		}
		if e.HasFile {
			s.OnDisk++
		}
		aired := !e.AirDateUTC.IsZero() && !e.AirDateUTC.After(now)
		if aired {
			s.Aired++
			if !e.HasFile {
				s.Missing = append(s.Missing, e.EpisodeNumber)
			}
		} else {
			s.Upcoming = append(s.Upcoming, e.EpisodeNumber)
		}
	}
	return s
}

// View projects the summary.
func (s SeasonSummary) View() map[string]any {
	missing := s.Missing
	if missing == nil {
		missing = []int{}
	}
	upcoming := s.Upcoming
	if upcoming == nil {
		upcoming = []int{}
	}
	return map[string]any{
		"season":             s.SeasonNumber,
		"episodes_total":     s.Total,
		"episodes_aired":     s.Aired,
		"episodes_on_disk":   s.OnDisk,
		"episodes_monitored": s.Monitored,
		"missing_episodes":   missing,
		"upcoming_episodes":  upcoming,
		"complete":           s.Aired > 0 && len(s.Missing) == 0,
	}
}

// AddRequest describes a series to add by TVDB id.
type AddRequest struct {
	TVDBID            int
	QualityProfileID  int
	LanguageProfileID int
	RootFolderPath    string
	Monitored         bool
	SeasonFolder      bool
	SearchMissing     bool
}

// AddResult is the outcome of AddSeries.
type AddResult struct {
	Series        *Series
	AlreadyExists bool
}
