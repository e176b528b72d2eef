package normalize

import (
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/radarr"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
)

// Paging defaults for wanted and blocklist pages.
const (
	PageSizeDefault = 20
	PageSizeMax     = 100
	CalendarDays    = 7
)

// Arr normalizes arguments for Radarr and Sonarr tools. The profile
// and root folder fields are the configured defaults used when the
// model does not name them.
type Arr struct {
	SortKey           string // wanted-list sort key
	QualityProfileID  int
	LanguageProfileID int
	RootFolderPath    string
	Now               func() time.Time
}

// NewRadarr returns the Radarr normalizer.
func NewRadarr(qualityProfileID int, rootFolder string) Arr {
	return Arr{SortKey: "releaseDate", QualityProfileID: qualityProfileID, RootFolderPath: rootFolder}
}

// NewSonarr returns the Sonarr normalizer.
func NewSonarr(qualityProfileID, languageProfileID int, rootFolder string) Arr {
	return Arr{SortKey: "airDateUtc", QualityProfileID: qualityProfileID, LanguageProfileID: languageProfileID, RootFolderPath: rootFolder}
}

func (n Arr) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Paging normalizes page, page_size, sort_key and sort_dir.
func (n Arr) Paging(a Args) arr.Paging {
	dir := "descending"
	switch strings.ToLower(a.String("sort_dir")) {
	case "asc", "ascending":
		dir = "ascending"
	}
	return arr.Paging{
		Page:          max(a.Int("page", 1), 1),
		PageSize:      Clamp(a.Int("page_size", PageSizeDefault), PageSizeDefault, PageSizeMax),
		SortKey:       a.StringOr("sort_key", n.SortKey),
		SortDirection: dir,
	}
}

// Calendar returns the date window. start_date and end_date are
// YYYY-MM-DD; unparseable dates fall back to today and start+days.
func (n Arr) Calendar(a Args) (start, end time.Time) {
	today := n.now().UTC().Truncate(24 * time.Hour)
	start = today
	if t, err := time.Parse(time.DateOnly, a.String("start_date")); err == nil {
		start = t
	}
	days := Clamp(a.Int("days", CalendarDays), CalendarDays, 90)
	end = start.AddDate(0, 0, days)
	if t, err := time.Parse(time.DateOnly, a.String("end_date")); err == nil && !t.Before(start) {
		end = t
	}
	return start, end
}

// ID returns a required positive integer id.
func (Arr) ID(a Args, key string) (int, error) {
	return requireInt(a, key)
}

// Level returns the response-detail level with a compact default.
func (Arr) Level(a Args) detail.Level {
	return a.Level(detail.Compact)
}

// Delete normalizes delete tools.
func (Arr) Delete(a Args, key string) (id int, deleteFiles, exclude bool, err error) {
	id, err = requireInt(a, key)
	return id, a.Bool("delete_files", false), a.Bool("add_import_list_exclusion", false), err
}

// updateAliases maps friendly argument names to *arr field names.
var updateAliases = map[string]string{
	"quality_profile_id":   "qualityProfileId",
	"minimum_availability": "minimumAvailability",
	"root_folder_path":     "rootFolderPath",
	"season_folder":        "seasonFolder",
	"monitored":            "monitored",
	"tags":                 "tags",
}

// Update returns the id and the field patch. The patch comes from
// update_data, plus any top-level aliases the model used directly.
func (Arr) Update(a Args, key string) (int, map[string]any, error) {
	id, err := requireInt(a, key)
	if err != nil {
		return 0, nil, err
	}
	patch := map[string]any{}
	for k, v := range a.Map("update_data") {
		if alias, ok := updateAliases[k]; ok {
			k = alias
		}
		patch[k] = v
	}
	for k, alias := range updateAliases {
		if a.Has(k) {
			patch[alias] = a[k]
		}
	}
	if m, ok := patch["monitored"]; ok {
		patch["monitored"] = Bool(m, true)
	}
	if q, ok := patch["qualityProfileId"]; ok {
		if n, ok := Int(q); ok {
			patch["qualityProfileId"] = n
		}
	}
	if len(patch) == 0 {
		return 0, nil, &ArgError{Field: "update_data", Reason: "no fields to update"}
	}
	return id, patch, nil
}

func (n Arr) profileAndRoot(a Args) (int, string, error) {
	qp := a.Int("quality_profile_id", n.QualityProfileID)
	root := a.StringOr("root_folder_path", n.RootFolderPath)
	if qp <= 0 {
		return 0, "", &ArgError{Field: "quality_profile_id", Reason: "not given and no default is configured"}
	}
	if root == "" {
		return 0, "", &ArgError{Field: "root_folder_path", Reason: "not given and no default is configured"}
	}
	return qp, root, nil
}

// AddMovie normalizes radarr_add_movie.
func (n Arr) AddMovie(a Args) (radarr.AddRequest, error) {
	id, err := requireInt(a, "tmdb_id")
	if err != nil {
		return radarr.AddRequest{}, err
	}
	qp, root, err := n.profileAndRoot(a)
	if err != nil {
		return radarr.AddRequest{}, err
	}
	return radarr.AddRequest{
		TMDbID:              id,
		QualityProfileID:    qp,
		RootFolderPath:      root,
		Monitored:           a.Bool("monitored", true),
		SearchNow:           a.Bool("search_now", true),
		MinimumAvailability: a.StringOr("minimum_availability", "announced"),
	}, nil
}

// AddSeries normalizes sonarr_add_series.
func (n Arr) AddSeries(a Args) (sonarr.AddRequest, error) {
	id, err := requireInt(a, "tvdb_id")
	if err != nil {
		return sonarr.AddRequest{}, err
	}
	qp, root, err := n.profileAndRoot(a)
	if err != nil {
		return sonarr.AddRequest{}, err
	}
	return sonarr.AddRequest{
		TVDBID:            id,
		QualityProfileID:  qp,
		LanguageProfileID: a.Int("language_profile_id", n.LanguageProfileID),
		RootFolderPath:    root,
		Monitored:         a.Bool("monitored", true),
		SeasonFolder:      a.Bool("season_folder", true),
		SearchMissing:     a.Bool("search_for_missing", true),
	}, nil
}

// Season returns series_id and an optional season_number. Season 0
// (specials) is valid.
func (Arr) Season(a Args) (seriesID int, season *int, err error) {
	seriesID, err = requireInt(a, "series_id")
	if err != nil {
		return 0, nil, err
	}
	if n, ok := Int(a["season_number"]); ok && n >= 0 {
		season = &n
	}
	return seriesID, season, nil
}

// MonitorEpisodes normalizes sonarr_monitor_episodes.
func (Arr) MonitorEpisodes(a Args) ([]int, bool, error) {
	ids := a.IntList("episode_ids")
	if len(ids) == 0 {
		return nil, false, required("episode_ids")
	}
	return ids, a.Bool("monitored", true), nil
}

// RequiredSeason is Season with season_number required.
func (n Arr) RequiredSeason(a Args) (seriesID, season int, err error) {
	seriesID, s, err := n.Season(a)
	if err != nil {
		return 0, 0, err
	}
	if s == nil {
		return 0, 0, required("season_number")
	}
	return seriesID, *s, nil
}

// QualityFallback is a profile change or add that names profiles
// instead of ids.
type QualityFallback struct {
	ID        int
	Preferred string
	Fallbacks []string
}

// QualityFallback normalizes the *_quality_fallback and addition
// fallback tools. idKey names the id argument. The preferred name is
// read from target_quality or preferred_quality; one of it or
// fallback_qualities is required.
func (Arr) QualityFallback(a Args, idKey string) (QualityFallback, error) {
	id, err := requireInt(a, idKey)
	if err != nil {
		return QualityFallback{}, err
	}
	q := QualityFallback{
		ID:        id,
		Preferred: a.StringOr("target_quality", a.String("preferred_quality")),
		Fallbacks: a.StringList("fallback_qualities"),
	}
	if q.Preferred == "" && len(q.Fallbacks) == 0 {
		return QualityFallback{}, &ArgError{Field: "target_quality", Reason: "name a preferred quality profile or fallback_qualities"}
	}
	return q, nil
}

// ActivityCheck selects sections of a read-only activity check.
type ActivityCheck struct {
	Queue    bool
	Wanted   bool
	Calendar bool
	Limit    int
}

// ActivityCheck normalizes radarr_activity_check. Queue and wanted are
// on by default, calendar off.
func (Arr) ActivityCheck(a Args) ActivityCheck {
	return ActivityCheck{
		Queue:    a.Bool("check_queue", true),
		Wanted:   a.Bool("check_wanted", true),
		Calendar: a.Bool("check_calendar", false),
		Limit:    Clamp(a.Int("max_results", 10), 10, PageSizeMax),
	}
}
