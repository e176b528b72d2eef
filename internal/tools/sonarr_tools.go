package tools

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
)

func sonarrDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("sonarr_lookup",
			"Look up TV series through Sonarr by name or tvdb:<id>. Results already in the library have an id.",
			[]string{"term"},
			props{
				"term":           reqString("Series name or tvdb:<id>."),
				"limit":          optInt("Maximum results (default 20)."),
				"response_level": level(detail.Compact),
			}),
		def("sonarr_add_series",
			"Add a series to Sonarr by TVDB id so it is monitored and downloaded. Uses the configured quality profile and root folder unless given. A series already in the library is reported with already_exists.",
			[]string{"tvdb_id"},
			props{
				"tvdb_id":             reqInt("TVDB series id (from sonarr_lookup)."),
				"quality_profile_id":  optInt("Quality profile id from sonarr_quality_profiles."),
				"language_profile_id": optInt("Language profile id (Sonarr v3)."),
				"root_folder_path":    optString("Root folder path from sonarr_root_folders."),
				"monitored":           optBool("Monitor the series (default true)."),
				"season_folder":       optBool("Use season folders (default true)."),
				"search_for_missing":  optBool("Search for missing episodes right away (default true)."),
			}),
		def("sonarr_get_series",
			"List series in the Sonarr library, or fetch one by Sonarr id or TVDB id. Filter the list by title text or monitored state.",
			nil,
			props{
				"series_id":      optInt("Sonarr series id."),
				"tvdb_id":        optInt("TVDB series id."),
				"query":          optString("Case-insensitive title filter."),
				"monitored":      optBool("Only series with this monitored state."),
				"limit":          optInt("Maximum series (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("sonarr_update_series",
			"Change settings of a series in Sonarr: monitored, quality profile, season folders, root folder or tags.",
			[]string{"series_id"},
			props{
				"series_id":          reqInt("Sonarr series id."),
				"update_data":        optObject("Fields to change, e.g. {\"monitored\": false}."),
				"monitored":          optBool("Set monitored."),
				"quality_profile_id": optInt("Set quality profile."),
				"season_folder":      optBool("Set season folders."),
			}),
		def("sonarr_delete_series",
			"Remove a series from Sonarr, optionally deleting its files.",
			[]string{"series_id"},
			props{
				"series_id":                 reqInt("Sonarr series id."),
				"delete_files":              optBool("Also delete files from disk (default false)."),
				"add_import_list_exclusion": optBool("Prevent import lists from re-adding it (default false)."),
			}),
		def("sonarr_get_episodes",
			"List episodes of a series, optionally for one season.",
			[]string{"series_id"},
			props{
				"series_id":      reqInt("Sonarr series id."),
				"season_number":  optInt("Season number; 0 is specials."),
				"missing_only":   optBool("Only episodes without a file."),
				"response_level": level(detail.Compact),
			}),
		def("sonarr_monitor_episodes",
			"Turn monitoring on or off for specific episodes.",
			[]string{"episode_ids"},
			props{
				"episode_ids": reqIntList("Sonarr episode ids."),
				"monitored":   optBool("Monitored state to set (default true)."),
			}),
		def("sonarr_monitor_season",
			"Turn monitoring on or off for a whole season.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":     reqInt("Sonarr series id."),
				"season_number": reqInt("Season number; 0 is specials."),
				"monitored":     optBool("Monitored state to set (default true)."),
			}),
		def("sonarr_monitor_episodes_by_season",
			"Turn monitoring on or off for every episode in a season, leaving the season's own monitored flag alone.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":     reqInt("Sonarr series id."),
				"season_number": reqInt("Season number; 0 is specials."),
				"monitored":     optBool("Monitored state to set (default true)."),
			}),
		def("sonarr_search_series",
			"Ask Sonarr to search indexers for every monitored episode of a series.",
			[]string{"series_id"},
			props{"series_id": reqInt("Sonarr series id.")}),
		def("sonarr_search_season",
			"Ask Sonarr to search indexers for one season.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":     reqInt("Sonarr series id."),
				"season_number": reqInt("Season number."),
			}),
		def("sonarr_search_episodes",
			"Ask Sonarr to search indexers for specific episodes.",
			[]string{"episode_ids"},
			props{"episode_ids": reqIntList("Sonarr episode ids.")}),
		def("sonarr_search_episode",
			"Ask Sonarr to search indexers for one episode.",
			[]string{"episode_id"},
			props{"episode_id": reqInt("Sonarr episode id.")}),
		def("sonarr_episode_fallback_search",
			"Search episode by episode when a season pack search found nothing. Searches the given episode numbers of the season, or every aired episode without a file when none are given.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":       reqInt("Sonarr series id."),
				"season_number":   reqInt("Season number."),
				"series_title":    optString("Series title, echoed back for context."),
				"target_episodes": optIntList("Episode numbers within the season."),
			}),
		def("sonarr_quality_fallback",
			"Change a Sonarr series' quality profile by name, trying the target profile first and then each fallback in order.",
			[]string{"series_id"},
			props{
				"series_id":          reqInt("Sonarr series id."),
				"target_quality":     optString("Preferred quality profile name."),
				"fallback_qualities": optStringArray("Profile names to try in order."),
			}),
		def("sonarr_get_series_summary",
			"Short status of a series: episodes on disk and missing per season, next airing and whether it is still running.",
			[]string{"series_id"},
			props{"series_id": reqInt("Sonarr series id.")}),
		def("sonarr_get_season_summary",
			"Short status of one season: aired, on disk, monitored, and the numbers of missing and upcoming episodes.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":     reqInt("Sonarr series id."),
				"season_number": reqInt("Season number."),
			}),
		def("sonarr_get_season_details",
			"Every episode of one season with air dates, file state and monitoring, plus the season summary.",
			[]string{"series_id", "season_number"},
			props{
				"series_id":      reqInt("Sonarr series id."),
				"season_number":  reqInt("Season number."),
				"response_level": level(detail.Standard),
			}),
		def("sonarr_get_episode_file_info",
			"Get the file behind one episode: path, size, quality, codecs and release group.",
			[]string{"episode_id"},
			props{"episode_id": reqInt("Sonarr episode id.")}),
		def("sonarr_search_missing",
			"Ask Sonarr to search for every monitored episode that has no file.",
			nil, nil),
		def("sonarr_quality_profiles",
			"List Sonarr quality profiles and their ids.",
			nil, nil),
		def("sonarr_root_folders",
			"List Sonarr root folders with free space.",
			nil, nil),
		def("sonarr_activity_overview",
			"One call view of Sonarr activity: download queue, wanted (missing) episodes and the airing calendar. Sections that fail are reported individually.",
			nil,
			with(calendarProps, props{
				"limit":          optInt("Rows per section (default 10)."),
				"response_level": level(detail.Minimal),
			})),
	}
}

type sonarrTools struct {
	client *sonarr.Client
	args   normalize.Arr
}

func (t sonarrTools) handlers() map[string]Handler {
	return map[string]Handler{
		"sonarr_lookup":            t.lookup,
		"sonarr_add_series":        t.add,
		"sonarr_get_series":        t.series,
		"sonarr_update_series":     t.update,
		"sonarr_delete_series":     t.delete,
		"sonarr_get_episodes":      t.episodes,
		"sonarr_monitor_episodes":  t.monitorEpisodes,
		"sonarr_monitor_season":    t.monitorSeason,
		"sonarr_search_series":     t.searchSeries,
		"sonarr_search_season":     t.searchSeason,
		"sonarr_search_episodes":   t.searchEpisodes,
		"sonarr_search_missing":    t.searchMissing,
		"sonarr_quality_profiles":  qualityProfilesHandler(t.client.Client),
		"sonarr_root_folders":      rootFoldersHandler(t.client.Client),
		"sonarr_activity_overview": t.activity,

		"sonarr_monitor_episodes_by_season": t.monitorSeasonEpisodes,
		"sonarr_search_episode":             t.searchEpisode,
		"sonarr_episode_fallback_search":    t.episodeFallbackSearch,
		"sonarr_quality_fallback":           t.qualityFallback,
		"sonarr_get_series_summary":         t.seriesSummary,
		"sonarr_get_season_summary":         t.seasonSummary,
		"sonarr_get_season_details":         t.seasonDetails,
		"sonarr_get_episode_file_info":      t.episodeFile,
	}
}

func (t sonarrTools) lookup(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	term := a.String("term")
	if term == "" {
		term = a.String("query")
	}
	if term == "" {
		return nil, &normalize.ArgError{Field: "term"}
	}
	limit := normalize.Clamp(a.Int("limit", normalize.PageSizeDefault), normalize.PageSizeDefault, normalize.PageSizeMax)
	series, err := t.client.Lookup(ctx, term)
	if err != nil {
		return nil, err
	}
	series = series[:min(len(series), limit)]
	return okResult("count", len(series), "results", sonarr.SeriesViews(series, t.args.Level(a))), nil
}

func (t sonarrTools) add(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.AddSeries(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	res, err := t.client.AddSeries(ctx, req)
	if err != nil {
		return nil, err
	}
	return okResult("already_exists", res.AlreadyExists, "series", res.Series.View(detail.Compact)), nil
}

func (t sonarrTools) series(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	l := t.args.Level(a)

	if a.Has("series_id") {
		id, err := t.args.ID(a, "series_id")
		if err != nil {
			return nil, err
		}
		s, err := t.client.Series(ctx, id)
		if isNotFound(err) {
			return okResult("found", false, "series_id", id), nil
		}
		if err != nil {
			return nil, err
		}
		return okResult("found", true, "series", s.View(l)), nil
	}
	if a.Has("tvdb_id") {
		id, err := t.args.ID(a, "tvdb_id")
		if err != nil {
			return nil, err
		}
		s, err := t.client.SeriesByTVDB(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return okResult("found", false, "tvdb_id", id), nil
		}
		return okResult("found", true, "series", s.View(l)), nil
	}

	all, err := t.client.AllSeries(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(a.String("query"))
	matched := make([]sonarr.Series, 0, len(all))
	for _, s := range all {
		if query != "" && !strings.Contains(strings.ToLower(s.Title), query) {
			continue
		}
		if a.Has("monitored") && s.Monitored != a.Bool("monitored", true) {
			continue
		}
		matched = append(matched, s)
	}
	limit := normalize.Clamp(a.Int("limit", normalize.PageSizeDefault), normalize.PageSizeDefault, normalize.PageSizeMax)
	total := len(matched)
	matched = matched[:min(total, limit)]
	return okResult("total", total, "count", len(matched), "series", sonarr.SeriesViews(matched, l)), nil
}

func (t sonarrTools) update(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, patch, err := t.args.Update(normalize.Args(raw), "series_id")
	if err != nil {
		return nil, err
	}
	s, err := t.client.UpdateSeries(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return okResult("series", s.View(detail.Compact)), nil
}

func (t sonarrTools) delete(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, deleteFiles, exclude, err := t.args.Delete(normalize.Args(raw), "series_id")
	if err != nil {
		return nil, err
	}
	if err := t.client.DeleteSeries(ctx, id, deleteFiles, exclude); err != nil {
		return nil, err
	}
	return okResult("deleted", id, "files_deleted", deleteFiles), nil
}

func (t sonarrTools) episodes(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	seriesID, season, err := t.args.Season(a)
	if err != nil {
		return nil, err
	}
	eps, err := t.client.Episodes(ctx, seriesID, season)
	if err != nil {
		return nil, err
	}
	if a.Bool("missing_only", false) {
		kept := eps[:0]
		for _, e := range eps {
			if !e.HasFile {
				kept = append(kept, e)
			}
		}
		eps = kept
	}
	return okResult("series_id", seriesID, "count", len(eps), "episodes", sonarr.EpisodeViews(eps, t.args.Level(a))), nil
}

func (t sonarrTools) monitorEpisodes(ctx context.Context, raw map[string]any) (map[string]any, error) {
	ids, monitored, err := t.args.MonitorEpisodes(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	if err := t.client.MonitorEpisodes(ctx, ids, monitored); err != nil {
		return nil, err
	}
	return okResult("episode_ids", ids, "monitored", monitored), nil
}

func (t sonarrTools) monitorSeason(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	seriesID, season, err := t.args.Season(a)
	if err != nil {
		return nil, err
	}
	if season == nil {
		return nil, &normalize.ArgError{Field: "season_number"}
	}
	monitored := a.Bool("monitored", true)
	s, err := t.client.MonitorSeason(ctx, seriesID, *season, monitored)
	if err != nil {
		return nil, err
	}
	return okResult("series", s.View(detail.Compact), "season_number", *season, "monitored", monitored), nil
}

func (t sonarrTools) searchSeries(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, err := t.args.ID(normalize.Args(raw), "series_id")
	if err != nil {
		return nil, err
	}
	cmd, err := t.client.SearchSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t sonarrTools) searchSeason(ctx context.Context, raw map[string]any) (map[string]any, error) {
	seriesID, season, err := t.args.Season(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	if season == nil {
		return nil, &normalize.ArgError{Field: "season_number"}
	}
	cmd, err := t.client.SearchSeason(ctx, seriesID, *season)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t sonarrTools) searchEpisodes(ctx context.Context, raw map[string]any) (map[string]any, error) {
	ids := normalize.Args(raw).IntList("episode_ids")
	if len(ids) == 0 {
		return nil, &normalize.ArgError{Field: "episode_ids"}
	}
	cmd, err := t.client.SearchEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t sonarrTools) searchMissing(ctx context.Context, _ map[string]any) (map[string]any, error) {
	cmd, err := t.client.SearchMissing(ctx)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t sonarrTools) activity(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	l := a.Level(detail.Minimal)
	limit := normalize.Clamp(a.Int("limit", overviewLimit), overviewLimit, normalize.PageSizeMax)
	start, end := t.args.Calendar(a)
	paging := t.args.Paging(a)
	paging.PageSize = limit

	outcomes := gather.All(ctx, 0,
		queueTask(t.client.Client, l, limit),
		gather.Task{Name: "wanted", Run: func(ctx context.Context) (any, error) {
			p, err := t.client.Wanted(ctx, paging)
			if err != nil {
				return nil, err
			}
			return p.View("episodes", func(e sonarr.Episode) map[string]any { return e.View(l) }), nil
		}},
		gather.Task{Name: "calendar", Run: func(ctx context.Context) (any, error) {
			eps, err := t.client.Calendar(ctx, start, end)
			if err != nil {
				return nil, err
			}
			return sonarr.EpisodeViews(eps[:min(len(eps), limit)], l), nil
		}},
	)
	return gather.Report(outcomes), nil
}

func (t sonarrTools) now() time.Time {
	if t.args.Now != nil {
		return t.args.Now()
	}
	return time.Now()
}

func (t sonarrTools) monitorSeasonEpisodes(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	seriesID, season, err := t.args.RequiredSeason(a)
	if err != nil {
		return nil, err
	}
	eps, err := t.client.Episodes(ctx, seriesID, &season)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(eps))
	for _, e := range eps {
		ids = append(ids, e.ID)
	}
	monitored := a.Bool("monitored", true)
	if len(ids) > 0 {
		if err := t.client.MonitorEpisodes(ctx, ids, monitored); err != nil {
			return nil, err
		}
	}
	return okResult("series_id", seriesID, "season_number", season, "episode_ids", ids, "monitored", monitored), nil
}

func (t sonarrTools) searchEpisode(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, err := t.args.ID(normalize.Args(raw), "episode_id")
	if err != nil {
		return nil, err
	}
	cmd, err := t.client.SearchEpisodes(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

// episodeFallbackSearch resolves episode numbers within a season to
// episode ids and searches for those individually.
func (t sonarrTools) episodeFallbackSearch(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	seriesID, season, err := t.args.RequiredSeason(a)
	if err != nil {
		return nil, err
	}
	eps, err := t.client.Episodes(ctx, seriesID, &season)
	if err != nil {
		return nil, err
	}

	targets := a.IntList("target_episodes")
	var picked []sonarr.Episode
	if len(targets) > 0 {
		for _, e := range eps {
			if slices.Contains(targets, e.EpisodeNumber) {
				picked = append(picked, e)
			}
		}
	} else {
		missing := sonarr.Summarize(season, eps, t.now()).Missing
		for _, e := range eps {
			if slices.Contains(missing, e.EpisodeNumber) {
				picked = append(picked, e)
			}
		}
	}
	if len(picked) == 0 {
		return okResult("series_id", seriesID, "season_number", season, "searched", []int{}, "message", "no matching episodes to search"), nil
	}

	ids := make([]int, 0, len(picked))
	numbers := make([]int, 0, len(picked))
	for _, e := range picked {
		ids = append(ids, e.ID)
		numbers = append(numbers, e.EpisodeNumber)
	}
	cmd, err := t.client.SearchEpisodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := commandResult(cmd)
	out["series_id"] = seriesID
	out["season_number"] = season
	out["searched"] = numbers
	out["episode_ids"] = ids
	if title := a.String("series_title"); title != "" {
		out["series_title"] = title
	}
	return out, nil
}

func (t sonarrTools) qualityFallback(ctx context.Context, raw map[string]any) (map[string]any, error) {
	q, err := t.args.QualityFallback(normalize.Args(raw), "series_id")
	if err != nil {
		return nil, err
	}
	choice, failure, err := resolveProfile(ctx, t.client.Client, q, 0)
	if err != nil || failure != nil {
		return failure, err
	}
	s, err := t.client.UpdateSeries(ctx, q.ID, map[string]any{"qualityProfileId": choice.Profile.ID})
	if err != nil {
		return nil, err
	}
	return okResult("series", s.View(detail.Compact), "quality", choice.View()), nil
}

func (t sonarrTools) seriesSummary(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, err := t.args.ID(normalize.Args(raw), "series_id")
	if err != nil {
		return nil, err
	}
	s, err := t.client.Series(ctx, id)
	if isNotFound(err) {
		return okResult("found", false, "series_id", id), nil
	}
	if err != nil {
		return nil, err
	}

	seasons := make([]map[string]any, 0, len(s.Seasons))
	complete := 0
	for _, se := range s.Seasons {
		row := map[string]any{"season": se.SeasonNumber, "monitored": se.Monitored}
		if st := se.Statistics; st != nil {
			row["episodes_on_disk"] = st.EpisodeFileCount
			row["episodes_aired"] = st.EpisodeCount
			row["missing"] = max(st.EpisodeCount-st.EpisodeFileCount, 0)
			if st.EpisodeCount > 0 && st.EpisodeFileCount >= st.EpisodeCount {
				complete++
			}
		}
		seasons = append(seasons, row)
	}
	out := okResult(
		"found", true,
		"series", s.View(detail.Minimal),
		"status", s.Status,
		"monitored", s.Monitored,
		"seasons", seasons,
		"complete_seasons", complete,
	)
	if st := s.Statistics; st != nil {
		out["episodes_on_disk"] = st.EpisodeFileCount
		out["episodes_aired"] = st.EpisodeCount
		out["percent_complete"] = st.PercentOfEpisodes
	}
	if !s.NextAiring.IsZero() {
		out["next_airing"] = s.NextAiring.UTC().Format(time.RFC3339)
	}
	return out, nil
}

func (t sonarrTools) seasonSummary(ctx context.Context, raw map[string]any) (map[string]any, error) {
	seriesID, season, err := t.args.RequiredSeason(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	eps, err := t.client.Episodes(ctx, seriesID, &season)
	if err != nil {
		return nil, err
	}
	return okResult("series_id", seriesID, "summary", sonarr.Summarize(season, eps, t.now()).View()), nil
}

func (t sonarrTools) seasonDetails(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	seriesID, season, err := t.args.RequiredSeason(a)
	if err != nil {
		return nil, err
	}
	eps, err := t.client.Episodes(ctx, seriesID, &season)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(eps, func(x, y sonarr.Episode) int { return x.EpisodeNumber - y.EpisodeNumber })
	return okResult(
		"series_id", seriesID,
		"summary", sonarr.Summarize(season, eps, t.now()).View(),
		"episodes", sonarr.EpisodeViews(eps, a.Level(detail.Standard)),
	), nil
}

func (t sonarrTools) episodeFile(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, err := t.args.ID(normalize.Args(raw), "episode_id")
	if err != nil {
		return nil, err
	}
	e, err := t.client.Episode(ctx, id)
	if isNotFound(err) {
		return okResult("found", false, "episode_id", id), nil
	}
	if err != nil {
		return nil, err
	}
	out := okResult("found", true, "episode", e.View(detail.Compact), "has_file", e.HasFile)
	if !e.HasFile || e.EpisodeFileID == 0 {
		return out, nil
	}
	f, err := t.client.EpisodeFile(ctx, e.EpisodeFileID)
	if err != nil {
		return nil, err
	}
	out["file"] = f.View()
	return out, nil
}
