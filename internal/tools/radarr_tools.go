package tools

import (
	"context"
	"maps"
	"strings"

	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/radarr"
)

func radarrDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("radarr_lookup",
			"Look up movies through Radarr by title, tmdb:<id> or imdb:<id>. Results already in the library have an id.",
			[]string{"term"},
			props{
				"term":           reqString("Title, tmdb:<id> or imdb:<id>."),
				"limit":          optInt("Maximum results (default 20)."),
				"response_level": level(detail.Compact),
			}),
		def("radarr_add_movie",
			"Add a movie to Radarr by TMDb id so it is monitored and downloaded. Uses the configured quality profile and root folder unless given. A movie already in the library is reported with already_exists.",
			[]string{"tmdb_id"},
			props{
				"tmdb_id":              reqInt("TMDb movie id."),
				"quality_profile_id":   optInt("Quality profile id from radarr_quality_profiles."),
				"root_folder_path":     optString("Root folder path from radarr_root_folders."),
				"monitored":            optBool("Monitor the movie (default true)."),
				"search_now":           optBool("Start searching for a release immediately (default true)."),
				"minimum_availability": optEnum("When the movie counts as available (default announced).", "announced", "inCinemas", "released"),
			}),
		def("radarr_get_movies",
			"List movies in the Radarr library, or fetch one by Radarr id or TMDb id. Filter the list by title text, missing files or monitored state.",
			nil,
			props{
				"movie_id":       optInt("Radarr movie id."),
				"tmdb_id":        optInt("TMDb movie id."),
				"query":          optString("Case-insensitive title filter."),
				"missing_only":   optBool("Only movies without a file."),
				"monitored":      optBool("Only movies with this monitored state."),
				"limit":          optInt("Maximum movies (default 20, max 100)."),
				"response_level": level(detail.Compact),
			}),
		def("radarr_update_movie",
			"Change settings of a movie in Radarr: monitored, quality profile, minimum availability, root folder or tags.",
			[]string{"movie_id"},
			props{
				"movie_id":             reqInt("Radarr movie id."),
				"update_data":          optObject("Fields to change, e.g. {\"monitored\": false}."),
				"monitored":            optBool("Set monitored."),
				"quality_profile_id":   optInt("Set quality profile."),
				"minimum_availability": optEnum("Set minimum availability.", "announced", "inCinemas", "released"),
			}),
		def("radarr_delete_movie",
			"Remove a movie from Radarr, optionally deleting its files.",
			[]string{"movie_id"},
			props{
				"movie_id":                  reqInt("Radarr movie id."),
				"delete_files":              optBool("Also delete files from disk (default false)."),
				"add_import_list_exclusion": optBool("Prevent import lists from re-adding it (default false)."),
			}),
		def("radarr_search_movie",
			"Ask Radarr to search indexers for the given movies now.",
			[]string{"movie_ids"},
			props{"movie_ids": reqIntList("Radarr movie ids.")}),
		def("radarr_search_missing",
			"Ask Radarr to search for every monitored movie that has no file.",
			nil, nil),
		def("radarr_search_cutoff",
			"Ask Radarr to search for upgrades to movies below their quality cutoff.",
			nil, nil),
		def("radarr_get_blocklist",
			"List releases Radarr has blocklisted.",
			nil,
			with(pagingProps, props{"response_level": level(detail.Compact)})),
		def("radarr_clear_blocklist",
			"Remove every entry from the Radarr blocklist.",
			nil, nil),
		def("radarr_get_blacklist",
			"List releases Radarr has blocklisted. Older Radarr versions call this the blacklist; same as radarr_get_blocklist.",
			nil,
			with(pagingProps, props{"response_level": level(detail.Compact)})),
		def("radarr_clear_blacklist",
			"Remove every entry from the Radarr blocklist. Same as radarr_clear_blocklist.",
			nil, nil),
		def("radarr_quality_profiles",
			"List Radarr quality profiles and their ids.",
			nil, nil),
		def("radarr_root_folders",
			"List Radarr root folders with free space.",
			nil, nil),
		def("radarr_get_indexers",
			"List indexers configured in Radarr and whether RSS and searches are enabled on each.",
			nil, nil),
		def("radarr_get_download_clients",
			"List download clients configured in Radarr.",
			nil, nil),
		def("radarr_movie_addition_fallback",
			"Add a movie to Radarr choosing the quality profile by name: the preferred profile if it exists, else the first fallback that exists, else the configured default. Reports which profile was used.",
			[]string{"tmdb_id"},
			props{
				"tmdb_id":            reqInt("TMDb movie id."),
				"movie_title":        optString("Movie title, echoed back for context."),
				"preferred_quality":  optString("Preferred quality profile name, e.g. Ultra-HD."),
				"fallback_qualities": optStringArray("Profile names to try in order when the preferred one does not exist."),
				"root_folder_path":   optString("Root folder path from radarr_root_folders."),
				"monitored":          optBool("Monitor the movie (default true)."),
				"search_now":         optBool("Start searching for a release immediately (default true)."),
			}),
		def("radarr_quality_fallback",
			"Change a Radarr movie's quality profile by name, trying the target profile first and then each fallback in order.",
			[]string{"movie_id"},
			props{
				"movie_id":           reqInt("Radarr movie id."),
				"movie_title":        optString("Movie title, echoed back for context."),
				"target_quality":     optString("Preferred quality profile name."),
				"fallback_qualities": optStringArray("Profile names to try in order."),
			}),
		def("radarr_activity_check",
			"Read-only check of Radarr activity. Choose any of the download queue, wanted (missing) movies and upcoming releases.",
			nil,
			props{
				"check_queue":    optBool("Include the download queue (default true)."),
				"check_wanted":   optBool("Include wanted movies (default true)."),
				"check_calendar": optBool("Include upcoming releases for the next seven days (default false)."),
				"max_results":    optInt("Rows per section (default 10)."),
				"response_level": level(detail.Minimal),
			}),
		def("radarr_activity_overview",
			"One call view of Radarr activity: download queue, wanted (missing) movies and the release calendar. Sections that fail are reported individually.",
			nil,
			with(calendarProps, props{
				"limit":          optInt("Rows per section (default 10)."),
				"response_level": level(detail.Minimal),
			})),
	}
}

type radarrTools struct {
	client *radarr.Client
	args   normalize.Arr
}

func (t radarrTools) handlers() map[string]Handler {
	return map[string]Handler{
		"radarr_lookup":            t.lookup,
		"radarr_add_movie":         t.add,
		"radarr_get_movies":        t.movies,
		"radarr_update_movie":      t.update,
		"radarr_delete_movie":      t.delete,
		"radarr_search_movie":      t.search,
		"radarr_search_missing":    t.searchMissing,
		"radarr_search_cutoff":     t.searchCutoff,
		"radarr_get_blocklist":     blocklistHandler(t.client.Client, t.args),
		"radarr_clear_blocklist":   clearBlocklistHandler(t.client.Client),
		"radarr_quality_profiles":  qualityProfilesHandler(t.client.Client),
		"radarr_root_folders":      rootFoldersHandler(t.client.Client),
		"radarr_activity_overview": t.activity,

		"radarr_get_blacklist":           blocklistHandler(t.client.Client, t.args),
		"radarr_clear_blacklist":         clearBlocklistHandler(t.client.Client),
		"radarr_get_indexers":            indexersHandler(t.client.Client),
		"radarr_get_download_clients":    downloadClientsHandler(t.client.Client),
		"radarr_movie_addition_fallback": t.addWithFallback,
		"radarr_quality_fallback":        t.qualityFallback,
		"radarr_activity_check":          t.activityCheck,
	}
}

func (t radarrTools) lookup(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	term := a.String("term")
	if term == "" {
		term = a.String("query")
	}
	if term == "" {
		return nil, &normalize.ArgError{Field: "term"}
	}
	limit := normalize.Clamp(a.Int("limit", normalize.PageSizeDefault), normalize.PageSizeDefault, normalize.PageSizeMax)
	movies, err := t.client.Lookup(ctx, term)
	if err != nil {
		return nil, err
	}
	movies = movies[:min(len(movies), limit)]
	return okResult("count", len(movies), "results", radarr.Views(movies, t.args.Level(a))), nil
}

func (t radarrTools) add(ctx context.Context, raw map[string]any) (map[string]any, error) {
	req, err := t.args.AddMovie(normalize.Args(raw))
	if err != nil {
		return nil, err
	}
	res, err := t.client.AddMovie(ctx, req)
	if err != nil {
		return nil, err
	}
	return okResult("already_exists", res.AlreadyExists, "movie", res.Movie.View(detail.Compact)), nil
}

func (t radarrTools) movies(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	l := t.args.Level(a)

	if a.Has("movie_id") {
		id, err := t.args.ID(a, "movie_id")
		if err != nil {
			return nil, err
		}
		m, err := t.client.Movie(ctx, id)
		if isNotFound(err) {
			return okResult("found", false, "movie_id", id), nil
		}
		if err != nil {
			return nil, err
		}
		return okResult("found", true, "movie", m.View(l)), nil
	}
	if a.Has("tmdb_id") {
		id, err := t.args.ID(a, "tmdb_id")
		if err != nil {
			return nil, err
		}
		m, err := t.client.MovieByTMDb(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return okResult("found", false, "tmdb_id", id), nil
		}
		return okResult("found", true, "movie", m.View(l)), nil
	}

	all, err := t.client.Movies(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(a.String("query"))
	missingOnly := a.Bool("missing_only", false)
	matched := make([]radarr.Movie, 0, len(all))
	for _, m := range all {
		if query != "" && !strings.Contains(strings.ToLower(m.Title), query) {
			continue
		}
		if missingOnly && m.HasFile {
			continue
		}
		if a.Has("monitored") && m.Monitored != a.Bool("monitored", true) {
			continue
		}
		matched = append(matched, m)
	}
	limit := normalize.Clamp(a.Int("limit", normalize.PageSizeDefault), normalize.PageSizeDefault, normalize.PageSizeMax)
	total := len(matched)
	matched = matched[:min(total, limit)]
	return okResult("total", total, "count", len(matched), "movies", radarr.Views(matched, l)), nil
}

func (t radarrTools) update(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, patch, err := t.args.Update(normalize.Args(raw), "movie_id")
	if err != nil {
		return nil, err
	}
	m, err := t.client.UpdateMovie(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return okResult("movie", m.View(detail.Compact)), nil
}

func (t radarrTools) delete(ctx context.Context, raw map[string]any) (map[string]any, error) {
	id, deleteFiles, exclude, err := t.args.Delete(normalize.Args(raw), "movie_id")
	if err != nil {
		return nil, err
	}
	if err := t.client.DeleteMovie(ctx, id, deleteFiles, exclude); err != nil {
		return nil, err
	}
	return okResult("deleted", id, "files_deleted", deleteFiles), nil
}

func (t radarrTools) search(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	ids := a.IntList("movie_ids")
	if len(ids) == 0 {
		if id, ok := normalize.Int(a["movie_id"]); ok {
			ids = []int{id}
		}
	}
	if len(ids) == 0 {
		return nil, &normalize.ArgError{Field: "movie_ids"}
	}
	cmd, err := t.client.SearchMovies(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t radarrTools) searchMissing(ctx context.Context, _ map[string]any) (map[string]any, error) {
	cmd, err := t.client.SearchMissing(ctx)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t radarrTools) searchCutoff(ctx context.Context, _ map[string]any) (map[string]any, error) {
	cmd, err := t.client.SearchCutoff(ctx)
	if err != nil {
		return nil, err
	}
	return commandResult(cmd), nil
}

func (t radarrTools) activity(ctx context.Context, raw map[string]any) (map[string]any, error) {
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
			return p.View("movies", func(m radarr.Movie) map[string]any { return m.View(l) }), nil
		}},
		gather.Task{Name: "calendar", Run: func(ctx context.Context) (any, error) {
			movies, err := t.client.Calendar(ctx, start, end)
			if err != nil {
				return nil, err
			}
			return radarr.Views(movies[:min(len(movies), limit)], l), nil
		}},
	)
	return gather.Report(outcomes), nil
}

func (t radarrTools) addWithFallback(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	q, err := t.args.QualityFallback(a, "tmdb_id")
	if err != nil {
		return nil, err
	}
	choice, failure, err := resolveProfile(ctx, t.client.Client, q, t.args.QualityProfileID)
	if err != nil || failure != nil {
		return failure, err
	}

	withProfile := maps.Clone(raw)
	withProfile["quality_profile_id"] = choice.Profile.ID
	req, err := t.args.AddMovie(normalize.Args(withProfile))
	if err != nil {
		return nil, err
	}
	res, err := t.client.AddMovie(ctx, req)
	if err != nil {
		return nil, err
	}
	out := okResult(
		"already_exists", res.AlreadyExists,
		"movie", res.Movie.View(detail.Compact),
		"quality", choice.View(),
	)
	if title := a.String("movie_title"); title != "" {
		out["movie_title"] = title
	}
	return out, nil
}

func (t radarrTools) qualityFallback(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	q, err := t.args.QualityFallback(a, "movie_id")
	if err != nil {
		return nil, err
	}
	choice, failure, err := resolveProfile(ctx, t.client.Client, q, 0)
	if err != nil || failure != nil {
		return failure, err
	}
	m, err := t.client.UpdateMovie(ctx, q.ID, map[string]any{"qualityProfileId": choice.Profile.ID})
	if err != nil {
		return nil, err
	}
	return okResult("movie", m.View(detail.Compact), "quality", choice.View()), nil
}

// activityCheck is the selectable form of activity: only the requested
// sections are fetched.
func (t radarrTools) activityCheck(ctx context.Context, raw map[string]any) (map[string]any, error) {
	a := normalize.Args(raw)
	check := t.args.ActivityCheck(a)
	l := a.Level(detail.Minimal)

	var tasks []gather.Task
	if check.Queue {
		tasks = append(tasks, queueTask(t.client.Client, l, check.Limit))
	}
	if check.Wanted {
		paging := t.args.Paging(a)
		paging.PageSize = check.Limit
		tasks = append(tasks, gather.Task{Name: "wanted", Run: func(ctx context.Context) (any, error) {
			p, err := t.client.Wanted(ctx, paging)
			if err != nil {
				return nil, err
			}
			return p.View("movies", func(m radarr.Movie) map[string]any { return m.View(l) }), nil
		}})
	}
	if check.Calendar {
		start, end := t.args.Calendar(a)
		tasks = append(tasks, gather.Task{Name: "calendar", Run: func(ctx context.Context) (any, error) {
			movies, err := t.client.Calendar(ctx, start, end)
			if err != nil {
				return nil, err
			}
			return radarr.Views(movies[:min(len(movies), check.Limit)], l), nil
		}})
	}
	if len(tasks) == 0 {
		return nil, &normalize.ArgError{Field: "check_queue", Reason: "enable at least one of check_queue, check_wanted or check_calendar"}
	}
	return gather.Report(gather.All(ctx, 0, tasks...)), nil
}
