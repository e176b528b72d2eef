package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/plex"
	"github.com/nugget/marquee-media-agent/internal/preferences"
	"github.com/nugget/marquee-media-agent/internal/radarr"
	"github.com/nugget/marquee-media-agent/internal/resultcache"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// ints converts a decoded JSON number list.
func ints(v any) []int {
	list, _ := v.([]any)
	out := make([]int, 0, len(list))
	for _, x := range list {
		f, _ := x.(float64)
		out = append(out, int(f))
	}
	return out
}

func strs(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		s, _ := x.(string)
		out = append(out, s)
	}
	return out
}

func titlesOf(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, x := range list {
		m, _ := x.(map[string]any)
		s, _ := m["title"].(string)
		out = append(out, s)
	}
	return out
}

// recorder keeps request bodies by "METHOD path" for arr fakes.
type recorder struct {
	mu     sync.Mutex
	bodies map[string]map[string]any
	hits   map[string]int
}

func (rec *recorder) note(r *http.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.hits == nil {
		rec.hits = map[string]int{}
		rec.bodies = map[string]map[string]any{}
	}
	key := r.Method + " " + r.URL.Path
	rec.hits[key]++
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			rec.bodies[key] = m
		}
	}
}

func (rec *recorder) body(key string) map[string]any {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.bodies[key]
}

func (rec *recorder) count(key string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.hits[key]
}

const profilesJSON = `[{"id":1,"name":"Any"},{"id":4,"name":"HD-1080p"},{"id":6,"name":"Ultra-HD"}]`

// fakeRadarrLibrary answers the profile, add and maintenance endpoints.
func fakeRadarrLibrary(t *testing.T) (*radarr.Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		switch r.Method + " " + r.URL.Path {
		case "GET /api/v3/qualityprofile":
			w.Write([]byte(profilesJSON))
		case "GET /api/v3/indexer":
			w.Write([]byte(`[{"id":1,"name":"NZBgeek","implementation":"Newznab","protocol":"usenet","priority":25,"enableRss":true,"enableAutomaticSearch":true}]`))
		case "GET /api/v3/downloadclient":
			w.Write([]byte(`[{"id":2,"name":"SABnzbd","implementation":"Sabnzbd","protocol":"usenet","priority":1,"enable":true}]`))
		case "GET /api/v3/blocklist":
			w.Write([]byte(`{"page":1,"pageSize":10,"totalRecords":1,"records":[{"id":3,"sourceTitle":"Heat.1995.CAM","protocol":"torrent"}]}`))
		case "GET /api/v3/movie":
			w.Write([]byte(`[]`))
		case "GET /api/v3/movie/lookup/tmdb":
			w.Write([]byte(`{"title":"Heat","year":1995,"tmdbId":949,"titleSlug":"heat-949"}`))
		case "POST /api/v3/movie":
			w.Write([]byte(`{"id":12,"title":"Heat","year":1995,"tmdbId":949,"monitored":true}`))
		case "GET /api/v3/movie/5":
			w.Write([]byte(`{"id":5,"title":"Heat","year":1995,"tmdbId":949,"qualityProfileId":1,"path":"/movies/Heat (1995)"}`))
		case "PUT /api/v3/movie/5":
			w.Write([]byte(`{"id":5,"title":"Heat","year":1995,"tmdbId":949,"qualityProfileId":4}`))
		case "GET /api/v3/queue":
			w.Write([]byte(`{"page":1,"pageSize":10,"totalRecords":0,"records":[]}`))
		case "GET /api/v3/wanted/missing":
			w.Write([]byte(`{"page":1,"pageSize":10,"totalRecords":1,"records":[{"id":4,"title":"Heat","year":1995,"tmdbId":949,"monitored":true}]}`))
		case "GET /api/v3/calendar":
			w.Write([]byte(`[{"id":9,"title":"Dune: Part Three","year":2026,"tmdbId":1170608,"monitored":true}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return radarr.NewClient(srv.URL, "test-key", nil), rec
}

func TestRadarrBlacklist_AliasesBlocklist(t *testing.T) {
	c, _ := fakeRadarrLibrary(t)
	r := NewRegistry()
	Bind(r, Deps{Radarr: c, RadarrArgs: normalize.NewRadarr(1, "/movies")})

	for _, name := range []string{"radarr_get_blocklist", "radarr_get_blacklist"} {
		got := execute(t, r, name, "{}")
		if got["success"] != true {
			t.Fatalf("%s: result = %v", name, got)
		}
		if rows, _ := got["blocklist"].([]any); len(rows) != 1 {
			t.Errorf("%s: blocklist = %v", name, got["blocklist"])
		}
	}
}

func TestRadarrIndexersAndDownloadClients(t *testing.T) {
	c, _ := fakeRadarrLibrary(t)
	r := NewRegistry()
	Bind(r, Deps{Radarr: c})

	got := execute(t, r, "radarr_get_indexers", "{}")
	rows, _ := got["indexers"].([]any)
	if got["count"] != 1.0 || len(rows) != 1 {
		t.Fatalf("indexers = %v", got)
	}
	if ix := rows[0].(map[string]any); ix["name"] != "NZBgeek" || ix["rss"] != true || ix["interactive_search"] != false {
		t.Errorf("indexer = %v", ix)
	}

	got = execute(t, r, "radarr_get_download_clients", "{}")
	rows, _ = got["download_clients"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["enabled"] != true {
		t.Errorf("download clients = %v", got)
	}
}

func TestRadarrQualityFallback(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantID    float64
		wantFell  bool
		wantTried []string
	}{
		{
			name:      "preferred exists",
			args:      `{"movie_id":5,"target_quality":"hd-1080p"}`,
			wantID:    4,
			wantTried: []string{"hd-1080p"},
		},
		{
			name:      "falls back in order",
			args:      `{"movie_id":5,"target_quality":"Remux-2160p","fallback_qualities":["Bluray-2160p","Ultra-HD","Any"]}`,
			wantID:    6,
			wantFell:  true,
			wantTried: []string{"Remux-2160p", "Bluray-2160p", "Ultra-HD"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := fakeRadarrLibrary(t)
			r := NewRegistry()
			Bind(r, Deps{Radarr: c})

			got := execute(t, r, "radarr_quality_fallback", tt.args)
			if got["success"] != true {
				t.Fatalf("result = %v", got)
			}
			q := got["quality"].(map[string]any)
			if q["quality_profile_id"] != tt.wantID || q["fell_back"] != tt.wantFell {
				t.Errorf("quality = %v", q)
			}
			if tried := strs(q["tried"]); !slices.Equal(tried, tt.wantTried) {
				t.Errorf("tried = %v, want %v", tried, tt.wantTried)
			}
			put := rec.body("PUT /api/v3/movie/5")
			if put == nil || put["qualityProfileId"] != tt.wantID {
				t.Errorf("PUT body = %v", put)
			}
			if put["path"] != "/movies/Heat (1995)" {
				t.Errorf("PUT dropped unnamed fields: %v", put)
			}
		})
	}
}

func TestRadarrQualityFallback_NoMatch(t *testing.T) {
	c, rec := fakeRadarrLibrary(t)
	r := NewRegistry()
	Bind(r, Deps{Radarr: c})

	got := execute(t, r, "radarr_quality_fallback", `{"movie_id":5,"target_quality":"Remux-2160p","fallback_qualities":["Bluray-2160p"]}`)
	if got["success"] != false {
		t.Fatalf("result = %v, want failure", got)
	}
	if avail := strs(got["available_profiles"]); !slices.Equal(avail, []string{"Any", "HD-1080p", "Ultra-HD"}) {
		t.Errorf("available_profiles = %v", avail)
	}
	if n := rec.count("PUT /api/v3/movie/5"); n != 0 {
		t.Errorf("movie updated %d times without a matching profile", n)
	}

	got = execute(t, r, "radarr_quality_fallback", `{"movie_id":5}`)
	if got["success"] != false || !strings.HasPrefix(got["error"].(string), "target_quality:") {
		t.Errorf("missing names: result = %v", got)
	}
}

func TestRadarrAdditionFallback(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		wantID   float64
		wantFell bool
	}{
		{name: "named profile", args: `{"tmdb_id":949,"movie_title":"Heat","preferred_quality":"Ultra-HD"}`, wantID: 6},
		{name: "configured default", args: `{"tmdb_id":949,"preferred_quality":"Remux-2160p"}`, wantID: 4, wantFell: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := fakeRadarrLibrary(t)
			r := NewRegistry()
			Bind(r, Deps{Radarr: c, RadarrArgs: normalize.NewRadarr(4, "/movies")})

			got := execute(t, r, "radarr_movie_addition_fallback", tt.args)
			if got["success"] != true || got["already_exists"] != false {
				t.Fatalf("result = %v", got)
			}
			q := got["quality"].(map[string]any)
			if q["quality_profile_id"] != tt.wantID || q["fell_back"] != tt.wantFell {
				t.Errorf("quality = %v", q)
			}
			post := rec.body("POST /api/v3/movie")
			if post["qualityProfileId"] != tt.wantID || post["rootFolderPath"] != "/movies" {
				t.Errorf("POST body = %v", post)
			}
		})
	}
}

func TestRadarrActivityCheck_Selection(t *testing.T) {
	c, rec := fakeRadarrLibrary(t)
	r := NewRegistry()
	Bind(r, Deps{Radarr: c, Now: func() time.Time { return fixedNow }})

	got := execute(t, r, "radarr_activity_check", `{"check_queue":false,"check_calendar":true,"max_results":1}`)
	if got["success"] != true || got["partial"] != false {
		t.Fatalf("result = %v", got)
	}
	if _, ok := got["queue"]; ok {
		t.Error("queue section present though check_queue was false")
	}
	if n := rec.count("GET /api/v3/queue"); n != 0 {
		t.Errorf("queue fetched %d times", n)
	}
	if cal, _ := got["calendar"].([]any); len(cal) != 1 {
		t.Errorf("calendar = %v", got["calendar"])
	}
	if _, ok := got["wanted"].(map[string]any); !ok {
		t.Errorf("wanted = %v", got["wanted"])
	}

	got = execute(t, r, "radarr_activity_check", `{"check_queue":false,"check_wanted":false}`)
	if got["success"] != false || !strings.Contains(got["error"].(string), "enable at least one") {
		t.Errorf("nothing selected: result = %v", got)
	}
}

// Season 1 of series 7: one episode on disk, two aired and missing,
// one airing after fixedNow.
const seasonJSON = `[
	{"id":101,"seriesId":7,"seasonNumber":1,"episodeNumber":1,"title":"Pilot","airDateUtc":"2026-01-01T02:00:00Z","hasFile":true,"episodeFileId":900,"monitored":true},
	{"id":103,"seriesId":7,"seasonNumber":1,"episodeNumber":3,"title":"Third","airDateUtc":"2026-01-15T02:00:00Z","hasFile":false,"monitored":true},
	{"id":102,"seriesId":7,"seasonNumber":1,"episodeNumber":2,"title":"Second","airDateUtc":"2026-01-08T02:00:00Z","hasFile":false,"monitored":true},
	{"id":104,"seriesId":7,"seasonNumber":1,"episodeNumber":4,"title":"Finale","airDateUtc":"2026-12-01T02:00:00Z","hasFile":false,"monitored":false}
]`

func fakeSonarrSeason(t *testing.T) (*sonarr.Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		switch r.Method + " " + r.URL.Path {
		case "GET /api/v3/episode":
			w.Write([]byte(seasonJSON))
		case "GET /api/v3/episode/101":
			w.Write([]byte(`{"id":101,"seriesId":7,"seasonNumber":1,"episodeNumber":1,"title":"Pilot","hasFile":true,"episodeFileId":900}`))
		case "GET /api/v3/episode/102":
			w.Write([]byte(`{"id":102,"seriesId":7,"seasonNumber":1,"episodeNumber":2,"title":"Second","hasFile":false}`))
		case "GET /api/v3/episodefile/900":
			w.Write([]byte(`{"id":900,"seriesId":7,"seasonNumber":1,"relativePath":"Season 01/S01E01.mkv","size":1073741824,
				"releaseGroup":"NTb","quality":{"quality":{"name":"WEBDL-1080p","resolution":1080}},
				"mediaInfo":{"videoCodec":"x265","audioCodec":"EAC3","audioChannels":5.1,"resolution":"1920x1080"}}`))
		case "PUT /api/v3/episode/monitor":
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`[]`))
		case "POST /api/v3/command":
			w.Write([]byte(`{"id":55,"name":"EpisodeSearch","status":"queued"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return sonarr.NewClient(srv.URL, "test-key", nil), rec
}

func TestSonarrEpisodeFallbackSearch(t *testing.T) {
	tests := []struct {
		name        string
		args        string
		wantNumbers []int
		wantIDs     []int
	}{
		{name: "missing episodes", args: `{"series_id":7,"season_number":1}`, wantNumbers: []int{3, 2}, wantIDs: []int{103, 102}},
		{name: "named episodes", args: `{"series_id":7,"season_number":1,"target_episodes":"4, 1"}`, wantNumbers: []int{1, 4}, wantIDs: []int{101, 104}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := fakeSonarrSeason(t)
			r := NewRegistry()
			Bind(r, Deps{Sonarr: c, Now: func() time.Time { return fixedNow }})

			got := execute(t, r, "sonarr_episode_fallback_search", tt.args)
			if got["success"] != true {
				t.Fatalf("result = %v", got)
			}
			if n := ints(got["searched"]); !slices.Equal(n, tt.wantNumbers) {
				t.Errorf("searched = %v, want %v", n, tt.wantNumbers)
			}
			if ids := ints(got["episode_ids"]); !slices.Equal(ids, tt.wantIDs) {
				t.Errorf("episode_ids = %v, want %v", ids, tt.wantIDs)
			}
			cmd := rec.body("POST /api/v3/command")
			if cmd["name"] != "EpisodeSearch" || !slices.Equal(ints(cmd["episodeIds"]), tt.wantIDs) {
				t.Errorf("command body = %v", cmd)
			}
		})
	}
}

func TestSonarrEpisodeFallbackSearch_NothingToSearch(t *testing.T) {
	c, rec := fakeSonarrSeason(t)
	r := NewRegistry()
	Bind(r, Deps{Sonarr: c, Now: func() time.Time { return fixedNow }})

	got := execute(t, r, "sonarr_episode_fallback_search", `{"series_id":7,"season_number":1,"target_episodes":[9]}`)
	if got["success"] != true || len(ints(got["searched"])) != 0 || got["message"] == nil {
		t.Errorf("result = %v", got)
	}
	if n := rec.count("POST /api/v3/command"); n != 0 {
		t.Errorf("search command sent %d times", n)
	}
}

func TestSonarrSeasonSummaryAndDetails(t *testing.T) {
	c, _ := fakeSonarrSeason(t)
	r := NewRegistry()
	Bind(r, Deps{Sonarr: c, Now: func() time.Time { return fixedNow }})

	got := execute(t, r, "sonarr_get_season_summary", `{"series_id":7,"season_number":1}`)
	s := got["summary"].(map[string]any)
	if s["episodes_total"] != 4.0 || s["episodes_aired"] != 3.0 || s["episodes_on_disk"] != 1.0 || s["episodes_monitored"] != 3.0 {
		t.Errorf("summary counts = %v", s)
	}
	if m := ints(s["missing_episodes"]); !slices.Equal(m, []int{3, 2}) {
		t.Errorf("missing = %v", m)
	}
	if u := ints(s["upcoming_episodes"]); !slices.Equal(u, []int{4}) {
		t.Errorf("upcoming = %v", u)
	}
	if s["complete"] != false {
		t.Errorf("complete = %v", s["complete"])
	}

	got = execute(t, r, "sonarr_get_season_details", `{"series_id":7,"season_number":1}`)
	eps, _ := got["episodes"].([]any)
	if len(eps) != 4 {
		t.Fatalf("episodes = %v", got["episodes"])
	}
	for i, e := range eps {
		if n := e.(map[string]any)["episode"]; n != float64(i+1) {
			t.Errorf("episodes[%d] = %v, want episode %d", i, n, i+1)
		}
	}

	got = execute(t, r, "sonarr_get_season_summary", `{"series_id":7}`)
	if got["success"] != false || got["error"] != "season_number is required" {
		t.Errorf("missing season: result = %v", got)
	}
}

func TestSonarrMonitorEpisodesBySeason(t *testing.T) {
	c, rec := fakeSonarrSeason(t)
	r := NewRegistry()
	Bind(r, Deps{Sonarr: c})

	got := execute(t, r, "sonarr_monitor_episodes_by_season", `{"series_id":7,"season_number":1,"monitored":false}`)
	if got["success"] != true {
		t.Fatalf("result = %v", got)
	}
	body := rec.body("PUT /api/v3/episode/monitor")
	if ids := ints(body["episodeIds"]); !slices.Equal(ids, []int{101, 103, 102, 104}) || body["monitored"] != false {
		t.Errorf("monitor body = %v", body)
	}
}

func TestSonarrEpisodeFileInfo(t *testing.T) {
	c, rec := fakeSonarrSeason(t)
	r := NewRegistry()
	Bind(r, Deps{Sonarr: c})

	got := execute(t, r, "sonarr_get_episode_file_info", `{"episode_id":101}`)
	if got["found"] != true || got["has_file"] != true {
		t.Fatalf("result = %v", got)
	}
	f := got["file"].(map[string]any)
	if f["quality"] != "WEBDL-1080p" || f["video_codec"] != "x265" || f["size_gb"] != 1.0 {
		t.Errorf("file = %v", f)
	}

	got = execute(t, r, "sonarr_get_episode_file_info", `{"episode_id":102}`)
	if got["has_file"] != false || got["file"] != nil {
		t.Errorf("no file: result = %v", got)
	}
	if n := rec.count("GET /api/v3/episodefile/900"); n != 1 {
		t.Errorf("episode file fetched %d times, want 1", n)
	}

	got = execute(t, r, "sonarr_get_episode_file_info", `{"episode_id":404}`)
	if got["success"] != true || got["found"] != false {
		t.Errorf("unknown episode: result = %v", got)
	}
}

// fakeTMDb serves the catalog endpoints the TMDb and cross-service
// tools use.
func fakeTMDb(t *testing.T) *tmdb.Client {
	t.Helper()
	pages := map[string]string{
		"/tv/airing_today": `{"page":1,"total_pages":1,"total_results":1,"results":[{"id":1396,"name":"Breaking Bad","first_air_date":"2008-01-20"}]}`,
		"/collection/10": `{"id":10,"name":"Star Wars Collection","parts":[
			{"id":1892,"title":"Return of the Jedi","release_date":"1983-05-25"},
			{"id":99999,"title":"Untitled Star Wars Film","release_date":""},
			{"id":11,"title":"Star Wars","release_date":"1977-05-25"}]}`,
		"/genre/movie/list": `{"genres":[{"id":35,"name":"Comedy"},{"id":27,"name":"Horror"}]}`,
		"/discover/movie": `{"page":1,"results":[
			{"id":813,"title":"Airplane!","release_date":"1980-07-02"},
			{"id":949,"title":"Heat","release_date":"1995-12-15"},
			{"id":346648,"title":"Paddington 2","release_date":"2017-11-09"},
			{"id":15196,"title":"Clue","release_date":"1985-12-13"}]}`,
		"/movie/949/recommendations": `{"page":1,"results":[{"id":1091,"title":"The Thing","release_date":"1982-06-25"}]}`,
		"/trending/movie/week":       `{"page":1,"results":[{"id":1233413,"title":"Sinners","release_date":"2025-04-18"}]}`,
		"/search/multi": `{"page":1,"results":[
			{"id":949,"media_type":"movie","title":"Heat","release_date":"1995-12-15"},
			{"id":1158,"media_type":"person","name":"Al Pacino"},
			{"id":35554,"media_type":"movie","title":"Heat","release_date":"1986-03-14"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/discover/movie" && r.URL.Query().Get("with_genres") != "35" {
			t.Errorf("discover with_genres = %q, want 35", r.URL.Query().Get("with_genres"))
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return tmdb.NewClient("key123", srv.URL, "en-US", "US", nil)
}

func TestTMDbAiringToday(t *testing.T) {
	r := NewRegistry()
	Bind(r, Deps{TMDb: fakeTMDb(t)})

	got := execute(t, r, "tmdb_airing_today_tv", "{}")
	results, _ := got["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("result = %v", got)
	}
	if row := results[0].(map[string]any); row["title"] != "Breaking Bad" || row["media_type"] != "tv" {
		t.Errorf("row = %v", row)
	}
}

func TestTMDbCollectionDetails(t *testing.T) {
	r := NewRegistry()
	Bind(r, Deps{TMDb: fakeTMDb(t)})

	got := execute(t, r, "tmdb_collection_details", `{"collection_id":10}`)
	if got["found"] != true {
		t.Fatalf("result = %v", got)
	}
	c := got["collection"].(map[string]any)
	want := []string{"Star Wars", "Return of the Jedi", "Untitled Star Wars Film"}
	if parts := titlesOf(c["parts"]); !slices.Equal(parts, want) {
		t.Errorf("parts = %v, want %v", parts, want)
	}

	got = execute(t, r, "tmdb_collection_details", `{"collection_id":11}`)
	if got["success"] != true || got["found"] != false {
		t.Errorf("unknown collection: result = %v", got)
	}
}

const plexSectionsJSON = `{"MediaContainer":{"size":1,"Directory":[{"key":"1","title":"Movies","type":"movie"}]}}`

// fakePlex serves a movie section whose OR filters are unsupported, a
// search for "Heat" and extras for rating key 10.
func fakePlex(t *testing.T) (*plex.Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	container := func(items ...string) string {
		return `{"MediaContainer":{"size":` + itoaTest(len(items)) + `,"Metadata":[` + strings.Join(items, ",") + `]}}`
	}
	movie := func(key, title, year string) string {
		return `{"ratingKey":"` + key + `","type":"movie","title":"` + title + `","year":` + year + `}`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		q := r.URL.Query()
		switch r.URL.Path {
		case "/library/sections":
			w.Write([]byte(plexSectionsJSON))
		case "/library/sections/1/all":
			switch {
			case q.Get("or") != "":
				w.Write([]byte(container()))
			case q.Get("resolution") == "4k":
				w.Write([]byte(container(movie("1", "Dune", "2021"), movie("2", "Heat", "1995"))))
			case q.Get("videoResolution") == "4k":
				w.Write([]byte(container(movie("2", "Heat", "1995"), movie("3", "Arrival", "2016"))))
			case q.Get("hdr") != "":
				w.Write([]byte(container(movie("3", "Arrival", "2016"), movie("4", "Tenet", "2020"))))
			default:
				w.Write([]byte(container()))
			}
		case "/hubs/search":
			if q.Get("query") != "Heat" {
				w.Write([]byte(`{"MediaContainer":{"size":0,"Hub":[]}}`))
				return
			}
			w.Write([]byte(`{"MediaContainer":{"size":1,"Hub":[{"type":"movie","size":2,"Metadata":[` +
				movie("10", "Heat", "1995") + `,` + movie("11", "Heat Vision", "2001") + `]}]}}`))
		case "/library/metadata/10/extras":
			w.Write([]byte(container(`{"ratingKey":"501","type":"clip","subtype":"trailer","title":"Heat Trailer","duration":150000}`)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return plex.NewClient(srv.URL, "tok", nil), rec
}

func itoaTest(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestPlexMovies4KOrHDR_UnionFallback(t *testing.T) {
	c, _ := fakePlex(t)
	r := NewRegistry()
	Bind(r, Deps{Plex: c})

	got := execute(t, r, "get_plex_movies_4k_or_hdr", `{"limit":3}`)
	if got["success"] != true || got["section_id"] != "1" {
		t.Fatalf("result = %v", got)
	}
	if titles := titlesOf(got["items"]); !slices.Equal(titles, []string{"Dune", "Heat", "Arrival"}) {
		t.Errorf("items = %v", titles)
	}
	// Four OR spellings come back empty, then two single-facet queries
	// reach the limit.
	if attempts, _ := got["attempts"].([]any); len(attempts) != 6 {
		t.Errorf("attempts = %v, want 6", got["attempts"])
	}
}

func TestPlexMovies4KOrHDR_UnionOnly(t *testing.T) {
	c, rec := fakePlex(t)
	r := NewRegistry()
	Bind(r, Deps{Plex: c})

	got := execute(t, r, "get_plex_movies_4k_or_hdr", `{"or_semantics":false,"section_id":"1"}`)
	if titles := titlesOf(got["items"]); !slices.Equal(titles, []string{"Dune", "Heat", "Arrival", "Tenet"}) {
		t.Errorf("items = %v", titles)
	}
	if n := rec.count("GET /library/sections"); n != 0 {
		t.Errorf("sections listed %d times with an explicit section_id", n)
	}
}

func TestPlexExtras(t *testing.T) {
	c, _ := fakePlex(t)
	r := NewRegistry()
	Bind(r, Deps{Plex: c})

	got := execute(t, r, "get_plex_extras", `{"rating_key":"10"}`)
	extras, _ := got["extras"].([]any)
	if got["found"] != true || len(extras) != 1 {
		t.Fatalf("result = %v", got)
	}
	if e := extras[0].(map[string]any); e["extra_type"] != "trailer" || e["duration_min"] != 2.0 {
		t.Errorf("extra = %v", e)
	}

	got = execute(t, r, "get_plex_extras", `{"rating_key":"99"}`)
	if got["success"] != true || got["found"] != false {
		t.Errorf("unknown item: result = %v", got)
	}
}

func newPreferenceStore(t *testing.T, doc map[string]any) *preferences.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := preferences.NewStore(db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		if err := s.Replace(context.Background(), doc); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

type fakeLLM struct {
	mu     sync.Mutex
	answer string
	calls  [][]llm.Message
	models []string
}

func (f *fakeLLM) Chat(_ context.Context, model string, msgs []llm.Message, _ []llm.ToolDefinition) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msgs)
	f.models = append(f.models, model)
	return &llm.ChatResponse{Model: model, Message: llm.Message{Role: llm.RoleAssistant, Content: f.answer}}, nil
}

func TestQueryHouseholdPreferences(t *testing.T) {
	store := newPreferenceStore(t, map[string]any{"genres": map[string]any{"avoid": []any{"horror"}}})
	model := &fakeLLM{answer: "The household avoids horror films.\n"}
	r := NewRegistry()
	Bind(r, Deps{Preferences: store, LLM: model, QueryModel: "small-model"})

	got := execute(t, r, "query_household_preferences", `{"query":"Do we like horror?"}`)
	if got["success"] != true || got["answer"] != "The household avoids horror films" {
		t.Fatalf("result = %v", got)
	}
	if len(model.calls) != 1 || model.models[0] != "small-model" {
		t.Fatalf("calls = %d models = %v", len(model.calls), model.models)
	}
	msgs := model.calls[0]
	if msgs[0].Role != llm.RoleSystem || !strings.Contains(msgs[1].Content, "horror") || !strings.HasSuffix(msgs[1].Content, "Question: Do we like horror?") {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestQueryHouseholdPreferences_EmptyAndUnconfigured(t *testing.T) {
	model := &fakeLLM{answer: "unused"}
	r := NewRegistry()
	Bind(r, Deps{Preferences: newPreferenceStore(t, nil), LLM: model})

	got := execute(t, r, "query_household_preferences", `{"query":"Any favourite actors?"}`)
	if got["answer"] != "No household preferences are stored yet." || len(model.calls) != 0 {
		t.Errorf("empty store: result = %v calls = %d", got, len(model.calls))
	}
	got = execute(t, r, "query_household_preferences", `{}`)
	if got["error"] != "query is required" {
		t.Errorf("no query: result = %v", got)
	}

	r = NewRegistry()
	Bind(r, Deps{Preferences: newPreferenceStore(t, nil)})
	got = execute(t, r, "query_household_preferences", `{"query":"x"}`)
	if got["success"] != false || !strings.Contains(got["error"].(string), "not configured") {
		t.Errorf("no model: result = %v", got)
	}
}

func TestSmartRecommendations(t *testing.T) {
	plexClient, _ := fakePlex(t)
	store := newPreferenceStore(t, map[string]any{"movies": map[string]any{"dislikes": []any{"Paddington 2"}}})
	r := NewRegistry()
	Bind(r, Deps{TMDb: fakeTMDb(t), Plex: plexClient, Preferences: store})

	got := execute(t, r, smartRecommendations, `{"prompt":"a light comedy","max_results":2}`)
	if got["success"] != true || got["source"] != "discover" {
		t.Fatalf("result = %v", got)
	}
	if recs := titlesOf(got["recommendations"]); !slices.Equal(recs, []string{"Airplane!", "Clue"}) {
		t.Errorf("recommendations = %v", recs)
	}
	if owned := strs(got["already_owned"]); !slices.Equal(owned, []string{"Heat"}) {
		t.Errorf("already_owned = %v", owned)
	}
	if ex := strs(got["excluded_by_preferences"]); !slices.Equal(ex, []string{"Paddington 2"}) {
		t.Errorf("excluded_by_preferences = %v", ex)
	}
}

func TestSmartRecommendations_Sources(t *testing.T) {
	r := NewRegistry()
	Bind(r, Deps{TMDb: fakeTMDb(t)})

	tests := []struct {
		args  string
		want  string
		title string
	}{
		{args: `{"seed_tmdb_id":949}`, want: "recommendations", title: "The Thing"},
		{args: `{}`, want: "trending", title: "Sinners"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := execute(t, r, smartRecommendations, tt.args)
			if got["source"] != tt.want || got["library_checked"] != false {
				t.Fatalf("result = %v", got)
			}
			if recs := titlesOf(got["recommendations"]); !slices.Equal(recs, []string{tt.title}) {
				t.Errorf("recommendations = %v", recs)
			}
		})
	}
}

func TestIntelligentSearch(t *testing.T) {
	plexClient, _ := fakePlex(t)
	r := NewRegistry()
	Bind(r, Deps{TMDb: fakeTMDb(t), Plex: plexClient})

	got := execute(t, r, intelligentSearch, `{"query":"Heat"}`)
	if got["success"] != true || got["partial"] != false {
		t.Fatalf("result = %v", got)
	}
	results, _ := got["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("results = %v", got["results"])
	}
	first, second := results[0].(map[string]any), results[1].(map[string]any)
	if first["in_library"] != true || first["plex_rating_key"] != "10" {
		t.Errorf("1995 Heat = %v", first)
	}
	if second["in_library"] != false {
		t.Errorf("1986 Heat = %v", second)
	}
	if only := titlesOf(got["library_only"]); !slices.Equal(only, []string{"Heat Vision"}) {
		t.Errorf("library_only = %v", only)
	}
}

func TestIntelligentSearch_PartialConfiguration(t *testing.T) {
	plexClient, _ := fakePlex(t)
	r := NewRegistry()
	Bind(r, Deps{Plex: plexClient})

	got := execute(t, r, intelligentSearch, `{"query":"Heat"}`)
	if results, _ := got["results"].([]any); got["success"] != true || len(results) != 0 {
		t.Errorf("plex only: result = %v", got)
	}
	if only := titlesOf(got["library_only"]); len(only) != 2 {
		t.Errorf("library_only = %v", only)
	}

	r = NewRegistry()
	Bind(r, Deps{})
	got = execute(t, r, intelligentSearch, `{"query":"Heat"}`)
	if got["success"] != false {
		t.Errorf("nothing configured: result = %v", got)
	}
	got = execute(t, r, smartRecommendations, `{}`)
	if got["error"] != "TMDb is not configured" {
		t.Errorf("smart_recommendations without TMDb: result = %v", got)
	}
}

func TestBind_AllServicesConfigured(t *testing.T) {
	plexClient, _ := fakePlex(t)
	radarrClient, _ := fakeRadarrLibrary(t)
	sonarrClient, _ := fakeSonarrSeason(t)
	r := NewRegistry()
	Bind(r, Deps{
		Cache:       resultcache.New(resultcache.NewMemoryBackend(), nil),
		Plex:        plexClient,
		TMDb:        fakeTMDb(t),
		Radarr:      radarrClient,
		Sonarr:      sonarrClient,
		Preferences: newPreferenceStore(t, nil),
		LLM:         &fakeLLM{},
		QueryModel:  "small-model",
		RadarrArgs:  normalize.NewRadarr(4, "/movies"),
		SonarrArgs:  normalize.NewSonarr(4, 1, "/tv"),
		Now:         func() time.Time { return fixedNow },
	})
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	for _, d := range Catalog() {
		h, err := r.Get(d.Name)
		if err != nil || h == nil {
			t.Errorf("Get(%q) = %v, %v", d.Name, h, err)
		}
	}

	// Argument checks run before any backend call, so a bound handler
	// answers with its own validation error rather than "not configured".
	tests := []struct {
		tool string
		want string
	}{
		{"get_plex_extras", "rating_key is required"},
		{"tmdb_collection_details", "collection_id is required"},
		{"radarr_quality_fallback", "movie_id is required"},
		{"sonarr_get_episode_file_info", "episode_id is required"},
		{"query_household_preferences", "query is required"},
		{intelligentSearch, "query is required"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got := execute(t, r, tt.tool, "{}")
			if got["error"] != tt.want {
				t.Errorf("result = %v, want error %q", got, tt.want)
			}
		})
	}
}
