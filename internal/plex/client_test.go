package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/marquee-media-agent/internal/detail"
)

func newTestServer(t *testing.T, routes map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Plex-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

const sectionsJSON = `{"MediaContainer":{"size":2,"Directory":[
	{"key":"1","title":"Movies","type":"movie","agent":"tv.plex.agents.movie"},
	{"key":"2","title":"TV Shows","type":"show"}
]}}`

func TestSections_CachedAndShared(t *testing.T) {
	srv, hits := newTestServer(t, map[string]string{"/library/sections": sectionsJSON})
	c := NewClient(srv.URL, "tok", nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Sections(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	secs, err := c.Sections(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(secs) != 2 || secs[1].Title != "TV Shows" {
		t.Fatalf("sections = %+v", secs)
	}
	if n := hits.Load(); n > 8 || n < 1 {
		t.Errorf("hits = %d", n)
	}

	before := hits.Load()
	c.Sections(context.Background())
	if hits.Load() != before {
		t.Error("cached sections should not refetch")
	}

	c.now = func() time.Time { return time.Now().Add(sectionsTTL + time.Second) }
	c.Sections(context.Background())
	if hits.Load() != before+1 {
		t.Error("expired sections should refetch")
	}
}

func TestSectionByType(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"/library/sections": sectionsJSON})
	c := NewClient(srv.URL, "tok", nil)

	s, err := c.SectionByType(context.Background(), "show")
	if err != nil {
		t.Fatal(err)
	}
	if s.Key != "2" {
		t.Errorf("Key = %q, want 2", s.Key)
	}
	if _, err := c.SectionByType(context.Background(), "artist"); err == nil {
		t.Error("missing section type should error")
	}
}

func TestSearch_FlattensMediaHubs(t *testing.T) {
	srv, _ := newTestServer(t, map[string]string{"/hubs/search": `{"MediaContainer":{"Hub":[
		{"type":"movie","Metadata":[{"ratingKey":"10","title":"Heat","type":"movie","year":1995}]},
		{"type":"actor","Metadata":[{"ratingKey":"99","title":"Al Pacino"}]},
		{"type":"show","Metadata":[{"ratingKey":"20","title":"Heat Wave","type":"show"}]}
	]}}`})
	c := NewClient(srv.URL, "tok", nil)

	items, err := c.Search(context.Background(), "heat", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Title != "Heat" || items[1].RatingKey != "20" {
		t.Errorf("items = %+v", items)
	}
}

func TestSectionItems_PagingAndFilters(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"MediaContainer":{"Metadata":[{"ratingKey":"1","title":"Alien","viewCount":"2"}]}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "tok", nil)

	items, err := c.SectionItems(context.Background(), "1", url.Values{"unwatched": {"1"}}, 15)
	if err != nil {
		t.Fatal(err)
	}
	if got.Get("unwatched") != "1" || got.Get("X-Plex-Container-Size") != "15" {
		t.Errorf("query = %v", got)
	}
	if items[0].ViewCount != 2 {
		t.Errorf("string viewCount decoded as %d", items[0].ViewCount)
	}
}

func TestRate_SendsPut(t *testing.T) {
	var method string
	var q url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, q = r.Method, r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, "tok", nil).Rate(context.Background(), "42", 8); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPut || q.Get("key") != "42" || q.Get("rating") != "8" {
		t.Errorf("method=%s query=%v", method, q)
	}
}

func TestUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	_, err := NewClient(srv.URL, "wrong", nil).OnDeck(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestItemView_Levels(t *testing.T) {
	it := Item{
		RatingKey: "5", Title: "Pilot", Type: "episode", GrandparentTitle: "Lost",
		ParentIndex: 1, Index: 1, Year: 2004, Summary: "Crash.", Duration: 2_520_000,
		Genre: []Tag{{Tag: "Drama"}, {Tag: "Mystery"}, {Tag: "Adventure"}, {Tag: "Sci-Fi"}},
		Role:  []Tag{{Tag: "Matthew Fox"}},
	}

	minimal := it.View(detail.Minimal)
	if minimal["title"] != "Lost S01E01 - Pilot" {
		t.Errorf("title = %v", minimal["title"])
	}
	if _, ok := minimal["genres"]; ok {
		t.Error("minimal view should not carry genres")
	}

	compact := it.View(detail.Compact)
	if g := compact["genres"].([]string); len(g) != 3 {
		t.Errorf("compact genres = %v", g)
	}
	if compact["duration_min"] != 42 {
		t.Errorf("duration_min = %v", compact["duration_min"])
	}

	full := it.View(detail.Detailed)
	if g := full["genres"].([]string); len(g) != 4 {
		t.Errorf("detailed genres = %v", g)
	}
	if full["summary"] != "Crash." {
		t.Errorf("summary = %v", full["summary"])
	}
}

func TestFilter(t *testing.T) {
	items := []Item{
		{Title: "Heat", Type: "movie", Year: 1995, AudienceRating: 8.3, Role: []Tag{{Tag: "Al Pacino"}}},
		{Title: "Alien", Type: "movie", Year: 1979, Rating: 8.5},
		{Title: "Lost", Type: "show", Year: 2004},
	}
	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"empty", Filter{}, 3},
		{"type", Filter{Type: "movie"}, 2},
		{"year range", Filter{YearMin: 1990, YearMax: 2000}, 1},
		{"rating", Filter{MinRating: 8.4}, 1},
		{"actor case-insensitive", Filter{Actors: []string{"al pacino"}}, 1},
		{"missing genre", Filter{Genres: []string{"Comedy"}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.f.Apply(items)); got != tt.want {
				t.Errorf("Apply = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSortItems(t *testing.T) {
	items := []Item{{Title: "b", Year: 2000}, {Title: "A", Year: 1990}, {Title: "c", Year: 2010}}
	SortItems(items, "year", true)
	if items[0].Year != 2010 || items[2].Year != 1990 {
		t.Errorf("year desc = %+v", items)
	}
	SortItems(items, "title", false)
	if items[0].Title != "A" {
		t.Errorf("title asc = %+v", items)
	}
}

func TestUHDOrHDR_FirstOrFilterWins(t *testing.T) {
	var mu sync.Mutex
	var queries []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		// Only the videoResolution spelling is understood.
		if q.Get("or") == "1" && q.Get("videoResolution") == "4k" {
			w.Write([]byte(`{"MediaContainer":{"Metadata":[{"ratingKey":"7","title":"Dune","type":"movie"}]}}`))
			return
		}
		w.Write([]byte(`{"MediaContainer":{"Metadata":[]}}`))
	}))
	defer srv.Close()

	items, attempts, err := NewClient(srv.URL, "tok", nil).UHDOrHDR(context.Background(), "1", 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "Dune" {
		t.Errorf("items = %+v", items)
	}
	if len(attempts) != 2 || attempts[0].Count != 0 || attempts[1].Count != 1 {
		t.Errorf("attempts = %+v", attempts)
	}
	for _, q := range queries {
		if q.Get("type") != "1" {
			t.Errorf("query %v lacks type=1", q)
		}
	}
}

func TestUHDOrHDR_RecordsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hdr") != "" {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"MediaContainer":{"Metadata":[]}}`))
	}))
	defer srv.Close()

	items, attempts, err := NewClient(srv.URL, "tok", nil).UHDOrHDR(context.Background(), "1", 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 || len(attempts) != 4 {
		t.Fatalf("items = %d attempts = %+v", len(items), attempts)
	}
	if attempts[0].Error != "" || attempts[2].Error == "" {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestItemExtraView(t *testing.T) {
	v := Item{RatingKey: "501", Title: "Heat Trailer", Subtype: "trailer", Duration: 150000}.ExtraView()
	if v["extra_type"] != "trailer" || v["duration_min"] != 2 {
		t.Errorf("view = %v", v)
	}
}
