package tmdb

import (
	"slices"
	"strings"

	"github.com/nugget/marquee-media-agent/internal/detail"
)

// Page is TMDb's paginated list envelope.
type Page[T any] struct {
	Page         int `json:"page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []T `json:"results"`
}

// Genre is a TMDb genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CastMember is one credited actor.
type CastMember struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Character string `json:"character"`
}

// CrewMember is one credited crew member.
type CrewMember struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Job        string `json:"job"`
	Department string `json:"department"`
}

// Credits is appended to details when requested.
type Credits struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// Title is the full record for a movie, TV show, or (in multi search)
// a person. Movies use Title/ReleaseDate and shows use
// Name/FirstAirDate; the accessor methods hide the difference.
type Title struct {
	ID               int     `json:"id"`
	MediaType        string  `json:"media_type"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	OriginalTitle    string  `json:"original_title"`
	OriginalName     string  `json:"original_name"`
	OriginalLanguage string  `json:"original_language"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Popularity       float64 `json:"popularity"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	GenreIDs         []int   `json:"genre_ids"`
	Genres           []Genre `json:"genres"`
	Runtime          int     `json:"runtime"`
	EpisodeRunTime   []int   `json:"episode_run_time"`
	Status           string  `json:"status"`
	Homepage         string  `json:"homepage"`
	IMDbID           string  `json:"imdb_id"`
	NumberOfSeasons  int     `json:"number_of_seasons"`
	NumberOfEpisodes int     `json:"number_of_episodes"`

	Credits             *Credits       `json:"credits,omitempty"`
	BelongsToCollection *CollectionRef `json:"belongs_to_collection,omitempty"`
	KnownForDepartment  string         `json:"known_for_department"`
}

// CollectionRef names the collection a movie belongs to.
type CollectionRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DisplayTitle returns the movie title or show name.
func (t Title) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// Date returns the release or first-air date.
func (t Title) Date() string {
	if t.ReleaseDate != "" {
		return t.ReleaseDate
	}
	return t.FirstAirDate
}

// Year returns the four-digit year of Date, or "".
func (t Title) Year() string {
	if d := t.Date(); len(d) >= 4 {
		return d[:4]
	}
	return ""
}

// View projects a title to the requested level.
func (t Title) View(l detail.Level) map[string]any {
	out := map[string]any{
		"id":           t.ID,
		"title":        t.DisplayTitle(),
		"media_type":   t.MediaType,
		"release_date": t.Date(),
		"vote_average": t.VoteAverage,
	}
	if t.MediaType == "person" {
		out["known_for"] = t.KnownForDepartment
	}
	if l == detail.Minimal {
		return out
	}

	out["overview"] = t.Overview
	out["vote_count"] = t.VoteCount
	if t.PosterPath != "" {
		out["poster_path"] = t.PosterPath
	}
	if l == detail.Compact {
		return out
	}

	out["popularity"] = t.Popularity
	out["original_language"] = t.OriginalLanguage
	if orig := firstNonEmpty(t.OriginalTitle, t.OriginalName); orig != "" {
		out["original_title"] = orig
	}
	if t.BackdropPath != "" {
		out["backdrop_path"] = t.BackdropPath
	}
	if len(t.Genres) > 0 {
		names := make([]string, len(t.Genres))
		for i, g := range t.Genres {
			names[i] = g.Name
		}
		out["genres"] = names
	} else if len(t.GenreIDs) > 0 {
		out["genre_ids"] = t.GenreIDs
	}
	if t.Runtime > 0 {
		out["runtime"] = t.Runtime
	}
	if len(t.EpisodeRunTime) > 0 {
		out["episode_run_time"] = t.EpisodeRunTime
	}
	if l == detail.Standard {
		return out
	}

	if t.Tagline != "" {
		out["tagline"] = t.Tagline
	}
	if t.Status != "" {
		out["status"] = t.Status
	}
	if t.Homepage != "" {
		out["homepage"] = t.Homepage
	}
	if t.IMDbID != "" {
		out["imdb_id"] = t.IMDbID
	}
	if t.NumberOfSeasons > 0 {
		out["seasons"] = t.NumberOfSeasons
		out["episodes"] = t.NumberOfEpisodes
	}
	if c := t.BelongsToCollection; c != nil {
		out["collection"] = map[string]any{"id": c.ID, "name": c.Name}
	}
	if t.Credits != nil {
		cast := make([]string, 0, 10)
		for _, c := range t.Credits.Cast {
			if len(cast) == 10 {
				break
			}
			if c.Character != "" {
				cast = append(cast, c.Name+" as "+c.Character)
			} else {
				cast = append(cast, c.Name)
			}
		}
		out["cast"] = cast
		var directors []string
		for _, c := range t.Credits.Crew {
			if strings.EqualFold(c.Job, "Director") {
				directors = append(directors, c.Name)
			}
		}
		if len(directors) > 0 {
			out["directors"] = directors
		}
	}
	return out
}

// Person is a search_person result.
type Person struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	KnownForDepartment string  `json:"known_for_department"`
	Popularity         float64 `json:"popularity"`
	ProfilePath        string  `json:"profile_path"`
	KnownFor           []Title `json:"known_for"`
}

// View projects a person. Known-for titles are always minimal.
func (p Person) View(l detail.Level) map[string]any {
	out := map[string]any{
		"id":         p.ID,
		"name":       p.Name,
		"department": p.KnownForDepartment,
	}
	if l == detail.Minimal {
		return out
	}
	known := make([]map[string]any, 0, len(p.KnownFor))
	for _, t := range p.KnownFor {
		known = append(known, t.View(detail.Minimal))
	}
	out["known_for"] = known
	if l.AtLeast(detail.Standard) {
		out["popularity"] = p.Popularity
		if p.ProfilePath != "" {
			out["profile_path"] = p.ProfilePath
		}
	}
	return out
}

// Provider is a streaming or retail service.
type Provider struct {
	ID   int    `json:"provider_id"`
	Name string `json:"provider_name"`
}

// RegionProviders lists availability in one country.
type RegionProviders struct {
	Link     string     `json:"link"`
	Flatrate []Provider `json:"flatrate"`
	Rent     []Provider `json:"rent"`
	Buy      []Provider `json:"buy"`
	Free     []Provider `json:"free"`
	Ads      []Provider `json:"ads"`
}

// WatchProviders is the watch/providers response keyed by country.
type WatchProviders struct {
	ID      int                        `json:"id"`
	Results map[string]RegionProviders `json:"results"`
}

// View returns availability for region, with provider names only.
func (w WatchProviders) View(region string) map[string]any {
	out := map[string]any{"id": w.ID, "region": region}
	rp, ok := w.Results[strings.ToUpper(region)]
	if !ok {
		out["available"] = false
		return out
	}
	out["available"] = true
	if rp.Link != "" {
		out["link"] = rp.Link
	}
	for key, ps := range map[string][]Provider{
		"stream": rp.Flatrate,
		"rent":   rp.Rent,
		"buy":    rp.Buy,
		"free":   append(append([]Provider{}, rp.Free...), rp.Ads...),
	} {
		if len(ps) == 0 {
			continue
		}
		names := make([]string, len(ps))
		for i, p := range ps {
			names[i] = p.Name
		}
		out[key] = names
	}
	return out
}

// Collection is a franchise grouping of movies.
type Collection struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Overview string  `json:"overview"`
	Parts    []Title `json:"parts"`
}

// View projects the collection with its parts in release order.
func (c Collection) View(l detail.Level) map[string]any {
	parts := slices.Clone(c.Parts)
	slices.SortStableFunc(parts, func(a, b Title) int {
		switch {
		case a.Date() == "" && b.Date() != "":
			return 1
		case b.Date() == "" && a.Date() != "":
			return -1
		}
		return strings.Compare(a.Date(), b.Date())
	})
	views := make([]map[string]any, 0, len(parts))
	for _, t := range parts {
		views = append(views, t.View(l))
	}
	return map[string]any{
		"id":       c.ID,
		"name":     c.Name,
		"overview": c.Overview,
		"count":    len(parts),
		"parts":    views,
	}
}

// PageView projects a page of titles, keeping at most limit results
// when limit is positive.
func PageView(p *Page[Title], l detail.Level, limit int) map[string]any {
	results := p.Results
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	views := make([]map[string]any, 0, len(results))
	for _, t := range results {
		views = append(views, t.View(l))
	}
	return map[string]any{
		"page":          p.Page,
		"total_pages":   p.TotalPages,
		"total_results": p.TotalResults,
		"results":       views,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
