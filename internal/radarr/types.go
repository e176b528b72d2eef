package radarr

import (
	"time"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/detail"
)

// Rating is one ratings source.
type Rating struct {
	Value float64 `json:"value"`
	Votes int     `json:"votes"`
}

// MovieFile is the file Radarr has imported for a movie.
type MovieFile struct {
	ID           int    `json:"id"`
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	Quality      struct {
		Quality struct {
			Name       string `json:"name"`
			Resolution int    `json:"resolution"`
		} `json:"quality"`
	} `json:"quality"`
}

// Movie is the full Radarr movie record.
type Movie struct {
	ID                  int       `json:"id"`
	Title               string    `json:"title"`
	OriginalTitle       string    `json:"originalTitle"`
	Year                int       `json:"year"`
	TMDbID              int       `json:"tmdbId"`
	IMDbID              string    `json:"imdbId"`
	TitleSlug           string    `json:"titleSlug"`
	Overview            string    `json:"overview"`
	Status              string    `json:"status"`
	Studio              string    `json:"studio"`
	Certification       string    `json:"certification"`
	Runtime             int       `json:"runtime"`
	Genres              []string  `json:"genres"`
	Monitored           bool      `json:"monitored"`
	HasFile             bool      `json:"hasFile"`
	IsAvailable         bool      `json:"isAvailable"`
	MinimumAvailability string    `json:"minimumAvailability"`
	QualityProfileID    int       `json:"qualityProfileId"`
	RootFolderPath      string    `json:"rootFolderPath"`
	Path                string    `json:"path"`
	SizeOnDisk          int64     `json:"sizeOnDisk"`
	InCinemas           time.Time `json:"inCinemas"`
	PhysicalRelease     time.Time `json:"physicalRelease"`
	DigitalRelease      time.Time `json:"digitalRelease"`
	Added               time.Time `json:"added"`
	Tags                []int     `json:"tags"`

	Images  []arr.Image `json:"images"`
	Ratings struct {
		IMDb Rating `json:"imdb"`
		TMDb Rating `json:"tmdb"`
	} `json:"ratings"`
	MovieFile *MovieFile `json:"movieFile,omitempty"`
}

// InLibrary reports whether the record came from the library rather
// than a lookup (lookups carry id 0).
func (m Movie) InLibrary() bool { return m.ID > 0 }

// View projects the movie to the requested level.
func (m Movie) View(l detail.Level) map[string]any {
	out := map[string]any{
		"title":   m.Title,
		"year":    m.Year,
		"tmdb_id": m.TMDbID,
	}
	if m.InLibrary() {
		out["id"] = m.ID
	}
	if l == detail.Minimal {
		return out
	}

	out["monitored"] = m.Monitored
	out["has_file"] = m.HasFile
	out["status"] = m.Status
	if r := m.Ratings.IMDb.Value; r > 0 {
		out["imdb_rating"] = r
	} else if r := m.Ratings.TMDb.Value; r > 0 {
		out["tmdb_rating"] = r
	}
	if l == detail.Compact {
		return out
	}

	out["overview"] = m.Overview
	if m.Runtime > 0 {
		out["runtime"] = m.Runtime
	}
	if len(m.Genres) > 0 {
		out["genres"] = m.Genres
	}
	if m.IMDbID != "" {
		out["imdb_id"] = m.IMDbID
	}
	out["quality_profile_id"] = m.QualityProfileID
	out["minimum_availability"] = m.MinimumAvailability
	if m.MovieFile != nil {
		out["quality"] = m.MovieFile.Quality.Quality.Name
	}
	if m.SizeOnDisk > 0 {
		out["size_gb"] = arr.GiB(m.SizeOnDisk)
	}
	if l == detail.Standard {
		return out
	}

	out["title_slug"] = m.TitleSlug
	out["path"] = m.Path
	out["studio"] = m.Studio
	out["certification"] = m.Certification
	out["is_available"] = m.IsAvailable
	out["tags"] = m.Tags
	for key, t := range map[string]time.Time{
		"in_cinemas":       m.InCinemas,
		"physical_release": m.PhysicalRelease,
		"digital_release":  m.DigitalRelease,
		"added":            m.Added,
	} {
		if !t.IsZero() {
			out[key] = t.UTC().Format(time.DateOnly)
		}
	}
	return out
}

// Views projects a slice of movies.
func Views(movies []Movie, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(movies))
	for _, m := range movies {
		out = append(out, m.View(l))
	}
	return out
}

// AddRequest describes a movie to add by TMDb id.
type AddRequest struct {
	TMDbID              int
	QualityProfileID    int
	RootFolderPath      string
	Monitored           bool
	SearchNow           bool
	MinimumAvailability string
}

// AddResult is the outcome of AddMovie. AlreadyExists is set when the
// movie was in the library before the call.
type AddResult struct {
	Movie         *Movie
	AlreadyExists bool
}
