package plex

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/detail"
)

// FlexInt decodes a JSON number or a numeric string. Plex is not
// consistent about which one it sends for counts and ids.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

type envelope struct {
	MediaContainer Container `json:"MediaContainer"`
}

// Container is the MediaContainer wrapper every Plex response uses.
type Container struct {
	Size              int       `json:"size"`
	TotalSize         int       `json:"totalSize"`
	FriendlyName      string    `json:"friendlyName"`
	Version           string    `json:"version"`
	Platform          string    `json:"platform"`
	MachineIdentifier string    `json:"machineIdentifier"`
	Metadata          []Item    `json:"Metadata"`
	Directory         []Section `json:"Directory"`
	Hub               []Hub     `json:"Hub"`
}

// Server identifies the Plex Media Server.
type Server struct {
	FriendlyName      string `json:"friendly_name"`
	Version           string `json:"version"`
	Platform          string `json:"platform"`
	MachineIdentifier string `json:"machine_identifier"`
}

// Section is a library section (Movies, TV Shows, ...).
type Section struct {
	Key       string  `json:"key"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Agent     string  `json:"agent"`
	Language  string  `json:"language"`
	ScannedAt FlexInt `json:"scannedAt"`
}

// View projects a section.
func (s Section) View(l detail.Level) map[string]any {
	out := map[string]any{
		"section_id": s.Key,
		"title":      s.Title,
		"type":       s.Type,
	}
	if l.AtLeast(detail.Standard) {
		out["agent"] = s.Agent
		out["language"] = s.Language
		if s.ScannedAt > 0 {
			out["scanned_at"] = unixDate(int64(s.ScannedAt))
		}
	}
	return out
}

// Hub groups search results by type.
type Hub struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	HubIdentifier string `json:"hubIdentifier"`
	Size          int    `json:"size"`
	Metadata      []Item `json:"Metadata"`
}

// Tag is a named facet (genre, actor, director, collection).
type Tag struct {
	Tag  string `json:"tag"`
	Role string `json:"role,omitempty"`
}

// Media describes one encoded version of an item.
type Media struct {
	VideoResolution string  `json:"videoResolution"`
	VideoCodec      string  `json:"videoCodec"`
	AudioCodec      string  `json:"audioCodec"`
	AudioChannels   int     `json:"audioChannels"`
	Container       string  `json:"container"`
	Bitrate         int     `json:"bitrate"`
	Height          int     `json:"height"`
	Width           int     `json:"width"`
	VideoProfile    string  `json:"videoProfile"`
	Duration        FlexInt `json:"duration"`
}

// Account is the user attached to a session.
type Account struct {
	ID    FlexInt `json:"id"`
	Title string  `json:"title"`
}

// Player is the device attached to a session.
type Player struct {
	Title    string `json:"title"`
	Product  string `json:"product"`
	Platform string `json:"platform"`
	State    string `json:"state"`
}

// Item is the full record for any library object: movie, show,
// season, episode, collection, playlist, or an active session.
type Item struct {
	RatingKey             string  `json:"ratingKey"`
	Key                   string  `json:"key"`
	GUID                  string  `json:"guid"`
	Type                  string  `json:"type"`
	Title                 string  `json:"title"`
	OriginalTitle         string  `json:"originalTitle"`
	Year                  int     `json:"year"`
	Summary               string  `json:"summary"`
	Tagline               string  `json:"tagline"`
	Studio                string  `json:"studio"`
	ContentRating         string  `json:"contentRating"`
	Rating                float64 `json:"rating"`
	AudienceRating        float64 `json:"audienceRating"`
	UserRating            float64 `json:"userRating"`
	Duration              FlexInt `json:"duration"`
	AddedAt               FlexInt `json:"addedAt"`
	OriginallyAvailableAt string  `json:"originallyAvailableAt"`
	ViewCount             FlexInt `json:"viewCount"`
	ViewOffset            FlexInt `json:"viewOffset"`
	LastViewedAt          FlexInt `json:"lastViewedAt"`
	ViewedAt              FlexInt `json:"viewedAt"`

	GrandparentTitle string  `json:"grandparentTitle"`
	ParentTitle      string  `json:"parentTitle"`
	ParentIndex      FlexInt `json:"parentIndex"`
	Index            FlexInt `json:"index"`
	LeafCount        FlexInt `json:"leafCount"`
	ViewedLeafCount  FlexInt `json:"viewedLeafCount"`
	ChildCount       FlexInt `json:"childCount"`

	LibrarySectionID    FlexInt `json:"librarySectionID"`
	LibrarySectionTitle string  `json:"librarySectionTitle"`

	PlaylistType string `json:"playlistType"`
	Smart        bool   `json:"smart"`
	Subtype      string `json:"subtype"`

	Genre      []Tag   `json:"Genre"`
	Director   []Tag   `json:"Director"`
	Role       []Tag   `json:"Role"`
	Collection []Tag   `json:"Collection"`
	Media      []Media `json:"Media"`

	User      *Account `json:"User"`
	Player    *Player  `json:"Player"`
	AccountID FlexInt  `json:"accountID"`
}

// DisplayTitle includes show and episode numbering for episodes.
func (it Item) DisplayTitle() string {
	if it.Type == "episode" && it.GrandparentTitle != "" {
		return it.GrandparentTitle + " S" + pad2(int(it.ParentIndex)) + "E" + pad2(int(it.Index)) + " - " + it.Title
	}
	return it.Title
}

// BestRating prefers the audience rating.
func (it Item) BestRating() float64 {
	if it.AudienceRating > 0 {
		return it.AudienceRating
	}
	return it.Rating
}

// Resolution returns the first media version's resolution.
func (it Item) Resolution() string {
	if len(it.Media) == 0 {
		return ""
	}
	return it.Media[0].VideoResolution
}

// IsHDR reports whether any media version carries an HDR profile.
func (it Item) IsHDR() bool {
	for _, m := range it.Media {
		p := strings.ToLower(m.VideoProfile)
		if strings.Contains(p, "hdr") || strings.Contains(p, "dolby") || strings.Contains(p, "dv") {
			return true
		}
	}
	return false
}

// View projects an item to the requested level.
func (it Item) View(l detail.Level) map[string]any {
	out := map[string]any{
		"rating_key": it.RatingKey,
		"title":      it.DisplayTitle(),
		"type":       it.Type,
	}
	if it.Year > 0 {
		out["year"] = it.Year
	}
	if l == detail.Minimal {
		return out
	}

	if r := it.BestRating(); r > 0 {
		out["rating"] = r
	}
	if it.Duration > 0 {
		out["duration_min"] = int(it.Duration) / 60000
	}
	if it.AddedAt > 0 {
		out["added_at"] = unixDate(int64(it.AddedAt))
	}
	out["view_count"] = int(it.ViewCount)
	if it.LeafCount > 0 {
		out["episodes"] = int(it.LeafCount)
		out["episodes_watched"] = int(it.ViewedLeafCount)
	}
	if it.ChildCount > 0 {
		out["child_count"] = int(it.ChildCount)
	}
	if g := tags(it.Genre, 3); len(g) > 0 {
		out["genres"] = g
	}
	if l == detail.Compact {
		return out
	}

	out["summary"] = truncate(it.Summary, 300)
	if it.ContentRating != "" {
		out["content_rating"] = it.ContentRating
	}
	if it.Studio != "" {
		out["studio"] = it.Studio
	}
	if d := tags(it.Director, 3); len(d) > 0 {
		out["directors"] = d
	}
	if c := tags(it.Role, 5); len(c) > 0 {
		out["cast"] = c
	}
	if res := it.Resolution(); res != "" {
		out["resolution"] = res
	}
	if it.LibrarySectionTitle != "" {
		out["library"] = it.LibrarySectionTitle
	}
	if it.ViewOffset > 0 && it.Duration > 0 {
		out["progress_pct"] = int(100 * int64(it.ViewOffset) / int64(it.Duration))
	}
	if l == detail.Standard {
		return out
	}

	out["summary"] = it.Summary
	out["genres"] = tags(it.Genre, 0)
	out["cast"] = tags(it.Role, 15)
	if it.Tagline != "" {
		out["tagline"] = it.Tagline
	}
	if it.GUID != "" {
		out["guid"] = it.GUID
	}
	if it.OriginallyAvailableAt != "" {
		out["released"] = it.OriginallyAvailableAt
	}
	if it.UserRating > 0 {
		out["user_rating"] = it.UserRating
	}
	if it.LastViewedAt > 0 {
		out["last_viewed_at"] = unixDate(int64(it.LastViewedAt))
	}
	if c := tags(it.Collection, 0); len(c) > 0 {
		out["collections"] = c
	}
	if len(it.Media) > 0 {
		m := it.Media[0]
		out["media"] = map[string]any{
			"resolution":     m.VideoResolution,
			"video_codec":    m.VideoCodec,
			"audio_codec":    m.AudioCodec,
			"audio_channels": m.AudioChannels,
			"container":      m.Container,
			"bitrate_kbps":   m.Bitrate,
			"hdr":            it.IsHDR(),
		}
	}
	return out
}

// SessionView projects an active playback session.
func (it Item) SessionView(l detail.Level) map[string]any {
	out := it.View(detail.Minimal)
	if it.User != nil {
		out["user"] = it.User.Title
	}
	if it.Player != nil {
		out["state"] = it.Player.State
		out["player"] = it.Player.Title
		if l.AtLeast(detail.Standard) {
			out["product"] = it.Player.Product
			out["platform"] = it.Player.Platform
		}
	}
	if it.ViewOffset > 0 && it.Duration > 0 {
		out["progress_pct"] = int(100 * int64(it.ViewOffset) / int64(it.Duration))
	}
	return out
}

// HistoryView projects a watch-history row.
func (it Item) HistoryView(l detail.Level) map[string]any {
	out := it.View(detail.Minimal)
	if it.ViewedAt > 0 {
		out["viewed_at"] = time.Unix(int64(it.ViewedAt), 0).UTC().Format(time.RFC3339)
	}
	if l.AtLeast(detail.Standard) && it.AccountID > 0 {
		out["account_id"] = int(it.AccountID)
	}
	return out
}

// Views projects a slice of items.
func Views(items []Item, l detail.Level) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.View(l))
	}
	return out
}

func tags(ts []Tag, max int) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, t.Tag)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func unixDate(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02")
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// compile-time check that FlexInt satisfies json.Unmarshaler.
var _ json.Unmarshaler = (*FlexInt)(nil)

// ExtraView projects a trailer or other bonus item.
func (it Item) ExtraView() map[string]any {
	out := map[string]any{
		"rating_key": it.RatingKey,
		"title":      it.Title,
		"extra_type": it.Subtype,
	}
	if it.Duration > 0 {
		out["duration_min"] = int(it.Duration) / 60000
	}
	return out
}
