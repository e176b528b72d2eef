package arr

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/detail"
)

// Paging selects one page of a paged endpoint.
type Paging struct {
	Page          int
	PageSize      int
	SortKey       string
	SortDirection string // ascending or descending
}

// Values encodes p, omitting zero fields.
func (p Paging) Values() url.Values {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if p.SortKey != "" {
		q.Set("sortKey", p.SortKey)
	}
	if p.SortDirection != "" {
		q.Set("sortDirection", p.SortDirection)
	}
	return q
}

// Paged is the *arr paging envelope.
type Paged[T any] struct {
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	SortKey       string `json:"sortKey"`
	SortDirection string `json:"sortDirection"`
	TotalRecords  int    `json:"totalRecords"`
	Records       []T    `json:"records"`
}

// View projects the envelope using view for each record.
func (p *Paged[T]) View(key string, view func(T) map[string]any) map[string]any {
	rows := make([]map[string]any, 0, len(p.Records))
	for _, r := range p.Records {
		rows = append(rows, view(r))
	}
	return map[string]any{
		"page":          p.Page,
		"page_size":     p.PageSize,
		"total_records": p.TotalRecords,
		key:             rows,
	}
}

// SystemStatus is /system/status.
type SystemStatus struct {
	AppName   string    `json:"appName"`
	Version   string    `json:"version"`
	Branch    string    `json:"branch"`
	OsName    string    `json:"osName"`
	IsDocker  bool      `json:"isDocker"`
	StartTime time.Time `json:"startTime"`
}

// View projects the status.
func (s SystemStatus) View() map[string]any {
	out := map[string]any{
		"app":     s.AppName,
		"version": s.Version,
	}
	if s.OsName != "" {
		out["os"] = s.OsName
	}
	if !s.StartTime.IsZero() {
		out["up_since"] = s.StartTime.UTC().Format(time.RFC3339)
	}
	return out
}

// HealthCheck is one /health warning.
type HealthCheck struct {
	Source  string `json:"source"`
	Type    string `json:"type"` // ok, notice, warning, error
	Message string `json:"message"`
	WikiURL string `json:"wikiUrl"`
}

// DiskSpace is one /diskspace row.
type DiskSpace struct {
	Path       string `json:"path"`
	Label      string `json:"label"`
	FreeSpace  int64  `json:"freeSpace"`
	TotalSpace int64  `json:"totalSpace"`
}

// View reports sizes in GiB.
func (d DiskSpace) View() map[string]any {
	out := map[string]any{
		"path":    d.Path,
		"free_gb": GiB(d.FreeSpace),
	}
	if d.TotalSpace > 0 {
		out["total_gb"] = GiB(d.TotalSpace)
		out["free_pct"] = int(100 * d.FreeSpace / d.TotalSpace)
	}
	return out
}

// QualityProfile is a quality profile.
type QualityProfile struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	UpgradeAllowed bool   `json:"upgradeAllowed"`
	Cutoff         int    `json:"cutoff"`
}

// ProfileChoice is the outcome of ResolveProfile.
type ProfileChoice struct {
	Profile   QualityProfile
	Requested string
	FellBack  bool
	Tried     []string
}

// ResolveProfile picks the first profile whose name matches preferred,
// then each fallback in order. Names compare case-insensitively. ok is
// false when nothing matches.
func ResolveProfile(profiles []QualityProfile, preferred string, fallbacks []string) (ProfileChoice, bool) {
	choice := ProfileChoice{Requested: preferred}
	names := append([]string{preferred}, fallbacks...)
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		choice.Tried = append(choice.Tried, name)
		for _, p := range profiles {
			if strings.EqualFold(p.Name, name) {
				choice.Profile = p
				choice.FellBack = i > 0
				return choice, true
			}
		}
	}
	return choice, false
}

// View projects the choice.
func (c ProfileChoice) View() map[string]any {
	return map[string]any{
		"quality_profile_id":   c.Profile.ID,
		"quality_profile_name": c.Profile.Name,
		"requested_quality":    c.Requested,
		"fell_back":            c.FellBack,
		"tried":                c.Tried,
	}
}

// RootFolder is a library root.
type RootFolder struct {
	ID         int    `json:"id"`
	Path       string `json:"path"`
	Accessible bool   `json:"accessible"`
	FreeSpace  int64  `json:"freeSpace"`
}

// View projects the folder.
func (r RootFolder) View() map[string]any {
	return map[string]any{
		"id":         r.ID,
		"path":       r.Path,
		"accessible": r.Accessible,
		"free_gb":    GiB(r.FreeSpace),
	}
}

// Indexer is a configured indexer.
type Indexer struct {
	ID                      int    `json:"id"`
	Name                    string `json:"name"`
	Implementation          string `json:"implementation"`
	Protocol                string `json:"protocol"`
	Priority                int    `json:"priority"`
	EnableRss               bool   `json:"enableRss"`
	EnableAutomaticSearch   bool   `json:"enableAutomaticSearch"`
	EnableInteractiveSearch bool   `json:"enableInteractiveSearch"`
}

// View projects the indexer.
func (i Indexer) View() map[string]any {
	return map[string]any{
		"id":                 i.ID,
		"name":               i.Name,
		"implementation":     i.Implementation,
		"protocol":           i.Protocol,
		"priority":           i.Priority,
		"rss":                i.EnableRss,
		"automatic_search":   i.EnableAutomaticSearch,
		"interactive_search": i.EnableInteractiveSearch,
	}
}

// DownloadClient is a configured download client.
type DownloadClient struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Implementation string `json:"implementation"`
	Protocol       string `json:"protocol"`
	Priority       int    `json:"priority"`
	Enable         bool   `json:"enable"`
}

// View projects the download client.
func (d DownloadClient) View() map[string]any {
	return map[string]any{
		"id":             d.ID,
		"name":           d.Name,
		"implementation": d.Implementation,
		"protocol":       d.Protocol,
		"priority":       d.Priority,
		"enabled":        d.Enable,
	}
}

// Command is a queued background command.
type Command struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"`
	Queued  time.Time `json:"queued"`
	Message string    `json:"message"`
}

// View projects the command.
func (c Command) View() map[string]any {
	return map[string]any{
		"command_id": c.ID,
		"name":       c.Name,
		"status":     c.Status,
	}
}

// QueueRecord is one download in progress. MovieID is set by Radarr;
// SeriesID and EpisodeID by Sonarr.
type QueueRecord struct {
	ID                      int       `json:"id"`
	Title                   string    `json:"title"`
	Status                  string    `json:"status"`
	TrackedDownloadStatus   string    `json:"trackedDownloadStatus"`
	TrackedDownloadState    string    `json:"trackedDownloadState"`
	Size                    float64   `json:"size"`
	Sizeleft                float64   `json:"sizeleft"`
	Timeleft                string    `json:"timeleft"`
	EstimatedCompletionTime time.Time `json:"estimatedCompletionTime"`
	DownloadClient          string    `json:"downloadClient"`
	Protocol                string    `json:"protocol"`
	ErrorMessage            string    `json:"errorMessage"`
	MovieID                 int       `json:"movieId"`
	SeriesID                int       `json:"seriesId"`
	EpisodeID               int       `json:"episodeId"`
}

// Progress returns the downloaded percentage.
func (q QueueRecord) Progress() int {
	if q.Size <= 0 {
		return 0
	}
	return int(100 * (q.Size - q.Sizeleft) / q.Size)
}

// View projects the record to the requested level.
func (q QueueRecord) View(l detail.Level) map[string]any {
	out := map[string]any{
		"id":           q.ID,
		"title":        q.Title,
		"status":       q.Status,
		"progress_pct": q.Progress(),
	}
	if l == detail.Minimal {
		return out
	}
	if q.Timeleft != "" {
		out["time_left"] = q.Timeleft
	}
	if q.TrackedDownloadStatus != "" && q.TrackedDownloadStatus != "ok" {
		out["tracked_status"] = q.TrackedDownloadStatus
	}
	if q.ErrorMessage != "" {
		out["error"] = q.ErrorMessage
	}
	if l == detail.Compact {
		return out
	}
	out["size_gb"] = GiB(int64(q.Size))
	out["download_client"] = q.DownloadClient
	out["protocol"] = q.Protocol
	out["state"] = q.TrackedDownloadState
	if !q.EstimatedCompletionTime.IsZero() {
		out["eta"] = q.EstimatedCompletionTime.UTC().Format(time.RFC3339)
	}
	return out
}

// BlocklistItem is one blocked release.
type BlocklistItem struct {
	ID          int       `json:"id"`
	SourceTitle string    `json:"sourceTitle"`
	Date        time.Time `json:"date"`
	Protocol    string    `json:"protocol"`
	Indexer     string    `json:"indexer"`
	Message     string    `json:"message"`
	MovieID     int       `json:"movieId"`
	SeriesID    int       `json:"seriesId"`
}

// View projects the item.
func (b BlocklistItem) View(l detail.Level) map[string]any {
	out := map[string]any{
		"id":           b.ID,
		"source_title": b.SourceTitle,
	}
	if !b.Date.IsZero() {
		out["date"] = b.Date.UTC().Format(time.DateOnly)
	}
	if l.AtLeast(detail.Standard) {
		out["indexer"] = b.Indexer
		out["protocol"] = b.Protocol
		out["message"] = b.Message
	}
	return out
}

// Image is a poster or fanart reference.
type Image struct {
	CoverType string `json:"coverType"`
	RemoteURL string `json:"remoteUrl"`
}

// HealthView summarizes status, health and disk for an overview.
func HealthView(status *SystemStatus, checks []HealthCheck, disks []DiskSpace) map[string]any {
	out := map[string]any{}
	if status != nil {
		out["status"] = status.View()
	}
	issues := make([]map[string]any, 0, len(checks))
	for _, h := range checks {
		issues = append(issues, map[string]any{
			"source":  h.Source,
			"type":    h.Type,
			"message": h.Message,
		})
	}
	out["issues"] = issues
	out["healthy"] = len(checks) == 0
	if disks != nil {
		rows := make([]map[string]any, 0, len(disks))
		for _, d := range disks {
			rows = append(rows, d.View())
		}
		out["disk_space"] = rows
	}
	return out
}

// GiB converts bytes to GiB with one decimal.
func GiB(b int64) float64 {
	return float64(b*10/(1<<30)) / 10
}
