// Package arr holds the plumbing shared by the Radarr and Sonarr v3
// APIs: authentication, system and health endpoints, the download
// queue, paged wanted lists, the calendar, commands and the blocklist.
//
// Service-specific clients embed [Client] and add their own resources.
package arr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/marquee-media-agent/internal/httpkit"
)

const apiPrefix = "/api/v3"

// Client is an authenticated *arr v3 client.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the named service ("radarr" or
// "sonarr"). The name prefixes every error.
func NewClient(name, baseURL, apiKey string, logger *slog.Logger, opts ...httpkit.ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	base := []httpkit.ClientOption{
		httpkit.WithTimeout(30 * time.Second),
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(append(base, opts...)...),
		logger:     logger.With("service", name),
	}
}

// Name returns the service name.
func (c *Client) Name() string { return c.name }

// Do sends a request to path (relative to /api/v3) and decodes the
// response into out. body and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := httpkit.NewJSONRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	start := time.Now()
	err = httpkit.DoJSON(c.httpClient, req, out)
	c.logger.Debug("arr request", "method", method, "path", path, "elapsed", time.Since(start), "error", err)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	return nil
}

// Get is Do with GET.
func (c *Client) Get(ctx context.Context, path string, q url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, q, nil, out)
}

// Post is Do with POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put is Do with PUT.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete is Do with DELETE.
func (c *Client) Delete(ctx context.Context, path string, q url.Values) error {
	return c.Do(ctx, http.MethodDelete, path, q, nil, nil)
}

// Patch fetches the resource at path as raw JSON, overlays patch onto
// its top-level fields and PUTs the result back. Fields the caller did
// not name survive untouched. The updated resource is decoded into out.
func (c *Client) Patch(ctx context.Context, path string, patch map[string]any, out any) error {
	var current map[string]any
	if err := c.Get(ctx, path, nil, &current); err != nil {
		return err
	}
	if current == nil {
		current = map[string]any{}
	}
	for k, v := range patch {
		current[k] = v
	}
	return c.Put(ctx, path, current, out)
}

// SystemStatus returns the service version and platform.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.Get(ctx, "/system/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the service's current health warnings.
func (c *Client) Health(ctx context.Context) ([]HealthCheck, error) {
	var out []HealthCheck
	if err := c.Get(ctx, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DiskSpace returns free space per mounted path.
func (c *Client) DiskSpace(ctx context.Context) ([]DiskSpace, error) {
	var out []DiskSpace
	if err := c.Get(ctx, "/diskspace", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// QualityProfiles lists quality profiles.
func (c *Client) QualityProfiles(ctx context.Context) ([]QualityProfile, error) {
	var out []QualityProfile
	if err := c.Get(ctx, "/qualityprofile", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RootFolders lists library root folders.
func (c *Client) RootFolders(ctx context.Context) ([]RootFolder, error) {
	var out []RootFolder
	if err := c.Get(ctx, "/rootfolder", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Indexers lists configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	var out []Indexer
	if err := c.Get(ctx, "/indexer", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadClients lists configured download clients.
func (c *Client) DownloadClients(ctx context.Context) ([]DownloadClient, error) {
	var out []DownloadClient
	if err := c.Get(ctx, "/downloadclient", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Queue returns the first pageSize download-queue records.
func (c *Client) Queue(ctx context.Context, pageSize int) (*Paged[QueueRecord], error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("includeUnknownMovieItems", "false")
	var out Paged[QueueRecord]
	if err := c.Get(ctx, "/queue", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Command starts a named background command with extra body fields.
func (c *Client) Command(ctx context.Context, name string, fields map[string]any) (*Command, error) {
	body := map[string]any{"name": name}
	for k, v := range fields {
		body[k] = v
	}
	var out Command
	if err := c.Post(ctx, "/command", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blocklist returns one page of blocked releases.
func (c *Client) Blocklist(ctx context.Context, p Paging) (*Paged[BlocklistItem], error) {
	var out Paged[BlocklistItem]
	if err := c.Get(ctx, "/blocklist", p.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearBlocklist removes every blocklist entry and returns how many
// were removed.
func (c *Client) ClearBlocklist(ctx context.Context) (int, error) {
	var ids []int
	for page := 1; ; page++ {
		res, err := c.Blocklist(ctx, Paging{Page: page, PageSize: 100})
		if err != nil {
			return 0, err
		}
		for _, it := range res.Records {
			ids = append(ids, it.ID)
		}
		if len(res.Records) == 0 || len(ids) >= res.TotalRecords {
			break
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.Do(ctx, http.MethodDelete, "/blocklist/bulk", nil, map[string]any{"ids": ids}, nil); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Wanted returns one page of the missing list decoded as T.
func Wanted[T any](ctx context.Context, c *Client, p Paging) (*Paged[T], error) {
	var out Paged[T]
	if err := c.Get(ctx, "/wanted/missing", p.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Calendar returns entries between start and end (inclusive dates)
// decoded as T. extra adds service-specific query flags.
func Calendar[T any](ctx context.Context, c *Client, start, end time.Time, extra url.Values) ([]T, error) {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("start", start.Format(time.DateOnly))
	q.Set("end", end.Format(time.DateOnly))
	var out []T
	if err := c.Get(ctx, "/calendar", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
