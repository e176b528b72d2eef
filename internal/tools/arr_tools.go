package tools

import (
	"context"
	"net/http"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/detail"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/httpkit"
	"github.com/nugget/marquee-media-agent/internal/normalize"
)

// Handlers shared by Radarr and Sonarr, which expose the same v3
// endpoints for profiles, folders, queue and blocklist.

func qualityProfilesHandler(c *arr.Client) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		profiles, err := c.QualityProfiles(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(profiles))
		for _, p := range profiles {
			rows = append(rows, map[string]any{"id": p.ID, "name": p.Name, "upgrade_allowed": p.UpgradeAllowed})
		}
		return okResult("quality_profiles", rows), nil
	}
}

func rootFoldersHandler(c *arr.Client) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		folders, err := c.RootFolders(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(folders))
		for _, f := range folders {
			rows = append(rows, f.View())
		}
		return okResult("root_folders", rows), nil
	}
}

func blocklistHandler(c *arr.Client, n normalize.Arr) Handler {
	return func(ctx context.Context, raw map[string]any) (map[string]any, error) {
		a := normalize.Args(raw)
		p := n.Paging(a)
		p.SortKey = a.StringOr("sort_key", "date")
		l := n.Level(a)
		page, err := c.Blocklist(ctx, p)
		if err != nil {
			return nil, err
		}
		out := page.View("blocklist", func(b arr.BlocklistItem) map[string]any { return b.View(l) })
		out["success"] = true
		return out, nil
	}
}

func clearBlocklistHandler(c *arr.Client) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		n, err := c.ClearBlocklist(ctx)
		if err != nil {
			return nil, err
		}
		return okResult("removed", n), nil
	}
}

func indexersHandler(c *arr.Client) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		indexers, err := c.Indexers(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(indexers))
		for _, i := range indexers {
			rows = append(rows, i.View())
		}
		return okResult("count", len(rows), "indexers", rows), nil
	}
}

func downloadClientsHandler(c *arr.Client) Handler {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		clients, err := c.DownloadClients(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(clients))
		for _, d := range clients {
			rows = append(rows, d.View())
		}
		return okResult("count", len(rows), "download_clients", rows), nil
	}
}

// resolveProfile picks a quality profile by name for the fallback
// tools. When no name matches and defaultID is positive the configured
// default is used. Otherwise failure is a structured result listing
// the profiles that exist.
func resolveProfile(ctx context.Context, c *arr.Client, q normalize.QualityFallback, defaultID int) (choice arr.ProfileChoice, failure map[string]any, err error) {
	profiles, err := c.QualityProfiles(ctx)
	if err != nil {
		return arr.ProfileChoice{}, nil, err
	}
	choice, ok := arr.ResolveProfile(profiles, q.Preferred, q.Fallbacks)
	if ok {
		return choice, nil, nil
	}
	if defaultID > 0 {
		for _, p := range profiles {
			if p.ID == defaultID {
				choice.Profile = p
				choice.FellBack = true
				return choice, nil, nil
			}
		}
	}
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	return choice, map[string]any{
		"success":            false,
		"error":              "no quality profile matches the requested names",
		"tried":              choice.Tried,
		"available_profiles": names,
	}, nil
}

func queueView(q *arr.Paged[arr.QueueRecord], l detail.Level) map[string]any {
	return q.View("records", func(r arr.QueueRecord) map[string]any { return r.View(l) })
}

func queueTask(c *arr.Client, l detail.Level, limit int) gather.Task {
	return gather.Task{Name: "queue", Run: func(ctx context.Context) (any, error) {
		q, err := c.Queue(ctx, limit)
		if err != nil {
			return nil, err
		}
		return queueView(q, l), nil
	}}
}

func commandResult(cmd *arr.Command) map[string]any {
	return okResult("command", cmd.View())
}

// isNotFound reports an upstream 404, which handlers turn into an
// empty result instead of an error.
func isNotFound(err error) bool {
	return err != nil && httpkit.IsStatus(err, http.StatusNotFound)
}
