package tools

import (
	"context"

	"github.com/nugget/marquee-media-agent/internal/arr"
	"github.com/nugget/marquee-media-agent/internal/gather"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/plex"
	"github.com/nugget/marquee-media-agent/internal/radarr"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
)

const systemHealthOverview = "system_health_overview"

func systemDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def(systemHealthOverview,
			"Check that the configured media services are reachable and healthy: Plex identity plus Radarr and Sonarr status, health warnings and disk space. Sections that fail are reported individually.",
			nil, nil),
	}
}

type systemTools struct {
	plex   *plex.Client
	radarr *radarr.Client
	sonarr *sonarr.Client
}

func (t systemTools) healthOverview(ctx context.Context, _ map[string]any) (map[string]any, error) {
	var tasks []gather.Task
	if t.plex != nil {
		tasks = append(tasks, gather.Task{Name: "plex", Run: func(ctx context.Context) (any, error) {
			srv, err := t.plex.Identity(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"name":     srv.FriendlyName,
				"version":  srv.Version,
				"platform": srv.Platform,
			}, nil
		}})
	}
	if t.radarr != nil {
		tasks = append(tasks, arrHealthTask("radarr", t.radarr.Client))
	}
	if t.sonarr != nil {
		tasks = append(tasks, arrHealthTask("sonarr", t.sonarr.Client))
	}
	if len(tasks) == 0 {
		return map[string]any{"success": false, "error": "no media services are configured"}, nil
	}
	return gather.Report(gather.All(ctx, 0, tasks...)), nil
}

// arrHealthTask needs status to succeed; health checks and disk space
// are best effort.
func arrHealthTask(name string, c *arr.Client) gather.Task {
	return gather.Task{Name: name, Run: func(ctx context.Context) (any, error) {
		status, err := c.SystemStatus(ctx)
		if err != nil {
			return nil, err
		}
		checks, err := c.Health(ctx)
		if err != nil {
			checks = []arr.HealthCheck{{Source: "marquee", Type: "error", Message: "health check failed: " + err.Error()}}
		}
		disks, _ := c.DiskSpace(ctx)
		return arr.HealthView(status, checks, disks), nil
	}}
}
