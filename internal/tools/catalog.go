package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/plex"
	"github.com/nugget/marquee-media-agent/internal/preferences"
	"github.com/nugget/marquee-media-agent/internal/radarr"
	"github.com/nugget/marquee-media-agent/internal/resultcache"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
)

// Catalog returns the full, fixed tool catalog in a stable order. It
// does not depend on which backends are configured.
func Catalog() []llm.ToolDefinition {
	var out []llm.ToolDefinition
	out = append(out, cacheDefinitions()...)
	out = append(out, plexDefinitions()...)
	out = append(out, tmdbDefinitions()...)
	out = append(out, radarrDefinitions()...)
	out = append(out, sonarrDefinitions()...)
	out = append(out, systemDefinitions()...)
	out = append(out, preferenceDefinitions()...)
	out = append(out, smartDefinitions()...)
	return out
}

// Deps are the collaborators handlers are bound to. A nil client means
// the service is not configured; its tools stay in the catalog and
// answer with a structured "not configured" error.
type Deps struct {
	Cache       *resultcache.Cache
	Plex        *plex.Client
	TMDb        *tmdb.Client
	Radarr      *radarr.Client
	Sonarr      *sonarr.Client
	Preferences *preferences.Store

	// LLM answers query_household_preferences with QueryModel. Nil
	// leaves that one tool unconfigured.
	LLM        llm.Client
	QueryModel string

	// RadarrArgs and SonarrArgs carry the configured add defaults.
	RadarrArgs normalize.Arr
	SonarrArgs normalize.Arr

	// Now is the clock for calendar windows. Nil means time.Now.
	Now func() time.Time
}

// Bind registers a handler for every catalog entry.
func Bind(r *Registry, d Deps) {
	if d.Now != nil {
		d.RadarrArgs.Now = d.Now
		d.SonarrArgs.Now = d.Now
	}

	bindFamily(r, "the result cache", cacheDefinitions(), d.Cache != nil, func() map[string]Handler {
		return cacheTools{cache: d.Cache}.handlers()
	})
	bindFamily(r, "Plex", plexDefinitions(), d.Plex != nil, func() map[string]Handler {
		return plexTools{client: d.Plex}.handlers()
	})
	bindFamily(r, "TMDb", tmdbDefinitions(), d.TMDb != nil, func() map[string]Handler {
		return tmdbTools{client: d.TMDb}.handlers()
	})
	bindFamily(r, "Radarr", radarrDefinitions(), d.Radarr != nil, func() map[string]Handler {
		return radarrTools{client: d.Radarr, args: d.RadarrArgs}.handlers()
	})
	bindFamily(r, "Sonarr", sonarrDefinitions(), d.Sonarr != nil, func() map[string]Handler {
		return sonarrTools{client: d.Sonarr, args: d.SonarrArgs}.handlers()
	})
	bindFamily(r, "household preferences", preferenceDefinitions(), d.Preferences != nil, func() map[string]Handler {
		return preferenceTools{store: d.Preferences, llm: d.LLM, model: d.QueryModel}.handlers()
	})

	// The cross-service tools degrade when Plex or preferences are
	// missing but need at least one catalog source.
	smart := smartTools{tmdb: d.TMDb, plex: d.Plex, prefs: d.Preferences}
	if d.TMDb != nil {
		r.Register(smartRecommendations, smart.recommend)
	} else {
		r.Register(smartRecommendations, notConfigured("TMDb"))
	}
	r.Register(intelligentSearch, smart.search)

	// system_health_overview works with whatever subset is configured.
	r.Register(systemHealthOverview, systemTools{plex: d.Plex, radarr: d.Radarr, sonarr: d.Sonarr}.healthOverview)
}

func bindFamily(r *Registry, service string, defs []llm.ToolDefinition, configured bool, build func() map[string]Handler) {
	if !configured {
		for _, d := range defs {
			r.Register(d.Name, notConfigured(service))
		}
		return
	}
	for name, h := range build() {
		r.Register(name, h)
	}
}

func notConfigured(service string) Handler {
	return func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("%s is not configured", service),
		}, nil
	}
}

// okResult wraps a successful payload.
func okResult(kv ...any) map[string]any {
	out := map[string]any{"success": true}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
