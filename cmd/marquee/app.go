package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nugget/marquee-media-agent/internal/agent"
	"github.com/nugget/marquee-media-agent/internal/config"
	"github.com/nugget/marquee-media-agent/internal/connwatch"
	"github.com/nugget/marquee-media-agent/internal/conversation"
	"github.com/nugget/marquee-media-agent/internal/httpkit"
	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/normalize"
	"github.com/nugget/marquee-media-agent/internal/plex"
	"github.com/nugget/marquee-media-agent/internal/preferences"
	"github.com/nugget/marquee-media-agent/internal/radarr"
	"github.com/nugget/marquee-media-agent/internal/resultcache"
	"github.com/nugget/marquee-media-agent/internal/sonarr"
	"github.com/nugget/marquee-media-agent/internal/talents"
	"github.com/nugget/marquee-media-agent/internal/tmdb"
	"github.com/nugget/marquee-media-agent/internal/tokens"
	"github.com/nugget/marquee-media-agent/internal/tools"
	"github.com/nugget/marquee-media-agent/internal/usage"
)

// app holds the wired components shared by serve and ask.
type app struct {
	loop     *agent.Loop
	registry *tools.Registry
	history  *conversation.Store
	usage    *usage.Store
	services []talents.Service
	pings    map[string]connwatch.PingFunc

	prefsDB *sql.DB
	redis   *redis.Client
	logger  *slog.Logger

	// stopJanitor and janitorDone are set when the memory cache driver
	// runs its expiry sweep.
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// newApp builds every component from cfg. Backends without settings are
// left unbound and their tools report "not configured". A catalog and
// handler mismatch is a startup error.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	logger := a.logger
	var err error

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	a.usage, err = usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}

	a.prefsDB, err = preferences.Open(filepath.Join(cfg.DataDir, "preferences.db"))
	if err != nil {
		return fmt.Errorf("open preferences database: %w", err)
	}
	prefs, err := preferences.NewStore(a.prefsDB, logger)
	if err != nil {
		return err
	}

	cache, err := a.newResultCache(ctx, cfg.ResultCache)
	if err != nil {
		return err
	}

	deps := tools.Deps{
		Cache:       cache,
		Preferences: prefs,
		RadarrArgs:  normalize.NewRadarr(cfg.Radarr.QualityProfileID, cfg.Radarr.RootFolderPath),
		SonarrArgs:  normalize.NewSonarr(cfg.Sonarr.QualityProfileID, cfg.Sonarr.LanguageProfileID, cfg.Sonarr.RootFolderPath),
	}
	if cfg.Plex.Configured() {
		var opts []httpkit.ClientOption
		if cfg.Plex.TLSInsecureSkipVerify {
			opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
		}
		deps.Plex = plex.NewClient(cfg.Plex.URL, cfg.Plex.Token, logger, opts...)
	}
	if cfg.TMDb.Configured() {
		deps.TMDb = tmdb.NewClient(cfg.TMDb.APIKey, cfg.TMDb.BaseURL, cfg.TMDb.Language, cfg.TMDb.Region, logger)
	}
	if cfg.Radarr.Configured() {
		deps.Radarr = radarr.NewClient(cfg.Radarr.URL, cfg.Radarr.APIKey, logger)
	}
	if cfg.Sonarr.Configured() {
		deps.Sonarr = sonarr.NewClient(cfg.Sonarr.URL, cfg.Sonarr.APIKey, logger)
	}

	a.pings = backendPings(deps)
	a.services = []talents.Service{
		{Tag: "plex", Name: "Plex", Configured: deps.Plex != nil},
		{Tag: "tmdb", Name: "TMDb", Configured: deps.TMDb != nil},
		{Tag: "radarr", Name: "Radarr", Configured: deps.Radarr != nil},
		{Tag: "sonarr", Name: "Sonarr", Configured: deps.Sonarr != nil},
		{Tag: "preferences", Name: "Household preferences", Configured: true},
	}

	llmHTTP := httpkit.NewClient(
		httpkit.WithTimeout(cfg.LLM.Timeout),
		httpkit.WithTransport(llmTransport(cfg.LLM.Timeout)),
		httpkit.WithLogger(logger),
	)
	client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, llmHTTP, logger)
	deps.LLM = client
	deps.QueryModel = cfg.LLM.QueryModel

	a.registry = tools.NewRegistry(
		tools.WithResultCache(cache, cfg.ResultCache.TTL, cfg.ResultCache.InlineLimit),
		tools.WithCallTimeout(cfg.LLM.ToolTimeout),
		tools.WithRecorder(a.usage),
		tools.WithLogger(logger),
	)
	tools.Bind(a.registry, deps)
	if err := a.registry.Validate(); err != nil {
		return err
	}

	historyOpts := []conversation.Option{conversation.WithMaxMessages(cfg.Conversation.MaxMessages)}
	if cfg.Conversation.Encoding != "none" {
		counter := tokens.NewOrHeuristic(cfg.Conversation.Encoding, logger)
		historyOpts = append(historyOpts, conversation.WithTokenBudget(counter, cfg.Conversation.MaxTokens))
	}
	a.history = conversation.NewStore(historyOpts...)

	talentText, err := a.loadTalents(cfg.TalentsDir)
	if err != nil {
		return err
	}

	a.loop = agent.NewLoop(client, cfg.LLM.Model, a.registry, a.history,
		agent.WithLogger(logger),
		agent.WithProvider(cfg.LLM.Provider),
		agent.WithMaxIterations(cfg.LLM.MaxIterations),
		agent.WithUsage(a.usage),
		agent.WithTalents(talentText),
		agent.WithPreferences(prefs),
		agent.WithContextProvider(agent.NewCompositeContextProvider(logger, agent.NewChannelProvider())),
	)

	configured := 0
	for _, s := range a.services {
		if s.Configured {
			configured++
		}
	}
	logger.Info("agent ready",
		"model", cfg.LLM.Model,
		"tools", len(a.registry.Definitions()),
		"services_configured", configured,
		"result_cache", cfg.ResultCache.Driver,
	)
	return nil
}

func (a *app) newResultCache(ctx context.Context, cfg config.ResultCacheConfig) (*resultcache.Cache, error) {
	switch cfg.Driver {
	case "redis":
		client, err := resultcache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("result cache: %w", err)
		}
		a.redis = client
		return resultcache.New(resultcache.NewRedisBackend(client, ""), a.logger), nil
	default:
		backend := resultcache.NewMemoryBackend()
		a.startJanitor(ctx, backend, cfg.TTL)
		return resultcache.New(backend, a.logger), nil
	}
}

// startJanitor sweeps expired memory-cache entries once per ttl until
// Close or ctx cancellation.
func (a *app) startJanitor(ctx context.Context, backend *resultcache.MemoryBackend, ttl time.Duration) {
	jctx, cancel := context.WithCancel(ctx)
	a.stopJanitor = cancel
	a.janitorDone = make(chan struct{})
	go func() {
		defer close(a.janitorDone)
		backend.RunJanitor(jctx, ttl, a.logger)
	}()
}

// loadTalents assembles the talent text for the configured services,
// with the generated service manifest first.
func (a *app) loadTalents(dir string) (string, error) {
	loaded, err := talents.NewLoader(dir).LoadAll()
	if err != nil {
		return "", fmt.Errorf("load talents: %w", err)
	}

	active := make(map[string]bool, len(a.services))
	for _, s := range a.services {
		if s.Configured {
			active[s.Tag] = true
		}
	}

	all := loaded
	if manifest := talents.GenerateManifest(a.services); manifest != nil {
		all = append([]talents.Talent{*manifest}, loaded...)
	}
	a.logger.Debug("talents loaded", "count", len(loaded), "dir", dir)
	return talents.FilterByTags(all, active), nil
}

// llmTransport waits for response headers as long as the whole call may
// take: a non-streamed completion sends nothing until it is done.
func llmTransport(timeout time.Duration) *http.Transport {
	t := httpkit.NewTransport()
	if timeout > t.ResponseHeaderTimeout {
		t.ResponseHeaderTimeout = timeout
	}
	return t
}

// backendPings returns a cheap reachability check for each configured
// backend.
func backendPings(deps tools.Deps) map[string]connwatch.PingFunc {
	pings := make(map[string]connwatch.PingFunc)
	if deps.Plex != nil {
		pings["plex"] = func(ctx context.Context) error {
			_, err := deps.Plex.Identity(ctx)
			return err
		}
	}
	if deps.TMDb != nil {
		pings["tmdb"] = func(ctx context.Context) error {
			_, err := deps.TMDb.Genres(ctx, "movie")
			return err
		}
	}
	if deps.Radarr != nil {
		pings["radarr"] = func(ctx context.Context) error {
			_, err := deps.Radarr.SystemStatus(ctx)
			return err
		}
	}
	if deps.Sonarr != nil {
		pings["sonarr"] = func(ctx context.Context) error {
			_, err := deps.Sonarr.SystemStatus(ctx)
			return err
		}
	}
	return pings
}

// watchBackends starts a reachability watcher per configured backend.
func (a *app) watchBackends(ctx context.Context) *connwatch.Manager {
	m := connwatch.NewManager(a.logger, connwatch.DefaultBackoff())
	for name, ping := range a.pings {
		m.Watch(ctx, name, ping)
	}
	return m
}

// Close releases databases and connections. It is safe on a partially
// built app.
func (a *app) Close() {
	if a.stopJanitor != nil {
		a.stopJanitor()
		<-a.janitorDone
	}
	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			a.logger.Warn("close usage store", "error", err)
		}
	}
	if a.prefsDB != nil {
		if err := a.prefsDB.Close(); err != nil {
			a.logger.Warn("close preferences database", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
}
