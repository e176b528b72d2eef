// Package connwatch tracks whether the configured media backends (Plex,
// TMDb, Radarr, Sonarr) are reachable.
//
// httpkit retries a single request through sub-second dial failures.
// connwatch covers the longer outages: a NAS rebooting, Radarr being
// upgraded, the Plex server sleeping. Each watcher pings one backend
// with exponential backoff at startup and then polls on a fixed
// interval, logging transitions between up and down.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// PingFunc checks whether a backend is reachable. Return nil if healthy.
type PingFunc func(ctx context.Context) error

// Backoff controls ping timing.
type Backoff struct {
	// InitialDelay is the delay before the first startup retry.
	InitialDelay time.Duration

	// MaxDelay caps backoff growth.
	MaxDelay time.Duration

	// MaxRetries bounds startup attempts before falling back to polling.
	MaxRetries int

	// PollInterval is the steady-state check interval.
	PollInterval time.Duration

	// PingTimeout limits each ping call.
	PingTimeout time.Duration
}

// DefaultBackoff retries at 2s, 4s, 8s ... up to 60s for five attempts,
// then polls once a minute.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxRetries:   5,
		PollInterval: 60 * time.Second,
		PingTimeout:  10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.PingTimeout <= 0 {
		b.PingTimeout = d.PingTimeout
	}
	return b
}

// Status is the health of one backend as reported by GET /v1/health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checked   bool      `json:"checked"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type watcher struct {
	name    string
	ping    PingFunc
	backoff Backoff
	logger  *slog.Logger

	mu     sync.Mutex
	status Status
}

func (w *watcher) snapshot() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// check runs one ping and records the outcome. changed reports a
// readiness transition, including the first ping.
func (w *watcher) check(ctx context.Context) (changed bool, err error) {
	pctx, cancel := context.WithTimeout(ctx, w.backoff.PingTimeout)
	err = w.ping(pctx)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.status.Ready
	first := !w.status.Checked
	w.status.Checked = true
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	return first || was != w.status.Ready, err
}

func (w *watcher) run(ctx context.Context) {
	delay := w.backoff.InitialDelay
	for attempt := 1; attempt <= w.backoff.MaxRetries; attempt++ {
		_, err := w.check(ctx)
		if err == nil {
			w.logger.Info("backend reachable", "backend", w.name, "attempts", attempt)
			break
		}
		if ctx.Err() != nil {
			return
		}
		if attempt == w.backoff.MaxRetries {
			w.logger.Warn("backend unreachable, polling in background",
				"backend", w.name,
				"attempts", attempt,
				"error", err,
			)
			break
		}
		w.logger.Debug("backend ping failed, retrying",
			"backend", w.name,
			"attempt", attempt,
			"next_delay", delay,
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(delay*2, w.backoff.MaxDelay)
	}

	ticker := time.NewTicker(w.backoff.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := w.check(ctx)
			switch {
			case !changed:
			case err != nil:
				w.logger.Warn("backend became unreachable", "backend", w.name, "error", err)
			default:
				w.logger.Info("backend recovered", "backend", w.name)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Manager owns one watcher per backend.
type Manager struct {
	logger  *slog.Logger
	backoff Backoff

	mu       sync.RWMutex
	watchers map[string]*watcher
	wg       sync.WaitGroup
}

// NewManager creates a manager. Zero Backoff fields take defaults.
func NewManager(logger *slog.Logger, backoff Backoff) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		backoff:  backoff.withDefaults(),
		watchers: make(map[string]*watcher),
	}
}

// Watch starts probing name in the background until ctx is done.
// Watching a name twice replaces nothing and returns false.
func (m *Manager) Watch(ctx context.Context, name string, ping PingFunc) bool {
	if name == "" || ping == nil {
		return false
	}
	m.mu.Lock()
	if _, ok := m.watchers[name]; ok {
		m.mu.Unlock()
		return false
	}
	w := &watcher{
		name:    name,
		ping:    ping,
		backoff: m.backoff,
		logger:  m.logger,
		status:  Status{Name: name},
	}
	m.watchers[name] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(ctx)
	}()
	return true
}

// Status returns every watched backend sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until every watcher has exited. Cancel the context passed
// to Watch first.
func (m *Manager) Wait() {
	m.wg.Wait()
}
