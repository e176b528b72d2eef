// Package preferences persists the household preference document: a
// free-form JSON object the assistant reads before recommending and
// updates when the household states a new like or dislike.
//
// The document lives in one SQLite row. Every update also appends the
// prior version to a history table so a bad edit can be rolled back by
// hand.
package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Open opens (or creates) the preferences database at path with WAL
// enabled.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

// Store reads and writes the preference document.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mu     sync.Mutex // serializes read-modify-write updates
}

// NewStore creates a store, running migrations on first use.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS household_preferences (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			document   TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS household_preferences_history (
			id         TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			replaced_at TEXT NOT NULL
		);
	`)
	return err
}

// Load returns the current document, or an empty object.
func (s *Store) Load(ctx context.Context) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM household_preferences WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if doc == nil {
		// A stored JSON null reads back as an empty document.
		doc = map[string]any{}
	}
	return doc, nil
}

// Replace stores doc as the new document.
func (s *Store) Replace(ctx context.Context, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, doc)
}

func (s *Store) save(ctx context.Context, doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate history id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO household_preferences_history (id, document, replaced_at)
		SELECT ?, document, ? FROM household_preferences WHERE id = 1`,
		id.String(), now,
	); err != nil {
		return fmt.Errorf("archive preferences: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO household_preferences (id, document, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(data), now,
	); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return tx.Commit()
}

// HistoryCount returns how many prior versions are archived.
func (s *Store) HistoryCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM household_preferences_history`).Scan(&n)
	return n, err
}

// ReadRequest selects what Read returns. Path wins over Keys, and
// Keys over Compact; with none set the whole document is returned.
type ReadRequest struct {
	Keys    []string
	Path    string
	Compact bool
}

// Read returns part or all of the document.
func (s *Store) Read(ctx context.Context, req ReadRequest) (map[string]any, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case req.Path != "":
		v, _ := Lookup(doc, req.Path)
		return map[string]any{"path": req.Path, "value": v}, nil
	case len(req.Keys) > 0:
		out := make(map[string]any, len(req.Keys))
		for _, k := range req.Keys {
			out[k] = doc[k]
		}
		return out, nil
	case req.Compact:
		return map[string]any{"compact": Summarize(doc)}, nil
	}
	return doc, nil
}

// Match is one search hit.
type Match struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Search returns up to limit leaves whose path or value contains query
// (case-insensitive), in document order.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	matches := []Match{}
	for _, leaf := range Flatten(doc) {
		if limit > 0 && len(matches) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(leaf.Path), q) || strings.Contains(strings.ToLower(leaf.Value), q) {
			matches = append(matches, leaf)
		}
	}
	return matches, nil
}

// Operations accepted by UpdateRequest.Op.
const (
	OpSet         = "set"
	OpAppend      = "append"
	OpRemoveValue = "remove_value"
)

// UpdateRequest changes the document. Patch is deep-merged first; then,
// if Path is set, Op is applied there with Value.
type UpdateRequest struct {
	Patch map[string]any
	Path  string
	Op    string
	Value any
}

// Update applies req and returns the new document.
func (s *Store) Update(ctx context.Context, req UpdateRequest) (map[string]any, error) {
	if req.Patch == nil && req.Path == "" {
		return nil, errors.New("nothing to update: give patch or path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if req.Patch != nil {
		Merge(doc, req.Patch)
	}
	if req.Path != "" {
		op := req.Op
		if op == "" {
			op = OpSet
		}
		if err := Apply(doc, req.Path, op, req.Value); err != nil {
			return nil, err
		}
	}
	if err := s.save(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("household preferences updated", "path", req.Path, "op", req.Op, "patch_keys", len(req.Patch))
	return doc, nil
}

// Context returns the compact summary for the system prompt, or "" when
// no preferences are stored.
func (s *Store) Context(ctx context.Context) string {
	doc, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn("preferences unavailable for prompt", "error", err)
		return ""
	}
	return Summarize(doc)
}
