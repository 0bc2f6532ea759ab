// Package resultcache keeps the latest result of every analysis kind on the
// client, tagged with the dataset it was computed from.
package resultcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/windops/pkg/models"
	_ "modernc.org/sqlite"
)

// CurrentVersion is the record layout written by Put.
const CurrentVersion = 2

// legacyVersion marks records that were a bare result payload.
const legacyVersion = 1

// Meta is the provenance of a cached result.
type Meta struct {
	Timestamp time.Time         `json:"timestamp"`
	Source    models.DataSource `json:"source"`
	JobID     string            `json:"job_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// Entry is one cached result.
type Entry struct {
	Kind    models.AnalysisKind `json:"-"`
	Version int                 `json:"version"`
	Data    json.RawMessage     `json:"data"`
	Meta    Meta                `json:"meta"`
}

// Store is a SQLite backed cache with one row per analysis kind.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns the cache file under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config dir: %w", err)
	}
	return filepath.Join(dir, "windops", "results.db"), nil
}

// Open creates or opens the cache file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("result cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the CLI never needs more.
	db.SetMaxOpenConns(1)
	if err := initDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initDB(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS results (
			kind       TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init result cache: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores env as the latest result of its kind, replacing any previous
// entry.
func (s *Store) Put(ctx context.Context, env models.ResultEnvelope) error {
	if env.Kind == "" {
		return errors.New("result has no analysis kind")
	}
	ts := env.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	e := Entry{
		Version: CurrentVersion,
		Data:    env.Data,
		Meta: Meta{
			Timestamp: ts.UTC(),
			Source:    env.Source,
			RequestID: env.RequestID,
		},
	}
	if env.JobID != uuid.Nil {
		e.Meta.JobID = env.JobID.String()
	}
	return s.put(ctx, env.Kind, e)
}

func (s *Store) put(ctx context.Context, kind models.AnalysisKind, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO results (kind, payload, updated_at) VALUES (?, ?, ?)
ON CONFLICT(kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(kind), string(payload), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Get returns the cached entry for kind. Records written before provenance
// was tracked come back with source "unknown" and a zero timestamp.
func (s *Store) Get(ctx context.Context, kind models.AnalysisKind) (Entry, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE kind = ?`, string(kind)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	e, err := decodeEntry([]byte(payload))
	if err != nil {
		return Entry{}, false, err
	}
	e.Kind = kind
	return e, true, nil
}

// List returns every cached entry ordered by kind.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, payload FROM results ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, err
		}
		e, err := decodeEntry([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		e.Kind = models.AnalysisKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear removes the entry for kind.
func (s *Store) Clear(ctx context.Context, kind models.AnalysisKind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM results WHERE kind = ?`, string(kind))
	return err
}

// ClearAll removes every entry.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM results`)
	return err
}

// decodeEntry reads both the versioned layout and the legacy bare payload.
func decodeEntry(payload []byte) (Entry, error) {
	var probe struct {
		Version *int            `json:"version"`
		Data    json.RawMessage `json:"data"`
		Meta    *Meta           `json:"meta"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return Entry{}, fmt.Errorf("decoding cache entry: %w", err)
	}
	if probe.Version != nil && probe.Meta != nil {
		e := Entry{Version: *probe.Version, Data: probe.Data, Meta: *probe.Meta}
		if e.Meta.Source == "" {
			e.Meta.Source = models.SourceUnknown
		}
		return e, nil
	}
	return Entry{
		Version: legacyVersion,
		Data:    json.RawMessage(payload),
		Meta:    Meta{Source: models.SourceUnknown},
	}, nil
}
