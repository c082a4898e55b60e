// Package store persists run records to SQLite. It is a thin adapter over
// the core engine: the registry stays authoritative in-process; the store
// holds the record invariants (hash-derived digests, retention state, seed)
// across restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/friscapuff/alphaforge-brain/internal/domain"
	"github.com/friscapuff/alphaforge-brain/internal/run"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_hash          TEXT PRIMARY KEY,
    created_at        INTEGER NOT NULL,
    status            TEXT NOT NULL,
    seed              INTEGER,
    strategy_name     TEXT,
    strategy_hash     TEXT,
    metrics_hash      TEXT,
    equity_curve_hash TEXT,
    manifest_hash     TEXT,
    pinned            INTEGER NOT NULL DEFAULT 0,
    retention_state   TEXT NOT NULL DEFAULT 'full',
    primary_metric    REAL,
    payload_json      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy_name, primary_metric DESC);
`

// Store is the SQLite-backed run record store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (or opens) the store at path. Use ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve store path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", abs)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping run store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply run store schema: %w", err)
	}
	return &Store{db: db, log: log.With().Str("service", "run_store").Logger()}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts a record. The full record travels as JSON; the indexed
// columns mirror the fields retention and ranking query on.
func (s *Store) Save(rec *run.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	var seed any
	if rec.Seed != nil {
		seed = *rec.Seed
	}
	var metric any
	if rec.PrimaryMetricValue != nil {
		metric = *rec.PrimaryMetricValue
	}
	_, err = s.db.Exec(`
INSERT INTO runs (run_hash, created_at, status, seed, strategy_name, strategy_hash,
                  metrics_hash, equity_curve_hash, manifest_hash, pinned, retention_state,
                  primary_metric, payload_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_hash) DO UPDATE SET
    status = excluded.status,
    pinned = excluded.pinned,
    retention_state = excluded.retention_state,
    payload_json = excluded.payload_json`,
		rec.RunHash, rec.CreatedAt, string(rec.Status), seed, rec.StrategyName, rec.StrategyHash,
		rec.MetricsHash, rec.EquityCurveHash, rec.ManifestHash, boolInt(rec.Pinned), rec.RetentionState,
		metric, string(payload),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunHash, err)
	}
	return nil
}

// Get loads one record by hash.
func (s *Store) Get(runHash string) (*run.Record, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload_json FROM runs WHERE run_hash = ?`, runHash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runHash, err)
	}
	return decodeRecord(payload)
}

// List returns all records newest first.
func (s *Store) List() ([]*run.Record, error) {
	rows, err := s.db.Query(`SELECT payload_json FROM runs ORDER BY created_at DESC, run_hash ASC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*run.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LoadInto replays all persisted records into the registry. Called once at
// startup so retention and record retrieval survive restarts.
func (s *Store) LoadInto(registry *run.Registry) (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		registry.Set(rec)
	}
	s.log.Info().Int("records", len(records)).Msg("Run records restored from store")
	return len(records), nil
}

func decodeRecord(payload string) (*run.Record, error) {
	var rec run.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
