// Package registry implements the Control Registry (spec §4.3): a durable
// table of permanent patches plus an in-memory TTL cache of suppressions,
// the single source of truth for "is this fingerprint silenced?".
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// store is the SQLite-backed persistence layer for patch rules. It follows
// the writer/reader split: one serialized writer connection, a small reader
// pool for concurrent lookups.
type store struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS patch_registry (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rhythm_hash TEXT UNIQUE NOT NULL,
	rule TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_ts INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS schemas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_name TEXT UNIQUE NOT NULL,
	schema_json TEXT NOT NULL
);
`

func openStore(path string) (*store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("registry: create directory %s: %w", dir, err)
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("registry: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.Ping(); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("registry: ping writer: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("registry: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("registry: ping reader: %w", err)
	}

	s := &store{writer: writer, reader: reader, path: path}
	if _, err := s.writer.Exec(schemaSQL); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("registry: create schema: %w", err)
	}
	return s, nil
}

func (s *store) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if s.writer != nil {
			if err := s.writer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if s.reader != nil {
			if err := s.reader.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Ping verifies the durable store is reachable (satisfies health.StorePinger).
func (s *store) Ping() error {
	if err := s.writer.Ping(); err != nil {
		return fmt.Errorf("registry: writer ping: %w", err)
	}
	return nil
}

// patchRow is the durable representation of one patch rule.
type patchRow struct {
	RhythmHash string
	Rule       string
	Reason     string
	CreatedTS  int64
	IsActive   bool
}

// upsertPatch inserts a new patch row or, on conflict, reactivates it and
// refreshes its reason (spec §4.3 patch: "on conflict with an existing row,
// reactivates it").
func (s *store) upsertPatch(p patchRow) error {
	_, err := s.writer.Exec(`
		INSERT INTO patch_registry (rhythm_hash, rule, reason, created_ts, is_active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(rhythm_hash) DO UPDATE SET
			is_active = 1,
			reason = excluded.reason`,
		p.RhythmHash, p.Rule, p.Reason, p.CreatedTS,
	)
	if err != nil {
		return fmt.Errorf("registry: upsert patch %s: %w", p.RhythmHash, err)
	}
	return nil
}

func (s *store) deactivatePatch(rhythmHash string) error {
	_, err := s.writer.Exec(`UPDATE patch_registry SET is_active = 0 WHERE rhythm_hash = ?`, rhythmHash)
	if err != nil {
		return fmt.Errorf("registry: deactivate patch %s: %w", rhythmHash, err)
	}
	return nil
}

// loadActivePatches returns every row currently marked active, used both at
// startup (to rebuild the in-memory mirror) and by list_rules.
func (s *store) loadActivePatches() ([]patchRow, error) {
	rows, err := s.reader.Query(`
		SELECT rhythm_hash, rule, reason, created_ts, is_active
		FROM patch_registry WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("registry: load active patches: %w", err)
	}
	defer rows.Close()

	var out []patchRow
	for rows.Next() {
		var p patchRow
		var isActive int
		if err := rows.Scan(&p.RhythmHash, &p.Rule, &p.Reason, &p.CreatedTS, &isActive); err != nil {
			return nil, fmt.Errorf("registry: scan patch row: %w", err)
		}
		p.IsActive = isActive == 1
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate patch rows: %w", err)
	}
	return out, nil
}
