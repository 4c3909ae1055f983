// Package db persists the replay cache index and load history in a
// local sqlite database.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the sqlite database at path and
// applies pending migrations.
func NewDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serialises writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent loads.
	sqldb.SetMaxOpenConns(1)

	db := &DB{sqldb}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// LoadRecord is one row of session load history.
type LoadRecord struct {
	SessionID  string    `json:"session_id"`
	Source     string    `json:"source"` // "cache" or "provider"
	DurationMs int64     `json:"duration_ms"`
	Frames     int       `json:"frames"`
	Err        string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecordLoad appends one load to the history.
func (db *DB) RecordLoad(rec LoadRecord) error {
	_, err := db.Exec(
		`INSERT INTO load_history (session_id, source, duration_ms, frames, error)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Source, rec.DurationMs, rec.Frames, rec.Err,
	)
	return err
}

// LoadHistory returns the most recent loads, newest first.
func (db *DB) LoadHistory(limit int) ([]LoadRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, source, duration_ms, frames, error, timestamp
		 FROM load_history ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LoadRecord
	for rows.Next() {
		var rec LoadRecord
		if err := rows.Scan(&rec.SessionID, &rec.Source, &rec.DurationMs,
			&rec.Frames, &rec.Err, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CacheEntry is one row of the replay cache index.
type CacheEntry struct {
	SessionID string    `json:"session_id"`
	Version   int       `json:"pipeline_version"`
	SizeBytes int64     `json:"size_bytes"`
	Frames    int       `json:"frames"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertCacheEntry records (or refreshes) one cached archive.
func (db *DB) UpsertCacheEntry(e CacheEntry) error {
	_, err := db.Exec(
		`INSERT INTO cache_entries (session_id, pipeline_version, size_bytes, frames)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   pipeline_version = excluded.pipeline_version,
		   size_bytes = excluded.size_bytes,
		   frames = excluded.frames,
		   created_at = CURRENT_TIMESTAMP`,
		e.SessionID, e.Version, e.SizeBytes, e.Frames,
	)
	return err
}

// DeleteCacheEntry removes one archive from the index.
func (db *DB) DeleteCacheEntry(sessionID string) error {
	_, err := db.Exec(`DELETE FROM cache_entries WHERE session_id = ?`, sessionID)
	return err
}

// ClearCacheEntries empties the index.
func (db *DB) ClearCacheEntries() error {
	_, err := db.Exec(`DELETE FROM cache_entries`)
	return err
}

// CacheEntries lists the index, newest first.
func (db *DB) CacheEntries() ([]CacheEntry, error) {
	rows, err := db.Query(
		`SELECT session_id, pipeline_version, size_bytes, frames, created_at
		 FROM cache_entries ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		if err := rows.Scan(&e.SessionID, &e.Version, &e.SizeBytes,
			&e.Frames, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// StaleCacheEntries returns session ids whose archive is older than ttl.
func (db *DB) StaleCacheEntries(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl).UTC()
	rows, err := db.Query(
		`SELECT session_id FROM cache_entries WHERE created_at < ?`,
		cutoff.Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
