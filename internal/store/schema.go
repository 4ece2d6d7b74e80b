// Package store provides SQLite initialization and additive schema
// migration for the job engine's durable tables, following the same
// introspect-then-ALTER pattern used for the rest of this codebase's
// tables: create idempotently, then add any column a running upgrade
// needs that an older database file won't yet have.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens a SQLite database at dbPath, applies pragmas, creates tables,
// and runs additive migrations.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Single-writer job engine: a small pool is enough, and keeps WAL
	// checkpointing contention low compared to a multi-tenant server pool.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(0)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrateTables(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := createIndexes(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := seedPreferences(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	return nil
}

func createTables(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id               TEXT PRIMARY KEY,
			file_path        TEXT NOT NULL,
			file_hash        TEXT NOT NULL UNIQUE,
			title            TEXT NOT NULL DEFAULT '',
			duration_seconds REAL NOT NULL DEFAULT 0,
			file_size_bytes  INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'pending',
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id            TEXT PRIMARY KEY,
			video_id      TEXT NOT NULL,
			job_type      TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			progress      REAL NOT NULL DEFAULT 0,
			message       TEXT NOT NULL DEFAULT '',
			params        TEXT NOT NULL DEFAULT '{}',
			result        TEXT,
			error_code    TEXT,
			error_message TEXT,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			started_at    DATETIME,
			completed_at  DATETIME,
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS video_index (
			video_id         TEXT PRIMARY KEY,
			status           TEXT NOT NULL DEFAULT 'pending',
			progress         REAL NOT NULL DEFAULT 0,
			message          TEXT NOT NULL DEFAULT '',
			embed_model      TEXT NOT NULL DEFAULT '',
			embed_dim        INTEGER NOT NULL DEFAULT 0,
			chunk_params     TEXT NOT NULL DEFAULT '{}',
			transcript_hash  TEXT NOT NULL DEFAULT '',
			chunk_count      INTEGER NOT NULL DEFAULT 0,
			indexed_count    INTEGER NOT NULL DEFAULT 0,
			error_code       TEXT,
			error_message    TEXT,
			updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS video_summary (
			video_id            TEXT PRIMARY KEY,
			status              TEXT NOT NULL DEFAULT 'pending',
			progress            REAL NOT NULL DEFAULT 0,
			message             TEXT NOT NULL DEFAULT '',
			transcript_hash     TEXT NOT NULL DEFAULT '',
			params              TEXT NOT NULL DEFAULT '{}',
			segment_summaries   TEXT NOT NULL DEFAULT '[]',
			summary_markdown    TEXT NOT NULL DEFAULT '',
			outline             TEXT NOT NULL DEFAULT '[]',
			error_code          TEXT,
			error_message       TEXT,
			updated_at          DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS video_keyframe_index (
			video_id      TEXT PRIMARY KEY,
			status        TEXT NOT NULL DEFAULT 'pending',
			progress      REAL NOT NULL DEFAULT 0,
			message       TEXT NOT NULL DEFAULT '',
			params        TEXT NOT NULL DEFAULT '{}',
			frame_count   INTEGER NOT NULL DEFAULT 0,
			error_code    TEXT,
			error_message TEXT,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS keyframes (
			id            TEXT PRIMARY KEY,
			video_id      TEXT NOT NULL,
			timestamp_ms  INTEGER NOT NULL,
			image_relpath TEXT NOT NULL,
			method        TEXT NOT NULL DEFAULT 'interval',
			width         INTEGER NOT NULL DEFAULT 0,
			height        INTEGER NOT NULL DEFAULT 0,
			score         REAL,
			metadata      TEXT NOT NULL DEFAULT '{}',
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			video_id     TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			start_time   REAL NOT NULL,
			end_time     REAL NOT NULL,
			text         TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(video_id, chunk_index),
			FOREIGN KEY (video_id) REFERENCES videos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS preferences (
			id                  INTEGER PRIMARY KEY CHECK (id = 1),
			llm_provider        TEXT NOT NULL DEFAULT 'none',
			llm_model           TEXT NOT NULL DEFAULT '',
			llm_temperature     REAL NOT NULL DEFAULT 0.2,
			llm_max_tokens      INTEGER NOT NULL DEFAULT 512,
			llm_output_language TEXT NOT NULL DEFAULT 'auto',
			runtime_profile     TEXT NOT NULL DEFAULT 'cpu',
			asr_max             INTEGER NOT NULL DEFAULT 1,
			llm_max             INTEGER NOT NULL DEFAULT 1,
			heavy_max           INTEGER NOT NULL DEFAULT 1,
			llm_timeout_seconds INTEGER NOT NULL DEFAULT 600,
			asr_device          TEXT NOT NULL DEFAULT 'cpu',
			asr_compute_type    TEXT NOT NULL DEFAULT 'int8',
			asr_model           TEXT NOT NULL DEFAULT ''
		)`,
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, ddl := range tables {
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return tx.Commit()
}

func seedPreferences(db *sql.DB) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO preferences (id) VALUES (1)`)
	return err
}

func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_jobs_video_type_status ON jobs(video_id, job_type, status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_video_chunk ON chunks(video_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS idx_keyframes_video_ts ON keyframes(video_id, timestamp_ms)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// migrateTables adds missing columns to existing tables for backward
// compatibility with databases created by an earlier build.
func migrateTables(db *sql.DB) error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"videos", "updated_at", "ALTER TABLE videos ADD COLUMN updated_at DATETIME"},
		{"jobs", "updated_at", "ALTER TABLE jobs ADD COLUMN updated_at DATETIME"},
		{"preferences", "llm_output_language", "ALTER TABLE preferences ADD COLUMN llm_output_language TEXT DEFAULT 'auto'"},
	}
	for _, m := range migrations {
		if !columnExists(db, m.table, m.column) {
			if _, err := db.Exec(m.ddl); err != nil {
				return fmt.Errorf("migration failed (%s.%s): %w", m.table, m.column, err)
			}
			if m.column == "updated_at" {
				if _, err := db.Exec(fmt.Sprintf("UPDATE %s SET updated_at = created_at WHERE updated_at IS NULL", m.table)); err != nil {
					return fmt.Errorf("backfill failed (%s.%s): %w", m.table, m.column, err)
				}
			}
		}
	}
	return nil
}

// columnExists checks if a column exists in table. table is checked against
// a whitelist to prevent SQL injection via table name (PRAGMA does not
// accept bound parameters).
func columnExists(db *sql.DB, table, column string) bool {
	validTables := map[string]bool{
		"videos": true, "jobs": true, "video_index": true,
		"video_summary": true, "video_keyframe_index": true,
		"keyframes": true, "chunks": true, "preferences": true,
	}
	if !validTables[table] {
		return false
	}
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
