package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// migrate brings a freshly-opened writer connection up to schemaVersion.
// There is exactly one migration today; the kernel_meta table lets future
// app upgrades detect and run additional steps without a full reinstall.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kernel_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create kernel_meta: %w", err)
	}

	var current int
	err := db.QueryRowContext(ctx, `SELECT value FROM kernel_meta WHERE key = 'schema_version'`).Scan(&current)
	if err == sql.ErrNoRows {
		current = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	if err := applyV1(ctx, db); err != nil {
		return fmt.Errorf("migrate v1: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO kernel_meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, schemaVersion); err != nil {
		return fmt.Errorf("stamp schema_version: %w", err)
	}
	return nil
}

func applyV1(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			owner_id         TEXT NOT NULL,
			exercise_id      TEXT NOT NULL,
			total_reps       INTEGER NOT NULL DEFAULT 0,
			valid_reps       INTEGER NOT NULL DEFAULT 0,
			total_points     INTEGER NOT NULL DEFAULT 0,
			orientation      TEXT NOT NULL DEFAULT '',
			started_at       INTEGER NOT NULL,
			completed_at     INTEGER,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			is_completed     INTEGER NOT NULL DEFAULT 0,
			synced           INTEGER NOT NULL DEFAULT 0,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_synced ON sessions(synced)`,

		`CREATE TABLE IF NOT EXISTS ml_training_frames (
			id           TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			frame_number INTEGER NOT NULL,
			captured_at  INTEGER NOT NULL,
			landmarks    BLOB NOT NULL,
			angle_data   TEXT,
			phase_label  TEXT NOT NULL DEFAULT '',
			is_valid     INTEGER NOT NULL DEFAULT 1,
			confidence   REAL NOT NULL DEFAULT 0,
			synced       INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL,
			UNIQUE(session_id, frame_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_session ON ml_training_frames(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_synced ON ml_training_frames(synced)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_kind TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			operation   TEXT NOT NULL,
			payload     BLOB NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entity ON sync_queue(entity_kind, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_created ON sync_queue(created_at, id)`,

		`CREATE TABLE IF NOT EXISTS user_cache (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			last_seen_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exercise_cache (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			last_seen_at INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
	}
	return nil
}
