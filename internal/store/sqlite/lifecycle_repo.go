package sqlite

import (
	"fmt"

	"github.com/fitloop/syncd/internal/domain"
)

// UnsyncedSessionsOlderThan returns sessions still unsynced at or before
// cutoffMS, oldest first, so the lifecycle component can garbage-collect
// stale local-only data (spec.md §4.7).
func (db *DB) UnsyncedSessionsOlderThan(ctx domain.Context, cutoffMS int64) ([]domain.WorkoutSession, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.UnsyncedOlderThan")
	defer span.End()

	q := `SELECT id, owner_id, exercise_id, total_reps, valid_reps, total_points, orientation,
		started_at, completed_at, duration_seconds, is_completed, synced, created_at, updated_at
		FROM sessions WHERE synced=0 AND updated_at <= ? ORDER BY updated_at ASC`
	rows, err := db.reader.QueryContext(ctx, q, cutoffMS)
	if err != nil {
		return nil, fmt.Errorf("op=lifecycle.unsynced_older_than: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("op=lifecycle.unsynced_older_than_scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// StorageUsage reports the store's on-disk footprint via SQLite's page
// accounting, and the ML-frame table's own footprint via its blob and JSON
// column sizes, as the data lifecycle component's input for the ~100MB total
// / ~80MB ML soft cap checks.
func (db *DB) StorageUsage(ctx domain.Context) (domain.StorageUsage, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.StorageUsage")
	defer span.End()

	var pageCount, pageSize int64
	if err := db.reader.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return domain.StorageUsage{}, fmt.Errorf("op=lifecycle.storage_usage.page_count: %w", err)
	}
	if err := db.reader.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return domain.StorageUsage{}, fmt.Errorf("op=lifecycle.storage_usage.page_size: %w", err)
	}

	var mlBytes int64
	err := db.reader.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(landmarks) + LENGTH(COALESCE(angle_data, ''))), 0) FROM ml_training_frames`).Scan(&mlBytes)
	if err != nil {
		return domain.StorageUsage{}, fmt.Errorf("op=lifecycle.storage_usage.ml_bytes: %w", err)
	}

	return domain.StorageUsage{
		TotalBytes: pageCount * pageSize,
		MLBytes:    mlBytes,
	}, nil
}

// DeleteSyncedSessions deletes every synced session with no pending queue
// item referencing it; ON DELETE CASCADE removes its frames with it.
func (db *DB) DeleteSyncedSessions(ctx domain.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.DeleteSyncedSessions")
	defer span.End()

	res, err := db.writer.ExecContext(ctx, `DELETE FROM sessions
		WHERE synced=1
		AND id NOT IN (SELECT entity_id FROM sync_queue WHERE entity_kind='session')`)
	if err != nil {
		return 0, fmt.Errorf("op=lifecycle.delete_synced_sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("op=lifecycle.delete_synced_sessions.rows_affected: %w", err)
	}
	return int(n), nil
}

// DeleteSyncedFrames deletes synced frames whose session is still unsynced
// (a session's frame batches may ack before the session itself does) and
// which no pending ml-batch queue item still references.
func (db *DB) DeleteSyncedFrames(ctx domain.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.DeleteSyncedFrames")
	defer span.End()

	res, err := db.writer.ExecContext(ctx, `DELETE FROM ml_training_frames
		WHERE synced=1
		AND session_id IN (SELECT id FROM sessions WHERE synced=0)
		AND session_id NOT IN (SELECT entity_id FROM sync_queue WHERE entity_kind='ml-batch')`)
	if err != nil {
		return 0, fmt.Errorf("op=lifecycle.delete_synced_frames: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("op=lifecycle.delete_synced_frames.rows_affected: %w", err)
	}
	return int(n), nil
}
