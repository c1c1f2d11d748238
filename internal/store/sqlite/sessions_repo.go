package sqlite

import (
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
)

var tracer = otel.Tracer("store.sqlite")

// CreateSession inserts a new session row.
func (db *DB) CreateSession(ctx domain.Context, s domain.WorkoutSession) error {
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "sessions"), attribute.String("db.operation", "INSERT"))

	q := `INSERT INTO sessions
		(id, owner_id, exercise_id, total_reps, valid_reps, total_points, orientation,
		 started_at, completed_at, duration_seconds, is_completed, synced, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err := db.writer.ExecContext(ctx, q,
		s.ID, s.OwnerID, s.ExerciseID, s.TotalReps, s.ValidReps, s.TotalPoints, s.Orientation,
		s.StartedAt, s.CompletedAt, s.DurationSeconds, boolToInt(s.IsCompleted), boolToInt(s.Synced),
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("op=session.create: %w", err)
	}
	return nil
}

// UpdateSession overwrites the mutable fields of a session, writing the
// caller's UpdatedAt as updated_at.
func (db *DB) UpdateSession(ctx domain.Context, s domain.WorkoutSession) error {
	ctx, span := tracer.Start(ctx, "sessions.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "sessions"), attribute.String("db.operation", "UPDATE"))

	q := `UPDATE sessions SET
		total_reps=?, valid_reps=?, total_points=?, orientation=?,
		completed_at=?, duration_seconds=?, is_completed=?, synced=?, updated_at=?
		WHERE id=?`
	res, err := db.writer.ExecContext(ctx, q,
		s.TotalReps, s.ValidReps, s.TotalPoints, s.Orientation,
		s.CompletedAt, s.DurationSeconds, boolToInt(s.IsCompleted), boolToInt(s.Synced), s.UpdatedAt,
		s.ID)
	if err != nil {
		return fmt.Errorf("op=session.update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=session.update: %w", domain.ErrNotFound)
	}
	return nil
}

// GetSession loads a session by id.
func (db *DB) GetSession(ctx domain.Context, id string) (domain.WorkoutSession, error) {
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "sessions"), attribute.String("db.operation", "SELECT"))

	q := `SELECT id, owner_id, exercise_id, total_reps, valid_reps, total_points, orientation,
		started_at, completed_at, duration_seconds, is_completed, synced, created_at, updated_at
		FROM sessions WHERE id=?`
	row := db.reader.QueryRowContext(ctx, q, id)
	return scanSession(row)
}

// ListSessionsByOwner returns a user's sessions, optionally restricted to unsynced ones.
func (db *DB) ListSessionsByOwner(ctx domain.Context, ownerID string, onlyUnsynced bool) ([]domain.WorkoutSession, error) {
	ctx, span := tracer.Start(ctx, "sessions.ListByOwner")
	defer span.End()

	q := `SELECT id, owner_id, exercise_id, total_reps, valid_reps, total_points, orientation,
		started_at, completed_at, duration_seconds, is_completed, synced, created_at, updated_at
		FROM sessions WHERE owner_id=?`
	args := []any{ownerID}
	if onlyUnsynced {
		q += " AND synced=0"
	}
	q += " ORDER BY created_at ASC"

	rows, err := db.reader.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=session.list_by_owner: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("op=session.list_by_owner_scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkSessionSynced flips the synced flag; the lifecycle sweep's
// DeleteSyncedSessions removes the row later.
func (db *DB) MarkSessionSynced(ctx domain.Context, id string) error {
	ctx, span := tracer.Start(ctx, "sessions.MarkSynced")
	defer span.End()
	_, err := db.writer.ExecContext(ctx, `UPDATE sessions SET synced=1 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("op=session.mark_synced: %w", err)
	}
	return nil
}

// DeleteSession removes a session and, via ON DELETE CASCADE, its frames.
func (db *DB) DeleteSession(ctx domain.Context, id string) error {
	ctx, span := tracer.Start(ctx, "sessions.Delete")
	defer span.End()
	_, err := db.writer.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("op=session.delete: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.WorkoutSession, error) {
	var s domain.WorkoutSession
	var completedAt sql.NullInt64
	var isCompleted, synced int
	if err := row.Scan(&s.ID, &s.OwnerID, &s.ExerciseID, &s.TotalReps, &s.ValidReps, &s.TotalPoints,
		&s.Orientation, &s.StartedAt, &completedAt, &s.DurationSeconds, &isCompleted, &synced,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.WorkoutSession{}, fmt.Errorf("op=session.scan: %w", domain.ErrNotFound)
		}
		return domain.WorkoutSession{}, err
	}
	if completedAt.Valid {
		v := completedAt.Int64
		s.CompletedAt = &v
	}
	s.IsCompleted = isCompleted != 0
	s.Synced = synced != 0
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
