package sqlite

import (
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
)

// UpsertUser writes or refreshes a cached user metadata row. The cache is
// never synced; only the host app's auth/profile layer calls this.
func (db *DB) UpsertUser(ctx domain.Context, u domain.UserCache) error {
	ctx, span := tracer.Start(ctx, "cache.UpsertUser")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "user_cache"), attribute.String("db.operation", "UPSERT"))

	q := `INSERT INTO user_cache (id, display_name, last_seen_at) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, last_seen_at=excluded.last_seen_at`
	if _, err := db.writer.ExecContext(ctx, q, u.ID, u.DisplayName, u.LastSeenAt); err != nil {
		return fmt.Errorf("op=cache.upsert_user: %w", err)
	}
	return nil
}

// GetUser loads a cached user row.
func (db *DB) GetUser(ctx domain.Context, id string) (domain.UserCache, error) {
	ctx, span := tracer.Start(ctx, "cache.GetUser")
	defer span.End()

	var u domain.UserCache
	row := db.reader.QueryRowContext(ctx, `SELECT id, display_name, last_seen_at FROM user_cache WHERE id=?`, id)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.UserCache{}, fmt.Errorf("op=cache.get_user: %w", domain.ErrNotFound)
		}
		return domain.UserCache{}, fmt.Errorf("op=cache.get_user: %w", err)
	}
	return u, nil
}

// UpsertExercise writes or refreshes a cached exercise metadata row.
func (db *DB) UpsertExercise(ctx domain.Context, e domain.ExerciseCache) error {
	ctx, span := tracer.Start(ctx, "cache.UpsertExercise")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "exercise_cache"), attribute.String("db.operation", "UPSERT"))

	q := `INSERT INTO exercise_cache (id, display_name, last_seen_at) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, last_seen_at=excluded.last_seen_at`
	if _, err := db.writer.ExecContext(ctx, q, e.ID, e.DisplayName, e.LastSeenAt); err != nil {
		return fmt.Errorf("op=cache.upsert_exercise: %w", err)
	}
	return nil
}

// GetExercise loads a cached exercise row.
func (db *DB) GetExercise(ctx domain.Context, id string) (domain.ExerciseCache, error) {
	ctx, span := tracer.Start(ctx, "cache.GetExercise")
	defer span.End()

	var e domain.ExerciseCache
	row := db.reader.QueryRowContext(ctx, `SELECT id, display_name, last_seen_at FROM exercise_cache WHERE id=?`, id)
	if err := row.Scan(&e.ID, &e.DisplayName, &e.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.ExerciseCache{}, fmt.Errorf("op=cache.get_exercise: %w", domain.ErrNotFound)
		}
		return domain.ExerciseCache{}, fmt.Errorf("op=cache.get_exercise: %w", err)
	}
	return e, nil
}
