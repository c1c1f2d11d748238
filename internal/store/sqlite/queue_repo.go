package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/scheduler"
)

// InsertQueueItem appends a new unit of work to the tail of the queue.
func (db *DB) InsertQueueItem(ctx domain.Context, item domain.SyncQueueItem) (int64, error) {
	ctx, span := tracer.Start(ctx, "queue.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "sync_queue"), attribute.String("db.operation", "INSERT"))

	res, err := db.writer.ExecContext(ctx, `INSERT INTO sync_queue
		(entity_kind, entity_id, operation, payload, retry_count, last_error, created_at, updated_at)
		VALUES (?,?,?,?,0,'',?,?)`,
		item.EntityKind, item.EntityID, item.Operation, item.Payload, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("op=queue.insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("op=queue.insert.last_id: %w", err)
	}
	return id, nil
}

// GetQueueItem loads a single queue item by id.
func (db *DB) GetQueueItem(ctx domain.Context, id int64) (domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.Get")
	defer span.End()

	row := db.reader.QueryRowContext(ctx, queueSelect+` WHERE id=?`, id)
	return scanQueueItem(row)
}

// ListQueuePending returns items that have never been attempted, FIFO.
func (db *DB) ListQueuePending(ctx domain.Context, limit int) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.ListPending")
	defer span.End()

	q := queueSelect + ` WHERE retry_count=0 ORDER BY created_at ASC, id ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return queryQueueItems(ctx, db.reader, q, args...)
}

// ListQueueRetryable returns items whose backoff window (or force override)
// has elapsed and which have not exhausted the retry ceiling, ordered by
// updated_at then id as the tie-break (spec.md §4.3).
func (db *DB) ListQueueRetryable(ctx domain.Context, limit int, now int64, force bool) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.ListRetryable")
	defer span.End()
	span.SetAttributes(attribute.Bool("queue.force", force))

	q := queueSelect + ` WHERE retry_count > 0 AND retry_count < ? ORDER BY updated_at ASC, id ASC`
	rows, err := db.reader.QueryContext(ctx, q, domain.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("op=queue.list_retryable: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=queue.list_retryable_scan: %w", err)
		}
		if !scheduler.Ready(item.RetryCount, item.UpdatedAt, now, force) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// ListQueueFailed returns items that have exhausted the retry ceiling.
func (db *DB) ListQueueFailed(ctx domain.Context) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.ListFailed")
	defer span.End()

	q := queueSelect + ` WHERE retry_count >= ? ORDER BY updated_at ASC, id ASC`
	return queryQueueItems(ctx, db.reader, q, domain.MaxRetries)
}

// UpdateQueueFailure records a failed attempt: bumps retry_count, stores the
// error text, and stamps updated_at so the scheduler's backoff window starts
// counting from this attempt.
func (db *DB) UpdateQueueFailure(ctx domain.Context, id int64, errText string, now int64) error {
	ctx, span := tracer.Start(ctx, "queue.RecordFailure")
	defer span.End()

	res, err := db.writer.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error=?, updated_at=? WHERE id=?`,
		errText, now, id)
	if err != nil {
		return fmt.Errorf("op=queue.record_failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=queue.record_failure: %w", domain.ErrNotFound)
	}
	return nil
}

// ResetQueueItem clears retry_count and last_error, returning a failed item
// to the pending pool (operator-triggered "retry failed").
func (db *DB) ResetQueueItem(ctx domain.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "queue.Reset")
	defer span.End()

	res, err := db.writer.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count=0, last_error='', updated_at=? WHERE id=?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("op=queue.reset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=queue.reset: %w", domain.ErrNotFound)
	}
	return nil
}

// DeleteQueueItem removes a single item, e.g. after a successful upload.
func (db *DB) DeleteQueueItem(ctx domain.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "queue.Delete")
	defer span.End()

	if _, err := db.writer.ExecContext(ctx, `DELETE FROM sync_queue WHERE id=?`, id); err != nil {
		return fmt.Errorf("op=queue.delete: %w", err)
	}
	return nil
}

// DeleteQueueItems removes a batch of items in one statement, e.g. a
// clear-failed operation.
func (db *DB) DeleteQueueItems(ctx domain.Context, ids []int64) error {
	ctx, span := tracer.Start(ctx, "queue.DeleteBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("queue.batch_size", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf(`DELETE FROM sync_queue WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := db.writer.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("op=queue.delete_batch: %w", err)
	}
	return nil
}

// FindQueueItem looks up an existing queue item for the same (kind, entity,
// operation) triple, used to dedup on enqueue (spec.md §8 scenario 6).
func (db *DB) FindQueueItem(ctx domain.Context, kind domain.EntityKind, entityID string, op domain.Operation) (domain.SyncQueueItem, bool, error) {
	ctx, span := tracer.Start(ctx, "queue.Find")
	defer span.End()

	row := db.reader.QueryRowContext(ctx, queueSelect+` WHERE entity_kind=? AND entity_id=? AND operation=?`, kind, entityID, op)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SyncQueueItem{}, false, nil
		}
		return domain.SyncQueueItem{}, false, fmt.Errorf("op=queue.find: %w", err)
	}
	return item, true, nil
}

// ReplaceQueuePayload overwrites the payload of an existing dedup match
// in-place, leaving its retry state untouched.
func (db *DB) ReplaceQueuePayload(ctx domain.Context, kind domain.EntityKind, entityID string, op domain.Operation, payload []byte, now int64) error {
	ctx, span := tracer.Start(ctx, "queue.ReplacePayload")
	defer span.End()

	res, err := db.writer.ExecContext(ctx,
		`UPDATE sync_queue SET payload=?, updated_at=? WHERE entity_kind=? AND entity_id=? AND operation=?`,
		payload, now, kind, entityID, op)
	if err != nil {
		return fmt.Errorf("op=queue.replace_payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=queue.replace_payload: %w", domain.ErrNotFound)
	}
	return nil
}

// QueueStats reports aggregate counts for the operator status surface.
func (db *DB) QueueStats(ctx domain.Context) (total, pending, retrying, failed int, err error) {
	ctx, span := tracer.Start(ctx, "queue.Stats")
	defer span.End()

	row := db.reader.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE retry_count = 0),
		COUNT(*) FILTER (WHERE retry_count > 0 AND retry_count < ?),
		COUNT(*) FILTER (WHERE retry_count >= ?)
		FROM sync_queue`, domain.MaxRetries, domain.MaxRetries)
	if err = row.Scan(&total, &pending, &retrying, &failed); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("op=queue.stats: %w", err)
	}
	return total, pending, retrying, failed, nil
}

// PurgeOrphanQueueItems deletes items whose referenced session no longer
// exists locally (the cascade on session delete already removes its frames,
// but queue items are a separate table with no foreign key, by design: a
// queue item for a delete operation must outlive the row it deletes).
func (db *DB) PurgeOrphanQueueItems(ctx domain.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "queue.PurgeOrphans")
	defer span.End()

	res, err := db.writer.ExecContext(ctx, `DELETE FROM sync_queue
		WHERE operation != 'delete'
		AND entity_kind IN ('session', 'ml-batch')
		AND entity_id NOT IN (SELECT id FROM sessions)
		AND (entity_kind != 'ml-batch' OR entity_id NOT IN (SELECT session_id FROM ml_training_frames))`)
	if err != nil {
		return 0, fmt.Errorf("op=queue.purge_orphans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("op=queue.purge_orphans.rows_affected: %w", err)
	}
	return int(n), nil
}

const queueSelect = `SELECT id, entity_kind, entity_id, operation, payload, retry_count, last_error, created_at, updated_at FROM sync_queue`

func scanQueueItem(row scanner) (domain.SyncQueueItem, error) {
	var item domain.SyncQueueItem
	if err := row.Scan(&item.ID, &item.EntityKind, &item.EntityID, &item.Operation, &item.Payload,
		&item.RetryCount, &item.LastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.SyncQueueItem{}, fmt.Errorf("op=queue.scan: %w", domain.ErrNotFound)
		}
		return domain.SyncQueueItem{}, err
	}
	return item, nil
}

func queryQueueItems(ctx domain.Context, conn *sql.DB, q string, args ...any) ([]domain.SyncQueueItem, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=queue.query: %w", err)
	}
	defer rows.Close()

	var out []domain.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=queue.query_scan: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
