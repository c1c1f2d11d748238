// Package queue implements the durable sync queue manager described in
// spec.md §4.2: a thin, typed layer over the embedded store that owns
// enqueue-time deduplication, retry bookkeeping, and the failed/retryable/
// pending views the scheduler and orchestrator read from.
//
// The manager itself holds no state; every call is a store round-trip, the
// same discipline applied to job bookkeeping elsewhere in this codebase.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/domain"
)

var tracer = otel.Tracer("queue.manager")

// Manager is the sync queue's typed facade over domain.QueueStore.
type Manager struct {
	store domain.QueueStore
}

// New builds a Manager over the given store.
func New(store domain.QueueStore) *Manager {
	return &Manager{store: store}
}

// Enqueue appends a unit of work, deduplicating against any existing item
// for the same (kind, entity, operation) triple: a later create/update for
// the same entity replaces the pending payload in place rather than piling
// up a second queue row, matching spec.md §8 scenario 6 ("dedup").
//
// payload must already be the opaque, transport-ready encoding of the
// entity; the queue manager never decodes it.
func (m *Manager) Enqueue(ctx domain.Context, kind domain.EntityKind, entityID string, op domain.Operation, payload []byte) (int64, error) {
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()
	span.SetAttributes(
		attribute.String("queue.entity_kind", string(kind)),
		attribute.String("queue.operation", string(op)),
	)

	now := nowMS()

	existing, found, err := m.store.FindQueueItem(ctx, kind, entityID, op)
	if err != nil {
		return 0, fmt.Errorf("op=queue.enqueue.find: %w", err)
	}
	if found {
		if err := m.store.ReplaceQueuePayload(ctx, kind, entityID, op, payload, now); err != nil {
			return 0, fmt.Errorf("op=queue.enqueue.replace: %w", err)
		}
		slog.Debug("queue item deduplicated", slog.Int64("id", existing.ID), slog.String("entity_id", entityID))
		return existing.ID, nil
	}

	id, err := m.store.InsertQueueItem(ctx, domain.SyncQueueItem{
		EntityKind: kind,
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return 0, fmt.Errorf("op=queue.enqueue.insert: %w", err)
	}
	slog.Debug("queue item enqueued", slog.Int64("id", id), slog.String("entity_id", entityID), slog.String("op", string(op)))
	return id, nil
}

// EnqueueJSON is a convenience wrapper for producers that hold a Go value
// rather than a pre-encoded payload; the transport layer is the only
// consumer of the resulting bytes.
func (m *Manager) EnqueueJSON(ctx domain.Context, kind domain.EntityKind, entityID string, op domain.Operation, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("op=queue.enqueue_json.marshal: %w", err)
	}
	return m.Enqueue(ctx, kind, entityID, op, b)
}

// Pending returns items with retry_count 0 (never attempted, or reset),
// FIFO within a call.
func (m *Manager) Pending(ctx domain.Context, limit int) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.Pending")
	defer span.End()
	items, err := m.store.ListQueuePending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("op=queue.pending: %w", err)
	}
	return items, nil
}

// Retryable returns items whose backoff window has elapsed (or, if force is
// set, bypassing the window) and which have not exhausted the retry
// ceiling. force never bypasses the ceiling itself — see
// internal/scheduler.Ready.
func (m *Manager) Retryable(ctx domain.Context, limit int, force bool) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.Retryable")
	defer span.End()
	span.SetAttributes(attribute.Bool("queue.force", force))
	items, err := m.store.ListQueueRetryable(ctx, limit, nowMS(), force)
	if err != nil {
		return nil, fmt.Errorf("op=queue.retryable: %w", err)
	}
	return items, nil
}

// RecordFailure bumps an item's retry count and stores the failure reason.
// Once this pushes retry_count to domain.MaxRetries the item surfaces via
// Failed() instead of Pending()/Retryable().
func (m *Manager) RecordFailure(ctx domain.Context, id int64, cause error) error {
	ctx, span := tracer.Start(ctx, "queue.RecordFailure")
	defer span.End()
	if err := m.store.UpdateQueueFailure(ctx, id, cause.Error(), nowMS()); err != nil {
		return fmt.Errorf("op=queue.record_failure: %w", err)
	}
	return nil
}

// Remove deletes a single item, typically after a successful upload.
func (m *Manager) Remove(ctx domain.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "queue.Remove")
	defer span.End()
	if err := m.store.DeleteQueueItem(ctx, id); err != nil {
		return fmt.Errorf("op=queue.remove: %w", err)
	}
	return nil
}

// RemoveBatch deletes several items in one call.
func (m *Manager) RemoveBatch(ctx domain.Context, ids []int64) error {
	ctx, span := tracer.Start(ctx, "queue.RemoveBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("queue.batch_size", len(ids)))
	if err := m.store.DeleteQueueItems(ctx, ids); err != nil {
		return fmt.Errorf("op=queue.remove_batch: %w", err)
	}
	return nil
}

// Failed returns items that have exhausted the retry ceiling.
func (m *Manager) Failed(ctx domain.Context) ([]domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.Failed")
	defer span.End()
	items, err := m.store.ListQueueFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("op=queue.failed: %w", err)
	}
	return items, nil
}

// ClearFailed deletes every item that has exhausted its retry budget and
// reports how many were removed.
func (m *Manager) ClearFailed(ctx domain.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "queue.ClearFailed")
	defer span.End()

	failed, err := m.Failed(ctx)
	if err != nil {
		return 0, err
	}
	if len(failed) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(failed))
	for i, f := range failed {
		ids[i] = f.ID
	}
	if err := m.store.DeleteQueueItems(ctx, ids); err != nil {
		return 0, fmt.Errorf("op=queue.clear_failed: %w", err)
	}
	return len(ids), nil
}

// Reset clears a single item's retry state, returning it to the pending
// pool.
func (m *Manager) Reset(ctx domain.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "queue.Reset")
	defer span.End()
	if err := m.store.ResetQueueItem(ctx, id); err != nil {
		return fmt.Errorf("op=queue.reset: %w", err)
	}
	return nil
}

// ResetAllFailed clears retry state on every failed item, returning them all
// to the pending pool. Used by the operator's "retry failed" bulk action.
func (m *Manager) ResetAllFailed(ctx domain.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "queue.ResetAllFailed")
	defer span.End()

	failed, err := m.Failed(ctx)
	if err != nil {
		return 0, err
	}
	for _, f := range failed {
		if err := m.store.ResetQueueItem(ctx, f.ID); err != nil {
			return 0, fmt.Errorf("op=queue.reset_all_failed: %w", err)
		}
	}
	return len(failed), nil
}

// Get loads a single queue item by id, used by the operator's
// resolve_conflict action to recover the item being resolved.
func (m *Manager) Get(ctx domain.Context, id int64) (domain.SyncQueueItem, error) {
	ctx, span := tracer.Start(ctx, "queue.Get")
	defer span.End()
	item, err := m.store.GetQueueItem(ctx, id)
	if err != nil {
		return domain.SyncQueueItem{}, fmt.Errorf("op=queue.get: %w", err)
	}
	return item, nil
}

// Stats reports aggregate queue depth counts for the operator status surface.
func (m *Manager) Stats(ctx domain.Context) (total, pending, retrying, failed int, err error) {
	ctx, span := tracer.Start(ctx, "queue.Stats")
	defer span.End()
	total, pending, retrying, failed, err = m.store.QueueStats(ctx)
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("op=queue.stats: %w", err)
	}
	return total, pending, retrying, failed, nil
}

// Contains reports whether a queue item exists for the given entity and
// operation. The data lifecycle component checks all operations at once
// through HasPending instead.
func (m *Manager) Contains(ctx domain.Context, kind domain.EntityKind, entityID string, op domain.Operation) (bool, error) {
	ctx, span := tracer.Start(ctx, "queue.Contains")
	defer span.End()
	_, found, err := m.store.FindQueueItem(ctx, kind, entityID, op)
	if err != nil {
		return false, fmt.Errorf("op=queue.contains: %w", err)
	}
	return found, nil
}

// HasPending reports whether any queue item — under any operation — still
// references the given entity, used by the data lifecycle component's
// "never delete rows with a pending queue item" invariant (spec.md §4.7).
func (m *Manager) HasPending(ctx domain.Context, kind domain.EntityKind, entityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "queue.HasPending")
	defer span.End()
	for _, op := range []domain.Operation{domain.OpCreate, domain.OpUpdate, domain.OpDelete} {
		_, found, err := m.store.FindQueueItem(ctx, kind, entityID, op)
		if err != nil {
			return false, fmt.Errorf("op=queue.has_pending: %w", err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

func nowMS() int64 { return time.Now().UnixMilli() }
