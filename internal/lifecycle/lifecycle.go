// Package lifecycle implements the data lifecycle/cleanup service described
// in spec.md §4.7: reclaiming synced=true rows, storage-cap accounting,
// stale-unsynced GC, and orphan queue purge, run on a periodic ticker
// driving its retention sweep.
package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitloop/syncd/internal/adapter/observability"
	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/queue"
)

var tracer = otel.Tracer("lifecycle")

// Config holds the tunables a Service sweeps against.
type Config struct {
	// UnsyncedRetention is the age past which an unsynced session (and its
	// frames) is deleted as a safety GC; a session that a queue item still
	// references is kept.
	UnsyncedRetention time.Duration
	// StorageCapBytes and MLStorageCapBytes are soft caps; crossing
	// MLStorageWarnPct of either only logs a warning, it never blocks writes
	// (the producer API has no backpressure mechanism — spec.md §6).
	StorageCapBytes   int64
	MLStorageCapBytes int64
	MLStorageWarnPct  int
}

// Report summarizes one sweep, returned to callers (e.g. the operator API)
// that want visibility without parsing logs.
type Report struct {
	DeletedSessions int
	PurgedOrphans   int
	Usage           domain.StorageUsage
	StorageWarn     bool
	MLStorageWarn   bool
}

// Service is the data lifecycle component. It holds no state beyond its
// config; every sweep re-reads the store.
type Service struct {
	store domain.Store
	queue *queue.Manager
	cfg   Config
}

// New builds a Service over the full embedded store and the queue manager
// facade.
func New(store domain.Store, qm *queue.Manager, cfg Config) *Service {
	return &Service{store: store, queue: qm, cfg: cfg}
}

// sweepStages is the number of independently-failing stages Sweep runs; used
// to decide whether to surface an error (only when every stage failed).
const sweepStages = 5

// Sweep runs one cleanup pass: reclaim synced sessions/frames, stale-unsynced
// GC, orphan queue purge, then storage-cap accounting. Each stage is
// best-effort; a failure in one does not abort the others, matching
// spec.md §7's "cleanup never blocks the drain loop" posture — errors are
// logged and folded into the returned error only if every stage failed.
func (s *Service) Sweep(ctx domain.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.Sweep")
	defer span.End()

	var rep Report
	var errs []error

	syncedSessions, err := s.store.DeleteSyncedSessions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete_synced_sessions: %w", err))
	}
	observability.RecordLifecycleDeletion("synced", syncedSessions)

	syncedFrames, err := s.store.DeleteSyncedFrames(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete_synced_frames: %w", err))
	}
	if syncedFrames > 0 {
		slog.Info("deleted synced frame batches", slog.Int("count", syncedFrames))
	}

	deleted, err := s.gcStaleUnsynced(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("gc_stale_unsynced: %w", err))
	}
	rep.DeletedSessions = syncedSessions + deleted
	observability.RecordLifecycleDeletion("stale_unsynced", deleted)

	orphans, err := s.purgeOrphans(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge_orphans: %w", err))
	}
	rep.PurgedOrphans = orphans

	usage, err := s.store.StorageUsage(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("storage_usage: %w", err))
	} else {
		rep.Usage = usage
		rep.StorageWarn = overWarnPct(usage.TotalBytes, s.cfg.StorageCapBytes, s.cfg.MLStorageWarnPct)
		rep.MLStorageWarn = overWarnPct(usage.MLBytes, s.cfg.MLStorageCapBytes, s.cfg.MLStorageWarnPct)
		observability.RecordStorageUsage(usage.TotalBytes, usage.MLBytes)
	}

	span.SetAttributes(
		attribute.Int("lifecycle.deleted_sessions", rep.DeletedSessions),
		attribute.Int("lifecycle.purged_orphans", rep.PurgedOrphans),
		attribute.Int64("lifecycle.total_bytes", rep.Usage.TotalBytes),
		attribute.Int64("lifecycle.ml_bytes", rep.Usage.MLBytes),
	)

	if rep.StorageWarn {
		slog.Warn("storage usage above warn threshold", slog.Int64("total_bytes", rep.Usage.TotalBytes), slog.Int64("cap_bytes", s.cfg.StorageCapBytes))
	}
	if rep.MLStorageWarn {
		slog.Warn("ml storage usage above warn threshold", slog.Int64("ml_bytes", rep.Usage.MLBytes), slog.Int64("ml_cap_bytes", s.cfg.MLStorageCapBytes))
	}

	if len(errs) == sweepStages {
		return rep, fmt.Errorf("op=lifecycle.sweep: %w", errs[0])
	}
	for _, e := range errs {
		slog.Error("lifecycle sweep stage failed", slog.Any("error", e))
	}
	return rep, nil
}

// gcStaleUnsynced deletes unsynced sessions (and their frames) older than
// UnsyncedRetention, skipping any session that still has a pending queue
// item referencing it (spec.md §4.7's "MUST NOT delete" invariant).
func (s *Service) gcStaleUnsynced(ctx domain.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.UnsyncedRetention).UnixMilli()
	stale, err := s.store.UnsyncedSessionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list_unsynced: %w", err)
	}

	deleted := 0
	for _, sess := range stale {
		pending, err := s.queue.HasPending(ctx, domain.EntitySession, sess.ID)
		if err != nil {
			return deleted, fmt.Errorf("has_pending(%s): %w", sess.ID, err)
		}
		if pending {
			slog.Debug("skipping stale-unsynced GC, queue item still pending", slog.String("session_id", sess.ID))
			continue
		}
		if err := s.store.DeleteFramesBySession(ctx, sess.ID); err != nil {
			return deleted, fmt.Errorf("delete_frames(%s): %w", sess.ID, err)
		}
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
			return deleted, fmt.Errorf("delete_session(%s): %w", sess.ID, err)
		}
		deleted++
		slog.Info("deleted stale unsynced session", slog.String("session_id", sess.ID), slog.Int64("updated_at", sess.UpdatedAt))
	}
	return deleted, nil
}

func (s *Service) purgeOrphans(ctx domain.Context) (int, error) {
	n, err := s.store.PurgeOrphanQueueItems(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("purged orphan queue items", slog.Int("count", n))
	}
	return n, nil
}

func overWarnPct(used, cap int64, warnPct int) bool {
	if cap <= 0 {
		return false
	}
	return used*100 >= cap*int64(warnPct)
}

// RunPeriodic runs an initial sweep, then sweeps again every interval until
// ctx is cancelled.
func (s *Service) RunPeriodic(ctx domain.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("initial lifecycle sweep failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("lifecycle service stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("periodic lifecycle sweep failed", slog.Any("error", err))
			}
		}
	}
}
