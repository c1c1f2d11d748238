// Package orchestrator implements the sync orchestrator described in
// spec.md §4.6: it drains the sync queue against the transport, publishes
// progress on an event bus, and runs an auto-sync timer the host app can
// pause while backgrounded.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/fitloop/syncd/internal/adapter/observability"
	"github.com/fitloop/syncd/internal/conflict"
	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/network"
	"github.com/fitloop/syncd/internal/queue"
)

var tracer = otel.Tracer("orchestrator")

const drainKey = "drain"

// Status is the snapshot GetStatus returns to the operator API.
type Status struct {
	Queue     QueueDepth           `json:"queue"`
	Network   domain.NetworkStatus `json:"network"`
	Running   bool                 `json:"is_syncing"`
	Paused    bool                 `json:"paused"`
	LastRun   time.Time            `json:"last_run"`
	LastRunID string               `json:"last_run_id,omitempty"`
}

// QueueDepth mirrors domain.QueueStore.QueueStats in struct form.
type QueueDepth struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}

// Orchestrator is a process-wide singleton coordinating drains. Construct
// with New; call StartAutoSync to begin the timer-driven background loop.
type Orchestrator struct {
	store     domain.Store
	queue     *queue.Manager
	monitor   *network.Monitor
	transport domain.Transport
	bus       *Bus
	batchSize int

	sf singleflight.Group

	mu         sync.Mutex
	paused     bool
	running    bool
	lastRun    time.Time
	lastRunID  string
	autoCancel context.CancelFunc

	// conflicts holds the server record captured at the moment a manual
	// conflict surfaced, keyed by queue item id, so resolve_conflict can act
	// on it without re-uploading first. Entries are removed once resolved.
	conflicts map[int64]domain.UploadOutcome
}

// New builds an Orchestrator. batchSize caps how many items a single drain
// pulls from the pending+retryable pools before yielding; the network
// monitor's RecommendedBatch further narrows this per spec.md §4.4.
func New(store domain.Store, qm *queue.Manager, monitor *network.Monitor, tr domain.Transport, batchSize int) *Orchestrator {
	return &Orchestrator{
		store:     store,
		queue:     qm,
		monitor:   monitor,
		transport: tr,
		bus:       NewBus(),
		batchSize: batchSize,
		conflicts: make(map[int64]domain.UploadOutcome),
	}
}

// Subscribe registers an event listener; see domain.Listener for the
// synchronous, non-blocking delivery contract.
func (o *Orchestrator) Subscribe(l domain.Listener) (unsubscribe func()) {
	return o.bus.Subscribe(l)
}

// SyncNow triggers an immediate drain. Per the Open Question resolution in
// DESIGN.md, it forces the retry scheduler's backoff window open (so
// recently-failed items are reconsidered) but does not reset retry counts
// and does not bypass the network can_sync gate.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	return o.drain(ctx, true)
}

// RunAutoSync performs one drain the way the auto-sync timer would: without
// forcing the backoff window open.
func (o *Orchestrator) RunAutoSync(ctx context.Context) error {
	return o.drain(ctx, false)
}

// RetryFailed resets every failed item's retry state and immediately drains.
func (o *Orchestrator) RetryFailed(ctx context.Context) (int, error) {
	n, err := o.queue.ResetAllFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=orchestrator.retry_failed: %w", err)
	}
	if n > 0 {
		if err := o.drain(ctx, true); err != nil && !isBenignDrainErr(err) {
			return n, err
		}
	}
	return n, nil
}

// ClearFailed deletes every failed item without retrying it.
func (o *Orchestrator) ClearFailed(ctx context.Context) (int, error) {
	n, err := o.queue.ClearFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=orchestrator.clear_failed: %w", err)
	}
	return n, nil
}

// GetStatus reports the current queue depth, network status, and whether a
// drain is in flight or the auto-sync timer is paused.
func (o *Orchestrator) GetStatus(ctx context.Context) (Status, error) {
	total, pending, retrying, failed, err := o.queue.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("op=orchestrator.get_status: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Queue:     QueueDepth{total, pending, retrying, failed},
		Network:   o.monitor.Status(),
		Running:   o.running,
		Paused:    o.paused,
		LastRun:   o.lastRun,
		LastRunID: o.lastRunID,
	}, nil
}

// StartAutoSync launches the timer-driven background drain loop at the
// given interval. Cancel the parent context (or call Cancel) to stop it.
func (o *Orchestrator) StartAutoSync(parent context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	if o.autoCancel != nil {
		o.autoCancel()
	}
	o.autoCancel = cancel
	o.mu.Unlock()

	go o.autoSyncLoop(ctx, interval)
}

// Cancel stops the auto-sync timer loop, if running. A drain already in
// flight completes; Cancel does not interrupt mid-item work.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.autoCancel
	o.autoCancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause suspends the auto-sync timer without stopping it permanently; the
// host app calls this when backgrounded (spec.md §5).
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// Resume un-suspends a paused auto-sync timer.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

func (o *Orchestrator) autoSyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			paused := o.paused
			o.mu.Unlock()
			if paused {
				continue
			}
			if err := o.RunAutoSync(ctx); err != nil && !isBenignDrainErr(err) {
				slog.Warn("auto-sync drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// drain runs a single drain under the single-flight lease, guaranteeing at
// most one is in flight at any moment (spec.md §5).
func (o *Orchestrator) drain(ctx context.Context, force bool) error {
	_, err, _ := o.sf.Do(drainKey, func() (any, error) {
		return nil, o.drainOnce(ctx, force)
	})
	return err
}

func (o *Orchestrator) drainOnce(ctx context.Context, force bool) error {
	runID := ulid.Make().String()
	start := time.Now()

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.lastRun = time.Now()
		o.lastRunID = runID
		o.mu.Unlock()
		observability.RecordDrainDuration(time.Since(start))
		if total, pending, retrying, failed, err := o.queue.Stats(ctx); err == nil {
			_ = total
			observability.RecordQueueDepth(pending, retrying, failed)
		}
	}()

	ctx, span := tracer.Start(ctx, "orchestrator.Drain")
	defer span.End()
	span.SetAttributes(attribute.String("drain.run_id", runID), attribute.Bool("drain.force", force))

	o.bus.Publish(domain.Event{Kind: domain.EventSyncStarted, RunID: runID, At: time.Now()})

	status := o.monitor.Status()
	if !status.CanSync {
		o.bus.Publish(domain.Event{Kind: domain.EventSyncFailed, RunID: runID, Reason: "network_unavailable", At: time.Now()})
		return fmt.Errorf("op=orchestrator.drain: %w", domain.ErrNetworkUnavailable)
	}

	limit := o.batchSize
	if status.RecommendedBatch > 0 && status.RecommendedBatch < limit {
		limit = status.RecommendedBatch
	}

	pending, err := o.queue.Pending(ctx, limit)
	if err != nil {
		return fmt.Errorf("op=orchestrator.drain.pending: %w", err)
	}
	remaining := limit - len(pending)
	var retryable []domain.SyncQueueItem
	if remaining > 0 {
		retryable, err = o.queue.Retryable(ctx, remaining, force)
		if err != nil {
			return fmt.Errorf("op=orchestrator.drain.retryable: %w", err)
		}
	}

	items := append(pending, retryable...)
	total := len(items)
	o.bus.Publish(domain.Event{Kind: domain.EventSyncQueueing, RunID: runID, Total: total, At: time.Now()})

	var synced, failedCount, conflicts int
	for i, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		o.bus.Publish(domain.Event{Kind: domain.EventSyncProcessing, RunID: runID, ItemID: item.ID, Current: i + 1, Total: total, At: time.Now()})

		switch result := o.processItem(ctx, item); result {
		case outcomeSynced:
			synced++
			observability.RecordSyncOutcome("synced")
		case outcomeConflictManual:
			conflicts++
			observability.RecordSyncOutcome("conflict")
		case outcomeConflictRequeued:
			conflicts++
			observability.RecordSyncOutcome("conflict_requeued")
		case outcomeFailed:
			failedCount++
			observability.RecordSyncOutcome("failed")
		}

		o.bus.Publish(domain.Event{Kind: domain.EventSyncProgress, RunID: runID, Current: i + 1, Total: total, Synced: synced, Failed: failedCount, Conflicts: conflicts, At: time.Now()})
	}

	o.bus.Publish(domain.Event{Kind: domain.EventSyncCompleted, RunID: runID, Synced: synced, Failed: failedCount, Conflicts: conflicts, Total: total, At: time.Now()})
	return nil
}

type itemOutcome int

const (
	outcomeSynced itemOutcome = iota
	outcomeConflictManual
	outcomeConflictRequeued
	outcomeFailed
)

func (o *Orchestrator) processItem(ctx context.Context, item domain.SyncQueueItem) itemOutcome {
	outcome, err := o.transport.Upload(ctx, item)
	switch {
	case err == nil && outcome.Kind == domain.OutcomeAck:
		o.onAck(ctx, item)
		return outcomeSynced

	case outcome.Kind == domain.OutcomeConflict:
		return o.onConflict(ctx, item, outcome)

	default:
		if recErr := o.queue.RecordFailure(ctx, item.ID, errOrDefault(err, outcome)); recErr != nil {
			slog.Error("failed to record queue failure", slog.Int64("item_id", item.ID), slog.String("error", recErr.Error()))
		}
		return outcomeFailed
	}
}

func (o *Orchestrator) onAck(ctx context.Context, item domain.SyncQueueItem) {
	o.markSynced(ctx, item)
	if err := o.queue.Remove(ctx, item.ID); err != nil {
		slog.Error("failed to remove synced queue item", slog.Int64("item_id", item.ID), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) markSynced(ctx context.Context, item domain.SyncQueueItem) {
	var err error
	switch item.EntityKind {
	case domain.EntitySession:
		err = o.store.MarkSessionSynced(ctx, item.EntityID)
	case domain.EntityMLBatch:
		err = o.store.MarkFramesSynced(ctx, item.EntityID)
	}
	if err != nil {
		slog.Error("failed to mark entity synced", slog.String("entity_id", item.EntityID), slog.String("error", err.Error()))
	}
}

// onConflict runs the conflict detector against the item's local payload and
// the server's reported record, then applies the resulting strategy.
// Sessions are the only entity kind with a real merge path today; ML
// batches are append-only and always resolve client_wins at the detector
// level, so they fall through to the ack path.
func (o *Orchestrator) onConflict(ctx context.Context, item domain.SyncQueueItem, outcome domain.UploadOutcome) itemOutcome {
	var local map[string]any
	if err := json.Unmarshal(item.Payload, &local); err != nil {
		slog.Error("conflict payload undecodable", slog.Int64("item_id", item.ID), slog.String("error", err.Error()))
		_ = o.queue.RecordFailure(ctx, item.ID, err)
		return outcomeFailed
	}

	result := conflict.Detect(item.EntityKind, local, outcome.ServerRecord)
	switch result.Strategy {
	case domain.StrategyClientWins:
		o.onAck(ctx, item)
		return outcomeSynced

	case domain.StrategyServerWins:
		o.applySessionFields(ctx, item.EntityID, outcome.ServerRecord)
		o.onAck(ctx, item)
		return outcomeSynced

	case domain.StrategyMerge:
		// The merged record (e.g. valid_reps from the local side) has never
		// been uploaded, so it is not safe to ack-and-delete the conflicting
		// item here: that would let the next lifecycle sweep physically
		// delete the session before the server ever learns the merged
		// value. Instead apply the merge locally and re-enqueue an update
		// operation carrying the resolved state (spec.md §4.6 step 5c,
		// §8 scenario 3), leaving it for a subsequent drain to upload.
		merged := conflict.Merge(local, outcome.ServerRecord)
		o.applySessionFields(ctx, item.EntityID, merged)

		newID, err := o.queue.EnqueueJSON(ctx, item.EntityKind, item.EntityID, domain.OpUpdate, merged)
		if err != nil {
			slog.Error("failed to re-enqueue merged update", slog.Int64("item_id", item.ID), slog.String("error", err.Error()))
			_ = o.queue.RecordFailure(ctx, item.ID, err)
			return outcomeFailed
		}
		if newID != item.ID {
			if err := o.queue.Remove(ctx, item.ID); err != nil {
				slog.Error("failed to remove superseded conflict item", slog.Int64("item_id", item.ID), slog.String("error", err.Error()))
			}
		}
		return outcomeConflictRequeued

	default: // manual
		o.mu.Lock()
		o.conflicts[item.ID] = outcome
		o.mu.Unlock()
		o.bus.Publish(domain.Event{Kind: domain.EventSyncConflict, ItemID: item.ID, Reason: "manual_resolution_required", At: time.Now()})
		return outcomeConflictManual
	}
}

// ResolveConflict applies the operator's manual decision for a queue item
// that previously surfaced as a manual conflict. accept keeps the local
// (client) value and acks as if the server had agreed (client_wins); retry
// re-attempts the upload, which may surface a new conflict or resolve
// cleanly; skip discards the queued change entirely, leaving the local row
// exactly as it was, without ever marking it synced.
//
// Resolving an item id this method has no record of (already resolved, or
// never conflicted) returns domain.ErrNotFound.
func (o *Orchestrator) ResolveConflict(ctx context.Context, itemID int64, action domain.ResolveAction) error {
	ctx, span := tracer.Start(ctx, "orchestrator.ResolveConflict")
	defer span.End()
	span.SetAttributes(attribute.Int64("conflict.item_id", itemID), attribute.String("conflict.action", string(action)))

	o.mu.Lock()
	_, tracked := o.conflicts[itemID]
	delete(o.conflicts, itemID)
	o.mu.Unlock()
	if !tracked {
		return fmt.Errorf("op=orchestrator.resolve_conflict: %w", domain.ErrNotFound)
	}

	item, err := o.queue.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("op=orchestrator.resolve_conflict.get: %w", err)
	}

	switch action {
	case domain.ResolveAccept:
		o.onAck(ctx, item)
	case domain.ResolveRetry:
		o.processItem(ctx, item)
	case domain.ResolveSkip:
		if err := o.queue.Remove(ctx, item.ID); err != nil {
			return fmt.Errorf("op=orchestrator.resolve_conflict.skip: %w", err)
		}
	default:
		return fmt.Errorf("op=orchestrator.resolve_conflict: unknown action %q", action)
	}
	return nil
}

func (o *Orchestrator) applySessionFields(ctx context.Context, sessionID string, fields map[string]any) {
	if fields == nil {
		return
	}
	current, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("conflict resolution: session not found locally", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return
	}

	b, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, &current)
	if err := o.store.UpdateSession(ctx, current); err != nil {
		slog.Error("conflict resolution: failed to apply resolved fields", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}

func errOrDefault(err error, outcome domain.UploadOutcome) error {
	if err != nil {
		return err
	}
	if outcome.Err != nil {
		return outcome.Err
	}
	return fmt.Errorf("upload outcome %s with no error detail", outcome.Kind)
}

func isBenignDrainErr(err error) bool {
	return errors.Is(err, domain.ErrNetworkUnavailable) || errors.Is(err, context.Canceled)
}
