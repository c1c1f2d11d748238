package orchestrator_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/network"
	"github.com/fitloop/syncd/internal/orchestrator"
	"github.com/fitloop/syncd/internal/queue"
	"github.com/fitloop/syncd/internal/store/sqlite"
)

type fakeNetSource struct{ onChange func(domain.NetworkEvent) }

func (f *fakeNetSource) Subscribe(_ domain.Context, onChange func(domain.NetworkEvent)) (func(), error) {
	f.onChange = onChange
	return func() {}, nil
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	outcome func(item domain.SyncQueueItem) (domain.UploadOutcome, error)
}

func (f *fakeTransport) Upload(_ domain.Context, item domain.SyncQueueItem) (domain.UploadOutcome, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.outcome(item)
}

func setup(t *testing.T) (*sqlite.DB, *queue.Manager, *network.Monitor, *fakeNetSource) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	src := &fakeNetSource{}
	mon := network.New(src)
	require.NoError(t, mon.Start(context.Background()))
	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnWifi})

	return db, queue.New(db), mon, src
}

func TestOrchestrator_HappyPath(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	_, err := qm.EnqueueJSON(ctx, domain.EntitySession, "s1", domain.OpCreate, map[string]any{"id": "s1", "updated_at": 1})
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{Kind: domain.OutcomeAck}, nil
	}}

	var gotEvents []domain.EventKind
	o := orchestrator.New(db, qm, mon, tr, 20)
	o.Subscribe(func(e domain.Event) { gotEvents = append(gotEvents, e.Kind) })

	require.NoError(t, o.SyncNow(ctx))

	total, pending, _, _, err := qm.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, pending)

	sess, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Synced)

	assert.Contains(t, gotEvents, domain.EventSyncStarted)
	assert.Contains(t, gotEvents, domain.EventSyncCompleted)
}

func TestOrchestrator_BackoffToFailed(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	_, err := qm.EnqueueJSON(ctx, domain.EntitySession, "s1", domain.OpCreate, map[string]any{"id": "s1"})
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{Kind: domain.OutcomeTransientError, Err: domain.ErrTransientTransport}, domain.ErrTransientTransport
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)

	for i := 0; i < domain.MaxRetries; i++ {
		require.NoError(t, o.SyncNow(ctx))
	}

	failed, err := qm.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestOrchestrator_ConflictMerge(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", TotalReps: 5, ValidReps: 4,
		StartedAt: 1, CreatedAt: 1, UpdatedAt: 1000,
	}))
	payload, _ := json.Marshal(map[string]any{
		"total_reps": 5, "valid_reps": 4, "updated_at": 1000, "is_completed": false,
	})
	_, err := qm.Enqueue(ctx, domain.EntitySession, "s1", domain.OpUpdate, payload)
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{
			Kind: domain.OutcomeConflict,
			ServerRecord: map[string]any{
				"total_reps": 6, "valid_reps": 5, "updated_at": 2000, "is_completed": false,
			},
		}, domain.ErrConflict
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)
	require.NoError(t, o.SyncNow(ctx))

	sess, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	// Merge overlays local's non-timestamp fields onto server, so local wins
	// for total_reps/valid_reps; only updated_at moves to the server's value.
	assert.Equal(t, 5, sess.TotalReps)
	// The merged value was never uploaded, so the session must not be marked
	// synced: a premature ack would let the next lifecycle sweep delete it
	// before the server ever learns the merged state.
	assert.False(t, sess.Synced)

	total, pending, _, _, err := qm.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pending)

	item, found, err := db.FindQueueItem(ctx, domain.EntitySession, "s1", domain.OpUpdate)
	require.NoError(t, err)
	require.True(t, found)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(item.Payload, &payload))
	assert.EqualValues(t, 4, payload["valid_reps"])
	assert.EqualValues(t, 2000, payload["updated_at"])
}

func TestOrchestrator_ConflictServerWinsOnCompletion(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", TotalReps: 5, ValidReps: 4,
		StartedAt: 1, CreatedAt: 1, UpdatedAt: 1000, IsCompleted: false,
	}))
	payload, _ := json.Marshal(map[string]any{"updated_at": 1000, "is_completed": false})
	_, err := qm.Enqueue(ctx, domain.EntitySession, "s1", domain.OpUpdate, payload)
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{
			Kind:         domain.OutcomeConflict,
			ServerRecord: map[string]any{"updated_at": 2000, "is_completed": true, "completed_at": 5000},
		}, domain.ErrConflict
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)
	require.NoError(t, o.SyncNow(ctx))

	sess, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.IsCompleted)
}

func TestOrchestrator_MeteredCellularBlocksSync(t *testing.T) {
	db, qm, mon, src := setup(t)
	ctx := context.Background()
	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell4G, Metered: true})

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	_, err := qm.EnqueueJSON(ctx, domain.EntitySession, "s1", domain.OpCreate, map[string]any{"id": "s1"})
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{Kind: domain.OutcomeAck}, nil
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)
	err = o.SyncNow(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	assert.Zero(t, tr.calls)
}

func TestOrchestrator_ResolveConflict_Accept(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", TotalReps: 5, ValidReps: 4,
		StartedAt: 1, CreatedAt: 1, UpdatedAt: 1000,
	}))
	payload, _ := json.Marshal(map[string]any{"total_reps": 5, "valid_reps": 4, "updated_at": 1000, "is_completed": false})
	id, err := qm.Enqueue(ctx, domain.EntitySession, "s1", domain.OpUpdate, payload)
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{
			Kind:         domain.OutcomeConflict,
			ServerRecord: map[string]any{"total_reps": 9, "valid_reps": 9, "updated_at": 2000, "is_completed": false},
		}, domain.ErrConflict
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)

	var gotEvents []domain.EventKind
	o.Subscribe(func(e domain.Event) { gotEvents = append(gotEvents, e.Kind) })

	require.NoError(t, o.SyncNow(ctx))
	assert.Contains(t, gotEvents, domain.EventSyncConflict)

	require.NoError(t, o.ResolveConflict(ctx, id, domain.ResolveAccept))

	sess, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, sess.Synced)
	assert.Equal(t, 5, sess.TotalReps, "accept keeps the client's local value")

	total, _, _, _, err := qm.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestOrchestrator_ResolveConflict_Skip(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", TotalReps: 5, ValidReps: 4,
		StartedAt: 1, CreatedAt: 1, UpdatedAt: 1000,
	}))
	payload, _ := json.Marshal(map[string]any{"total_reps": 5, "valid_reps": 4, "updated_at": 1000, "is_completed": false})
	id, err := qm.Enqueue(ctx, domain.EntitySession, "s1", domain.OpUpdate, payload)
	require.NoError(t, err)

	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		return domain.UploadOutcome{
			Kind:         domain.OutcomeConflict,
			ServerRecord: map[string]any{"total_reps": 9, "valid_reps": 9, "updated_at": 2000, "is_completed": false},
		}, domain.ErrConflict
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)
	require.NoError(t, o.SyncNow(ctx))

	require.NoError(t, o.ResolveConflict(ctx, id, domain.ResolveSkip))

	sess, err := db.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, sess.Synced, "skip must not mark the row synced")
	assert.Equal(t, 5, sess.TotalReps, "skip must not apply the server's record")

	total, _, _, _, err := qm.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "skip removes the queue item")
}

func TestOrchestrator_ResolveConflict_UnknownItem(t *testing.T) {
	db, qm, mon, _ := setup(t)
	o := orchestrator.New(db, qm, mon, &fakeTransport{}, 20)

	err := o.ResolveConflict(context.Background(), 999, domain.ResolveAccept)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	db, qm, mon, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	_, err := qm.EnqueueJSON(ctx, domain.EntitySession, "s1", domain.OpCreate, map[string]any{"id": "s1"})
	require.NoError(t, err)

	release := make(chan struct{})
	tr := &fakeTransport{outcome: func(domain.SyncQueueItem) (domain.UploadOutcome, error) {
		<-release
		return domain.UploadOutcome{Kind: domain.OutcomeAck}, nil
	}}
	o := orchestrator.New(db, qm, mon, tr, 20)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = o.SyncNow(ctx) }()
	time.Sleep(20 * time.Millisecond)
	go func() { defer wg.Done(); _ = o.SyncNow(ctx) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, tr.calls)
}
