package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
)

func TestLifecycle_UnsyncedOlderThan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "old", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1000,
	}))
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "new", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 9000,
	}))
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "synced-old", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 500, Synced: true,
	}))

	stale, err := db.UnsyncedSessionsOlderThan(ctx, 5000)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestLifecycle_DeleteSyncedSessions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "synced", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1, Synced: true,
	}))
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "unsynced", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "synced-pending", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1, Synced: true,
	}))
	_, err := db.InsertQueueItem(ctx, domain.SyncQueueItem{
		EntityKind: domain.EntitySession, EntityID: "synced-pending", Operation: domain.OpUpdate,
		Payload: []byte(`{}`), CreatedAt: 1, UpdatedAt: 1,
	})
	require.NoError(t, err)

	n, err := db.DeleteSyncedSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.GetSession(ctx, "synced")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = db.GetSession(ctx, "unsynced")
	assert.NoError(t, err)

	_, err = db.GetSession(ctx, "synced-pending")
	assert.NoError(t, err, "a synced session with a pending queue item must survive")
}

func TestLifecycle_DeleteSyncedFrames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s2", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f1", SessionID: "s1", FrameNumber: 0, CapturedAt: 1, CreatedAt: 1},
	}))
	require.NoError(t, db.MarkFramesSynced(ctx, "s1"))
	require.NoError(t, db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f2", SessionID: "s2", FrameNumber: 0, CapturedAt: 1, CreatedAt: 1},
	}))
	require.NoError(t, db.MarkFramesSynced(ctx, "s2"))
	_, err := db.InsertQueueItem(ctx, domain.SyncQueueItem{
		EntityKind: domain.EntityMLBatch, EntityID: "s2", Operation: domain.OpCreate,
		Payload: []byte(`{}`), CreatedAt: 1, UpdatedAt: 1,
	})
	require.NoError(t, err)

	n, err := db.DeleteSyncedFrames(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f1, err := db.ListFramesBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, f1)

	f2, err := db.ListFramesBySession(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, f2, 1, "a synced frame batch with a pending ml-batch queue item must survive")
}

func TestLifecycle_StorageUsageGrowsWithFrames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	before, err := db.StorageUsage(ctx)
	require.NoError(t, err)

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f1", SessionID: "s1", FrameNumber: 0, CapturedAt: 1, Landmarks: make([]byte, 4096), CreatedAt: 1},
	}))

	after, err := db.StorageUsage(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.MLBytes, before.MLBytes)
	assert.GreaterOrEqual(t, after.TotalBytes, before.TotalBytes)
}
