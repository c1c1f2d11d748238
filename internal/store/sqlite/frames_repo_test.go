package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
)

func TestFrames_InsertBatchAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))

	frames := []domain.MLTrainingFrame{
		{ID: "f1", SessionID: "s1", FrameNumber: 1, CapturedAt: 10, Landmarks: []byte{1, 2},
			AngleData: map[string]float64{"knee": 92.5}, PhaseLabel: "descent", IsValid: true, Confidence: 0.9, CreatedAt: 10},
		{ID: "f0", SessionID: "s1", FrameNumber: 0, CapturedAt: 5, Landmarks: []byte{0}, CreatedAt: 5},
	}
	require.NoError(t, db.InsertFrames(ctx, frames))

	got, err := db.ListFramesBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].FrameNumber)
	assert.Equal(t, int64(1), got[1].FrameNumber)
	assert.InDelta(t, 92.5, got[1].AngleData["knee"], 0.001)
}

func TestFrames_InsertEmptyBatchIsNoop(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InsertFrames(context.Background(), nil))
}

func TestFrames_UniqueSessionFrameNumber(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f1", SessionID: "s1", FrameNumber: 0, CapturedAt: 1, Landmarks: []byte{1}, CreatedAt: 1},
	}))
	err := db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f2", SessionID: "s1", FrameNumber: 0, CapturedAt: 2, Landmarks: []byte{2}, CreatedAt: 2},
	})
	assert.Error(t, err)
}

func TestFrames_MarkSyncedThenDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.CreateSession(ctx, domain.WorkoutSession{
		ID: "s1", OwnerID: "u1", ExerciseID: "e", StartedAt: 1, CreatedAt: 1, UpdatedAt: 1,
	}))
	require.NoError(t, db.InsertFrames(ctx, []domain.MLTrainingFrame{
		{ID: "f1", SessionID: "s1", FrameNumber: 0, CapturedAt: 1, Landmarks: []byte{1}, CreatedAt: 1},
	}))

	require.NoError(t, db.MarkFramesSynced(ctx, "s1"))
	got, err := db.ListFramesBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Synced)

	require.NoError(t, db.DeleteFramesBySession(ctx, "s1"))
	got, err = db.ListFramesBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
