package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
)

func TestCache_UpsertAndGetUser(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertUser(ctx, domain.UserCache{ID: "u1", DisplayName: "Ada", LastSeenAt: 100}))
	u, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.DisplayName)

	require.NoError(t, db.UpsertUser(ctx, domain.UserCache{ID: "u1", DisplayName: "Ada L.", LastSeenAt: 200}))
	u, err = db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", u.DisplayName)
	assert.EqualValues(t, 200, u.LastSeenAt)
}

func TestCache_GetUser_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCache_UpsertAndGetExercise(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertExercise(ctx, domain.ExerciseCache{ID: "e1", DisplayName: "Squat", LastSeenAt: 100}))
	e, err := db.GetExercise(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Squat", e.DisplayName)
}

func TestCache_GetExercise_NotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetExercise(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
