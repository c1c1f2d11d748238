package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/queue"
	"github.com/fitloop/syncd/internal/store/sqlite"
)

func newManager(t *testing.T) (*queue.Manager, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return queue.New(db), db
}

func TestManager_EnqueueDedup(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	id1, err := m.Enqueue(ctx, domain.EntitySession, "sess-1", domain.OpUpdate, []byte(`{"v":1}`))
	require.NoError(t, err)

	id2, err := m.Enqueue(ctx, domain.EntitySession, "sess-1", domain.OpUpdate, []byte(`{"v":2}`))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	total, pending, _, _, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, pending)
}

func TestManager_RecordFailureAndFailedAfterCeiling(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, domain.EntitySession, "sess-1", domain.OpCreate, []byte(`{}`))
	require.NoError(t, err)

	for i := 0; i < domain.MaxRetries; i++ {
		require.NoError(t, m.RecordFailure(ctx, id, assertErr("boom")))
	}

	failed, err := m.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	n, err := m.ClearFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err = m.Failed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestManager_ResetAllFailed(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, domain.EntitySession, "sess-1", domain.OpCreate, []byte(`{}`))
	require.NoError(t, err)
	for i := 0; i < domain.MaxRetries; i++ {
		require.NoError(t, m.RecordFailure(ctx, id, assertErr("boom")))
	}

	n, err := m.ResetAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed, err := m.Failed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	pending, err := m.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestManager_Contains(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	ok, err := m.Contains(ctx, domain.EntitySession, "sess-1", domain.OpCreate)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Enqueue(ctx, domain.EntitySession, "sess-1", domain.OpCreate, []byte(`{}`))
	require.NoError(t, err)

	ok, err = m.Contains(ctx, domain.EntitySession, "sess-1", domain.OpCreate)
	require.NoError(t, err)
	assert.True(t, ok)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(s string) error { return simpleErr(s) }
