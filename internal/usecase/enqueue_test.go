package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/steam-vetter/internal/adapter/repo/filequeue"
	"github.com/fairyhunter13/steam-vetter/internal/domain"
)

const testAccountID = "76561197960434622"

// fakeCollector scripts the existence probe; Submit is never called by the
// enqueue path.
type fakeCollector struct {
	exists    bool
	existsErr error
	calls     int
}

func (f *fakeCollector) Exists(_ domain.Context, _ string) (bool, error) {
	f.calls++
	return f.exists, f.existsErr
}

func (f *fakeCollector) Submit(_ domain.Context, _, _ string) (domain.SubmitResult, error) {
	return domain.SubmitAccepted, nil
}

func newTestService(t *testing.T, col *fakeCollector) (EnqueueService, *filequeue.Store) {
	t.Helper()
	store, err := filequeue.New(filepath.Join(t.TempDir(), "profiles_queue.json"))
	require.NoError(t, err)
	return NewEnqueueService(store, col), store
}

func TestSubmit_Added(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{exists: false}
	svc, store := newTestService(t, col)

	res, err := svc.Submit(ctx, testAccountID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueAdded, res)
	assert.Equal(t, 1, col.calls)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, testAccountID, items[0].AccountID)
	assert.Equal(t, "alice", items[0].Submitter)
	for _, c := range domain.CheckOrder {
		assert.Equal(t, domain.StatusToCheck, items[0].Checks[c])
	}
}

func TestSubmit_InvalidInput(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{}
	svc, _ := newTestService(t, col)

	_, err := svc.Submit(ctx, "123", "alice")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Submit(ctx, "7656119796043462x", "alice")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Submit(ctx, testAccountID, "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	// Invalid input never reaches the collector.
	assert.Zero(t, col.calls)
}

func TestSubmit_AlreadyQueued(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{}
	svc, _ := newTestService(t, col)

	_, err := svc.Submit(ctx, testAccountID, "alice")
	require.NoError(t, err)

	res, err := svc.Submit(ctx, testAccountID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueAlreadyQueued, res)
	// The dedupe short-circuits before the second existence probe.
	assert.Equal(t, 1, col.calls)
}

func TestSubmit_AlreadyCollected(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{exists: true}
	svc, store := newTestService(t, col)

	res, err := svc.Submit(ctx, testAccountID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueAlreadyCollected, res)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSubmit_ExistenceCheckFailureQueuesAnyway(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{existsErr: errors.New("connection refused")}
	svc, store := newTestService(t, col)

	res, err := svc.Submit(ctx, testAccountID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.EnqueueAdded, res)

	items, err := store.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestQueueStats(t *testing.T) {
	ctx := context.Background()
	col := &fakeCollector{}
	svc, store := newTestService(t, col)
	stats := NewStatsService(store)

	_, err := svc.Submit(ctx, testAccountID, "alice")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "76561197960434623", "bob")
	require.NoError(t, err)

	st, err := stats.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.BySubmitter["alice"])
	assert.Equal(t, 1, st.BySubmitter["bob"])
}
