package jobs

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pdcad/internal/platform"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	store, err := NewStore(cfg, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t, Config{})
	ctx := context.Background()

	rec := &Record{
		ID:     "job-1",
		Status: StatusRunning,
		Role:   "researcher",
		Handle: platform.Handle("sess-1"),
		Task:   "investigate caching",
		Depth:  1,
	}
	require.NoError(t, store.Put(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, platform.Handle("sess-1"), got.Handle)
	assert.Equal(t, 1, got.Depth)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t, Config{})
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Finish(t *testing.T) {
	store := newTestStore(t, Config{})
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Record{ID: "job-1", Status: StatusRunning, Role: "coder"}))

	rec, err := store.Finish(ctx, "job-1", StatusCompleted, "all tests green", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "all tests green", rec.Result)

	// Second terminal transition loses the race.
	_, err = store.Finish(ctx, "job-1", StatusFailed, "", "late failure")
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStore_FinishRejectsNonTerminal(t *testing.T) {
	store := newTestStore(t, Config{})
	_, err := store.Finish(context.Background(), "job-1", StatusRunning, "", "")
	assert.Error(t, err)
}

func TestStore_ListAndRunning(t *testing.T) {
	store := newTestStore(t, Config{})
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Put(ctx, &Record{ID: "job-old", Status: StatusCompleted, CreatedAt: old}))
	require.NoError(t, store.Put(ctx, &Record{ID: "job-new", Status: StatusRunning}))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "job-new", all[0].ID)

	running, err := store.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job-new", running[0].ID)
}

func TestStore_ListEmptyDir(t *testing.T) {
	store := newTestStore(t, Config{})
	recs, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_ResultCap(t *testing.T) {
	store := newTestStore(t, Config{ResultMaxBytes: 8})
	ctx := context.Background()

	long := "preamble-and-the-conclusion"
	require.NoError(t, store.Put(ctx, &Record{ID: "job-1", Status: StatusRunning, Result: long}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, long[len(long)-8:], got.Result)
}

func TestStore_ResultCapKeepsValidUTF8(t *testing.T) {
	store := newTestStore(t, Config{ResultMaxBytes: 7})
	ctx := context.Background()

	// The naive byte cut would land inside the two-byte ö.
	require.NoError(t, store.Put(ctx, &Record{ID: "job-1", Status: StatusRunning, Result: "prefixör tail"}))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "r tail", got.Result)
	assert.True(t, utf8.ValidString(got.Result))
}
