package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/khanakya/internal/db"
	"github.com/vbonduro/khanakya/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func newRun(runID string, started time.Time) *domain.Run {
	return &domain.Run{
		RunID:       runID,
		Source:      domain.SourceUpload,
		Detection:   "tomato, onion, rice",
		Recipes:     "1. Tomato Rice",
		StartedAt:   started,
		CompletedAt: started.Add(3 * time.Second),
	}
}

func TestRunStoreCreate(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	run, err := store.Create(ctx, newRun("run-1", started))
	require.NoError(t, err)
	assert.NotZero(t, run.ID)
	assert.Equal(t, "run-1", run.RunID)
	assert.Equal(t, domain.SourceUpload, run.Source)
	assert.Equal(t, "tomato, onion, rice", run.Detection)
	assert.Equal(t, "1. Tomato Rice", run.Recipes)
	assert.True(t, started.Equal(run.StartedAt))
}

func TestRunStoreCreateFailedRun(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()

	failed := newRun("run-failed", time.Now().UTC())
	failed.Recipes = ""
	failed.ErrorStage = "generation"
	failed.ErrorText = "status 500"

	run, err := store.Create(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, "generation", run.ErrorStage)
	assert.Equal(t, "status 500", run.ErrorText)
	assert.Empty(t, run.Recipes)
}

func TestRunStoreDuplicateRunID(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()

	_, err := store.Create(ctx, newRun("dup", time.Now().UTC()))
	require.NoError(t, err)
	_, err = store.Create(ctx, newRun("dup", time.Now().UTC()))
	assert.Error(t, err)
}

func TestRunStoreGetByRunID(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()

	_, err := store.Create(ctx, newRun("abc", time.Now().UTC()))
	require.NoError(t, err)

	run, err := store.GetByRunID(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "abc", run.RunID)

	missing, err := store.GetByRunID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.Create(ctx, newRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunStoreListEmpty(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	runs, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunStoreDelete(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	ctx := context.Background()

	run, err := store.Create(ctx, newRun("gone", time.Now().UTC()))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, run.ID))

	got, err := store.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, store.Delete(ctx, run.ID))
}
