package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-search/internal/search"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	job := search.Job{ID: "job-1", Owner: "o", Query: "pizza", ResultCap: 5, CreatedAt: now}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusPending, got.Status)

	require.NoError(t, store.MarkRunning(ctx, "job-1", search.Progress{TargetResultCount: 5}, now))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", search.Progress{Percentage: 40, CurrentCity: "Natal"}))
	require.NoError(t, store.UpdateProgress(ctx, "job-1", search.Progress{Percentage: 20, CurrentCity: "Recife"}))

	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress.Percentage)
	require.Equal(t, "Recife", got.Progress.CurrentCity)
	require.NotNil(t, got.StartedAt)

	results := []search.Place{{Name: "a", Position: 1}, {Name: "b", Position: 2}}
	require.NoError(t, store.Complete(ctx, "job-1", results, search.Progress{Percentage: 100}, now.Add(time.Minute)))
	results[0].Name = "mutated"

	got, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusCompleted, got.Status)
	require.Equal(t, 2, got.TotalFound)
	require.Equal(t, "a", got.Results[0].Name)
	require.Equal(t, now.Add(time.Minute), *got.CompletedAt)

	got.Results[1].Name = "reader copy"
	again, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "b", again.Results[1].Name)
}

func TestJobStoreRejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "j", Owner: "o"}))

	require.ErrorIs(t, store.Complete(ctx, "j", nil, search.Progress{}, now), search.ErrInvalidTransition)
	require.ErrorIs(t, store.UpdateProgress(ctx, "j", search.Progress{}), search.ErrInvalidTransition)

	require.NoError(t, store.MarkRunning(ctx, "j", search.Progress{}, now))
	require.ErrorIs(t, store.MarkRunning(ctx, "j", search.Progress{}, now), search.ErrInvalidTransition)

	require.NoError(t, store.Fail(ctx, "j", "provider exploded", now))
	require.ErrorIs(t, store.Complete(ctx, "j", nil, search.Progress{}, now), search.ErrInvalidTransition)
	require.ErrorIs(t, store.Fail(ctx, "j", "again", now), search.ErrInvalidTransition)

	got, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusFailed, got.Status)
	require.Equal(t, "provider exploded", *got.ErrorMessage)
	require.Empty(t, got.Results)
}

func TestJobStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	_, err := store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, search.ErrNotFound)
	require.ErrorIs(t, store.MarkRunning(ctx, "missing", search.Progress{}, time.Now()), search.ErrNotFound)
	require.ErrorIs(t, store.UpdateProgress(ctx, "missing", search.Progress{}), search.ErrNotFound)
	require.ErrorIs(t, store.DeleteJob(ctx, "missing"), search.ErrNotFound)
}

func TestJobStoreListByOwnerNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "old", Owner: "o", CreatedAt: base}))
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "new", Owner: "o", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "other", Owner: "x", CreatedAt: base.Add(2 * time.Hour)}))

	jobs, err := store.ListJobsByOwner(ctx, "o")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "new", jobs[0].ID)
	require.Equal(t, "old", jobs[1].ID)

	none, err := store.ListJobsByOwner(ctx, "nobody")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestJobStoreListByStatusOldestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "second", Owner: "o", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "first", Owner: "x", CreatedAt: base}))
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "busy", Owner: "o", CreatedAt: base}))
	require.NoError(t, store.MarkRunning(ctx, "busy", search.Progress{}, base))

	pending, err := store.ListJobsByStatus(ctx, search.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "first", pending[0].ID)
	require.Equal(t, "second", pending[1].ID)

	running, err := store.ListJobsByStatus(ctx, search.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "busy", running[0].ID)
}

func TestJobStoreDeleteRefusesRunning(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, search.Job{ID: "j", Owner: "o"}))
	require.NoError(t, store.MarkRunning(ctx, "j", search.Progress{}, time.Now()))
	require.ErrorIs(t, store.DeleteJob(ctx, "j"), search.ErrJobActive)

	require.NoError(t, store.Complete(ctx, "j", nil, search.Progress{Percentage: 100}, time.Now()))
	require.NoError(t, store.DeleteJob(ctx, "j"))
	_, err := store.GetJob(ctx, "j")
	require.ErrorIs(t, err, search.ErrNotFound)
}
