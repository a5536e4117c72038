package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-search/internal/search"
)

func newTestStore(t *testing.T) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewJobStore(client, WithPrefix("test:"))
	require.NoError(t, err)
	return store, mr
}

func pendingJob(id, owner string, created time.Time) search.Job {
	return search.Job{
		ID:        id,
		Owner:     owner,
		Query:     "pizza",
		ResultCap: 10,
		CreatedAt: created,
		Progress:  search.Progress{TargetResultCount: 10},
	}
}

func TestNewJobStoreRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore(nil)
	require.Error(t, err)
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	ctx := context.Background()
	created := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.CreateJob(ctx, pendingJob("a", "o", created)))
	require.Error(t, store.CreateJob(ctx, pendingJob("a", "o", created)))
	require.True(t, mr.Exists("test:job:a"))

	job, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusPending, job.Status)
	require.True(t, created.Equal(job.CreatedAt))
	require.Nil(t, job.Results)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, search.ErrNotFound)
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("a", "o", now)))

	err := store.UpdateProgress(ctx, "a", search.Progress{Percentage: 10})
	require.ErrorIs(t, err, search.ErrInvalidTransition)

	require.NoError(t, store.MarkRunning(ctx, "a", search.Progress{TotalCities: 3}, now))
	require.ErrorIs(t, store.MarkRunning(ctx, "a", search.Progress{}, now), search.ErrInvalidTransition)

	require.NoError(t, store.UpdateProgress(ctx, "a", search.Progress{Percentage: 40}))
	require.NoError(t, store.UpdateProgress(ctx, "a", search.Progress{Percentage: 20, CurrentCity: "Campinas"}))
	job, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 40, job.Progress.Percentage)
	require.Equal(t, "Campinas", job.Progress.CurrentCity)

	results := []search.Place{{Name: "Forno", Address: "Rua 1", Position: 1}}
	require.NoError(t, store.Complete(ctx, "a", results, search.Progress{Percentage: 100}, now.Add(time.Minute)))
	require.ErrorIs(t, store.Fail(ctx, "a", "late", now), search.ErrInvalidTransition)

	job, err = store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.TotalFound)
	require.Equal(t, results, job.Results)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
}

func TestFailClearsResults(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("a", "o", now)))
	require.NoError(t, store.MarkRunning(ctx, "a", search.Progress{}, now))
	require.NoError(t, store.Fail(ctx, "a", "provider down", now))

	job, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, search.JobStatusFailed, job.Status)
	require.Equal(t, "provider down", *job.ErrorMessage)
	require.Zero(t, job.TotalFound)
	require.Nil(t, job.Results)
}

func TestTransitionsOnMissingJob(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	require.ErrorIs(t, store.MarkRunning(ctx, "ghost", search.Progress{}, time.Now()), search.ErrNotFound)
	require.ErrorIs(t, store.DeleteJob(ctx, "ghost"), search.ErrNotFound)
}

func TestListJobsByOwnerNewestFirst(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("old", "o", base)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("new", "o", base.Add(time.Hour))))
	require.NoError(t, store.CreateJob(ctx, pendingJob("other", "someone-else", base)))

	jobs, err := store.ListJobsByOwner(ctx, "o")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "new", jobs[0].ID)
	require.Equal(t, "old", jobs[1].ID)

	mr.Del("test:job:old")
	jobs, err = store.ListJobsByOwner(ctx, "o")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = store.ListJobsByOwner(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestListJobsByStatusScansSnapshots(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("late", "o", base.Add(time.Hour))))
	require.NoError(t, store.CreateJob(ctx, pendingJob("early", "p", base)))
	require.NoError(t, store.CreateJob(ctx, pendingJob("busy", "o", base)))
	require.NoError(t, store.MarkRunning(ctx, "busy", search.Progress{}, base))

	pending, err := store.ListJobsByStatus(ctx, search.JobStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "early", pending[0].ID)
	require.Equal(t, "late", pending[1].ID)

	running, err := store.ListJobsByStatus(ctx, search.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "busy", running[0].ID)

	done, err := store.ListJobsByStatus(ctx, search.JobStatusCompleted)
	require.NoError(t, err)
	require.Empty(t, done)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("a", "o", now)))
	require.NoError(t, store.MarkRunning(ctx, "a", search.Progress{}, now))

	require.ErrorIs(t, store.DeleteJob(ctx, "a"), search.ErrJobActive)

	require.NoError(t, store.Complete(ctx, "a", nil, search.Progress{Percentage: 100}, now))
	require.NoError(t, store.DeleteJob(ctx, "a"))
	require.False(t, mr.Exists("test:job:a"))

	jobs, err := store.ListJobsByOwner(ctx, "o")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestConcurrentProgressKeepsMaximum(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.CreateJob(ctx, pendingJob("a", "o", now)))
	require.NoError(t, store.MarkRunning(ctx, "a", search.Progress{}, now))

	var wg sync.WaitGroup
	for pct := 1; pct <= 4; pct++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = store.UpdateProgress(ctx, "a", search.Progress{Percentage: p * 10})
		}(pct)
	}
	wg.Wait()
	require.NoError(t, store.UpdateProgress(ctx, "a", search.Progress{Percentage: 5}))

	job, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.GreaterOrEqual(t, job.Progress.Percentage, 10)
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()
	require.Error(t, store.Ping(context.Background()))
}
