package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civictwin/Main/simulation/internal/models"
	"github.com/civictwin/Main/simulation/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func finish(t *testing.T, st store.Store, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: id, Status: models.StatusRunning})
	require.NoError(t, err)
	_, err = st.UpdateJobStatus(ctx, store.JobStatusUpdate{
		ID:      id,
		Status:  models.StatusCompleted,
		Results: models.TimeSeries{models.MetricAvgIncome: {1, 2}},
	})
	require.NoError(t, err)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(store.MemoryConfig{})

	job, err := st.CreateJob(ctx, store.JobInput{Config: models.DefaultSimulationConfig()})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.StatusQueued, job.Status)

	_, err = st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: models.StatusCompleted})
	assert.True(t, errors.Is(err, store.ErrInvalidTransition), "queued cannot jump to completed")

	params := models.Params{N: 100, Steps: 10, Strictness: 0.5, Seed: 3}
	running, err := st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: models.StatusRunning, Params: &params})
	require.NoError(t, err)
	require.NotNil(t, running.Params)
	assert.Equal(t, params, *running.Params)

	failed, err := st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: models.StatusFailed, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "boom", failed.Error)
	assert.Nil(t, failed.Results)

	for _, next := range []models.JobStatus{models.StatusRunning, models.StatusCompleted, models.StatusQueued} {
		_, err = st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: next})
		assert.True(t, errors.Is(err, store.ErrInvalidTransition), "terminal job moved to %s", next)
	}
}

func TestGetUnknownJob(t *testing.T) {
	st := store.NewMemoryStore(store.MemoryConfig{})
	_, err := st.GetJob(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = st.UpdateJobStatus(context.Background(), store.JobStatusUpdate{ID: uuid.New(), Status: models.StatusRunning})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestReturnedJobsAreCopies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(store.MemoryConfig{})
	job, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)
	finish(t, st, job.ID)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Results[models.MetricAvgIncome][0] = 99

	again, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, again.Results[models.MetricAvgIncome])
}

func TestCapacityEvictsOldestFinished(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := store.NewMemoryStore(store.MemoryConfig{Capacity: 2, Now: clock.Now})

	first, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)

	_, err = st.CreateJob(ctx, store.JobInput{})
	assert.True(t, errors.Is(err, store.ErrFull), "active jobs must not be evicted")

	finish(t, st, second.ID)
	finish(t, st, first.ID)
	clock.Advance(time.Second)
	third, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)

	_, err = st.GetJob(ctx, first.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound), "oldest finished job evicted")
	_, err = st.GetJob(ctx, second.ID)
	assert.NoError(t, err)
	_, err = st.GetJob(ctx, third.ID)
	assert.NoError(t, err)

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTTLExpiresFinishedJobs(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := store.NewMemoryStore(store.MemoryConfig{TTL: time.Minute, Now: clock.Now})

	done, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)
	finish(t, st, done.ID)
	pending, err := st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = st.GetJob(ctx, done.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = st.GetJob(ctx, pending.ID)
	assert.NoError(t, err, "queued jobs never expire")

	_, err = st.CreateJob(ctx, store.JobInput{})
	require.NoError(t, err)
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expired job swept on insert")
}

func TestListJobsNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		job, err := st.CreateJob(ctx, store.JobInput{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
		clock.Advance(time.Second)
	}
	finish(t, st, ids[1])

	all, err := st.ListJobs(ctx, store.ListJobsFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID)
	assert.Equal(t, ids[0], all[3].ID)

	page, err := st.ListJobs(ctx, store.ListJobsFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)

	completed, err := st.ListJobs(ctx, store.ListJobsFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, ids[1], completed[0].ID)

	beyond, err := st.ListJobs(ctx, store.ListJobsFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

func TestListJobsSameTimestampKeepsCreationOrder(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := store.NewMemoryStore(store.MemoryConfig{Now: clock.Now})

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		job, err := st.CreateJob(ctx, store.JobInput{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for round := 0; round < 5; round++ {
		all, err := st.ListJobs(ctx, store.ListJobsFilter{})
		require.NoError(t, err)
		require.Len(t, all, len(ids))
		for i, job := range all {
			assert.Equal(t, ids[len(ids)-1-i], job.ID, "position %d", i)
		}
	}
}

func TestCreateJobRecordsSubmitter(t *testing.T) {
	st := store.NewMemoryStore(store.MemoryConfig{})
	job, err := st.CreateJob(context.Background(), store.JobInput{SubmittedBy: "planner-1"})
	require.NoError(t, err)
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "planner-1", got.SubmittedBy)
}

func TestConcurrentUpdatesOnDistinctJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(store.MemoryConfig{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := st.CreateJob(ctx, store.JobInput{})
			if !assert.NoError(t, err) {
				return
			}
			_, err = st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: models.StatusRunning})
			assert.NoError(t, err)
			_, err = st.UpdateJobStatus(ctx, store.JobStatusUpdate{ID: job.ID, Status: models.StatusCompleted})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	jobs, err := st.ListJobs(ctx, store.ListJobsFilter{Status: models.StatusCompleted, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, jobs, 32)
}
