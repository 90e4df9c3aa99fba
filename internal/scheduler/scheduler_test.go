package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/vidqueue/internal/scheduler"
	"github.com/kiranshivaraju/vidqueue/internal/store"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// gatedRunner holds every job until the test releases it.
type gatedRunner struct {
	jobs *store.JobStore

	mu        sync.Mutex
	gates     map[string]chan struct{}
	started   []string
	active    int
	maxActive int
}

func newGatedRunner(jobs *store.JobStore) *gatedRunner {
	return &gatedRunner{jobs: jobs, gates: make(map[string]chan struct{})}
}

func (r *gatedRunner) gate(id string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[id]
	if !ok {
		g = make(chan struct{})
		r.gates[id] = g
	}
	return g
}

func (r *gatedRunner) Run(ctx context.Context, job models.Job) {
	r.mu.Lock()
	r.started = append(r.started, job.ID)
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	status := models.JobStatusCompleted
	select {
	case <-r.gate(job.ID):
	case <-ctx.Done():
		status = models.JobStatusFailed
	}

	r.mu.Lock()
	r.active--
	r.mu.Unlock()

	_, _ = r.jobs.Update(job.ID, store.WithStatus(status))
}

func (r *gatedRunner) release(id string) { close(r.gate(id)) }

func (r *gatedRunner) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *gatedRunner) peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxActive
}

func addJobs(t *testing.T, js *store.JobStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, js.Append(models.Job{
			ID:        id,
			ProjectID: models.DefaultProjectID,
			Prompt:    "prompt " + id,
			Status:    models.JobStatusPending,
			CreatedAt: time.Now(),
		}))
	}
}

func start(t *testing.T, s *scheduler.Scheduler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel = func() {
		stop()
		select {
		case <-done:
		case <-time.After(waitFor):
			t.Fatal("scheduler did not stop")
		}
	}
	t.Cleanup(cancel)
	return cancel
}

func startedCount(r *gatedRunner, n int) func() bool {
	return func() bool { return len(r.startedIDs()) == n }
}

func TestScheduler_RespectsLimit(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "a", "b", "c", "d", "e")
	runner := newGatedRunner(js)
	s := scheduler.New(js, runner, 2)
	start(t, s)

	require.Eventually(t, startedCount(runner, 2), waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runner.startedIDs(), 2, "no third job while two are running")
	assert.Equal(t, 2, js.CountByStatus(models.JobStatusRunning))

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		runner.release(id)
		require.Eventually(t, startedCount(runner, min(i+3, 5)), waitFor, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return js.CountByStatus(models.JobStatusCompleted) == 5
	}, waitFor, 5*time.Millisecond)
	assert.LessOrEqual(t, runner.peak(), 2)
	require.Eventually(t, func() bool { return s.Active() == 0 }, waitFor, 5*time.Millisecond)
}

func TestScheduler_AdmitsOldestFirst(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "first", "second", "third")
	runner := newGatedRunner(js)
	start(t, scheduler.New(js, runner, 1))

	for i, id := range []string{"first", "second", "third"} {
		require.Eventually(t, startedCount(runner, i+1), waitFor, 5*time.Millisecond)
		runner.release(id)
	}

	assert.Equal(t, []string{"first", "second", "third"}, runner.startedIDs())
}

func TestScheduler_AdmitsJobsAddedLater(t *testing.T) {
	js := store.NewJobStore()
	runner := newGatedRunner(js)
	start(t, scheduler.New(js, runner, 2))

	addJobs(t, js, "late")
	require.Eventually(t, startedCount(runner, 1), waitFor, 5*time.Millisecond)
	runner.release("late")

	require.Eventually(t, func() bool {
		j, err := js.Get("late")
		return err == nil && j.Status == models.JobStatusCompleted
	}, waitFor, 5*time.Millisecond)
}

func TestScheduler_Cancel(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "victim", "next")
	runner := newGatedRunner(js)
	s := scheduler.New(js, runner, 1)
	start(t, s)

	require.Eventually(t, startedCount(runner, 1), waitFor, 5*time.Millisecond)
	assert.True(t, s.IsRunning("victim"))
	require.NoError(t, s.Cancel("victim"))

	require.Eventually(t, func() bool {
		j, _ := js.Get("victim")
		return j.Status == models.JobStatusFailed
	}, waitFor, 5*time.Millisecond)

	// The freed slot goes to the next pending job.
	require.Eventually(t, startedCount(runner, 2), waitFor, 5*time.Millisecond)
	runner.release("next")
}

// retryingRunner fails its first run, retries the job itself and lingers
// until the retry has been admitted. Later runs block until cancelled.
type retryingRunner struct {
	jobs          *store.JobStore
	secondStarted chan struct{}

	mu    sync.Mutex
	count int
}

func (r *retryingRunner) Run(ctx context.Context, job models.Job) {
	r.mu.Lock()
	r.count++
	n := r.count
	r.mu.Unlock()

	if n == 1 {
		_, _ = r.jobs.Update(job.ID, store.WithStatus(models.JobStatusFailed))
		_, _ = r.jobs.Retry(job.ID)
		select {
		case <-r.secondStarted:
		case <-time.After(waitFor):
		}
		return
	}

	close(r.secondStarted)
	<-ctx.Done()
	_, _ = r.jobs.Update(job.ID, store.WithStatus(models.JobStatusFailed))
}

func TestScheduler_RetriedJobStaysCancellable(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "x")
	runner := &retryingRunner{jobs: js, secondStarted: make(chan struct{})}
	s := scheduler.New(js, runner, 2)
	start(t, s)

	select {
	case <-runner.secondStarted:
	case <-time.After(waitFor):
		t.Fatal("retried job was not admitted")
	}

	// The first run has unwound once only the retry holds a slot.
	require.Eventually(t, func() bool { return s.Active() == 1 }, waitFor, 5*time.Millisecond)

	j, err := js.Get("x")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, j.Status)
	assert.True(t, s.IsRunning("x"))
	require.NoError(t, s.Cancel("x"))

	require.Eventually(t, func() bool {
		j, _ := js.Get("x")
		return j.Status == models.JobStatusFailed
	}, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Active() == 0 }, waitFor, 5*time.Millisecond)
	assert.False(t, s.IsRunning("x"))
}

func TestScheduler_CancelNotRunning(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "a", "b")
	runner := newGatedRunner(js)
	s := scheduler.New(js, runner, 1)
	start(t, s)

	require.Eventually(t, startedCount(runner, 1), waitFor, 5*time.Millisecond)
	assert.ErrorIs(t, s.Cancel("b"), scheduler.ErrNotRunning)
	assert.ErrorIs(t, s.Cancel("missing"), scheduler.ErrNotRunning)
	runner.release("a")
	require.Eventually(t, startedCount(runner, 2), waitFor, 5*time.Millisecond)
	runner.release("b")
}

func TestScheduler_SetLimitAdmitsMore(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "a", "b", "c")
	runner := newGatedRunner(js)
	s := scheduler.New(js, runner, 1)
	start(t, s)

	require.Eventually(t, startedCount(runner, 1), waitFor, 5*time.Millisecond)
	assert.Equal(t, 3, s.SetLimit(3))
	require.Eventually(t, startedCount(runner, 3), waitFor, 5*time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		runner.release(id)
	}
}

func TestScheduler_LowerLimitKeepsRunningJobs(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "a", "b", "c")
	runner := newGatedRunner(js)
	s := scheduler.New(js, runner, 2)
	start(t, s)

	require.Eventually(t, startedCount(runner, 2), waitFor, 5*time.Millisecond)
	s.SetLimit(1)
	assert.Equal(t, 2, s.Active())

	runner.release("a")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, runner.startedIDs(), 2, "one job still holds the only slot")

	runner.release("b")
	require.Eventually(t, startedCount(runner, 3), waitFor, 5*time.Millisecond)
	runner.release("c")
}

func TestScheduler_SetLimitClamps(t *testing.T) {
	s := scheduler.New(store.NewJobStore(), nil, 0)
	assert.Equal(t, scheduler.MinLimit, s.Limit())
	assert.Equal(t, scheduler.MaxLimit, s.SetLimit(500))
	assert.Equal(t, scheduler.MinLimit, s.SetLimit(-3))
}

func TestScheduler_ShutdownCancelsExecutors(t *testing.T) {
	js := store.NewJobStore()
	addJobs(t, js, "a", "b")
	runner := newGatedRunner(js)
	stop := start(t, scheduler.New(js, runner, 2))

	require.Eventually(t, startedCount(runner, 2), waitFor, 5*time.Millisecond)
	stop()

	assert.Equal(t, 2, js.CountByStatus(models.JobStatusFailed))
}
