// Package scheduler admits pending jobs to executors under a concurrency cap.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

const (
	MinLimit = 1
	MaxLimit = 50
)

var ErrNotRunning = errors.New("job is not running")

// Queue is the slice of the job store the scheduler admits from.
type Queue interface {
	AdmitNext() (models.Job, bool)
	Subscribe() (<-chan struct{}, func())
}

// Runner executes one admitted job to a terminal status.
type Runner interface {
	Run(ctx context.Context, job models.Job)
}

// Scheduler owns admission. Only the goroutine in Run admits jobs, so the
// oldest pending job is always the next one started.
type Scheduler struct {
	queue  Queue
	runner Runner
	slots  *slots
	wake   chan struct{}

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

// run is one execution of a job. A retried job gets a new run while the
// previous one may still be unwinding.
type run struct {
	cancel context.CancelFunc
}

// New creates a Scheduler that runs at most limit jobs at once.
func New(queue Queue, runner Runner, limit int) *Scheduler {
	return &Scheduler{
		queue:   queue,
		runner:  runner,
		slots:   newSlots(limit),
		wake:    make(chan struct{}, 1),
		running: make(map[string]*run),
	}
}

// Run admits jobs until ctx is done. It makes an admission pass at start, after
// every store change and after every executor finishes. On return all executors
// have been cancelled and have exited.
func (s *Scheduler) Run(ctx context.Context) {
	changes, unsubscribe := s.queue.Subscribe()
	defer unsubscribe()

	slog.Info("scheduler started", "limit", s.slots.Limit())

	s.admit(ctx)
	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			s.wg.Wait()
			slog.Info("scheduler stopped")
			return
		case <-changes:
		case <-s.wake:
		}
		s.admit(ctx)
	}
}

func (s *Scheduler) admit(ctx context.Context) {
	for ctx.Err() == nil && s.slots.TryAcquire() {
		job, ok := s.queue.AdmitNext()
		if !ok {
			s.slots.Release()
			return
		}
		s.launch(ctx, job)
	}
}

func (s *Scheduler) launch(parent context.Context, job models.Job) {
	ctx, cancel := context.WithCancel(parent)
	r := &run{cancel: cancel}

	s.mu.Lock()
	s.running[job.ID] = r
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(job.ID, r)
		s.runner.Run(ctx, job)
	}()
}

func (s *Scheduler) finish(id string, r *run) {
	r.cancel()

	s.mu.Lock()
	if s.running[id] == r {
		delete(s.running, id)
	}
	s.mu.Unlock()

	s.slots.Release()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.running {
		r.cancel()
	}
}

// Cancel stops a running job. The executor records the job as failed.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	r, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	r.cancel()
	slog.Info("job cancel requested", "job_id", id)
	return nil
}

// IsRunning reports whether the scheduler has an executor for id.
func (s *Scheduler) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// SetLimit changes the concurrency cap and returns the applied value. Running
// jobs are never stopped by a lower limit; admission waits until they drain.
func (s *Scheduler) SetLimit(n int) int {
	applied := s.slots.SetLimit(n)
	s.signal()
	return applied
}

// Limit returns the current concurrency cap.
func (s *Scheduler) Limit() int { return s.slots.Limit() }

// Active returns how many executors hold a slot.
func (s *Scheduler) Active() int { return s.slots.Active() }

// slots is a counting semaphore whose size can change while held.
type slots struct {
	mu     sync.Mutex
	limit  int
	active int
}

func newSlots(limit int) *slots {
	return &slots{limit: clamp(limit)}
}

func (s *slots) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active >= s.limit {
		return false
	}
	s.active++
	return true
}

func (s *slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

func (s *slots) SetLimit(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = clamp(n)
	return s.limit
}

func (s *slots) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func (s *slots) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func clamp(n int) int {
	if n < MinLimit {
		return MinLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
