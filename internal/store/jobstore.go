package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

const interruptedNote = "\nError: interrupted by restart"

// JobStore owns the job collection. Jobs are kept newest-first and every
// mutation goes through one mutex, so concurrent executors updating different
// jobs never lose each other's writes. Callers only ever see copies.
type JobStore struct {
	mu   sync.Mutex
	jobs []models.Job

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	now func() time.Time
}

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		subs: make(map[int]chan struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe returns a channel that receives a value after every mutation.
// Notifications coalesce: a slow reader sees one pending signal, not one per
// change. The returned func unsubscribes.
func (s *JobStore) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *JobStore) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Append adds a new job at the front of the collection.
func (s *JobStore) Append(job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if !models.ValidStatus(job.Status) {
		return fmt.Errorf("invalid job status %q", job.Status)
	}

	s.mu.Lock()
	if s.indexOf(job.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s", ErrDuplicateKey, job.ID)
	}
	s.jobs = append([]models.Job{job.Clone()}, s.jobs...)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Get returns a copy of the job with the given id.
func (s *JobStore) Get(id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Job{}, ErrNotFound
	}
	return s.jobs[i].Clone(), nil
}

// List returns copies of all jobs, newest first.
func (s *JobStore) List() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Clone()
	}
	return out
}

// FilterByProject returns copies of the jobs in one project, newest first.
func (s *JobStore) FilterByProject(projectID string) []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Job{}
	for _, j := range s.jobs {
		if j.ProjectID == projectID {
			out = append(out, j.Clone())
		}
	}
	return out
}

// Update replaces the named fields of one job. A status change must follow a
// legal transition.
func (s *JobStore) Update(id string, opts ...JobUpdateOption) (models.Job, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Job{}, ErrNotFound
	}
	job := &s.jobs[i]

	if params.Status != nil && *params.Status != job.Status {
		if !models.CanTransition(job.Status, *params.Status) {
			from := job.Status
			s.mu.Unlock()
			return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, *params.Status)
		}
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.Logs != nil {
		job.Logs = *params.Logs
	}
	if params.VideoURL != nil {
		url := *params.VideoURL
		job.VideoURL = &url
	}
	if params.Downloaded != nil {
		job.Downloaded = *params.Downloaded
	}
	if params.LocalPath != nil {
		path := *params.LocalPath
		job.LocalPath = &path
	}
	updated := job.Clone()
	s.mu.Unlock()

	s.notify()
	return updated, nil
}

// Remove deletes a job.
func (s *JobStore) Remove(id string) error {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Clear removes every job in projectID, or every job when projectID is empty.
// It returns the removed jobs.
func (s *JobStore) Clear(projectID string) []models.Job {
	s.mu.Lock()
	var kept, removed []models.Job
	for _, j := range s.jobs {
		if projectID == "" || j.ProjectID == projectID {
			removed = append(removed, j)
			continue
		}
		kept = append(kept, j)
	}
	s.jobs = kept
	s.mu.Unlock()

	if len(removed) > 0 {
		s.notify()
	}
	return removed
}

// Retry resets a failed job to pending as a fresh submission and moves it to
// the front of the collection. Request fields are kept.
func (s *JobStore) Retry(id string) (models.Job, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return models.Job{}, ErrNotFound
	}
	job := s.jobs[i]
	if !models.CanTransition(job.Status, models.JobStatusPending) {
		s.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobStatusPending)
	}

	job.Status = models.JobStatusPending
	job.Progress = 0
	job.Logs = ""
	job.VideoURL = nil
	job.Downloaded = false
	job.LocalPath = nil
	job.RetryCount++
	job.CreatedAt = s.now()

	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	s.jobs = append([]models.Job{job}, s.jobs...)
	retried := job.Clone()
	s.mu.Unlock()

	s.notify()
	return retried, nil
}

// AdmitNext moves the oldest pending job to running and returns it. The
// transition happens under the store lock, so no two callers can admit the
// same job.
func (s *JobStore) AdmitNext() (models.Job, bool) {
	s.mu.Lock()
	var admitted models.Job
	found := false
	for i := len(s.jobs) - 1; i >= 0; i-- {
		if s.jobs[i].Status != models.JobStatusPending {
			continue
		}
		s.jobs[i].Status = models.JobStatusRunning
		s.jobs[i].Progress = 0
		admitted = s.jobs[i].Clone()
		found = true
		break
	}
	s.mu.Unlock()

	if found {
		s.notify()
	}
	return admitted, found
}

// CountByStatus returns how many jobs are in the given status.
func (s *JobStore) CountByStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

// Restore replaces the collection with previously persisted jobs. A job that
// was running when the previous process stopped cannot be resumed and is
// marked failed so the user can retry it.
func (s *JobStore) Restore(jobs []models.Job) {
	restored := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.ID == "" || !models.ValidStatus(j.Status) {
			continue
		}
		if j.ProjectID == "" {
			j.ProjectID = models.DefaultProjectID
		}
		if j.Status == models.JobStatusRunning {
			j.Status = models.JobStatusFailed
			j.Logs += interruptedNote
		}
		restored = append(restored, j.Clone())
	}

	s.mu.Lock()
	s.jobs = restored
	s.mu.Unlock()

	s.notify()
}

func (s *JobStore) indexOf(id string) int {
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			return i
		}
	}
	return -1
}
