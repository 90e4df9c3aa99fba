// Package jobs implements the user-facing operations on jobs, projects and
// settings on top of the job store and scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vidqueue/internal/scheduler"
	"github.com/kiranshivaraju/vidqueue/internal/store"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnknownProject = errors.New("unknown project")
)

// Canceller is the slice of the scheduler the service needs.
type Canceller interface {
	Cancel(id string) error
	IsRunning(id string) bool
	SetLimit(n int) int
}

// DownloadTarget receives download directory and prefix changes.
type DownloadTarget interface {
	SetDownloadTarget(dir, prefix string)
}

// SubmitParams holds a new job request. Empty Ratio and Duration default to
// 16:9 and 10s. An empty Model is derived from them.
type SubmitParams struct {
	ProjectID string  `json:"projectId"`
	Prompt    string  `json:"prompt"`
	Ratio     string  `json:"ratio"`
	Duration  string  `json:"duration"`
	Model     string  `json:"model"`
	Image     *string `json:"image"`
}

// Service coordinates the job store, project list, scheduler and settings.
type Service struct {
	jobs     *store.JobStore
	projects *store.ProjectStore
	sched    Canceller
	target   DownloadTarget
	backend  store.Persistence

	mu       sync.Mutex
	settings models.Settings

	now func() time.Time
}

// NewService creates a Service. settings are the values already applied to
// sched and target.
func NewService(jobs *store.JobStore, projects *store.ProjectStore, sched Canceller, target DownloadTarget, backend store.Persistence, settings models.Settings) *Service {
	return &Service{
		jobs:     jobs,
		projects: projects,
		sched:    sched,
		target:   target,
		backend:  backend,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates p and appends a pending job. The scheduler picks it up
// from the store notification.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (models.Job, error) {
	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return models.Job{}, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}

	projectID := p.ProjectID
	if projectID == "" {
		projectID = models.DefaultProjectID
	}
	if !s.projects.Exists(projectID) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrUnknownProject, projectID)
	}

	ratio := p.Ratio
	if ratio == "" {
		ratio = models.RatioLandscape
	}
	duration := p.Duration
	if duration == "" {
		duration = models.Duration10s
	}
	derived, err := models.DeriveModel(ratio, duration)
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		model = derived
	}

	var image *string
	if p.Image != nil && strings.TrimSpace(*p.Image) != "" {
		img := *p.Image
		image = &img
	}

	job := models.Job{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Prompt:    prompt,
		Model:     model,
		Ratio:     ratio,
		Duration:  duration,
		Image:     image,
		Status:    models.JobStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.jobs.Append(job); err != nil {
		return models.Job{}, fmt.Errorf("appending job: %w", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "project_id", projectID, "model", model)
	return job, nil
}

// Get returns one job.
func (s *Service) Get(id string) (models.Job, error) {
	return s.jobs.Get(id)
}

// List returns jobs newest first, limited to projectID when it is set.
func (s *Service) List(projectID string) []models.Job {
	if projectID == "" {
		return s.jobs.List()
	}
	return s.jobs.FilterByProject(projectID)
}

// Retry resets a failed job to pending.
func (s *Service) Retry(id string) (models.Job, error) {
	job, err := s.jobs.Retry(id)
	if err != nil {
		return models.Job{}, err
	}
	slog.Info("job retried", "job_id", id, "retry_count", job.RetryCount)
	return job, nil
}

// Cancel stops a running job.
func (s *Service) Cancel(id string) error {
	if _, err := s.jobs.Get(id); err != nil {
		return err
	}
	return s.sched.Cancel(id)
}

// Delete removes a job, cancelling it first if it is running.
func (s *Service) Delete(id string) error {
	if err := s.jobs.Remove(id); err != nil {
		return err
	}
	s.cancelIfRunning(id)
	return nil
}

// Clear removes every job in projectID, or all jobs when it is empty, and
// returns how many were removed.
func (s *Service) Clear(projectID string) int {
	removed := s.jobs.Clear(projectID)
	for _, j := range removed {
		if j.Status == models.JobStatusRunning {
			s.cancelIfRunning(j.ID)
		}
	}
	return len(removed)
}

func (s *Service) cancelIfRunning(id string) {
	if !s.sched.IsRunning(id) {
		return
	}
	if err := s.sched.Cancel(id); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		slog.Warn("cancel removed job failed", "job_id", id, "error", err)
	}
}

// Projects lists all projects.
func (s *Service) Projects() []models.Project {
	return s.projects.List()
}

// CreateProject adds a project.
func (s *Service) CreateProject(ctx context.Context, name string) (models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return models.Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	return s.projects.Add(ctx, name)
}

// DeleteProject removes a project and its jobs.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.projects.Remove(ctx, id); err != nil {
		return err
	}
	n := s.Clear(id)
	slog.Info("project deleted", "project_id", id, "jobs_removed", n)
	return nil
}

// Settings returns the current settings.
func (s *Service) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings validates, persists and applies next.
func (s *Service) UpdateSettings(ctx context.Context, next models.Settings) (models.Settings, error) {
	next.SavePath = strings.TrimSpace(next.SavePath)
	next.DownloadPrefix = strings.TrimSpace(next.DownloadPrefix)
	if err := validateSettings(next); err != nil {
		return models.Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.SaveSettings(ctx, s.backend, next); err != nil {
		return models.Settings{}, fmt.Errorf("saving settings: %w", err)
	}
	s.sched.SetLimit(next.Concurrency)
	s.target.SetDownloadTarget(next.SavePath, next.DownloadPrefix)
	s.settings = next

	slog.Info("settings updated",
		"concurrency", next.Concurrency,
		"save_path", next.SavePath,
		"download_prefix", next.DownloadPrefix)
	return next, nil
}

func validateSettings(st models.Settings) error {
	if st.Concurrency < scheduler.MinLimit || st.Concurrency > scheduler.MaxLimit {
		return fmt.Errorf("%w: maxConcurrent must be between %d and %d", ErrInvalidInput, scheduler.MinLimit, scheduler.MaxLimit)
	}
	if st.SavePath == "" {
		return fmt.Errorf("%w: savePath is required", ErrInvalidInput)
	}
	if st.DownloadPrefix == "" {
		return fmt.Errorf("%w: downloadPrefix is required", ErrInvalidInput)
	}
	if strings.ContainsAny(st.DownloadPrefix, `/\`) || st.DownloadPrefix != filepath.Base(st.DownloadPrefix) {
		return fmt.Errorf("%w: downloadPrefix must not contain path separators", ErrInvalidInput)
	}
	return nil
}
