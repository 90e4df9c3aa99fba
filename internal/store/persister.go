package store

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

// Persister writes the job collection to a Persistence backend after every
// change. Save failures are logged and never stop the loop.
type Persister struct {
	jobs    *JobStore
	backend Persistence
}

// NewPersister creates a Persister. Wrap backend with WithQuotaFallback to
// survive quota exhaustion.
func NewPersister(jobs *JobStore, backend Persistence) *Persister {
	return &Persister{jobs: jobs, backend: backend}
}

// Run saves on each JobStore notification until ctx is done.
func (p *Persister) Run(ctx context.Context) {
	changes, unsubscribe := p.jobs.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := p.Flush(ctx); err != nil {
				slog.Error("persist jobs failed", "error", err)
			}
		}
	}
}

// Flush saves the current job collection once.
func (p *Persister) Flush(ctx context.Context) error {
	return saveJSON(ctx, p.backend, KeyJobs, p.jobs.List())
}

// LoadJobs reads the persisted job collection. A missing key yields no jobs.
func LoadJobs(ctx context.Context, backend Persistence) ([]models.Job, error) {
	var jobs []models.Job
	if _, err := loadJSON(ctx, backend, KeyJobs, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// LoadSettings returns the persisted settings, or defaults when none exist.
// Zero fields in the stored value fall back to defaults.
func LoadSettings(ctx context.Context, backend Persistence, defaults models.Settings) (models.Settings, error) {
	var s models.Settings
	found, err := loadJSON(ctx, backend, KeySettings, &s)
	if err != nil || !found {
		return defaults, err
	}
	if s.Concurrency == 0 {
		s.Concurrency = defaults.Concurrency
	}
	if s.SavePath == "" {
		s.SavePath = defaults.SavePath
	}
	if s.DownloadPrefix == "" {
		s.DownloadPrefix = defaults.DownloadPrefix
	}
	return s, nil
}

// SaveSettings persists settings.
func SaveSettings(ctx context.Context, backend Persistence, s models.Settings) error {
	return saveJSON(ctx, backend, KeySettings, s)
}
