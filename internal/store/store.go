package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

var (
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrPersistence       = errors.New("persistence failure")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrInvalidKey        = errors.New("invalid storage key")
)

// Keys under which state is persisted.
const (
	KeyJobs     = "tasks"
	KeyProjects = "projects"
	KeySettings = "settings"
)

// Persistence is keyed JSON storage. Save replaces the value under key;
// Load reports false when nothing has been stored yet.
type Persistence interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Ping(ctx context.Context) error
}

type jobUpdateParams struct {
	Status     *string
	Progress   *int
	Logs       *string
	VideoURL   *string
	Downloaded *bool
	LocalPath  *string
}

// JobUpdateOption names one field to replace in JobStore.Update.
type JobUpdateOption func(*jobUpdateParams)

func WithStatus(status string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Status = &status
	}
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Progress = &progress
	}
}

func WithLogs(logs string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Logs = &logs
	}
}

func WithVideoURL(url string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.VideoURL = &url
	}
}

// WithDownloaded marks the artifact as saved at localPath.
func WithDownloaded(localPath string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		downloaded := true
		p.Downloaded = &downloaded
		p.LocalPath = &localPath
	}
}
