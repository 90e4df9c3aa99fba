package models

import (
	"time"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// DefaultProjectID is the project every job falls back to when none is given.
const DefaultProjectID = "default"

// Job is one generation request and its lifecycle state. Request fields
// (ProjectID through Image) are fixed at creation; the rest is written by the
// executor through the job store.
type Job struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Prompt     string    `json:"prompt"`
	Model      string    `json:"model"`
	Ratio      string    `json:"ratio"`
	Duration   string    `json:"duration"`
	Image      *string   `json:"image"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Logs       string    `json:"logs"`
	VideoURL   *string   `json:"videoUrl,omitempty"`
	Downloaded bool      `json:"downloaded"`
	LocalPath  *string   `json:"localPath,omitempty"`
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

var validTransitions = map[string][]string{
	JobStatusPending: {JobStatusRunning},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:  {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the four job statuses.
func ValidStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Clone returns a deep copy so callers never share pointer fields with the store.
func (j Job) Clone() Job {
	c := j
	c.Image = clonePtr(j.Image)
	c.VideoURL = clonePtr(j.VideoURL)
	c.LocalPath = clonePtr(j.LocalPath)
	return c
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
