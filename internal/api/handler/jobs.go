// Package handler holds the control API's HTTP handlers.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidqueue/internal/api/response"
	"github.com/kiranshivaraju/vidqueue/internal/jobs"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

// maxSubmitBytes leaves room for an inline base64 reference image.
const maxSubmitBytes = 32 << 20

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, p jobs.SubmitParams) (models.Job, error)
	Get(id string) (models.Job, error)
	List(projectID string) []models.Job
	Retry(id string) (models.Job, error)
	Cancel(id string) error
	Delete(id string) error
	Clear(projectID string) int
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobs.SubmitParams
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes)).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := svc.List(r.URL.Query().Get("projectId"))
		counts := make(map[string]int)
		for _, j := range list {
			counts[j.Status]++
		}
		response.List(w, list, response.ListMeta{Total: len(list), Counts: counts})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Get(chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewRetryJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Retry(chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Accepted(w, job)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		if err := svc.Cancel(id); err != nil {
			writeServiceError(w, err)
			return
		}
		response.Accepted(w, map[string]string{"id": id, "status": "cancelling"})
	}
}

// NewDeleteJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")
		if err := svc.Delete(id); err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, map[string]string{"id": id})
	}
}

// NewClearJobsHandler returns an http.HandlerFunc for DELETE /api/v1/jobs.
// Without projectId every job is removed.
func NewClearJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := svc.Clear(r.URL.Query().Get("projectId"))
		response.JSON(w, map[string]int{"removed": n})
	}
}
