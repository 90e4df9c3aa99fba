package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vidqueue/internal/api/response"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

// ProjectService defines the project operations the handlers depend on.
type ProjectService interface {
	Projects() []models.Project
	CreateProject(ctx context.Context, name string) (models.Project, error)
	DeleteProject(ctx context.Context, id string) error
}

func NewListProjectsHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.Projects())
	}
}

func NewCreateProjectHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		p, err := svc.CreateProject(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.Created(w, p)
	}
}

// NewDeleteProjectHandler removes a project together with its jobs.
func NewDeleteProjectHandler(svc ProjectService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "projectID")
		if err := svc.DeleteProject(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, map[string]string{"id": id})
	}
}
