package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/vidqueue/internal/api/response"
	"github.com/kiranshivaraju/vidqueue/pkg/models"
)

// SettingsService defines the settings operations the handlers depend on.
type SettingsService interface {
	Settings() models.Settings
	UpdateSettings(ctx context.Context, s models.Settings) (models.Settings, error)
}

func NewGetSettingsHandler(svc SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, svc.Settings())
	}
}

// NewUpdateSettingsHandler applies the fields present in the body on top of
// the current settings.
func NewUpdateSettingsHandler(svc SettingsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := svc.Settings()
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		updated, err := svc.UpdateSettings(r.Context(), next)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, updated)
	}
}
