package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/vidqueue/internal/api/middleware"
	"github.com/kiranshivaraju/vidqueue/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// A nil RateLimit disables rate limiting.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitJob http.HandlerFunc
	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc
	RetryJob  http.HandlerFunc
	CancelJob http.HandlerFunc
	DeleteJob http.HandlerFunc
	ClearJobs http.HandlerFunc

	ListProjects  http.HandlerFunc
	CreateProject http.HandlerFunc
	DeleteProject http.HandlerFunc

	GetSettings    http.HandlerFunc
	UpdateSettings http.HandlerFunc

	Events http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.ClientID)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJob))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobs))
		r.Delete("/api/v1/jobs", orNotImplemented(deps.ClearJobs))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJob))
		r.Post("/api/v1/jobs/{jobID}/retry", orNotImplemented(deps.RetryJob))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJob))

		r.Get("/api/v1/projects", orNotImplemented(deps.ListProjects))
		r.Post("/api/v1/projects", orNotImplemented(deps.CreateProject))
		r.Delete("/api/v1/projects/{projectID}", orNotImplemented(deps.DeleteProject))

		r.Get("/api/v1/settings", orNotImplemented(deps.GetSettings))
		r.Put("/api/v1/settings", orNotImplemented(deps.UpdateSettings))

		if deps.Events != nil {
			r.Method(http.MethodGet, "/api/v1/events", deps.Events)
		}
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
