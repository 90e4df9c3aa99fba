package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/vidqueue/internal/api/response"
)

// Pinger is anything whose connectivity can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerStats reports scheduler occupancy.
type SchedulerStats interface {
	Limit() int
	Active() int
}

// NewHealthHandler checks persistence and, when configured, the cache.
func NewHealthHandler(persistence Pinger, cache Pinger, sched SchedulerStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"persistence": "ok"}
		if err := persistence.Ping(r.Context()); err != nil {
			checks["persistence"] = "degraded"
		}
		if cache != nil {
			checks["cache"] = "ok"
			if err := cache.Ping(r.Context()); err != nil {
				checks["cache"] = "degraded"
			}
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"scheduler": map[string]int{
				"limit":  sched.Limit(),
				"active": sched.Active(),
			},
		})
	}
}
