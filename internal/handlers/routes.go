package handlers

import (
	"context"
	"net/http"

	"github.com/vidfriends/groupcast/internal/membership"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Check: deps.HealthCheck}
	groups := GroupHandler{
		Groups:      deps.Groups,
		Statuses:    deps.Statuses,
		Windows:     deps.Windows,
		JoinLimiter: deps.JoinLimiter,
	}
	broadcasts := BroadcastHandler{Broadcasts: deps.Broadcasts}

	mux.HandleFunc("/healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
	mux.HandleFunc("/api/v1/groups", groups.Collection)
	mux.HandleFunc("/api/v1/groups/join", groups.Join)
	mux.HandleFunc("/api/v1/groups/leave", groups.Leave)
	mux.HandleFunc("/api/v1/groups/status", groups.Status)
	mux.HandleFunc("/api/v1/broadcasts", broadcasts.Send)
	mux.HandleFunc("/api/v1/broadcasts/retry", broadcasts.Retry)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Groups      GroupService
	Broadcasts  Broadcaster
	Statuses    StatusTracker
	Windows     membership.WindowProvider
	JoinLimiter RateLimiter
	Metrics     http.Handler
	HealthCheck func(ctx context.Context) error
}
