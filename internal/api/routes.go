package api

import (
	"net/http"
	"simtracker/internal/health"
	"simtracker/internal/observability"
	"simtracker/internal/simulation"
	"simtracker/internal/tracker"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Tracker       *tracker.Tracker
	Registry      *simulation.Registry
	History       HistoryStore // optional; /v1/history is not served without it
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Tracker, cfg.Registry, cfg.History, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	routes := map[string]http.HandlerFunc{
		"GET /v1/types":                       handler.ListTypes,
		"POST /v1/simulations":                handler.CreateSimulation,
		"GET /v1/simulations":                 handler.ListSimulations,
		"DELETE /v1/simulations":              handler.ClearSimulations,
		"GET /v1/simulations/{simId}":         handler.GetSimulation,
		"DELETE /v1/simulations/{simId}":      handler.DeleteSimulation,
		"GET /v1/simulations/{simId}/archive": handler.ArchiveSimulation,
		"POST /v1/groups":                     handler.CreateGroup,
		"POST /v1/queries":                    handler.Query,
	}
	if cfg.History != nil {
		routes["GET /v1/history"] = handler.History
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, auth(fn))
	}

	// Apply middleware chain (order matters: outermost last)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RequestIDMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
