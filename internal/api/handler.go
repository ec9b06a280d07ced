// Package api provides the HTTP API handlers and routing for the simulation tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"simtracker/internal/apperrors"
	"simtracker/internal/archive"
	"simtracker/internal/health"
	"simtracker/internal/simulation"
	"simtracker/internal/store"
	"simtracker/internal/tracker"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// HistoryStore lists persisted simulation records. *store.Store satisfies it.
type HistoryStore interface {
	List(ctx context.Context, f store.Filter) ([]simulation.Info, error)
}

// Handler contains HTTP handlers for the simulations API
type Handler struct {
	tracker  *tracker.Tracker
	registry *simulation.Registry
	history  HistoryStore
	health   *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(t *tracker.Tracker, registry *simulation.Registry, history HistoryStore, healthChecker *health.Checker) *Handler {
	return &Handler{
		tracker:  t,
		registry: registry,
		history:  history,
		health:   healthChecker,
	}
}

// StartRequest names one simulation to start. Config, when present, replaces
// the registered default config; its sim_key defaults to the request's.
type StartRequest struct {
	Key    string             `json:"sim_key"`
	Config *simulation.Config `json:"config,omitempty"`
	Params map[string]any     `json:"kwargs,omitempty"`
}

func (req StartRequest) spec() tracker.Spec {
	if req.Config == nil {
		return tracker.KeySpec(req.Key)
	}
	cfg := req.Config.Clone()
	if cfg.Key == "" {
		cfg.Key = req.Key
	}
	return tracker.ConfigSpec(cfg)
}

// GroupRequest starts several simulations together. Params apply to every member.
type GroupRequest struct {
	Simulations []StartRequest `json:"simulations"`
	Params      map[string]any `json:"kwargs,omitempty"`
}

// StartResponse carries the id of a started simulation, or the reserved
// all-zero id when nothing was started.
type StartResponse struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error,omitempty"`
}

// GroupResponse lists a started group and its members.
type GroupResponse struct {
	ID          uuid.UUID   `json:"id"`
	Simulations []uuid.UUID `json:"simulations"`
}

// QueryResponse carries the channels answered for a query. ID is the
// reserved all-zero id when the simulation is unknown.
type QueryResponse struct {
	ID       uuid.UUID      `json:"id"`
	Channels map[string]any `json:"channels"`
}

// TypeInfo describes one registered simulation type.
type TypeInfo struct {
	Key           string             `json:"sim_key"`
	DefaultConfig *simulation.Config `json:"default_config,omitempty"`
}

// CreateSimulation handles POST /v1/simulations
func (h *Handler) CreateSimulation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, StartResponse{ID: tracker.NoID, Error: "Invalid request body: " + err.Error()})
		return
	}

	id, err := h.tracker.Start(r.Context(), req.spec(), req.Params)
	if err != nil {
		status := h.logError(r, err)
		h.writeJSON(w, status, StartResponse{ID: tracker.NoID, Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusAccepted, StartResponse{ID: id})
}

// CreateGroup handles POST /v1/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	for i, sim := range req.Simulations {
		if len(sim.Params) > 0 {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("simulations[%d]: kwargs must be set on the group", i))
			return
		}
	}

	specs := make([]tracker.Spec, len(req.Simulations))
	for i, sim := range req.Simulations {
		specs[i] = sim.spec()
	}
	group, err := h.tracker.StartGroup(r.Context(), specs, req.Params)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, GroupResponse{ID: group.ID(), Simulations: group.IDs()})
}

// ListSimulations handles GET /v1/simulations
func (h *Handler) ListSimulations(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"simulations": h.tracker.List()})
}

// GetSimulation handles GET /v1/simulations/{simId}
func (h *Handler) GetSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.simID(w, r)
	if !ok {
		return
	}

	info, err := h.tracker.Info(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// ArchiveSimulation handles GET /v1/simulations/{simId}/archive and streams
// the simulation's record and storage directory as tar.gz.
func (h *Handler) ArchiveSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.simID(w, r)
	if !ok {
		return
	}

	sim, found := h.tracker.Get(id)
	if !found {
		h.handleError(w, r, apperrors.NotFound("simulation", id.String()))
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.tar.gz"`, id))
	w.WriteHeader(http.StatusOK)
	// Headers are already sent; a failure here can only be logged.
	if err := archive.Write(w, sim.Snapshot(), sim.StoragePath()); err != nil {
		slog.ErrorContext(r.Context(), "Failed to stream archive", "simId", id.String(), "error", err)
	}
}

// DeleteSimulation handles DELETE /v1/simulations/{simId}
func (h *Handler) DeleteSimulation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.simID(w, r)
	if !ok {
		return
	}
	if _, found := h.tracker.Get(id); !found {
		h.handleError(w, r, apperrors.NotFound("simulation", id.String()))
		return
	}

	stopped, err := h.tracker.Delete(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// ClearSimulations handles DELETE /v1/simulations
func (h *Handler) ClearSimulations(w http.ResponseWriter, r *http.Request) {
	stopped, err := h.tracker.Clear(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

// Query handles POST /v1/queries. An unknown simulation id is answered with
// the all-zero id and no channels rather than an error status.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var q tracker.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			h.handleError(w, r, err)
			return
		}
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := q.Validate(); err != nil {
		h.handleError(w, r, err)
		return
	}

	channels, err := h.tracker.FulfillQuery(r.Context(), q)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		h.writeJSON(w, http.StatusOK, QueryResponse{ID: tracker.NoID, Channels: map[string]any{}})
	case err != nil:
		h.handleError(w, r, err)
	default:
		h.writeJSON(w, http.StatusOK, QueryResponse{ID: q.ID, Channels: channels})
	}
}

// ListTypes handles GET /v1/types
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	keys := h.registry.List()
	types := make([]TypeInfo, 0, len(keys))
	for _, key := range keys {
		info := TypeInfo{Key: key}
		if cfg, ok := h.registry.DefaultConfig(key); ok {
			info.DefaultConfig = &cfg
		}
		types = append(types, info)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"types": types})
}

// History handles GET /v1/history
// Query params: sim_key, done, cancelled, failed, started_after, ended_before (RFC 3339), limit
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	records, err := h.history.List(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, apperrors.Internal("store.list", err))
		return
	}
	if records == nil {
		records = []simulation.Info{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"simulations": records})
}

func parseFilter(r *http.Request) (store.Filter, error) {
	values := r.URL.Query()
	filter := store.Filter{Key: values.Get("sim_key")}

	bools := map[string]**bool{"done": &filter.Done, "cancelled": &filter.Cancelled, "failed": &filter.Failed}
	for name, dst := range bools {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return store.Filter{}, apperrors.Validation(name, fmt.Sprintf("%s must be a boolean", name))
		}
		*dst = &v
	}

	times := map[string]*time.Time{"started_after": &filter.StartedAfter, "ended_before": &filter.EndedBefore}
	for name, dst := range times {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return store.Filter{}, apperrors.Validation(name, fmt.Sprintf("%s must be an RFC 3339 timestamp", name))
		}
		*dst = v
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return store.Filter{}, apperrors.Validation("limit", "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 503 if a required dependency is unavailable or the service is shutting down.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func (h *Handler) simID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("simId")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "Simulation ID is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid simulation ID %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from the tracker with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := h.logError(r, err)
	h.writeError(w, status, err.Error())
}

func (h *Handler) logError(r *http.Request, err error) int {
	status := apperrors.HTTPStatus(err)
	attrs := append([]any{"error", err, "path", r.URL.Path, "status", status}, apperrors.LogAttrs(err)...)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Internal error", attrs...)
	} else {
		slog.WarnContext(r.Context(), "Client error", attrs...)
	}
	return status
}
