package apihttp

import (
	"encoding/json"
	"net/http"
	"time"

	"sitesense-collector/internal/telemetry/application"
)

// StatusSource exposes a pipeline snapshot.
type StatusSource interface {
	Status() application.Status
}

// BrokerStateSource exposes broker connection state.
type BrokerStateSource interface {
	State() string
}

// StatusHandler serves the collector status snapshot.
type StatusHandler struct {
	pipeline StatusSource
	broker   BrokerStateSource
	started  time.Time
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(pipeline StatusSource, broker BrokerStateSource) *StatusHandler {
	return &StatusHandler{pipeline: pipeline, broker: broker, started: time.Now()}
}

type statusResponse struct {
	application.Status
	Broker        string `json:"broker_state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHTTP handles GET /status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.pipeline == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	resp := statusResponse{
		Status:        h.pipeline.Status(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.broker != nil {
		resp.Broker = h.broker.State()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// CacheInvalidator drops one cached device identity.
type CacheInvalidator interface {
	Invalidate(externalID, broker string)
}

// InvalidateHandler serves cache invalidation after an out-of-band site
// reassignment, so the next message from the device re-resolves.
type InvalidateHandler struct {
	cache CacheInvalidator
}

// NewInvalidateHandler constructs an InvalidateHandler.
func NewInvalidateHandler(cache CacheInvalidator) *InvalidateHandler {
	return &InvalidateHandler{cache: cache}
}

type invalidateRequest struct {
	ExternalID string `json:"external_id"`
	Broker     string `json:"broker"`
}

// ServeHTTP handles POST /devices/invalidate.
func (h *InvalidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.cache == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" {
		http.Error(w, "external_id is required", http.StatusBadRequest)
		return
	}

	h.cache.Invalidate(req.ExternalID, req.Broker)
	w.WriteHeader(http.StatusNoContent)
}

// HealthzHandler reports process liveness.
func HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
