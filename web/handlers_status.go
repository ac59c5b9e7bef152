package web

import (
	"net/http"
)

// HandleBreakerStatus reports the spend and remaining headroom of every
// breaker layer. The caller id is optional; without it the caller layer
// shows zero spend.
func (h *Handler) HandleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	callerID := r.URL.Query().Get("account_id")

	states, err := h.breaker.States(r.Context(), callerID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "counter store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"layers": states})
}

// HandleHealthz reports liveness plus counter-store reachability. The
// store being down degrades the breaker (fail open) but does not make
// the process unhealthy.
func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	counterStore := "ok"
	if err := h.counters.Ping(r.Context()); err != nil {
		counterStore = "unreachable"
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"counter_store": counterStore,
	})
}
