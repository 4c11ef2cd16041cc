package api

import "net/http"

// Health reports overall process status, used by uptime checks. It pings the
// datastore and answers 503 with status "degraded" when that ping fails,
// otherwise 200 with status "ok".
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	components, overallStatus, statusCode := h.componentHealth(r.Context())
	WriteJSON(w, statusCode, map[string]interface{}{
		"status":     overallStatus,
		"components": components,
	})
}

// Ready reports whether the process is ready to accept traffic, gating on
// the same dependency checks as Health. Kept distinct so a load balancer can
// point liveness and readiness probes at different semantics later without
// an API change.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	components, overallStatus, statusCode := h.componentHealth(r.Context())
	WriteJSON(w, statusCode, map[string]interface{}{
		"status":     overallStatus,
		"components": components,
	})
}

// Live answers the liveness probe: the process is up and serving HTTP at
// all, independent of whether its dependencies (datastore, queue) are
// reachable. Unlike Health/Ready it never checks downstream components —
// an orchestrator restarting the process on a dependency outage it cannot
// fix on its own would just thrash.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
