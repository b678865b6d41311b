package adminapi

import (
	"net/http"
	"time"

	"github.com/ctcproto/ctcpd/internal/session"
)

// HealthHandler serves the admin API's unauthenticated liveness/readiness
// probes, grounded on the teacher's controlplane HealthHandler: a liveness
// check that always succeeds while the process is up, and a readiness
// check that inspects real server state (here, the session manager)
// instead of just returning 200.
type HealthHandler struct {
	sessions  *session.Manager
	startTime time.Time
}

// NewHealthHandler constructs a HealthHandler. sessions may be nil, in
// which case Readiness reports unhealthy, matching the teacher's
// nil-registry behavior.
func NewHealthHandler(sessions *session.Manager) *HealthHandler {
	return &HealthHandler{sessions: sessions, startTime: time.Now()}
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"service":    "ctcpd",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
	}))
}

// Readiness handles GET /readyz.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("session manager not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"session_groups": h.sessions.GroupCount(),
		"started_at":     h.startTime.UTC().Format(time.RFC3339),
		"uptime":         time.Since(h.startTime).Round(time.Second).String(),
	}))
}
