package adminapi

import (
	"net/http"

	"github.com/ctcproto/ctcpd/internal/session"
)

// SessionsHandler exposes read-only session group/job state to operators,
// grounded on the teacher's mounts.go handler: a thin JSON projection of
// live in-memory state, no mutation endpoints.
type SessionsHandler struct {
	sessions *session.Manager
}

func NewSessionsHandler(sessions *session.Manager) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// jobView is the JSON projection of a session.Snapshot: descriptor, status
// and registered tables. Attribute values are left out.
type jobView struct {
	Desc   uint16   `json:"job_desc"`
	Status string   `json:"status"`
	Tables []string `json:"tables"`
}

type groupView struct {
	SGID uint32    `json:"sgid"`
	Jobs []jobView `json:"jobs"`
}

// List handles GET /v1/sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	groups := h.sessions.Groups()
	views := make([]groupView, 0, len(groups))
	for _, g := range groups {
		snaps := g.Jobs()
		jobs := make([]jobView, 0, len(snaps))
		for _, s := range snaps {
			jobs = append(jobs, jobView{
				Desc:   s.Desc,
				Status: s.Status.String(),
				Tables: s.Tables,
			})
		}
		views = append(views, groupView{SGID: g.SGID, Jobs: jobs})
	}
	writeJSON(w, http.StatusOK, healthyResponse(views))
}
