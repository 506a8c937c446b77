package handlers

import (
	"net/http"
	"time"

	"github.com/eargollo/hashcheck/internal/report"
	"github.com/eargollo/hashcheck/internal/scan"
	"github.com/eargollo/hashcheck/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	Controller *scan.Controller
	Transcript *report.Transcript
	Sched      *scheduler.Scheduler
	Version    string
}

type statusResponse struct {
	Version     string               `json:"version"`
	State       string               `json:"state"`
	Run         *runInfo             `json:"run"`
	Algorithms  []string             `json:"algorithms"`
	Restarting  bool                 `json:"restarting"`
	Idle        bool                 `json:"idle"`
	Preparing   bool                 `json:"preparing"`
	Progress    scan.Snapshot        `json:"progress"`
	Current     *report.FileProgress `json:"current_file"`
	FinalStatus string               `json:"final_status,omitempty"`
	Schedule    []scheduler.Job      `json:"schedule"`
}

type runInfo struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Started     string    `json:"started"`
	Interrupted bool      `json:"interrupted"`
}

// ServeHTTP returns the controller and transcript status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := h.Controller.Status()
	resp := statusResponse{
		Version:    h.Version,
		State:      st.State.String(),
		Algorithms: st.Algorithms.Names(),
		Restarting: st.Restarting,
		Idle:       st.Idle,
		Progress:   st.Progress,
		Schedule:   []scheduler.Job{},
	}
	if !st.StartedAt.IsZero() {
		resp.Run = &runInfo{
			ID:          st.Run.String(),
			StartedAt:   st.StartedAt.UTC(),
			Started:     report.Elapsed(st.StartedAt),
			Interrupted: st.Interrupted,
		}
	}
	if h.Transcript != nil {
		v := h.Transcript.View()
		resp.Preparing = v.Preparing
		resp.Current = v.Current
		resp.FinalStatus = v.Status
	}
	if h.Sched != nil {
		resp.Schedule = h.Sched.Jobs()
	}
	writeJSON(w, http.StatusOK, resp)
}
