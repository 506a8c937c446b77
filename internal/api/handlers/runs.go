package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eargollo/hashcheck/internal/digest"
	"github.com/eargollo/hashcheck/internal/scan"
)

// RunsHandler handles run lifecycle and history endpoints.
type RunsHandler struct {
	DB         *sql.DB
	Controller *scan.Controller
	// Reload, when set, makes the next run re-walk the configured paths.
	Reload func()
}

type runSummary struct {
	RunID        string     `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Status       string     `json:"status"`
	Algorithms   []string   `json:"algorithms"`
	SuccessCount int        `json:"success_count"`
	TotalCount   int        `json:"total_count"`
	FailedCount  int        `json:"failed_count"`
	BytesRead    int64      `json:"bytes_read"`
	Error        *string    `json:"error"`
}

type runStateResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// Create handles POST /api/runs. A finished run is reset first, so the
// endpoint starts a fresh pass over the configured paths.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Reset(); err != nil {
		switch {
		case errors.Is(err, scan.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "RUN_ALREADY_RUNNING", err.Error())
		case errors.Is(err, scan.ErrBusy):
			writeError(w, http.StatusConflict, "RUN_BUSY", "previous run is still being processed")
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}
	if h.Reload != nil {
		h.Reload()
	}

	// The run outlives the request.
	st, err := h.Controller.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) || errors.Is(err, scan.ErrNotReset) {
			writeError(w, http.StatusConflict, "RUN_ALREADY_RUNNING", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, runStateResponse{RunID: st.Run.String(), State: st.State.String()})
}

// Pause handles POST /api/runs/current/pause and toggles pause/resume.
func (h *RunsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	st, err := h.Controller.TogglePause()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_RUN", "no run is currently active")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runStateResponse{RunID: h.Controller.Run().String(), State: st.String()})
}

// Cancel handles DELETE /api/runs/current.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Controller.Stop(); err != nil {
		if errors.Is(err, scan.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_RUN", "no run is currently active")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type algorithmsRequest struct {
	Algorithms []string `json:"algorithms"`
}

// SetAlgorithms handles PUT /api/algorithms. The set is replaced and the
// run restarted; digests already computed are kept.
func (h *RunsHandler) SetAlgorithms(w http.ResponseWriter, r *http.Request) {
	var req algorithmsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	set, err := digest.ParseSet(req.Algorithms)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ALGORITHM", err.Error())
		return
	}
	if set == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ALGORITHM", "at least one algorithm is required")
		return
	}
	if err := h.Controller.Restart(context.WithoutCancel(r.Context()), set); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"algorithms": set.Names()})
}

// List handles GET /api/runs with pagination, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var total int
	if err := h.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		slog.Error("count runs", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count runs")
		return
	}

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT run_id, started_at, finished_at, status, algorithms,
		       success_count, total_count, failed_count, bytes_read, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		slog.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list runs")
		return
	}
	defer rows.Close()

	items := []runSummary{}
	for rows.Next() {
		var (
			s          runSummary
			startedAt  int64
			finishedAt sql.NullInt64
			algs       string
			errText    sql.NullString
		)
		if err := rows.Scan(&s.RunID, &startedAt, &finishedAt, &s.Status, &algs,
			&s.SuccessCount, &s.TotalCount, &s.FailedCount, &s.BytesRead, &errText); err != nil {
			slog.Error("scan run row", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read runs")
			return
		}
		s.StartedAt = time.Unix(startedAt, 0).UTC()
		if finishedAt.Valid {
			t := time.Unix(finishedAt.Int64, 0).UTC()
			s.FinishedAt = &t
		}
		s.Algorithms = []string{}
		if algs != "" {
			s.Algorithms = strings.Split(algs, ",")
		}
		if errText.Valid {
			s.Error = &errText.String
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		slog.Error("iterate runs", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read runs")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse[runSummary]{
		Items: items, Total: total, Limit: limit, Offset: offset,
	})
}
