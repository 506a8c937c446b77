package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eargollo/hashcheck/internal/checksumfile"
	"github.com/eargollo/hashcheck/internal/digest"
	"github.com/eargollo/hashcheck/internal/report"
	"github.com/eargollo/hashcheck/internal/scan"
)

// ResultsHandler serves the transcript and writes checksum files.
type ResultsHandler struct {
	Transcript *report.Transcript
	Consumer   *scan.Consumer
	// OutputDir is where checksum files are written. Request paths are
	// resolved inside it.
	OutputDir string
}

// Text handles GET /api/results and returns the transcript as plain text.
func (h *ResultsHandler) Text(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.Transcript.Text())
}

type findResponse struct {
	Found  bool `json:"found"`
	Offset int  `json:"offset"`
	Length int  `json:"length"`
}

// Find handles GET /api/results/find?q=&from=.
func (h *ResultsHandler) Find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	from := 0
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_OFFSET", "from must be an integer")
			return
		}
		from = n
	}
	off, n, err := h.Transcript.Find(q, from)
	if err != nil {
		if errors.Is(err, report.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "EMPTY_QUERY", "q is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, findResponse{Found: off >= 0, Offset: off, Length: n})
}

type saveRequest struct {
	Algorithm string `json:"algorithm"`
	Path      string `json:"path"`
}

type saveResponse struct {
	Algorithm string `json:"algorithm"`
	Path      string `json:"path"`
}

// Save handles POST /api/save. When the digest has not been computed yet
// the request blocks until the recompute finishes.
func (h *ResultsHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	alg, err := digest.Parse(req.Algorithm)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ALGORITHM", err.Error())
		return
	}
	name := req.Path
	if name == "" {
		name = checksumfile.DefaultName("checksums", alg)
	}
	path, ok := h.resolve(name)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "path must stay inside the output directory")
		return
	}

	if err := h.Consumer.Save(r.Context(), alg, path); err != nil {
		switch {
		case errors.Is(err, scan.ErrBusy):
			writeError(w, http.StatusConflict, "RUN_BUSY", "a run is in progress")
		case errors.Is(err, scan.ErrNothingToSave):
			writeError(w, http.StatusConflict, "NOTHING_TO_SAVE", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "SAVE_FAILED", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Algorithm: alg.String(), Path: path})
}

func (h *ResultsHandler) resolve(name string) (string, bool) {
	if filepath.IsAbs(name) {
		return "", false
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	dir := h.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, clean), true
}
