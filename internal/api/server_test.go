package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eargollo/hashcheck/internal/api"
	"github.com/eargollo/hashcheck/internal/db"
	"github.com/eargollo/hashcheck/internal/digest"
	"github.com/eargollo/hashcheck/internal/report"
	"github.com/eargollo/hashcheck/internal/scan"
)

type testServer struct {
	ts         *httptest.Server
	transcript *report.Transcript
	outDir     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"a.txt": "hello", "b.txt": "world"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatal(err)
	}

	src := scan.NewPathSource([]string{dir}, nil, 2, nil)
	cfg := scan.DefaultConfig()
	cfg.Algorithms = digest.SetOf(digest.CRC32)
	ctrl := scan.NewController(src, cfg)
	transcript := report.NewTranscript(nil)
	consumer := scan.NewConsumer(ctrl, scan.MultiSink{scan.NewRecorder(database, 0), transcript})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	outDir := t.TempDir()
	srv := api.New(":0", api.Deps{
		DB:         database,
		Controller: ctrl,
		Consumer:   consumer,
		Transcript: transcript,
		Reload:     src.Reload,
		OutputDir:  outDir,
		Version:    "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, transcript: transcript, outDir: outDir}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error.Code
}

// runToCompletion starts a run and waits until its status line is shown.
func (s *testServer) runToCompletion(t *testing.T) {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/runs", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/runs: status %d", resp.StatusCode)
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	decode(t, resp, &started)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v := s.transcript.View(); v.Finished && v.Run.String() == started.RunID && s.idle(t) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish")
}

// idle reports whether the server would accept a new run.
func (s *testServer) idle(t *testing.T) bool {
	t.Helper()
	var body struct {
		Idle bool `json:"idle"`
	}
	decode(t, s.do(t, http.MethodGet, "/api/status", ""), &body)
	return body.Idle
}

func TestStatusInitiallyInactive(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Version    string    `json:"version"`
		State      string    `json:"state"`
		Algorithms []string  `json:"algorithms"`
		Run        *struct{} `json:"run"`
	}
	decode(t, resp, &body)
	if body.State != "inactive" || body.Version != "test" {
		t.Errorf("got state=%q version=%q", body.State, body.Version)
	}
	if len(body.Algorithms) != 1 || body.Algorithms[0] != "crc32" {
		t.Errorf("algorithms: %v", body.Algorithms)
	}
	if body.Run != nil {
		t.Error("run should be null before the first run")
	}
	if !s.idle(t) {
		t.Error("a fresh server should accept a run")
	}
}

func TestPauseAndCancelWithoutRun(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/runs/current/pause"},
		{http.MethodDelete, "/api/runs/current"},
	} {
		resp := s.do(t, tc.method, tc.path, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: status %d, want 404", tc.method, tc.path, resp.StatusCode)
			continue
		}
		if code := errorCode(t, resp); code != "NO_ACTIVE_RUN" {
			t.Errorf("%s %s: code %q", tc.method, tc.path, code)
		}
	}
}

func TestRunProducesResultsAndHistory(t *testing.T) {
	s := newTestServer(t)
	s.runToCompletion(t)

	resp := s.do(t, http.MethodGet, "/api/results", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type %q", ct)
	}
	text := s.transcript.Text()
	if !strings.Contains(text, "a.txt") || !strings.Contains(text, "b.txt") {
		t.Errorf("transcript missing files:\n%s", text)
	}

	resp = s.do(t, http.MethodGet, "/api/runs", "")
	var list struct {
		Items []struct {
			Status       string   `json:"status"`
			Algorithms   []string `json:"algorithms"`
			SuccessCount int      `json:"success_count"`
			TotalCount   int      `json:"total_count"`
		} `json:"items"`
		Total int `json:"total"`
	}
	decode(t, resp, &list)
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("runs: total=%d items=%d", list.Total, len(list.Items))
	}
	if r := list.Items[0]; r.Status != "completed" || r.SuccessCount != 2 || r.TotalCount != 2 {
		t.Errorf("run row: %+v", r)
	}

	// A finished run can be started again.
	s.runToCompletion(t)
	resp = s.do(t, http.MethodGet, "/api/runs", "")
	decode(t, resp, &list)
	if list.Total != 2 {
		t.Errorf("runs after second start: %d", list.Total)
	}
}

func TestFind(t *testing.T) {
	s := newTestServer(t)
	s.runToCompletion(t)

	resp := s.do(t, http.MethodGet, "/api/results/find?q=", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty q: status %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, "/api/results/find?q=B.TXT", "")
	var found struct {
		Found  bool `json:"found"`
		Offset int  `json:"offset"`
		Length int  `json:"length"`
	}
	decode(t, resp, &found)
	if !found.Found || found.Length != 5 {
		t.Fatalf("find: %+v", found)
	}
	if got := s.transcript.Text()[found.Offset : found.Offset+found.Length]; got != "b.txt" {
		t.Errorf("match %q", got)
	}

	resp = s.do(t, http.MethodGet, "/api/results/find?q=nope", "")
	decode(t, resp, &found)
	if found.Found {
		t.Error("unexpected match")
	}
}

func TestSetAlgorithmsValidation(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{`{"algorithms":["md4"]}`, `{"algorithms":[]}`, `{"bogus":1}`} {
		resp := s.do(t, http.MethodPut, "/api/algorithms", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestSave(t *testing.T) {
	s := newTestServer(t)
	s.runToCompletion(t)

	resp := s.do(t, http.MethodPost, "/api/save", `{"algorithm":"crc32","path":"../escape.sfv"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("escaping path: status %d", resp.StatusCode)
	}
	resp = s.do(t, http.MethodPost, "/api/save", `{"algorithm":"md4"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad algorithm: status %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/api/save", `{"algorithm":"crc32","path":"out.sfv"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save: status %d", resp.StatusCode)
	}
	data, err := os.ReadFile(filepath.Join(s.outDir, "out.sfv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "a.txt 3610A686") {
		t.Errorf("sfv content:\n%s", data)
	}
}
