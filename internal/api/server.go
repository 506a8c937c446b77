package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eargollo/hashcheck/internal/api/handlers"
	"github.com/eargollo/hashcheck/internal/report"
	"github.com/eargollo/hashcheck/internal/scan"
	"github.com/eargollo/hashcheck/internal/scheduler"
)

// Deps are the components the HTTP layer drives.
type Deps struct {
	DB         *sql.DB
	ReadDB     *sql.DB // optional; serves history queries off the writer connection
	Controller *scan.Controller
	Consumer   *scan.Consumer
	Transcript *report.Transcript
	Sched      *scheduler.Scheduler
	Reload     func() // makes the next run re-walk the configured paths
	OutputDir  string
	Version    string
}

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(addr string, d Deps) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{
		Controller: d.Controller,
		Transcript: d.Transcript,
		Sched:      d.Sched,
		Version:    d.Version,
	}
	readDB := d.ReadDB
	if readDB == nil {
		readDB = d.DB
	}
	runsH := &handlers.RunsHandler{DB: readDB, Controller: d.Controller, Reload: d.Reload}
	resultsH := &handlers.ResultsHandler{
		Transcript: d.Transcript,
		Consumer:   d.Consumer,
		OutputDir:  d.OutputDir,
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/runs", runsH.Create)
		r.Get("/runs", runsH.List)
		r.Post("/runs/current/pause", runsH.Pause)
		r.Delete("/runs/current", runsH.Cancel)

		r.Put("/algorithms", runsH.SetAlgorithms)

		r.Get("/results", resultsH.Text)
		r.Get("/results/find", resultsH.Find)
		r.Post("/save", resultsH.Save)
	})

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: r},
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down HTTP server")
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
