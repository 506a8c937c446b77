package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eargollo/hashcheck/internal/api"
	"github.com/eargollo/hashcheck/internal/checksumfile"
	"github.com/eargollo/hashcheck/internal/config"
	"github.com/eargollo/hashcheck/internal/db"
	"github.com/eargollo/hashcheck/internal/digest"
	"github.com/eargollo/hashcheck/internal/report"
	"github.com/eargollo/hashcheck/internal/scan"
	"github.com/eargollo/hashcheck/internal/scheduler"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	serve := flag.Bool("serve", false, "run the HTTP API instead of a single pass")
	algorithms := flag.String("algorithms", "", "comma-separated algorithms, overrides the config")
	save := flag.String("save", "", "write a checksum file after the run, as alg:path (path optional)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [path ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// ── Logging (replaced once config is loaded) ───────────────────────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.Paths = flag.Args()
	}
	if *algorithms != "" {
		cfg.AlgorithmNames = strings.Split(*algorithms, ",")
	}
	set, err := cfg.Algorithms()
	if err != nil {
		slog.Error("parse algorithms", "error", err)
		os.Exit(2)
	}
	saveAlg, savePath, err := parseSave(*save)
	if err != nil {
		slog.Error("parse -save", "error", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("hashcheck starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"db_path", cfg.DBPath,
		"paths", cfg.Paths,
		"algorithms", set)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Runs still 'running' were interrupted by the last process exiting.
	if err := scan.MarkStaleRunsFailed(database); err != nil {
		slog.Warn("mark stale runs", "error", err)
	}

	// ── Pipeline ───────────────────────────────────────────────────────────
	src := scan.NewPathSource(cfg.Paths, cfg.ExcludePaths, cfg.Walkers, scan.NewDigestCache(database))
	runCfg := scan.DefaultConfig()
	runCfg.Algorithms = set
	runCfg.Uppercase = cfg.Uppercase
	runCfg.Watermark = cfg.Watermark
	runCfg.Timed = cfg.Timed
	ctrl := scan.NewController(src, runCfg)

	transcript := report.NewTranscript(nil)
	if !*serve {
		transcript.Out = os.Stdout
	}
	transcript.Timed = cfg.Timed
	consumer := scan.NewConsumer(ctrl, scan.MultiSink{scan.NewRecorder(database, 0), transcript})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		err = runServer(ctx, cfg, database, src, ctrl, consumer, transcript)
	} else {
		err = runOnce(ctx, ctrl, consumer, saveAlg, savePath)
	}
	if err != nil {
		slog.Error("hashcheck failed", "error", err)
		os.Exit(1)
	}
	slog.Info("hashcheck stopped")
}

// runOnce hashes the configured paths a single time. An interrupt stops
// the run; the partial results are still printed.
func runOnce(ctx context.Context, ctrl *scan.Controller, consumer *scan.Consumer, saveAlg digest.Algorithm, savePath string) error {
	if _, err := ctrl.Start(context.Background()); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	g := new(errgroup.Group)
	g.Go(func() error {
		consumer.Run(consumerCtx)
		return nil
	})
	go func() {
		<-ctx.Done()
		if err := ctrl.Stop(); err == nil {
			slog.Info("interrupted, stopping run")
		}
	}()

	err := ctrl.Wait(context.Background())
	if err == nil && savePath != "" {
		if ctx.Err() != nil {
			err = errors.New("run interrupted, checksums not saved")
		} else {
			err = consumer.Save(ctx, saveAlg, savePath)
		}
	}
	stopConsumer()
	g.Wait()
	return err
}

// runServer serves the HTTP API until ctx is cancelled, with the refresh
// and prune jobs on the scheduler.
func runServer(
	ctx context.Context,
	cfg *config.Config,
	database *sql.DB,
	src *scan.PathSource,
	ctrl *scan.Controller,
	consumer *scan.Consumer,
	transcript *report.Transcript,
) error {
	sched := scheduler.New()
	if err := sched.Set("refresh", cfg.Schedule, func() {
		if err := startFresh(ctrl, src); err != nil {
			slog.Warn("scheduled run start", "error", err)
		}
	}); err != nil {
		slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
	}
	retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
	if err := sched.Set("prune", "0 3 * * *", func() {
		prune(database, time.Now().Add(-retention))
	}); err != nil {
		slog.Warn("failed to register prune job", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	readDB, err := db.OpenReadOnly(cfg.DBPath, 4)
	if err != nil {
		return err
	}
	defer readDB.Close()

	srv := api.New(cfg.HTTPAddr, api.Deps{
		DB:         database,
		ReadDB:     readDB,
		Controller: ctrl,
		Consumer:   consumer,
		Transcript: transcript,
		Sched:      sched,
		Reload:     src.Reload,
		OutputDir:  cfg.OutputDir,
		Version:    version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if len(cfg.Paths) > 0 {
		if err := startFresh(ctrl, src); err != nil {
			slog.Warn("initial run start", "error", err)
		}
	}
	return g.Wait()
}

// startFresh re-walks the paths and starts a run unless one is live.
func startFresh(ctrl *scan.Controller, src *scan.PathSource) error {
	if err := ctrl.Reset(); err != nil {
		return err
	}
	src.Reload()
	_, err := ctrl.Start(context.Background())
	return err
}

func prune(database *sql.DB, cutoff time.Time) {
	ctx := context.Background()
	runs, err := scan.PruneRuns(ctx, database, cutoff)
	if err != nil {
		slog.Error("prune runs", "error", err)
		return
	}
	digests, err := scan.PruneDigests(ctx, database, cutoff)
	if err != nil {
		slog.Error("prune digests", "error", err)
		return
	}
	slog.Info("pruned history", "runs", runs, "digests", digests, "cutoff", cutoff.Format(time.DateOnly))
}

// parseSave splits "alg:path". A missing path uses the conventional name
// for the algorithm, e.g. "checksums.md5".
func parseSave(s string) (digest.Algorithm, string, error) {
	if s == "" {
		return 0, "", nil
	}
	name, path, _ := strings.Cut(s, ":")
	alg, err := digest.Parse(name)
	if err != nil {
		return 0, "", err
	}
	if path == "" {
		path = checksumfile.DefaultName("checksums", alg)
	}
	return alg, path, nil
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
