package scan

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultBatchSize is the number of digest rows written per transaction.
const DefaultBatchSize = 500

type digestRow struct {
	path  string
	size  int64
	mtime int64
	alg   string
	hex   string
}

// Recorder is a Sink that persists run history and every valid digest so
// later processes can skip unchanged files. Database errors are logged and
// never interrupt the run.
type Recorder struct {
	db        *sql.DB
	batchSize int
	buf       []digestRow
}

// NewRecorder creates a Recorder. batchSize <= 0 uses DefaultBatchSize.
func NewRecorder(db *sql.DB, batchSize int) *Recorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Recorder{db: db, batchSize: batchSize}
}

func (r *Recorder) Preparing(ev *Event) {
	if !ev.Preparing {
		return
	}
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO runs (run_id, started_at, status, algorithms)
		VALUES (?, ?, 'running', ?)`,
		ev.Run.String(), ev.At.Unix(), strings.Join(ev.Algorithms.Names(), ","))
	if err != nil {
		slog.Warn("record run start", "run", ev.Run, "error", err)
	}
}

func (r *Recorder) ItemsUpdated(ev *Event) {
	for _, it := range ev.Items {
		for _, a := range it.Result.Valid.Algorithms() {
			hex, _ := it.Result.Hex(a)
			r.buf = append(r.buf, digestRow{
				path:  it.Path,
				size:  it.Size,
				mtime: it.MTime.UnixNano(),
				alg:   a.String(),
				hex:   hex,
			})
		}
	}
	if len(r.buf) >= r.batchSize {
		r.flush()
	}
}

func (r *Recorder) FileProgress(*Event) {}

func (r *Recorder) RunFinished(ev *Event) {
	r.flush()

	sum := ev.Summary
	var errText sql.NullString
	if sum.Err != nil {
		errText = sql.NullString{String: sum.Err.Error(), Valid: true}
	}
	_, err := r.db.Exec(`
		UPDATE runs
		SET status        = ?,
		    finished_at   = ?,
		    success_count = ?,
		    total_count   = ?,
		    failed_count  = ?,
		    bytes_read    = ?,
		    error         = ?
		WHERE run_id = ?`,
		sum.Status(), ev.At.Unix(),
		sum.Success, sum.Total, sum.Failed, sum.BytesRead, errText,
		sum.Run.String())
	if err != nil {
		slog.Warn("record run finish", "run", sum.Run, "error", err)
	}
}

// RunSuperseded closes the row of a run that a restart replaced, the same
// way RunFinished does for a current run.
func (r *Recorder) RunSuperseded(ev *Event) { r.RunFinished(ev) }

func (r *Recorder) flush() {
	if len(r.buf) == 0 {
		return
	}
	// Background so the rows survive a cancelled run.
	if err := upsertDigests(context.Background(), r.db, r.buf); err != nil {
		slog.Warn("record digests", "rows", len(r.buf), "error", err)
	}
	r.buf = r.buf[:0]
}

// upsertDigests writes rows in a single transaction.
func upsertDigests(ctx context.Context, db *sql.DB, rows []digestRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO file_digests (path, size, mtime, algorithm, hex, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.path, row.size, row.mtime, row.alg, row.hex, now); err != nil {
			return fmt.Errorf("upsert %q: %w", row.path, err)
		}
	}
	return tx.Commit()
}

// MarkStaleRunsFailed marks any runs rows still in 'running' state as
// 'failed'. Call it once at startup in case a previous process exited
// mid-run.
func MarkStaleRunsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE runs
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale runs as failed", "count", n)
	}
	return nil
}

// PruneRuns deletes finished runs that started before cutoff and returns
// the number removed.
func PruneRuns(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM runs WHERE status != 'running' AND started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// PruneDigests deletes cached digests of files that have not been seen
// since cutoff.
func PruneDigests(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM file_digests WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune digests: %w", err)
	}
	return res.RowsAffected()
}
