// Package ledger records pipeline runs and their stage results in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kube-reporting/theft-lakehouse/pkg/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one invocation of a pipeline command.
type Run struct {
	ID         string        `json:"id"`
	Command    string        `json:"command"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
	Stages     []StageResult `json:"stages,omitempty"`
}

// StageResult is the outcome of one stage for one dataset or table set.
type StageResult struct {
	Stage       string    `json:"stage"`
	Target      string    `json:"target"`
	RowsRead    int64     `json:"rowsRead"`
	RowsWritten int64     `json:"rowsWritten"`
	RowsDropped int64     `json:"rowsDropped"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

type Ledger struct {
	logger log.FieldLogger
	conn   *sql.DB
	db     db.ExecQueryer
}

// Open opens or creates the ledger database at path and migrates it to the
// latest schema version.
func Open(ctx context.Context, logger log.FieldLogger, path string, logQueries bool) (*Ledger, error) {
	logger = logger.WithField("component", "ledger")
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening ledger %s", path)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "opening ledger %s", path)
	}
	if err := migrateUp(conn); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Debugf("opened ledger %s", path)
	return &Ledger{
		logger: logger,
		conn:   conn,
		db:     db.NewLoggingExecQueryer(conn, logger, logQueries, logQueries),
	}, nil
}

func migrateUp(conn *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading ledger migrations")
	}
	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "creating sqlite migration driver")
	}
	// the migrate instance is not closed, closing it closes conn
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "creating ledger migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrating ledger")
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) StartRun(ctx context.Context, id, command string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		id, command, string(StatusRunning), formatTime(startedAt))
	return errors.Wrapf(err, "recording start of run %s", id)
}

// FinishRun marks a run succeeded, or failed with runErr.
func (l *Ledger) FinishRun(ctx context.Context, id string, finishedAt time.Time, runErr error) error {
	status, msg := Outcome(runErr)
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), msg, formatTime(finishedAt), id)
	if err != nil {
		return errors.Wrapf(err, "recording end of run %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrRunNotFound, "run %s", id)
	}
	return nil
}

func (l *Ledger) RecordStage(ctx context.Context, runID string, result StageResult) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO stage_results
			(run_id, seq, stage, target, rows_read, rows_written, rows_dropped, status, error, started_at, finished_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM stage_results WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, runID, result.Stage, result.Target, result.RowsRead, result.RowsWritten, result.RowsDropped,
		string(result.Status), result.Error, formatTime(result.StartedAt), formatTime(result.FinishedAt))
	return errors.Wrapf(err, "recording %s stage of run %s", result.Stage, runID)
}

// ListRuns returns the most recent runs first, without their stages.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, command, status, error, started_at, finished_at FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its stage results in the order they were recorded.
func (l *Ledger) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, command, status, error, started_at, finished_at FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting run %s", id)
	}
	var run *Run
	if rows.Next() {
		run, err = scanRun(rows)
	}
	if err == nil {
		err = rows.Err()
	}
	rows.Close()
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", id)
	}

	stages, err := l.stages(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

func (l *Ledger) stages(ctx context.Context, runID string) ([]StageResult, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, target, rows_read, rows_written, rows_dropped, status, error, started_at, finished_at
		FROM stage_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "getting stages of run %s", runID)
	}
	defer rows.Close()

	var stages []StageResult
	for rows.Next() {
		var (
			s                 StageResult
			status            string
			started, finished string
		)
		if err := rows.Scan(&s.Stage, &s.Target, &s.RowsRead, &s.RowsWritten, &s.RowsDropped, &status, &s.Error, &started, &finished); err != nil {
			return nil, err
		}
		s.Status = Status(status)
		if s.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if s.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := rows.Scan(&run.ID, &run.Command, &status, &run.Error, &started, &finished); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// Outcome returns the status and message recorded for a stage or run that
// ended with err.
func Outcome(err error) (Status, string) {
	if err != nil {
		return StatusFailed, err.Error()
	}
	return StatusSucceeded, ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ledger timestamp %q: %v", s, err)
	}
	return t, nil
}
