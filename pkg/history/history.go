// Package history keeps a local record of verification runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jingkaihe/skillgate/pkg/db"
	"github.com/jingkaihe/skillgate/pkg/db/migrations"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// Status of a recorded run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusInterrupted Status = "interrupted"
	StatusError       Status = "error"
	// StatusAbandoned marks runs whose process died without finishing.
	StatusAbandoned Status = "abandoned"
)

// ErrNotFound is returned when no run matches an id.
var ErrNotFound = errors.New("run not found")

// Run is one row of the history.
type Run struct {
	ID         string                     `json:"id" yaml:"id"`
	Target     string                     `json:"target" yaml:"target"`
	StartedAt  time.Time                  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time                 `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
	Status     Status                     `json:"status" yaml:"status"`
	Decision   report.Decision            `json:"decision,omitempty" yaml:"decision,omitempty"`
	ExitCode   *int                       `json:"exitCode,omitempty" yaml:"exitCode,omitempty"`
	PID        int                        `json:"pid" yaml:"pid"`
	Report     *report.VerificationReport `json:"report,omitempty" yaml:"-"`
}

type dbRun struct {
	ID         string         `db:"id"`
	Target     string         `db:"target"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	Status     string         `db:"status"`
	Decision   string         `db:"decision"`
	ExitCode   sql.NullInt64  `db:"exit_code"`
	PID        int            `db:"pid"`
	ReportJSON sql.NullString `db:"report_json"`
}

func (r dbRun) toRun() (Run, error) {
	run := Run{
		ID:        r.ID,
		Target:    r.Target,
		StartedAt: r.StartedAt,
		Status:    Status(r.Status),
		Decision:  report.Decision(r.Decision),
		PID:       r.PID,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		run.FinishedAt = &t
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		run.ExitCode = &code
	}
	if r.ReportJSON.Valid && r.ReportJSON.String != "" {
		var rep report.VerificationReport
		if err := json.Unmarshal([]byte(r.ReportJSON.String), &rep); err != nil {
			return run, errors.Wrapf(err, "failed to decode report of run %s", r.ID)
		}
		run.Report = &rep
	}
	return run, nil
}

// Store reads and writes runs.
type Store struct {
	db       *sqlx.DB
	pid      int
	alive    func(pid int) bool
	attempts uint
	delay    time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithProcessCheck replaces the liveness check used by MarkAbandoned
func WithProcessCheck(alive func(pid int) bool) Option {
	return func(s *Store) { s.alive = alive }
}

// WithRetry sets how often a write is retried while the database is busy
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(s *Store) {
		s.attempts = attempts
		s.delay = delay
	}
}

// Open opens the history database at path, applying migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	conn, err := db.OpenMigrated(ctx, path, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open run history")
	}
	return NewStore(conn, opts...), nil
}

// NewStore wraps an already migrated database.
func NewStore(conn *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:       conn,
		pid:      os.Getpid(),
		alive:    processAlive,
		attempts: 5,
		delay:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func processAlive(pid int) bool {
	found, _ := process.PidExists(int32(pid))
	return found
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// write retries f while SQLite reports the database as busy.
func (s *Store) write(ctx context.Context, f func() error) error {
	return retry.Do(
		f,
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isBusy),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Debug("history database busy, retrying")
		}),
	)
}

// Start records that a run began in this process.
func (s *Store) Start(ctx context.Context, runID, target string, startedAt time.Time) error {
	err := s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, target, started_at, status, pid) VALUES (?, ?, ?, ?, ?)`,
			runID, target, startedAt.UTC(), string(StatusRunning), s.pid)
		return err
	})
	return errors.Wrapf(err, "failed to record start of run %s", runID)
}

// Abort closes a started run that never produced a report.
func (s *Store) Abort(ctx context.Context, runID string, status Status, finishedAt time.Time) error {
	err := s.write(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, status = ? WHERE id = ? AND status = ?`,
			finishedAt.UTC(), string(status), runID, string(StatusRunning))
		return err
	})
	return errors.Wrapf(err, "failed to record end of run %s", runID)
}

// Finish stores the final report of a run.
func (s *Store) Finish(ctx context.Context, r *report.VerificationReport, status Status, finishedAt time.Time) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}

	var exitCode sql.NullInt64
	if status == StatusFinished {
		exitCode = sql.NullInt64{Int64: int64(r.ExitCode()), Valid: true}
	}

	err = s.write(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, status = ?, decision = ?, exit_code = ?, report_json = ? WHERE id = ?`,
			finishedAt.UTC(), string(status), string(r.Decision()), exitCode, string(data), r.RunID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO runs (id, target, started_at, finished_at, status, decision, exit_code, pid, report_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.RunID, r.Target, r.Timestamp.UTC(), finishedAt.UTC(), string(status), string(r.Decision()), exitCode, s.pid, string(data))
		}
		return err
	})
	return errors.Wrapf(err, "failed to record end of run %s", r.RunID)
}

// Get returns the run whose id equals id or, failing that, the single run
// whose id starts with it.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	var rows []dbRun
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		return Run{}, errors.Wrap(err, "failed to query runs")
	}
	if len(rows) == 0 && id != "" {
		err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2`, likePrefix(id))
		if err != nil {
			return Run{}, errors.Wrap(err, "failed to query runs")
		}
	}

	switch len(rows) {
	case 0:
		return Run{}, errors.Wrap(ErrNotFound, id)
	case 1:
		return rows[0].toRun()
	default:
		return Run{}, errors.Errorf("run id %s is ambiguous", id)
	}
}

// ListOptions filters List.
type ListOptions struct {
	Limit  int
	Target string
	Status Status
}

// List returns runs newest first. Reports are not loaded.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT id, target, started_at, finished_at, status, decision, exit_code, pid FROM runs`
	var (
		where []string
		args  []any
	)
	if opts.Target != "" {
		where = append(where, "target = ?")
		args = append(args, opts.Target)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []dbRun
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// MarkAbandoned flags running rows whose process no longer exists and
// returns how many were updated.
func (s *Store) MarkAbandoned(ctx context.Context) (int, error) {
	var rows []struct {
		ID  string `db:"id"`
		PID int    `db:"pid"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, pid FROM runs WHERE status = ?`, string(StatusRunning)); err != nil {
		return 0, errors.Wrap(err, "failed to query running runs")
	}

	marked := 0
	for _, row := range rows {
		if row.PID == s.pid || s.alive(row.PID) {
			continue
		}
		err := s.write(ctx, func() error {
			_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ? AND status = ?`,
				string(StatusAbandoned), row.ID, string(StatusRunning))
			return err
		})
		if err != nil {
			return marked, errors.Wrapf(err, "failed to mark run %s abandoned", row.ID)
		}
		logger.G(ctx).WithField("run_id", row.ID).WithField("pid", row.PID).Info("marked run as abandoned")
		marked++
	}
	return marked, nil
}

func likePrefix(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s) + "%"
}
