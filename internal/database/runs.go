package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
)

const runColumns = `r.id, r.job_id, r.status, r.output_content, r.html_output_content, r.log_content, r.started_at, r.completed_at, r.error_message`

// CreateRun opens a running JobRun for jobID. With exclusive set the insert only
// happens when the job has no running run, otherwise ErrRunInProgress is returned.
// The existence checks and the insert are a single statement.
func (s *Store) CreateRun(ctx context.Context, jobID int64, exclusive bool) (*models.JobRun, error) {
	startedAt := now()
	ts := "?"
	if s.driver == DriverPostgres {
		// parameters in a SELECT list have no type context in postgres
		ts = "CAST(? AS TIMESTAMPTZ)"
	}
	query := `INSERT INTO job_runs (job_id, status, started_at)
		SELECT j.id, 'running', ` + ts + ` FROM jobs j WHERE j.id = ?`
	args := []any{startedAt, jobID}
	if exclusive {
		query += ` AND NOT EXISTS (SELECT 1 FROM job_runs r WHERE r.job_id = j.id AND r.status = 'running')`
	}
	query += ` RETURNING id`

	var id int64
	err := s.db.QueryRowxContext(ctx, s.rebind(query), args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// nothing inserted: tell the two guards apart
		if _, gerr := s.GetJob(ctx, jobID); gerr != nil {
			return nil, gerr
		}
		return nil, fmt.Errorf("database: job %d: %w", jobID, models.ErrRunInProgress)
	}
	if isUniqueViolation(err) {
		// a concurrent insert won the single running run index
		return nil, fmt.Errorf("database: job %d: %w", jobID, models.ErrRunInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("database: create run for job %d: %w", jobID, err)
	}

	return &models.JobRun{
		ID:        id,
		JobID:     jobID,
		Status:    models.RunStatusRunning,
		StartedAt: startedAt,
	}, nil
}

func (s *Store) GetRun(ctx context.Context, id int64) (*models.JobRun, error) {
	var r models.JobRun
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+runColumns+` FROM job_runs r WHERE r.id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: run %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: get run %d: %w", id, err)
	}
	return &r, nil
}

// GetRunView returns the run joined with its job's name.
func (s *Store) GetRunView(ctx context.Context, id int64) (*models.RunView, error) {
	var v models.RunView
	q := s.rebind(`SELECT ` + runColumns + `, j.name AS job_name
		FROM job_runs r JOIN jobs j ON j.id = r.job_id WHERE r.id = ?`)
	err := s.db.GetContext(ctx, &v, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: run %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: get run %d: %w", id, err)
	}
	return &v, nil
}

// ListRuns returns the newest runs across all jobs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.RunView, error) {
	runs := []models.RunView{}
	q := s.rebind(`SELECT ` + runColumns + `, j.name AS job_name
		FROM job_runs r JOIN jobs j ON j.id = r.job_id
		ORDER BY r.started_at DESC, r.id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, q, int64(limit)); err != nil {
		return nil, fmt.Errorf("database: list runs: %w", err)
	}
	return runs, nil
}

func (s *Store) ListJobRuns(ctx context.Context, jobID int64, limit int) ([]models.JobRun, error) {
	runs := []models.JobRun{}
	q := s.rebind(`SELECT ` + runColumns + ` FROM job_runs r WHERE r.job_id = ?
		ORDER BY r.started_at DESC, r.id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, q, jobID, int64(limit)); err != nil {
		return nil, fmt.Errorf("database: list runs of job %d: %w", jobID, err)
	}
	return runs, nil
}

// RunningRun returns the newest running run of the job, or ErrNotFound.
func (s *Store) RunningRun(ctx context.Context, jobID int64) (*models.JobRun, error) {
	return s.latest(ctx, jobID, true)
}

// LatestRun returns the most recently started run of the job, or ErrNotFound.
func (s *Store) LatestRun(ctx context.Context, jobID int64) (*models.JobRun, error) {
	return s.latest(ctx, jobID, false)
}

func (s *Store) latest(ctx context.Context, jobID int64, running bool) (*models.JobRun, error) {
	query := `SELECT ` + runColumns + ` FROM job_runs r WHERE r.job_id = ?`
	args := []any{jobID}
	if running {
		query += ` AND r.status = ? AND r.completed_at IS NULL`
		args = append(args, string(models.RunStatusRunning))
	}
	query += ` ORDER BY r.started_at DESC, r.id DESC LIMIT 1`

	var r models.JobRun
	err := s.db.GetContext(ctx, &r, s.rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: job %d has no matching run: %w", jobID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: latest run of job %d: %w", jobID, err)
	}
	return &r, nil
}

// RunningJobIDs returns the set of jobs that currently have a running run.
func (s *Store) RunningJobIDs(ctx context.Context) (map[int64]bool, error) {
	var ids []int64
	q := s.rebind(`SELECT DISTINCT job_id FROM job_runs WHERE status = ? AND completed_at IS NULL`)
	if err := s.db.SelectContext(ctx, &ids, q, string(models.RunStatusRunning)); err != nil {
		return nil, fmt.Errorf("database: running jobs: %w", err)
	}
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// SaveRunOutput is the worker's write-back path. Only running runs accept output.
func (s *Store) SaveRunOutput(ctx context.Context, runID int64, output, html string) error {
	var htmlArg any
	if html != "" {
		htmlArg = html
	}
	q := s.rebind(`UPDATE job_runs SET output_content = ?, html_output_content = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, q, output, htmlArg, runID, string(models.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("database: save output of run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("database: running run %d: %w", runID, models.ErrNotFound)
	}
	return nil
}

// Outcome is the terminal state written by FinishRun.
type Outcome struct {
	Status       models.RunStatus
	Output       *string
	HTML         *string
	Log          *string
	ErrorMessage *string
}

// FinishRun moves a running run to its terminal status. A run is finished at most
// once: if it is no longer running (or was deleted with its job) ErrNotFound is
// returned and nothing changes.
func (s *Store) FinishRun(ctx context.Context, runID int64, o Outcome) (*models.JobRun, error) {
	if !o.Status.Terminal() {
		return nil, fmt.Errorf("database: finish run %d with non-terminal status %q", runID, o.Status)
	}
	completedAt := now()
	q := s.rebind(`UPDATE job_runs SET status = ?, output_content = ?, html_output_content = ?, log_content = ?,
		error_message = ?, completed_at = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, q, string(o.Status), nullable(o.Output), nullable(o.HTML), nullable(o.Log),
		nullable(o.ErrorMessage), completedAt, runID, string(models.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("database: finish run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("database: running run %d: %w", runID, models.ErrNotFound)
	}
	return s.GetRun(ctx, runID)
}

// FailStaleRuns marks every run still running that started before cutoff as failed
// and returns how many rows changed.
func (s *Store) FailStaleRuns(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	q := s.rebind(`UPDATE job_runs SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ? AND started_at < ?`)
	res, err := s.db.ExecContext(ctx, q, string(models.RunStatusFailed), reason, now(), string(models.RunStatusRunning), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("database: fail stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("database: fail stale runs: %w", err)
	}
	return n, nil
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
