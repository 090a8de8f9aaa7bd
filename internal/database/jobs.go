package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
)

const jobColumns = `id, name, slug, prompt_content, cron_expression, enabled, email_recipients, created_at, updated_at`

func (s *Store) ListJobs(ctx context.Context) ([]models.Job, error) {
	jobs := []models.Job{}
	if err := s.db.SelectContext(ctx, &jobs, `SELECT `+jobColumns+` FROM jobs ORDER BY id`); err != nil {
		return nil, fmt.Errorf("database: list jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) ListEnabledJobs(ctx context.Context) ([]models.Job, error) {
	jobs := []models.Job{}
	q := s.rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE enabled = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &jobs, q, true); err != nil {
		return nil, fmt.Errorf("database: list enabled jobs: %w", err)
	}
	return jobs, nil
}

func (s *Store) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return getJob(ctx, s.db, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
}

func (s *Store) GetJobByName(ctx context.Context, name string) (*models.Job, error) {
	return getJob(ctx, s.db, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE name = ?`), name)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (*models.Job, error) {
	var j models.Job
	err := sqlx.GetContext(ctx, q, &j, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database: job %v: %w", arg, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database: get job %v: %w", arg, err)
	}
	return &j, nil
}

// CountJobs returns the total and enabled job counts.
func (s *Store) CountJobs(ctx context.Context) (total, enabled int, err error) {
	q := s.rebind(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN enabled = ? THEN 1 ELSE 0 END), 0) FROM jobs`)
	if err := s.db.QueryRowxContext(ctx, q, true).Scan(&total, &enabled); err != nil {
		return 0, 0, fmt.Errorf("database: count jobs: %w", err)
	}
	return total, enabled, nil
}

// checkUnique reports ErrConflict when another job already uses name or slug.
func (s *Store) checkUnique(ctx context.Context, tx *sqlx.Tx, name, slug string, exceptID int64) error {
	var n int
	q := s.rebind(`SELECT COUNT(*) FROM jobs WHERE (name = ? OR slug = ?) AND id <> ?`)
	if err := tx.QueryRowxContext(ctx, q, name, slug, exceptID).Scan(&n); err != nil {
		return fmt.Errorf("database: check job uniqueness: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("database: job name %q or slug %q: %w", name, slug, models.ErrConflict)
	}
	return nil
}

// CreateJob inserts j and fills in its id and timestamps.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.checkUnique(ctx, tx, j.Name, j.Slug, 0); err != nil {
		return err
	}

	ts := now()
	q := s.rebind(`INSERT INTO jobs (name, slug, prompt_content, cron_expression, enabled, email_recipients, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	var id int64
	err = tx.QueryRowxContext(ctx, q, j.Name, j.Slug, j.PromptContent, j.CronExpression, j.Enabled, j.EmailRecipients, ts, ts).Scan(&id)
	if isUniqueViolation(err) {
		return fmt.Errorf("database: job name %q or slug %q: %w", j.Name, j.Slug, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("database: insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}

	j.ID, j.CreatedAt, j.UpdatedAt = id, ts, ts
	return nil
}

// UpdateJob loads the job, applies mutate and writes the result back inside one
// transaction. mutate may return an error to abort the update.
func (s *Store) UpdateJob(ctx context.Context, id int64, mutate func(j *models.Job) error) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("database: begin: %w", err)
	}
	defer tx.Rollback()

	j, err := getJob(ctx, tx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	if err := mutate(j); err != nil {
		return nil, err
	}
	if err := s.checkUnique(ctx, tx, j.Name, j.Slug, j.ID); err != nil {
		return nil, err
	}

	j.UpdatedAt = now()
	q := s.rebind(`UPDATE jobs SET name = ?, slug = ?, prompt_content = ?, cron_expression = ?, enabled = ?,
		email_recipients = ?, updated_at = ? WHERE id = ?`)
	_, err = tx.ExecContext(ctx, q, j.Name, j.Slug, j.PromptContent, j.CronExpression, j.Enabled, j.EmailRecipients, j.UpdatedAt, j.ID)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("database: job name %q or slug %q: %w", j.Name, j.Slug, models.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("database: update job %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("database: commit: %w", err)
	}
	return j, nil
}

// DeleteJob removes the job together with its run history and returns the deleted row.
func (s *Store) DeleteJob(ctx context.Context, id int64) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("database: begin: %w", err)
	}
	defer tx.Rollback()

	j, err := getJob(ctx, tx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM job_runs WHERE job_id = ?`), id); err != nil {
		return nil, fmt.Errorf("database: delete runs of job %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("database: delete job %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("database: commit: %w", err)
	}
	return j, nil
}
