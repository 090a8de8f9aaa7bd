package database

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL UNIQUE,
		prompt_content TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		email_recipients TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id BIGSERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		status TEXT NOT NULL CHECK (status IN ('running', 'success', 'failed')),
		output_content TEXT,
		html_output_content TEXT,
		log_content TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		error_message TEXT,
		CHECK ((status = 'running') = (completed_at IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_job_started ON job_runs (job_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs (status)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		slug TEXT NOT NULL UNIQUE,
		prompt_content TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		email_recipients TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		status TEXT NOT NULL CHECK (status IN ('running', 'success', 'failed')),
		output_content TEXT,
		html_output_content TEXT,
		log_content TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		error_message TEXT,
		CHECK ((status = 'running') = (completed_at IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_job_started ON job_runs (job_id, started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_status ON job_runs (status)`,
}

// InitSchema creates the tables.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("database: init schema: %w", err)
		}
	}
	return nil
}

const singleRunIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uq_job_runs_one_running ON job_runs (job_id) WHERE status = 'running'`

// EnforceSingleRun adds or drops a partial unique index allowing at most one
// running run per job. The exclusive insert alone is not atomic across
// processes sharing a postgres database under READ COMMITTED.
func (s *Store) EnforceSingleRun(ctx context.Context, on bool) error {
	stmt := `DROP INDEX IF EXISTS uq_job_runs_one_running`
	if on {
		stmt = singleRunIndex
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("database: single running run index: %w", err)
	}
	return nil
}
