package models

import "time"

type JobCreate struct {
	Name            string   `json:"name" yaml:"name"`
	PromptContent   string   `json:"prompt_content" yaml:"prompt_content"`
	CronExpression  string   `json:"cron_expression" yaml:"cron_expression"`
	Enabled         *bool    `json:"enabled,omitempty" yaml:"enabled"`
	EmailRecipients []string `json:"email_recipients,omitempty" yaml:"email_recipients"`
}

// JobUpdate carries a partial update; nil fields are left untouched.
type JobUpdate struct {
	Name            *string   `json:"name,omitempty"`
	PromptContent   *string   `json:"prompt_content,omitempty"`
	CronExpression  *string   `json:"cron_expression,omitempty"`
	Enabled         *bool     `json:"enabled,omitempty"`
	EmailRecipients *[]string `json:"email_recipients,omitempty"`
}

type JobView struct {
	Job
	IsRunning bool       `json:"is_running"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

type RunView struct {
	JobRun
	JobName string `json:"job_name" db:"job_name"`
}

type CronDescription struct {
	CronExpression string   `json:"cron_expression"`
	Description    string   `json:"description"`
	NextRuns       []string `json:"next_runs"`
}

type Status struct {
	SchedulerRunning bool `json:"scheduler_running"`
	ArmedCount       int  `json:"armed_count"`
	ActiveJobsCount  int  `json:"active_jobs_count"`
	TotalJobsCount   int  `json:"total_jobs_count"`
	QueueDepth       int  `json:"queue_depth"`
}
