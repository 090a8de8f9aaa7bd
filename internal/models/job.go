package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	// ErrRunInProgress is returned by the store when an exclusive run is
	// requested for a job that already has one running.
	ErrRunInProgress = errors.New("run already in progress")
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the status is final. A run never leaves a terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

type Job struct {
	ID              int64      `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Slug            string     `json:"slug" db:"slug"`
	PromptContent   string     `json:"prompt_content" db:"prompt_content"`
	CronExpression  string     `json:"cron_expression" db:"cron_expression"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	EmailRecipients Recipients `json:"email_recipients" db:"email_recipients"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

type JobRun struct {
	ID                int64      `json:"id" db:"id"`
	JobID             int64      `json:"job_id" db:"job_id"`
	Status            RunStatus  `json:"status" db:"status"`
	OutputContent     *string    `json:"output_content,omitempty" db:"output_content"`
	HTMLOutputContent *string    `json:"html_output_content,omitempty" db:"html_output_content"`
	LogContent        *string    `json:"log_content,omitempty" db:"log_content"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage      *string    `json:"error_message,omitempty" db:"error_message"`
}

// Output returns the raw output or "" when none was recorded.
func (r *JobRun) Output() string {
	if r == nil || r.OutputContent == nil {
		return ""
	}
	return *r.OutputContent
}

func (r *JobRun) HTML() string {
	if r == nil || r.HTMLOutputContent == nil {
		return ""
	}
	return *r.HTMLOutputContent
}

func (r *JobRun) ErrorText() string {
	if r == nil || r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// Recipients is a list of email addresses stored as a JSON array column.
type Recipients []string

func (r Recipients) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Recipients) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = Recipients{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("recipients: unsupported column type %T", src)
	}
	if len(raw) == 0 {
		*r = Recipients{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		// a malformed column reads as an empty list
		*r = Recipients{}
		return nil
	}
	*r = out
	return nil
}
