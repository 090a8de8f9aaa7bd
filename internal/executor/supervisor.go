// Package executor runs jobs to completion: it opens a run record, launches the
// worker under a time budget, recovers the result and finalizes the record.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/kumar-ayush101/prompt-scheduler/internal/notify"
	"github.com/rs/zerolog"
)

const DefaultTimeout = time.Hour

// RunStore is the slice of the job store the supervisor needs.
type RunStore interface {
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	CreateRun(ctx context.Context, jobID int64, exclusive bool) (*models.JobRun, error)
	GetRun(ctx context.Context, id int64) (*models.JobRun, error)
	FinishRun(ctx context.Context, runID int64, o database.Outcome) (*models.JobRun, error)
}

type Renderer interface {
	Render(markdown string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type Option func(*Supervisor)

// WithTimeout sets the wall-clock budget of a run.
func WithTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithOverlap lets several runs of the same job execute at once.
func WithOverlap(allow bool) Option {
	return func(s *Supervisor) { s.allowOverlap = allow }
}

func WithLocker(l Locker) Option {
	return func(s *Supervisor) { s.locker = l }
}

func WithRenderer(r Renderer) Option {
	return func(s *Supervisor) { s.renderer = r }
}

func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) { s.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithArtifacts enables output recovery from result files in dir written no
// earlier than window before the run started.
func WithArtifacts(dir string, window time.Duration) Option {
	return func(s *Supervisor) {
		s.artifactDir = dir
		s.artifactWindow = window
	}
}

type Supervisor struct {
	store    RunStore
	invoker  Invoker
	locker   Locker
	renderer Renderer
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger

	timeout        time.Duration
	allowOverlap   bool
	artifactDir    string
	artifactWindow time.Duration

	notifyWG sync.WaitGroup
}

func New(store RunStore, invoker Invoker, log zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		store:   store,
		invoker: invoker,
		locker:  NewLocalLock(),
		log:     log.With().Str("component", "executor").Logger(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs the job once and returns its terminal run. Worker failures and
// timeouts are recorded in the run and do not produce an error; errors are
// returned only when no run was started (ErrJobNotFound, ErrAlreadyRunning or
// a store failure).
func (s *Supervisor) Execute(ctx context.Context, jobID int64) (*models.JobRun, error) {
	log := s.log.With().Int64("job_id", jobID).Logger()

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) {
		log.Error().Msg("execution aborted: job not found")
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	if err != nil {
		log.Error().Err(err).Msg("execution aborted: load job")
		return nil, fmt.Errorf("executor: load job %d: %w", jobID, err)
	}
	log = log.With().Str("job", job.Name).Logger()

	if !s.allowOverlap {
		release, ok, err := s.locker.TryLock(ctx, job.ID)
		switch {
		case err != nil:
			// the exclusive insert below still guards the job
			log.Warn().Err(err).Msg("run lock unavailable")
		case !ok:
			log.Warn().Msg("run skipped: job already running")
			return nil, ErrAlreadyRunning
		default:
			defer release()
		}
	}

	run, err := s.store.CreateRun(ctx, job.ID, !s.allowOverlap)
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		log.Warn().Msg("run skipped: job already running")
		return nil, ErrAlreadyRunning
	case errors.Is(err, models.ErrNotFound):
		log.Error().Msg("execution aborted: job deleted before the run started")
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	case err != nil:
		log.Error().Err(err).Msg("execution aborted: create run")
		return nil, fmt.Errorf("executor: create run for job %d: %w", jobID, err)
	}
	log = log.With().Int64("run_id", run.ID).Logger()
	log.Info().Msg("run started")

	outcome, cause := s.supervise(ctx, job, run, log)
	final := s.finish(ctx, run, outcome, log)

	took := time.Since(run.StartedAt)
	s.metrics.RunFinished(string(final.Status), took)
	ev := log.Info()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev.Str("status", string(final.Status)).Dur("took", took).Msg("run finished")

	s.notify(job, final)
	return final, nil
}

// supervise launches the worker and classifies its end. It never panics and
// always returns a terminal outcome; cause is the classified failure, if any.
func (s *Supervisor) supervise(ctx context.Context, job *models.Job, run *models.JobRun, log zerolog.Logger) (out database.Outcome, cause error) {
	defer func() {
		if r := recover(); r != nil {
			cause = &ExecutionError{Err: fmt.Errorf("panic while supervising run: %v", r)}
			out = failed(cause.Error(), nil, nil)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.invoker.Invoke(runCtx, Invocation{Job: job, RunID: run.ID})
	logText := res.Stderr + "\n" + res.Stdout

	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		cause = fmt.Errorf("%w after %s", ErrExecutionTimeout, s.timeout)
		return failed(fmt.Sprintf("job execution timed out after %s", s.timeout), nil, &logText), cause
	case err != nil:
		cause = &ExecutionError{Err: err}
		return failed(cause.Error(), nonEmpty(res.Stdout), &logText), cause
	case res.ExitCode != 0:
		cause = &ExecutionError{ExitCode: res.ExitCode}
		return failed(cause.Error(), nonEmpty(res.Stdout), &logText), cause
	}

	output, html := s.recoverOutput(ctx, job, run, res.Stdout, log)
	if html == "" && output != "" {
		html = s.render(output, log)
	}
	return database.Outcome{
		Status: models.RunStatusSuccess,
		Output: nonEmpty(output),
		HTML:   nonEmpty(html),
		Log:    &logText,
	}, nil
}

// recoverOutput prefers what the worker wrote into the run, then a result
// artifact, then the worker's stdout.
func (s *Supervisor) recoverOutput(ctx context.Context, job *models.Job, run *models.JobRun, stdout string, log zerolog.Logger) (output, html string) {
	stored, err := s.store.GetRun(ctx, run.ID)
	if err != nil {
		log.Warn().Err(err).Msg("reload run for output")
	} else if stored.Output() != "" {
		return stored.Output(), stored.HTML()
	}

	if text, path, ok := s.findArtifact(job.Slug, run.StartedAt); ok {
		log.Info().Str("artifact", path).Msg("output recovered from result file")
		return text, ""
	}
	return stdout, ""
}

// findArtifact looks for the newest "* {slug} *.md" file in the artifact dir.
// Deprecated path: kept for workers that do not write into the run.
func (s *Supervisor) findArtifact(slug string, startedAt time.Time) (text, path string, ok bool) {
	if s.artifactDir == "" || slug == "" {
		return "", "", false
	}
	matches, err := filepath.Glob(filepath.Join(s.artifactDir, "* "+slug+" *.md"))
	if err != nil || len(matches) == 0 {
		return "", "", false
	}

	notBefore := startedAt.Add(-s.artifactWindow)
	var newest time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() || info.ModTime().Before(notBefore) {
			continue
		}
		if path == "" || info.ModTime().After(newest) {
			path, newest = m, info.ModTime()
		}
	}
	if path == "" {
		return "", "", false
	}
	b, err := os.ReadFile(path)
	if err != nil || len(b) == 0 {
		return "", "", false
	}
	return string(b), path, true
}

// render never fails the run: errors and panics leave the html empty.
func (s *Supervisor) render(output string, log zerolog.Logger) (html string) {
	if s.renderer == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("render output")
			html = ""
		}
	}()
	html, err := s.renderer.Render(output)
	if err != nil {
		log.Warn().Err(err).Msg("render output")
		return ""
	}
	return html
}

// finish persists the terminal state. When the run is gone (its job was deleted
// mid-run) the terminal state only lives in the returned value.
func (s *Supervisor) finish(ctx context.Context, run *models.JobRun, o database.Outcome, log zerolog.Logger) *models.JobRun {
	ctx = context.WithoutCancel(ctx)

	final, err := s.store.FinishRun(ctx, run.ID, o)
	if err == nil {
		return final
	}
	if errors.Is(err, models.ErrNotFound) {
		log.Warn().Msg("run record no longer exists; job was deleted while running")
		return detached(run, o)
	}

	log.Error().Err(err).Msg("finalize run")
	// retry with a minimal record so the run does not stay running
	minimal := failed(fmt.Sprintf("finalize run: %v", err), nil, nil)
	final, err = s.store.FinishRun(ctx, run.ID, minimal)
	if err == nil {
		return final
	}
	log.Error().Err(err).Msg("finalize run as failed")
	return detached(run, minimal)
}

func (s *Supervisor) notify(job *models.Job, run *models.JobRun) {
	if s.notifier == nil {
		return
	}
	n := notify.Notification{
		Success:    run.Status == models.RunStatusSuccess,
		RunID:      run.ID,
		JobName:    job.Name,
		Slug:       job.Slug,
		Recipients: append([]string(nil), job.EmailRecipients...),
		Body:       run.Output(),
		HTML:       run.HTML(),
		At:         time.Now(),
	}
	if n.Success {
		n.Message = "Job completed successfully!\n\nResults saved to database."
		if len(n.Recipients) > 0 {
			n.Message += "\nEmail sent to: " + strings.Join(n.Recipients, ", ")
		}
	} else {
		n.Message = "Job failed.\n\nError: " + run.ErrorText()
	}

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.notifier.Notify(ctx, n)
	}()
}

// Wait blocks until pending notifications have been delivered or dropped.
func (s *Supervisor) Wait() { s.notifyWG.Wait() }

func failed(msg string, output, logText *string) database.Outcome {
	return database.Outcome{
		Status:       models.RunStatusFailed,
		Output:       output,
		Log:          logText,
		ErrorMessage: &msg,
	}
}

func detached(run *models.JobRun, o database.Outcome) *models.JobRun {
	completed := time.Now().UTC()
	r := *run
	r.Status = o.Status
	r.OutputContent = o.Output
	r.HTMLOutputContent = o.HTML
	r.LogContent = o.Log
	r.ErrorMessage = o.ErrorMessage
	r.CompletedAt = &completed
	return &r
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
