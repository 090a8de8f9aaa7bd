// Package jobs is the entry point callers use to manage jobs and runs. Every
// job mutation re-synchronizes the scheduler once the store accepted it.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/cronexpr"
	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/kumar-ayush101/prompt-scheduler/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	DefaultRunLimit = 50
	MaxRunLimit     = 500
	// NextRunsShown is how many fire times ParseCron lists.
	NextRunsShown = 5
)

var ErrInvalid = errors.New("invalid job")

type Executor interface {
	Execute(ctx context.Context, jobID int64) (*models.JobRun, error)
}

// Queue accepts runs to execute in the background.
type Queue interface {
	Enqueue(jobID int64) error
	Depth() int
}

type Service struct {
	// mu orders store mutations with their scheduler re-sync
	mu sync.Mutex

	store *database.Store
	sched *scheduler.Scheduler
	exec  Executor
	queue Queue
	log   zerolog.Logger

	defaultRecipient string
	loc              *time.Location
	now              func() time.Time
}

type Option func(*Service)

// WithDefaultRecipient adds addr to the recipients of every created or
// re-addressed job.
func WithDefaultRecipient(addr string) Option {
	return func(s *Service) { s.defaultRecipient = strings.TrimSpace(addr) }
}

// WithLocation sets the zone next run times are computed and shown in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(store *database.Store, sched *scheduler.Scheduler, exec Executor, queue Queue, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: store,
		sched: sched,
		exec:  exec,
		queue: queue,
		log:   log.With().Str("component", "jobs").Logger(),
		loc:   time.Local,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the scheduler with every enabled job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs, err := s.store.ListEnabledJobs(ctx)
	if err != nil {
		return err
	}
	return s.sched.Start(jobs)
}

func (s *Service) Stop() { s.sched.Stop() }

func (s *Service) ListJobs(ctx context.Context) ([]models.JobView, error) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	running, err := s.store.RunningJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, s.view(j, running[j.ID]))
	}
	return views, nil
}

func (s *Service) GetJob(ctx context.Context, id int64) (*models.JobView, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	running := true
	if _, err := s.store.RunningRun(ctx, id); errors.Is(err, models.ErrNotFound) {
		running = false
	} else if err != nil {
		return nil, err
	}
	v := s.view(*j, running)
	return &v, nil
}

func (s *Service) view(j models.Job, running bool) models.JobView {
	v := models.JobView{Job: j, IsRunning: running}
	if j.Enabled {
		if next := cronexpr.Next(j.CronExpression, s.now().In(s.loc)); !next.IsZero() {
			v.NextRunAt = &next
		}
	}
	return v
}

func (s *Service) CreateJob(ctx context.Context, in models.JobCreate) (*models.JobView, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if strings.TrimSpace(in.PromptContent) == "" {
		return nil, fmt.Errorf("%w: prompt_content is required", ErrInvalid)
	}
	expr := strings.TrimSpace(in.CronExpression)
	if err := cronexpr.Validate(expr); err != nil {
		return nil, err
	}
	slug, err := slugFor(name)
	if err != nil {
		return nil, err
	}

	j := &models.Job{
		Name:            name,
		Slug:            slug,
		PromptContent:   in.PromptContent,
		CronExpression:  expr,
		Enabled:         in.Enabled == nil || *in.Enabled,
		EmailRecipients: withDefault(in.EmailRecipients, s.defaultRecipient),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := s.sched.AddJob(j); err != nil {
		s.log.Error().Err(err).Int64("job_id", j.ID).Msg("arm created job")
	}
	s.log.Info().Int64("job_id", j.ID).Str("job", j.Name).Str("cron", j.CronExpression).Bool("enabled", j.Enabled).Msg("job created")

	v := s.view(*j, false)
	return &v, nil
}

func (s *Service) UpdateJob(ctx context.Context, id int64, in models.JobUpdate) (*models.JobView, error) {
	// validate before touching the store
	var name, slug, expr string
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalid)
		}
		var err error
		if slug, err = slugFor(name); err != nil {
			return nil, err
		}
	}
	if in.PromptContent != nil && strings.TrimSpace(*in.PromptContent) == "" {
		return nil, fmt.Errorf("%w: prompt_content is required", ErrInvalid)
	}
	if in.CronExpression != nil {
		expr = strings.TrimSpace(*in.CronExpression)
		if err := cronexpr.Validate(expr); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.store.UpdateJob(ctx, id, func(j *models.Job) error {
		if in.Name != nil {
			j.Name, j.Slug = name, slug
		}
		if in.PromptContent != nil {
			j.PromptContent = *in.PromptContent
		}
		if in.CronExpression != nil {
			j.CronExpression = expr
		}
		if in.Enabled != nil {
			j.Enabled = *in.Enabled
		}
		if in.EmailRecipients != nil {
			j.EmailRecipients = withDefault(*in.EmailRecipients, s.defaultRecipient)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.sched.UpdateJob(j); err != nil {
		s.log.Error().Err(err).Int64("job_id", j.ID).Msg("re-arm updated job")
	}
	s.log.Info().Int64("job_id", j.ID).Str("job", j.Name).Bool("enabled", j.Enabled).Msg("job updated")

	running, err := s.store.RunningJobIDs(ctx)
	if err != nil {
		return nil, err
	}
	v := s.view(*j, running[j.ID])
	return &v, nil
}

// DeleteJob removes the job and its run history. A run in flight finishes on
// its own; its final write is dropped.
func (s *Service) DeleteJob(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.store.DeleteJob(ctx, id)
	if err != nil {
		return err
	}
	s.sched.RemoveJob(id)
	s.log.Info().Int64("job_id", id).Str("job", j.Name).Msg("job deleted")
	return nil
}

// TriggerJobManually runs the job now and waits for its terminal run. The run
// is not tied to ctx cancellation; it ends on its own timeout.
func (s *Service) TriggerJobManually(ctx context.Context, id int64) (*models.JobRun, error) {
	s.log.Info().Int64("job_id", id).Msg("manual trigger")
	return s.exec.Execute(context.WithoutCancel(ctx), id)
}

// EnqueueJob queues a run of the job on the executor pool and returns at once.
func (s *Service) EnqueueJob(ctx context.Context, id int64) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}
	s.log.Info().Int64("job_id", id).Msg("manual trigger queued")
	return s.queue.Enqueue(id)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRunLimit
	case limit > MaxRunLimit:
		return MaxRunLimit
	}
	return limit
}

// ListRuns returns the newest runs of all jobs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]models.RunView, error) {
	return s.store.ListRuns(ctx, clampLimit(limit))
}

func (s *Service) ListJobRuns(ctx context.Context, jobID int64, limit int) ([]models.JobRun, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListJobRuns(ctx, jobID, clampLimit(limit))
}

func (s *Service) GetRun(ctx context.Context, id int64) (*models.RunView, error) {
	return s.store.GetRunView(ctx, id)
}

func (s *Service) SchedulerStatus(ctx context.Context) (models.Status, error) {
	total, enabled, err := s.store.CountJobs(ctx)
	if err != nil {
		return models.Status{}, err
	}
	st := s.sched.Status()
	out := models.Status{
		SchedulerRunning: st.Running,
		ArmedCount:       st.ArmedCount,
		ActiveJobsCount:  enabled,
		TotalJobsCount:   total,
	}
	if s.queue != nil {
		out.QueueDepth = s.queue.Depth()
	}
	return out, nil
}

// ParseCron describes expr and lists its next fire times.
func (s *Service) ParseCron(expr string) (*models.CronDescription, error) {
	expr = strings.TrimSpace(expr)
	d, err := cronexpr.Explain(expr, s.now().In(s.loc), NextRunsShown)
	if err != nil {
		return nil, err
	}
	out := &models.CronDescription{
		CronExpression: d.Expr,
		Description:    d.Description,
		NextRuns:       make([]string, 0, len(d.NextRuns)),
	}
	for _, t := range d.NextRuns {
		out.NextRuns = append(out.NextRuns, t.Format("2006-01-02 15:04:05"))
	}
	return out, nil
}

// Seed creates the given jobs unless a job with the same name exists, and
// returns how many were created.
func (s *Service) Seed(ctx context.Context, defs []models.JobCreate) (int, error) {
	created := 0
	for _, def := range defs {
		_, err := s.store.GetJobByName(ctx, strings.TrimSpace(def.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return created, err
		}
		if _, err := s.CreateJob(ctx, def); err != nil {
			if errors.Is(err, models.ErrConflict) {
				s.log.Warn().Str("job", def.Name).Msg("seed job conflicts with an existing slug; skipped")
				continue
			}
			return created, fmt.Errorf("seed job %q: %w", def.Name, err)
		}
		created++
	}
	return created, nil
}
