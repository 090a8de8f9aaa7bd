// Package scheduler keeps one cron timer per enabled job and hands every
// trigger to a Dispatcher without waiting for the run to finish.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/cronexpr"
	"github.com/kumar-ayush101/prompt-scheduler/internal/logging"
	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var ErrAlreadyRunning = errors.New("scheduler: already running")

// Dispatcher receives the id of a job whose timer fired. It must not block;
// false means the trigger was not accepted.
type Dispatcher interface {
	Dispatch(jobID int64) bool
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(jobID int64) bool

func (f DispatchFunc) Dispatch(jobID int64) bool { return f(jobID) }

type Status struct {
	Running    bool `json:"running"`
	ArmedCount int  `json:"armed_count"`
}

// Scheduler owns the timer map. It is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[int64]cron.EntryID
	running bool

	dispatch Dispatcher
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

type Option func(*options)

type options struct {
	loc     *time.Location
	metrics *metrics.Metrics
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func New(dispatch Dispatcher, log zerolog.Logger, opts ...Option) *Scheduler {
	o := options{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	log = log.With().Str("component", "scheduler").Logger()
	cl := logging.CronLogger(log)

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(o.loc),
			cron.WithParser(cronexpr.Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		entries:  make(map[int64]cron.EntryID),
		dispatch: dispatch,
		log:      log,
		metrics:  o.metrics,
	}
}

// Start arms a timer for every enabled job and starts the clock. Jobs with an
// expression that no longer parses are skipped and logged.
func (s *Scheduler) Start(jobs []models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	for i := range jobs {
		if err := s.addLocked(&jobs[i]); err != nil {
			s.log.Error().Err(err).Int64("job_id", jobs[i].ID).Msg("skipping job with invalid schedule")
		}
	}
	s.cron.Start()
	s.running = true
	s.log.Info().Int("armed", len(s.entries)).Msg("scheduler started")
	return nil
}

// Stop disarms every timer. In-flight runs are not touched.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.log.Info().Msg("scheduler already stopped")
		return
	}
	s.cron.Stop()
	for id := range s.entries {
		s.removeLocked(id)
	}
	s.running = false
	s.log.Info().Msg("scheduler stopped")
}

// AddJob arms a timer for j, replacing any existing one. Disabled jobs are
// ignored. While the scheduler is stopped only the expression is checked;
// Start arms the job from the store.
func (s *Scheduler) AddJob(j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return s.checkLocked(j)
	}
	return s.addLocked(j)
}

// RemoveJob disarms the job's timer. Unknown ids are ignored.
func (s *Scheduler) RemoveJob(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(jobID)
}

// UpdateJob re-reads the enabled flag and expression of j. Callers never observe
// the job with two timers or, when it stays enabled, with none.
func (s *Scheduler) UpdateJob(j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(j.ID)
	if !s.running {
		return s.checkLocked(j)
	}
	return s.addLocked(j)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, ArmedCount: len(s.entries)}
}

func (s *Scheduler) checkLocked(j *models.Job) error {
	if !j.Enabled {
		return nil
	}
	if err := cronexpr.Validate(j.CronExpression); err != nil {
		return fmt.Errorf("scheduler: job %d: %w", j.ID, err)
	}
	s.log.Debug().Int64("job_id", j.ID).Msg("scheduler stopped; timer not armed")
	return nil
}

func (s *Scheduler) addLocked(j *models.Job) error {
	s.removeLocked(j.ID)
	if !j.Enabled {
		return nil
	}
	sched, err := cronexpr.Parse(j.CronExpression)
	if err != nil {
		return fmt.Errorf("scheduler: job %d: %w", j.ID, err)
	}

	jobID, name := j.ID, j.Name
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(jobID, name) }))
	s.entries[jobID] = entryID
	s.metrics.SetArmed(len(s.entries))
	s.log.Debug().Int64("job_id", jobID).Str("job", name).Str("cron", j.CronExpression).Msg("timer armed")
	return nil
}

func (s *Scheduler) removeLocked(jobID int64) {
	entryID, ok := s.entries[jobID]
	if !ok {
		return
	}
	s.cron.Remove(entryID)
	delete(s.entries, jobID)
	s.metrics.SetArmed(len(s.entries))
	s.log.Debug().Int64("job_id", jobID).Msg("timer disarmed")
}

func (s *Scheduler) fire(jobID int64, name string) {
	s.log.Info().Int64("job_id", jobID).Str("job", name).Msg("trigger")
	if !s.dispatch.Dispatch(jobID) {
		s.log.Warn().Int64("job_id", jobID).Str("job", name).Msg("trigger not accepted")
	}
}
