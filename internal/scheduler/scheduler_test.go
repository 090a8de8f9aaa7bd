package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/cronexpr"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/rs/zerolog"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	ids    []int64
	accept bool
}

func (d *recordingDispatcher) Dispatch(jobID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, jobID)
	return d.accept
}

func (d *recordingDispatcher) calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.ids...)
}

// Armed reports whether the job currently has a timer.
func (s *Scheduler) Armed(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

func newScheduler(t *testing.T) (*Scheduler, *recordingDispatcher) {
	t.Helper()
	d := &recordingDispatcher{accept: true}
	s := New(d, zerolog.Nop(), WithLocation(time.UTC))
	t.Cleanup(s.Stop)
	return s, d
}

func job(id int64, expr string, enabled bool) *models.Job {
	return &models.Job{ID: id, Name: "job", CronExpression: expr, Enabled: enabled}
}

func TestStart_AlreadyRunning(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)

	jobs := []models.Job{*job(1, "* * * * *", true), *job(2, "0 9 * * *", false)}
	if err := s.Start(jobs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := s.Status(); !st.Running || st.ArmedCount != 1 {
		t.Errorf("status = %+v, want running with 1 armed", st)
	}
	if err := s.Start(nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStart_SkipsInvalidExpression(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)

	jobs := []models.Job{*job(1, "not a cron", true), *job(2, "*/5 * * * *", true)}
	if err := s.Start(jobs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Armed(1) || !s.Armed(2) {
		t.Errorf("armed(1)=%v armed(2)=%v", s.Armed(1), s.Armed(2))
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)

	s.Stop()
	if err := s.Start([]models.Job{*job(1, "* * * * *", true)}); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	s.Stop()
	if st := s.Status(); st.Running || st.ArmedCount != 0 {
		t.Errorf("status after stop = %+v", st)
	}
	if len(s.cron.Entries()) != 0 {
		t.Errorf("cron still has %d entries", len(s.cron.Entries()))
	}

	// restartable after stop
	if err := s.Start([]models.Job{*job(1, "* * * * *", true)}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !s.Armed(1) {
		t.Error("job not armed after restart")
	}
}

func TestAddJob(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	if err := s.Start(nil); err != nil {
		t.Fatal(err)
	}

	if err := s.AddJob(job(1, "0 9 * * *", false)); err != nil {
		t.Fatal(err)
	}
	if s.Armed(1) {
		t.Error("disabled job should not be armed")
	}

	if err := s.AddJob(job(1, "0 9 * * *", true)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(job(1, "0 10 * * *", true)); err != nil {
		t.Fatal(err)
	}
	if got := s.Status().ArmedCount; got != 1 {
		t.Errorf("armed = %d after re-adding, want 1", got)
	}

	err := s.AddJob(job(2, "61 * * * *", true))
	if !errors.Is(err, cronexpr.ErrInvalidExpression) {
		t.Errorf("invalid expression error = %v", err)
	}
}

func TestAddJob_StoppedDoesNotArm(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)

	if err := s.AddJob(job(1, "0 9 * * *", true)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJob(job(2, "0 9 * * *", true)); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st.Running || st.ArmedCount != 0 {
		t.Errorf("status = %+v, want stopped with nothing armed", st)
	}
	if err := s.AddJob(job(3, "0 0 30 2 *", true)); !errors.Is(err, cronexpr.ErrInvalidExpression) {
		t.Errorf("invalid expression while stopped error = %v", err)
	}

	if err := s.Start([]models.Job{*job(1, "0 9 * * *", true)}); err != nil {
		t.Fatal(err)
	}
	s.Stop()
	if err := s.AddJob(job(4, "* * * * *", true)); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st.Running || st.ArmedCount != 0 {
		t.Errorf("status after stop = %+v, want nothing armed", st)
	}
}

func TestRemoveJob_ToleratesUnknown(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	if err := s.Start([]models.Job{*job(1, "* * * * *", true)}); err != nil {
		t.Fatal(err)
	}

	s.RemoveJob(1)
	s.RemoveJob(1)
	s.RemoveJob(404)
	if s.Status().ArmedCount != 0 {
		t.Errorf("armed = %d, want 0", s.Status().ArmedCount)
	}
}

func TestUpdateJob_DisableEnableCycles(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	if err := s.Start([]models.Job{*job(7, "*/5 * * * *", true)}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := s.UpdateJob(job(7, "*/5 * * * *", false)); err != nil {
			t.Fatal(err)
		}
		if s.Armed(7) {
			t.Fatalf("cycle %d: disabled job still armed", i)
		}
		if err := s.UpdateJob(job(7, "*/5 * * * *", true)); err != nil {
			t.Fatal(err)
		}
		if got := len(s.cron.Entries()); got != 1 {
			t.Fatalf("cycle %d: %d cron entries, want 1", i, got)
		}
	}
	if got := s.Status().ArmedCount; got != 1 {
		t.Errorf("armed = %d, want 1", got)
	}
}

func TestUpdateJob_RecomputesNextFire(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	if err := s.Start([]models.Job{*job(1, "0 9 * * *", true)}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJob(job(1, "30 14 * * 1-5", true)); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	entry := s.cron.Entry(s.entries[1])
	s.mu.Unlock()

	from := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	if got := entry.Schedule.Next(from); !got.Equal(time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("next = %v", got)
	}
}

func TestFire_DispatchesAndRecovers(t *testing.T) {
	t.Parallel()
	s, d := newScheduler(t)
	if err := s.Start([]models.Job{*job(3, "* * * * *", true)}); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	entry := s.cron.Entry(s.entries[3])
	s.mu.Unlock()

	entry.WrappedJob.Run()
	if got := d.calls(); len(got) != 1 || got[0] != 3 {
		t.Errorf("dispatched = %v, want [3]", got)
	}

	// a panicking dispatcher must not escape the timer
	panicky := New(DispatchFunc(func(int64) bool { panic("boom") }), zerolog.Nop())
	t.Cleanup(panicky.Stop)
	if err := panicky.Start(nil); err != nil {
		t.Fatal(err)
	}
	if err := panicky.AddJob(job(4, "* * * * *", true)); err != nil {
		t.Fatal(err)
	}
	panicky.cron.Entry(panicky.entries[4]).WrappedJob.Run()
}

func TestFire_RejectedTriggerIsLogged(t *testing.T) {
	t.Parallel()
	d := &recordingDispatcher{accept: false}
	s := New(d, zerolog.Nop())
	s.fire(9, "nine")
	if got := d.calls(); len(got) != 1 {
		t.Errorf("dispatched = %v", got)
	}
}
