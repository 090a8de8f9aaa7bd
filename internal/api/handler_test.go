package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/executor"
	"github.com/kumar-ayush101/prompt-scheduler/internal/jobs"
	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/kumar-ayush101/prompt-scheduler/internal/scheduler"
	"github.com/rs/zerolog"
)

type stubExecutor struct {
	err error
}

func (s stubExecutor) Execute(_ context.Context, jobID int64) (*models.JobRun, error) {
	if s.err != nil {
		return nil, s.err
	}
	done := time.Now()
	return &models.JobRun{ID: 42, JobID: jobID, Status: models.RunStatusSuccess, CompletedAt: &done}, nil
}

type stubQueue struct{ err error }

func (q stubQueue) Enqueue(int64) error { return q.err }
func (q stubQueue) Depth() int          { return 0 }

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("connection refused") }

func newServer(t *testing.T, exec jobs.Executor, q jobs.Queue) (http.Handler, *database.Store) {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "test.db")}
	st, err := database.Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sched := scheduler.New(scheduler.DispatchFunc(func(int64) bool { return true }), zerolog.Nop(), scheduler.WithLocation(time.UTC))
	t.Cleanup(sched.Stop)
	svc := jobs.New(st, sched, exec, q, zerolog.Nop(), jobs.WithLocation(time.UTC))
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return NewHandler(svc, st, metrics.New().Handler(), zerolog.Nop()), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

const jobBody = `{"name":"Daily News","prompt_content":"news please","cron_expression":"0 7 * * *"}`

func createdID(t *testing.T, rr *httptest.ResponseRecorder) int64 {
	t.Helper()
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	var v models.JobView
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v.ID
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, stubExecutor{}, stubQueue{})
	if rr := do(t, h, http.MethodGet, "/health", ""); rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("health = %d %q", rr.Code, rr.Body.String())
	}

	down := NewHandler(nil, downDB{}, nil, zerolog.Nop())
	if rr := do(t, down, http.MethodGet, "/health", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("health with db down = %d", rr.Code)
	}
	if rr := do(t, down, http.MethodGet, "/metrics", ""); rr.Code != http.StatusNotFound {
		t.Errorf("metrics without registry = %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, stubExecutor{}, stubQueue{})
	rr := do(t, h, http.MethodOptions, "/api/jobs", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rr.Code, rr.Header())
	}
}

func TestJobCRUD(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, stubExecutor{}, stubQueue{})

	id := createdID(t, do(t, h, http.MethodPost, "/api/jobs", jobBody))

	rr := do(t, h, http.MethodGet, "/api/jobs", "")
	var list []models.JobView
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil || len(list) != 1 || list[0].Slug != "daily-news" {
		t.Fatalf("list = %+v, err = %v", list, err)
	}

	rr = do(t, h, http.MethodPut, "/api/jobs/"+itoa(id), `{"enabled":false}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"enabled":false`) {
		t.Errorf("update = %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, h, http.MethodPost, "/api/jobs", jobBody); rr.Code != http.StatusConflict {
		t.Errorf("duplicate = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/jobs", `{"name":"x","prompt_content":"p","cron_expression":"a b c"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid cron = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/jobs", `{"name":"y","prompt_content":"p","cron_expression":"0 0 31 4 *"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("never firing cron = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/jobs", `{"name":`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d", rr.Code)
	}

	if rr := do(t, h, http.MethodDelete, "/api/jobs/"+itoa(id), ""); rr.Code != http.StatusOK {
		t.Errorf("delete = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/jobs/"+itoa(id), ""); rr.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/jobs/abc", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d", rr.Code)
	}
}

func TestRunJob(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, stubExecutor{}, stubQueue{})
	id := createdID(t, do(t, h, http.MethodPost, "/api/jobs", jobBody))

	rr := do(t, h, http.MethodPost, "/api/jobs/"+itoa(id)+"/run", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"success"`) {
		t.Errorf("sync run = %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/jobs/"+itoa(id)+"/run?async=true", "")
	if rr.Code != http.StatusAccepted {
		t.Errorf("async run = %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/jobs/999/run?async=true", ""); rr.Code != http.StatusNotFound {
		t.Errorf("async missing job = %d", rr.Code)
	}
}

func TestRunJob_ErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{executor.ErrAlreadyRunning, http.StatusConflict},
		{executor.ErrJobNotFound, http.StatusNotFound},
		{errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h, _ := newServer(t, stubExecutor{err: tc.err}, stubQueue{})
		if rr := do(t, h, http.MethodPost, "/api/jobs/1/run", ""); rr.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, rr.Code, tc.want)
		}
	}

	h, _ := newServer(t, stubExecutor{}, stubQueue{err: executor.ErrQueueFull})
	id := createdID(t, do(t, h, http.MethodPost, "/api/jobs", jobBody))
	if rr := do(t, h, http.MethodPost, "/api/jobs/"+itoa(id)+"/run?async=1", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("queue full = %d", rr.Code)
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()
	h, st := newServer(t, stubExecutor{}, stubQueue{})
	id := createdID(t, do(t, h, http.MethodPost, "/api/jobs", jobBody))
	run, err := st.CreateRun(context.Background(), id, true)
	if err != nil {
		t.Fatal(err)
	}

	rr := do(t, h, http.MethodGet, "/api/job-runs?limit=10", "")
	var runs []models.RunView
	if err := json.NewDecoder(rr.Body).Decode(&runs); err != nil || len(runs) != 1 || runs[0].JobName != "Daily News" {
		t.Errorf("runs = %+v, err = %v", runs, err)
	}
	if rr := do(t, h, http.MethodGet, "/api/job-runs?limit=zero", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/job-runs/"+itoa(run.ID), ""); rr.Code != http.StatusOK {
		t.Errorf("get run = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/job-runs/999", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing run = %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/api/jobs/"+itoa(id)+"/runs", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"running"`) {
		t.Errorf("job runs = %d %s", rr.Code, rr.Body.String())
	}
}

func TestStatusAndParseCron(t *testing.T) {
	t.Parallel()
	h, _ := newServer(t, stubExecutor{}, stubQueue{})
	createdID(t, do(t, h, http.MethodPost, "/api/jobs", jobBody))

	rr := do(t, h, http.MethodGet, "/api/status", "")
	var st models.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.SchedulerRunning || st.ArmedCount != 1 || st.TotalJobsCount != 1 {
		t.Errorf("status = %+v", st)
	}

	rr = do(t, h, http.MethodPost, "/api/cron/parse", `{"cron_expression":"* * * * *"}`)
	var d models.CronDescription
	if err := json.NewDecoder(rr.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.Description != "Every minute" || len(d.NextRuns) != 5 {
		t.Errorf("parse = %+v", d)
	}
	for _, expr := range []string{"a b c", "0 0 30 2 *"} {
		if rr := do(t, h, http.MethodPost, "/api/cron/parse", `{"cron_expression":"`+expr+`"}`); rr.Code != http.StatusBadRequest {
			t.Errorf("parse %q = %d", expr, rr.Code)
		}
	}

	if rr := do(t, h, http.MethodGet, "/metrics", ""); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rr.Code)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
