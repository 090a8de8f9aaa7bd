package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectors(t *testing.T) {
	t.Parallel()
	m := New()

	m.RunFinished("success", 3*time.Second)
	m.RunFinished("failed", time.Second)
	m.RunFinished("success", time.Second)
	m.SetArmed(4)
	m.DispatchDropped()
	m.Notification("email", nil)
	m.Notification("pushover", errors.New("down"))

	body := scrape(t, m)
	for _, want := range []string{
		`prompt_scheduler_runs_total{status="success"} 2`,
		`prompt_scheduler_runs_total{status="failed"} 1`,
		`prompt_scheduler_armed_jobs 4`,
		`prompt_scheduler_dispatch_dropped_total 1`,
		`prompt_scheduler_notifications_total{channel="pushover",result="error"} 1`,
		`prompt_scheduler_run_duration_seconds_count{status="success"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.RunFinished("success", time.Second)
	m.SetArmed(1)
	m.DispatchDropped()
	m.SetQueueDepth(2)
	m.Notification("email", nil)
}

func TestHandler(t *testing.T) {
	t.Parallel()
	m := New()
	m.SetQueueDepth(5)

	if body := scrape(t, m); !strings.Contains(body, "prompt_scheduler_dispatch_queue_depth 5") {
		t.Errorf("metrics output missing queue depth:\n%s", body)
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}
