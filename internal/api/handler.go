// Package api exposes the job service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kumar-ayush101/prompt-scheduler/internal/cronexpr"
	"github.com/kumar-ayush101/prompt-scheduler/internal/executor"
	"github.com/kumar-ayush101/prompt-scheduler/internal/jobs"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/rs/zerolog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type handler struct {
	jobs *jobs.Service
	db   Pinger
	log  zerolog.Logger
}

// NewHandler returns the router. metrics may be nil to leave /metrics unmounted.
func NewHandler(svc *jobs.Service, db Pinger, metrics http.Handler, log zerolog.Logger) http.Handler {
	h := &handler{jobs: svc, db: db, log: log.With().Str("component", "api").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)
	r.Use(cors)

	r.Get("/health", h.health)
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/cron/parse", h.parseCron)

		r.Get("/jobs", h.listJobs)
		r.Post("/jobs", h.createJob)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Put("/", h.updateJob)
			r.Delete("/", h.deleteJob)
			r.Post("/run", h.runJob)
			r.Get("/runs", h.listJobRuns)
		})

		r.Get("/job-runs", h.listRuns)
		r.Get("/job-runs/{id}", h.getRun)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", ww.Status()).Dur("took", time.Since(start)).Msg("request")
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Database Down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.jobs.SchedulerStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) parseCron(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CronExpression string `json:"cron_expression"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := h.jobs.ParseCron(req.CronExpression)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var in models.JobCreate
	if !decode(w, r, &in) {
		return
	}
	v, err := h.jobs.CreateJob(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) updateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in models.JobUpdate
	if !decode(w, r, &in) {
		return
	}
	v, err := h.jobs.UpdateJob(r.Context(), id, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.jobs.DeleteJob(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// runJob waits for the run unless ?async=true, which queues it and answers 202.
func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := h.jobs.EnqueueJob(r.Context(), id); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "job_id": id})
		return
	}
	run, err := h.jobs.TriggerJobManually(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) listJobRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runs, err := h.jobs.ListJobRuns(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	runs, err := h.jobs.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	run, err := h.jobs.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cronexpr.ErrInvalidExpression), errors.Is(err, jobs.ErrInvalid):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound), errors.Is(err, executor.ErrJobNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrConflict), errors.Is(err, executor.ErrAlreadyRunning):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, executor.ErrQueueFull), errors.Is(err, executor.ErrStopped):
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
