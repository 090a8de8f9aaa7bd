package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/api"
	"github.com/kumar-ayush101/prompt-scheduler/internal/config"
	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/executor"
	"github.com/kumar-ayush101/prompt-scheduler/internal/generate"
	"github.com/kumar-ayush101/prompt-scheduler/internal/jobs"
	"github.com/kumar-ayush101/prompt-scheduler/internal/logging"
	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/kumar-ayush101/prompt-scheduler/internal/notify"
	"github.com/kumar-ayush101/prompt-scheduler/internal/render"
	"github.com/kumar-ayush101/prompt-scheduler/internal/scheduler"
	"github.com/kumar-ayush101/prompt-scheduler/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// lockMargin keeps a redis run lock alive a little past the run timeout so
// the supervisor always finalizes before the key expires.
const lockMargin = time.Minute

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), g, cfg, log)
		},
	}
}

func serve(ctx context.Context, g *globals, cfg *config.Config, log zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := executor.Reconcile(ctx, store, cfg.Executor.RunTimeout, time.Now(), log); err != nil {
		log.Error().Err(err).Msg("startup reconcile failed")
	}

	allowOverlap := cfg.Executor.Overlap == config.OverlapAllow
	if err := store.EnforceSingleRun(ctx, !allowOverlap); err != nil {
		// the exclusive insert still guards runs within this process
		log.Error().Err(err).Msg("single running run index")
	}

	var locker executor.Locker = executor.NewLocalLock()
	if cfg.Redis.Enabled {
		rdb, err := database.ConnectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = executor.NewRedisLock(rdb, cfg.Executor.RunTimeout+lockMargin)
	}

	m := metrics.New()
	renderer := render.New()
	notifier := notify.New(log, m,
		notify.NewEmail(notify.EmailConfig{
			Server:   cfg.Notify.SMTPServer,
			Port:     cfg.Notify.SMTPPort,
			User:     cfg.Notify.EmailUser,
			Password: cfg.Notify.EmailPassword,
		}, log),
		notify.NewPushover(notify.PushoverConfig{
			UserKey:  cfg.Notify.PushoverUserKey,
			APIToken: cfg.Notify.PushoverAPIToken,
			URL:      cfg.Notify.PushoverURL,
		}, log),
	)

	invoker, err := newInvoker(g, cfg, store, renderer)
	if err != nil {
		return err
	}

	sup := executor.New(store, invoker, log,
		executor.WithTimeout(cfg.Executor.RunTimeout),
		executor.WithOverlap(allowOverlap),
		executor.WithLocker(locker),
		executor.WithRenderer(renderer),
		executor.WithNotifier(notifier),
		executor.WithMetrics(m),
		executor.WithArtifacts(cfg.Executor.DataDir, cfg.Executor.ArtifactWindow),
	)
	pool := executor.NewPool(func(ctx context.Context, jobID int64) {
		// Execute records every failure on the run itself
		_, _ = sup.Execute(ctx, jobID)
	}, cfg.Executor.Workers, cfg.Executor.QueueSize, log, m)

	sched := scheduler.New(pool, log, scheduler.WithLocation(loc), scheduler.WithMetrics(m))
	svc := jobs.New(store, sched, sup, pool, log,
		jobs.WithDefaultRecipient(cfg.Notify.DefaultEmailRecipient),
		jobs.WithLocation(loc),
	)

	if n, err := svc.Seed(ctx, cfg.Jobs); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("seeded jobs from config")
	}

	pool.Start(ctx)
	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(svc, store, m.Handler(), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal, shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server crashed")
	}

	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	// in-flight runs finish on their own timeout
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Executor.RunTimeout+lockMargin)
	defer drainCancel()
	if err := pool.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("executor pool did not drain")
	}
	sup.Wait()

	log.Info().Msg("bye")
	return nil
}

func newInvoker(g *globals, cfg *config.Config, store *database.Store, renderer *render.Renderer) (executor.Invoker, error) {
	if cfg.Executor.WorkerMode == config.WorkerModeProcess {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		return executor.NewProcessInvoker(exe, g.childArgs()...), nil
	}
	gen, err := generate.New(cfg.Generator)
	if err != nil {
		return nil, err
	}
	level := logging.ParseLevel(cfg.Log.Level, zerolog.InfoLevel)
	return executor.NewInProcessInvoker(worker.NewRunner(store, gen, renderer, cfg.Executor.DataDir, level)), nil
}
