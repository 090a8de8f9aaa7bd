// Package worker is the job body: it sends a job's prompt to the generator and
// reports the result into the job's run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/generate"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"github.com/rs/zerolog"
)

type Store interface {
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	RunningRun(ctx context.Context, jobID int64) (*models.JobRun, error)
	SaveRunOutput(ctx context.Context, runID int64, output, html string) error
}

type Renderer interface {
	Render(markdown string) (string, error)
}

type Runner struct {
	store     Store
	generator generate.Generator
	renderer  Renderer
	dataDir   string
	level     zerolog.Level
	now       func() time.Time
}

// NewRunner returns a runner writing result files to dataDir; an empty dataDir
// disables them.
func NewRunner(store Store, gen generate.Generator, renderer Renderer, dataDir string, level zerolog.Level) *Runner {
	return &Runner{
		store:     store,
		generator: gen,
		renderer:  renderer,
		dataDir:   dataDir,
		level:     level,
		now:       time.Now,
	}
}

// Run executes job jobID for run runID. With runID 0 the newest running run of
// the job receives the output. The output is also printed to stdout; logs go to
// stderr.
func (r *Runner) Run(ctx context.Context, jobID, runID int64, stdout, stderr io.Writer) error {
	log := zerolog.New(stderr).Level(r.level).With().Timestamp().
		Str("component", "worker").Int64("job_id", jobID).Logger()

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("worker: load job %d: %w", jobID, err)
	}
	log = log.With().Str("job", job.Name).Logger()

	if runID == 0 {
		run, err := r.store.RunningRun(ctx, jobID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			log.Warn().Msg("no running run; result goes to stdout and the result file only")
		case err != nil:
			return fmt.Errorf("worker: find running run: %w", err)
		default:
			runID = run.ID
		}
	}
	log = log.With().Int64("run_id", runID).Logger()

	start := r.now()
	log.Info().Int("prompt_len", len(job.PromptContent)).Msg("generating")
	text, err := r.generator.Generate(ctx, job.PromptContent)
	if err != nil {
		return fmt.Errorf("worker: generate: %w", err)
	}
	log.Info().Int("output_len", len(text)).Dur("took", r.now().Sub(start)).Msg("generated")

	var html string
	if r.renderer != nil {
		if html, err = r.renderer.Render(text); err != nil {
			log.Warn().Err(err).Msg("render output")
			html = ""
		}
	}

	if runID != 0 {
		if err := r.store.SaveRunOutput(ctx, runID, text, html); err != nil {
			log.Warn().Err(err).Msg("save output into run")
		} else {
			log.Info().Msg("output saved into run")
		}
	}

	if path, err := r.writeArtifact(job.Slug, text); err != nil {
		log.Warn().Err(err).Msg("write result file")
	} else if path != "" {
		log.Info().Str("path", path).Msg("result file written")
	}

	if _, err := io.WriteString(stdout, text); err != nil {
		return fmt.Errorf("worker: write output: %w", err)
	}
	return nil
}

// ArtifactName is the result file name of a run finished at t.
func ArtifactName(slug string, t time.Time) string {
	return fmt.Sprintf("%s %s %s.md", t.Format("2006-01-02"), slug, t.Format("150405"))
}

func (r *Runner) writeArtifact(slug, text string) (string, error) {
	if r.dataDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.dataDir, ArtifactName(slug, r.now()))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
