package main

import (
	"errors"
	"os"

	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/generate"
	"github.com/kumar-ayush101/prompt-scheduler/internal/logging"
	"github.com/kumar-ayush101/prompt-scheduler/internal/render"
	"github.com/kumar-ayush101/prompt-scheduler/internal/worker"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// newWorkerCmd is the child process the supervisor starts for each run. The
// result goes to the run row and to stdout; logs go to stderr.
func newWorkerCmd(g *globals) *cobra.Command {
	var jobID, runID int64
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Execute a single job run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if jobID <= 0 {
				return errors.New("--job-id is required")
			}
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			store, err := database.Open(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer store.Close()

			gen, err := generate.New(cfg.Generator)
			if err != nil {
				return err
			}
			level := logging.ParseLevel(cfg.Log.Level, zerolog.InfoLevel)
			r := worker.NewRunner(store, gen, render.New(), cfg.Executor.DataDir, level)
			return r.Run(cmd.Context(), jobID, runID, os.Stdout, os.Stderr)
		},
	}
	cmd.Flags().Int64Var(&jobID, "job-id", 0, "job to execute")
	cmd.Flags().Int64Var(&runID, "run-id", 0, "run receiving the output; 0 picks the job's running run")
	return cmd
}
