package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kumar-ayush101/prompt-scheduler/internal/config"
	"github.com/kumar-ayush101/prompt-scheduler/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	// a missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globals struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "prompt-scheduler",
		Short:         "Cron scheduler for prompt jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(g),
		newWorkerCmd(g),
		newCronCmd(g),
		newReconcileCmd(g),
	)
	return cmd
}

func (g *globals) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.Log, os.Stderr), nil
}

// childArgs are the flags a spawned worker process needs to load the same config.
func (g *globals) childArgs() []string {
	if g.configPath == "" {
		return nil
	}
	return []string{"--config", g.configPath}
}
