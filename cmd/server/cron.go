package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/cronexpr"
	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/executor"
	"github.com/kumar-ayush101/prompt-scheduler/internal/jobs"
	"github.com/spf13/cobra"
)

func newCronCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression helpers",
	}
	describe := &cobra.Command{
		Use:   "describe <expression>",
		Short: "Explain an expression and list its next fire times",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			// a quoted expression or five bare fields both work
			expr := strings.Join(args, " ")
			d, err := cronexpr.Explain(expr, time.Now().In(loc), jobs.NextRunsShown)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n%s\n", d.Expr, d.Description)
			for _, t := range d.NextRuns {
				fmt.Fprintf(out, "  %s\n", t.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
	cmd.AddCommand(describe)
	return cmd
}

func newReconcileCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fail runs left running by a process that died",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			store, err := database.Open(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := executor.Reconcile(cmd.Context(), store, cfg.Executor.RunTimeout, time.Now(), log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d run(s) marked failed\n", n)
			return nil
		},
	}
}
