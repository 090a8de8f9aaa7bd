package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// InterruptedMessage is recorded on runs left running by a process that died.
const InterruptedMessage = "interrupted: process exited before the run completed"

type StaleRunFailer interface {
	FailStaleRuns(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// Reconcile fails every run still marked running that started more than
// timeout before now. No live supervisor can own such a run.
func Reconcile(ctx context.Context, store StaleRunFailer, timeout time.Duration, now time.Time, log zerolog.Logger) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cutoff := now.Add(-timeout)
	n, err := store.FailStaleRuns(ctx, cutoff, InterruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("executor: reconcile: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("runs", n).Time("cutoff", cutoff).Msg("marked orphaned runs as failed")
	} else {
		log.Debug().Time("cutoff", cutoff).Msg("no orphaned runs")
	}
	return n, nil
}
