package retry

import (
	"context"
	"fmt"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/engine/metrics"
)

// Recover loads persisted non-terminal jobs at startup. Jobs past their
// action-specific maximum age or already out of attempts are marked failed;
// the remainder rehydrate the active set with their persisted progress.
func (e *Engine) Recover(ctx context.Context) error {
	pending, err := e.jobs.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	now := e.now()
	restored := 0
	discarded := 0

	for _, job := range pending {
		maxAge := e.cfg.MaxAgeOpen
		if job.Intent.Action == domain.ActionClose {
			maxAge = e.cfg.MaxAgeClose
		}

		var reason string
		switch {
		case now.Sub(job.CreatedAt) > maxAge:
			reason = "expired"
		case job.Attempts >= job.MaxAttempts:
			reason = "attempts-exhausted"
		}

		if reason != "" {
			discarded++
			metrics.DiscardedJobs.WithLabelValues(reason).Inc()
			e.log.Warn("discarding persisted job",
				"job_id", job.ID,
				"market", job.Intent.Market,
				"action", job.Intent.Action,
				"age", now.Sub(job.CreatedAt),
				"attempts", job.Attempts,
				"reason", reason,
			)
			if err := e.jobs.MarkTerminal(ctx, job.ID, domain.JobStatusFailed,
				fmt.Sprintf("discarded at startup: %s", reason)); err != nil {
				e.log.Warn("failed to mark discarded job", "job_id", job.ID, "error", err)
			}
			continue
		}

		restored++
		metrics.RecoveredJobs.Inc()
		e.mu.Lock()
		e.active[job.ID] = job
		e.mu.Unlock()
	}

	e.mu.Lock()
	metrics.ActiveJobs.Set(float64(len(e.active)))
	e.mu.Unlock()

	e.log.Info("startup recovery complete", "restored", restored, "discarded", discarded)
	return nil
}
