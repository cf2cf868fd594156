package retry

import (
	"context"
	"fmt"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/engine/classify"
	"github.com/ndthang/copyflow/internal/engine/metrics"
	"github.com/ndthang/copyflow/internal/engine/settlement"
	"github.com/ndthang/copyflow/internal/notify"
	"github.com/ndthang/copyflow/internal/venue"
)

// processJob runs one attempt. Nothing here may crash the worker loop: a panic
// is funneled into the same outcome policy as a returned error.
func (e *Engine) processJob(ctx context.Context, job *domain.RetryJob) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic while processing job", "job_id", job.ID, "panic", r)
			e.handleFailure(ctx, job, fmt.Errorf("panic: %v", r))
		}
	}()

	// Persist the incremented attempt count before any network call so a crash
	// mid-attempt never under-counts retries.
	job.Attempts++
	if err := e.jobs.Update(ctx, job); err != nil {
		e.log.Warn("failed to persist attempt count", "job_id", job.ID, "error", err)
	}

	if e.alreadyLanded(ctx, job) {
		return
	}

	res, err := e.exec.Submit(ctx, job.Intent)
	if err != nil {
		metrics.AttemptsTotal.WithLabelValues("failure").Inc()
		e.handleFailure(ctx, job, err)
		return
	}

	metrics.AttemptsTotal.WithLabelValues("success").Inc()
	e.handleSuccess(ctx, job, res)
}

// alreadyLanded checks on-chain state to see whether a prior ambiguous attempt
// succeeded, and terminates the job as succeeded if so. Blindly retrying an
// open whose prior attempt landed would double the position.
func (e *Engine) alreadyLanded(ctx context.Context, job *domain.RetryJob) bool {
	positions, err := e.pos.GetPositions(ctx, job.Intent.AccountID, job.Intent.SubAccount)
	if err != nil {
		// Availability over duplicate-avoidance: the venue's own duplicate
		// protection is the last line of defense.
		e.log.Warn("position check failed, proceeding with attempt",
			"job_id", job.ID, "error", err)
		return false
	}

	var current *domain.Position
	for i := range positions {
		p := &positions[i]
		if p.Market == job.Intent.Market && !p.Negligible() {
			current = p
			break
		}
	}

	switch {
	case job.Intent.Action == domain.ActionClose:
		if current == nil {
			e.finishAlreadyLanded(ctx, job, "position already closed on venue")
			return true
		}
		// Remember which side the close is flattening, for settlement.
		if job.CloseSide == "" {
			job.CloseSide = current.Side
		}
	case job.Intent.Action.IsOpen():
		if current != nil && current.Side == job.Intent.Action.Side() {
			e.finishAlreadyLanded(ctx, job, "position already open in intended direction")
			return true
		}
	}
	return false
}

// finishAlreadyLanded terminates a job whose effect is already on-chain,
// without resubmitting.
func (e *Engine) finishAlreadyLanded(ctx context.Context, job *domain.RetryJob, reason string) {
	metrics.IdempotentSkips.WithLabelValues(string(job.Intent.Action)).Inc()
	e.log.Info("prior attempt already landed, repairing records",
		"job_id", job.ID, "market", job.Intent.Market, "action", job.Intent.Action, "reason", reason)

	tradeID := job.TradeID
	if tradeID == "" {
		id, err := e.trades.Create(ctx, &domain.TradeRecord{
			AccountID:  job.Intent.AccountID,
			Market:     job.Intent.Market,
			Action:     job.Intent.Action,
			Side:       e.tradeSide(job),
			Size:       job.Intent.Size,
			EntryPrice: job.EntryPrice,
			Status:     domain.TradeStatusRecovered,
			Note:       reason,
		})
		if err != nil {
			e.log.Error("failed to create trade record", "job_id", job.ID, "error", err)
		} else {
			tradeID = id
		}
	} else {
		if err := e.trades.UpdateStatus(ctx, tradeID, domain.TradeStatusRecovered, reason); err != nil {
			e.log.Error("failed to mark trade recovered", "trade_id", tradeID, "error", err)
		}
	}

	e.notif.Notify(ctx, notify.Event{
		Type:      notify.EventTradeSucceeded,
		JobID:     job.ID,
		TradeID:   tradeID,
		AccountID: job.Intent.AccountID,
		Market:    job.Intent.Market,
		Action:    string(job.Intent.Action),
		Attempts:  job.Attempts,
		Detail:    reason,
		At:        e.now(),
	})

	e.finishJob(ctx, job, domain.JobStatusSucceeded, "")
}

// handleSuccess runs the post-execution bookkeeping. Every step after the
// trade record update is non-fatal: the trade landed, so nothing here may fail
// the job.
func (e *Engine) handleSuccess(ctx context.Context, job *domain.RetryJob, res *venue.ExecutionResult) {
	status := domain.TradeStatusExecuted
	if job.TradeID != "" {
		status = domain.TradeStatusRecovered
	}

	tradeID := job.TradeID
	if tradeID == "" {
		id, err := e.trades.Create(ctx, &domain.TradeRecord{
			AccountID:  job.Intent.AccountID,
			Market:     job.Intent.Market,
			Action:     job.Intent.Action,
			Side:       e.tradeSide(job),
			Size:       job.Intent.Size,
			EntryPrice: job.EntryPrice,
			FillPrice:  res.FillPrice,
			Fee:        res.Fee,
			Status:     status,
			Signature:  res.Signature,
			Note:       fmt.Sprintf("executed via %s after %d attempt(s)", res.Route, job.Attempts),
		})
		if err != nil {
			e.log.Error("failed to create trade record", "job_id", job.ID, "error", err)
		} else {
			tradeID = id
		}
	} else {
		note := fmt.Sprintf("recovered after %d attempt(s)", job.Attempts)
		if err := e.trades.UpdateStatus(ctx, tradeID, status, note); err != nil {
			e.log.Error("failed to update trade record", "trade_id", tradeID, "error", err)
		}
		if err := e.trades.RecordFill(ctx, tradeID, res.FillPrice, res.Fee, res.Signature); err != nil {
			e.log.Error("failed to record fill", "trade_id", tradeID, "error", err)
		}
	}

	if e.recon != nil {
		if err := e.recon.Reconcile(ctx, job.Intent.AccountID, job.Intent.SubAccount, job.Intent.Market); err != nil {
			e.log.Warn("ledger reconcile failed", "job_id", job.ID, "error", err)
		}
	}

	if e.router != nil && job.Signal != nil {
		if err := e.router.Route(ctx, job.Signal.SourceAccountID, job.Signal); err != nil {
			e.log.Warn("signal re-route failed", "job_id", job.ID,
				"source", job.Signal.SourceAccountID, "error", err)
		}
	}

	if job.Intent.Action == domain.ActionClose && e.settler != nil && job.EntryPrice.IsPositive() {
		e.settler.SettleClose(ctx, settlement.Close{
			SubscriberID: job.Intent.AccountID,
			SubAccount:   job.Intent.SubAccount,
			Market:       job.Intent.Market,
			TradeID:      tradeID,
			Side:         job.CloseSide,
			Size:         job.Intent.Size,
			EntryPrice:   job.EntryPrice,
			FillPrice:    res.FillPrice,
			Fee:          res.Fee,
		})
	}

	e.notif.Notify(ctx, notify.Event{
		Type:      notify.EventTradeSucceeded,
		JobID:     job.ID,
		TradeID:   tradeID,
		AccountID: job.Intent.AccountID,
		Market:    job.Intent.Market,
		Action:    string(job.Intent.Action),
		Attempts:  job.Attempts,
		At:        e.now(),
	})

	e.log.Info("trade executed",
		"job_id", job.ID,
		"trade_id", tradeID,
		"market", job.Intent.Market,
		"action", job.Intent.Action,
		"fill_price", res.FillPrice.String(),
		"attempts", job.Attempts,
	)

	e.finishJob(ctx, job, domain.JobStatusSucceeded, "")
}

// handleFailure classifies the failure and applies the outcome policy.
func (e *Engine) handleFailure(ctx context.Context, job *domain.RetryJob, cause error) {
	job.LastError = cause.Error()
	cls := classify.Classify(cause)
	outcome := decideOutcome(cls, job.Attempts, job.MaxAttempts, job.CooldownRetries, e.cfg.MaxCooldowns)
	now := e.now()

	switch outcome {
	case OutcomeRetry:
		job.NextAttemptAt = e.backoff.NextAttempt(now, job.Attempts, job.Priority)
		if err := e.jobs.Update(ctx, job); err != nil {
			e.log.Warn("failed to persist retry schedule", "job_id", job.ID, "error", err)
		}
		e.notif.Notify(ctx, notify.Event{
			Type:      notify.EventRetryScheduled,
			JobID:     job.ID,
			AccountID: job.Intent.AccountID,
			Market:    job.Intent.Market,
			Action:    string(job.Intent.Action),
			Category:  string(cls.Category),
			Attempts:  job.Attempts,
			Detail:    job.LastError,
			At:        now,
		})
		e.log.Warn("attempt failed, retry scheduled",
			"job_id", job.ID,
			"category", cls.Category,
			"attempts", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"next_attempt_at", job.NextAttemptAt,
			"error", cause,
		)

	case OutcomeCooldown:
		// A lost-acknowledgement timeout often means the action did land.
		// Parking the job gives the venue time to reflect state before the
		// idempotency check runs again.
		job.Attempts = 0
		job.CooldownRetries++
		job.NextAttemptAt = now.Add(e.cfg.Cooldown)
		if err := e.jobs.Update(ctx, job); err != nil {
			e.log.Warn("failed to persist cooldown reset", "job_id", job.ID, "error", err)
		}
		metrics.CooldownResets.Inc()
		e.notif.Notify(ctx, notify.Event{
			Type:      notify.EventCooldown,
			JobID:     job.ID,
			AccountID: job.Intent.AccountID,
			Market:    job.Intent.Market,
			Action:    string(job.Intent.Action),
			Category:  string(cls.Category),
			Cooldowns: job.CooldownRetries,
			Detail:    job.LastError,
			At:        now,
		})
		e.log.Warn("attempt cycle exhausted on timeout, cooling down",
			"job_id", job.ID,
			"cooldown_retries", job.CooldownRetries,
			"next_attempt_at", job.NextAttemptAt,
		)

	case OutcomeTerminal:
		detail := fmt.Sprintf("%s after %d attempt(s), %d cooldown(s): %s",
			cls.Category, job.Attempts, job.CooldownRetries, job.LastError)
		if job.TradeID != "" {
			if err := e.trades.UpdateStatus(ctx, job.TradeID, domain.TradeStatusFailed, detail); err != nil {
				e.log.Error("failed to mark trade failed", "trade_id", job.TradeID, "error", err)
			}
		}
		e.notif.Notify(ctx, notify.Event{
			Type:      notify.EventTradeFailed,
			JobID:     job.ID,
			TradeID:   job.TradeID,
			AccountID: job.Intent.AccountID,
			Market:    job.Intent.Market,
			Action:    string(job.Intent.Action),
			Category:  string(cls.Category),
			Attempts:  job.Attempts,
			Cooldowns: job.CooldownRetries,
			Detail:    job.LastError,
			At:        now,
		})
		e.log.Error("job terminally failed",
			"job_id", job.ID,
			"market", job.Intent.Market,
			"action", job.Intent.Action,
			"category", cls.Category,
			"attempts", job.Attempts,
			"cooldowns", job.CooldownRetries,
			"error", cause,
		)
		e.finishJob(ctx, job, domain.JobStatusFailed, job.LastError)
	}
}

// finishJob writes the terminal durable record and drops the in-memory entry.
func (e *Engine) finishJob(ctx context.Context, job *domain.RetryJob, status domain.JobStatus, lastError string) {
	if err := e.jobs.MarkTerminal(ctx, job.ID, status, lastError); err != nil {
		e.log.Warn("failed to write terminal job record", "job_id", job.ID, "status", status, "error", err)
	}
	metrics.TerminalJobs.WithLabelValues(string(status)).Inc()
	e.removeActive(job.ID)
}

// tradeSide derives the position side for the trade record.
func (e *Engine) tradeSide(job *domain.RetryJob) domain.PositionSide {
	if job.Intent.Action.IsOpen() {
		return job.Intent.Action.Side()
	}
	return job.CloseSide
}
