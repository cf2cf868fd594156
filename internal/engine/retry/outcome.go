package retry

import "github.com/ndthang/copyflow/internal/engine/classify"

// Outcome is the policy decision after a failed attempt.
type Outcome int

const (
	// OutcomeRetry reschedules the job under normal backoff.
	OutcomeRetry Outcome = iota

	// OutcomeCooldown resets the attempt cycle and parks the job for the fixed
	// cooldown. Only timeouts qualify: a lost acknowledgement often means the
	// action did land, so the venue gets time to reflect state before the
	// idempotency check runs again.
	OutcomeCooldown

	// OutcomeTerminal fails the job permanently.
	OutcomeTerminal
)

// decideOutcome is the single retry-vs-terminal policy, consumed from every
// failure path so graceful errors and panics get identical treatment.
func decideOutcome(c classify.Classification, attempts, maxAttempts, cooldownRetries, maxCooldowns int) Outcome {
	if c.Retryable && attempts < maxAttempts {
		return OutcomeRetry
	}
	if c.Category == classify.Timeout && cooldownRetries < maxCooldowns {
		return OutcomeCooldown
	}
	return OutcomeTerminal
}
