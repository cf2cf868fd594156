package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the desired position change on the venue.
type TradeAction string

const (
	ActionOpenLong  TradeAction = "open-long"
	ActionOpenShort TradeAction = "open-short"
	ActionClose     TradeAction = "close"
)

// IsOpen reports whether the action establishes a new position.
func (a TradeAction) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// Side returns the position side an open action would create.
// Close actions have no inherent side; callers use the observed position instead.
func (a TradeAction) Side() PositionSide {
	switch a {
	case ActionOpenLong:
		return SideLong
	case ActionOpenShort:
		return SideShort
	default:
		return ""
	}
}

// Priority classifies how aggressively a job is retried.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
)

// MaxAttemptsFor returns the attempt budget for a priority.
// Critical jobs protect against runaway exposure and get more attempts.
func MaxAttemptsFor(p Priority) int {
	if p == PriorityCritical {
		return 10
	}
	return 5
}

// JobStatus tracks a retry job's lifecycle in the durable store.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// OrderIntent describes the trade the engine must land on the venue.
type OrderIntent struct {
	AccountID   string          `json:"account_id"`
	Market      string          `json:"market"`
	Action      TradeAction     `json:"action"`
	Size        decimal.Decimal `json:"size"`
	SubAccount  int             `json:"sub_account"`
	ReduceOnly  bool            `json:"reduce_only"`
	SlippageBps int             `json:"slippage_bps"`
}

// RetryJob is the unit of retriable work. It is created when a mutating venue
// call returns an ambiguous or transient failure, mutated only by the worker
// loop, and marked terminal on final success or failure.
type RetryJob struct {
	ID     string
	Intent OrderIntent

	Priority    Priority
	Attempts    int
	MaxAttempts int

	// CooldownRetries counts full attempt-cycle resets taken after a timeout.
	CooldownRetries int

	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time

	// TradeID links the job to the trade record it is repairing, if any.
	TradeID string

	// Signal is the raw payload that triggered the trade, kept so the outcome
	// can be re-routed to dependent subscriber accounts.
	Signal *Signal

	// EntryPrice is set on close jobs only; needed to compute realized profit.
	EntryPrice decimal.Decimal

	// CloseSide is the side of the position a close job is flattening, when
	// known. Filled from the idempotency check otherwise.
	CloseSide PositionSide
}

// Due reports whether the job is eligible for an attempt at the given time.
func (j *RetryJob) Due(now time.Time) bool {
	return !j.NextAttemptAt.After(now)
}
