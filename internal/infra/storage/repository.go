package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a retry job doesn't exist.
	ErrJobNotFound = errors.New("retry job not found")

	// ErrTradeNotFound is returned when a trade record doesn't exist.
	ErrTradeNotFound = errors.New("trade record not found")

	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")
)

// JobRepository persists retry jobs so the engine survives restarts.
type JobRepository interface {
	// Create persists a new job and returns the assigned durable id.
	Create(ctx context.Context, job *domain.RetryJob) (string, error)

	// Update persists mutable progress fields (attempts, cooldowns, schedule, last error).
	Update(ctx context.Context, job *domain.RetryJob) error

	// MarkTerminal transitions a job to a terminal status. The row is kept for
	// audit but no longer listed as pending.
	MarkTerminal(ctx context.Context, id string, status domain.JobStatus, lastError string) error

	// ListPending returns all non-terminal jobs, for restart recovery.
	ListPending(ctx context.Context) ([]*domain.RetryJob, error)
}

// TradeRepository persists trade records with status transitions.
type TradeRepository interface {
	// Create persists a new trade record and returns the assigned id.
	Create(ctx context.Context, trade *domain.TradeRecord) (string, error)

	// Get retrieves a trade record by id.
	Get(ctx context.Context, id string) (*domain.TradeRecord, error)

	// UpdateStatus transitions a trade's status with a free-text note.
	UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, note string) error

	// RecordFill stores the fill price, fee and venue signature after execution.
	RecordFill(ctx context.Context, id string, fillPrice, fee decimal.Decimal, signature string) error
}

// ObligationRepository persists deferred profit-share IOUs.
type ObligationRepository interface {
	// Create persists a new obligation.
	Create(ctx context.Context, ob *domain.ProfitShareObligation) error

	// ListOpen returns all unresolved obligations.
	ListOpen(ctx context.Context) ([]*domain.ProfitShareObligation, error)
}

// AccountRepository is a read-only view of accounts. Account CRUD lives in the
// enclosing service; the engine only needs the copy-trading relationship.
type AccountRepository interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
}
