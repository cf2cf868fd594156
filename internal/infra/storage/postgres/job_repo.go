package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL retry job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

type jobRow struct {
	ID              string          `db:"id"`
	AccountID       string          `db:"account_id"`
	Market          string          `db:"market"`
	Action          string          `db:"action"`
	Size            decimal.Decimal `db:"size"`
	SubAccount      int             `db:"sub_account"`
	ReduceOnly      bool            `db:"reduce_only"`
	SlippageBps     int             `db:"slippage_bps"`
	Priority        string          `db:"priority"`
	Attempts        int             `db:"attempts"`
	MaxAttempts     int             `db:"max_attempts"`
	CooldownRetries int             `db:"cooldown_retries"`
	NextAttemptAt   time.Time       `db:"next_attempt_at"`
	LastError       string          `db:"last_error"`
	Status          string          `db:"status"`
	TradeID         string          `db:"trade_id"`
	Signal          []byte          `db:"signal"`
	EntryPrice      decimal.Decimal `db:"entry_price"`
	CloseSide       string          `db:"close_side"`
	CreatedAt       time.Time       `db:"created_at"`
}

func (row *jobRow) toDomain() (*domain.RetryJob, error) {
	job := &domain.RetryJob{
		ID: row.ID,
		Intent: domain.OrderIntent{
			AccountID:   row.AccountID,
			Market:      row.Market,
			Action:      domain.TradeAction(row.Action),
			Size:        row.Size,
			SubAccount:  row.SubAccount,
			ReduceOnly:  row.ReduceOnly,
			SlippageBps: row.SlippageBps,
		},
		Priority:        domain.Priority(row.Priority),
		Attempts:        row.Attempts,
		MaxAttempts:     row.MaxAttempts,
		CooldownRetries: row.CooldownRetries,
		NextAttemptAt:   row.NextAttemptAt,
		LastError:       row.LastError,
		CreatedAt:       row.CreatedAt,
		TradeID:         row.TradeID,
		EntryPrice:      row.EntryPrice,
		CloseSide:       domain.PositionSide(row.CloseSide),
	}
	if len(row.Signal) > 0 {
		var sig domain.Signal
		if err := json.Unmarshal(row.Signal, &sig); err != nil {
			return nil, fmt.Errorf("failed to decode signal payload: %w", err)
		}
		job.Signal = &sig
	}
	return job, nil
}

// Create persists a new job and returns the database-assigned id.
func (r *JobRepo) Create(ctx context.Context, job *domain.RetryJob) (string, error) {
	var signal []byte
	if job.Signal != nil {
		var err error
		signal, err = json.Marshal(job.Signal)
		if err != nil {
			return "", fmt.Errorf("failed to encode signal payload: %w", err)
		}
	}

	query := `
		INSERT INTO retry_jobs (
			account_id, market, action, size, sub_account, reduce_only, slippage_bps,
			priority, attempts, max_attempts, cooldown_retries, next_attempt_at,
			last_error, status, trade_id, signal, entry_price, close_side, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`

	var id string
	err := r.db.GetContext(
		ctx, &id, query,
		job.Intent.AccountID,
		job.Intent.Market,
		string(job.Intent.Action),
		job.Intent.Size,
		job.Intent.SubAccount,
		job.Intent.ReduceOnly,
		job.Intent.SlippageBps,
		string(job.Priority),
		job.Attempts,
		job.MaxAttempts,
		job.CooldownRetries,
		job.NextAttemptAt,
		job.LastError,
		string(domain.JobStatusPending),
		job.TradeID,
		signal,
		job.EntryPrice,
		string(job.CloseSide),
		job.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create retry job: %w", err)
	}
	return id, nil
}

// Update persists mutable progress fields.
func (r *JobRepo) Update(ctx context.Context, job *domain.RetryJob) error {
	query := `
		UPDATE retry_jobs
		SET attempts = $2, cooldown_retries = $3, next_attempt_at = $4,
		    last_error = $5, close_side = $6
		WHERE id = $1
	`
	res, err := r.db.ExecContext(
		ctx, query,
		job.ID,
		job.Attempts,
		job.CooldownRetries,
		job.NextAttemptAt,
		job.LastError,
		string(job.CloseSide),
	)
	if err != nil {
		return fmt.Errorf("failed to update retry job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// MarkTerminal transitions a job to succeeded or failed. The row stays for audit.
func (r *JobRepo) MarkTerminal(ctx context.Context, id string, status domain.JobStatus, lastError string) error {
	query := `
		UPDATE retry_jobs
		SET status = $2, last_error = $3, finished_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("failed to mark retry job terminal: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// ListPending returns all non-terminal jobs for restart recovery.
func (r *JobRepo) ListPending(ctx context.Context) ([]*domain.RetryJob, error) {
	query := `
		SELECT id, account_id, market, action, size, sub_account, reduce_only,
		       slippage_bps, priority, attempts, max_attempts, cooldown_retries,
		       next_attempt_at, last_error, status, trade_id, signal, entry_price,
		       close_side, created_at
		FROM retry_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pending retry jobs: %w", err)
	}

	jobs := make([]*domain.RetryJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
