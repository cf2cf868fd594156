package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
)

// ObligationRepo implements storage.ObligationRepository using PostgreSQL.
type ObligationRepo struct {
	db *DB
}

// NewObligationRepo creates a new PostgreSQL obligation repository.
func NewObligationRepo(db *DB) *ObligationRepo {
	return &ObligationRepo{db: db}
}

type obligationRow struct {
	ID           string          `db:"id"`
	SubscriberID string          `db:"subscriber_id"`
	CreatorID    string          `db:"creator_id"`
	Amount       decimal.Decimal `db:"amount"`
	RealizedPnL  decimal.Decimal `db:"realized_pnl"`
	TradeID      string          `db:"trade_id"`
	FailedStep   string          `db:"failed_step"`
	Reason       string          `db:"reason"`
	CreatedAt    time.Time       `db:"created_at"`
}

// Create persists a new profit-share obligation.
func (r *ObligationRepo) Create(ctx context.Context, ob *domain.ProfitShareObligation) error {
	query := `
		INSERT INTO profit_share_obligations (
			subscriber_id, creator_id, amount, realized_pnl, trade_id,
			failed_step, reason, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', NOW())
	`
	_, err := r.db.ExecContext(
		ctx, query,
		ob.SubscriberID,
		ob.CreatorID,
		ob.Amount,
		ob.RealizedPnL,
		ob.TradeID,
		ob.FailedStep,
		ob.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to create obligation: %w", err)
	}
	return nil
}

// ListOpen returns all unresolved obligations.
func (r *ObligationRepo) ListOpen(ctx context.Context) ([]*domain.ProfitShareObligation, error) {
	query := `
		SELECT id, subscriber_id, creator_id, amount, realized_pnl, trade_id,
		       failed_step, reason, created_at
		FROM profit_share_obligations
		WHERE status = 'open'
		ORDER BY created_at ASC
	`
	var rows []obligationRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list open obligations: %w", err)
	}

	out := make([]*domain.ProfitShareObligation, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.ProfitShareObligation{
			ID:           row.ID,
			SubscriberID: row.SubscriberID,
			CreatorID:    row.CreatorID,
			Amount:       row.Amount,
			RealizedPnL:  row.RealizedPnL,
			TradeID:      row.TradeID,
			FailedStep:   row.FailedStep,
			Reason:       row.Reason,
			CreatedAt:    row.CreatedAt,
		})
	}
	return out, nil
}
