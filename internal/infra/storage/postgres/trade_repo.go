package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/infra/storage"
)

// TradeRepo implements storage.TradeRepository using PostgreSQL.
type TradeRepo struct {
	db *DB
}

// NewTradeRepo creates a new PostgreSQL trade repository.
func NewTradeRepo(db *DB) *TradeRepo {
	return &TradeRepo{db: db}
}

type tradeRow struct {
	ID         string          `db:"id"`
	AccountID  string          `db:"account_id"`
	Market     string          `db:"market"`
	Action     string          `db:"action"`
	Side       string          `db:"side"`
	Size       decimal.Decimal `db:"size"`
	EntryPrice decimal.Decimal `db:"entry_price"`
	FillPrice  decimal.Decimal `db:"fill_price"`
	Fee        decimal.Decimal `db:"fee"`
	Status     string          `db:"status"`
	Signature  string          `db:"signature"`
	Note       string          `db:"note"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// Create persists a new trade record.
func (r *TradeRepo) Create(ctx context.Context, trade *domain.TradeRecord) (string, error) {
	query := `
		INSERT INTO trades (
			account_id, market, action, side, size, entry_price, fill_price, fee,
			status, signature, note, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id
	`
	var id string
	err := r.db.GetContext(
		ctx, &id, query,
		trade.AccountID,
		trade.Market,
		string(trade.Action),
		string(trade.Side),
		trade.Size,
		trade.EntryPrice,
		trade.FillPrice,
		trade.Fee,
		string(trade.Status),
		trade.Signature,
		trade.Note,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create trade record: %w", err)
	}
	return id, nil
}

// Get retrieves a trade record by id.
func (r *TradeRepo) Get(ctx context.Context, id string) (*domain.TradeRecord, error) {
	query := `
		SELECT id, account_id, market, action, side, size, entry_price, fill_price,
		       fee, status, signature, note, created_at, updated_at
		FROM trades
		WHERE id = $1
	`
	var row tradeRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade record: %w", err)
	}

	return &domain.TradeRecord{
		ID:         row.ID,
		AccountID:  row.AccountID,
		Market:     row.Market,
		Action:     domain.TradeAction(row.Action),
		Side:       domain.PositionSide(row.Side),
		Size:       row.Size,
		EntryPrice: row.EntryPrice,
		FillPrice:  row.FillPrice,
		Fee:        row.Fee,
		Status:     domain.TradeStatus(row.Status),
		Signature:  row.Signature,
		Note:       row.Note,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// UpdateStatus transitions a trade's status with a free-text note.
func (r *TradeRepo) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, note string) error {
	query := `
		UPDATE trades
		SET status = $2, note = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), note)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrTradeNotFound
	}
	return nil
}

// RecordFill stores the fill price, fee and venue signature after execution.
func (r *TradeRepo) RecordFill(ctx context.Context, id string, fillPrice, fee decimal.Decimal, signature string) error {
	query := `
		UPDATE trades
		SET fill_price = $2, fee = $3, signature = $4, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, fillPrice, fee, signature)
	if err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrTradeNotFound
	}
	return nil
}
