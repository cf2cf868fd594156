package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/infra/storage"
)

// AccountRepo implements storage.AccountRepository using PostgreSQL.
// Read-only: account CRUD belongs to the enclosing service.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new PostgreSQL account repository.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Get retrieves an account by id.
func (r *AccountRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	query := `
		SELECT id, wallet_address, creator_id, profit_share_pct
		FROM accounts
		WHERE id = $1
	`
	var row struct {
		ID             string          `db:"id"`
		WalletAddress  string          `db:"wallet_address"`
		CreatorID      string          `db:"creator_id"`
		ProfitSharePct decimal.Decimal `db:"profit_share_pct"`
	}
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &domain.Account{
		ID:             row.ID,
		WalletAddress:  row.WalletAddress,
		CreatorID:      row.CreatorID,
		ProfitSharePct: row.ProfitSharePct,
	}, nil
}
