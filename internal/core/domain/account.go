package domain

import "github.com/shopspring/decimal"

// Account holds the subset of account state the engine needs: wallet identity
// for transfers and the copy-trading relationship for profit sharing.
type Account struct {
	ID            string
	WalletAddress string

	// CreatorID is the account whose signals this account copies. Empty for
	// accounts that trade on their own behalf.
	CreatorID string

	// ProfitSharePct is the fraction of realized profit owed to the creator,
	// e.g. 0.10 for 10%.
	ProfitSharePct decimal.Decimal
}

// IsSubscriber reports whether the account owes profit share to a creator.
func (a *Account) IsSubscriber() bool {
	return a.CreatorID != "" && a.ProfitSharePct.IsPositive()
}
