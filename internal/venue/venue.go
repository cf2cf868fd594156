// Package venue defines the collaborator interfaces of the remote
// perpetual-futures exchange. The engine depends only on these; transport is
// an adapter concern.
package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
)

// ExecutionResult is the venue's acknowledgement of a landed order.
type ExecutionResult struct {
	// Signature is the venue transaction identifier.
	Signature string

	FillPrice decimal.Decimal
	Fee       decimal.Decimal

	// Route names the transport the primitive chose internally. Persisted as
	// metadata, never branched on.
	Route string
}

// Executor submits a signed order. Opaque: it may choose among transports
// internally and owns its own call-level timeout.
type Executor interface {
	Submit(ctx context.Context, intent domain.OrderIntent) (*ExecutionResult, error)
}

// PositionReader queries current on-chain position state. It must reflect
// at-least-confirmed state; a missing or negligible-size entry means "no
// position."
type PositionReader interface {
	GetPositions(ctx context.Context, accountID string, subAccount int) ([]domain.Position, error)
}

// Treasury exposes the settlement transfer primitives, each independently
// fallible.
type Treasury interface {
	// SettlePnL settles unrealized P&L into withdrawable balance on the venue.
	SettlePnL(ctx context.Context, accountID string, subAccount int, market string) error

	// Withdraw moves funds from the venue to the account's transfer wallet.
	Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) error

	// Transfer moves funds on-chain between wallets.
	Transfer(ctx context.Context, fromWallet, toWallet string, amount decimal.Decimal) error
}
