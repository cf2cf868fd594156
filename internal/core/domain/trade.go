package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus tracks the outcome of a trade record.
type TradeStatus string

const (
	// TradeStatusExecuted marks a trade that landed on the first confirmed attempt.
	TradeStatusExecuted TradeStatus = "executed"

	// TradeStatusRecovered marks a trade repaired by the retry engine after an
	// ambiguous earlier failure.
	TradeStatusRecovered TradeStatus = "recovered"

	TradeStatusFailed TradeStatus = "failed"
)

// TradeRecord is the durable audit record of a trade the engine executed or
// repaired.
type TradeRecord struct {
	ID         string
	AccountID  string
	Market     string
	Action     TradeAction
	Side       PositionSide
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	FillPrice  decimal.Decimal
	Fee        decimal.Decimal
	Status     TradeStatus

	// Signature is the venue's transaction identifier, kept as metadata.
	Signature string

	// Note carries free-text error or annotation detail.
	Note string

	CreatedAt time.Time
	UpdatedAt time.Time
}
