package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitShareObligation is an IOU created when a settlement step fails after
// profit has been confirmed positive. It guarantees the creator's entitlement
// is never silently lost; resolution happens out of band.
type ProfitShareObligation struct {
	ID           string
	SubscriberID string
	CreatorID    string
	Amount       decimal.Decimal
	RealizedPnL  decimal.Decimal
	TradeID      string

	// FailedStep names the settlement step that failed: settle, withdraw or transfer.
	FailedStep string

	Reason    string
	CreatedAt time.Time
}
