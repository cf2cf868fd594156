// Package settlement drives the profit-share payout after a profitable close.
// Three venue steps with no cross-step atomicity; any failure degrades into a
// durable ProfitShareObligation instead of retrying inside the hot path.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/engine/metrics"
	"github.com/ndthang/copyflow/internal/infra/storage"
	"github.com/ndthang/copyflow/internal/venue"
)

// DefaultDustThreshold is the amount below which payouts are skipped entirely.
var DefaultDustThreshold = decimal.NewFromFloat(0.01)

const (
	StepSettle   = "settle"
	StepWithdraw = "withdraw"
	StepTransfer = "transfer"
)

// Close describes a successfully closed position to settle.
type Close struct {
	SubscriberID string
	SubAccount   int
	Market       string
	TradeID      string
	Side         domain.PositionSide
	Size         decimal.Decimal
	EntryPrice   decimal.Decimal
	FillPrice    decimal.Decimal
	Fee          decimal.Decimal
}

// RealizedPnL computes the profit of the close net of fees.
func (c *Close) RealizedPnL() decimal.Decimal {
	var gross decimal.Decimal
	switch c.Side {
	case domain.SideShort:
		gross = c.EntryPrice.Sub(c.FillPrice).Mul(c.Size)
	default:
		// Long, or unknown side treated as long.
		gross = c.FillPrice.Sub(c.EntryPrice).Mul(c.Size)
	}
	return gross.Sub(c.Fee)
}

// Settler runs the payout saga.
type Settler struct {
	treasury    venue.Treasury
	accounts    storage.AccountRepository
	obligations storage.ObligationRepository
	dust        decimal.Decimal
	log         *slog.Logger
}

// NewSettler creates a settler with the default dust threshold.
func NewSettler(
	treasury venue.Treasury,
	accounts storage.AccountRepository,
	obligations storage.ObligationRepository,
	log *slog.Logger,
) *Settler {
	if log == nil {
		log = slog.Default()
	}
	return &Settler{
		treasury:    treasury,
		accounts:    accounts,
		obligations: obligations,
		dust:        DefaultDustThreshold,
		log:         log,
	}
}

// SetDustThreshold overrides the dust threshold.
func (s *Settler) SetDustThreshold(d decimal.Decimal) {
	s.dust = d
}

// SettleClose pays the creator's profit share for a closed position. Never
// returns an error for step failures: those become obligations. The trade
// itself already succeeded; only the payout can be deferred.
func (s *Settler) SettleClose(ctx context.Context, close Close) {
	pnl := close.RealizedPnL()
	if !pnl.IsPositive() {
		return
	}

	account, err := s.accounts.Get(ctx, close.SubscriberID)
	if err != nil {
		s.log.Warn("settlement skipped: account lookup failed",
			"account", close.SubscriberID, "error", err)
		return
	}
	if !account.IsSubscriber() {
		return
	}

	amount := pnl.Mul(account.ProfitSharePct).Round(6)
	if amount.LessThan(s.dust) {
		s.log.Info("profit share below dust threshold, skipping",
			"account", close.SubscriberID, "amount", amount.String(), "pnl", pnl.String())
		return
	}

	if err := s.treasury.SettlePnL(ctx, close.SubscriberID, close.SubAccount, close.Market); err != nil {
		s.deferPayout(ctx, account, close, amount, pnl, StepSettle, err)
		return
	}

	if err := s.treasury.Withdraw(ctx, close.SubscriberID, amount); err != nil {
		s.deferPayout(ctx, account, close, amount, pnl, StepWithdraw, err)
		return
	}

	creator, err := s.accounts.Get(ctx, account.CreatorID)
	if err != nil {
		s.deferPayout(ctx, account, close, amount, pnl, StepTransfer,
			fmt.Errorf("creator account lookup: %w", err))
		return
	}

	if err := s.treasury.Transfer(ctx, account.WalletAddress, creator.WalletAddress, amount); err != nil {
		s.deferPayout(ctx, account, close, amount, pnl, StepTransfer, err)
		return
	}

	metrics.SettlementsCompleted.Inc()
	s.log.Info("profit share settled",
		"subscriber", close.SubscriberID,
		"creator", account.CreatorID,
		"amount", amount.String(),
		"pnl", pnl.String(),
		"trade_id", close.TradeID,
	)
}

// deferPayout records the IOU so the creator's entitlement survives the failed
// payment path.
func (s *Settler) deferPayout(
	ctx context.Context,
	account *domain.Account,
	close Close,
	amount, pnl decimal.Decimal,
	step string,
	cause error,
) {
	s.log.Error("settlement step failed, deferring profit share",
		"step", step,
		"subscriber", close.SubscriberID,
		"creator", account.CreatorID,
		"amount", amount.String(),
		"error", cause,
	)

	ob := &domain.ProfitShareObligation{
		SubscriberID: close.SubscriberID,
		CreatorID:    account.CreatorID,
		Amount:       amount,
		RealizedPnL:  pnl,
		TradeID:      close.TradeID,
		FailedStep:   step,
		Reason:       cause.Error(),
		CreatedAt:    time.Now(),
	}
	if err := s.obligations.Create(ctx, ob); err != nil {
		// Worst case: log with everything needed to reconstruct the IOU by hand.
		s.log.Error("failed to record profit-share obligation",
			"subscriber", close.SubscriberID,
			"creator", account.CreatorID,
			"amount", amount.String(),
			"pnl", pnl.String(),
			"trade_id", close.TradeID,
			"error", err,
		)
		return
	}
	metrics.ObligationsCreated.WithLabelValues(step).Inc()
}
