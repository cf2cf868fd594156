// Package notify carries fire-and-forget engine events. Sink failures are
// swallowed; a lost notification never affects job scheduling.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventType enumerates engine state transitions.
type EventType string

const (
	EventTradeSucceeded EventType = "trade-succeeded"
	EventTradeFailed    EventType = "trade-failed"
	EventRetryScheduled EventType = "retry-scheduled"
	EventCooldown       EventType = "cooldown-scheduled"
)

// Event summarizes one job state transition.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	TradeID   string    `json:"trade_id,omitempty"`
	AccountID string    `json:"account_id"`
	Market    string    `json:"market"`
	Action    string    `json:"action"`
	Category  string    `json:"category,omitempty"`
	Attempts  int       `json:"attempts"`
	Cooldowns int       `json:"cooldowns,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier is the outbound event sink.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// LogNotifier writes events to the structured log. Used when no external sink
// is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a slog-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) {
	n.log.Info("engine event",
		"type", ev.Type,
		"job_id", ev.JobID,
		"account", ev.AccountID,
		"market", ev.Market,
		"action", ev.Action,
		"category", ev.Category,
		"attempts", ev.Attempts,
		"detail", ev.Detail,
	)
}
