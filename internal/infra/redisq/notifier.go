package redisq

import (
	"context"
	"log/slog"

	"github.com/ndthang/copyflow/internal/notify"
)

// Notifier publishes engine events to the Redis stream. Fire-and-forget:
// stream failures are logged and swallowed.
type Notifier struct {
	client *Client
	log    *slog.Logger
}

// NewNotifier creates a stream-backed notifier.
func NewNotifier(client *Client, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{client: client, log: log}
}

func (n *Notifier) Notify(ctx context.Context, ev notify.Event) {
	fields := map[string]any{
		"type":     string(ev.Type),
		"job_id":   ev.JobID,
		"account":  ev.AccountID,
		"market":   ev.Market,
		"action":   ev.Action,
		"attempts": ev.Attempts,
		"at":       ev.At.UnixMilli(),
	}
	if ev.TradeID != "" {
		fields["trade_id"] = ev.TradeID
	}
	if ev.Category != "" {
		fields["category"] = ev.Category
	}
	if ev.Cooldowns > 0 {
		fields["cooldowns"] = ev.Cooldowns
	}
	if ev.Detail != "" {
		fields["detail"] = ev.Detail
	}

	if err := n.client.Append(ctx, fields); err != nil {
		n.log.Warn("failed to publish event", "type", ev.Type, "job_id", ev.JobID, "error", err)
	}
}
