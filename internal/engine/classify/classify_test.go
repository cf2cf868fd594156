package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify_Categories(t *testing.T) {
	cases := []struct {
		msg       string
		category  Category
		retryable bool
	}{
		{"request timeout after 30s", Timeout, true},
		{"transaction timed out waiting for confirmation", Timeout, true},
		{"context deadline exceeded", Timeout, true},
		{"oracle price is stale", Oracle, true},
		{"stale price data for SOL-PERP", Oracle, true},
		{"invalid price feed account", Oracle, true},
		{"read tcp: connection reset by peer", RPC, true},
		{"dial tcp: connection refused", RPC, true},
		{"socket hang up", RPC, true},
		{"upstream returned 502 bad gateway", RPC, true},
		{"429 Too Many Requests", RateLimit, true},
		{"rate limit exceeded, please slow down", RateLimit, true},
		{"please wait before retrying", RateLimit, true},
		{"insufficient funds for order", Margin, false},
		{"Insufficient collateral to open position", Margin, false},
		{"margin requirement not met", Margin, false},
		{"account not found", Protocol, false},
		{"unknown market BONK-PERP", Protocol, false},
		{"custom program error: 0x1771", Protocol, false},
		{"something entirely unexpected", Unknown, false},
		{"", Unknown, false},
	}

	for _, tc := range cases {
		got := ClassifyMessage(tc.msg)
		if got.Category != tc.category {
			t.Errorf("ClassifyMessage(%q) category = %s, want %s", tc.msg, got.Category, tc.category)
		}
		if got.Retryable != tc.retryable {
			t.Errorf("ClassifyMessage(%q) retryable = %v, want %v", tc.msg, got.Retryable, tc.retryable)
		}
	}
}

func TestClassify_OrderMatters(t *testing.T) {
	// Matches both timeout and rpc tables; timeout must win since it alone
	// qualifies for the cooldown requeue.
	got := ClassifyMessage("connection reset after request timed out")
	if got.Category != Timeout {
		t.Errorf("expected TIMEOUT to win over RPC, got %s", got.Category)
	}

	// Oracle before rpc.
	got = ClassifyMessage("oracle unavailable: connection refused")
	if got.Category != Oracle {
		t.Errorf("expected ORACLE to win over RPC, got %s", got.Category)
	}

	// Rate limit phrasing that also mentions a connection.
	got = ClassifyMessage("connection closed: too many requests")
	if got.Category != RPC {
		t.Errorf("expected RPC (checked before RATE_LIMIT), got %s", got.Category)
	}
}

func TestClassify_TransientNeverUnknown(t *testing.T) {
	transient := []string{
		"oracle price is stale",
		"price feed unavailable",
		"connection reset by peer",
		"connection terminated unexpectedly",
		"econnreset",
		"service unavailable",
	}
	for _, msg := range transient {
		got := ClassifyMessage(msg)
		if got.Category == Unknown {
			t.Errorf("%q fell through to UNKNOWN", msg)
		}
		if !got.Retryable {
			t.Errorf("%q classified as not retryable (%s)", msg, got.Category)
		}
	}
}

func TestClassify_WrappedError(t *testing.T) {
	err := fmt.Errorf("submit order: %w", errors.New("exchange rate limit hit"))
	got := Classify(err)
	if got.Category != RateLimit {
		t.Errorf("expected RATE_LIMIT, got %s", got.Category)
	}
}

func TestClassify_NilError(t *testing.T) {
	if got := Classify(nil); got.Category != Unknown || got.Retryable {
		t.Errorf("nil error should classify as non-retryable UNKNOWN, got %+v", got)
	}
}
