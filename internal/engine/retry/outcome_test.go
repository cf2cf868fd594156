package retry

import (
	"testing"

	"github.com/ndthang/copyflow/internal/engine/classify"
)

func TestDecideOutcome(t *testing.T) {
	retryable := classify.Classification{Category: classify.RateLimit, Retryable: true}
	timeout := classify.Classification{Category: classify.Timeout, Retryable: true}
	margin := classify.Classification{Category: classify.Margin}
	unknown := classify.Classification{Category: classify.Unknown}

	cases := []struct {
		name            string
		cls             classify.Classification
		attempts        int
		maxAttempts     int
		cooldownRetries int
		want            Outcome
	}{
		{"retryable with attempts left", retryable, 1, 5, 0, OutcomeRetry},
		{"retryable at last attempt", retryable, 4, 5, 0, OutcomeRetry},
		{"retryable attempts exhausted", retryable, 5, 5, 0, OutcomeTerminal},
		{"timeout with attempts left", timeout, 2, 5, 0, OutcomeRetry},
		{"timeout exhausted, cooldown budget left", timeout, 5, 5, 0, OutcomeCooldown},
		{"timeout exhausted, one cooldown used", timeout, 5, 5, 1, OutcomeCooldown},
		{"timeout exhausted, cooldown budget spent", timeout, 5, 5, 2, OutcomeTerminal},
		{"margin never retries", margin, 0, 5, 0, OutcomeTerminal},
		{"margin never cools down", margin, 5, 5, 0, OutcomeTerminal},
		{"unknown fails closed", unknown, 1, 5, 0, OutcomeTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decideOutcome(tc.cls, tc.attempts, tc.maxAttempts, tc.cooldownRetries, 2)
			if got != tc.want {
				t.Errorf("decideOutcome(%s, %d/%d, cooldowns=%d) = %v, want %v",
					tc.cls.Category, tc.attempts, tc.maxAttempts, tc.cooldownRetries, got, tc.want)
			}
		})
	}
}
