package backoff

import (
	"testing"
	"time"

	"github.com/ndthang/copyflow/internal/core/domain"
)

func fixed(s *Scheduler, f float64) *Scheduler {
	s.randFloat = func() float64 { return f }
	return s
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	s := fixed(New(), 0)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := s.Delay(tc.attempt, domain.PriorityNormal); got != tc.want {
			t.Errorf("Delay(%d, normal) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelay_CriticalHalvesBase(t *testing.T) {
	s := fixed(New(), 0)

	if got := s.Delay(0, domain.PriorityCritical); got != 1*time.Second {
		t.Errorf("Delay(0, critical) = %v, want 1s", got)
	}

	// Critical is never slower than normal at the same attempt count.
	for attempt := 0; attempt < 12; attempt++ {
		critical := s.Delay(attempt, domain.PriorityCritical)
		normal := s.Delay(attempt, domain.PriorityNormal)
		if critical > normal {
			t.Errorf("attempt %d: critical delay %v > normal %v", attempt, critical, normal)
		}
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		d := s.Delay(0, domain.PriorityNormal)
		if d < 2*time.Second || d >= 3*time.Second {
			t.Fatalf("Delay(0, normal) = %v, want [2s, 3s)", d)
		}
	}
}

func TestDelay_MaxJitter(t *testing.T) {
	s := fixed(New(), 0.999)
	d := s.Delay(5, domain.PriorityNormal)
	if d < 60*time.Second || d > 61*time.Second {
		t.Errorf("capped delay with max jitter = %v, want within [60s, 61s]", d)
	}
}

func TestNextAttempt(t *testing.T) {
	s := fixed(New(), 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := s.NextAttempt(now, 1, domain.PriorityNormal); !got.Equal(now.Add(4 * time.Second)) {
		t.Errorf("NextAttempt = %v, want %v", got, now.Add(4*time.Second))
	}
}
