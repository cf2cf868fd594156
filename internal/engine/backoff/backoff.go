// Package backoff computes retry delays: exponential growth with a ceiling and
// decorrelated jitter. Unbounded growth would starve critical jobs; fixed
// intervals resonate with venue-side rate limiting.
package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/ndthang/copyflow/internal/core/domain"
)

// Scheduler computes the delay before the next attempt.
type Scheduler struct {
	// Base is the first-attempt delay for normal priority. Halved for critical.
	Base time.Duration

	// Cap bounds the worst-case delay.
	Cap time.Duration

	// Jitter is the maximum random addition spread over retries to avoid
	// synchronized retry storms across jobs.
	Jitter time.Duration

	// randFloat is a test seam; defaults to math/rand.
	randFloat func() float64
}

// New returns a scheduler with the production defaults: 2s base, 60s cap, 0-1s jitter.
func New() *Scheduler {
	return &Scheduler{
		Base:   2 * time.Second,
		Cap:    60 * time.Second,
		Jitter: 1 * time.Second,
	}
}

// Delay returns min(base * 2^attempt, cap) + jitter, with base halved for
// critical priority so closes protecting exposure retry sooner.
func (s *Scheduler) Delay(attempt int, priority domain.Priority) time.Duration {
	base := s.Base
	if priority == domain.PriorityCritical {
		base /= 2
	}

	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(s.Cap) {
		d = float64(s.Cap)
	}

	return time.Duration(d) + s.jitter()
}

// NextAttempt returns the wall-clock time of the next attempt.
func (s *Scheduler) NextAttempt(now time.Time, attempt int, priority domain.Priority) time.Time {
	return now.Add(s.Delay(attempt, priority))
}

func (s *Scheduler) jitter() time.Duration {
	if s.Jitter <= 0 {
		return 0
	}
	f := rand.Float64
	if s.randFloat != nil {
		f = s.randFloat
	}
	return time.Duration(f() * float64(s.Jitter))
}
