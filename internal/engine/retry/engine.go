// Package retry implements the execution reliability engine: a durable
// retry/backoff queue that repairs ambiguous order submissions against the
// venue.
package retry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/engine/backoff"
	"github.com/ndthang/copyflow/internal/engine/metrics"
	"github.com/ndthang/copyflow/internal/engine/settlement"
	"github.com/ndthang/copyflow/internal/infra/storage"
	"github.com/ndthang/copyflow/internal/notify"
	"github.com/ndthang/copyflow/internal/venue"
)

// SignalRouter re-routes a source account's signal to dependent subscriber
// accounts after a delayed success. Failure is logged, never escalated.
type SignalRouter interface {
	Route(ctx context.Context, sourceAccountID string, sig *domain.Signal) error
}

// Reconciler refreshes local position/ledger state from on-chain truth after a
// success. Optional; failure is logged, not retried.
type Reconciler interface {
	Reconcile(ctx context.Context, accountID string, subAccount int, market string) error
}

// Config holds engine tuning.
type Config struct {
	// Interval is the worker loop tick. Must exceed the worst-case cycle
	// duration so cycles never overlap.
	Interval time.Duration

	// BatchSize caps jobs processed per cycle; the rest stay due for the next
	// cycle.
	BatchSize int

	// Stagger is the delay inserted between jobs within one cycle.
	Stagger time.Duration

	// Cooldown is the fixed wait after a timeout-triggered attempt-cycle reset.
	Cooldown time.Duration

	// MaxCooldowns caps timeout requeues per job.
	MaxCooldowns int

	// MaxAgeClose / MaxAgeOpen bound how stale a persisted job may be at
	// restart before it is discarded. A stale close is worthless once the
	// market has moved.
	MaxAgeClose time.Duration
	MaxAgeOpen  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     2 * time.Second,
		BatchSize:    2,
		Stagger:      500 * time.Millisecond,
		Cooldown:     2 * time.Minute,
		MaxCooldowns: 2,
		MaxAgeClose:  5 * time.Minute,
		MaxAgeOpen:   60 * time.Minute,
	}
}

// Deps are the engine's injected collaborators. Jobs, Trades, Executor,
// Positions and Notifier are required; the rest are optional.
type Deps struct {
	Jobs      storage.JobRepository
	Trades    storage.TradeRepository
	Executor  venue.Executor
	Positions venue.PositionReader
	Settler   *settlement.Settler
	Router    SignalRouter
	Reconcile Reconciler
	Notifier  notify.Notifier
	Log       *slog.Logger
}

// Engine is the retry queue. A single worker loop owns all job mutation; the
// active set is guarded by a mutex because Enqueue runs on caller goroutines.
type Engine struct {
	cfg     Config
	jobs    storage.JobRepository
	trades  storage.TradeRepository
	exec    venue.Executor
	pos     venue.PositionReader
	settler *settlement.Settler
	router  SignalRouter
	recon   Reconciler
	notif   notify.Notifier
	backoff *backoff.Scheduler
	log     *slog.Logger

	// now is a test seam.
	now func() time.Time

	mu     sync.Mutex
	active map[string]*domain.RetryJob

	// inCycle guarantees single-flight cycles regardless of how the loop is
	// driven.
	inCycle atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Interval <= 0 {
		cfg = DefaultConfig()
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	return &Engine{
		cfg:     cfg,
		jobs:    deps.Jobs,
		trades:  deps.Trades,
		exec:    deps.Executor,
		pos:     deps.Positions,
		settler: deps.Settler,
		router:  deps.Router,
		recon:   deps.Reconcile,
		notif:   notifier,
		backoff: backoff.New(),
		log:     log,
		now:     time.Now,
		active:  make(map[string]*domain.RetryJob),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// EnqueueRequest describes a trade whose outcome could not be confirmed.
type EnqueueRequest struct {
	Intent   domain.OrderIntent
	Priority domain.Priority

	// TradeID links the job to the trade record it repairs, if one exists.
	TradeID string

	// Signal is the originating payload, for subscriber re-routing.
	Signal *domain.Signal

	// EntryPrice is required on close intents for profit computation.
	EntryPrice decimal.Decimal

	// CloseSide is the side of the position being closed, when known.
	CloseSide domain.PositionSide

	// LastError is the failure that made the outcome ambiguous.
	LastError string
}

// Enqueue persists a new job, schedules its first attempt and returns the
// durable id. If the store is unavailable the job still enters the active set
// under a locally generated id; it will not survive a restart.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) string {
	now := e.now()
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	job := &domain.RetryJob{
		Intent:        req.Intent,
		Priority:      priority,
		Attempts:      0,
		MaxAttempts:   domain.MaxAttemptsFor(priority),
		NextAttemptAt: e.backoff.NextAttempt(now, 0, priority),
		LastError:     req.LastError,
		CreatedAt:     now,
		TradeID:       req.TradeID,
		Signal:        req.Signal,
		EntryPrice:    req.EntryPrice,
		CloseSide:     req.CloseSide,
	}

	id, err := e.jobs.Create(ctx, job)
	if err != nil {
		id = uuid.New().String()
		job.ID = id
		e.log.Warn("job store unavailable, using local id; job will not survive a restart",
			"job_id", id, "market", job.Intent.Market, "action", job.Intent.Action, "error", err)
	} else {
		job.ID = id
	}

	e.mu.Lock()
	e.active[id] = job
	metrics.ActiveJobs.Set(float64(len(e.active)))
	e.mu.Unlock()

	metrics.JobsEnqueued.WithLabelValues(string(job.Intent.Action), string(priority)).Inc()
	e.log.Info("retry job enqueued",
		"job_id", id,
		"account", job.Intent.AccountID,
		"market", job.Intent.Market,
		"action", job.Intent.Action,
		"priority", priority,
		"next_attempt_at", job.NextAttemptAt,
	)
	return id
}

// Start launches the worker loop.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

// Stop signals the worker loop and waits for the in-flight cycle to finish.
func (e *Engine) Stop(ctx context.Context) error {
	close(e.stopCh)
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the size of the active set.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle processes one batch of due jobs, critical-first then earliest-due,
// strictly sequentially with a stagger between jobs. Jobs beyond the batch cap
// remain due and are picked up next cycle.
func (e *Engine) runCycle(ctx context.Context) {
	if !e.inCycle.CompareAndSwap(false, true) {
		return
	}
	defer e.inCycle.Store(false)

	due := e.dueJobs()
	if len(due) == 0 {
		return
	}

	if len(due) > e.cfg.BatchSize {
		due = due[:e.cfg.BatchSize]
	}

	for i, job := range due {
		if i > 0 && e.cfg.Stagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.Stagger):
			}
		}
		e.processJob(ctx, job)
	}
}

func (e *Engine) dueJobs() []*domain.RetryJob {
	now := e.now()

	e.mu.Lock()
	due := make([]*domain.RetryJob, 0, len(e.active))
	for _, job := range e.active {
		if job.Due(now) {
			due = append(due, job)
		}
	}
	e.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		pi := due[i].Priority == domain.PriorityCritical
		pj := due[j].Priority == domain.PriorityCritical
		if pi != pj {
			return pi
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	return due
}

func (e *Engine) removeActive(id string) {
	e.mu.Lock()
	delete(e.active, id)
	metrics.ActiveJobs.Set(float64(len(e.active)))
	e.mu.Unlock()
}
