package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/infra/storage/memory"
	"github.com/ndthang/copyflow/internal/notify"
	"github.com/ndthang/copyflow/internal/venue"
)

// =============================================================================
// Mocks
// =============================================================================

type stubExecutor struct {
	mu     sync.Mutex
	calls  int
	result *venue.ExecutionResult
	err    error
}

func (s *stubExecutor) Submit(ctx context.Context, intent domain.OrderIntent) (*venue.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubPositions struct {
	positions []domain.Position
	err       error
}

func (s *stubPositions) GetPositions(ctx context.Context, accountID string, subAccount int) ([]domain.Position, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.positions, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(ctx context.Context, ev notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureNotifier) ofType(t notify.EventType) []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type stubRouter struct {
	mu     sync.Mutex
	routed []string
}

func (s *stubRouter) Route(ctx context.Context, sourceAccountID string, sig *domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routed = append(s.routed, sourceAccountID)
	return nil
}

// failingJobRepo simulates a briefly unavailable durable store.
type failingJobRepo struct {
	memory.JobRepo
}

func (r *failingJobRepo) Create(ctx context.Context, job *domain.RetryJob) (string, error) {
	return "", errors.New("store unavailable")
}

type testRig struct {
	engine   *Engine
	store    *memory.MemoryStorage
	jobs     *memory.JobRepo
	trades   *memory.TradeRepo
	executor *stubExecutor
	pos      *stubPositions
	notifier *captureNotifier
	router   *stubRouter
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	store := memory.NewMemoryStorage()
	rig := &testRig{
		store:    store,
		jobs:     memory.NewJobRepo(store),
		trades:   memory.NewTradeRepo(store),
		executor: &stubExecutor{result: &venue.ExecutionResult{
			Signature: "sig-1",
			FillPrice: decimal.NewFromInt(100),
			Fee:       decimal.NewFromInt(1),
			Route:     "jito",
		}},
		pos:      &stubPositions{},
		notifier: &captureNotifier{},
		router:   &stubRouter{},
	}
	rig.engine = New(DefaultConfig(), Deps{
		Jobs:      rig.jobs,
		Trades:    rig.trades,
		Executor:  rig.executor,
		Positions: rig.pos,
		Router:    rig.router,
		Notifier:  rig.notifier,
	})
	return rig
}

func closeIntent() domain.OrderIntent {
	return domain.OrderIntent{
		AccountID: "acct-1",
		Market:    "SOL-PERP",
		Action:    domain.ActionClose,
		Size:      decimal.NewFromInt(2),
	}
}

func openLongIntent() domain.OrderIntent {
	return domain.OrderIntent{
		AccountID: "acct-1",
		Market:    "SOL-PERP",
		Action:    domain.ActionOpenLong,
		Size:      decimal.NewFromInt(2),
	}
}

func (r *testRig) job(id string) *domain.RetryJob {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	return r.engine.active[id]
}

// =============================================================================
// Enqueue
// =============================================================================

func TestEnqueue_AssignsDurableID(t *testing.T) {
	rig := newTestRig(t)

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{
		Intent:   closeIntent(),
		Priority: domain.PriorityCritical,
	})
	if id == "" {
		t.Fatal("expected a job id")
	}

	job := rig.job(id)
	if job == nil {
		t.Fatal("job not in active set")
	}
	if job.MaxAttempts != 10 {
		t.Errorf("critical max attempts = %d, want 10", job.MaxAttempts)
	}
	if !job.NextAttemptAt.After(job.CreatedAt) {
		t.Error("first attempt should be scheduled after creation")
	}

	pending, err := rig.jobs.ListPending(context.Background())
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Errorf("expected job persisted as pending, got %d jobs", len(pending))
	}
}

func TestEnqueue_StoreUnavailable_FallsBackToLocalID(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.jobs = &failingJobRepo{}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	if id == "" {
		t.Fatal("expected a locally generated id despite store failure")
	}
	if rig.job(id) == nil {
		t.Error("job should enter the active set even when the store is down")
	}
}

// =============================================================================
// Idempotency
// =============================================================================

func TestProcess_CloseAlreadyLanded(t *testing.T) {
	rig := newTestRig(t)
	// Venue reports no position: the close already happened.
	rig.pos.positions = nil

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 0 {
		t.Error("close must not be resubmitted when the position is already flat")
	}
	if rig.engine.ActiveCount() != 0 {
		t.Error("job should be removed from the active set")
	}
	if status, _ := rig.jobs.Status(id); status != domain.JobStatusSucceeded {
		t.Errorf("job status = %s, want succeeded", status)
	}
	if got := rig.notifier.ofType(notify.EventTradeSucceeded); len(got) != 1 {
		t.Errorf("expected exactly 1 success notification, got %d", len(got))
	}
}

func TestProcess_CloseNegligiblePositionTreatedAsFlat(t *testing.T) {
	rig := newTestRig(t)
	rig.pos.positions = []domain.Position{
		{Market: "SOL-PERP", Side: domain.SideLong, Size: decimal.NewFromFloat(0.0000001)},
	}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 0 {
		t.Error("dust-sized remainder should count as closed")
	}
}

func TestProcess_OpenAlreadyLanded(t *testing.T) {
	rig := newTestRig(t)
	rig.pos.positions = []domain.Position{
		{Market: "SOL-PERP", Side: domain.SideLong, Size: decimal.NewFromInt(2)},
	}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: openLongIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 0 {
		t.Error("open must not be resubmitted when the position already exists in the same direction")
	}
	if status, _ := rig.jobs.Status(id); status != domain.JobStatusSucceeded {
		t.Errorf("job status = %s, want succeeded", status)
	}
	if got := rig.notifier.ofType(notify.EventTradeSucceeded); len(got) != 1 {
		t.Errorf("expected exactly 1 success notification, got %d", len(got))
	}
}

func TestProcess_OpenOppositeDirectionProceeds(t *testing.T) {
	rig := newTestRig(t)
	rig.pos.positions = []domain.Position{
		{Market: "SOL-PERP", Side: domain.SideShort, Size: decimal.NewFromInt(2)},
	}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: openLongIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 1 {
		t.Error("an opposite-direction position must not suppress the open")
	}
}

func TestProcess_VerifierFailureProceeds(t *testing.T) {
	rig := newTestRig(t)
	rig.pos.err = errors.New("rpc unavailable")

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 1 {
		t.Error("a verifier failure must not block the attempt")
	}
}

// =============================================================================
// Success path
// =============================================================================

func TestProcess_Success_EndToEnd(t *testing.T) {
	rig := newTestRig(t)
	// Opposite-side position still open: the close is genuinely needed.
	rig.pos.positions = []domain.Position{
		{Market: "SOL-PERP", Side: domain.SideShort, Size: decimal.NewFromInt(2)},
	}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{
		Intent:   closeIntent(),
		Priority: domain.PriorityNormal,
	})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.executor.callCount() != 1 {
		t.Fatalf("executor calls = %d, want 1", rig.executor.callCount())
	}
	if rig.engine.ActiveCount() != 0 {
		t.Error("job should be removed from the active set")
	}

	succ := rig.notifier.ofType(notify.EventTradeSucceeded)
	if len(succ) != 1 {
		t.Fatalf("expected exactly 1 success notification, got %d", len(succ))
	}
	if succ[0].TradeID == "" {
		t.Fatal("success notification should carry the trade id")
	}

	trade, err := rig.trades.Get(context.Background(), succ[0].TradeID)
	if err != nil {
		t.Fatalf("trade record not created: %v", err)
	}
	if trade.Status != domain.TradeStatusExecuted {
		t.Errorf("trade status = %s, want executed", trade.Status)
	}
	if !trade.FillPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %s, want 100", trade.FillPrice)
	}
	if !trade.Fee.Equal(decimal.NewFromInt(1)) {
		t.Errorf("fee = %s, want 1", trade.Fee)
	}
	if trade.Side != domain.SideShort {
		t.Errorf("trade side = %s, want short (captured from the observed position)", trade.Side)
	}
}

func TestProcess_SuccessWithLineage_MarksRecovered(t *testing.T) {
	rig := newTestRig(t)
	tradeID, err := rig.trades.Create(context.Background(), &domain.TradeRecord{
		AccountID: "acct-1",
		Market:    "SOL-PERP",
		Action:    domain.ActionClose,
		Status:    domain.TradeStatusFailed,
	})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{
		Intent:  closeIntent(),
		TradeID: tradeID,
	})
	rig.engine.processJob(context.Background(), rig.job(id))

	trade, err := rig.trades.Get(context.Background(), tradeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if trade.Status != domain.TradeStatusRecovered {
		t.Errorf("trade status = %s, want recovered", trade.Status)
	}
	if trade.Signature != "sig-1" {
		t.Errorf("signature = %q, want sig-1", trade.Signature)
	}
}

func TestProcess_Success_RoutesSignal(t *testing.T) {
	rig := newTestRig(t)

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{
		Intent: closeIntent(),
		Signal: &domain.Signal{SourceAccountID: "creator-9", Market: "SOL-PERP", Action: domain.ActionClose},
	})
	rig.engine.processJob(context.Background(), rig.job(id))

	rig.router.mu.Lock()
	defer rig.router.mu.Unlock()
	if len(rig.router.routed) != 1 || rig.router.routed[0] != "creator-9" {
		t.Errorf("signal not re-routed, got %v", rig.router.routed)
	}
}

// =============================================================================
// Failure paths
// =============================================================================

func TestProcess_RetryableFailure_Reschedules(t *testing.T) {
	rig := newTestRig(t)
	rig.executor.err = errors.New("429 too many requests")

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	job := rig.job(id)
	before := rig.engine.now()
	rig.engine.processJob(context.Background(), job)

	if rig.engine.ActiveCount() != 1 {
		t.Fatal("job should stay active after a retryable failure")
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if !job.NextAttemptAt.After(before) {
		t.Error("next attempt should be scheduled in the future")
	}
	if got := rig.notifier.ofType(notify.EventRetryScheduled); len(got) != 1 {
		t.Errorf("expected exactly 1 retry-scheduled notification, got %d", len(got))
	}

	// Persisted view matches.
	pending, _ := rig.jobs.ListPending(context.Background())
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Error("attempt count should be persisted")
	}
}

func TestProcess_AttemptsPersistedBeforeSubmit(t *testing.T) {
	rig := newTestRig(t)

	var order []string
	var mu sync.Mutex
	rig.engine.jobs = &orderRecordingRepo{inner: rig.jobs, order: &order, mu: &mu}
	rig.engine.exec = &orderRecordingExecutor{inner: rig.executor, order: &order, mu: &mu}

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	rig.engine.processJob(context.Background(), rig.job(id))

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 || order[0] != "update" || order[1] != "submit" {
		t.Errorf("attempt count must be persisted before the network call, got %v", order)
	}
}

func TestProcess_NonRetryableFailure_Terminal(t *testing.T) {
	rig := newTestRig(t)
	rig.executor.err = errors.New("insufficient collateral")

	tradeID, _ := rig.trades.Create(context.Background(), &domain.TradeRecord{
		AccountID: "acct-1",
		Market:    "SOL-PERP",
		Status:    domain.TradeStatusFailed,
	})
	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent(), TradeID: tradeID})
	rig.engine.processJob(context.Background(), rig.job(id))

	if rig.engine.ActiveCount() != 0 {
		t.Error("job should be removed after terminal failure")
	}
	if status, _ := rig.jobs.Status(id); status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", status)
	}

	failed := rig.notifier.ofType(notify.EventTradeFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly 1 failure notification, got %d", len(failed))
	}
	if failed[0].Attempts != 1 {
		t.Errorf("failure notification attempts = %d, want 1", failed[0].Attempts)
	}
	if failed[0].Category != "MARGIN" {
		t.Errorf("failure notification category = %s, want MARGIN", failed[0].Category)
	}

	trade, _ := rig.trades.Get(context.Background(), tradeID)
	if trade.Status != domain.TradeStatusFailed {
		t.Errorf("trade status = %s, want failed", trade.Status)
	}
}

func TestProcess_TimeoutCooldown_ResetsAttemptCycle(t *testing.T) {
	rig := newTestRig(t)
	rig.executor.err = errors.New("transaction timed out")

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	job := rig.job(id)
	job.MaxAttempts = 1 // exhaust the cycle on the first failure

	before := rig.engine.now()
	rig.engine.processJob(context.Background(), job)

	if rig.engine.ActiveCount() != 1 {
		t.Fatal("job should stay active through a cooldown")
	}
	if job.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 after cooldown reset", job.Attempts)
	}
	if job.CooldownRetries != 1 {
		t.Errorf("cooldown retries = %d, want 1", job.CooldownRetries)
	}
	wantAt := before.Add(rig.engine.cfg.Cooldown)
	if job.NextAttemptAt.Before(wantAt) {
		t.Errorf("next attempt %v should be at least a full cooldown away (%v)", job.NextAttemptAt, wantAt)
	}
	if got := rig.notifier.ofType(notify.EventCooldown); len(got) != 1 {
		t.Errorf("expected exactly 1 cooldown notification, got %d", len(got))
	}
}

func TestProcess_ThirdTimeout_Terminal(t *testing.T) {
	rig := newTestRig(t)
	rig.executor.err = errors.New("transaction timed out")

	id := rig.engine.Enqueue(context.Background(), EnqueueRequest{Intent: closeIntent()})
	job := rig.job(id)
	job.MaxAttempts = 1

	// Two cooldowns are allowed.
	for i := 1; i <= 2; i++ {
		rig.engine.processJob(context.Background(), job)
		if job.CooldownRetries != i {
			t.Fatalf("cooldown retries = %d, want %d", job.CooldownRetries, i)
		}
	}

	// Third qualifying timeout terminates.
	rig.engine.processJob(context.Background(), job)
	if rig.engine.ActiveCount() != 0 {
		t.Error("third qualifying timeout should terminate the job")
	}
	if status, _ := rig.jobs.Status(id); status != domain.JobStatusFailed {
		t.Errorf("job status = %s, want failed", status)
	}
	failed := rig.notifier.ofType(notify.EventTradeFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly 1 failure notification, got %d", len(failed))
	}
	if failed[0].Cooldowns != 2 {
		t.Errorf("failure notification cooldowns = %d, want 2", failed[0].Cooldowns)
	}
}

// =============================================================================
// Worker loop ordering
// =============================================================================

func TestDueJobs_CriticalFirstThenEarliest(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now()
	rig.engine.now = func() time.Time { return now }

	mk := func(id string, p domain.Priority, due time.Duration) {
		rig.engine.active[id] = &domain.RetryJob{
			ID:            id,
			Intent:        closeIntent(),
			Priority:      p,
			NextAttemptAt: now.Add(due),
		}
	}
	mk("n-late", domain.PriorityNormal, -1*time.Second)
	mk("n-early", domain.PriorityNormal, -10*time.Second)
	mk("c-late", domain.PriorityCritical, -2*time.Second)
	mk("c-early", domain.PriorityCritical, -5*time.Second)
	mk("future", domain.PriorityNormal, 10*time.Second)

	due := rig.engine.dueJobs()
	if len(due) != 4 {
		t.Fatalf("due jobs = %d, want 4 (future job excluded)", len(due))
	}
	want := []string{"c-early", "c-late", "n-early", "n-late"}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("due[%d] = %s, want %s", i, due[i].ID, id)
		}
	}
}

// =============================================================================
// Ordering helpers
// =============================================================================

type orderRecordingRepo struct {
	inner *memory.JobRepo
	order *[]string
	mu    *sync.Mutex
}

func (r *orderRecordingRepo) Create(ctx context.Context, job *domain.RetryJob) (string, error) {
	return r.inner.Create(ctx, job)
}

func (r *orderRecordingRepo) Update(ctx context.Context, job *domain.RetryJob) error {
	r.mu.Lock()
	*r.order = append(*r.order, "update")
	r.mu.Unlock()
	return r.inner.Update(ctx, job)
}

func (r *orderRecordingRepo) MarkTerminal(ctx context.Context, id string, status domain.JobStatus, lastError string) error {
	return r.inner.MarkTerminal(ctx, id, status, lastError)
}

func (r *orderRecordingRepo) ListPending(ctx context.Context) ([]*domain.RetryJob, error) {
	return r.inner.ListPending(ctx)
}

type orderRecordingExecutor struct {
	inner *stubExecutor
	order *[]string
	mu    *sync.Mutex
}

func (e *orderRecordingExecutor) Submit(ctx context.Context, intent domain.OrderIntent) (*venue.ExecutionResult, error) {
	e.mu.Lock()
	*e.order = append(*e.order, "submit")
	e.mu.Unlock()
	return e.inner.Submit(ctx, intent)
}
