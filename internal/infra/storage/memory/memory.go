// Package memory provides in-memory repositories for no-database mode and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/infra/storage"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	jobs        map[string]*domain.RetryJob
	jobStatus   map[string]domain.JobStatus
	trades      map[string]*domain.TradeRecord
	obligations []*domain.ProfitShareObligation
	accounts    map[string]*domain.Account
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:      make(map[string]*domain.RetryJob),
		jobStatus: make(map[string]domain.JobStatus),
		trades:    make(map[string]*domain.TradeRecord),
		accounts:  make(map[string]*domain.Account),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Create(ctx context.Context, job *domain.RetryJob) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	cp := *job
	r.store.jobs[job.ID] = &cp
	r.store.jobStatus[job.ID] = domain.JobStatusPending
	return job.ID, nil
}

func (r *JobRepo) Update(ctx context.Context, job *domain.RetryJob) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.jobs[job.ID]; !ok {
		return storage.ErrJobNotFound
	}
	cp := *job
	r.store.jobs[job.ID] = &cp
	return nil
}

func (r *JobRepo) MarkTerminal(ctx context.Context, id string, status domain.JobStatus, lastError string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	job, ok := r.store.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	job.LastError = lastError
	r.store.jobStatus[id] = status
	return nil
}

func (r *JobRepo) ListPending(ctx context.Context) ([]*domain.RetryJob, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var jobs []*domain.RetryJob
	for id, job := range r.store.jobs {
		if r.store.jobStatus[id] == domain.JobStatusPending {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

// Status reports the stored status of a job. Test helper.
func (r *JobRepo) Status(id string) (domain.JobStatus, bool) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.jobStatus[id]
	return s, ok
}

// -----------------------------------------------------------------------------
// Trade Repository
// -----------------------------------------------------------------------------

type TradeRepo struct {
	store *MemoryStorage
}

func NewTradeRepo(store *MemoryStorage) *TradeRepo {
	return &TradeRepo{store: store}
}

func (r *TradeRepo) Create(ctx context.Context, trade *domain.TradeRecord) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if trade.ID == "" {
		trade.ID = uuid.New().String()
	}
	trade.CreatedAt = time.Now()
	trade.UpdatedAt = trade.CreatedAt
	cp := *trade
	r.store.trades[trade.ID] = &cp
	return trade.ID, nil
}

func (r *TradeRepo) Get(ctx context.Context, id string) (*domain.TradeRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	trade, ok := r.store.trades[id]
	if !ok {
		return nil, storage.ErrTradeNotFound
	}
	cp := *trade
	return &cp, nil
}

func (r *TradeRepo) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, note string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	trade, ok := r.store.trades[id]
	if !ok {
		return storage.ErrTradeNotFound
	}
	trade.Status = status
	trade.Note = note
	trade.UpdatedAt = time.Now()
	return nil
}

func (r *TradeRepo) RecordFill(ctx context.Context, id string, fillPrice, fee decimal.Decimal, signature string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	trade, ok := r.store.trades[id]
	if !ok {
		return storage.ErrTradeNotFound
	}
	trade.FillPrice = fillPrice
	trade.Fee = fee
	trade.Signature = signature
	trade.UpdatedAt = time.Now()
	return nil
}

// -----------------------------------------------------------------------------
// Obligation Repository
// -----------------------------------------------------------------------------

type ObligationRepo struct {
	store *MemoryStorage
}

func NewObligationRepo(store *MemoryStorage) *ObligationRepo {
	return &ObligationRepo{store: store}
}

func (r *ObligationRepo) Create(ctx context.Context, ob *domain.ProfitShareObligation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if ob.ID == "" {
		ob.ID = uuid.New().String()
	}
	ob.CreatedAt = time.Now()
	cp := *ob
	r.store.obligations = append(r.store.obligations, &cp)
	return nil
}

func (r *ObligationRepo) ListOpen(ctx context.Context) ([]*domain.ProfitShareObligation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.ProfitShareObligation, 0, len(r.store.obligations))
	for _, ob := range r.store.obligations {
		cp := *ob
		out = append(out, &cp)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Account Repository
// -----------------------------------------------------------------------------

type AccountRepo struct {
	store *MemoryStorage
}

func NewAccountRepo(store *MemoryStorage) *AccountRepo {
	return &AccountRepo{store: store}
}

// Put seeds an account. Used by tests and no-database mode.
func (r *AccountRepo) Put(account *domain.Account) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *account
	r.store.accounts[account.ID] = &cp
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	account, ok := r.store.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}
