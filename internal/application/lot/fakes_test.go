package lot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/distflow/backend/internal/domain/lot"
	"github.com/distflow/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory lot.Repository for service tests. Ledger
// operations delegate to the domain methods so invariants behave like the
// real implementation.
type fakeRepo struct {
	mu   sync.Mutex
	lots map[uuid.UUID]lot.LotBatch

	// reserveErrs forces Reserve to fail for specific lots, for saga tests
	reserveErrs map[uuid.UUID]error
	// releaseCalls records compensating releases
	releaseCalls []uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		lots:        make(map[uuid.UUID]lot.LotBatch),
		reserveErrs: make(map[uuid.UUID]error),
	}
}

func (r *fakeRepo) put(l lot.LotBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lots[l.ID] = l
}

func (r *fakeRepo) get(id uuid.UUID) (lot.LotBatch, error) {
	l, ok := r.lots[id]
	if !ok {
		return lot.LotBatch{}, fmt.Errorf("lot %s: %w", id, shared.ErrNotFound)
	}
	return l, nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *fakeRepo) FindByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID && l.LotNumber == lotNumber {
			snapshot := l
			return &snapshot, nil
		}
	}
	return nil, fmt.Errorf("lot %s: %w", lotNumber, shared.ErrNotFound)
}

func (r *fakeRepo) FindByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID && l.LotNumber == lotNumber &&
			l.BatchNumber != nil && *l.BatchNumber == batchNumber {
			snapshot := l
			return &snapshot, nil
		}
	}
	return nil, fmt.Errorf("lot %s/%s: %w", lotNumber, batchNumber, shared.ErrNotFound)
}

func (r *fakeRepo) ExistsByLotNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID && l.LotNumber == lotNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ExistsByLotAndBatchNumber(ctx context.Context, agencyID, productID uuid.UUID, lotNumber, batchNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID && l.LotNumber == lotNumber &&
			l.BatchNumber != nil && *l.BatchNumber == batchNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) FindFIFOCandidates(ctx context.Context, q lot.FIFOQuery) ([]lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = lot.AllocatableStatuses()
	}
	eligible := make(map[lot.Status]struct{}, len(statuses))
	for _, s := range statuses {
		eligible[s] = struct{}{}
	}

	out := make([]lot.LotBatch, 0)
	for _, l := range r.lots {
		if l.AgencyID != q.AgencyID || l.ProductID != q.ProductID {
			continue
		}
		if _, ok := eligible[l.Status]; !ok {
			continue
		}
		if q.MaxExpiryDate != nil && l.ExpiryDate != nil && l.ExpiryDate.After(*q.MaxExpiryDate) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ManufacturingDate.Equal(out[j].ManufacturingDate) {
			return out[i].ManufacturingDate.Before(out[j].ManufacturingDate)
		}
		return out[i].LotNumber < out[j].LotNumber
	})
	return out, nil
}

func (r *fakeRepo) FindAllForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) ([]lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]lot.LotBatch, 0)
	for _, l := range r.lots {
		if l.AgencyID == agencyID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotNumber < out[j].LotNumber })
	return out, nil
}

func (r *fakeRepo) CountForAgency(ctx context.Context, agencyID uuid.UUID, filter shared.Filter) (int64, error) {
	items, _ := r.FindAllForAgency(ctx, agencyID, filter)
	return int64(len(items)), nil
}

func (r *fakeRepo) Create(ctx context.Context, l *lot.LotBatch) error {
	r.put(*l)
	return nil
}

func (r *fakeRepo) Save(ctx context.Context, l *lot.LotBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.get(l.ID)
	if err != nil {
		return err
	}
	if current.Version != l.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.lots[l.ID] = *l
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.get(id)
	if err != nil {
		return err
	}
	if !l.CanBeDeleted() {
		return shared.ErrInvalidState
	}
	delete(r.lots, id)
	return nil
}

func (r *fakeRepo) Reserve(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.reserveErrs[lotID]; ok {
		return nil, err
	}
	current, err := r.get(lotID)
	if err != nil {
		return nil, err
	}
	next, err := current.Reserve(amount, actor, time.Now())
	if err != nil {
		return nil, err
	}
	r.lots[lotID] = next
	return &next, nil
}

func (r *fakeRepo) ReleaseReserved(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseCalls = append(r.releaseCalls, lotID)
	current, err := r.get(lotID)
	if err != nil {
		return nil, err
	}
	next, err := current.ReleaseReserved(amount, actor, time.Now())
	if err != nil {
		return nil, err
	}
	r.lots[lotID] = next
	return &next, nil
}

func (r *fakeRepo) Consume(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.get(lotID)
	if err != nil {
		return nil, err
	}
	next, err := current.Consume(amount, actor, time.Now())
	if err != nil {
		return nil, err
	}
	r.lots[lotID] = next
	return &next, nil
}

func (r *fakeRepo) AdjustQuantity(ctx context.Context, lotID uuid.UUID, delta decimal.Decimal, actor uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.get(lotID)
	if err != nil {
		return nil, err
	}
	next, err := current.AdjustQuantity(delta, "repo", actor, time.Now())
	if err != nil {
		return nil, err
	}
	r.lots[lotID] = next
	return &next, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, lotID uuid.UUID, from, to lot.Status, actor uuid.UUID) (*lot.LotBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.get(lotID)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, shared.ErrConcurrencyConflict
	}
	next, err := current.TransitionTo(to, actor, time.Now())
	if err != nil {
		return nil, err
	}
	r.lots[lotID] = next
	return &next, nil
}

func (r *fakeRepo) ExpireOverdue(ctx context.Context, agencyID *uuid.UUID, actor uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, l := range r.lots {
		if agencyID != nil && l.AgencyID != *agencyID {
			continue
		}
		if l.Status != lot.StatusActive && l.Status != lot.StatusQuarantine {
			continue
		}
		if !l.IsExpired(now) {
			continue
		}
		next, err := l.TransitionTo(lot.StatusExpired, actor, now)
		if err != nil {
			return count, err
		}
		r.lots[id] = next
		count++
	}
	return count, nil
}

func (r *fakeRepo) AvailableQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID && l.Status == lot.StatusActive {
			total = total.Add(l.AvailableQuantity())
		}
	}
	return total, nil
}

func (r *fakeRepo) ReservedQuantityForProduct(ctx context.Context, agencyID, productID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, l := range r.lots {
		if l.AgencyID == agencyID && l.ProductID == productID {
			total = total.Add(l.ReservedQuantity)
		}
	}
	return total, nil
}

func (r *fakeRepo) Statistics(ctx context.Context, agencyID uuid.UUID) (*lot.Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &lot.Statistics{CountsByStatus: make(map[lot.Status]int64)}
	for _, l := range r.lots {
		if l.AgencyID != agencyID {
			continue
		}
		stats.TotalLots++
		stats.CountsByStatus[l.Status]++
	}
	return stats, nil
}

// fakeProducts gates product activity checks
type fakeProducts struct {
	active bool
	err    error
}

func (f *fakeProducts) IsActive(ctx context.Context, productID uuid.UUID) (bool, error) {
	return f.active, f.err
}

// fakeAgencies gates agency operational checks
type fakeAgencies struct {
	operational bool
	err         error
}

func (f *fakeAgencies) IsOperational(ctx context.Context, agencyID uuid.UUID) (bool, error) {
	return f.operational, f.err
}

// capturingPublisher records published events
type capturingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
	err    error
}

func (p *capturingPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}

// fakeIdempotencyStore is an in-memory shared.IdempotencyStore
type fakeIdempotencyStore struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{keys: make(map[string]struct{})}
}

func (s *fakeIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = struct{}{}
	return true, nil
}

func (s *fakeIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *fakeIdempotencyStore) Unmark(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *fakeIdempotencyStore) Close() error { return nil }
