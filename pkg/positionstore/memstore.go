package positionstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ledgerbase/posloader/pkg/errs"
	"github.com/ledgerbase/posloader/pkg/types"
)

// MemStore is an in-memory Store used by component tests that don't need a
// real Postgres instance: a map-backed store structurally, using
// mutex-guarded maps in place of database tables.
type MemStore struct {
	mu sync.RWMutex

	clients  map[string]*types.Client
	accounts map[string]*types.Account
	products map[string]*types.Product

	batches      map[string][]*types.Batch // keyed by accountID
	nextBatchID  int64
	positions    map[int64][]types.Position // keyed by batchID
	eodStatus    map[string]*types.EodStatus // keyed by accountID|businessDate
	snapHashes   map[string]*types.SnapshotHash
	holidays     map[string]bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		clients:    make(map[string]*types.Client),
		accounts:   make(map[string]*types.Account),
		products:   make(map[string]*types.Product),
		batches:    make(map[string][]*types.Batch),
		positions:  make(map[int64][]types.Position),
		eodStatus:  make(map[string]*types.EodStatus),
		snapHashes: make(map[string]*types.SnapshotHash),
		holidays:   make(map[string]bool),
	}
}

func (s *MemStore) Close() error { return nil }

func dateKey(accountID string, d time.Time) string {
	return accountID + "|" + d.Format("2006-01-02")
}

func (s *MemStore) UpsertClient(_ context.Context, c *types.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[c.ID] = &cp
	return nil
}

func (s *MemStore) UpsertAccount(_ context.Context, a *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemStore) UpsertProduct(_ context.Context, p *types.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemStore) GetAccount(_ context.Context, accountID string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("account not found"))
	}
	return a, nil
}

func (s *MemStore) ListAccountsByClient(_ context.Context, clientID string) ([]*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Account
	for _, a := range s.accounts {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) ListAllAccounts(_ context.Context) ([]*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) CreateBatch(_ context.Context, accountID string, businessDate time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBatchID++
	b := &types.Batch{
		AccountID:    accountID,
		BatchID:      s.nextBatchID,
		BusinessDate: businessDate,
		Status:       types.BatchStaging,
		CreatedAt:    time.Now(),
	}
	s.batches[accountID] = append(s.batches[accountID], b)
	return b.BatchID, nil
}

func (s *MemStore) InsertPositions(_ context.Context, batchID int64, positions []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[batchID] = append(s.positions[batchID], positions...)
	return nil
}

func (s *MemStore) ActivateBatch(_ context.Context, accountID string, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *types.Batch
	for _, b := range s.batches[accountID] {
		if b.Status == types.BatchActive {
			b.Status = types.BatchArchived
			b.ArchivedAt = time.Now()
		}
		if b.BatchID == batchID {
			target = b
		}
	}
	if target == nil {
		return errs.New(errs.KindNotFound, accountID, fmt.Errorf("batch %d not found", batchID))
	}
	if target.Status != types.BatchStaging {
		return errs.New(errs.KindConcurrencyConflict, accountID, fmt.Errorf("batch %d not in STAGING", batchID))
	}
	target.Status = types.BatchActive
	target.ActivatedAt = time.Now()
	return nil
}

func (s *MemStore) RollbackBatch(_ context.Context, accountID string, businessDate time.Time) (*types.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches := s.batches[accountID]
	var current, prior *types.Batch
	for _, b := range batches {
		if b.BusinessDate.Equal(businessDate) && b.Status == types.BatchActive {
			current = b
		}
	}
	if current == nil {
		return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no active batch for %s", accountID))
	}
	for _, b := range batches {
		if b.BusinessDate.Equal(businessDate) && b.Status == types.BatchArchived {
			if prior == nil || b.ArchivedAt.After(prior.ArchivedAt) {
				prior = b
			}
		}
	}
	if prior == nil {
		return nil, errs.New(errs.KindInvalidArgument, accountID, fmt.Errorf("no prior batch to roll back to"))
	}
	current.Status = types.BatchRolledBack
	prior.Status = types.BatchActive
	return prior, nil
}

func (s *MemStore) GetActiveBatch(_ context.Context, accountID string) (*types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches[accountID] {
		if b.Status == types.BatchActive {
			return b, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no active batch"))
}

func (s *MemStore) GetBatch(_ context.Context, accountID string, batchID int64) (*types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches[accountID] {
		if b.BatchID == batchID {
			return b, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("batch %d not found", batchID))
}

func (s *MemStore) ListBatches(_ context.Context, accountID string, businessDate time.Time) ([]*types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Batch
	for _, b := range s.batches[accountID] {
		if b.BusinessDate.Equal(businessDate) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) ArchiveBatches(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.batches {
		for _, b := range list {
			if b.Status == types.BatchActive && b.BusinessDate.Before(olderThan) {
				b.Status = types.BatchArchived
				b.ArchivedAt = time.Now()
				n++
			}
		}
	}
	return n, nil
}

func (s *MemStore) PurgeArchivedBatches(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for acct, list := range s.batches {
		var kept []*types.Batch
		for _, b := range list {
			if b.Status == types.BatchArchived && b.ArchivedAt.Before(olderThan) {
				n++
				continue
			}
			kept = append(kept, b)
		}
		s.batches[acct] = kept
	}
	return n, nil
}

func (s *MemStore) GetActivePositions(_ context.Context, accountID string) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches[accountID] {
		if b.Status == types.BatchActive {
			return s.positions[b.BatchID], nil
		}
	}
	return nil, nil
}

func (s *MemStore) GetPositionsAsOf(_ context.Context, accountID string, businessDate time.Time) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Position
	for _, b := range s.batches[accountID] {
		if b.BusinessDate.Equal(businessDate) {
			out = append(out, s.positions[b.BatchID]...)
		}
	}
	return out, nil
}

func (s *MemStore) GetQuantityAsOf(_ context.Context, accountID, productID string, businessDate, systemTime time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches[accountID] {
		if !b.BusinessDate.Equal(businessDate) {
			continue
		}
		for _, p := range s.positions[b.BatchID] {
			if p.ProductID != productID {
				continue
			}
			if !systemTime.Before(p.SystemFrom) && systemTime.Before(p.SystemTo) {
				return p.Quantity, nil
			}
		}
	}
	return 0, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no position for %s/%s as of %s", accountID, productID, systemTime))
}

func (s *MemStore) AdjustPosition(_ context.Context, accountID string, p types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.BatchID] = append(s.positions[p.BatchID], p)
	return nil
}

func (s *MemStore) GetEodStatus(_ context.Context, accountID string, businessDate time.Time) (*types.EodStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.eodStatus[dateKey(accountID, businessDate)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no eod status"))
	}
	return st, nil
}

func (s *MemStore) UpsertEodStatus(_ context.Context, st *types.EodStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.eodStatus[dateKey(st.AccountID, st.BusinessDate)] = &cp
	return nil
}

func (s *MemStore) ListEodStatusesForDate(_ context.Context, businessDate time.Time) ([]*types.EodStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.EodStatus
	for _, st := range s.eodStatus {
		if st.BusinessDate.Equal(businessDate) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (s *MemStore) GetSnapshotHash(_ context.Context, accountID string, businessDate time.Time) (*types.SnapshotHash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.snapHashes[dateKey(accountID, businessDate)]
	if !ok {
		return nil, errs.New(errs.KindNotFound, accountID, fmt.Errorf("no snapshot hash"))
	}
	return h, nil
}

func (s *MemStore) SaveSnapshotHash(_ context.Context, h *types.SnapshotHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	s.snapHashes[dateKey(h.AccountID, h.BusinessDate)] = &cp
	return nil
}

func (s *MemStore) IsBusinessDay(_ context.Context, date time.Time) (bool, error) {
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.holidays[date.Format("2006-01-02")], nil
}

func (s *MemStore) ListHolidays(_ context.Context, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []time.Time
	for k := range s.holidays {
		d, err := time.Parse("2006-01-02", k)
		if err != nil {
			continue
		}
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// AddHoliday is a test helper for seeding the calendar.
func (s *MemStore) AddHoliday(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays[date.Format("2006-01-02")] = true
}

var _ Store = (*MemStore)(nil)
