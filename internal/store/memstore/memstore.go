// Package memstore is an in-memory store.Store used by tests, so the core
// can be exercised without a bbolt file.
package memstore

import (
	"context"
	"sync"

	"nwcprovider/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu          sync.Mutex
	clientKeys  map[string]*store.ClientKey
	budgets     map[int64]*store.Budget
	spends      []*store.SpendRecord
	config      map[string]string
	nextBudget  int64
	nextSpendID int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		clientKeys: make(map[string]*store.ClientKey),
		budgets:    make(map[int64]*store.Budget),
		config:     make(map[string]string),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) GetClientKey(_ context.Context, pubKey string) (*store.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck, ok := s.clientKeys[pubKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *ck
	return &copied, nil
}

func (s *Store) PutClientKey(_ context.Context, key *store.ClientKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *key
	s.clientKeys[key.PubKey] = &copied
	return nil
}

func (s *Store) DeleteClientKey(_ context.Context, pubKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clientKeys, pubKey)
	for id, b := range s.budgets {
		if b.PubKey == pubKey {
			delete(s.budgets, id)
		}
	}
	kept := s.spends[:0]
	for _, r := range s.spends {
		if r.PubKey != pubKey {
			kept = append(kept, r)
		}
	}
	s.spends = kept
	return nil
}

func (s *Store) ListClientKeys(_ context.Context) ([]*store.ClientKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.ClientKey, 0, len(s.clientKeys))
	for _, ck := range s.clientKeys {
		copied := *ck
		out = append(out, &copied)
	}
	return out, nil
}

func (s *Store) TouchClientKey(_ context.Context, pubKey string, lastUsed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck, ok := s.clientKeys[pubKey]
	if !ok {
		return store.ErrNotFound
	}
	ck.LastUsed = lastUsed
	return nil
}

func (s *Store) ListBudgets(_ context.Context, pubKey string) ([]*store.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Budget
	for _, b := range s.budgets {
		if b.PubKey == pubKey {
			copied := *b
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) PutBudget(_ context.Context, b *store.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == 0 {
		s.nextBudget++
		b.ID = s.nextBudget
	}
	copied := *b
	s.budgets[b.ID] = &copied
	return nil
}

func (s *Store) DeleteBudget(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.budgets, id)
	return nil
}

func (s *Store) AddSpendRecord(_ context.Context, r *store.SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSpendID++
	copied := *r
	copied.ID = s.nextSpendID
	s.spends = append(s.spends, &copied)
	return nil
}

func (s *Store) SumSpend(_ context.Context, pubKey string, since, until int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, r := range s.spends {
		if r.PubKey == pubKey && r.CreatedAt >= since && r.CreatedAt < until {
			total += r.AmountMsats
		}
	}
	return total, nil
}

func (s *Store) GetConfig(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[key]
	return v, ok, nil
}

func (s *Store) PutConfig(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}
