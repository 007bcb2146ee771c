package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

var _ driven.TokenStore = (*MockTokenStore)(nil)

// MockTokenStore keeps token records in memory, keyed by user.
type MockTokenStore struct {
	mu      sync.Mutex
	records map[string]domain.TokenRecord
	upserts int

	GetFn    func(userID string) (*domain.TokenRecord, error)
	UpsertFn func(record *domain.TokenRecord) error
	DeleteFn func(userID string) error
}

// NewMockTokenStore creates an empty store.
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{records: make(map[string]domain.TokenRecord)}
}

func (m *MockTokenStore) Get(ctx context.Context, userID string) (*domain.TokenRecord, error) {
	if m.GetFn != nil {
		return m.GetFn(userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (m *MockTokenStore) Upsert(ctx context.Context, record *domain.TokenRecord) error {
	if m.UpsertFn != nil {
		return m.UpsertFn(record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[record.UserID]; ok && record.ID == "" {
		record.ID = existing.ID
	}
	m.records[record.UserID] = *record
	m.upserts++
	return nil
}

func (m *MockTokenStore) Delete(ctx context.Context, userID string) error {
	if m.DeleteFn != nil {
		if err := m.DeleteFn(userID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
	return nil
}

func (m *MockTokenStore) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.records))
	m.records = make(map[string]domain.TokenRecord)
	return n, nil
}

// Put seeds a record without counting it as an upsert.
func (m *MockTokenStore) Put(record *domain.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.UserID] = *record
}

// Count returns the number of stored records.
func (m *MockTokenStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Upserts returns how many upserts have been applied.
func (m *MockTokenStore) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
