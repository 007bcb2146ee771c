package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

var _ driven.OAuthStateStore = (*MockOAuthStateStore)(nil)

// MockOAuthStateStore keeps states in memory. Consume is atomic under the mutex.
type MockOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]driven.OAuthState

	// Now is used by Cleanup; defaults to time.Now.
	Now    func() time.Time
	SaveFn func(state *driven.OAuthState) error
}

// NewMockOAuthStateStore creates an empty store.
func NewMockOAuthStateStore() *MockOAuthStateStore {
	return &MockOAuthStateStore{
		states: make(map[string]driven.OAuthState),
		Now:    time.Now,
	}
}

func (m *MockOAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	if m.SaveFn != nil {
		return m.SaveFn(state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.State] = *state
	return nil
}

func (m *MockOAuthStateStore) Consume(ctx context.Context, state string) (*driven.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[state]
	if !ok {
		return nil, nil
	}
	delete(m.states, state)
	return &s, nil
}

func (m *MockOAuthStateStore) DeleteByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.states {
		if s.UserID == userID {
			delete(m.states, k)
		}
	}
	return nil
}

func (m *MockOAuthStateStore) Cleanup(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := m.Now()
	for k, s := range m.states {
		if now.After(s.ExpiresAt) {
			delete(m.states, k)
			n++
		}
	}
	return n, nil
}

func (m *MockOAuthStateStore) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.states))
	m.states = make(map[string]driven.OAuthState)
	return n, nil
}

// Has reports whether a state key is stored.
func (m *MockOAuthStateStore) Has(state string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[state]
	return ok
}

// CountForUser returns the number of states stored for a user.
func (m *MockOAuthStateStore) CountForUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.states {
		if s.UserID == userID {
			n++
		}
	}
	return n
}
