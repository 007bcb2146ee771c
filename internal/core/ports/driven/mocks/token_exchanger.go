package mocks

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

var (
	_ driven.TokenExchanger = (*MockTokenExchanger)(nil)
	_ driven.TokenRevoker   = (*MockTokenRevoker)(nil)
)

// MockTokenExchanger counts provider calls and delegates to optional hooks.
type MockTokenExchanger struct {
	ExchangeFn func(code, redirectURI string) (*domain.ProviderTokenResponse, error)
	RefreshFn  func(refreshToken string) (*domain.ProviderTokenResponse, error)

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
}

// AuthCodeURL returns a fake authorize URL carrying the state.
func (m *MockTokenExchanger) AuthCodeURL(state string) string {
	return "https://auth.example.test/oauth/authorize?state=" + url.QueryEscape(state)
}

func (m *MockTokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderTokenResponse, error) {
	m.exchangeCalls.Add(1)
	if m.ExchangeFn != nil {
		return m.ExchangeFn(code, redirectURI)
	}
	rt := "rt-" + code
	return &domain.ProviderTokenResponse{AccessToken: "at-" + code, RefreshToken: &rt, ExpiresIn: 3600}, nil
}

func (m *MockTokenExchanger) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error) {
	m.refreshCalls.Add(1)
	if m.RefreshFn != nil {
		return m.RefreshFn(refreshToken)
	}
	return &domain.ProviderTokenResponse{AccessToken: "refreshed-" + refreshToken, ExpiresIn: 3600}, nil
}

// ExchangeCalls returns the number of code exchanges performed.
func (m *MockTokenExchanger) ExchangeCalls() int { return int(m.exchangeCalls.Load()) }

// RefreshCalls returns the number of refreshes performed.
func (m *MockTokenExchanger) RefreshCalls() int { return int(m.refreshCalls.Load()) }

// MockTokenRevoker records revoked tokens.
type MockTokenRevoker struct {
	mu      sync.Mutex
	revoked []string

	RevokeFn func(token string) error
}

func (m *MockTokenRevoker) Revoke(ctx context.Context, token string) error {
	m.mu.Lock()
	m.revoked = append(m.revoked, token)
	m.mu.Unlock()
	if m.RevokeFn != nil {
		return m.RevokeFn(token)
	}
	return nil
}

// Calls returns how many revoke requests were made.
func (m *MockTokenRevoker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revoked)
}
