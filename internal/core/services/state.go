package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// DefaultStateTTL is how long an issued state stays valid.
const DefaultStateTTL = 10 * time.Minute

// StateManagerConfig holds configuration for the state manager.
type StateManagerConfig struct {
	Store    driven.OAuthStateStore
	Provider domain.ProviderType
	Clock    clockwork.Clock
	Logger   *slog.Logger
	TTL      time.Duration // default: 10m
}

// StateManager issues and single-use-consumes anti-forgery state tokens.
type StateManager struct {
	store    driven.OAuthStateStore
	provider domain.ProviderType
	clock    clockwork.Clock
	logger   *slog.Logger
	ttl      time.Duration
}

// NewStateManager creates a new state manager.
func NewStateManager(cfg StateManagerConfig) *StateManager {
	m := &StateManager{
		store:    cfg.Store,
		provider: cfg.Provider,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		ttl:      cfg.TTL,
	}
	if m.provider == "" {
		m.provider = domain.ProviderGoTo
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.ttl == 0 {
		m.ttl = DefaultStateTTL
	}
	return m
}

// TTL returns the lifetime given to issued states.
func (m *StateManager) TTL() time.Duration {
	return m.ttl
}

// IssueState persists a new state for userID and returns its key.
// The caller must not redirect the user if this fails.
func (m *StateManager) IssueState(ctx context.Context, userID string) (*driven.OAuthState, error) {
	if userID == "" {
		return nil, domain.ErrInvalidInput
	}

	key, err := generateRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	now := m.clock.Now()
	state := &driven.OAuthState{
		State:     key,
		UserID:    userID,
		Provider:  m.provider,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Save(ctx, state); err != nil {
		return nil, domain.StorageError("save oauth state", err)
	}
	return state, nil
}

// ConsumeState deletes the state and returns the user that issued it.
// An expired state is deleted too, then reported as domain.ErrStateExpired.
func (m *StateManager) ConsumeState(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", domain.ErrInvalidState
	}

	state, err := m.store.Consume(ctx, key)
	if err != nil {
		return "", domain.StorageError("consume oauth state", err)
	}
	if state == nil {
		return "", domain.ErrStateNotFound
	}

	if m.clock.Now().After(state.ExpiresAt) {
		m.logger.Info("oauth state expired",
			"user_id", state.UserID,
			"expired_at", state.ExpiresAt,
		)
		return "", domain.ErrStateExpired
	}
	return state.UserID, nil
}

// generateRandomString returns n random bytes, hex encoded.
func generateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
