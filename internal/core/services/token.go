package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// TokenManagerConfig holds configuration for the token lifecycle manager.
type TokenManagerConfig struct {
	Store     driven.TokenStore
	Exchanger driven.TokenExchanger
	Lock      driven.DistributedLock // Optional: serializes refreshes across instances
	Clock     clockwork.Clock
	Logger    *slog.Logger

	RefreshWindow time.Duration // default: 5m
	LockTTL       time.Duration // default: 30s
	LockWait      time.Duration // How long to wait on a refresh held by another instance (default: 5s)
	LockPoll      time.Duration // default: 200ms
}

// TokenManager serves valid provider access tokens, refreshing them on demand.
//
// Refreshes for one user are collapsed in-process with a singleflight group
// and, when a DistributedLock is configured, across instances. The record is
// re-read inside the critical section so a caller that queued behind a
// finished refresh returns the new token without a second provider call.
type TokenManager struct {
	store     driven.TokenStore
	exchanger driven.TokenExchanger
	lock      driven.DistributedLock
	clock     clockwork.Clock
	logger    *slog.Logger

	window   time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
	lockPoll time.Duration

	group singleflight.Group
}

// NewTokenManager creates a new token lifecycle manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	m := &TokenManager{
		store:     cfg.Store,
		exchanger: cfg.Exchanger,
		lock:      cfg.Lock,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		window:    cfg.RefreshWindow,
		lockTTL:   cfg.LockTTL,
		lockWait:  cfg.LockWait,
		lockPoll:  cfg.LockPoll,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.window == 0 {
		m.window = domain.RefreshWindow
	}
	if m.lockTTL == 0 {
		m.lockTTL = 30 * time.Second
	}
	if m.lockWait == 0 {
		m.lockWait = 5 * time.Second
	}
	if m.lockPoll == 0 {
		m.lockPoll = 200 * time.Millisecond
	}
	return m
}

// GetValidAccessToken returns an access token for userID that is not within
// the refresh window, refreshing it first if needed.
//
// Errors: domain.ErrNotConnected when no record exists, *domain.TokenExchangeError
// when the provider rejects the refresh token, domain.ErrProviderUnavailable
// on network failure, domain.ErrStorage on persistence failure.
func (m *TokenManager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	rec, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !rec.ExpiresSoon(m.clock.Now(), m.window) {
		return rec.AccessToken, nil
	}

	// Callers share one refresh; the flight is detached from any single
	// caller's cancellation and bounded by the lock TTL.
	ch := m.group.DoChan(userID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lockTTL)
		defer cancel()
		return m.refresh(flightCtx, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetPrincipal returns the stored provider principal without any network activity.
func (m *TokenManager) GetPrincipal(ctx context.Context, userID string) (string, error) {
	rec, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec.Principal == "" {
		return "", domain.ErrNoPrincipal
	}
	return rec.Principal, nil
}

func (m *TokenManager) refresh(ctx context.Context, userID string) (string, error) {
	if m.lock != nil {
		name := refreshLockName(userID)
		acquired, err := m.lock.Acquire(ctx, name, m.lockTTL)
		switch {
		case err != nil:
			// In-process single-flight still applies.
			m.logger.Warn("failed to acquire refresh lock", "user_id", userID, "error", err)
		case !acquired:
			return m.awaitPeerRefresh(ctx, userID)
		default:
			defer func() {
				if err := m.lock.Release(ctx, name); err != nil {
					m.logger.Warn("failed to release refresh lock", "user_id", userID, "error", err)
				}
			}()
		}
	}

	rec, err := m.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !rec.ExpiresSoon(m.clock.Now(), m.window) {
		return rec.AccessToken, nil
	}
	if rec.RefreshToken == "" {
		return "", fmt.Errorf("stored token has no refresh token: %w", domain.ErrNotConnected)
	}

	m.logger.Info("refreshing provider token",
		"user_id", userID,
		"expires_at", rec.ExpiresAt,
	)

	resp, err := m.exchanger.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.logger.Warn("provider token refresh failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("refresh token: %w", err)
	}

	now := m.clock.Now()
	rec.Apply(resp, now)
	if rec.Expired(now) {
		// Keep a rotated refresh token; the old one may already be invalid.
		// The record stays expired, so the next call refreshes again.
		if resp.HasRefreshToken() {
			if err := m.store.Upsert(ctx, rec); err != nil {
				return "", domain.StorageError("persist rotated refresh token", err)
			}
		}
		return "", fmt.Errorf("refreshed token has no lifetime: %w", domain.ErrProviderUnavailable)
	}

	if err := m.store.Upsert(ctx, rec); err != nil {
		return "", domain.StorageError("persist refreshed token", err)
	}

	m.logger.Info("provider token refreshed",
		"user_id", userID,
		"expires_at", rec.ExpiresAt,
		"refresh_token_rotated", resp.HasRefreshToken(),
	)
	return rec.AccessToken, nil
}

// awaitPeerRefresh polls the store while another instance holds the refresh lock.
func (m *TokenManager) awaitPeerRefresh(ctx context.Context, userID string) (string, error) {
	deadline := m.clock.Now().Add(m.lockWait)
	for {
		rec, err := m.load(ctx, userID)
		if err != nil {
			return "", err
		}
		if !rec.ExpiresSoon(m.clock.Now(), m.window) {
			return rec.AccessToken, nil
		}
		if !m.clock.Now().Before(deadline) {
			return "", domain.ErrRefreshInProgress
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.clock.After(m.lockPoll):
		}
	}
}

func (m *TokenManager) load(ctx context.Context, userID string) (*domain.TokenRecord, error) {
	if userID == "" {
		return nil, domain.ErrInvalidInput
	}
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotConnected
		}
		if errors.Is(err, domain.ErrStorage) {
			return nil, err
		}
		return nil, domain.StorageError("get token", err)
	}
	return rec, nil
}

func refreshLockName(userID string) string {
	return "token-refresh:" + userID
}
