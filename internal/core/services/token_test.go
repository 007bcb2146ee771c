package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven/mocks"
)

type tokenFixture struct {
	manager   *TokenManager
	store     *mocks.MockTokenStore
	exchanger *mocks.MockTokenExchanger
	lock      *mocks.MockDistributedLock
	clock     *clockwork.FakeClock
}

func newTokenFixture(withLock bool) *tokenFixture {
	f := &tokenFixture{
		store:     mocks.NewMockTokenStore(),
		exchanger: &mocks.MockTokenExchanger{},
		clock:     clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)),
	}
	cfg := TokenManagerConfig{Store: f.store, Exchanger: f.exchanger, Clock: f.clock}
	if withLock {
		f.lock = mocks.NewMockDistributedLock()
		cfg.Lock = f.lock
	}
	f.manager = NewTokenManager(cfg)
	return f
}

func (f *tokenFixture) seed(userID string, remaining time.Duration) {
	f.store.Put(&domain.TokenRecord{
		ID:           "rec-" + userID,
		UserID:       userID,
		Provider:     domain.ProviderGoTo,
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		TokenType:    "Bearer",
		ExpiresAt:    f.clock.Now().Add(remaining),
		Principal:    "principal-" + userID,
	})
}

func TestTokenManager_NotConnected(t *testing.T) {
	f := newTokenFixture(false)

	_, err := f.manager.GetValidAccessToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, 0, f.exchanger.RefreshCalls())
}

func TestTokenManager_RefreshThreshold(t *testing.T) {
	tests := []struct {
		name        string
		remaining   time.Duration
		wantRefresh bool
	}{
		{"4m59s remaining refreshes", 4*time.Minute + 59*time.Second, true},
		{"5m01s remaining uses cached token", 5*time.Minute + time.Second, false},
		{"1h remaining uses cached token", time.Hour, false},
		{"already expired refreshes", -time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTokenFixture(false)
			f.seed("user-1", tt.remaining)

			token, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.Equal(t, 1, f.exchanger.RefreshCalls())
				assert.Equal(t, "refreshed-old-rt", token)
			} else {
				assert.Equal(t, 0, f.exchanger.RefreshCalls())
				assert.Equal(t, "old-at", token)
			}
		})
	}
}

func TestTokenManager_RefreshRetainsRefreshToken(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-old-rt", rec.AccessToken)
	assert.Equal(t, "old-rt", rec.RefreshToken)
	assert.Equal(t, f.clock.Now().Add(time.Hour), rec.ExpiresAt)
	assert.Equal(t, "principal-user-1", rec.Principal)
	assert.Equal(t, "rec-user-1", rec.ID)
}

func TestTokenManager_RefreshRotatesRefreshToken(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		rt := "new-rt"
		return &domain.ProviderTokenResponse{AccessToken: "new-at", RefreshToken: &rt, ExpiresIn: 3600}, nil
	}

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)

	rec, _ := f.store.Get(context.Background(), "user-1")
	assert.Equal(t, "new-rt", rec.RefreshToken)
}

func TestTokenManager_RefreshFailurePropagates(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		return nil, &domain.TokenExchangeError{Status: 400, Body: `{"error":"invalid_grant"}`}
	}

	token, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.Empty(t, token, "a stale token must never be returned")

	var exErr *domain.TokenExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, 400, exErr.Status)
	assert.True(t, domain.IsReconnectRequired(err))

	rec, _ := f.store.Get(context.Background(), "user-1")
	assert.Equal(t, "old-at", rec.AccessToken, "record must be left untouched")
	assert.Equal(t, 0, f.store.Upserts())
}

func TestTokenManager_ProviderUnavailableIsTransient(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		return nil, domain.ErrProviderUnavailable
	}

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.False(t, domain.IsReconnectRequired(err))
	assert.Equal(t, 1, f.store.Count(), "a timeout must not disconnect the user")
}

func TestTokenManager_ZeroLifetimeRejected(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		return &domain.ProviderTokenResponse{AccessToken: "at"}, nil
	}

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 0, f.store.Upserts())
}

func TestTokenManager_ZeroLifetimeKeepsRotatedRefreshToken(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		rt := "rotated-rt"
		return &domain.ProviderTokenResponse{AccessToken: "at", RefreshToken: &rt}, nil
	}

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	rec, err := f.store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "rotated-rt", rec.RefreshToken)
	assert.True(t, rec.Expired(f.clock.Now()), "the unusable access token must not be served")

	// The next call refreshes with the rotated token.
	var used string
	f.exchanger.RefreshFn = func(rt string) (*domain.ProviderTokenResponse, error) {
		used = rt
		return &domain.ProviderTokenResponse{AccessToken: "fresh-at", ExpiresIn: 3600}, nil
	}
	token, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", token)
	assert.Equal(t, "rotated-rt", used)
}

// deadlineExchanger records the deadline of the context each refresh runs under.
type deadlineExchanger struct {
	mocks.MockTokenExchanger
	mu        sync.Mutex
	deadlines []time.Time
}

func (e *deadlineExchanger) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error) {
	deadline, ok := ctx.Deadline()
	if ok {
		e.mu.Lock()
		e.deadlines = append(e.deadlines, deadline)
		e.mu.Unlock()
	}
	return e.MockTokenExchanger.Refresh(ctx, refreshToken)
}

func TestTokenManager_DetachedRefreshIsBounded(t *testing.T) {
	store := mocks.NewMockTokenStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	exchanger := &deadlineExchanger{}
	manager := NewTokenManager(TokenManagerConfig{
		Store:     store,
		Exchanger: exchanger,
		Clock:     clock,
		LockTTL:   10 * time.Second,
	})
	store.Put(&domain.TokenRecord{
		UserID:       "user-1",
		AccessToken:  "old-at",
		RefreshToken: "old-rt",
		ExpiresAt:    clock.Now(),
	})

	before := time.Now()
	_, err := manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)

	require.Len(t, exchanger.deadlines, 1, "refresh must run under a deadline")
	assert.WithinDuration(t, before.Add(10*time.Second), exchanger.deadlines[0], 5*time.Second)
}

func TestTokenManager_MissingRefreshToken(t *testing.T) {
	f := newTokenFixture(false)
	f.store.Put(&domain.TokenRecord{UserID: "user-1", AccessToken: "at", ExpiresAt: f.clock.Now()})

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Equal(t, 0, f.exchanger.RefreshCalls())
}

func TestTokenManager_PersistFailure(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", time.Minute)
	f.store.UpsertFn = func(*domain.TokenRecord) error { return errors.New("disk full") }

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestTokenManager_StoreReadFailure(t *testing.T) {
	f := newTokenFixture(false)
	f.store.GetFn = func(string) (*domain.TokenRecord, error) { return nil, errors.New("connection reset") }

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.False(t, errors.Is(err, domain.ErrNotConnected))
}

func TestTokenManager_ConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", -time.Minute)

	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return &domain.ProviderTokenResponse{AccessToken: "fresh-at", ExpiresIn: 3600}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.GetValidAccessToken(context.Background(), "user-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-at", tokens[i])
	}
	assert.Equal(t, 1, f.exchanger.RefreshCalls())
	assert.Equal(t, 1, f.store.Count())
}

func TestTokenManager_UsersRefreshIndependently(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", -time.Minute)
	f.seed("user-2", -time.Minute)

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = f.manager.GetValidAccessToken(context.Background(), "user-2")
	require.NoError(t, err)

	assert.Equal(t, 2, f.exchanger.RefreshCalls())
	assert.Equal(t, 2, f.store.Count())
}

func TestTokenManager_DistributedLockAcquiredAndReleased(t *testing.T) {
	f := newTokenFixture(true)
	f.seed("user-1", time.Minute)

	_, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.lock.AcquireCount("token-refresh:user-1"))
	assert.False(t, f.lock.IsHeld("token-refresh:user-1"))
}

func TestTokenManager_DistributedLockErrorFallsBackToLocal(t *testing.T) {
	f := newTokenFixture(true)
	f.seed("user-1", time.Minute)
	f.lock.AcquireFn = func(string, time.Duration) (bool, error) { return false, errors.New("redis down") }

	token, err := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-old-rt", token)
}

func TestTokenManager_PeerRefreshTimesOut(t *testing.T) {
	store := mocks.NewMockTokenStore()
	exchanger := &mocks.MockTokenExchanger{}
	lock := mocks.NewMockDistributedLock()
	lock.SetLockHeld("token-refresh:user-1", time.Minute)

	store.Put(&domain.TokenRecord{UserID: "user-1", AccessToken: "old-at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Minute)})

	m := NewTokenManager(TokenManagerConfig{
		Store:     store,
		Exchanger: exchanger,
		Lock:      lock,
		LockWait:  50 * time.Millisecond,
		LockPoll:  10 * time.Millisecond,
	})

	_, err := m.GetValidAccessToken(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrRefreshInProgress)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 0, exchanger.RefreshCalls())
}

func TestTokenManager_PeerRefreshCompletes(t *testing.T) {
	store := mocks.NewMockTokenStore()
	exchanger := &mocks.MockTokenExchanger{}
	lock := mocks.NewMockDistributedLock()
	lock.SetLockHeld("token-refresh:user-1", time.Minute)

	store.Put(&domain.TokenRecord{UserID: "user-1", AccessToken: "old-at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Minute)})

	m := NewTokenManager(TokenManagerConfig{
		Store:     store,
		Exchanger: exchanger,
		Lock:      lock,
		LockWait:  2 * time.Second,
		LockPoll:  10 * time.Millisecond,
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		store.Put(&domain.TokenRecord{UserID: "user-1", AccessToken: "peer-at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)})
	}()

	token, err := m.GetValidAccessToken(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "peer-at", token)
	assert.Equal(t, 0, exchanger.RefreshCalls())
}

func TestTokenManager_GetPrincipal(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", -time.Hour)

	principal, err := f.manager.GetPrincipal(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "principal-user-1", principal)
	assert.Equal(t, 0, f.exchanger.RefreshCalls(), "GetPrincipal must not refresh")

	_, err = f.manager.GetPrincipal(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	f.store.Put(&domain.TokenRecord{UserID: "user-2", AccessToken: "at", ExpiresAt: f.clock.Now().Add(time.Hour)})
	_, err = f.manager.GetPrincipal(context.Background(), "user-2")
	assert.ErrorIs(t, err, domain.ErrNoPrincipal)
}

func TestTokenManager_CallerCancellation(t *testing.T) {
	f := newTokenFixture(false)
	f.seed("user-1", -time.Minute)

	release := make(chan struct{})
	f.exchanger.RefreshFn = func(string) (*domain.ProviderTokenResponse, error) {
		<-release
		return &domain.ProviderTokenResponse{AccessToken: "fresh-at", ExpiresIn: 3600}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool { return f.store.Upserts() == 1 }, time.Second, 5*time.Millisecond,
		"the detached refresh should still persist")
}
