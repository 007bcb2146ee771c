package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
	"github.com/custodia-labs/callbridge/internal/core/ports/driving"
)

// Ensure connectionService implements ConnectionService
var _ driving.ConnectionService = (*connectionService)(nil)

// ConnectionServiceConfig holds configuration for the connection service.
type ConnectionServiceConfig struct {
	States     *StateManager
	Tokens     *TokenManager
	Revocation *RevocationManager

	// TokenStore and StateStore are used directly for status and reset.
	TokenStore driven.TokenStore
	StateStore driven.OAuthStateStore

	Exchanger driven.TokenExchanger

	// RedirectURI must match the one registered with the provider.
	RedirectURI string

	// Configured is false when client credentials are missing.
	Configured bool

	Provider domain.ProviderType
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// connectionService implements the ConnectionService interface.
type connectionService struct {
	states     *StateManager
	tokens     *TokenManager
	revocation *RevocationManager
	tokenStore driven.TokenStore
	stateStore driven.OAuthStateStore
	exchanger  driven.TokenExchanger

	redirectURI string
	configured  bool
	provider    domain.ProviderType
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(cfg ConnectionServiceConfig) driving.ConnectionService {
	s := &connectionService{
		states:      cfg.States,
		tokens:      cfg.Tokens,
		revocation:  cfg.Revocation,
		tokenStore:  cfg.TokenStore,
		stateStore:  cfg.StateStore,
		exchanger:   cfg.Exchanger,
		redirectURI: cfg.RedirectURI,
		configured:  cfg.Configured,
		provider:    cfg.Provider,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if s.provider == "" {
		s.provider = domain.ProviderGoTo
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// InitiateConnect moves the flow from Idle to AwaitingCallback.
func (s *connectionService) InitiateConnect(ctx context.Context, userID string) (*driving.ConnectResponse, error) {
	if !s.configured {
		return nil, domain.ErrNotConfigured
	}

	state, err := s.states.IssueState(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("provider authorization started",
		"user_id", userID,
		"provider", s.provider,
		"state_expires_at", state.ExpiresAt,
	)

	return &driving.ConnectResponse{
		AuthURL:   s.exchanger.AuthCodeURL(state.State),
		State:     state.State,
		ExpiresAt: state.ExpiresAt,
	}, nil
}

// HandleCallback runs AwaitingCallback -> Exchanging -> Connected, or back to
// Idle with a reason. The state is consumed on every path that carries one.
func (s *connectionService) HandleCallback(ctx context.Context, req driving.CallbackRequest) *domain.CallbackResult {
	if req.Error != "" {
		if req.State != "" {
			if _, err := s.states.ConsumeState(ctx, req.State); err != nil {
				s.logger.Debug("discarding state after provider error", "error", err)
			}
		}
		s.logger.Warn("provider denied authorization",
			"error", req.Error,
			"error_description", req.ErrorDescription,
		)
		return domain.Failed(domain.ReasonProviderDenied)
	}

	userID, err := s.states.ConsumeState(ctx, req.State)
	if err != nil {
		if errors.Is(err, domain.ErrStateExpired) {
			return domain.Failed(domain.ReasonStateExpired)
		}
		if errors.Is(err, domain.ErrStorage) {
			s.logger.Error("failed to consume oauth state", "error", err)
		} else {
			s.logger.Warn("callback with unknown oauth state")
		}
		return domain.Failed(domain.ReasonInvalidState)
	}

	if req.Code == "" {
		s.logger.Warn("callback without authorization code", "user_id", userID)
		return domain.Failed(domain.ReasonMissingCode)
	}

	resp, err := s.exchanger.ExchangeCode(ctx, req.Code, s.redirectURI)
	if err != nil {
		attrs := []any{"user_id", userID, "error", err}
		var exErr *domain.TokenExchangeError
		if errors.As(err, &exErr) {
			attrs = append(attrs, "status", exErr.Status, "body", exErr.RedactedBody())
		}
		s.logger.Warn("authorization code exchange failed", attrs...)
		return domain.Failed(domain.ReasonExchangeFailed)
	}

	rec := domain.NewTokenRecord(uuid.NewString(), userID, s.provider, resp, s.clock.Now())
	if err := s.tokenStore.Upsert(ctx, rec); err != nil {
		s.logger.Error("failed to persist provider token", "user_id", userID, "error", err)
		return domain.Failed(domain.ReasonStorageFailed)
	}

	s.logger.Info("provider connected",
		"user_id", userID,
		"principal", rec.Principal,
		"expires_at", rec.ExpiresAt,
		"has_refresh_token", rec.RefreshToken != "",
	)
	return domain.Connected(userID)
}

// GetConnectionStatus reports the stored connection without refreshing it.
func (s *connectionService) GetConnectionStatus(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
	now := s.clock.Now()
	status := &domain.ConnectionStatus{
		Configured: s.configured,
		Provider:   s.provider,
		CheckedAt:  now,
	}

	rec, err := s.tokenStore.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return status, nil
		}
		return nil, domain.StorageError("get token", err)
	}

	status.Token = rec.ToInfo(now)
	status.Connected = !status.Token.IsExpired
	return status, nil
}

// HasValidToken reports whether GetValidAccessToken would succeed.
func (s *connectionService) HasValidToken(ctx context.Context, userID string) (bool, error) {
	_, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err == nil {
		return true, nil
	}
	if domain.IsReconnectRequired(err) {
		return false, nil
	}
	return false, err
}

// Disconnect delegates to the revocation manager.
func (s *connectionService) Disconnect(ctx context.Context, userID string) (*domain.DisconnectResult, error) {
	return s.revocation.Disconnect(ctx, userID)
}

// ResetAll deletes every token and state record.
func (s *connectionService) ResetAll(ctx context.Context) (*driving.ResetResponse, error) {
	tokens, err := s.tokenStore.DeleteAll(ctx)
	if err != nil {
		return nil, domain.StorageError("delete all tokens", err)
	}
	states, err := s.stateStore.DeleteAll(ctx)
	if err != nil {
		return nil, domain.StorageError("delete all oauth states", err)
	}

	s.logger.Warn("all provider connections reset",
		"tokens_deleted", tokens,
		"states_deleted", states,
	)
	return &driving.ResetResponse{TokensDeleted: tokens, StatesDeleted: states}, nil
}
