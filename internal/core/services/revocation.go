package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// RevocationManagerConfig holds configuration for the revocation manager.
type RevocationManagerConfig struct {
	Tokens  driven.TokenStore
	States  driven.OAuthStateStore
	Revoker driven.TokenRevoker
	Logger  *slog.Logger
}

// RevocationManager revokes tokens at the provider and always removes local state.
type RevocationManager struct {
	tokens  driven.TokenStore
	states  driven.OAuthStateStore
	revoker driven.TokenRevoker
	logger  *slog.Logger
}

// NewRevocationManager creates a new revocation manager.
func NewRevocationManager(cfg RevocationManagerConfig) *RevocationManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RevocationManager{
		tokens:  cfg.Tokens,
		states:  cfg.States,
		revoker: cfg.Revoker,
		logger:  logger,
	}
}

// Disconnect removes the user's connection. Remote revocation is best-effort;
// the token record and any pending states are deleted regardless.
// A user with no record gets TokenRevoked=false and no provider call.
func (m *RevocationManager) Disconnect(ctx context.Context, userID string) (*domain.DisconnectResult, error) {
	if userID == "" {
		return nil, domain.ErrInvalidInput
	}

	result := &domain.DisconnectResult{}

	// An unreadable record (rotated key, corrupt blob) skips revocation but is
	// still deleted below.
	rec, err := m.tokens.Get(ctx, userID)
	unreadable := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec = nil
	case err != nil:
		m.logger.Warn("token record unreadable, deleting without revocation",
			"user_id", userID,
			"error", err,
		)
		rec = nil
		unreadable = true
	}

	if rec != nil && rec.AccessToken != "" && m.revoker != nil {
		if err := m.revoker.Revoke(ctx, rec.AccessToken); err != nil {
			m.logger.Warn("provider token revocation failed",
				"user_id", userID,
				"error", err,
			)
		} else {
			result.TokenRevoked = true
		}
	}

	if rec != nil || unreadable {
		if err := m.tokens.Delete(ctx, userID); err != nil {
			return nil, domain.StorageError("delete token", err)
		}
	}
	if err := m.states.DeleteByUser(ctx, userID); err != nil {
		return nil, domain.StorageError("delete oauth states", err)
	}

	m.logger.Info("provider disconnected",
		"user_id", userID,
		"had_token", rec != nil,
		"token_revoked", result.TokenRevoked,
	)
	return result, nil
}
