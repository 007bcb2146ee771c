package driven

import (
	"context"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// TokenExchanger talks to the provider's authorize and token endpoints.
// Failures are *domain.TokenExchangeError for non-2xx responses and
// domain.ErrProviderUnavailable for network errors and timeouts.
type TokenExchanger interface {
	// AuthCodeURL builds the provider authorize URL for the given state.
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*domain.ProviderTokenResponse, error)

	// Refresh trades a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (*domain.ProviderTokenResponse, error)
}

// TokenRevoker invalidates a token at the provider.
type TokenRevoker interface {
	Revoke(ctx context.Context, token string) error
}
