package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// ConnectionService drives the provider authorization-code flow and the
// lifecycle of a user's connection.
type ConnectionService interface {
	// InitiateConnect issues a state and returns the provider authorize URL.
	// Returns domain.ErrNotConfigured when client credentials are missing.
	InitiateConnect(ctx context.Context, userID string) (*ConnectResponse, error)

	// HandleCallback completes the flow from the provider redirect.
	// Expected failures are reported in the result, never as an error.
	HandleCallback(ctx context.Context, req CallbackRequest) *domain.CallbackResult

	// GetConnectionStatus reports whether the user holds an unexpired token.
	GetConnectionStatus(ctx context.Context, userID string) (*domain.ConnectionStatus, error)

	// HasValidToken reports whether a valid access token can be served,
	// refreshing if needed. Reconnect-required failures report false.
	HasValidToken(ctx context.Context, userID string) (bool, error)

	// Disconnect revokes (best-effort) and deletes the user's token and states.
	Disconnect(ctx context.Context, userID string) (*domain.DisconnectResult, error)

	// ResetAll deletes every token and state record.
	ResetAll(ctx context.Context) (*ResetResponse, error)
}

// ConnectResponse contains the authorization URL and state.
// @Description Response containing the provider authorization URL
type ConnectResponse struct {
	// AuthURL is the URL to redirect the user to for authorization.
	AuthURL string `json:"authUrl" example:"https://authentication.logmeininc.com/oauth/authorize?client_id=..."`

	// State is the CSRF token that will be returned in the callback.
	State string `json:"state" example:"9f86d081884c7d65"`

	// ExpiresAt is when the authorization state expires.
	ExpiresAt time.Time `json:"expires_at"`
}

// CallbackRequest represents the provider redirect parameters.
// @Description OAuth callback parameters from provider redirect
type CallbackRequest struct {
	Code             string `json:"code" example:"abc123"`
	State            string `json:"state" example:"9f86d081884c7d65"`
	Error            string `json:"error,omitempty" example:"access_denied"`
	ErrorDescription string `json:"error_description,omitempty" example:"The user denied access"`
}

// ResetResponse reports how many records an administrative reset removed.
// @Description Result of deleting all provider connections
type ResetResponse struct {
	TokensDeleted int64 `json:"tokens_deleted"`
	StatesDeleted int64 `json:"states_deleted"`
}
