package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// OAuthState represents a pending authorization-code flow.
// The callback carries no session, so UserID is how it resolves identity.
type OAuthState struct {
	// State is a cryptographically random string used for CSRF protection.
	State string

	// UserID is the user who initiated the connect action.
	UserID string

	// Provider is the OAuth provider the flow targets.
	Provider domain.ProviderType

	// CreatedAt is when the state was created.
	CreatedAt time.Time

	// ExpiresAt is when the state expires (10 minutes after creation).
	ExpiresAt time.Time
}

// OAuthStateStore manages OAuth flow state for CSRF protection.
// States are single-use and expire after a short period.
type OAuthStateStore interface {
	// Save stores a new OAuth state.
	Save(ctx context.Context, state *OAuthState) error

	// Consume atomically retrieves and deletes the state.
	// Expired states are still returned (and deleted) so the caller can tell
	// an expired key from an unknown one.
	// Returns nil, nil if the state doesn't exist.
	Consume(ctx context.Context, state string) (*OAuthState, error)

	// DeleteByUser removes every outstanding state for a user.
	DeleteByUser(ctx context.Context, userID string) error

	// Cleanup removes expired states and returns how many were removed.
	Cleanup(ctx context.Context) (int64, error)

	// DeleteAll removes every state. Used by the administrative reset.
	DeleteAll(ctx context.Context) (int64, error)
}
