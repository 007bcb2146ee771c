package driven

import (
	"context"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// TokenStore persists provider token records, one per user.
type TokenStore interface {
	// Get returns the record for a user, or domain.ErrNotFound.
	Get(ctx context.Context, userID string) (*domain.TokenRecord, error)

	// Upsert inserts or replaces the record keyed by (user_id, provider).
	Upsert(ctx context.Context, record *domain.TokenRecord) error

	// Delete removes the user's record. Deleting a missing record is not an error.
	Delete(ctx context.Context, userID string) error

	// DeleteAll removes every record and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)
}
