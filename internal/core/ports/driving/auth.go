package driving

import (
	"context"

	"github.com/custodia-labs/callbridge/internal/core/domain"
)

// AuthService validates session tokens issued by the hosted auth service.
type AuthService interface {
	// ValidateToken parses a bearer token and returns the caller's context.
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}
