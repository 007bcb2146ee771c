package driven

import "github.com/custodia-labs/callbridge/internal/core/domain"

// AuthAdapter signs and verifies session tokens.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
