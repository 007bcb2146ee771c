package domain

import "time"

// RefreshWindow is how close to expiry a token may get before it is refreshed
const RefreshWindow = 5 * time.Minute

// TokenRecord is the persisted OAuth grant for one (user, provider) pair
type TokenRecord struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Provider         ProviderType `json:"provider"`
	AccessToken      string       `json:"-"` // Never serialize
	RefreshToken     string       `json:"-"` // Never serialize
	TokenType        string       `json:"token_type"`
	ExpiresInSeconds int64        `json:"expires_in"`
	ExpiresAt        time.Time    `json:"expires_at"`
	Scope            string       `json:"scope,omitempty"`
	Principal        string       `json:"principal,omitempty"`
	LOA              string       `json:"loa,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// ProviderTokenResponse is the normalized body of a token endpoint response.
// RefreshToken is nil when the provider omitted it.
type ProviderTokenResponse struct {
	AccessToken  string
	RefreshToken *string
	TokenType    string
	ExpiresIn    int64
	Scope        string
	Principal    string
	LOA          string
}

// HasRefreshToken reports whether the provider issued a non-empty refresh token
func (r *ProviderTokenResponse) HasRefreshToken() bool {
	return r.RefreshToken != nil && *r.RefreshToken != ""
}

// NewTokenRecord builds a record from a code-exchange response
func NewTokenRecord(id, userID string, provider ProviderType, resp *ProviderTokenResponse, now time.Time) *TokenRecord {
	rec := &TokenRecord{
		ID:        id,
		UserID:    userID,
		Provider:  provider,
		CreatedAt: now,
	}
	rec.Apply(resp, now)
	return rec
}

// Apply merges a token response into the record. The previous refresh token,
// principal and loa are kept when the response does not carry new ones.
func (t *TokenRecord) Apply(resp *ProviderTokenResponse, now time.Time) {
	t.AccessToken = resp.AccessToken
	if resp.HasRefreshToken() {
		t.RefreshToken = *resp.RefreshToken
	}
	t.TokenType = resp.TokenType
	if t.TokenType == "" {
		t.TokenType = DefaultTokenType
	}
	t.ExpiresInSeconds = resp.ExpiresIn
	t.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.Scope != "" {
		t.Scope = resp.Scope
	}
	if resp.Principal != "" {
		t.Principal = resp.Principal
	}
	if resp.LOA != "" {
		t.LOA = resp.LOA
	}
	t.UpdatedAt = now
}

// Expired reports whether the access token is past its expiry at now
func (t *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresSoon reports whether fewer than window remain before expiry
func (t *TokenRecord) ExpiresSoon(now time.Time, window time.Duration) bool {
	return t.ExpiresAt.Sub(now) < window
}

// ConnectionStatus is the user-facing view of a provider connection
type ConnectionStatus struct {
	Connected  bool         `json:"connected"`
	Configured bool         `json:"configured"`
	Provider   ProviderType `json:"provider"`
	CheckedAt  time.Time    `json:"last_check"`
	Token      *TokenInfo   `json:"token_info,omitempty"`
}

// TokenInfo is a safe summary of a stored token
type TokenInfo struct {
	Principal string    `json:"principal,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	IsExpired bool      `json:"is_expired"`
	Scope     string    `json:"scope,omitempty"`
}

// ToInfo converts a TokenRecord to TokenInfo
func (t *TokenRecord) ToInfo(now time.Time) *TokenInfo {
	return &TokenInfo{
		Principal: t.Principal,
		ExpiresAt: t.ExpiresAt,
		IsExpired: t.Expired(now),
		Scope:     t.Scope,
	}
}

// DisconnectResult reports whether the provider confirmed revocation.
// Local records are removed either way.
type DisconnectResult struct {
	TokenRevoked bool `json:"tokenRevoked"`
}
