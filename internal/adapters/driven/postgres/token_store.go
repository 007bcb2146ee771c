package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Ensure TokenStore implements the interface.
var _ driven.TokenStore = (*TokenStore)(nil)

// TokenStore implements driven.TokenStore using PostgreSQL.
// Access and refresh tokens live only in the encrypted secret_blob.
type TokenStore struct {
	db        *sql.DB
	encryptor *SecretEncryptor
	provider  domain.ProviderType
}

// NewTokenStore creates a new PostgreSQL-backed token store for one provider.
func NewTokenStore(db *sql.DB, encryptor *SecretEncryptor, provider domain.ProviderType) *TokenStore {
	return &TokenStore{
		db:        db,
		encryptor: encryptor,
		provider:  provider,
	}
}

func owner(userID string, provider domain.ProviderType) string {
	return userID + "|" + string(provider)
}

// Get retrieves the user's token record with decrypted secrets.
func (s *TokenStore) Get(ctx context.Context, userID string) (*domain.TokenRecord, error) {
	query := `
		SELECT id, user_id, provider, secret_blob, token_type, expires_in, expires_at,
		       scopes, principal, loa, created_at, updated_at
		FROM provider_tokens
		WHERE user_id = $1 AND provider = $2
	`

	var rec domain.TokenRecord
	var blob []byte
	var scopes []string
	var principal, loa sql.NullString

	err := s.db.QueryRowContext(ctx, query, userID, s.provider).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Provider,
		&blob,
		&rec.TokenType,
		&rec.ExpiresInSeconds,
		&rec.ExpiresAt,
		pq.Array(&scopes),
		&principal,
		&loa,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.StorageError("get provider token", err)
	}

	secrets, err := s.encryptor.Open(blob, owner(rec.UserID, rec.Provider))
	if err != nil {
		return nil, domain.StorageError("decrypt provider token", err)
	}

	rec.AccessToken = secrets.AccessToken
	rec.RefreshToken = secrets.RefreshToken
	rec.Scope = strings.Join(scopes, " ")
	rec.Principal = principal.String
	rec.LOA = loa.String
	return &rec, nil
}

// Upsert inserts the record or replaces the existing one for (user_id, provider).
// The stored id and created_at of an existing row are kept and copied back.
func (s *TokenStore) Upsert(ctx context.Context, rec *domain.TokenRecord) error {
	if rec.Provider == "" {
		rec.Provider = s.provider
	}

	blob, err := s.encryptor.Seal(tokenSecrets{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}, owner(rec.UserID, rec.Provider))
	if err != nil {
		return domain.StorageError("encrypt provider token", err)
	}

	query := `
		INSERT INTO provider_tokens (
			id, user_id, provider, secret_blob, token_type, expires_in, expires_at,
			scopes, principal, loa, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			secret_blob = EXCLUDED.secret_blob,
			token_type = EXCLUDED.token_type,
			expires_in = EXCLUDED.expires_in,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			principal = EXCLUDED.principal,
			loa = EXCLUDED.loa,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Provider,
		blob,
		rec.TokenType,
		rec.ExpiresInSeconds,
		rec.ExpiresAt,
		pq.Array(strings.Fields(rec.Scope)),
		nullString(rec.Principal),
		nullString(rec.LOA),
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return domain.StorageError("upsert provider token", err)
	}
	return nil
}

// Delete removes the user's record. Missing records are not an error.
func (s *TokenStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_tokens WHERE user_id = $1 AND provider = $2`,
		userID, s.provider,
	)
	if err != nil {
		return domain.StorageError("delete provider token", err)
	}
	return nil
}

// DeleteAll removes every record for the provider.
func (s *TokenStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM provider_tokens WHERE provider = $1`, s.provider)
	if err != nil {
		return 0, domain.StorageError("delete provider tokens", err)
	}
	return result.RowsAffected()
}
