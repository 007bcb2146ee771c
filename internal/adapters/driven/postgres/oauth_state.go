package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Ensure OAuthStateStore implements the interface.
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

// OAuthStateStore implements driven.OAuthStateStore using PostgreSQL.
type OAuthStateStore struct {
	db *sql.DB
}

// NewOAuthStateStore creates a new PostgreSQL-backed OAuth state store.
func NewOAuthStateStore(db *sql.DB) *OAuthStateStore {
	return &OAuthStateStore{db: db}
}

// Save stores a new OAuth state.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	query := `
		INSERT INTO oauth_states (state, user_id, provider, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		state.State,
		state.UserID,
		state.Provider,
		state.CreatedAt,
		state.ExpiresAt,
	)
	if err != nil {
		return domain.StorageError("save oauth state", err)
	}
	return nil
}

// Consume atomically retrieves and deletes the state with DELETE ... RETURNING.
// Expired rows are returned too; the caller decides.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (*driven.OAuthState, error) {
	query := `
		DELETE FROM oauth_states
		WHERE state = $1
		RETURNING state, user_id, provider, created_at, expires_at
	`

	var st driven.OAuthState
	err := s.db.QueryRowContext(ctx, query, state).Scan(
		&st.State,
		&st.UserID,
		&st.Provider,
		&st.CreatedAt,
		&st.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("consume oauth state", err)
	}
	return &st, nil
}

// DeleteByUser removes every pending state for a user.
func (s *OAuthStateStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE user_id = $1`, userID); err != nil {
		return domain.StorageError("delete oauth states", err)
	}
	return nil
}

// Cleanup removes expired states.
func (s *OAuthStateStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < NOW()`)
	if err != nil {
		return 0, domain.StorageError("cleanup oauth states", err)
	}
	return result.RowsAffected()
}

// DeleteAll removes every state.
func (s *OAuthStateStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states`)
	if err != nil {
		return 0, domain.StorageError("delete oauth states", err)
	}
	return result.RowsAffected()
}
