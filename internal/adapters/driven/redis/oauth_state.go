package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/callbridge/internal/core/domain"
	"github.com/custodia-labs/callbridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.OAuthStateStore = (*OAuthStateStore)(nil)

const (
	statePrefix     = "callbridge:oauth_state:"
	stateUserPrefix = "callbridge:oauth_state_user:"

	// stateGrace keeps expired keys around long enough for a late callback
	// to be reported as expired rather than unknown.
	stateGrace = time.Hour

	scanBatch = 200
)

type storedState struct {
	State     string              `json:"state"`
	UserID    string              `json:"user_id"`
	Provider  domain.ProviderType `json:"provider"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// OAuthStateStore implements driven.OAuthStateStore using Redis.
// Each state is a JSON value keyed by the state string; a per-user set
// indexes outstanding states for disconnect.
type OAuthStateStore struct {
	client redis.UniversalClient
	clock  clockwork.Clock
}

// NewOAuthStateStore creates a new Redis-backed OAuth state store.
func NewOAuthStateStore(client redis.UniversalClient, clock clockwork.Clock) *OAuthStateStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OAuthStateStore{client: client, clock: clock}
}

// Save stores the state with a TTL of its remaining lifetime plus a grace period.
func (s *OAuthStateStore) Save(ctx context.Context, state *driven.OAuthState) error {
	data, err := json.Marshal(storedState{
		State:     state.State,
		UserID:    state.UserID,
		Provider:  state.Provider,
		CreatedAt: state.CreatedAt,
		ExpiresAt: state.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal oauth state: %w", err)
	}

	ttl := state.ExpiresAt.Sub(s.clock.Now()) + stateGrace
	if ttl < stateGrace {
		ttl = stateGrace
	}

	userKey := stateUserPrefix + state.UserID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, statePrefix+state.State, data, ttl)
	pipe.SAdd(ctx, userKey, state.State)
	pipe.Expire(ctx, userKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StorageError("save oauth state", err)
	}
	return nil
}

// Consume retrieves and deletes the state in one GETDEL.
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (*driven.OAuthState, error) {
	data, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StorageError("consume oauth state", err)
	}

	var st storedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, domain.StorageError("decode oauth state", err)
	}
	// Index cleanup is best effort; a stale member only points at a missing key.
	_ = s.client.SRem(ctx, stateUserPrefix+st.UserID, st.State).Err()

	return &driven.OAuthState{
		State:     st.State,
		UserID:    st.UserID,
		Provider:  st.Provider,
		CreatedAt: st.CreatedAt,
		ExpiresAt: st.ExpiresAt,
	}, nil
}

// DeleteByUser removes every outstanding state for a user.
func (s *OAuthStateStore) DeleteByUser(ctx context.Context, userID string) error {
	userKey := stateUserPrefix + userID
	members, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return domain.StorageError("list oauth states", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, statePrefix+m)
	}
	keys = append(keys, userKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return domain.StorageError("delete oauth states", err)
	}
	return nil
}

// Cleanup deletes states whose ExpiresAt has passed. Redis TTL would drop
// them after the grace period anyway; this makes removal prompt and countable.
func (s *OAuthStateStore) Cleanup(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var removed int64

	err := s.scan(ctx, statePrefix+"*", func(key string) error {
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var st storedState
		if err := json.Unmarshal(data, &st); err == nil && !now.After(st.ExpiresAt) {
			return nil
		}

		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return err
		}
		removed += n
		if st.UserID != "" {
			_ = s.client.SRem(ctx, stateUserPrefix+st.UserID, st.State).Err()
		}
		return nil
	})
	if err != nil {
		return removed, domain.StorageError("cleanup oauth states", err)
	}
	return removed, nil
}

// DeleteAll removes every state and user index.
func (s *OAuthStateStore) DeleteAll(ctx context.Context) (int64, error) {
	var removed int64
	err := s.scan(ctx, statePrefix+"*", func(key string) error {
		n, err := s.client.Del(ctx, key).Result()
		removed += n
		return err
	})
	if err == nil {
		err = s.scan(ctx, stateUserPrefix+"*", func(key string) error {
			return s.client.Del(ctx, key).Err()
		})
	}
	if err != nil {
		return removed, domain.StorageError("delete oauth states", err)
	}
	return removed, nil
}

func (s *OAuthStateStore) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}
