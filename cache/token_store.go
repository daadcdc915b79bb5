package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StateTTL bounds how long an OAuth login may take.
const StateTTL = 10 * time.Minute

var (
	// ErrStateNotFound means the state was never issued, expired or was already used.
	ErrStateNotFound = errors.New("oauth state not found")
	// ErrNoProviderToken means the user has no live provider token.
	ErrNoProviderToken = errors.New("provider token not found")
)

const (
	statePrefix         = "oauth_state:"
	providerTokenPrefix = "provider_token:"
)

// TokenStore keeps short-lived OAuth material in Redis.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore wraps a Redis client.
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func providerTokenKey(userID int64, provider string) string {
	return fmt.Sprintf("%s%d:%s", providerTokenPrefix, userID, provider)
}

// SaveState records an issued state value for provider.
func (s *TokenStore) SaveState(ctx context.Context, state, provider string) error {
	if err := s.client.Set(ctx, statePrefix+state, provider, StateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// ConsumeState deletes the state and returns the provider it was issued
// for. A state can be consumed once.
func (s *TokenStore) ConsumeState(ctx context.Context, state string) (string, error) {
	key := statePrefix + state
	// GET + DEL 放在一个事务里，保证只能使用一次
	var get *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to consume oauth state: %w", err)
	}

	provider, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read oauth state: %w", err)
	}
	return provider, nil
}

// SaveProviderToken stores a provider access token until it expires.
func (s *TokenStore) SaveProviderToken(ctx context.Context, userID int64, provider, token string, expiry time.Time) error {
	ttl := time.Until(expiry)
	if expiry.IsZero() {
		ttl = time.Hour
	}
	if ttl <= 0 {
		return fmt.Errorf("provider token for user %d already expired", userID)
	}
	if err := s.client.Set(ctx, providerTokenKey(userID, provider), token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save provider token: %w", err)
	}
	return nil
}

// ProviderToken returns the stored access token.
func (s *TokenStore) ProviderToken(ctx context.Context, userID int64, provider string) (string, error) {
	token, err := s.client.Get(ctx, providerTokenKey(userID, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoProviderToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read provider token: %w", err)
	}
	return token, nil
}

// DeleteProviderToken drops the token on sign-out.
func (s *TokenStore) DeleteProviderToken(ctx context.Context, userID int64, provider string) error {
	if err := s.client.Del(ctx, providerTokenKey(userID, provider)).Err(); err != nil {
		return fmt.Errorf("failed to delete provider token: %w", err)
	}
	return nil
}
