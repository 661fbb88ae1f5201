// Package auth provides the identity layer: cookie sessions backed by redis,
// password hashing, and authorized service hosts.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/netsblox/cloud-go/internal/errs"
)

// SessionStore keeps login sessions in redis. The cookie carries an opaque
// token; the redis record maps it to the username. The TTL slides on access so
// active users stay logged in.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore creates a session store backed by the given redis client.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string { return "session:" + token }

// Create starts a session for username and returns the opaque token to set in
// the cookie.
func (s *SessionStore) Create(ctx context.Context, username string) (string, error) {
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKey(token), username, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Username resolves a session token to its username and refreshes the TTL.
// Returns KindLoginRequired when the token is unknown or expired.
func (s *SessionStore) Username(ctx context.Context, token string) (string, error) {
	username, err := s.rdb.GetEx(ctx, sessionKey(token), s.ttl).Result()
	if err != nil {
		if err == redis.Nil {
			return "", errs.New(errs.KindLoginRequired)
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	return username, nil
}

// Delete ends a session. Unknown tokens are not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
