// Package auth provides authentication primitives for the personal-data API.
// This file implements the Session entity: a TTL-scoped mapping from a
// personal access's session token to {username, appId}, created on login
// and auto-expiring.
//
// HOW IT WORKS:
//
// 1. auth.login generates a session token and stores it here with a TTL.
// 2. RefreshSession extends a session's TTL (the "touch"); no request path
//    calls it, and method-context resolution does not consult sessions.
// 3. Logout / auth.logout deletes the session outright.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/corestream/datacore/internal/cache"
	"github.com/corestream/datacore/internal/models"
)

// SessionStore manages server-side session tracking in Redis.
type SessionStore struct {
	cache *cache.Cache
}

// NewSessionStore creates a new session store.
func NewSessionStore(cache *cache.Cache) *SessionStore {
	return &SessionStore{
		cache: cache,
	}
}

// GenerateSessionToken creates a cryptographically random session token.
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession stores a new session, keyed by its token.
func (s *SessionStore) CreateSession(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	key := s.sessionKey(session.Token)
	return s.cache.Set(ctx, key, session, ttl)
}

// GetSession retrieves a session by token, or nil if not found/Redis disabled.
func (s *SessionStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	if !s.cache.IsEnabled() {
		return nil, nil
	}

	var session models.Session
	key := s.sessionKey(token)
	if err := s.cache.Get(ctx, key, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ValidateSession checks if a session exists and is valid.
func (s *SessionStore) ValidateSession(ctx context.Context, token string) (bool, error) {
	if !s.cache.IsEnabled() {
		return true, nil
	}

	key := s.sessionKey(token)
	return s.cache.Exists(ctx, key)
}

// DeleteSession removes a session (logout, or personal-access revocation).
func (s *SessionStore) DeleteSession(ctx context.Context, token string) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	key := s.sessionKey(token)
	return s.cache.Delete(ctx, key)
}

// DeleteUserSessions removes every session opened by the given username.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, username string) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	pattern := fmt.Sprintf("session:user:%s:*", username)
	return s.cache.DeletePattern(ctx, pattern)
}

// ClearAllSessions removes every tracked session (force all users to re-login).
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	pattern := "session:*"
	return s.cache.DeletePattern(ctx, pattern)
}

// RefreshSession extends the TTL of an existing session (the "touch"); it
// is not called on authenticated calls.
func (s *SessionStore) RefreshSession(ctx context.Context, token string, newExpiresAt time.Time) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	session, err := s.GetSession(ctx, token)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	session.ExpiresAt = newExpiresAt

	ttl := time.Until(newExpiresAt)
	if ttl <= 0 {
		return s.DeleteSession(ctx, token)
	}

	key := s.sessionKey(token)
	return s.cache.Set(ctx, key, session, ttl)
}

// sessionKey generates the Redis key for a session token.
func (s *SessionStore) sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

// IsEnabled returns whether session tracking is enabled.
func (s *SessionStore) IsEnabled() bool {
	return s.cache != nil && s.cache.IsEnabled()
}
