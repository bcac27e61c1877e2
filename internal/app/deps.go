// Package app wires every component in the request-processing core into one
// explicit value built at startup rather than package-level globals
// (internal/logger's global logger aside). cmd/main.go
// constructs exactly one *Application and threads it through
// internal/httpapi.
package app

import (
	"context"
	"time"

	"github.com/corestream/datacore/internal/auth"
	"github.com/corestream/datacore/internal/cache"
	"github.com/corestream/datacore/internal/db"
	"github.com/corestream/datacore/internal/models"
	"github.com/corestream/datacore/internal/synchro"
)

// userResolver adapts UserDB + the username->userId cache to
// methodcontext.UserResolver.
type userResolver struct {
	users *db.UserDB
	cache *cache.Cache
}

func (r *userResolver) ResolveUserID(ctx context.Context, username string) (string, error) {
	key := cache.UsernameKey(username)
	var userID string
	if err := r.cache.Get(ctx, key, &userID); err == nil && userID != "" {
		return userID, nil
	}
	user, err := r.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", nil
	}
	_ = r.cache.Set(ctx, key, user.ID, 10*time.Minute)
	return user.ID, nil
}

// accessResolver adapts AccessDB to methodcontext.AccessResolver. Tokens are
// stored as a SHA256 digest (see accessesCreate), so the plaintext token
// presented on the wire is digested the same way before the lookup.
type accessResolver struct {
	accesses *db.AccessDB
	hasher   *auth.TokenHasher
}

func (r *accessResolver) ResolveAccessByToken(ctx context.Context, userID, token string) (*models.Access, error) {
	return r.accesses.GetAccessByToken(ctx, userID, r.hasher.HashTokenSHA256(token))
}

// forestProvider adapts the Mall to methodcontext.StreamForestProvider,
// caching the expanded forest per user (dropped by InvalidateUser, locally
// and via Synchro, on any mutation).
type forestProvider struct {
	app *Application
}

func (p *forestProvider) StreamForest(ctx context.Context, userID string) ([]*models.Stream, error) {
	key := cache.StreamsKey(userID, "forest")
	var cached []*models.Stream
	if err := p.app.Cache.Get(ctx, key, &cached); err == nil && cached != nil {
		return cached, nil
	}
	forest, err := p.app.Mall.GetStreams(ctx, userID, models.StreamQuery{})
	if err != nil {
		return nil, err
	}
	_ = p.app.Cache.Set(ctx, key, forest, 10*time.Minute)
	if p.app.Synchro != nil {
		_ = p.app.Synchro.EnsureListening(userID)
	}
	return forest, nil
}

// InvalidateUser drops every cache entry whose key carries userID
// (cache.UserDataPattern): the stream forest and every cached AccessLogic.
// The username lookup is keyed by username and is not dropped. Called both
// locally, right after a mutation, and from the Synchro handler on a
// cross-process invalidation.
func (a *Application) InvalidateUser(ctx context.Context, userID string) {
	_ = a.Cache.DeletePattern(ctx, cache.UserDataPattern(userID))
}

// invalidateAndBroadcast applies a cache invalidation locally, then
// publishes it so every other process drops the same slot. Local
// invalidation always happens first so the originating request's own next
// read is never served stale data, even if the broker round-trip is slow.
func (a *Application) invalidateAndBroadcast(ctx context.Context, userID string) {
	a.InvalidateUser(ctx, userID)
	if a.Synchro != nil {
		_ = a.Synchro.Publish(ctx, synchro.Message{Action: synchro.UnsetUserData, UserID: userID})
	}
}
