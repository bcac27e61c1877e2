// Package cache provides Redis-based caching for the personal-data API core.
//
// This file defines the cache key naming convention used by the per-user
// caches the Cache component holds: the stream forest, the AccessLogic
// objects (keyed by both access id and token), and the username→userId
// lookup.
//
// Key Naming Convention:
//   - Format: {prefix}:{userId}:{qualifier}
//   - Example: streams:user-123:local
//   - Example: accesslogic:user-123:id:access-456
//   - Example: username:alice
package cache

import "fmt"

// Key prefixes for the resources the Cache component holds.
const (
	PrefixStreams     = "streams"
	PrefixAccessLogic = "accesslogic"
	PrefixUsername    = "username"
)

// StreamsKey returns the cache key for a user's stream forest in a given store.
func StreamsKey(userID, storeID string) string {
	return fmt.Sprintf("%s:%s:%s", PrefixStreams, userID, storeID)
}

// StreamsPattern returns the pattern matching every cached stream forest for
// a user, across all stores.
func StreamsPattern(userID string) string {
	return fmt.Sprintf("%s:%s:*", PrefixStreams, userID)
}

// AccessLogicByIDKey returns the cache key for an AccessLogic object keyed by access id.
func AccessLogicByIDKey(userID, accessID string) string {
	return fmt.Sprintf("%s:%s:id:%s", PrefixAccessLogic, userID, accessID)
}

// AccessLogicByTokenKey returns the cache key for an AccessLogic object keyed by token.
func AccessLogicByTokenKey(userID, token string) string {
	return fmt.Sprintf("%s:%s:token:%s", PrefixAccessLogic, userID, token)
}

// AccessLogicPattern returns the pattern matching every cached AccessLogic
// object for a user.
func AccessLogicPattern(userID string) string {
	return fmt.Sprintf("%s:%s:*", PrefixAccessLogic, userID)
}

// UsernameKey returns the cache key mapping a username to its userId.
func UsernameKey(username string) string {
	return fmt.Sprintf("%s:%s", PrefixUsername, username)
}

// UserDataPattern returns the pattern matching every cache entry scoped to a
// user (used by UNSET_USER_DATA / UNSET_USER invalidations, which drop
// everything tied to that userId regardless of resource type).
func UserDataPattern(userID string) string {
	return fmt.Sprintf("*:%s:*", userID)
}
