package models

import "time"

// Access kinds.
const (
	AccessTypePersonal = "personal"
	AccessTypeApp       = "app"
	AccessTypeShared    = "shared"
)

// Permission levels, ordered ascending. create-only and contribute share a
// rank: create-only additionally forbids read/update (see AccessLogic).
const (
	LevelRead        = "read"
	LevelCreateOnly  = "create-only"
	LevelContribute  = "contribute"
	LevelManage      = "manage"
)

// levelRank returns the ascending numeric rank used for permission expansion
// and "higher wins" comparisons: read=0, create-only=contribute=1, manage=2.
func levelRank(level string) int {
	switch level {
	case LevelRead:
		return 0
	case LevelCreateOnly, LevelContribute:
		return 1
	case LevelManage:
		return 2
	default:
		return -1
	}
}

// LevelRank exposes levelRank to other packages (internal/accesslogic).
func LevelRank(level string) int { return levelRank(level) }

// Permission is one entry of an access's permission list: a stream
// permission, a tag permission, or a feature permission. Exactly one of
// StreamID/Tag/Feature is set.
type Permission struct {
	StreamID *string `json:"streamId,omitempty"`
	Tag      *string `json:"tag,omitempty"`
	Feature  *string `json:"feature,omitempty"`
	Level    string  `json:"level,omitempty"`
	Setting  string  `json:"setting,omitempty"`
}

// Access is a token plus a set of permissions authorizing one client
// application or user session to act on a user's data.
type Access struct {
	ID          string       `json:"id" db:"id"`
	Token       string       `json:"token" db:"token"`
	Name        string       `json:"name" db:"name"`
	Type        string       `json:"type" db:"type"`
	Permissions []Permission `json:"permissions" db:"permissions"`
	Expires     *int64       `json:"expires,omitempty" db:"expires"`

	CreatedBy  string `json:"createdBy" db:"created_by"`
	ModifiedBy string `json:"modifiedBy" db:"modified_by"`

	Created  time.Time `json:"created" db:"created"`
	Modified time.Time `json:"modified" db:"modified"`

	Deleted   *float64 `json:"deleted,omitempty" db:"deleted"`
	Integrity string   `json:"integrity,omitempty" db:"integrity"`
}

// IsExpired reports whether the access has passed its expiry.
func (a *Access) IsExpired(now time.Time) bool {
	return a.Expires != nil && *a.Expires < now.Unix()
}

// CreateAccessRequest is the body of accesses.create.
type CreateAccessRequest struct {
	Name        string       `json:"name" binding:"required"`
	Type        string       `json:"type" validate:"omitempty,oneof=app shared"`
	Permissions []Permission `json:"permissions" binding:"required"`
	Expires     *int64       `json:"expireAfter,omitempty"`
}

// UpdateAccessRequest is the body of accesses.update.
type UpdateAccessRequest struct {
	Name        *string      `json:"name,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Session is a TTL-scoped mapping from a personal access's session token to
// the username and app that opened it.
type Session struct {
	Token     string    `json:"token" db:"token"`
	Username  string    `json:"username" db:"username"`
	AppID     string    `json:"appId" db:"app_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}
