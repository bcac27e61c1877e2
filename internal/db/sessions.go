// Package db: session repository. Sessions normally live only in Redis
// (internal/auth.SessionStore); this Postgres-backed mirror exists so a
// session created by auth.login survives a cache flush/restart and so
// DeleteUserSessions has a durable record to revoke from on logout-everywhere.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/corestream/datacore/internal/models"
)

// SessionDB handles durable session bookkeeping.
type SessionDB struct {
	db *sql.DB
}

// NewSessionDB creates a new SessionDB instance.
func NewSessionDB(db *sql.DB) *SessionDB {
	return &SessionDB{db: db}
}

// CreateSession inserts a new session row.
func (d *SessionDB) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (token, username, app_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET expires_at = $5
	`, s.Token, s.Username, s.AppID, s.CreatedAt, s.ExpiresAt)
	return err
}

// GetSession retrieves a session by token, or nil if absent or expired.
func (d *SessionDB) GetSession(ctx context.Context, token string) (*models.Session, error) {
	s := &models.Session{}
	err := d.db.QueryRowContext(ctx, `
		SELECT token, username, app_id, created_at, expires_at FROM sessions WHERE token = $1
	`, token).Scan(&s.Token, &s.Username, &s.AppID, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return s, nil
}

// DeleteSession removes a session (logout).
func (d *SessionDB) DeleteSession(ctx context.Context, token string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return err
}

// DeleteUserSessions removes every session opened by a username (logout-everywhere).
func (d *SessionDB) DeleteUserSessions(ctx context.Context, username string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE username = $1`, username)
	return err
}

// PruneExpired deletes every session past its expiry, for a periodic sweep.
func (d *SessionDB) PruneExpired(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
