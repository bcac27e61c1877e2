// Package db: access repository backing Storage(local).
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corestream/datacore/internal/models"
)

// AccessDB handles database operations for accesses.
type AccessDB struct {
	db *sql.DB
}

// NewAccessDB creates a new AccessDB instance.
func NewAccessDB(db *sql.DB) *AccessDB {
	return &AccessDB{db: db}
}

func scanAccess(row interface {
	Scan(dest ...interface{}) error
}) (*models.Access, error) {
	a := &models.Access{}
	var permissions []byte
	err := row.Scan(&a.ID, &a.Token, &a.Name, &a.Type, &permissions, &a.Expires,
		&a.CreatedBy, &a.ModifiedBy, &a.Created, &a.Modified, &a.Deleted, &a.Integrity)
	if err != nil {
		return nil, err
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &a.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions: %w", err)
		}
	}
	return a, nil
}

// CreateAccess inserts a new access. The unique index on token enforces the
// cross-user token-collision guard; a duplicate yields a *pq.Error that is
// returned as is. Neither this method nor its caller (app.accessesCreate)
// maps it to item-already-exists or re-reads the existing access.
func (d *AccessDB) CreateAccess(ctx context.Context, userID string, a *models.Access) error {
	permissions, err := json.Marshal(a.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO accesses (id, user_id, token, name, type, permissions, expires, created_by, modified_by, created, modified, deleted, integrity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, userID, a.Token, a.Name, a.Type, permissions, a.Expires, a.CreatedBy, a.ModifiedBy, a.Created, a.Modified, a.Deleted, a.Integrity)
	return err
}

// GetAccess retrieves one access by id, scoped to userID.
func (d *AccessDB) GetAccess(ctx context.Context, userID, accessID string) (*models.Access, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, token, name, type, permissions, expires, created_by, modified_by, created, modified, deleted, integrity
		FROM accesses WHERE user_id = $1 AND id = $2
	`, userID, accessID)
	a, err := scanAccess(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetAccessByToken retrieves an access by its token, scoped to userID. Used
// by methodcontext.AccessResolver to authenticate a request.
func (d *AccessDB) GetAccessByToken(ctx context.Context, userID, token string) (*models.Access, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, token, name, type, permissions, expires, created_by, modified_by, created, modified, deleted, integrity
		FROM accesses WHERE user_id = $1 AND token = $2
	`, userID, token)
	a, err := scanAccess(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAccesses returns the accesses of a user, leaving out deleted ones
// unless includeDeleted is set.
func (d *AccessDB) ListAccesses(ctx context.Context, userID string, includeExpired, includeDeleted bool) ([]*models.Access, error) {
	where := "user_id = $1"
	if !includeDeleted {
		where += " AND deleted IS NULL"
	}
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, token, name, type, permissions, expires, created_by, modified_by, created, modified, deleted, integrity
		FROM accesses WHERE %s ORDER BY created ASC
	`, where), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accesses := []*models.Access{}
	now := time.Now().Unix()
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		if !includeExpired && a.Expires != nil && *a.Expires < now {
			continue
		}
		accesses = append(accesses, a)
	}
	return accesses, rows.Err()
}

// UpdateAccess applies a partial update to an access (name/permissions).
func (d *AccessDB) UpdateAccess(ctx context.Context, userID, accessID string, req *models.UpdateAccessRequest, integrity, modifiedBy string) error {
	updates := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.Name != nil {
		updates = append(updates, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *req.Name)
		argIdx++
	}
	if req.Permissions != nil {
		encoded, err := json.Marshal(req.Permissions)
		if err != nil {
			return fmt.Errorf("failed to encode permissions: %w", err)
		}
		updates = append(updates, fmt.Sprintf("permissions = $%d", argIdx))
		args = append(args, encoded)
		argIdx++
	}

	updates = append(updates, fmt.Sprintf("integrity = $%d", argIdx))
	args = append(args, integrity)
	argIdx++
	updates = append(updates, fmt.Sprintf("modified = $%d", argIdx))
	args = append(args, time.Now())
	argIdx++
	updates = append(updates, fmt.Sprintf("modified_by = $%d", argIdx))
	args = append(args, modifiedBy)
	argIdx++

	args = append(args, userID, accessID)
	query := fmt.Sprintf("UPDATE accesses SET %s WHERE user_id = $%d AND id = $%d",
		join(updates, ", "), argIdx, argIdx+1)

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// RevokeAccess soft-deletes an access by stamping its deleted timestamp.
func (d *AccessDB) RevokeAccess(ctx context.Context, userID, accessID string, deletedAt float64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE accesses SET deleted = $1 WHERE user_id = $2 AND id = $3
	`, deletedAt, userID, accessID)
	return err
}
