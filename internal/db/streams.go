// Package db: stream repository backing Storage(local)'s stream forest.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corestream/datacore/internal/models"
)

// StreamDB handles database operations for a user's stream forest.
type StreamDB struct {
	db *sql.DB
}

// NewStreamDB creates a new StreamDB instance.
func NewStreamDB(db *sql.DB) *StreamDB {
	return &StreamDB{db: db}
}

func scanStream(rows interface {
	Scan(dest ...interface{}) error
}) (*models.Stream, error) {
	s := &models.Stream{}
	var clientData []byte
	err := rows.Scan(&s.ID, &s.Name, &s.ParentID, &clientData, &s.Trashed, &s.SingleActivity,
		&s.Created, &s.CreatedBy, &s.Modified, &s.ModifiedBy)
	if err != nil {
		return nil, err
	}
	if len(clientData) > 0 {
		if err := json.Unmarshal(clientData, &s.ClientData); err != nil {
			return nil, fmt.Errorf("failed to decode client data: %w", err)
		}
	}
	return s, nil
}

// CreateStream inserts a new stream, unique on (userId, id).
func (d *StreamDB) CreateStream(ctx context.Context, userID string, s *models.Stream) error {
	clientData, err := json.Marshal(s.ClientData)
	if err != nil {
		return fmt.Errorf("failed to encode client data: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO streams (user_id, id, name, parent_id, client_data, trashed, single_activity, created, created_by, modified, modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, userID, s.ID, s.Name, s.ParentID, clientData, s.Trashed, s.SingleActivity, s.Created, s.CreatedBy, s.Modified, s.ModifiedBy)
	return err
}

// GetStream retrieves one stream by id, scoped to userID.
func (d *StreamDB) GetStream(ctx context.Context, userID, streamID string) (*models.Stream, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, client_data, trashed, single_activity, created, created_by, modified, modified_by
		FROM streams WHERE user_id = $1 AND id = $2
	`, userID, streamID)
	s, err := scanStream(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListStreams returns a user's streams as a flat list, matching the
// non-expanding part of a StreamQuery (parent filter, trashed visibility);
// Children is not populated, here or by the Mall.
func (d *StreamDB) ListStreams(ctx context.Context, userID string, query models.StreamQuery) ([]*models.Stream, error) {
	where := "user_id = $1"
	args := []interface{}{userID}
	argIdx := 2

	if query.ParentID != nil {
		where += fmt.Sprintf(" AND parent_id = $%d", argIdx)
		args = append(args, *query.ParentID)
		argIdx++
	}
	if query.ID != nil {
		where += fmt.Sprintf(" AND id = $%d", argIdx)
		args = append(args, *query.ID)
		argIdx++
	}
	if !query.IncludeTrashed {
		where += " AND trashed = false"
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, parent_id, client_data, trashed, single_activity, created, created_by, modified, modified_by
		FROM streams WHERE %s ORDER BY name ASC
	`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	streams := []*models.Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

// UpdateStream applies a partial update to a stream.
func (d *StreamDB) UpdateStream(ctx context.Context, userID, streamID string, req *models.UpdateStreamRequest, modifiedBy string) error {
	updates := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.Name != nil {
		updates = append(updates, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *req.Name)
		argIdx++
	}
	if req.ParentID != nil {
		updates = append(updates, fmt.Sprintf("parent_id = $%d", argIdx))
		args = append(args, *req.ParentID)
		argIdx++
	}
	if req.ClientData != nil {
		encoded, err := json.Marshal(req.ClientData)
		if err != nil {
			return fmt.Errorf("failed to encode client data: %w", err)
		}
		updates = append(updates, fmt.Sprintf("client_data = $%d", argIdx))
		args = append(args, encoded)
		argIdx++
	}
	if req.Trashed != nil {
		updates = append(updates, fmt.Sprintf("trashed = $%d", argIdx))
		args = append(args, *req.Trashed)
		argIdx++
	}
	if req.SingleActivity != nil {
		updates = append(updates, fmt.Sprintf("single_activity = $%d", argIdx))
		args = append(args, *req.SingleActivity)
		argIdx++
	}

	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, fmt.Sprintf("modified = $%d", argIdx))
	args = append(args, time.Now())
	argIdx++
	updates = append(updates, fmt.Sprintf("modified_by = $%d", argIdx))
	args = append(args, modifiedBy)
	argIdx++

	args = append(args, userID, streamID)
	query := fmt.Sprintf("UPDATE streams SET %s WHERE user_id = $%d AND id = $%d",
		join(updates, ", "), argIdx, argIdx+1)

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// DeleteStream permanently removes a stream row (the trashed flag models the
// soft-delete step; this is the hard delete of an already-trashed stream).
func (d *StreamDB) DeleteStream(ctx context.Context, userID, streamID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM streams WHERE user_id = $1 AND id = $2`, userID, streamID)
	return err
}
