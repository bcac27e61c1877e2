// Package db: event repository backing Storage(local).
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/corestream/datacore/internal/models"
)

// EventDB handles database operations for events.
type EventDB struct {
	db *sql.DB
}

// NewEventDB creates a new EventDB instance.
func NewEventDB(db *sql.DB) *EventDB {
	return &EventDB{db: db}
}

func scanEvent(row interface {
	Scan(dest ...interface{}) error
}) (*models.Event, error) {
	e := &models.Event{}
	var streamIDs, tags pq.StringArray
	var content, clientData []byte
	err := row.Scan(&e.ID, &streamIDs, &e.Type, &content, &e.Time, &e.Duration, &tags, &e.Description,
		&clientData, &e.Trashed, &e.Integrity, &e.Created, &e.CreatedBy, &e.Modified, &e.ModifiedBy, &e.Deleted)
	if err != nil {
		return nil, err
	}
	e.StreamIDs = []string(streamIDs)
	e.Tags = []string(tags)
	if len(content) > 0 {
		if err := json.Unmarshal(content, &e.Content); err != nil {
			return nil, fmt.Errorf("failed to decode event content: %w", err)
		}
	}
	if len(clientData) > 0 {
		if err := json.Unmarshal(clientData, &e.ClientData); err != nil {
			return nil, fmt.Errorf("failed to decode client data: %w", err)
		}
	}
	return e, nil
}

// CreateEvent inserts a new event.
func (d *EventDB) CreateEvent(ctx context.Context, userID string, e *models.Event) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("failed to encode event content: %w", err)
	}
	clientData, err := json.Marshal(e.ClientData)
	if err != nil {
		return fmt.Errorf("failed to encode client data: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, stream_ids, type, content, time, duration, tags, description,
			client_data, trashed, integrity, created, created_by, modified, modified_by, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, e.ID, userID, pq.Array(e.StreamIDs), e.Type, content, e.Time, e.Duration, pq.Array(e.Tags), e.Description,
		clientData, e.Trashed, e.Integrity, e.Created, e.CreatedBy, e.Modified, e.ModifiedBy, e.Deleted)
	return err
}

// GetEvent retrieves one event by id, scoped to userID.
func (d *EventDB) GetEvent(ctx context.Context, userID, eventID string) (*models.Event, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, stream_ids, type, content, time, duration, tags, description,
			client_data, trashed, integrity, created, created_by, modified, modified_by, deleted
		FROM events WHERE user_id = $1 AND id = $2
	`, userID, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// QueryEvents runs an EventQuery against one user's events. Streams blocks
// are OR'd together; within a block, Any is required (overlap with
// stream_ids), All must all be present, Not must all be absent.
func (d *EventDB) QueryEvents(ctx context.Context, userID string, q models.EventQuery) ([]*models.Event, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{userID}
	argIdx := 2

	if len(q.Streams) > 0 {
		blocks := []string{}
		for _, block := range q.Streams {
			clauses := []string{}
			if len(block.Any) > 0 {
				clauses = append(clauses, fmt.Sprintf("stream_ids && $%d", argIdx))
				args = append(args, pq.Array(block.Any))
				argIdx++
			}
			if len(block.All) > 0 {
				clauses = append(clauses, fmt.Sprintf("stream_ids @> $%d", argIdx))
				args = append(args, pq.Array(block.All))
				argIdx++
			}
			if len(block.Not) > 0 {
				clauses = append(clauses, fmt.Sprintf("NOT (stream_ids && $%d)", argIdx))
				args = append(args, pq.Array(block.Not))
				argIdx++
			}
			if len(clauses) > 0 {
				blocks = append(blocks, "("+join(clauses, " AND ")+")")
			}
		}
		if len(blocks) > 0 {
			where = append(where, "("+join(blocks, " OR ")+")")
		}
	}

	if len(q.Types) > 0 {
		where = append(where, fmt.Sprintf("type = ANY($%d)", argIdx))
		args = append(args, pq.Array(q.Types))
		argIdx++
	}
	if q.FromTime != nil {
		where = append(where, fmt.Sprintf("time >= $%d", argIdx))
		args = append(args, *q.FromTime)
		argIdx++
	}
	if q.ToTime != nil {
		where = append(where, fmt.Sprintf("time <= $%d", argIdx))
		args = append(args, *q.ToTime)
		argIdx++
	}
	if q.Running {
		where = append(where, "duration IS NULL")
	}
	if len(q.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags && $%d", argIdx))
		args = append(args, pq.Array(q.Tags))
		argIdx++
	}

	switch q.State {
	case "trashed":
		where = append(where, "trashed = true")
	case "all":
		// no filter
	default:
		where = append(where, "trashed = false")
	}
	where = append(where, "deleted IS NULL")

	if q.ModifiedSince != nil {
		where = append(where, fmt.Sprintf("EXTRACT(EPOCH FROM modified) >= $%d", argIdx))
		args = append(args, *q.ModifiedSince)
		argIdx++
	}

	order := "time DESC"
	if q.Sort == "time-asc" {
		order = "time ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, stream_ids, type, content, time, duration, tags, description,
			client_data, trashed, integrity, created, created_by, modified, modified_by, deleted
		FROM events WHERE %s ORDER BY %s
	`, join(where, " AND "), order)

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Skip)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateEvent applies a partial update to an event.
func (d *EventDB) UpdateEvent(ctx context.Context, userID, eventID string, req *models.UpdateEventRequest, integrity, modifiedBy string) error {
	updates := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.StreamIDs != nil {
		updates = append(updates, fmt.Sprintf("stream_ids = $%d", argIdx))
		args = append(args, pq.Array(req.StreamIDs))
		argIdx++
	}
	if req.Type != nil {
		updates = append(updates, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *req.Type)
		argIdx++
	}
	if req.Content != nil {
		encoded, err := json.Marshal(req.Content)
		if err != nil {
			return fmt.Errorf("failed to encode event content: %w", err)
		}
		updates = append(updates, fmt.Sprintf("content = $%d", argIdx))
		args = append(args, encoded)
		argIdx++
	}
	if req.Time != nil {
		updates = append(updates, fmt.Sprintf("time = $%d", argIdx))
		args = append(args, *req.Time)
		argIdx++
	}
	if req.Duration != nil {
		updates = append(updates, fmt.Sprintf("duration = $%d", argIdx))
		args = append(args, *req.Duration)
		argIdx++
	}
	if req.Tags != nil {
		updates = append(updates, fmt.Sprintf("tags = $%d", argIdx))
		args = append(args, pq.Array(req.Tags))
		argIdx++
	}
	if req.Description != nil {
		updates = append(updates, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *req.Description)
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

	updates = append(updates, fmt.Sprintf("integrity = $%d", argIdx))
	args = append(args, integrity)
	argIdx++
	updates = append(updates, fmt.Sprintf("modified = $%d", argIdx))
	args = append(args, time.Now())
	argIdx++
	updates = append(updates, fmt.Sprintf("modified_by = $%d", argIdx))
	args = append(args, modifiedBy)
	argIdx++

	args = append(args, userID, eventID)
	query := fmt.Sprintf("UPDATE events SET %s WHERE user_id = $%d AND id = $%d",
		join(updates, ", "), argIdx, argIdx+1)

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// TrashEvent marks an event trashed (soft delete, stage 1).
func (d *EventDB) TrashEvent(ctx context.Context, userID, eventID, modifiedBy string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE events SET trashed = true, modified = $1, modified_by = $2 WHERE user_id = $3 AND id = $4
	`, time.Now(), modifiedBy, userID, eventID)
	return err
}

// DeleteEvent replaces an already-trashed event with a tombstone row: it
// stamps deleted and blanks stream ids, type, content, duration, tags,
// description, client data and integrity. time, trashed and the
// created/modified columns are not cleared.
func (d *EventDB) DeleteEvent(ctx context.Context, userID, eventID string, deletedAt float64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE events SET stream_ids = '{}', type = NULL, content = NULL, duration = NULL, tags = '{}',
			description = NULL, client_data = '{}', integrity = '', deleted = $1
		WHERE user_id = $2 AND id = $3
	`, deletedAt, userID, eventID)
	return err
}
