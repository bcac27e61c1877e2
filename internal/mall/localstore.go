package mall

import (
	"context"
	"database/sql"

	"github.com/corestream/datacore/internal/db"
	"github.com/corestream/datacore/internal/models"
)

// LocalStoreID is the implicit, unprefixed store every user always has.
const LocalStoreID = "local"

// localStore adapts internal/db's Postgres repositories to the Store
// interface, backing the implicit "local" store.
type localStore struct {
	sqlDB    *sql.DB
	streams  *db.StreamDB
	events   *db.EventDB
}

// NewLocalStore wraps a *sql.DB as the Mall's "local" Store.
func NewLocalStore(sqlDB *sql.DB) Store {
	return &localStore{
		sqlDB:   sqlDB,
		streams: db.NewStreamDB(sqlDB),
		events:  db.NewEventDB(sqlDB),
	}
}

func (s *localStore) ID() string { return LocalStoreID }

func (s *localStore) CreateStream(ctx context.Context, userID string, st *models.Stream) error {
	return s.streams.CreateStream(ctx, userID, st)
}

func (s *localStore) GetStream(ctx context.Context, userID, streamID string) (*models.Stream, error) {
	return s.streams.GetStream(ctx, userID, streamID)
}

func (s *localStore) ListStreams(ctx context.Context, userID string, query models.StreamQuery) ([]*models.Stream, error) {
	return s.streams.ListStreams(ctx, userID, query)
}

func (s *localStore) UpdateStream(ctx context.Context, userID, streamID string, req *models.UpdateStreamRequest, modifiedBy string) error {
	return s.streams.UpdateStream(ctx, userID, streamID, req, modifiedBy)
}

func (s *localStore) DeleteStream(ctx context.Context, userID, streamID string) error {
	return s.streams.DeleteStream(ctx, userID, streamID)
}

func (s *localStore) CreateEvent(ctx context.Context, userID string, e *models.Event) error {
	return s.events.CreateEvent(ctx, userID, e)
}

func (s *localStore) GetEvent(ctx context.Context, userID, eventID string) (*models.Event, error) {
	return s.events.GetEvent(ctx, userID, eventID)
}

func (s *localStore) QueryEvents(ctx context.Context, userID string, q models.EventQuery) ([]*models.Event, error) {
	return s.events.QueryEvents(ctx, userID, q)
}

func (s *localStore) UpdateEvent(ctx context.Context, userID, eventID string, req *models.UpdateEventRequest, integrity, modifiedBy string) error {
	return s.events.UpdateEvent(ctx, userID, eventID, req, integrity, modifiedBy)
}

func (s *localStore) TrashEvent(ctx context.Context, userID, eventID, modifiedBy string) error {
	return s.events.TrashEvent(ctx, userID, eventID, modifiedBy)
}

func (s *localStore) DeleteEvent(ctx context.Context, userID, eventID string, deletedAt float64) error {
	return s.events.DeleteEvent(ctx, userID, eventID, deletedAt)
}

// Transact runs fn inside a real SQL transaction. fn receives ctx
// unmodified: internal/db's repositories take *sql.DB, not *sql.Tx, so
// cross-repository atomicity inside Transact is advisory for this store
// (the local store's individual multi-statement operations, e.g. password
// history, already manage their own transactions internally).
func (s *localStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
