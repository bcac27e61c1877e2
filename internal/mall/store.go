// Package mall implements the Mall: a store multiplexer that presents a
// single stream/event namespace built from one or more pluggable
// Store implementations, addressed by a store-id prefix on every full item
// id. Accesses are not routed through the Mall. internal/db's
// *StreamDB/*EventDB back the implicit "local"
// store; internal/mall/memstore provides a second, in-memory store to
// exercise the multi-store code paths end to end.
package mall

import (
	"context"

	"github.com/corestream/datacore/internal/models"
)

// Store is the persistence interface a pluggable store implements. Ids
// passed to and returned from a Store are always store-local: the Mall
// strips/reattaches the ":<storeId>:" prefix at its boundary.
type Store interface {
	// ID is this store's registration id ("local", "demo", ...).
	ID() string

	// Streams
	CreateStream(ctx context.Context, userID string, s *models.Stream) error
	GetStream(ctx context.Context, userID, streamID string) (*models.Stream, error)
	ListStreams(ctx context.Context, userID string, query models.StreamQuery) ([]*models.Stream, error)
	UpdateStream(ctx context.Context, userID, streamID string, req *models.UpdateStreamRequest, modifiedBy string) error
	DeleteStream(ctx context.Context, userID, streamID string) error

	// Events
	CreateEvent(ctx context.Context, userID string, e *models.Event) error
	GetEvent(ctx context.Context, userID, eventID string) (*models.Event, error)
	QueryEvents(ctx context.Context, userID string, q models.EventQuery) ([]*models.Event, error)
	UpdateEvent(ctx context.Context, userID, eventID string, req *models.UpdateEventRequest, integrity, modifiedBy string) error
	TrashEvent(ctx context.Context, userID, eventID, modifiedBy string) error
	DeleteEvent(ctx context.Context, userID, eventID string, deletedAt float64) error

	// Transact runs fn inside a store-native transaction if the store
	// supports one, or simply invokes fn if it doesn't.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}
