// Package memstore is an in-memory Store implementation, registered
// alongside the local Postgres store to exercise the Mall's multi-store
// code paths (id prefixing, cross-store query rejection, per-store
// transactions) without a second database dependency. Grounded on the
// map-plus-mutex Store style used by the hub's in-process store variant.
package memstore

import (
	"context"
	"sync"
	"time"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/models"
)

// Store is a goroutine-safe in-memory implementation of mall.Store, scoped
// per user by a top-level map key.
type Store struct {
	id string

	mu      sync.Mutex
	streams map[string]map[string]*models.Stream // userID -> streamID -> stream
	events  map[string]map[string]*models.Event  // userID -> eventID -> event
}

// New creates an in-memory store registered under id.
func New(id string) *Store {
	return &Store{
		id:      id,
		streams: map[string]map[string]*models.Stream{},
		events:  map[string]map[string]*models.Event{},
	}
}

// ID returns this store's registration id.
func (s *Store) ID() string { return s.id }

func (s *Store) userStreams(userID string) map[string]*models.Stream {
	m, ok := s.streams[userID]
	if !ok {
		m = map[string]*models.Stream{}
		s.streams[userID] = m
	}
	return m
}

func (s *Store) userEvents(userID string) map[string]*models.Event {
	m, ok := s.events[userID]
	if !ok {
		m = map[string]*models.Event{}
		s.events[userID] = m
	}
	return m
}

// CreateStream inserts a stream, rejecting a duplicate id.
func (s *Store) CreateStream(ctx context.Context, userID string, st *models.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	streams := s.userStreams(userID)
	if _, exists := streams[st.ID]; exists {
		return apierrors.ItemAlreadyExists("stream already exists", map[string]interface{}{"id": st.ID})
	}
	clone := *st
	streams[st.ID] = &clone
	return nil
}

// GetStream retrieves one stream by id.
func (s *Store) GetStream(ctx context.Context, userID, streamID string) (*models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.userStreams(userID)[streamID]
	if !ok {
		return nil, nil
	}
	clone := *st
	return &clone, nil
}

// ListStreams returns every stream matching the query's parent/id/trashed filters.
func (s *Store) ListStreams(ctx context.Context, userID string, query models.StreamQuery) ([]*models.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []*models.Stream{}
	for _, st := range s.userStreams(userID) {
		if query.ID != nil && st.ID != *query.ID {
			continue
		}
		if query.ParentID != nil {
			if *query.ParentID == "*" {
				if st.ParentID != nil {
					continue
				}
			} else if st.ParentID == nil || *st.ParentID != *query.ParentID {
				continue
			}
		}
		if st.Trashed && !query.IncludeTrashed {
			continue
		}
		clone := *st
		result = append(result, &clone)
	}
	return result, nil
}

// UpdateStream applies a partial update.
func (s *Store) UpdateStream(ctx context.Context, userID, streamID string, req *models.UpdateStreamRequest, modifiedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.userStreams(userID)[streamID]
	if !ok {
		return apierrors.UnknownResource("stream")
	}
	if req.Name != nil {
		st.Name = *req.Name
	}
	if req.ParentID != nil {
		st.ParentID = req.ParentID
	}
	if req.ClientData != nil {
		st.ClientData = req.ClientData
	}
	if req.Trashed != nil {
		st.Trashed = *req.Trashed
	}
	if req.SingleActivity != nil {
		st.SingleActivity = *req.SingleActivity
	}
	st.Modified = time.Now()
	st.ModifiedBy = modifiedBy
	return nil
}

// DeleteStream removes a stream permanently.
func (s *Store) DeleteStream(ctx context.Context, userID, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.userStreams(userID), streamID)
	return nil
}

// CreateEvent inserts an event, rejecting a duplicate id.
func (s *Store) CreateEvent(ctx context.Context, userID string, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.userEvents(userID)
	if _, exists := events[e.ID]; exists {
		return apierrors.ItemAlreadyExists("event already exists", map[string]interface{}{"id": e.ID})
	}
	clone := *e
	events[e.ID] = &clone
	return nil
}

// GetEvent retrieves one event by id.
func (s *Store) GetEvent(ctx context.Context, userID, eventID string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.userEvents(userID)[eventID]
	if !ok {
		return nil, nil
	}
	clone := *e
	return &clone, nil
}

// QueryEvents returns every event matching the query's stream/time/running/state
// filters; the Types and Tags filters are not applied.
func (s *Store) QueryEvents(ctx context.Context, userID string, q models.EventQuery) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []*models.Event{}
	for _, e := range s.userEvents(userID) {
		if e.Deleted != nil {
			continue
		}
		switch q.State {
		case "trashed":
			if !e.Trashed {
				continue
			}
		case "all":
		default:
			if e.Trashed {
				continue
			}
		}
		if q.FromTime != nil && e.Time < *q.FromTime {
			continue
		}
		if q.ToTime != nil && e.Time > *q.ToTime {
			continue
		}
		if q.Running && e.Duration != nil {
			continue
		}
		if len(q.Streams) > 0 && !matchesStreamBlocks(e.StreamIDs, q.Streams) {
			continue
		}
		clone := *e
		result = append(result, &clone)
	}
	return result, nil
}

func matchesStreamBlocks(streamIDs []string, blocks []models.StreamQueryBlock) bool {
	has := func(id string) bool {
		for _, s := range streamIDs {
			if s == id {
				return true
			}
		}
		return false
	}
	for _, block := range blocks {
		ok := len(block.Any) == 0
		for _, id := range block.Any {
			if has(id) {
				ok = true
				break
			}
		}
		if !ok {
			continue
		}
		for _, id := range block.All {
			if !has(id) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for _, id := range block.Not {
			if has(id) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// UpdateEvent applies a partial update.
func (s *Store) UpdateEvent(ctx context.Context, userID, eventID string, req *models.UpdateEventRequest, integrity, modifiedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.userEvents(userID)[eventID]
	if !ok {
		return apierrors.UnknownResource("event")
	}
	if req.StreamIDs != nil {
		e.StreamIDs = req.StreamIDs
	}
	if req.Type != nil {
		e.Type = *req.Type
	}
	if req.Content != nil {
		e.Content = req.Content
	}
	if req.Time != nil {
		e.Time = *req.Time
	}
	if req.Duration != nil {
		e.Duration = req.Duration
	}
	if req.Tags != nil {
		e.Tags = req.Tags
	}
	if req.Description != nil {
		e.Description = req.Description
	}
	if req.ClientData != nil {
		e.ClientData = req.ClientData
	}
	if req.Trashed != nil {
		e.Trashed = *req.Trashed
	}
	e.Integrity = integrity
	e.Modified = time.Now()
	e.ModifiedBy = modifiedBy
	return nil
}

// TrashEvent marks an event trashed.
func (s *Store) TrashEvent(ctx context.Context, userID, eventID, modifiedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.userEvents(userID)[eventID]
	if !ok {
		return apierrors.UnknownResource("event")
	}
	e.Trashed = true
	e.Modified = time.Now()
	e.ModifiedBy = modifiedBy
	return nil
}

// DeleteEvent replaces an event with a {id, deleted} tombstone.
func (s *Store) DeleteEvent(ctx context.Context, userID, eventID string, deletedAt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.userEvents(userID)
	if _, ok := events[eventID]; !ok {
		return apierrors.UnknownResource("event")
	}
	deleted := deletedAt
	events[eventID] = &models.Event{ID: eventID, Deleted: &deleted}
	return nil
}

// Transact has no native transaction support: it simply invokes fn,
// relying on the store's own mutex to serialize access instead.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
