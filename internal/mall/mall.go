package mall

import (
	"context"
	"sort"

	"github.com/google/uuid"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/models"
)

// Mall multiplexes stream/event operations across every registered Store,
// translating between the globally-namespaced id space callers use and the
// store-local id space each Store implements against.
type Mall struct {
	storesByID map[string]Store
	order      []string // registration order, for root-forest concatenation
}

// New builds a Mall from an ordered list of stores. The first store
// registered should be the local store (id "local").
func New(stores ...Store) *Mall {
	m := &Mall{storesByID: map[string]Store{}}
	for _, s := range stores {
		m.storesByID[s.ID()] = s
		m.order = append(m.order, s.ID())
	}
	return m
}

func (m *Mall) store(id string) (Store, error) {
	s, ok := m.storesByID[id]
	if !ok {
		return nil, apierrors.UnknownReferencedResource("unknown store: " + id)
	}
	return s, nil
}

// GetStreams implements streams.get. When query.ParentID is nil or "*" with
// no id filter, the result is the concatenation, in store-registration
// order, of every stream of every store as a flat list: nested streams are
// included alongside the roots, each carrying its ParentID, and Children is
// not populated.
func (m *Mall) GetStreams(ctx context.Context, userID string, query models.StreamQuery) ([]*models.Stream, error) {
	if query.ID == nil && (query.ParentID == nil || *query.ParentID == "*") {
		all := []*models.Stream{}
		for _, id := range m.order {
			store := m.storesByID[id]
			sub, err := store.ListStreams(ctx, userID, models.StreamQuery{IncludeTrashed: query.IncludeTrashed})
			if err != nil {
				return nil, err
			}
			all = append(all, rewriteStreamIDs(id, sub)...)
		}
		return all, nil
	}

	storeID, localQuery := splitStreamQuery(query)
	store, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	streams, err := store.ListStreams(ctx, userID, localQuery)
	if err != nil {
		return nil, err
	}
	return rewriteStreamIDs(storeID, streams), nil
}

func splitStreamQuery(query models.StreamQuery) (storeID string, local models.StreamQuery) {
	local = query
	if query.ID != nil {
		sid, lid := parseStoreIdAndStoreItemId(*query.ID)
		storeID = sid
		local.ID = &lid
	}
	if query.ParentID != nil {
		sid, lid := parseStoreIdAndStoreItemId(*query.ParentID)
		if storeID == "" {
			storeID = sid
		}
		local.ParentID = &lid
	}
	if storeID == "" {
		storeID = LocalStoreID
	}
	return storeID, local
}

func rewriteStreamIDs(storeID string, streams []*models.Stream) []*models.Stream {
	for _, s := range streams {
		s.ID = getFullItemId(storeID, s.ID)
		if s.ParentID != nil {
			full := getFullItemId(storeID, *s.ParentID)
			s.ParentID = &full
		}
		rewriteStreamIDs(storeID, s.Children)
	}
	return streams
}

// CreateStream implements streams.create. Rejects invalid-request-structure
// when id and parentId belong to different stores. A blank s.ID is assigned
// a fresh local id, taking its store from ParentID when one is given.
func (m *Mall) CreateStream(ctx context.Context, userID string, s *models.Stream) error {
	var storeID, localID string
	if s.ID != "" {
		storeID, localID = parseStoreIdAndStoreItemId(s.ID)
	}
	if s.ParentID != nil {
		parentStoreID, parentLocalID := parseStoreIdAndStoreItemId(*s.ParentID)
		if s.ID != "" && parentStoreID != storeID {
			return apierrors.InvalidRequestStructure("stream and parent belong to different stores")
		}
		storeID = parentStoreID
		s.ParentID = &parentLocalID
	}
	if storeID == "" {
		storeID = LocalStoreID
	}
	if localID == "" {
		localID = uuid.NewString()
	}
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	s.ID = localID
	err = store.CreateStream(ctx, userID, s)
	s.ID = getFullItemId(storeID, localID)
	return err
}

// UpdateStream implements streams.update.
func (m *Mall) UpdateStream(ctx context.Context, userID, fullStreamID string, req *models.UpdateStreamRequest, modifiedBy string) error {
	storeID, localID := parseStoreIdAndStoreItemId(fullStreamID)
	if req.ParentID != nil {
		parentStoreID, parentLocalID := parseStoreIdAndStoreItemId(*req.ParentID)
		if parentStoreID != storeID {
			return apierrors.InvalidRequestStructure("stream and parent belong to different stores")
		}
		req.ParentID = &parentLocalID
	}
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	return store.UpdateStream(ctx, userID, localID, req, modifiedBy)
}

// DeleteStream implements streams.delete.
func (m *Mall) DeleteStream(ctx context.Context, userID, fullStreamID string) error {
	storeID, localID := parseStoreIdAndStoreItemId(fullStreamID)
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	return store.DeleteStream(ctx, userID, localID)
}

// GetEvent implements a single-event lookup by full id.
func (m *Mall) GetEvent(ctx context.Context, userID, fullEventID string) (*models.Event, error) {
	storeID, localID := parseStoreIdAndStoreItemId(fullEventID)
	store, err := m.store(storeID)
	if err != nil {
		return nil, err
	}
	e, err := store.GetEvent(ctx, userID, localID)
	if err != nil || e == nil {
		return e, err
	}
	rewriteEventIDs(storeID, e)
	return e, nil
}

func rewriteEventIDs(storeID string, e *models.Event) {
	e.ID = getFullItemId(storeID, e.ID)
	for i, sid := range e.StreamIDs {
		e.StreamIDs[i] = getFullItemId(storeID, sid)
	}
}

// QueryEvents implements events.get: the query is decomposed per store,
// results are concatenated and re-sorted/paginated at the Mall level.
func (m *Mall) QueryEvents(ctx context.Context, userID string, q models.EventQuery) ([]*models.Event, error) {
	perStore, err := splitEventQuery(q)
	if err != nil {
		return nil, err
	}

	all := []*models.Event{}
	for storeID, localQuery := range perStore {
		store, err := m.store(storeID)
		if err != nil {
			return nil, err
		}
		events, err := store.QueryEvents(ctx, userID, localQuery)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			rewriteEventIDs(storeID, e)
		}
		all = append(all, events...)
	}

	sortEvents(all, q.Sort)
	return paginate(all, q.Skip, q.Limit), nil
}

// splitEventQuery decomposes an outer EventQuery into one per-store
// EventQuery, rejecting AND-blocks that reference more than one store.
func splitEventQuery(q models.EventQuery) (map[string]models.EventQuery, error) {
	perStore := map[string]models.EventQuery{}
	ensure := func(storeID string) models.EventQuery {
		lq, ok := perStore[storeID]
		if !ok {
			lq = q
			lq.Streams = nil
		}
		return lq
	}

	if len(q.Streams) == 0 {
		perStore[LocalStoreID] = ensure(LocalStoreID)
		return perStore, nil
	}

	for _, block := range q.Streams {
		storeID := ""
		localBlock := models.StreamQueryBlock{}
		for _, full := range block.Any {
			sid, lid := parseStoreIdAndStoreItemId(full)
			if storeID == "" {
				storeID = sid
			} else if storeID != sid {
				return nil, apierrors.InvalidRequestStructure("stream query block references more than one store")
			}
			localBlock.Any = append(localBlock.Any, lid)
		}
		for _, full := range block.All {
			sid, lid := parseStoreIdAndStoreItemId(full)
			if storeID == "" {
				storeID = sid
			} else if storeID != sid {
				return nil, apierrors.InvalidRequestStructure("stream query block references more than one store")
			}
			localBlock.All = append(localBlock.All, lid)
		}
		for _, full := range block.Not {
			sid, lid := parseStoreIdAndStoreItemId(full)
			if storeID == "" {
				storeID = sid
			} else if storeID != sid {
				return nil, apierrors.InvalidRequestStructure("stream query block references more than one store")
			}
			localBlock.Not = append(localBlock.Not, lid)
		}
		if storeID == "" {
			storeID = LocalStoreID
		}
		lq := ensure(storeID)
		lq.Streams = append(lq.Streams, localBlock)
		perStore[storeID] = lq
	}
	return perStore, nil
}

func sortEvents(events []*models.Event, sortOrder string) {
	sort.SliceStable(events, func(i, j int) bool {
		if sortOrder == "time-asc" {
			return events[i].Time < events[j].Time
		}
		return events[i].Time > events[j].Time
	})
}

func paginate(events []*models.Event, skip, limit int) []*models.Event {
	if skip > 0 {
		if skip >= len(events) {
			return []*models.Event{}
		}
		events = events[skip:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}

// eventStoreID resolves the single store every streamId of an event must
// share, returning invalid-request-structure when they disagree or when id
// and streamIds disagree.
func eventStoreID(fullID string, streamIDs []string) (string, string, []string, error) {
	var storeID, localID string
	if fullID != "" {
		storeID, localID = parseStoreIdAndStoreItemId(fullID)
	}
	localStreams := make([]string, len(streamIDs))
	for i, full := range streamIDs {
		sid, lid := parseStoreIdAndStoreItemId(full)
		if fullID != "" {
			if sid != storeID {
				return "", "", nil, apierrors.InvalidRequestStructure("event id and streamIds belong to different stores")
			}
		} else if storeID == "" {
			storeID = sid
		} else if sid != storeID {
			return "", "", nil, apierrors.InvalidRequestStructure("event streamIds span more than one store")
		}
		localStreams[i] = lid
	}
	if storeID == "" {
		storeID = LocalStoreID
	}
	return storeID, localID, localStreams, nil
}

// CreateEvent implements events.create. A blank e.ID is assigned a fresh
// local id once the owning store is resolved from e.StreamIDs.
func (m *Mall) CreateEvent(ctx context.Context, userID string, e *models.Event) error {
	storeID, localID, localStreams, err := eventStoreID(e.ID, e.StreamIDs)
	if err != nil {
		return err
	}
	if localID == "" {
		localID = uuid.NewString()
	}
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	e.ID = localID
	e.StreamIDs = localStreams
	err = store.CreateEvent(ctx, userID, e)
	rewriteEventIDs(storeID, e)
	return err
}

// UpdateEvent implements events.update.
func (m *Mall) UpdateEvent(ctx context.Context, userID, fullEventID string, req *models.UpdateEventRequest, integrity, modifiedBy string) error {
	storeID, localID := parseStoreIdAndStoreItemId(fullEventID)
	if req.StreamIDs != nil {
		localStreams := make([]string, len(req.StreamIDs))
		for i, full := range req.StreamIDs {
			sid, lid := parseStoreIdAndStoreItemId(full)
			if sid != storeID {
				return apierrors.InvalidRequestStructure("event streamIds span more than one store")
			}
			localStreams[i] = lid
		}
		req.StreamIDs = localStreams
	}
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	return store.UpdateEvent(ctx, userID, localID, req, integrity, modifiedBy)
}

// TrashEvent implements the soft-delete step of events.delete.
func (m *Mall) TrashEvent(ctx context.Context, userID, fullEventID, modifiedBy string) error {
	storeID, localID := parseStoreIdAndStoreItemId(fullEventID)
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	return store.TrashEvent(ctx, userID, localID, modifiedBy)
}

// DeleteEvent implements the hard-delete step of events.delete.
func (m *Mall) DeleteEvent(ctx context.Context, userID, fullEventID string, deletedAt float64) error {
	storeID, localID := parseStoreIdAndStoreItemId(fullEventID)
	store, err := m.store(storeID)
	if err != nil {
		return err
	}
	return store.DeleteEvent(ctx, userID, localID, deletedAt)
}

// Transaction groups per-store transactions, created lazily as each store is
// first touched; a store whose Transact is a no-op stub still participates
// as a no-op.
type Transaction struct {
	mall    *Mall
	pending map[string][]func(ctx context.Context) error
}

// NewTransaction starts a Mall-scoped transaction.
func (m *Mall) NewTransaction() *Transaction {
	return &Transaction{mall: m, pending: map[string][]func(ctx context.Context) error{}}
}

// Do queues fn to run inside the named store's transaction.
func (t *Transaction) Do(storeID string, fn func(ctx context.Context) error) {
	t.pending[storeID] = append(t.pending[storeID], fn)
}

// Commit executes every queued per-store function inside that store's
// native transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	for storeID, fns := range t.pending {
		store, err := t.mall.store(storeID)
		if err != nil {
			return err
		}
		if err := store.Transact(ctx, func(ctx context.Context) error {
			for _, fn := range fns {
				if err := fn(ctx); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}
