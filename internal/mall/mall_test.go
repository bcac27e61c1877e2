package mall

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/datacore/internal/mall/memstore"
	"github.com/corestream/datacore/internal/models"
)

func TestParseStoreIdAndStoreItemId(t *testing.T) {
	cases := []struct {
		full      string
		storeID   string
		localID   string
	}{
		{"abc123", LocalStoreID, "abc123"},
		{":demo:", "demo", "*"},
		{":demo:stream1", "demo", "stream1"},
		{":system:language", LocalStoreID, ":system:language"},
		{":_system:active", LocalStoreID, ":_system:active"},
	}
	for _, c := range cases {
		storeID, localID := parseStoreIdAndStoreItemId(c.full)
		assert.Equal(t, c.storeID, storeID, c.full)
		assert.Equal(t, c.localID, localID, c.full)
	}
}

func TestGetFullItemId(t *testing.T) {
	assert.Equal(t, "abc", getFullItemId(LocalStoreID, "abc"))
	assert.Equal(t, ":demo:", getFullItemId("demo", "*"))
	assert.Equal(t, ":demo:stream1", getFullItemId("demo", "stream1"))
}

func TestGetStreamsConcatenatesRootForestsInRegistrationOrder(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	require.NoError(t, local.CreateStream(ctx, "u1", &models.Stream{ID: "a", Name: "A"}))
	require.NoError(t, demo.CreateStream(ctx, "u1", &models.Stream{ID: "b", Name: "B"}))

	streams, err := m.GetStreams(ctx, "u1", models.StreamQuery{})
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.Equal(t, "a", streams[0].ID)
	assert.Equal(t, ":demo:b", streams[1].ID)
}

func TestCreateStreamRejectsCrossStoreParent(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	parent := ":demo:root"
	err := m.CreateStream(ctx, "u1", &models.Stream{ID: "a", Name: "A", ParentID: &parent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-request-structure")
}

func TestQueryEventsRejectsCrossStoreBlock(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	_, err := m.QueryEvents(ctx, "u1", models.EventQuery{
		Streams: []models.StreamQueryBlock{{Any: []string{"a", ":demo:b"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-request-structure")
}

func TestQueryEventsConcatenatesAndSorts(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	require.NoError(t, local.CreateEvent(ctx, "u1", &models.Event{ID: "e1", StreamIDs: []string{"s1"}, Time: 10}))
	require.NoError(t, demo.CreateEvent(ctx, "u1", &models.Event{ID: "e2", StreamIDs: []string{"s2"}, Time: 20}))

	events, err := m.QueryEvents(ctx, "u1", models.EventQuery{Sort: "time-asc"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, ":demo:e2", events[1].ID)
}

func TestCreateEventRejectsMismatchedStreamStore(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	err := m.CreateEvent(ctx, "u1", &models.Event{ID: ":demo:e1", StreamIDs: []string{"s1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-request-structure")
}

func TestCreateEventAssignsStoreFromStreamsWhenIDBlank(t *testing.T) {
	local := memstore.New(LocalStoreID)
	demo := memstore.New("demo")
	m := New(local, demo)
	ctx := context.Background()

	require.NoError(t, demo.CreateStream(ctx, "u1", &models.Stream{ID: "s1", Name: "S1"}))

	e := &models.Event{StreamIDs: []string{":demo:s1"}, Type: "note/txt"}
	require.NoError(t, m.CreateEvent(ctx, "u1", e))
	assert.True(t, strings.HasPrefix(e.ID, ":demo:"))
	assert.NotEqual(t, ":demo:", e.ID)
}

func TestCreateStreamAssignsIDWhenBlank(t *testing.T) {
	local := memstore.New(LocalStoreID)
	m := New(local)
	ctx := context.Background()

	s := &models.Stream{Name: "unnamed"}
	require.NoError(t, m.CreateStream(ctx, "u1", s))
	assert.NotEmpty(t, s.ID)
}
