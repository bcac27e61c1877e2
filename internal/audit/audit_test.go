package audit

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/mall/memstore"
	"github.com/corestream/datacore/internal/models"
)

func TestFilterAllToken(t *testing.T) {
	f := NewFilter([]string{"all"}, nil)
	assert.True(t, f.Matches("events.get"))
	assert.True(t, f.Matches("auth.login"))
}

func TestFilterClassAllExpansionWithExclude(t *testing.T) {
	// S5: include events.all, exclude events.get
	f := NewFilter([]string{"events.all"}, []string{"events.get"})
	assert.True(t, f.Matches("events.create"))
	assert.False(t, f.Matches("events.get"))
	assert.False(t, f.Matches("auth.login"))
}

func TestFilterDefaultsIncludeToAll(t *testing.T) {
	f := NewFilter(nil, nil)
	assert.True(t, f.Matches("anything.at.all"))
}

func TestStorageSinkWritesAuditEvent(t *testing.T) {
	m := mall.New(memstore.New(mall.LocalStoreID))
	sink := NewStorageSink(m, NewFilter(nil, nil))
	ctx := context.Background()

	err := sink.Record(ctx, "u1", Record{
		Action:   "events.create",
		AccessID: "access-1",
		Key:      "e1",
		Integrity: "deadbeef",
	})
	require.NoError(t, err)

	events, err := m.QueryEvents(ctx, "u1", models.EventQuery{State: "all"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, validEventType, events[0].Type)
	assert.Contains(t, events[0].StreamIDs, ":_audit:access-access-1")
	assert.Contains(t, events[0].StreamIDs, ":_audit:action-events.create")
}

func TestStorageSinkSkipsFilteredAction(t *testing.T) {
	m := mall.New(memstore.New(mall.LocalStoreID))
	sink := NewStorageSink(m, NewFilter([]string{"events.all"}, []string{"events.get"}))
	ctx := context.Background()

	require.NoError(t, sink.Record(ctx, "u1", Record{Action: "events.get", AccessID: "access-1"}))

	events, err := m.QueryEvents(ctx, "u1", models.EventQuery{State: "all"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

type bufWriter struct {
	lines []string
}

func (b *bufWriter) WriteLevel(level, line string) error {
	b.lines = append(b.lines, level+": "+line)
	return nil
}

func TestSyslogSinkRendersTemplate(t *testing.T) {
	buf := &bufWriter{}
	sink := NewSyslogSink(buf, "user={userid} action={action} msg={content.message}", NewFilter(nil, nil))

	err := sink.Record("u1", Record{Action: "auth.login", IsError: true, Message: "bad credentials"})
	require.NoError(t, err)
	require.Len(t, buf.lines, 1)
	assert.Contains(t, buf.lines[0], "user=u1")
	assert.Contains(t, buf.lines[0], "action=auth.login")
	assert.Contains(t, buf.lines[0], "msg=bad credentials")
}

func TestSyslogSinkLeavesUnresolvedPlaceholderVerbatim(t *testing.T) {
	buf := &bufWriter{}
	sink := NewSyslogSink(buf, "{nonexistent.path}", NewFilter(nil, nil))

	err := sink.Record("u1", Record{Action: "events.get"})
	require.NoError(t, err)
	require.Len(t, buf.lines, 1)
	assert.True(t, strings.Contains(buf.lines[0], "{nonexistent.path}"))
}

func TestAuditRecordNeverFailsOnNilSinks(t *testing.T) {
	a := New(nil, nil)
	a.Record(context.Background(), "u1", Record{Action: "events.get"})
}
