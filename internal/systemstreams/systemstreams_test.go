package systemstreams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/mall/memstore"
	"github.com/corestream/datacore/internal/models"
)

func TestWriteInitialAndGetActiveFields(t *testing.T) {
	m := mall.New(memstore.New(mall.LocalStoreID))
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.WriteInitial(ctx, m, "u1", map[string]string{"email": "alice@example.com"}, "access-1"))

	fields, err := r.GetActiveFields(ctx, m, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", fields["email"])
	assert.Equal(t, "en", fields["language"]) // default applied
}

func TestUpdateFieldDemotesPreviousActiveEvent(t *testing.T) {
	m := mall.New(memstore.New(mall.LocalStoreID))
	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.WriteInitial(ctx, m, "u1", map[string]string{"email": "alice@example.com"}, "access-1"))
	require.NoError(t, r.UpdateField(ctx, m, "u1", "email", "alice@new.com", "access-1"))

	fields, err := r.GetActiveFields(ctx, m, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice@new.com", fields["email"])

	all, err := m.QueryEvents(ctx, "u1", models.EventQuery{State: "all"})
	require.NoError(t, err)
	assert.Len(t, all, 3, "old and new email events plus the language default: the previous email event must remain, demoted, not deleted")
}

func TestUpdateFieldRejectsUnknownField(t *testing.T) {
	m := mall.New(memstore.New(mall.LocalStoreID))
	r := NewRegistry()
	ctx := context.Background()

	err := r.UpdateField(ctx, m, "u1", "nonexistent", "x", "access-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-resource")
}
