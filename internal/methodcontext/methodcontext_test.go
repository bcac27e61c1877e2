package methodcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/datacore/internal/models"
)

type fakeUsers struct{ id string }

func (f fakeUsers) ResolveUserID(ctx context.Context, username string) (string, error) {
	return f.id, nil
}

type fakeAccess struct{ access *models.Access }

func (f fakeAccess) ResolveAccessByToken(ctx context.Context, userID, token string) (*models.Access, error) {
	if f.access == nil || f.access.Token != token {
		return nil, nil
	}
	return f.access, nil
}

type fakeForest struct{ forest []*models.Stream }

func (f fakeForest) StreamForest(ctx context.Context, userID string) ([]*models.Stream, error) {
	return f.forest, nil
}

func baseDeps(access *models.Access) Deps {
	return Deps{
		Users:  fakeUsers{id: "u1"},
		Access: fakeAccess{access: access},
		Forest: fakeForest{},
	}
}

func TestNewMissingAuthHeader(t *testing.T) {
	_, err := New(context.Background(), baseDeps(nil), Source{}, "alice", "", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-access-token")
}

func TestNewUnknownToken(t *testing.T) {
	_, err := New(context.Background(), baseDeps(nil), Source{}, "alice", "tok123", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-access-token")
}

func TestNewExpiredAccessIsForbidden(t *testing.T) {
	past := int64(1)
	access := &models.Access{ID: "a1", Token: "tok123", Type: models.AccessTypeApp, Expires: &past}
	_, err := New(context.Background(), baseDeps(access), Source{}, "alice", "tok123", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestNewResolvesAccessAndCallerID(t *testing.T) {
	access := &models.Access{ID: "a1", Token: "tok123", Type: models.AccessTypeApp}
	mc, err := New(context.Background(), baseDeps(access), Source{Name: "web", IP: "127.0.0.1"}, "alice", "tok123 caller-9", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", mc.UserID())
	assert.Equal(t, "a1", mc.Access().ID)
	assert.Equal(t, "a1 caller-9", mc.TrackingAuthorID())
}

func TestNewWithoutCallerID(t *testing.T) {
	access := &models.Access{ID: "a1", Token: "tok123", Type: models.AccessTypePersonal}
	mc, err := New(context.Background(), baseDeps(access), Source{}, "alice", "tok123", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", mc.TrackingAuthorID())
}
