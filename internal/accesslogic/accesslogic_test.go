package accesslogic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestream/datacore/internal/models"
)

func strptr(s string) *string { return &s }

func streamPerm(id, level string) models.Permission {
	return models.Permission{StreamID: strptr(id), Level: level}
}

func tagPerm(tag, level string) models.Permission {
	return models.Permission{Tag: strptr(tag), Level: level}
}

// buildForest constructs the A->{A1,A2}, B, T forest used by scenario S2.
func buildForest() []*models.Stream {
	a1 := &models.Stream{ID: "A1", ParentID: strptr("A")}
	a2 := &models.Stream{ID: "A2", ParentID: strptr("A")}
	a := &models.Stream{ID: "A", Children: []*models.Stream{a1, a2}}
	b := &models.Stream{ID: "B"}
	tee := &models.Stream{ID: "T"}
	return []*models.Stream{a, b, tee}
}

func TestPermissionInheritance(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelManage),
	}}
	logic := New(access, forest)

	assert.True(t, logic.CanReadStream("A"))
	assert.True(t, logic.CanReadStream("A1"), "descendant should inherit the ancestor's level")
	assert.True(t, logic.CanReadStream("A2"))
	assert.False(t, logic.CanReadStream("T"), "T is unrelated to A and must not inherit")
	assert.False(t, logic.CanReadStream("B"))
}

func TestPermissionInheritanceAfterReparenting(t *testing.T) {
	// T moved under A: A's manage permission must now cover T.
	forest := buildForest()
	tee := forest[2]
	tee.ParentID = strptr("A")
	forest[0].Children = append(forest[0].Children, tee)
	forest = forest[:2]

	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelManage),
	}}
	logic := New(access, forest)
	assert.True(t, logic.CanReadStream("T"))
}

func TestHigherLevelWins(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelRead),
		streamPerm("A1", models.LevelManage),
	}}
	logic := New(access, forest)
	assert.True(t, logic.CanManageStream("A1"))
	assert.False(t, logic.CanManageStream("A"))

	// explicit read on A1 after manage must not downgrade it.
	access2 := &models.Access{ID: "a2", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A1", models.LevelManage),
		streamPerm("A", models.LevelRead),
	}}
	logic2 := New(access2, forest)
	assert.True(t, logic2.CanManageStream("A1"), "order of permissions must not matter, higher always wins")
}

func TestWildcardStreamPermission(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("*", models.LevelRead),
	}}
	logic := New(access, forest)
	assert.True(t, logic.CanReadStream("A"))
	assert.True(t, logic.CanReadStream("anything-unknown"))
}

func TestCreateOnlyNeverGrantsReadOrUpdate(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelCreateOnly),
	}}
	logic := New(access, forest)

	assert.True(t, logic.CanListStream("A"), "create-only still allows listing the target stream")
	assert.False(t, logic.CanReadStream("A"))
	assert.False(t, logic.CanUpdateStream("A"))
	assert.False(t, logic.CanManageStream("A"))
	assert.True(t, logic.CanContributeToStream("A"))
}

func TestStreamOnlyAccessImpliesReadAllTags(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelManage),
	}}
	logic := New(access, forest)
	assert.True(t, logic.CanReadTag("anything"))
}

func TestTagOnlyAccessImpliesReadAllStreams(t *testing.T) {
	forest := buildForest()
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		tagPerm("work", models.LevelRead),
	}}
	logic := New(access, forest)
	assert.True(t, logic.CanReadStream("B"))
	assert.True(t, logic.CanReadTag("work"))
	assert.False(t, logic.CanReadTag("personal"))
}

func TestFeaturePermission(t *testing.T) {
	access := &models.Access{ID: "a1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		{Feature: strptr("selfRevoke"), Setting: "forbidden"},
	}}
	logic := New(access, nil)
	setting, ok := logic.Feature("selfRevoke")
	require.True(t, ok)
	assert.Equal(t, "forbidden", setting)
}

func TestCanDeleteAccess(t *testing.T) {
	personal := &models.Access{ID: "p1", Type: models.AccessTypePersonal}
	target := &models.Access{ID: "other"}
	assert.True(t, New(personal, nil).CanDeleteAccess(target))

	appNoFeature := &models.Access{ID: "app1", Type: models.AccessTypeApp}
	assert.True(t, New(appNoFeature, nil).CanDeleteAccess(appNoFeature), "app may delete itself absent selfRevoke setting")

	appForbidden := &models.Access{ID: "app2", Type: models.AccessTypeApp, Permissions: []models.Permission{
		{Feature: strptr("selfRevoke"), Setting: "forbidden"},
	}}
	assert.False(t, New(appForbidden, nil).CanDeleteAccess(appForbidden))

	createdByApp := &models.Access{ID: "child", CreatedBy: "app1"}
	assert.True(t, New(appNoFeature, nil).CanDeleteAccess(createdByApp))

	shared := &models.Access{ID: "s1", Type: models.AccessTypeShared}
	assert.True(t, New(shared, nil).CanDeleteAccess(shared))
	assert.False(t, New(shared, nil).CanDeleteAccess(&models.Access{ID: "s2", Type: models.AccessTypeShared}))
}

func TestCanCreateAccess(t *testing.T) {
	forest := buildForest()
	this := &models.Access{ID: "app1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelManage),
	}}
	logic := New(this, forest)

	covered := &models.Access{Type: models.AccessTypeShared, Permissions: []models.Permission{
		streamPerm("A1", models.LevelRead),
	}}
	assert.True(t, logic.CanCreateAccess(covered))

	uncovered := &models.Access{Type: models.AccessTypeShared, Permissions: []models.Permission{
		streamPerm("B", models.LevelRead),
	}}
	assert.False(t, logic.CanCreateAccess(uncovered), "B is outside this access's coverage")

	elevated := &models.Access{Type: models.AccessTypeShared, Permissions: []models.Permission{
		streamPerm("A1", models.LevelManage),
	}}
	assert.True(t, logic.CanCreateAccess(elevated), "A1 rank inherits manage from A, so manage on A1 is still covered")

	notApp := &models.Access{Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A1", models.LevelRead),
	}}
	assert.False(t, logic.CanCreateAccess(notApp), "app accesses may only create shared accesses")
}

func TestCanCreateAccessDisqualifiedByCreateOnly(t *testing.T) {
	forest := buildForest()
	this := &models.Access{ID: "app1", Type: models.AccessTypeApp, Permissions: []models.Permission{
		streamPerm("A", models.LevelCreateOnly),
	}}
	logic := New(this, forest)
	candidate := &models.Access{Type: models.AccessTypeShared, Permissions: []models.Permission{
		streamPerm("A", models.LevelRead),
	}}
	assert.False(t, logic.CanCreateAccess(candidate))
}

func TestPersonalAccessIsImplicitManageAll(t *testing.T) {
	forest := buildForest()
	personal := &models.Access{ID: "p1", Type: models.AccessTypePersonal}
	logic := New(personal, forest)
	assert.True(t, logic.CanManageStream("A"))
	assert.True(t, logic.CanManageStream("B"))
	assert.True(t, logic.CanManageStream("T"))
}
