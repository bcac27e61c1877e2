package app

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/corestream/datacore/internal/audit"
	"github.com/corestream/datacore/internal/auth"
	"github.com/corestream/datacore/internal/cache"
	"github.com/corestream/datacore/internal/config"
	"github.com/corestream/datacore/internal/db"
	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/mall/memstore"
	"github.com/corestream/datacore/internal/methodcontext"
	"github.com/corestream/datacore/internal/models"
	"github.com/corestream/datacore/internal/pipeline"
	"github.com/corestream/datacore/internal/streaming"
	"github.com/corestream/datacore/internal/synchro"
	"github.com/corestream/datacore/internal/systemstreams"
)

// newTestApp wires an Application around a sqlmock-backed database and an
// in-memory Mall (local store plus a "dummy" second store), without a real
// Redis or NATS connection — mirroring the disabled-cache, disabled-synchro
// degraded mode every component already supports standalone.
func newTestApp(t *testing.T) (*Application, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	disabledCache, err := cache.NewCache(cache.Config{Enabled: false})
	require.NoError(t, err)

	a := &Application{
		Config:   config.NewTestConfig(),
		Database: db.NewDatabaseForTesting(sqlDB),
		Users:    db.NewUserDB(sqlDB),
		Accesses: db.NewAccessDB(sqlDB),
		Sessions: db.NewSessionDB(sqlDB),
		Cache:    disabledCache,
	}
	a.SessionStore = auth.NewSessionStore(disabledCache)
	a.TokenHasher = auth.NewTokenHasher()
	a.AuthProviders = auth.NewRegistry()
	// An in-memory local store keeps these tests independent of sqlmock
	// expectation ordering for every stream/event write; internal/mall's own
	// tests use the same substitution.
	a.Mall = mall.New(memstore.New(mall.LocalStoreID), memstore.New("dummy"))
	a.SystemStreams = systemstreams.NewRegistry()
	a.Streams = streaming.NewHub()
	a.Audit = audit.New(audit.NewStorageSink(a.Mall, audit.NewFilter(nil, nil)), nil)

	synchroClient, err := synchro.New(synchro.Config{}, nil)
	require.NoError(t, err)
	a.Synchro = synchroClient

	a.Pipeline = pipeline.New()
	a.registerMethods()

	return a, mock
}

// fakeUsers/fakeAccess/fakeForest mirror the same three small interfaces
// internal/methodcontext's own tests fake out, letting manageAllContext build
// a real methodcontext.Context without a database round trip.
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

// manageAllContext builds a MethodContext for a personal access holding a
// wildcard manage permission, sufficient for every capability check
// internal/accesslogic exposes, against the given stream forest.
func manageAllContext(t *testing.T, userID string, forest []*models.Stream) *methodcontext.Context {
	t.Helper()

	wildcard := "*"
	access := &models.Access{
		ID:          "access-root",
		Token:       "test-token",
		Type:        models.AccessTypePersonal,
		Permissions: []models.Permission{{StreamID: &wildcard, Level: models.LevelManage}},
	}
	deps := methodcontext.Deps{
		Users:  fakeUsers{id: userID},
		Access: fakeAccess{access: access},
		Forest: fakeForest{forest: forest},
	}
	mc, err := methodcontext.New(context.Background(), deps, methodcontext.Source{}, "alice", "test-token", nil, nil)
	require.NoError(t, err)
	return mc
}

func TestAuthLoginSucceedsWithValidPassword(t *testing.T) {
	a, mock := newTestApp(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("user-1", "alice", "alice@example.com", "en", nil, string(hash), time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	mc := manageAllContext(t, "user-1", nil)
	mc.Username = "alice"

	call := &pipeline.Call{Params: map[string]interface{}{"password": "correct horse", "appId": "test-app"}}
	err = a.authLogin(ctx, mc, call)
	require.NoError(t, err)

	result := call.Result.(map[string]interface{})
	assert.NotEmpty(t, result["token"])
}

func TestAuthLoginRejectsWrongPassword(t *testing.T) {
	a, mock := newTestApp(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("user-1", "alice", "alice@example.com", "en", nil, string(hash), time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)

	mc := manageAllContext(t, "user-1", nil)
	mc.Username = "alice"

	call := &pipeline.Call{Params: map[string]interface{}{"password": "wrong"}}
	err = a.authLogin(ctx, mc, call)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-credentials")
}

func TestAuthLoginRequiresTOTPCodeAfterEnrollment(t *testing.T) {
	a, mock := newTestApp(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	mc := manageAllContext(t, "user-1", nil)
	mc.Username = "alice"

	enrollCall := &pipeline.Call{}
	require.NoError(t, a.authTOTPEnroll(ctx, mc, enrollCall))
	secret := enrollCall.Result.(map[string]interface{})["secret"].(string)
	require.NotEmpty(t, secret)

	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("user-1", "alice", "alice@example.com", "en", nil, string(hash), time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)

	noCodeCall := &pipeline.Call{Params: map[string]interface{}{"password": "correct horse"}}
	err = a.authLogin(ctx, mc, noCodeCall)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-credentials")

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	rows2 := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("user-1", "alice", "alice@example.com", "en", nil, string(hash), time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows2)
	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	withCodeCall := &pipeline.Call{Params: map[string]interface{}{"password": "correct horse", "totpCode": code}}
	require.NoError(t, a.authLogin(ctx, mc, withCodeCall))
}

func TestEventsCreateRejectsOverlappingSingleActivity(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Mall.CreateStream(ctx, "user-1", &models.Stream{ID: "sleep", Name: "Sleep", SingleActivity: true}))
	forest, err := a.Mall.GetStreams(ctx, "user-1", models.StreamQuery{})
	require.NoError(t, err)

	mc := manageAllContext(t, "user-1", forest)

	duration := 3600.0
	createCall := &pipeline.Call{Params: map[string]interface{}{
		"streamIds": []string{"sleep"}, "type": "activity/plain", "time": 1000.0, "duration": duration,
	}}
	require.NoError(t, a.eventsCreate(ctx, mc, createCall))

	overlapCall := &pipeline.Call{Params: map[string]interface{}{
		"streamIds": []string{"sleep"}, "type": "activity/plain", "time": 1500.0, "duration": duration,
	}}
	err = a.eventsCreate(ctx, mc, overlapCall)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid-operation")

	adjacentCall := &pipeline.Call{Params: map[string]interface{}{
		"streamIds": []string{"sleep"}, "type": "activity/plain", "time": 4600.0, "duration": duration,
	}}
	assert.NoError(t, a.eventsCreate(ctx, mc, adjacentCall))
}

func TestEventsCreateAssignsStoreFromStreamsWhenIDBlank(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Mall.CreateStream(ctx, "user-1", &models.Stream{ID: "mariana", Name: "Mariana"}))
	forest, err := a.Mall.GetStreams(ctx, "user-1", models.StreamQuery{})
	require.NoError(t, err)

	mc := manageAllContext(t, "user-1", forest)

	call := &pipeline.Call{Params: map[string]interface{}{
		"streamIds": []string{":dummy:mariana"}, "type": "note/txt", "content": "hi",
	}}
	require.NoError(t, a.eventsCreate(ctx, mc, call))

	result := call.Result.(map[string]interface{})
	event := result["event"].(*models.Event)
	assert.True(t, strings.HasPrefix(event.ID, ":dummy:"))
	assert.NotEqual(t, ":dummy:", event.ID)
}

// tokenArg captures the token column CreateAccess writes.
type tokenArg struct{ stored *string }

func (a tokenArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	*a.stored = s
	return ok
}

func TestAccessesCreateDigestsTokenForLaterLookup(t *testing.T) {
	a, mock := newTestApp(t)
	ctx := context.Background()

	var stored string
	mock.ExpectExec("INSERT INTO accesses").
		WithArgs(sqlmock.AnyArg(), "user-1", tokenArg{&stored},
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mc := manageAllContext(t, "user-1", nil)

	call := &pipeline.Call{Params: map[string]interface{}{
		"name": "a shared app", "type": "shared",
		"permissions": []map[string]interface{}{{"streamId": "*", "level": "read"}},
	}}
	require.NoError(t, a.accessesCreate(ctx, mc, call))

	result := call.Result.(map[string]interface{})
	access := result["access"].(models.Access)
	assert.NotEqual(t, "", access.Token, "plaintext token returned to the caller")

	digest := a.TokenHasher.HashTokenSHA256(access.Token)
	assert.NotEqual(t, digest, access.Token)
	assert.Equal(t, digest, stored, "the token column holds the digest, not the plaintext")
}
