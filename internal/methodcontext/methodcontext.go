// Package methodcontext builds the per-request state threaded through every
// method step: which user, which access, who to blame for a mutation, and
// the request's tracing/source metadata.
//
// MethodContext depends only on small interfaces (UserResolver,
// AccessResolver, StreamForestProvider) rather than on the concrete Mall or
// Storage types, so it can be built and tested before those packages exist
// and without an import cycle back to them — Mall and Storage satisfy these
// interfaces structurally.
package methodcontext

import (
	"context"
	"strings"
	"time"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/accesslogic"
	"github.com/corestream/datacore/internal/models"
)

// Source identifies the caller of a request for audit and tracing.
type Source struct {
	Name string
	IP   string
}

// UserResolver looks up a userId from a username.
type UserResolver interface {
	ResolveUserID(ctx context.Context, username string) (string, error)
}

// AccessResolver looks up an access record by token, scoped to a user.
type AccessResolver interface {
	ResolveAccessByToken(ctx context.Context, userID, token string) (*models.Access, error)
}

// StreamForestProvider supplies the stream forest AccessLogic expands
// permissions against.
type StreamForestProvider interface {
	StreamForest(ctx context.Context, userID string) ([]*models.Stream, error)
}

// CustomAuthHook lets a deployment reject an otherwise-valid access (e.g. an
// IP allowlist check); returning a non-nil error fails the request with
// invalid-access-token.
type CustomAuthHook func(ctx context.Context, access *models.Access, source Source) error

// Deps bundles the collaborators a Context needs to resolve itself.
type Deps struct {
	Users   UserResolver
	Access  AccessResolver
	Forest  StreamForestProvider
	AuthHook CustomAuthHook
}

// Context is the per-request state built once at the top of the pipeline.
type Context struct {
	Source   Source
	Username string
	Headers  map[string]string
	Query    map[string]string
	TraceID  string

	userID string
	access *models.Access
	logic  *accesslogic.Logic

	// CallerID is the optional second token of the auth string
	// ("<token> <callerId>"), stamped alongside the access id in
	// createdBy/modifiedBy.
	CallerID string

	deps Deps
}

// New builds a Context from raw request fields. auth is the raw header or
// query value: "<token>" or "<token> <callerId>".
func New(ctx context.Context, deps Deps, source Source, username, auth string, headers, query map[string]string) (*Context, error) {
	token, callerID := splitAuth(auth)
	if token == "" {
		return nil, apierrors.InvalidAccessToken("missing access token")
	}

	mc := &Context{
		Source:   source,
		Username: username,
		Headers:  headers,
		Query:    query,
		CallerID: callerID,
		deps:     deps,
	}

	userID, err := deps.Users.ResolveUserID(ctx, username)
	if err != nil {
		return nil, apierrors.Unexpected(err)
	}
	if userID == "" {
		return nil, apierrors.InvalidAccessToken("unknown user or access token")
	}
	mc.userID = userID

	access, err := deps.Access.ResolveAccessByToken(ctx, userID, token)
	if err != nil {
		return nil, apierrors.Unexpected(err)
	}
	if access == nil {
		return nil, apierrors.InvalidAccessToken("unknown access token")
	}
	if access.Deleted != nil {
		return nil, apierrors.InvalidAccessToken("access token revoked")
	}
	if access.IsExpired(time.Now()) {
		return nil, apierrors.Forbidden("access has expired")
	}

	if deps.AuthHook != nil {
		if err := deps.AuthHook(ctx, access, source); err != nil {
			return nil, apierrors.InvalidAccessToken(err.Error())
		}
	}

	mc.access = access

	forest, err := deps.Forest.StreamForest(ctx, userID)
	if err != nil {
		return nil, apierrors.Unexpected(err)
	}
	mc.logic = accesslogic.New(access, forest)

	return mc, nil
}

// splitAuth separates the raw auth string into its token and optional
// caller-id components, space-separated per the wire format.
func splitAuth(auth string) (token, callerID string) {
	auth = strings.TrimSpace(auth)
	if auth == "" {
		return "", ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 {
		return parts[0], strings.TrimSpace(parts[1])
	}
	return parts[0], ""
}

// UserID returns the resolved userId for this request.
func (mc *Context) UserID() string { return mc.userID }

// Access returns the resolved access record.
func (mc *Context) Access() *models.Access { return mc.access }

// AccessLogic returns the permission evaluator for the resolved access.
func (mc *Context) AccessLogic() *accesslogic.Logic { return mc.logic }

// TrackingAuthorID is stamped into createdBy/modifiedBy on every mutation:
// the access id alone, or "<accessId> <callerId>" when a caller id was
// supplied in the auth string.
func (mc *Context) TrackingAuthorID() string {
	if mc.CallerID == "" {
		return mc.access.ID
	}
	return mc.access.ID + " " + mc.CallerID
}
