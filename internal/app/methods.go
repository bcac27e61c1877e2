// registerMethods binds every "namespace.action" method name to its step
// chain. Each method is a single step: decode params, check the access's
// permissions against the stream forest, apply the mutation through the
// Mall (or the user/session stores for account and auth methods), then
// record an audit entry and invalidate the cache slots the change affects.
package app

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/corestream/datacore/internal/audit"
	"github.com/corestream/datacore/internal/auth"
	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/integrity"
	"github.com/corestream/datacore/internal/methodcontext"
	"github.com/corestream/datacore/internal/models"
	"github.com/corestream/datacore/internal/pipeline"
	"github.com/corestream/datacore/internal/sanitize"
	"github.com/corestream/datacore/internal/validator"
)

// broadcastEvent fans a written event out to any open events.getStreamed
// connection for userID; marshal failures are swallowed since the write
// itself already succeeded and a streaming subscriber is best-effort.
func (a *Application) broadcastEvent(userID string, e *models.Event) {
	if a.Streams == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{"event": e})
	if err != nil {
		return
	}
	a.Streams.BroadcastToUser(userID, payload)
}

const rootStream = "*"

func (a *Application) registerMethods() {
	a.Pipeline.Register("events.get", a.eventsGet)
	a.Pipeline.Register("events.create", a.eventsCreate)
	a.Pipeline.Register("events.update", a.eventsUpdate)
	a.Pipeline.Register("events.delete", a.eventsDelete)

	a.Pipeline.Register("streams.get", a.streamsGet)
	a.Pipeline.Register("streams.create", a.streamsCreate)
	a.Pipeline.Register("streams.update", a.streamsUpdate)
	a.Pipeline.Register("streams.delete", a.streamsDelete)

	a.Pipeline.Register("accesses.get", a.accessesGet)
	a.Pipeline.Register("accesses.create", a.accessesCreate)
	a.Pipeline.Register("accesses.delete", a.accessesDelete)

	a.Pipeline.Register("account.get", a.accountGet)
	a.Pipeline.Register("account.update", a.accountUpdate)

	a.Pipeline.Register("auth.login", a.authLogin)
	a.Pipeline.Register("auth.logout", a.authLogout)
	a.Pipeline.Register("auth.totpEnroll", a.authTOTPEnroll)
}

// decodeParams round-trips call.Params (already a map[string]interface{}
// decoded off the wire, plus any route params httpapi folded in) into a
// typed request struct.
// decodeParams round-trips raw through JSON into out, then runs out's
// `validate` struct tags (internal/validator) so every method gets
// field-level validation for free instead of each handler checking its own
// request shape by hand.
func decodeParams(raw interface{}, out interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return apierrors.InvalidParametersFormat(err.Error())
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return apierrors.InvalidParametersFormat(err.Error())
	}
	if err := validator.ValidateStruct(out); err != nil {
		return apierrors.InvalidParametersFormat(err.Error())
	}
	return nil
}

func (a *Application) streamForest(ctx context.Context, userID string) ([]*models.Stream, error) {
	return (&forestProvider{app: a}).StreamForest(ctx, userID)
}

func (a *Application) recordAudit(ctx context.Context, mc *methodcontext.Context, action, key, digest string) {
	a.Audit.Record(ctx, mc.UserID(), audit.Record{
		Action:    action,
		Source:    audit.Source{Name: mc.Source.Name, IP: mc.Source.IP},
		AccessID:  mc.Access().ID,
		Key:       key,
		Integrity: digest,
	})
}

func (a *Application) recordAuditError(ctx context.Context, mc *methodcontext.Context, action string, err error) {
	a.Audit.Record(ctx, mc.UserID(), audit.Record{
		Action:   action,
		Source:   audit.Source{Name: mc.Source.Name, IP: mc.Source.IP},
		AccessID: mc.Access().ID,
		IsError:  true,
		Message:  err.Error(),
	})
}

// ---------------------------------------------------------------- events --

type eventsGetParams struct {
	Streams       []string `json:"streams,omitempty"`
	Types         []string `json:"types,omitempty"`
	FromTime      *float64 `json:"fromTime,omitempty"`
	ToTime        *float64 `json:"toTime,omitempty"`
	Running       bool     `json:"running,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	State         string   `json:"state,omitempty"`
	ModifiedSince *float64 `json:"modifiedSince,omitempty"`
	Sort          string   `json:"sort,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	Skip          int      `json:"skip,omitempty"`
}

func (a *Application) eventsGet(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var p eventsGetParams
	if err := decodeParams(call.Params, &p); err != nil {
		return err
	}

	q := models.EventQuery{
		Types: p.Types, FromTime: p.FromTime, ToTime: p.ToTime, Running: p.Running,
		Tags: p.Tags, State: p.State, ModifiedSince: p.ModifiedSince, Sort: p.Sort,
		Limit: p.Limit, Skip: p.Skip,
	}
	if len(p.Streams) > 0 {
		q.Streams = []models.StreamQueryBlock{{Any: p.Streams}}
	}

	events, err := a.Mall.QueryEvents(ctx, mc.UserID(), q)
	if err != nil {
		return apierrors.Unexpected(err)
	}

	visible := make([]*models.Event, 0, len(events))
	for _, e := range events {
		if eventReadable(mc, e) {
			visible = append(visible, e)
		}
	}

	call.Result = map[string]interface{}{"events": visible}
	a.recordAudit(ctx, mc, "events.get", "", "")
	return nil
}

func eventReadable(mc *methodcontext.Context, e *models.Event) bool {
	logic := mc.AccessLogic()
	for _, sid := range e.StreamIDs {
		if logic.CanReadStream(sid) {
			return true
		}
	}
	for _, tag := range e.Tags {
		if logic.CanReadTag(tag) {
			return true
		}
	}
	return false
}

func (a *Application) eventsCreate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req models.CreateEventRequest
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if len(req.StreamIDs) == 0 {
		return apierrors.InvalidRequestStructure("streamIds is required")
	}
	for _, sid := range req.StreamIDs {
		if !mc.AccessLogic().CanContributeToStream(sid) {
			return apierrors.Forbidden("access cannot create events on stream " + sid)
		}
	}

	now := time.Now()
	e := &models.Event{
		ID:          req.ID,
		StreamIDs:   req.StreamIDs,
		Type:        req.Type,
		Content:     sanitize.Content(req.Content),
		Duration:    req.Duration,
		Tags:        req.Tags,
		Description: sanitize.TextPtr(req.Description),
		ClientData:  sanitize.ClientData(req.ClientData),
		Created:     now,
		Modified:    now,
		CreatedBy:   mc.TrackingAuthorID(),
		ModifiedBy:  mc.TrackingAuthorID(),
	}
	if req.Time != nil {
		e.Time = *req.Time
	} else {
		e.Time = float64(now.Unix())
	}

	if err := a.enforceSingleActivity(ctx, mc.UserID(), e.StreamIDs, e.Time, e.Duration, ""); err != nil {
		a.recordAuditError(ctx, mc, "events.create", err)
		return err
	}

	digest, err := integrity.OfValue(e)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	e.Integrity = digest

	if err := a.Mall.CreateEvent(ctx, mc.UserID(), e); err != nil {
		a.recordAuditError(ctx, mc, "events.create", err)
		return err
	}

	call.Result = map[string]interface{}{"event": e}
	a.recordAudit(ctx, mc, "events.create", e.ID, e.Integrity)
	a.broadcastEvent(mc.UserID(), e)
	return nil
}

func (a *Application) eventsUpdate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req struct {
		ID string `json:"id"`
		models.UpdateEventRequest
	}
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apierrors.InvalidItemID("event id is required")
	}
	req.UpdateEventRequest.Content = sanitize.Content(req.UpdateEventRequest.Content)
	req.UpdateEventRequest.Description = sanitize.TextPtr(req.UpdateEventRequest.Description)
	req.UpdateEventRequest.ClientData = sanitize.ClientData(req.UpdateEventRequest.ClientData)

	existing, err := a.Mall.GetEvent(ctx, mc.UserID(), req.ID)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	if existing == nil {
		return apierrors.UnknownResource("event " + req.ID)
	}
	for _, sid := range existing.StreamIDs {
		if !mc.AccessLogic().CanUpdateStream(sid) {
			return apierrors.Forbidden("access cannot update events on stream " + sid)
		}
	}
	if req.UpdateEventRequest.StreamIDs != nil {
		for _, sid := range req.UpdateEventRequest.StreamIDs {
			if !mc.AccessLogic().CanContributeToStream(sid) {
				return apierrors.Forbidden("access cannot move events onto stream " + sid)
			}
		}
	}

	newTime := existing.Time
	if req.Time != nil {
		newTime = *req.Time
	}
	newDuration := existing.Duration
	if req.Duration != nil {
		newDuration = req.Duration
	}
	newStreams := existing.StreamIDs
	if req.UpdateEventRequest.StreamIDs != nil {
		newStreams = req.UpdateEventRequest.StreamIDs
	}
	if err := a.enforceSingleActivity(ctx, mc.UserID(), newStreams, newTime, newDuration, existing.ID); err != nil {
		a.recordAuditError(ctx, mc, "events.update", err)
		return err
	}

	digest, err := integrity.OfValue(req.UpdateEventRequest)
	if err != nil {
		return apierrors.Unexpected(err)
	}

	if err := a.Mall.UpdateEvent(ctx, mc.UserID(), req.ID, &req.UpdateEventRequest, digest, mc.TrackingAuthorID()); err != nil {
		a.recordAuditError(ctx, mc, "events.update", err)
		return err
	}

	updated, err := a.Mall.GetEvent(ctx, mc.UserID(), req.ID)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	call.Result = map[string]interface{}{"event": updated}
	a.recordAudit(ctx, mc, "events.update", req.ID, digest)
	return nil
}

func (a *Application) eventsDelete(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apierrors.InvalidItemID("event id is required")
	}

	existing, err := a.Mall.GetEvent(ctx, mc.UserID(), req.ID)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	if existing == nil {
		return apierrors.UnknownResource("event " + req.ID)
	}
	for _, sid := range existing.StreamIDs {
		if !mc.AccessLogic().CanUpdateStream(sid) {
			return apierrors.Forbidden("access cannot delete events on stream " + sid)
		}
	}

	if !existing.Trashed {
		if err := a.Mall.TrashEvent(ctx, mc.UserID(), req.ID, mc.TrackingAuthorID()); err != nil {
			a.recordAuditError(ctx, mc, "events.delete", err)
			return err
		}
		call.Result = map[string]interface{}{"event": map[string]interface{}{"id": req.ID, "trashed": true}}
	} else {
		if err := a.Mall.DeleteEvent(ctx, mc.UserID(), req.ID, float64(time.Now().Unix())); err != nil {
			a.recordAuditError(ctx, mc, "events.delete", err)
			return err
		}
		call.Result = map[string]interface{}{"eventDeletion": map[string]interface{}{"id": req.ID}}
	}

	a.recordAudit(ctx, mc, "events.delete", req.ID, "")
	return nil
}

// enforceSingleActivity serializes writes to every singleActivity stream
// referenced by an event behind a cross-process lock, then rejects a
// write whose [time, time+duration) interval overlaps an existing
// non-trashed event on that stream. excludeEventID skips the event being
// updated when checking its own prior version for overlap.
func (a *Application) enforceSingleActivity(ctx context.Context, userID string, streamIDs []string, newTime float64, newDuration *float64, excludeEventID string) error {
	forest, err := a.streamForest(ctx, userID)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	byID := make(map[string]*models.Stream, len(forest))
	for _, s := range forest {
		byID[s.ID] = s
	}

	newEnd := endTimeOf(newTime, newDuration)

	for _, sid := range streamIDs {
		stream, ok := byID[sid]
		if !ok || !stream.SingleActivity {
			continue
		}

		// With no cache configured there is no cross-process lock to take;
		// overlap is still enforced below, just without the distributed
		// mutual exclusion a multi-replica deployment needs.
		release := func() {}
		if a.Cache.IsEnabled() {
			lockKey := "lock:singleactivity:" + userID + ":" + sid
			acquired, err := a.Cache.SetNX(ctx, lockKey, 1, 5*time.Second)
			if err != nil {
				return apierrors.Unexpected(err)
			}
			if !acquired {
				return apierrors.InvalidOperation("stream " + sid + " is locked by a concurrent single-activity write")
			}
			release = func() { _ = a.Cache.Delete(ctx, lockKey) }
		}

		existing, err := a.Mall.QueryEvents(ctx, userID, models.EventQuery{
			Streams: []models.StreamQueryBlock{{Any: []string{sid}}},
			State:   "default",
		})
		if err != nil {
			release()
			return apierrors.Unexpected(err)
		}
		for _, e := range existing {
			if e.ID == excludeEventID {
				continue
			}
			if intervalsOverlap(e.Time, e.EndTime(), newTime, newEnd) {
				release()
				return apierrors.InvalidOperation("overlaps an existing single-activity event on stream " + sid)
			}
		}
		release()
	}
	return nil
}

func endTimeOf(startTime float64, duration *float64) *float64 {
	if duration == nil {
		return nil
	}
	end := startTime + *duration
	return &end
}

func intervalsOverlap(aStart float64, aEnd *float64, bStart float64, bEnd *float64) bool {
	aEndVal, bEndVal := math.Inf(1), math.Inf(1)
	if aEnd != nil {
		aEndVal = *aEnd
	}
	if bEnd != nil {
		bEndVal = *bEnd
	}
	return aStart < bEndVal && bStart < aEndVal
}

// --------------------------------------------------------------- streams --

func (a *Application) streamsGet(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	forest, err := a.streamForest(ctx, mc.UserID())
	if err != nil {
		return apierrors.Unexpected(err)
	}
	visible := make([]*models.Stream, 0, len(forest))
	for _, s := range forest {
		if mc.AccessLogic().CanListStream(s.ID) {
			visible = append(visible, s)
		}
	}
	call.Result = map[string]interface{}{"streams": visible}
	a.recordAudit(ctx, mc, "streams.get", "", "")
	return nil
}

func (a *Application) streamsCreate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req models.CreateStreamRequest
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}

	parent := rootStream
	if req.ParentID != nil {
		parent = *req.ParentID
	}
	if !mc.AccessLogic().CanManageStream(parent) {
		return apierrors.Forbidden("access cannot create streams under " + parent)
	}

	now := time.Now()
	s := &models.Stream{
		ID:             req.ID,
		Name:           sanitize.Text(req.Name),
		ParentID:       req.ParentID,
		ClientData:     sanitize.ClientData(req.ClientData),
		SingleActivity: req.SingleActivity,
		Created:        now,
		Modified:       now,
		CreatedBy:      mc.TrackingAuthorID(),
		ModifiedBy:     mc.TrackingAuthorID(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	if err := a.Mall.CreateStream(ctx, mc.UserID(), s); err != nil {
		a.recordAuditError(ctx, mc, "streams.create", err)
		return err
	}

	a.invalidateAndBroadcast(ctx, mc.UserID())
	call.Result = map[string]interface{}{"stream": s}
	a.recordAudit(ctx, mc, "streams.create", s.ID, "")
	return nil
}

func (a *Application) streamsUpdate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req struct {
		ID string `json:"id"`
		models.UpdateStreamRequest
	}
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apierrors.InvalidItemID("stream id is required")
	}
	req.UpdateStreamRequest.Name = sanitize.TextPtr(req.UpdateStreamRequest.Name)
	req.UpdateStreamRequest.ClientData = sanitize.ClientData(req.UpdateStreamRequest.ClientData)
	if !mc.AccessLogic().CanManageStream(req.ID) {
		return apierrors.Forbidden("access cannot manage stream " + req.ID)
	}
	if req.UpdateStreamRequest.ParentID != nil && !mc.AccessLogic().CanManageStream(*req.UpdateStreamRequest.ParentID) {
		return apierrors.Forbidden("access cannot move a stream under " + *req.UpdateStreamRequest.ParentID)
	}

	if err := a.Mall.UpdateStream(ctx, mc.UserID(), req.ID, &req.UpdateStreamRequest, mc.TrackingAuthorID()); err != nil {
		a.recordAuditError(ctx, mc, "streams.update", err)
		return err
	}

	a.invalidateAndBroadcast(ctx, mc.UserID())
	forest, err := a.streamForest(ctx, mc.UserID())
	if err != nil {
		return apierrors.Unexpected(err)
	}
	var updated *models.Stream
	for _, s := range forest {
		if s.ID == req.ID {
			updated = s
			break
		}
	}
	call.Result = map[string]interface{}{"stream": updated}
	a.recordAudit(ctx, mc, "streams.update", req.ID, "")
	return nil
}

func (a *Application) streamsDelete(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apierrors.InvalidItemID("stream id is required")
	}
	if !mc.AccessLogic().CanManageStream(req.ID) {
		return apierrors.Forbidden("access cannot manage stream " + req.ID)
	}

	if err := a.Mall.DeleteStream(ctx, mc.UserID(), req.ID); err != nil {
		a.recordAuditError(ctx, mc, "streams.delete", err)
		return err
	}

	a.invalidateAndBroadcast(ctx, mc.UserID())
	call.Result = map[string]interface{}{"streamDeletion": map[string]interface{}{"id": req.ID}}
	a.recordAudit(ctx, mc, "streams.delete", req.ID, "")
	return nil
}

// -------------------------------------------------------------- accesses --

func (a *Application) accessesGet(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	accesses, err := a.Accesses.ListAccesses(ctx, mc.UserID(), false, false)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	call.Result = map[string]interface{}{"accesses": accesses}
	a.recordAudit(ctx, mc, "accesses.get", "", "")
	return nil
}

func (a *Application) accessesCreate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req models.CreateAccessRequest
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.Type == "" {
		req.Type = models.AccessTypeShared
	}

	candidate := &models.Access{Type: req.Type, Permissions: req.Permissions}
	if !mc.AccessLogic().CanCreateAccess(candidate) {
		return apierrors.Forbidden("access cannot create an access with these permissions")
	}

	// GetAccessByToken looks an access up by an exact-match SQL query, so the
	// stored Token must be a deterministic digest of the plaintext the
	// caller presents on every later request: SHA256, the same scheme
	// session tokens use, rather than the randomly-salted bcrypt hash
	// GenerateAPIToken also returns.
	plainToken, _, err := a.TokenHasher.GenerateAPIToken()
	if err != nil {
		return apierrors.Unexpected(err)
	}
	hashedToken := a.TokenHasher.HashTokenSHA256(plainToken)

	now := time.Now()
	acc := &models.Access{
		ID:          uuid.NewString(),
		Token:       hashedToken,
		Name:        req.Name,
		Type:        req.Type,
		Permissions: req.Permissions,
		Expires:     req.Expires,
		CreatedBy:   mc.TrackingAuthorID(),
		ModifiedBy:  mc.TrackingAuthorID(),
		Created:     now,
		Modified:    now,
	}
	digest, err := integrity.OfValue(acc)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	acc.Integrity = digest

	if err := a.Accesses.CreateAccess(ctx, mc.UserID(), acc); err != nil {
		a.recordAuditError(ctx, mc, "accesses.create", err)
		return err
	}

	response := *acc
	response.Token = plainToken
	call.Result = map[string]interface{}{"access": response}
	a.recordAudit(ctx, mc, "accesses.create", acc.ID, acc.Integrity)
	return nil
}

func (a *Application) accessesDelete(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apierrors.InvalidItemID("access id is required")
	}

	target, err := a.Accesses.GetAccess(ctx, mc.UserID(), req.ID)
	if err != nil {
		return apierrors.Unexpected(err)
	}
	if target == nil {
		return apierrors.UnknownResource("access " + req.ID)
	}
	if !mc.AccessLogic().CanDeleteAccess(target) {
		return apierrors.Forbidden("access cannot delete access " + req.ID)
	}

	if err := a.Accesses.RevokeAccess(ctx, mc.UserID(), req.ID, float64(time.Now().Unix())); err != nil {
		a.recordAuditError(ctx, mc, "accesses.delete", err)
		return err
	}

	a.invalidateAndBroadcast(ctx, mc.UserID())
	call.Result = map[string]interface{}{"accessDeletion": map[string]interface{}{"id": req.ID}}
	a.recordAudit(ctx, mc, "accesses.delete", req.ID, "")
	return nil
}

// --------------------------------------------------------------- account --

func (a *Application) accountGet(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	fields, err := a.SystemStreams.GetActiveFields(ctx, a.Mall, mc.UserID())
	if err != nil {
		return apierrors.Unexpected(err)
	}
	call.Result = map[string]interface{}{"account": fields}
	a.recordAudit(ctx, mc, "account.get", "", "")
	return nil
}

func (a *Application) accountUpdate(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var req models.UpdateAccountRequest
	if err := decodeParams(call.Params, &req); err != nil {
		return err
	}
	if !mc.AccessLogic().CanManageStream(rootStream) {
		return apierrors.Forbidden("access cannot update the account")
	}

	fields := map[string]string{}
	for k, v := range req.Fields {
		fields[k] = v
	}
	if req.Email != nil {
		fields["email"] = *req.Email
	}
	if req.Language != nil {
		fields["language"] = *req.Language
	}

	for name, value := range fields {
		if err := a.SystemStreams.UpdateField(ctx, a.Mall, mc.UserID(), name, value, mc.TrackingAuthorID()); err != nil {
			a.recordAuditError(ctx, mc, "account.update", err)
			return err
		}
	}
	if req.Email != nil || req.Language != nil {
		update := &models.UpdateAccountRequest{Email: req.Email, Language: req.Language}
		if err := a.Users.UpdateAccount(ctx, mc.UserID(), update); err != nil {
			a.recordAuditError(ctx, mc, "account.update", err)
			return err
		}
	}

	a.invalidateAndBroadcast(ctx, mc.UserID())
	call.Result = map[string]interface{}{"account": fields}
	a.recordAudit(ctx, mc, "account.update", mc.UserID(), "")
	return nil
}

// ------------------------------------------------------------------ auth --

type loginParams struct {
	AppID     string `json:"appId"`
	Password  string `json:"password"`
	TOTPCode  string `json:"totpCode,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Assertion string `json:"assertion,omitempty"`
}

func (a *Application) authLogin(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	var p loginParams
	if err := decodeParams(call.Params, &p); err != nil {
		return err
	}
	if p.Password == "" && p.Provider == "" {
		return apierrors.InvalidRequestStructure("password is required")
	}

	var user *models.User
	if p.Provider != "" {
		identity, err := a.authenticateWithProvider(ctx, mc, p.Provider, p.Assertion)
		if err != nil {
			return err
		}
		user = identity
	} else {
		// VerifyPassword folds "unknown username" and "wrong password" into the
		// same error so a caller can't distinguish which one failed; both map to
		// invalid-credentials here rather than leaking which case occurred.
		verified, err := a.Users.VerifyPassword(ctx, mc.Username, p.Password)
		if err != nil {
			a.recordAuditError(ctx, mc, "auth.login", apierrors.InvalidCredentials())
			return apierrors.InvalidCredentials()
		}
		user = verified

		if err := a.checkTOTP(ctx, user.ID, p.TOTPCode); err != nil {
			a.recordAuditError(ctx, mc, "auth.login", err)
			return err
		}
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return apierrors.Unexpected(err)
	}
	ttl := time.Duration(a.Config.Auth.SessionTTLMinutes) * time.Minute
	now := time.Now()
	session := &models.Session{
		Token:     token,
		Username:  mc.Username,
		AppID:     p.AppID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := a.SessionStore.CreateSession(ctx, session, ttl); err != nil {
		return apierrors.Unexpected(err)
	}
	// Mirrored into Postgres so the session survives a cache flush/restart
	// and SessionDB.DeleteUserSessions has a durable record to revoke from.
	if err := a.Sessions.CreateSession(ctx, session); err != nil {
		return apierrors.Unexpected(err)
	}

	call.Result = map[string]interface{}{"token": token}
	a.recordAudit(ctx, mc, "auth.login", user.ID, "")
	return nil
}

// authenticateWithProvider resolves an assertion against the named alternate
// login provider, then requires the identity it returns to name the same
// local account the request's username path already targets — a provider
// vouches for who the caller is, it never widens which account they reach.
func (a *Application) authenticateWithProvider(ctx context.Context, mc *methodcontext.Context, provider, assertion string) (*models.User, error) {
	if a.AuthProviders == nil {
		return nil, apierrors.InvalidRequestStructure("no alternate login providers are configured")
	}
	identity, err := a.AuthProviders.Authenticate(ctx, provider, assertion)
	if err != nil {
		a.recordAuditError(ctx, mc, "auth.login", apierrors.InvalidCredentials())
		return nil, apierrors.InvalidCredentials()
	}
	if identity.Username != mc.Username {
		a.recordAuditError(ctx, mc, "auth.login", apierrors.InvalidCredentials())
		return nil, apierrors.InvalidCredentials()
	}
	user, err := a.Users.GetUserByUsername(ctx, mc.Username)
	if err != nil {
		a.recordAuditError(ctx, mc, "auth.login", apierrors.InvalidCredentials())
		return nil, apierrors.InvalidCredentials()
	}
	return user, nil
}

// checkTOTP gates login on the TOTP code when the account has enrolled a
// second factor (a "totpSecret" system-stream event exists); accounts that
// never enrolled pass through untouched.
func (a *Application) checkTOTP(ctx context.Context, userID, code string) error {
	secret, enrolled, err := a.SystemStreams.GetField(ctx, a.Mall, userID, "totpSecret")
	if err != nil {
		return apierrors.Unexpected(err)
	}
	if !enrolled || secret == "" {
		return nil
	}
	if code == "" || !totp.Validate(code, secret) {
		return apierrors.InvalidCredentials()
	}
	return nil
}

// authTOTPEnroll generates a new TOTP secret for the authenticated account
// and stores it as the account's private totpSecret field; from the next
// auth.login on, a valid code from that secret is required alongside the
// password. Re-enrolling replaces the previous secret.
func (a *Application) authTOTPEnroll(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	if !mc.AccessLogic().CanManageStream(rootStream) {
		return apierrors.Forbidden("access cannot enroll a second factor for this account")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.Config.Auth.TOTPIssuer,
		AccountName: mc.Username,
	})
	if err != nil {
		return apierrors.Unexpected(err)
	}

	if err := a.SystemStreams.UpdateField(ctx, a.Mall, mc.UserID(), "totpSecret", key.Secret(), mc.TrackingAuthorID()); err != nil {
		a.recordAuditError(ctx, mc, "auth.totpEnroll", err)
		return err
	}

	call.Result = map[string]interface{}{"secret": key.Secret(), "url": key.URL()}
	a.recordAudit(ctx, mc, "auth.totpEnroll", mc.UserID(), "")
	return nil
}

func (a *Application) authLogout(ctx context.Context, mc *methodcontext.Context, call *pipeline.Call) error {
	token := mc.Headers["Authorization"]
	if token == "" {
		token = mc.Query["auth"]
	}
	if token != "" {
		_ = a.SessionStore.DeleteSession(ctx, token)
		_ = a.Sessions.DeleteSession(ctx, token)
	}
	call.Result = map[string]interface{}{}
	a.recordAudit(ctx, mc, "auth.logout", "", "")
	return nil
}
