// Package systemstreams declares the built-in metadata streams that mirror
// an account's fields (email, language, and any custom unique/indexed
// fields a deployment adds), and writes/reads the active-event history that
// backs account.get / account.update.
//
// Every declared field has exactly one *active* event per user at any time,
// held in a ":_system:active" sub-stream alongside the field's own
// ":system:<name>" (visible) or ":_system:<name>" (private) stream.
// Updating a field creates a new active event and demotes the previous one
// to inactive by dropping ":_system:active" from its stream ids; the old
// event is never deleted, so audit history over a field survives updates.
package systemstreams

import (
	"context"
	"fmt"
	"time"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/logger"
	"github.com/corestream/datacore/internal/mall"
	"github.com/corestream/datacore/internal/models"
)

// activeStreamID is the reserved private sub-stream used to flag an event
// as the current value of its field.
const activeStreamID = ":_system:active"

// eventType is the MIME-like type stamped on every system-stream event.
const eventType = "string/default"

// Declaration describes one declared account field and how it should be
// validated and exposed.
type Declaration struct {
	Name                   string
	Visible                bool // true => ":system:<name>", false => ":_system:<name>"
	IsIndexed              bool
	IsUnique               bool
	IsShown                bool
	IsEditable             bool
	IsRequiredInValidation bool
	Type                   string
	Default                *string
}

// StreamID returns the full stream id this declaration's events live under.
func (d Declaration) StreamID() string {
	if d.Visible {
		return ":system:" + d.Name
	}
	return ":_system:" + d.Name
}

// Registry holds the fixed set of declared fields for this deployment, in
// declaration order (the order account.get returns fields in).
type Registry struct {
	order []string
	byName map[string]Declaration
}

// NewRegistry creates a registry seeded with the two built-in fields every
// account has (email, language), plus any custom fields a deployment adds.
func NewRegistry(custom ...Declaration) *Registry {
	r := &Registry{byName: map[string]Declaration{}}
	r.declare(Declaration{
		Name: "email", Visible: true, IsIndexed: true, IsUnique: true,
		IsShown: true, IsEditable: true, IsRequiredInValidation: true,
		Type: "email/string",
	})
	r.declare(Declaration{
		Name: "language", Visible: true, IsIndexed: false, IsUnique: false,
		IsShown: true, IsEditable: true, IsRequiredInValidation: false,
		Type: eventType, Default: strPtr("en"),
	})
	// totpSecret backs the optional TOTP second factor (internal/app); kept
	// out of account.get's response (IsShown false) the same way
	// PasswordHash is excluded from models.User's JSON encoding.
	r.declare(Declaration{
		Name: "totpSecret", Visible: false, IsIndexed: false, IsUnique: false,
		IsShown: false, IsEditable: true, IsRequiredInValidation: false,
		Type: eventType,
	})
	for _, d := range custom {
		r.declare(d)
	}
	return r
}

func strPtr(s string) *string { return &s }

func (r *Registry) declare(d Declaration) {
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d
}

// Declarations returns every declared field, in declaration order.
func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup returns a declaration by field name.
func (r *Registry) Lookup(name string) (Declaration, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// WriteInitial writes, for every declared field present in fields (or
// carrying a Default), an active event in that field's system stream; the
// user record itself is not written here. Called once at user
// registration, alongside the users-table insert.
func (r *Registry) WriteInitial(ctx context.Context, m *mall.Mall, userID string, fields map[string]string, authorID string) error {
	now := float64(time.Now().Unix())
	for _, d := range r.Declarations() {
		value, ok := fields[d.Name]
		if !ok {
			if d.Default == nil {
				if d.IsRequiredInValidation {
					return apierrors.InvalidRequestStructure(fmt.Sprintf("missing required field %q", d.Name))
				}
				continue
			}
			value = *d.Default
		}
		event := &models.Event{
			StreamIDs: []string{d.StreamID(), activeStreamID},
			Type:      eventType,
			Content:   value,
			Time:      now,
			CreatedBy: authorID,
			ModifiedBy: authorID,
		}
		if err := m.CreateEvent(ctx, userID, event); err != nil {
			return err
		}
	}
	return nil
}

// GetActiveFields returns the current value of every declared, shown field,
// keyed by field name — the data account.get returns.
func (r *Registry) GetActiveFields(ctx context.Context, m *mall.Mall, userID string) (map[string]string, error) {
	events, err := m.QueryEvents(ctx, userID, models.EventQuery{
		Streams: []models.StreamQueryBlock{{All: []string{activeStreamID}}},
		State:   "all",
	})
	if err != nil {
		return nil, err
	}

	byStream := map[string]*models.Event{}
	for _, e := range events {
		for _, sid := range e.StreamIDs {
			if sid != activeStreamID {
				byStream[sid] = e
			}
		}
	}

	out := map[string]string{}
	for _, d := range r.Declarations() {
		if !d.IsShown {
			continue
		}
		e, ok := byStream[d.StreamID()]
		if !ok {
			continue
		}
		if s, ok := e.Content.(string); ok {
			out[d.Name] = s
		}
	}
	return out, nil
}

// GetField returns the current value of one declared field regardless of
// IsShown, for fields account.get must never expose directly (e.g. a TOTP
// secret) but some other operation still needs to read.
func (r *Registry) GetField(ctx context.Context, m *mall.Mall, userID, name string) (string, bool, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return "", false, apierrors.UnknownResource("system stream field")
	}
	events, err := m.QueryEvents(ctx, userID, models.EventQuery{
		Streams: []models.StreamQueryBlock{{All: []string{d.StreamID(), activeStreamID}}},
		State:   "all",
	})
	if err != nil {
		return "", false, err
	}
	if len(events) == 0 {
		return "", false, nil
	}
	s, ok := events[0].Content.(string)
	return s, ok, nil
}

// UpdateField writes a new active event for a declared field and demotes
// the previous active event (if any) to inactive by dropping
// ":_system:active" from its stream ids. A non-editable field is rejected
// with forbidden.
func (r *Registry) UpdateField(ctx context.Context, m *mall.Mall, userID, name, value, authorID string) error {
	d, ok := r.Lookup(name)
	if !ok {
		return apierrors.UnknownResource("system stream field")
	}
	if !d.IsEditable {
		return apierrors.Forbidden(fmt.Sprintf("field %q is not editable", name))
	}

	streamID := d.StreamID()
	current, err := m.QueryEvents(ctx, userID, models.EventQuery{
		Streams: []models.StreamQueryBlock{{All: []string{streamID, activeStreamID}}},
		State:   "all",
	})
	if err != nil {
		return err
	}
	for _, e := range current {
		req := &models.UpdateEventRequest{StreamIDs: removeStream(e.StreamIDs, activeStreamID)}
		if err := m.UpdateEvent(ctx, userID, e.ID, req, "", authorID); err != nil {
			logger.SystemStreams().Warn().Err(err).Str("eventId", e.ID).Msg("failed to demote previous active system-stream event")
		}
	}

	now := float64(time.Now().Unix())
	event := &models.Event{
		StreamIDs:  []string{streamID, activeStreamID},
		Type:       eventType,
		Content:    value,
		Time:       now,
		CreatedBy:  authorID,
		ModifiedBy: authorID,
	}
	return m.CreateEvent(ctx, userID, event)
}

func removeStream(streams []string, target string) []string {
	out := make([]string, 0, len(streams))
	for _, s := range streams {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
