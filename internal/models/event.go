package models

import "time"

// Attachment is a binary blob referenced from an event, with a
// subresource-integrity digest computed over its bytes (internal/integrity).
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	Integrity   string `json:"integrity"`
}

// Event is a time-stamped, per-user record attached to one or more streams
// of a single store. A deleted event is a tombstone: every field other than
// ID and Deleted must be treated as absent by callers.
type Event struct {
	ID          string                 `json:"id" db:"id"`
	StreamIDs   []string               `json:"streamIds" db:"stream_ids"`
	Type        string                 `json:"type" db:"type"`
	Content     interface{}            `json:"content,omitempty" db:"content"`
	Time        float64                `json:"time" db:"time"`
	Duration    *float64               `json:"duration" db:"duration"`
	Tags        []string               `json:"tags,omitempty" db:"tags"`
	Description *string                `json:"description,omitempty" db:"description"`
	Attachments []Attachment           `json:"attachments,omitempty" db:"-"`
	ClientData  map[string]interface{} `json:"clientData,omitempty" db:"client_data"`
	Trashed     bool                   `json:"trashed" db:"trashed"`
	Integrity   string                 `json:"integrity,omitempty" db:"integrity"`

	Created    time.Time `json:"created" db:"created"`
	CreatedBy  string    `json:"createdBy" db:"created_by"`
	Modified   time.Time `json:"modified" db:"modified"`
	ModifiedBy string    `json:"modifiedBy" db:"modified_by"`

	// Deleted is set (to a deletion timestamp) only on tombstones; a non-nil
	// Deleted means every other field above must be ignored by the caller.
	Deleted *float64 `json:"deleted,omitempty" db:"deleted"`
}

// EndTime returns the event's end time, or nil if the interval is open
// (Duration == nil, a running activity).
func (e *Event) EndTime() *float64 {
	if e.Duration == nil {
		return nil
	}
	end := e.Time + *e.Duration
	return &end
}

// IsInstantaneous reports whether the event has no duration (point-in-time).
func (e *Event) IsInstantaneous() bool {
	return e.Duration != nil && *e.Duration == 0
}

// IsRunning reports whether the event is an open interval (duration == nil).
func (e *Event) IsRunning() bool {
	return e.Duration == nil
}

// StreamQueryBlock is one AND-block of a stream query: any[] OR'd with other
// blocks at the query level, all[] and not[] further restricting this block.
type StreamQueryBlock struct {
	Any []string `json:"any"`
	All []string `json:"all,omitempty"`
	Not []string `json:"not,omitempty"`
}

// EventQuery is the decomposed form of events.get parameters.
type EventQuery struct {
	Streams   []StreamQueryBlock
	Types     []string
	FromTime  *float64
	ToTime    *float64
	Running   bool
	Tags      []string
	State     string // "default" (non-trashed), "trashed", "all"
	ModifiedSince *float64
	Sort      string // "time-asc" | "time-desc"
	Limit     int
	Skip      int
}

// CreateEventRequest is the body of events.create.
type CreateEventRequest struct {
	ID          string                 `json:"id,omitempty"`
	StreamIDs   []string               `json:"streamIds" binding:"required"`
	Type        string                 `json:"type" binding:"required" validate:"required,mimetype"`
	Content     interface{}            `json:"content,omitempty"`
	Time        *float64               `json:"time,omitempty"`
	Duration    *float64               `json:"duration,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Description *string                `json:"description,omitempty"`
	ClientData  map[string]interface{} `json:"clientData,omitempty"`
}

// UpdateEventRequest is the body of events.update; all fields optional.
type UpdateEventRequest struct {
	StreamIDs   []string               `json:"streamIds,omitempty"`
	Type        *string                `json:"type,omitempty"`
	Content     interface{}            `json:"content,omitempty"`
	Time        *float64               `json:"time,omitempty"`
	Duration    *float64               `json:"duration,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Description *string                `json:"description,omitempty"`
	ClientData  map[string]interface{} `json:"clientData,omitempty"`
	Trashed     *bool                  `json:"trashed,omitempty"`
}
