package models

import "time"

// Stream is a node in a user's rooted stream forest. The forest is scoped to
// exactly one store: Id is unique per user within the local store, and
// ParentId, when non-nil, must refer to a stream of the same store.
type Stream struct {
	ID             string                 `json:"id" db:"id"`
	Name           string                 `json:"name" db:"name"`
	ParentID       *string                `json:"parentId" db:"parent_id"`
	ClientData     map[string]interface{} `json:"clientData,omitempty" db:"client_data"`
	Trashed        bool                   `json:"trashed" db:"trashed"`
	SingleActivity bool                   `json:"singleActivity" db:"single_activity"`

	Created    time.Time `json:"created" db:"created"`
	CreatedBy  string    `json:"createdBy" db:"created_by"`
	Modified   time.Time `json:"modified" db:"modified"`
	ModifiedBy string    `json:"modifiedBy" db:"modified_by"`

	// Children is absent from storage rows and is not populated by any
	// query, expandChildren included; it is read only when set by a caller.
	Children []*Stream `json:"children,omitempty" db:"-"`
}

// StreamQuery parameters for Mall.Streams.Get / Storage.GetStreams.
type StreamQuery struct {
	ParentID              *string
	ID                    *string
	ExpandChildren        bool
	ExcludeIDs            []string
	IncludeTrashed         bool
	IncludeDeletionsSince *float64
}

// CreateStreamRequest is the body of streams.create.
type CreateStreamRequest struct {
	ID             string                 `json:"id,omitempty" validate:"omitempty,streamid"`
	Name           string                 `json:"name" binding:"required"`
	ParentID       *string                `json:"parentId,omitempty"`
	ClientData     map[string]interface{} `json:"clientData,omitempty"`
	SingleActivity bool                   `json:"singleActivity,omitempty"`
}

// UpdateStreamRequest is the body of streams.update; all fields optional.
type UpdateStreamRequest struct {
	Name           *string                `json:"name,omitempty"`
	ParentID       *string                `json:"parentId,omitempty"`
	ClientData     map[string]interface{} `json:"clientData,omitempty"`
	Trashed        *bool                  `json:"trashed,omitempty"`
	SingleActivity *bool                  `json:"singleActivity,omitempty"`
}
