// Package accesslogic computes what an access is allowed to do.
//
// AccessLogic is a pure function of (access, streamForest): it never holds a
// back-reference to the Mall or the MethodContext that built it, which keeps
// it trivially cacheable by (accessId, token) in internal/cache and testable
// in isolation (see cache key helpers StreamsKey/AccessLogicByIDKey).
package accesslogic

import "github.com/corestream/datacore/internal/models"

const wildcard = "*"

// streamNode is the minimal shape AccessLogic needs out of a stream forest:
// id, parent and children, independent of the storage representation.
type streamNode struct {
	id       string
	parentID string
	children []string
}

// Logic holds the expanded permission maps for one access, computed once
// against a snapshot of the user's stream forest.
type Logic struct {
	access            *models.Access
	streamPermissions map[string]string
	tagPermissions    map[string]string
	features          map[string]string
}

// New expands access's permission list against forest into a Logic able to
// answer capability predicates in O(1).
func New(access *models.Access, forest []*models.Stream) *Logic {
	l := &Logic{
		access:            access,
		streamPermissions: make(map[string]string),
		tagPermissions:    make(map[string]string),
		features:          make(map[string]string),
	}

	nodes := flatten(forest)
	childrenOf := make(map[string][]string)
	for _, n := range nodes {
		if n.parentID != "" {
			childrenOf[n.parentID] = append(childrenOf[n.parentID], n.id)
		}
	}

	var streamPerms, tagPerms []models.Permission
	for _, p := range access.Permissions {
		switch {
		case p.Feature != nil:
			l.features[*p.Feature] = p.Setting
		case p.Tag != nil:
			tagPerms = append(tagPerms, p)
		case p.StreamID != nil:
			streamPerms = append(streamPerms, p)
		}
	}
	// A personal access is implicitly manage on every stream.
	if access.Type == models.AccessTypePersonal {
		all := wildcard
		streamPerms = append(streamPerms, models.Permission{StreamID: &all, Level: models.LevelManage})
	}

	for _, p := range streamPerms {
		l.applyStreamPermission(*p.StreamID, p.Level, childrenOf)
	}
	for _, p := range tagPerms {
		setIfHigher(l.tagPermissions, *p.Tag, p.Level)
	}

	// Rule 4: a stream-only access implicitly reads every tag, and
	// symmetrically a tag-only access implicitly reads every stream.
	if len(streamPerms) > 0 && len(tagPerms) == 0 {
		setIfHigher(l.tagPermissions, wildcard, models.LevelRead)
	}
	if len(tagPerms) > 0 && len(streamPerms) == 0 {
		setIfHigher(l.streamPermissions, wildcard, models.LevelRead)
	}

	return l
}

// applyStreamPermission sets level on streamID and propagates it to every
// descendant that does not already hold an equal-or-higher level.
func (l *Logic) applyStreamPermission(streamID, level string, childrenOf map[string][]string) {
	setIfHigher(l.streamPermissions, streamID, level)
	if streamID == wildcard {
		return
	}
	var walk func(id string)
	walk = func(id string) {
		for _, child := range childrenOf[id] {
			setIfHigher(l.streamPermissions, child, level)
			walk(child)
		}
	}
	walk(streamID)
}

// setIfHigher stores level at key unless the stored level already has an
// equal-or-higher rank ("higher wins").
func setIfHigher(m map[string]string, key, level string) {
	if existing, ok := m[key]; ok && models.LevelRank(existing) >= models.LevelRank(level) {
		return
	}
	m[key] = level
}

func flatten(forest []*models.Stream) []streamNode {
	var out []streamNode
	var walk func(s *models.Stream)
	walk = func(s *models.Stream) {
		parent := ""
		if s.ParentID != nil {
			parent = *s.ParentID
		}
		out = append(out, streamNode{id: s.ID, parentID: parent})
		for _, c := range s.Children {
			walk(c)
		}
	}
	for _, s := range forest {
		walk(s)
	}
	return out
}

// levelFor resolves the effective level for a stream id, falling back to
// the "*" wildcard registered by rule 3.
func (l *Logic) levelFor(streamID string) string {
	if level, ok := l.streamPermissions[streamID]; ok {
		return level
	}
	if level, ok := l.streamPermissions[wildcard]; ok {
		return level
	}
	return ""
}

// CanReadStream reports whether this access can read stream s.
func (l *Logic) CanReadStream(s string) bool {
	level := l.levelFor(s)
	return level != models.LevelCreateOnly && models.LevelRank(level) >= models.LevelRank(models.LevelRead) && level != ""
}

// CanListStream reports whether this access can list stream s. Unlike
// CanReadStream, create-only grants listing: a client must be able to see
// the stream it is only allowed to create events under.
func (l *Logic) CanListStream(s string) bool {
	level := l.levelFor(s)
	return models.LevelRank(level) >= models.LevelRank(models.LevelRead)
}

// CanContributeToStream reports whether this access can create events on s.
func (l *Logic) CanContributeToStream(s string) bool {
	return models.LevelRank(l.levelFor(s)) >= models.LevelRank(models.LevelContribute)
}

// CanUpdateStream reports whether this access can update existing events or
// streams under s; create-only never qualifies even though its rank ties
// contribute.
func (l *Logic) CanUpdateStream(s string) bool {
	level := l.levelFor(s)
	return level != models.LevelCreateOnly && models.LevelRank(level) >= models.LevelRank(models.LevelContribute)
}

// CanManageStream reports whether this access can manage (rename, trash,
// delete, change permissions under) stream s.
func (l *Logic) CanManageStream(s string) bool {
	level := l.levelFor(s)
	return level != models.LevelCreateOnly && models.LevelRank(level) >= models.LevelRank(models.LevelManage)
}

// CanReadTag / CanContributeToTag mirror the stream predicates for tags.
func (l *Logic) CanReadTag(tag string) bool {
	level := l.tagPermissions[tag]
	if level == "" {
		level = l.tagPermissions[wildcard]
	}
	return level != models.LevelCreateOnly && models.LevelRank(level) >= models.LevelRank(models.LevelRead) && level != ""
}

func (l *Logic) CanContributeToTag(tag string) bool {
	level := l.tagPermissions[tag]
	if level == "" {
		level = l.tagPermissions[wildcard]
	}
	return models.LevelRank(level) >= models.LevelRank(models.LevelContribute)
}

// Feature returns the setting for a feature permission (e.g. "selfRevoke"),
// and whether one was set at all.
func (l *Logic) Feature(name string) (string, bool) {
	v, ok := l.features[name]
	return v, ok
}

// CanDeleteAccess reports whether this access (the caller) may delete
// target. Personal accesses may delete anything; app accesses may delete
// themselves (unless selfRevoke is forbidden) or accesses they created;
// shared accesses may only delete themselves.
func (l *Logic) CanDeleteAccess(target *models.Access) bool {
	switch l.access.Type {
	case models.AccessTypePersonal:
		return true
	case models.AccessTypeApp:
		if target.ID == l.access.ID {
			setting, has := l.Feature("selfRevoke")
			return !(has && setting == "forbidden")
		}
		return target.CreatedBy == l.access.ID
	case models.AccessTypeShared:
		return target.ID == l.access.ID
	default:
		return false
	}
}

// CanCreateAccess reports whether this access may create candidate. Personal
// accesses may create any access. App accesses may create shared accesses
// only, and only when every stream/tag permission of candidate is covered by
// an equal-or-higher permission held by this access; create-only on this
// access always disqualifies it from creating accesses.
func (l *Logic) CanCreateAccess(candidate *models.Access) bool {
	if l.access.Type == models.AccessTypePersonal {
		return true
	}
	if l.access.Type != models.AccessTypeApp || candidate.Type != models.AccessTypeShared {
		return false
	}
	for _, p := range l.access.Permissions {
		if p.Level == models.LevelCreateOnly {
			return false
		}
	}
	for _, p := range candidate.Permissions {
		switch {
		case p.StreamID != nil:
			if !l.covers(l.streamPermissions, *p.StreamID, p.Level) {
				return false
			}
		case p.Tag != nil:
			if !l.covers(l.tagPermissions, *p.Tag, p.Level) {
				return false
			}
		}
	}
	return true
}

// covers reports whether m grants key (or "*") a level >= required.
func (l *Logic) covers(m map[string]string, key, required string) bool {
	if level, ok := m[key]; ok && models.LevelRank(level) >= models.LevelRank(required) {
		return true
	}
	if level, ok := m[wildcard]; ok && models.LevelRank(level) >= models.LevelRank(required) {
		return true
	}
	return false
}
