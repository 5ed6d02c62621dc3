package domain

import "time"

// Principal type constants.
const (
	PrincipalTypeUser            = "user"
	PrincipalTypeGroup           = "group"
	PrincipalTypeSharePointGroup = "sharepoint_group"
	PrincipalTypeApplication     = "application"
	PrincipalTypeExternalGuest   = "external_guest"
	PrincipalTypeAnonymousLink   = "anonymous_link"
)

// PermissionEntry is one (object, principal, level) grant. SourceObjectID
// is the ancestor whose unique grant this entry derives from; it equals
// ObjectID when the grant is direct.
type PermissionEntry struct {
	ObjectType      string
	ObjectID        string
	PrincipalType   string
	PrincipalID     string
	PrincipalName   string
	PermissionLevel string
	IsInherited     bool
	SourceObjectID  string
	GrantedAt       *time.Time
	GrantedBy       string
	IsExternal      bool
	IsAnonymousLink bool
}

// GroupMember is one resolved user principal inside a flattened group.
type GroupMember struct {
	UserID    string
	UserName  string
	UserEmail string
}

// GroupMembership is the transitively expanded, deduplicated member list
// of a group. NestedGroups records the group ids traversed during
// expansion (cycle members appear once).
type GroupMembership struct {
	GroupID      string
	GroupName    string
	Members      []GroupMember
	NestedGroups []string
	ExpandedAt   time.Time
}

// PermissionSet collects the resolved entries for a single object plus
// external-sharing counters for reporting.
type PermissionSet struct {
	ObjectType           string
	ObjectID             string
	ObjectPath           string
	HasUniquePermissions bool
	SourceObjectID       string
	Entries              []PermissionEntry
	ExternalCount        int
	AnonymousLinkCount   int
}

// Add appends an entry and updates the sharing counters.
func (s *PermissionSet) Add(e PermissionEntry) {
	s.Entries = append(s.Entries, e)
	if e.IsExternal {
		s.ExternalCount++
	}
	if e.IsAnonymousLink {
		s.AnonymousLinkCount++
	}
}
