package graph

import "time"

// Wire shapes for the API responses the audit consumes. Only the fields
// the engine reads are declared.

type DeletedFacet struct {
	State string `json:"state"`
}

type Site struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	DisplayName          string        `json:"displayName"`
	WebURL               string        `json:"webUrl"`
	Description          string        `json:"description"`
	CreatedDateTime      *time.Time    `json:"createdDateTime"`
	LastModifiedDateTime *time.Time    `json:"lastModifiedDateTime"`
	Deleted              *DeletedFacet `json:"deleted"`
}

type DriveQuota struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

type Drive struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	WebURL               string        `json:"webUrl"`
	DriveType            string        `json:"driveType"`
	CreatedDateTime      *time.Time    `json:"createdDateTime"`
	LastModifiedDateTime *time.Time    `json:"lastModifiedDateTime"`
	Quota                *DriveQuota   `json:"quota"`
	Deleted              *DeletedFacet `json:"deleted"`
}

type ItemRef struct {
	DriveID string `json:"driveId"`
	ID      string `json:"id"`
	Path    string `json:"path"`
}

type FolderFacet struct {
	ChildCount int `json:"childCount"`
}

type FileFacet struct {
	MimeType string `json:"mimeType"`
}

type DriveItem struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	WebURL               string        `json:"webUrl"`
	ETag                 string        `json:"eTag"`
	Size                 int64         `json:"size"`
	CreatedDateTime      *time.Time    `json:"createdDateTime"`
	LastModifiedDateTime *time.Time    `json:"lastModifiedDateTime"`
	ParentReference      *ItemRef      `json:"parentReference"`
	Folder               *FolderFacet  `json:"folder"`
	File                 *FileFacet    `json:"file"`
	Deleted              *DeletedFacet `json:"deleted"`
}

// IsFolder reports whether the item carries the folder facet.
func (i *DriveItem) IsFolder() bool { return i.Folder != nil }

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	LoginName   string `json:"loginName"`
}

type IdentitySet struct {
	User        *Identity `json:"user"`
	Group       *Identity `json:"group"`
	SiteGroup   *Identity `json:"siteGroup"`
	Application *Identity `json:"application"`
}

type SharingLink struct {
	Scope string `json:"scope"`
	Type  string `json:"type"`
}

// Permission is one role assignment on a site or drive item.
type Permission struct {
	ID                    string        `json:"id"`
	Roles                 []string      `json:"roles"`
	GrantedToV2           *IdentitySet  `json:"grantedToV2"`
	GrantedToIdentitiesV2 []IdentitySet `json:"grantedToIdentitiesV2"`
	Link                  *SharingLink  `json:"link"`
	InheritedFrom         *ItemRef      `json:"inheritedFrom"`
}

// IsAnonymousLink reports whether the grant is an anyone-with-the-link
// sharing link.
func (p *Permission) IsAnonymousLink() bool {
	return p.Link != nil && p.Link.Scope == "anonymous"
}

// DirectoryMember is one entry of a transitive group membership listing.
type DirectoryMember struct {
	ODataType         string `json:"@odata.type"`
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

// IsUser reports whether the member is a user object rather than a nested
// group or device.
func (m *DirectoryMember) IsUser() bool {
	return m.ODataType == "#microsoft.graph.user"
}

// IsGroup reports whether the member is itself a group.
func (m *DirectoryMember) IsGroup() bool {
	return m.ODataType == "#microsoft.graph.group"
}
