package domain

import "time"

// Resource type constants for permission objects and tree nodes.
const (
	ResourceTypeSite    = "site"
	ResourceTypeLibrary = "library"
	ResourceTypeFolder  = "folder"
	ResourceTypeFile    = "file"
)

// Resource status constants. Resources are never deleted locally; a
// resource that disappears from the remote tenant is tombstoned.
const (
	ResourceStatusActive     = "active"
	ResourceStatusTombstoned = "tombstoned"
)

// Site is a top-level SharePoint site collection.
type Site struct {
	SiteID               string
	URL                  string
	Title                string
	Description          string
	StorageUsed          int64
	StorageQuota         int64
	IsHubSite            bool
	HasUniquePermissions bool
	Status               string
	CreatedAt            *time.Time
	LastModified         *time.Time
}

// Library is a document library (drive) within a site.
type Library struct {
	LibraryID            string
	SiteID               string
	SiteURL              string
	DriveID              string
	Name                 string
	Description          string
	ItemCount            int64
	IsHidden             bool
	HasUniquePermissions bool
	Status               string
	CreatedAt            *time.Time
}

// Folder is a folder within a library. ParentFolderID is empty for
// folders directly under the library root.
type Folder struct {
	FolderID             string
	LibraryID            string
	ParentFolderID       string
	SiteID               string
	SiteURL              string
	Name                 string
	Path                 string
	ItemCount            int64
	IsRoot               bool
	HasUniquePermissions bool
	Status               string
	CreatedAt            *time.Time
	ModifiedAt           *time.Time
}

// File is a leaf item within a library.
type File struct {
	FileID               string
	FolderID             string
	LibraryID            string
	SiteID               string
	SiteURL              string
	Name                 string
	Path                 string
	SizeBytes            int64
	ContentType          string
	Version              string
	HasUniquePermissions bool
	Status               string
	CreatedAt            *time.Time
	ModifiedAt           *time.Time
	CreatedBy            string
	ModifiedBy           string
}

// ResourceRef identifies one node in the resource tree along with the
// parent linkage needed for inheritance resolution. Children hold the
// parent's stable id, never a live pointer.
type ResourceRef struct {
	Type                 string
	ID                   string
	ParentType           string
	ParentID             string
	SiteID               string
	Path                 string
	HasUniquePermissions bool
}
