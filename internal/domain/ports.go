package domain

import "context"

// TokenProvider yields bearer tokens for the remote API. Caching and
// refresh are the provider's responsibility; the core treats tokens as
// opaque strings.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ResourceRepository is the storage contract for the discovered tree.
// All upserts are idempotent, keyed by stable remote id.
type ResourceRepository interface {
	UpsertSites(ctx context.Context, sites []Site) (int64, error)
	UpsertLibraries(ctx context.Context, libraries []Library) (int64, error)
	UpsertFolders(ctx context.Context, folders []Folder) (int64, error)
	UpsertFiles(ctx context.Context, files []File) (int64, error)

	GetSite(ctx context.Context, siteID string) (*Site, error)
	GetLibrary(ctx context.Context, libraryID string) (*Library, error)
	GetFolder(ctx context.Context, folderID string) (*Folder, error)
	GetFile(ctx context.Context, fileID string) (*File, error)

	ListSites(ctx context.Context) ([]Site, error)
	ListLibrariesBySite(ctx context.Context, siteID string) ([]Library, error)
	ListFoldersByLibrary(ctx context.Context, libraryID string) ([]Folder, error)
	ListFilesByLibrary(ctx context.Context, libraryID string) ([]File, error)

	SetUniquePermissions(ctx context.Context, resourceType, id string, unique bool) error
	AggregateSiteStorage(ctx context.Context) (int64, error)
	CountResources(ctx context.Context) (*ResourceCounts, error)
	TombstoneSite(ctx context.Context, siteID string) error
}

// ResourceCounts are the totals of the persisted tree, for run metadata.
type ResourceCounts struct {
	Sites     int64
	Libraries int64
	Folders   int64
	Files     int64
}

// PermissionRepository persists resolved permission entries and expanded
// group memberships.
type PermissionRepository interface {
	ReplaceEntries(ctx context.Context, objectType, objectID string, entries []PermissionEntry) error
	ListEntries(ctx context.Context, objectType, objectID string) ([]PermissionEntry, error)
	ListExternalEntries(ctx context.Context) ([]PermissionEntry, error)
	SaveGroupMembership(ctx context.Context, m *GroupMembership) error
	CountEntries(ctx context.Context) (int64, error)
}

// RunRepository manages audit run lifecycle records.
type RunRepository interface {
	CreateRun(ctx context.Context, run *RunMetadata) error
	FinishRun(ctx context.Context, runID, status string, errorCount int64, errorSummary string) error
	UpdateRunCounts(ctx context.Context, run *RunMetadata) error
	GetRun(ctx context.Context, runID string) (*RunMetadata, error)
	ListRuns(ctx context.Context, limit int) ([]RunMetadata, error)
	LatestResumableRun(ctx context.Context) (*RunMetadata, error)
}

// CheckpointRepository is the durable backing for the checkpoint store.
type CheckpointRepository interface {
	Save(ctx context.Context, runID, key string, state []byte) error
	Get(ctx context.Context, runID, key string) ([]byte, error)
	DeleteBefore(ctx context.Context, cutoff string) (int64, error)
}

// SharedCacheRepository is the optional shared cache tier, persisted
// through the storage contract with its own TTL.
type SharedCacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int64) error
	DeleteLike(ctx context.Context, pattern string) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
}
