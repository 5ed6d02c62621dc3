// Package repository implements the storage contract over the SQLite
// audit store with handwritten SQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// ResourceRepo implements domain.ResourceRepository. Each bulk upsert runs
// in one transaction so a discovered batch commits atomically.
type ResourceRepo struct {
	db *sql.DB
}

func NewResourceRepo(db *sql.DB) *ResourceRepo {
	return &ResourceRepo{db: db}
}

// UpsertSites inserts or updates sites keyed by stable remote id and
// returns the number of records written.
func (r *ResourceRepo) UpsertSites(ctx context.Context, sites []domain.Site) (int64, error) {
	if len(sites) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert sites: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sites (site_id, url, title, description, storage_used, storage_quota,
			is_hub_site, has_unique_permissions, status, created_at, last_modified, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(site_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			storage_used = excluded.storage_used,
			storage_quota = excluded.storage_quota,
			is_hub_site = excluded.is_hub_site,
			has_unique_permissions = excluded.has_unique_permissions,
			status = excluded.status,
			last_modified = excluded.last_modified,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert sites: %w", err)
	}
	defer stmt.Close()

	for _, s := range sites {
		status := s.Status
		if status == "" {
			status = domain.ResourceStatusActive
		}
		if _, err := stmt.ExecContext(ctx, s.SiteID, s.URL, s.Title, s.Description,
			s.StorageUsed, s.StorageQuota, s.IsHubSite, s.HasUniquePermissions,
			status, s.CreatedAt, s.LastModified); err != nil {
			return 0, fmt.Errorf("upsert site %s: %w", s.SiteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert sites: %w", err)
	}
	return int64(len(sites)), nil
}

// UpsertLibraries inserts or updates document libraries keyed by library id.
func (r *ResourceRepo) UpsertLibraries(ctx context.Context, libraries []domain.Library) (int64, error) {
	if len(libraries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert libraries: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO libraries (library_id, site_id, site_url, drive_id, name, description,
			item_count, is_hidden, has_unique_permissions, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(library_id) DO UPDATE SET
			site_id = excluded.site_id,
			site_url = excluded.site_url,
			drive_id = excluded.drive_id,
			name = excluded.name,
			description = excluded.description,
			item_count = excluded.item_count,
			is_hidden = excluded.is_hidden,
			has_unique_permissions = excluded.has_unique_permissions,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert libraries: %w", err)
	}
	defer stmt.Close()

	for _, l := range libraries {
		status := l.Status
		if status == "" {
			status = domain.ResourceStatusActive
		}
		if _, err := stmt.ExecContext(ctx, l.LibraryID, l.SiteID, l.SiteURL, l.DriveID,
			l.Name, l.Description, l.ItemCount, l.IsHidden, l.HasUniquePermissions,
			status, l.CreatedAt); err != nil {
			return 0, fmt.Errorf("upsert library %s: %w", l.LibraryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert libraries: %w", err)
	}
	return int64(len(libraries)), nil
}

// UpsertFolders inserts or updates folders keyed by folder id.
func (r *ResourceRepo) UpsertFolders(ctx context.Context, folders []domain.Folder) (int64, error) {
	if len(folders) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert folders: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO folders (folder_id, library_id, parent_folder_id, site_id, site_url,
			name, path, item_count, is_root, has_unique_permissions, status,
			created_at, modified_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(folder_id) DO UPDATE SET
			library_id = excluded.library_id,
			parent_folder_id = excluded.parent_folder_id,
			name = excluded.name,
			path = excluded.path,
			item_count = excluded.item_count,
			is_root = excluded.is_root,
			has_unique_permissions = excluded.has_unique_permissions,
			status = excluded.status,
			modified_at = excluded.modified_at,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert folders: %w", err)
	}
	defer stmt.Close()

	for _, f := range folders {
		status := f.Status
		if status == "" {
			status = domain.ResourceStatusActive
		}
		if _, err := stmt.ExecContext(ctx, f.FolderID, f.LibraryID, nullStr(f.ParentFolderID),
			f.SiteID, f.SiteURL, f.Name, f.Path, f.ItemCount, f.IsRoot,
			f.HasUniquePermissions, status, f.CreatedAt, f.ModifiedAt); err != nil {
			return 0, fmt.Errorf("upsert folder %s: %w", f.FolderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert folders: %w", err)
	}
	return int64(len(folders)), nil
}

// UpsertFiles inserts or updates files keyed by file id.
func (r *ResourceRepo) UpsertFiles(ctx context.Context, files []domain.File) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert files: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files (file_id, folder_id, library_id, site_id, site_url, name, path,
			size_bytes, content_type, version, has_unique_permissions, status,
			created_at, modified_at, created_by, modified_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(file_id) DO UPDATE SET
			folder_id = excluded.folder_id,
			library_id = excluded.library_id,
			name = excluded.name,
			path = excluded.path,
			size_bytes = excluded.size_bytes,
			content_type = excluded.content_type,
			version = excluded.version,
			has_unique_permissions = excluded.has_unique_permissions,
			status = excluded.status,
			modified_at = excluded.modified_at,
			modified_by = excluded.modified_by,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert files: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		status := f.Status
		if status == "" {
			status = domain.ResourceStatusActive
		}
		if _, err := stmt.ExecContext(ctx, f.FileID, nullStr(f.FolderID), f.LibraryID,
			f.SiteID, f.SiteURL, f.Name, f.Path, f.SizeBytes, f.ContentType, f.Version,
			f.HasUniquePermissions, status, f.CreatedAt, f.ModifiedAt,
			f.CreatedBy, f.ModifiedBy); err != nil {
			return 0, fmt.Errorf("upsert file %s: %w", f.FileID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert files: %w", err)
	}
	return int64(len(files)), nil
}

// GetSite returns a single site by stable remote id.
func (r *ResourceRepo) GetSite(ctx context.Context, siteID string) (*domain.Site, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT site_id, url, title, description, storage_used, storage_quota,
			is_hub_site, has_unique_permissions, status, created_at, last_modified
		FROM sites WHERE site_id = ?`, siteID)

	var s domain.Site
	var title, desc sql.NullString
	var created, modified sql.NullTime
	err := row.Scan(&s.SiteID, &s.URL, &title, &desc, &s.StorageUsed, &s.StorageQuota,
		&s.IsHubSite, &s.HasUniquePermissions, &s.Status, &created, &modified)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("site %s not found", siteID)
	}
	if err != nil {
		return nil, fmt.Errorf("get site %s: %w", siteID, err)
	}
	s.Title = title.String
	s.Description = desc.String
	if created.Valid {
		s.CreatedAt = &created.Time
	}
	if modified.Valid {
		s.LastModified = &modified.Time
	}
	return &s, nil
}

// GetLibrary returns a single library by id.
func (r *ResourceRepo) GetLibrary(ctx context.Context, libraryID string) (*domain.Library, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT library_id, site_id, site_url, drive_id, name, description,
			item_count, is_hidden, has_unique_permissions, status, created_at
		FROM libraries WHERE library_id = ?`, libraryID)

	var l domain.Library
	var driveID, desc sql.NullString
	var created sql.NullTime
	err := row.Scan(&l.LibraryID, &l.SiteID, &l.SiteURL, &driveID, &l.Name, &desc,
		&l.ItemCount, &l.IsHidden, &l.HasUniquePermissions, &l.Status, &created)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("library %s not found", libraryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get library %s: %w", libraryID, err)
	}
	l.DriveID = driveID.String
	l.Description = desc.String
	if created.Valid {
		l.CreatedAt = &created.Time
	}
	return &l, nil
}

// GetFolder returns a single folder by id.
func (r *ResourceRepo) GetFolder(ctx context.Context, folderID string) (*domain.Folder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT folder_id, library_id, parent_folder_id, site_id, site_url, name, path,
			item_count, is_root, has_unique_permissions, status, created_at, modified_at
		FROM folders WHERE folder_id = ?`, folderID)

	var f domain.Folder
	var parent sql.NullString
	var created, modified sql.NullTime
	err := row.Scan(&f.FolderID, &f.LibraryID, &parent, &f.SiteID, &f.SiteURL,
		&f.Name, &f.Path, &f.ItemCount, &f.IsRoot, &f.HasUniquePermissions,
		&f.Status, &created, &modified)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("folder %s not found", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	f.ParentFolderID = parent.String
	if created.Valid {
		f.CreatedAt = &created.Time
	}
	if modified.Valid {
		f.ModifiedAt = &modified.Time
	}
	return &f, nil
}

// GetFile returns a single file by id.
func (r *ResourceRepo) GetFile(ctx context.Context, fileID string) (*domain.File, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT file_id, folder_id, library_id, site_id, site_url, name, path, size_bytes,
			content_type, version, has_unique_permissions, status, created_at, modified_at,
			created_by, modified_by
		FROM files WHERE file_id = ?`, fileID)

	var f domain.File
	var folderID, contentType, version, createdBy, modifiedBy sql.NullString
	var created, modified sql.NullTime
	err := row.Scan(&f.FileID, &folderID, &f.LibraryID, &f.SiteID, &f.SiteURL,
		&f.Name, &f.Path, &f.SizeBytes, &contentType, &version,
		&f.HasUniquePermissions, &f.Status, &created, &modified, &createdBy, &modifiedBy)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("file %s not found", fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	f.FolderID = folderID.String
	f.ContentType = contentType.String
	f.Version = version.String
	f.CreatedBy = createdBy.String
	f.ModifiedBy = modifiedBy.String
	if created.Valid {
		f.CreatedAt = &created.Time
	}
	if modified.Valid {
		f.ModifiedAt = &modified.Time
	}
	return &f, nil
}

// ListSites returns all known sites, tombstoned ones included.
func (r *ResourceRepo) ListSites(ctx context.Context) ([]domain.Site, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT site_id, url, title, description, storage_used, storage_quota,
			is_hub_site, has_unique_permissions, status, created_at, last_modified
		FROM sites ORDER BY site_id`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []domain.Site
	for rows.Next() {
		var s domain.Site
		var title, desc sql.NullString
		var created, modified sql.NullTime
		if err := rows.Scan(&s.SiteID, &s.URL, &title, &desc, &s.StorageUsed,
			&s.StorageQuota, &s.IsHubSite, &s.HasUniquePermissions, &s.Status,
			&created, &modified); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		s.Title = title.String
		s.Description = desc.String
		if created.Valid {
			s.CreatedAt = &created.Time
		}
		if modified.Valid {
			s.LastModified = &modified.Time
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// ListLibrariesBySite returns all libraries belonging to a site.
func (r *ResourceRepo) ListLibrariesBySite(ctx context.Context, siteID string) ([]domain.Library, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT library_id, site_id, site_url, drive_id, name, description,
			item_count, is_hidden, has_unique_permissions, status, created_at
		FROM libraries WHERE site_id = ? ORDER BY library_id`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list libraries for site %s: %w", siteID, err)
	}
	defer rows.Close()

	var libraries []domain.Library
	for rows.Next() {
		var l domain.Library
		var driveID, desc sql.NullString
		var created sql.NullTime
		if err := rows.Scan(&l.LibraryID, &l.SiteID, &l.SiteURL, &driveID, &l.Name,
			&desc, &l.ItemCount, &l.IsHidden, &l.HasUniquePermissions, &l.Status,
			&created); err != nil {
			return nil, fmt.Errorf("scan library: %w", err)
		}
		l.DriveID = driveID.String
		l.Description = desc.String
		if created.Valid {
			l.CreatedAt = &created.Time
		}
		libraries = append(libraries, l)
	}
	return libraries, rows.Err()
}

// ListFoldersByLibrary returns a library's folders ordered by path, so
// parents always precede their children.
func (r *ResourceRepo) ListFoldersByLibrary(ctx context.Context, libraryID string) ([]domain.Folder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT folder_id, library_id, parent_folder_id, site_id, site_url, name, path,
			item_count, is_root, has_unique_permissions, status, created_at, modified_at
		FROM folders WHERE library_id = ? ORDER BY path`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("list folders for library %s: %w", libraryID, err)
	}
	defer rows.Close()

	var folders []domain.Folder
	for rows.Next() {
		var f domain.Folder
		var parent sql.NullString
		var created, modified sql.NullTime
		if err := rows.Scan(&f.FolderID, &f.LibraryID, &parent, &f.SiteID, &f.SiteURL,
			&f.Name, &f.Path, &f.ItemCount, &f.IsRoot, &f.HasUniquePermissions,
			&f.Status, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		f.ParentFolderID = parent.String
		if created.Valid {
			f.CreatedAt = &created.Time
		}
		if modified.Valid {
			f.ModifiedAt = &modified.Time
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// ListFilesByLibrary returns a library's files ordered by path.
func (r *ResourceRepo) ListFilesByLibrary(ctx context.Context, libraryID string) ([]domain.File, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT file_id, folder_id, library_id, site_id, site_url, name, path, size_bytes,
			content_type, version, has_unique_permissions, status, created_at, modified_at,
			created_by, modified_by
		FROM files WHERE library_id = ? ORDER BY path`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("list files for library %s: %w", libraryID, err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var f domain.File
		var folderID, contentType, version, createdBy, modifiedBy sql.NullString
		var created, modified sql.NullTime
		if err := rows.Scan(&f.FileID, &folderID, &f.LibraryID, &f.SiteID, &f.SiteURL,
			&f.Name, &f.Path, &f.SizeBytes, &contentType, &version,
			&f.HasUniquePermissions, &f.Status, &created, &modified,
			&createdBy, &modifiedBy); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.FolderID = folderID.String
		f.ContentType = contentType.String
		f.Version = version.String
		f.CreatedBy = createdBy.String
		f.ModifiedBy = modifiedBy.String
		if created.Valid {
			f.CreatedAt = &created.Time
		}
		if modified.Valid {
			f.ModifiedAt = &modified.Time
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// SetUniquePermissions records whether a resource breaks inheritance,
// as determined during permission resolution.
func (r *ResourceRepo) SetUniquePermissions(ctx context.Context, resourceType, id string, unique bool) error {
	var query string
	switch resourceType {
	case domain.ResourceTypeSite:
		query = `UPDATE sites SET has_unique_permissions = ?, updated_at = CURRENT_TIMESTAMP WHERE site_id = ?`
	case domain.ResourceTypeLibrary:
		query = `UPDATE libraries SET has_unique_permissions = ?, updated_at = CURRENT_TIMESTAMP WHERE library_id = ?`
	case domain.ResourceTypeFolder:
		query = `UPDATE folders SET has_unique_permissions = ?, updated_at = CURRENT_TIMESTAMP WHERE folder_id = ?`
	case domain.ResourceTypeFile:
		query = `UPDATE files SET has_unique_permissions = ?, updated_at = CURRENT_TIMESTAMP WHERE file_id = ?`
	default:
		return domain.ErrValidation("unknown resource type %q", resourceType)
	}
	res, err := r.db.ExecContext(ctx, query, unique, id)
	if err != nil {
		return fmt.Errorf("set unique permissions on %s %s: %w", resourceType, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("%s %s not found", resourceType, id)
	}
	return nil
}

// AggregateSiteStorage recomputes each site's storage_used from its
// files and returns the number of sites updated.
func (r *ResourceRepo) AggregateSiteStorage(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sites SET
			storage_used = COALESCE((SELECT SUM(size_bytes) FROM files WHERE files.site_id = sites.site_id), 0),
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, fmt.Errorf("aggregate site storage: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountResources returns the totals of the persisted tree.
func (r *ResourceRepo) CountResources(ctx context.Context) (*domain.ResourceCounts, error) {
	var c domain.ResourceCounts
	row := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sites),
			(SELECT COUNT(*) FROM libraries),
			(SELECT COUNT(*) FROM folders),
			(SELECT COUNT(*) FROM files)`)
	if err := row.Scan(&c.Sites, &c.Libraries, &c.Folders, &c.Files); err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	return &c, nil
}

// TombstoneSite marks a site (and nothing below it) as gone from the
// remote tenant. Local rows are never deleted. A site never persisted
// locally is a no-op: the delta feed can report sites created and
// deleted between polls.
func (r *ResourceRepo) TombstoneSite(ctx context.Context, siteID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sites SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE site_id = ?`,
		domain.ResourceStatusTombstoned, siteID)
	if err != nil {
		return fmt.Errorf("tombstone site %s: %w", siteID, err)
	}
	return nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
