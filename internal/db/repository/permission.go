package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

// PermissionRepo implements domain.PermissionRepository.
type PermissionRepo struct {
	db *sql.DB
}

func NewPermissionRepo(db *sql.DB) *PermissionRepo {
	return &PermissionRepo{db: db}
}

// ReplaceEntries atomically swaps the resolved entries for one object.
// Re-resolution on incremental runs converges to the latest remote state
// instead of accumulating duplicates.
func (r *PermissionRepo) ReplaceEntries(ctx context.Context, objectType, objectID string, entries []domain.PermissionEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace permissions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM permissions WHERE object_type = ? AND object_id = ?`,
		objectType, objectID); err != nil {
		return fmt.Errorf("clear permissions for %s %s: %w", objectType, objectID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO permissions (object_type, object_id, principal_type, principal_id,
			principal_name, permission_level, is_inherited, source_object_id,
			granted_at, granted_by, is_external, is_anonymous_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert permissions: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.ObjectType, e.ObjectID, e.PrincipalType,
			e.PrincipalID, e.PrincipalName, e.PermissionLevel, e.IsInherited,
			e.SourceObjectID, e.GrantedAt, e.GrantedBy, e.IsExternal,
			e.IsAnonymousLink); err != nil {
			return fmt.Errorf("insert permission for %s %s: %w", objectType, objectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace permissions: %w", err)
	}
	return nil
}

// ListEntries returns all resolved entries for one object.
func (r *PermissionRepo) ListEntries(ctx context.Context, objectType, objectID string) ([]domain.PermissionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT object_type, object_id, principal_type, principal_id, principal_name,
			permission_level, is_inherited, source_object_id, granted_at, granted_by,
			is_external, is_anonymous_link
		FROM permissions WHERE object_type = ? AND object_id = ? ORDER BY id`,
		objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("list permissions for %s %s: %w", objectType, objectID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListExternalEntries returns every entry flagged as an external guest or
// anonymous link, for the sharing report.
func (r *PermissionRepo) ListExternalEntries(ctx context.Context) ([]domain.PermissionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT object_type, object_id, principal_type, principal_id, principal_name,
			permission_level, is_inherited, source_object_id, granted_at, granted_by,
			is_external, is_anonymous_link
		FROM permissions WHERE is_external = TRUE OR is_anonymous_link = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list external permissions: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SaveGroupMembership persists a flattened group expansion, replacing any
// previous member rows for that group.
func (r *PermissionRepo) SaveGroupMembership(ctx context.Context, m *domain.GroupMembership) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save group membership: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (group_id, name, member_count, expanded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			name = excluded.name,
			member_count = excluded.member_count,
			expanded_at = excluded.expanded_at`,
		m.GroupID, m.GroupName, len(m.Members), m.ExpandedAt); err != nil {
		return fmt.Errorf("upsert group %s: %w", m.GroupID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ?`, m.GroupID); err != nil {
		return fmt.Errorf("clear members for group %s: %w", m.GroupID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO group_members (group_id, user_id, user_name, user_email)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert group members: %w", err)
	}
	defer stmt.Close()

	for _, member := range m.Members {
		if _, err := stmt.ExecContext(ctx, m.GroupID, member.UserID,
			member.UserName, member.UserEmail); err != nil {
			return fmt.Errorf("insert member %s of group %s: %w", member.UserID, m.GroupID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save group membership: %w", err)
	}
	return nil
}

// CountEntries returns the total number of stored permission entries.
func (r *PermissionRepo) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count permissions: %w", err)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]domain.PermissionEntry, error) {
	var entries []domain.PermissionEntry
	for rows.Next() {
		var e domain.PermissionEntry
		var name, grantedBy sql.NullString
		var grantedAt sql.NullTime
		if err := rows.Scan(&e.ObjectType, &e.ObjectID, &e.PrincipalType, &e.PrincipalID,
			&name, &e.PermissionLevel, &e.IsInherited, &e.SourceObjectID,
			&grantedAt, &grantedBy, &e.IsExternal, &e.IsAnonymousLink); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		e.PrincipalName = name.String
		e.GrantedBy = grantedBy.String
		if grantedAt.Valid {
			e.GrantedAt = &grantedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
