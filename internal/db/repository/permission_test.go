package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "github.com/bcdannyboy/SharepointAudit/internal/db"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
)

func setupPermissionRepo(t *testing.T) *PermissionRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewPermissionRepo(writeDB)
}

func makeEntry(objectID, principalID string, inherited bool) domain.PermissionEntry {
	source := objectID
	if inherited {
		source = "ancestor-1"
	}
	return domain.PermissionEntry{
		ObjectType:      domain.ResourceTypeFile,
		ObjectID:        objectID,
		PrincipalType:   domain.PrincipalTypeUser,
		PrincipalID:     principalID,
		PrincipalName:   principalID + "@contoso.com",
		PermissionLevel: "Read",
		IsInherited:     inherited,
		SourceObjectID:  source,
	}
}

func TestPermissionRepo_ReplaceEntriesConverges(t *testing.T) {
	repo := setupPermissionRepo(t)
	ctx := context.Background()

	err := repo.ReplaceEntries(ctx, domain.ResourceTypeFile, "file-1",
		[]domain.PermissionEntry{makeEntry("file-1", "alice", false), makeEntry("file-1", "bob", false)})
	require.NoError(t, err)

	// Re-resolving with a different set replaces, not appends.
	err = repo.ReplaceEntries(ctx, domain.ResourceTypeFile, "file-1",
		[]domain.PermissionEntry{makeEntry("file-1", "carol", true)})
	require.NoError(t, err)

	entries, err := repo.ListEntries(ctx, domain.ResourceTypeFile, "file-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].PrincipalID)
	assert.True(t, entries[0].IsInherited)
	assert.Equal(t, "ancestor-1", entries[0].SourceObjectID)
}

func TestPermissionRepo_ExternalEntries(t *testing.T) {
	repo := setupPermissionRepo(t)
	ctx := context.Background()

	guest := makeEntry("file-1", "guest", false)
	guest.PrincipalType = domain.PrincipalTypeExternalGuest
	guest.IsExternal = true

	link := makeEntry("file-2", "link", false)
	link.PrincipalType = domain.PrincipalTypeAnonymousLink
	link.IsAnonymousLink = true

	require.NoError(t, repo.ReplaceEntries(ctx, domain.ResourceTypeFile, "file-1",
		[]domain.PermissionEntry{makeEntry("file-1", "alice", false), guest}))
	require.NoError(t, repo.ReplaceEntries(ctx, domain.ResourceTypeFile, "file-2",
		[]domain.PermissionEntry{link}))

	extern, err := repo.ListExternalEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, extern, 2)
}

func TestPermissionRepo_SaveGroupMembership(t *testing.T) {
	repo := setupPermissionRepo(t)
	ctx := context.Background()

	m := &domain.GroupMembership{
		GroupID:    "group-1",
		GroupName:  "Finance",
		Members:    []domain.GroupMember{{UserID: "u1"}, {UserID: "u2"}},
		ExpandedAt: time.Now(),
	}
	require.NoError(t, repo.SaveGroupMembership(ctx, m))

	// Re-expansion with fewer members replaces the member rows.
	m.Members = []domain.GroupMember{{UserID: "u1"}}
	require.NoError(t, repo.SaveGroupMembership(ctx, m))

	count, err := repo.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
