package permissions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcdannyboy/SharepointAudit/internal/cache"
	internaldb "github.com/bcdannyboy/SharepointAudit/internal/db"
	"github.com/bcdannyboy/SharepointAudit/internal/db/repository"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/governor"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
	"github.com/bcdannyboy/SharepointAudit/internal/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGraphClient(t *testing.T, handler http.Handler) *graph.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Budget: 100000,
		Window: time.Second,
	}, testLogger())
	retry := resilience.NewRetryStrategy(resilience.RetryConfig{
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		BreakerThreshold: 100,
		BreakerRecovery:  time.Second,
	}, testLogger())
	cfg := graph.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.SmoothingRPS = 100000
	cfg.SmoothingBurst = 1000
	return graph.NewClient(cfg, graph.NewStaticTokenProvider("t"), limiter, retry, testLogger())
}

type analyzerFixture struct {
	analyzer  *Analyzer
	resources *repository.ResourceRepo
	perms     *repository.PermissionRepo
}

func newAnalyzerFixture(t *testing.T, handler http.Handler) *analyzerFixture {
	t.Helper()
	client := newTestGraphClient(t, handler)

	writeDB, _ := internaldb.OpenTestSQLite(t)
	resources := repository.NewResourceRepo(writeDB)
	perms := repository.NewPermissionRepo(writeDB)

	gov, err := governor.New(map[string]int64{governor.PoolAPI: 4})
	require.NoError(t, err)

	local := cache.New(cache.Config{}, nil, testLogger())
	expander := NewExpander(client, local, time.Hour, testLogger())

	return &analyzerFixture{
		analyzer:  NewAnalyzer(client, resources, perms, expander, gov, testLogger()),
		resources: resources,
		perms:     perms,
	}
}

func seedTree(t *testing.T, f *analyzerFixture) {
	t.Helper()
	ctx := context.Background()
	_, err := f.resources.UpsertSites(ctx, []domain.Site{{
		SiteID: "site-1", URL: "https://contoso.sharepoint.com/sites/eng", Title: "Engineering",
	}})
	require.NoError(t, err)
	_, err = f.resources.UpsertLibraries(ctx, []domain.Library{{
		LibraryID: "drive-1", SiteID: "site-1", DriveID: "drive-1", Name: "Documents",
	}})
	require.NoError(t, err)
	_, err = f.resources.UpsertFolders(ctx, []domain.Folder{{
		FolderID: "folder-g", LibraryID: "drive-1", SiteID: "site-1",
		Name: "Shared", Path: "Documents/Shared",
	}})
	require.NoError(t, err)
	_, err = f.resources.UpsertFiles(ctx, []domain.File{
		{FileID: "file-u", FolderID: "folder-g", LibraryID: "drive-1", SiteID: "site-1",
			Name: "budget.xlsx", Path: "Documents/Shared/budget.xlsx"},
		{FileID: "file-i", FolderID: "folder-g", LibraryID: "drive-1", SiteID: "site-1",
			Name: "notes.txt", Path: "Documents/Shared/notes.txt"},
	})
	require.NoError(t, err)
}

// boundaryMux models a site whose library inherits, a folder granting a
// site group Read, and under it one file with its own unique Edit grant
// and one file that inherits.
func boundaryMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sites/site-1/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"sp1","roles":["owner"],"grantedToV2":{"user":{"id":"dana","displayName":"Dana","email":"dana@contoso.com"}}}
		]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/root/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"lp1","roles":["owner"],"inheritedFrom":{"id":"site-1"},"grantedToV2":{"user":{"id":"dana","displayName":"Dana"}}}
		]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/folder-g/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"fp1","roles":["read"],"grantedToV2":{"siteGroup":{"id":"G","displayName":"Project Members"}}}
		]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/file-u/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"up1","roles":["write"],"grantedToV2":{"user":{"id":"u","displayName":"Uma","email":"uma@contoso.com"}}},
			{"id":"up2","roles":["read"],"inheritedFrom":{"id":"folder-g"},"grantedToV2":{"siteGroup":{"id":"G","displayName":"Project Members"}}}
		]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/file-i/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	})
	return mux
}

func TestAnalyzerUniquePermissionBoundary(t *testing.T) {
	f := newAnalyzerFixture(t, boundaryMux())
	seedTree(t, f)
	ctx := context.Background()

	stats, err := f.analyzer.Run(ctx, "run-1")
	require.NoError(t, err)
	require.Zero(t, stats.Errors)
	assert.Equal(t, int64(5), stats.ObjectsResolved)

	// The file with its own grant reports only that grant.
	fileEntries, err := f.perms.ListEntries(ctx, domain.ResourceTypeFile, "file-u")
	require.NoError(t, err)
	require.Len(t, fileEntries, 1)
	assert.Equal(t, "u", fileEntries[0].PrincipalID)
	assert.Equal(t, "write", fileEntries[0].PermissionLevel)
	assert.False(t, fileEntries[0].IsInherited)
	assert.Equal(t, "file-u", fileEntries[0].SourceObjectID)

	got, err := f.resources.GetFile(ctx, "file-u")
	require.NoError(t, err)
	assert.True(t, got.HasUniquePermissions)

	// The sibling without grants of its own inherits the folder's.
	inherited, err := f.perms.ListEntries(ctx, domain.ResourceTypeFile, "file-i")
	require.NoError(t, err)
	require.Len(t, inherited, 1)
	assert.Equal(t, "G", inherited[0].PrincipalID)
	assert.Equal(t, domain.PrincipalTypeSharePointGroup, inherited[0].PrincipalType)
	assert.True(t, inherited[0].IsInherited)
	assert.Equal(t, "folder-g", inherited[0].SourceObjectID)

	got, err = f.resources.GetFile(ctx, "file-i")
	require.NoError(t, err)
	assert.False(t, got.HasUniquePermissions)

	// The library carries the site's entries, tagged inherited.
	libEntries, err := f.perms.ListEntries(ctx, domain.ResourceTypeLibrary, "drive-1")
	require.NoError(t, err)
	require.Len(t, libEntries, 1)
	assert.True(t, libEntries[0].IsInherited)
	assert.Equal(t, "site-1", libEntries[0].SourceObjectID)
}

func TestAnalyzerFlagsExternalAndAnonymous(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sites/site-1/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"p1","roles":["read"],"grantedToV2":{"user":{"id":"g1","displayName":"Guest","loginName":"i:0#.f|membership|guest_gmail.com#ext#@contoso.onmicrosoft.com"}}},
			{"id":"p2","roles":["read"],"link":{"scope":"anonymous","type":"view"}}
		]}`)
	})
	f := newAnalyzerFixture(t, mux)
	ctx := context.Background()
	_, err := f.resources.UpsertSites(ctx, []domain.Site{{
		SiteID: "site-1", URL: "https://contoso.sharepoint.com/sites/eng", Title: "Engineering",
	}})
	require.NoError(t, err)

	stats, err := f.analyzer.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ExternalEntries)
	assert.Equal(t, int64(1), stats.AnonymousLinks)

	external, err := f.perms.ListExternalEntries(ctx)
	require.NoError(t, err)
	require.Len(t, external, 2)
}

func TestAnalyzerCountsUnresolvableAncestors(t *testing.T) {
	mux := boundaryMux()
	f := newAnalyzerFixture(t, mux)
	seedTree(t, f)
	ctx := context.Background()

	// A file whose parent folder was never discovered cannot resolve.
	_, err := f.resources.UpsertFiles(ctx, []domain.File{{
		FileID: "file-orphan", FolderID: "ghost", LibraryID: "drive-1", SiteID: "site-1",
		Name: "orphan.txt", Path: "Documents/Ghost/orphan.txt",
	}})
	require.NoError(t, err)
	mux.HandleFunc("/drives/drive-1/items/file-orphan/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	})

	stats, err := f.analyzer.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Errors)

	entries, err := f.perms.ListEntries(ctx, domain.ResourceTypeFile, "file-orphan")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnalyzerDoesNotInheritFromUnresolvedAncestor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sites/site-1/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"sp1","roles":["owner"],"grantedToV2":{"user":{"id":"dana","displayName":"Dana","email":"dana@contoso.com"}}}
		]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/root/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[
			{"id":"lp1","roles":["owner"],"inheritedFrom":{"id":"site-1"},"grantedToV2":{"user":{"id":"dana","displayName":"Dana"}}}
		]}`)
	})
	// The folder's own resolution fails, so its row exists but carries no
	// entries.
	mux.HandleFunc("/drives/drive-1/items/folder-g/permissions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/drives/drive-1/items/file-u/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	})
	mux.HandleFunc("/drives/drive-1/items/file-i/permissions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	})

	f := newAnalyzerFixture(t, mux)
	seedTree(t, f)
	ctx := context.Background()

	stats, err := f.analyzer.Run(ctx, "run-1")
	require.NoError(t, err)

	// The folder and both of its children are counted, none recorded as
	// resolved with an empty entry set.
	assert.Equal(t, int64(3), stats.Errors)
	assert.Equal(t, int64(2), stats.ObjectsResolved)
	assert.Equal(t, int64(1), stats.InheritedObjects)

	for _, id := range []string{"file-u", "file-i"} {
		entries, err := f.perms.ListEntries(ctx, domain.ResourceTypeFile, id)
		require.NoError(t, err)
		assert.Empty(t, entries, id)
	}
}

func TestExpanderDeduplicatesAndBreaksCycles(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/g1/transitiveMembers", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"value":[
			{"@odata.type":"#microsoft.graph.user","id":"u1","displayName":"Dana","mail":"dana@contoso.com"},
			{"@odata.type":"#microsoft.graph.group","id":"g2","displayName":"Nested"}
		]}`)
	})
	mux.HandleFunc("/groups/g2/transitiveMembers", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"value":[
			{"@odata.type":"#microsoft.graph.user","id":"u1","displayName":"Dana","mail":"dana@contoso.com"},
			{"@odata.type":"#microsoft.graph.user","id":"u2","displayName":"Omar","mail":"omar@contoso.com"},
			{"@odata.type":"#microsoft.graph.group","id":"g1","displayName":"Cycle"}
		]}`)
	})
	client := newTestGraphClient(t, mux)
	local := cache.New(cache.Config{}, nil, testLogger())
	e := NewExpander(client, local, time.Hour, testLogger())

	m, err := e.Expand(context.Background(), "g1", "Top")
	require.NoError(t, err)
	require.Len(t, m.Members, 2)
	assert.Equal(t, "u1", m.Members[0].UserID)
	assert.Equal(t, "u2", m.Members[1].UserID)
	assert.Equal(t, []string{"g2"}, m.NestedGroups)
	require.Equal(t, int32(2), calls.Load())

	// A second expansion is served from cache.
	_, err = e.Expand(context.Background(), "g1", "Top")
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestIsExternalPrincipal(t *testing.T) {
	assert.True(t, IsExternalPrincipal("i:0#.f|membership|bob_gmail.com#EXT#@x.com", ""))
	assert.True(t, IsExternalPrincipal("urn:spo:guest#bob@gmail.com", ""))
	assert.False(t, IsExternalPrincipal("i:0#.f|membership|dana@contoso.com", "dana@contoso.com"))
}
