// Package permissions resolves the effective access-control state of
// every discovered resource: direct grants where inheritance is broken,
// the ancestor's grants everywhere else, group principals expanded to
// users, and external or anonymous sharing flagged for reporting.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/governor"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
)

// Stats are the counters accumulated over one analysis pass.
type Stats struct {
	ObjectsResolved  int64
	UniqueObjects    int64
	InheritedObjects int64
	EntriesWritten   int64
	ExternalEntries  int64
	AnonymousLinks   int64
	Errors           int64
}

// Analyzer resolves permissions for the persisted resource tree. Sites
// run in parallel under the API admission pool; within a site resources
// resolve in dependency order so every ancestor's entries are persisted
// before its descendants read them.
type Analyzer struct {
	client    *graph.Client
	resources domain.ResourceRepository
	perms     domain.PermissionRepository
	expander  *Expander
	gov       *governor.Governor
	logger    *slog.Logger
}

func NewAnalyzer(client *graph.Client, resources domain.ResourceRepository, perms domain.PermissionRepository, expander *Expander, gov *governor.Governor, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		client:    client,
		resources: resources,
		perms:     perms,
		expander:  expander,
		gov:       gov,
		logger:    logger.With("component", "permission_analyzer"),
	}
}

// Run analyzes every active site. A failing site is counted and skipped;
// only cancellation aborts the pass.
func (a *Analyzer) Run(ctx context.Context, runID string) (Stats, error) {
	sites, err := a.resources.ListSites(ctx)
	if err != nil {
		return Stats{}, err
	}

	var resolved, unique, inherited, entries, external, anonymous, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, site := range sites {
		if site.Status != domain.ResourceStatusActive {
			continue
		}
		site := site
		g.Go(func() error {
			return a.gov.RunUnder(gctx, governor.PoolAPI, func(ctx context.Context) error {
				stats, err := a.analyzeSite(ctx, site)
				resolved.Add(stats.ObjectsResolved)
				unique.Add(stats.UniqueObjects)
				inherited.Add(stats.InheritedObjects)
				entries.Add(stats.EntriesWritten)
				external.Add(stats.ExternalEntries)
				anonymous.Add(stats.AnonymousLinks)
				errs.Add(stats.Errors)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					errs.Add(1)
					a.logger.Error("site analysis failed",
						"site_id", site.SiteID, "error", err)
				}
				return nil
			})
		})
	}
	err = g.Wait()

	return Stats{
		ObjectsResolved:  resolved.Load(),
		UniqueObjects:    unique.Load(),
		InheritedObjects: inherited.Load(),
		EntriesWritten:   entries.Load(),
		ExternalEntries:  external.Load(),
		AnonymousLinks:   anonymous.Load(),
		Errors:           errs.Load(),
	}, err
}

// objectRef locates one resource both locally and on the remote API.
type objectRef struct {
	objType    string
	id         string
	driveID    string
	itemID     string
	parentType string
	parentID   string
}

func (a *Analyzer) analyzeSite(ctx context.Context, site domain.Site) (Stats, error) {
	var stats Stats

	// The site is the inheritance root; its grants are always direct.
	grants, err := a.client.SitePermissions(ctx, site.SiteID)
	if err != nil {
		return stats, fmt.Errorf("site permissions for %s: %w", site.SiteID, err)
	}
	set, err := a.buildEntries(ctx, domain.ResourceTypeSite, site.SiteID, site.SiteID, grants)
	if err != nil {
		return stats, err
	}
	if err := a.persist(ctx, set, true, &stats); err != nil {
		return stats, err
	}
	stats.UniqueObjects++

	libs, err := a.resources.ListLibrariesBySite(ctx, site.SiteID)
	if err != nil {
		return stats, err
	}
	for _, lib := range libs {
		if err := a.analyzeLibrary(ctx, site, lib, &stats); err != nil {
			if ctx.Err() != nil {
				return stats, err
			}
			stats.Errors++
			a.logger.Error("library analysis failed",
				"library_id", lib.LibraryID, "error", err)
		}
	}
	return stats, nil
}

func (a *Analyzer) analyzeLibrary(ctx context.Context, site domain.Site, lib domain.Library, stats *Stats) error {
	err := a.resolve(ctx, objectRef{
		objType:    domain.ResourceTypeLibrary,
		id:         lib.LibraryID,
		driveID:    lib.DriveID,
		itemID:     "root",
		parentType: domain.ResourceTypeSite,
		parentID:   site.SiteID,
	}, stats)
	if err != nil {
		return err
	}

	folders, err := a.resources.ListFoldersByLibrary(ctx, lib.LibraryID)
	if err != nil {
		return err
	}
	var deferred []objectRef
	for _, f := range folders {
		ref := folderRef(lib, f)
		if err := a.resolve(ctx, ref, stats); err != nil {
			if ferr := a.deferOrFail(err, ref, &deferred, stats); ferr != nil {
				return ferr
			}
		}
	}

	files, err := a.resources.ListFilesByLibrary(ctx, lib.LibraryID)
	if err != nil {
		return err
	}
	for _, f := range files {
		ref := fileRef(lib, f)
		if err := a.resolve(ctx, ref, stats); err != nil {
			if ferr := a.deferOrFail(err, ref, &deferred, stats); ferr != nil {
				return ferr
			}
		}
	}

	// Deferred objects get one more pass once the rest of the library has
	// been persisted.
	for _, ref := range deferred {
		if err := a.resolve(ctx, ref, stats); err != nil {
			if ctx.Err() != nil {
				return err
			}
			stats.Errors++
			a.logger.Error("permission resolution failed",
				"object_type", ref.objType, "object_id", ref.id, "error", err)
		}
	}
	return nil
}

// deferOrFail queues ordering errors for a retry pass; anything else is
// counted against the run. Cancellation propagates.
func (a *Analyzer) deferOrFail(err error, ref objectRef, deferred *[]objectRef, stats *Stats) error {
	if isOrderingError(err) {
		*deferred = append(*deferred, ref)
		return nil
	}
	if isCancellation(err) {
		return err
	}
	stats.Errors++
	a.logger.Error("permission resolution failed",
		"object_type", ref.objType, "object_id", ref.id, "error", err)
	return nil
}

// resolve fetches an object's grants and persists either its direct
// entries or a copy of its ancestor's, never both.
func (a *Analyzer) resolve(ctx context.Context, ref objectRef, stats *Stats) error {
	grants, err := a.client.ItemPermissions(ctx, ref.driveID, ref.itemID)
	if err != nil {
		return err
	}

	direct := directGrants(grants)
	if len(direct) > 0 {
		set, err := a.buildEntries(ctx, ref.objType, ref.id, ref.id, direct)
		if err != nil {
			return err
		}
		if err := a.persist(ctx, set, true, stats); err != nil {
			return err
		}
		stats.UniqueObjects++
		return nil
	}

	parentEntries, err := a.perms.ListEntries(ctx, ref.parentType, ref.parentID)
	if err != nil {
		return err
	}
	if len(parentEntries) == 0 {
		// The ancestor either has not been reached yet or its own
		// resolution failed. Copying nothing would record this object as
		// resolved without a single grant, so defer instead.
		return fmt.Errorf("%w: %s %s has no resolved entries on %s %s",
			domain.ErrAncestorNotPersisted, ref.objType, ref.id, ref.parentType, ref.parentID)
	}

	set := &domain.PermissionSet{ObjectType: ref.objType, ObjectID: ref.id}
	for _, e := range parentEntries {
		e.ObjectType = ref.objType
		e.ObjectID = ref.id
		e.IsInherited = true
		set.Add(e)
	}
	if err := a.persist(ctx, set, false, stats); err != nil {
		return err
	}
	stats.InheritedObjects++
	return nil
}

func (a *Analyzer) persist(ctx context.Context, set *domain.PermissionSet, unique bool, stats *Stats) error {
	if err := a.perms.ReplaceEntries(ctx, set.ObjectType, set.ObjectID, set.Entries); err != nil {
		return err
	}
	if err := a.resources.SetUniquePermissions(ctx, set.ObjectType, set.ObjectID, unique); err != nil {
		return err
	}
	stats.ObjectsResolved++
	stats.EntriesWritten += int64(len(set.Entries))
	stats.ExternalEntries += int64(set.ExternalCount)
	stats.AnonymousLinks += int64(set.AnonymousLinkCount)
	return nil
}

// buildEntries converts raw grants into permission entries, expanding
// group principals as a side effect so membership is available for
// reporting.
func (a *Analyzer) buildEntries(ctx context.Context, objType, objID, sourceID string, grants []graph.Permission) (*domain.PermissionSet, error) {
	set := &domain.PermissionSet{
		ObjectType:     objType,
		ObjectID:       objID,
		SourceObjectID: sourceID,
	}
	for _, grant := range grants {
		level := strings.Join(grant.Roles, ",")

		if grant.IsAnonymousLink() {
			set.Add(domain.PermissionEntry{
				ObjectType:      objType,
				ObjectID:        objID,
				PrincipalType:   domain.PrincipalTypeAnonymousLink,
				PrincipalID:     grant.ID,
				PrincipalName:   "Anyone with the link",
				PermissionLevel: level,
				SourceObjectID:  sourceID,
				IsAnonymousLink: true,
			})
			continue
		}

		for _, ids := range grantIdentities(grant) {
			entry, err := a.entryForIdentity(ctx, ids, objType, objID, sourceID, level)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				set.Add(*entry)
			}
		}
	}
	return set, nil
}

func (a *Analyzer) entryForIdentity(ctx context.Context, ids graph.IdentitySet, objType, objID, sourceID, level string) (*domain.PermissionEntry, error) {
	base := domain.PermissionEntry{
		ObjectType:      objType,
		ObjectID:        objID,
		PermissionLevel: level,
		SourceObjectID:  sourceID,
	}
	switch {
	case ids.User != nil:
		base.PrincipalID = ids.User.ID
		base.PrincipalName = ids.User.DisplayName
		if IsExternalPrincipal(ids.User.LoginName, ids.User.Email) {
			base.PrincipalType = domain.PrincipalTypeExternalGuest
			base.IsExternal = true
		} else {
			base.PrincipalType = domain.PrincipalTypeUser
		}
	case ids.Group != nil:
		base.PrincipalType = domain.PrincipalTypeGroup
		base.PrincipalID = ids.Group.ID
		base.PrincipalName = ids.Group.DisplayName
		membership, err := a.expander.Expand(ctx, ids.Group.ID, ids.Group.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("expand group %s: %w", ids.Group.ID, err)
		}
		if err := a.perms.SaveGroupMembership(ctx, membership); err != nil {
			return nil, err
		}
	case ids.SiteGroup != nil:
		base.PrincipalType = domain.PrincipalTypeSharePointGroup
		base.PrincipalID = ids.SiteGroup.ID
		base.PrincipalName = ids.SiteGroup.DisplayName
	case ids.Application != nil:
		base.PrincipalType = domain.PrincipalTypeApplication
		base.PrincipalID = ids.Application.ID
		base.PrincipalName = ids.Application.DisplayName
	default:
		return nil, nil
	}
	return &base, nil
}

func isOrderingError(err error) bool {
	return errors.Is(err, domain.ErrAncestorNotPersisted)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// directGrants filters out entries the API marks as inherited from an
// ancestor.
func directGrants(grants []graph.Permission) []graph.Permission {
	var direct []graph.Permission
	for _, g := range grants {
		if g.InheritedFrom == nil {
			direct = append(direct, g)
		}
	}
	return direct
}

func grantIdentities(grant graph.Permission) []graph.IdentitySet {
	if grant.GrantedToV2 != nil {
		return append([]graph.IdentitySet{*grant.GrantedToV2}, grant.GrantedToIdentitiesV2...)
	}
	return grant.GrantedToIdentitiesV2
}

func folderRef(lib domain.Library, f domain.Folder) objectRef {
	ref := objectRef{
		objType: domain.ResourceTypeFolder,
		id:      f.FolderID,
		driveID: lib.DriveID,
		itemID:  f.FolderID,
	}
	if f.ParentFolderID != "" {
		ref.parentType = domain.ResourceTypeFolder
		ref.parentID = f.ParentFolderID
	} else {
		ref.parentType = domain.ResourceTypeLibrary
		ref.parentID = lib.LibraryID
	}
	return ref
}

func fileRef(lib domain.Library, f domain.File) objectRef {
	ref := objectRef{
		objType: domain.ResourceTypeFile,
		id:      f.FileID,
		driveID: lib.DriveID,
		itemID:  f.FileID,
	}
	if f.FolderID != "" {
		ref.parentType = domain.ResourceTypeFolder
		ref.parentID = f.FolderID
	} else {
		ref.parentType = domain.ResourceTypeLibrary
		ref.parentID = lib.LibraryID
	}
	return ref
}
