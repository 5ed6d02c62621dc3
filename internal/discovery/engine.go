// Package discovery enumerates the tenant's resource tree (sites,
// libraries, folders, files) and persists it through the storage
// contract. Enumeration is incremental where the remote API offers delta
// queries and checkpointed so interrupted runs resume without repeating
// completed sites.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bcdannyboy/SharepointAudit/internal/checkpoint"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/governor"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
)

// DeltaScope is the checkpoint scope for delta tokens. Tokens outlive a
// single run, so they are stored outside any run's namespace.
const DeltaScope = "tenant"

const sitesDeltaKey = "sites_delta_token"

// Config bounds the traversal.
type Config struct {
	// BatchSize is the number of rows accumulated before a bulk upsert.
	BatchSize int
	// MaxDepth caps folder nesting; deeper subtrees are skipped with a
	// warning rather than risking unbounded queues on pathological trees.
	MaxDepth int
}

func DefaultConfig() Config {
	return Config{BatchSize: 100, MaxDepth: 10}
}

// Stats are the counters accumulated over one discovery pass.
type Stats struct {
	SitesDiscovered int64
	SitesSkipped    int64
	SitesFailed     int64
	SitesTombstoned int64
	Libraries       int64
	Folders         int64
	Files           int64
}

// Engine walks the tenant and persists what it finds.
type Engine struct {
	cfg         Config
	client      *graph.Client
	resources   domain.ResourceRepository
	checkpoints *checkpoint.Store
	gov         *governor.Governor
	logger      *slog.Logger
}

func NewEngine(cfg Config, client *graph.Client, resources domain.ResourceRepository, checkpoints *checkpoint.Store, gov *governor.Governor, logger *slog.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	return &Engine{
		cfg:         cfg,
		client:      client,
		resources:   resources,
		checkpoints: checkpoints,
		gov:         gov,
		logger:      logger.With("component", "discovery"),
	}
}

// Run discovers the tenant tree for the given audit run. Failed sites are
// counted and left unmarked so the next run re-enumerates them; only
// context cancellation or a storage failure aborts the pass.
//
// The per-site worklist is the persisted set of active sites, not the
// delta page: an unchanged site whose subtree failed on an earlier run
// never reappears in the delta, so working off the delta alone would
// leave it unenumerated forever.
func (e *Engine) Run(ctx context.Context, runID string) (Stats, error) {
	var stats Stats

	discovered, tombstoned, err := e.enumerateSites(ctx)
	if err != nil {
		return stats, fmt.Errorf("enumerate sites: %w", err)
	}
	stats.SitesDiscovered = discovered
	stats.SitesTombstoned = tombstoned

	sites, err := e.resources.ListSites(ctx)
	if err != nil {
		return stats, err
	}

	var skipped, failed, libraries, folders, files atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, site := range sites {
		if site.Status != domain.ResourceStatusActive {
			continue
		}
		site := site
		g.Go(func() error {
			done, err := e.checkpoints.IsCompleted(gctx, runID, siteKey(site.SiteID))
			if err != nil {
				return err
			}
			if done {
				skipped.Add(1)
				return nil
			}
			return e.gov.RunUnder(gctx, governor.PoolAPI, func(ctx context.Context) error {
				counts, err := e.processSite(ctx, site)
				libraries.Add(counts.Libraries)
				folders.Add(counts.Folders)
				files.Add(counts.Files)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					// Leave the site unmarked so the next run redoes it
					// in full.
					failed.Add(1)
					e.logger.Error("site discovery failed",
						"site_id", site.SiteID, "error", err)
					return nil
				}
				return e.checkpoints.MarkCompleted(ctx, runID, siteKey(site.SiteID))
			})
		})
	}
	err = g.Wait()

	stats.SitesSkipped = skipped.Load()
	stats.SitesFailed = failed.Load()
	stats.Libraries = libraries.Load()
	stats.Folders = folders.Load()
	stats.Files = files.Load()
	return stats, err
}

// enumerateSites applies the sites delta to the persisted set,
// tombstoning sites the delta reports as deleted. The new delta token is
// checkpointed only after every page has been persisted.
func (e *Engine) enumerateSites(ctx context.Context) (int64, int64, error) {
	var token string
	if _, err := e.checkpoints.Restore(ctx, DeltaScope, sitesDeltaKey, &token); err != nil {
		return 0, 0, err
	}
	if token != "" {
		e.logger.Info("resuming site enumeration from delta token")
	}

	var discovered, tombstoned int64
	newToken, err := e.client.SitesDelta(ctx, token, func(page []graph.Site) error {
		var batch []domain.Site
		for _, s := range page {
			if s.Deleted != nil {
				if err := e.resources.TombstoneSite(ctx, s.ID); err != nil {
					return err
				}
				tombstoned++
				continue
			}
			batch = append(batch, toDomainSite(s))
		}
		if len(batch) == 0 {
			return nil
		}
		if _, err := e.resources.UpsertSites(ctx, batch); err != nil {
			return err
		}
		discovered += int64(len(batch))
		return nil
	})
	if err != nil {
		return discovered, tombstoned, err
	}

	if newToken != "" {
		if err := e.checkpoints.Save(ctx, DeltaScope, sitesDeltaKey, newToken); err != nil {
			return discovered, tombstoned, err
		}
	}
	return discovered, tombstoned, nil
}

type siteCounts struct {
	Libraries int64
	Folders   int64
	Files     int64
}

func (e *Engine) processSite(ctx context.Context, site domain.Site) (siteCounts, error) {
	var counts siteCounts

	drives, err := e.client.DrivesForSite(ctx, site.SiteID)
	if err != nil {
		return counts, fmt.Errorf("list drives for %s: %w", site.SiteID, err)
	}

	libs := make([]domain.Library, 0, len(drives))
	for _, d := range drives {
		if d.Deleted != nil {
			continue
		}
		libs = append(libs, toDomainLibrary(d, site))
	}
	if len(libs) > 0 {
		err := e.gov.RunUnder(ctx, governor.PoolDB, func(ctx context.Context) error {
			_, err := e.resources.UpsertLibraries(ctx, libs)
			return err
		})
		if err != nil {
			return counts, err
		}
	}
	counts.Libraries = int64(len(libs))

	for _, lib := range libs {
		walked, err := e.walkLibrary(ctx, site, lib)
		counts.Folders += walked.Folders
		counts.Files += walked.Files
		if err != nil {
			return counts, fmt.Errorf("walk library %s: %w", lib.LibraryID, err)
		}
	}
	return counts, nil
}

// walkEntry is one pending listing in the breadth-first library walk.
type walkEntry struct {
	itemID   string
	folderID string
	path     string
	depth    int
}

// walkLibrary traverses one drive breadth-first from its root, batching
// folder and file upserts.
func (e *Engine) walkLibrary(ctx context.Context, site domain.Site, lib domain.Library) (siteCounts, error) {
	var counts siteCounts
	var folderBatch []domain.Folder
	var fileBatch []domain.File

	// Bulk writes are admitted under the storage pool so many concurrent
	// site walks cannot flood the single-writer database.
	flush := func() error {
		if len(folderBatch) == 0 && len(fileBatch) == 0 {
			return nil
		}
		return e.gov.RunUnder(ctx, governor.PoolDB, func(ctx context.Context) error {
			if len(folderBatch) > 0 {
				if _, err := e.resources.UpsertFolders(ctx, folderBatch); err != nil {
					return err
				}
				counts.Folders += int64(len(folderBatch))
				folderBatch = folderBatch[:0]
			}
			if len(fileBatch) > 0 {
				if _, err := e.resources.UpsertFiles(ctx, fileBatch); err != nil {
					return err
				}
				counts.Files += int64(len(fileBatch))
				fileBatch = fileBatch[:0]
			}
			return nil
		})
	}

	queue := []walkEntry{{itemID: "root", path: lib.Name, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		err := e.client.ItemChildren(ctx, lib.DriveID, cur.itemID, func(items []graph.DriveItem) error {
			for _, item := range items {
				if item.Deleted != nil {
					continue
				}
				path := cur.path + "/" + item.Name
				if item.IsFolder() {
					folderBatch = append(folderBatch, toDomainFolder(item, site, lib, cur.folderID, path))
					if cur.depth+1 >= e.cfg.MaxDepth {
						e.logger.Warn("max folder depth reached, skipping subtree",
							"library_id", lib.LibraryID, "path", path)
						continue
					}
					queue = append(queue, walkEntry{
						itemID:   item.ID,
						folderID: item.ID,
						path:     path,
						depth:    cur.depth + 1,
					})
					continue
				}
				fileBatch = append(fileBatch, toDomainFile(item, site, lib, cur.folderID, path))
			}
			if len(folderBatch) >= e.cfg.BatchSize || len(fileBatch) >= e.cfg.BatchSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return counts, err
		}
	}

	if err := flush(); err != nil {
		return counts, err
	}
	return counts, nil
}

func siteKey(siteID string) string {
	return "site_" + siteID + "_status"
}

func toDomainSite(s graph.Site) domain.Site {
	title := s.DisplayName
	if title == "" {
		title = s.Name
	}
	return domain.Site{
		SiteID:       s.ID,
		URL:          s.WebURL,
		Title:        title,
		Description:  s.Description,
		Status:       domain.ResourceStatusActive,
		CreatedAt:    s.CreatedDateTime,
		LastModified: s.LastModifiedDateTime,
	}
}

func toDomainLibrary(d graph.Drive, site domain.Site) domain.Library {
	lib := domain.Library{
		LibraryID: d.ID,
		SiteID:    site.SiteID,
		SiteURL:   site.URL,
		DriveID:   d.ID,
		Name:      d.Name,
		Status:    domain.ResourceStatusActive,
		CreatedAt: d.CreatedDateTime,
	}
	return lib
}

func toDomainFolder(item graph.DriveItem, site domain.Site, lib domain.Library, parentFolderID, path string) domain.Folder {
	return domain.Folder{
		FolderID:       item.ID,
		LibraryID:      lib.LibraryID,
		ParentFolderID: parentFolderID,
		SiteID:         site.SiteID,
		SiteURL:        site.URL,
		Name:           item.Name,
		Path:           path,
		ItemCount:      int64(childCount(item)),
		Status:         domain.ResourceStatusActive,
		CreatedAt:      item.CreatedDateTime,
		ModifiedAt:     item.LastModifiedDateTime,
	}
}

func toDomainFile(item graph.DriveItem, site domain.Site, lib domain.Library, folderID, path string) domain.File {
	f := domain.File{
		FileID:     item.ID,
		FolderID:   folderID,
		LibraryID:  lib.LibraryID,
		SiteID:     site.SiteID,
		SiteURL:    site.URL,
		Name:       item.Name,
		Path:       path,
		SizeBytes:  item.Size,
		Version:    item.ETag,
		Status:     domain.ResourceStatusActive,
		CreatedAt:  item.CreatedDateTime,
		ModifiedAt: item.LastModifiedDateTime,
	}
	if item.File != nil {
		f.ContentType = item.File.MimeType
	}
	return f
}

func childCount(item graph.DriveItem) int {
	if item.Folder == nil {
		return 0
	}
	return item.Folder.ChildCount
}
