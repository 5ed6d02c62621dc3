package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/bcdannyboy/SharepointAudit/internal/discovery"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/governor"
	"github.com/bcdannyboy/SharepointAudit/internal/permissions"
)

// Stage name constants; these appear in checkpoint keys, so renaming one
// invalidates resume state for in-flight runs.
const (
	StageDiscovery          = "discovery"
	StageValidation         = "validation"
	StageTransformation     = "transformation"
	StageEnrichment         = "enrichment"
	StagePermissionAnalysis = "permission_analysis"
	StageStorage            = "storage"
)

// DiscoveryStage enumerates the tenant tree.
type DiscoveryStage struct {
	engine *discovery.Engine
}

func NewDiscoveryStage(engine *discovery.Engine) *DiscoveryStage {
	return &DiscoveryStage{engine: engine}
}

func (s *DiscoveryStage) Name() string { return StageDiscovery }

func (s *DiscoveryStage) Execute(ctx context.Context, pctx *Context) error {
	stats, err := s.engine.Run(ctx, pctx.RunID)
	pctx.Discovery = stats
	return err
}

// ValidationStage checks discovered rows for structural problems before
// downstream stages consume them. Findings are itemized errors, not
// stage failures.
type ValidationStage struct {
	resources domain.ResourceRepository
	logger    *slog.Logger
}

func NewValidationStage(resources domain.ResourceRepository, logger *slog.Logger) *ValidationStage {
	return &ValidationStage{resources: resources, logger: logger.With("component", "validation")}
}

func (s *ValidationStage) Name() string { return StageValidation }

func (s *ValidationStage) Execute(ctx context.Context, pctx *Context) error {
	sites, err := s.resources.ListSites(ctx)
	if err != nil {
		return err
	}
	for _, site := range sites {
		if site.Status != domain.ResourceStatusActive {
			continue
		}
		if msg := validateSite(site); msg != "" {
			pctx.ItemErrors++
			s.logger.Warn("invalid site record", "site_id", site.SiteID, "problem", msg)
		}
	}
	return nil
}

func validateSite(site domain.Site) string {
	if site.SiteID == "" {
		return "missing site id"
	}
	u, err := url.Parse(site.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "malformed url"
	}
	if strings.TrimSpace(site.Title) == "" {
		return "missing title"
	}
	return ""
}

// TransformationStage normalizes discovered rows: site URLs lose their
// trailing slash and the tenant name is derived from the first site's
// host for reporting.
type TransformationStage struct {
	resources domain.ResourceRepository
	gov       *governor.Governor
}

func NewTransformationStage(resources domain.ResourceRepository, gov *governor.Governor) *TransformationStage {
	return &TransformationStage{resources: resources, gov: gov}
}

func (s *TransformationStage) Name() string { return StageTransformation }

func (s *TransformationStage) Execute(ctx context.Context, pctx *Context) error {
	return s.gov.RunUnder(ctx, governor.PoolCPU, func(ctx context.Context) error {
		sites, err := s.resources.ListSites(ctx)
		if err != nil {
			return err
		}
		var changed []domain.Site
		for _, site := range sites {
			if pctx.TenantName == "" {
				pctx.TenantName = tenantNameFromURL(site.URL)
			}
			normalized := strings.TrimRight(site.URL, "/")
			if normalized != site.URL {
				site.URL = normalized
				changed = append(changed, site)
			}
		}
		if len(changed) > 0 {
			if _, err := s.resources.UpsertSites(ctx, changed); err != nil {
				return err
			}
		}
		return nil
	})
}

func tenantNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host, _, found := strings.Cut(u.Host, ".")
	if !found {
		return u.Host
	}
	return host
}

// EnrichmentStage recomputes per-site aggregates from the discovered
// tree.
type EnrichmentStage struct {
	resources domain.ResourceRepository
	gov       *governor.Governor
}

func NewEnrichmentStage(resources domain.ResourceRepository, gov *governor.Governor) *EnrichmentStage {
	return &EnrichmentStage{resources: resources, gov: gov}
}

func (s *EnrichmentStage) Name() string { return StageEnrichment }

func (s *EnrichmentStage) Execute(ctx context.Context, pctx *Context) error {
	return s.gov.RunUnder(ctx, governor.PoolCPU, func(ctx context.Context) error {
		_, err := s.resources.AggregateSiteStorage(ctx)
		return err
	})
}

// PermissionAnalysisStage resolves effective permissions for the tree.
type PermissionAnalysisStage struct {
	analyzer *permissions.Analyzer
}

func NewPermissionAnalysisStage(analyzer *permissions.Analyzer) *PermissionAnalysisStage {
	return &PermissionAnalysisStage{analyzer: analyzer}
}

func (s *PermissionAnalysisStage) Name() string { return StagePermissionAnalysis }

func (s *PermissionAnalysisStage) Execute(ctx context.Context, pctx *Context) error {
	stats, err := s.analyzer.Run(ctx, pctx.RunID)
	pctx.Permissions = stats
	return err
}

// StorageStage writes final totals onto the run record.
type StorageStage struct {
	resources domain.ResourceRepository
	perms     domain.PermissionRepository
	runs      domain.RunRepository
}

func NewStorageStage(resources domain.ResourceRepository, perms domain.PermissionRepository, runs domain.RunRepository) *StorageStage {
	return &StorageStage{resources: resources, perms: perms, runs: runs}
}

func (s *StorageStage) Name() string { return StageStorage }

func (s *StorageStage) Execute(ctx context.Context, pctx *Context) error {
	counts, err := s.resources.CountResources(ctx)
	if err != nil {
		return err
	}
	permCount, err := s.perms.CountEntries(ctx)
	if err != nil {
		return err
	}
	return s.runs.UpdateRunCounts(ctx, &domain.RunMetadata{
		RunID:            pctx.RunID,
		TotalSites:       counts.Sites,
		TotalLibraries:   counts.Libraries,
		TotalFolders:     counts.Folders,
		TotalFiles:       counts.Files,
		TotalPermissions: permCount,
	})
}
