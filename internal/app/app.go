// Package app provides application-level wiring and dependency injection
// for the audit engine.
package app

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/api"
	"github.com/bcdannyboy/SharepointAudit/internal/cache"
	"github.com/bcdannyboy/SharepointAudit/internal/checkpoint"
	"github.com/bcdannyboy/SharepointAudit/internal/config"
	"github.com/bcdannyboy/SharepointAudit/internal/db/repository"
	"github.com/bcdannyboy/SharepointAudit/internal/discovery"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/governor"
	"github.com/bcdannyboy/SharepointAudit/internal/graph"
	"github.com/bcdannyboy/SharepointAudit/internal/permissions"
	"github.com/bcdannyboy/SharepointAudit/internal/pipeline"
	"github.com/bcdannyboy/SharepointAudit/internal/resilience"
)

// Deps holds the external dependencies that main() must provide: database
// handles, config, a token source, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Tokens  domain.TokenProvider
	Logger  *slog.Logger
}

// App holds the fully wired application.
type App struct {
	Resources   *repository.ResourceRepo
	Permissions *repository.PermissionRepo
	Runs        *repository.RunRepo
	Checkpoints *checkpoint.Store
	Cache       *cache.Cache
	Graph       *graph.Client
	Governor    *governor.Governor
	Discovery   *discovery.Engine
	Analyzer    *permissions.Analyzer
	Pipeline    *pipeline.Pipeline
	API         *api.Server
}

// New wires repositories, the resilience layer, the engines, and the
// pipeline from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// Repositories. Writes go through the single-writer pool; the run and
	// permission read paths can share it at audit volumes.
	resources := repository.NewResourceRepo(deps.WriteDB)
	perms := repository.NewPermissionRepo(deps.WriteDB)
	runs := repository.NewRunRepo(deps.WriteDB)
	checkpoints := checkpoint.NewStore(repository.NewCheckpointRepo(deps.WriteDB), logger)
	sharedCache := repository.NewCacheRepo(deps.WriteDB)

	twoTier := cache.New(cache.Config{
		LocalMaxEntries: cfg.Cache.LocalMaxEntries,
		SharedTTL:       cfg.Cache.GroupTTL,
	}, sharedCache, logger)

	gov, err := governor.New(map[string]int64{
		governor.PoolAPI: cfg.Concurrency.APIPool,
		governor.PoolDB:  cfg.Concurrency.DBPool,
		governor.PoolCPU: cfg.Concurrency.CPUPool,
	})
	if err != nil {
		return nil, err
	}

	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Budget: cfg.RateLimit.Budget,
		Window: cfg.RateLimit.Window,
	}, logger)
	retry := resilience.NewRetryStrategy(resilience.RetryConfig{
		MaxAttempts:      cfg.Retry.MaxAttempts,
		BaseDelay:        cfg.Retry.BaseDelay,
		MaxDelay:         cfg.Retry.MaxDelay,
		BreakerThreshold: cfg.Retry.BreakerThreshold,
		BreakerRecovery:  cfg.Retry.BreakerRecovery,
	}, logger)

	client := graph.NewClient(graph.Config{
		BaseURL:        cfg.Graph.BaseURL,
		Timeout:        cfg.Graph.Timeout,
		SmoothingRPS:   cfg.Graph.SmoothingRPS,
		SmoothingBurst: cfg.Graph.SmoothingBurst,
	}, deps.Tokens, limiter, retry, logger)

	engine := discovery.NewEngine(discovery.Config{
		BatchSize: cfg.Discovery.BatchSize,
		MaxDepth:  cfg.Discovery.MaxDepth,
	}, client, resources, checkpoints, gov, logger)

	expander := permissions.NewExpander(client, twoTier, cfg.Cache.GroupTTL, logger)
	analyzer := permissions.NewAnalyzer(client, resources, perms, expander, gov, logger)

	stages := []pipeline.Stage{
		pipeline.NewDiscoveryStage(engine),
		pipeline.NewValidationStage(resources, logger),
		pipeline.NewTransformationStage(resources, gov),
		pipeline.NewEnrichmentStage(resources, gov),
		pipeline.NewPermissionAnalysisStage(analyzer),
		pipeline.NewStorageStage(resources, perms, runs),
	}

	return &App{
		Resources:   resources,
		Permissions: perms,
		Runs:        runs,
		Checkpoints: checkpoints,
		Cache:       twoTier,
		Graph:       client,
		Governor:    gov,
		Discovery:   engine,
		Analyzer:    analyzer,
		Pipeline:    pipeline.New(stages, checkpoints, runs, logger),
		API:         api.NewServer(runs, perms, logger),
	}, nil
}

// CheckpointRetention is how long finished runs keep their checkpoints.
const CheckpointRetention = 30 * 24 * time.Hour
