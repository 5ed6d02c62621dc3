// Package pipeline orchestrates an audit run as a fixed sequence of
// stages with per-stage completion checkpoints, so an interrupted run
// resumes at the first unfinished stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcdannyboy/SharepointAudit/internal/checkpoint"
	"github.com/bcdannyboy/SharepointAudit/internal/discovery"
	"github.com/bcdannyboy/SharepointAudit/internal/domain"
	"github.com/bcdannyboy/SharepointAudit/internal/permissions"
)

// Context carries run-scoped state between stages. Stages execute
// sequentially; later stages read what earlier stages recorded.
type Context struct {
	RunID       string
	TenantName  string
	Discovery   discovery.Stats
	Permissions permissions.Stats

	// ItemErrors counts non-fatal per-item problems found by stages that
	// do not abort the run (validation findings, skipped objects).
	ItemErrors int64
}

// TotalErrors is the run's itemized error count across all stages.
func (c *Context) TotalErrors() int64 {
	return c.Discovery.SitesFailed + c.Permissions.Errors + c.ItemErrors
}

// Stage is one step of the audit pipeline.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pctx *Context) error
}

// StageMetric records one stage's outcome for reporting.
type StageMetric struct {
	Name     string
	Duration time.Duration
	Skipped  bool
}

// Pipeline runs stages in order against one audit run.
type Pipeline struct {
	stages      []Stage
	checkpoints *checkpoint.Store
	runs        domain.RunRepository
	logger      *slog.Logger
}

func New(stages []Stage, checkpoints *checkpoint.Store, runs domain.RunRepository, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		stages:      stages,
		checkpoints: checkpoints,
		runs:        runs,
		logger:      logger.With("component", "pipeline"),
	}
}

// Run executes the pipeline for runID, creating the run record if it
// does not exist yet. Completed stages are skipped. The first stage
// failure finalizes the run as failed; a clean pass finalizes it as
// completed, or partial when stages recorded itemized errors.
func (p *Pipeline) Run(ctx context.Context, runID string) ([]StageMetric, error) {
	if err := p.ensureRun(ctx, runID); err != nil {
		return nil, err
	}

	pctx := &Context{RunID: runID}
	metrics := make([]StageMetric, 0, len(p.stages))

	for _, stage := range p.stages {
		key := stageKey(stage.Name())

		done, err := p.checkpoints.IsCompleted(ctx, runID, key)
		if err != nil {
			return metrics, p.fail(ctx, runID, pctx, err)
		}
		if done {
			p.logger.Info("stage already completed, skipping", "stage", stage.Name())
			metrics = append(metrics, StageMetric{Name: stage.Name(), Skipped: true})
			continue
		}

		p.logger.Info("stage starting", "stage", stage.Name(), "run_id", runID)
		start := time.Now()
		if err := stage.Execute(ctx, pctx); err != nil {
			return metrics, p.fail(ctx, runID, pctx, fmt.Errorf("stage %s: %w", stage.Name(), err))
		}
		elapsed := time.Since(start)
		metrics = append(metrics, StageMetric{Name: stage.Name(), Duration: elapsed})
		p.logger.Info("stage finished", "stage", stage.Name(), "duration", elapsed)

		if err := p.checkpoints.MarkCompleted(ctx, runID, key); err != nil {
			return metrics, p.fail(ctx, runID, pctx, err)
		}
	}

	status := domain.RunStatusCompleted
	summary := ""
	if n := pctx.TotalErrors(); n > 0 {
		status = domain.RunStatusPartial
		summary = fmt.Sprintf("%d items failed", n)
	}
	if err := p.runs.FinishRun(ctx, runID, status, pctx.TotalErrors(), summary); err != nil {
		return metrics, err
	}
	p.logger.Info("run finished", "run_id", runID, "status", status,
		"error_count", pctx.TotalErrors())
	return metrics, nil
}

func (p *Pipeline) ensureRun(ctx context.Context, runID string) error {
	_, err := p.runs.GetRun(ctx, runID)
	if err == nil {
		p.logger.Info("resuming existing run", "run_id", runID)
		return nil
	}
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		return err
	}
	return p.runs.CreateRun(ctx, &domain.RunMetadata{
		RunID:     runID,
		Status:    domain.RunStatusRunning,
		StartTime: time.Now().UTC(),
	})
}

// fail finalizes the run record before propagating the stage error. The
// finalization write uses a detached context so cancellation of the run
// cannot also lose the run's terminal status.
func (p *Pipeline) fail(ctx context.Context, runID string, pctx *Context, stageErr error) error {
	finalCtx := context.WithoutCancel(ctx)
	if err := p.runs.FinishRun(finalCtx, runID, domain.RunStatusFailed,
		pctx.TotalErrors(), stageErr.Error()); err != nil {
		p.logger.Error("finalizing failed run", "run_id", runID, "error", err)
	}
	return stageErr
}

func stageKey(name string) string {
	return "stage_" + name + "_status"
}
