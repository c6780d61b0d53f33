// Package pipeline runs the two scheduled jobs over a window: the daily
// collection (ingest, Tier 1, Tier 2) and the end-of-window consolidation
// (entities, dedup, cross-window, rank, Tier 3, selection).
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/cost"
	"github.com/sells-group/digest-engine/internal/dedup"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/monitoring"
	"github.com/sells-group/digest-engine/internal/store"
	"github.com/sells-group/digest-engine/internal/taxonomy"
)

// Deps are the collaborators of a Pipeline. Archiver, Embedder and Checker
// are optional.
type Deps struct {
	Config      *config.Config
	Checkpoints checkpoint.Store
	Locker      checkpoint.Locker
	Ledger      store.Store
	Archiver    checkpoint.Archiver
	Capability  capability.Capability
	Embedder    dedup.Embedder
	Taxonomy    *taxonomy.Taxonomy
	Tracker     *cost.Tracker
	Checker     *monitoring.Checker
	Clock       func() time.Time
}

// Pipeline orchestrates the collection and consolidation jobs.
type Pipeline struct {
	cfg         *config.Config
	checkpoints checkpoint.Store
	locker      checkpoint.Locker
	ledger      store.Store
	archiver    checkpoint.Archiver
	capability  capability.Capability
	embedder    dedup.Embedder
	taxonomy    *taxonomy.Taxonomy
	tracker     *cost.Tracker
	checker     *monitoring.Checker
	now         func() time.Time
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		cfg:         d.Config,
		checkpoints: d.Checkpoints,
		locker:      d.Locker,
		ledger:      d.Ledger,
		archiver:    d.Archiver,
		capability:  d.Capability,
		embedder:    d.Embedder,
		taxonomy:    d.Taxonomy,
		tracker:     d.Tracker,
		checker:     d.Checker,
		now:         d.Clock,
	}
	if p.locker == nil {
		p.locker = checkpoint.NopLocker{}
	}
	if p.taxonomy == nil {
		p.taxonomy = taxonomy.New(nil, nil)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// job carries the ledger run and phase results of one job execution.
type job struct {
	p      *Pipeline
	run    *model.Run
	log    *zap.Logger
	phases []model.PhaseResult
}

func (p *Pipeline) start(ctx context.Context, kind model.JobKind, windowID string) (*job, error) {
	run, err := p.ledger.CreateRun(ctx, kind, windowID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s run", kind)
	}
	log := zap.L().With(
		zap.String("job", string(kind)),
		zap.String("window", windowID),
		zap.String("run_id", run.ID),
	)
	log.Info("pipeline: job starting")
	return &job{p: p, run: run, log: log}, nil
}

func (p *Pipeline) usage() model.TokenUsage {
	if p.tracker == nil {
		return model.TokenUsage{}
	}
	return p.tracker.Total()
}

func usageSince(before, after model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         after.InputTokens - before.InputTokens,
		OutputTokens:        after.OutputTokens - before.OutputTokens,
		CacheCreationTokens: after.CacheCreationTokens - before.CacheCreationTokens,
		CacheReadTokens:     after.CacheReadTokens - before.CacheReadTokens,
		Cost:                after.Cost - before.Cost,
	}
}

// trackPhase runs fn as a named phase, recording its duration, spend and
// outcome in the ledger. A phase that returns an error ends the job.
func (j *job) trackPhase(ctx context.Context, name string, fn func() (*model.PhaseResult, error)) error {
	phaseID, phaseErr := j.p.ledger.CreatePhase(ctx, j.run.ID, name)
	if phaseErr != nil {
		j.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	before := j.p.usage()
	start := time.Now()
	phaseResult, fnErr := fn()
	duration := time.Since(start).Milliseconds()

	if phaseResult == nil {
		phaseResult = &model.PhaseResult{}
	}
	phaseResult.Name = name
	phaseResult.Duration = duration
	phaseResult.TokenUsage = usageSince(before, j.p.usage())

	switch {
	case fnErr != nil:
		phaseResult.Status = model.PhaseStatusFailed
		phaseResult.Error = fnErr.Error()
		j.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(fnErr),
		)
	case phaseResult.Status == model.PhaseStatusSkipped:
		j.log.Info("pipeline: phase skipped", zap.String("phase", name))
	default:
		phaseResult.Status = model.PhaseStatusComplete
		j.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
		)
	}

	if phaseID != "" {
		if err := j.p.ledger.CompletePhase(ctx, phaseID, phaseResult); err != nil {
			j.log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
		}
	}
	j.phases = append(j.phases, *phaseResult)
	return fnErr
}

// finish records the run outcome. The ledger write uses a context that
// survives cancellation of the job itself.
func (j *job) finish(ctx context.Context, runErr error, result *model.RunResult) {
	usage := j.p.usage()
	result.TotalTokens = usage.Total()
	result.TotalCost = usage.Cost
	result.Phases = j.phases

	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
		result.Error = runErr.Error()
	}

	if err := j.p.ledger.UpdateRunResult(context.WithoutCancel(ctx), j.run.ID, status, result); err != nil {
		j.log.Warn("pipeline: failed to save run result", zap.Error(err))
	}
	if runErr != nil {
		j.log.Error("pipeline: job failed", zap.Error(runErr))
		return
	}
	j.log.Info("pipeline: job complete",
		zap.Int("tokens", result.TotalTokens),
		zap.Float64("cost_usd", result.TotalCost),
	)
}

// lock takes the single-writer lock of a window and keeps it refreshed for
// as long as the job runs. The returned context is canceled if the lock is
// lost, so a job never writes a checkpoint it no longer owns. The release
// function logs instead of failing.
func (p *Pipeline) lock(ctx context.Context, windowID string) (context.Context, func(), error) {
	lease, err := p.locker.Acquire(ctx, windowID)
	if err != nil {
		return ctx, nil, err
	}
	log := zap.L().With(zap.String("window", windowID))

	ctx, cancel := context.WithCancelCause(ctx)
	stop := lease.Keep(ctx, func(err error) {
		log.Error("pipeline: window lock lost", zap.Error(err))
		cancel(err)
	})
	return ctx, func() {
		stop()
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("pipeline: release window lock", zap.Error(err))
		}
		cancel(nil)
	}, nil
}

func (p *Pipeline) saver(cp *model.Checkpoint) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return p.checkpoints.Save(ctx, cp)
	}
}

func (p *Pipeline) check(ctx context.Context, cp *model.Checkpoint, failures model.FailureSummary) {
	if p.checker == nil {
		return
	}
	p.checker.Check(ctx, cp, failures, p.now())
}
