package pipeline

import (
	"context"
	"time"

	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/prefilter"
	"github.com/sells-group/digest-engine/internal/screen"
	"github.com/sells-group/digest-engine/internal/source"
)

// Collect runs the daily job for date: new items are appended to the
// window's checkpoint, then every record still waiting on Tier 1 or Tier 2
// is evaluated. Records left behind by an interrupted run are picked up
// here too, so a rerun never re-spends paid screening.
func (p *Pipeline) Collect(ctx context.Context, date time.Time, in source.Batch) (*model.DayReport, error) {
	w, err := checkpoint.WindowFor(date, p.cfg.Window)
	if err != nil {
		return nil, err
	}

	report := &model.DayReport{
		WindowID: w.ID,
		Day:      w.Day(date),
		Received: max(in.Received, len(in.Items)+in.Invalid),
		Invalid:  in.Invalid,
	}

	j, err := p.start(ctx, model.JobCollect, w.ID)
	if err != nil {
		return nil, err
	}
	before := p.usage()

	cp, runErr := p.collect(ctx, j, w, in, report)
	report.Usage = usageSince(before, p.usage())

	j.finish(ctx, runErr, &model.RunResult{Day: report})
	if runErr != nil {
		return report, runErr
	}
	p.check(ctx, cp, report.Failures)
	return report, nil
}

func (p *Pipeline) collect(ctx context.Context, j *job, w checkpoint.Window, in source.Batch, report *model.DayReport) (*model.Checkpoint, error) {
	ctx, release, err := p.lock(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := p.now()
	cp, created, err := checkpoint.LoadOrCreate(ctx, p.checkpoints, w, now)
	if err != nil {
		return nil, err
	}
	save := p.saver(cp)

	err = j.trackPhase(ctx, "1_ingest", func() (*model.PhaseResult, error) {
		for _, it := range in.Items {
			it.CollectedOnDay = report.Day
			it.CollectedAt = now
			if cp.Upsert(it, now) {
				report.New++
			} else {
				report.Resighted++
			}
		}
		if err := save(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"created":   created,
			"new":       report.New,
			"resighted": report.Resighted,
			"invalid":   report.Invalid,
			"items":     cp.Len(),
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "2_tier1", func() (*model.PhaseResult, error) {
		sum, err := prefilter.New(p.taxonomy, p.cfg.Prefilter).Run(ctx, cp, now)
		if err != nil {
			return nil, err
		}
		report.Tier1Passed = sum.Passed
		report.Tier1Rejected = sum.Rejected
		if err := save(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"scored":   sum.Scored,
			"passed":   sum.Passed,
			"rejected": sum.Rejected,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "3_tier2", func() (*model.PhaseResult, error) {
		screener := screen.New(p.capability, p.cfg.Screen, p.cfg.Evaluation.Concurrency)
		sum, err := screener.Run(ctx, cp, now, save)
		report.Tier2Admitted = sum.Admitted
		report.Tier2Rejected = sum.Rejected
		report.Failures.Tier2FailedBatches = sum.FailedBatches
		report.Failures.Tier2FailedItems = sum.FailedItems
		report.Failures.BudgetSkipped = sum.Skipped
		if err != nil {
			return nil, err
		}
		if sum.Batches == 0 {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"batches":        sum.Batches,
			"admitted":       sum.Admitted,
			"rejected":       sum.Rejected,
			"failed_batches": sum.FailedBatches,
			"failed_items":   sum.FailedItems,
			"skipped":        sum.Skipped,
		}}, nil
	})
	return cp, err
}
