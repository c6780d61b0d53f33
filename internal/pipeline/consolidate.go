package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/dedup"
	"github.com/sells-group/digest-engine/internal/finaleval"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/rank"
)

// ErrNoCheckpoint is returned when a window to consolidate has no
// checkpoint.
var ErrNoCheckpoint = eris.New("pipeline: no checkpoint for window")

// Consolidate runs the end-of-window job and returns the selection report.
// Every phase saves the checkpoint, and Tier 3 saves after each item, so a
// rerun after a crash picks up where the last one stopped.
func (p *Pipeline) Consolidate(ctx context.Context, windowID string) (*model.ConsolidationReport, error) {
	w, err := checkpoint.ParseWindow(windowID, p.cfg.Window)
	if err != nil {
		return nil, err
	}

	j, err := p.start(ctx, model.JobConsolidate, w.ID)
	if err != nil {
		return nil, err
	}
	before := p.usage()

	report := &model.ConsolidationReport{WindowID: w.ID}
	cp, runErr := p.consolidate(ctx, j, w, report)
	report.Usage = usageSince(before, p.usage())

	j.finish(ctx, runErr, &model.RunResult{Report: report})
	if runErr != nil {
		return report, runErr
	}
	p.check(ctx, cp, report.Failures)
	return report, nil
}

func (p *Pipeline) consolidate(ctx context.Context, j *job, w checkpoint.Window, report *model.ConsolidationReport) (*model.Checkpoint, error) {
	ctx, release, err := p.lock(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := p.checkpoints.Load(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, eris.Wrapf(ErrNoCheckpoint, "window %s", w.ID)
	}
	now := p.now()
	report.GeneratedAt = now.UTC()
	save := p.saver(cp)

	err = j.trackPhase(ctx, "1_entities", func() (*model.PhaseResult, error) {
		sum, err := p.extractEntities(ctx, cp, now)
		report.Failures.EntityFailed = sum.Failed
		if err != nil {
			return nil, err
		}
		if sum.Requested == 0 {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		if err := save(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"requested": sum.Requested,
			"extracted": sum.Extracted,
			"failed":    sum.Failed,
			"batched":   sum.Batched,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	var dd dedup.Result
	err = j.trackPhase(ctx, "2_dedup", func() (*model.PhaseResult, error) {
		dd, err = dedup.NewDetector(p.cfg.Dedup, p.taxonomy).Run(ctx, cp, now)
		if err != nil {
			return nil, err
		}
		if err := save(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"before":       dd.Before,
			"after":        dd.After,
			"clusters":     dd.MergeSummary.Clusters,
			"smart_merges": dd.SmartMerges,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	var cross dedup.CrossResult
	err = j.trackPhase(ctx, "3_cross_window", func() (*model.PhaseResult, error) {
		if !p.semantic() {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		cw := dedup.NewCrossWindow(p.embedder, p.ledger, p.cfg.Dedup.Semantic)
		cross, err = cw.Run(ctx, cp, w.Lookback(p.cfg.Dedup.Semantic.LookbackWindows), now)
		if err != nil {
			return nil, err
		}
		if cross.Failed {
			report.Failures.EmbeddingFailed = cross.Checked
		}
		if err := save(ctx); err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"checked":    cross.Checked,
			"prior":      cross.Prior,
			"suppressed": cross.Suppressed,
			"failed":     cross.Failed,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	var candidates []rank.Candidate
	err = j.trackPhase(ctx, "4_rank", func() (*model.PhaseResult, error) {
		// Recency is measured against a clock pinned in the checkpoint, so a
		// rerun ranks the same items the same way.
		pinned := cp.RankedAt == nil
		rankAt := cp.RankClock(now, w.End)
		if pinned {
			if err := save(ctx); err != nil {
				return nil, err
			}
		}
		active := cp.Filter(func(r model.Record) bool { return r.State.Status.Active() })
		candidates = rank.New(p.cfg.Rank).Rank(active, rankAt)
		return &model.PhaseResult{Metadata: map[string]any{
			"active":     len(active),
			"candidates": len(candidates),
			"ranked_at":  rankAt,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "5_tier3", func() (*model.PhaseResult, error) {
		ev := finaleval.New(p.capability, p.cfg.Final, p.taxonomy.TopicNames(), p.cfg.Evaluation.Concurrency)
		sum, err := ev.Run(ctx, cp, candidates, now, save)
		report.Failures.Tier3Failed = sum.Failed
		report.Failures.BudgetSkipped = sum.Skipped
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"candidates": sum.Candidates,
			"evaluated":  sum.Evaluated,
			"reused":     sum.Reused,
			"failed":     sum.Failed,
			"skipped":    sum.Skipped,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "6_select", func() (*model.PhaseResult, error) {
		records := make(map[string]model.Record, cp.Len())
		for _, r := range cp.Records() {
			records[r.Item.ID] = r
		}
		sel := finaleval.Selector{
			TopN:         p.cfg.Final.TopN,
			NoveltySlots: p.cfg.Final.NoveltySlots,
			Taxonomy:     p.taxonomy,
		}
		report.Records = sel.Select(candidates, records)
		report.Stats = finaleval.Stats(cp, len(candidates), report.Records, finaleval.DedupCounts{
			Before:      dd.Before,
			After:       dd.After,
			Clusters:    dd.MergeSummary.Clusters,
			CrossWindow: cross.Suppressed,
		})
		return &model.PhaseResult{Metadata: map[string]any{
			"selected": report.Stats.Selected,
			"novelty":  report.Stats.Novelty,
		}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "7_record", func() (*model.PhaseResult, error) {
		reps := p.representatives(ctx, cp.WindowID, report.Records, cross.Embeddings, now)
		if len(reps) == 0 {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		if err := p.ledger.SaveRepresentatives(ctx, reps); err != nil {
			return nil, eris.Wrap(err, "pipeline: save representatives")
		}
		return &model.PhaseResult{Metadata: map[string]any{"representatives": len(reps)}}, nil
	})
	if err != nil {
		return cp, err
	}

	err = j.trackPhase(ctx, "8_archive", func() (*model.PhaseResult, error) {
		if !p.cfg.Archive.OnConsolidate || p.archiver == nil {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		location, err := checkpoint.Archive(ctx, p.checkpoints, p.archiver, cp.WindowID, now)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"location": location}}, nil
	})
	return cp, err
}

func (p *Pipeline) semantic() bool {
	return p.cfg.Dedup.Semantic.Enabled && p.embedder != nil
}

// representatives turns the selection into history entries. Selected items
// the cross-window pass did not embed (those already scored by an earlier
// run) are embedded here; if that fails they are stored without a vector
// and will not take part in later cross-window checks.
func (p *Pipeline) representatives(ctx context.Context, windowID string, selected []model.OutputRecord, embeddings map[string][]float32, now time.Time) []model.Representative {
	reps := make([]model.Representative, len(selected))
	var missing []int
	for i, o := range selected {
		reps[i] = model.Representative{
			ItemID:    o.Item.ID,
			WindowID:  windowID,
			Title:     o.Item.Title,
			URL:       o.Item.URL,
			Embedding: embeddings[o.Item.ID],
			CreatedAt: now.UTC(),
		}
		if reps[i].Embedding == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 || !p.semantic() {
		return reps
	}

	chars := p.cfg.Dedup.Semantic.TextChars
	if chars <= 0 {
		chars = 1000
	}
	texts := make([]string, len(missing))
	for k, i := range missing {
		texts[k] = dedup.EmbeddingText(&selected[i].Item, chars)
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(texts) {
		zap.L().Warn("pipeline: embed selected representatives",
			zap.String("window", windowID),
			zap.Int("items", len(texts)),
			zap.Error(err),
		)
		return reps
	}
	for k, i := range missing {
		reps[i].Embedding = vecs[k]
	}
	return reps
}
