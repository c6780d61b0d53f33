// Package screen runs Tier 2: fixed-size batches of Tier 1 survivors, one
// capability call per batch, fail-closed on error.
package screen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// Outcome is the per-item result of screening.
type Outcome string

const (
	Admitted Outcome = "admitted"
	Rejected Outcome = "rejected"
	Failed   Outcome = "failed"
	// Skipped items were not sent because the budget ran out. They stay in
	// tier1_passed and are picked up by the next run.
	Skipped Outcome = "skipped"
)

// ItemResult is the screening outcome for one item.
type ItemResult struct {
	ID        string
	Outcome   Outcome
	Score     float64
	Reasoning string
	Err       error
}

// SaveFunc persists the checkpoint. It runs after every batch.
type SaveFunc func(ctx context.Context) error

// Summary counts a Tier 2 pass.
type Summary struct {
	Batches       int `json:"batches"`
	Screened      int `json:"screened"`
	Admitted      int `json:"admitted"`
	Rejected      int `json:"rejected"`
	FailedBatches int `json:"failed_batches"`
	FailedItems   int `json:"failed_items"`
	Skipped       int `json:"skipped"`
}

func (s *Summary) add(results []ItemResult) {
	s.Batches++
	failed := false
	for _, r := range results {
		switch r.Outcome {
		case Admitted:
			s.Admitted++
		case Rejected:
			s.Rejected++
		case Failed:
			s.FailedItems++
			failed = true
		case Skipped:
			s.Skipped++
			continue
		}
		s.Screened++
	}
	if failed {
		s.FailedBatches++
	}
}

// Screener drives Tier 2 over a checkpoint.
type Screener struct {
	cap         capability.Capability
	cfg         config.ScreenConfig
	concurrency int
}

// New creates a Screener. concurrency bounds in-flight batch calls.
func New(c capability.Capability, cfg config.ScreenConfig, concurrency int) *Screener {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = 500
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Screener{cap: c, cfg: cfg, concurrency: concurrency}
}

// Batches partitions records into groups of the configured size, preserving
// order. The last group may be short.
func (s *Screener) Batches(records []model.Record) [][]model.Record {
	var out [][]model.Record
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		out = append(out, records[start:end])
	}
	return out
}

// ScreenBatch issues one capability call and maps it to per-item results.
// Any error, including a malformed response, fails every item in the batch.
func (s *Screener) ScreenBatch(ctx context.Context, batch []model.Record) []ItemResult {
	reqs := make([]capability.ScreenRequest, len(batch))
	for i, rec := range batch {
		reqs[i] = capability.ScreenRequest{
			ID:      rec.Item.ID,
			Title:   rec.Item.Title,
			Excerpt: rec.Item.Excerpt(s.cfg.ExcerptChars),
		}
	}

	out := make([]ItemResult, len(batch))
	scores, err := s.cap.ScreenBatch(ctx, reqs)
	if err == nil && len(scores) != len(batch) {
		err = resilience.NewMalformed("", "screen: got %d results for %d items", len(scores), len(batch))
	}
	if err == nil {
		for i := range scores {
			if scores[i].ID != batch[i].Item.ID {
				err = resilience.NewMalformed("", "screen: result %d has id %q, want %q", i, scores[i].ID, batch[i].Item.ID)
				break
			}
		}
	}
	if err != nil {
		outcome := Failed
		if errors.Is(err, resilience.ErrBudgetExhausted) {
			outcome = Skipped
		}
		for i, rec := range batch {
			out[i] = ItemResult{ID: rec.Item.ID, Outcome: outcome, Err: err}
		}
		return out
	}

	for i, sc := range scores {
		r := ItemResult{ID: sc.ID, Score: sc.Score, Reasoning: sc.Reasoning, Outcome: Rejected}
		if sc.Score >= s.cfg.Threshold {
			r.Outcome = Admitted
		}
		out[i] = r
	}
	return out
}

// apply records results on the checkpoint.
func apply(cp *model.Checkpoint, results []ItemResult, now time.Time) error {
	for _, r := range results {
		if r.Outcome == Skipped {
			continue
		}
		err := cp.Update(r.ID, now, func(rec *model.Record) error {
			switch r.Outcome {
			case Admitted:
				rec.State.Tier2Score = model.Float(r.Score)
				rec.State.Tier2Reasoning = r.Reasoning
				return rec.State.Transition(model.StatusTier2Evaluated, now)
			case Rejected:
				rec.State.Tier2Score = model.Float(r.Score)
				rec.State.Tier2Reasoning = r.Reasoning
				return rec.State.Discard(model.DiscardTier2Below, now)
			default:
				return rec.State.Discard(model.DiscardTier2Failed, now)
			}
		})
		if err != nil {
			return eris.Wrapf(err, "screen: record %s", r.ID)
		}
	}
	return nil
}

// Run screens every tier1_passed record in cp. Each finished batch is
// applied and saved before the next result is taken, so a crash loses at
// most the batches in flight. A save failure aborts the run; capability
// failures never do.
func (s *Screener) Run(ctx context.Context, cp *model.Checkpoint, now time.Time, save SaveFunc) (Summary, error) {
	pending := cp.WithStatus(model.StatusTier1Passed)
	batches := s.Batches(pending)
	log := zap.L().With(zap.String("window", cp.WindowID))

	var (
		mu  sync.Mutex
		sum Summary
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, batch := range batches {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			results := s.ScreenBatch(gCtx, batch)
			// A canceled job must not fail-close items that were never judged.
			if err := gCtx.Err(); err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			if err := apply(cp, results, now); err != nil {
				return err
			}
			sum.add(results)
			if results[0].Outcome == Failed {
				log.Warn("screen: batch failed closed",
					zap.Int("batch", i),
					zap.Int("items", len(results)),
					zap.String("class", resilience.ClassifyError(results[0].Err)),
					zap.Error(results[0].Err),
				)
			}
			if save != nil {
				if err := save(gCtx); err != nil {
					return eris.Wrapf(err, "screen: save after batch %d", i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	log.Info("screen: tier 2 complete",
		zap.Int("batches", sum.Batches),
		zap.Int("admitted", sum.Admitted),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed_items", sum.FailedItems),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}
