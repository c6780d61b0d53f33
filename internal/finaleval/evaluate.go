// Package finaleval runs Tier 3 over ranked candidates and selects the
// output set.
package finaleval

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
	"github.com/sells-group/digest-engine/internal/rank"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// SaveFunc persists the checkpoint after each successful evaluation.
type SaveFunc func(ctx context.Context) error

// Evaluator issues one full-evaluation call per candidate.
type Evaluator struct {
	cap         capability.Capability
	weights     map[string]float64
	dims        []string
	topics      []string
	context     string
	concurrency int
}

// New creates an Evaluator. Weights come from cfg.Dimensions and must
// already be validated to sum to one.
func New(c capability.Capability, cfg config.FinalConfig, topics []string, concurrency int) *Evaluator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Evaluator{
		cap:         c,
		weights:     cfg.Dimensions,
		dims:        config.DimensionNames(cfg.Dimensions),
		topics:      topics,
		context:     cfg.Context,
		concurrency: concurrency,
	}
}

// Weighted is Σ score×weight over the weighted dimensions, summed in name
// order so equal scores always produce the same float.
func Weighted(scores, weights map[string]float64) float64 {
	return weightedSum(scores, weights, config.DimensionNames(weights))
}

func weightedSum(scores, weights map[string]float64, dims []string) float64 {
	var sum float64
	for _, dim := range dims {
		sum += scores[dim] * weights[dim]
	}
	return sum
}

// EvalSummary counts a Tier 3 pass.
type EvalSummary struct {
	Candidates int `json:"candidates"`
	Evaluated  int `json:"evaluated"`
	Reused     int `json:"reused"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Run evaluates every candidate not yet scored. Candidates already in
// tier3_evaluated keep their persisted scores and cost nothing. A failed
// call leaves the candidate in tier2_evaluated, out of the selection, and
// retryable by the next run.
func (e *Evaluator) Run(ctx context.Context, cp *model.Checkpoint, candidates []rank.Candidate, now time.Time, save SaveFunc) (EvalSummary, error) {
	sum := EvalSummary{Candidates: len(candidates)}
	log := zap.L().With(zap.String("window", cp.WindowID))

	var pending []model.Record
	for _, c := range candidates {
		rec, ok := cp.Get(c.Record.Item.ID)
		if !ok {
			return sum, eris.Errorf("finaleval: candidate %s not in checkpoint", c.Record.Item.ID)
		}
		switch {
		case rec.State.Status == model.StatusTier3Evaluated && rec.State.Tier3Weighted != nil:
			sum.Reused++
		case rec.State.Status == model.StatusTier2Evaluated:
			pending = append(pending, rec)
		}
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, rec := range pending {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res, err := e.cap.Evaluate(gCtx, capability.EvalRequest{
				ID:         rec.Item.ID,
				Title:      rec.Item.Title,
				Body:       rec.Item.Body,
				Topics:     e.topics,
				Context:    e.context,
				Dimensions: e.dims,
			})
			if ctxErr := gCtx.Err(); ctxErr != nil {
				return ctxErr
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if errors.Is(err, resilience.ErrBudgetExhausted) {
					sum.Skipped++
				} else {
					sum.Failed++
				}
				log.Warn("finaleval: evaluation failed",
					zap.String("item_id", rec.Item.ID),
					zap.String("class", resilience.ClassifyError(err)),
					zap.Error(err),
				)
				return nil
			}

			weighted := weightedSum(res.Scores, e.weights, e.dims)
			err = cp.Update(rec.Item.ID, now, func(r *model.Record) error {
				r.State.Tier3Scores = res.Scores
				r.State.Tier3Weighted = model.Float(weighted)
				return r.State.Transition(model.StatusTier3Evaluated, now)
			})
			if err != nil {
				return eris.Wrapf(err, "finaleval: record %s", rec.Item.ID)
			}
			sum.Evaluated++
			if save != nil {
				if err := save(gCtx); err != nil {
					return eris.Wrapf(err, "finaleval: save after %s", rec.Item.ID)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	log.Info("finaleval: tier 3 complete",
		zap.Int("candidates", sum.Candidates),
		zap.Int("evaluated", sum.Evaluated),
		zap.Int("reused", sum.Reused),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}
