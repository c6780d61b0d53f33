// Package prefilter implements the Tier 1 heuristic. Scoring is a pure
// function of the item, the taxonomy and the clock; nothing here leaves the
// process.
package prefilter

import (
	"context"
	"math"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/taxonomy"
	"github.com/sells-group/digest-engine/internal/textnorm"
)

// MaxScore caps the sum of bonuses.
const MaxScore = 10.0

// Breakdown holds each bonus that went into a Tier 1 score.
type Breakdown struct {
	Match      taxonomy.Match `json:"match"`
	Topic      float64        `json:"topic"`
	Trending   float64        `json:"trending"`
	Recency    float64        `json:"recency"`
	Trust      float64        `json:"trust"`
	Popularity float64        `json:"popularity"`
	Total      float64        `json:"total"`
}

// Scorer scores items against a taxonomy.
type Scorer struct {
	tax *taxonomy.Taxonomy
	cfg config.PrefilterConfig
}

// New creates a Scorer. A nil taxonomy matches nothing.
func New(tax *taxonomy.Taxonomy, cfg config.PrefilterConfig) *Scorer {
	if tax == nil {
		tax = taxonomy.New(nil, nil)
	}
	return &Scorer{tax: tax, cfg: cfg}
}

// Threshold returns the admission threshold.
func (s *Scorer) Threshold() float64 { return s.cfg.Threshold }

// Score computes the Tier 1 score of it at now.
func (s *Scorer) Score(it *model.Item, now time.Time) Breakdown {
	var b Breakdown

	b.Match = s.tax.Match(textnorm.Fold(it.Title+" "+it.Body), it.Tags)
	switch b.Match {
	case taxonomy.MatchExact:
		b.Topic = s.cfg.ExactBonus
	case taxonomy.MatchPartial:
		b.Topic = s.cfg.PartialBonus
	}

	if s.tax.IsTrending(it.Metadata, it.Tags) {
		b.Trending = s.cfg.TrendingBonus
	}

	b.Recency = s.recency(it, now)
	b.Trust = tiered(it.SourceTrust, s.cfg.TrustHigh, s.cfg.TrustMid, s.cfg.TrustHighBonus, s.cfg.TrustMidBonus)
	if it.Engagement != nil {
		b.Popularity = tiered(*it.Engagement, s.cfg.PopularityHigh, s.cfg.PopularityMid,
			s.cfg.PopularityHighBonus, s.cfg.PopularityMidBonus)
	}

	b.Total = math.Min(b.Topic+b.Trending+b.Recency+b.Trust+b.Popularity, MaxScore)
	return b
}

// recency rewards fresh items. An item with no timestamps at all gets
// nothing; a future publish time counts as fresh.
func (s *Scorer) recency(it *model.Item, now time.Time) float64 {
	if it.PublishedAt.IsZero() && it.CollectedAt.IsZero() {
		return 0
	}
	age := it.Age(now)
	switch {
	case age <= 24*time.Hour:
		return s.cfg.Fresh24Bonus
	case age <= 48*time.Hour:
		return s.cfg.Fresh48Bonus
	default:
		return 0
	}
}

func tiered(v, high, mid, highBonus, midBonus float64) float64 {
	switch {
	case v >= high:
		return highBonus
	case v >= mid:
		return midBonus
	default:
		return 0
	}
}

// Result is the Tier 1 outcome for one item.
type Result struct {
	ID       string
	Score    Breakdown
	Admitted bool
}

// Evaluate scores records in parallel. Results come back in input order.
func (s *Scorer) Evaluate(ctx context.Context, records []model.Record, now time.Time) ([]Result, error) {
	results := make([]Result, len(records))

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range records {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			b := s.Score(&records[i].Item, now)
			results[i] = Result{
				ID:       records[i].Item.ID,
				Score:    b,
				Admitted: b.Total >= s.cfg.Threshold,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "prefilter: evaluate")
	}
	return results, nil
}

// Summary counts a Tier 1 pass.
type Summary struct {
	Scored   int `json:"scored"`
	Passed   int `json:"passed"`
	Rejected int `json:"rejected"`
}

// Run scores every collected record in cp and records the outcome: admitted
// items advance to tier1_passed, the rest are discarded with
// tier1_below_threshold and stay in the checkpoint.
func (s *Scorer) Run(ctx context.Context, cp *model.Checkpoint, now time.Time) (Summary, error) {
	pending := cp.WithStatus(model.StatusCollected)
	results, err := s.Evaluate(ctx, pending, now)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Scored: len(results)}
	for _, r := range results {
		err := cp.Update(r.ID, now, func(rec *model.Record) error {
			rec.State.Tier1Score = model.Float(r.Score.Total)
			if r.Admitted {
				return rec.State.Transition(model.StatusTier1Passed, now)
			}
			return rec.State.Discard(model.DiscardTier1Below, now)
		})
		if err != nil {
			return sum, eris.Wrapf(err, "prefilter: record %s", r.ID)
		}
		if r.Admitted {
			sum.Passed++
		} else {
			sum.Rejected++
		}
	}

	zap.L().Info("prefilter: tier 1 complete",
		zap.String("window", cp.WindowID),
		zap.Int("scored", sum.Scored),
		zap.Int("passed", sum.Passed),
		zap.Int("rejected", sum.Rejected),
		zap.Float64("threshold", s.cfg.Threshold),
	)
	return sum, nil
}
