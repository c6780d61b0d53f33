// Package rank orders deduplicated items into the bounded candidate list
// that Tier 3 evaluates.
package rank

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

// Scale is the top of every component score, matching the Tier 2 scale.
const Scale = 10.0

// Candidate is a ranked record with its component scores.
type Candidate struct {
	Record   model.Record `json:"record"`
	Tier2    float64      `json:"tier2"`
	Recency  float64      `json:"recency"`
	Trending float64      `json:"trending"`
	Combined float64      `json:"combined"`
}

// Ranker computes the combined heuristic.
type Ranker struct {
	cfg config.RankConfig
}

// New creates a Ranker.
func New(cfg config.RankConfig) *Ranker {
	if cfg.RecencyHalfLifeHours <= 0 {
		cfg.RecencyHalfLifeHours = 48
	}
	if cfg.TrendingSaturation <= 1 {
		cfg.TrendingSaturation = 10000
	}
	return &Ranker{cfg: cfg}
}

// Recency halves every half-life of age: 10 when fresh, 5 after one
// half-life. Items with no timestamp score 0; future timestamps score 10.
func (r *Ranker) Recency(it *model.Item, now time.Time) float64 {
	if it.PublishedAt.IsZero() && it.CollectedAt.IsZero() {
		return 0
	}
	ageHours := it.Age(now).Hours()
	if ageHours <= 0 {
		return Scale
	}
	return Scale * math.Pow(2, -ageHours/r.cfg.RecencyHalfLifeHours)
}

// Trending maps engagement onto [0,10] on a log scale, saturating at the
// configured engagement. Absent or non-positive engagement scores 0.
func (r *Ranker) Trending(it *model.Item) float64 {
	if it.Engagement == nil || *it.Engagement <= 0 {
		return 0
	}
	v := Scale * math.Log1p(*it.Engagement) / math.Log1p(r.cfg.TrendingSaturation)
	return math.Min(v, Scale)
}

// Score computes the combined score of one record.
func (r *Ranker) Score(rec model.Record, now time.Time) Candidate {
	c := Candidate{
		Record:   rec,
		Tier2:    rec.State.Tier2(),
		Recency:  r.Recency(&rec.Item, now),
		Trending: r.Trending(&rec.Item),
	}
	c.Combined = r.cfg.Tier2Weight*c.Tier2 + r.cfg.RecencyWeight*c.Recency + r.cfg.TrendingWeight*c.Trending
	return c
}

// Rank scores records and returns the best cfg.Candidates of them, highest
// combined score first. Ties go to the earlier publication time, then to
// the lower id, so the order is fully determined by the input set.
// Records already in tier3_evaluated are kept past the cut, after the
// others, since their final scores are already paid for.
func (r *Ranker) Rank(records []model.Record, now time.Time) []Candidate {
	out := make([]Candidate, len(records))
	for i, rec := range records {
		out[i] = r.Score(rec, now)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	if r.cfg.Candidates <= 0 || len(out) <= r.cfg.Candidates {
		return out
	}

	kept := make([]Candidate, r.cfg.Candidates, len(out))
	copy(kept, out)
	for _, c := range out[r.cfg.Candidates:] {
		if c.Record.State.Status == model.StatusTier3Evaluated {
			kept = append(kept, c)
		}
	}
	return kept
}

func less(a, b *Candidate) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	pa, pb := a.Record.Item.PublishedAt, b.Record.Item.PublishedAt
	if !pa.Equal(pb) {
		if pa.IsZero() || pb.IsZero() {
			return !pa.IsZero()
		}
		return pa.Before(pb)
	}
	return a.Record.Item.ID < b.Record.Item.ID
}
