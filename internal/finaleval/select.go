package finaleval

import (
	"math"
	"sort"

	"github.com/sells-group/digest-engine/internal/dedup"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/rank"
	"github.com/sells-group/digest-engine/internal/taxonomy"
)

// Selector picks the output set from evaluated candidates.
type Selector struct {
	TopN         int
	NoveltySlots int
	Taxonomy     *taxonomy.Taxonomy
}

type scored struct {
	rec      model.Record
	position int
	weighted float64
	entities dedup.EntitySet
}

// Select returns the top-N evaluated candidates by weighted Tier 3 score,
// followed by up to NoveltySlots items from the remainder that overlap least
// with what was already picked. Ties in either slice go to the better
// ranked candidate. records must be fresh copies from the checkpoint.
func (s Selector) Select(candidates []rank.Candidate, records map[string]model.Record) []model.OutputRecord {
	var pool []scored
	for pos, c := range candidates {
		rec, ok := records[c.Record.Item.ID]
		if !ok || rec.State.Status != model.StatusTier3Evaluated || rec.State.Tier3Weighted == nil {
			continue
		}
		pool = append(pool, scored{
			rec:      rec,
			position: pos,
			weighted: *rec.State.Tier3Weighted,
			entities: dedup.NewEntitySet(rec.Item.Entities, s.Taxonomy),
		})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].weighted != pool[j].weighted {
			return pool[i].weighted > pool[j].weighted
		}
		return pool[i].position < pool[j].position
	})

	n := min(s.TopN, len(pool))
	picked := append([]scored(nil), pool[:n]...)
	rest := append([]scored(nil), pool[n:]...)

	out := make([]model.OutputRecord, 0, n+s.NoveltySlots)
	for _, p := range picked {
		out = append(out, output(p, model.SliceTop, len(out)+1))
	}

	// Greedy: each novelty pick joins the comparison set for the next one.
	for slot := 0; slot < s.NoveltySlots && len(rest) > 0; slot++ {
		best, bestNovelty := -1, -1.0
		for i := range rest {
			nov := 1 - redundancy(&rest[i], picked)
			switch {
			case best < 0 || nov > bestNovelty:
				best, bestNovelty = i, nov
			case nov == bestNovelty && rest[i].weighted > rest[best].weighted:
				best = i
			}
		}
		chosen := rest[best]
		rest = append(rest[:best], rest[best+1:]...)
		picked = append(picked, chosen)
		out = append(out, output(chosen, model.SliceNovelty, len(out)+1))
	}
	return out
}

// redundancy is the strongest overlap of c with any picked item, taking the
// larger of title similarity and entity overlap.
func redundancy(c *scored, picked []scored) float64 {
	var r float64
	for i := range picked {
		p := &picked[i]
		r = math.Max(r, dedup.TitleSimilarity(c.rec.Item.Title, p.rec.Item.Title))
		r = math.Max(r, dedup.EntityJaccard(c.entities, p.entities))
	}
	return r
}

func output(s scored, slice model.Slice, pos int) model.OutputRecord {
	return model.OutputRecord{
		Rank:          pos,
		Slice:         slice,
		Item:          s.rec.Item,
		Tier2Score:    s.rec.State.Tier2(),
		Tier3Scores:   s.rec.State.Tier3Scores,
		Tier3Weighted: s.weighted,
		MergedFrom:    s.rec.State.MergedFrom,
		Provenance:    s.rec.State.Provenance,
	}
}

// DedupCounts carries the consolidation counts the stats report needs.
type DedupCounts struct {
	Before      int
	After       int
	Clusters    int
	CrossWindow int
}

// Stats summarizes a consolidation: status and discard counts over the
// whole checkpoint, dedup counts, and the distribution of selected scores.
func Stats(cp *model.Checkpoint, candidates int, selected []model.OutputRecord, d DedupCounts) model.SelectionStats {
	st := model.SelectionStats{
		TierCounts:  make(map[model.Status]int),
		Discards:    make(map[model.DiscardReason]int),
		BeforeDedup: d.Before,
		AfterDedup:  d.After,
		Clusters:    d.Clusters,
		CrossWindow: d.CrossWindow,
		Candidates:  candidates,
		Selected:    len(selected),
	}
	for _, rec := range cp.Records() {
		st.TierCounts[rec.State.Status]++
		if rec.State.DiscardReason != "" {
			st.Discards[rec.State.DiscardReason]++
		}
	}

	if len(selected) == 0 {
		return st
	}
	st.Distribution.Min = math.Inf(1)
	st.Distribution.Max = math.Inf(-1)
	var total float64
	for _, o := range selected {
		if o.Slice == model.SliceNovelty {
			st.Novelty++
		}
		st.Distribution.Min = math.Min(st.Distribution.Min, o.Tier3Weighted)
		st.Distribution.Max = math.Max(st.Distribution.Max, o.Tier3Weighted)
		total += o.Tier3Weighted
	}
	st.Distribution.Mean = total / float64(len(selected))
	return st
}
