package dedup

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
)

// better reports whether a should represent a cluster over b: higher Tier 2
// score, then higher Tier 1 score, then earlier publication, then lower id.
func better(a, b *model.Record) bool {
	if at, bt := a.State.Tier2(), b.State.Tier2(); at != bt {
		return at > bt
	}
	if at, bt := tier1(a), tier1(b); at != bt {
		return at > bt
	}
	if !a.Item.PublishedAt.Equal(b.Item.PublishedAt) {
		if a.Item.PublishedAt.IsZero() || b.Item.PublishedAt.IsZero() {
			return !a.Item.PublishedAt.IsZero()
		}
		return a.Item.PublishedAt.Before(b.Item.PublishedAt)
	}
	return a.Item.ID < b.Item.ID
}

func tier1(r *model.Record) float64 {
	if r.State.Tier1Score == nil {
		return 0
	}
	return *r.State.Tier1Score
}

// Representative returns the index of the member that should survive.
func Representative(members []model.Record) int {
	best := 0
	for i := 1; i < len(members); i++ {
		if better(&members[i], &members[best]) {
			best = i
		}
	}
	return best
}

func sourceRef(it *model.Item) model.SourceRef {
	return model.SourceRef{ItemID: it.ID, URL: it.URL, SourceID: it.SourceID, Title: it.Title}
}

// appendRefs adds refs not already present, keyed by item id.
func appendRefs(dst []model.SourceRef, refs ...model.SourceRef) []model.SourceRef {
	seen := make(map[string]bool, len(dst))
	for _, r := range dst {
		seen[r.ItemID] = true
	}
	for _, r := range refs {
		if !seen[r.ItemID] {
			dst = append(dst, r)
			seen[r.ItemID] = true
		}
	}
	return dst
}

func appendIDs(dst []string, ids ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, id := range dst {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			dst = append(dst, id)
			seen[id] = true
		}
	}
	sort.Strings(dst)
	return dst
}

// MergeSummary counts the effect of Merge.
type MergeSummary struct {
	Clusters    int `json:"clusters"`
	Merged      int `json:"merged"`
	SmartMerges int `json:"smart_merges"`
}

// Merge folds each cluster into its representative. Clusters whose best
// Tier 2 score reaches importance are smart-merged: every member's source
// is kept as provenance on the representative. Other clusters keep only the
// representative. Non-representatives move to merged either way.
func Merge(cp *model.Checkpoint, clusters []model.DuplicateCluster, importance float64, now time.Time) ([]model.DuplicateCluster, MergeSummary, error) {
	sum := MergeSummary{Clusters: len(clusters)}
	out := make([]model.DuplicateCluster, len(clusters))

	for ci, cl := range clusters {
		members := make([]model.Record, 0, len(cl.MemberIDs))
		for _, id := range cl.MemberIDs {
			rec, ok := cp.Get(id)
			if !ok {
				return nil, sum, eris.Errorf("dedup: cluster member %s not in checkpoint", id)
			}
			members = append(members, rec)
		}

		rep := members[Representative(members)]
		smart := rep.State.Tier2() >= importance
		cl.RepresentativeID = rep.Item.ID
		cl.SmartMerge = smart

		var mergedIDs []string
		var refs []model.SourceRef
		for i := range members {
			m := &members[i]
			if m.Item.ID == rep.Item.ID {
				continue
			}
			mergedIDs = append(mergedIDs, m.Item.ID)
			mergedIDs = append(mergedIDs, m.State.MergedFrom...)
			refs = append(refs, sourceRef(&m.Item))
			refs = append(refs, m.State.Provenance...)

			err := cp.Update(m.Item.ID, now, func(r *model.Record) error {
				return r.State.Merge(rep.Item.ID, model.DiscardDuplicate, now)
			})
			if err != nil {
				return nil, sum, eris.Wrapf(err, "dedup: merge %s into %s", m.Item.ID, rep.Item.ID)
			}
			sum.Merged++
		}

		err := cp.Update(rep.Item.ID, now, func(r *model.Record) error {
			// Low-importance clusters simply keep the higher score; only smart
			// merges record what was folded in.
			if smart {
				r.State.MergedFrom = appendIDs(r.State.MergedFrom, mergedIDs...)
				if len(r.State.Provenance) == 0 {
					r.State.Provenance = []model.SourceRef{sourceRef(&r.Item)}
				}
				r.State.Provenance = appendRefs(r.State.Provenance, refs...)
			}
			r.State.UpdatedAt = now.UTC()
			return nil
		})
		if err != nil {
			return nil, sum, eris.Wrapf(err, "dedup: update representative %s", rep.Item.ID)
		}
		if smart {
			sum.SmartMerges++
		}
		out[ci] = cl
	}
	return out, sum, nil
}

// Result describes one in-window dedup pass.
type Result struct {
	Before   int                      `json:"before"`
	After    int                      `json:"after"`
	Clusters []model.DuplicateCluster `json:"clusters,omitempty"`
	MergeSummary
}

// Run deduplicates the active records of cp in place.
func (d *Detector) Run(ctx context.Context, cp *model.Checkpoint, now time.Time) (Result, error) {
	active := cp.Filter(func(r model.Record) bool { return r.State.Status.Active() })
	res := Result{Before: len(active)}

	clusters, err := d.Clusters(ctx, active)
	if err != nil {
		return res, err
	}
	clusters, sum, err := Merge(cp, clusters, d.cfg.ImportanceThreshold, now)
	if err != nil {
		return res, err
	}
	res.Clusters = clusters
	res.MergeSummary = sum
	res.After = res.Before - sum.Merged

	zap.L().Info("dedup: in-window pass complete",
		zap.String("window", cp.WindowID),
		zap.Int("before", res.Before),
		zap.Int("after", res.After),
		zap.Int("clusters", sum.Clusters),
		zap.Int("smart_merges", sum.SmartMerges),
	)
	return res, nil
}
