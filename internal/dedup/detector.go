package dedup

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/taxonomy"
)

// Detector evaluates the three in-window duplicate signals.
type Detector struct {
	cfg     config.DedupConfig
	tax     *taxonomy.Taxonomy
	workers int
}

// NewDetector creates a Detector. The taxonomy supplies entity aliases and
// may be nil.
func NewDetector(cfg config.DedupConfig, tax *taxonomy.Taxonomy) *Detector {
	if cfg.ContentPrefix <= 0 {
		cfg.ContentPrefix = 500
	}
	return &Detector{
		cfg:     cfg,
		tax:     tax,
		workers: runtime.GOMAXPROCS(0),
	}
}

// Match compares two items. It reports the signal values and whether any
// signal reached its threshold.
func (d *Detector) Match(a, b *model.Item) (Edge, bool) {
	fa := newFeatures(a, d.cfg.ContentPrefix, d.tax)
	fb := newFeatures(b, d.cfg.ContentPrefix, d.tax)
	return d.compare(&fa, &fb)
}

func (d *Detector) compare(a, b *features) (Edge, bool) {
	var e Edge
	dup := false

	if lengthBound(a.titleLen, b.titleLen) >= d.cfg.TitleThreshold {
		e.Title = ratio(a.title, b.title)
		dup = dup || e.Title >= d.cfg.TitleThreshold
	}
	// The length bound is the only shortcut. A banded distance under-counts
	// edits between dissimilar bodies, so the full ratio is always taken.
	if lengthBound(a.contentLen, b.contentLen) >= d.cfg.ContentThreshold {
		e.Content = ratio(a.content, b.content)
		dup = dup || (e.Content > 0 && e.Content >= d.cfg.ContentThreshold)
	}
	e.Entities = EntityJaccard(a.entities, b.entities)
	dup = dup || (e.Entities > 0 && e.Entities >= d.cfg.EntityThreshold)

	return e, dup
}

// Edges compares every pair of records. Rows are fanned out over workers;
// the result is ordered by (A, B).
func (d *Detector) Edges(ctx context.Context, records []model.Record) ([]Edge, error) {
	feats := make([]features, len(records))
	for i := range records {
		feats[i] = newFeatures(&records[i].Item, d.cfg.ContentPrefix, d.tax)
	}

	rows := make([][]Edge, len(records))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range records {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < len(records); j++ {
				if e, ok := d.compare(&feats[i], &feats[j]); ok {
					e.A, e.B = i, j
					rows[i] = append(rows[i], e)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "dedup: compare")
	}

	var edges []Edge
	for _, r := range rows {
		edges = append(edges, r...)
	}
	return edges, nil
}

// Clusters builds duplicate clusters over records. Representatives are not
// chosen here; see Merge.
func (d *Detector) Clusters(ctx context.Context, records []model.Record) ([]model.DuplicateCluster, error) {
	edges, err := d.Edges(ctx, records)
	if err != nil {
		return nil, err
	}

	comps := Components(len(records), edges)
	index := make(map[int]int, len(records))
	clusters := make([]model.DuplicateCluster, len(comps))
	for ci, members := range comps {
		ids := make([]string, len(members))
		for k, m := range members {
			ids[k] = records[m].Item.ID
			index[m] = ci
		}
		clusters[ci].MemberIDs = ids
	}

	// Evidence is the strongest value of each signal on any edge in the cluster.
	for _, e := range edges {
		ev := &clusters[index[e.A]].Evidence
		ev.TitleSim = max(ev.TitleSim, e.Title)
		ev.ContentSim = max(ev.ContentSim, e.Content)
		ev.EntityJaccard = max(ev.EntityJaccard, e.Entities)
	}
	return clusters, nil
}
