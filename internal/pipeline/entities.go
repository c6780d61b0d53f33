package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

// EntitySummary counts an entity extraction pass.
type EntitySummary struct {
	Requested int  `json:"requested"`
	Extracted int  `json:"extracted"`
	Failed    int  `json:"failed"`
	Batched   bool `json:"batched"`
}

// batchSupporter is implemented by decorators that only sometimes wrap a
// batch-capable capability.
type batchSupporter interface {
	SupportsBatch() bool
}

func (p *Pipeline) batchExtractor(n int) (capability.BatchEntityExtractor, bool) {
	if p.cfg.Anthropic.NoBatch || n <= p.cfg.Anthropic.SmallBatchThreshold {
		return nil, false
	}
	be, ok := p.capability.(capability.BatchEntityExtractor)
	if !ok {
		return nil, false
	}
	if s, ok := p.capability.(batchSupporter); ok && !s.SupportsBatch() {
		return nil, false
	}
	return be, true
}

// extractEntities fills in entities for active records that have none.
// Large sets go through the batch API; small ones, and anything the batch
// did not return, are extracted with direct calls. Items whose extraction
// fails keep no entities and are deduplicated on the other signals.
func (p *Pipeline) extractEntities(ctx context.Context, cp *model.Checkpoint, now time.Time) (EntitySummary, error) {
	log := zap.L().With(zap.String("window", cp.WindowID))
	pending := cp.Filter(func(r model.Record) bool {
		return r.State.Status.Active() && r.Item.Entities == nil
	})

	sum := EntitySummary{Requested: len(pending)}
	if len(pending) == 0 {
		return sum, nil
	}

	reqs := make([]capability.EntityRequest, len(pending))
	for i, rec := range pending {
		reqs[i] = capability.EntityRequest{ID: rec.Item.ID, Title: rec.Item.Title, Body: rec.Item.Body}
	}

	got := make(map[string]model.Entities, len(reqs))
	if be, ok := p.batchExtractor(len(reqs)); ok {
		res, err := be.ExtractEntitiesBatch(ctx, reqs)
		switch {
		case ctx.Err() != nil:
			return sum, ctx.Err()
		case err != nil:
			log.Warn("pipeline: entity batch failed, falling back to direct calls",
				zap.Int("items", len(reqs)),
				zap.Error(err),
			)
		default:
			sum.Batched = true
			for id, ents := range res {
				got[id] = ents
			}
		}
	}

	var direct []capability.EntityRequest
	for _, r := range reqs {
		if _, ok := got[r.ID]; !ok {
			direct = append(direct, r)
		}
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.Evaluation.Concurrency, 1))
	for _, r := range direct {
		g.Go(func() error {
			ents, err := p.capability.ExtractEntities(gCtx, r)
			if ctxErr := gCtx.Err(); ctxErr != nil {
				return ctxErr
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				if !errors.Is(err, resilience.ErrBudgetExhausted) {
					log.Warn("pipeline: entity extraction failed",
						zap.String("item_id", r.ID),
						zap.String("class", resilience.ClassifyError(err)),
						zap.Error(err),
					)
				}
				return nil
			}
			got[r.ID] = ents
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	for _, r := range reqs {
		ents, ok := got[r.ID]
		if !ok {
			continue
		}
		err := cp.Update(r.ID, now, func(rec *model.Record) error {
			rec.Item.Entities = &ents
			return nil
		})
		if err != nil {
			return sum, err
		}
		sum.Extracted++
	}

	log.Info("pipeline: entities extracted",
		zap.Int("requested", sum.Requested),
		zap.Int("extracted", sum.Extracted),
		zap.Int("failed", sum.Failed),
		zap.Bool("batched", sum.Batched),
	)
	return sum, nil
}
