package dedup

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

// Embedder turns texts into vectors in input order. *cohere.Embedder
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// History returns representatives selected in earlier windows.
type History interface {
	ListRepresentatives(ctx context.Context, windowIDs []string) ([]model.Representative, error)
}

// CrossWindow suppresses items that repeat a story already selected in one
// of the previous windows.
type CrossWindow struct {
	emb  Embedder
	hist History
	cfg  config.SemanticConfig
}

// NewCrossWindow creates the cross-window signal.
func NewCrossWindow(emb Embedder, hist History, cfg config.SemanticConfig) *CrossWindow {
	if cfg.TextChars <= 0 {
		cfg.TextChars = 1000
	}
	return &CrossWindow{emb: emb, hist: hist, cfg: cfg}
}

// EmbeddingText is the text embedded for an item, both when it is checked
// and when it is stored as a representative.
func EmbeddingText(it *model.Item, chars int) string {
	return it.Title + "\n" + it.Excerpt(chars)
}

// CrossResult describes one cross-window pass.
type CrossResult struct {
	Checked    int `json:"checked"`
	Prior      int `json:"prior"`
	Suppressed int `json:"suppressed"`
	// Embeddings holds the vector of every checked item, for reuse when the
	// window's selection is recorded.
	Embeddings map[string][]float32 `json:"-"`
	// Failed is set when embedding failed; nothing is suppressed then.
	Failed bool `json:"failed"`
}

// Run compares every tier2_evaluated item of cp with the representatives of
// the lookback windows. Items at or above the cosine threshold are discarded
// as cross_window_repeat. Items already scored by Tier 3 are left alone so a
// resumed consolidation never throws away paid work.
func (c *CrossWindow) Run(ctx context.Context, cp *model.Checkpoint, lookback []string, now time.Time) (CrossResult, error) {
	var res CrossResult
	log := zap.L().With(zap.String("window", cp.WindowID))

	candidates := cp.WithStatus(model.StatusTier2Evaluated)
	res.Checked = len(candidates)
	if len(candidates) == 0 {
		return res, nil
	}

	prior, err := c.hist.ListRepresentatives(ctx, lookback)
	if err != nil {
		return res, eris.Wrap(err, "dedup: list prior representatives")
	}
	var vectors [][]float32
	var priorIDs []string
	for _, r := range prior {
		if r.WindowID == cp.WindowID || len(r.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, r.Embedding)
		priorIDs = append(priorIDs, r.WindowID+"/"+r.ItemID)
	}
	res.Prior = len(vectors)

	texts := make([]string, len(candidates))
	for i := range candidates {
		texts[i] = EmbeddingText(&candidates[i].Item, c.cfg.TextChars)
	}
	embs, err := c.emb.Embed(ctx, texts)
	if err == nil && len(embs) != len(texts) {
		err = eris.Errorf("dedup: got %d embeddings for %d texts", len(embs), len(texts))
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		log.Warn("dedup: embedding failed, cross-window signal skipped", zap.Error(err))
		res.Failed = true
		return res, nil
	}

	res.Embeddings = make(map[string][]float32, len(candidates))
	for i := range candidates {
		id := candidates[i].Item.ID
		res.Embeddings[id] = embs[i]

		best, bestIdx := 0.0, -1
		for j, v := range vectors {
			if s := Cosine(embs[i], v); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx < 0 || best < c.cfg.Threshold {
			continue
		}

		err := cp.Update(id, now, func(r *model.Record) error {
			return r.State.Discard(model.DiscardCrossWindow, now)
		})
		if err != nil {
			return res, eris.Wrapf(err, "dedup: suppress %s", id)
		}
		res.Suppressed++
		log.Debug("dedup: cross-window repeat",
			zap.String("item_id", id),
			zap.String("matches", priorIDs[bestIdx]),
			zap.Float64("cosine", best),
		)
	}

	log.Info("dedup: cross-window pass complete",
		zap.Int("checked", res.Checked),
		zap.Int("prior", res.Prior),
		zap.Int("suppressed", res.Suppressed),
	)
	return res, nil
}
