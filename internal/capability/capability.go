// Package capability is the contract with the external evaluation service
// and its Claude-backed implementation.
package capability

import (
	"context"

	"github.com/sells-group/digest-engine/internal/model"
)

// ScreenRequest is one item in a Tier 2 screening batch.
type ScreenRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Excerpt string `json:"body_excerpt"`
}

// ScreenResult is the coarse score for one screened item.
type ScreenResult struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// EvalRequest asks for the Tier 3 dimension scores of one item.
type EvalRequest struct {
	ID         string
	Title      string
	Body       string
	Topics     []string
	Context    string
	Dimensions []string
}

// EvalResult holds one score per requested dimension.
type EvalResult struct {
	ID     string
	Scores map[string]float64
}

// EntityRequest asks for the entities mentioned in one item.
type EntityRequest struct {
	ID    string
	Title string
	Body  string
}

// Capability is the evaluation service. Every method crosses a process
// boundary and may block.
type Capability interface {
	// ScreenBatch scores a batch. The result has exactly one entry per
	// request, in request order, or the call fails.
	ScreenBatch(ctx context.Context, reqs []ScreenRequest) ([]ScreenResult, error)
	// Evaluate scores one item on the requested dimensions.
	Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error)
	// ExtractEntities returns the entity sets of one item.
	ExtractEntities(ctx context.Context, req EntityRequest) (model.Entities, error)
}

// BatchEntityExtractor extracts entities for many items in one asynchronous
// job. Items whose extraction failed are absent from the result.
type BatchEntityExtractor interface {
	ExtractEntitiesBatch(ctx context.Context, reqs []EntityRequest) (map[string]model.Entities, error)
}
