package capability

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
	"github.com/sells-group/digest-engine/pkg/anthropic"
)

// parseScreen validates a screening reply against the request: same
// cardinality, every id known and present once, every score in range.
// Results come back in request order regardless of reply order.
func parseScreen(raw string, reqs []ScreenRequest) ([]ScreenResult, error) {
	var reply struct {
		Results []struct {
			ID        string   `json:"id"`
			Score     *float64 `json:"score"`
			Reasoning string   `json:"reasoning"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(raw)), &reply); err != nil {
		return nil, resilience.NewMalformed(raw, "screen: invalid json: %v", err)
	}
	if len(reply.Results) != len(reqs) {
		return nil, resilience.NewMalformed(raw, "screen: got %d results for %d items", len(reply.Results), len(reqs))
	}

	want := make(map[string]int, len(reqs))
	for i, r := range reqs {
		want[r.ID] = i
	}
	out := make([]ScreenResult, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for _, r := range reply.Results {
		idx, ok := want[r.ID]
		if !ok {
			return nil, resilience.NewMalformed(raw, "screen: unknown id %q", r.ID)
		}
		if seen[r.ID] {
			return nil, resilience.NewMalformed(raw, "screen: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Score == nil || !validScore(*r.Score, 0, 10) {
			return nil, resilience.NewMalformed(raw, "screen: id %q has missing or out-of-range score", r.ID)
		}
		out[idx] = ScreenResult{ID: r.ID, Score: *r.Score, Reasoning: strings.TrimSpace(r.Reasoning)}
	}
	return out, nil
}

// parseEval validates a full-evaluation reply. Every requested dimension
// must be present and in [1,10]; extra dimensions are ignored.
func parseEval(raw string, req EvalRequest) (EvalResult, error) {
	var reply struct {
		ID     string              `json:"id"`
		Scores map[string]*float64 `json:"dimension_scores"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(raw)), &reply); err != nil {
		return EvalResult{}, resilience.NewMalformed(raw, "eval: invalid json: %v", err)
	}
	if reply.ID != "" && reply.ID != req.ID {
		return EvalResult{}, resilience.NewMalformed(raw, "eval: reply for %q, asked for %q", reply.ID, req.ID)
	}

	scores := make(map[string]float64, len(req.Dimensions))
	for _, d := range req.Dimensions {
		v, ok := reply.Scores[d]
		if !ok || v == nil {
			return EvalResult{}, resilience.NewMalformed(raw, "eval: missing dimension %q", d)
		}
		if !validScore(*v, 1, 10) {
			return EvalResult{}, resilience.NewMalformed(raw, "eval: dimension %q out of range: %v", d, *v)
		}
		scores[d] = *v
	}
	return EvalResult{ID: req.ID, Scores: scores}, nil
}

// parseEntities decodes an entity reply. Missing lists are empty.
func parseEntities(raw string) (model.Entities, error) {
	var reply struct {
		Companies []string `json:"companies"`
		Models    []string `json:"models"`
		People    []string `json:"people"`
		Locations []string `json:"locations"`
		Other     []string `json:"other"`
	}
	if err := json.Unmarshal([]byte(anthropic.CleanJSON(raw)), &reply); err != nil {
		return model.Entities{}, resilience.NewMalformed(raw, "entities: invalid json: %v", err)
	}
	return model.Entities{
		Companies: cleanList(reply.Companies),
		Models:    cleanList(reply.Models),
		People:    cleanList(reply.People),
		Locations: cleanList(reply.Locations),
		Other:     cleanList(reply.Other),
	}, nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func validScore(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
