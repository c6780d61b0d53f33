package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DiscardReason explains why an item left the pipeline.
type DiscardReason string

const (
	DiscardTier1Below  DiscardReason = "tier1_below_threshold"
	DiscardTier2Below  DiscardReason = "tier2_below_threshold"
	DiscardTier2Failed DiscardReason = "tier2_call_failed"
	DiscardCrossWindow DiscardReason = "cross_window_repeat"
	DiscardDuplicate   DiscardReason = "in_window_duplicate"
)

// FailureReason reports whether the reason records an error rather than a
// filtering decision.
func (r DiscardReason) FailureReason() bool {
	return r == DiscardTier2Failed
}

// SourceRef is one outlet that covered a story, kept as provenance on a
// cluster representative.
type SourceRef struct {
	ItemID   string `json:"item_id"`
	URL      string `json:"url"`
	SourceID string `json:"source_id"`
	Title    string `json:"title,omitempty"`
}

// EvaluationState accumulates tier results for one item.
type EvaluationState struct {
	Status         Status             `json:"status"`
	Tier1Score     *float64           `json:"tier1_score,omitempty"`
	Tier2Score     *float64           `json:"tier2_score,omitempty"`
	Tier2Reasoning string             `json:"tier2_reasoning,omitempty"`
	Tier3Scores    map[string]float64 `json:"tier3_scores,omitempty"`
	Tier3Weighted  *float64           `json:"tier3_weighted,omitempty"`
	DiscardReason  DiscardReason      `json:"discard_reason,omitempty"`
	MergedInto     string             `json:"merged_into,omitempty"`
	MergedFrom     []string           `json:"merged_from,omitempty"`
	Provenance     []SourceRef        `json:"provenance,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Transition moves the state to next, rejecting regressions.
func (s *EvaluationState) Transition(next Status, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return eris.Wrapf(ErrStatusRegression, "%s -> %s", s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now.UTC()
	return nil
}

// Discard moves the item to the discarded state with a reason.
func (s *EvaluationState) Discard(reason DiscardReason, now time.Time) error {
	if err := s.Transition(StatusDiscarded, now); err != nil {
		return err
	}
	s.DiscardReason = reason
	return nil
}

// Merge folds the item into a representative.
func (s *EvaluationState) Merge(into string, reason DiscardReason, now time.Time) error {
	if err := s.Transition(StatusMerged, now); err != nil {
		return err
	}
	s.MergedInto = into
	s.DiscardReason = reason
	return nil
}

// Tier2 returns the screening score, or zero when absent.
func (s *EvaluationState) Tier2() float64 {
	if s.Tier2Score == nil {
		return 0
	}
	return *s.Tier2Score
}

// Float returns a pointer to v, for the optional score fields.
func Float(v float64) *float64 {
	return &v
}
