package model

import "github.com/rotisserie/eris"

// Status is the evaluation lifecycle position of an item.
type Status string

const (
	StatusCollected      Status = "collected"
	StatusTier1Passed    Status = "tier1_passed"
	StatusTier2Evaluated Status = "tier2_evaluated"
	StatusTier3Evaluated Status = "tier3_evaluated"
	StatusDiscarded      Status = "discarded"
	StatusMerged         Status = "merged"
)

var statusRank = map[Status]int{
	StatusCollected:      0,
	StatusTier1Passed:    1,
	StatusTier2Evaluated: 2,
	StatusTier3Evaluated: 3,
	StatusDiscarded:      4,
	StatusMerged:         4,
}

// ErrStatusRegression is returned when a transition would move an item
// backwards or out of an absorbing state.
var ErrStatusRegression = eris.New("model: status regression")

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether s is absorbing (discarded or merged).
func (s Status) Terminal() bool {
	return s == StatusDiscarded || s == StatusMerged
}

// Active reports whether an item in this status still takes part in
// consolidation, i.e. it survived screening and was not merged or dropped.
func (s Status) Active() bool {
	return s == StatusTier2Evaluated || s == StatusTier3Evaluated
}

// CanTransition reports whether moving from s to next keeps the status
// sequence non-decreasing. Repeating the current status is allowed.
func (s Status) CanTransition(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Compare orders statuses along the lifecycle. Terminal statuses sort last.
func (s Status) Compare(other Status) int {
	return statusRank[s] - statusRank[other]
}
