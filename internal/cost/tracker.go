package cost

import (
	"sync"

	"github.com/sells-group/digest-engine/internal/model"
)

// Tracker accumulates usage per phase for one job and enforces an optional
// spend ceiling.
type Tracker struct {
	calc   *Calculator
	budget float64

	mu      sync.Mutex
	spent   float64
	byPhase map[string]model.TokenUsage
}

// NewTracker creates a tracker. A budget of zero or less means unlimited.
func NewTracker(calc *Calculator, budgetUSD float64) *Tracker {
	return &Tracker{calc: calc, budget: budgetUSD, byPhase: make(map[string]model.TokenUsage)}
}

// Record prices usage for a call made during phase and adds it to the tally.
// The priced usage is returned.
func (t *Tracker) Record(phase, modelName string, isBatch bool, usage model.TokenUsage) model.TokenUsage {
	usage.Cost = t.calc.Claude(modelName, isBatch, usage)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent += usage.Cost
	u := t.byPhase[phase]
	u.Add(usage)
	t.byPhase[phase] = u
	return usage
}

// Exhausted reports whether the budget has been spent.
func (t *Tracker) Exhausted() bool {
	if t.budget <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent >= t.budget
}

// Spent returns the total cost so far.
func (t *Tracker) Spent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spent
}

// Phase returns the accumulated usage of one phase.
func (t *Tracker) Phase(phase string) model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byPhase[phase]
}

// Total returns the usage across all phases.
func (t *Tracker) Total() model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total model.TokenUsage
	for _, u := range t.byPhase {
		total.Add(u)
	}
	return total
}
