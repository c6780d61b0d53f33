// Package monitoring summarizes window health after each job and raises
// webhook alerts when losses or spend cross their thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/digest-engine/internal/model"
)

// WindowSnapshot is a point-in-time view of one window.
type WindowSnapshot struct {
	WindowID string `json:"window_id"`
	Items    int    `json:"items"`

	ByStatus map[model.Status]int        `json:"by_status"`
	ByDay    map[int]int                 `json:"by_day"`
	Discards map[model.DiscardReason]int `json:"discards"`

	// Items that reached a Tier 2 verdict, in either direction.
	Screened int `json:"screened"`

	// Ledger metrics for the window's runs.
	Runs       int     `json:"runs"`
	RunsFailed int     `json:"runs_failed"`
	CostUSD    float64 `json:"cost_usd"`

	CollectedAt time.Time `json:"collected_at"`
}

// RunLister is the slice of the job ledger the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
}

// Collector gathers snapshots from checkpoints and the job ledger.
type Collector struct {
	runs RunLister
}

// NewCollector creates a collector. runs may be nil, in which case ledger
// metrics stay zero.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Snapshot counts the checkpoint's items per status, per collection day and
// per discard reason.
func Snapshot(cp *model.Checkpoint, now time.Time) *WindowSnapshot {
	snap := &WindowSnapshot{
		WindowID:    cp.WindowID,
		ByStatus:    make(map[model.Status]int),
		ByDay:       make(map[int]int),
		Discards:    make(map[model.DiscardReason]int),
		CollectedAt: now.UTC(),
	}
	for _, rec := range cp.Records() {
		snap.Items++
		snap.ByStatus[rec.State.Status]++
		snap.ByDay[rec.Item.CollectedOnDay]++
		if rec.State.DiscardReason != "" {
			snap.Discards[rec.State.DiscardReason]++
		}
		if rec.State.Tier2Score != nil {
			snap.Screened++
		}
	}
	return snap
}

// Collect builds the window snapshot and adds the ledger's run counts and
// spend for the same window.
func (c *Collector) Collect(ctx context.Context, cp *model.Checkpoint, now time.Time) (*WindowSnapshot, error) {
	snap := Snapshot(cp, now)
	if c.runs == nil {
		return snap, nil
	}

	runs, err := c.runs.ListRuns(ctx, model.RunFilter{WindowID: cp.WindowID, Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		snap.Runs++
		if r.Status == model.RunStatusFailed {
			snap.RunsFailed++
		}
		if r.Result != nil {
			snap.CostUSD += r.Result.TotalCost
		}
	}
	return snap, nil
}
