package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CheckpointSchemaVersion is bumped whenever the persisted layout changes.
const CheckpointSchemaVersion = 1

// Record pairs an item with its evaluation state.
type Record struct {
	Item  Item            `json:"item"`
	State EvaluationState `json:"state"`
}

// Checkpoint is the durable container for one collection window.
// It is safe for concurrent use through its methods.
type Checkpoint struct {
	SchemaVersion int                `json:"schema_version"`
	WindowID      string             `json:"window_id"`
	WindowStart   time.Time          `json:"window_start"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ArchivedAt    *time.Time         `json:"archived_at,omitempty"`
	RankedAt      *time.Time         `json:"ranked_at,omitempty"`
	Items         map[string]*Record `json:"items"`

	mu sync.Mutex
}

// NewCheckpoint creates an empty checkpoint for a window.
func NewCheckpoint(windowID string, windowStart, now time.Time) *Checkpoint {
	return &Checkpoint{
		SchemaVersion: CheckpointSchemaVersion,
		WindowID:      windowID,
		WindowStart:   windowStart.UTC(),
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		Items:         make(map[string]*Record),
	}
}

// Upsert inserts an item on first sighting. A repeat sighting of the same id
// is a no-op and returns false; the stored record (and its day) is kept.
func (c *Checkpoint) Upsert(item Item, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Items[item.ID]; ok {
		return false
	}
	c.Items[item.ID] = &Record{
		Item:  item,
		State: EvaluationState{Status: StatusCollected, UpdatedAt: now.UTC()},
	}
	c.RankedAt = nil
	c.UpdatedAt = now.UTC()
	return true
}

// Get returns a copy of the record for id.
func (c *Checkpoint) Get(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.Items[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Update applies fn to the stored record for id under the checkpoint lock.
// Status changes made by fn must go through EvaluationState.Transition; a
// regression detected after fn returns rolls the record back.
func (c *Checkpoint) Update(id string, now time.Time, fn func(rec *Record) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.Items[id]
	if !ok {
		return eris.Errorf("model: item %s not in checkpoint %s", id, c.WindowID)
	}
	before := *rec
	if err := fn(rec); err != nil {
		*rec = before
		return err
	}
	if !before.State.Status.CanTransition(rec.State.Status) {
		*rec = before
		return eris.Wrapf(ErrStatusRegression, "item %s: %s -> %s", id, before.State.Status, rec.State.Status)
	}
	c.UpdatedAt = now.UTC()
	return nil
}

// Records returns copies of all records sorted by item id.
func (c *Checkpoint) Records() []Record {
	return c.Filter(func(Record) bool { return true })
}

// WithStatus returns records in any of the given statuses, sorted by id.
func (c *Checkpoint) WithStatus(statuses ...Status) []Record {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return c.Filter(func(r Record) bool { return want[r.State.Status] })
}

// Filter returns copies of the records matching keep, sorted by id.
func (c *Checkpoint) Filter(keep func(Record) bool) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.Items))
	for id := range c.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec := c.Items[id]; keep(*rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// Len returns the number of stored items.
func (c *Checkpoint) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Items)
}

// RankClock returns the time recency is measured against. The first call
// pins now, capped at the window end, and later calls return the pinned
// value until a new item is inserted. A consolidation rerun therefore ranks
// the same set the same way.
func (c *Checkpoint) RankClock(now, windowEnd time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RankedAt != nil {
		return *c.RankedAt
	}
	ts := now.UTC()
	if !windowEnd.IsZero() && ts.After(windowEnd) {
		ts = windowEnd.UTC()
	}
	c.RankedAt = &ts
	return ts
}

// MarkArchived stamps the archive time.
func (c *Checkpoint) MarkArchived(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := now.UTC()
	c.ArchivedAt = &ts
	c.UpdatedAt = ts
}

// Encode serializes the checkpoint deterministically. Map keys are sorted by
// encoding/json, so encoding an unchanged checkpoint always yields the same
// bytes.
func (c *Checkpoint) Encode() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, eris.Wrapf(err, "model: encode checkpoint %s", c.WindowID)
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint parses bytes produced by Encode.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrap(err, "model: decode checkpoint")
	}
	if cp.SchemaVersion > CheckpointSchemaVersion {
		return nil, eris.Errorf("model: checkpoint %s has schema version %d, newest supported is %d",
			cp.WindowID, cp.SchemaVersion, CheckpointSchemaVersion)
	}
	if cp.Items == nil {
		cp.Items = make(map[string]*Record)
	}
	for id, rec := range cp.Items {
		if rec == nil {
			return nil, eris.Errorf("model: checkpoint %s has empty record %s", cp.WindowID, id)
		}
		if !rec.State.Status.Valid() {
			return nil, eris.Errorf("model: checkpoint %s item %s has unknown status %q", cp.WindowID, id, rec.State.Status)
		}
	}
	return &cp, nil
}
