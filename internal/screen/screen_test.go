package screen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/resilience"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// fakeCapability screens with a caller-supplied function.
type fakeCapability struct {
	capability.Capability
	calls  atomic.Int32
	mu     sync.Mutex
	sizes  []int
	screen func(call int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error)
}

func (f *fakeCapability) ScreenBatch(_ context.Context, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.sizes = append(f.sizes, len(reqs))
	f.mu.Unlock()
	return f.screen(n, reqs)
}

// scoreByTitle reads the score from a "score=N" title suffix.
func scoreByTitle(_ int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
	out := make([]capability.ScreenResult, len(reqs))
	for i, r := range reqs {
		var s float64
		_, _ = fmt.Sscanf(r.Title[strings.LastIndex(r.Title, "=")+1:], "%g", &s)
		out[i] = capability.ScreenResult{ID: r.ID, Score: s, Reasoning: "scored"}
	}
	return out, nil
}

func fixture(n int) *model.Checkpoint {
	cp := model.NewCheckpoint("w-2026-10-12", now.AddDate(0, 0, -2), now)
	for i := range n {
		id := fmt.Sprintf("item-%02d", i)
		cp.Upsert(model.Item{
			ID:    id,
			Title: fmt.Sprintf("Story score=%d", i%10),
			Body:  strings.Repeat("body ", 200),
		}, now)
		_ = cp.Update(id, now, func(rec *model.Record) error {
			rec.State.Tier1Score = model.Float(5)
			return rec.State.Transition(model.StatusTier1Passed, now)
		})
	}
	return cp
}

func testConfig() config.ScreenConfig {
	return config.ScreenConfig{BatchSize: 10, Threshold: 6, ExcerptChars: 500}
}

func TestBatches(t *testing.T) {
	s := New(&fakeCapability{}, testConfig(), 1)
	batches := s.Batches(fixture(25).Records())
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[2], 5)
	assert.Equal(t, "item-10", batches[1][0].Item.ID)

	assert.Empty(t, s.Batches(nil))
}

func TestRun_AdmitsAboveThreshold(t *testing.T) {
	cp := fixture(25)
	fc := &fakeCapability{screen: scoreByTitle}
	saves := 0
	s := New(fc, testConfig(), 2)

	sum, err := s.Run(context.Background(), cp, now, func(context.Context) error {
		saves++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), fc.calls.Load())
	assert.Equal(t, 3, saves)
	assert.Equal(t, 3, sum.Batches)
	assert.Equal(t, 25, sum.Screened)
	// Scores 6..9 pass: ids ending 6-9 in each full ten, plus none of 20-24.
	assert.Equal(t, 8, sum.Admitted)
	assert.Equal(t, 17, sum.Rejected)

	rec, _ := cp.Get("item-07")
	assert.Equal(t, model.StatusTier2Evaluated, rec.State.Status)
	assert.Equal(t, 7.0, rec.State.Tier2())
	assert.Equal(t, "scored", rec.State.Tier2Reasoning)

	rec, _ = cp.Get("item-03")
	assert.Equal(t, model.StatusDiscarded, rec.State.Status)
	assert.Equal(t, model.DiscardTier2Below, rec.State.DiscardReason)
	assert.Equal(t, 3.0, rec.State.Tier2())
}

func TestRun_ExcerptTruncated(t *testing.T) {
	var seen []int
	var mu sync.Mutex
	fc := &fakeCapability{screen: func(c int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		mu.Lock()
		for _, r := range reqs {
			seen = append(seen, len([]rune(r.Excerpt)))
		}
		mu.Unlock()
		return scoreByTitle(c, reqs)
	}}
	_, err := New(fc, testConfig(), 1).Run(context.Background(), fixture(3), now, nil)
	require.NoError(t, err)
	for _, n := range seen {
		assert.LessOrEqual(t, n, 500)
	}
}

func TestRun_ShortResponseFailsWholeBatch(t *testing.T) {
	cp := fixture(20)
	fc := &fakeCapability{screen: func(call int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		res, _ := scoreByTitle(call, reqs)
		if reqs[0].ID == "item-00" {
			return res[:9], nil
		}
		return res, nil
	}}

	sum, err := New(fc, testConfig(), 1).Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FailedBatches)
	assert.Equal(t, 10, sum.FailedItems)
	assert.Equal(t, 4, sum.Admitted)

	for i := range 10 {
		rec, _ := cp.Get(fmt.Sprintf("item-%02d", i))
		assert.Equal(t, model.StatusDiscarded, rec.State.Status)
		assert.Equal(t, model.DiscardTier2Failed, rec.State.DiscardReason)
		assert.Nil(t, rec.State.Tier2Score)
	}
}

func TestRun_MismatchedIDsFailBatch(t *testing.T) {
	cp := fixture(3)
	fc := &fakeCapability{screen: func(_ int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		return []capability.ScreenResult{
			{ID: reqs[1].ID, Score: 9}, {ID: reqs[0].ID, Score: 9}, {ID: reqs[2].ID, Score: 9},
		}, nil
	}}

	sum, err := New(fc, testConfig(), 1).Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Admitted)
	assert.Equal(t, 3, sum.FailedItems)
}

func TestRun_AlwaysFailingCapabilityAdmitsNothing(t *testing.T) {
	cp := fixture(35)
	fc := &fakeCapability{screen: func(int, []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		return nil, resilience.NewTransientError(errors.New("503"), 503)
	}}

	sum, err := New(fc, testConfig(), 3).Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Admitted)
	assert.Equal(t, 4, sum.FailedBatches)
	assert.Empty(t, cp.WithStatus(model.StatusTier2Evaluated))
	assert.Len(t, cp.WithStatus(model.StatusDiscarded), 35)
}

func TestRun_BudgetLeavesItemsPending(t *testing.T) {
	cp := fixture(12)
	fc := &fakeCapability{screen: func(call int, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		if call > 1 {
			return nil, resilience.ErrBudgetExhausted
		}
		return scoreByTitle(call, reqs)
	}}

	sum, err := New(fc, testConfig(), 1).Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 10, sum.Screened)
	assert.Len(t, cp.WithStatus(model.StatusTier1Passed), 2)
}

func TestRun_SaveErrorAborts(t *testing.T) {
	cp := fixture(30)
	fc := &fakeCapability{screen: scoreByTitle}
	saveErr := resilience.NewStorageError("save", errors.New("disk full"))

	_, err := New(fc, testConfig(), 1).Run(context.Background(), cp, now, func(context.Context) error {
		return saveErr
	})
	require.Error(t, err)
	assert.True(t, resilience.IsStorage(err))
	assert.Equal(t, int32(1), fc.calls.Load())
}

func TestRun_CanceledLeavesItemsPending(t *testing.T) {
	cp := fixture(10)
	ctx, cancel := context.WithCancel(context.Background())
	fc := &fakeCapability{screen: func(int, []capability.ScreenRequest) ([]capability.ScreenResult, error) {
		cancel()
		return nil, context.Canceled
	}}

	_, err := New(fc, testConfig(), 1).Run(ctx, cp, now, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, cp.WithStatus(model.StatusTier1Passed), 10)
}

func TestRun_Resumes(t *testing.T) {
	cp := fixture(20)
	fc := &fakeCapability{screen: scoreByTitle}
	s := New(fc, testConfig(), 1)

	_, err := s.Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	sum, err := s.Run(context.Background(), cp, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Batches)
	assert.Equal(t, int32(2), fc.calls.Load())
}
