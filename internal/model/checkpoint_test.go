package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCheckpoint(t *testing.T) *Checkpoint {
	t.Helper()

	start := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	cp := NewCheckpoint("w-2026-03-09", start, start)
	eng := 420.0
	cp.Upsert(Item{
		ID:             ItemID("https://example.com/a"),
		URL:            "https://example.com/a",
		Title:          "OpenAI releases GPT-5",
		Body:           "Body text",
		SourceID:       "wire",
		PublishedAt:    start.Add(2 * time.Hour),
		CollectedOnDay: 1,
		Engagement:     &eng,
		Metadata:       map[string]string{"z": "1", "a": "2"},
	}, start)
	cp.Upsert(Item{
		ID:             ItemID("https://example.com/b"),
		URL:            "https://example.com/b",
		Title:          "Chip stocks rally",
		CollectedOnDay: 2,
	}, start)
	return cp
}

func TestCheckpoint_EncodeIsIdempotent(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	now := cp.CreatedAt.Add(time.Hour)
	id := ItemID("https://example.com/a")
	require.NoError(t, cp.Update(id, now, func(rec *Record) error {
		rec.State.Tier1Score = Float(7.5)
		rec.State.Tier3Scores = map[string]float64{"impact": 8, "credibility": 6.5}
		return rec.State.Transition(StatusTier1Passed, now)
	}))

	first, err := cp.Encode()
	require.NoError(t, err)

	loaded, err := DecodeCheckpoint(first)
	require.NoError(t, err)

	second, err := loaded.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, cp.Records(), loaded.Records())
}

func TestCheckpoint_UpsertFirstSightingWins(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	id := ItemID("https://example.com/a")

	inserted := cp.Upsert(Item{ID: id, URL: "https://example.com/a", Title: "changed", CollectedOnDay: 5}, time.Now())
	assert.False(t, inserted)

	rec, ok := cp.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Item.CollectedOnDay)
	assert.Equal(t, "OpenAI releases GPT-5", rec.Item.Title)
	assert.Equal(t, 2, cp.Len())
}

func TestCheckpoint_RankClockPinsUntilNewItem(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	end := cp.WindowStart.AddDate(0, 0, 7)
	first := cp.WindowStart.Add(60 * time.Hour)

	assert.True(t, first.Equal(cp.RankClock(first, end)))
	assert.True(t, first.Equal(cp.RankClock(first.Add(48*time.Hour), end)), "pinned clock must not move")

	data, err := cp.Encode()
	require.NoError(t, err)
	loaded, err := DecodeCheckpoint(data)
	require.NoError(t, err)
	assert.True(t, first.Equal(loaded.RankClock(end.Add(time.Hour), end)))

	// A repeat sighting keeps the pin; a new item releases it.
	loaded.Upsert(Item{ID: ItemID("https://example.com/a"), URL: "https://example.com/a"}, first)
	require.NotNil(t, loaded.RankedAt)
	loaded.Upsert(Item{ID: ItemID("https://example.com/new"), URL: "https://example.com/new"}, first)
	assert.Nil(t, loaded.RankedAt)

	// Past the window end the clock is capped.
	assert.True(t, end.Equal(loaded.RankClock(end.Add(72*time.Hour), end)))
}

func TestCheckpoint_UpdateRollsBackRegression(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	id := ItemID("https://example.com/b")
	now := time.Now()

	require.NoError(t, cp.Update(id, now, func(rec *Record) error {
		return rec.State.Transition(StatusTier2Evaluated, now)
	}))

	err := cp.Update(id, now, func(rec *Record) error {
		rec.State.Status = StatusCollected
		rec.State.Tier2Reasoning = "should not stick"
		return nil
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrStatusRegression))

	rec, _ := cp.Get(id)
	assert.Equal(t, StatusTier2Evaluated, rec.State.Status)
	assert.Empty(t, rec.State.Tier2Reasoning)
}

func TestCheckpoint_UpdateUnknownItem(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	err := cp.Update("missing", time.Now(), func(*Record) error { return nil })
	assert.Error(t, err)
}

func TestCheckpoint_WithStatusSortedByID(t *testing.T) {
	t.Parallel()

	cp := sampleCheckpoint(t)
	recs := cp.WithStatus(StatusCollected)
	require.Len(t, recs, 2)
	assert.Less(t, recs[0].Item.ID, recs[1].Item.ID)
	assert.Empty(t, cp.WithStatus(StatusMerged))
}

func TestDecodeCheckpoint_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"garbage", "{not json"},
		{"future schema", `{"schema_version": 99, "window_id": "w", "items": {}}`},
		{"unknown status", `{"schema_version": 1, "window_id": "w", "items": {"a": {"item": {"id": "a"}, "state": {"status": "weird"}}}}`},
		{"null record", `{"schema_version": 1, "window_id": "w", "items": {"a": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeCheckpoint([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
