package prefilter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/taxonomy"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func defaultConfig() config.PrefilterConfig {
	return config.PrefilterConfig{
		Threshold:           4.0,
		ExactBonus:          3,
		PartialBonus:        1,
		TrendingBonus:       2,
		Fresh24Bonus:        2,
		Fresh48Bonus:        1,
		TrustHigh:           0.8,
		TrustMid:            0.5,
		TrustHighBonus:      1,
		TrustMidBonus:       0.5,
		PopularityHigh:      1000,
		PopularityMid:       100,
		PopularityHighBonus: 1,
		PopularityMidBonus:  0.5,
		Workers:             4,
	}
}

func testTaxonomy() *taxonomy.Taxonomy {
	tax := taxonomy.New([]taxonomy.Topic{
		{Name: "Large Language Models", Aliases: []string{"LLM", "GPT-5"}, Keywords: []string{"chatbot"}},
		{Name: "Robotics", Keywords: []string{"humanoid"}},
	}, nil)
	tax.Trending = taxonomy.TrendingConfig{MetadataKeys: []string{"trending"}, Tags: []string{"hot"}}
	return tax
}

func engagement(v float64) *float64 { return &v }

func TestScore(t *testing.T) {
	s := New(testTaxonomy(), defaultConfig())

	tests := []struct {
		name  string
		item  model.Item
		want  float64
		match taxonomy.Match
	}{
		{
			name: "exact alias fresh trusted popular",
			item: model.Item{
				Title: "OpenAI releases GPT-5", PublishedAt: now.Add(-2 * time.Hour),
				SourceTrust: 0.9, Engagement: engagement(5000),
			},
			want:  3 + 2 + 1 + 1,
			match: taxonomy.MatchExact,
		},
		{
			name: "keyword only mid trust",
			item: model.Item{
				Title: "A new chatbot for banks", PublishedAt: now.Add(-30 * time.Hour), SourceTrust: 0.6,
			},
			want:  1 + 1 + 0.5,
			match: taxonomy.MatchPartial,
		},
		{
			name: "trending tag and mid engagement",
			item: model.Item{
				Title: "Weather report", Tags: []string{"Hot"}, PublishedAt: now.Add(-72 * time.Hour),
				Engagement: engagement(150),
			},
			want:  2 + 0.5,
			match: taxonomy.MatchNone,
		},
		{
			name:  "no timestamps no recency",
			item:  model.Item{Title: "LLM roundup"},
			want:  3,
			match: taxonomy.MatchExact,
		},
		{
			name: "trending metadata",
			item: model.Item{
				Title: "Humanoid demo", Metadata: map[string]string{"trending": "true"},
				PublishedAt: now.Add(-time.Hour),
			},
			want:  1 + 2 + 2,
			match: taxonomy.MatchPartial,
		},
		{
			name: "trending metadata false",
			item: model.Item{
				Title: "Nothing", Metadata: map[string]string{"trending": "false"},
			},
			want:  0,
			match: taxonomy.MatchNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := s.Score(&tt.item, now)
			assert.InDelta(t, tt.want, b.Total, 1e-9)
			assert.Equal(t, tt.match, b.Match)
		})
	}
}

func TestScore_ExactSuppressesPartial(t *testing.T) {
	s := New(testTaxonomy(), defaultConfig())
	b := s.Score(&model.Item{Title: "GPT-5 chatbot launches"}, now)
	assert.Equal(t, 3.0, b.Topic)
}

func TestScore_Capped(t *testing.T) {
	cfg := defaultConfig()
	cfg.ExactBonus = 8
	s := New(testTaxonomy(), cfg)

	b := s.Score(&model.Item{
		Title: "GPT-5", Tags: []string{"hot"}, PublishedAt: now, SourceTrust: 1, Engagement: engagement(1e6),
	}, now)
	assert.Equal(t, MaxScore, b.Total)
}

func TestScore_NilTaxonomy(t *testing.T) {
	s := New(nil, defaultConfig())
	b := s.Score(&model.Item{Title: "GPT-5", PublishedAt: now}, now)
	assert.Equal(t, taxonomy.MatchNone, b.Match)
	assert.Equal(t, 2.0, b.Total)
}

func fixture(n int) *model.Checkpoint {
	cp := model.NewCheckpoint("w-2026-10-12", now.AddDate(0, 0, -2), now)
	for i := range n {
		it := model.Item{
			ID:          fmt.Sprintf("item-%02d", i),
			Title:       fmt.Sprintf("Story %d", i),
			PublishedAt: now.Add(-time.Duration(i) * 5 * time.Hour),
			SourceTrust: 0.5 + float64(i%5)/10,
		}
		if i%3 == 0 {
			it.Title = fmt.Sprintf("GPT-5 story %d", i)
		}
		if i%4 == 0 {
			it.Engagement = engagement(float64(i * 100))
		}
		cp.Upsert(it, now)
	}
	return cp
}

func TestRun(t *testing.T) {
	cp := fixture(50)
	s := New(testTaxonomy(), defaultConfig())

	sum, err := s.Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Equal(t, 50, sum.Scored)
	assert.Equal(t, 50, sum.Passed+sum.Rejected)
	assert.Less(t, sum.Passed, 50)
	assert.Greater(t, sum.Passed, 0)

	for _, rec := range cp.Records() {
		require.NotNil(t, rec.State.Tier1Score, rec.Item.ID)
		if *rec.State.Tier1Score >= 4.0 {
			assert.Equal(t, model.StatusTier1Passed, rec.State.Status)
		} else {
			assert.Equal(t, model.StatusDiscarded, rec.State.Status)
			assert.Equal(t, model.DiscardTier1Below, rec.State.DiscardReason)
		}
	}
	assert.Equal(t, 50, cp.Len(), "rejected items stay in the checkpoint")

	// Second run finds nothing left to score.
	again, err := s.Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Scored)
}

func TestEvaluate_Deterministic(t *testing.T) {
	s := New(testTaxonomy(), defaultConfig())
	records := fixture(50).Records()

	first, err := s.Evaluate(context.Background(), records, now)
	require.NoError(t, err)
	second, err := s.Evaluate(context.Background(), records, now)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i, r := range first {
		assert.Equal(t, records[i].Item.ID, r.ID)
	}
}

func TestEvaluate_Canceled(t *testing.T) {
	s := New(testTaxonomy(), defaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Evaluate(ctx, fixture(5).Records(), now)
	assert.ErrorIs(t, err, context.Canceled)
}
