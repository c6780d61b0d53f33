package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
)

var now = time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)

func testConfig() config.DedupConfig {
	return config.DedupConfig{
		TitleThreshold:      0.88,
		ContentThreshold:    0.80,
		EntityThreshold:     0.75,
		ContentPrefix:       500,
		ImportanceThreshold: 6,
		Semantic:            config.SemanticConfig{Threshold: 0.85, TextChars: 1000},
	}
}

type seed struct {
	id       string
	title    string
	body     string
	tier2    float64
	entities *model.Entities
	status   model.Status
}

func newCheckpoint(t *testing.T, seeds ...seed) *model.Checkpoint {
	t.Helper()
	cp := model.NewCheckpoint("w-2026-10-12", now.AddDate(0, 0, -6), now)
	for i, s := range seeds {
		body := s.body
		if body == "" {
			sum := sha256.Sum256([]byte(s.id))
			body = hex.EncodeToString(sum[:])
		}
		cp.Upsert(model.Item{
			ID:          s.id,
			URL:         "https://news.example.com/" + s.id,
			SourceID:    "src-" + s.id,
			Title:       s.title,
			Body:        body,
			PublishedAt: now.Add(-time.Duration(i+1) * time.Hour),
			Entities:    s.entities,
		}, now)
		status := s.status
		if status == "" {
			status = model.StatusTier2Evaluated
		}
		require.NoError(t, cp.Update(s.id, now, func(r *model.Record) error {
			r.State.Tier1Score = model.Float(5)
			switch status {
			case model.StatusDiscarded:
				return r.State.Discard(model.DiscardTier2Below, now)
			default:
				r.State.Tier2Score = model.Float(s.tier2)
				return r.State.Transition(status, now)
			}
		}))
	}
	return cp
}

func gpt5Entities(people ...string) *model.Entities {
	return &model.Entities{
		Companies: []string{"OpenAI", "Microsoft"},
		Models:    []string{"GPT-5"},
		People:    people,
	}
}

func TestDetector_EntityOverlapClustersParaphrasedTitles(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "OpenAI releases GPT-5", tier2: 7, entities: gpt5Entities("Sam Altman", "Satya Nadella")},
		seed{id: "b", title: "GPT-5 released by OpenAI", tier2: 8, entities: gpt5Entities("Sam Altman")},
		seed{id: "c", title: "Fed holds rates steady", tier2: 9},
	)
	d := NewDetector(testConfig(), testTaxonomy())

	res, err := d.Run(context.Background(), cp, now)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)

	cl := res.Clusters[0]
	assert.Equal(t, []string{"a", "b"}, cl.MemberIDs)
	assert.Equal(t, "b", cl.RepresentativeID)
	assert.True(t, cl.SmartMerge)
	assert.InDelta(t, 0.8, cl.Evidence.EntityJaccard, 1e-9)
	assert.Less(t, cl.Evidence.TitleSim, 0.88)
	assert.Equal(t, 3, res.Before)
	assert.Equal(t, 2, res.After)

	a, _ := cp.Get("a")
	assert.Equal(t, model.StatusMerged, a.State.Status)
	assert.Equal(t, "b", a.State.MergedInto)
	assert.Equal(t, model.DiscardDuplicate, a.State.DiscardReason)

	b, _ := cp.Get("b")
	assert.Equal(t, model.StatusTier2Evaluated, b.State.Status)
	assert.Equal(t, []string{"a"}, b.State.MergedFrom)
	require.Len(t, b.State.Provenance, 2)
	assert.Equal(t, "b", b.State.Provenance[0].ItemID)
	assert.Equal(t, "https://news.example.com/a", b.State.Provenance[1].URL)
}

func TestDetector_TransitiveClusters(t *testing.T) {
	ents := &model.Entities{Companies: []string{"Nvidia"}, Models: []string{"Blackwell Ultra"}, People: []string{"Jensen Huang"}}
	cp := newCheckpoint(t,
		seed{id: "a", title: "Nvidia unveils Blackwell Ultra GPU", tier2: 6.5},
		seed{id: "b", title: "Nvidia unveils Blackwell Ultra GPUs", tier2: 7, entities: ents},
		seed{id: "c", title: "Chipmaker shows off its next accelerator", tier2: 8, entities: ents},
	)
	d := NewDetector(testConfig(), nil)

	// A and C share nothing directly.
	ra, _ := cp.Get("a")
	rc, _ := cp.Get("c")
	_, direct := d.Match(&ra.Item, &rc.Item)
	require.False(t, direct)

	res, err := d.Run(context.Background(), cp, now)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, []string{"a", "b", "c"}, res.Clusters[0].MemberIDs)
	assert.Equal(t, "c", res.Clusters[0].RepresentativeID)

	c, _ := cp.Get("c")
	assert.Equal(t, []string{"a", "b"}, c.State.MergedFrom)
	assert.Len(t, c.State.Provenance, 3)
}

func TestDetector_PreferHigherScoreDropsProvenance(t *testing.T) {
	body := "Shares of Acme rose 4 percent in early trading after the company beat estimates for the third quarter in a row."
	cp := newCheckpoint(t,
		seed{id: "a", title: "Acme beats estimates", body: body, tier2: 4},
		seed{id: "b", title: "Acme shares rise on earnings", body: body + " Analysts were surprised.", tier2: 5},
	)
	d := NewDetector(testConfig(), nil)
	d.cfg.ImportanceThreshold = 6

	res, err := d.Run(context.Background(), cp, now)
	require.NoError(t, err)
	require.Len(t, res.Clusters, 1)
	assert.False(t, res.Clusters[0].SmartMerge)
	assert.Greater(t, res.Clusters[0].Evidence.ContentSim, 0.8)

	b, _ := cp.Get("b")
	assert.Empty(t, b.State.MergedFrom)
	assert.Empty(t, b.State.Provenance)
	a, _ := cp.Get("a")
	assert.Equal(t, model.StatusMerged, a.State.Status)
	assert.Equal(t, "b", a.State.MergedInto)
}

func TestMerge_LowImportanceKeepsNoMergedFrom(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "one", tier2: 4},
		seed{id: "b", title: "two", tier2: 5.5},
	)

	clusters, sum, err := Merge(cp, []model.DuplicateCluster{{MemberIDs: []string{"a", "b"}}}, 6, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Merged)
	assert.Zero(t, sum.SmartMerges)
	assert.False(t, clusters[0].SmartMerge)

	b, _ := cp.Get("b")
	assert.Nil(t, b.State.MergedFrom)
	assert.Nil(t, b.State.Provenance)
}

const (
	reefBody = "Divers returning from the northern stretch of the reef reported that coral cover " +
		"had recovered faster than expected after two mild summers. Survey teams counted juvenile " +
		"colonies along fixed transects and compared them with photographs taken a decade ago. " +
		"Water temperatures stayed below the bleaching threshold for most of the season, and " +
		"researchers credited reduced runoff from nearby farms and a ban on anchoring in shallow " +
		"lagoons. Tourism operators welcomed the news but warned that one hot year could undo it."
	chipBody = "The trade ministry said on Thursday that export licences for advanced lithography " +
		"equipment would now be required for shipments to a longer list of countries. Officials " +
		"argued the rule closes gaps that let older machines reach restricted buyers through " +
		"resellers. Equipment makers expect a slower quarter while paperwork is processed, and " +
		"several suppliers have asked for a transition period. Analysts noted that memory fabs " +
		"are less exposed than logic foundries, which depend on the newest tools for every node."
)

func TestDetector_UnrelatedBodiesOfEqualLengthDoNotMatch(t *testing.T) {
	d := NewDetector(testConfig(), nil)
	a := model.Item{ID: "reef", Title: "Reef survey finds recovery", Body: reefBody}
	b := model.Item{ID: "chip", Title: "Lithography export rules widen", Body: chipBody}

	fa := newFeatures(&a, d.cfg.ContentPrefix, nil)
	fb := newFeatures(&b, d.cfg.ContentPrefix, nil)
	require.GreaterOrEqual(t, lengthBound(fa.contentLen, fb.contentLen), d.cfg.ContentThreshold)

	e, dup := d.Match(&a, &b)
	assert.False(t, dup)
	assert.Less(t, e.Content, d.cfg.ContentThreshold)
	assert.InDelta(t, ContentSimilarity(reefBody, chipBody, d.cfg.ContentPrefix), e.Content, 1e-9)
}

func TestDetector_DistinctHashBodiesStayApart(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "fresh", title: "Robotics startup raises seed round", tier2: 7},
		seed{id: "older", title: "City council approves bike lanes", tier2: 9},
	)
	res, err := NewDetector(testConfig(), nil).Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Empty(t, res.Clusters)
	assert.Equal(t, 2, res.After)
}

func TestDetector_Idempotent(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "OpenAI releases GPT-5", tier2: 7, entities: gpt5Entities("Sam Altman", "Satya Nadella")},
		seed{id: "b", title: "GPT-5 released by OpenAI", tier2: 8, entities: gpt5Entities("Sam Altman")},
		seed{id: "c", title: "Fed holds rates steady", tier2: 9},
		seed{id: "d", title: "Rust 2.0 announced", tier2: 6},
	)
	d := NewDetector(testConfig(), nil)

	_, err := d.Run(context.Background(), cp, now)
	require.NoError(t, err)
	before, err := cp.Encode()
	require.NoError(t, err)

	res, err := d.Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Empty(t, res.Clusters)
	assert.Equal(t, 0, res.Merged)
	after, err := cp.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestDetector_NoSelfMatchesOnEmptySignals(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "", body: "x", tier2: 7},
		seed{id: "b", title: "", body: "y", tier2: 7},
	)
	res, err := NewDetector(testConfig(), nil).Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Empty(t, res.Clusters)
}

func TestDetector_IgnoresInactive(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "OpenAI releases GPT-5", tier2: 7},
		seed{id: "b", title: "OpenAI releases GPT-5", status: model.StatusDiscarded},
	)
	res, err := NewDetector(testConfig(), nil).Run(context.Background(), cp, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Before)
	assert.Empty(t, res.Clusters)
}

func TestRepresentative_TieBreaks(t *testing.T) {
	early := now.Add(-48 * time.Hour)
	members := []model.Record{
		{Item: model.Item{ID: "z", PublishedAt: early}, State: model.EvaluationState{Tier2Score: model.Float(7)}},
		{Item: model.Item{ID: "y", PublishedAt: now}, State: model.EvaluationState{Tier2Score: model.Float(7)}},
		{Item: model.Item{ID: "x", PublishedAt: early}, State: model.EvaluationState{Tier2Score: model.Float(7)}},
	}
	assert.Equal(t, 2, Representative(members))

	members[1].State.Tier1Score = model.Float(9)
	assert.Equal(t, 1, Representative(members))
}

func TestMerge_CarriesEarlierProvenance(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "a", title: "one", tier2: 7},
		seed{id: "b", title: "two", tier2: 8},
	)
	require.NoError(t, cp.Update("a", now, func(r *model.Record) error {
		r.State.MergedFrom = []string{"old"}
		r.State.Provenance = []model.SourceRef{{ItemID: "a"}, {ItemID: "old"}}
		return nil
	}))

	_, sum, err := Merge(cp, []model.DuplicateCluster{{MemberIDs: []string{"a", "b"}}}, 6, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Merged)

	b, _ := cp.Get("b")
	assert.Equal(t, []string{"a", "old"}, b.State.MergedFrom)
	ids := make([]string, len(b.State.Provenance))
	for i, p := range b.State.Provenance {
		ids[i] = p.ItemID
	}
	assert.Equal(t, []string{"b", "a", "old"}, ids)
}

func TestMerge_UnknownMember(t *testing.T) {
	cp := newCheckpoint(t, seed{id: "a", title: "one", tier2: 7})
	_, _, err := Merge(cp, []model.DuplicateCluster{{MemberIDs: []string{"a", "ghost"}}}, 6, now)
	assert.Error(t, err)
}

// fakeEmbedder maps texts to vectors by title prefix.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		for prefix, v := range f.vectors {
			if len(txt) >= len(prefix) && txt[:len(prefix)] == prefix {
				out[i] = v
			}
		}
		if out[i] == nil {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

type fakeHistory struct {
	reps  []model.Representative
	asked []string
}

func (f *fakeHistory) ListRepresentatives(_ context.Context, ids []string) ([]model.Representative, error) {
	f.asked = ids
	return f.reps, nil
}

func TestCrossWindow_SuppressesRepeats(t *testing.T) {
	cp := newCheckpoint(t,
		seed{id: "repeat", title: "GPT-5 launch recap", tier2: 8},
		seed{id: "fresh", title: "Robotics startup raises", tier2: 8},
		seed{id: "scored", title: "GPT-5 launch analysis", tier2: 8, status: model.StatusTier3Evaluated},
	)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"GPT-5":    {1, 0.05, 0},
		"Robotics": {0, 1, 0},
	}}
	hist := &fakeHistory{reps: []model.Representative{
		{ItemID: "p1", WindowID: "w-2026-10-05", Title: "GPT-5 launched", Embedding: []float32{1, 0, 0}},
		{ItemID: "p2", WindowID: "w-2026-09-28", Title: "no vector"},
	}}
	cw := NewCrossWindow(emb, hist, testConfig().Semantic)

	res, err := cw.Run(context.Background(), cp, []string{"w-2026-10-05", "w-2026-09-28"}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Prior)
	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, res.Embeddings, 2)
	assert.Equal(t, []string{"w-2026-10-05", "w-2026-09-28"}, hist.asked)

	r, _ := cp.Get("repeat")
	assert.Equal(t, model.StatusDiscarded, r.State.Status)
	assert.Equal(t, model.DiscardCrossWindow, r.State.DiscardReason)
	f, _ := cp.Get("fresh")
	assert.Equal(t, model.StatusTier2Evaluated, f.State.Status)
	s, _ := cp.Get("scored")
	assert.Equal(t, model.StatusTier3Evaluated, s.State.Status)
}

func TestCrossWindow_EmbeddingFailureSkips(t *testing.T) {
	cp := newCheckpoint(t, seed{id: "a", title: "GPT-5", tier2: 8})
	cw := NewCrossWindow(&fakeEmbedder{err: errors.New("cohere down")}, &fakeHistory{}, testConfig().Semantic)

	res, err := cw.Run(context.Background(), cp, []string{"w-2026-10-05"}, now)
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, 0, res.Suppressed)
	a, _ := cp.Get("a")
	assert.Equal(t, model.StatusTier2Evaluated, a.State.Status)
}

func TestCrossWindow_NothingToCheck(t *testing.T) {
	cp := newCheckpoint(t)
	emb := &fakeEmbedder{}
	res, err := NewCrossWindow(emb, &fakeHistory{}, testConfig().Semantic).Run(context.Background(), cp, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
	assert.Equal(t, 0, emb.calls)
}
