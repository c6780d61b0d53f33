package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/store"
	"github.com/sells-group/digest-engine/internal/taxonomy"
)

// now is Wednesday of the window starting Monday 2026-10-12.
var now = time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)

const windowID = "w-2026-10-12"

var scorePattern = regexp.MustCompile(`score=(\d+)`)

// fakeCapability scores screening by a "score=N" marker in the title and
// counts every call.
type fakeCapability struct {
	screenCalls atomic.Int32
	evalCalls   atomic.Int32
	entityCalls atomic.Int32

	screenErr error
	evalErr   error
	entities  func(req capability.EntityRequest) (model.Entities, error)
}

func (f *fakeCapability) ScreenBatch(_ context.Context, reqs []capability.ScreenRequest) ([]capability.ScreenResult, error) {
	f.screenCalls.Add(1)
	if f.screenErr != nil {
		return nil, f.screenErr
	}
	out := make([]capability.ScreenResult, len(reqs))
	for i, r := range reqs {
		score := 7.0
		if m := scorePattern.FindStringSubmatch(r.Title); m != nil {
			score, _ = strconv.ParseFloat(m[1], 64)
		}
		out[i] = capability.ScreenResult{ID: r.ID, Score: score, Reasoning: "fake"}
	}
	return out, nil
}

func (f *fakeCapability) Evaluate(_ context.Context, req capability.EvalRequest) (capability.EvalResult, error) {
	f.evalCalls.Add(1)
	if f.evalErr != nil {
		return capability.EvalResult{}, f.evalErr
	}
	scores := make(map[string]float64, len(req.Dimensions))
	for _, d := range req.Dimensions {
		scores[d] = 6
	}
	return capability.EvalResult{ID: req.ID, Scores: scores}, nil
}

func (f *fakeCapability) ExtractEntities(_ context.Context, req capability.EntityRequest) (model.Entities, error) {
	f.entityCalls.Add(1)
	if f.entities != nil {
		return f.entities(req)
	}
	return model.Entities{}, nil
}

// batchCapability adds batch entity extraction to fakeCapability.
type batchCapability struct {
	*fakeCapability
	mu       sync.Mutex
	batches  [][]string
	batchErr error
	drop     map[string]bool
}

func (b *batchCapability) ExtractEntitiesBatch(_ context.Context, reqs []capability.EntityRequest) (map[string]model.Entities, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
	}
	b.batches = append(b.batches, ids)
	if b.batchErr != nil {
		return nil, b.batchErr
	}
	out := make(map[string]model.Entities)
	for _, r := range reqs {
		if b.drop[r.ID] {
			continue
		}
		out[r.ID] = model.Entities{Companies: []string{"batch"}}
	}
	return out, nil
}

type fixture struct {
	cfg         *config.Config
	checkpoints *checkpoint.FileStore
	ledger      *store.SQLiteStore
	archiveDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)

	dir := t.TempDir()
	cps, err := checkpoint.NewFileStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)
	ledger, err := store.NewSQLite(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() }) //nolint:errcheck
	require.NoError(t, ledger.Migrate(context.Background()))

	return &fixture{cfg: cfg, checkpoints: cps, ledger: ledger, archiveDir: filepath.Join(dir, "archive")}
}

func testTaxonomy() *taxonomy.Taxonomy {
	return taxonomy.New([]taxonomy.Topic{{Name: "artificial intelligence", Aliases: []string{"AI"}}}, nil)
}

func (f *fixture) pipeline(c capability.Capability, opts ...func(*Deps)) *Pipeline {
	d := Deps{
		Config:      f.cfg,
		Checkpoints: f.checkpoints,
		Ledger:      f.ledger,
		Archiver:    checkpoint.NewLocalArchiver(f.archiveDir),
		Capability:  c,
		Taxonomy:    testTaxonomy(),
		Clock:       func() time.Time { return now },
	}
	for _, o := range opts {
		o(&d)
	}
	return New(d)
}

func (f *fixture) load(t *testing.T) *model.Checkpoint {
	t.Helper()
	cp, err := f.checkpoints.Load(context.Background(), windowID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	return cp
}

func status(t *testing.T, cp *model.Checkpoint, id string) model.Status {
	t.Helper()
	rec, ok := cp.Get(id)
	require.True(t, ok, "missing %s", id)
	return rec.State.Status
}

// distinctBody keeps fixture bodies far apart for content similarity.
func distinctBody(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

type seed struct {
	id    string
	title string
	tier2 float64
	ents  *model.Entities
}

// seedScreened stores a checkpoint whose items already passed Tier 2.
func (f *fixture) seedScreened(t *testing.T, items ...seed) {
	t.Helper()
	w, err := checkpoint.ParseWindow(windowID, f.cfg.Window)
	require.NoError(t, err)
	cp := model.NewCheckpoint(w.ID, w.Start, now)
	for i, s := range items {
		cp.Upsert(model.Item{
			ID:             s.id,
			URL:            "https://example.com/" + s.id,
			Title:          s.title,
			Body:           distinctBody(s.id),
			PublishedAt:    now.Add(-time.Duration(i+1) * time.Hour),
			CollectedOnDay: 3,
			Entities:       s.ents,
		}, now)
		require.NoError(t, cp.Update(s.id, now, func(r *model.Record) error {
			r.State.Tier1Score = model.Float(5)
			r.State.Tier2Score = model.Float(s.tier2)
			return r.State.Transition(model.StatusTier2Evaluated, now)
		}))
	}
	require.NoError(t, f.checkpoints.Save(context.Background(), cp))
}
