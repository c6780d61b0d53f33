package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/source"
)

// useTempConfig loads defaults with the working directory moved to a temp
// dir, so every relative data path lands there.
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	c, err := config.Load()
	require.NoError(t, err)
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return dir
}

func TestInitEnv_Defaults(t *testing.T) {
	useTempConfig(t)
	ctx := context.Background()

	env, err := initEnv(ctx, "status")
	require.NoError(t, err)
	defer env.Close()

	assert.IsType(t, &checkpoint.FileStore{}, env.Checkpoints)
	assert.IsType(t, &checkpoint.FileLocker{}, env.Locker)
	assert.IsType(t, &checkpoint.LocalArchiver{}, env.Archiver)
	assert.Empty(t, env.Taxonomy.TopicNames())

	runs, err := env.Ledger.ListRuns(ctx, model.RunFilter{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInitEnv_NoLockNoArchive(t *testing.T) {
	useTempConfig(t)
	cfg.Lock.Driver = "none"
	cfg.Archive.Driver = "none"

	env, err := initEnv(context.Background(), "status")
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, checkpoint.NopLocker{}, env.Locker)
	assert.Nil(t, env.Archiver)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	useTempConfig(t)
	cfg.Store.Driver = "etcd"

	_, err := initEnv(context.Background(), "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestInitEnv_CollectNeedsKey(t *testing.T) {
	useTempConfig(t)
	cfg.Anthropic.Key = ""

	_, err := initEnv(context.Background(), "collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestParseDate(t *testing.T) {
	useTempConfig(t)
	now := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)

	got, err := parseDate("", now)
	require.NoError(t, err)
	assert.True(t, now.Equal(got))

	got, err = parseDate("2026-10-13", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDate("13/10/2026", now)
	assert.Error(t, err)
}

func TestResolveWindow(t *testing.T) {
	useTempConfig(t)
	now := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)

	id, err := resolveWindow("", now)
	require.NoError(t, err)
	assert.Equal(t, "w-2026-10-12", id)

	id, err = resolveWindow("w-2026-10-05", now)
	require.NoError(t, err)
	assert.Equal(t, "w-2026-10-05", id)

	_, err = resolveWindow("last-week", now)
	assert.Error(t, err)
}

func TestRunCollect_InboxIsConsumed(t *testing.T) {
	dir := useTempConfig(t)
	ctx := context.Background()

	inbox := filepath.Join(dir, "data", "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0o755))
	// Nothing here scores on Tier 1, so no evaluation call is ever made.
	lines := `{"url":"https://example.com/bake-sale","title":"Bake sale raises funds","body":"Cakes.","published_at":"2020-01-01T00:00:00Z","source_trust_score":0.1}
{"url":"https://example.com/parking","title":"Parking rules unchanged","body":"Nothing new.","published_at":"2020-01-02T00:00:00Z","source_trust_score":0.1}
not json
`
	require.NoError(t, os.WriteFile(filepath.Join(inbox, "day.jsonl"), []byte(lines), 0o644))

	env, err := initEnv(ctx, "status")
	require.NoError(t, err)
	defer env.Close()

	date := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	report, err := runCollect(ctx, env, date, nil)
	require.NoError(t, err)

	assert.Equal(t, "w-2026-10-12", report.WindowID)
	assert.Equal(t, 3, report.Day)
	assert.Equal(t, 3, report.Received)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 2, report.Tier1Rejected)
	assert.Zero(t, report.Tier2Admitted)

	left, err := source.InboxFiles(inbox)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.FileExists(t, filepath.Join(inbox, source.ProcessedDir, "day.jsonl"))

	cp, err := env.Checkpoints.Load(ctx, "w-2026-10-12")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Len(t, cp.Records(), 2)

	runs, err := env.Ledger.ListRuns(ctx, model.RunFilter{Job: model.JobCollect})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
}
