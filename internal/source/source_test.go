package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/digest-engine/internal/model"
)

func TestReadJSONL(t *testing.T) {
	input := strings.Join([]string{
		`{"url":"https://www.example.com/a?utm_source=x","title":"Chip export rules tighten","body":"text","source_id":"wire","published_at":"2026-10-12T08:00:00Z","source_trust_score":0.9,"engagement_signal":420}`,
		``,
		`{"url":"https://example.com/b","title":"Second","published_at":"2026-10-13"}`,
		`not json`,
		`{"url":"https://example.com/c","title":"   "}`,
		`{"id":"feed-7","title":"No url but an id","source_trust_score":3}`,
	}, "\n")

	b, err := ReadJSONL(context.Background(), strings.NewReader(input), "day.jsonl")
	require.NoError(t, err)
	assert.Equal(t, 5, b.Received)
	assert.Equal(t, 2, b.Invalid)
	require.Len(t, b.Items, 3)

	first := b.Items[0]
	assert.Equal(t, model.ItemID("https://example.com/a"), first.ID)
	assert.Equal(t, time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC), first.PublishedAt)
	assert.Equal(t, 0.9, first.SourceTrust)
	require.NotNil(t, first.Engagement)
	assert.Equal(t, 420.0, *first.Engagement)

	second := b.Items[1]
	assert.Equal(t, time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), second.PublishedAt)
	assert.Equal(t, 0.5, second.SourceTrust)
	assert.Nil(t, second.Engagement)

	third := b.Items[2]
	assert.Equal(t, "feed-7", third.ID)
	assert.Equal(t, 1.0, third.SourceTrust)
}

func TestResolveID(t *testing.T) {
	derived := model.ItemID("https://example.com/story")

	tests := []struct {
		name     string
		provided string
		url      string
		want     string
		wantErr  bool
	}{
		{"derived from url", "", "https://example.com/story", derived, false},
		{"matching id kept", strings.ToUpper(derived), "https://example.com/story/", derived, false},
		{"conflicting id replaced", "abc", "https://example.com/story", derived, false},
		{"id only", "Feed-1", "", "feed-1", false},
		{"neither", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveID(tt.provided, tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSameURLSameID(t *testing.T) {
	input := `{"url":"https://example.com/x?b=2&a=1","title":"One"}
{"url":"https://EXAMPLE.com/x/?a=1&b=2#top","title":"Two","id":"other"}`
	b, err := ReadJSONL(context.Background(), strings.NewReader(input), "dup.jsonl")
	require.NoError(t, err)
	require.Len(t, b.Items, 2)
	assert.Equal(t, b.Items[0].ID, b.Items[1].ID)
}

func TestInboxLifecycle(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("b.jsonl", `{"url":"https://example.com/2","title":"Two"}`+"\n")
	write("a.jsonl", `{"url":"https://example.com/1","title":"One"}`+"\n")
	write("notes.txt", "ignored")

	files, err := InboxFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")}, files)

	b, err := ReadFiles(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Received)
	assert.Equal(t, "One", b.Items[0].Title)

	require.NoError(t, MarkProcessed(dir, files))
	files, err = InboxFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.FileExists(t, filepath.Join(dir, ProcessedDir, "a.jsonl"))
}

func TestInboxMissing(t *testing.T) {
	files, err := InboxFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReadFilesMissing(t *testing.T) {
	_, err := ReadFiles(context.Background(), []string{filepath.Join(t.TempDir(), "gone.jsonl")})
	require.Error(t, err)
}
