package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host and strips www", "https://WWW.Example.com/News/", "https://example.com/News"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"drops tracking params", "https://example.com/a?utm_source=x&id=7&fbclid=abc", "https://example.com/a?id=7"},
		{"sorts query keys", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"not a url", "  Some Text ", "some text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}

func TestItemID_StableAcrossTrivialVariants(t *testing.T) {
	t.Parallel()

	a := ItemID("https://example.com/story?utm_campaign=weekly")
	b := ItemID("https://www.example.com/story/#top")
	c := ItemID("https://example.com/other-story")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestItem_Age(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	it := Item{PublishedAt: now.Add(-30 * time.Hour)}
	assert.Equal(t, 30*time.Hour, it.Age(now))

	fallback := Item{CollectedAt: now.Add(-time.Hour)}
	assert.Equal(t, time.Hour, fallback.Age(now))

	assert.Zero(t, (&Item{}).Age(now))
}

func TestItem_Excerpt(t *testing.T) {
	t.Parallel()

	it := Item{Body: "  héllo world  "}
	assert.Equal(t, "héllo", it.Excerpt(5))
	assert.Equal(t, "héllo world", it.Excerpt(100))
}
