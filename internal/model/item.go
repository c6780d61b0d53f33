package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Item is one collected record. Content fields are written once on first
// sighting; only the attached EvaluationState changes afterwards.
type Item struct {
	ID             string            `json:"id"`
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	SourceID       string            `json:"source_id"`
	PublishedAt    time.Time         `json:"published_at"`
	CollectedOnDay int               `json:"collected_on_day"`
	CollectedAt    time.Time         `json:"collected_at"`
	SourceTrust    float64           `json:"source_trust_score"`
	Engagement     *float64          `json:"engagement_signal,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Entities       *Entities         `json:"entities,omitempty"`
}

// Entities is the structured entity set produced by extraction.
type Entities struct {
	Companies []string `json:"companies"`
	Models    []string `json:"models"`
	People    []string `json:"people"`
	Locations []string `json:"locations"`
	Other     []string `json:"other"`
}

// Age returns how old the item was at now. Items without a publish time
// fall back to their collection time.
func (it *Item) Age(now time.Time) time.Duration {
	ts := it.PublishedAt
	if ts.IsZero() {
		ts = it.CollectedAt
	}
	if ts.IsZero() {
		return 0
	}
	return now.Sub(ts)
}

// Excerpt returns the first n runes of the body.
func (it *Item) Excerpt(n int) string {
	r := []rune(strings.TrimSpace(it.Body))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"ref":    true,
	"mc_cid": true,
	"mc_eid": true,
}

// CanonicalURL normalizes a source URL so that trivially different links to
// the same page compare equal.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for key := range q {
		lk := strings.ToLower(key)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(key)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := q[k]
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

// ItemID derives the content-addressed identifier for a URL.
func ItemID(rawURL string) string {
	sum := sha256.Sum256([]byte(CanonicalURL(rawURL)))
	return hex.EncodeToString(sum[:16])
}
