package source

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/model"
)

// dateLayouts are the accepted published_at formats, most specific first.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

func toItem(rec record) (model.Item, error) {
	it := model.Item{
		URL:      strings.TrimSpace(rec.URL),
		Title:    strings.TrimSpace(rec.Title),
		Body:     rec.Body,
		SourceID: strings.TrimSpace(rec.SourceID),
		Tags:     rec.Tags,
		Metadata: rec.Metadata,
	}
	if it.Title == "" {
		return model.Item{}, eris.New("source: missing title")
	}

	id, err := ResolveID(rec.ID, it.URL)
	if err != nil {
		return model.Item{}, err
	}
	it.ID = id

	if rec.PublishedAt != nil && strings.TrimSpace(*rec.PublishedAt) != "" {
		ts, err := parseTime(*rec.PublishedAt)
		if err != nil {
			return model.Item{}, err
		}
		it.PublishedAt = ts
	}

	it.SourceTrust = 0.5
	if rec.SourceTrust != nil {
		it.SourceTrust = min(max(*rec.SourceTrust, 0), 1)
	}
	if rec.Engagement != nil {
		e := max(*rec.Engagement, 0)
		it.Engagement = &e
	}
	return it, nil
}

// ResolveID returns the identifier for an item. Ids are derived from the
// canonical URL; a provided id survives only when it agrees with that
// derivation, so the same URL never yields two ids. Items without a URL
// keep their provided id.
func ResolveID(provided, rawURL string) (string, error) {
	provided = strings.ToLower(strings.TrimSpace(provided))
	if rawURL == "" {
		if provided == "" {
			return "", eris.New("source: item has neither url nor id")
		}
		return provided, nil
	}
	derived := model.ItemID(rawURL)
	if provided != "" && provided != derived {
		zap.L().Debug("source: replacing provided id with url-derived id",
			zap.String("provided", provided),
			zap.String("item_id", derived),
		)
	}
	return derived, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("source: unparseable published_at %q", s)
}
