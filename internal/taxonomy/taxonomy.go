// Package taxonomy loads the active topics and entity aliases that drive
// Tier 1 matching and entity normalization.
package taxonomy

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/digest-engine/internal/textnorm"
)

// Topic is one active topic with its alternative spellings.
type Topic struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Keywords []string `yaml:"keywords"`
}

// EntityKind selects an alias table.
type EntityKind string

const (
	KindCompany EntityKind = "companies"
	KindModel   EntityKind = "models"
	KindPerson  EntityKind = "people"
)

// Taxonomy is the parsed taxonomy file.
type Taxonomy struct {
	Topics   []Topic                            `yaml:"topics"`
	Entities map[EntityKind]map[string][]string `yaml:"entities"`
	Trending TrendingConfig                     `yaml:"trending"`

	phrases  [][]string                       // per topic: folded name and aliases
	partials [][]string                       // per topic: folded keywords and long words
	aliases  map[EntityKind]map[string]string // folded alias -> folded canonical
}

// TrendingConfig names the metadata keys and tags that mark an item as
// trending at its source.
type TrendingConfig struct {
	MetadataKeys []string `yaml:"metadata_keys"`
	Tags         []string `yaml:"tags"`
}

// Match is the strength of a topic match.
type Match int

const (
	MatchNone Match = iota
	MatchPartial
	MatchExact
)

// minPartialWord skips short words like "ai" or "new" when matching single
// words of a topic name.
const minPartialWord = 4

// Load reads a taxonomy file.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// LoadOptional reads a taxonomy file, returning an empty taxonomy when the
// file does not exist.
func LoadOptional(path string) (*Taxonomy, error) {
	t, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("taxonomy: file not found, topic matching disabled", zap.String("path", path))
		return New(nil, nil), nil
	}
	return t, err
}

// Parse decodes taxonomy YAML. The document may be wrapped in a top-level
// "taxonomy" key.
func Parse(data []byte) (*Taxonomy, error) {
	var wrapper struct {
		Taxonomy *Taxonomy `yaml:"taxonomy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse")
	}
	t := wrapper.Taxonomy
	if t == nil {
		t = &Taxonomy{}
		if err := yaml.Unmarshal(data, t); err != nil {
			return nil, eris.Wrap(err, "taxonomy: parse")
		}
	}
	for i, topic := range t.Topics {
		if strings.TrimSpace(topic.Name) == "" {
			return nil, eris.Errorf("taxonomy: topic %d has no name", i)
		}
	}
	t.compile()
	return t, nil
}

// New builds a taxonomy in code.
func New(topics []Topic, entities map[EntityKind]map[string][]string) *Taxonomy {
	t := &Taxonomy{Topics: topics, Entities: entities}
	t.compile()
	return t
}

func (t *Taxonomy) compile() {
	if len(t.Trending.MetadataKeys) == 0 {
		t.Trending.MetadataKeys = []string{"trending", "is_trending", "hot"}
	}
	if len(t.Trending.Tags) == 0 {
		t.Trending.Tags = []string{"trending", "hot", "breaking"}
	}

	t.phrases = make([][]string, len(t.Topics))
	t.partials = make([][]string, len(t.Topics))
	for i, topic := range t.Topics {
		seen := map[string]bool{}
		for _, p := range append([]string{topic.Name}, topic.Aliases...) {
			if f := textnorm.Fold(p); f != "" && !seen[f] {
				seen[f] = true
				t.phrases[i] = append(t.phrases[i], f)
			}
		}
		partial := map[string]bool{}
		for _, k := range topic.Keywords {
			if f := textnorm.Fold(k); f != "" {
				partial[f] = true
			}
		}
		for _, p := range t.phrases[i] {
			for _, w := range strings.Fields(p) {
				if len([]rune(w)) >= minPartialWord {
					partial[w] = true
				}
			}
		}
		for w := range partial {
			t.partials[i] = append(t.partials[i], w)
		}
		sort.Strings(t.partials[i])
	}

	t.aliases = make(map[EntityKind]map[string]string)
	for kind, table := range t.Entities {
		m := make(map[string]string)
		for canonical, alts := range table {
			c := textnorm.Fold(canonical)
			m[c] = c
			for _, a := range alts {
				m[textnorm.Fold(a)] = c
			}
		}
		t.aliases[kind] = m
	}
}

// Match scores folded text against the topics. An exact hit on a topic name
// or alias wins over partial hits.
func (t *Taxonomy) Match(folded string, tags []string) Match {
	best := MatchNone
	foldedTags := make([]string, len(tags))
	for i, tag := range tags {
		foldedTags[i] = textnorm.Fold(tag)
	}

	for i := range t.Topics {
		for _, p := range t.phrases[i] {
			if textnorm.ContainsPhrase(folded, p) {
				return MatchExact
			}
			for _, tag := range foldedTags {
				if tag == p {
					return MatchExact
				}
			}
		}
		if best == MatchNone {
			for _, w := range t.partials[i] {
				if textnorm.ContainsPhrase(folded, w) {
					best = MatchPartial
					break
				}
			}
		}
	}
	return best
}

// Canonical maps an entity name to its canonical folded form.
func (t *Taxonomy) Canonical(kind EntityKind, name string) string {
	f := textnorm.Fold(name)
	if c, ok := t.aliases[kind][f]; ok {
		return c
	}
	return f
}

// IsTrending reports whether source metadata or tags mark an item as
// trending.
func (t *Taxonomy) IsTrending(metadata map[string]string, tags []string) bool {
	for _, key := range t.Trending.MetadataKeys {
		v, ok := metadata[key]
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no":
		default:
			return true
		}
	}
	for _, tag := range tags {
		for _, want := range t.Trending.Tags {
			if strings.EqualFold(strings.TrimSpace(tag), want) {
				return true
			}
		}
	}
	return false
}

// TopicNames returns the topic names in file order.
func (t *Taxonomy) TopicNames() []string {
	names := make([]string, len(t.Topics))
	for i, topic := range t.Topics {
		names[i] = topic.Name
	}
	return names
}
