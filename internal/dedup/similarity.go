// Package dedup finds near-duplicate items within a window, merges each
// cluster into one representative, and optionally suppresses stories that
// already ran in earlier windows.
package dedup

import (
	"math"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/internal/taxonomy"
	"github.com/sells-group/digest-engine/internal/textnorm"
)

// TitleSimilarity compares titles with word order ignored. Both titles are
// folded and their words sorted before the edit-distance ratio is taken, so
// "OpenAI releases GPT-5" and "GPT-5 OpenAI releases" score 1.
func TitleSimilarity(a, b string) float64 {
	return ratio(textnorm.SortedTokens(a), textnorm.SortedTokens(b))
}

// ContentSimilarity compares the first n folded runes of two bodies.
func ContentSimilarity(a, b string, n int) float64 {
	return ratio(textnorm.Prefix(a, n), textnorm.Prefix(b, n))
}

// unitCosts has no MinScore: with one set, agext switches to a banded
// distance that reports dissimilar strings as far closer than they are.
var unitCosts = levenshtein.NewParams()

// ratio is the normalized Levenshtein similarity. Empty input never matches.
func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, unitCosts)
}

// lengthBound is the best similarity two strings of these rune lengths could
// reach. Pairs below the threshold on this bound need no edit distance.
func lengthBound(la, lb int) float64 {
	if la == 0 || lb == 0 {
		return 0
	}
	return float64(min(la, lb)) / float64(max(la, lb))
}

// EntitySet is a set of canonical entity keys, "kind:name".
type EntitySet map[string]struct{}

// similarityKinds are the entity kinds that take part in the overlap signal.
var similarityKinds = []taxonomy.EntityKind{taxonomy.KindCompany, taxonomy.KindModel, taxonomy.KindPerson}

// NewEntitySet canonicalizes companies, models and people through the
// taxonomy's alias table. Locations and other entities are ignored.
func NewEntitySet(ents *model.Entities, tax *taxonomy.Taxonomy) EntitySet {
	if ents == nil {
		return nil
	}
	set := make(EntitySet)
	for _, kind := range similarityKinds {
		var names []string
		switch kind {
		case taxonomy.KindCompany:
			names = ents.Companies
		case taxonomy.KindModel:
			names = ents.Models
		case taxonomy.KindPerson:
			names = ents.People
		}
		for _, n := range names {
			c := canonical(tax, kind, n)
			if c == "" {
				continue
			}
			set[string(kind)+":"+c] = struct{}{}
		}
	}
	return set
}

func canonical(tax *taxonomy.Taxonomy, kind taxonomy.EntityKind, name string) string {
	if tax == nil {
		return textnorm.Fold(name)
	}
	return tax.Canonical(kind, name)
}

// EntityJaccard is |a∩b| / |a∪b|. Two empty sets share nothing and score 0.
func EntityJaccard(a, b EntitySet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty, zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// features are the folded inputs of every signal, computed once per item.
type features struct {
	title      string
	titleLen   int
	content    string
	contentLen int
	entities   EntitySet
}

func newFeatures(it *model.Item, prefix int, tax *taxonomy.Taxonomy) features {
	f := features{
		title:    textnorm.SortedTokens(it.Title),
		content:  textnorm.Prefix(it.Body, prefix),
		entities: NewEntitySet(it.Entities, tax),
	}
	f.titleLen = utf8.RuneCountInString(f.title)
	f.contentLen = utf8.RuneCountInString(f.content)
	return f
}
