package classify

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MrWong99/voxdesk/internal/lexicon"
)

// KeywordClassifier scores normalised text against a lexicon by literal
// substring matching. It is pure and safe for concurrent use.
type KeywordClassifier struct {
	lex *lexicon.Lexicon
}

// NewKeywordClassifier returns a classifier over lex.
func NewKeywordClassifier(lex *lexicon.Lexicon) *KeywordClassifier {
	return &KeywordClassifier{lex: lex}
}

// tally accumulates the matches of one label.
type tally struct {
	label string
	order int
	score int
	hits  []Evidence
}

// scan matches every entry against text and returns per-label tallies in
// first-seen order.
func scan(text string, entries []lexicon.Entry) []*tally {
	var out []*tally
	byLabel := make(map[string]*tally)
	for _, e := range entries {
		off := strings.Index(text, e.Match)
		if off < 0 || e.Match == "" {
			continue
		}
		t, ok := byLabel[e.Label]
		if !ok {
			t = &tally{label: e.Label, order: e.Order}
			byLabel[e.Label] = t
			out = append(out, t)
		}
		t.score += e.Weight
		t.hits = append(t.hits, Evidence{
			Domain: e.Domain,
			Label:  e.Label,
			Term:   e.Term,
			Weight: e.Weight,
			Offset: off,
		})
	}
	return out
}

// best returns the highest-scoring tally, breaking ties by declaration order.
func best(ts []*tally) *tally {
	var win *tally
	for _, t := range ts {
		if win == nil || t.score > win.score || (t.score == win.score && t.order < win.order) {
			win = t
		}
	}
	return win
}

// first returns the earliest-declared tally regardless of score.
func first(ts []*tally) *tally {
	var win *tally
	for _, t := range ts {
		if win == nil || t.order < win.order {
			win = t
		}
	}
	return win
}

func ratio(matched, total int) float64 {
	if matched <= 0 || total <= 0 {
		return 0
	}
	return min(float64(matched)/float64(total), 1)
}

// Classify returns the keyword candidate for text, which must already be
// normalised.
//
// Category and product are the labels with the highest matched weight.
// Each confidence is the matched weight of the winning label over the total
// weight registered in its domain, so it only reaches 1 when the domain has
// a single label and all of its terms match.
// Any urgency match forces the priority of the first-declared matching tier;
// without one the category's default priority is proposed with zero urgency
// confidence. The subcategory comes from the category's second-level table
// and falls back to its Other subcategory. Text without any match yields an
// empty candidate with zero confidence.
func (k *KeywordClassifier) Classify(text string) Candidate {
	var c Candidate
	var evidence []Evidence

	if cat := best(scan(text, k.lex.Entries(lexicon.DomainCategory))); cat != nil {
		c.Category = lexicon.Category(cat.label)
		c.Confidence.Category = ratio(cat.score, k.lex.TotalWeight(lexicon.DomainCategory))
		evidence = append(evidence, cat.hits...)

		c.Subcategory = k.lex.OtherSubcategory(c.Category)
		if sub := best(scan(text, k.lex.SubcategoryEntries(c.Category))); sub != nil {
			c.Subcategory = sub.label
			c.Confidence.Subcategory = ratio(sub.score, k.lex.SubcategoryWeight(c.Category))
			evidence = append(evidence, sub.hits...)
		}
	}

	if tier := first(scan(text, k.lex.Entries(lexicon.DomainUrgency))); tier != nil {
		c.Priority = lexicon.Priority(tier.label)
		c.Confidence.Urgency = ratio(tier.score, k.lex.TotalWeight(lexicon.DomainUrgency))
		evidence = append(evidence, tier.hits...)
	} else if c.Category != "" {
		c.Priority = k.lex.DefaultPriority(c.Category)
	}

	if prod := best(scan(text, k.lex.Entries(lexicon.DomainProduct))); prod != nil {
		c.Product = lexicon.Product(prod.label)
		c.Confidence.Product = ratio(prod.score, k.lex.TotalWeight(lexicon.DomainProduct))
		evidence = append(evidence, prod.hits...)
	}

	c.Evidence = orderEvidence(evidence)
	return c
}

// orderEvidence sorts by text position, keeping domain order for ties, and
// drops repeated (domain, term) pairs.
func orderEvidence(ev []Evidence) []Evidence {
	if len(ev) == 0 {
		return nil
	}
	slices.SortStableFunc(ev, func(a, b Evidence) int {
		return cmp.Compare(a.Offset, b.Offset)
	})
	type key struct {
		d lexicon.Domain
		t string
	}
	seen := make(map[key]bool, len(ev))
	out := ev[:0]
	for _, e := range ev {
		k := key{e.Domain, e.Term}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
