package classify

import (
	"math"

	"github.com/MrWong99/voxdesk/internal/lexicon"
)

// Resolver merges a keyword candidate and an optional AI signal into a
// Classification. It is pure and never fails.
type Resolver struct {
	lex     *lexicon.Lexicon
	minConf float64
}

// NewResolver returns a Resolver over lex. Keyword fields are trusted when
// their confidence is non-zero and at least minKeywordConfidence. Urgency is
// the exception: any urgency hit wins, whatever the threshold.
func NewResolver(lex *lexicon.Lexicon, minKeywordConfidence float64) *Resolver {
	return &Resolver{lex: lex, minConf: minKeywordConfidence}
}

func (r *Resolver) trusted(conf float64) bool {
	return conf > 0 && conf >= r.minConf
}

// Resolve applies, per field, the precedence keyword evidence > AI signal >
// default. ai may be nil; status records why it is missing. Values in ai that
// the lexicon does not know are ignored.
func (r *Resolver) Resolve(kw Candidate, ai *Signal, status AIStatus) Classification {
	var aic Candidate
	if ai != nil {
		aic = ai.Candidate
	}
	defs := r.lex.Defaults()

	out := Classification{
		Evidence:       kw.Evidence,
		AIStatus:       status,
		LexiconVersion: r.lex.Version(),
	}

	switch {
	case kw.Category != "" && r.trusted(kw.Confidence.Category):
		out.Category, out.Sources.Category = kw.Category, SourceKeyword
		out.Confidence.Category = kw.Confidence.Category
	case aic.Category != "" && r.lex.HasCategory(aic.Category):
		out.Category, out.Sources.Category = aic.Category, SourceAI
		out.Confidence.Category = clamp01(aic.Confidence.Category)
	default:
		out.Category, out.Sources.Category = defs.Category, SourceDefault
	}

	// A subcategory is only meaningful relative to the resolved category.
	switch {
	case kw.Category == out.Category && kw.Subcategory != "" && r.trusted(kw.Confidence.Subcategory):
		out.Subcategory, out.Sources.Subcategory = kw.Subcategory, SourceKeyword
		out.Confidence.Subcategory = kw.Confidence.Subcategory
	case aic.Category == out.Category && aic.Subcategory != "" && r.lex.HasSubcategory(out.Category, aic.Subcategory):
		out.Subcategory, out.Sources.Subcategory = aic.Subcategory, SourceAI
		out.Confidence.Subcategory = clamp01(aic.Confidence.Subcategory)
	default:
		out.Subcategory, out.Sources.Subcategory = r.lex.OtherSubcategory(out.Category), SourceDefault
	}

	// An urgency keyword always beats the AI priority, below the threshold
	// too.
	switch {
	case kw.Priority != "" && kw.Confidence.Urgency > 0:
		out.Priority, out.Sources.Priority = kw.Priority, SourceKeyword
		out.Confidence.Urgency = kw.Confidence.Urgency
	case aic.Priority != "" && r.lex.HasPriority(aic.Priority):
		out.Priority, out.Sources.Priority = aic.Priority, SourceAI
		out.Confidence.Urgency = clamp01(aic.Confidence.Urgency)
	default:
		out.Priority, out.Sources.Priority = r.lex.DefaultPriority(out.Category), SourceDefault
	}

	switch {
	case kw.Product != "" && r.trusted(kw.Confidence.Product):
		out.Product, out.Sources.Product = kw.Product, SourceKeyword
		out.Confidence.Product = kw.Confidence.Product
	case aic.Product != "" && r.lex.HasProduct(aic.Product):
		out.Product, out.Sources.Product = aic.Product, SourceAI
		out.Confidence.Product = clamp01(aic.Confidence.Product)
	default:
		out.Product, out.Sources.Product = defs.Product, SourceDefault
	}

	if ai != nil && ai.Sentiment.Valid() {
		out.Sentiment, out.Sources.Sentiment = ai.Sentiment, SourceAI
	} else {
		out.Sentiment, out.Sources.Sentiment = SentimentUnknown, SourceDefault
	}

	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
