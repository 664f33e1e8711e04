// Package classify turns normalised complaint text into a complete ticket
// classification.
//
// Two independent signals are combined per field:
//
//   - the [KeywordClassifier], a pure function over the [lexicon.Lexicon]
//     that is deterministic and always available, and
//   - an AI [Signal] produced by an [Analyzer], which may be slow, wrong or
//     missing altogether.
//
// The [Resolver] merges them with a fixed precedence (keyword evidence, then
// the AI signal, then the lexicon defaults) and records the provenance of
// every field, so a degraded AI signal is visible in the result instead of
// silently lowering quality.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxdesk/internal/lexicon"
)

var (
	// ErrContract is returned by Candidate.Validate when a candidate
	// violates its structural invariants. It signals a programming or
	// adapter error, never a user error.
	ErrContract = errors.New("classify: candidate contract violation")

	// ErrAIDisabled is returned by analyzers that are not configured.
	ErrAIDisabled = errors.New("classify: AI signal disabled")

	// ErrAIInvalidResponse is wrapped by analyzers whose model output could
	// not be interpreted.
	ErrAIInvalidResponse = errors.New("classify: invalid AI response")
)

// Source records where a resolved field came from.
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceAI      Source = "ai"
	SourceDefault Source = "default"
)

// Sentiment is the customer's tone as judged by the AI signal.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

// Valid reports whether s is one of the known sentiments other than unknown.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// AIStatus describes what happened to the AI signal of one classification.
type AIStatus string

const (
	AIStatusOK       AIStatus = "ok"
	AIStatusTimeout  AIStatus = "timeout"
	AIStatusError    AIStatus = "error"
	AIStatusInvalid  AIStatus = "invalid"
	AIStatusDisabled AIStatus = "disabled"
)

// StatusFor maps an analyzer error to an AIStatus.
func StatusFor(err error) AIStatus {
	switch {
	case err == nil:
		return AIStatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return AIStatusTimeout
	case errors.Is(err, ErrAIDisabled):
		return AIStatusDisabled
	case errors.Is(err, ErrAIInvalidResponse):
		return AIStatusInvalid
	default:
		return AIStatusError
	}
}

// Evidence is one lexicon term that matched the text.
type Evidence struct {
	Domain lexicon.Domain `json:"domain"`
	Label  string         `json:"label"`
	Term   string         `json:"term"`
	Weight int            `json:"weight"`
	// Offset is the byte offset of the first occurrence in the normalised text.
	Offset int `json:"offset"`
}

// Confidence holds a score in [0,1] per classified field.
type Confidence struct {
	Category    float64 `json:"category"`
	Subcategory float64 `json:"subcategory"`
	Urgency     float64 `json:"urgency"`
	Product     float64 `json:"product"`
}

// Overall returns the highest field confidence.
func (c Confidence) Overall() float64 {
	return max(c.Category, c.Subcategory, c.Urgency, c.Product)
}

// Candidate is a partial classification proposed by one signal. Empty string
// fields are absent.
type Candidate struct {
	Category    lexicon.Category `json:"category,omitempty"`
	Subcategory string           `json:"subcategory,omitempty"`
	Priority    lexicon.Priority `json:"priority,omitempty"`
	Product     lexicon.Product  `json:"product,omitempty"`
	Confidence  Confidence       `json:"confidence"`
	Evidence    []Evidence       `json:"evidence,omitempty"`
}

// Terms returns the distinct evidence terms in evidence order.
func (c Candidate) Terms() []string {
	return evidenceTerms(c.Evidence)
}

// Validate checks the structural invariants of c against lex: every present
// field must be registered and a present subcategory must belong to the
// candidate's category.
func (c Candidate) Validate(lex *lexicon.Lexicon) error {
	var errs []error
	if c.Category != "" && !lex.HasCategory(c.Category) {
		errs = append(errs, fmt.Errorf("unknown category %q", c.Category))
	}
	if c.Subcategory != "" && !lex.HasSubcategory(c.Category, c.Subcategory) {
		errs = append(errs, fmt.Errorf("subcategory %q does not belong to category %q", c.Subcategory, c.Category))
	}
	if c.Priority != "" && !lex.HasPriority(c.Priority) {
		errs = append(errs, fmt.Errorf("unknown priority %q", c.Priority))
	}
	if c.Product != "" && !lex.HasProduct(c.Product) {
		errs = append(errs, fmt.Errorf("unknown product %q", c.Product))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrContract, errors.Join(errs...))
}

// Signal is the structured output of the AI signal adapter.
type Signal struct {
	Candidate Candidate `json:"candidate"`
	Sentiment Sentiment `json:"sentiment,omitempty"`

	// Translation is an English rendering of the complaint.
	Translation string `json:"translation,omitempty"`

	// Title is a short ticket title suggested by the model.
	Title string `json:"title,omitempty"`

	KeyPoints         []string `json:"key_points,omitempty"`
	UrgencyIndicators []string `json:"urgency_indicators,omitempty"`

	// Model identifies the backend that produced the signal.
	Model string `json:"model,omitempty"`
}

// Analyzer produces an AI signal for normalised complaint text.
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation. Any returned error makes the signal absent; callers never
// fail a classification because of it.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Signal, error)
}

// FieldSources records the provenance of each resolved field.
type FieldSources struct {
	Category    Source `json:"category"`
	Subcategory Source `json:"subcategory"`
	Priority    Source `json:"priority"`
	Product     Source `json:"product"`
	Sentiment   Source `json:"sentiment"`
}

// Classification is the fully resolved result. Every field is present.
type Classification struct {
	Category    lexicon.Category `json:"category"`
	Subcategory string           `json:"subcategory"`
	Priority    lexicon.Priority `json:"priority"`
	Product     lexicon.Product  `json:"product"`
	Sentiment   Sentiment        `json:"sentiment"`
	Confidence  Confidence       `json:"confidence"`
	Evidence    []Evidence       `json:"evidence"`
	Sources     FieldSources     `json:"sources"`
	AIStatus    AIStatus         `json:"ai_status"`

	LexiconVersion string `json:"lexicon_version"`
}

// Terms returns the distinct evidence terms in evidence order.
func (c Classification) Terms() []string {
	return evidenceTerms(c.Evidence)
}

// Degraded reports whether the AI signal was unavailable.
func (c Classification) Degraded() bool {
	return c.AIStatus != AIStatusOK
}

func evidenceTerms(ev []Evidence) []string {
	if len(ev) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ev))
	out := make([]string, 0, len(ev))
	for _, e := range ev {
		if seen[e.Term] {
			continue
		}
		seen[e.Term] = true
		out = append(out, e.Term)
	}
	return out
}
