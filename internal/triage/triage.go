// Package triage runs the complaint classification path end to end:
//
//	normalise → keyword classifier → AI signal (bounded by a timeout)
//	          → resolver → description, title and keywords
//
// The AI signal call is the only step that blocks. Its failure or timeout is
// never a classification failure; it shows up in the result's provenance and
// AI status instead. Only malformed input fails a call.
package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxdesk/internal/aisignal"
	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/describe"
	"github.com/MrWong99/voxdesk/internal/lexicon"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/textnorm"
)

const (
	// DefaultAITimeout bounds the AI signal call.
	DefaultAITimeout = 8 * time.Second

	// DefaultMaxInputRunes caps the accepted complaint length.
	DefaultMaxInputRunes = 5000
)

// Result is the outcome of one classification.
type Result struct {
	Classification classify.Classification `json:"classification"`
	Description    string                  `json:"description"`
	Title          string                  `json:"title"`
	Keywords       []string                `json:"keywords"`

	// Normalized is the text the classifiers saw.
	Normalized string `json:"normalized"`

	// Signal is the sanitized AI signal, nil when it was unavailable.
	Signal *classify.Signal `json:"signal,omitempty"`
}

// Option is a functional option for [New].
type Option func(*Service)

// WithAnalyzer sets the AI signal source. Default: [aisignal.Disabled].
func WithAnalyzer(a classify.Analyzer) Option {
	return func(s *Service) { s.analyzer = a }
}

// WithAITimeout bounds each AI signal call. Non-positive values keep the
// default.
func WithAITimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.aiTimeout = d
		}
	}
}

// WithMinKeywordConfidence sets the confidence a keyword field needs to win
// over the AI signal. Default: any non-zero confidence.
func WithMinKeywordConfidence(c float64) Option {
	return func(s *Service) { s.minConf = c }
}

// WithMaxInputRunes caps the accepted input length. Non-positive values keep
// the default.
func WithMaxInputRunes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRunes = n
		}
	}
}

// WithMetrics records classification metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service classifies complaints. It is safe for concurrent use.
type Service struct {
	lex       *lexicon.Lexicon
	keywords  *classify.KeywordClassifier
	resolver  *classify.Resolver
	analyzer  classify.Analyzer
	aiTimeout time.Duration
	minConf   float64
	maxRunes  int
	metrics   *observe.Metrics
}

// New returns a Service over lex.
func New(lex *lexicon.Lexicon, opts ...Option) *Service {
	s := &Service{
		lex:       lex,
		analyzer:  aisignal.Disabled{},
		aiTimeout: DefaultAITimeout,
		maxRunes:  DefaultMaxInputRunes,
	}
	for _, o := range opts {
		o(s)
	}
	s.keywords = classify.NewKeywordClassifier(lex)
	s.resolver = classify.NewResolver(lex, s.minConf)
	return s
}

// Lexicon returns the lexicon the service classifies against.
func (s *Service) Lexicon() *lexicon.Lexicon { return s.lex }

// Classify classifies one complaint. The only error it returns wraps
// [textnorm.ErrInvalidInput].
func (s *Service) Classify(ctx context.Context, text string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanClassify)
	defer span.End()
	start := time.Now()

	normalized, err := textnorm.Clean(text, s.maxRunes)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}

	kw := s.keywords.Classify(normalized)
	if err := kw.Validate(s.lex); err != nil {
		// The keyword classifier only emits registered ids; this is a bug.
		observe.Logger(ctx).Warn("keyword candidate violates contract", "err", err)
		kw = classify.Candidate{}
	}

	sig, status := s.analyze(ctx, normalized)
	c := s.resolver.Resolve(kw, sig, status)

	res := &Result{
		Classification: c,
		Normalized:     normalized,
		Signal:         sig,
		Keywords:       describe.Keywords(normalized),
	}
	in := describe.Input{Original: text, Classification: c, Lexicon: s.lex}
	var aiTitle string
	if sig != nil {
		in.Translation, in.KeyPoints, aiTitle = sig.Translation, sig.KeyPoints, sig.Title
	}
	res.Description = describe.Format(in)
	res.Title = describe.Title(aiTitle, c, s.lex)

	observe.Classified(span, string(c.Category), string(c.Priority), string(c.AIStatus))
	s.record(ctx, c, time.Since(start))
	return res, nil
}

// analyze runs the AI signal under the configured timeout and never fails.
func (s *Service) analyze(ctx context.Context, text string) (*classify.Signal, classify.AIStatus) {
	actx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()

	start := time.Now()
	sig, err := s.analyzer.Analyze(actx, text)
	if err == nil && sig == nil {
		err = fmt.Errorf("%w: empty signal", classify.ErrAIInvalidResponse)
	}
	status := classify.StatusFor(err)
	if s.metrics != nil {
		s.metrics.RecordAISignal(ctx, string(status), time.Since(start))
	}

	switch {
	case err == nil:
		return sig, status
	case errors.Is(err, classify.ErrAIDisabled):
		observe.Logger(ctx).Debug("AI signal disabled")
	default:
		observe.Logger(ctx).Warn("AI signal degraded", "status", status, "err", err)
	}
	return nil, status
}

func (s *Service) record(ctx context.Context, c classify.Classification, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ClassifyDuration.Record(ctx, d.Seconds())
	for field, src := range map[string]classify.Source{
		"category":    c.Sources.Category,
		"subcategory": c.Sources.Subcategory,
		"priority":    c.Sources.Priority,
		"product":     c.Sources.Product,
		"sentiment":   c.Sources.Sentiment,
	} {
		s.metrics.RecordFieldSource(ctx, field, string(src))
	}
}
