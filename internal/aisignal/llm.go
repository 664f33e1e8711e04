// Package aisignal produces the AI [classify.Signal] for a complaint: an
// English translation, a suggested title and classification, key points and
// the customer's sentiment.
//
// [LLMAnalyzer] talks to a language model. The decorators in this package
// ([NewCached], [NewRateLimited], [NewBreaker]) compose around any
// [classify.Analyzer]; [Disabled] stands in when no model is configured.
//
// Model output is never trusted: labels are mapped onto the lexicon's
// registered ids and anything that does not map is dropped, so the resolver
// falls back to its defaults instead of inventing a category.
package aisignal

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/lexicon"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

var (
	// ErrDisabled is returned by [Disabled].
	ErrDisabled = classify.ErrAIDisabled

	// ErrInvalidResponse is wrapped when model output cannot be decoded.
	ErrInvalidResponse = classify.ErrAIInvalidResponse
)

const (
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
	maxTitleRunes      = 100
)

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

const systemPromptTemplate = `You are an expert Bengali translator and customer service analyst for a telecom provider.

Analyse the customer complaint you are given. It is a speech transcript, mostly Bengali, sometimes mixed with English words.

Provide:
1. A complete English translation.
2. A short descriptive title in English.
3. The issue category, subcategory, priority and product, chosen ONLY from the lists below.
4. The key issues as a list of short English phrases.
5. The customer's sentiment: positive, neutral or negative.
6. Any words in the text that indicate urgency.

Categories and their subcategories:
%s
Priorities (least to most severe): %s

Products: %s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "english_translation": "<complete English translation>",
  "title": "<brief descriptive title>",
  "category": "<category id>",
  "subcategory": "<subcategory of that category>",
  "priority": "<priority id>",
  "product": "<product id>",
  "confidence": <0.0-1.0>,
  "key_points": ["<issue>", "..."],
  "sentiment": "positive|neutral|negative",
  "urgency_indicators": ["<word>", "..."]
}

Use an empty string for any field you cannot determine.`

// response is the JSON object the model is asked to produce.
type response struct {
	EnglishTranslation string      `json:"english_translation"`
	Title              string      `json:"title"`
	Category           string      `json:"category"`
	Subcategory        string      `json:"subcategory"`
	Priority           string      `json:"priority"`
	Product            string      `json:"product"`
	Confidence         *float64    `json:"confidence"`
	KeyPoints          flexStrings `json:"key_points"`
	Sentiment          string      `json:"sentiment"`
	UrgencyIndicators  flexStrings `json:"urgency_indicators"`
}

// flexStrings decodes either a JSON array of strings or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one != "" {
		*f = flexStrings{one}
	}
	return nil
}

// Option is a functional option for [NewLLMAnalyzer].
type Option func(*LLMAnalyzer)

// WithTemperature sets the sampling temperature. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(a *LLMAnalyzer) { a.temperature = temp }
}

// WithMaxTokens caps the completion length. Default: 1024.
func WithMaxTokens(n int) Option {
	return func(a *LLMAnalyzer) { a.maxTokens = n }
}

// WithModelName sets the model name recorded on every signal and in metrics.
func WithModelName(name string) Option {
	return func(a *LLMAnalyzer) { a.model = name }
}

// WithMetrics records provider request metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *LLMAnalyzer) { a.metrics = m }
}

// LLMAnalyzer implements [classify.Analyzer] on top of an [llm.Provider].
// It is safe for concurrent use.
type LLMAnalyzer struct {
	llm         llm.Provider
	lex         *lexicon.Lexicon
	temperature float64
	maxTokens   int
	model       string
	metrics     *observe.Metrics
	labels      *labelMatcher

	systemPrompt string
	categories   []choice
	priorities   []choice
	products     []choice
}

var _ classify.Analyzer = (*LLMAnalyzer)(nil)

// NewLLMAnalyzer returns an analyzer that asks p to interpret complaints
// against the vocabulary of lex.
func NewLLMAnalyzer(p llm.Provider, lex *lexicon.Lexicon, opts ...Option) *LLMAnalyzer {
	a := &LLMAnalyzer{
		llm:         p,
		lex:         lex,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		model:       "llm",
		labels:      newLabelMatcher(),
	}
	for _, o := range opts {
		o(a)
	}

	for _, c := range lex.Categories() {
		a.categories = append(a.categories, choice{id: string(c.ID), label: c.Label})
	}
	for _, p := range lex.Priorities() {
		a.priorities = append(a.priorities, choice{id: string(p.ID), label: p.Label})
	}
	for _, p := range lex.Products() {
		a.products = append(a.products, choice{id: string(p.ID), label: p.Label})
	}
	a.systemPrompt = buildSystemPrompt(lex)
	return a
}

func buildSystemPrompt(lex *lexicon.Lexicon) string {
	var cats strings.Builder
	for _, c := range lex.Categories() {
		subs := make([]string, 0, len(c.Subcategories))
		for _, sc := range c.Subcategories {
			subs = append(subs, sc.Name)
		}
		fmt.Fprintf(&cats, "- %s (%s): %s\n", c.ID, c.Label, strings.Join(subs, ", "))
	}
	var prios []string
	for _, p := range lex.Priorities() {
		prios = append(prios, string(p.ID))
	}
	var prods []string
	for _, p := range lex.Products() {
		prods = append(prods, string(p.ID))
	}
	return fmt.Sprintf(systemPromptTemplate, cats.String(), strings.Join(prios, ", "), strings.Join(prods, ", "))
}

// Analyze sends text to the model and converts its answer into a signal.
// Transport errors are returned wrapped; undecodable output wraps
// [ErrInvalidResponse].
func (a *LLMAnalyzer) Analyze(ctx context.Context, text string) (*classify.Signal, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanAnalyze)
	defer span.End()

	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: a.systemPrompt,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Bengali text: " + text},
		},
	})
	if err != nil {
		a.record(ctx, "error")
		return nil, observe.Fail(span, fmt.Errorf("aisignal: complete: %w", err))
	}
	a.record(ctx, "ok")

	raw, err := parseResponse(resp.Content)
	if err != nil {
		observe.Logger(ctx).Warn("AI signal unparseable", "model", a.model, "err", err)
		return nil, observe.Fail(span, err)
	}
	sig := a.sanitize(ctx, raw)
	observe.Logger(ctx).Debug("AI signal received",
		"model", a.model,
		"category", sig.Candidate.Category,
		"priority", sig.Candidate.Priority,
		"latency", time.Since(start),
	)
	return sig, nil
}

func (a *LLMAnalyzer) record(ctx context.Context, status string) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordProviderRequest(ctx, a.model, "llm", status)
	if status != "ok" {
		a.metrics.RecordProviderError(ctx, a.model, "llm")
	}
}

// parseResponse extracts and decodes the first JSON object in content.
func parseResponse(content string) (*response, error) {
	obj := jsonObject.FindString(stripMarkdown(content))
	if obj == "" {
		return nil, fmt.Errorf("%w: no JSON object in model output", ErrInvalidResponse)
	}
	var r response
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return &r, nil
}

// stripMarkdown removes optional markdown code fences around model output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// sanitize maps raw model labels onto lexicon ids. Unknown labels are logged
// and dropped.
func (a *LLMAnalyzer) sanitize(ctx context.Context, r *response) *classify.Signal {
	log := observe.Logger(ctx)
	drop := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			log.Warn("dropping unknown AI label", "field", field, "value", value)
		}
	}

	var conf float64
	if r.Confidence != nil {
		conf = min(max(*r.Confidence, 0), 1)
	}

	var c classify.Candidate
	if id, ok := a.labels.match(r.Category, a.categories); ok {
		c.Category = lexicon.Category(id)
		c.Confidence.Category = conf
	} else {
		drop("category", r.Category)
	}
	if c.Category != "" {
		if name, ok := a.matchSubcategory(c.Category, r.Subcategory); ok {
			c.Subcategory = name
			c.Confidence.Subcategory = conf
		} else {
			drop("subcategory", r.Subcategory)
		}
	}
	if id, ok := a.labels.match(r.Priority, a.priorities); ok {
		c.Priority = lexicon.Priority(id)
		c.Confidence.Urgency = conf
	} else {
		drop("priority", r.Priority)
	}
	if id, ok := a.labels.match(r.Product, a.products); ok {
		c.Product = lexicon.Product(id)
		c.Confidence.Product = conf
	} else {
		drop("product", r.Product)
	}

	sentiment := classify.Sentiment(strings.ToLower(strings.TrimSpace(r.Sentiment)))
	if !sentiment.Valid() {
		drop("sentiment", r.Sentiment)
		sentiment = ""
	}

	return &classify.Signal{
		Candidate:         c,
		Sentiment:         sentiment,
		Translation:       strings.TrimSpace(r.EnglishTranslation),
		Title:             truncate(strings.TrimSpace(r.Title), maxTitleRunes),
		KeyPoints:         compact(r.KeyPoints),
		UrgencyIndicators: compact(r.UrgencyIndicators),
		Model:             a.model,
	}
}

func (a *LLMAnalyzer) matchSubcategory(cat lexicon.Category, raw string) (string, bool) {
	def, ok := a.lex.Category(cat)
	if !ok {
		return "", false
	}
	choices := make([]choice, 0, len(def.Subcategories))
	for _, sc := range def.Subcategories {
		choices = append(choices, choice{id: sc.Name, label: sc.Name})
	}
	return a.labels.match(raw, choices)
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
