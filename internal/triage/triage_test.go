package triage_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/voxdesk/internal/aisignal"
	"github.com/MrWong99/voxdesk/internal/classify"
	"github.com/MrWong99/voxdesk/internal/lexicon"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/textnorm"
	"github.com/MrWong99/voxdesk/internal/triage"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
	"github.com/MrWong99/voxdesk/pkg/provider/llm/mock"
)

const scenario = "আমার ইন্টারনেট কানেকশন খুবই ধীর, দ্রুত সমাধান করুন"

func llmAnalyzer(content string) classify.Analyzer {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
	return aisignal.NewLLMAnalyzer(p, lexicon.Default())
}

func TestClassify_KeywordOnly(t *testing.T) {
	t.Parallel()

	svc := triage.New(lexicon.Default())
	res, err := svc.Classify(context.Background(), scenario)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	c := res.Classification
	if c.Category != lexicon.CategoryTechnical || c.Priority != lexicon.PriorityUrgent {
		t.Errorf("category/priority = %q/%q, want technical/urgent", c.Category, c.Priority)
	}
	terms := c.Terms()
	for _, want := range []string{"ইন্টারনেট", "দ্রুত"} {
		if !slices.Contains(terms, want) {
			t.Errorf("evidence %v missing %q", terms, want)
		}
	}
	if c.Sentiment != classify.SentimentUnknown || c.Sources.Sentiment != classify.SourceDefault {
		t.Errorf("sentiment = %q/%q, want unknown/default", c.Sentiment, c.Sources.Sentiment)
	}
	if c.AIStatus != classify.AIStatusDisabled {
		t.Errorf("AIStatus = %q, want disabled", c.AIStatus)
	}
	if res.Signal != nil {
		t.Error("Signal should be nil without an analyzer")
	}
	if res.Title != "Technical Issue - Internet Service" {
		t.Errorf("Title = %q", res.Title)
	}
	if !strings.Contains(res.Description, scenario) || !strings.Contains(res.Description, "manual review") {
		t.Errorf("description:\n%s", res.Description)
	}
	if !slices.Contains(res.Keywords, "ইন্টারনেট") {
		t.Errorf("Keywords = %v", res.Keywords)
	}
}

func TestClassify_KeywordEvidenceBeatsAI(t *testing.T) {
	t.Parallel()

	svc := triage.New(lexicon.Default(), triage.WithAnalyzer(llmAnalyzer(`{
		"english_translation": "My internet connection is very slow, please fix it quickly",
		"title": "Very slow internet connection",
		"category": "billing",
		"priority": "low",
		"product": "mobile",
		"sentiment": "negative",
		"key_points": ["slow connection"]
	}`)))

	res, err := svc.Classify(context.Background(), scenario)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	c := res.Classification
	if c.Category != lexicon.CategoryTechnical || c.Sources.Category != classify.SourceKeyword {
		t.Errorf("category = %q/%q", c.Category, c.Sources.Category)
	}
	if c.Priority != lexicon.PriorityUrgent || c.Sources.Priority != classify.SourceKeyword {
		t.Errorf("priority = %q/%q, urgency keyword must win", c.Priority, c.Sources.Priority)
	}
	if c.Sentiment != classify.SentimentNegative || c.Sources.Sentiment != classify.SourceAI {
		t.Errorf("sentiment = %q/%q", c.Sentiment, c.Sources.Sentiment)
	}
	if c.AIStatus != classify.AIStatusOK {
		t.Errorf("AIStatus = %q", c.AIStatus)
	}
	if res.Title != "Very slow internet connection" {
		t.Errorf("Title = %q", res.Title)
	}
	for _, want := range []string{"English Translation:", "- slow connection", "Customer Sentiment: Negative"} {
		if !strings.Contains(res.Description, want) {
			t.Errorf("description missing %q:\n%s", want, res.Description)
		}
	}
}

func TestClassify_AIFillsWhatKeywordsMiss(t *testing.T) {
	t.Parallel()

	svc := triage.New(lexicon.Default(), triage.WithAnalyzer(llmAnalyzer(
		`{"category":"billing","subcategory":"Refund Request","priority":"high","product":"mobile","sentiment":"neutral"}`,
	)))
	res, err := svc.Classify(context.Background(), "আমি আমার টাকা ফেরত চাই")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	c := res.Classification
	if c.Category != lexicon.CategoryBilling {
		t.Fatalf("Category = %q, want billing", c.Category)
	}
	if c.Product != lexicon.ProductMobile || c.Sources.Product != classify.SourceAI {
		t.Errorf("product = %q/%q, want mobile/ai", c.Product, c.Sources.Product)
	}
	if !lexicon.Default().HasSubcategory(c.Category, c.Subcategory) {
		t.Errorf("subcategory %q not in %q", c.Subcategory, c.Category)
	}
}

func TestClassify_AITimeoutDegrades(t *testing.T) {
	t.Parallel()

	slow := &mock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := triage.New(lexicon.Default(),
		triage.WithAnalyzer(aisignal.NewLLMAnalyzer(slow, lexicon.Default())),
		triage.WithAITimeout(20*time.Millisecond),
	)

	start := time.Now()
	res, err := svc.Classify(context.Background(), "ধন্যবাদ")
	if err != nil {
		t.Fatalf("Classify must not fail on AI timeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Classify took %v, AI timeout not applied", elapsed)
	}
	c := res.Classification
	if c.AIStatus != classify.AIStatusTimeout {
		t.Errorf("AIStatus = %q, want timeout", c.AIStatus)
	}
	want := classify.FieldSources{
		Category:    classify.SourceDefault,
		Subcategory: classify.SourceDefault,
		Priority:    classify.SourceDefault,
		Product:     classify.SourceDefault,
		Sentiment:   classify.SourceDefault,
	}
	if c.Sources != want {
		t.Errorf("Sources = %+v, want all default", c.Sources)
	}
	if res.Title != "General Inquiry - General Service" {
		t.Errorf("Title = %q", res.Title)
	}
}

func TestClassify_InvalidInput(t *testing.T) {
	t.Parallel()

	svc := triage.New(lexicon.Default(), triage.WithMaxInputRunes(10))
	for _, in := range []string{"", "   \t\n", "\xff\xfe", strings.Repeat("ক", 11)} {
		res, err := svc.Classify(context.Background(), in)
		if !errors.Is(err, textnorm.ErrInvalidInput) {
			t.Errorf("Classify(%q) err = %v, want ErrInvalidInput", in, err)
		}
		if res != nil {
			t.Errorf("Classify(%q) returned a partial result", in)
		}
	}
}

func TestClassify_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	svc := triage.New(lexicon.Default(), triage.WithMetrics(m))
	if _, err := svc.Classify(context.Background(), scenario); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := met.Name
				for _, kv := range dp.Attributes.ToSlice() {
					key += "," + string(kv.Key) + "=" + kv.Value.Emit()
				}
				got[key] += dp.Value
			}
		}
	}

	for _, want := range []string{
		"voxdesk.classify.field_sources,field=category,source=keyword",
		"voxdesk.classify.field_sources,field=priority,source=keyword",
		"voxdesk.classify.field_sources,field=sentiment,source=default",
		"voxdesk.ai_signal.outcomes,status=disabled",
	} {
		if got[want] != 1 {
			t.Errorf("%s = %d, want 1 (all: %v)", want, got[want], got)
		}
	}
}

// TestClassify_Span swaps the global tracer provider and so does not run in
// parallel.
func TestClassify_Span(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	svc := triage.New(lexicon.Default())
	if _, err := svc.Classify(context.Background(), scenario); err != nil {
		t.Fatalf("Classify: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != observe.SpanClassify {
		t.Fatalf("spans = %+v, want one %s span", spans, observe.SpanClassify)
	}
	got := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes {
		got[kv.Key] = kv.Value.AsString()
	}
	want := map[attribute.Key]string{
		observe.KeyCategory: string(lexicon.CategoryTechnical),
		observe.KeyPriority: string(lexicon.PriorityUrgent),
		observe.KeyAIStatus: string(classify.AIStatusDisabled),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
