package anyllm

import (
	"testing"

	"github.com/MrWong99/voxdesk/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{"empty provider", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unknown provider", "nosuchvendor", "model"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.provider, tc.model); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	got := convertMessage(llm.Message{Role: llm.RoleUser, Content: "ইন্টারনেট ধীর"})
	if got.Role != "user" {
		t.Errorf("Role = %q, want user", got.Role)
	}
	if got.ContentString() != "ইন্টারনেট ধীর" {
		t.Errorf("Content = %q", got.ContentString())
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "classify",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		Temperature:  0.3,
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens != nil {
		t.Errorf("MaxTokens = %v, want nil", *params.MaxTokens)
	}
}

func TestCountTokens_CountsRunes(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "x"}
	n, err := p.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "আমার"}})
	if err != nil {
		t.Fatal(err)
	}
	// 4 runes -> 2 tokens + 4 overhead
	if n != 6 {
		t.Errorf("CountTokens = %d, want 6", n)
	}
}

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	if got := modelCapabilities("claude-3-5-sonnet-latest").ContextWindow; got != 200_000 {
		t.Errorf("claude ContextWindow = %d", got)
	}
	if got := modelCapabilities("gemini-2.0-flash").ContextWindow; got != 1_048_576 {
		t.Errorf("gemini ContextWindow = %d", got)
	}
	if got := modelCapabilities("unknown").MaxOutputTokens; got != 4_096 {
		t.Errorf("default MaxOutputTokens = %d", got)
	}
}
