package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/MrWong99/voxdesk/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_AddFallbackRejectsOtherModels(t *testing.T) {
	t.Parallel()

	primary := &embmock.Provider{ModelIDValue: "bge-m3", DimensionsValue: 1024}
	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})

	tests := []struct {
		name    string
		p       *embmock.Provider
		wantErr bool
	}{
		{"same model", &embmock.Provider{ModelIDValue: "bge-m3", DimensionsValue: 1024}, false},
		{"unknown dimensions", &embmock.Provider{ModelIDValue: "bge-m3"}, false},
		{"other model", &embmock.Provider{ModelIDValue: "nomic-embed-text", DimensionsValue: 768}, true},
		{"other dimensions", &embmock.Provider{ModelIDValue: "bge-m3", DimensionsValue: 512}, true},
	}
	for _, tc := range tests {
		err := fb.AddFallback(tc.name, tc.p)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: AddFallback err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestEmbeddingsFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &embmock.Provider{
		ModelIDValue:    "bge-m3",
		DimensionsValue: 3,
		EmbedErr:        errors.New("connection refused"),
		EmbedBatchErr:   errors.New("connection refused"),
	}
	secondary := &embmock.Provider{
		ModelIDValue:    "bge-m3",
		DimensionsValue: 3,
		EmbedResult:     []float32{1, 0, 0},
	}
	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	if err := fb.AddFallback("secondary", secondary); err != nil {
		t.Fatal(err)
	}

	vec, err := fb.Embed(context.Background(), "ইন্টারনেট")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("vec = %v", vec)
	}

	batch, err := fb.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("batch len = %d, want 2", len(batch))
	}
	if fb.Dimensions() != 3 || fb.ModelID() != "bge-m3" {
		t.Errorf("metadata = %d/%q", fb.Dimensions(), fb.ModelID())
	}
}
