package facematch

import (
	"context"
	"math"
	"testing"

	"github.com/kozaktomas/face-grouper/internal/imageio"
)

func l2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		expected []float32
	}{
		{"already unit", []float32{1, 0, 0}, []float32{1, 0, 0}},
		{"3-4-5", []float32{3, 4}, []float32{0.6, 0.8}},
		{"negative", []float32{0, -2}, []float32{0, -1}},
		{"zero vector", []float32{0, 0, 0}, []float32{0, 0, 0}},
		{"empty", []float32{}, []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("Normalize() length = %d, want %d", len(result), len(tt.expected))
			}
			for i := range result {
				if math.Abs(float64(result[i]-tt.expected[i])) > 1e-6 {
					t.Errorf("Normalize()[%d] = %v, want %v", i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	input := []float32{3, 4}
	Normalize(input)
	if input[0] != 3 || input[1] != 4 {
		t.Errorf("expected input untouched, got %v", input)
	}
}

func TestKeep(t *testing.T) {
	dets := []Detection{
		{Score: 0.9, Embedding: []float32{2, 0}},
		{Score: 0.49, Embedding: []float32{0, 1}},   // below threshold
		{Score: 0.8},                                // missing embedding
		{Score: 0.5, Embedding: []float32{0, 0, 5}}, // exactly at threshold
		{Score: 1.0, Embedding: []float32{}},        // empty embedding
	}

	kept := Keep(dets, 0.5)

	if len(kept) != 2 {
		t.Fatalf("expected 2 kept embeddings, got %d", len(kept))
	}
	for i, emb := range kept {
		if math.Abs(l2(emb)-1) > 1e-6 {
			t.Errorf("kept[%d] has norm %v, want 1", i, l2(emb))
		}
	}
	if kept[0][0] != 1 {
		t.Errorf("expected first kept embedding [1 0], got %v", kept[0])
	}
	if kept[1][2] != 1 {
		t.Errorf("expected second kept embedding [0 0 1], got %v", kept[1])
	}
}

func TestKeep_NoDetections(t *testing.T) {
	if kept := Keep(nil, 0.5); len(kept) != 0 {
		t.Errorf("expected no embeddings, got %d", len(kept))
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
		{"empty", nil, nil, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CosineDistance(tt.a, tt.b)
			if math.Abs(result-tt.expected) > 1e-6 {
				t.Errorf("CosineDistance(%v, %v) = %v, want %v", tt.a, tt.b, result, tt.expected)
			}
		})
	}
}

func TestDetection_HasEmbedding(t *testing.T) {
	if (Detection{Score: 1}).HasEmbedding() {
		t.Error("expected nil embedding to be missing")
	}
	if !(Detection{Embedding: []float32{0.1}}).HasEmbedding() {
		t.Error("expected non-empty embedding to be present")
	}
}

type safeAnalyzer struct{ AnalyzerFunc }

func (safeAnalyzer) ConcurrentSafe() bool { return true }

func TestIsConcurrentSafe(t *testing.T) {
	plain := AnalyzerFunc(nil)
	if IsConcurrentSafe(plain) {
		t.Error("expected plain analyzer to be treated as unsafe")
	}
	if !IsConcurrentSafe(safeAnalyzer{}) {
		t.Error("expected analyzer declaring safety to be concurrent safe")
	}
}

type selectingAnalyzer struct {
	providers []string
}

func (s selectingAnalyzer) Analyze(context.Context, *imageio.Image) ([]Detection, error) {
	return nil, nil
}

func (s selectingAnalyzer) WithProviders(providers []string) Analyzer {
	return selectingAnalyzer{providers: providers}
}

func TestForProviders(t *testing.T) {
	base := selectingAnalyzer{}

	if got := ForProviders(base, nil); got.(selectingAnalyzer).providers != nil {
		t.Error("expected empty provider list to leave analyzer unchanged")
	}

	got := ForProviders(base, []string{"CPUExecutionProvider"}).(selectingAnalyzer)
	if len(got.providers) != 1 || got.providers[0] != "CPUExecutionProvider" {
		t.Errorf("expected providers to be applied, got %v", got.providers)
	}

	plain := AnalyzerFunc(nil)
	if ForProviders(plain, []string{"x"}) == nil {
		t.Error("expected analyzer without provider choice to be returned")
	}
}
