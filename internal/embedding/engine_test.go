package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 0, 0}, b: []float32{1, 0, 0}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tc.want)
			}
		})
	}

	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error on dimension mismatch")
	}

	// Zero vectors have no direction; similarity collapses to 0.
	got, err := CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("zero-vector similarity = %f, want 0", got)
	}
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("norm^2 = %f after normalization", norm)
	}

	// Zero vectors stay untouched.
	z := []float32{0, 0}
	NormalizeL2(z)
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero vector mutated: %v", z)
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},     // orthogonal
		{1, 0},     // exact
		{0.9, 0.1}, // close
		{-1, 0},    // opposite
	}

	top, err := FindTopK(query, corpus, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d results, want 2", len(top))
	}
	if top[0].Index != 1 {
		t.Errorf("best match index = %d, want 1", top[0].Index)
	}
	if top[1].Index != 2 {
		t.Errorf("second match index = %d, want 2", top[1].Index)
	}
	if top[0].Similarity < top[1].Similarity {
		t.Error("results not sorted by similarity")
	}

	// k larger than the corpus returns everything.
	all, err := FindTopK(query, corpus, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(corpus) {
		t.Errorf("got %d results, want %d", len(all), len(corpus))
	}
}

func TestNewEngineUnsupportedProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "word2vec"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestGenAIEngineRequiresKey(t *testing.T) {
	if _, err := NewGenAIEngine("", "", ""); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestNormalizeTaskType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "SEMANTIC_SIMILARITY"},
		{"RETRIEVAL_DOCUMENT", "RETRIEVAL_DOCUMENT"},
		{"FACT_VERIFICATION", "FACT_VERIFICATION"},
		{"nonsense", "SEMANTIC_SIMILARITY"},
	}
	for _, tc := range cases {
		if got := normalizeTaskType(tc.in); got != tc.want {
			t.Errorf("normalizeTaskType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
