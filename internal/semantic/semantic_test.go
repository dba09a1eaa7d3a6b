package semantic

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeEmbedder produces deterministic vectors from token overlap with a
// fixed vocabulary, and counts calls so cache-reuse tests can assert no
// recomputation happened.
type fakeEmbedder struct {
	vocab []string
	calls int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vocab: []string{
		"concreto", "usinado", "fck", "30mpa", "25mpa", "alvenaria",
		"vedacao", "escavacao", "manual", "tubo", "pvc",
	}}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(f.vocab))
		for j, word := range f.vocab {
			if strings.Contains(text, word) {
				vec[j] = 1
			}
		}
		// Avoid the zero vector for out-of-vocabulary text.
		vec[0] += 0.01
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vocab) }
func (f *fakeEmbedder) ModelID() string { return "fake/overlap-v1" }

var testDocs = []string{
	"concreto usinado fck 30mpa",
	"alvenaria de vedacao",
	"escavacao manual",
	"concreto usinado fck 25mpa",
}

func TestBuildIndexAndTopK(t *testing.T) {
	emb := newFakeEmbedder()
	idx, err := BuildIndex(context.Background(), emb, testDocs)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if idx.Len() != len(testDocs) {
		t.Fatalf("index has %d rows, want %d", idx.Len(), len(testDocs))
	}

	query, err := emb.Embed(context.Background(), "concreto usinado 30mpa")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.TopK(query, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].RowIndex != 0 {
		t.Errorf("expected row 0 to rank first, got %d", hits[0].RowIndex)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not in descending similarity order")
	}
	if hits[0].Score <= 0 || hits[0].Score > 1+1e-9 {
		t.Errorf("cosine similarity out of range: %v", hits[0].Score)
	}
}

func TestTopKDimensionMismatch(t *testing.T) {
	idx, err := NewIndex([][]float32{{1, 0}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.TopK([]float32{1, 0, 0}, 1); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestTopKTieBreakByRowIndex(t *testing.T) {
	idx, err := NewIndex([][]float32{{0, 1}, {1, 0}, {1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := idx.TopK([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].RowIndex != 1 || hits[1].RowIndex != 2 {
		t.Errorf("tie not broken by ascending row index: %v", hits)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	emb := newFakeEmbedder()
	ctx := context.Background()
	idx, err := BuildIndex(ctx, emb, testDocs)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	corpusHash := "corpus-v1"
	path := CachePath(dir, emb.ModelID(), corpusHash)

	if err := SaveCache(path, emb.ModelID(), corpusHash, idx); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	loaded, err := LoadCache(path, emb.ModelID(), corpusHash)
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if loaded.Len() != idx.Len() || loaded.Dimensions() != idx.Dimensions() {
		t.Fatalf("loaded index shape %dx%d, want %dx%d",
			loaded.Len(), loaded.Dimensions(), idx.Len(), idx.Dimensions())
	}

	// Load renormalizes the already-unit vectors, which may move
	// components by a float32 last bit.
	for i, vec := range loaded.Vectors() {
		for j, v := range vec {
			if math.Abs(float64(v-idx.vectors[i][j])) > 1e-6 {
				t.Fatalf("vector %d component %d differs after round trip", i, j)
			}
		}
	}
}

func TestCacheKeyMismatch(t *testing.T) {
	emb := newFakeEmbedder()
	idx, err := BuildIndex(context.Background(), emb, testDocs)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.bin")
	if err := SaveCache(path, emb.ModelID(), "corpus-v1", idx); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCache(path, emb.ModelID(), "corpus-v2"); err == nil {
		t.Fatal("expected key mismatch for changed corpus")
	}
	if _, err := LoadCache(path, "other/model", "corpus-v1"); err == nil {
		t.Fatal("expected key mismatch for changed model")
	}
}

func TestCacheCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.bin")
	if err := os.WriteFile(path, []byte("not a cache file"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCache(path, "m", "c"); err == nil {
		t.Fatal("expected error loading corrupt cache")
	}

	if _, err := LoadCache(filepath.Join(dir, "missing.bin"), "m", "c"); err == nil {
		t.Fatal("expected error loading missing cache")
	}
}

func TestCacheReuseSkipsRecomputation(t *testing.T) {
	emb := newFakeEmbedder()
	ctx := context.Background()
	dir := t.TempDir()
	corpusHash := "corpus-v1"
	path := CachePath(dir, emb.ModelID(), corpusHash)

	idx, err := BuildIndex(ctx, emb, testDocs)
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveCache(path, emb.ModelID(), corpusHash, idx); err != nil {
		t.Fatal(err)
	}
	callsAfterBuild := emb.calls

	// Second startup with unchanged corpus and model: the cache must
	// satisfy the build without touching the embedder.
	if _, err := LoadCache(path, emb.ModelID(), corpusHash); err != nil {
		t.Fatalf("cache should be reusable: %v", err)
	}
	if emb.calls != callsAfterBuild {
		t.Errorf("embedder called %d times during cache reuse", emb.calls-callsAfterBuild)
	}
}

func TestCachedLoadMatchesFreshBuildAtScale(t *testing.T) {
	// Above annThreshold the index answers through the HNSW graph; a
	// cache-hit restart must take the same path and return the same
	// ordering as a fresh build over the same vectors.
	const dims = 8
	rng := rand.New(rand.NewSource(11))
	vectors := make([][]float32, annThreshold)
	for i := range vectors {
		v := make([]float32, dims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
	}

	fresh, err := NewIndex(vectors)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.graph == nil {
		t.Fatal("fresh index at threshold size did not build a graph")
	}

	dir := t.TempDir()
	path := CachePath(dir, "fake/overlap-v1", "corpus-large")
	if err := SaveCache(path, "fake/overlap-v1", "corpus-large", fresh); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	loaded, err := LoadCache(path, "fake/overlap-v1", "corpus-large")
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if loaded.graph == nil {
		t.Fatal("cache-loaded index did not build a graph")
	}

	for trial := 0; trial < 5; trial++ {
		query := make([]float32, dims)
		for j := range query {
			query[j] = rng.Float32()*2 - 1
		}
		a, err := fresh.TopK(query, 10)
		if err != nil {
			t.Fatal(err)
		}
		b, err := loaded.TopK(query, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(a) != len(b) {
			t.Fatalf("trial %d: hit counts differ: %d vs %d", trial, len(a), len(b))
		}
		for i := range a {
			if a[i].RowIndex != b[i].RowIndex {
				t.Errorf("trial %d hit %d: row %d (fresh) vs %d (cached)",
					trial, i, a[i].RowIndex, b[i].RowIndex)
			}
			if math.Abs(a[i].Score-b[i].Score) > 1e-6 {
				t.Errorf("trial %d hit %d: score %v vs %v", trial, i, a[i].Score, b[i].Score)
			}
		}
	}
}

func TestNewIndexValidation(t *testing.T) {
	if _, err := NewIndex(nil); err == nil {
		t.Error("expected error for empty vectors")
	}
	if _, err := NewIndex([][]float32{{1, 2}, {1}}); err == nil {
		t.Error("expected error for ragged vectors")
	}
}

func TestParseEmbedFlag(t *testing.T) {
	cfg, err := ParseEmbedFlag("ollama/nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "ollama" || cfg.Model != "nomic-embed-text" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Endpoint == "" {
		t.Error("expected default endpoint for ollama")
	}

	// Model names may contain slashes.
	cfg, err = ParseEmbedFlag("openrouter/sentence-transformers/paraphrase-multilingual-mpnet-base-v2")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "sentence-transformers/paraphrase-multilingual-mpnet-base-v2" {
		t.Errorf("model = %q", cfg.Model)
	}

	for _, bad := range []string{"", "noslash", "/model", "provider/"} {
		if _, err := ParseEmbedFlag(bad); err == nil {
			t.Errorf("expected error for flag %q", bad)
		}
	}
}

func TestFakeEmbedderDeterminism(t *testing.T) {
	// Guard for the other tests: the fake must be deterministic.
	emb := newFakeEmbedder()
	a, _ := emb.Embed(context.Background(), "concreto usinado")
	b, _ := emb.Embed(context.Background(), "concreto usinado")
	if fmt.Sprint(a) != fmt.Sprint(b) {
		t.Error("fake embedder is not deterministic")
	}
}
