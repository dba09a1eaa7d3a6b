package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/prumolabs/prumo/internal/ann"
)

// embedBatchSize is the number of corpus rows sent per embedding call.
const embedBatchSize = 64

// annThreshold is the corpus size above which TopK switches from a
// brute-force scan to the HNSW graph.
const annThreshold = 5000

// Hit is one scored corpus row.
type Hit struct {
	RowIndex int
	Score    float64 // cosine similarity
}

// Index holds one unit-normalized embedding per corpus row, in storage
// order. Immutable after construction; safe for concurrent reads.
type Index struct {
	vectors [][]float32
	dims    int
	graph   *ann.Graph // nil below annThreshold
}

// NewIndex wraps precomputed corpus embeddings. Vectors are normalized
// to unit length so TopK can use plain dot products.
func NewIndex(vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors")
	}
	dims := len(vectors[0])
	if dims == 0 {
		return nil, fmt.Errorf("zero-dimension vectors")
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("vector %d has %d dims, want %d", i, len(v), dims)
		}
		normalized[i] = normalizeVector(v)
	}

	idx := &Index{vectors: normalized, dims: dims}
	if len(normalized) >= annThreshold {
		idx.graph = ann.Build(normalized)
	}
	return idx, nil
}

// BuildIndex embeds every document through the embedder, batched.
// Position i in docs corresponds to RowIndex i.
func BuildIndex(ctx context.Context, embedder Embedder, docs []string) (*Index, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("empty corpus")
	}

	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch, err := embedder.EmbedBatch(ctx, docs[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding corpus rows %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}

	return NewIndex(vectors)
}

// Len returns the number of indexed rows.
func (idx *Index) Len() int {
	return len(idx.vectors)
}

// Dimensions returns the vector dimensionality.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Vectors exposes the normalized matrix for cache persistence.
func (idx *Index) Vectors() [][]float32 {
	return idx.vectors
}

// TopK returns the k most similar rows to the query vector, descending
// by cosine similarity with ties broken by ascending row index.
func (idx *Index) TopK(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != idx.dims {
		return nil, fmt.Errorf("query has %d dims, index has %d", len(query), idx.dims)
	}

	q := normalizeVector(query)

	if idx.graph != nil {
		// Widen the beam past k so approximate recall stays high.
		ef := 4 * k
		if ef < 100 {
			ef = 100
		}
		neighbors := idx.graph.SearchEf(q, k, ef)
		hits := make([]Hit, len(neighbors))
		for i, n := range neighbors {
			hits[i] = Hit{RowIndex: n.Row, Score: n.Score}
		}
		return hits, nil
	}

	hits := make([]Hit, len(idx.vectors))
	for i, v := range idx.vectors {
		hits[i] = Hit{RowIndex: i, Score: dot(q, v)}
	}

	sort.SliceStable(hits, func(a, c int) bool {
		if hits[a].Score != hits[c].Score {
			return hits[a].Score > hits[c].Score
		}
		return hits[a].RowIndex < hits[c].RowIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
