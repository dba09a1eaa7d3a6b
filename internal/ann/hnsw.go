// Package ann implements approximate nearest neighbor search over
// catalog embeddings using HNSW (Hierarchical Navigable Small World
// graphs), following Malkov & Yashunin (2018),
// https://arxiv.org/abs/1603.09320.
//
// Pure Go, no CGO. Below a few thousand rows brute-force cosine scans
// are fast enough; HNSW keeps query time logarithmic when a price
// catalog grows past that.
package ann

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Tuning defaults. M is the max connections per layer, efConstruction
// the build-time beam width, efSearch the query-time beam width.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// Neighbor is one approximate match: the corpus row and its cosine
// similarity to the query.
type Neighbor struct {
	Row   int
	Score float64
}

// Graph is an in-memory HNSW index keyed by corpus row. Rows are
// inserted once at build time; queries are safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	nodes      []node
	entryPoint int // -1 while empty
	maxLevel   int
	dims       int

	m              int
	mmax0          int
	efConstruction int
	efSearch       int
	levelMult      float64

	rng *rand.Rand
}

type node struct {
	row     int
	vector  []float32
	friends [][]int // friends[layer] = neighbor node indices
	level   int
}

type candidate struct {
	idx  int
	dist float32
}

// New creates an empty graph for vectors of the given dimensionality.
func New(dims int) *Graph {
	return NewWithParams(dims, DefaultM, DefaultEfConstruction, DefaultEfSearch)
}

// NewWithParams creates a graph with custom HNSW parameters.
func NewWithParams(dims, m, efConstruction, efSearch int) *Graph {
	if m < 2 {
		m = 2
	}
	return &Graph{
		dims:           dims,
		m:              m,
		mmax0:          2 * m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		levelMult:      1.0 / math.Log(float64(m)),
		entryPoint:     -1,
		maxLevel:       -1,
		// Fixed seed keeps graph layout, and therefore results,
		// reproducible across rebuilds of the same corpus.
		rng: rand.New(rand.NewSource(42)),
	}
}

// Build constructs a graph from a corpus matrix. Row i of vectors
// becomes row i of the graph.
func Build(vectors [][]float32) *Graph {
	if len(vectors) == 0 {
		return New(0)
	}
	g := New(len(vectors[0]))
	for row, v := range vectors {
		g.insert(row, v)
	}
	return g
}

// Len returns the number of indexed rows.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) insert(row int, vector []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodeIdx := len(g.nodes)
	level := g.randomLevel()

	g.nodes = append(g.nodes, node{
		row:     row,
		vector:  vector,
		friends: make([][]int, level+1),
		level:   level,
	})

	if g.entryPoint == -1 {
		g.entryPoint = nodeIdx
		g.maxLevel = level
		return
	}

	// Greedy descent through layers above the new node's level.
	ep := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyClosest(vector, ep, l)
	}

	topLayer := level
	if topLayer > g.maxLevel {
		topLayer = g.maxLevel
	}

	for l := topLayer; l >= 0; l-- {
		candidates := g.searchLayer(vector, ep, g.efConstruction, l)

		maxConn := g.m
		if l == 0 {
			maxConn = g.mmax0
		}
		neighbors := selectClosest(candidates, maxConn)
		g.nodes[nodeIdx].friends[l] = neighbors

		for _, neighborIdx := range neighbors {
			g.nodes[neighborIdx].friends[l] = append(g.nodes[neighborIdx].friends[l], nodeIdx)
			if len(g.nodes[neighborIdx].friends[l]) > maxConn {
				g.nodes[neighborIdx].friends[l] = g.shrinkNeighbors(
					neighborIdx, g.nodes[neighborIdx].friends[l], maxConn,
				)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > g.maxLevel {
		g.entryPoint = nodeIdx
		g.maxLevel = level
	}
}

// Search returns up to k approximate nearest rows, most similar first.
func (g *Graph) Search(query []float32, k int) []Neighbor {
	return g.SearchEf(query, k, g.efSearch)
}

// SearchEf searches with an explicit beam width. Higher ef improves
// recall at the cost of latency; ef is raised to k when smaller.
func (g *Graph) SearchEf(query []float32, k, ef int) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 || g.entryPoint == -1 || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k
	}

	ep := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(query, ep, l)
	}

	candidates := g.searchLayer(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Neighbor, len(candidates))
	for i, c := range candidates {
		out[i] = Neighbor{
			Row:   g.nodes[c.idx].row,
			Score: 1 - float64(c.dist),
		}
	}
	return out
}

// randomLevel draws a layer from the geometric distribution.
func (g *Graph) randomLevel() int {
	r := g.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * g.levelMult))
}

// greedyClosest walks a single layer toward the query until no friend
// improves the distance.
func (g *Graph) greedyClosest(query []float32, ep, layer int) int {
	dist := cosineDistance(query, g.nodes[ep].vector)
	for {
		improved := false
		if layer < len(g.nodes[ep].friends) {
			for _, friendIdx := range g.nodes[ep].friends[layer] {
				friendDist := cosineDistance(query, g.nodes[friendIdx].vector)
				if friendDist < dist {
					ep = friendIdx
					dist = friendDist
					improved = true
				}
			}
		}
		if !improved {
			return ep
		}
	}
}

// searchLayer runs beam search on one layer and returns up to ef
// candidates sorted ascending by distance.
func (g *Graph) searchLayer(query []float32, ep, ef, layer int) []candidate {
	visited := map[int]bool{ep: true}

	epDist := cosineDistance(query, g.nodes[ep].vector)
	candidates := []candidate{{idx: ep, dist: epDist}}
	results := []candidate{{idx: ep, dist: epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		farthest := results[len(results)-1]
		if closest.dist > farthest.dist && len(results) >= ef {
			break
		}

		if layer >= len(g.nodes[closest.idx].friends) {
			continue
		}
		for _, neighborIdx := range g.nodes[closest.idx].friends[layer] {
			if visited[neighborIdx] {
				continue
			}
			visited[neighborIdx] = true

			neighborDist := cosineDistance(query, g.nodes[neighborIdx].vector)
			if neighborDist < results[len(results)-1].dist || len(results) < ef {
				candidates = insertSorted(candidates, candidate{idx: neighborIdx, dist: neighborDist})
				results = insertSorted(results, candidate{idx: neighborIdx, dist: neighborDist})
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}
	return results
}

func selectClosest(candidates []candidate, maxConn int) []int {
	n := len(candidates)
	if n > maxConn {
		n = maxConn
	}
	neighbors := make([]int, n)
	for i := 0; i < n; i++ {
		neighbors[i] = candidates[i].idx
	}
	return neighbors
}

// shrinkNeighbors prunes a friend list to maxConn, keeping the closest.
func (g *Graph) shrinkNeighbors(nodeIdx int, neighbors []int, maxConn int) []int {
	if len(neighbors) <= maxConn {
		return neighbors
	}
	vec := g.nodes[nodeIdx].vector
	sort.Slice(neighbors, func(i, j int) bool {
		return cosineDistance(vec, g.nodes[neighbors[i]].vector) <
			cosineDistance(vec, g.nodes[neighbors[j]].vector)
	})
	return neighbors[:maxConn]
}

// insertSorted inserts into a slice kept ascending by distance.
func insertSorted(s []candidate, c candidate) []candidate {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, candidate{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

// cosineDistance returns 1 - cosine similarity; lower is more similar.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
