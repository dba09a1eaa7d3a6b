// Package search is the hybrid retrieval core: it fuses BM25 keyword
// ranking and dense semantic similarity with reciprocal rank fusion,
// applies classifier-driven boosts, and serves ranked catalog
// candidates from an immutable index generation.
package search

import "errors"

// ErrNotReady is returned when no index generation has been built yet.
// Surfaced to callers as service-unavailable.
var ErrNotReady = errors.New("search engine not ready: indexes not built")

// Result is one ranked candidate. Ranks are contiguous 1..N within a
// returned list.
type Result struct {
	Rank          int     `json:"rank"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	Code          string  `json:"code"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	Unit          string  `json:"unit"`
	Source        string  `json:"source"`
}

// Prediction carries classifier hints used for score boosting. Zero
// values mean "no prediction": no boost is applied.
type Prediction struct {
	Group string
	Unit  string
}

// Response is the outcome of one retrieval pass.
type Response struct {
	Results []Result
	// Confidence is the semantic-only similarity of the top fused
	// candidate. It gates escalation in the orchestrator.
	Confidence float64
	// Anchor is the catalog row index of the top fused candidate,
	// -1 when the result set is empty. Origin for neighborhood
	// expansion.
	Anchor int
}

// Neighbor placement constants: neighborhood candidates enter the pool
// at a fixed low rank and score so they never displace retrieval hits.
const (
	NeighborRank  = 999
	NeighborScore = 0.1
)
