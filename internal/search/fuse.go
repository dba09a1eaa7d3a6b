package search

import (
	"log/slog"
	"sort"

	"github.com/prumolabs/prumo/internal/catalog"
	"github.com/prumolabs/prumo/internal/lexical"
	"github.com/prumolabs/prumo/internal/semantic"
)

// rrfOffset is the rank-damping constant in the reciprocal rank
// contribution 1/(rank+60). It keeps the top few ranks from dominating
// the fused score and is a fixed design parameter, not a tunable.
const rrfOffset = 60

// FuseParams configures one fusion pass.
type FuseParams struct {
	Alpha      float64 // semantic weight; lexical side gets 1-alpha
	GroupBoost float64 // multiplier when a row's group matches the prediction
	UnitBoost  float64 // multiplier when a row's unit matches the prediction
	TopK       int
}

// DefaultFuseParams returns the standard fusion parameters.
func DefaultFuseParams() FuseParams {
	return FuseParams{
		Alpha:      0.5,
		GroupBoost: 1.5,
		UnitBoost:  1.2,
	}
}

// fusedEntry accumulates one row's contributions. Entries live in an
// insertion-ordered slice so equal scores resolve to first-seen wins.
type fusedEntry struct {
	rowIndex      int
	score         float64
	semanticScore float64
}

// Fuse combines semantic and lexical hit lists into a single ranking.
//
// Each row's fused score is alpha*1/(semRank+60) + (1-alpha)*1/(lexRank+60)
// with 0-based ranks inside each list; rows present in only one list get
// that list's term alone. Matching group and unit predictions multiply
// the score by their respective boosts, independently. The final order
// is descending score; ties keep union-insertion order (semantic list
// first). Results are truncated to params.TopK and re-ranked 1..N.
//
// Rows whose index falls outside the records slice (a stale index
// against a reloaded catalog) are skipped with a warning rather than
// aborting the ranking.
func Fuse(semHits []semantic.Hit, lexHits []lexical.Hit, pred Prediction,
	records []catalog.Record, params FuseParams, logger *slog.Logger) Response {

	if logger == nil {
		logger = slog.Default()
	}

	order := make([]*fusedEntry, 0, len(semHits)+len(lexHits))
	byRow := make(map[int]*fusedEntry, len(semHits)+len(lexHits))

	accumulate := func(rowIndex int, contribution, semanticScore float64) {
		entry, ok := byRow[rowIndex]
		if !ok {
			entry = &fusedEntry{rowIndex: rowIndex}
			byRow[rowIndex] = entry
			order = append(order, entry)
		}
		entry.score += contribution
		if semanticScore != 0 {
			entry.semanticScore = semanticScore
		}
	}

	for rank, hit := range semHits {
		if hit.RowIndex < 0 || hit.RowIndex >= len(records) {
			logger.Warn("skipping stale semantic hit", "row_index", hit.RowIndex, "corpus_size", len(records))
			continue
		}
		accumulate(hit.RowIndex, params.Alpha*(1.0/float64(rank+rrfOffset)), hit.Score)
	}
	for rank, hit := range lexHits {
		if hit.RowIndex < 0 || hit.RowIndex >= len(records) {
			logger.Warn("skipping stale lexical hit", "row_index", hit.RowIndex, "corpus_size", len(records))
			continue
		}
		accumulate(hit.RowIndex, (1-params.Alpha)*(1.0/float64(rank+rrfOffset)), 0)
	}

	if pred.Group != "" || pred.Unit != "" {
		for _, entry := range order {
			rec := records[entry.rowIndex]
			if pred.Group != "" && rec.Group == pred.Group {
				entry.score *= params.GroupBoost
			}
			if pred.Unit != "" && rec.Unit == pred.Unit {
				entry.score *= params.UnitBoost
			}
		}
	}

	// Stable sort over insertion order: first-seen wins ties.
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].score > order[j].score
	})

	response := Response{Anchor: -1}
	if len(order) == 0 {
		return response
	}

	top := order[0]
	response.Confidence = top.semanticScore
	response.Anchor = records[top.rowIndex].RowIndex

	limit := params.TopK
	if limit <= 0 || limit > len(order) {
		limit = len(order)
	}

	response.Results = make([]Result, 0, limit)
	for _, entry := range order[:limit] {
		rec := records[entry.rowIndex]
		response.Results = append(response.Results, Result{
			Rank:          len(response.Results) + 1,
			Score:         entry.score,
			SemanticScore: entry.semanticScore,
			Code:          rec.Code,
			Description:   rec.Description,
			Price:         rec.Price,
			Unit:          rec.Unit,
			Source:        rec.Source,
		})
	}
	return response
}

// MergeByCode appends extra candidates to the pool, skipping codes
// already present. Existing entries are never displaced or re-scored;
// ranks are reassigned contiguously afterwards.
func MergeByCode(pool, extra []Result) []Result {
	seen := make(map[string]bool, len(pool))
	for _, r := range pool {
		seen[r.Code] = true
	}
	for _, r := range extra {
		if seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		pool = append(pool, r)
	}
	for i := range pool {
		pool[i].Rank = i + 1
	}
	return pool
}
