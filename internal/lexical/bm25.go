// Package lexical implements BM25 (Okapi) keyword ranking over the
// normalized catalog corpus.
//
// The index is built once from the corpus at load time and immutable
// thereafter; it is safe for concurrent reads. Tokens are whitespace
// splits of already-normalized text, so the lexical and semantic sides
// always observe the same vocabulary.
package lexical

import (
	"math"
	"sort"
	"strings"
)

// BM25 parameters, standard Okapi values. Terms present in every
// document keep a small floor IDF instead of dropping to zero.
const (
	k1      = 1.2
	b       = 0.75
	epsilon = 0.25
)

// Hit is one scored corpus row.
type Hit struct {
	RowIndex int
	Score    float64
}

// Index is an immutable BM25 index over the corpus.
type Index struct {
	termFrequencies []map[string]int
	docLengths      []int
	avgDocLength    float64
	idf             map[string]float64
	size            int
}

// Build constructs the index from normalized documents, one per corpus
// row in storage order. Position i in docs corresponds to RowIndex i.
func Build(docs []string) *Index {
	idx := &Index{
		termFrequencies: make([]map[string]int, len(docs)),
		docLengths:      make([]int, len(docs)),
		idf:             make(map[string]float64),
		size:            len(docs),
	}

	docFrequency := make(map[string]int)
	var totalLength int

	for i, doc := range docs {
		tokens := strings.Fields(doc)
		idx.docLengths[i] = len(tokens)
		totalLength += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for term := range tf {
			docFrequency[term]++
		}
		idx.termFrequencies[i] = tf
	}

	if len(docs) > 0 {
		idx.avgDocLength = float64(totalLength) / float64(len(docs))
	}

	n := float64(len(docs))
	for term, df := range docFrequency {
		idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if idf < epsilon {
			idf = epsilon
		}
		idx.idf[term] = idf
	}

	return idx
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	return idx.size
}

// Score computes the BM25 score of every document for the query tokens.
// The returned slice is indexed by RowIndex.
func (idx *Index) Score(queryTokens []string) []float64 {
	scores := make([]float64, idx.size)
	if idx.avgDocLength == 0 {
		return scores
	}

	for _, term := range queryTokens {
		termIDF, ok := idx.idf[term]
		if !ok {
			continue
		}
		for i, tf := range idx.termFrequencies {
			freq := float64(tf[term])
			if freq == 0 {
				continue
			}
			norm := 1 - b + b*float64(idx.docLengths[i])/idx.avgDocLength
			scores[i] += termIDF * freq * (k1 + 1) / (freq + k1*norm)
		}
	}
	return scores
}

// TopK returns the k best rows for the query, descending by score with
// ties broken by ascending row index. Rows that scored zero are omitted.
// Identical corpus and query always produce identical ordering.
func (idx *Index) TopK(queryTokens []string, k int) []Hit {
	if k <= 0 || idx.size == 0 {
		return nil
	}

	scores := idx.Score(queryTokens)
	hits := make([]Hit, 0, idx.size)
	for i, s := range scores {
		if s > 0 {
			hits = append(hits, Hit{RowIndex: i, Score: s})
		}
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
	return hits
}
