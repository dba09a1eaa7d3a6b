package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/prumolabs/prumo/internal/catalog"
	"github.com/prumolabs/prumo/internal/lexical"
	"github.com/prumolabs/prumo/internal/normalize"
	"github.com/prumolabs/prumo/internal/semantic"
)

// oversampleWindow is how many candidates each retrieval side
// contributes to fusion, regardless of the caller's requested size.
const oversampleWindow = 100

// generation is one immutable build of the corpus and both indexes.
// Both indexes are built over the same row ordering, so index position
// and RowIndex are the same bijection for the generation's lifetime.
type generation struct {
	records []catalog.Record
	lex     *lexical.Index
	sem     *semantic.Index
}

// Engine serves hybrid retrieval over the current index generation.
// Rebuild swaps generations atomically; in-flight queries keep the one
// they started with, so a rebuild never exposes partially built state.
type Engine struct {
	gen      atomic.Pointer[generation]
	embedder semantic.Embedder
	cacheDir string
	params   FuseParams
	logger   *slog.Logger
}

// EngineConfig configures a search engine.
type EngineConfig struct {
	Embedder semantic.Embedder
	CacheDir string     // embedding cache location; empty disables caching
	Params   FuseParams // zero value takes defaults
	Logger   *slog.Logger
}

// NewEngine creates an engine with no generation loaded. Callers must
// Rebuild before searching.
func NewEngine(cfg EngineConfig) *Engine {
	params := cfg.Params
	if params.Alpha == 0 {
		params.Alpha = DefaultFuseParams().Alpha
	}
	if params.GroupBoost == 0 {
		params.GroupBoost = DefaultFuseParams().GroupBoost
	}
	if params.UnitBoost == 0 {
		params.UnitBoost = DefaultFuseParams().UnitBoost
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: cfg.Embedder,
		cacheDir: cfg.CacheDir,
		params:   params,
		logger:   logger,
	}
}

// Ready reports whether an index generation is loaded.
func (e *Engine) Ready() bool {
	return e.gen.Load() != nil
}

// Size returns the number of records in the current generation.
func (e *Engine) Size() int {
	gen := e.gen.Load()
	if gen == nil {
		return 0
	}
	return len(gen.records)
}

// Rebuild constructs a fresh generation over records and swaps it in.
// Corpus embeddings come from the on-disk cache when the (model,
// corpus) identity matches; force bypasses the cache. The cache file is
// rewritten wholesale after recomputation, never partially updated.
func (e *Engine) Rebuild(ctx context.Context, records []catalog.Record, force bool) error {
	if len(records) == 0 {
		return fmt.Errorf("rebuild requires a non-empty catalog")
	}
	if e.embedder == nil {
		return fmt.Errorf("rebuild requires an embedder")
	}

	docs := make([]string, len(records))
	for i, r := range records {
		docs[i] = r.Normalized
	}

	lexIdx := lexical.Build(docs)

	corpusHash := catalog.Hash(records)
	semIdx, err := e.buildSemanticIndex(ctx, docs, corpusHash, force)
	if err != nil {
		return fmt.Errorf("building semantic index: %w", err)
	}

	e.gen.Store(&generation{records: records, lex: lexIdx, sem: semIdx})
	e.logger.Info("index generation swapped",
		"records", len(records),
		"dimensions", semIdx.Dimensions(),
		"forced", force)
	return nil
}

func (e *Engine) buildSemanticIndex(ctx context.Context, docs []string, corpusHash string, force bool) (*semantic.Index, error) {
	var cachePath string
	if e.cacheDir != "" {
		cachePath = semantic.CachePath(e.cacheDir, e.embedder.ModelID(), corpusHash)
	}

	if cachePath != "" && !force {
		if _, err := os.Stat(cachePath); err == nil {
			idx, err := semantic.LoadCache(cachePath, e.embedder.ModelID(), corpusHash)
			if err == nil {
				if idx.Len() == len(docs) {
					e.logger.Info("embedding cache hit", "path", cachePath, "rows", idx.Len())
					return idx, nil
				}
				err = fmt.Errorf("cached rows %d != corpus rows %d", idx.Len(), len(docs))
			}
			// Corrupt or mismatched cache degrades to recomputation.
			e.logger.Warn("embedding cache unusable, recomputing", "path", cachePath, "error", err)
		}
	}

	idx, err := semantic.BuildIndex(ctx, e.embedder, docs)
	if err != nil {
		return nil, err
	}

	if cachePath != "" {
		if err := semantic.SaveCache(cachePath, e.embedder.ModelID(), corpusHash, idx); err != nil {
			e.logger.Warn("saving embedding cache failed", "path", cachePath, "error", err)
		}
	}
	return idx, nil
}

// Options tunes one Search call.
type Options struct {
	TopK       int
	Prediction Prediction
	// Alpha overrides the engine's semantic weight when non-zero.
	Alpha float64
}

// Search runs the hybrid retrieval: normalize the query, collect the
// lexical and semantic oversample windows concurrently, and fuse them.
//
// A failed query embedding degrades to lexical-only retrieval with zero
// confidence (which routes the orchestrator into escalation) rather
// than failing the request. ErrNotReady is returned when no generation
// has been built.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (Response, error) {
	gen := e.gen.Load()
	if gen == nil {
		return Response{}, ErrNotReady
	}

	normalized := normalize.Normalize(query)
	if normalized == "" {
		return Response{Anchor: -1}, nil
	}

	var (
		lexHits []lexical.Hit
		semHits []semantic.Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexHits = gen.lex.TopK(normalize.Tokens(normalized), oversampleWindow)
		return nil
	})
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, normalized)
		if err != nil {
			e.logger.Warn("query embedding failed, degrading to lexical-only", "error", err)
			return nil
		}
		hits, err := gen.sem.TopK(vec, oversampleWindow)
		if err != nil {
			e.logger.Warn("semantic lookup failed, degrading to lexical-only", "error", err)
			return nil
		}
		semHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return Response{}, err
	}

	params := e.params
	if opts.Alpha != 0 {
		params.Alpha = opts.Alpha
	}
	params.TopK = opts.TopK

	return Fuse(semHits, lexHits, opts.Prediction, gen.records, params, e.logger), nil
}

// Neighbors returns supplementary candidates around an anchor row, in
// storage order, carrying the fixed low neighbor rank and score. The
// anchor refers to the current generation; a stale anchor yields nil.
func (e *Engine) Neighbors(anchor, radius int) []Result {
	gen := e.gen.Load()
	if gen == nil {
		return nil
	}

	neighbors := catalog.Neighborhood(gen.records, anchor, radius)
	out := make([]Result, 0, len(neighbors))
	for _, rec := range neighbors {
		out = append(out, Result{
			Rank:        NeighborRank,
			Score:       NeighborScore,
			Code:        rec.Code,
			Description: rec.Description,
			Price:       rec.Price,
			Unit:        rec.Unit,
			Source:      rec.Source,
		})
	}
	return out
}
