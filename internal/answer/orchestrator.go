// Package answer orchestrates the full query pipeline: classify,
// retrieve, check confidence, and escalate through keyword refinement,
// neighborhood expansion and web enrichment until the result is good
// enough or every escalation is exhausted. External capabilities are
// optional; each failure degrades to the previous stage's best pool.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prumolabs/prumo/internal/reason"
	"github.com/prumolabs/prumo/internal/resilience"
	"github.com/prumolabs/prumo/internal/search"
)

// ErrNoCandidates is returned when the full pipeline produced nothing.
var ErrNoCandidates = errors.New("no candidates found for query")

// ErrQueryTooShort is returned for queries under the minimum length.
var ErrQueryTooShort = errors.New("query must be at least 3 characters")

const (
	minQueryLen           = 3
	minTopK               = 1
	maxTopK               = 10
	defaultTopK           = 3
	defaultNeighborRadius = 2
)

// Status tells how much the pipeline trusts the answer.
type Status string

const (
	// StatusOk means the confidence gate passed or the reasoner
	// endorsed a candidate.
	StatusOk Status = "ok"
	// StatusLowConfidence means every escalation ran and the best
	// available pool is returned without endorsement.
	StatusLowConfidence Status = "low_confidence"
	// StatusEmpty means no candidates survived; paired with
	// ErrNoCandidates.
	StatusEmpty Status = "empty"
)

// Classifier predicts categorical attributes for a query.
type Classifier interface {
	Classify(ctx context.Context, query string) search.Prediction
}

// Reasoner evaluates a candidate pool.
type Reasoner interface {
	Evaluate(ctx context.Context, query string, candidates []search.Result) (reason.Decision, error)
}

// Enricher produces auxiliary keywords from web context.
type Enricher interface {
	Enrich(ctx context.Context, query string) string
}

// Request is one query.
type Request struct {
	Query string
	TopK  int
}

// Answer is the pipeline outcome.
type Answer struct {
	Results    []search.Result `json:"results"`
	Status     Status          `json:"status"`
	Confidence float64         `json:"confidence"`
	// Rationale is the reasoning trail accumulated across stages.
	Rationale string `json:"detailed_reasoning,omitempty"`
	// Escalations counts how many escalation stages ran (0-2).
	Escalations int `json:"escalations"`
}

// Health reports per-dependency readiness.
type Health struct {
	Catalog    bool `json:"catalog"`
	Indexes    bool `json:"indexes"`
	Classifier bool `json:"classifier"`
	Reasoner   bool `json:"reasoner"`
	Researcher bool `json:"researcher"`
	Healthy    bool `json:"healthy"`
}

// Config assembles an Orchestrator.
type Config struct {
	Engine     *search.Engine
	Classifier Classifier
	Reasoner   Reasoner
	Enricher   Enricher
	Executor   *resilience.Executor

	// PrimaryThreshold gates the first retrieval; zero means 0.7.
	PrimaryThreshold float64
	// SecondaryThreshold gates the refined retrieval; zero means 0.6.
	SecondaryThreshold float64
	// NeighborRadius is how many storage-order rows are pulled on each
	// side of an anchor when padding; zero means 2.
	NeighborRadius int
	// SearchTimeout bounds one Answer call end to end; zero means no
	// deadline beyond the caller's context.
	SearchTimeout time.Duration

	Logger *slog.Logger
}

// Orchestrator runs the retrieval pipeline.
type Orchestrator struct {
	engine     *search.Engine
	classifier Classifier
	reasoner   Reasoner
	enricher   Enricher
	executor   *resilience.Executor

	primary   float64
	secondary float64
	radius    int
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates an Orchestrator. Engine is required; the LLM and web
// capabilities may be nil, in which case their stages degrade.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("answer: search engine is required")
	}
	if cfg.PrimaryThreshold == 0 {
		cfg.PrimaryThreshold = 0.7
	}
	if cfg.SecondaryThreshold == 0 {
		cfg.SecondaryThreshold = 0.6
	}
	if cfg.NeighborRadius <= 0 {
		cfg.NeighborRadius = defaultNeighborRadius
	}
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewExecutor(resilience.DefaultPolicy(), cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		engine:     cfg.Engine,
		classifier: cfg.Classifier,
		reasoner:   cfg.Reasoner,
		enricher:   cfg.Enricher,
		executor:   cfg.Executor,
		primary:    cfg.PrimaryThreshold,
		secondary:  cfg.SecondaryThreshold,
		radius:     cfg.NeighborRadius,
		timeout:    cfg.SearchTimeout,
		logger:     cfg.Logger,
	}, nil
}

// Answer runs the full pipeline for one request.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Answer, error) {
	query := strings.TrimSpace(req.Query)
	if utf8.RuneCountInString(query) < minQueryLen {
		return Answer{Status: StatusEmpty}, ErrQueryTooShort
	}
	topK := clampTopK(req.TopK)

	if !o.engine.Ready() {
		return Answer{Status: StatusEmpty}, search.ErrNotReady
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var trail strings.Builder

	// Stage 1: classify + hybrid retrieval over an oversampled pool.
	pred := o.classify(ctx, query)
	poolSize := min(topK*2, maxTopK)

	resp, err := o.engine.Search(ctx, query, search.Options{TopK: poolSize, Prediction: pred})
	if err != nil {
		return Answer{Status: StatusEmpty}, fmt.Errorf("initial retrieval: %w", err)
	}
	pool := resp.Results
	confidence := resp.Confidence
	anchor := resp.Anchor
	fmt.Fprintf(&trail, "busca inicial: %d candidatos, confiança %.3f\n", len(pool), confidence)

	if len(pool) > 0 && confidence >= o.primary {
		o.logger.Debug("confidence gate passed", "query", query, "confidence", confidence)
		return o.finalize(Answer{
			Results:    pool,
			Status:     StatusOk,
			Confidence: confidence,
			Rationale:  trail.String(),
		}, topK, anchor)
	}

	// Stage 2: reasoning over the pool; rejection yields refined
	// keywords for a second retrieval merged into the pool, plus
	// neighborhood expansion around the new anchor.
	decision := o.reason(ctx, query, pool)
	if decision.Rationale != "" {
		fmt.Fprintf(&trail, "raciocínio: %s\n", decision.Rationale)
	}
	if decision.Accepted() {
		return o.finalize(Answer{
			Results:     promote(pool, decision.ChosenCode),
			Status:      StatusOk,
			Confidence:  confidence,
			Rationale:   trail.String(),
			Escalations: 1,
		}, topK, anchor)
	}

	if kw := decision.RefinedKeywords; kw != "" && kw != query {
		resp2, err := o.engine.Search(ctx, kw, search.Options{TopK: poolSize, Prediction: pred})
		if err != nil {
			o.logger.Warn("refined retrieval failed, keeping initial pool", "error", err)
		} else {
			fmt.Fprintf(&trail, "segunda busca com palavras-chave refinadas %q: %d candidatos, confiança %.3f\n",
				kw, len(resp2.Results), resp2.Confidence)
			pool = search.MergeByCode(pool, resp2.Results)
			if resp2.Anchor >= 0 {
				anchor = resp2.Anchor
				pool = search.MergeByCode(pool, o.engine.Neighbors(resp2.Anchor, o.radius))
			}
			if resp2.Confidence > confidence {
				confidence = resp2.Confidence
			}
			if confidence >= o.secondary {
				return o.finalize(Answer{
					Results:     pool,
					Status:      StatusOk,
					Confidence:  confidence,
					Rationale:   trail.String(),
					Escalations: 1,
				}, topK, anchor)
			}
		}
	}

	// Stage 3: web enrichment, terminal escalation. The enriched query
	// is re-classified and re-retrieved; the final reasoning pass over
	// the merged pool decides the endorsement. The stage counts as an
	// escalation only when enrichment actually produced keywords.
	escalations := 1
	if keywords := o.enrich(ctx, query); keywords != "" {
		escalations = 2
		enriched := query + " " + keywords
		fmt.Fprintf(&trail, "enriquecimento web: %q\n", keywords)
		pred3 := o.classify(ctx, enriched)
		resp3, err := o.engine.Search(ctx, enriched, search.Options{TopK: poolSize, Prediction: pred3})
		if err != nil {
			o.logger.Warn("enriched retrieval failed, keeping pool", "error", err)
		} else {
			pool = search.MergeByCode(pool, resp3.Results)
			if resp3.Confidence > confidence {
				confidence = resp3.Confidence
			}
			if resp3.Anchor >= 0 {
				anchor = resp3.Anchor
			}
		}
	}

	if len(pool) == 0 {
		return Answer{Status: StatusEmpty, Rationale: trail.String()}, ErrNoCandidates
	}

	final := o.reason(ctx, query, pool)
	if final.Rationale != "" {
		fmt.Fprintf(&trail, "raciocínio final: %s\n", final.Rationale)
	}
	status := StatusLowConfidence
	if final.Accepted() {
		status = StatusOk
		pool = promote(pool, final.ChosenCode)
	}

	return o.finalize(Answer{
		Results:     pool,
		Status:      status,
		Confidence:  confidence,
		Rationale:   trail.String(),
		Escalations: escalations,
	}, topK, anchor)
}

// CheckHealth reports which pipeline dependencies are wired and ready.
func (o *Orchestrator) CheckHealth() Health {
	h := Health{
		Catalog:    o.engine.Size() > 0,
		Indexes:    o.engine.Ready(),
		Classifier: o.classifier != nil,
		Reasoner:   o.reasoner != nil,
		Researcher: o.enricher != nil,
	}
	h.Healthy = h.Catalog && h.Indexes && h.Classifier && h.Reasoner && h.Researcher
	return h
}

func (o *Orchestrator) classify(ctx context.Context, query string) search.Prediction {
	if o.classifier == nil {
		return search.Prediction{}
	}
	return o.classifier.Classify(ctx, query)
}

func (o *Orchestrator) reason(ctx context.Context, query string, pool []search.Result) reason.Decision {
	if o.reasoner == nil {
		return reason.Decision{RefinedKeywords: ""}
	}
	var decision reason.Decision
	err := o.executor.Execute(ctx, "reason", func(ctx context.Context) error {
		var err error
		decision, err = o.reasoner.Evaluate(ctx, query, pool)
		return err
	}, resilience.ExternalCall)
	if err != nil {
		o.logger.Warn("reasoning stage unavailable", "error", err)
		return reason.Decision{}
	}
	return decision
}

func (o *Orchestrator) enrich(ctx context.Context, query string) string {
	if o.enricher == nil {
		return ""
	}
	return o.enricher.Enrich(ctx, query)
}

// finalize pads the pool with neighbors when short, truncates to the
// requested size and re-ranks 1..N.
func (o *Orchestrator) finalize(a Answer, topK, anchor int) (Answer, error) {
	if len(a.Results) == 0 {
		a.Status = StatusEmpty
		return a, ErrNoCandidates
	}
	if len(a.Results) < topK && anchor >= 0 {
		a.Results = search.MergeByCode(a.Results, o.engine.Neighbors(anchor, o.radius))
	}
	if len(a.Results) > topK {
		a.Results = a.Results[:topK]
	}
	for i := range a.Results {
		a.Results[i].Rank = i + 1
	}
	return a, nil
}

// promote moves the result with the given code to the front, keeping
// the relative order of the rest. Unknown codes leave the pool as is.
func promote(pool []search.Result, code string) []search.Result {
	for i, r := range pool {
		if r.Code == code {
			out := make([]search.Result, 0, len(pool))
			out = append(out, pool[i])
			out = append(out, pool[:i]...)
			out = append(out, pool[i+1:]...)
			return out
		}
	}
	return pool
}

func clampTopK(k int) int {
	switch {
	case k == 0:
		return defaultTopK
	case k < minTopK:
		return minTopK
	case k > maxTopK:
		return maxTopK
	}
	return k
}
