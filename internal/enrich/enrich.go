// Package enrich augments low-confidence queries with web context: it
// fetches search snippets from external search APIs, then distills them
// into extra technical keywords with an LLM. All failures degrade to an
// empty enrichment so the pipeline can still answer from catalog data.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prumolabs/prumo/internal/llm"
)

const (
	snippetCount = 3
	httpTimeout  = 15 * time.Second
)

// Searcher fetches web snippets for a query.
type Searcher interface {
	// Search returns up to snippetCount result snippets, or an error
	// when the backend is unavailable or over budget.
	Search(ctx context.Context, query string) ([]string, error)
	Name() string
}

// Enricher turns a query into supplemental keywords using a chain of
// search backends and an LLM extractor.
type Enricher struct {
	searchers []Searcher
	provider  llm.Provider
	logger    *slog.Logger
}

// New creates an Enricher. Searchers are tried in order; the first one
// returning non-empty snippets wins.
func New(searchers []Searcher, provider llm.Provider, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{searchers: searchers, provider: provider, logger: logger}
}

// Enrich returns comma-separated supplemental keywords for the query,
// or empty when every backend fails or the extractor cannot run.
func (e *Enricher) Enrich(ctx context.Context, query string) string {
	var snippets []string
	for _, s := range e.searchers {
		got, err := s.Search(ctx, query)
		if err != nil {
			e.logger.Warn("web search backend failed", "backend", s.Name(), "error", err)
			continue
		}
		if len(got) > 0 {
			snippets = got
			e.logger.Debug("web snippets retrieved", "backend", s.Name(), "count", len(got))
			break
		}
	}
	if len(snippets) == 0 {
		e.logger.Warn("all web search backends failed or exhausted", "query", query)
		return ""
	}
	return e.extractKeywords(ctx, query, snippets)
}

func (e *Enricher) extractKeywords(ctx context.Context, query string, snippets []string) string {
	if e.provider == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A consulta original do usuário foi: %q.\n", query)
	b.WriteString("O seguinte texto foi recuperado de uma busca na internet:\n---\n")
	b.WriteString(strings.Join(snippets, "\n"))
	b.WriteString("\n---\n")
	b.WriteString("Com base no texto acima, extraia 5 a 7 palavras-chave técnicas ou termos adicionais ")
	b.WriteString("altamente relevantes para a consulta original, que poderiam refinar uma nova busca em um ")
	b.WriteString("banco de dados de construção civil. Retorne apenas as palavras-chave separadas por vírgula.")

	keywords, err := e.provider.Complete(ctx, b.String(), llm.CompletionOpts{
		Temperature: 0.2,
		MaxTokens:   256,
	})
	if err != nil {
		e.logger.Warn("keyword extraction failed", "query", query, "error", err)
		return ""
	}
	return strings.TrimSpace(keywords)
}

// BraveSearcher queries the Brave Search REST API with an in-memory
// monthly usage budget.
type BraveSearcher struct {
	apiKey  string
	baseURL string
	limit   int64
	used    atomic.Int64
	client  *http.Client
}

// NewBraveSearcher creates a Brave backend. limit <= 0 means no budget.
func NewBraveSearcher(apiKey string, limit int64) *BraveSearcher {
	return &BraveSearcher{
		apiKey:  apiKey,
		baseURL: "https://api.search.brave.com/res/v1/web/search",
		limit:   limit,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

func (b *BraveSearcher) Name() string { return "brave" }

// Used reports how many requests this backend has issued.
func (b *BraveSearcher) Used() int64 { return b.used.Load() }

type braveResponse struct {
	Web struct {
		Results []struct {
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *BraveSearcher) Search(ctx context.Context, query string) ([]string, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("brave search: no API key configured")
	}
	if b.limit > 0 && b.used.Load() >= b.limit {
		return nil, fmt.Errorf("brave search: usage budget of %d requests exhausted", b.limit)
	}
	b.used.Add(1)

	u := fmt.Sprintf("%s?q=%s&count=%d", b.baseURL, url.QueryEscape(query), snippetCount)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	snippets := make([]string, 0, snippetCount)
	for _, r := range parsed.Web.Results {
		if r.Description == "" {
			continue
		}
		snippets = append(snippets, r.Description)
		if len(snippets) == snippetCount {
			break
		}
	}
	return snippets, nil
}

// SerpSearcher queries the SerpApi Google engine as a fallback backend.
type SerpSearcher struct {
	apiKey  string
	baseURL string
	limit   int64
	used    atomic.Int64
	client  *http.Client
}

// NewSerpSearcher creates a SerpApi backend. limit <= 0 means no budget.
func NewSerpSearcher(apiKey string, limit int64) *SerpSearcher {
	return &SerpSearcher{
		apiKey:  apiKey,
		baseURL: "https://serpapi.com/search.json",
		limit:   limit,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

func (s *SerpSearcher) Name() string { return "serpapi" }

// Used reports how many requests this backend has issued.
func (s *SerpSearcher) Used() int64 { return s.used.Load() }

type serpResponse struct {
	OrganicResults []struct {
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (s *SerpSearcher) Search(ctx context.Context, query string) ([]string, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("serpapi: no API key configured")
	}
	if s.limit > 0 && s.used.Load() >= s.limit {
		return nil, fmt.Errorf("serpapi: usage budget of %d requests exhausted", s.limit)
	}
	s.used.Add(1)

	u := fmt.Sprintf("%s?engine=google&q=%s&api_key=%s", s.baseURL, url.QueryEscape(query), url.QueryEscape(s.apiKey))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed serpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	snippets := make([]string, 0, snippetCount)
	for _, r := range parsed.OrganicResults {
		if r.Snippet == "" {
			continue
		}
		snippets = append(snippets, r.Snippet)
		if len(snippets) == snippetCount {
			break
		}
	}
	return snippets, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
