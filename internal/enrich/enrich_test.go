package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prumolabs/prumo/internal/llm"
)

type fakeSearcher struct {
	name     string
	snippets []string
	err      error
	calls    int
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]string, error) {
	f.calls++
	return f.snippets, f.err
}

func (f *fakeSearcher) Name() string { return f.name }

type fakeProvider struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeProvider) Complete(_ context.Context, prompt string, _ llm.CompletionOpts) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake/test" }

func TestEnrichFirstBackendWins(t *testing.T) {
	first := &fakeSearcher{name: "first", snippets: []string{"tubo corrugado dreno perfurado"}}
	second := &fakeSearcher{name: "second", snippets: []string{"should not be used"}}
	provider := &fakeProvider{response: "tubo, corrugado, dreno, pvc, perfurado"}

	e := New([]Searcher{first, second}, provider, nil)
	got := e.Enrich(context.Background(), "tubo para drenagem")
	if got != "tubo, corrugado, dreno, pvc, perfurado" {
		t.Errorf("Enrich = %q", got)
	}
	if second.calls != 0 {
		t.Error("second backend should not be called when first succeeds")
	}
	if !strings.Contains(provider.prompts[0], "tubo corrugado dreno perfurado") {
		t.Error("prompt should contain the retrieved snippet")
	}
}

func TestEnrichFallsThroughOnError(t *testing.T) {
	first := &fakeSearcher{name: "first", err: errors.New("quota exceeded")}
	second := &fakeSearcher{name: "second", snippets: []string{"manta asfaltica impermeabilizacao"}}
	provider := &fakeProvider{response: "manta, asfaltica, impermeabilizacao"}

	e := New([]Searcher{first, second}, provider, nil)
	got := e.Enrich(context.Background(), "impermeabilizar laje")
	if got != "manta, asfaltica, impermeabilizacao" {
		t.Errorf("Enrich = %q", got)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", first.calls, second.calls)
	}
}

func TestEnrichAllBackendsFail(t *testing.T) {
	first := &fakeSearcher{name: "first", err: errors.New("down")}
	second := &fakeSearcher{name: "second", err: errors.New("down")}
	provider := &fakeProvider{response: "unused"}

	e := New([]Searcher{first, second}, provider, nil)
	if got := e.Enrich(context.Background(), "qualquer coisa"); got != "" {
		t.Errorf("Enrich = %q, want empty when every backend fails", got)
	}
	if len(provider.prompts) != 0 {
		t.Error("extractor must not run without snippets")
	}
}

func TestEnrichExtractorFailure(t *testing.T) {
	s := &fakeSearcher{name: "s", snippets: []string{"snippet"}}
	provider := &fakeProvider{err: errors.New("timeout")}

	e := New([]Searcher{s}, provider, nil)
	if got := e.Enrich(context.Background(), "q"); got != "" {
		t.Errorf("Enrich = %q, want empty on extractor failure", got)
	}
}

func TestBraveSearcherParsesSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk-test" {
			t.Errorf("missing subscription token header")
		}
		w.Write([]byte(`{"web": {"results": [
			{"description": "primeiro resultado"},
			{"description": ""},
			{"description": "segundo resultado"},
			{"description": "terceiro resultado"},
			{"description": "quarto resultado"}
		]}}`))
	}))
	defer srv.Close()

	b := NewBraveSearcher("bk-test", 0)
	b.baseURL = srv.URL

	got, err := b.Search(context.Background(), "concreto usinado")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	want := []string{"primeiro resultado", "segundo resultado", "terceiro resultado"}
	if len(got) != len(want) {
		t.Fatalf("got %d snippets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snippet[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBraveSearcherBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Write([]byte(`{"web": {"results": []}}`))
	}))
	defer srv.Close()

	b := NewBraveSearcher("bk-test", 2)
	b.baseURL = srv.URL

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := b.Search(ctx, "q"); err != nil {
			t.Fatalf("Search %d error: %v", i, err)
		}
	}
	if _, err := b.Search(ctx, "q"); err == nil {
		t.Fatal("expected budget-exhausted error on third call")
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
	if b.Used() != 2 {
		t.Errorf("Used() = %d, want 2", b.Used())
	}
}

func TestBraveSearcherNoKey(t *testing.T) {
	b := NewBraveSearcher("", 0)
	if _, err := b.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestSerpSearcherParsesSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "sk-test" {
			t.Errorf("missing api_key param")
		}
		w.Write([]byte(`{"organic_results": [
			{"snippet": "resultado organico um"},
			{"snippet": "resultado organico dois"}
		]}`))
	}))
	defer srv.Close()

	s := NewSerpSearcher("sk-test", 0)
	s.baseURL = srv.URL

	got, err := s.Search(context.Background(), "alvenaria estrutural")
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 || got[0] != "resultado organico um" {
		t.Errorf("got %v", got)
	}
}

func TestSerpSearcherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSerpSearcher("sk-test", 0)
	s.baseURL = srv.URL

	if _, err := s.Search(context.Background(), "q"); err == nil {
		t.Fatal("expected error on HTTP 429")
	}
}
