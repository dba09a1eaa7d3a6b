// Package reason runs LLM reasoning over retrieved candidates: given
// the user's request and a candidate list, it either endorses one
// service code or rejects the pool and proposes refined keywords for a
// second retrieval pass.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prumolabs/prumo/internal/llm"
	"github.com/prumolabs/prumo/internal/search"
)

// noChoice is the sentinel the prompt contract uses when no candidate
// is adequate.
const noChoice = "N/A"

// Decision is the structured outcome of a reasoning pass.
type Decision struct {
	// ChosenCode is the endorsed service code, or empty when the
	// reasoner rejected every candidate.
	ChosenCode string
	// Rationale is the model's step-by-step analysis text.
	Rationale string
	// RefinedKeywords holds 3-4 technical terms for a retry search.
	// Only set when ChosenCode is empty.
	RefinedKeywords string
}

// Accepted reports whether the reasoner endorsed a candidate.
func (d Decision) Accepted() bool { return d.ChosenCode != "" }

// Reasoner evaluates candidate pools with an LLM.
type Reasoner struct {
	provider llm.Provider
	guidance string
	logger   *slog.Logger
}

// New creates a Reasoner. guidance is an optional expert instruction
// appended to every prompt with top priority; empty means none.
func New(provider llm.Provider, guidance string, logger *slog.Logger) *Reasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{provider: provider, guidance: guidance, logger: logger}
}

// reasonResponse mirrors the JSON contract the prompt demands.
type reasonResponse struct {
	Rationale       string `json:"raciocinio"`
	FinalCode       string `json:"codigo_final"`
	RefinedKeywords string `json:"palavras_chave_para_nova_busca"`
}

// Evaluate asks the LLM to pick the best candidate for the query.
// An empty pool, a provider failure, or malformed output all yield a
// rejection whose RefinedKeywords fall back to the original query, so
// the caller can always attempt a retry pass.
func (r *Reasoner) Evaluate(ctx context.Context, query string, candidates []search.Result) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{
			Rationale:       "nenhum candidato foi fornecido pelo recuperador",
			RefinedKeywords: query,
		}, nil
	}
	if r.provider == nil {
		return Decision{}, fmt.Errorf("reasoner has no LLM provider configured")
	}

	raw, err := r.provider.Complete(ctx, r.buildPrompt(query, candidates), llm.CompletionOpts{
		Temperature: 0.0,
		MaxTokens:   1024,
		Format:      "json",
	})
	if err != nil {
		r.logger.Warn("reasoning call failed, treating as rejection", "query", query, "error", err)
		return Decision{
			Rationale:       "falha na chamada ao modelo de raciocínio",
			RefinedKeywords: query,
		}, nil
	}

	var resp reasonResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		r.logger.Warn("reasoning returned malformed JSON, treating as rejection",
			"query", query, "error", err)
		return Decision{
			Rationale:       "resposta do modelo de raciocínio não pôde ser interpretada",
			RefinedKeywords: query,
		}, nil
	}

	code := strings.TrimSpace(resp.FinalCode)
	if strings.EqualFold(code, noChoice) {
		code = ""
	}

	d := Decision{
		ChosenCode: code,
		Rationale:  strings.TrimSpace(resp.Rationale),
	}
	if d.ChosenCode == "" {
		d.RefinedKeywords = strings.TrimSpace(resp.RefinedKeywords)
		if d.RefinedKeywords == "" {
			d.RefinedKeywords = query
		}
	}

	r.logger.Debug("reasoning complete",
		"query", query, "accepted", d.Accepted(), "code", d.ChosenCode)
	return d, nil
}

func (r *Reasoner) buildPrompt(query string, candidates []search.Result) string {
	var b strings.Builder
	b.WriteString("Você é um engenheiro de especificações sênior e detalhista. ")
	b.WriteString("Sua tarefa é analisar a solicitação de um usuário e escolher o serviço mais adequado de uma lista de candidatos.\n\n")
	b.WriteString("Siga estritamente os seguintes passos no seu raciocínio:\n")
	fmt.Fprintf(&b, "1. Análise da Solicitação: analise a solicitação %q. Identifique os componentes principais e as CARACTERÍSTICAS CRÍTICAS (materiais, dimensões, tipos como 'corrugado', 'manual', etc.).\n", query)
	b.WriteString("2. Avaliação dos Candidatos: avalie cada serviço da lista abaixo, verificando se atende às CARACTERÍSTICAS CRÍTICAS.\n")
	b.WriteString("3. Conclusão: declare qual é o serviço mais apropriado.\n\n")
	b.WriteString("Sua resposta final DEVE ser um objeto JSON formatado EXATAMENTE assim:\n\n")
	b.WriteString("Se você encontrar um serviço adequado:\n")
	b.WriteString("{\"raciocinio\": \"sua análise detalhada\", \"codigo_final\": \"o código do serviço escolhido\"}\n\n")
	b.WriteString("Se NENHUM serviço for adequado:\n")
	b.WriteString("{\"raciocinio\": \"por que nenhum candidato serve\", \"codigo_final\": \"N/A\", ")
	b.WriteString("\"palavras_chave_para_nova_busca\": \"3 a 4 substantivos ou termos técnicos da solicitação, separados por espaço\"}\n")

	if r.guidance != "" {
		b.WriteString("\nInstrução Adicional do Especialista (prioridade máxima): ")
		b.WriteString(r.guidance)
		b.WriteString("\n")
	}

	b.WriteString("\n--- SERVIÇOS CANDIDATOS ---\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- código: %s | descrição: %s | unidade: %s | preço: %.2f | fonte: %s\n",
			c.Code, c.Description, c.Unit, c.Price, c.Source)
	}
	b.WriteString("\n--- INÍCIO DA ANÁLISE E RESPOSTA JSON ---\n")
	return b.String()
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
