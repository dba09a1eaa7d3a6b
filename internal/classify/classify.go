// Package classify predicts the service group and measurement unit of a
// free-text query using an LLM constrained to the catalog's own option
// lists. Predictions feed the ranking stage as categorical boosts, so a
// failed or malformed classification degrades to an empty prediction
// rather than failing the query.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prumolabs/prumo/internal/llm"
	"github.com/prumolabs/prumo/internal/search"
)

// maxGroupOptions caps how many distinct groups are listed in the
// prompt. Catalogs can carry hundreds; past this point extra options
// cost tokens without improving precision.
const maxGroupOptions = 50

// Classifier predicts categorical attributes for a query.
type Classifier struct {
	provider llm.Provider
	groups   []string
	units    []string
	logger   *slog.Logger
}

// New creates a Classifier over the given option lists. The lists come
// from the loaded catalog (distinct groups and units) and are embedded
// verbatim in every prompt.
func New(provider llm.Provider, groups, units []string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{provider: provider, groups: groups, units: units, logger: logger}
}

// classifyResponse mirrors the JSON contract the prompt demands.
type classifyResponse struct {
	Group string `json:"grupo"`
	Unit  string `json:"unidade"`
}

// Classify returns the predicted group and unit for a query. Any
// provider or parse failure returns a zero Prediction and logs a
// warning; the caller proceeds without boosts.
func (c *Classifier) Classify(ctx context.Context, query string) search.Prediction {
	if c.provider == nil {
		return search.Prediction{}
	}

	raw, err := c.provider.Complete(ctx, c.buildPrompt(query), llm.CompletionOpts{
		Temperature: 0.0,
		MaxTokens:   256,
		Format:      "json",
	})
	if err != nil {
		c.logger.Warn("classification failed, proceeding without boosts",
			"query", query, "error", err)
		return search.Prediction{}
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		c.logger.Warn("classification returned malformed JSON, proceeding without boosts",
			"query", query, "error", err)
		return search.Prediction{}
	}

	pred := search.Prediction{
		Group: sanitize(resp.Group),
		Unit:  sanitize(resp.Unit),
	}
	c.logger.Debug("query classified", "query", query, "group", pred.Group, "unit", pred.Unit)
	return pred
}

func (c *Classifier) buildPrompt(query string) string {
	groups := c.groups
	truncated := ""
	if len(groups) > maxGroupOptions {
		groups = groups[:maxGroupOptions]
		truncated = "\n... (e outros)"
	}

	var b strings.Builder
	b.WriteString("Você é um classificador especialista em serviços de construção civil. ")
	b.WriteString("Analise a solicitação e retorne apenas o grupo e a unidade mais prováveis. ")
	b.WriteString("Use JSON estrito como saída.\n\n")
	fmt.Fprintf(&b, "Solicitação do Usuário: %q\n\n", query)
	b.WriteString("Responda APENAS com um JSON válido contendo as chaves \"grupo\" e \"unidade\". ")
	b.WriteString("Escolha o grupo da lista de GRUPOS VÁLIDOS e a unidade da lista de UNIDADES VÁLIDAS.\n\n")
	b.WriteString("GRUPOS VÁLIDOS:\n")
	b.WriteString(strings.Join(groups, ", "))
	b.WriteString(truncated)
	b.WriteString("\n\nUNIDADES VÁLIDAS:\n")
	b.WriteString(strings.Join(c.units, ", "))
	b.WriteString("\n\nJSON de Resposta:")
	return b.String()
}

// sanitize maps the model's "no answer" spellings to the empty string
// so downstream boost matching never fires on placeholders.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "N/A", "NULL", "NONE", "":
		return ""
	}
	return s
}

// stripFences tolerates models that wrap JSON in markdown code fences
// despite the structured-output request.
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
