// Package llm is a provider-agnostic adapter for the LLM capabilities
// the pipeline leans on: query classification, candidate reasoning and
// web-result keyword extraction. Plain net/http against each provider's
// chat API.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g. "openai/gpt-4o-mini").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // 0 = provider default
	Temperature float64 // 0.0 = deterministic
	Format      string  // "json" requests structured output
	System      string  // optional system prompt
	Model       string  // per-request model override (empty = provider default)
}

// Config holds provider configuration.
type Config struct {
	Provider string // "openai", "openrouter", "ollama", "google"
	Model    string
	APIKey   string // empty = read from env
	BaseURL  string // optional override
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY env var")
		}
		return newChatProvider("openai", defaultStr(cfg.Model, "gpt-4o-mini"),
			defaultStr(cfg.BaseURL, "https://api.openai.com/v1"), key), nil

	case "openrouter":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENROUTER_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		return newChatProvider("openrouter", defaultStr(cfg.Model, "openai/gpt-4o-mini"),
			defaultStr(cfg.BaseURL, "https://openrouter.ai/api/v1"), key), nil

	case "ollama":
		// Local, no key needed.
		return newChatProvider("ollama", defaultStr(cfg.Model, "llama3.1"),
			defaultStr(cfg.BaseURL, "http://localhost:11434/v1"), cfg.APIKey), nil

	case "google":
		key := firstNonEmpty(cfg.APIKey, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var")
		}
		return &googleProvider{
			apiKey:  key,
			model:   defaultStr(cfg.Model, "gemini-2.5-flash"),
			baseURL: defaultStr(cfg.BaseURL, "https://generativelanguage.googleapis.com/v1beta"),
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q (supported: openai, openrouter, ollama, google)", cfg.Provider)
	}
}

// ParseLLMFlag parses "provider/model" into a Config. Model names may
// contain further slashes ("openrouter/openai/gpt-4o-mini").
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "openai", Model: "gpt-4o-mini"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("invalid llm flag %q: expected provider/model", flag)
	}

	provider := strings.ToLower(parts[0])
	switch provider {
	case "openai", "openrouter", "ollama", "google":
		return Config{Provider: provider, Model: parts[1]}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in llm flag", provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
