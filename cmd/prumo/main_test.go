package main

import (
	"testing"

	"github.com/prumolabs/prumo/internal/config"
)

func TestParseFlagsSeparateValues(t *testing.T) {
	f, err := parseFlags([]string{
		"--catalog", "prices.csv", "--top-k", "5", "--format", "json", "--force",
		"concreto", "usinado",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.catalog != "prices.csv" {
		t.Errorf("catalog = %q", f.catalog)
	}
	if f.topK != 5 {
		t.Errorf("topK = %d", f.topK)
	}
	if f.format != "json" {
		t.Errorf("format = %q", f.format)
	}
	if !f.force {
		t.Error("force not set")
	}
	if len(f.positional) != 2 || f.positional[0] != "concreto" || f.positional[1] != "usinado" {
		t.Errorf("positional = %v", f.positional)
	}
}

func TestParseFlagsEqualsForm(t *testing.T) {
	f, err := parseFlags([]string{
		"--db=/tmp/p.db", "--embed=ollama/nomic-embed-text", "--llm=openai/gpt-4o-mini", "--top-k=7",
	})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if f.db != "/tmp/p.db" {
		t.Errorf("db = %q", f.db)
	}
	if f.embed != "ollama/nomic-embed-text" {
		t.Errorf("embed = %q", f.embed)
	}
	if f.llm != "openai/gpt-4o-mini" {
		t.Errorf("llm = %q", f.llm)
	}
	if f.topK != 7 {
		t.Errorf("topK = %d", f.topK)
	}
}

func TestParseFlagsMissingValue(t *testing.T) {
	if _, err := parseFlags([]string{"--catalog"}); err == nil {
		t.Error("expected error for flag without value")
	}
}

func TestParseFlagsUnknownFlag(t *testing.T) {
	if _, err := parseFlags([]string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestParseFlagsBadTopK(t *testing.T) {
	if _, err := parseFlags([]string{"--top-k", "many"}); err == nil {
		t.Error("expected error for non-numeric top-k")
	}
}

func TestRedactConfig(t *testing.T) {
	cfg := config.ResolvedConfig{
		BraveAPIKey: config.ResolvedValue{Value: "secret-brave", Source: config.SourceEnv},
		LLMKeys: map[string]config.ResolvedValue{
			"openai": {Value: "sk-123", Source: config.SourceEnv},
			"ollama": {Value: "", Source: config.SourceDefault},
		},
	}
	got := redactConfig(cfg)
	if got.BraveAPIKey.Value != "***" {
		t.Errorf("brave key not masked: %q", got.BraveAPIKey.Value)
	}
	if got.BraveAPIKey.Source != config.SourceEnv {
		t.Error("masking dropped provenance")
	}
	if got.LLMKeys["openai"].Value != "***" {
		t.Errorf("openai key not masked: %q", got.LLMKeys["openai"].Value)
	}
	if got.LLMKeys["ollama"].Value != "" {
		t.Errorf("empty key should stay empty, got %q", got.LLMKeys["ollama"].Value)
	}
	if got.SerpAPIKey.Value != "" {
		t.Errorf("unset serp key should stay empty")
	}
}
