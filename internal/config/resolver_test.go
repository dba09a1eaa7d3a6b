package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PRUMO_CATALOG", "PRUMO_DB", "PRUMO_CACHE_DIR", "PRUMO_LLM",
		"PRUMO_LLM_CLASSIFY", "PRUMO_LLM_REASON", "PRUMO_LLM_EXTRACT",
		"PRUMO_EMBED", "PRUMO_EMBED_ENDPOINT", "PRUMO_EMBED_API_KEY",
		"PRUMO_PRIMARY_THRESHOLD", "PRUMO_SECONDARY_THRESHOLD", "PRUMO_ALPHA",
		"PRUMO_NEIGHBOR_RADIUS", "PRUMO_SEARCH_TIMEOUT",
		"BRAVE_API_KEY", "SERPAPI_API_KEY",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestResolveFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
catalog_path: /data/servicos.csv
db_path: /data/prumo.db
llm:
  provider: openai/gpt-4o
  classify_model: openai/gpt-4o-mini
embed:
  provider: ollama/nomic-embed-text
ranking:
  primary_threshold: "0.75"
  alpha: "0.6"
  neighbor_radius: "3"
  search_timeout: 45s
web:
  brave_api_key: bk-file
`)

	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}

	if cfg.CatalogPath.Value != "/data/servicos.csv" || cfg.CatalogPath.Source != SourceConfig {
		t.Errorf("CatalogPath = %+v", cfg.CatalogPath)
	}
	if cfg.LLMClassifyModel.Value != "openai/gpt-4o-mini" {
		t.Errorf("LLMClassifyModel = %+v", cfg.LLMClassifyModel)
	}
	if got := cfg.PrimaryThreshold.Float64(DefaultPrimaryThreshold); got != 0.75 {
		t.Errorf("PrimaryThreshold = %v, want 0.75", got)
	}
	if got := cfg.Alpha.Float64(DefaultAlpha); got != 0.6 {
		t.Errorf("Alpha = %v, want 0.6", got)
	}
	if cfg.BraveAPIKey.Value != "bk-file" {
		t.Errorf("BraveAPIKey = %+v", cfg.BraveAPIKey)
	}
	if got := cfg.NeighborRadius.Int(DefaultNeighborRadius); got != 3 {
		t.Errorf("NeighborRadius = %d, want 3", got)
	}
	if got := cfg.SearchTimeout.Duration(DefaultSearchTimeout); got != 45*time.Second {
		t.Errorf("SearchTimeout = %v, want 45s", got)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "db_path: /from/file.db\n")
	t.Setenv("PRUMO_DB", "/from/env.db")

	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	if cfg.DBPath.Value != "/from/env.db" || cfg.DBPath.Source != SourceEnv {
		t.Errorf("DBPath = %+v, want env value", cfg.DBPath)
	}
	if cfg.DBPath.From != "PRUMO_DB" {
		t.Errorf("DBPath.From = %q", cfg.DBPath.From)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRUMO_LLM", "openai/gpt-4o")

	cfg, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		CLILLM:     "google/gemini-2.5-flash",
	})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	if cfg.LLMProvider.Value != "google/gemini-2.5-flash" || cfg.LLMProvider.Source != SourceCLI {
		t.Errorf("LLMProvider = %+v, want CLI value", cfg.LLMProvider)
	}
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	if cfg.LLMProvider.Value != "" {
		t.Errorf("LLMProvider = %+v, want empty", cfg.LLMProvider)
	}
}

func TestMalformedConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "llm: [not: valid")
	if _, err := ResolveConfig(ResolveOptions{ConfigPath: path}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEffectiveLLMModel(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  provider: openai/gpt-4o
  reason_model: google/gemini-2.5-flash
`)
	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}

	if got := cfg.EffectiveLLMModel("reason", "openai/gpt-4o-mini"); got.Value != "google/gemini-2.5-flash" {
		t.Errorf("reason model = %+v", got)
	}
	if got := cfg.EffectiveLLMModel("classify", "openai/gpt-4o-mini"); got.Value != "openai/gpt-4o" {
		t.Errorf("classify model = %+v, want general provider", got)
	}
}

func TestEffectiveLLMModelDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	got := cfg.EffectiveLLMModel("classify", "openai/gpt-4o-mini")
	if got.Value != "openai/gpt-4o-mini" || got.Source != SourceDefault {
		t.Errorf("got %+v, want built-in default", got)
	}
}

func TestAPIKeyForProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "or-env")

	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	if got := cfg.APIKeyForProvider("openrouter/openai/gpt-4o-mini"); got.Value != "or-env" {
		t.Errorf("APIKeyForProvider = %+v", got)
	}
	if got := cfg.APIKeyForProvider("ollama/llama3.1"); got.Value != "" {
		t.Errorf("APIKeyForProvider(ollama) = %+v, want empty", got)
	}
}

func TestFloat64Fallback(t *testing.T) {
	if got := (ResolvedValue{}).Float64(0.7); got != 0.7 {
		t.Errorf("empty Float64 = %v, want fallback", got)
	}
	if got := (ResolvedValue{Value: "abc"}).Float64(0.6); got != 0.6 {
		t.Errorf("malformed Float64 = %v, want fallback", got)
	}
	if got := (ResolvedValue{Value: "0.55"}).Float64(0.6); got != 0.55 {
		t.Errorf("Float64 = %v, want 0.55", got)
	}
}

func TestIntAndDurationFallbacks(t *testing.T) {
	if got := (ResolvedValue{}).Int(2); got != 2 {
		t.Errorf("empty Int = %d, want fallback", got)
	}
	if got := (ResolvedValue{Value: "x"}).Int(2); got != 2 {
		t.Errorf("malformed Int = %d, want fallback", got)
	}
	if got := (ResolvedValue{Value: "5"}).Int(2); got != 5 {
		t.Errorf("Int = %d, want 5", got)
	}
	if got := (ResolvedValue{}).Duration(time.Minute); got != time.Minute {
		t.Errorf("empty Duration = %v, want fallback", got)
	}
	if got := (ResolvedValue{Value: "soon"}).Duration(time.Minute); got != time.Minute {
		t.Errorf("malformed Duration = %v, want fallback", got)
	}
	if got := (ResolvedValue{Value: "90s"}).Duration(time.Minute); got != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", got)
	}
}

func TestTildeExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRUMO_DB", "~/prumo/data.db")

	cfg, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("ResolveConfig error: %v", err)
	}
	home, _ := os.UserHomeDir()
	want := filepath.Join(home, "prumo", "data.db")
	if cfg.DBPath.Value != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath.Value, want)
	}
}
