// Package config resolves runtime settings from YAML file, environment
// and CLI flags, recording where each value came from. Precedence is
// CLI > env > config file > built-in default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a setting plus its provenance, for `prumo health`
// style introspection.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Float64 parses the value as a float, falling back when empty or
// malformed.
func (v ResolvedValue) Float64(fallback float64) float64 {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Int parses the value as an integer, falling back when empty or
// malformed.
func (v ResolvedValue) Int(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Duration parses the value as a time.Duration ("30s", "2m"), falling
// back when empty or malformed.
func (v ResolvedValue) Duration(fallback time.Duration) time.Duration {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Built-in defaults for the ranking and escalation stages.
const (
	DefaultPrimaryThreshold   = 0.7
	DefaultSecondaryThreshold = 0.6
	DefaultAlpha              = 0.5
	DefaultGroupBoost         = 1.5
	DefaultUnitBoost          = 1.2
	DefaultNeighborRadius     = 2
	DefaultSearchTimeout      = 60 * time.Second
)

// ResolveOptions carries CLI flag overrides into resolution.
type ResolveOptions struct {
	ConfigPath  string
	CLILLM      string
	CLIEmbed    string
	CLIDBPath   string
	CLICatalog  string
	CLICacheDir string
}

// ResolvedConfig is the full resolved configuration.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	CatalogPath ResolvedValue `json:"catalog_path"`
	DBPath      ResolvedValue `json:"db_path"`
	CacheDir    ResolvedValue `json:"cache_dir"`

	LLMProvider      ResolvedValue `json:"llm_provider"`
	LLMClassifyModel ResolvedValue `json:"llm_classify_model"`
	LLMReasonModel   ResolvedValue `json:"llm_reason_model"`
	LLMExtractModel  ResolvedValue `json:"llm_extract_model"`
	Guidance         ResolvedValue `json:"guidance"`

	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`

	PrimaryThreshold   ResolvedValue `json:"primary_threshold"`
	SecondaryThreshold ResolvedValue `json:"secondary_threshold"`
	Alpha              ResolvedValue `json:"alpha"`
	GroupBoost         ResolvedValue `json:"group_boost"`
	UnitBoost          ResolvedValue `json:"unit_boost"`
	NeighborRadius     ResolvedValue `json:"neighbor_radius"`
	SearchTimeout      ResolvedValue `json:"search_timeout"`

	BraveAPIKey ResolvedValue `json:"brave_api_key"`
	SerpAPIKey  ResolvedValue `json:"serpapi_api_key"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	DBPath      string `yaml:"db_path"`
	CacheDir    string `yaml:"cache_dir"`
	LLM         struct {
		Provider      string `yaml:"provider"`
		APIKey        string `yaml:"api_key"`
		ClassifyModel string `yaml:"classify_model"`
		ReasonModel   string `yaml:"reason_model"`
		ExtractModel  string `yaml:"extract_model"`
		Guidance      string `yaml:"guidance"`
	} `yaml:"llm"`
	Embed struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"embed"`
	Ranking struct {
		PrimaryThreshold   string `yaml:"primary_threshold"`
		SecondaryThreshold string `yaml:"secondary_threshold"`
		Alpha              string `yaml:"alpha"`
		GroupBoost         string `yaml:"group_boost"`
		UnitBoost          string `yaml:"unit_boost"`
		NeighborRadius     string `yaml:"neighbor_radius"`
		SearchTimeout      string `yaml:"search_timeout"`
	} `yaml:"ranking"`
	Web struct {
		BraveAPIKey string `yaml:"brave_api_key"`
		SerpAPIKey  string `yaml:"serpapi_api_key"`
	} `yaml:"web"`
}

// DefaultConfigPath is ~/.prumo/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".prumo", "config.yaml")
}

// ResolveConfig loads and merges all configuration layers.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.CatalogPath, cfg.CatalogPath, SourceConfig, path)
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.CacheDir, cfg.CacheDir, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMClassifyModel, cfg.LLM.ClassifyModel, SourceConfig, path)
		apply(&out.LLMReasonModel, cfg.LLM.ReasonModel, SourceConfig, path)
		apply(&out.LLMExtractModel, cfg.LLM.ExtractModel, SourceConfig, path)
		apply(&out.Guidance, cfg.LLM.Guidance, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.PrimaryThreshold, cfg.Ranking.PrimaryThreshold, SourceConfig, path)
		apply(&out.SecondaryThreshold, cfg.Ranking.SecondaryThreshold, SourceConfig, path)
		apply(&out.Alpha, cfg.Ranking.Alpha, SourceConfig, path)
		apply(&out.GroupBoost, cfg.Ranking.GroupBoost, SourceConfig, path)
		apply(&out.UnitBoost, cfg.Ranking.UnitBoost, SourceConfig, path)
		apply(&out.NeighborRadius, cfg.Ranking.NeighborRadius, SourceConfig, path)
		apply(&out.SearchTimeout, cfg.Ranking.SearchTimeout, SourceConfig, path)
		apply(&out.BraveAPIKey, cfg.Web.BraveAPIKey, SourceConfig, path)
		apply(&out.SerpAPIKey, cfg.Web.SerpAPIKey, SourceConfig, path)

		if key := strings.TrimSpace(cfg.Embed.APIKey); key != "" {
			out.EmbedAPIKey = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Provider)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.CatalogPath, "PRUMO_CATALOG")
	applyEnv(&out.DBPath, "PRUMO_DB")
	applyEnv(&out.CacheDir, "PRUMO_CACHE_DIR")
	applyEnv(&out.LLMProvider, "PRUMO_LLM")
	applyEnv(&out.LLMClassifyModel, "PRUMO_LLM_CLASSIFY")
	applyEnv(&out.LLMReasonModel, "PRUMO_LLM_REASON")
	applyEnv(&out.LLMExtractModel, "PRUMO_LLM_EXTRACT")
	applyEnv(&out.EmbedProvider, "PRUMO_EMBED")
	applyEnv(&out.EmbedEndpoint, "PRUMO_EMBED_ENDPOINT")
	applyEnv(&out.PrimaryThreshold, "PRUMO_PRIMARY_THRESHOLD")
	applyEnv(&out.SecondaryThreshold, "PRUMO_SECONDARY_THRESHOLD")
	applyEnv(&out.Alpha, "PRUMO_ALPHA")
	applyEnv(&out.NeighborRadius, "PRUMO_NEIGHBOR_RADIUS")
	applyEnv(&out.SearchTimeout, "PRUMO_SEARCH_TIMEOUT")
	applyEnv(&out.BraveAPIKey, "BRAVE_API_KEY")
	applyEnv(&out.SerpAPIKey, "SERPAPI_API_KEY")

	if v := strings.TrimSpace(os.Getenv("PRUMO_EMBED_API_KEY")); v != "" {
		out.EmbedAPIKey = ResolvedValue{Value: v, Source: SourceEnv, From: "PRUMO_EMBED_API_KEY"}
	}

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.CatalogPath, opts.CLICatalog, SourceCLI, "--catalog")
	apply(&out.CacheDir, opts.CLICacheDir, SourceCLI, "--cache-dir")

	for _, v := range []*ResolvedValue{&out.CatalogPath, &out.DBPath, &out.CacheDir} {
		if v.Value != "" {
			v.Value = expandUserPath(v.Value)
		}
	}

	return out, nil
}

// EffectiveLLMModel picks the model for a purpose ("classify",
// "reason", "extract"), falling back to the general provider setting
// and finally the built-in default.
func (r ResolvedConfig) EffectiveLLMModel(purpose, fallback string) ResolvedValue {
	var candidates []ResolvedValue
	switch strings.ToLower(strings.TrimSpace(purpose)) {
	case "classify":
		candidates = append(candidates, r.LLMClassifyModel)
	case "reason":
		candidates = append(candidates, r.LLMReasonModel)
	case "extract":
		candidates = append(candidates, r.LLMExtractModel)
	}
	candidates = append(candidates, r.LLMProvider)

	for _, c := range candidates {
		if strings.TrimSpace(c.Value) == "" {
			continue
		}
		if strings.Contains(c.Value, "/") {
			return c
		}
		if fallback != "" && strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(strings.TrimSpace(c.Value))+"/") {
			return ResolvedValue{Value: fallback, Source: c.Source, From: c.From}
		}
	}

	if strings.TrimSpace(fallback) != "" {
		return ResolvedValue{Value: fallback, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedValue{}
}

// APIKeyForProvider returns the key for a "provider" or
// "provider/model" string.
func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
