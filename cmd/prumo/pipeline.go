package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prumolabs/prumo/internal/answer"
	"github.com/prumolabs/prumo/internal/catalog"
	"github.com/prumolabs/prumo/internal/classify"
	"github.com/prumolabs/prumo/internal/config"
	"github.com/prumolabs/prumo/internal/enrich"
	"github.com/prumolabs/prumo/internal/llm"
	"github.com/prumolabs/prumo/internal/mcp"
	"github.com/prumolabs/prumo/internal/reason"
	"github.com/prumolabs/prumo/internal/search"
	"github.com/prumolabs/prumo/internal/semantic"
)

const (
	defaultEmbedModel    = "ollama/nomic-embed-text"
	defaultClassifyModel = "openai/gpt-4o-mini"
	defaultReasonModel   = "openai/gpt-4o-mini"
	defaultExtractModel  = "openai/gpt-4o-mini"

	braveMonthlyBudget = 2000
	serpMonthlyBudget  = 250
)

type cliFlags struct {
	configPath string
	catalog    string
	db         string
	cacheDir   string
	embed      string
	llm        string
	topK       int
	format     string
	force      bool
	positional []string
}

func parseFlags(args []string) (cliFlags, error) {
	f := cliFlags{topK: 0, format: "table"}

	takeValue := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		var err error
		switch {
		case arg == "--config":
			f.configPath, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--config="):
			f.configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--catalog":
			f.catalog, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--catalog="):
			f.catalog = strings.TrimPrefix(arg, "--catalog=")
		case arg == "--db":
			f.db, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--db="):
			f.db = strings.TrimPrefix(arg, "--db=")
		case arg == "--cache-dir":
			f.cacheDir, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--cache-dir="):
			f.cacheDir = strings.TrimPrefix(arg, "--cache-dir=")
		case arg == "--embed":
			f.embed, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--embed="):
			f.embed = strings.TrimPrefix(arg, "--embed=")
		case arg == "--llm":
			f.llm, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--llm="):
			f.llm = strings.TrimPrefix(arg, "--llm=")
		case arg == "--top-k":
			var v string
			v, err = takeValue(&i, arg)
			if err == nil {
				f.topK, err = strconv.Atoi(v)
			}
		case strings.HasPrefix(arg, "--top-k="):
			f.topK, err = strconv.Atoi(strings.TrimPrefix(arg, "--top-k="))
		case arg == "--format":
			f.format, err = takeValue(&i, arg)
		case strings.HasPrefix(arg, "--format="):
			f.format = strings.TrimPrefix(arg, "--format=")
		case arg == "--force":
			f.force = true
		case strings.HasPrefix(arg, "-"):
			return f, fmt.Errorf("unknown flag: %s", arg)
		default:
			f.positional = append(f.positional, arg)
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("PRUMO_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func resolveConfig(f cliFlags) (config.ResolvedConfig, error) {
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:  f.configPath,
		CLILLM:      f.llm,
		CLIEmbed:    f.embed,
		CLIDBPath:   f.db,
		CLICatalog:  f.catalog,
		CLICacheDir: f.cacheDir,
	})
	if err != nil {
		return cfg, err
	}

	home, _ := os.UserHomeDir()
	if cfg.DBPath.Value == "" {
		cfg.DBPath = config.ResolvedValue{
			Value: filepath.Join(home, ".prumo", "prumo.db"), Source: config.SourceDefault,
		}
	}
	if cfg.CacheDir.Value == "" {
		cfg.CacheDir = config.ResolvedValue{
			Value: filepath.Join(home, ".prumo", "cache"), Source: config.SourceDefault,
		}
	}
	if cfg.EmbedProvider.Value == "" {
		cfg.EmbedProvider = config.ResolvedValue{
			Value: defaultEmbedModel, Source: config.SourceDefault,
		}
	}
	return cfg, nil
}

func newEmbedder(cfg config.ResolvedConfig) (semantic.Embedder, error) {
	embedCfg, err := semantic.ParseEmbedFlag(cfg.EmbedProvider.Value)
	if err != nil {
		return nil, fmt.Errorf("embed provider: %w", err)
	}
	if cfg.EmbedEndpoint.Value != "" {
		embedCfg.Endpoint = cfg.EmbedEndpoint.Value
	}
	if cfg.EmbedAPIKey.Value != "" {
		embedCfg.APIKey = cfg.EmbedAPIKey.Value
	}
	return semantic.NewClient(embedCfg)
}

func newEngine(cfg config.ResolvedConfig, logger *slog.Logger) (*search.Engine, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return search.NewEngine(search.EngineConfig{
		Embedder: embedder,
		CacheDir: cfg.CacheDir.Value,
		Params: search.FuseParams{
			Alpha:      cfg.Alpha.Float64(config.DefaultAlpha),
			GroupBoost: cfg.GroupBoost.Float64(config.DefaultGroupBoost),
			UnitBoost:  cfg.UnitBoost.Float64(config.DefaultUnitBoost),
		},
		Logger: logger,
	}), nil
}

// newLLMProvider builds the provider for one purpose, or nil when the
// configuration is incomplete; the pipeline degrades without it.
func newLLMProvider(cfg config.ResolvedConfig, purpose, fallback string, logger *slog.Logger) llm.Provider {
	model := cfg.EffectiveLLMModel(purpose, fallback)
	parsed, err := llm.ParseLLMFlag(model.Value)
	if err != nil {
		logger.Warn("LLM capability disabled", "purpose", purpose, "error", err)
		return nil
	}
	parsed.APIKey = cfg.APIKeyForProvider(model.Value).Value
	provider, err := llm.NewProvider(parsed)
	if err != nil {
		logger.Warn("LLM capability disabled", "purpose", purpose, "error", err)
		return nil
	}
	return provider
}

func newEnricher(cfg config.ResolvedConfig, logger *slog.Logger) *enrich.Enricher {
	var searchers []enrich.Searcher
	if cfg.BraveAPIKey.Value != "" {
		searchers = append(searchers, enrich.NewBraveSearcher(cfg.BraveAPIKey.Value, braveMonthlyBudget))
	}
	if cfg.SerpAPIKey.Value != "" {
		searchers = append(searchers, enrich.NewSerpSearcher(cfg.SerpAPIKey.Value, serpMonthlyBudget))
	}
	if len(searchers) == 0 {
		return nil
	}
	extractor := newLLMProvider(cfg, "extract", defaultExtractModel, logger)
	if extractor == nil {
		return nil
	}
	return enrich.New(searchers, extractor, logger)
}

func buildOrchestrator(ctx context.Context, cfg config.ResolvedConfig, engine *search.Engine, store *catalog.Store, logger *slog.Logger) (*answer.Orchestrator, error) {
	var classifier answer.Classifier
	if p := newLLMProvider(cfg, "classify", defaultClassifyModel, logger); p != nil {
		groups, err := store.Groups(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading groups: %w", err)
		}
		units, err := store.Units(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading units: %w", err)
		}
		classifier = classify.New(p, groups, units, logger)
	}

	var reasoner answer.Reasoner
	if p := newLLMProvider(cfg, "reason", defaultReasonModel, logger); p != nil {
		reasoner = reason.New(p, cfg.Guidance.Value, logger)
	}

	var enricher answer.Enricher
	if e := newEnricher(cfg, logger); e != nil {
		enricher = e
	}

	return answer.New(answer.Config{
		Engine:             engine,
		Classifier:         classifier,
		Reasoner:           reasoner,
		Enricher:           enricher,
		PrimaryThreshold:   cfg.PrimaryThreshold.Float64(config.DefaultPrimaryThreshold),
		SecondaryThreshold: cfg.SecondaryThreshold.Float64(config.DefaultSecondaryThreshold),
		NeighborRadius:     cfg.NeighborRadius.Int(config.DefaultNeighborRadius),
		SearchTimeout:      cfg.SearchTimeout.Duration(config.DefaultSearchTimeout),
		Logger:             logger,
	})
}

func runIndex(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	if cfg.CatalogPath.Value == "" {
		return fmt.Errorf("no catalog file configured (use --catalog or set catalog_path)")
	}
	logger := newLogger()
	ctx := context.Background()

	records, err := catalog.LoadFile(cfg.CatalogPath.Value)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d records from %s\n", len(records), cfg.CatalogPath.Value)

	store, err := catalog.OpenStore(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ReplaceAll(ctx, records); err != nil {
		return fmt.Errorf("persisting catalog: %w", err)
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	if err := engine.Rebuild(ctx, records, f.force); err != nil {
		return fmt.Errorf("building indexes: %w", err)
	}

	fmt.Printf("Indexed %d records (db=%s, cache=%s, forced=%v)\n",
		len(records), cfg.DBPath.Value, cfg.CacheDir.Value, f.force)
	return nil
}

// loadRecords pulls the catalog from the store, falling back to the
// catalog file when the store is empty.
func loadRecords(ctx context.Context, cfg config.ResolvedConfig, store *catalog.Store) ([]catalog.Record, error) {
	records, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}
	if cfg.CatalogPath.Value == "" {
		return nil, fmt.Errorf("catalog store is empty and no catalog file is configured (run `prumo index` first)")
	}
	records, err = catalog.LoadFile(cfg.CatalogPath.Value)
	if err != nil {
		return nil, err
	}
	if err := store.ReplaceAll(ctx, records); err != nil {
		return nil, fmt.Errorf("persisting catalog: %w", err)
	}
	return records, nil
}

func runSearch(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(f.positional) == 0 {
		return fmt.Errorf("usage: prumo search <query> [--top-k N] [--format json|table]")
	}
	query := strings.Join(f.positional, " ")

	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, err := catalog.OpenStore(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := loadRecords(ctx, cfg, store)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	if err := engine.Rebuild(ctx, records, false); err != nil {
		return fmt.Errorf("building indexes: %w", err)
	}

	orch, err := buildOrchestrator(ctx, cfg, engine, store, logger)
	if err != nil {
		return err
	}

	a, err := orch.Answer(ctx, answer.Request{Query: query, TopK: f.topK})
	if err != nil {
		return err
	}

	switch strings.ToLower(f.format) {
	case "json":
		data, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	default:
		printAnswerTable(query, a)
	}
	return nil
}

func printAnswerTable(query string, a answer.Answer) {
	fmt.Printf("Query: %s  (status=%s, confidence=%.3f, escalations=%d)\n\n",
		query, a.Status, a.Confidence, a.Escalations)
	fmt.Printf("%-5s %-12s %-60s %-8s %12s  %s\n", "RANK", "CODE", "DESCRIPTION", "UNIT", "PRICE", "SOURCE")
	for _, r := range a.Results {
		desc := r.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Printf("%-5d %-12s %-60s %-8s %12.2f  %s\n", r.Rank, r.Code, desc, r.Unit, r.Price, r.Source)
	}
	if a.Rationale != "" {
		fmt.Printf("\n%s\n", a.Rationale)
	}
}

func runServe(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, err := catalog.OpenStore(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	// Serve with whatever the store already holds; an empty store just
	// means searches report not-ready until prumo_reindex runs.
	if records, err := store.All(ctx); err == nil && len(records) > 0 {
		if err := engine.Rebuild(ctx, records, false); err != nil {
			logger.Warn("initial index build failed, serving unindexed", "error", err)
		}
	}

	orch, err := buildOrchestrator(ctx, cfg, engine, store, logger)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(mcp.ServerConfig{
		Orchestrator: orch,
		Engine:       engine,
		Store:        store,
		CatalogPath:  cfg.CatalogPath.Value,
		Version:      version,
		Logger:       logger,
	})
	logger.Info("serving MCP over stdio", "version", version)
	return mcp.ServeStdio(srv)
}

func runHealth(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(f)
	if err != nil {
		return err
	}
	logger := newLogger()
	ctx := context.Background()

	store, err := catalog.OpenStore(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	if records, err := store.All(ctx); err == nil && len(records) > 0 {
		if err := engine.Rebuild(ctx, records, false); err != nil {
			logger.Warn("index build failed", "error", err)
		}
	}

	orch, err := buildOrchestrator(ctx, cfg, engine, store, logger)
	if err != nil {
		return err
	}

	out := struct {
		Health answer.Health         `json:"health"`
		Config config.ResolvedConfig `json:"config"`
	}{
		Health: orch.CheckHealth(),
		Config: redactConfig(cfg),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// redactConfig masks secrets before printing.
func redactConfig(cfg config.ResolvedConfig) config.ResolvedConfig {
	mask := func(v *config.ResolvedValue) {
		if v.Value != "" {
			v.Value = "***"
		}
	}
	mask(&cfg.EmbedAPIKey)
	mask(&cfg.BraveAPIKey)
	mask(&cfg.SerpAPIKey)

	keys := make(map[string]config.ResolvedValue, len(cfg.LLMKeys))
	for k, v := range cfg.LLMKeys {
		mask(&v)
		keys[k] = v
	}
	cfg.LLMKeys = keys
	return cfg
}
