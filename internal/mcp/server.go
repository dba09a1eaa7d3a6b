// Package mcp exposes the retrieval pipeline over the Model Context
// Protocol: search, health, reindex and catalog stats as tools, served
// over stdio for desktop agents.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/prumolabs/prumo/internal/answer"
	"github.com/prumolabs/prumo/internal/catalog"
	"github.com/prumolabs/prumo/internal/search"
)

// ServerConfig holds the pipeline pieces the MCP tools operate on.
type ServerConfig struct {
	Orchestrator *answer.Orchestrator
	Engine       *search.Engine
	Store        *catalog.Store
	CatalogPath  string
	Version      string
	Logger       *slog.Logger
}

// reindexMu serializes reindex against itself. Queries stay lock-free:
// the engine swaps generations atomically, so searches always see a
// complete index.
var reindexMu sync.Mutex

// NewServer creates the MCP server with all tools registered.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := server.NewMCPServer(
		"Prumo",
		ver,
		server.WithToolCapabilities(false),
	)

	registerSearchTool(s, cfg.Orchestrator)
	registerHealthTool(s, cfg.Orchestrator)
	registerReindexTool(s, cfg, logger)
	registerStatsTool(s, cfg.Store, cfg.Engine)

	return s
}

// ServeStdio runs the server over stdin/stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type searchResponse struct {
	Results     []search.Result `json:"results"`
	Status      answer.Status   `json:"status"`
	Confidence  float64         `json:"confidence"`
	Rationale   string          `json:"detailed_reasoning,omitempty"`
	Escalations int             `json:"escalations"`
}

func registerSearchTool(s *server.MCPServer, orch *answer.Orchestrator) {
	tool := mcp.NewTool("prumo_search",
		mcp.WithDescription("Find construction-service catalog entries matching a free-text request. Returns ranked candidates with code, description, unit, price and source, plus the pipeline's reasoning trail."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("search_text",
			mcp.Required(),
			mcp.Description("Free-text service description (minimum 3 characters), e.g. 'concreto usinado 30mpa'"),
		),
		mcp.WithNumber("result_count",
			mcp.Description("How many candidates to return (1-10, default 3)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("search_text")
		if err != nil {
			return mcp.NewToolResultError("search_text is required"), nil
		}

		topK := 0
		if v, err := req.RequireFloat("result_count"); err == nil {
			topK = int(v)
		}

		a, err := orch.Answer(ctx, answer.Request{Query: query, TopK: topK})
		switch {
		case errors.Is(err, answer.ErrQueryTooShort):
			return mcp.NewToolResultError("search_text must be at least 3 characters"), nil
		case errors.Is(err, search.ErrNotReady):
			return mcp.NewToolResultError("service unavailable: catalog indexes not built (run prumo_reindex)"), nil
		case errors.Is(err, answer.ErrNoCandidates):
			return mcp.NewToolResultError("no services found for the given search"), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(searchResponse{
			Results:     a.Results,
			Status:      a.Status,
			Confidence:  a.Confidence,
			Rationale:   a.Rationale,
			Escalations: a.Escalations,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerHealthTool(s *server.MCPServer, orch *answer.Orchestrator) {
	tool := mcp.NewTool("prumo_health",
		mcp.WithDescription("Report readiness of each pipeline dependency (catalog, indexes, classifier, reasoner, web researcher)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, _ := json.MarshalIndent(orch.CheckHealth(), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerReindexTool(s *server.MCPServer, cfg ServerConfig, logger *slog.Logger) {
	tool := mcp.NewTool("prumo_reindex",
		mcp.WithDescription("Reload the catalog file, persist it and rebuild both retrieval indexes. Set force=true to recompute embeddings ignoring the cache."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithBoolean("force",
			mcp.Description("Recompute embeddings even when the cached corpus identity matches (default false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reindexMu.Lock()
		defer reindexMu.Unlock()

		force := req.GetBool("force", false)

		records, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading catalog: %v", err)), nil
		}

		if cfg.Store != nil {
			if err := cfg.Store.ReplaceAll(ctx, records); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("persisting catalog: %v", err)), nil
			}
		}

		if err := cfg.Engine.Rebuild(ctx, records, force); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rebuilding indexes: %v", err)), nil
		}

		logger.Info("reindex complete", "records", len(records), "forced", force)
		return mcp.NewToolResultText(fmt.Sprintf("reindexed %d records (forced=%v)", len(records), force)), nil
	})
}

func registerStatsTool(s *server.MCPServer, store *catalog.Store, engine *search.Engine) {
	tool := mcp.NewTool("prumo_stats",
		mcp.WithDescription("Catalog and index statistics: record, group and unit counts, corpus hash, database size and in-memory index size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := map[string]any{
			"indexed_records": engine.Size(),
			"index_ready":     engine.Ready(),
		}
		if store != nil {
			stats, err := store.Stats(ctx)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("reading stats: %v", err)), nil
			}
			out["stored_records"] = stats.Records
			out["groups"] = stats.Groups
			out["units"] = stats.Units
			out["corpus_hash"] = stats.Hash
			out["db_size_bytes"] = stats.DBSizeBytes
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
