package main

import (
	"fmt"
	"os"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "index":
		if err := runIndex(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "search":
		if err := runSearch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "health":
		if err := runHealth(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("prumo %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`prumo %s - hybrid retrieval over construction-service catalogs

Usage:
  prumo <command> [arguments]

Commands:
  index               Load the catalog file, persist it and build the indexes
  search <query>      Run the full query pipeline once and print the results
  serve               Serve the pipeline as MCP tools over stdio
  health              Print per-dependency readiness
  version             Print version

Index Flags:
  --catalog <path>    Catalog file (.csv or .xlsx)
  --db <path>         SQLite catalog database
  --force             Recompute embeddings ignoring the cache

Search Flags:
  --top-k <n>         Number of results (1-10, default 3)
  --format json|table Output format (default table)

Common Flags:
  --config <path>     Config file (default ~/.prumo/config.yaml)
  --cache-dir <path>  Embedding cache directory (default ~/.prumo/cache)
  --embed <p/m>       Embedding provider/model (e.g. ollama/nomic-embed-text)
  --llm <p/m>         LLM provider/model (e.g. openai/gpt-4o-mini)
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
