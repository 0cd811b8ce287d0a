package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/embed"
	"github.com/codeindex/codeindex/internal/output"
	"github.com/codeindex/codeindex/internal/search"
	"github.com/codeindex/codeindex/internal/store"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var pathPattern string
	var languages []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Runs a hybrid search (BM25 keyword + semantic embedding) over the
current index, ranking results with a weighted vector/lexical blend.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, limit, pathPattern, languages, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&pathPattern, "path", "p", "", "Filter by path glob pattern")
	cmd.Flags().StringSliceVarP(&languages, "language", "l", nil, "Filter by language (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func openSearchEngine(ctx context.Context, root string, cfg *config.Config) (*search.Engine, func(), error) {
	dataDir := filepath.Join(config.DataDir(root), "store")
	adapter, err := store.OpenOrCreate(dataDir, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}

	var embedder embed.Embedder
	embedder, err = buildEmbedder(ctx, cfg)
	if err != nil {
		_ = adapter.Close()
		return nil, nil, err
	}

	weights := search.DefaultWeights()
	if cfg.Search.SemanticWeight > 0 || cfg.Search.KeywordWeight > 0 {
		weights.Vector = cfg.Search.SemanticWeight
		weights.Lexical = cfg.Search.KeywordWeight
	}

	engine := search.NewEngine(adapter, embedder, root, weights)
	cleanup := func() {
		_ = embedder.Close()
		_ = adapter.Close()
	}
	return engine, cleanup, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, limit int, pathPattern string, languages []string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	engine, cleanup, err := openSearchEngine(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := engine.Search(ctx, query, limit, pathPattern, languages)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	out.Statusf("", "Found %d results for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		location := r.FilePath
		if r.StartLine > 0 {
			location = fmt.Sprintf("%s:%d", r.FilePath, r.StartLine)
		}
		out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
		for _, line := range snippetLines(r.Content, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}

	return nil
}

func snippetLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
