package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/internal/chunk"
	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/index"
	"github.com/codeindex/codeindex/internal/output"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var checkConsistency bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Displays the current index's identity (backend, model, dimension),
size (files, chunks), and timestamps. With --check, also samples the
manifest against the store to detect crash-induced divergence; this
initializes the configured embedder, so it is slower than a plain status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, checkConsistency)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&checkConsistency, "check", false, "Sample the index for manifest/store divergence")

	return cmd
}

type statusReport struct {
	Backend       string   `json:"backend"`
	Model         string   `json:"model"`
	Dimension     int      `json:"dimension"`
	FileCount     int      `json:"file_count"`
	ChunkCount    int      `json:"chunk_count"`
	UpdatedAt     string   `json:"updated_at"`
	OrphanedPaths []string `json:"orphaned_paths,omitempty"`
	Sampled       int      `json:"sampled,omitempty"`
	Missing       int      `json:"missing,omitempty"`
	Corrupted     bool     `json:"corrupted,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, checkConsistency bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	dataDir := config.DataDir(root)
	manifest, err := index.LoadManifest(dataDir)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if manifest == nil {
		return fmt.Errorf("no index found in %s\nRun 'codeindex index' to create one", root)
	}

	report := statusReport{
		Backend:    manifest.Backend,
		Model:      manifest.Model,
		Dimension:  manifest.Dimension,
		FileCount:  len(manifest.Files),
		ChunkCount: manifest.ChunkCount(),
		UpdatedAt:  manifest.UpdatedAt.Format("2006-01-02 15:04:05"),
	}

	if checkConsistency {
		cfg, err := config.Load(root)
		if err != nil {
			cfg = config.NewConfig()
		}

		embedder, err := buildEmbedder(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = embedder.Close() }()

		coordinator, err := index.NewCoordinator(root, dataDir, cfg, embedder, chunk.NewCodeChunker())
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer func() { _ = coordinator.Close() }()

		if err := coordinator.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize index: %w", err)
		}

		result, err := coordinator.QuickCheck(ctx)
		if err != nil {
			return fmt.Errorf("consistency check: %w", err)
		}
		report.Sampled = result.Sampled
		report.Missing = result.Missing
		report.Corrupted = result.Corrupted()

		orphans, err := coordinator.OrphanedPaths(ctx)
		if err != nil {
			return fmt.Errorf("orphan scan: %w", err)
		}
		report.OrphanedPaths = orphans
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Statusf("", "Backend:  %s", report.Backend)
	out.Statusf("", "Model:    %s", report.Model)
	out.Statusf("", "Files:    %d", report.FileCount)
	out.Statusf("", "Chunks:   %d", report.ChunkCount)
	out.Statusf("", "Updated:  %s", report.UpdatedAt)

	if checkConsistency {
		out.Newline()
		out.Statusf("", "Sampled %d ids, %d missing", report.Sampled, report.Missing)
		if len(report.OrphanedPaths) > 0 {
			out.Warningf("%d orphaned manifest entries found", len(report.OrphanedPaths))
		}
		if report.Corrupted {
			out.Warning("index looks corrupted; run 'codeindex index --force' to rebuild")
		} else {
			out.Success("index is consistent")
		}
	}

	return nil
}
