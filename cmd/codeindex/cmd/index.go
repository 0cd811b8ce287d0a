package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/internal/async"
	"github.com/codeindex/codeindex/internal/chunk"
	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/index"
	"github.com/codeindex/codeindex/internal/output"
)

func newIndexCmd() *cobra.Command {
	var forceReindex bool
	var autoRepair bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the search index for the current codebase",
		Long: `Scans the project, chunks source files, generates embeddings, and
writes the result to the hybrid (BM25 + vector) index under .codeindex/.

Re-running 'codeindex index' without --force performs an incremental
update: only files that changed since the last run are re-chunked and
re-embedded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, forceReindex, autoRepair)
		},
	}

	cmd.Flags().BoolVar(&forceReindex, "force", false, "Reindex every file, ignoring manifest state")
	cmd.Flags().BoolVar(&autoRepair, "repair", true, "Automatically rebuild the index if it diverges from the manifest")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, forceReindex, autoRepair bool) error {
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
		return fmt.Errorf("load config: %w", err)
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	chunkerOpts := chunk.DefaultCodeChunkerOptions()
	chunkerOpts.WindowSize = cfg.Chunking.MaxLines
	chunkerOpts.WindowOverlap = cfg.Chunking.Overlap
	chunker := chunk.NewCodeChunkerWithOptions(chunkerOpts)
	defer chunker.Close()

	dataDir := config.DataDir(root)
	coordinator, err := index.NewCoordinator(root, dataDir, cfg, embedder, chunker)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	defer func() { _ = coordinator.Close() }()

	if err := coordinator.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}

	var bar *progressbar.ProgressBar
	var stage string
	onProgress := func(snap async.IndexProgressSnapshot) {
		if snap.Stage != stage {
			if bar != nil {
				_ = bar.Finish()
			}
			stage = snap.Stage
			bar = progressbar.NewOptions(max(snap.FilesTotal, snap.ChunksTotal),
				progressbar.OptionSetDescription(stage),
				progressbar.OptionSetWriter(cmd.OutOrStdout()),
				progressbar.OptionClearOnFinish(),
			)
		}
		if bar == nil {
			return
		}
		current := snap.FilesProcessed
		if snap.ChunksTotal > 0 {
			current = snap.ChunksIndexed
		}
		_ = bar.Set(current)
	}

	result, err := coordinator.IndexCodebase(ctx, cfg.Paths.Include, cfg.Paths.Exclude, forceReindex, onProgress, autoRepair)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("index codebase: %w", err)
	}

	mode := "incremental"
	if !result.Incremental {
		mode = "full"
	}
	out.Successf("Indexed %d files, %d chunks (%s)", result.FilesIndexed, result.ChunksCreated, mode)
	if result.Repaired {
		out.Status("", "index was repaired due to a detected inconsistency")
	}

	return nil
}
