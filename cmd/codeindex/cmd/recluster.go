package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/internal/cluster"
	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/output"
	"github.com/codeindex/codeindex/internal/store"
)

func newReclusterCmd() *cobra.Command {
	var force bool
	var k int

	cmd := &cobra.Command{
		Use:   "recluster",
		Short: "Rebuild the concept clusters over the indexed chunks",
		Long: `Groups indexed chunks into concept clusters via k-means over their
embeddings, labeling each cluster by its most distinctive keywords. The
sidecar is reused across runs unless the index has drifted enough to need
a rebuild, or --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecluster(cmd.Context(), cmd, force, k)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild clusters even if the existing sidecar is still fresh")
	cmd.Flags().IntVar(&k, "k", 0, "Number of clusters (0 chooses automatically from chunk count)")

	return cmd
}

func runRecluster(ctx context.Context, cmd *cobra.Command, force bool, k int) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	dataDir := config.DataDir(root)
	if _, statErr := os.Stat(dataDir); os.IsNotExist(statErr) {
		return fmt.Errorf("no index found in %s\nRun 'codeindex index' to create one", root)
	}

	adapter, err := store.OpenOrCreate(filepath.Join(dataDir, "store"), 0)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer func() { _ = adapter.Close() }()

	opts := cluster.DefaultOptions()
	if k > 0 {
		opts.K = k
	} else {
		opts.K = cluster.ChooseK(adapter.Count())
	}

	sidecar, err := cluster.Recluster(ctx, adapter, dataDir, opts, force)
	if err != nil {
		return fmt.Errorf("recluster: %w", err)
	}

	out.Successf("Built %d concepts over %d chunks (silhouette: %.3f)",
		len(sidecar.Concepts), sidecar.ChunkCount, sidecar.Silhouette)

	return nil
}
