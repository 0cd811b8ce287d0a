package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/configs"
	"github.com/codeindex/codeindex/internal/config"
	"github.com/codeindex/codeindex/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a .codeindex.yaml project configuration",
		Long: `Writes a commented .codeindex.yaml template into the project root,
covering the version-controlled settings (paths, chunking, search weights).

Run 'codeindex index' afterward to build the index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing .codeindex.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
	}

	path := filepath.Join(root, ".codeindex.yaml")
	if _, statErr := os.Stat(path); statErr == nil && !force {
		out.Statusf("", ".codeindex.yaml already exists at %s (use --force to overwrite)", path)
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	out.Successf("Wrote %s", path)
	out.Status("", "Run 'codeindex index' to build the index")

	return nil
}
