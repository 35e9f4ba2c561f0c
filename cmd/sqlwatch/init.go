package main

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sznuper/sqlwatch/internal/config"
)

//go:embed skeleton
var skeleton embed.FS

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter configuration",
	Long: "Writes config.yaml and a queries/ directory with example probes into dir " +
		"(default ~/.config/sqlwatch). Existing files are kept unless --force is given.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			paths := config.DefaultConfigPaths()
			dir = filepath.Dir(paths[0])
		}

		written, err := writeSkeleton(dir, force)
		for _, p := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
		}
		return err
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

// writeSkeleton copies the embedded starter config into dir and returns the
// files it wrote.
func writeSkeleton(dir string, force bool) ([]string, error) {
	var written []string
	err := fs.WalkDir(skeleton, "skeleton", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel("skeleton", path)
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if _, err := os.Stat(target); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", target)
		}
		data, err := skeleton.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		written = append(written, target)
		return nil
	})
	return written, err
}
