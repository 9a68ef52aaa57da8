package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"backlogsync/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "backlog-sync",
	Short: "Synchronize a declarative backlog into GitHub labels, milestones and issues",
	Long: `backlog-sync reads a backlog document (issues.yml) describing labels, milestones
and issues, and reconciles a GitHub repository so it matches.

Runs are idempotent: every issue carries a hidden backlog-id marker in its body,
so running the same document again updates issues in place instead of creating
duplicates. Nothing is ever deleted.

Typical use is a GitHub Actions workflow with GITHUB_TOKEN and GITHUB_REPOSITORY
set by the runner.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with status 1 on failure
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
}

// loadFileConfig reads ~/.backlog-sync/config.yaml; a missing file yields an empty config
func loadFileConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load backlog-sync config: %w", err)
	}
	return cfg, nil
}

// newLogger returns the diagnostic logger; verbose enables debug records
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
