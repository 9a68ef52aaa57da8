package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"backlogsync/pkg/config"
)

var (
	initFile   string
	initForce  bool
	initConfig bool
)

// starterBacklog is written by init as a template to edit
const starterBacklog = `# Backlog document for backlog-sync.
# Every issue needs a unique id; it is stored as a hidden marker in the issue body
# so repeated runs update the same issue instead of creating a new one.

labels:
  - name: bug
    color: d73a4a
    description: Something isn't working
  - name: enhancement
    color: a2eeef
    description: New feature or request

milestones:
  - title: v0.1
    description: First usable release
    state: open

issues:
  - id: SETUP-1
    title: Set up continuous integration
    body: |
      Run the test suite on every pull request.
    labels: [enhancement]
    milestone: v0.1
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter backlog document",
	Long: `Create a starter backlog document to edit.

With --config, also create ~/.backlog-sync/config.yaml with default settings.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initFile, "file", "f", config.DefaultBacklogFile, "Path of the backlog document to create")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file without asking")
	initCmd.Flags().BoolVar(&initConfig, "config", false, "Also create the backlog-sync configuration file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	written, err := writeIfConfirmed(cmd, initFile, func() error {
		if dir := filepath.Dir(initFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		}
		if err := os.WriteFile(initFile, []byte(starterBacklog), 0644); err != nil {
			return fmt.Errorf("failed to write backlog file: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(out, "Backlog file created at: %s\n", initFile)
	}

	if !initConfig {
		return nil
	}

	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	written, err = writeIfConfirmed(cmd, configPath, func() error {
		defaultConfig := &config.Config{
			GitHub: config.GitHubConfig{
				Repository: "your-org/your-repo",
			},
			Backlog: config.BacklogConfig{
				File: initFile,
			},
		}
		if err := defaultConfig.SaveConfigToPath(configPath); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
		fmt.Fprintln(out, "Please edit the file to set your repository. Keep GITHUB_TOKEN in the environment.")
	}

	return nil
}

// writeIfConfirmed runs write unless path exists and the user declines to overwrite it
func writeIfConfirmed(cmd *cobra.Command, path string, write func() error) (bool, error) {
	if _, err := os.Stat(path); err == nil && !initForce {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "File already exists at: %s\n", path)
		fmt.Fprint(out, "Do you want to overwrite it? (y/N): ")

		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Initialization cancelled.")
			return false, nil
		}
	}

	if err := write(); err != nil {
		return false, err
	}
	return true, nil
}
