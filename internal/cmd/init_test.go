package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlogsync/pkg/config"
	"backlogsync/pkg/github"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestStarterBacklogIsValid(t *testing.T) {
	backlog, err := github.LoadBacklogConfig([]byte(starterBacklog))

	require.NoError(t, err)
	assert.Len(t, backlog.Labels, 2)
	assert.Len(t, backlog.Milestones, 1)
	assert.Len(t, backlog.Issues, 1)
}

func TestInitCommand_CreatesBacklog(t *testing.T) {
	isolateEnvironment(t)
	file := filepath.Join(t.TempDir(), "backlog", "issues.yml")

	output, _, err := executeCommand(t, "", "init", "--file", file)

	require.NoError(t, err)
	assert.Contains(t, output, "Backlog file created at: "+file)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, starterBacklog, string(data))
}

func TestInitCommand_ExistingFile(t *testing.T) {
	tests := []struct {
		name        string
		stdin       string
		args        []string
		overwritten bool
	}{
		{name: "declined", stdin: "n\n", overwritten: false},
		{name: "empty answer", stdin: "\n", overwritten: false},
		{name: "confirmed", stdin: "y\n", overwritten: true},
		{name: "forced", args: []string{"--force"}, overwritten: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnvironment(t)
			file := filepath.Join(t.TempDir(), "issues.yml")
			require.NoError(t, writeFile(file, "issues: []\n"))

			args := append([]string{"init", "--file", file}, tt.args...)
			output, _, err := executeCommand(t, tt.stdin, args...)
			require.NoError(t, err)

			data, err := os.ReadFile(file)
			require.NoError(t, err)

			if tt.overwritten {
				assert.Equal(t, starterBacklog, string(data))
				return
			}
			assert.Equal(t, "issues: []\n", string(data))
			assert.Contains(t, output, "Initialization cancelled.")
		})
	}
}

func TestInitCommand_WritesConfig(t *testing.T) {
	home := isolateEnvironment(t)
	file := filepath.Join(t.TempDir(), "issues.yml")

	output, _, err := executeCommand(t, "", "init", "--file", file, "--config")

	require.NoError(t, err)
	configPath := filepath.Join(home, ".backlog-sync", "config.yaml")
	assert.Contains(t, output, "Configuration file created at: "+configPath)

	cfg, err := config.LoadConfigFromPath(configPath)
	require.NoError(t, err)
	assert.Equal(t, "your-org/your-repo", cfg.GitHub.Repository)
	assert.Equal(t, file, cfg.Backlog.File)
	assert.Empty(t, cfg.GitHub.Token)
}
