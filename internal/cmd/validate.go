package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"backlogsync/pkg/config"
	"backlogsync/pkg/github"
)

var (
	validateFile   string
	validateRepo   string
	validateRemote bool
	validateAPIURL string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the backlog document",
	Long: `Validate the backlog document without touching GitHub.

Checks for duplicate label names, milestone titles and issue ids, invalid label
colors and milestone states, missing ids and titles, and issues that reference
milestones not declared in the document.

With --remote, also checks that the token is valid and that the target repository
exists, is not archived and has issues enabled.

Examples:
  backlog-sync validate
  backlog-sync validate --file backlog.toml
  backlog-sync validate --remote --repo acme/widgets`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "Backlog document (YAML, JSON or TOML)")
	validateCmd.Flags().StringVar(&validateRepo, "repo", "", "Target repository as owner/name (with --remote)")
	validateCmd.Flags().BoolVar(&validateRemote, "remote", false, "Also check the token and target repository")
	validateCmd.Flags().StringVar(&validateAPIURL, "api-url", "", "GitHub API root URL (with --remote)")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	decorated := isTerminal(out)

	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}

	file := config.ResolveBacklogFile(cfg, os.LookupEnv, validateFile)
	backlog, err := github.LoadBacklogConfigFromFile(file)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%sBacklog file %s is valid\n", mark(decorated, "✓ "), file)
	fmt.Fprintf(out, "  Labels: %d, milestones: %d, issues: %d\n", len(backlog.Labels), len(backlog.Milestones), len(backlog.Issues))

	if !validateRemote {
		return nil
	}

	settings, err := config.Resolve(cfg, os.LookupEnv, config.Overrides{
		Repository:  validateRepo,
		BacklogFile: file,
		APIURL:      validateAPIURL,
	})
	if err != nil {
		if errors.Is(err, config.ErrMissingToken) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", github.GetAuthInstructions())
		}
		return err
	}

	client, err := github.NewClientWithOptions(settings.Token, github.ClientOptions{
		BaseURL: settings.APIURL,
		Logger:  newLogger(cmd.ErrOrStderr(), false),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client = client.WithContext(ctx)

	tokenInfo, err := client.Authenticate()
	if err != nil {
		return err
	}
	if tokenInfo.User != "" {
		fmt.Fprintf(out, "%sAuthenticated as %s\n", mark(decorated, "✓ "), tokenInfo.User)
	}
	if err := tokenInfo.CheckScopes(); err != nil {
		return err
	}

	if err := github.NewValidator(client).ValidateRepository(settings.Owner, settings.Repo); err != nil {
		return err
	}
	fmt.Fprintf(out, "%sRepository %s is ready for backlog sync\n", mark(decorated, "✓ "), settings.FullName())

	return nil
}
