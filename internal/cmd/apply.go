package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"backlogsync/pkg/config"
	"backlogsync/pkg/github"
)

var (
	applyFile             string
	applyRepo             string
	applyDryRun           bool
	applyFailOnDuplicates bool
	applyCooldown         time.Duration
	applyInterval         time.Duration
	applyAPIURL           string
	applyVerbose          bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the backlog document to a GitHub repository",
	Long: `Apply the backlog document to a GitHub repository.

Labels are created or updated first, then milestones, then issues. Issues are
matched by the hidden marker <!-- backlog-id: ID --> in their body; a match is
overwritten with the declared title, body, labels and milestone, otherwise a new
issue is created. The run stops at the first failed API call.

CONFIGURATION:

  GITHUB_TOKEN       token with issues: write (required)
  GITHUB_REPOSITORY  owner/name (required unless --repo is given)
  BACKLOG_FILE       backlog document, default issues.yml
  GITHUB_API_URL     API root for GitHub Enterprise

Values can also be set in ~/.backlog-sync/config.yaml. Flags take precedence over
environment variables, which take precedence over the config file.

Examples:
  backlog-sync apply
  backlog-sync apply --file backlog/issues.yml --repo acme/widgets
  backlog-sync apply --dry-run
  backlog-sync apply --fail-on-duplicates --request-interval 500ms`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Backlog document (YAML, JSON or TOML)")
	applyCmd.Flags().StringVar(&applyRepo, "repo", "", "Target repository as owner/name")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Show planned changes without applying them")
	applyCmd.Flags().BoolVar(&applyFailOnDuplicates, "fail-on-duplicates", false, "Fail when more than one issue carries the same backlog id")
	applyCmd.Flags().DurationVar(&applyCooldown, "rate-limit-cooldown", 0, "Wait before retrying a rate-limited request (default 50m)")
	applyCmd.Flags().DurationVar(&applyInterval, "request-interval", 0, "Minimum interval between API requests (default no pacing)")
	applyCmd.Flags().StringVar(&applyAPIURL, "api-url", "", "GitHub API root URL")
	applyCmd.Flags().BoolVarP(&applyVerbose, "verbose", "v", false, "Enable debug logging on stderr")
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr(), applyVerbose)

	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}

	settings, err := config.Resolve(cfg, os.LookupEnv, config.Overrides{
		Repository:        applyRepo,
		BacklogFile:       applyFile,
		APIURL:            applyAPIURL,
		RateLimitCooldown: applyCooldown,
		RequestInterval:   applyInterval,
	})
	if err != nil {
		if errors.Is(err, config.ErrMissingToken) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", github.GetAuthInstructions())
		}
		return err
	}

	backlog, err := github.LoadBacklogConfigFromFile(settings.BacklogFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Repo: %s\n", settings.FullName())
	fmt.Fprintf(out, "Backlog file: %s\n", settings.BacklogFile)
	fmt.Fprintf(out, "Labels: %d, milestones: %d, issues: %d\n", len(backlog.Labels), len(backlog.Milestones), len(backlog.Issues))

	client, err := github.NewClientWithOptions(settings.Token, github.ClientOptions{
		BaseURL:           settings.APIURL,
		RateLimitCooldown: settings.RateLimitCooldown,
		RequestInterval:   settings.RequestInterval,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	logger.Debug("starting backlog sync",
		"repository", settings.FullName(),
		"file", settings.BacklogFile,
		"dry_run", applyDryRun)

	reconciler := github.NewReconciler(client.WithContext(ctx), settings.Owner, settings.Repo, github.ReconcilerOptions{
		Output:               out,
		Logger:               logger,
		FailOnDuplicateMatch: applyFailOnDuplicates,
	})

	return runBacklogApply(out, reconciler, backlog, settings.FullName(), applyDryRun)
}

// runBacklogApply validates, plans, displays and applies the backlog
func runBacklogApply(out io.Writer, reconciler github.Reconciler, backlog *github.BacklogConfig, fullName string, dryRun bool) error {
	decorated := isTerminal(out)

	if err := reconciler.Validate(*backlog); err != nil {
		return fmt.Errorf("backlog validation failed: %w", err)
	}
	fmt.Fprintf(out, "%sBacklog validated\n", mark(decorated, "✓ "))

	plan, err := reconciler.Plan(*backlog)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation plan: %w", err)
	}

	displayPlan(out, plan, fullName, dryRun, decorated)

	if dryRun {
		fmt.Fprintf(out, "\n%sDry-run completed. No changes were applied.\n", mark(decorated, "✓ "))
		return nil
	}

	if !plan.HasChanges() {
		fmt.Fprintf(out, "\n%sRepository is already up to date. No changes needed.\n", mark(decorated, "✓ "))
		fmt.Fprintln(out, "Done. (Idempotent upsert completed)")
		return nil
	}

	fmt.Fprintf(out, "\nApplying changes...\n")
	result, err := reconciler.Apply(plan)
	if err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}

	displaySuccessSummary(out, result, fullName, decorated)
	fmt.Fprintln(out, "Done. (Idempotent upsert completed)")

	return nil
}

// mark returns prefix on a terminal and nothing otherwise
func mark(decorated bool, prefix string) string {
	if decorated {
		return prefix
	}
	return ""
}

// displayPlan shows the planned changes in a human-readable format
func displayPlan(out io.Writer, plan *github.ReconciliationPlan, fullName string, isDryRun, decorated bool) {
	if isDryRun {
		fmt.Fprintf(out, "\n%sDry-run mode: Showing planned changes for %s\n", mark(decorated, "🔍 "), fullName)
	} else {
		fmt.Fprintf(out, "\n%sPlanned changes for %s:\n", mark(decorated, "📋 "), fullName)
	}

	for _, change := range plan.Labels {
		switch change.Type {
		case github.ChangeTypeCreate:
			fmt.Fprintf(out, "  + Label: CREATE %s (#%s)\n", change.After.Name, change.After.Color)
			if change.After.Description != "" {
				fmt.Fprintf(out, "    - Description: %s\n", change.After.Description)
			}
		case github.ChangeTypeUpdate:
			fmt.Fprintf(out, "  ~ Label: UPDATE %s\n", change.After.Name)
			if !strings.EqualFold(change.Before.Color, change.After.Color) {
				fmt.Fprintf(out, "    ~ Color: #%s → #%s\n", change.Before.Color, change.After.Color)
			}
			if change.Before.Description != change.After.Description {
				fmt.Fprintf(out, "    ~ Description: %q → %q\n", change.Before.Description, change.After.Description)
			}
		}
	}

	for _, change := range plan.Milestones {
		switch change.Type {
		case github.ChangeTypeCreate:
			fmt.Fprintf(out, "  + Milestone: CREATE %s (%s)\n", change.After.Title, change.After.State)
		case github.ChangeTypeUpdate:
			fmt.Fprintf(out, "  ~ Milestone: UPDATE %s (#%d)\n", change.After.Title, change.Number)
			if change.Update.State != nil {
				fmt.Fprintf(out, "    ~ State: %s → %s\n", change.Before.State, *change.Update.State)
			}
			if change.Update.Description != nil {
				fmt.Fprintf(out, "    ~ Description: %q → %q\n", change.Before.Description, *change.Update.Description)
			}
		}
	}

	for _, change := range plan.Issues {
		switch change.Type {
		case github.ChangeTypeCreate:
			fmt.Fprintf(out, "  + Issue: CREATE [%s] %s\n", change.BacklogID, change.After.Title)
			if len(change.After.Labels) > 0 {
				fmt.Fprintf(out, "    - Labels: %s\n", strings.Join(change.After.Labels, ", "))
			}
			if change.After.Milestone != "" {
				fmt.Fprintf(out, "    - Milestone: %s\n", change.After.Milestone)
			}
		case github.ChangeTypeUpdate:
			fmt.Fprintf(out, "  ~ Issue: UPDATE [%s] (#%d) %s\n", change.BacklogID, change.Number, change.After.Title)
			displayIssueChanges(out, change.Before, change.After)
		}
	}

	if !plan.HasChanges() {
		fmt.Fprintf(out, "  No changes needed - backlog is up to date\n")
		return
	}

	fmt.Fprintf(out, "\nTotal changes: %d", plan.ChangeCount())
	if plan.Unchanged > 0 {
		fmt.Fprintf(out, " (%d unchanged)", plan.Unchanged)
	}
	fmt.Fprintf(out, "\n")
}

// displayIssueChanges shows which fields of an existing issue will be overwritten
func displayIssueChanges(out io.Writer, before *github.Issue, after *github.BacklogItem) {
	if before == nil {
		return
	}
	if before.Title != after.Title {
		fmt.Fprintf(out, "    ~ Title: %q → %q\n", before.Title, after.Title)
	}
	if before.Body != after.Body {
		fmt.Fprintf(out, "    ~ Body: updated\n")
	}
	if !github.SameLabels(before.Labels, after.Labels) {
		fmt.Fprintf(out, "    ~ Labels: [%s] → [%s]\n", strings.Join(before.Labels, ", "), strings.Join(after.Labels, ", "))
	}
	if after.Milestone != "" {
		fmt.Fprintf(out, "    - Milestone: %s\n", after.Milestone)
	}
}

// displaySuccessSummary shows a summary after successful application
func displaySuccessSummary(out io.Writer, result *github.ApplyResult, fullName string, decorated bool) {
	fmt.Fprintf(out, "\n%sSuccessfully applied changes to %s\n", mark(decorated, "✅ "), fullName)
	fmt.Fprintf(out, "%sApplied %d change(s): %d created, %d updated\n",
		mark(decorated, "📊 "), result.Created+result.Updated, result.Created, result.Updated)
}
