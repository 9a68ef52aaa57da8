package github

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ReconcilerOptions configures a reconciler
type ReconcilerOptions struct {
	// Output receives one progress line per applied change. Defaults to io.Discard.
	Output io.Writer

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// FailOnDuplicateMatch makes more than one issue carrying the same backlog
	// marker a fatal error instead of a warning.
	FailOnDuplicateMatch bool
}

// reconciler implements the Reconciler interface
type reconciler struct {
	client   APIClient
	owner    string
	repoName string
	out      io.Writer
	logger   *slog.Logger
	strict   bool
}

// NewReconciler creates a new reconciler instance for owner/repoName
func NewReconciler(client APIClient, owner, repoName string, opts ReconcilerOptions) Reconciler {
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &reconciler{
		client:   client,
		owner:    owner,
		repoName: repoName,
		out:      opts.Output,
		logger:   opts.Logger,
		strict:   opts.FailOnDuplicateMatch,
	}
}

// Plan creates a reconciliation plan by comparing the backlog with the current repository state.
// It performs read calls only.
func (r *reconciler) Plan(config BacklogConfig) (*ReconciliationPlan, error) {
	plan := &ReconciliationPlan{
		MilestoneNumbers: make(map[string]int),
	}

	if len(config.Labels) > 0 {
		labelChanges, unchanged, err := r.planLabelChanges(config.Labels)
		if err != nil {
			return nil, fmt.Errorf("failed to plan label changes: %w", err)
		}
		plan.Labels = labelChanges
		plan.Unchanged += unchanged
	}

	if len(config.Milestones) > 0 {
		milestoneChanges, unchanged, err := r.planMilestoneChanges(config.Milestones, plan.MilestoneNumbers)
		if err != nil {
			return nil, fmt.Errorf("failed to plan milestone changes: %w", err)
		}
		plan.Milestones = milestoneChanges
		plan.Unchanged += unchanged
	}

	declared := make(map[string]bool, len(config.Milestones))
	for _, milestone := range config.Milestones {
		declared[milestone.Title] = true
	}

	for _, item := range config.Issues {
		change, err := r.planIssueChange(item, declared, plan.MilestoneNumbers)
		if err != nil {
			return nil, fmt.Errorf("failed to plan issue changes: %w", err)
		}
		if change == nil {
			plan.Unchanged++
			continue
		}
		plan.Issues = append(plan.Issues, *change)
	}

	return plan, nil
}

// Apply executes the reconciliation plan in order: labels, milestones, issues.
// It stops at the first failure.
func (r *reconciler) Apply(plan *ReconciliationPlan) (*ApplyResult, error) {
	result := &ApplyResult{
		MilestoneNumbers: make(map[string]int, len(plan.MilestoneNumbers)),
	}
	for title, number := range plan.MilestoneNumbers {
		result.MilestoneNumbers[title] = number
	}

	for _, change := range plan.Labels {
		if err := r.applyLabelChange(change); err != nil {
			return result, err
		}
		r.count(result, change.Type)
	}

	for _, change := range plan.Milestones {
		number, err := r.applyMilestoneChange(change)
		if err != nil {
			return result, err
		}
		result.MilestoneNumbers[change.After.Title] = number
		r.count(result, change.Type)
	}

	for _, change := range plan.Issues {
		if err := r.applyIssueChange(change, result.MilestoneNumbers); err != nil {
			return result, err
		}
		r.count(result, change.Type)
	}

	return result, nil
}

// Validate validates the backlog document
func (r *reconciler) Validate(config BacklogConfig) error {
	return config.Validate()
}

func (r *reconciler) count(result *ApplyResult, changeType ChangeType) {
	switch changeType {
	case ChangeTypeCreate:
		result.Created++
	case ChangeTypeUpdate:
		result.Updated++
	}
}

// planLabelChanges diffs desired labels against existing ones by name
func (r *reconciler) planLabelChanges(desired []Label) ([]LabelChange, int, error) {
	existing, err := r.client.ListLabels(r.owner, r.repoName)
	if err != nil {
		return nil, 0, err
	}

	byName := make(map[string]*Label, len(existing))
	for i := range existing {
		byName[existing[i].Name] = &existing[i]
	}

	var changes []LabelChange
	unchanged := 0

	for i := range desired {
		want := desired[i]
		want.Color = NormalizeColor(want.Color)

		current, exists := byName[want.Name]
		if !exists {
			changes = append(changes, LabelChange{
				Type:  ChangeTypeCreate,
				After: &want,
			})
			continue
		}

		if r.labelsEqual(current, &want) {
			unchanged++
			continue
		}

		changes = append(changes, LabelChange{
			Type:   ChangeTypeUpdate,
			Before: current,
			After:  &want,
		})
	}

	return changes, unchanged, nil
}

// planMilestoneChanges diffs desired milestones against all existing ones by title.
// Numbers of existing matches are recorded in numbers.
func (r *reconciler) planMilestoneChanges(desired []Milestone, numbers map[string]int) ([]MilestoneChange, int, error) {
	existing, err := r.client.ListMilestones(r.owner, r.repoName)
	if err != nil {
		return nil, 0, err
	}

	byTitle := make(map[string]*Milestone, len(existing))
	for i := range existing {
		if _, seen := byTitle[existing[i].Title]; !seen {
			byTitle[existing[i].Title] = &existing[i]
		}
	}

	var changes []MilestoneChange
	unchanged := 0

	for i := range desired {
		want := desired[i]
		if want.State == "" {
			want.State = MilestoneStateOpen
		}

		current, exists := byTitle[want.Title]
		if !exists {
			changes = append(changes, MilestoneChange{
				Type:  ChangeTypeCreate,
				After: &want,
			})
			continue
		}

		numbers[want.Title] = current.Number
		want.Number = current.Number

		update := r.milestoneUpdate(current, &want)
		if update.IsEmpty() {
			unchanged++
			continue
		}

		changes = append(changes, MilestoneChange{
			Type:   ChangeTypeUpdate,
			Number: current.Number,
			Before: current,
			After:  &want,
			Update: update,
		})
	}

	return changes, unchanged, nil
}

// planIssueChange looks up a backlog item by its marker and decides create, update or nothing.
// A nil change means the remote issue already matches.
func (r *reconciler) planIssueChange(item BacklogItem, declared map[string]bool, numbers map[string]int) (*IssueChange, error) {
	if strings.TrimSpace(item.ID) == "" {
		return nil, NewGitHubError(ErrorTypeValidation, "every issue must have an 'id' field for idempotency", nil)
	}

	if item.Milestone != "" && !declared[item.Milestone] {
		return nil, NewGitHubError(ErrorTypeValidation,
			fmt.Sprintf("issue %s references unknown milestone: %s", item.ID, item.Milestone), nil)
	}

	want := item
	want.Body = NormalizeIssueBody(item.ID, item.Body)

	matches, err := r.client.SearchIssuesByBacklogID(r.owner, r.repoName, item.ID)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return &IssueChange{
			Type:      ChangeTypeCreate,
			BacklogID: item.ID,
			After:     &want,
		}, nil
	}

	if len(matches) > 1 {
		numbersFound := make([]string, 0, len(matches))
		for _, match := range matches {
			numbersFound = append(numbersFound, fmt.Sprintf("#%d", match.Number))
		}
		if r.strict {
			return nil, &GitHubError{
				Type:     ErrorTypeConflict,
				Message:  fmt.Sprintf("backlog id %s is carried by %d issues: %s", item.ID, len(matches), strings.Join(numbersFound, ", ")),
				Resource: fmt.Sprintf("issue %s", item.ID),
			}
		}
		r.logger.Warn("multiple issues carry the same backlog marker, using the first search result",
			"backlog_id", item.ID,
			"issues", strings.Join(numbersFound, ", "))
	}

	current := matches[0]

	milestoneNumber, milestoneKnown := numbers[want.Milestone]
	if r.issueMatches(&current, &want, milestoneNumber, milestoneKnown) {
		return nil, nil
	}

	return &IssueChange{
		Type:      ChangeTypeUpdate,
		BacklogID: item.ID,
		Number:    current.Number,
		Before:    &current,
		After:     &want,
	}, nil
}

// Helper functions for applying changes

func (r *reconciler) applyLabelChange(change LabelChange) error {
	switch change.Type {
	case ChangeTypeCreate:
		fmt.Fprintf(r.out, "Creating label: %s\n", change.After.Name)
		return r.client.CreateLabel(r.owner, r.repoName, *change.After)
	case ChangeTypeUpdate:
		fmt.Fprintf(r.out, "Updating label: %s\n", change.After.Name)
		return r.client.UpdateLabel(r.owner, r.repoName, change.Before.Name, *change.After)
	default:
		return fmt.Errorf("unsupported label change type: %s", change.Type)
	}
}

func (r *reconciler) applyMilestoneChange(change MilestoneChange) (int, error) {
	switch change.Type {
	case ChangeTypeCreate:
		fmt.Fprintf(r.out, "Creating milestone: %s\n", change.After.Title)
		created, err := r.client.CreateMilestone(r.owner, r.repoName, *change.After)
		if err != nil {
			return 0, err
		}
		return created.Number, nil
	case ChangeTypeUpdate:
		fmt.Fprintf(r.out, "Updating milestone: %s\n", change.After.Title)
		return change.Number, r.client.UpdateMilestone(r.owner, r.repoName, change.Number, change.Update)
	default:
		return 0, fmt.Errorf("unsupported milestone change type: %s", change.Type)
	}
}

func (r *reconciler) applyIssueChange(change IssueChange, numbers map[string]int) error {
	request := IssueRequest{
		Title:  change.After.Title,
		Body:   change.After.Body,
		Labels: change.After.Labels,
	}

	if change.After.Milestone != "" {
		number, ok := numbers[change.After.Milestone]
		if !ok {
			return NewGitHubError(ErrorTypeValidation,
				fmt.Sprintf("issue %s references unknown milestone: %s", change.BacklogID, change.After.Milestone), nil)
		}
		request.Milestone = &number
	}

	switch change.Type {
	case ChangeTypeCreate:
		fmt.Fprintf(r.out, "Creating issue [%s]: %s\n", change.BacklogID, change.After.Title)
		_, err := r.client.CreateIssue(r.owner, r.repoName, request)
		return err
	case ChangeTypeUpdate:
		fmt.Fprintf(r.out, "Updating issue [%s] (#%d): %s\n", change.BacklogID, change.Number, change.After.Title)
		return r.client.UpdateIssue(r.owner, r.repoName, change.Number, request)
	default:
		return fmt.Errorf("unsupported issue change type: %s", change.Type)
	}
}

// Helper comparison functions

func (r *reconciler) labelsEqual(current, desired *Label) bool {
	return strings.EqualFold(current.Color, desired.Color) &&
		current.Description == desired.Description
}

// milestoneUpdate returns the fields of desired that differ from current
func (r *reconciler) milestoneUpdate(current, desired *Milestone) MilestoneUpdate {
	var update MilestoneUpdate
	if current.Description != desired.Description {
		description := desired.Description
		update.Description = &description
	}
	if current.State != desired.State {
		state := desired.State
		update.State = &state
	}
	return update
}

// issueMatches reports whether the remote issue already has the desired title, body,
// labels and milestone. A milestone that does not exist yet never matches.
func (r *reconciler) issueMatches(current *Issue, desired *BacklogItem, milestoneNumber int, milestoneKnown bool) bool {
	if current.Title != desired.Title || current.Body != desired.Body {
		return false
	}

	if !SameLabels(current.Labels, desired.Labels) {
		return false
	}

	if desired.Milestone != "" {
		return milestoneKnown && current.MilestoneNumber == milestoneNumber
	}

	return true
}

// SameLabels reports whether a and b hold the same label names, ignoring order and repeats
func SameLabels(a, b []string) bool {
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[s] = true
	}

	if len(setA) != len(setB) {
		return false
	}

	for s := range setA {
		if !setB[s] {
			return false
		}
	}
	return true
}
