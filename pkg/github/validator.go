package github

import (
	"fmt"
	"net/http"
)

// Validator checks that the target repository can receive the backlog
type Validator struct {
	client *Client
}

// NewValidator creates a new validator with GitHub API access
func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

// ValidateRepository checks that owner/repo exists, is visible to the token and has issues enabled
func (v *Validator) ValidateRepository(owner, repo string) error {
	repository, err := v.client.GetRepository(owner, repo)
	if err != nil {
		if ghErr := WrapGitHubError(err, ""); ghErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("repository '%s/%s' does not exist or the token cannot see it", owner, repo)
		}
		return fmt.Errorf("failed to validate repository '%s/%s': %w", owner, repo, err)
	}

	if !repository.GetHasIssues() {
		return fmt.Errorf("repository '%s/%s' has issues disabled", owner, repo)
	}

	if repository.GetArchived() {
		return fmt.Errorf("repository '%s/%s' is archived and read-only", owner, repo)
	}

	if perms := repository.Permissions; len(perms) > 0 && !perms["push"] && !perms["maintain"] && !perms["admin"] {
		return fmt.Errorf("insufficient permissions: write access required for repository '%s/%s'", owner, repo)
	}

	return nil
}
