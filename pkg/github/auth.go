package github

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
)

// TokenInfo contains information about the authenticated token
type TokenInfo struct {
	User   string   `json:"user"`
	Scopes []string `json:"scopes"`
}

// Authenticate resolves the user behind the token and its OAuth scopes.
// Installation and fine-grained tokens report no scopes.
func (c *Client) Authenticate() (*TokenInfo, error) {
	var user *github.User
	var resp *github.Response
	err := c.call(func(gh *github.Client) error {
		var err error
		user, resp, err = gh.Users.Get(c.ctx, "")
		return err
	})
	if err != nil {
		wrapped := WrapGitHubError(err, "authenticated user")
		// Actions installation tokens cannot read /user
		if wrapped.Type == ErrorTypePermission && wrapped.StatusCode == http.StatusForbidden {
			return &TokenInfo{}, nil
		}
		return nil, fmt.Errorf("failed to validate GitHub token: %w", wrapped)
	}

	info := &TokenInfo{User: user.GetLogin()}
	if resp != nil {
		if header := resp.Header.Get("X-OAuth-Scopes"); header != "" {
			info.Scopes = strings.Split(strings.ReplaceAll(header, " ", ""), ",")
		}
	}

	return info, nil
}

// CheckScopes verifies that a classic token can write issues.
// Tokens without reported scopes are accepted.
func (ti *TokenInfo) CheckScopes() error {
	if len(ti.Scopes) == 0 {
		return nil
	}

	for _, scope := range ti.Scopes {
		if scope == "repo" || scope == "public_repo" {
			return nil
		}
	}

	return fmt.Errorf("GitHub token missing required permissions: has %s, needs repo or public_repo",
		strings.Join(ti.Scopes, ", "))
}

// GetAuthInstructions returns instructions for setting up GitHub authentication
func GetAuthInstructions() string {
	return `GitHub authentication is required. Please set up authentication using one of the following methods:

1. GitHub Actions:
   env:
     GITHUB_TOKEN: ${{ secrets.GITHUB_TOKEN }}
   permissions:
     issues: write

2. Environment Variable:
   export GITHUB_TOKEN="your_personal_access_token"

3. Configuration File:
   Add the following to ~/.backlog-sync/config.yaml:

   github:
     token: "your_personal_access_token"

A classic personal access token needs the 'repo' scope (or 'public_repo' for public repositories).
A fine-grained token needs read and write access to Issues on the target repository.`
}
