package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the public GitHub REST API root
const DefaultBaseURL = "https://api.github.com/"

// userAgent identifies backlog-sync to GitHub
const userAgent = "backlog-sync"

// searchResultLimit is the number of results GitHub search serves for one query
const searchResultLimit = 1000

// ClientOptions configures a Client
type ClientOptions struct {
	// BaseURL is the REST API root. Defaults to DefaultBaseURL.
	BaseURL string

	// RateLimitCooldown is the fixed wait before retrying a rate-limited request.
	// Defaults to DefaultRateLimitCooldown.
	RateLimitCooldown time.Duration

	// RequestInterval paces requests when positive
	RequestInterval time.Duration

	// BaseTransport is the innermost round tripper. Defaults to http.DefaultTransport.
	BaseTransport http.RoundTripper

	// Sleep replaces the cooldown sleep, mostly for tests
	Sleep SleepFunc

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Client implements the APIClient interface using the GitHub REST API
type Client struct {
	conn *connection
	ctx  context.Context
}

// connection is the go-github state shared by clients derived with WithContext
type connection struct {
	mu        sync.Mutex
	gh        *github.Client
	transport *RateLimitTransport
	logger    *slog.Logger
}

// NewClient creates a new GitHub API client with the provided token and default options
func NewClient(token string) *Client {
	return newClient(token, ClientOptions{})
}

// NewClientWithOptions creates a new GitHub API client
func NewClientWithOptions(token string, opts ClientOptions) (*Client, error) {
	client := newClient(token, opts)

	if opts.BaseURL != "" && opts.BaseURL != DefaultBaseURL {
		baseURL, err := parseBaseURL(opts.BaseURL)
		if err != nil {
			return nil, err
		}
		client.conn.gh.BaseURL = baseURL
	}

	return client, nil
}

func newClient(token string, opts ClientOptions) *Client {
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := NewRateLimitTransport(opts.BaseTransport, opts.RateLimitCooldown, opts.RequestInterval, opts.Logger)
	if opts.Sleep != nil {
		limiter.sleep = opts.Sleep
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: limiter},
	}

	gh := github.NewClient(tc)
	gh.UserAgent = userAgent

	return &Client{
		conn: &connection{
			gh:        gh,
			transport: limiter,
			logger:    opts.Logger,
		},
		ctx: context.Background(),
	}
}

// WithContext returns a new client bound to ctx
func (c *Client) WithContext(ctx context.Context) *Client {
	return &Client{
		conn: c.conn,
		ctx:  ctx,
	}
}

// api returns the current go-github client
func (c *Client) api() *github.Client {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	return c.conn.gh
}

// reset replaces the go-github client with one that has no recorded rate limits
func (cn *connection) reset() {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	old := cn.gh
	fresh := github.NewClient(old.Client())
	fresh.BaseURL = old.BaseURL
	fresh.UploadURL = old.UploadURL
	fresh.UserAgent = old.UserAgent
	cn.gh = fresh
}

// call runs fn against go-github. go-github answers locally, without sending
// anything, once a response has reported the rate limit as used up. In that
// case the cooldown is waited out once and fn runs again on fresh client state,
// so the request reaches RateLimitTransport.
func (c *Client) call(fn func(gh *github.Client) error) error {
	sent := c.conn.transport.Requests()
	err := fn(c.api())
	if err == nil || c.conn.transport.Requests() != sent || !isRateLimitError(err) {
		return err
	}

	c.conn.logger.Warn("GitHub client is holding requests until the rate limit resets, sleeping before a single retry",
		"cooldown", c.conn.transport.cooldown)

	if err := c.conn.transport.Cooldown(c.ctx); err != nil {
		return fmt.Errorf("rate limit cooldown interrupted: %w", err)
	}

	c.conn.reset()
	return fn(c.api())
}

func isRateLimitError(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	return errors.As(err, &rateErr) || errors.As(err, &abuseErr)
}

// parseBaseURL parses an API root and ensures the trailing slash go-github requires
func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid GitHub API URL %q: scheme must be http or https", raw)
	}
	return u, nil
}

// GetRepository retrieves a repository by owner and name
func (c *Client) GetRepository(owner, name string) (*github.Repository, error) {
	var repo *github.Repository
	err := c.call(func(gh *github.Client) error {
		var err error
		repo, _, err = gh.Repositories.Get(c.ctx, owner, name)
		return err
	})
	if err != nil {
		return nil, WrapGitHubError(err, fmt.Sprintf("repository %s/%s", owner, name))
	}
	return repo, nil
}

// ListLabels lists all labels for a repository
func (c *Client) ListLabels(owner, name string) ([]Label, error) {
	return CollectPages(func(opts github.ListOptions) ([]Label, error) {
		var labels []*github.Label
		err := c.call(func(gh *github.Client) error {
			var err error
			labels, _, err = gh.Issues.ListLabels(c.ctx, owner, name, &opts)
			return err
		})
		if err != nil {
			return nil, WrapGitHubError(err, fmt.Sprintf("labels for %s/%s", owner, name))
		}

		page := make([]Label, 0, len(labels))
		for _, label := range labels {
			page = append(page, Label{
				Name:        label.GetName(),
				Color:       label.GetColor(),
				Description: label.GetDescription(),
			})
		}
		return page, nil
	})
}

// CreateLabel creates a label
func (c *Client) CreateLabel(owner, name string, label Label) error {
	err := c.call(func(gh *github.Client) error {
		_, _, err := gh.Issues.CreateLabel(c.ctx, owner, name, &github.Label{
			Name:        github.String(label.Name),
			Color:       github.String(label.Color),
			Description: github.String(label.Description),
		})
		return err
	})
	if err != nil {
		return WrapGitHubError(err, fmt.Sprintf("label %s for %s/%s", label.Name, owner, name))
	}
	return nil
}

// labelEditRequest is the PATCH body for a label; GitHub names the rename field new_name
type labelEditRequest struct {
	NewName     string `json:"new_name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// UpdateLabel updates the label currently named current
func (c *Client) UpdateLabel(owner, name, current string, label Label) error {
	u := fmt.Sprintf("repos/%s/%s/labels/%s", owner, name, url.PathEscape(current))
	body := &labelEditRequest{
		NewName:     label.Name,
		Color:       label.Color,
		Description: label.Description,
	}

	err := c.call(func(gh *github.Client) error {
		req, err := gh.NewRequest(http.MethodPatch, u, body)
		if err != nil {
			return fmt.Errorf("failed to build label request: %w", err)
		}
		_, err = gh.Do(c.ctx, req, nil)
		return err
	})
	if err != nil {
		return WrapGitHubError(err, fmt.Sprintf("label %s for %s/%s", current, owner, name))
	}
	return nil
}

// ListMilestones lists all milestones, open and closed
func (c *Client) ListMilestones(owner, name string) ([]Milestone, error) {
	return CollectPages(func(opts github.ListOptions) ([]Milestone, error) {
		var milestones []*github.Milestone
		err := c.call(func(gh *github.Client) error {
			var err error
			milestones, _, err = gh.Issues.ListMilestones(c.ctx, owner, name, &github.MilestoneListOptions{
				State:       "all",
				ListOptions: opts,
			})
			return err
		})
		if err != nil {
			return nil, WrapGitHubError(err, fmt.Sprintf("milestones for %s/%s", owner, name))
		}

		page := make([]Milestone, 0, len(milestones))
		for _, milestone := range milestones {
			page = append(page, convertGitHubMilestone(milestone))
		}
		return page, nil
	})
}

// CreateMilestone creates a milestone and returns it with its assigned number
func (c *Client) CreateMilestone(owner, name string, milestone Milestone) (*Milestone, error) {
	var created *github.Milestone
	err := c.call(func(gh *github.Client) error {
		var err error
		created, _, err = gh.Issues.CreateMilestone(c.ctx, owner, name, &github.Milestone{
			Title:       github.String(milestone.Title),
			Description: github.String(milestone.Description),
			State:       github.String(milestone.State),
		})
		return err
	})
	if err != nil {
		return nil, WrapGitHubError(err, fmt.Sprintf("milestone %s for %s/%s", milestone.Title, owner, name))
	}

	result := convertGitHubMilestone(created)
	return &result, nil
}

// UpdateMilestone patches only the fields set in update
func (c *Client) UpdateMilestone(owner, name string, number int, update MilestoneUpdate) error {
	err := c.call(func(gh *github.Client) error {
		_, _, err := gh.Issues.EditMilestone(c.ctx, owner, name, number, &github.Milestone{
			Description: update.Description,
			State:       update.State,
		})
		return err
	})
	if err != nil {
		return WrapGitHubError(err, fmt.Sprintf("milestone %d for %s/%s", number, owner, name))
	}
	return nil
}

// SearchIssuesByBacklogID finds issues whose body carries the backlog marker,
// in search result order. The phrase search also returns near misses such as
// longer ids, so every result page is read before filtering on the exact marker.
func (c *Client) SearchIssuesByBacklogID(owner, name, backlogID string) ([]Issue, error) {
	query := fmt.Sprintf(`repo:%s/%s "backlog-id: %s" in:body type:issue`, owner, name, backlogID)

	results, err := CollectPages(func(opts github.ListOptions) ([]*github.Issue, error) {
		if (opts.Page-1)*opts.PerPage >= searchResultLimit {
			return nil, nil
		}

		var result *github.IssuesSearchResult
		err := c.call(func(gh *github.Client) error {
			var err error
			result, _, err = gh.Search.Issues(c.ctx, query, &github.SearchOptions{ListOptions: opts})
			return err
		})
		if err != nil {
			return nil, WrapGitHubError(err, fmt.Sprintf("issue search for %s in %s/%s", backlogID, owner, name))
		}
		return result.Issues, nil
	})
	if err != nil {
		return nil, err
	}

	marker := Marker(backlogID)
	var issues []Issue
	for _, issue := range results {
		if issue.IsPullRequest() || !strings.Contains(issue.GetBody(), marker) {
			continue
		}
		issues = append(issues, convertGitHubIssue(issue))
	}
	return issues, nil
}

// CreateIssue creates an issue
func (c *Client) CreateIssue(owner, name string, request IssueRequest) (*Issue, error) {
	var created *github.Issue
	err := c.call(func(gh *github.Client) error {
		var err error
		created, _, err = gh.Issues.Create(c.ctx, owner, name, buildIssueRequest(request))
		return err
	})
	if err != nil {
		return nil, WrapGitHubError(err, fmt.Sprintf("issue %q for %s/%s", request.Title, owner, name))
	}

	result := convertGitHubIssue(created)
	return &result, nil
}

// UpdateIssue overwrites title, body, labels and, when set, milestone of an issue
func (c *Client) UpdateIssue(owner, name string, number int, request IssueRequest) error {
	err := c.call(func(gh *github.Client) error {
		_, _, err := gh.Issues.Edit(c.ctx, owner, name, number, buildIssueRequest(request))
		return err
	})
	if err != nil {
		return WrapGitHubError(err, fmt.Sprintf("issue #%d for %s/%s", number, owner, name))
	}
	return nil
}

// buildIssueRequest builds a GitHub API IssueRequest; labels are always sent so updates replace them
func buildIssueRequest(request IssueRequest) *github.IssueRequest {
	labels := request.Labels
	if labels == nil {
		labels = []string{}
	}

	return &github.IssueRequest{
		Title:     github.String(request.Title),
		Body:      github.String(request.Body),
		Labels:    &labels,
		Milestone: request.Milestone,
	}
}

// convertGitHubMilestone converts a GitHub API milestone to our internal type
func convertGitHubMilestone(milestone *github.Milestone) Milestone {
	return Milestone{
		Number:      milestone.GetNumber(),
		Title:       milestone.GetTitle(),
		Description: milestone.GetDescription(),
		State:       milestone.GetState(),
	}
}

// convertGitHubIssue converts a GitHub API issue to our internal type
func convertGitHubIssue(issue *github.Issue) Issue {
	result := Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
	}

	for _, label := range issue.Labels {
		result.Labels = append(result.Labels, label.GetName())
	}

	if issue.Milestone != nil {
		result.MilestoneNumber = issue.Milestone.GetNumber()
	}

	return result
}
