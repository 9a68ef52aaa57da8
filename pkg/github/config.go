package github

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultLabelColor is used for labels declared without a color
const DefaultLabelColor = "ededed"

// Milestone states accepted by GitHub
const (
	MilestoneStateOpen   = "open"
	MilestoneStateClosed = "closed"
)

// BacklogConfig represents a complete backlog document
type BacklogConfig struct {
	Labels     []Label       `yaml:"labels,omitempty" toml:"labels,omitempty"`
	Milestones []Milestone   `yaml:"milestones,omitempty" toml:"milestones,omitempty"`
	Issues     []BacklogItem `yaml:"issues,omitempty" toml:"issues,omitempty"`
}

// BacklogItem defines an issue in the backlog document
type BacklogItem struct {
	ID        string   `yaml:"id" toml:"id" json:"id"`
	Title     string   `yaml:"title" toml:"title" json:"title"`
	Body      string   `yaml:"body,omitempty" toml:"body,omitempty" json:"body"`
	Labels    []string `yaml:"labels,omitempty" toml:"labels,omitempty" json:"labels"`
	Milestone string   `yaml:"milestone,omitempty" toml:"milestone,omitempty" json:"milestone,omitempty"`
}

var labelColorPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// NormalizeColor strips a leading '#' and applies the default color
func NormalizeColor(color string) string {
	color = strings.TrimPrefix(strings.TrimSpace(color), "#")
	if color == "" {
		return DefaultLabelColor
	}
	return color
}

// NormalizeIssueBody prepends the backlog marker unless the body already contains it
func NormalizeIssueBody(backlogID, body string) string {
	marker := Marker(backlogID)
	if strings.Contains(body, marker) {
		return body
	}
	return marker + "\n\n" + body
}

// Normalize fills defaults in place: label colors and milestone states
func (c *BacklogConfig) Normalize() {
	for i := range c.Labels {
		c.Labels[i].Color = NormalizeColor(c.Labels[i].Color)
	}
	for i := range c.Milestones {
		if c.Milestones[i].State == "" {
			c.Milestones[i].State = MilestoneStateOpen
		}
	}
}

// Validate validates the backlog document
func (c *BacklogConfig) Validate() error {
	var validationErrors ValidationErrors

	c.validateLabels(&validationErrors)
	milestoneTitles := c.validateMilestones(&validationErrors)
	c.validateIssues(&validationErrors, milestoneTitles)

	if validationErrors.HasErrors() {
		return &GitHubError{
			Type:    ErrorTypeValidation,
			Message: validationErrors.Error(),
			Cause:   validationErrors,
		}
	}

	return nil
}

// validateLabels validates label declarations
func (c *BacklogConfig) validateLabels(errs *ValidationErrors) {
	seen := make(map[string]bool)
	for i, label := range c.Labels {
		field := fmt.Sprintf("labels[%d]", i)
		if strings.TrimSpace(label.Name) == "" {
			errs.Add(field+".name", "", "label name is required")
			continue
		}
		if seen[label.Name] {
			errs.Add(field+".name", label.Name, "duplicate label name")
		}
		seen[label.Name] = true

		if !labelColorPattern.MatchString(NormalizeColor(label.Color)) {
			errs.Add(field+".color", label.Color, "color must be a 6 digit hex value")
		}
	}
}

// validateMilestones validates milestone declarations and returns the set of declared titles
func (c *BacklogConfig) validateMilestones(errs *ValidationErrors) map[string]bool {
	titles := make(map[string]bool)
	for i, milestone := range c.Milestones {
		field := fmt.Sprintf("milestones[%d]", i)
		if strings.TrimSpace(milestone.Title) == "" {
			errs.Add(field+".title", "", "milestone title is required")
			continue
		}
		if titles[milestone.Title] {
			errs.Add(field+".title", milestone.Title, "duplicate milestone title")
		}
		titles[milestone.Title] = true

		switch milestone.State {
		case "", MilestoneStateOpen, MilestoneStateClosed:
		default:
			errs.Add(field+".state", milestone.State, "state must be one of: open, closed")
		}
	}
	return titles
}

// validateIssues validates issue declarations against the declared milestones
func (c *BacklogConfig) validateIssues(errs *ValidationErrors, milestoneTitles map[string]bool) {
	seen := make(map[string]bool)
	for i, issue := range c.Issues {
		field := fmt.Sprintf("issues[%d]", i)
		if strings.TrimSpace(issue.ID) == "" {
			errs.Add(field+".id", "", "every issue must have an 'id' field for idempotency")
		} else {
			if seen[issue.ID] {
				errs.Add(field+".id", issue.ID, "duplicate issue id")
			}
			seen[issue.ID] = true
		}
		if strings.TrimSpace(issue.Title) == "" {
			errs.Add(field+".title", "", "issue title is required")
		}
		if issue.Milestone != "" && !milestoneTitles[issue.Milestone] {
			errs.Add(field+".milestone", issue.Milestone, fmt.Sprintf("issue %s references unknown milestone", issue.ID))
		}
	}
}

// LoadBacklogConfig parses and validates a YAML or JSON backlog document
func LoadBacklogConfig(data []byte) (*BacklogConfig, error) {
	var config BacklogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return finishLoad(&config)
}

// LoadBacklogConfigTOML parses and validates a TOML backlog document
func LoadBacklogConfigTOML(data []byte) (*BacklogConfig, error) {
	var config BacklogConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return finishLoad(&config)
}

func finishLoad(config *BacklogConfig) (*BacklogConfig, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("backlog validation failed: %w", err)
	}
	config.Normalize()
	return config, nil
}

// LoadBacklogConfigFromFile loads a backlog document, choosing the decoder by file extension
func LoadBacklogConfigFromFile(filename string) (*BacklogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backlog file not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read backlog file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		return LoadBacklogConfigTOML(data)
	}
	return LoadBacklogConfig(data)
}
