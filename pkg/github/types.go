package github

import "fmt"

// Label represents a repository label
type Label struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	Color       string `json:"color" yaml:"color,omitempty" toml:"color,omitempty"`
	Description string `json:"description" yaml:"description,omitempty" toml:"description,omitempty"`
}

// Milestone represents a repository milestone
type Milestone struct {
	Number      int    `json:"number,omitempty" yaml:"-" toml:"-"`
	Title       string `json:"title" yaml:"title" toml:"title"`
	Description string `json:"description" yaml:"description,omitempty" toml:"description,omitempty"`
	State       string `json:"state" yaml:"state,omitempty" toml:"state,omitempty"` // open, closed
}

// MilestoneUpdate carries only the milestone fields that need to change
type MilestoneUpdate struct {
	Description *string `json:"description,omitempty"`
	State       *string `json:"state,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u MilestoneUpdate) IsEmpty() bool {
	return u.Description == nil && u.State == nil
}

// Issue represents a remote issue as returned by search
type Issue struct {
	Number          int      `json:"number"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Labels          []string `json:"labels"`
	MilestoneNumber int      `json:"milestone_number,omitempty"`
}

// IssueRequest is the full set of fields written on issue create and update
type IssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels"`
	Milestone *int     `json:"milestone,omitempty"`
}

// Marker returns the hidden body marker that identifies a backlog issue
func Marker(backlogID string) string {
	return fmt.Sprintf("<!-- backlog-id: %s -->", backlogID)
}
