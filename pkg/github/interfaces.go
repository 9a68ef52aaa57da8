package github

// APIClient defines the interface for GitHub API operations
type APIClient interface {
	// Label operations
	ListLabels(owner, name string) ([]Label, error)
	CreateLabel(owner, name string, label Label) error
	UpdateLabel(owner, name, current string, label Label) error

	// Milestone operations
	ListMilestones(owner, name string) ([]Milestone, error)
	CreateMilestone(owner, name string, milestone Milestone) (*Milestone, error)
	UpdateMilestone(owner, name string, number int, update MilestoneUpdate) error

	// Issue operations
	SearchIssuesByBacklogID(owner, name, backlogID string) ([]Issue, error)
	CreateIssue(owner, name string, request IssueRequest) (*Issue, error)
	UpdateIssue(owner, name string, number int, request IssueRequest) error
}

// Reconciler defines the interface for state reconciliation operations
type Reconciler interface {
	Plan(config BacklogConfig) (*ReconciliationPlan, error)
	Apply(plan *ReconciliationPlan) (*ApplyResult, error)
	Validate(config BacklogConfig) error
}

// ChangeType represents the type of change in a reconciliation plan
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeUpdate ChangeType = "update"
)

// ReconciliationPlan represents a plan of changes to be applied
type ReconciliationPlan struct {
	Labels     []LabelChange     `json:"labels,omitempty"`
	Milestones []MilestoneChange `json:"milestones,omitempty"`
	Issues     []IssueChange     `json:"issues,omitempty"`

	// MilestoneNumbers maps titles of declared milestones that already exist
	// remotely to their numbers. Apply adds the numbers of milestones it creates.
	MilestoneNumbers map[string]int `json:"-"`

	// Unchanged counts declared entities that already match the remote state
	Unchanged int `json:"unchanged"`
}

// HasChanges checks if the plan contains any changes
func (p *ReconciliationPlan) HasChanges() bool {
	return len(p.Labels) > 0 || len(p.Milestones) > 0 || len(p.Issues) > 0
}

// ChangeCount returns the number of planned changes
func (p *ReconciliationPlan) ChangeCount() int {
	return len(p.Labels) + len(p.Milestones) + len(p.Issues)
}

// LabelChange represents a change to a label
type LabelChange struct {
	Type   ChangeType `json:"type"`
	Before *Label     `json:"before,omitempty"`
	After  *Label     `json:"after,omitempty"`
}

// MilestoneChange represents a change to a milestone
type MilestoneChange struct {
	Type   ChangeType      `json:"type"`
	Number int             `json:"number,omitempty"`
	Before *Milestone      `json:"before,omitempty"`
	After  *Milestone      `json:"after,omitempty"`
	Update MilestoneUpdate `json:"update,omitempty"`
}

// IssueChange represents a change to a backlog issue
type IssueChange struct {
	Type      ChangeType   `json:"type"`
	BacklogID string       `json:"backlog_id"`
	Number    int          `json:"number,omitempty"`
	Before    *Issue       `json:"before,omitempty"`
	After     *BacklogItem `json:"after"`
}

// ApplyResult summarizes what Apply did
type ApplyResult struct {
	Created          int            `json:"created"`
	Updated          int            `json:"updated"`
	MilestoneNumbers map[string]int `json:"milestone_numbers"`
}
