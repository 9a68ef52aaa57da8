// Package github provides backlog synchronization against GitHub for backlog-sync.
// It loads a declarative backlog document (labels, milestones and issues) and
// reconciles a repository so repeated runs converge without duplicates.
//
// The package includes:
// - APIClient interface for the GitHub REST operations the reconciler needs
// - Reconciler interface for planning and applying changes
// - Configuration models for backlog documents
// - Type definitions for GitHub resources
package github
