// internal/errors/errors.go
package appErrors

import (
	"fmt"
	"strings"
)

// ErrCampaignNotFound is returned when no campaign exists for the tenant.
type ErrCampaignNotFound struct {
	TenantID   string
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found for tenant %s", e.CampaignID, e.TenantID)
}

func NewCampaignNotFound(tenantID string, id int) error {
	return &ErrCampaignNotFound{TenantID: tenantID, CampaignID: id}
}

// ErrNodeNotFound means a plan references a node it does not declare.
type ErrNodeNotFound struct {
	NodeID string
}

func (e *ErrNodeNotFound) Error() string {
	return fmt.Sprintf("node %q not found in plan", e.NodeID)
}

func NewNodeNotFound(id string) error {
	return &ErrNodeNotFound{NodeID: id}
}

// ErrNonActionableNode is returned when execution would start on a node that
// cannot do anything, such as a stop node.
type ErrNonActionableNode struct {
	NodeID string
	Action string
}

func (e *ErrNonActionableNode) Error() string {
	return fmt.Sprintf("node %q with action %q is not actionable", e.NodeID, e.Action)
}

// ErrInvalidStatus is returned for a lifecycle change the campaign's current
// status does not allow.
type ErrInvalidStatus struct {
	CampaignID int
	Status     string
	Operation  string
}

func (e *ErrInvalidStatus) Error() string {
	return fmt.Sprintf("campaign %d cannot %s in status: %s", e.CampaignID, e.Operation, e.Status)
}

// Issue is a single finding of plan validation.
type Issue struct {
	Severity string `json:"severity"` // error, warning
	NodeID   string `json:"node_id,omitempty"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s: %s", i.Severity, i.NodeID, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Field, i.Message)
}

// PlanValidationError carries every error-level issue of a rejected plan.
type PlanValidationError struct {
	Issues []Issue
}

func (e *PlanValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "invalid plan: " + strings.Join(parts, "; ")
}
