// internal/model/campaign.go
package model

import (
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	StatusDraft     CampaignStatus = "draft"
	StatusActive    CampaignStatus = "active"
	StatusCompleted CampaignStatus = "completed"
	StatusPaused    CampaignStatus = "paused"
)

// CampaignInstance is the per-tenant, per-contact execution state of a plan.
type CampaignInstance struct {
	ID            int             `db:"id" json:"id"`
	TenantID      string          `db:"tenant_id" json:"tenant_id"`
	ContactID     string          `db:"contact_id" json:"contact_id"`
	Channel       Channel         `db:"channel" json:"channel"`
	Status        CampaignStatus  `db:"status" json:"status"`
	CurrentNodeID string          `db:"current_node_id" json:"current_node_id"`
	StartedAt     *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	PlanJSON      json.RawMessage `db:"plan_json" json:"plan_json"`
	PlanVersion   string          `db:"plan_version" json:"plan_version"`
	PlanHash      string          `db:"plan_hash" json:"plan_hash"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// Plan decodes the instance's plan snapshot.
func (c *CampaignInstance) Plan() (*CampaignPlan, error) {
	var p CampaignPlan
	if err := json.Unmarshal(c.PlanJSON, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CampaignUpdate lists the columns to change; nil fields are left untouched.
type CampaignUpdate struct {
	Status        *CampaignStatus
	CurrentNodeID *string
	StartedAt     *time.Time
	CompletedAt   *time.Time
	PlanJSON      json.RawMessage
	PlanVersion   *string
	PlanHash      *string
}

// PlanVersion is an immutable snapshot of a plan persisted for a campaign.
type PlanVersion struct {
	ID         int             `db:"id" json:"id"`
	TenantID   string          `db:"tenant_id" json:"tenant_id"`
	CampaignID int             `db:"campaign_id" json:"campaign_id"`
	Version    string          `db:"version" json:"version"`
	Hash       string          `db:"hash" json:"hash"`
	PlanJSON   json.RawMessage `db:"plan_json" json:"plan_json"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// CampaignTransitionRecord is an append-only audit row. ToNodeID/OccurredAt
// answer "when did the instance enter node X".
type CampaignTransitionRecord struct {
	ID         int            `db:"id" json:"id"`
	TenantID   string         `db:"tenant_id" json:"tenant_id"`
	CampaignID int            `db:"campaign_id" json:"campaign_id"`
	FromStatus CampaignStatus `db:"from_status" json:"from_status"`
	ToStatus   CampaignStatus `db:"to_status" json:"to_status"`
	FromNodeID string         `db:"from_node_id" json:"from_node_id"`
	ToNodeID   string         `db:"to_node_id" json:"to_node_id"`
	Reason     string         `db:"reason" json:"reason"`
	OccurredAt time.Time      `db:"occurred_at" json:"occurred_at"`
}

// CampaignEvent is the input to a transition step.
type CampaignEvent struct {
	TenantID      string     `json:"tenant_id"`
	CampaignID    int        `json:"campaign_id"`
	EventType     EventType  `json:"event_type"`
	CurrentNodeID string     `json:"current_node_id,omitempty"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}
