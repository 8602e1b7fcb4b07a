// internal/model/scheduled_action.go
package model

import (
	"encoding/json"
	"time"
)

type ActionType string

const (
	ActionTypeSend    ActionType = "send"
	ActionTypeTimeout ActionType = "timeout"
	ActionTypeWait    ActionType = "wait"
)

type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionClaimed  ActionStatus = "claimed"
	ActionExecuted ActionStatus = "executed"
	ActionFailed   ActionStatus = "failed"
	ActionCanceled ActionStatus = "canceled"
)

// ScheduledAction is one durable unit of future work handed to the worker.
type ScheduledAction struct {
	ID          int             `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	CampaignID  int             `db:"campaign_id" json:"campaign_id"`
	NodeID      string          `db:"node_id" json:"node_id"`
	ActionType  ActionType      `db:"action_type" json:"action_type"`
	ScheduledAt time.Time       `db:"scheduled_at" json:"scheduled_at"`
	Status      ActionStatus    `db:"status" json:"status"` // pending, claimed, executed, failed, canceled
	Payload     json.RawMessage `db:"payload" json:"payload"`
	LastError   string          `db:"last_error,omitempty" json:"last_error,omitempty"`
	Attempts    int             `db:"attempts" json:"attempts"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// SendPayload is the payload of a send action.
type SendPayload struct {
	TenantID         string  `json:"tenant_id"`
	ContactID        string  `json:"contact_id"`
	Channel          Channel `json:"channel"`
	Subject          string  `json:"subject,omitempty"`
	Body             string  `json:"body"`
	SenderIdentityID string  `json:"sender_identity_id,omitempty"`
}

// TimeoutPayload is the payload of a timeout action.
type TimeoutPayload struct {
	EventType EventType `json:"event_type"`
	Guard     string    `json:"guard"`
}
