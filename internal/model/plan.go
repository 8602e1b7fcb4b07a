// internal/model/plan.go
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StopNodeID is the sentinel transition target that ends a campaign even when
// the plan declares no node with that id.
const StopNodeID = "stop"

type Action string

const (
	ActionSend Action = "send"
	ActionWait Action = "wait"
	ActionStop Action = "stop"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms" // schema placeholder, never dispatched
)

// EventType is what a transition reacts to. Provider events arrive through
// webhooks; no_* events are synthesized by timeout actions.
type EventType string

const (
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventBlocked      EventType = "blocked"
	EventSpamReport   EventType = "spamreport"
	EventUnsubscribed EventType = "unsubscribed"
	EventNoOpen       EventType = "no_open"
	EventNoClick      EventType = "no_click"
)

var knownEvents = map[EventType]bool{
	EventDelivered:    true,
	EventOpened:       true,
	EventClicked:      true,
	EventBounced:      true,
	EventBlocked:      true,
	EventSpamReport:   true,
	EventUnsubscribed: true,
	EventNoOpen:       true,
	EventNoClick:      true,
}

func (e EventType) Valid() bool { return knownEvents[e] }

// IsSynthetic reports whether the event is produced by a timeout watcher.
func (e EventType) IsSynthetic() bool { return strings.HasPrefix(string(e), "no_") }

type GuardKind string

const (
	GuardWithin GuardKind = "within"
	GuardAfter  GuardKind = "after"
)

// Transition is a guarded edge. Exactly one of Within/After is set; both are
// ISO-8601 durations measured from the moment the node was entered.
type Transition struct {
	On     EventType `json:"on"`
	To     string    `json:"to"`
	Within string    `json:"within,omitempty"`
	After  string    `json:"after,omitempty"`
}

// Guard returns the kind and raw duration of the transition's guard. ok is
// false when the transition carries both or neither guard.
func (t Transition) Guard() (kind GuardKind, d string, ok bool) {
	switch {
	case t.Within != "" && t.After == "":
		return GuardWithin, t.Within, true
	case t.After != "" && t.Within == "":
		return GuardAfter, t.After, true
	}
	return "", "", false
}

// WithDefaultGuard fills in defaults.timers as the after guard of a no_open
// or no_click transition that declares neither within nor after.
func (p *CampaignPlan) WithDefaultGuard(t Transition) Transition {
	if t.Within != "" || t.After != "" {
		return t
	}
	switch t.On {
	case EventNoOpen:
		t.After = p.Defaults.Timers.NoOpenAfter
	case EventNoClick:
		t.After = p.Defaults.Timers.NoClickAfter
	}
	return t
}

type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type Timers struct {
	NoOpenAfter  string `json:"no_open_after,omitempty"`
	NoClickAfter string `json:"no_click_after,omitempty"`
}

type Defaults struct {
	Timers Timers `json:"timers"`
}

// Schedule is relative (Delay) or absolute (At).
type Schedule struct {
	Delay string     `json:"delay,omitempty"`
	At    *time.Time `json:"at,omitempty"`
}

// Node is one step of a plan: *SendNode, *WaitNode or *StopNode.
type Node interface {
	Base() *NodeBase
	Action() Action
	isNode()
}

// NodeBase holds what every node variant carries.
type NodeBase struct {
	ID          string       `json:"id"`
	Transitions []Transition `json:"transitions"`
}

func (b *NodeBase) Base() *NodeBase { return b }

type SendNode struct {
	NodeBase
	Channel          Channel  `json:"channel"`
	Subject          string   `json:"subject,omitempty"`
	Body             string   `json:"body"`
	Schedule         Schedule `json:"schedule"`
	SenderIdentityID string   `json:"senderIdentityId,omitempty"`
}

type WaitNode struct {
	NodeBase
}

type StopNode struct {
	NodeBase
}

func (*SendNode) Action() Action { return ActionSend }
func (*WaitNode) Action() Action { return ActionWait }
func (*StopNode) Action() Action { return ActionStop }

func (*SendNode) isNode() {}
func (*WaitNode) isNode() {}
func (*StopNode) isNode() {}

func (n *SendNode) MarshalJSON() ([]byte, error) {
	type alias SendNode
	return json.Marshal(struct {
		Action Action `json:"action"`
		*alias
	}{ActionSend, (*alias)(n)})
}

func (n *WaitNode) MarshalJSON() ([]byte, error) {
	type alias WaitNode
	return json.Marshal(struct {
		Action Action `json:"action"`
		*alias
	}{ActionWait, (*alias)(n)})
}

func (n *StopNode) MarshalJSON() ([]byte, error) {
	type alias StopNode
	return json.Marshal(struct {
		Action Action `json:"action"`
		*alias
	}{ActionStop, (*alias)(n)})
}

// CampaignPlan is the versioned graph a campaign instance executes.
type CampaignPlan struct {
	Version          string      `json:"version"`
	Timezone         string      `json:"timezone"`
	QuietHours       *QuietHours `json:"quietHours,omitempty"`
	Defaults         Defaults    `json:"defaults"`
	SenderIdentityID string      `json:"senderIdentityId,omitempty"`
	StartNodeID      string      `json:"startNodeId"`
	Nodes            []Node      `json:"nodes"`
}

type planWire struct {
	Version          string            `json:"version"`
	Timezone         string            `json:"timezone"`
	QuietHours       *QuietHours       `json:"quietHours,omitempty"`
	Defaults         Defaults          `json:"defaults"`
	SenderIdentityID string            `json:"senderIdentityId,omitempty"`
	StartNodeID      string            `json:"startNodeId"`
	Nodes            []json.RawMessage `json:"nodes"`
}

// UnmarshalJSON decodes each node into its variant by the "action" field.
func (p *CampaignPlan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	nodes := make([]Node, 0, len(w.Nodes))
	for i, raw := range w.Nodes {
		var head struct {
			Action Action `json:"action"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}

		var n Node
		switch head.Action {
		case ActionSend:
			n = &SendNode{}
		case ActionWait:
			n = &WaitNode{}
		case ActionStop:
			n = &StopNode{}
		default:
			return fmt.Errorf("node %d: unknown action %q", i, head.Action)
		}
		if err := json.Unmarshal(raw, n); err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}

	*p = CampaignPlan{
		Version:          w.Version,
		Timezone:         w.Timezone,
		QuietHours:       w.QuietHours,
		Defaults:         w.Defaults,
		SenderIdentityID: w.SenderIdentityID,
		StartNodeID:      w.StartNodeID,
		Nodes:            nodes,
	}
	return nil
}

// Node returns the first node declared with id.
func (p *CampaignPlan) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.Base().ID == id {
			return n, true
		}
	}
	return nil, false
}

// Index keys nodes by id. Duplicate ids resolve to the first declaration.
func (p *CampaignPlan) Index() map[string]Node {
	idx := make(map[string]Node, len(p.Nodes))
	for _, n := range p.Nodes {
		if _, seen := idx[n.Base().ID]; !seen {
			idx[n.Base().ID] = n
		}
	}
	return idx
}

// Clone returns a deep copy safe to rewrite.
func (p *CampaignPlan) Clone() *CampaignPlan {
	out := *p
	if p.QuietHours != nil {
		qh := *p.QuietHours
		out.QuietHours = &qh
	}
	out.Nodes = make([]Node, len(p.Nodes))
	for i, n := range p.Nodes {
		out.Nodes[i] = cloneNode(n)
	}
	return &out
}

func cloneNode(n Node) Node {
	base := NodeBase{
		ID:          n.Base().ID,
		Transitions: make([]Transition, len(n.Base().Transitions)),
	}
	copy(base.Transitions, n.Base().Transitions)
	switch v := n.(type) {
	case *SendNode:
		c := *v
		c.NodeBase = base
		if v.Schedule.At != nil {
			at := *v.Schedule.At
			c.Schedule.At = &at
		}
		return &c
	case *WaitNode:
		return &WaitNode{NodeBase: base}
	default:
		return &StopNode{NodeBase: base}
	}
}
