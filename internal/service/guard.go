package service

import (
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
)

// GuardPolicy decides what happens to a timing guard when the time the
// campaign entered its current node cannot be determined.
type GuardPolicy interface {
	AllowUnknownEntry(err error) bool
	Name() string
}

// FailOpen lets the transition through so a storage hiccup never wedges a
// campaign. It is the default.
type FailOpen struct{}

func (FailOpen) AllowUnknownEntry(error) bool { return true }
func (FailOpen) Name() string                 { return "fail-open" }

// FailClosed rejects the transition until the entry time is known.
type FailClosed struct{}

func (FailClosed) AllowUnknownEntry(error) bool { return false }
func (FailClosed) Name() string                 { return "fail-closed" }

func ParseGuardPolicy(name string) (GuardPolicy, error) {
	switch name {
	case "", "fail-open":
		return FailOpen{}, nil
	case "fail-closed":
		return FailClosed{}, nil
	}
	return nil, fmt.Errorf("unknown guard policy %q", name)
}

// IsTransitionValid checks t's guard against the time elapsed since the node
// was entered. Both boundaries are inclusive.
func IsTransitionValid(t model.Transition, nodeEnteredAt, now time.Time) (bool, error) {
	kind, raw, ok := t.Guard()
	if !ok {
		return false, fmt.Errorf("transition on %s to %s: exactly one of within/after is required", t.On, t.To)
	}
	d, err := plan.ParseDuration(raw)
	if err != nil {
		return false, err
	}

	elapsed := now.Sub(nodeEnteredAt)
	if kind == model.GuardWithin {
		return elapsed <= d, nil
	}
	return elapsed >= d, nil
}
