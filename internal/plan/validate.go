package plan

import (
	"fmt"
	"regexp"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Validate walks the plan and reports every problem it finds. Warnings do
// not make a plan unusable; errors do.
func Validate(p *model.CampaignPlan) []appErrors.Issue {
	var issues []appErrors.Issue
	add := func(sev, nodeID, field, format string, args ...any) {
		issues = append(issues, appErrors.Issue{
			Severity: sev,
			NodeID:   nodeID,
			Field:    field,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			add(SeverityError, "", "timezone", "unknown timezone %q", p.Timezone)
		}
	}

	if qh := p.QuietHours; qh != nil {
		if !clockPattern.MatchString(qh.Start) {
			add(SeverityError, "", "quietHours.start", "expected HH:MM, got %q", qh.Start)
		}
		if !clockPattern.MatchString(qh.End) {
			add(SeverityError, "", "quietHours.end", "expected HH:MM, got %q", qh.End)
		}
	}

	timers := []struct{ field, value string }{
		{"defaults.timers.no_open_after", p.Defaults.Timers.NoOpenAfter},
		{"defaults.timers.no_click_after", p.Defaults.Timers.NoClickAfter},
	}
	for _, t := range timers {
		if t.value == "" {
			continue
		}
		if _, err := ParseDuration(t.value); err != nil {
			add(SeverityError, "", t.field, "%v", err)
		}
	}

	if len(p.Nodes) == 0 {
		add(SeverityError, "", "nodes", "plan has no nodes")
	}

	idx := p.Index()
	if p.StartNodeID == "" {
		add(SeverityError, "", "startNodeId", "missing start node id")
	} else if _, ok := idx[p.StartNodeID]; !ok {
		add(SeverityError, "", "startNodeId", "start node %q does not exist", p.StartNodeID)
	}

	seen := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		b := n.Base()
		if b.ID == "" {
			add(SeverityError, "", "id", "node without id")
		} else if seen[b.ID] {
			add(SeverityWarning, b.ID, "id", "duplicate node id, declarations will be merged")
		}
		seen[b.ID] = true

		switch v := n.(type) {
		case *model.SendNode:
			validateSend(v, add)
		case *model.StopNode:
			if len(b.Transitions) > 0 {
				add(SeverityError, b.ID, "transitions", "stop node must not have transitions")
			}
		}

		for i, t := range b.Transitions {
			field := fmt.Sprintf("transitions[%d]", i)
			if !t.On.Valid() {
				add(SeverityError, b.ID, field+".on", "unknown event type %q", t.On)
			}
			if t.To == "" {
				add(SeverityError, b.ID, field+".to", "missing target")
			} else if _, ok := idx[t.To]; !ok && t.To != model.StopNodeID {
				add(SeverityError, b.ID, field+".to", "target %q does not exist", t.To)
			}
			_, d, ok := p.WithDefaultGuard(t).Guard()
			if !ok {
				add(SeverityError, b.ID, field, "exactly one of within/after is required")
				continue
			}
			if _, err := ParseDuration(d); err != nil {
				add(SeverityError, b.ID, field, "%v", err)
			}
		}
	}

	return issues
}

func validateSend(n *model.SendNode, add func(sev, nodeID, field, format string, args ...any)) {
	switch n.Channel {
	case model.ChannelEmail:
		if n.Subject == "" {
			add(SeverityWarning, n.ID, "subject", "email without subject")
		}
	case model.ChannelSMS:
	default:
		add(SeverityError, n.ID, "channel", "unknown channel %q", n.Channel)
	}
	if n.Body == "" {
		add(SeverityError, n.ID, "body", "send node without body")
	}

	hasDelay, hasAt := n.Schedule.Delay != "", n.Schedule.At != nil
	switch {
	case hasDelay && hasAt:
		add(SeverityError, n.ID, "schedule", "delay and at are mutually exclusive")
	case !hasDelay && !hasAt:
		add(SeverityError, n.ID, "schedule", "one of delay or at is required")
	case hasDelay:
		if _, err := ParseDuration(n.Schedule.Delay); err != nil {
			add(SeverityError, n.ID, "schedule.delay", "%v", err)
		}
	}
}

// Check validates p and returns a PlanValidationError listing the
// error-level issues, or nil.
func Check(p *model.CampaignPlan) error {
	var errs []appErrors.Issue
	for _, issue := range Validate(p) {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	if len(errs) > 0 {
		return &appErrors.PlanValidationError{Issues: errs}
	}
	return nil
}
