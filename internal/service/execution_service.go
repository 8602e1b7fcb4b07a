// internal/service/execution_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/schedule"
)

var errEntryUnknown = errors.New("node entry time unknown")

// ExecutionService steps campaign instances through their plans. Every call
// is a short, stateless step; future work is stored as scheduled actions.
type ExecutionService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	ActionRepo     repository.ScheduledActionRepositoryInterface
	TransitionRepo repository.TransitionRepositoryInterface
	Queue          queue.Queue
	GuardPolicy    GuardPolicy
	Now            func() time.Time
	Logger         *zap.Logger
}

type TransitionOutcome string

const (
	OutcomeFired         TransitionOutcome = "fired"
	OutcomeNoMatch       TransitionOutcome = "no_match"
	OutcomeGuardRejected TransitionOutcome = "guard_rejected"
	OutcomeInactive      TransitionOutcome = "inactive"
	OutcomeStale         TransitionOutcome = "stale"
	OutcomeHardStop      TransitionOutcome = "hard_stop"
)

type InitResult struct {
	CampaignID  int
	StartNodeID string
	Canceled    int
	Scheduled   []*model.ScheduledAction
}

type TransitionResult struct {
	Outcome    TransitionOutcome
	FromNodeID string
	ToNodeID   string
	Status     model.CampaignStatus
	Canceled   int
	Scheduled  []*model.ScheduledAction
}

func (s *ExecutionService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *ExecutionService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *ExecutionService) policy() GuardPolicy {
	if s.GuardPolicy == nil {
		return FailOpen{}
	}
	return s.GuardPolicy
}

// StartCampaign initializes a stored campaign from its plan snapshot.
func (s *ExecutionService) StartCampaign(ctx context.Context, tenantID string, campaignID int) (*InitResult, error) {
	c, err := s.CampaignRepo.GetByIDForTenant(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	p, err := c.Plan()
	if err != nil {
		return nil, fmt.Errorf("decode plan of campaign %d: %w", campaignID, err)
	}
	return s.InitializeCampaignExecution(ctx, p, c)
}

// InitializeCampaignExecution enters the plan's start node: a send node gets
// its send action, every node gets one timeout action per outgoing no_*
// transition, and the instance becomes active. Pending actions left by an
// earlier failed attempt are canceled first so the call can be retried.
func (s *ExecutionService) InitializeCampaignExecution(ctx context.Context, p *model.CampaignPlan, c *model.CampaignInstance) (*InitResult, error) {
	if c.Status != model.StatusDraft && c.Status != model.StatusPaused {
		return nil, &appErrors.ErrInvalidStatus{CampaignID: c.ID, Status: string(c.Status), Operation: "start"}
	}

	node, ok := p.Node(p.StartNodeID)
	if !ok {
		return nil, appErrors.NewNodeNotFound(p.StartNodeID)
	}
	if node.Action() == model.ActionStop {
		return nil, &appErrors.ErrNonActionableNode{NodeID: p.StartNodeID, Action: string(model.ActionStop)}
	}

	now := s.now()
	canceled, err := s.ActionRepo.CancelPendingForTenant(ctx, c.TenantID, c.ID, "")
	if err != nil {
		return nil, fmt.Errorf("cancel leftover actions: %w", err)
	}

	rec := &model.CampaignTransitionRecord{
		CampaignID: c.ID,
		FromStatus: c.Status,
		ToStatus:   model.StatusActive,
		FromNodeID: c.CurrentNodeID,
		ToNodeID:   p.StartNodeID,
		Reason:     "initialized",
		OccurredAt: now,
	}
	if err := s.TransitionRepo.CreateForTenant(ctx, c.TenantID, rec); err != nil {
		return nil, fmt.Errorf("record initialization: %w", err)
	}

	prevStatus, prevNode := c.Status, c.CurrentNodeID
	status := model.StatusActive
	startID := p.StartNodeID
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, model.CampaignUpdate{
		Status:        &status,
		CurrentNodeID: &startID,
		StartedAt:     &now,
	}); err != nil {
		return nil, fmt.Errorf("activate campaign: %w", err)
	}
	c.Status = status
	c.CurrentNodeID = startID
	c.StartedAt = &now

	// Actions are stored only after the instance sits on the node, so a
	// worker claiming one at once finds the campaign where it expects.
	scheduled, err := s.scheduleNode(ctx, c, p, node, now, true)
	if err != nil {
		s.restore(ctx, c, prevStatus, prevNode)
		return nil, err
	}

	s.logger().Info("🚀 campaign execution initialized",
		zap.String("tenant_id", c.TenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("start_node", startID),
		zap.Int("scheduled", len(scheduled)))

	return &InitResult{CampaignID: c.ID, StartNodeID: startID, Canceled: canceled, Scheduled: scheduled}, nil
}

// HandleEvent adapts ProcessTransition to the queue subscriber.
func (s *ExecutionService) HandleEvent(ctx context.Context, ev model.CampaignEvent) error {
	_, err := s.ProcessTransition(ctx, ev)
	return err
}

// ProcessTransition reacts to one event for a stored campaign.
func (s *ExecutionService) ProcessTransition(ctx context.Context, ev model.CampaignEvent) (*TransitionResult, error) {
	c, err := s.CampaignRepo.GetByIDForTenant(ctx, ev.TenantID, ev.CampaignID)
	if err != nil {
		return nil, err
	}

	result := &TransitionResult{FromNodeID: c.CurrentNodeID, Status: c.Status}
	if c.Status != model.StatusActive {
		result.Outcome = OutcomeInactive
		return result, nil
	}
	if ev.CurrentNodeID != "" && ev.CurrentNodeID != c.CurrentNodeID {
		s.logger().Debug("stale event ignored",
			zap.Int("campaign_id", c.ID),
			zap.String("event_node", ev.CurrentNodeID),
			zap.String("current_node", c.CurrentNodeID))
		result.Outcome = OutcomeStale
		return result, nil
	}

	p, err := c.Plan()
	if err != nil {
		return nil, fmt.Errorf("decode plan of campaign %d: %w", c.ID, err)
	}

	at := s.now()
	if ev.OccurredAt != nil && !ev.OccurredAt.IsZero() {
		at = ev.OccurredAt.UTC()
	}
	return s.processTransition(ctx, c, p, ev.EventType, at)
}

func (s *ExecutionService) processTransition(ctx context.Context, c *model.CampaignInstance, p *model.CampaignPlan, event model.EventType, at time.Time) (*TransitionResult, error) {
	current := c.CurrentNodeID
	result := &TransitionResult{FromNodeID: current, Status: c.Status}

	node, ok := p.Node(current)
	if !ok {
		return nil, appErrors.NewNodeNotFound(current)
	}

	candidates := []model.Transition{}
	for _, t := range node.Base().Transitions {
		if t.On == event {
			candidates = append(candidates, p.WithDefaultGuard(t))
		}
	}
	if len(candidates) == 0 {
		if event == model.EventUnsubscribed {
			return s.hardStop(ctx, c, event, at)
		}
		result.Outcome = OutcomeNoMatch
		return result, nil
	}

	entered, entryErr := s.nodeEnteredAt(ctx, c, p, current)
	allowUnknown := false
	if entryErr != nil {
		allowUnknown = s.policy().AllowUnknownEntry(entryErr)
		s.logger().Warn("⚠️ node entry time unavailable for timing guard",
			zap.Int("campaign_id", c.ID),
			zap.String("node", current),
			zap.String("policy", s.policy().Name()),
			zap.Bool("allowed", allowUnknown),
			zap.Error(entryErr))
	}

	var chosen *model.Transition
	for i := range candidates {
		valid := allowUnknown
		if entryErr == nil {
			var err error
			valid, err = IsTransitionValid(candidates[i], entered, at)
			if err != nil {
				return nil, err
			}
		}
		if valid {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		if event == model.EventUnsubscribed {
			return s.hardStop(ctx, c, event, at)
		}
		s.logger().Info("timing guard rejected transition",
			zap.Int("campaign_id", c.ID),
			zap.String("node", current),
			zap.String("event", string(event)))
		result.Outcome = OutcomeGuardRejected
		return result, nil
	}

	return s.fire(ctx, c, p, *chosen, at)
}

func (s *ExecutionService) fire(ctx context.Context, c *model.CampaignInstance, p *model.CampaignPlan, t model.Transition, at time.Time) (*TransitionResult, error) {
	from := c.CurrentNodeID

	target, ok := p.Node(t.To)
	if !ok && t.To != model.StopNodeID {
		return nil, appErrors.NewNodeNotFound(t.To)
	}
	terminal := !ok || target.Action() == model.ActionStop

	canceled, err := s.ActionRepo.CancelPendingForTenant(ctx, c.TenantID, c.ID, from)
	if err != nil {
		return nil, fmt.Errorf("cancel actions of %s: %w", from, err)
	}

	if !terminal && t.To != from {
		n, err := s.ActionRepo.CancelPendingForTenant(ctx, c.TenantID, c.ID, t.To)
		if err != nil {
			return nil, fmt.Errorf("cancel actions of %s: %w", t.To, err)
		}
		canceled += n
	}

	status := model.StatusActive
	if terminal {
		status = model.StatusCompleted
	}
	rec := &model.CampaignTransitionRecord{
		CampaignID: c.ID,
		FromStatus: c.Status,
		ToStatus:   status,
		FromNodeID: from,
		ToNodeID:   t.To,
		Reason:     string(t.On),
		OccurredAt: at,
	}
	if err := s.TransitionRepo.CreateForTenant(ctx, c.TenantID, rec); err != nil {
		return nil, fmt.Errorf("record transition: %w", err)
	}

	to := t.To
	upd := model.CampaignUpdate{CurrentNodeID: &to}
	if terminal {
		upd.Status = &status
		upd.CompletedAt = &at
	}
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, upd); err != nil {
		return nil, fmt.Errorf("advance campaign: %w", err)
	}
	c.CurrentNodeID = to
	c.Status = status
	if terminal {
		c.CompletedAt = &at
	}

	var scheduled []*model.ScheduledAction
	if !terminal {
		scheduled, err = s.scheduleNode(ctx, c, p, target, at, true)
		if err != nil {
			return nil, err
		}
	}

	s.logger().Info("➡️ campaign transition",
		zap.String("tenant_id", c.TenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("event", string(t.On)),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("status", string(status)))

	return &TransitionResult{
		Outcome:    OutcomeFired,
		FromNodeID: from,
		ToNodeID:   to,
		Status:     status,
		Canceled:   canceled,
		Scheduled:  scheduled,
	}, nil
}

// hardStop ends the campaign for an unsubscribe the plan does not handle.
func (s *ExecutionService) hardStop(ctx context.Context, c *model.CampaignInstance, event model.EventType, at time.Time) (*TransitionResult, error) {
	from := c.CurrentNodeID
	canceled, err := s.ActionRepo.CancelPendingForTenant(ctx, c.TenantID, c.ID, "")
	if err != nil {
		return nil, fmt.Errorf("cancel actions: %w", err)
	}

	status := model.StatusCompleted
	rec := &model.CampaignTransitionRecord{
		CampaignID: c.ID,
		FromStatus: c.Status,
		ToStatus:   status,
		FromNodeID: from,
		ToNodeID:   model.StopNodeID,
		Reason:     string(event),
		OccurredAt: at,
	}
	if err := s.TransitionRepo.CreateForTenant(ctx, c.TenantID, rec); err != nil {
		return nil, fmt.Errorf("record transition: %w", err)
	}
	stop := model.StopNodeID
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, model.CampaignUpdate{
		Status:        &status,
		CurrentNodeID: &stop,
		CompletedAt:   &at,
	}); err != nil {
		return nil, fmt.Errorf("complete campaign: %w", err)
	}
	c.Status = status
	c.CurrentNodeID = stop
	c.CompletedAt = &at

	s.logger().Info("🛑 campaign stopped",
		zap.Int("campaign_id", c.ID),
		zap.String("event", string(event)),
		zap.Int("canceled", canceled))

	return &TransitionResult{
		Outcome:    OutcomeHardStop,
		FromNodeID: from,
		ToNodeID:   stop,
		Status:     status,
		Canceled:   canceled,
	}, nil
}

// nodeEnteredAt finds when the campaign entered nodeID: the latest audit
// record moving into it, else startedAt for the start node.
func (s *ExecutionService) nodeEnteredAt(ctx context.Context, c *model.CampaignInstance, p *model.CampaignPlan, nodeID string) (time.Time, error) {
	rec, err := s.TransitionRepo.LatestEntryForNode(ctx, c.TenantID, c.ID, nodeID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load node entry: %w", err)
	}
	if rec != nil {
		return rec.OccurredAt, nil
	}
	if nodeID == p.StartNodeID && c.StartedAt != nil {
		return *c.StartedAt, nil
	}
	return time.Time{}, errEntryUnknown
}

// scheduleNode stores the work a node needs once entered at `at`. The
// campaign must already be on the node.
func (s *ExecutionService) scheduleNode(ctx context.Context, c *model.CampaignInstance, p *model.CampaignPlan, node model.Node, at time.Time, withSend bool) ([]*model.ScheduledAction, error) {
	scheduled := []*model.ScheduledAction{}
	nodeID := node.Base().ID

	if send, ok := node.(*model.SendNode); ok && withSend {
		calc := &schedule.Calculator{Now: func() time.Time { return at }}
		when, err := calc.ScheduleFor(send.Schedule, p.Timezone, p.QuietHours)
		if err != nil {
			return nil, fmt.Errorf("schedule node %s: %w", nodeID, err)
		}

		sender := send.SenderIdentityID
		if sender == "" {
			sender = p.SenderIdentityID
		}
		payload, err := json.Marshal(model.SendPayload{
			TenantID:         c.TenantID,
			ContactID:        c.ContactID,
			Channel:          send.Channel,
			Subject:          send.Subject,
			Body:             send.Body,
			SenderIdentityID: sender,
		})
		if err != nil {
			return nil, err
		}

		a := &model.ScheduledAction{
			CampaignID:  c.ID,
			NodeID:      nodeID,
			ActionType:  model.ActionTypeSend,
			ScheduledAt: when,
			Payload:     payload,
		}
		if err := s.enqueue(ctx, c.TenantID, a); err != nil {
			return nil, err
		}
		scheduled = append(scheduled, a)
	}

	for _, t := range node.Base().Transitions {
		if !t.On.IsSynthetic() {
			continue
		}
		_, raw, ok := p.WithDefaultGuard(t).Guard()
		if !ok {
			return nil, fmt.Errorf("node %s: transition on %s has no single guard", nodeID, t.On)
		}
		d, err := plan.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", nodeID, err)
		}
		payload, err := json.Marshal(model.TimeoutPayload{EventType: t.On, Guard: raw})
		if err != nil {
			return nil, err
		}

		a := &model.ScheduledAction{
			CampaignID:  c.ID,
			NodeID:      nodeID,
			ActionType:  model.ActionTypeTimeout,
			ScheduledAt: at.Add(d).UTC(),
			Payload:     payload,
		}
		if err := s.enqueue(ctx, c.TenantID, a); err != nil {
			return nil, err
		}
		scheduled = append(scheduled, a)
	}

	return scheduled, nil
}

// enqueue persists the action, then notifies the sink. The stored row is
// the source of truth, so a failed notification is only logged.
func (s *ExecutionService) enqueue(ctx context.Context, tenantID string, a *model.ScheduledAction) error {
	if err := s.ActionRepo.CreateForTenant(ctx, tenantID, a); err != nil {
		return fmt.Errorf("store %s action for node %s: %w", a.ActionType, a.NodeID, err)
	}

	s.logger().Info("🗓️ action scheduled",
		zap.String("tenant_id", tenantID),
		zap.Int("campaign_id", a.CampaignID),
		zap.String("node", a.NodeID),
		zap.String("type", string(a.ActionType)),
		zap.Time("scheduled_at", a.ScheduledAt))

	if s.Queue != nil {
		if err := s.Queue.Publish(queue.TopicActions, *a); err != nil {
			s.logger().Warn("⚠️ failed to publish scheduled action", zap.Int("action_id", a.ID), zap.Error(err))
		}
	}
	return nil
}

// CancelCampaignActions cancels every pending action of the campaign.
func (s *ExecutionService) CancelCampaignActions(ctx context.Context, tenantID string, campaignID int) (int, error) {
	n, err := s.ActionRepo.CancelPendingForTenant(ctx, tenantID, campaignID, "")
	if err != nil {
		return 0, err
	}
	s.logger().Info("campaign actions canceled", zap.Int("campaign_id", campaignID), zap.Int("count", n))
	return n, nil
}

// PauseCampaign cancels pending work and parks an active campaign.
func (s *ExecutionService) PauseCampaign(ctx context.Context, tenantID string, campaignID int) (int, error) {
	c, err := s.CampaignRepo.GetByIDForTenant(ctx, tenantID, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != model.StatusActive {
		return 0, &appErrors.ErrInvalidStatus{CampaignID: campaignID, Status: string(c.Status), Operation: "pause"}
	}

	n, err := s.CancelCampaignActions(ctx, tenantID, campaignID)
	if err != nil {
		return 0, err
	}
	return n, s.setStatus(ctx, c, model.StatusPaused, "paused")
}

// ResumeCampaign reactivates a paused campaign at its current node and
// schedules that node's timeouts again from now. The node's send is scheduled
// again only if it had not gone out before the pause.
func (s *ExecutionService) ResumeCampaign(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	c, err := s.CampaignRepo.GetByIDForTenant(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusPaused {
		return nil, &appErrors.ErrInvalidStatus{CampaignID: campaignID, Status: string(c.Status), Operation: "resume"}
	}
	p, err := c.Plan()
	if err != nil {
		return nil, fmt.Errorf("decode plan of campaign %d: %w", campaignID, err)
	}
	node, ok := p.Node(c.CurrentNodeID)
	if !ok {
		return nil, appErrors.NewNodeNotFound(c.CurrentNodeID)
	}

	sent, err := s.sendDelivered(ctx, c, c.CurrentNodeID)
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, c, model.StatusActive, "resumed"); err != nil {
		return nil, err
	}

	scheduled, err := s.scheduleNode(ctx, c, p, node, s.now(), !sent)
	if err != nil {
		s.restore(ctx, c, model.StatusPaused, c.CurrentNodeID)
		return nil, err
	}
	return scheduled, nil
}

// sendDelivered reports whether the send of the latest visit to nodeID was
// executed or is being executed. Every visit to a send node stores exactly
// one send action, so the highest id belongs to the latest visit.
func (s *ExecutionService) sendDelivered(ctx context.Context, c *model.CampaignInstance, nodeID string) (bool, error) {
	actions, err := s.ActionRepo.ListByCampaignForTenant(ctx, c.TenantID, c.ID)
	if err != nil {
		return false, fmt.Errorf("load actions of campaign %d: %w", c.ID, err)
	}
	var latest *model.ScheduledAction
	for _, a := range actions {
		if a.NodeID != nodeID || a.ActionType != model.ActionTypeSend {
			continue
		}
		if latest == nil || a.ID > latest.ID {
			latest = a
		}
	}
	if latest == nil {
		return false, nil
	}
	return latest.Status == model.ActionExecuted || latest.Status == model.ActionClaimed, nil
}

// restore puts the campaign back where it was after its node's actions
// could not be stored, so the caller can retry.
func (s *ExecutionService) restore(ctx context.Context, c *model.CampaignInstance, status model.CampaignStatus, nodeID string) {
	if _, err := s.ActionRepo.CancelPendingForTenant(ctx, c.TenantID, c.ID, ""); err != nil {
		s.logger().Error("failed to cancel partially scheduled actions", zap.Int("campaign_id", c.ID), zap.Error(err))
	}
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, model.CampaignUpdate{
		Status:        &status,
		CurrentNodeID: &nodeID,
	}); err != nil {
		s.logger().Error("failed to restore campaign after scheduling error", zap.Int("campaign_id", c.ID), zap.Error(err))
		return
	}
	c.Status = status
	c.CurrentNodeID = nodeID
}

func (s *ExecutionService) setStatus(ctx context.Context, c *model.CampaignInstance, status model.CampaignStatus, reason string) error {
	rec := &model.CampaignTransitionRecord{
		CampaignID: c.ID,
		FromStatus: c.Status,
		ToStatus:   status,
		FromNodeID: c.CurrentNodeID,
		ToNodeID:   c.CurrentNodeID,
		Reason:     reason,
		OccurredAt: s.now(),
	}
	if err := s.TransitionRepo.CreateForTenant(ctx, c.TenantID, rec); err != nil {
		return fmt.Errorf("record %s: %w", reason, err)
	}
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, model.CampaignUpdate{Status: &status}); err != nil {
		return err
	}
	c.Status = status
	return nil
}

// ListActions returns the campaign's scheduled actions.
func (s *ExecutionService) ListActions(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	if _, err := s.CampaignRepo.GetByIDForTenant(ctx, tenantID, campaignID); err != nil {
		return nil, err
	}
	return s.ActionRepo.ListByCampaignForTenant(ctx, tenantID, campaignID)
}
