package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// TransitionProcessor is the part of the engine the worker re-enters.
type TransitionProcessor interface {
	ProcessTransition(ctx context.Context, ev model.CampaignEvent) (*TransitionResult, error)
}

// Worker executes due scheduled actions: sends go to the Sender, timeouts
// come back into the engine as synthetic events.
type Worker struct {
	ActionRepo   repository.ScheduledActionRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	Engine       TransitionProcessor
	Sender       Sender

	BatchSize    int
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *zap.Logger

	wake chan struct{}
}

// Constructor
func NewWorker(actions repository.ScheduledActionRepositoryInterface, campaigns repository.CampaignRepositoryInterface,
	contacts repository.ContactRepositoryInterface, engine TransitionProcessor, sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		ActionRepo:   actions,
		CampaignRepo: campaigns,
		ContactRepo:  contacts,
		Engine:       engine,
		Sender:       sender,
		BatchSize:    50,
		PollInterval: 30 * time.Second,
		Now:          time.Now,
		Logger:       logger,
		wake:         make(chan struct{}, 1),
	}
}

// Wake asks a running worker to poll now instead of at the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start polls until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.Logger.Error("worker poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce claims and executes one batch of due actions and returns how many
// were claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	actions, err := w.ActionRepo.ClaimDue(ctx, w.Now().UTC(), w.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due actions: %w", err)
	}

	for _, a := range actions {
		if err := w.execute(ctx, a); err != nil {
			w.Logger.Warn("⚠️ action failed",
				zap.Int("action_id", a.ID),
				zap.String("type", string(a.ActionType)),
				zap.Error(err))
			if merr := w.ActionRepo.MarkFailed(ctx, a.TenantID, a.ID, err.Error()); merr != nil {
				w.Logger.Error("failed to mark action failed", zap.Int("action_id", a.ID), zap.Error(merr))
			}
			continue
		}
		if err := w.ActionRepo.MarkExecuted(ctx, a.TenantID, a.ID); err != nil {
			w.Logger.Error("failed to mark action executed", zap.Int("action_id", a.ID), zap.Error(err))
		}
	}
	return len(actions), nil
}

func (w *Worker) execute(ctx context.Context, a *model.ScheduledAction) error {
	switch a.ActionType {
	case model.ActionTypeSend:
		return w.send(ctx, a)
	case model.ActionTypeTimeout:
		return w.timeout(ctx, a)
	case model.ActionTypeWait:
		return nil
	}
	return fmt.Errorf("unknown action type %q", a.ActionType)
}

func (w *Worker) send(ctx context.Context, a *model.ScheduledAction) error {
	c, err := w.CampaignRepo.GetByIDForTenant(ctx, a.TenantID, a.CampaignID)
	if err != nil {
		return err
	}
	if c.Status != model.StatusActive || c.CurrentNodeID != a.NodeID {
		w.Logger.Info("skipping send for node no longer current",
			zap.Int("action_id", a.ID),
			zap.String("node", a.NodeID),
			zap.String("current_node", c.CurrentNodeID),
			zap.String("status", string(c.Status)))
		return nil
	}

	var p model.SendPayload
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return fmt.Errorf("decode send payload: %w", err)
	}
	if p.Channel != model.ChannelEmail {
		return fmt.Errorf("channel %q is not supported", p.Channel)
	}

	contact, err := w.ContactRepo.GetByIDForTenant(ctx, a.TenantID, p.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return fmt.Errorf("contact %s not found", p.ContactID)
	}

	subject, body := RenderSend(p, contact)
	return w.Sender.Send(ctx, Message{
		TenantID:         a.TenantID,
		CampaignID:       a.CampaignID,
		NodeID:           a.NodeID,
		ContactID:        contact.ID,
		To:               contact.Email,
		Channel:          p.Channel,
		Subject:          subject,
		Body:             body,
		SenderIdentityID: p.SenderIdentityID,
	})
}

func (w *Worker) timeout(ctx context.Context, a *model.ScheduledAction) error {
	var p model.TimeoutPayload
	if err := json.Unmarshal(a.Payload, &p); err != nil {
		return fmt.Errorf("decode timeout payload: %w", err)
	}

	at := a.ScheduledAt
	res, err := w.Engine.ProcessTransition(ctx, model.CampaignEvent{
		TenantID:      a.TenantID,
		CampaignID:    a.CampaignID,
		EventType:     p.EventType,
		CurrentNodeID: a.NodeID,
		OccurredAt:    &at,
	})
	if err != nil {
		return err
	}
	w.Logger.Info("⏰ timeout processed",
		zap.Int("campaign_id", a.CampaignID),
		zap.String("event", string(p.EventType)),
		zap.String("outcome", string(res.Outcome)))
	return nil
}
