package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// EventProcessor re-enters the engine for one event.
type EventProcessor interface {
	HandleEvent(ctx context.Context, ev model.CampaignEvent) error
}

// DecodeEvent accepts an event value from the in-memory queue or a JSON body
// from the broker.
func DecodeEvent(payload any) (model.CampaignEvent, error) {
	switch v := payload.(type) {
	case model.CampaignEvent:
		return v, nil
	case *model.CampaignEvent:
		return *v, nil
	case []byte:
		var ev model.CampaignEvent
		if err := json.Unmarshal(v, &ev); err != nil {
			return model.CampaignEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return ev, nil
	}
	return model.CampaignEvent{}, fmt.Errorf("unexpected event payload %T", payload)
}

// DecodeAction is DecodeEvent for scheduled action notifications.
func DecodeAction(payload any) (model.ScheduledAction, error) {
	switch v := payload.(type) {
	case model.ScheduledAction:
		return v, nil
	case *model.ScheduledAction:
		return *v, nil
	case []byte:
		var a model.ScheduledAction
		if err := json.Unmarshal(v, &a); err != nil {
			return model.ScheduledAction{}, fmt.Errorf("decode action: %w", err)
		}
		return a, nil
	}
	return model.ScheduledAction{}, fmt.Errorf("unexpected action payload %T", payload)
}

// StartEventSubscriber feeds campaign_events into the engine. Undecodable
// payloads are dropped; engine errors are returned so the queue retries.
func StartEventSubscriber(ctx context.Context, q Queue, p EventProcessor, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := q.Subscribe(TopicEvents, func(payload any) error {
		ev, err := DecodeEvent(payload)
		if err != nil {
			logger.Warn("⚠️ invalid event payload", zap.Error(err))
			return nil // no retry
		}

		logger.Info("📩 processing campaign event",
			zap.String("tenant_id", ev.TenantID),
			zap.Int("campaign_id", ev.CampaignID),
			zap.String("event", string(ev.EventType)))

		return p.HandleEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicEvents, err)
	}
	return nil
}

// StartActionSubscriber calls notify for every newly scheduled action.
func StartActionSubscriber(q Queue, notify func(model.ScheduledAction), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := q.Subscribe(TopicActions, func(payload any) error {
		a, err := DecodeAction(payload)
		if err != nil {
			logger.Warn("⚠️ invalid action payload", zap.Error(err))
			return nil
		}
		notify(a)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicActions, err)
	}
	return nil
}
