// internal/handler/event_webhook_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/queue"
)

// providerEvents maps delivery-provider event names onto engine events.
var providerEvents = map[string]model.EventType{
	"delivered":         model.EventDelivered,
	"open":              model.EventOpened,
	"click":             model.EventClicked,
	"bounce":            model.EventBounced,
	"dropped":           model.EventBlocked,
	"blocked":           model.EventBlocked,
	"spamreport":        model.EventSpamReport,
	"unsubscribe":       model.EventUnsubscribed,
	"group_unsubscribe": model.EventUnsubscribed,
}

// ProviderEvent is one entry of a provider webhook batch. CampaignID and
// NodeID travel as custom args attached when the message was sent.
type ProviderEvent struct {
	Event      string `json:"event"`
	CampaignID string `json:"campaign_id"`
	NodeID     string `json:"node_id"`
	Timestamp  int64  `json:"timestamp"`
}

// EventWebhookHandler turns provider webhooks into campaign events on the
// queue.
type EventWebhookHandler struct {
	Queue  queue.Queue
	Logger *zap.Logger
}

func (h *EventWebhookHandler) Routes(r chi.Router) {
	r.Post("/webhooks/{tenant}/events", h.HandleProviderEvents)
}

func (h *EventWebhookHandler) HandleProviderEvents(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var batch []ProviderEvent
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	accepted, skipped := 0, 0
	for _, pe := range batch {
		ev, ok := toCampaignEvent(tenant, pe)
		if !ok {
			skipped++
			continue
		}
		if err := h.Queue.Publish(queue.TopicEvents, ev); err != nil {
			h.Logger.Error("❌ failed to enqueue provider event",
				zap.String("tenant_id", tenant),
				zap.Int("campaign_id", ev.CampaignID),
				zap.Error(err))
			http.Error(w, "failed to enqueue event", http.StatusServiceUnavailable)
			return
		}
		accepted++
	}

	h.Logger.Info("📥 provider events received",
		zap.String("tenant_id", tenant),
		zap.Int("accepted", accepted),
		zap.Int("skipped", skipped))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"accepted": accepted, "skipped": skipped})
}

func toCampaignEvent(tenant string, pe ProviderEvent) (model.CampaignEvent, bool) {
	et, ok := providerEvents[pe.Event]
	if !ok {
		return model.CampaignEvent{}, false
	}
	id, err := strconv.Atoi(pe.CampaignID)
	if err != nil || id <= 0 {
		return model.CampaignEvent{}, false
	}

	ev := model.CampaignEvent{
		TenantID:      tenant,
		CampaignID:    id,
		EventType:     et,
		CurrentNodeID: pe.NodeID,
	}
	if pe.Timestamp > 0 {
		at := time.Unix(pe.Timestamp, 0).UTC()
		ev.OccurredAt = &at
	}
	return ev, true
}
