package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// PlanPersister is the plan side of the service layer.
type PlanPersister interface {
	PersistPlan(ctx context.Context, tenantID, contactID string, channel model.Channel, p *model.CampaignPlan) (*service.PersistResult, error)
	ListVersions(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error)
}

// CampaignExecutor is the execution side of the service layer.
type CampaignExecutor interface {
	StartCampaign(ctx context.Context, tenantID string, campaignID int) (*service.InitResult, error)
	ProcessTransition(ctx context.Context, ev model.CampaignEvent) (*service.TransitionResult, error)
	CancelCampaignActions(ctx context.Context, tenantID string, campaignID int) (int, error)
	PauseCampaign(ctx context.Context, tenantID string, campaignID int) (int, error)
	ResumeCampaign(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error)
	ListActions(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error)
}

type CampaignController struct {
	Plans     PlanPersister
	Execution CampaignExecutor
	Logger    *zap.Logger
}

// Routes mounts the campaign endpoints.
func (c *CampaignController) Routes(r chi.Router) {
	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Post("/plans", c.PersistPlan)
		r.Get("/campaigns/{id}/versions", c.ListVersions)
		r.Post("/campaigns/{id}/start", c.StartCampaign)
		r.Post("/campaigns/{id}/events", c.PostEvent)
		r.Post("/campaigns/{id}/cancel", c.CancelCampaign)
		r.Post("/campaigns/{id}/pause", c.PauseCampaign)
		r.Post("/campaigns/{id}/resume", c.ResumeCampaign)
		r.Get("/campaigns/{id}/actions", c.ListActions)
	})
}

func (c *CampaignController) PersistPlan(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var body struct {
		ContactID string             `json:"contactId"`
		Channel   model.Channel      `json:"channel"`
		Plan      model.CampaignPlan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.ContactID == "" {
		http.Error(w, "contactId is required", http.StatusBadRequest)
		return
	}
	if body.Channel == "" {
		body.Channel = model.ChannelEmail
	}

	res, err := c.Plans.PersistPlan(r.Context(), tenant, body.ContactID, body.Channel, &body.Plan)
	if err != nil {
		c.writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"campaignId":  res.Campaign.ID,
		"version":     res.Version,
		"hash":        res.Hash,
		"created":     res.Created,
		"newVersion":  res.NewVersion,
		"applied":     res.Applied,
		"startNodeId": startNodeOf(res.Campaign),
	})
}

func (c *CampaignController) ListVersions(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	versions, err := c.Plans.ListVersions(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": versions})
}

func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	res, err := c.Execution.StartCampaign(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaignId":  res.CampaignID,
		"startNodeId": res.StartNodeID,
		"scheduled":   res.Scheduled,
	})
}

func (c *CampaignController) PostEvent(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}

	var body struct {
		EventType     model.EventType `json:"eventType"`
		CurrentNodeID string          `json:"currentNodeId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !body.EventType.Valid() {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	res, err := c.Execution.ProcessTransition(r.Context(), model.CampaignEvent{
		TenantID:      tenant,
		CampaignID:    id,
		EventType:     body.EventType,
		CurrentNodeID: body.CurrentNodeID,
	})
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome":   res.Outcome,
		"from":      res.FromNodeID,
		"to":        res.ToNodeID,
		"status":    res.Status,
		"scheduled": res.Scheduled,
	})
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	n, err := c.Execution.CancelCampaignActions(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"canceled": n})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	n, err := c.Execution.PauseCampaign(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": model.StatusPaused, "canceled": n})
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	scheduled, err := c.Execution.ResumeCampaign(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": model.StatusActive, "scheduled": scheduled})
}

func (c *CampaignController) ListActions(w http.ResponseWriter, r *http.Request) {
	tenant, id, ok := campaignParams(w, r)
	if !ok {
		return
	}
	actions, err := c.Execution.ListActions(r.Context(), tenant, id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": actions})
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	var invalid *appErrors.PlanValidationError
	var notFound *appErrors.ErrCampaignNotFound
	var badStatus *appErrors.ErrInvalidStatus
	var nonActionable *appErrors.ErrNonActionableNode

	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "invalid plan",
			"issues": invalid.Issues,
		})
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &badStatus), errors.As(err, &nonActionable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		if c.Logger != nil {
			c.Logger.Error("❌ request failed", zap.Error(err))
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func campaignParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return "", 0, false
	}
	return chi.URLParam(r, "tenant"), id, true
}

func startNodeOf(c *model.CampaignInstance) string {
	p, err := c.Plan()
	if err != nil {
		return ""
	}
	return p.StartNodeID
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
