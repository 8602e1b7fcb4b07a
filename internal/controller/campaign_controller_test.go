package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-engine/internal/controller"
	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// --- Mock services ---

type mockPlans struct {
	gotTenant  string
	gotContact string
	gotChannel model.Channel
	gotPlan    *model.CampaignPlan
	result     *service.PersistResult
	err        error
}

func (m *mockPlans) PersistPlan(ctx context.Context, tenantID, contactID string, channel model.Channel, p *model.CampaignPlan) (*service.PersistResult, error) {
	m.gotTenant, m.gotContact, m.gotChannel, m.gotPlan = tenantID, contactID, channel, p
	return m.result, m.err
}

func (m *mockPlans) ListVersions(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error) {
	return []*model.PlanVersion{{CampaignID: campaignID, Version: "v1"}}, m.err
}

type mockExecution struct {
	gotEvent model.CampaignEvent
	err      error
}

func (m *mockExecution) StartCampaign(ctx context.Context, tenantID string, campaignID int) (*service.InitResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.InitResult{CampaignID: campaignID, StartNodeID: "node_a"}, nil
}

func (m *mockExecution) ProcessTransition(ctx context.Context, ev model.CampaignEvent) (*service.TransitionResult, error) {
	m.gotEvent = ev
	if m.err != nil {
		return nil, m.err
	}
	return &service.TransitionResult{Outcome: service.OutcomeFired, FromNodeID: "node_a", ToNodeID: "node_b", Status: model.StatusActive}, nil
}

func (m *mockExecution) CancelCampaignActions(ctx context.Context, tenantID string, campaignID int) (int, error) {
	return 3, m.err
}

func (m *mockExecution) PauseCampaign(ctx context.Context, tenantID string, campaignID int) (int, error) {
	return 2, m.err
}

func (m *mockExecution) ResumeCampaign(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	return []*model.ScheduledAction{}, m.err
}

func (m *mockExecution) ListActions(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	return []*model.ScheduledAction{{CampaignID: campaignID, NodeID: "node_a"}}, m.err
}

func newRouter(plans *mockPlans, exec *mockExecution) http.Handler {
	r := chi.NewRouter()
	ctrl := &controller.CampaignController{Plans: plans, Execution: exec}
	ctrl.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const planJSON = `{
  "version": "v1",
  "timezone": "UTC",
  "startNodeId": "a",
  "nodes": [
    {"id": "a", "action": "send", "channel": "email", "subject": "Hi", "body": "Hello", "schedule": {"delay": "PT0S"},
     "transitions": [{"on": "opened", "to": "b", "within": "PT24H"}]},
    {"id": "b", "action": "stop", "transitions": []}
  ]
}`

// --- Tests ---

func TestPersistPlanHandler(t *testing.T) {
	stored := &model.CampaignInstance{ID: 7, PlanJSON: json.RawMessage(`{"startNodeId":"node_x","nodes":[]}`)}
	plans := &mockPlans{result: &service.PersistResult{Campaign: stored, Version: "v1", Hash: "abc", Created: true, NewVersion: true, Applied: true}}
	h := newRouter(plans, &mockExecution{})

	w := do(t, h, http.MethodPost, "/tenants/acme/plans", map[string]interface{}{
		"contactId": "contact-1",
		"plan":      json.RawMessage(planJSON),
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "acme", plans.gotTenant)
	assert.Equal(t, "contact-1", plans.gotContact)
	assert.Equal(t, model.ChannelEmail, plans.gotChannel)
	require.Len(t, plans.gotPlan.Nodes, 2)
	assert.IsType(t, &model.StopNode{}, plans.gotPlan.Nodes[1])

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(7), resp["campaignId"])
	assert.Equal(t, "node_x", resp["startNodeId"])
	assert.Equal(t, true, resp["applied"])
}

func TestPersistPlanHandler_Unchanged(t *testing.T) {
	stored := &model.CampaignInstance{ID: 7, PlanJSON: json.RawMessage(`{}`)}
	plans := &mockPlans{result: &service.PersistResult{Campaign: stored, Version: "v1"}}
	h := newRouter(plans, &mockExecution{})

	w := do(t, h, http.MethodPost, "/tenants/acme/plans", map[string]interface{}{
		"contactId": "contact-1",
		"plan":      json.RawMessage(planJSON),
	})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPersistPlanHandler_BadRequests(t *testing.T) {
	h := newRouter(&mockPlans{}, &mockExecution{})

	w := do(t, h, http.MethodPost, "/tenants/acme/plans", map[string]interface{}{"plan": json.RawMessage(planJSON)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/tenants/acme/plans", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersistPlanHandler_ValidationIssues(t *testing.T) {
	plans := &mockPlans{err: &appErrors.PlanValidationError{Issues: []appErrors.Issue{
		{Severity: "error", Field: "startNodeId", Message: "missing start node id"},
	}}}
	h := newRouter(plans, &mockExecution{})

	w := do(t, h, http.MethodPost, "/tenants/acme/plans", map[string]interface{}{
		"contactId": "contact-1",
		"plan":      json.RawMessage(planJSON),
	})

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp struct {
		Issues []appErrors.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "startNodeId", resp.Issues[0].Field)
}

func TestPostEventHandler(t *testing.T) {
	exec := &mockExecution{}
	h := newRouter(&mockPlans{}, exec)

	w := do(t, h, http.MethodPost, "/tenants/acme/campaigns/12/events", map[string]string{
		"eventType":     "opened",
		"currentNodeId": "node_a",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignEvent{TenantID: "acme", CampaignID: 12, EventType: model.EventOpened, CurrentNodeID: "node_a"}, exec.gotEvent)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fired", resp["outcome"])
	assert.Equal(t, "node_b", resp["to"])

	w = do(t, h, http.MethodPost, "/tenants/acme/campaigns/12/events", map[string]string{"eventType": "teleported"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCampaignRoutes_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", appErrors.NewCampaignNotFound("acme", 12), http.StatusNotFound},
		{"bad status", &appErrors.ErrInvalidStatus{CampaignID: 12, Status: "active", Operation: "start"}, http.StatusConflict},
		{"stop start node", &appErrors.ErrNonActionableNode{NodeID: "done", Action: "stop"}, http.StatusConflict},
		{"storage", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newRouter(&mockPlans{}, &mockExecution{err: tc.err})
			w := do(t, h, http.MethodPost, "/tenants/acme/campaigns/12/start", nil)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestCampaignRoutes_Lifecycle(t *testing.T) {
	h := newRouter(&mockPlans{}, &mockExecution{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/tenants/acme/campaigns/12/start"},
		{http.MethodPost, "/tenants/acme/campaigns/12/pause"},
		{http.MethodPost, "/tenants/acme/campaigns/12/resume"},
		{http.MethodPost, "/tenants/acme/campaigns/12/cancel"},
		{http.MethodGet, "/tenants/acme/campaigns/12/actions"},
		{http.MethodGet, "/tenants/acme/campaigns/12/versions"},
	}
	for _, p := range paths {
		w := do(t, h, p.method, p.path, nil)
		assert.Equal(t, http.StatusOK, w.Code, p.path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), p.path)
	}

	w := do(t, h, http.MethodPost, "/tenants/acme/campaigns/abc/start", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
