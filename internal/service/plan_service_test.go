package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
	"github.com/unclebandit/campaign-engine/internal/service"
)

func newPlanService(store *memStore) *service.PlanService {
	return &service.PlanService{
		CampaignRepo: mockCampaignRepo{store},
		VersionRepo:  mockVersionRepo{store},
	}
}

func withBody(p *model.CampaignPlan, body string) *model.CampaignPlan {
	p.Nodes[0].(*model.SendNode).Body = body
	return p
}

func TestPersistPlan_CreatesNormalizedCampaign(t *testing.T) {
	store := newMemStore()
	svc := newPlanService(store)

	res, err := svc.PersistPlan(context.Background(), tenant, "contact-1", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.True(t, res.NewVersion)
	assert.Equal(t, "v1", res.Version)
	assert.Equal(t, model.StatusDraft, res.Campaign.Status)

	stored, err := res.Campaign.Plan()
	require.NoError(t, err)
	assert.True(t, plan.IsNormalized(stored))
	_, ok := stored.Node(stored.StartNodeID)
	assert.True(t, ok, "start node id rewritten with the nodes")

	// The hash identifies the submitted document, not the rewritten one.
	want, err := plan.Hash(sendThenStop())
	require.NoError(t, err)
	assert.Equal(t, want, res.Hash)
	assert.Equal(t, want, store.campaign(res.Campaign.ID).PlanHash)
}

func TestPersistPlan_Versioning(t *testing.T) {
	store := newMemStore()
	svc := newPlanService(store)
	ctx := context.Background()
	persist := func(p *model.CampaignPlan) *service.PersistResult {
		t.Helper()
		res, err := svc.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, p)
		require.NoError(t, err)
		return res
	}

	first := persist(sendThenStop())
	id := first.Campaign.ID

	same := persist(sendThenStop())
	assert.False(t, same.Created)
	assert.False(t, same.NewVersion)
	assert.Equal(t, "v1", same.Version)
	assert.Equal(t, id, same.Campaign.ID)

	second := persist(withBody(sendThenStop(), "Second draft"))
	assert.True(t, second.NewVersion)
	assert.Equal(t, "v1-2", second.Version)

	third := persist(withBody(sendThenStop(), "Third draft"))
	assert.Equal(t, "v1-3", third.Version)
	assert.Equal(t, "v1-3", store.campaign(id).PlanVersion)

	// Returning to earlier content is still a change and gets its own row.
	reverted := persist(sendThenStop())
	assert.True(t, reverted.NewVersion)
	assert.Equal(t, "v1-4", reverted.Version)
	assert.Equal(t, "v1-4", store.campaign(id).PlanVersion)
	assert.Equal(t, first.Hash, store.campaign(id).PlanHash)

	again := persist(sendThenStop())
	assert.False(t, again.NewVersion)
	assert.Equal(t, "v1-4", again.Version)

	versions, err := svc.ListVersions(ctx, tenant, id)
	require.NoError(t, err)
	labels := []string{}
	for _, v := range versions {
		labels = append(labels, v.Version)
	}
	assert.Equal(t, []string{"v1", "v1-2", "v1-3", "v1-4"}, labels)
}

func TestPersistPlan_SeparateChannelsAndContacts(t *testing.T) {
	store := newMemStore()
	svc := newPlanService(store)
	ctx := context.Background()

	a, err := svc.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)
	b, err := svc.PersistPlan(ctx, tenant, "contact-2", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)
	c, err := svc.PersistPlan(ctx, "globex", "contact-1", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)

	assert.True(t, b.Created)
	assert.True(t, c.Created)
	assert.NotEqual(t, a.Campaign.ID, b.Campaign.ID)
	assert.NotEqual(t, a.Campaign.ID, c.Campaign.ID)
}

func TestPersistPlan_RejectsInvalidPlan(t *testing.T) {
	store := newMemStore()
	svc := newPlanService(store)

	p := sendThenStop()
	p.StartNodeID = "missing"
	_, err := svc.PersistPlan(context.Background(), tenant, "contact-1", model.ChannelEmail, p)

	var invalid *appErrors.PlanValidationError
	require.ErrorAs(t, err, &invalid)
	assert.NotEmpty(t, invalid.Issues)
	assert.Empty(t, store.campaigns)
}

func TestPersistPlan_DefaultVersionLabel(t *testing.T) {
	store := newMemStore()
	svc := newPlanService(store)

	p := sendThenStop()
	p.Version = ""
	res, err := svc.PersistPlan(context.Background(), tenant, "contact-1", model.ChannelEmail, p)
	require.NoError(t, err)
	assert.Equal(t, "v1", res.Version)
}

func TestNextVersionLabel(t *testing.T) {
	versions := func(labels ...string) []*model.PlanVersion {
		out := make([]*model.PlanVersion, len(labels))
		for i, l := range labels {
			out[i] = &model.PlanVersion{Version: l}
		}
		return out
	}

	cases := []struct {
		name     string
		existing []*model.PlanVersion
		want     string
	}{
		{"unused base", nil, "v1"},
		{"base taken", versions("v1"), "v1-2"},
		{"suffix taken", versions("v1", "v1-2"), "v1-3"},
		{"gap keeps counting up", versions("v1", "v1-5", "v1-3"), "v1-6"},
		{"foreign labels ignored", versions("v2", "v1-beta", "v10"), "v1"},
		{"suffix without base", versions("v1-2"), "v1-3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, service.NextVersionLabel("v1", tc.existing))
		})
	}
}

func TestPersistPlan_RunningCampaignKeepsItsSnapshot(t *testing.T) {
	h := newHarness()
	plans := newPlanService(h.store)
	ctx := context.Background()

	first, err := plans.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)
	c := first.Campaign
	_, err = h.svc.StartCampaign(ctx, tenant, c.ID)
	require.NoError(t, err)
	running := h.store.campaign(c.ID)

	revised, err := plans.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, withBody(sendThenStop(), "Revised"))
	require.NoError(t, err)
	assert.True(t, revised.NewVersion)
	assert.False(t, revised.Applied)
	assert.Equal(t, "v1-2", revised.Version)

	after := h.store.campaign(c.ID)
	assert.JSONEq(t, string(running.PlanJSON), string(after.PlanJSON))
	assert.Equal(t, "v1", after.PlanVersion)
	assert.Equal(t, first.Hash, after.PlanHash)

	resubmitted, err := plans.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, withBody(sendThenStop(), "Revised"))
	require.NoError(t, err)
	assert.False(t, resubmitted.NewVersion)
	assert.Equal(t, "v1-2", resubmitted.Version)

	res := h.event(t, c, model.EventOpened, t0.Add(time.Hour))
	assert.Equal(t, service.OutcomeFired, res.Outcome)
	assert.Equal(t, model.StatusCompleted, h.store.campaign(c.ID).Status)
}

func TestPersistPlan_DraftAdoptsRevision(t *testing.T) {
	store := newMemStore()
	plans := newPlanService(store)
	ctx := context.Background()

	first, err := plans.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, sendThenStop())
	require.NoError(t, err)
	revised, err := plans.PersistPlan(ctx, tenant, "contact-1", model.ChannelEmail, withBody(sendThenStop(), "Revised"))
	require.NoError(t, err)

	assert.True(t, revised.Applied)
	got := store.campaign(first.Campaign.ID)
	assert.Equal(t, "v1-2", got.PlanVersion)
	assert.Equal(t, revised.Hash, got.PlanHash)
}
