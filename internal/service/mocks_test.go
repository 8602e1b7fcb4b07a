package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

// memStore backs every mock repository with plain slices and maps.
type memStore struct {
	mu          sync.Mutex
	nextID      int
	campaigns   map[int]*model.CampaignInstance
	versions    []*model.PlanVersion
	transitions []*model.CampaignTransitionRecord
	actions     []*model.ScheduledAction
	contacts    map[string]*model.Contact

	entryErr  error // returned by LatestEntryForNode when set
	actionErr error // returned by action CreateForTenant when set
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[int]*model.CampaignInstance{},
		contacts:  map[string]*model.Contact{},
	}
}

func (m *memStore) id() int {
	m.nextID++
	return m.nextID
}

type mockCampaignRepo struct{ *memStore }
type mockVersionRepo struct{ *memStore }
type mockTransitionRepo struct{ *memStore }
type mockActionRepo struct{ *memStore }
type mockContactRepo struct{ *memStore }

func (r mockCampaignRepo) FindByContactAndChannel(ctx context.Context, tenantID, contactID string, channel model.Channel) (*model.CampaignInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.campaigns {
		if c.TenantID == tenantID && c.ContactID == contactID && c.Channel == channel {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r mockCampaignRepo) GetByIDForTenant(ctx context.Context, tenantID string, id int) (*model.CampaignInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(tenantID, id)
	}
	cp := *c
	return &cp, nil
}

func (r mockCampaignRepo) CreateForTenant(ctx context.Context, tenantID string, c *model.CampaignInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.TenantID = tenantID
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r mockCampaignRepo) UpdateByIDForTenant(ctx context.Context, tenantID string, id int, upd model.CampaignUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return appErrors.NewCampaignNotFound(tenantID, id)
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.CurrentNodeID != nil {
		c.CurrentNodeID = *upd.CurrentNodeID
	}
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		c.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		c.CompletedAt = &t
	}
	if upd.PlanJSON != nil {
		c.PlanJSON = upd.PlanJSON
	}
	if upd.PlanVersion != nil {
		c.PlanVersion = *upd.PlanVersion
	}
	if upd.PlanHash != nil {
		c.PlanHash = *upd.PlanHash
	}
	return nil
}

func (r mockVersionRepo) CreateForTenant(ctx context.Context, tenantID string, v *model.PlanVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.versions {
		if existing.TenantID == tenantID && existing.CampaignID == v.CampaignID && existing.Version == v.Version {
			return repository.ErrDuplicate
		}
	}
	v.ID = r.id()
	v.TenantID = tenantID
	cp := *v
	r.versions = append(r.versions, &cp)
	return nil
}

func (r mockVersionRepo) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.PlanVersion{}
	for _, v := range r.versions {
		if v.TenantID == tenantID && v.CampaignID == campaignID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r mockTransitionRepo) CreateForTenant(ctx context.Context, tenantID string, rec *model.CampaignTransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = r.id()
	rec.TenantID = tenantID
	cp := *rec
	r.transitions = append(r.transitions, &cp)
	return nil
}

func (r mockTransitionRepo) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.CampaignTransitionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.CampaignTransitionRecord{}
	for _, rec := range r.transitions {
		if rec.TenantID == tenantID && rec.CampaignID == campaignID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r mockTransitionRepo) LatestEntryForNode(ctx context.Context, tenantID string, campaignID int, nodeID string) (*model.CampaignTransitionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entryErr != nil {
		return nil, r.entryErr
	}
	var latest *model.CampaignTransitionRecord
	for _, rec := range r.transitions {
		if rec.TenantID != tenantID || rec.CampaignID != campaignID || rec.ToNodeID != nodeID {
			continue
		}
		if latest == nil || !rec.OccurredAt.Before(latest.OccurredAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r mockActionRepo) CreateForTenant(ctx context.Context, tenantID string, a *model.ScheduledAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actionErr != nil {
		return r.actionErr
	}
	a.ID = r.id()
	a.TenantID = tenantID
	if a.Status == "" {
		a.Status = model.ActionPending
	}
	cp := *a
	r.actions = append(r.actions, &cp)
	return nil
}

func (r mockActionRepo) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.ScheduledAction{}
	for _, a := range r.actions {
		if a.TenantID == tenantID && a.CampaignID == campaignID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r mockActionRepo) CancelPendingForTenant(ctx context.Context, tenantID string, campaignID int, nodeID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if a.TenantID == tenantID && a.CampaignID == campaignID && a.Status == model.ActionPending &&
			(nodeID == "" || a.NodeID == nodeID) {
			a.Status = model.ActionCanceled
			n++
		}
	}
	return n, nil
}

func (r mockActionRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.ScheduledAction{}
	for _, a := range r.actions {
		if len(out) == limit {
			break
		}
		if a.Status == model.ActionPending && !a.ScheduledAt.After(now) {
			a.Status = model.ActionClaimed
			a.Attempts++
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r mockActionRepo) MarkExecuted(ctx context.Context, tenantID string, id int) error {
	return r.setStatus(id, model.ActionExecuted, "")
}

func (r mockActionRepo) MarkFailed(ctx context.Context, tenantID string, id int, lastError string) error {
	return r.setStatus(id, model.ActionFailed, lastError)
}

func (r mockActionRepo) setStatus(id int, status model.ActionStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.actions {
		if a.ID == id {
			a.Status = status
			a.LastError = lastError
		}
	}
	return nil
}

func (r mockContactRepo) GetByIDForTenant(ctx context.Context, tenantID, id string) (*model.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// actionsWith returns stored actions of the campaign in the given status.
func (m *memStore) actionsWith(campaignID int, status model.ActionStatus) []*model.ScheduledAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.ScheduledAction{}
	for _, a := range m.actions {
		if a.CampaignID == campaignID && a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

func (m *memStore) campaign(id int) model.CampaignInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recordingQueue captures published payloads.
type recordingQueue struct {
	mu        sync.Mutex
	published map[string][]any
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.published == nil {
		q.published = map[string][]any{}
	}
	q.published[topic] = append(q.published[topic], payload)
	return nil
}

func (q *recordingQueue) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}

func (q *recordingQueue) count(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published[topic])
}
