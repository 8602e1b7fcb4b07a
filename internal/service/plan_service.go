package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/model"
	"github.com/unclebandit/campaign-engine/internal/plan"
	"github.com/unclebandit/campaign-engine/internal/repository"
)

const defaultVersionLabel = "v1"

// PlanService stores plans per (tenant, contact, channel) and versions them
// by content hash.
type PlanService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	VersionRepo  repository.PlanVersionRepositoryInterface
	Normalizer   *plan.Normalizer
	Logger       *zap.Logger
}

type PersistResult struct {
	Campaign   *model.CampaignInstance
	Version    string
	Hash       string
	Created    bool // campaign row created by this call
	NewVersion bool // version row appended by this call
	Applied    bool // campaign plan snapshot is this content
}

func (s *PlanService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// PersistPlan validates p, normalizes its ids and upserts the campaign for
// the contact and channel. The hash is taken over the document as submitted,
// so regenerating identical planner output does not create a version. Only
// draft campaigns adopt new content; started ones just gain the version row.
func (s *PlanService) PersistPlan(ctx context.Context, tenantID, contactID string, channel model.Channel, p *model.CampaignPlan) (*PersistResult, error) {
	if err := plan.Check(p); err != nil {
		return nil, err
	}

	hash, err := plan.Hash(p)
	if err != nil {
		return nil, err
	}

	normalizer := s.Normalizer
	if normalizer == nil {
		normalizer = plan.NewNormalizer(s.logger())
	}
	normalized := normalizer.Normalize(p)
	planJSON, err := plan.Canonical(normalized)
	if err != nil {
		return nil, err
	}

	base := p.Version
	if base == "" {
		base = defaultVersionLabel
	}

	existing, err := s.CampaignRepo.FindByContactAndChannel(ctx, tenantID, contactID, channel)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		created, err := s.create(ctx, tenantID, contactID, channel, base, hash, planJSON)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// Lost a race with a concurrent first write; continue as an update.
		existing, err = s.CampaignRepo.FindByContactAndChannel(ctx, tenantID, contactID, channel)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("campaign for contact %s vanished after duplicate insert", contactID)
		}
	}

	versions, err := s.VersionRepo.ListByCampaignForTenant(ctx, tenantID, existing.ID)
	if err != nil {
		return nil, err
	}

	result := &PersistResult{Campaign: existing, Version: existing.PlanVersion, Hash: hash}
	latestHash := existing.PlanHash
	if n := len(versions); n > 0 {
		result.Version = versions[n-1].Version
		latestHash = versions[n-1].Hash
	}
	if latestHash == hash {
		result.Applied = existing.PlanHash == hash
		return result, nil
	}

	// Any change appends a row, including a return to earlier content.
	label := NextVersionLabel(base, versions)
	v := &model.PlanVersion{CampaignID: existing.ID, Version: label, Hash: hash, PlanJSON: planJSON}
	if err := s.VersionRepo.CreateForTenant(ctx, tenantID, v); err != nil {
		return nil, fmt.Errorf("store plan version %s: %w", label, err)
	}
	result.Version = label
	result.NewVersion = true

	// A started instance keeps executing the snapshot it started with: its
	// current node and pending actions refer to that snapshot's ids.
	if existing.Status != model.StatusDraft {
		s.logger().Info("📝 plan version recorded, running instance keeps its snapshot",
			zap.String("tenant_id", tenantID),
			zap.Int("campaign_id", existing.ID),
			zap.String("status", string(existing.Status)),
			zap.String("running_version", existing.PlanVersion),
			zap.String("version", label))
		return result, nil
	}

	if err := s.point(ctx, existing, label, hash, planJSON); err != nil {
		return nil, err
	}
	result.Applied = true

	s.logger().Info("📝 plan version recorded",
		zap.String("tenant_id", tenantID),
		zap.Int("campaign_id", existing.ID),
		zap.String("version", label))

	return result, nil
}

func (s *PlanService) create(ctx context.Context, tenantID, contactID string, channel model.Channel, version, hash string, planJSON []byte) (*PersistResult, error) {
	c := &model.CampaignInstance{
		ContactID:   contactID,
		Channel:     channel,
		Status:      model.StatusDraft,
		PlanJSON:    planJSON,
		PlanVersion: version,
		PlanHash:    hash,
	}
	if err := s.CampaignRepo.CreateForTenant(ctx, tenantID, c); err != nil {
		return nil, err
	}

	v := &model.PlanVersion{CampaignID: c.ID, Version: version, Hash: hash, PlanJSON: planJSON}
	if err := s.VersionRepo.CreateForTenant(ctx, tenantID, v); err != nil {
		return nil, fmt.Errorf("store plan version %s: %w", version, err)
	}

	s.logger().Info("📝 campaign created",
		zap.String("tenant_id", tenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("version", version))

	return &PersistResult{Campaign: c, Version: version, Hash: hash, Created: true, NewVersion: true, Applied: true}, nil
}

func (s *PlanService) point(ctx context.Context, c *model.CampaignInstance, version, hash string, planJSON []byte) error {
	if err := s.CampaignRepo.UpdateByIDForTenant(ctx, c.TenantID, c.ID, model.CampaignUpdate{
		PlanJSON:    planJSON,
		PlanVersion: &version,
		PlanHash:    &hash,
	}); err != nil {
		return fmt.Errorf("update campaign plan: %w", err)
	}
	c.PlanJSON = planJSON
	c.PlanVersion = version
	c.PlanHash = hash
	return nil
}

// ListVersions returns a campaign's plan history, oldest first.
func (s *PlanService) ListVersions(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error) {
	return s.VersionRepo.ListByCampaignForTenant(ctx, tenantID, campaignID)
}

// NextVersionLabel picks the label for new content under base: base itself
// when unused, otherwise base-N with N one above the highest suffix taken.
// The bare base label counts as suffix 1.
func NextVersionLabel(base string, versions []*model.PlanVersion) string {
	highest := 0
	for _, v := range versions {
		if v.Version == base {
			highest = max(highest, 1)
			continue
		}
		rest, ok := strings.CutPrefix(v.Version, base+"-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil && n >= 2 {
			highest = max(highest, n)
		}
	}
	if highest == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, highest+1)
}
