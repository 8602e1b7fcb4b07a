package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type PlanVersionRepositoryInterface interface {
	CreateForTenant(ctx context.Context, tenantID string, v *model.PlanVersion) error
	ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error)
}

type PlanVersionRepository struct {
	DB *sql.DB
}

func (r *PlanVersionRepository) CreateForTenant(ctx context.Context, tenantID string, v *model.PlanVersion) error {
	v.TenantID = tenantID
	v.CreatedAt = time.Now()
	query := `
        INSERT INTO plan_versions (tenant_id, campaign_id, version, hash, plan_json, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, tenantID, v.CampaignID, v.Version, v.Hash, []byte(v.PlanJSON), v.CreatedAt).Scan(&v.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("plan version %s: %w", v.Version, ErrDuplicate)
	}
	return err
}

// ListByCampaignForTenant returns versions oldest first.
func (r *PlanVersionRepository) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.PlanVersion, error) {
	query := `
        SELECT id, tenant_id, campaign_id, version, hash, plan_json, created_at
        FROM plan_versions
        WHERE tenant_id=$1 AND campaign_id=$2
        ORDER BY id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []*model.PlanVersion{}
	for rows.Next() {
		v := &model.PlanVersion{}
		var planJSON []byte
		if err := rows.Scan(&v.ID, &v.TenantID, &v.CampaignID, &v.Version, &v.Hash, &planJSON, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.PlanJSON = planJSON
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

var _ PlanVersionRepositoryInterface = (*PlanVersionRepository)(nil)
