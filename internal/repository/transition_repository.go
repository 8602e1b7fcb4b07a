package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type TransitionRepositoryInterface interface {
	CreateForTenant(ctx context.Context, tenantID string, rec *model.CampaignTransitionRecord) error
	ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.CampaignTransitionRecord, error)
	// LatestEntryForNode returns the most recent record that moved the
	// campaign into nodeID, or nil when there is none.
	LatestEntryForNode(ctx context.Context, tenantID string, campaignID int, nodeID string) (*model.CampaignTransitionRecord, error)
}

type TransitionRepository struct {
	DB *sql.DB
}

const transitionColumns = `id, tenant_id, campaign_id, from_status, to_status, from_node_id, to_node_id, reason, occurred_at`

func scanTransition(row interface{ Scan(...any) error }) (*model.CampaignTransitionRecord, error) {
	var t model.CampaignTransitionRecord
	err := row.Scan(&t.ID, &t.TenantID, &t.CampaignID, &t.FromStatus, &t.ToStatus,
		&t.FromNodeID, &t.ToNodeID, &t.Reason, &t.OccurredAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TransitionRepository) CreateForTenant(ctx context.Context, tenantID string, rec *model.CampaignTransitionRecord) error {
	rec.TenantID = tenantID
	query := `
        INSERT INTO campaign_transitions (tenant_id, campaign_id, from_status, to_status, from_node_id, to_node_id, reason, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, tenantID, rec.CampaignID, rec.FromStatus, rec.ToStatus,
		rec.FromNodeID, rec.ToNodeID, rec.Reason, rec.OccurredAt).Scan(&rec.ID)
}

func (r *TransitionRepository) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.CampaignTransitionRecord, error) {
	query := `SELECT ` + transitionColumns + ` FROM campaign_transitions
        WHERE tenant_id=$1 AND campaign_id=$2 ORDER BY occurred_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*model.CampaignTransitionRecord{}
	for rows.Next() {
		rec, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *TransitionRepository) LatestEntryForNode(ctx context.Context, tenantID string, campaignID int, nodeID string) (*model.CampaignTransitionRecord, error) {
	query := `SELECT ` + transitionColumns + ` FROM campaign_transitions
        WHERE tenant_id=$1 AND campaign_id=$2 AND to_node_id=$3
        ORDER BY occurred_at DESC, id DESC LIMIT 1`
	rec, err := scanTransition(r.DB.QueryRowContext(ctx, query, tenantID, campaignID, nodeID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

var _ TransitionRepositoryInterface = (*TransitionRepository)(nil)
