package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/campaign-engine/internal/model"
)

type ScheduledActionRepositoryInterface interface {
	CreateForTenant(ctx context.Context, tenantID string, a *model.ScheduledAction) error
	ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error)
	// CancelPendingForTenant cancels pending actions of a campaign. An empty
	// nodeID cancels across all nodes.
	CancelPendingForTenant(ctx context.Context, tenantID string, campaignID int, nodeID string) (int, error)
	// ClaimDue atomically moves up to limit pending actions due at now into
	// the claimed state and returns them. A claimed action is never handed
	// out twice.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledAction, error)
	MarkExecuted(ctx context.Context, tenantID string, id int) error
	MarkFailed(ctx context.Context, tenantID string, id int, lastError string) error
}

type ScheduledActionRepository struct {
	DB *sql.DB
}

const actionColumns = `id, tenant_id, campaign_id, node_id, action_type, scheduled_at, status, payload, last_error, attempts, created_at, updated_at`

func scanAction(row interface{ Scan(...any) error }) (*model.ScheduledAction, error) {
	var a model.ScheduledAction
	var payload []byte
	err := row.Scan(&a.ID, &a.TenantID, &a.CampaignID, &a.NodeID, &a.ActionType, &a.ScheduledAt,
		&a.Status, &payload, &a.LastError, &a.Attempts, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Payload = payload
	return &a, nil
}

func (r *ScheduledActionRepository) CreateForTenant(ctx context.Context, tenantID string, a *model.ScheduledAction) error {
	now := time.Now()
	a.TenantID = tenantID
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.ActionPending
	}
	if len(a.Payload) == 0 {
		a.Payload = []byte("{}")
	}

	query := `
        INSERT INTO scheduled_actions
        (tenant_id, campaign_id, node_id, action_type, scheduled_at, status, payload, last_error, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, '', 0, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		tenantID,
		a.CampaignID,
		a.NodeID,
		a.ActionType,
		a.ScheduledAt,
		a.Status,
		[]byte(a.Payload),
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
}

func (r *ScheduledActionRepository) ListByCampaignForTenant(ctx context.Context, tenantID string, campaignID int) ([]*model.ScheduledAction, error) {
	query := `SELECT ` + actionColumns + ` FROM scheduled_actions
        WHERE tenant_id=$1 AND campaign_id=$2 ORDER BY scheduled_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActions(rows)
}

func (r *ScheduledActionRepository) CancelPendingForTenant(ctx context.Context, tenantID string, campaignID int, nodeID string) (int, error) {
	query := `UPDATE scheduled_actions SET status=$1, updated_at=NOW()
        WHERE tenant_id=$2 AND campaign_id=$3 AND status=$4 AND ($5::text = '' OR node_id=$5::text)`
	res, err := r.DB.ExecContext(ctx, query, model.ActionCanceled, tenantID, campaignID, model.ActionPending, nodeID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ScheduledActionRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledAction, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
        SELECT id FROM scheduled_actions
        WHERE status=$1 AND scheduled_at <= $2
        ORDER BY scheduled_at ASC
        LIMIT $3
        FOR UPDATE SKIP LOCKED`, model.ActionPending, now, limit)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return []*model.ScheduledAction{}, tx.Commit()
	}

	claimed, err := tx.QueryContext(ctx, `
        UPDATE scheduled_actions SET status=$1, attempts=attempts+1, updated_at=NOW()
        WHERE id = ANY($2)
        RETURNING `+actionColumns, model.ActionClaimed, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	actions, err := collectActions(claimed)
	claimed.Close()
	if err != nil {
		return nil, err
	}
	return actions, tx.Commit()
}

func (r *ScheduledActionRepository) MarkExecuted(ctx context.Context, tenantID string, id int) error {
	query := `UPDATE scheduled_actions SET status=$1, last_error='', updated_at=NOW() WHERE tenant_id=$2 AND id=$3`
	_, err := r.DB.ExecContext(ctx, query, model.ActionExecuted, tenantID, id)
	return err
}

func (r *ScheduledActionRepository) MarkFailed(ctx context.Context, tenantID string, id int, lastError string) error {
	query := `UPDATE scheduled_actions SET status=$1, last_error=$2, updated_at=NOW() WHERE tenant_id=$3 AND id=$4`
	_, err := r.DB.ExecContext(ctx, query, model.ActionFailed, lastError, tenantID, id)
	return err
}

func collectActions(rows *sql.Rows) ([]*model.ScheduledAction, error) {
	actions := []*model.ScheduledAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

var _ ScheduledActionRepositoryInterface = (*ScheduledActionRepository)(nil)
