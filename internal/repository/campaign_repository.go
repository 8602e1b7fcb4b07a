package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("duplicate record")

type CampaignRepositoryInterface interface {
	FindByContactAndChannel(ctx context.Context, tenantID, contactID string, channel model.Channel) (*model.CampaignInstance, error)
	GetByIDForTenant(ctx context.Context, tenantID string, id int) (*model.CampaignInstance, error)
	CreateForTenant(ctx context.Context, tenantID string, c *model.CampaignInstance) error
	UpdateByIDForTenant(ctx context.Context, tenantID string, id int, upd model.CampaignUpdate) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, contact_id, channel, status, current_node_id, started_at, completed_at,
        plan_json, plan_version, plan_hash, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.CampaignInstance, error) {
	var c model.CampaignInstance
	var planJSON []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.ContactID, &c.Channel, &c.Status, &c.CurrentNodeID,
		&c.StartedAt, &c.CompletedAt, &planJSON, &c.PlanVersion, &c.PlanHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.PlanJSON = planJSON
	return &c, nil
}

// FindByContactAndChannel returns nil, nil when the contact has no campaign
// on that channel.
func (r *CampaignRepository) FindByContactAndChannel(ctx context.Context, tenantID, contactID string, channel model.Channel) (*model.CampaignInstance, error) {
	query := `SELECT ` + campaignColumns + `
        FROM campaigns WHERE tenant_id=$1 AND contact_id=$2 AND channel=$3`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, tenantID, contactID, channel))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) GetByIDForTenant(ctx context.Context, tenantID string, id int) (*model.CampaignInstance, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id=$1 AND id=$2`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(tenantID, id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) CreateForTenant(ctx context.Context, tenantID string, c *model.CampaignInstance) error {
	c.TenantID = tenantID
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	query := `
        INSERT INTO campaigns (tenant_id, contact_id, channel, status, current_node_id, plan_json, plan_version, plan_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query, tenantID, c.ContactID, c.Channel, c.Status, c.CurrentNodeID,
		[]byte(c.PlanJSON), c.PlanVersion, c.PlanHash, c.CreatedAt).Scan(&c.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("campaign for contact %s on %s: %w", c.ContactID, c.Channel, ErrDuplicate)
	}
	return err
}

func (r *CampaignRepository) UpdateByIDForTenant(ctx context.Context, tenantID string, id int, upd model.CampaignUpdate) error {
	sets := []string{}
	args := []interface{}{}
	argPos := 1

	set := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, argPos))
		args = append(args, value)
		argPos++
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.CurrentNodeID != nil {
		set("current_node_id", *upd.CurrentNodeID)
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if upd.PlanJSON != nil {
		set("plan_json", []byte(upd.PlanJSON))
	}
	if upd.PlanVersion != nil {
		set("plan_version", *upd.PlanVersion)
	}
	if upd.PlanHash != nil {
		set("plan_hash", *upd.PlanHash)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", time.Now())

	query := fmt.Sprintf(`UPDATE campaigns SET %s WHERE tenant_id=$%d AND id=$%d`,
		strings.Join(sets, ", "), argPos, argPos+1)
	args = append(args, tenantID, id)

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(tenantID, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
