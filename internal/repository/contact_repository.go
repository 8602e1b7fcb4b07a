package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/campaign-engine/internal/model"
)

// ContactRepositoryInterface defines the contact lookups the worker needs.
type ContactRepositoryInterface interface {
	GetByIDForTenant(ctx context.Context, tenantID, id string) (*model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

// GetByIDForTenant returns nil, nil when the contact does not exist.
func (r *ContactRepository) GetByIDForTenant(ctx context.Context, tenantID, id string) (*model.Contact, error) {
	query := `
        SELECT id, tenant_id, email, phone, first_name, last_name, location, preferred_product
        FROM contacts
        WHERE tenant_id = $1 AND id = $2
    `
	row := r.DB.QueryRowContext(ctx, query, tenantID, id)

	var c model.Contact
	if err := row.Scan(&c.ID, &c.TenantID, &c.Email, &c.Phone, &c.FirstName, &c.LastName, &c.Location, &c.PreferredProduct); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
