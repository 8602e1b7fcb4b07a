// internal/model/contact.go
package model

type Contact struct {
	ID               string `db:"id" json:"id"`
	TenantID         string `db:"tenant_id" json:"tenant_id"`
	Email            string `db:"email" json:"email"`
	Phone            string `db:"phone" json:"phone"`
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Location         string `db:"location" json:"location"`
	PreferredProduct string `db:"preferred_product" json:"preferred_product"`
}

// Vars exposes the contact as template variables.
func (c *Contact) Vars() map[string]string {
	return map[string]string{
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"location":          c.Location,
		"preferred_product": c.PreferredProduct,
		"email":             c.Email,
	}
}
