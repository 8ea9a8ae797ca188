package models

import "encoding/json"

// Client is a customer account visited by the sales force. Clients are
// reference data pulled from the remote system and never queued.
type Client struct {
	ID             UUID      `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Codigo         string    `db:"codigo" json:"codigo,omitempty"`
	Nombre         string    `db:"nombre" json:"nombre"`
	Direccion      string    `db:"direccion" json:"direccion,omitempty"`
	Telefono       string    `db:"telefono" json:"telefono,omitempty"`
	Ubicacion      *GeoPoint `db:"ubicacion" json:"ubicacion,omitempty"`
	UpdatedAt      int64     `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for Client.
func (Client) TableName() string {
	return "clientes"
}

// VendorConfig is one key of the vendor configuration of a tenant.
type VendorConfig struct {
	OrganizationID string          `db:"organization_id" json:"organizationId"`
	Key            string          `db:"key" json:"key"`
	Value          json.RawMessage `db:"value" json:"value"`
	UpdatedAt      int64           `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for VendorConfig.
func (VendorConfig) TableName() string {
	return "config"
}

// ChecklistItem is one question of a visit checklist.
type ChecklistItem struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Tipo      string `json:"tipo"`
	Requerido bool   `json:"requerido"`
}

// ChecklistTemplate is the checklist a visit of a given type must fill in.
type ChecklistTemplate struct {
	ID             UUID            `db:"id" json:"id"`
	OrganizationID string          `db:"organization_id" json:"organizationId"`
	Nombre         string          `db:"nombre" json:"nombre"`
	TipoVisita     string          `db:"tipo_visita" json:"tipoVisita,omitempty"`
	Items          []ChecklistItem `db:"items" json:"items"`
	Activo         bool            `db:"activo" json:"activo"`
	UpdatedAt      int64           `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for ChecklistTemplate.
func (ChecklistTemplate) TableName() string {
	return "checklist_templates"
}
