package models

// Visit is a field visit recorded by a sales rep at a client.
type Visit struct {
	ID             UUID                   `db:"id" json:"id"`
	OrganizationID string                 `db:"organization_id" json:"organizationId"`
	ClienteID      UUID                   `db:"cliente_id" json:"clienteId"`
	VendedorID     string                 `db:"vendedor_id" json:"vendedorId"`
	Fecha          int64                  `db:"fecha" json:"fecha"`
	Tipo           string                 `db:"tipo" json:"tipo"`
	Estado         string                 `db:"estado" json:"estado"`
	Notas          string                 `db:"notas" json:"notas,omitempty"`
	Ubicacion      *GeoPoint              `db:"ubicacion" json:"ubicacion,omitempty"`
	Checklist      map[string]interface{} `db:"checklist" json:"checklist,omitempty"`
	FotoIDs        []UUID                 `db:"foto_ids" json:"fotoIds"`
	AudioIDs       []UUID                 `db:"audio_ids" json:"audioIds"`
	Duracion       int                    `db:"duracion" json:"duracion"`
	SyncMeta
}

// TableName returns the table name for Visit.
func (Visit) TableName() string {
	return "visitas"
}

func (v *Visit) Kind() Kind { return KindVisita }
func (v *Visit) EntityID() UUID { return v.ID }
func (v *Visit) Org() string { return v.OrganizationID }
func (v *Visit) Meta() *SyncMeta { return &v.SyncMeta }
func (v *Visit) setID(id UUID) { v.ID = id }
