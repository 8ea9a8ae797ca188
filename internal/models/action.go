package models

// Action is a commercial action (order, promise, follow-up) agreed with a
// client, optionally during a visit.
type Action struct {
	ID             UUID    `db:"id" json:"id"`
	OrganizationID string  `db:"organization_id" json:"organizationId"`
	ClienteID      UUID    `db:"cliente_id" json:"clienteId"`
	VisitaID       UUID    `db:"visita_id" json:"visitaId,omitempty"`
	Tipo           string  `db:"tipo" json:"tipo"`
	Descripcion    string  `db:"descripcion" json:"descripcion"`
	Monto          float64 `db:"monto" json:"monto"`
	Fecha          int64   `db:"fecha" json:"fecha"`
	Estado         string  `db:"estado" json:"estado"`
	FotoIDs        []UUID  `db:"foto_ids" json:"fotoIds"`
	SyncMeta
}

// TableName returns the table name for Action.
func (Action) TableName() string {
	return "acciones"
}

func (a *Action) Kind() Kind { return KindAccion }
func (a *Action) EntityID() UUID { return a.ID }
func (a *Action) Org() string { return a.OrganizationID }
func (a *Action) Meta() *SyncMeta { return &a.SyncMeta }
func (a *Action) setID(id UUID) { a.ID = id }
