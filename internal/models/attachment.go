package models

// Photo is the metadata record of a photo taken as visit evidence. The image
// bytes live in the blob store under the same id.
type Photo struct {
	ID             UUID      `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	VisitaID       UUID      `db:"visita_id" json:"visitaId,omitempty"`
	ClienteID      UUID      `db:"cliente_id" json:"clienteId"`
	Descripcion    string    `db:"descripcion" json:"descripcion,omitempty"`
	Tipo           string    `db:"tipo" json:"tipo"`
	Ubicacion      *GeoPoint `db:"ubicacion" json:"ubicacion,omitempty"`
	Timestamp      int64     `db:"timestamp" json:"timestamp"`
	MimeType       string    `db:"mime_type" json:"mimeType"`
	Size           int64     `db:"size" json:"size"`
	RemoteURL      string    `db:"remote_url" json:"remoteUrl,omitempty"`
	SyncMeta
}

// TableName returns the table name for Photo.
func (Photo) TableName() string {
	return "fotos"
}

func (p *Photo) Kind() Kind { return KindFoto }
func (p *Photo) EntityID() UUID { return p.ID }
func (p *Photo) Org() string { return p.OrganizationID }
func (p *Photo) Meta() *SyncMeta { return &p.SyncMeta }
func (p *Photo) setID(id UUID) { p.ID = id }

// Audio is the metadata record of a voice note. Duracion is in seconds.
type Audio struct {
	ID             UUID   `db:"id" json:"id"`
	OrganizationID string `db:"organization_id" json:"organizationId"`
	VisitaID       UUID   `db:"visita_id" json:"visitaId,omitempty"`
	ClienteID      UUID   `db:"cliente_id" json:"clienteId"`
	Descripcion    string `db:"descripcion" json:"descripcion,omitempty"`
	Duracion       int    `db:"duracion" json:"duracion"`
	Timestamp      int64  `db:"timestamp" json:"timestamp"`
	MimeType       string `db:"mime_type" json:"mimeType"`
	Size           int64  `db:"size" json:"size"`
	RemoteURL      string `db:"remote_url" json:"remoteUrl,omitempty"`
	Transcripcion  string `db:"transcripcion" json:"transcripcion,omitempty"`
	SyncMeta
}

// TableName returns the table name for Audio.
func (Audio) TableName() string {
	return "audios"
}

func (a *Audio) Kind() Kind { return KindAudio }
func (a *Audio) EntityID() UUID { return a.ID }
func (a *Audio) Org() string { return a.OrganizationID }
func (a *Audio) Meta() *SyncMeta { return &a.SyncMeta }
func (a *Audio) setID(id UUID) { a.ID = id }
