package models

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a synchronizable entity. It doubles as the
// queue item "tipo" and the key of the handler registry.
type Kind string

const (
	KindVisita Kind = "visita"
	KindFoto   Kind = "foto"
	KindAudio  Kind = "audio"
	KindAccion Kind = "accion"
)

// Queue priorities. Lower numbers drain first.
const (
	PriorityRecord     = 1
	PriorityAttachment = 3
)

// Kinds lists every synchronizable kind in drain-priority order.
var Kinds = []Kind{KindVisita, KindAccion, KindFoto, KindAudio}

// ParseKind converts a wire value into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindVisita, KindFoto, KindAudio, KindAccion:
		return true
	}
	return false
}

// Priority returns the queue priority for entities of this kind.
func (k Kind) Priority() int {
	if k.HasBlob() {
		return PriorityAttachment
	}
	return PriorityRecord
}

// HasBlob reports whether entities of this kind own a binary payload.
func (k Kind) HasBlob() bool {
	return k == KindFoto || k == KindAudio
}

// Table returns the entity table backing this kind.
func (k Kind) Table() string {
	switch k {
	case KindVisita:
		return "visitas"
	case KindAccion:
		return "acciones"
	case KindFoto:
		return "fotos"
	case KindAudio:
		return "audios"
	}
	return ""
}

func (k Kind) String() string {
	return string(k)
}

// SyncStatus is the synchronization state of an entity.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
)

// ParseSyncStatus converts a stored value into a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch st := SyncStatus(s); st {
	case StatusPending, StatusSyncing, StatusSynced, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// NeedsAttention reports whether the status is surfaced by pending listings.
func (s SyncStatus) NeedsAttention() bool {
	return s == StatusPending || s == StatusError
}
