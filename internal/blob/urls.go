package blob

import (
	"strings"
	"sync"

	"github.com/kimhsiao/fieldsync/backend/internal/models"
	"github.com/kimhsiao/fieldsync/backend/internal/uuid"
)

const urlScheme = "blob:"

// URLs hands out display URLs for blobs. The URLs embed a nonce generated
// when the registry is created, so they stop resolving after a restart.
// They are never persisted and never used as identity.
type URLs struct {
	mu    sync.RWMutex
	nonce string
	byID  map[models.UUID]string
}

// NewURLs creates a registry with a fresh nonce.
func NewURLs() *URLs {
	return &URLs{
		nonce: strings.ReplaceAll(uuid.New(), "-", "")[:12],
		byID:  make(map[models.UUID]string),
	}
}

// Nonce returns the process-local nonce embedded in every URL.
func (u *URLs) Nonce() string {
	return u.nonce
}

// Create returns the display URL for id, creating it on first use.
func (u *URLs) Create(id models.UUID) string {
	u.mu.RLock()
	url, ok := u.byID[id]
	u.mu.RUnlock()
	if ok {
		return url
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if url, ok := u.byID[id]; ok {
		return url
	}
	url = urlScheme + u.nonce + "/" + id.String()
	u.byID[id] = url
	return url
}

// Resolve maps a URL created by this registry back to its blob id.
func (u *URLs) Resolve(url string) (models.UUID, bool) {
	rest, ok := strings.CutPrefix(url, urlScheme)
	if !ok {
		return "", false
	}
	nonce, id, ok := strings.Cut(rest, "/")
	if !ok || nonce != u.nonce {
		return "", false
	}

	u.mu.RLock()
	defer u.mu.RUnlock()
	if _, live := u.byID[models.UUID(id)]; !live {
		return "", false
	}
	return models.UUID(id), true
}

// Revoke invalidates the URL of id.
func (u *URLs) Revoke(id models.UUID) {
	u.mu.Lock()
	delete(u.byID, id)
	u.mu.Unlock()
}

// RevokeAll invalidates every URL.
func (u *URLs) RevokeAll() {
	u.mu.Lock()
	u.byID = make(map[models.UUID]string)
	u.mu.Unlock()
}

// Len returns the number of live URLs.
func (u *URLs) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.byID)
}
