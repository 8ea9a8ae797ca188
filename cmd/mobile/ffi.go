//go:build cgo

// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libfieldsync.so (Android) / fieldsync.framework (iOS)
//
//	go build -buildmode=c-shared -o libfieldsync.so ./cmd/mobile
//
// Every call takes the handle returned by Open, so one process can host
// several cores. Functions returning *C.char hand back JSON the caller must
// release with FreeString; nil means failure and GetLastError explains it.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"unsafe"

	"github.com/kimhsiao/fieldsync/backend/internal/config"
	"github.com/kimhsiao/fieldsync/backend/internal/connectivity"
	"github.com/kimhsiao/fieldsync/backend/internal/core"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

var (
	mu      sync.RWMutex
	cores   = map[int64]*core.Core{}
	nextID  int64
	lastErr string
)

func setLastError(err error) {
	mu.Lock()
	defer mu.Unlock()
	lastErr = err.Error()
}

func lookup(handle C.longlong) (*core.Core, bool) {
	mu.RLock()
	c, ok := cores[int64(handle)]
	mu.RUnlock()
	if !ok {
		setLastError(fmt.Errorf("unknown handle %d", int64(handle)))
	}
	return c, ok
}

func result(v any, err error) *C.char {
	if err != nil {
		setLastError(err)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		setLastError(fmt.Errorf("serialize: %w", err))
		return nil
	}
	return C.CString(string(data))
}

// =====================================================
// Lifecycle
// =====================================================

//export Open
// Open builds a core from a YAML or JSON config document. The platform
// shell forwards network changes through SetOnline. Returns a handle, or 0.
func Open(configDoc *C.char) C.longlong {
	cfg, err := config.Parse([]byte(C.GoString(configDoc)))
	if err != nil {
		setLastError(err)
		return 0
	}
	c, err := core.New(cfg, core.WithMonitor(connectivity.NewManual(false)))
	if err != nil {
		setLastError(err)
		return 0
	}

	mu.Lock()
	defer mu.Unlock()
	nextID++
	cores[nextID] = c
	return C.longlong(nextID)
}

//export Start
// Start starts background sync. Returns 1 on success.
func Start(handle C.longlong) C.int {
	c, ok := lookup(handle)
	if !ok {
		return 0
	}
	if err := c.Start(context.Background()); err != nil {
		setLastError(err)
		return 0
	}
	return 1
}

//export Close
// Close shuts the core down and releases the handle.
func Close(handle C.longlong) {
	mu.Lock()
	c, ok := cores[int64(handle)]
	delete(cores, int64(handle))
	mu.Unlock()
	if ok {
		c.Shutdown(context.Background())
	}
}

//export SetOnline
// SetOnline forwards the platform's connectivity callback.
func SetOnline(handle C.longlong, online C.int) {
	c, ok := lookup(handle)
	if !ok {
		return
	}
	if m, ok := c.Monitor().(*connectivity.Manual); ok {
		m.SetOnline(online != 0)
	}
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	mu.RLock()
	defer mu.RUnlock()
	return C.CString(lastErr)
}

// =====================================================
// Entities
// =====================================================

type createdResponse struct {
	ID   models.UUID `json:"id"`
	Tipo models.Kind `json:"tipo"`
}

//export CreateVisit
// CreateVisit stores a visit given as JSON.
func CreateVisit(handle C.longlong, visitJSON *C.char) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	var v models.Visit
	if err := json.Unmarshal([]byte(C.GoString(visitJSON)), &v); err != nil {
		return result(nil, err)
	}
	id, err := c.CreateVisit(context.Background(), &v)
	return result(createdResponse{ID: id, Tipo: models.KindVisita}, err)
}

//export CreateAction
// CreateAction stores an action given as JSON.
func CreateAction(handle C.longlong, actionJSON *C.char) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	var a models.Action
	if err := json.Unmarshal([]byte(C.GoString(actionJSON)), &a); err != nil {
		return result(nil, err)
	}
	id, err := c.CreateAction(context.Background(), &a)
	return result(createdResponse{ID: id, Tipo: models.KindAccion}, err)
}

//export CreatePhoto
// CreatePhoto stores a photo record with its image bytes.
func CreatePhoto(handle C.longlong, metaJSON *C.char, data unsafe.Pointer, size C.int) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	var p models.Photo
	if err := json.Unmarshal([]byte(C.GoString(metaJSON)), &p); err != nil {
		return result(nil, err)
	}
	id, err := c.CreatePhoto(context.Background(), &p, C.GoBytes(data, size))
	return result(createdResponse{ID: id, Tipo: models.KindFoto}, err)
}

//export CreateAudio
// CreateAudio stores a voice note record with its payload.
func CreateAudio(handle C.longlong, metaJSON *C.char, data unsafe.Pointer, size C.int) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	var a models.Audio
	if err := json.Unmarshal([]byte(C.GoString(metaJSON)), &a); err != nil {
		return result(nil, err)
	}
	id, err := c.CreateAudio(context.Background(), &a, C.GoBytes(data, size))
	return result(createdResponse{ID: id, Tipo: models.KindAudio}, err)
}

// =====================================================
// Sync state
// =====================================================

//export GetPending
// GetPending lists entities pending or in error.
func GetPending(handle C.longlong) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	return result(c.GetPending(context.Background()))
}

//export Retry
// Retry re-queues an entity in error.
func Retry(handle C.longlong, tipo, id *C.char) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	kind, err := models.ParseKind(C.GoString(tipo))
	if err != nil {
		return result(nil, err)
	}
	return result(c.Retry(context.Background(), kind, models.UUID(C.GoString(id))))
}

//export SyncNow
// SyncNow drains the queue and waits for the result.
func SyncNow(handle C.longlong) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	return result(c.SyncNow(context.Background()))
}

//export Status
// Status returns the sync status snapshot.
func Status(handle C.longlong) *C.char {
	c, ok := lookup(handle)
	if !ok {
		return nil
	}
	return result(c.Status(context.Background()))
}

//export FreeString
// FreeString frees a string returned by the library.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
