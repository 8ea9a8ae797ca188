package connectivity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// FileSignal follows a file the platform shell rewrites whenever the
// device's network state changes. The content "online" (or "1", "true")
// means online; anything else, or a missing file, means offline.
type FileSignal struct {
	*state
	path   string
	logger *logging.Logger
}

// NewFileSignal creates a FileSignal and reads the current file content.
func NewFileSignal(path string, logger *logging.Logger) *FileSignal {
	if logger == nil {
		logger = logging.Get()
	}
	f := &FileSignal{
		state:  newState(false),
		path:   filepath.Clean(path),
		logger: logger.Component("connectivity"),
	}
	f.state.online = readSignal(f.path)
	return f
}

// Path returns the watched file.
func (f *FileSignal) Path() string {
	return f.path
}

// Refresh re-reads the file.
func (f *FileSignal) Refresh() bool {
	online := readSignal(f.path)
	if f.set(online) {
		f.logger.Info("Connectivity changed", map[string]interface{}{
			"online": online,
			"file":   f.path,
		})
	}
	return online
}

// Run watches the file's directory until ctx is done. The directory is
// watched rather than the file so that atomic replace-by-rename works.
func (f *FileSignal) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	// The file may have changed between construction and Add.
	f.Refresh()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				f.Refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("Connectivity watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func readSignal(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("Failed to read connectivity file", map[string]interface{}{
				"file":  path,
				"error": err.Error(),
			})
		}
		return false
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online", "1", "true":
		return true
	}
	return false
}
