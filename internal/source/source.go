// Package source loads telemetry datasets and owns the snapshot a
// long-running process serves from.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"telemetry-dashboard/internal/db"
	"telemetry-dashboard/internal/models"
	"telemetry-dashboard/internal/parser"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Load reads a dataset from a CSV file or, for .db/.sqlite paths, a SQLite snapshot
func Load(path string) (models.Dataset, models.LoadReport, error) {
	if !IsSnapshot(path) {
		return parser.LoadFile(path)
	}

	report := models.LoadReport{Source: path}
	// Opening a missing file would create an empty snapshot.
	if _, err := os.Stat(path); err != nil {
		return nil, report, fmt.Errorf("failed to open snapshot: %w", err)
	}
	database, err := db.New(path)
	if err != nil {
		return nil, report, err
	}
	defer database.Close()

	data, err := database.LoadDataset()
	if err != nil {
		return nil, report, fmt.Errorf("failed to read snapshot: %w", err)
	}
	dropped, err := database.LoadErrors()
	if err != nil {
		return nil, report, fmt.Errorf("failed to read snapshot errors: %w", err)
	}

	report.Loaded = len(data)
	report.Rows = len(data) + len(dropped)
	report.Dropped = dropped
	return data, report, nil
}

// SnapshotStats returns row counts stored in the SQLite snapshot at path
func SnapshotStats(path string) (map[string]interface{}, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	database, err := db.New(path)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	return database.GetStats()
}

// IsSnapshot reports whether path names a SQLite snapshot rather than a CSV file
func IsSnapshot(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	default:
		return false
	}
}

// Snapshot is one successfully loaded dataset
type Snapshot struct {
	Data     models.Dataset
	Report   models.LoadReport
	LoadedAt time.Time
}

// Holder owns the current snapshot for a path and can reload it
type Holder struct {
	path string

	mu   sync.RWMutex
	snap Snapshot
}

// NewHolder loads path and returns a holder for it. A load failure is fatal.
func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Path returns the source path
func (h *Holder) Path() string {
	return h.path
}

// Current returns the active snapshot
func (h *Holder) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Reload re-reads the source. On error the previous snapshot stays active.
func (h *Holder) Reload() error {
	data, report, err := Load(h.path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.snap = Snapshot{Data: data, Report: report, LoadedAt: time.Now().UTC()}
	h.mu.Unlock()

	log.Info().
		Str("source", h.path).
		Int("rows", report.Rows).
		Int("loaded", report.Loaded).
		Int("dropped", len(report.Dropped)).
		Msg("Loaded dataset")
	return nil
}

// Watch reloads the snapshot whenever the source file changes, until ctx is done
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	target := filepath.Clean(h.path)
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := h.Reload(); err != nil {
					log.Error().Err(err).Str("source", h.path).Msg("Reload failed, keeping previous dataset")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Watcher error")
			}
		}
	}()
	return nil
}
