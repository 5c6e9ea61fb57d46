// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/claimroute/internal/util"
)

// =============================================================================
// WINDOW STORAGE
// =============================================================================

// Storage persists closed windows as one JSON file each, named by window ID.
type Storage struct {
	dir string
}

// NewStorage creates a window storage manager. An empty dir defaults to
// ~/.claimroute/metrics/.
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(homeDir, ".claimroute", "metrics")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &Storage{dir: dir}, nil
}

// Dir returns the resolved storage directory.
func (s *Storage) Dir() string {
	return s.dir
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save persists a window to disk. The write is atomic so a reader polling
// the directory never sees a half-written file.
func (s *Storage) Save(w *Window) error {
	if w == nil {
		return nil
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}

	return util.AtomicWriteFile(filepath.Join(s.dir, w.ID+".json"), data, 0600)
}

// Load retrieves a window from disk by ID.
func (s *Storage) Load(windowID string) (*Window, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, windowID+".json"))
	if err != nil {
		return nil, err
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.ByState == nil {
		w.ByState = make(map[string]int64)
	}
	if w.ByRule == nil {
		w.ByRule = make(map[string]int64)
	}

	return &w, nil
}

// List returns the IDs of stored windows whose start time falls within the
// range, sorted ascending. Window IDs embed the start timestamp, so the
// range check never has to open the files.
func (s *Storage) List(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		ts, ok := windowTimestamp(id)
		if !ok {
			continue
		}
		if ts.Before(from) || ts.After(to) {
			continue
		}

		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids, nil
}

// Delete removes a stored window.
func (s *Storage) Delete(windowID string) error {
	return os.Remove(filepath.Join(s.dir, windowID+".json"))
}

// DeleteBefore removes all windows that started before the given time.
// Retention enforcement, errors on individual files are ignored.
func (s *Storage) DeleteBefore(before time.Time) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		ts, ok := windowTimestamp(id)
		if !ok {
			continue
		}
		if ts.Before(before) {
			os.Remove(filepath.Join(s.dir, entry.Name()))
		}
	}

	return nil
}

// Count returns the number of stored windows.
func (s *Storage) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}

	return count, nil
}

// windowTimestamp parses the start time out of a window ID
// (20060102-150405-counter).
func windowTimestamp(id string) (time.Time, bool) {
	parts := strings.Split(id, "-")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	ts, err := time.Parse("20060102-150405", parts[0]+"-"+parts[1])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
