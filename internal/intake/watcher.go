// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package intake

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// DROP DIRECTORY WATCHER INTERFACE
// =============================================================================

// FileWatcher is the interface for drop-directory watching implementations.
type FileWatcher interface {
	// Watch starts watching for dropped submission files
	Watch() error

	// Close stops watching and releases resources
	Close() error
}

// submissionFile reports whether a path looks like a submission document.
func submissionFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".json")
}

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// FsnotifyWatcher notifies on dropped files using fsnotify. Writes are
// debounced so a file still being copied in settles before it is picked up.
type FsnotifyWatcher struct {
	dir      string
	notify   func(path string)
	watcher  *fsnotify.Watcher
	debounce time.Duration
	mu       sync.Mutex
	pending  map[string]time.Time // File path -> last change time
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewFsnotifyWatcher creates an fsnotify-based drop watcher.
func NewFsnotifyWatcher(dir string, debounce time.Duration, notify func(path string)) (*FsnotifyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FsnotifyWatcher{
		dir:      dir,
		notify:   notify,
		watcher:  watcher,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching the drop directory.
func (fw *FsnotifyWatcher) Watch() error {
	if err := fw.watcher.Add(fw.dir); err != nil {
		return err
	}

	go fw.processEvents()
	go fw.processPending()

	return nil
}

// processEvents processes file system events.
func (fw *FsnotifyWatcher) processEvents() {
	defer func() {
		// A panic here would take down intake silently; recover and let
		// the polling of processPending keep draining what was pending.
		recover()
	}()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				if submissionFile(event.Name) {
					fw.mu.Lock()
					fw.pending[event.Name] = time.Now()
					fw.mu.Unlock()
				}
			}

		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// processPending releases files whose last change is older than the
// debounce window.
func (fw *FsnotifyWatcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			fw.mu.Lock()
			var settled []string
			for path, changeTime := range fw.pending {
				if now.Sub(changeTime) >= fw.debounce {
					settled = append(settled, path)
					delete(fw.pending, path)
				}
			}
			fw.mu.Unlock()

			for _, path := range settled {
				fw.notify(path)
			}
		}
	}
}

// Close stops watching and releases resources.
func (fw *FsnotifyWatcher) Close() error {
	fw.cancel()
	if fw.watcher != nil {
		return fw.watcher.Close()
	}
	return nil
}

// =============================================================================
// POLLING WATCHER (FALLBACK)
// =============================================================================

// PollingWatcher notifies on dropped files by scanning the drop directory on
// an interval. Used where fsnotify cannot initialize (some network and
// container filesystems).
type PollingWatcher struct {
	dir      string
	notify   func(path string)
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	files    map[string]time.Time // File path -> mod time
	mu       sync.Mutex
}

// NewPollingWatcher creates a polling-based drop watcher.
func NewPollingWatcher(dir string, interval time.Duration, notify func(path string)) *PollingWatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &PollingWatcher{
		dir:      dir,
		notify:   notify,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		files:    make(map[string]time.Time),
	}
}

// Watch starts watching for dropped files.
func (pw *PollingWatcher) Watch() error {
	// Baseline scan; existing files are the backlog and handled separately
	// by the service, so only changes after this point notify.
	if err := pw.scan(); err != nil {
		return err
	}

	go pw.poll()

	return nil
}

// scan records current submission files and their mod times.
func (pw *PollingWatcher) scan() error {
	entries, err := os.ReadDir(pw.dir)
	if err != nil {
		return err
	}

	newFiles := make(map[string]time.Time)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(pw.dir, entry.Name())
		if !submissionFile(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		newFiles[path] = info.ModTime()
	}

	pw.mu.Lock()
	pw.files = newFiles
	pw.mu.Unlock()
	return nil
}

// poll periodically checks for new or changed files.
func (pw *PollingWatcher) poll() {
	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return

		case <-ticker.C:
			pw.checkChanges()
		}
	}
}

// checkChanges diffs the directory against the last scan and notifies for
// anything new or rewritten.
func (pw *PollingWatcher) checkChanges() {
	pw.mu.Lock()
	oldFiles := make(map[string]time.Time, len(pw.files))
	for k, v := range pw.files {
		oldFiles[k] = v
	}
	pw.mu.Unlock()

	if err := pw.scan(); err != nil {
		return
	}

	pw.mu.Lock()
	currentFiles := make(map[string]time.Time, len(pw.files))
	for k, v := range pw.files {
		currentFiles[k] = v
	}
	pw.mu.Unlock()

	for path, modTime := range currentFiles {
		if oldTime, exists := oldFiles[path]; !exists || !oldTime.Equal(modTime) {
			pw.notify(path)
		}
	}
}

// Close stops watching.
func (pw *PollingWatcher) Close() error {
	pw.cancel()
	return nil
}

// =============================================================================
// WATCHER FACTORY
// =============================================================================

// StartWatcher starts a drop-directory watcher, preferring fsnotify and
// falling back to polling.
func StartWatcher(dir string, debounce time.Duration, notify func(path string)) (FileWatcher, error) {
	fw, err := NewFsnotifyWatcher(dir, debounce, notify)
	if err == nil {
		if err := fw.Watch(); err == nil {
			return fw, nil
		}
		fw.Close()
	}

	pw := NewPollingWatcher(dir, 5*time.Second, notify)
	if err := pw.Watch(); err != nil {
		return nil, err
	}

	return pw, nil
}
