// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG FILE WATCHER
// =============================================================================

// DefaultWatchDebounce is how long a change must settle before a reload.
// Editors write config files in bursts (truncate, write, rename); reloading
// on the first event would read a half-written file.
const DefaultWatchDebounce = 500 * time.Millisecond

// pollInterval is the fallback scan rate when fsnotify is unavailable.
const pollInterval = 2 * time.Second

// Watcher reloads configuration when the config file changes on disk.
// Thresholds and rate limits take effect on running services without a
// restart; changes that fail validation are rejected and the previous
// configuration stays active.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Config)

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending time.Time
}

// StartWatcher begins watching path and invokes onReload with each
// successfully loaded configuration. The new configuration is installed as
// the global before the callback runs. If the platform watcher cannot be
// created the watcher degrades to polling the file's modification time.
func StartWatcher(path string, debounce time.Duration, onReload func(*Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		debounce: debounce,
		onReload: onReload,
		ctx:      ctx,
		cancel:   cancel,
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		// Watch the directory, not the file: editors replace config files
		// by rename, which drops a watch held on the old inode.
		if addErr := fw.Add(filepath.Dir(path)); addErr != nil {
			fw.Close()
			err = addErr
		} else {
			w.watcher = fw
			w.wg.Add(2)
			go w.processEvents()
			go w.processPending()
			return w, nil
		}
	}

	fmt.Fprintf(os.Stderr, "Warning: file watching unavailable (%v), polling %s instead\n", err, filepath.Base(path))
	w.wg.Add(1)
	go w.poll()
	return w, nil
}

// Close stops the watcher and waits for its goroutines to exit.
func (w *Watcher) Close() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

// processEvents marks the config file dirty on each relevant event.
func (w *Watcher) processEvents() {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Warning: config watcher stopped: %v\n", r)
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matchesConfig(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// processPending fires the reload once a change has settled.
func (w *Watcher) processPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if ready {
				w.reload()
			}
		}
	}
}

// poll is the fallback loop: compare modification times on an interval.
func (w *Watcher) poll() {
	defer w.wg.Done()

	lastMod := w.modTime()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			mod := w.modTime()
			if mod.IsZero() || mod.Equal(lastMod) {
				continue
			}
			lastMod = mod
			w.reload()
		}
	}
}

// matchesConfig reports whether an event path refers to the watched file.
func (w *Watcher) matchesConfig(name string) bool {
	return filepath.Base(name) == filepath.Base(w.path)
}

func (w *Watcher) modTime() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// reload parses the file, installs it globally, and notifies the callback.
// A file that fails to parse or validate leaves the active configuration
// untouched.
func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config reload skipped: %v\n", err)
		return
	}
	SetGlobal(cfg)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
