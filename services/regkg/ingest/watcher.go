// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait for more events before ingesting.
	// Default: 500ms. Editors often write a file in several steps.
	DebounceWindow time.Duration

	// IgnorePatterns are base-name globs to skip.
	IgnorePatterns []string

	// BufferSize is the event buffer size. Events beyond it are dropped
	// and counted.
	BufferSize int

	// Workers bounds concurrent parsing per batch.
	Workers int

	// InitialScan ingests every existing framework file on Start.
	InitialScan bool

	Logger *slog.Logger
}

// DefaultWatcherOptions returns sensible defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		DebounceWindow: 500 * time.Millisecond,
		IgnorePatterns: []string{".git", ".*.swp", "*.tmp", "*~"},
		BufferSize:     1000,
		Workers:        4,
		InitialScan:    true,
	}
}

// BatchHandler observes each debounced batch after it was applied.
type BatchHandler func(rep Report)

// Watcher ingests framework files dropped into a directory tree.
//
// # Description
//
// Create and write events for .yaml, .yml and .json files are collected
// into batches using a debounce window. When the window expires without
// new events, the batch is deduplicated by path and applied with
// IngestFiles. Removing a file does not remove its frameworks from the
// graph: history is append-only and removal is an explicit API call.
//
// # Thread Safety
//
// Safe for concurrent use. Batches are applied from a single goroutine.
type Watcher struct {
	root    string
	sink    Sink
	opts    WatcherOptions
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	events   chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.RWMutex
	watching bool
	onBatch  BatchHandler
}

// NewWatcher creates a watcher for root. Call Start to begin.
func NewWatcher(root string, sink Sink, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root is not a directory: %s", root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	o := *opts
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 500 * time.Millisecond
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1000
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:    root,
		sink:    sink,
		opts:    o,
		watcher: fw,
		logger:  logger.With(slog.String("component", "regkg.ingest.watcher"), slog.String("root", root)),
		events:  make(chan string, o.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// OnBatch registers a callback run after every applied batch.
func (w *Watcher) OnBatch(h BatchHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onBatch = h
}

// Start watches root recursively until ctx is cancelled or Stop is called.
//
// With InitialScan set, existing files are ingested synchronously before
// Start returns.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	var existing []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if w.shouldIgnore(path) && path != w.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		if _, ok := FormatForPath(path); ok {
			existing = append(existing, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	if w.opts.InitialScan && len(existing) > 0 {
		slices.Sort(existing)
		w.apply(ctx, existing)
	}

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop halts watching, flushing any pending batch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.IgnorePatterns {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.logger.Warn("cannot watch new directory",
							slog.String("path", event.Name),
							slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					w.logger.Debug("framework file removed; graph unchanged", slog.String("path", event.Name))
				}
				continue
			}
			if _, ok := FormatForPath(event.Name); !ok {
				continue
			}
			select {
			case w.events <- event.Name:
			default:
				watcherDropped.Inc()
				w.logger.Warn("watch buffer full, event dropped", slog.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("fsnotify queue overflow, rescan the directory to catch up")
				continue
			}
			w.logger.Warn("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var batch []string
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func(ctx context.Context) {
		if len(batch) > 0 {
			w.apply(ctx, dedupePaths(batch))
			batch = batch[:0]
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			// Pending events are still applied on Stop.
			flush(context.WithoutCancel(ctx))
			return
		case path := <-w.events:
			batch = append(batch, path)
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.DebounceWindow)
			}
		case <-timerC:
			flush(ctx)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, paths []string) {
	rep, err := IngestFiles(ctx, w.sink, paths, w.opts.Workers, w.logger)
	if err != nil {
		w.logger.Warn("batch ingest interrupted", slog.String("error", err.Error()))
		return
	}
	w.mu.RLock()
	h := w.onBatch
	w.mu.RUnlock()
	if h != nil {
		h(rep)
	}
}

// dedupePaths keeps the first occurrence of each path, skipping files that
// no longer exist.
func dedupePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, err := os.Stat(p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
