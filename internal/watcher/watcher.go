// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher provides the filesystem trigger for the workflow loop.
// It watches a directory for writes and re-arms the loop driver once per
// debounce window, so an external process touching a trigger file is all
// it takes to advance a resumable workflow.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is a debounced filesystem trigger.
type Event struct {
	// Path is the absolute path of the file that changed.
	Path string

	// Op describes the change (created, modified, deleted, renamed).
	Op string

	// At is when the change was observed.
	At time.Time
}

var opNames = map[fsnotify.Op]string{
	fsnotify.Create: "created",
	fsnotify.Write:  "modified",
	fsnotify.Remove: "deleted",
	fsnotify.Rename: "renamed",
}

// Trigger watches a single directory and delivers debounced Events.
// Rapid successive writes to the same file (editor save dances, atomic
// rename sequences) collapse into one delivery per debounce window.
type Trigger struct {
	dir       string
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	eventCh   chan Event
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a trigger watching dir with the given debounce window.
func New(dir string, window time.Duration, logger *slog.Logger) (*Trigger, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolve watch dir: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", absDir, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	t := &Trigger{
		dir:     absDir,
		watcher: fsw,
		eventCh: make(chan Event, 64),
		logger:  logger.With(slog.String("component", "watcher"), slog.String("dir", absDir)),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	t.debouncer = newDebouncer(window, t.deliver)
	return t, nil
}

// Start begins watching. The event loop runs until Stop is called or the
// context is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	go t.eventLoop(ctx)
	t.logger.Info("trigger watcher started")
}

// Stop stops the watcher and releases resources.
func (t *Trigger) Stop() error {
	close(t.stopCh)
	<-t.doneCh
	t.debouncer.stop()
	return t.watcher.Close()
}

// Events returns the debounced event channel. It is closed when the
// watcher stops.
func (t *Trigger) Events() <-chan Event {
	return t.eventCh
}

func (t *Trigger) eventLoop(ctx context.Context) {
	defer close(t.doneCh)
	defer close(t.eventCh)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("trigger watcher stopped (context cancelled)")
			return
		case <-t.stopCh:
			t.logger.Info("trigger watcher stopped")
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handle(ev)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Error("watch error", slog.Any("error", err))
		}
	}
}

func (t *Trigger) handle(ev fsnotify.Event) {
	op, ok := opNames[ev.Op]
	if !ok {
		// Chmod churn is noise.
		return
	}
	t.debouncer.add(Event{Path: ev.Name, Op: op, At: time.Now()})
}

func (t *Trigger) deliver(ev Event) {
	select {
	case t.eventCh <- ev:
		t.logger.Debug("trigger event", slog.String("op", ev.Op), slog.String("path", ev.Path))
	default:
		t.logger.Warn("event channel full, dropping event", slog.String("path", ev.Path))
	}
}
