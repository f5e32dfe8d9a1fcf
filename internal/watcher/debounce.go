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

package watcher

import (
	"sync"
	"time"
)

// debouncer coalesces rapid events per path: delivery is delayed until no
// new event arrives for the window duration, and only the latest event for
// a path survives the window.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*pending
	onFlush func(Event)
	stopped bool
}

type pending struct {
	timer *time.Timer
	event Event
}

func newDebouncer(window time.Duration, onFlush func(Event)) *debouncer {
	return &debouncer{
		window:  window,
		timers:  make(map[string]*pending),
		onFlush: onFlush,
	}
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if d.window <= 0 {
		go d.onFlush(ev)
		return
	}

	if p, ok := d.timers[ev.Path]; ok {
		p.timer.Stop()
		p.event = ev
		p.timer = time.AfterFunc(d.window, func() { d.flush(ev.Path) })
		return
	}

	p := &pending{event: ev}
	p.timer = time.AfterFunc(d.window, func() { d.flush(ev.Path) })
	d.timers[ev.Path] = p
}

func (d *debouncer) flush(path string) {
	d.mu.Lock()
	p, ok := d.timers[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.timers, path)
	ev := p.event
	d.mu.Unlock()

	// Outside the lock so a slow consumer cannot deadlock adds.
	d.onFlush(ev)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, path)
	}
}
