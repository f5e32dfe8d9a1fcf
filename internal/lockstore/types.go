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

package lockstore

import (
	"time"

	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// Class describes the intent of a lock holder. The conflict matrix is
// derived purely from classes: two writers hard-conflict, a writer and any
// non-writer produce a non-blocking advisory, non-writers coexist.
type Class string

const (
	// ClassWriter marks a session that mutates the working directory.
	ClassWriter Class = "writer"

	// ClassReader marks a session that only reads.
	ClassReader Class = "reader"

	// ClassPlanner marks a session that produces plans or analysis without
	// touching tracked files.
	ClassPlanner Class = "planner"
)

// ParseClass validates a lock class string.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassWriter, ClassReader, ClassPlanner:
		return Class(s), nil
	default:
		return "", &wlerrors.ValidationError{
			Field:      "class",
			Message:    "unknown lock class " + s,
			Suggestion: "use one of: writer, reader, planner",
		}
	}
}

// Meta is the ownership record stored as meta.json inside each lock
// directory. It is written once by the directory's creator and never edited
// in place; reclaiming a lock means delete-then-recreate.
type Meta struct {
	// Workflow is the lock name, which names the workflow being protected.
	Workflow string `json:"workflow"`

	// Class is the holder's lock class.
	Class Class `json:"class"`

	// PID is the holder's owner process id (the top-level orchestrator).
	PID int `json:"pid"`

	// InstallationRoot is the holder's installation namespace. Locks from
	// other installations are never reclaimed, regardless of PID liveness.
	InstallationRoot string `json:"installation_root"`

	// Started is the acquisition time in UTC.
	Started time.Time `json:"started"`

	// SessionID is the holder's correlation id.
	SessionID string `json:"session_id"`
}

// AcquireResult reports the outcome of an Acquire call.
type AcquireResult struct {
	// Acquired is true when the caller now holds the lock.
	Acquired bool

	// Reentrant is true when the lock was already held by the caller's
	// session; the existing metadata (including Started) is unchanged.
	Reentrant bool

	// Reclaimed is true when the lock was taken over from a dead owner.
	Reclaimed bool

	// Meta is the lock's current ownership record: the caller's on success,
	// the conflicting holder's on conflict, zero when metadata was
	// unreadable (acquisition mid-flight).
	Meta Meta
}

// Advisory severities.
const (
	// SeverityConflict marks a hard writer-versus-writer conflict.
	SeverityConflict = "CONFLICT"

	// SeverityAdvisory marks a non-blocking writer-versus-reader overlap.
	SeverityAdvisory = "ADVISORY"
)

// Advisory describes one conflicting or overlapping lock found by
// CheckConflicts. Advisories are informational: the caller decides whether
// to proceed, prompt, or abort.
type Advisory struct {
	// Lock is the conflicting lock's name.
	Lock string

	// Class is the holder's lock class.
	Class Class

	// OwnerPID is the holder's process id.
	OwnerPID int

	// OwnerCommand is the holder's command line when it could be read.
	// Empty for dead owners and when no command lookup is configured.
	OwnerCommand string

	// Severity is SeverityConflict or SeverityAdvisory.
	Severity string

	// Reclaimable is true when the holder's process is provably dead.
	Reclaimable bool

	// Text is the human-readable advisory line.
	Text string
}
