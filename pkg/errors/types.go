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

// Package errors defines the error taxonomy for the worklock subsystem.
//
// The taxonomy follows the protocol's handling rules: transient races and
// foreign ownership are normal branches callers must handle, orphaned
// ownership is self-healing, and corruption is fail-safe (delete and treat
// as absent). Nothing here represents a hard process failure.
package errors

import (
	"fmt"
)

// ConflictError indicates a lock is held by another live session.
// This is a normal outcome of Acquire, not a failure: the caller decides
// whether to proceed, wait, or ask a human.
type ConflictError struct {
	// Name is the lock name that could not be acquired.
	Name string

	// Class is the lock class held by the current owner.
	Class string

	// OwnerPID is the process id recorded in the lock metadata.
	// Zero when the metadata was unreadable (acquisition mid-flight).
	OwnerPID int
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.OwnerPID > 0 {
		return fmt.Sprintf("lock %s held by %s pid %d", e.Name, e.Class, e.OwnerPID)
	}
	return fmt.Sprintf("lock %s is being acquired by another session", e.Name)
}

// NotOwnerError indicates an operation that requires ownership was attempted
// by a session that does not own the lock or workflow state.
type NotOwnerError struct {
	// Name identifies the lock or workflow.
	Name string

	// OwnerPID is the recorded owner's process id.
	OwnerPID int

	// CallerPID is the process id of the caller.
	CallerPID int
}

// Error implements the error interface.
func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("%s is owned by pid %d, not caller pid %d", e.Name, e.OwnerPID, e.CallerPID)
}

// ForeignOwnerError indicates a lock or state file belongs to a different
// installation root. Foreign records are never reclaimed or mutated,
// regardless of PID liveness.
type ForeignOwnerError struct {
	// Path is the lock or state file path.
	Path string

	// InstallationRoot is the foreign root recorded in the metadata.
	InstallationRoot string
}

// Error implements the error interface.
func (e *ForeignOwnerError) Error() string {
	return fmt.Sprintf("%s belongs to installation %s", e.Path, e.InstallationRoot)
}

// CorruptMetadataError indicates metadata or state that could not be parsed.
// Handling is fail-safe: a corrupted record cannot be trusted to resume
// correctly, so it is deleted and treated as absent.
type CorruptMetadataError struct {
	// Path is the file that failed to parse.
	Path string

	// Cause is the underlying parse error.
	Cause error
}

// Error implements the error interface.
func (e *CorruptMetadataError) Error() string {
	return fmt.Sprintf("corrupt metadata at %s: %v", e.Path, e.Cause)
}

// Unwrap returns the underlying parse error.
func (e *CorruptMetadataError) Unwrap() error {
	return e.Cause
}

// NoIdentityError indicates the session identity could not be resolved,
// usually because the installation root does not exist. Components must
// fail closed on self-identity and fail open on locking when this occurs.
type NoIdentityError struct {
	// Root is the installation root that failed to resolve.
	Root string

	// Cause is the underlying resolution error.
	Cause error
}

// Error implements the error interface.
func (e *NoIdentityError) Error() string {
	return fmt.Sprintf("cannot resolve session identity for root %s: %v", e.Root, e.Cause)
}

// Unwrap returns the underlying resolution error.
func (e *NoIdentityError) Unwrap() error {
	return e.Cause
}

// ValidationError represents input validation failures (bad lock names,
// unknown lock classes, malformed ledger schemas).
type ValidationError struct {
	// Field identifies which input failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}
