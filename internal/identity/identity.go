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

// Package identity resolves the session identity triplet used for every
// ownership comparison in the locking and recovery protocol.
//
// Identity is an explicit value object constructed once per top-level
// session and threaded as a parameter into every lock and recovery call.
// Tests inject fake identities through FromParts.
package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// Environment variables consulted by Resolve.
const (
	// RootEnv overrides the installation root. Defaults to the current
	// working directory.
	RootEnv = "WORKLOCK_ROOT"

	// SessionEnv supplies an external correlation id for the session.
	// A UUID is generated when unset.
	SessionEnv = "WORKLOCK_SESSION_ID"
)

// Identity is the (installation root, owner pid, session id) triplet.
// Two identities belong to the same session iff InstallationRoot and
// OwnerPID both match; SessionID is correlation metadata only.
type Identity struct {
	// InstallationRoot is the canonical absolute path of the installation
	// this session belongs to. Locks under a different root are a different
	// namespace and are never touched.
	InstallationRoot string

	// OwnerPID is the process id of the top-level orchestrator process
	// (the parent of this helper), not the helper itself. Helpers come and
	// go within one session; the orchestrator pid is stable for its span.
	OwnerPID int

	// SessionID correlates log lines and metadata across invocations.
	SessionID string
}

// Resolve computes the identity of the calling process.
//
// The installation root is taken from RootEnv (default: working directory)
// and canonicalized to an absolute, symlink-free, existing directory. The
// owner pid is the immediate parent process. Returns NoIdentityError when
// the root cannot be resolved; dependents must then refuse to assume
// ownership.
func Resolve() (Identity, error) {
	root := os.Getenv(RootEnv)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Identity{}, &wlerrors.NoIdentityError{Root: root, Cause: err}
		}
		root = wd
	}

	canonical, err := canonicalizeRoot(root)
	if err != nil {
		return Identity{}, &wlerrors.NoIdentityError{Root: root, Cause: err}
	}

	sessionID := os.Getenv(SessionEnv)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return Identity{
		InstallationRoot: canonical,
		OwnerPID:         os.Getppid(),
		SessionID:        sessionID,
	}, nil
}

// FromParts constructs an identity from explicit values. Intended for tests
// and for embedding hosts that manage their own identity.
func FromParts(root string, ownerPID int, sessionID string) Identity {
	return Identity{
		InstallationRoot: root,
		OwnerPID:         ownerPID,
		SessionID:        sessionID,
	}
}

// IsZero reports whether the identity is unresolved.
func (id Identity) IsZero() bool {
	return id.InstallationRoot == "" && id.OwnerPID == 0
}

// SameSession reports whether other belongs to the same top-level session:
// equal installation root and equal owner pid.
func (id Identity) SameSession(other Identity) bool {
	return id.InstallationRoot == other.InstallationRoot && id.OwnerPID == other.OwnerPID
}

// SameInstallation reports whether other shares this identity's namespace.
func (id Identity) SameInstallation(other Identity) bool {
	return id.InstallationRoot == other.InstallationRoot
}

// String renders the triplet for log output.
func (id Identity) String() string {
	return fmt.Sprintf("%s#%d (%s)", id.InstallationRoot, id.OwnerPID, id.SessionID)
}

// canonicalizeRoot resolves root to an absolute, symlink-free path and
// verifies it is an existing directory.
func canonicalizeRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root %s is not a directory", resolved)
	}

	return resolved, nil
}
