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

// Package lockstore implements named advisory locks backed by atomically
// created directories plus JSON ownership metadata.
//
// Mutual exclusion rests on a single primitive: the first session to create
// {lock_root}/{name} owns the lock. Everything else (re-entrancy, orphan
// reclamation, conflict advisories) is metadata comparison layered on top.
// The locks are honored only by cooperating participants; they cannot stop
// an uncooperative process.
package lockstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tombee/worklock/internal/fsatomic"
	"github.com/tombee/worklock/internal/identity"
	"github.com/tombee/worklock/internal/metrics"
)

const (
	// lockDirName is the lock root relative to the repository root.
	lockDirName = "tmp/.locks"

	// metaFileName holds the ownership record inside each lock directory.
	metaFileName = "meta.json"
)

// ProbeFunc reports whether a pid is alive. Injected so ownership scenarios
// can be tested without real processes.
type ProbeFunc func(pid int) bool

// CommandFunc returns the command line of a pid, or empty when it cannot
// be read. Used to annotate conflict advisories with what the owner is
// actually running.
type CommandFunc func(pid int) string

// Store manages the advisory locks under one repository root on behalf of
// one session identity.
type Store struct {
	root    string // {repo_root}/tmp/.locks
	id      identity.Identity
	probe   ProbeFunc
	command CommandFunc
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithProbe overrides the PID liveness probe.
func WithProbe(probe ProbeFunc) Option {
	return func(s *Store) {
		s.probe = probe
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCommandLookup sets the owner-command lookup used to annotate
// conflict advisories.
func WithCommandLookup(command CommandFunc) Option {
	return func(s *Store) {
		s.command = command
	}
}

// NewStore creates a lock store rooted at {repoRoot}/tmp/.locks acting as
// the given identity.
func NewStore(repoRoot string, id identity.Identity, defaultProbe ProbeFunc, opts ...Option) *Store {
	s := &Store{
		root:   filepath.Join(repoRoot, lockDirName),
		id:     id,
		probe:  defaultProbe,
		logger: slog.Default().With(slog.String("component", "lockstore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the lock root directory.
func (s *Store) Root() string {
	return s.root
}

// Acquire attempts to take the named lock with the given class.
//
// The result is Acquired or Conflict; Acquire itself fails only on I/O
// errors unrelated to contention. The decision tree follows the per-name
// state machine: win the atomic directory creation, or classify the
// existing holder as in-flight, foreign, self, dead, or live.
func (s *Store) Acquire(name string, class Class) (AcquireResult, error) {
	result, err := s.tryAcquire(name, class, true)
	if err != nil {
		return result, err
	}

	switch {
	case result.Reentrant:
		metrics.RecordAcquisition("reentrant")
	case result.Reclaimed:
		metrics.RecordAcquisition("reclaimed")
	case result.Acquired:
		metrics.RecordAcquisition("acquired")
	default:
		metrics.RecordAcquisition("conflict")
	}
	return result, nil
}

// tryAcquire performs one acquisition attempt. retryOnDead permits a single
// delete-and-retry when the recorded owner is provably dead; the retry runs
// with retryOnDead=false so a race with a third party yields Conflict
// rather than a reclaim loop.
func (s *Store) tryAcquire(name string, class Class, retryOnDead bool) (AcquireResult, error) {
	dir := s.lockDir(name)

	err := fsatomic.MkdirExclusive(dir)
	if err == nil {
		meta := Meta{
			Workflow:         name,
			Class:            class,
			PID:              s.id.OwnerPID,
			InstallationRoot: s.id.InstallationRoot,
			Started:          time.Now().UTC(),
			SessionID:        s.id.SessionID,
		}
		if werr := s.writeMeta(dir, meta); werr != nil {
			// Metadata write failed after winning the directory: back out so
			// other sessions do not see a permanently in-flight lock.
			_ = os.RemoveAll(dir)
			return AcquireResult{}, werr
		}
		s.logger.Info("lock acquired",
			slog.String("lock", name),
			slog.String("class", string(class)),
			slog.Int("pid", meta.PID),
		)
		return AcquireResult{Acquired: true, Meta: meta}, nil
	}
	if !errors.Is(err, fsatomic.ErrExists) {
		return AcquireResult{}, err
	}

	// Directory exists: classify the holder.
	meta, readErr := s.readMeta(dir)
	if readErr != nil {
		// Missing or corrupt metadata means another acquisition is
		// mid-flight. Never delete: deleting would race the true creator.
		s.logger.Debug("lock metadata unreadable, treating as in-flight",
			slog.String("lock", name),
			slog.Any("error", readErr),
		)
		return AcquireResult{}, nil
	}

	if meta.InstallationRoot != s.id.InstallationRoot {
		// Different namespace; not this caller's concern.
		return AcquireResult{Meta: meta}, nil
	}

	if meta.PID == s.id.OwnerPID {
		// Re-entrant call from the same top-level session. Metadata,
		// including the Started stamp, is left untouched.
		return AcquireResult{Acquired: true, Reentrant: true, Meta: meta}, nil
	}

	if !s.probe(meta.PID) {
		if !retryOnDead {
			return AcquireResult{Meta: meta}, nil
		}
		s.logger.Info("reclaiming orphaned lock",
			slog.String("lock", name),
			slog.Int("dead_pid", meta.PID),
		)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return AcquireResult{}, rmErr
		}
		retried, retryErr := s.tryAcquire(name, class, false)
		if retryErr != nil {
			return retried, retryErr
		}
		if retried.Acquired && !retried.Reentrant {
			retried.Reclaimed = true
		}
		return retried, nil
	}

	// Held by a live, different session.
	return AcquireResult{Meta: meta}, nil
}

// Release removes the named lock if the caller's session owns it.
// Releasing a lock held by someone else, or no lock at all, is a no-op:
// release is cleanup, not arbitration.
func (s *Store) Release(name string) error {
	dir := s.lockDir(name)

	meta, err := s.readMeta(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Unreadable metadata: the lock is not provably ours, leave it.
		return nil
	}

	if meta.PID != s.id.OwnerPID || meta.InstallationRoot != s.id.InstallationRoot {
		s.logger.Debug("skipping release of lock owned by another session",
			slog.String("lock", name),
			slog.Int("owner_pid", meta.PID),
		)
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	s.logger.Info("lock released", slog.String("lock", name))
	return nil
}

// ReleaseAll releases every lock under the root owned by the caller's
// session. Used for final session cleanup. Returns the number of locks
// released.
func (s *Store) ReleaseAll() (int, error) {
	names, err := s.listLockNames()
	if err != nil {
		return 0, err
	}

	released := 0
	for _, name := range names {
		meta, err := s.readMeta(s.lockDir(name))
		if err != nil {
			continue
		}
		if meta.PID != s.id.OwnerPID || meta.InstallationRoot != s.id.InstallationRoot {
			continue
		}
		if err := s.Release(name); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// Holder returns the current ownership record for a lock, or ok=false when
// the lock is absent or its metadata unreadable. Read-only.
func (s *Store) Holder(name string) (Meta, bool) {
	meta, err := s.readMeta(s.lockDir(name))
	if err != nil {
		return Meta{}, false
	}
	return meta, true
}

// listLockNames returns the names of all lock directories, sorted for
// deterministic iteration.
func (s *Store) listLockNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) lockDir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) writeMeta(dir string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFileAtomic(filepath.Join(dir, metaFileName), data, 0o644)
}

func (s *Store) readMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}
