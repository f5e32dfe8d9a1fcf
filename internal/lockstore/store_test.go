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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/worklock/internal/identity"
)

// fakeProbe reports liveness from a fixed table; unknown pids are dead.
func fakeProbe(alive map[int]bool) ProbeFunc {
	return func(pid int) bool {
		return alive[pid]
	}
}

func newTestStore(t *testing.T, repoRoot string, pid int, alive map[int]bool) *Store {
	t.Helper()
	id := identity.FromParts(repoRoot, pid, "test-session")
	return NewStore(repoRoot, id, fakeProbe(alive))
}

func TestStore_Acquire(t *testing.T) {
	t.Run("fresh acquisition writes metadata", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})

		res, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.True(t, res.Acquired)
		assert.False(t, res.Reentrant)
		assert.False(t, res.Reclaimed)
		assert.Equal(t, 100, res.Meta.PID)
		assert.Equal(t, ClassWriter, res.Meta.Class)
		assert.Equal(t, repo, res.Meta.InstallationRoot)
		assert.Equal(t, "test-session", res.Meta.SessionID)
		assert.False(t, res.Meta.Started.IsZero())

		_, err = os.Stat(filepath.Join(repo, "tmp", ".locks", "batch", "meta.json"))
		assert.NoError(t, err, "metadata file should exist on disk")
	})

	t.Run("re-acquire by same session is idempotent", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})

		first, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		require.True(t, first.Acquired)

		second, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.True(t, second.Acquired)
		assert.True(t, second.Reentrant)
		assert.Equal(t, first.Meta.Started, second.Meta.Started,
			"re-entrant acquire must not touch the acquired-at stamp")
	})

	t.Run("live foreign session conflicts", func(t *testing.T) {
		repo := t.TempDir()
		alive := map[int]bool{100: true, 200: true}
		storeA := newTestStore(t, repo, 100, alive)
		storeB := newTestStore(t, repo, 200, alive)

		_, err := storeA.Acquire("batch", ClassWriter)
		require.NoError(t, err)

		res, err := storeB.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.False(t, res.Acquired)
		assert.Equal(t, 100, res.Meta.PID, "conflict result should identify the holder")
	})

	t.Run("dead owner is reclaimed", func(t *testing.T) {
		repo := t.TempDir()
		storeA := newTestStore(t, repo, 100, map[int]bool{100: true})
		_, err := storeA.Acquire("batch", ClassWriter)
		require.NoError(t, err)

		// Pid 100 is now dead from B's point of view.
		storeB := newTestStore(t, repo, 200, map[int]bool{200: true})
		res, err := storeB.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.True(t, res.Acquired)
		assert.True(t, res.Reclaimed)
		assert.Equal(t, 200, res.Meta.PID, "new metadata must reflect the new owner")

		holder, ok := storeB.Holder("batch")
		require.True(t, ok)
		assert.Equal(t, 200, holder.PID)
	})

	t.Run("foreign installation root is never reclaimed", func(t *testing.T) {
		repo := t.TempDir()
		otherRoot := t.TempDir()

		foreign := NewStore(repo, identity.FromParts(otherRoot, 100, "s"), fakeProbe(map[int]bool{100: true}))
		_, err := foreign.Acquire("batch", ClassWriter)
		require.NoError(t, err)

		// Local store considers pid 100 dead, but the lock belongs to a
		// different installation root.
		local := newTestStore(t, repo, 200, map[int]bool{200: true})
		res, err := local.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.False(t, res.Acquired)

		holder, ok := local.Holder("batch")
		require.True(t, ok)
		assert.Equal(t, 100, holder.PID, "foreign lock must be untouched")
		assert.Equal(t, otherRoot, holder.InstallationRoot)
	})

	t.Run("missing metadata is a conflict, never deleted", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})

		// Simulate a mid-flight acquisition: directory exists, no meta yet.
		dir := filepath.Join(repo, "tmp", ".locks", "batch")
		require.NoError(t, os.MkdirAll(dir, 0o755))

		res, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.False(t, res.Acquired)

		_, err = os.Stat(dir)
		assert.NoError(t, err, "in-flight lock directory must not be deleted")
	})

	t.Run("corrupt metadata is a conflict, never deleted", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})

		dir := filepath.Join(repo, "tmp", ".locks", "batch")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte("{not json"), 0o644))

		res, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		assert.False(t, res.Acquired)

		data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
		require.NoError(t, err)
		assert.Equal(t, "{not json", string(data), "corrupt metadata must be untouched")
	})
}

func TestStore_Release(t *testing.T) {
	t.Run("owner release removes the lock", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})

		_, err := store.Acquire("batch", ClassWriter)
		require.NoError(t, err)
		require.NoError(t, store.Release("batch"))

		_, ok := store.Holder("batch")
		assert.False(t, ok, "lock should be gone after release")
	})

	t.Run("non-owner release is a no-op", func(t *testing.T) {
		repo := t.TempDir()
		alive := map[int]bool{100: true, 200: true}
		storeA := newTestStore(t, repo, 100, alive)
		storeB := newTestStore(t, repo, 200, alive)

		_, err := storeA.Acquire("batch", ClassWriter)
		require.NoError(t, err)

		require.NoError(t, storeB.Release("batch"))

		holder, ok := storeB.Holder("batch")
		require.True(t, ok, "lock directory must survive a non-owner release")
		assert.Equal(t, 100, holder.PID, "metadata must be unchanged")
	})

	t.Run("releasing an absent lock is a no-op", func(t *testing.T) {
		repo := t.TempDir()
		store := newTestStore(t, repo, 100, map[int]bool{100: true})
		assert.NoError(t, store.Release("never-acquired"))
	})
}

func TestStore_ReleaseAll(t *testing.T) {
	repo := t.TempDir()
	alive := map[int]bool{100: true, 200: true}
	storeA := newTestStore(t, repo, 100, alive)
	storeB := newTestStore(t, repo, 200, alive)

	for _, name := range []string{"batch", "triage"} {
		_, err := storeA.Acquire(name, ClassWriter)
		require.NoError(t, err)
	}
	_, err := storeB.Acquire("review", ClassReader)
	require.NoError(t, err)

	released, err := storeA.ReleaseAll()
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	_, ok := storeA.Holder("batch")
	assert.False(t, ok)
	_, ok = storeA.Holder("triage")
	assert.False(t, ok)

	holder, ok := storeA.Holder("review")
	require.True(t, ok, "other session's lock must survive ReleaseAll")
	assert.Equal(t, 200, holder.PID)
}

// TestStore_WriterHandoff walks the full crash-and-reclaim sequence:
// process A holds the writer lock, process B observes the conflict, A dies,
// and B takes over.
func TestStore_WriterHandoff(t *testing.T) {
	repo := t.TempDir()

	aliveness := map[int]bool{100: true, 200: true}
	storeA := NewStore(repo, identity.FromParts(repo, 100, "session-a"), fakeProbe(aliveness))
	storeB := NewStore(repo, identity.FromParts(repo, 200, "session-b"), fakeProbe(aliveness))

	res, err := storeA.Acquire("batch", ClassWriter)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	advisories := storeB.CheckConflicts(ClassWriter)
	require.Len(t, advisories, 1)
	assert.Equal(t, SeverityConflict, advisories[0].Severity)
	assert.Contains(t, advisories[0].Text, "CONFLICT")
	assert.Contains(t, advisories[0].Text, "100")
	assert.Contains(t, advisories[0].Text, "batch")

	// Process A dies.
	aliveness[100] = false

	res, err = storeB.Acquire("batch", ClassWriter)
	require.NoError(t, err)
	assert.True(t, res.Acquired)
	assert.True(t, res.Reclaimed)
	assert.Equal(t, 200, res.Meta.PID)
	assert.Equal(t, "session-b", res.Meta.SessionID)
}
