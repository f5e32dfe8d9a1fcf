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

package lock

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/worklock/internal/cli"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCommand()
	root.AddCommand(NewCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLockAcquireReleaseRoundTrip(t *testing.T) {
	// Resolve symlinks up front; the session does the same when it
	// derives the installation root.
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	out, err := runCommand(t, "lock", "acquire", "batch", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "acquired")

	// The lock directory and metadata exist under the shared root.
	meta := filepath.Join(tmpDir, "tmp", ".locks", "batch", "meta.json")
	_, statErr := os.Stat(meta)
	assert.NoError(t, statErr)

	// Re-acquiring from the same session is idempotent.
	out, err = runCommand(t, "lock", "acquire", "batch", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "already holding")

	out, err = runCommand(t, "lock", "release", "batch", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "released")

	_, statErr = os.Stat(meta)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLockAcquireRejectsBadClass(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runCommand(t, "lock", "acquire", "batch", "--root", tmpDir, "--class", "owner")
	assert.Error(t, err)
}

func TestLockCheckCleanRoot(t *testing.T) {
	tmpDir := t.TempDir()

	out, err := runCommand(t, "lock", "check", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "no conflicting locks")
}

func TestLockCheckSkipsOwnLocks(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runCommand(t, "lock", "acquire", "batch", "--root", tmpDir)
	require.NoError(t, err)

	out, err := runCommand(t, "lock", "check", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "no conflicting locks", "a session never conflicts with itself")
}

func TestLockCheckJSONOutput(t *testing.T) {
	tmpDir := t.TempDir()

	out, err := runCommand(t, "lock", "check", "--root", tmpDir, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestLockReleaseAll(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"batch", "deploy"} {
		_, err := runCommand(t, "lock", "acquire", name, "--root", tmpDir)
		require.NoError(t, err)
	}

	out, err := runCommand(t, "lock", "release-all", "--root", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "released 2")
}

func TestLockCommandTree(t *testing.T) {
	cmd := NewCommand()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"acquire", "release", "release-all", "check"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.IsType(t, &cobra.Command{}, cmd)
}
