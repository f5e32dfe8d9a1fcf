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

package workflow

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/worklock/internal/cli"
	"github.com/tombee/worklock/internal/workflow"
	wlerrors "github.com/tombee/worklock/pkg/errors"
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

func writeState(t *testing.T, root string, st *workflow.State) {
	t.Helper()
	require.NoError(t, st.Save(workflow.StatePath(root, st.Workflow)))
}

func TestWorkflowCancelForeignInstallation(t *testing.T) {
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	writeState(t, tmpDir, &workflow.State{
		Workflow:         "batch",
		Active:           true,
		Status:           workflow.StatusInProgress,
		OwnerPID:         os.Getppid(),
		InstallationRoot: "/srv/another-checkout",
		SessionID:        "other-session",
	})

	_, err = runCommand(t, "workflow", "cancel", "batch", "--root", tmpDir)
	require.Error(t, err)
	assert.True(t, wlerrors.IsForeign(err), "foreign installation roots are never touched: %v", err)
	assert.Contains(t, err.Error(), "/srv/another-checkout")

	// State survives the refused cancel.
	_, statErr := os.Stat(workflow.StatePath(tmpDir, "batch"))
	assert.NoError(t, statErr)
}

func TestWorkflowCancelNotOwner(t *testing.T) {
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	writeState(t, tmpDir, &workflow.State{
		Workflow:         "batch",
		Active:           true,
		Status:           workflow.StatusInProgress,
		OwnerPID:         os.Getppid() + 100000,
		InstallationRoot: tmpDir,
		SessionID:        "other-session",
	})

	_, err = runCommand(t, "workflow", "cancel", "batch", "--root", tmpDir)
	require.Error(t, err)
	assert.True(t, wlerrors.IsNotOwner(err), "only the owning session may cancel: %v", err)
	assert.False(t, wlerrors.IsForeign(err))
}

func TestReadItemsFileWrapsOpenError(t *testing.T) {
	_, err := readItemsFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open items file")
	assert.ErrorIs(t, err, os.ErrNotExist, "wrapping keeps the cause inspectable")
}
