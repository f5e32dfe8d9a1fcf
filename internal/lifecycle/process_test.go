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

package lifecycle

import (
	"os"
	"os/exec"
	"testing"
)

func TestIsProcessAlive(t *testing.T) {
	t.Run("own process is alive", func(t *testing.T) {
		if !IsProcessAlive(os.Getpid()) {
			t.Error("IsProcessAlive(own pid) = false, want true")
		}
	})

	t.Run("exited child is dead", func(t *testing.T) {
		cmd := exec.Command("true")
		if err := cmd.Start(); err != nil {
			t.Fatalf("failed to start child: %v", err)
		}
		pid := cmd.Process.Pid
		if err := cmd.Wait(); err != nil {
			t.Fatalf("child failed: %v", err)
		}

		// Reaped child: signal 0 must report ESRCH.
		if IsProcessAlive(pid) {
			t.Errorf("IsProcessAlive(%d) = true for reaped child, want false", pid)
		}
	})

	t.Run("non-positive pids are dead", func(t *testing.T) {
		if IsProcessAlive(0) {
			t.Error("IsProcessAlive(0) = true, want false")
		}
		if IsProcessAlive(-1) {
			t.Error("IsProcessAlive(-1) = true, want false")
		}
	})
}

func TestGetProcessInfo(t *testing.T) {
	t.Run("running process", func(t *testing.T) {
		info := GetProcessInfo(os.Getpid())
		if !info.Running {
			t.Error("own process should report Running")
		}
		if info.Command == "" {
			t.Error("Command should be populated for a running process")
		}
	})

	t.Run("dead process", func(t *testing.T) {
		cmd := exec.Command("true")
		if err := cmd.Start(); err != nil {
			t.Fatalf("failed to start child: %v", err)
		}
		pid := cmd.Process.Pid
		_ = cmd.Wait()

		info := GetProcessInfo(pid)
		if info.Running {
			t.Error("reaped child should not report Running")
		}
		if info.Command != "" {
			t.Errorf("Command = %q for dead process, want empty", info.Command)
		}
	})
}
