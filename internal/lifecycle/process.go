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

// Package lifecycle probes the liveness of recorded owner processes.
//
// The probe is the sole mechanism distinguishing "owner crashed" from
// "owner is a live, different session", so it errs on the side of alive:
// a lock is only ever reclaimed from an owner that is provably dead.
package lifecycle

import (
	"errors"
	"os"
	"syscall"
)

// ProcessInfo describes a recorded owner process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessAlive reports whether a process with the given pid exists.
//
// Signal 0 delivers nothing; it only performs the existence and permission
// checks. ESRCH means the process is gone. EPERM means a process exists but
// belongs to another user: treated as alive, since reclaiming a lock from a
// process we cannot prove dead risks corrupting a live session.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so signal 0 does the real probe.
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.EPERM) {
		// Exists, owned by someone else: possibly alive.
		return true
	}
	return false
}

// ProcessCommand returns the command line of a live process, or empty
// when the process is dead or its command cannot be read. This is the
// lookup conflict advisories use to show what the owner is running.
func ProcessCommand(pid int) string {
	info := GetProcessInfo(pid)
	if !info.Running || info.Command == "<unknown>" {
		return ""
	}
	return info.Command
}

// GetProcessInfo returns liveness and, when readable, the command line of
// the process. The command is advisory detail for conflict messages; a
// process whose command cannot be read still counts as running.
func GetProcessInfo(pid int) *ProcessInfo {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessAlive(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil {
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info
}
