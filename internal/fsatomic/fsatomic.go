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

// Package fsatomic provides the two filesystem primitives the locking
// protocol is built on: atomic create-if-absent (MkdirExclusive) and
// write-to-temp-then-rename (WriteFileAtomic).
//
// Every higher-level lock semantic layers metadata comparison on top of
// these; no other filesystem operation is assumed atomic.
package fsatomic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by MkdirExclusive when the directory already exists,
// meaning another session won the creation race.
var ErrExists = errors.New("path already exists")

// MkdirExclusive atomically creates a directory, failing if it already
// exists. This is the sole mutual-exclusion primitive: the first caller to
// create the directory owns it. The parent directory is created if needed.
func MkdirExclusive(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by an atomic rename, so a concurrent reader never observes a
// half-written file. The file and its parent directory are synced.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(parent, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanup = false

	syncDir(parent)
	return nil
}

// syncDir fsyncs a directory so the rename itself is durable.
// Best-effort: some filesystems don't support directory sync.
func syncDir(dir string) {
	if handle, err := os.Open(dir); err == nil {
		_ = handle.Sync()
		_ = handle.Close()
	}
}
