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

package fsatomic

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMkdirExclusive(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("first creation wins", func(t *testing.T) {
		path := filepath.Join(tmpDir, "locks", "batch")

		if err := MkdirExclusive(path); err != nil {
			t.Fatalf("MkdirExclusive() error = %v", err)
		}

		err := MkdirExclusive(path)
		if !errors.Is(err, ErrExists) {
			t.Errorf("second MkdirExclusive() error = %v, want ErrExists", err)
		}
	})

	t.Run("exactly one concurrent winner", func(t *testing.T) {
		path := filepath.Join(tmpDir, "contested")

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := MkdirExclusive(path); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		if wins.Load() != 1 {
			t.Errorf("winners = %d, want exactly 1", wins.Load())
		}
	})
}

func TestWriteFileAtomic(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes content and mode", func(t *testing.T) {
		path := filepath.Join(tmpDir, "state", "meta.json")

		if err := WriteFileAtomic(path, []byte(`{"ok":true}`), 0o644); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if string(data) != `{"ok":true}` {
			t.Errorf("content = %q", data)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0o644 {
			t.Errorf("mode = %04o, want 0644", mode)
		}
	})

	t.Run("replaces existing file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "replace.json")
		if err := WriteFileAtomic(path, []byte("old"), 0o600); err != nil {
			t.Fatalf("first write: %v", err)
		}
		if err := WriteFileAtomic(path, []byte("new"), 0o600); err != nil {
			t.Fatalf("second write: %v", err)
		}

		data, _ := os.ReadFile(path)
		if string(data) != "new" {
			t.Errorf("content = %q, want new", data)
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := filepath.Join(tmpDir, "clean")
		path := filepath.Join(dir, "out.json")
		if err := WriteFileAtomic(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("directory has %d entries, want 1", len(entries))
		}
	})

	t.Run("concurrent writers never expose partial content", func(t *testing.T) {
		path := filepath.Join(tmpDir, "contended.json")
		payloads := []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb", "cccccccccccccccc"}

		var wg sync.WaitGroup
		for _, p := range payloads {
			wg.Add(1)
			go func(content string) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					_ = WriteFileAtomic(path, []byte(content), 0o600)
				}
			}(p)
		}
		wg.Wait()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		valid := false
		for _, p := range payloads {
			if string(data) == p {
				valid = true
			}
		}
		if !valid {
			t.Errorf("observed torn write: %q", data)
		}
	})
}
