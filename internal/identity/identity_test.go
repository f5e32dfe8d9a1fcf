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

package identity

import (
	"os"
	"path/filepath"
	"testing"

	wlerrors "github.com/tombee/worklock/pkg/errors"
)

func TestResolve(t *testing.T) {
	t.Run("uses env root and session id", func(t *testing.T) {
		tmpDir := t.TempDir()
		t.Setenv(RootEnv, tmpDir)
		t.Setenv(SessionEnv, "session-abc")

		id, err := Resolve()
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		// t.TempDir may live behind a symlink (e.g. /tmp on darwin),
		// compare canonical forms.
		want, _ := filepath.EvalSymlinks(tmpDir)
		if id.InstallationRoot != want {
			t.Errorf("InstallationRoot = %q, want %q", id.InstallationRoot, want)
		}
		if id.OwnerPID != os.Getppid() {
			t.Errorf("OwnerPID = %d, want parent pid %d", id.OwnerPID, os.Getppid())
		}
		if id.SessionID != "session-abc" {
			t.Errorf("SessionID = %q, want session-abc", id.SessionID)
		}
	})

	t.Run("generates session id when unset", func(t *testing.T) {
		t.Setenv(RootEnv, t.TempDir())
		t.Setenv(SessionEnv, "")

		id, err := Resolve()
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if id.SessionID == "" {
			t.Error("SessionID should be generated when env is unset")
		}
	})

	t.Run("missing root returns NoIdentityError", func(t *testing.T) {
		t.Setenv(RootEnv, filepath.Join(t.TempDir(), "does-not-exist"))

		_, err := Resolve()
		if err == nil {
			t.Fatal("Resolve() should fail for a missing root")
		}
		if !wlerrors.IsNoIdentity(err) {
			t.Errorf("error = %v, want NoIdentityError", err)
		}
	})

	t.Run("root that is a file returns NoIdentityError", func(t *testing.T) {
		tmpDir := t.TempDir()
		file := filepath.Join(tmpDir, "plain-file")
		if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv(RootEnv, file)

		_, err := Resolve()
		if !wlerrors.IsNoIdentity(err) {
			t.Errorf("error = %v, want NoIdentityError", err)
		}
	})
}

func TestIdentity_SameSession(t *testing.T) {
	base := FromParts("/repo", 100, "s1")

	tests := []struct {
		name  string
		other Identity
		want  bool
	}{
		{"identical", FromParts("/repo", 100, "s1"), true},
		{"different session id still same session", FromParts("/repo", 100, "s2"), true},
		{"different pid", FromParts("/repo", 200, "s1"), false},
		{"different root", FromParts("/other", 100, "s1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.SameSession(tt.other); got != tt.want {
				t.Errorf("SameSession() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity_IsZero(t *testing.T) {
	if !(Identity{}).IsZero() {
		t.Error("zero identity should report IsZero")
	}
	if FromParts("/repo", 1, "").IsZero() {
		t.Error("resolved identity should not report IsZero")
	}
}
