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

package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	wlerrors "github.com/tombee/worklock/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"conflict", &wlerrors.ConflictError{Name: "batch", Class: "writer", OwnerPID: 42}, ExitConflict},
		{"not owner", &wlerrors.NotOwnerError{Name: "batch", OwnerPID: 42, CallerPID: 43}, ExitNotOwner},
		{"foreign", &wlerrors.ForeignOwnerError{Path: "/a/.locks/batch", InstallationRoot: "/b"}, ExitForeign},
		{"no identity", &wlerrors.NoIdentityError{Root: "/gone"}, ExitNoIdentity},
		{
			"wrapped conflict keeps its code",
			wlerrors.Wrap(&wlerrors.ConflictError{Name: "batch", Class: "writer", OwnerPID: 42}, "acquiring lock"),
			ExitConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
