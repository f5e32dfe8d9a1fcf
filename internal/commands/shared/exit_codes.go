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
	"fmt"
	"os"

	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// Exit codes for the worklock command
const (
	ExitSuccess    = 0
	ExitFailure    = 1
	ExitConflict   = 2 // lock held by another live session
	ExitNotOwner   = 3 // caller does not own the lock or workflow
	ExitForeign    = 4 // record belongs to a different installation root
	ExitNoIdentity = 5 // session identity could not be resolved
)

// ExitCode maps an error to the process exit code for that error class.
// Advisories never reach here; only hard refusals carry a distinct code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case wlerrors.IsConflict(err):
		return ExitConflict
	case wlerrors.IsNotOwner(err):
		return ExitNotOwner
	case wlerrors.IsForeign(err):
		return ExitForeign
	case wlerrors.IsNoIdentity(err):
		return ExitNoIdentity
	default:
		return ExitFailure
	}
}

// HandleExitError prints the error, any actionable suggestion attached to
// it, and exits with the code for its class. A nil error is a no-op.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())

	var ve *wlerrors.ValidationError
	if errors.As(err, &ve) && ve.Suggestion != "" {
		fmt.Fprintln(os.Stderr, "Suggestion:", ve.Suggestion)
	}

	os.Exit(ExitCode(err))
}
