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

package errors

import (
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := store.Release(name); err != nil {
//	    return errors.Wrap(err, "releasing lock")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotOwner reports whether err is (or wraps) a NotOwnerError.
func IsNotOwner(err error) bool {
	var noe *NotOwnerError
	return errors.As(err, &noe)
}

// IsForeign reports whether err is (or wraps) a ForeignOwnerError.
func IsForeign(err error) bool {
	var foe *ForeignOwnerError
	return errors.As(err, &foe)
}

// IsCorrupt reports whether err is (or wraps) a CorruptMetadataError.
func IsCorrupt(err error) bool {
	var cme *CorruptMetadataError
	return errors.As(err, &cme)
}

// IsNoIdentity reports whether err is (or wraps) a NoIdentityError.
func IsNoIdentity(err error) bool {
	var nie *NoIdentityError
	return errors.As(err, &nie)
}
