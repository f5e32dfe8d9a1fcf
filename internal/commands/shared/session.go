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
	"log/slog"
	"os"

	"github.com/tombee/worklock/internal/identity"
	"github.com/tombee/worklock/internal/lifecycle"
	"github.com/tombee/worklock/internal/lockstore"
	wlog "github.com/tombee/worklock/internal/log"
)

// Session bundles the per-invocation wiring every command needs: the
// caller's identity, the lock store rooted at the shared working
// directory, and the configured logger.
type Session struct {
	Identity identity.Identity
	Locks    *lockstore.Store
	Logger   *slog.Logger
}

// NewSession resolves the caller's identity and opens the lock store.
// The --root flag overrides the installation root before resolution.
func NewSession() (*Session, error) {
	if root := GetRoot(); root != "" {
		os.Setenv(identity.RootEnv, root)
	}

	cfg := wlog.FromEnv()
	if GetVerbose() {
		cfg.Level = "debug"
	}
	logger := wlog.New(cfg)

	id, err := identity.Resolve()
	if err != nil {
		return nil, err
	}

	return &Session{
		Identity: id,
		Locks: lockstore.NewStore(id.InstallationRoot, id, lifecycle.IsProcessAlive,
			lockstore.WithCommandLookup(lifecycle.ProcessCommand)),
		Logger: wlog.WithSessionID(logger, id.SessionID),
	}, nil
}
