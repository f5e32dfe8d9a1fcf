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

package main

import (
	"github.com/tombee/worklock/internal/cli"
	lockcmd "github.com/tombee/worklock/internal/commands/lock"
	"github.com/tombee/worklock/internal/commands/shared"
	versioncmd "github.com/tombee/worklock/internal/commands/version"
	watchcmd "github.com/tombee/worklock/internal/commands/watch"
	workflowcmd "github.com/tombee/worklock/internal/commands/workflow"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(lockcmd.NewCommand())
	rootCmd.AddCommand(workflowcmd.NewCommand())
	rootCmd.AddCommand(watchcmd.NewCommand())
	rootCmd.AddCommand(versioncmd.NewCommand())
	rootCmd.AddCommand(cli.NewCommandsCommand(rootCmd))

	if err := rootCmd.Execute(); err != nil {
		shared.HandleExitError(err)
	}
}
