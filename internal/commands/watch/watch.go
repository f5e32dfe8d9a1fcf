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

// Package watch implements the watch command: a filesystem-triggered host
// loop that re-invokes the workflow driver until the run finishes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/worklock/internal/commands/shared"
	"github.com/tombee/worklock/internal/lifecycle"
	"github.com/tombee/worklock/internal/watcher"
	"github.com/tombee/worklock/internal/workflow"
)

// NewCommand creates the watch command
func NewCommand() *cobra.Command {
	var execCmd string
	var debounce time.Duration
	var continueOnFailure bool

	cmd := &cobra.Command{
		Use:   "watch <name>",
		Short: "Run the workflow loop from a filesystem trigger",
		Long: `Watch the workflow's trigger directory ({root}/.state) and perform one
step per debounced change, re-arming while the outcome is continue.
An external process advances the loop by touching any file in the
directory; the command exits when the run is done or failed. A blocked
outcome keeps watching, since the blocking session may vanish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			root := sess.Identity.InstallationRoot
			triggerDir := filepath.Join(root, ".state")
			if err := os.MkdirAll(triggerDir, 0o755); err != nil {
				return fmt.Errorf("create trigger dir: %w", err)
			}

			unit := func(ctx context.Context, item *workflow.Item) error {
				if execCmd == "" {
					return fmt.Errorf("no --exec command configured")
				}
				c := exec.CommandContext(ctx, "sh", "-c", execCmd+" "+item.ID)
				c.Env = append(os.Environ(), "WORKLOCK_ITEM="+item.ID)
				c.Stdout = os.Stdout
				c.Stderr = os.Stderr
				return c.Run()
			}

			d, err := workflow.NewDriver(workflow.DriverConfig{
				Workflow:          args[0],
				RepoRoot:          root,
				Identity:          sess.Identity,
				Locks:             sess.Locks,
				Probe:             lifecycle.IsProcessAlive,
				Unit:              unit,
				ContinueOnFailure: continueOnFailure,
				Logger:            sess.Logger,
			})
			if err != nil {
				return err
			}

			trig, err := watcher.New(triggerDir, debounce, sess.Logger)
			if err != nil {
				return err
			}
			trig.Start(cmd.Context())
			defer trig.Stop()

			return runLoop(cmd.Context(), d, trig, sess.Logger, cmd)
		},
	}

	cmd.Flags().StringVar(&execCmd, "exec", "", "Shell command run per item (item id appended; WORKLOCK_ITEM set)")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Debounce window for trigger events")
	cmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", false, "Record failed items and keep going")
	return cmd
}

// runLoop steps once per trigger event. Driver writes to the watched
// directory re-trigger the loop, which is what keeps it advancing
// through an entire run off a single external touch.
func runLoop(ctx context.Context, d *workflow.Driver, trig *watcher.Trigger, logger *slog.Logger, cmd *cobra.Command) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-trig.Events():
			if !ok {
				return nil
			}

			out, err := d.Step(ctx)
			if err != nil {
				return err
			}

			switch out {
			case workflow.OutcomeDone:
				cmd.Println(shared.RenderOK("workflow done"))
				return nil
			case workflow.OutcomeFailed:
				cmd.Println(shared.RenderError("workflow failed"))
				return fmt.Errorf("workflow stopped on a failed item")
			case workflow.OutcomeBlocked:
				logger.Info("blocked, waiting for next trigger")
			case workflow.OutcomeContinue:
				// The step's own state write fires the next trigger.
			}
		}
	}
}
