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

// Package workflow implements the workflow command group: init, step,
// status, recover, and cancel for resumable batch workflows.
package workflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/worklock/internal/commands/shared"
	"github.com/tombee/worklock/internal/lifecycle"
	"github.com/tombee/worklock/internal/workflow"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// NewCommand creates the workflow command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Drive resumable batch workflows",
		Long: `Drive a resumable batch workflow one bounded unit per invocation.
State lives in {root}/.state/{name}-loop.local.md and the per-item
ledger next to it; any session whose trigger fires can resume, and a
crashed session's items are recovered automatically.`,
	}

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newStepCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newRecoverCommand())
	cmd.AddCommand(newCancelCommand())
	return cmd
}

// newDriver wires a driver for the named workflow. The unit shells out to
// execCmd with the item id appended and WORKLOCK_ITEM set; an empty
// execCmd yields a driver usable only for ownership operations.
func newDriver(sess *shared.Session, name, execCmd string, continueOnFailure bool) (*workflow.Driver, error) {
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

	return workflow.NewDriver(workflow.DriverConfig{
		Workflow:          name,
		RepoRoot:          sess.Identity.InstallationRoot,
		Identity:          sess.Identity,
		Locks:             sess.Locks,
		Probe:             lifecycle.IsProcessAlive,
		Unit:              unit,
		ContinueOnFailure: continueOnFailure,
		Logger:            sess.Logger,
	})
}

func newInitCommand() *cobra.Command {
	var itemsFile string

	cmd := &cobra.Command{
		Use:   "init <name> [item...]",
		Short: "Initialize a workflow run",
		Long: `Seed a workflow: acquire its writer lock, write a fresh ledger with
every item pending, and write the state file owned by this session.
Items come from the arguments or, with --items-file, one per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			ids := args[1:]
			if itemsFile != "" {
				fileIDs, err := readItemsFile(itemsFile)
				if err != nil {
					return err
				}
				ids = append(ids, fileIDs...)
			}

			d, err := newDriver(sess, args[0], "", false)
			if err != nil {
				return err
			}
			if err := d.Init(ids); err != nil {
				return err
			}

			if !shared.GetJSON() {
				cmd.Println(shared.RenderOK(fmt.Sprintf("initialized %q with %d item(s)", args[0], len(ids))))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&itemsFile, "items-file", "", "File listing work item ids, one per line")
	return cmd
}

func newStepCommand() *cobra.Command {
	var execCmd string
	var continueOnFailure bool
	var all bool

	cmd := &cobra.Command{
		Use:   "step <name>",
		Short: "Perform one bounded unit of work",
		Long: `Perform one unit of the named workflow and print the outcome for the
host trigger: continue (re-arm), done, failed, or blocked. Each
invocation first re-evaluates ownership, so a step after a crash
recovers stranded items before resuming. With --all, steps repeat
until the outcome is no longer continue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			d, err := newDriver(sess, args[0], execCmd, continueOnFailure)
			if err != nil {
				return err
			}

			out, err := stepUntil(cmd.Context(), d, all)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return printJSON(cmd, map[string]string{"outcome": string(out)})
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&execCmd, "exec", "", "Shell command run per item (item id appended; WORKLOCK_ITEM set)")
	cmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", false, "Record failed items and keep going")
	cmd.Flags().BoolVar(&all, "all", false, "Step repeatedly until done, failed, or blocked")
	return cmd
}

func stepUntil(ctx context.Context, d *workflow.Driver, all bool) (workflow.Outcome, error) {
	for {
		out, err := d.Step(ctx)
		if err != nil {
			return out, err
		}
		if !all || out != workflow.OutcomeContinue {
			return out, nil
		}
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show workflow state and ledger progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			root := sess.Identity.InstallationRoot
			statePath := workflow.StatePath(root, args[0])

			st, err := workflow.LoadState(statePath)
			if err != nil && !os.IsNotExist(err) {
				return err
			}

			d, derr := newDriver(sess, args[0], "", false)
			if derr != nil {
				return derr
			}
			ledger, lerr := workflow.LoadLedger(d.LedgerPath())
			if lerr != nil && !os.IsNotExist(lerr) {
				return lerr
			}

			if shared.GetJSON() {
				return printJSON(cmd, map[string]any{
					"state":  st,
					"ledger": ledger,
				})
			}

			if st == nil {
				cmd.Println(shared.Muted.Render("no active state (not running or already finished)"))
			} else {
				cmd.Printf("%s %s\n", shared.Bold.Render(st.Workflow), string(st.Status))
				cmd.Printf("  owner pid:  %d\n", st.OwnerPID)
				cmd.Printf("  session:    %s\n", st.SessionID)
				cmd.Printf("  iteration:  %d\n", st.Iteration)
			}
			if ledger != nil {
				cmd.Printf("  items:      %d completed, %d failed, %d pending, %d in progress\n",
					ledger.CountByStatus(workflow.ItemCompleted),
					ledger.CountByStatus(workflow.ItemFailed),
					ledger.CountByStatus(workflow.ItemPending),
					ledger.CountByStatus(workflow.ItemInProgress),
				)
			}
			return nil
		},
	}
}

func newRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <name>",
		Short: "Run crash-recovery evaluation for a workflow",
		Long: `Classify the workflow's state file against this session's identity:
active, foreign, orphaned (dead owner; stranded items reset to failed
and the stale state deleted), or missing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			eval := workflow.NewEvaluator(sess.Identity, lifecycle.IsProcessAlive, sess.Logger)
			statePath := workflow.StatePath(sess.Identity.InstallationRoot, args[0])

			c, err := eval.Evaluate(statePath)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return printJSON(cmd, map[string]string{"classification": string(c)})
			}
			switch c {
			case workflow.ClassificationOrphaned:
				cmd.Println(shared.RenderWarn("orphaned state recovered; stranded items marked failed"))
			case workflow.ClassificationForeign:
				cmd.Println(shared.RenderWarn("owned by a live foreign session; nothing touched"))
			default:
				cmd.Println(shared.RenderOK(string(c)))
			}
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <name>",
		Short: "Abandon a workflow run",
		Long: `Delete the workflow's state file and release its lock. The ledger is
kept as the record of what ran. Only the owning session may cancel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			statePath := workflow.StatePath(sess.Identity.InstallationRoot, args[0])
			if st, err := workflow.LoadState(statePath); err == nil {
				if st.InstallationRoot != sess.Identity.InstallationRoot {
					return &wlerrors.ForeignOwnerError{Path: statePath, InstallationRoot: st.InstallationRoot}
				}
				if st.OwnerPID != sess.Identity.OwnerPID {
					return &wlerrors.NotOwnerError{Name: args[0], OwnerPID: st.OwnerPID, CallerPID: sess.Identity.OwnerPID}
				}
			}

			d, err := newDriver(sess, args[0], "", false)
			if err != nil {
				return err
			}
			if err := d.Cancel(); err != nil {
				return err
			}
			if !shared.GetJSON() {
				cmd.Println(shared.RenderOK(fmt.Sprintf("cancelled %q", args[0])))
			}
			return nil
		},
	}
}

func readItemsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wlerrors.Wrap(err, "open items file")
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, wlerrors.Wrapf(err, "read items file %s", path)
	}
	return ids, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
