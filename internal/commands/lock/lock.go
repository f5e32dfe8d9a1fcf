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

// Package lock implements the lock command group: acquire, release,
// release-all, and check.
package lock

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/worklock/internal/commands/shared"
	"github.com/tombee/worklock/internal/lockstore"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// NewCommand creates the lock command group
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Manage advisory workflow locks",
		Long: `Manage advisory locks under {root}/tmp/.locks/. A lock names the
workflow it protects and records the owning session's identity; dead
owners are reclaimed automatically on acquire.`,
	}

	cmd.AddCommand(newAcquireCommand())
	cmd.AddCommand(newReleaseCommand())
	cmd.AddCommand(newReleaseAllCommand())
	cmd.AddCommand(newCheckCommand())
	return cmd
}

func newAcquireCommand() *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "acquire <name>",
		Short: "Acquire an advisory lock",
		Long: `Acquire the named lock for this session. Re-acquiring a lock this
session already holds succeeds without modifying it. A lock whose owner
is dead is reclaimed. Exits non-zero when a live session holds the lock.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			cls, err := lockstore.ParseClass(class)
			if err != nil {
				return err
			}

			res, err := sess.Locks.Acquire(args[0], cls)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return printJSON(cmd, res)
			}

			switch {
			case res.Acquired && res.Reclaimed:
				cmd.Println(shared.RenderWarn(fmt.Sprintf("reclaimed %q from dead pid and acquired", args[0])))
			case res.Acquired && res.Reentrant:
				cmd.Println(shared.RenderOK(fmt.Sprintf("already holding %q", args[0])))
			case res.Acquired:
				cmd.Println(shared.RenderOK(fmt.Sprintf("acquired %q (%s)", args[0], cls)))
			default:
				cmd.Println(shared.RenderError(fmt.Sprintf("lock %q held by pid %d", args[0], res.Meta.PID)))
				return &wlerrors.ConflictError{
					Name:     args[0],
					Class:    string(res.Meta.Class),
					OwnerPID: res.Meta.PID,
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", string(lockstore.ClassWriter), "Lock class: writer, reader, or planner")
	return cmd
}

func newReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release <name>",
		Short: "Release an advisory lock held by this session",
		Long: `Release the named lock. Releasing a lock this session does not hold
is a no-op; another session's lock is never removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}
			if err := sess.Locks.Release(args[0]); err != nil {
				return err
			}
			if !shared.GetJSON() {
				cmd.Println(shared.RenderOK(fmt.Sprintf("released %q", args[0])))
			}
			return nil
		},
	}
}

func newReleaseAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "release-all",
		Short: "Release every lock held by this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}
			count, err := sess.Locks.ReleaseAll()
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return printJSON(cmd, map[string]int{"released": count})
			}
			cmd.Println(shared.RenderOK(fmt.Sprintf("released %d lock(s)", count)))
			return nil
		},
	}
}

func newCheckCommand() *cobra.Command {
	var class string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report conflicts between this session and held locks",
		Long: `Check every held lock against the intended operation class and print
one advisory line per overlap. Conflict state is carried in the output,
not the exit code: an informational conflict still exits 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := shared.NewSession()
			if err != nil {
				return err
			}

			cls, err := lockstore.ParseClass(class)
			if err != nil {
				return err
			}

			advisories := sess.Locks.CheckConflicts(cls)

			if shared.GetJSON() {
				if advisories == nil {
					advisories = []lockstore.Advisory{}
				}
				return printJSON(cmd, advisories)
			}

			if len(advisories) == 0 {
				cmd.Println(shared.RenderOK("no conflicting locks"))
				return nil
			}
			for _, adv := range advisories {
				cmd.Println(shared.RenderAdvisory(adv))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&class, "class", string(lockstore.ClassWriter), "Intended operation class: writer, reader, or planner")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
