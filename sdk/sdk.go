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

// Package sdk provides an embeddable facade over the advisory lock manager
// and workflow recovery protocol for host automation tooling.
//
// The facade degrades rather than fails: when the subsystem cannot
// initialize (unresolvable identity, unusable lock root), lock operations
// become always-succeed no-ops. Advisory locks protect convenience, not
// repository integrity, so an unavailable lock manager must never stop
// the host's real work. Available reports which mode the client is in so
// a stricter policy layer can decide to block instead.
package sdk

import (
	"context"
	"log/slog"

	"github.com/tombee/worklock/internal/identity"
	"github.com/tombee/worklock/internal/lifecycle"
	"github.com/tombee/worklock/internal/lockstore"
	wlog "github.com/tombee/worklock/internal/log"
	"github.com/tombee/worklock/internal/workflow"
)

// Class mirrors the lock classes for embedders.
type Class = lockstore.Class

const (
	ClassWriter  = lockstore.ClassWriter
	ClassReader  = lockstore.ClassReader
	ClassPlanner = lockstore.ClassPlanner
)

// Client is the embedding surface. Each Client carries one session
// identity; construct one per automation session, not per operation.
type Client struct {
	id        identity.Identity
	locks     *lockstore.Store
	eval      *workflow.Evaluator
	logger    *slog.Logger
	available bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the calling session. Initialization failure
// does not return an error: the client is created unavailable and its
// lock operations are no-ops.
func New(opts ...Option) *Client {
	c := &Client{logger: wlog.New(wlog.FromEnv())}
	for _, opt := range opts {
		opt(c)
	}

	id, err := identity.Resolve()
	if err != nil {
		c.logger.Warn("lock subsystem unavailable, operating fail-open", wlog.Error(err))
		return c
	}

	c.id = id
	c.locks = lockstore.NewStore(id.InstallationRoot, id, lifecycle.IsProcessAlive,
		lockstore.WithLogger(c.logger),
		lockstore.WithCommandLookup(lifecycle.ProcessCommand))
	c.eval = workflow.NewEvaluator(id, lifecycle.IsProcessAlive, c.logger)
	c.available = true
	return c
}

// Available reports whether the lock subsystem initialized. When false,
// AcquireLock always reports success and CheckConflicts is always empty.
func (c *Client) Available() bool {
	return c.available
}

// Identity returns the session identity. Zero when unavailable.
func (c *Client) Identity() identity.Identity {
	return c.id
}

// AcquireLock acquires the named lock and reports whether the caller now
// holds it. Unavailable clients report true: the caller proceeds unlocked
// rather than deadlocking on a broken convenience layer.
func (c *Client) AcquireLock(name string, class Class) bool {
	if !c.available {
		return true
	}
	res, err := c.locks.Acquire(name, class)
	if err != nil {
		c.logger.Warn("lock acquire failed", slog.String(wlog.LockKey, name), wlog.Error(err))
		return false
	}
	return res.Acquired
}

// ReleaseLock releases the named lock. No-op when this session does not
// hold it or the client is unavailable.
func (c *Client) ReleaseLock(name string) {
	if !c.available {
		return
	}
	if err := c.locks.Release(name); err != nil {
		c.logger.Warn("lock release failed", slog.String(wlog.LockKey, name), wlog.Error(err))
	}
}

// ReleaseAll releases every lock held by this session and returns the
// count released.
func (c *Client) ReleaseAll() int {
	if !c.available {
		return 0
	}
	count, err := c.locks.ReleaseAll()
	if err != nil {
		c.logger.Warn("release-all failed", wlog.Error(err))
	}
	return count
}

// CheckConflicts returns rendered advisory text for the intended
// operation class, one line per overlapping lock. Empty means proceed.
func (c *Client) CheckConflicts(class Class) string {
	if !c.available {
		return ""
	}
	return lockstore.RenderAdvisories(c.locks.CheckConflicts(class))
}

// EvaluateRecovery classifies the workflow state file at statePath
// against this session's identity, remediating orphaned state. Self
// identity is required here: recovery rewrites other sessions' records,
// so an unavailable client fails closed and reports an error.
func (c *Client) EvaluateRecovery(statePath string) (workflow.Classification, error) {
	if !c.available {
		return "", errUnavailable()
	}
	return c.eval.Evaluate(statePath)
}

// StepWorkflow performs one bounded unit of the named workflow using the
// given unit function. Like recovery, stepping mutates owned state and
// fails closed when unavailable.
func (c *Client) StepWorkflow(ctx context.Context, name string, unit workflow.UnitFunc) (workflow.Outcome, error) {
	if !c.available {
		return workflow.OutcomeBlocked, errUnavailable()
	}

	d, err := workflow.NewDriver(workflow.DriverConfig{
		Workflow: name,
		RepoRoot: c.id.InstallationRoot,
		Identity: c.id,
		Locks:    c.locks,
		Probe:    lifecycle.IsProcessAlive,
		Unit:     unit,
		Logger:   c.logger,
	})
	if err != nil {
		return workflow.OutcomeBlocked, err
	}
	return d.Step(ctx)
}

// InitWorkflow seeds a run for the named workflow with the given item ids.
func (c *Client) InitWorkflow(name string, ids []string) error {
	if !c.available {
		return errUnavailable()
	}

	d, err := workflow.NewDriver(workflow.DriverConfig{
		Workflow: name,
		RepoRoot: c.id.InstallationRoot,
		Identity: c.id,
		Locks:    c.locks,
		Probe:    lifecycle.IsProcessAlive,
		Unit:     func(context.Context, *workflow.Item) error { return nil },
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	return d.Init(ids)
}
