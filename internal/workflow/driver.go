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

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/worklock/internal/identity"
	"github.com/tombee/worklock/internal/lockstore"
	"github.com/tombee/worklock/internal/metrics"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// Outcome is the result of one Step invocation, returned to the external
// trigger so it can re-arm or terminate.
type Outcome string

const (
	// OutcomeContinue means a unit was processed and pending work remains;
	// the host should invoke Step again.
	OutcomeContinue Outcome = "continue"

	// OutcomeDone means the run finished: the state file is deleted and the
	// lock released.
	OutcomeDone Outcome = "done"

	// OutcomeFailed means the run stopped on a failed unit under the
	// stop-on-failure policy; state is retained for inspection.
	OutcomeFailed Outcome = "failed"

	// OutcomeBlocked means the workflow is owned by a foreign live session
	// or its lock could not be taken. Nothing was changed.
	OutcomeBlocked Outcome = "blocked"
)

// UnitFunc performs one bounded unit of work for a ledger item.
type UnitFunc func(ctx context.Context, item *Item) error

// DriverConfig configures a Driver.
type DriverConfig struct {
	// Workflow is the workflow (and lock) name.
	Workflow string

	// RepoRoot is the shared working directory.
	RepoRoot string

	// Identity is the calling session's identity triplet.
	Identity identity.Identity

	// Locks is the advisory lock store for RepoRoot.
	Locks *lockstore.Store

	// Probe reports pid liveness for recovery evaluation.
	Probe ProbeFunc

	// Unit performs one item's work.
	Unit UnitFunc

	// ContinueOnFailure re-arms past a failed item instead of stopping the
	// run. Either way the failure is recorded; one bad item never corrupts
	// or silently completes the others.
	ContinueOnFailure bool

	// LedgerPath overrides the default ledger location
	// ({repo_root}/.state/{workflow}-items.json).
	LedgerPath string

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Driver is the trigger-invoked resumable loop controller. Each Step call
// performs at most one bounded unit of work and reports whether the host
// should re-arm. There is no internal thread or wait-queue; re-invocation
// is entirely the host's concern.
type Driver struct {
	cfg    DriverConfig
	eval   *Evaluator
	logger *slog.Logger
}

// NewDriver creates a driver for one workflow.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Workflow == "" {
		return nil, &wlerrors.ValidationError{Field: "workflow", Message: "workflow name is required"}
	}
	if cfg.Unit == nil {
		return nil, &wlerrors.ValidationError{Field: "unit", Message: "unit function is required"}
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(cfg.RepoRoot, ".state", cfg.Workflow+"-items.json")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("component", "driver"),
		slog.String("workflow", cfg.Workflow),
	)

	return &Driver{
		cfg:    cfg,
		eval:   NewEvaluator(cfg.Identity, cfg.Probe, logger),
		logger: logger,
	}, nil
}

// StatePath returns the driver's workflow state file path.
func (d *Driver) StatePath() string {
	return StatePath(d.cfg.RepoRoot, d.cfg.Workflow)
}

// LedgerPath returns the driver's ledger file path.
func (d *Driver) LedgerPath() string {
	return d.cfg.LedgerPath
}

// Init seeds a run: acquires the writer lock, writes a fresh ledger with
// every item pending, and writes the state file stamped with the caller's
// identity. Returns ConflictError when another live session holds the lock.
func (d *Driver) Init(ids []string) error {
	if len(ids) == 0 {
		return &wlerrors.ValidationError{Field: "items", Message: "at least one work item is required"}
	}

	res, err := d.cfg.Locks.Acquire(d.cfg.Workflow, lockstore.ClassWriter)
	if err != nil {
		return err
	}
	if !res.Acquired {
		return &wlerrors.ConflictError{
			Name:     d.cfg.Workflow,
			Class:    string(res.Meta.Class),
			OwnerPID: res.Meta.PID,
		}
	}

	if err := NewLedger(ids).Save(d.cfg.LedgerPath); err != nil {
		return wlerrors.Wrap(err, "write ledger")
	}

	st := &State{
		Workflow:         d.cfg.Workflow,
		Active:           true,
		Status:           StatusPending,
		OwnerPID:         d.cfg.Identity.OwnerPID,
		InstallationRoot: d.cfg.Identity.InstallationRoot,
		SessionID:        d.cfg.Identity.SessionID,
		TotalItems:       len(ids),
		ItemsFile:        d.cfg.LedgerPath,
	}
	if err := st.Save(d.StatePath()); err != nil {
		return wlerrors.Wrap(err, "write state")
	}

	d.logger.Info("workflow initialized", slog.Int("items", len(ids)))
	return nil
}

// Step performs one bounded unit of work.
//
// Every invocation first runs the crash-recovery evaluator, since ownership
// can go stale between triggers. A foreign owner blocks with no state
// change. Orphaned or missing state leads to a fresh claim; stranded items
// were already reset to failed by the evaluator and are terminal.
func (d *Driver) Step(ctx context.Context) (Outcome, error) {
	outcome, err := d.step(ctx)
	if err == nil {
		metrics.RecordStep(string(outcome))
	}
	return outcome, err
}

func (d *Driver) step(ctx context.Context) (Outcome, error) {
	classification, err := d.eval.Evaluate(d.StatePath())
	if err != nil {
		return OutcomeBlocked, err
	}

	switch classification {
	case ClassificationForeign:
		d.logger.Info("workflow owned by a live foreign session, backing off")
		return OutcomeBlocked, nil
	case ClassificationOrphaned, ClassificationMissing:
		if blocked, err := d.claim(); err != nil {
			return OutcomeBlocked, err
		} else if blocked {
			return OutcomeBlocked, nil
		}
	case ClassificationActive:
		// Re-assert the lock; re-entrant acquisition is idempotent.
		res, err := d.cfg.Locks.Acquire(d.cfg.Workflow, lockstore.ClassWriter)
		if err != nil {
			return OutcomeBlocked, err
		}
		if !res.Acquired {
			return OutcomeBlocked, nil
		}
	}

	st, err := LoadState(d.StatePath())
	if err != nil {
		return OutcomeBlocked, err
	}
	ledger, err := LoadLedger(d.cfg.LedgerPath)
	if err != nil {
		return OutcomeBlocked, err
	}

	idx, ok := ledger.NextPending()
	if !ok {
		return d.finalize(ledger)
	}

	if err := ledger.MarkInProgress(idx); err != nil {
		return OutcomeBlocked, err
	}
	if err := ledger.Save(d.cfg.LedgerPath); err != nil {
		return OutcomeBlocked, err
	}
	st.Status = StatusInProgress
	st.Iteration++
	if err := st.Save(d.StatePath()); err != nil {
		return OutcomeBlocked, err
	}

	item := &ledger.Items[idx]
	d.logger.Info("processing item", slog.String("item", item.ID), slog.Int("iteration", st.Iteration))

	unitErr := d.cfg.Unit(ctx, item)
	if unitErr != nil {
		if err := ledger.MarkFailed(idx, unitErr.Error()); err != nil {
			return OutcomeBlocked, err
		}
		if err := ledger.Save(d.cfg.LedgerPath); err != nil {
			return OutcomeBlocked, err
		}
		d.logger.Warn("item failed",
			slog.String("item", item.ID),
			slog.Any("error", unitErr),
		)

		if d.cfg.ContinueOnFailure {
			if _, more := ledger.NextPending(); more {
				return OutcomeContinue, nil
			}
			return d.finalize(ledger)
		}

		st.Status = StatusFailed
		st.Active = false
		if err := st.Save(d.StatePath()); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeFailed, nil
	}

	if err := ledger.MarkCompleted(idx); err != nil {
		return OutcomeBlocked, err
	}
	if err := ledger.Save(d.cfg.LedgerPath); err != nil {
		return OutcomeBlocked, err
	}

	if _, more := ledger.NextPending(); more {
		return OutcomeContinue, nil
	}
	return d.finalize(ledger)
}

// claim takes ownership after an orphan reclaim or on first resume:
// acquire the writer lock and write a state file stamped with our identity.
// Requires an existing ledger; a missing ledger means Init never ran.
func (d *Driver) claim() (blocked bool, err error) {
	ledger, err := LoadLedger(d.cfg.LedgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("no ledger at %s: workflow was never initialized", d.cfg.LedgerPath)
		}
		return false, err
	}

	res, err := d.cfg.Locks.Acquire(d.cfg.Workflow, lockstore.ClassWriter)
	if err != nil {
		return false, err
	}
	if !res.Acquired {
		d.logger.Info("lock held by another session, backing off",
			slog.Int("owner_pid", res.Meta.PID),
		)
		return true, nil
	}

	st := &State{
		Workflow:         d.cfg.Workflow,
		Active:           true,
		Status:           StatusInProgress,
		OwnerPID:         d.cfg.Identity.OwnerPID,
		InstallationRoot: d.cfg.Identity.InstallationRoot,
		SessionID:        d.cfg.Identity.SessionID,
		TotalItems:       len(ledger.Items),
		ItemsFile:        d.cfg.LedgerPath,
	}
	return false, st.Save(d.StatePath())
}

// finalize ends the run: stamp the ledger's overall status, delete the
// state file, and release the lock. Failed items under the
// continue-past-failure policy still end in Done; the failures stay
// recorded in the ledger.
func (d *Driver) finalize(ledger *Ledger) (Outcome, error) {
	failed := ledger.CountByStatus(ItemFailed)
	if failed > 0 {
		ledger.Status = StatusFailed
	} else {
		ledger.Status = StatusCompleted
	}
	if err := ledger.Save(d.cfg.LedgerPath); err != nil {
		return OutcomeBlocked, err
	}

	if err := os.Remove(d.StatePath()); err != nil && !os.IsNotExist(err) {
		return OutcomeBlocked, err
	}
	if err := d.cfg.Locks.Release(d.cfg.Workflow); err != nil {
		return OutcomeBlocked, err
	}

	d.logger.Info("workflow finished",
		slog.Int("completed", ledger.CountByStatus(ItemCompleted)),
		slog.Int("failed", failed),
	)
	return OutcomeDone, nil
}

// Cancel abandons the run: the state file is deleted and the lock released.
// There is no cooperative cancel signal delivered mid-unit; cancellation
// takes effect at the next ledger checkpoint.
func (d *Driver) Cancel() error {
	if err := os.Remove(d.StatePath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return d.cfg.Locks.Release(d.cfg.Workflow)
}
