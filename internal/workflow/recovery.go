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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tombee/worklock/internal/identity"
	"github.com/tombee/worklock/internal/metrics"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// OrphanReason is the error recorded on ledger items stranded by a dead
// owner session.
const OrphanReason = "orphaned: owner session died"

// Classification is the result of a crash-recovery evaluation.
type Classification string

const (
	// ClassificationActive means the state file is owned by the caller's
	// own session; it may resume directly.
	ClassificationActive Classification = "active"

	// ClassificationForeign means the state belongs to a different
	// installation or a live different session. Back off; touch nothing.
	ClassificationForeign Classification = "foreign"

	// ClassificationOrphaned means the recorded owner is dead. Stranded
	// ledger items have been reset to failed and the stale state file
	// deleted; the caller may safely start a fresh claim.
	ClassificationOrphaned Classification = "orphaned"

	// ClassificationMissing means no usable state file exists.
	ClassificationMissing Classification = "missing"
)

// ProbeFunc reports whether a pid is alive.
type ProbeFunc func(pid int) bool

// Evaluator classifies workflow state files against the calling session's
// identity and remediates orphaned state. It runs at every workflow start
// and at every resume re-entry, since ownership can go stale between
// invocations.
type Evaluator struct {
	id     identity.Identity
	probe  ProbeFunc
	logger *slog.Logger
}

// NewEvaluator creates an evaluator acting as the given identity.
func NewEvaluator(id identity.Identity, probe ProbeFunc, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		id:     id,
		probe:  probe,
		logger: logger.With(slog.String("component", "recovery")),
	}
}

// Evaluate classifies the workflow state at statePath.
//
// Decision order: absent → Missing; unparsable → delete and Missing
// (fail-safe: a corrupted record cannot be trusted to resume correctly);
// foreign installation root → Foreign, ledger untouched; owner pid matches
// → Active; owner alive → Foreign; owner dead → Orphaned, with every
// in_progress ledger item reset to failed and the stale state file deleted.
func (e *Evaluator) Evaluate(statePath string) (Classification, error) {
	c, err := e.evaluate(statePath)
	if err == nil {
		metrics.RecordRecovery(string(c))
	}
	return c, err
}

func (e *Evaluator) evaluate(statePath string) (Classification, error) {
	st, err := LoadState(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ClassificationMissing, nil
		}
		if wlerrors.IsCorrupt(err) {
			e.logger.Warn("deleting unparsable workflow state",
				slog.String("path", statePath),
				slog.Any("error", err),
			)
			if rmErr := os.Remove(statePath); rmErr != nil && !os.IsNotExist(rmErr) {
				return ClassificationMissing, rmErr
			}
			return ClassificationMissing, nil
		}
		return ClassificationMissing, err
	}

	if st.InstallationRoot != e.id.InstallationRoot {
		// Different namespace. Do not touch this workflow's ledger at all.
		return ClassificationForeign, nil
	}

	if st.OwnerPID == e.id.OwnerPID {
		return ClassificationActive, nil
	}

	if e.probe(st.OwnerPID) {
		return ClassificationForeign, nil
	}

	// Owner is dead: remediate.
	if err := e.remediateOrphan(st); err != nil {
		return ClassificationOrphaned, err
	}
	if err := os.Remove(statePath); err != nil && !os.IsNotExist(err) {
		return ClassificationOrphaned, err
	}
	e.logger.Info("reclaimed orphaned workflow state",
		slog.String("workflow", st.Workflow),
		slog.Int("dead_pid", st.OwnerPID),
	)
	return ClassificationOrphaned, nil
}

// remediateOrphan resets stranded in_progress ledger items to failed.
// A crashed partial update is never mistaken for success and never left
// permanently blocking; completed and pending items are untouched.
func (e *Evaluator) remediateOrphan(st *State) error {
	if st.ItemsFile == "" {
		return nil
	}

	ledgerPath := st.ItemsFile
	if !filepath.IsAbs(ledgerPath) {
		ledgerPath = filepath.Join(e.id.InstallationRoot, ledgerPath)
	}

	ledger, err := LoadLedger(ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if wlerrors.IsCorrupt(err) {
			// Fail-safe, same as state corruption: remove rather than hang
			// every future resume on an unreadable ledger.
			e.logger.Warn("deleting unparsable ledger during orphan recovery",
				slog.String("path", ledgerPath),
				slog.Any("error", err),
			)
			if rmErr := os.Remove(ledgerPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			return nil
		}
		return err
	}

	if reset := ledger.ResetInProgress(OrphanReason); reset > 0 {
		e.logger.Info("reset stranded ledger items",
			slog.String("workflow", st.Workflow),
			slog.Int("reset", reset),
		)
		return ledger.Save(ledgerPath)
	}
	return nil
}
