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

package lockstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tombee/worklock/internal/metrics"
)

// CheckConflicts scans every lock under the root and classifies each
// against the caller's intended class. It is read-only, never mutates lock
// state, and never hard-fails: unreadable entries are skipped, since a
// missing metadata file only means an acquisition is mid-flight.
//
// Classification: writer versus writer is a hard CONFLICT; writer versus
// reader or planner (either direction) is a non-blocking ADVISORY; pairs
// without a writer do not conflict. Locks belonging to other installations
// or to the caller's own session are not reported.
func (s *Store) CheckConflicts(class Class) []Advisory {
	names, err := s.listLockNames()
	if err != nil {
		s.logger.Debug("cannot list locks, reporting none", slog.Any("error", err))
		return nil
	}

	var advisories []Advisory
	for _, name := range names {
		meta, err := s.readMeta(s.lockDir(name))
		if err != nil {
			continue
		}
		if meta.InstallationRoot != s.id.InstallationRoot {
			continue
		}
		if meta.PID == s.id.OwnerPID {
			continue
		}

		severity, ok := classify(class, meta.Class)
		if !ok {
			continue
		}

		adv := Advisory{
			Lock:        meta.Workflow,
			Class:       meta.Class,
			OwnerPID:    meta.PID,
			Severity:    severity,
			Reclaimable: !s.probe(meta.PID),
		}
		if !adv.Reclaimable && s.command != nil {
			adv.OwnerCommand = s.command(meta.PID)
		}
		adv.Text = renderAdvisory(adv)
		advisories = append(advisories, adv)
		metrics.RecordConflict(strings.ToLower(severity))
	}
	return advisories
}

// classify maps a (caller class, holder class) pair to a severity.
func classify(caller, holder Class) (string, bool) {
	switch {
	case caller == ClassWriter && holder == ClassWriter:
		return SeverityConflict, true
	case caller == ClassWriter || holder == ClassWriter:
		return SeverityAdvisory, true
	default:
		return "", false
	}
}

// renderAdvisory produces the single-line human-readable form. The text
// always carries the workflow name and owner pid, plus the owner's command
// when readable, so a human can decide whether to proceed, wait, or cancel.
func renderAdvisory(adv Advisory) string {
	line := fmt.Sprintf("%s: %s lock %q held by pid %d", adv.Severity, adv.Class, adv.Lock, adv.OwnerPID)
	if adv.OwnerCommand != "" {
		line += fmt.Sprintf(" (%s)", adv.OwnerCommand)
	}
	if adv.Reclaimable {
		line += " (owner dead; reclaimable)"
	}
	return line
}

// RenderAdvisories joins advisory lines for process-boundary output.
// Conflict state is encoded here rather than in exit codes, because callers
// must not treat an informational conflict as a process failure.
func RenderAdvisories(advisories []Advisory) string {
	if len(advisories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(advisories))
	for _, adv := range advisories {
		lines = append(lines, adv.Text)
	}
	return strings.Join(lines, "\n")
}
