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

// Package metrics exposes Prometheus counters for lock and recovery
// activity. Embedding hosts that already serve a /metrics endpoint pick
// these up through the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklock_lock_acquisitions_total",
			Help: "Total lock acquisition attempts by outcome (acquired, reentrant, reclaimed, conflict)",
		},
		[]string{"outcome"},
	)

	lockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklock_conflicts_reported_total",
			Help: "Total conflict advisories reported by severity (conflict, advisory)",
		},
		[]string{"severity"},
	)

	recoveryEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklock_recovery_evaluations_total",
			Help: "Total crash-recovery evaluations by classification (active, foreign, orphaned, missing)",
		},
		[]string{"classification"},
	)

	stepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worklock_workflow_steps_total",
			Help: "Total resumable workflow steps by outcome (continue, done, failed, blocked)",
		},
		[]string{"outcome"},
	)
)

// RecordAcquisition increments the lock acquisition counter.
// outcome should be one of: acquired, reentrant, reclaimed, conflict.
func RecordAcquisition(outcome string) {
	lockAcquisitions.WithLabelValues(outcome).Inc()
}

// RecordConflict increments the conflict advisory counter.
// severity should be one of: conflict, advisory.
func RecordConflict(severity string) {
	lockConflicts.WithLabelValues(severity).Inc()
}

// RecordRecovery increments the recovery evaluation counter.
// classification should be one of: active, foreign, orphaned, missing.
func RecordRecovery(classification string) {
	recoveryEvaluations.WithLabelValues(classification).Inc()
}

// RecordStep increments the workflow step counter.
// outcome should be one of: continue, done, failed, blocked.
func RecordStep(outcome string) {
	stepOutcomes.WithLabelValues(outcome).Inc()
}
