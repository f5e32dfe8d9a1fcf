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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tombee/worklock/internal/fsatomic"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// LedgerSchemaVersion is the ledger format this build reads and writes.
const LedgerSchemaVersion = 1

// ItemStatus is the status of one unit of work in the ledger.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// Item is one unit of work. Transitions move strictly forward
// (pending → in_progress → completed|failed); the single exception is the
// crash-recovery reset of a stranded in_progress item to failed.
type Item struct {
	ID          string     `json:"id"`
	Status      ItemStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Ledger is the ordered, durable record of per-item status for a
// multi-step batch run.
type Ledger struct {
	SchemaVersion int       `json:"schema_version"`
	Status        Status    `json:"status"`
	Items         []Item    `json:"items"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewLedger creates a ledger with every item pending.
func NewLedger(ids []string) *Ledger {
	items := make([]Item, len(ids))
	for i, id := range ids {
		items[i] = Item{ID: id, Status: ItemPending}
	}
	return &Ledger{
		SchemaVersion: LedgerSchemaVersion,
		Status:        StatusPending,
		Items:         items,
	}
}

// LoadLedger reads and validates a ledger file. Unparsable content or an
// unknown schema version returns CorruptMetadataError.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, &wlerrors.CorruptMetadataError{Path: path, Cause: err}
	}
	if l.SchemaVersion != LedgerSchemaVersion {
		return nil, &wlerrors.CorruptMetadataError{
			Path:  path,
			Cause: fmt.Errorf("unsupported schema_version %d", l.SchemaVersion),
		}
	}
	return &l, nil
}

// Save writes the ledger atomically, stamping UpdatedAt.
func (l *Ledger) Save(path string) error {
	l.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	return fsatomic.WriteFileAtomic(path, data, 0o644)
}

// NextPending returns the index of the lowest-index pending item.
// Items reset to failed by crash recovery are terminal and never returned.
func (l *Ledger) NextPending() (int, bool) {
	for i := range l.Items {
		if l.Items[i].Status == ItemPending {
			return i, true
		}
	}
	return 0, false
}

// CountByStatus returns the number of items with the given status.
func (l *Ledger) CountByStatus(status ItemStatus) int {
	n := 0
	for i := range l.Items {
		if l.Items[i].Status == status {
			n++
		}
	}
	return n
}

// MarkInProgress transitions a pending item to in_progress.
func (l *Ledger) MarkInProgress(idx int) error {
	item, err := l.item(idx)
	if err != nil {
		return err
	}
	if item.Status != ItemPending {
		return fmt.Errorf("item %s: cannot start from status %s", item.ID, item.Status)
	}
	now := time.Now().UTC()
	item.Status = ItemInProgress
	item.StartedAt = &now
	return nil
}

// MarkCompleted transitions an in_progress item to completed.
func (l *Ledger) MarkCompleted(idx int) error {
	item, err := l.item(idx)
	if err != nil {
		return err
	}
	if item.Status != ItemInProgress {
		return fmt.Errorf("item %s: cannot complete from status %s", item.ID, item.Status)
	}
	now := time.Now().UTC()
	item.Status = ItemCompleted
	item.Error = ""
	item.CompletedAt = &now
	return nil
}

// MarkFailed transitions an in_progress item to failed with error detail.
func (l *Ledger) MarkFailed(idx int, reason string) error {
	item, err := l.item(idx)
	if err != nil {
		return err
	}
	if item.Status != ItemInProgress {
		return fmt.Errorf("item %s: cannot fail from status %s", item.ID, item.Status)
	}
	now := time.Now().UTC()
	item.Status = ItemFailed
	item.Error = reason
	item.CompletedAt = &now
	return nil
}

// ResetInProgress transitions every in_progress item to failed with the
// given reason. This is the crash-recovery reset: a unit stranded by a dead
// owner is never assumed complete and never left blocking the run. Returns
// the number of items reset.
func (l *Ledger) ResetInProgress(reason string) int {
	reset := 0
	now := time.Now().UTC()
	for i := range l.Items {
		if l.Items[i].Status == ItemInProgress {
			l.Items[i].Status = ItemFailed
			l.Items[i].Error = reason
			l.Items[i].CompletedAt = &now
			reset++
		}
	}
	return reset
}

func (l *Ledger) item(idx int) (*Item, error) {
	if idx < 0 || idx >= len(l.Items) {
		return nil, fmt.Errorf("item index %d out of range (%d items)", idx, len(l.Items))
	}
	return &l.Items[idx], nil
}
