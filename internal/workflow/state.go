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

// Package workflow persists resumable batch workflows: a per-workflow state
// file carrying lifecycle status, owner identity, and a resume cursor, a
// progress ledger of per-item status, a crash-recovery evaluator, and the
// trigger-invoked loop driver that performs one bounded unit per call.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/worklock/internal/fsatomic"
	wlerrors "github.com/tombee/worklock/pkg/errors"
)

// Status is the lifecycle status of a workflow run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	// StatusInterrupted is written by cooperating sessions that catch a
	// termination signal before dying; this driver never produces it but
	// must parse it, since recovery reads state left by any writer.
	StatusInterrupted Status = "interrupted"
)

const frontMatterDelim = "---"

// State is the per-workflow record of lifecycle status, owner identity, and
// resume cursor. On disk it is a markdown file with YAML front matter at
// {repo_root}/.state/{workflow}-loop.local.md; the markdown body after the
// front matter is free-form notes and survives rewrites verbatim.
type State struct {
	// Workflow is the workflow name.
	Workflow string `yaml:"workflow"`

	// Active is true while a session owns this run.
	Active bool `yaml:"active"`

	// Status is the run's lifecycle status.
	Status Status `yaml:"status"`

	// OwnerPID, InstallationRoot, and SessionID record the owning session's
	// identity triplet. A process whose identity does not match must treat
	// this file as read-only.
	OwnerPID         int    `yaml:"owner_pid"`
	InstallationRoot string `yaml:"installation_root"`
	SessionID        string `yaml:"session_id"`

	// Resume cursor.
	Iteration  int    `yaml:"iteration"`
	TotalItems int    `yaml:"total_items"`
	ItemsFile  string `yaml:"items_file"`

	// Body is the markdown after the front matter, preserved verbatim.
	Body string `yaml:"-"`
}

// StatePath returns the canonical state file path for a workflow.
func StatePath(repoRoot, workflow string) string {
	return filepath.Join(repoRoot, ".state", workflow+"-loop.local.md")
}

// LoadState reads and parses a workflow state file. A missing file returns
// the underlying not-exist error for the caller to classify; a file that
// cannot be parsed returns CorruptMetadataError.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	front, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, &wlerrors.CorruptMetadataError{Path: path, Cause: err}
	}

	var st State
	if err := yaml.Unmarshal([]byte(front), &st); err != nil {
		return nil, &wlerrors.CorruptMetadataError{Path: path, Cause: err}
	}
	if st.Workflow == "" {
		return nil, &wlerrors.CorruptMetadataError{Path: path, Cause: fmt.Errorf("missing workflow field")}
	}
	st.Body = body
	return &st, nil
}

// Save writes the state file atomically, so a concurrent reader never
// observes a half-written structure.
func (s *State) Save(path string) error {
	front, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	var b strings.Builder
	b.WriteString(frontMatterDelim)
	b.WriteString("\n")
	b.Write(front)
	b.WriteString(frontMatterDelim)
	b.WriteString("\n")
	if s.Body != "" {
		b.WriteString(s.Body)
	}

	return fsatomic.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

// splitFrontMatter separates the YAML front matter from the markdown body.
// The file must open with a "---" line; the next "---" line closes the
// front matter.
func splitFrontMatter(content string) (front, body string, err error) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\n") != frontMatterDelim {
		return "", "", fmt.Errorf("missing front matter delimiter")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\n") == frontMatterDelim {
			return strings.Join(lines[1:i], ""), strings.Join(lines[i+1:], ""), nil
		}
	}
	return "", "", fmt.Errorf("unterminated front matter")
}
