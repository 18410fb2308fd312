// Package progress keeps the append-only audit trail of a build session and
// mirrors it into a human-readable block inside the project's status
// document.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/types"
)

const (
	beginMarker = "<!-- forgeloop:begin -->"
	endMarker   = "<!-- forgeloop:end -->"
	statusDoc   = "PROGRESS.md"
)

// Log is the session audit trail, persisted as a JSON array under
// bookkeeping and projected into the status document on every append.
type Log struct {
	root    string
	path    string
	entries []types.ProgressEntry
}

// Load reads the progress log for a project, creating an empty one when none
// exists.
func Load(root string) (*Log, error) {
	l := &Log{
		root: root,
		path: filepath.Join(root, config.BookkeepingDir, "progress.json"),
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("could not read progress log: %w", err)
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("could not parse progress log: %w", err)
	}
	return l, nil
}

// Append records one entry, assigning its ID and timestamp, persists the log
// and refreshes the status document block.
func (l *Log) Append(entry types.ProgressEntry) error {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	l.entries = append(l.entries, entry)

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("could not create bookkeeping directory: %w", err)
	}
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("could not persist progress log: %w", err)
	}
	return l.updateStatusDoc()
}

// Entries returns a copy of the audit trail in append order.
func (l *Log) Entries() []types.ProgressEntry {
	out := make([]types.ProgressEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// updateStatusDoc replaces the delimited block in the status document
// wholesale; content outside the markers is preserved.
func (l *Log) updateStatusDoc() error {
	path := filepath.Join(l.root, statusDoc)
	var head, tail string
	if data, err := os.ReadFile(path); err == nil {
		text := string(data)
		if begin := strings.Index(text, beginMarker); begin >= 0 {
			head = text[:begin]
			if end := strings.Index(text, endMarker); end >= 0 {
				tail = text[end+len(endMarker):]
			}
		} else {
			head = strings.TrimRight(text, "\n") + "\n\n"
		}
	}

	var block strings.Builder
	block.WriteString(beginMarker + "\n")
	block.WriteString("## Build progress\n\n")
	for _, e := range l.entries {
		mark := "✅"
		if !e.Success {
			mark = "❌"
		}
		suffix := ""
		if e.Fixed {
			suffix = " (repaired)"
		}
		if e.PartialRollback {
			suffix = " (partial rollback)"
		}
		block.WriteString(fmt.Sprintf("- %s Step %d: %s%s (%s)\n", mark, e.Step, e.Label, suffix, e.Timestamp.Format(time.RFC3339)))
	}
	block.WriteString(endMarker)

	return os.WriteFile(path, []byte(head+block.String()+tail), 0644)
}

// Render formats the audit trail for the terminal with color accents.
func (l *Log) Render() string {
	if len(l.entries) == 0 {
		return "No progress recorded.\n"
	}
	var out strings.Builder
	for _, e := range l.entries {
		status := color.GreenString("ok")
		if !e.Success {
			status = color.RedString("failed")
		}
		if e.Fixed {
			status += color.YellowString(" repaired")
		}
		if e.PartialRollback {
			status += color.YellowString(" partial-rollback")
		}
		out.WriteString(fmt.Sprintf("%s  step %2d  %-40s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Step, e.Label, status))
		if len(e.AppliedPaths) > 0 {
			out.WriteString("    applied: " + strings.Join(e.AppliedPaths, ", ") + "\n")
		}
	}
	return out.String()
}
