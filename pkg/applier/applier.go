// Package applier writes oracle-proposed file changes to the project tree.
// Every write captures a pre-image for selective rollback, and a file is
// either fully written or untouched: budget and safety checks happen before
// the write.
package applier

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/safety"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

// Shrink asks the oracle for a reduced patch when a modification exceeds the
// budget. It returns the replacement change and whether one was produced.
type Shrink func(change types.FileChange, budget int) (types.FileChange, bool)

// Applier applies a step's file changes with safety and size guards.
type Applier struct {
	Root   string
	Budget int    // max chars for modifications of existing files; new files are exempt
	Shrink Shrink // optional; nil disables the one-shot re-prompt
	Logger *utils.Logger
}

// Result reports what one Apply call did to the tree.
type Result struct {
	Applied         []types.AppliedChange
	Diffs           []string
	SkippedUnsafe   []string
	SkippedOversize []string
}

// Normalize trims trailing whitespace and guarantees exactly one trailing
// newline, matching what the validator and diff context expect.
func Normalize(content string) string {
	return strings.TrimRight(content, " \t\r\n") + "\n"
}

// Apply writes each change in order. Unsafe paths are dropped with a warning;
// oversized modifications get one shrink attempt and are skipped if still
// over budget. Nothing here aborts the step.
func (a *Applier) Apply(changes []types.FileChange) (Result, error) {
	var res Result
	for _, change := range changes {
		if change.Path == "" || change.Content == "" {
			continue
		}
		if safety.IsOutsideRoot(a.Root, change.Path) {
			a.Logger.LogProcessStep(fmt.Sprintf("Ignoring unsafe path outside project: %s", change.Path))
			res.SkippedUnsafe = append(res.SkippedUnsafe, change.Path)
			continue
		}

		dest := filepath.Join(a.Root, change.Path)
		previous, hadPrevious, err := readIfExists(dest)
		if err != nil {
			return res, fmt.Errorf("could not read existing file %s: %w", change.Path, err)
		}

		content := Normalize(change.Content)
		if hadPrevious && a.Budget > 0 && len(content) > a.Budget {
			reduced, ok := a.shrinkOnce(change)
			if !ok {
				a.Logger.LogProcessStep(fmt.Sprintf("Skipping oversized modification for %s (%d chars > %d budget)", change.Path, len(content), a.Budget))
				res.SkippedOversize = append(res.SkippedOversize, change.Path)
				continue
			}
			content = Normalize(reduced.Content)
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return res, fmt.Errorf("could not create directory for %s: %w", change.Path, err)
		}
		if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
			return res, fmt.Errorf("could not write %s: %w", change.Path, err)
		}

		res.Applied = append(res.Applied, types.AppliedChange{
			Path:        change.Path,
			HadPrevious: hadPrevious,
			Previous:    previous,
			New:         content,
		})
		res.Diffs = append(res.Diffs, UnifiedDiff(change.Path, previous, content))
	}
	return res, nil
}

// shrinkOnce requests a reduced patch and validates that it actually fits the
// budget. Only a validated reduction is accepted.
func (a *Applier) shrinkOnce(change types.FileChange) (types.FileChange, bool) {
	if a.Shrink == nil {
		return types.FileChange{}, false
	}
	reduced, ok := a.Shrink(change, a.Budget)
	if !ok || reduced.Path != change.Path {
		return types.FileChange{}, false
	}
	if len(Normalize(reduced.Content)) > a.Budget {
		return types.FileChange{}, false
	}
	return reduced, true
}

// Revert undoes a step's applied changes in reverse order: files that existed
// before get their pre-image back, created files are removed.
func (a *Applier) Revert(applied []types.AppliedChange) error {
	for i := len(applied) - 1; i >= 0; i-- {
		change := applied[i]
		dest := filepath.Join(a.Root, change.Path)
		if change.HadPrevious {
			if err := os.WriteFile(dest, []byte(change.Previous), 0644); err != nil {
				return fmt.Errorf("could not restore %s: %w", change.Path, err)
			}
			continue
		}
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("could not remove created file %s: %w", change.Path, err)
		}
	}
	return nil
}

func readIfExists(path string) (content string, existed bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}
