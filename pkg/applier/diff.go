package applier

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffLines = 120

// UnifiedDiff renders a line-oriented +/- diff between old and new content,
// truncated for use as oracle introspection context.
func UnifiedDiff(path, oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lineArray)

	var lines []string
	lines = append(lines, fmt.Sprintf("--- %s:old", path), fmt.Sprintf("+++ %s:new", path))
	for _, diff := range diffs {
		prefix := " "
		switch diff.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.Split(strings.TrimSuffix(diff.Text, "\n"), "\n") {
			lines = append(lines, prefix+line)
		}
	}
	if len(lines) > maxDiffLines {
		lines = append(lines[:maxDiffLines], "... (truncated)")
	}
	return strings.Join(lines, "\n")
}
