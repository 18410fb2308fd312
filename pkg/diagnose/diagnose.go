// Package diagnose classifies failed verification runs: structured test
// failures, missing external dependencies, fix-candidate files, and a compact
// error signature for dead-end and loop detection.
package diagnose

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/safety"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
	"github.com/forgeloop/forgeloop/pkg/validator"
)

const (
	maxFailures      = 10
	maxDiffLines     = 40
	maxFixCandidates = 5
	maxSignatureLen  = 400
)

// Diagnosis is the classification of one failed run.
type Diagnosis struct {
	Failures          []types.StructuredFailure
	MissingDependency string
	FixCandidates     []string
	Signature         string
}

var (
	moduleNotFoundRegex = regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`)
	importErrorRegex    = regexp.MustCompile(`ImportError: No module named (\S+)`)
	traceLineRegex      = regexp.MustCompile(`File "([^"]+)", line (\d+)`)
	inTestRegex         = regexp.MustCompile(`in (test_\w+)`)
	failedLineRegex     = regexp.MustCompile(`FAILED ([\w./-]+)::(\w+)`)
	errorTokenRegex     = regexp.MustCompile(`\b([A-Z]\w*(?:Error|Exception|Failure))\b:?\s*(.*)`)
	testDelimiterRegex  = regexp.MustCompile(`^_{4,}.*_{4,}$`)
)

// Analyze classifies a failed run. The command decides whether output is
// parsed as test-runner failures; everything else falls through to dependency
// and trace scanning.
func Analyze(root, command string, res types.RunResult) Diagnosis {
	combined := res.Stderr
	if combined == "" {
		combined = res.Stdout
	}

	d := Diagnosis{Signature: Signature(combined)}

	if validator.IsTestCommand(command) {
		d.Failures = parseTestFailures(res.Stdout + "\n" + res.Stderr)
	}

	if name := MissingDependency(combined); name != "" {
		d.MissingDependency = name
		return d
	}

	d.FixCandidates = fixCandidates(root, combined)
	return d
}

// MissingDependency extracts the module name from a missing-dependency error,
// or returns "". No code change can resolve this class of failure.
func MissingDependency(output string) string {
	if m := moduleNotFoundRegex.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := importErrorRegex.FindStringSubmatch(output); m != nil {
		return strings.Trim(m[1], "'\"")
	}
	return ""
}

// Signature produces a stable key for an error: the last two error/traceback
// header lines concatenated with the final three output lines, truncated.
// Used for negative-memory matching, never for display.
func Signature(output string) string {
	var headers []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "Error") || strings.HasPrefix(trimmed, "Traceback") {
			headers = append(headers, trimmed)
		}
	}
	if len(headers) > 2 {
		headers = headers[len(headers)-2:]
	}
	parts := append(headers, utils.LastLines(output, 3)...)
	sig := strings.Join(parts, " | ")
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return sig
}

// fixCandidates extracts up to five referenced source paths from trace lines
// that resolve inside the project root, so the repair loop targets the right
// file instead of guessing.
func fixCandidates(root, output string) []string {
	seen := make(map[string]bool)
	var candidates []string
	for _, m := range traceLineRegex.FindAllStringSubmatch(output, -1) {
		path := m[1]
		rel := path
		if filepath.IsAbs(path) {
			r, err := filepath.Rel(root, path)
			if err != nil || strings.HasPrefix(r, "..") {
				continue
			}
			rel = r
		}
		if safety.IsOutsideRoot(root, rel) || seen[rel] {
			continue
		}
		seen[rel] = true
		candidates = append(candidates, rel)
		if len(candidates) == maxFixCandidates {
			break
		}
	}
	return candidates
}

// parseTestFailures extracts structured failures from pytest-style output:
// segments delimited by underscore banner lines, trace lines for file/line,
// assertion lines for the error kind and message, and up to 40 diff lines.
func parseTestFailures(output string) []types.StructuredFailure {
	var failures []types.StructuredFailure

	lines := strings.Split(output, "\n")
	var segments [][]string
	var current []string
	inSegment := false
	for _, line := range lines {
		if testDelimiterRegex.MatchString(strings.TrimSpace(line)) {
			if inSegment && len(current) > 0 {
				segments = append(segments, current)
			}
			current = []string{line}
			inSegment = true
			continue
		}
		if inSegment {
			current = append(current, line)
		}
	}
	if inSegment && len(current) > 0 {
		segments = append(segments, current)
	}

	for _, seg := range segments {
		if len(failures) == maxFailures {
			break
		}
		f := parseSegment(seg)
		if f.TestName == "" && f.ErrorKind == "" && f.File == "" {
			continue
		}
		failures = append(failures, f)
	}

	// FAILED summary lines carry test names the banners sometimes lack.
	for _, m := range failedLineRegex.FindAllStringSubmatch(output, -1) {
		if len(failures) == maxFailures {
			break
		}
		known := false
		for _, f := range failures {
			if f.TestName == m[2] {
				known = true
				break
			}
		}
		if !known {
			failures = append(failures, types.StructuredFailure{File: m[1], TestName: m[2]})
		}
	}

	return failures
}

func parseSegment(seg []string) types.StructuredFailure {
	var f types.StructuredFailure
	var diffLines []string

	// The banner line itself usually names the test.
	banner := strings.Trim(strings.TrimSpace(seg[0]), "_ ")
	if strings.HasPrefix(banner, "test_") {
		f.TestName = strings.Fields(banner)[0]
	}

	for _, line := range seg[1:] {
		trimmed := strings.TrimSpace(line)
		if m := traceLineRegex.FindStringSubmatch(trimmed); m != nil && f.File == "" {
			f.File = m[1]
			if n, err := strconv.Atoi(m[2]); err == nil {
				f.Line = n
			}
		}
		if m := inTestRegex.FindStringSubmatch(trimmed); m != nil && f.TestName == "" {
			f.TestName = m[1]
		}
		if m := errorTokenRegex.FindStringSubmatch(trimmed); m != nil && f.ErrorKind == "" {
			f.ErrorKind = m[1]
			f.Message = strings.TrimSpace(m[2])
		}
		if strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "E ") {
			if len(diffLines) < maxDiffLines {
				diffLines = append(diffLines, trimmed)
			}
		}
	}
	f.Diff = strings.Join(diffLines, "\n")
	return f
}

// LanguageForFile maps a file extension to the language name used in repair
// prompts.
func LanguageForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c":
		return "c"
	case ".cc", ".cpp", ".cxx":
		return "cpp"
	default:
		return "unknown"
	}
}
