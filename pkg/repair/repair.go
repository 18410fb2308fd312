// Package repair drives the bounded automatic fix loop against a failing
// verification command. The attempt bound is the only thing standing between
// an unhelpful oracle and an infinite loop, so it is never raised internally.
package repair

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/applier"
	"github.com/forgeloop/forgeloop/pkg/diagnose"
	"github.com/forgeloop/forgeloop/pkg/oracle"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
	"github.com/forgeloop/forgeloop/pkg/validator"
)

// Loop coordinates bounded repair attempts for one failing validation.
type Loop struct {
	Root        string
	Command     string
	Oracle      oracle.Oracle
	MaxAttempts int
	Logger      *utils.Logger
}

// Outcome reports what the loop achieved.
type Outcome struct {
	Success    bool
	Attempts   int
	FixedFiles []string
	LastResult types.RunResult
}

// entry files probed when neither the diagnosis nor the caller names a
// target, cheapest first.
var commonEntryFiles = map[string][]string{
	"python":     {"main.py", "app.py"},
	"javascript": {"main.js", "index.js", "app.js"},
	"go":         {"main.go"},
}

// Run re-validates and repairs until success or the attempt bound. Candidate
// files named by the diagnostic engine take priority over heuristic
// file discovery.
func (l *Loop) Run(ctx context.Context, candidates []string) Outcome {
	out := Outcome{}
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		out.Attempts = attempt
		res := validator.Run(ctx, l.Command, l.Root)
		out.LastResult = res
		if res.Success {
			out.Success = true
			return out
		}

		l.Logger.LogProcessStep(fmt.Sprintf("Fix attempt %d/%d", attempt, l.MaxAttempts))
		d := diagnose.Analyze(l.Root, l.Command, res)
		target := l.pickTarget(append(append([]string{}, d.FixCandidates...), candidates...), res)
		if target == "" {
			l.Logger.Log("Could not identify a file to fix; giving up repair early")
			return out
		}

		if err := l.fixFile(ctx, target, res); err != nil {
			l.Logger.LogError(fmt.Errorf("fix attempt %d for %s failed: %w", attempt, target, err))
			return out
		}
		out.FixedFiles = append(out.FixedFiles, target)
	}

	// Final re-validation after the last write, still inside the bound.
	res := validator.Run(ctx, l.Command, l.Root)
	out.LastResult = res
	out.Success = res.Success
	return out
}

func (l *Loop) fixFile(ctx context.Context, rel string, res types.RunResult) error {
	full := filepath.Join(l.Root, rel)
	content, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", rel, err)
	}
	errorText := res.Stderr
	if strings.TrimSpace(errorText) == "" {
		errorText = res.Stdout
	}
	fix, err := l.Oracle.ProposeFix(ctx, oracle.FixRequest{
		Path:      rel,
		Content:   string(content),
		Language:  diagnose.LanguageForFile(rel),
		ErrorText: utils.Tail(errorText, 4000),
	})
	if err != nil {
		return err
	}
	if strings.TrimSpace(fix.Content) == "" {
		return fmt.Errorf("oracle returned an empty fix for %s", rel)
	}
	l.Logger.Logf("Repair for %s: %s", rel, fix.Explanation)
	return os.WriteFile(full, []byte(applier.Normalize(fix.Content)), 0644)
}

// pickTarget chooses the file to repair: prioritized candidates that exist,
// then conventional entry files for the language the error output suggests.
func (l *Loop) pickTarget(candidates []string, res types.RunResult) string {
	for _, rel := range candidates {
		if rel == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.Root, rel)); err == nil {
			return rel
		}
	}

	lang := "python"
	combined := res.Stderr + res.Stdout
	if strings.Contains(combined, "ReferenceError") || strings.Contains(combined, ".js:") {
		lang = "javascript"
	} else if strings.Contains(combined, ".go:") {
		lang = "go"
	}
	for _, name := range commonEntryFiles[lang] {
		if _, err := os.Stat(filepath.Join(l.Root, name)); err == nil {
			return name
		}
	}

	// Fall back to the first source file of that language in the tree.
	ext := "." + map[string]string{"python": "py", "javascript": "js", "go": "go"}[lang]
	var found string
	filepath.Walk(l.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil || found != "" || info == nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ext) {
			if rel, relErr := filepath.Rel(l.Root, path); relErr == nil && !strings.HasPrefix(rel, ".forgeloop") {
				found = rel
			}
		}
		return nil
	})
	return found
}
