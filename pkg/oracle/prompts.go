package oracle

import (
	"fmt"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/types"
)

func techList(technologies []string) string {
	if len(technologies) == 0 {
		return "unspecified"
	}
	return strings.Join(technologies, ", ")
}

func buildPlanPrompt(goal string, technologies []string, maxSteps int) string {
	return strings.TrimSpace(fmt.Sprintf(`
You are an expert software architect. Break down the following project goal into at most %d SMALL, incremental implementation steps.
Each step must produce a minimal tangible improvement and be runnable/testable before moving on.
Avoid giant leaps. Prefer 5-12 word imperative phrases. No explicit numbering (no '1.'), just the phrase.
Project goal: %s
Technologies: %s
Return one step per line.`, maxSteps, goal, techList(technologies)))
}

func buildChangePrompt(req ChangeRequest) string {
	expectation := ""
	if req.Expectation != "" {
		expectation = fmt.Sprintf("Expected stdout should contain substring: '%s'.", req.Expectation)
	}
	return strings.TrimSpace(fmt.Sprintf(`
You are improving an existing project incrementally.
Project goal: %s
Current step: %s
Technologies: %s
%s
Existing files summary (filenames and first lines):
%s

Recent introspection (diffs / last errors / applied files):
%s

Produce ONLY a JSON array of file changes. Each element: {"path": "relative/path.py", "content": "FULL NEW CONTENT"}.
Rules:
- Include ONLY new or modified files necessary for THIS step.
- Omit unchanged files.
- Keep changes minimal and coherent with diffs & errors.
- If previous run succeeded and this step is about tests, create minimal failing test first.
- No explanations, no surrounding markdown, no code fences.
JSON only.`, req.Goal, req.Step, techList(req.Technologies), expectation, req.ContextSummary, renderIntrospection(req.Introspection)))
}

func buildCandidatePrompt(req ChangeRequest, count int) string {
	return strings.TrimSpace(fmt.Sprintf(`%s

Instead of one change set, produce %d ALTERNATIVE change sets exploring different minimal approaches to this step.
Return ONLY a JSON array of arrays: each inner array is one complete candidate of {"path", "content"} objects.
JSON only.`, buildChangePrompt(req), count))
}

func buildFixPrompt(req FixRequest) string {
	return fmt.Sprintf(`You are an expert code debugger and fixer. Please analyze the following %s code and fix the errors.

FILE: %s
ERROR MESSAGE:
%s

CURRENT CODE:
`+"```%s\n%s\n```"+`

Please provide the corrected code. Your response should contain:
1. A brief explanation of what was wrong
2. The complete fixed code (not just the changes)

Format your response as:
EXPLANATION: [brief explanation of the fix]

FIXED_CODE:
`+"```%s\n[complete corrected code here]\n```"+`

Make sure the fixed code is complete, syntactically correct, and addresses the specific error mentioned.`,
		req.Language, req.Path, req.ErrorText, req.Language, req.Content, req.Language)
}

func buildMicroStepPrompt(goal, stalledStep string) string {
	return strings.TrimSpace(fmt.Sprintf(`
The build session has stalled: the step "%s" produced no effective file changes twice in a row.
Project goal: %s
Propose ONE smaller, simpler next micro-step (at most 12 words) that makes a tiny concrete improvement instead.
Return only the step phrase, nothing else.`, stalledStep, goal))
}

func buildShrinkPrompt(req ChangeRequest, change types.FileChange, budget int) string {
	expectation := ""
	if req.Expectation != "" {
		expectation = fmt.Sprintf("The change must still make stdout contain: '%s'.", req.Expectation)
	}
	return strings.TrimSpace(fmt.Sprintf(`
Your proposed content for %s is too large (over %d characters for a modification of an existing file).
Current step: %s
%s
Produce a SMALLER complete replacement for this single file that stays under %d characters.
Return ONLY a JSON array with exactly one element: {"path": "%s", "content": "FULL NEW CONTENT"}.
JSON only.`, change.Path, budget, req.Step, expectation, budget, change.Path))
}

func renderIntrospection(in types.Introspection) string {
	var parts []string
	if len(in.AppliedPaths) > 0 {
		parts = append(parts, "Applied files: "+strings.Join(in.AppliedPaths, ", "))
	}
	if len(in.Diffs) > 0 {
		recent := in.Diffs
		if len(recent) > 3 {
			recent = recent[len(recent)-3:]
		}
		parts = append(parts, "Recent diffs:\n"+strings.Join(recent, "\n\n"))
	}
	if strings.TrimSpace(in.StderrTail) != "" {
		parts = append(parts, "Last stderr tail:\n"+strings.TrimSpace(in.StderrTail))
	} else if strings.TrimSpace(in.StdoutTail) != "" {
		parts = append(parts, "Last stdout tail:\n"+strings.TrimSpace(in.StdoutTail))
	}
	if len(parts) == 0 {
		return "(no prior run context)"
	}
	return strings.Join(parts, "\n")
}
