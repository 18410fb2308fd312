// Package parser extracts structured results from free-text oracle
// responses. Every extraction degrades gracefully: a response the parser
// cannot make sense of yields an empty result, never a panic or a partial
// write.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/types"
)

var startOfBlockRegex = regexp.MustCompile("^\\s*[>|]*```(\\S*)")

// rawChange tolerates both the "content" and the legacy "code" key for the
// file body; oracles are not consistent about which one they emit.
type rawChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Code    string `json:"code"`
}

// ChangesFromResponse extracts a JSON array of file changes from a free-text
// response. Markdown fences and surrounding prose are stripped first.
func ChangesFromResponse(raw string) []types.FileChange {
	text := raw
	if strings.Contains(text, "```") {
		if inner := firstFencedBlock(text); inner != "" {
			text = inner
		}
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil
	}
	var items []rawChange
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil
	}
	var changes []types.FileChange
	for _, it := range items {
		path := strings.TrimSpace(it.Path)
		content := it.Content
		if content == "" {
			content = it.Code
		}
		if path == "" || content == "" {
			continue
		}
		changes = append(changes, types.FileChange{Path: path, Content: content})
	}
	return changes
}

// CandidatesFromResponse extracts a JSON array of candidate change sets
// (an array of arrays). A flat array counts as a single candidate.
func CandidatesFromResponse(raw string) [][]types.FileChange {
	text := raw
	if strings.Contains(text, "```") {
		if inner := firstFencedBlock(text); inner != "" {
			text = inner
		}
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return nil
	}
	fragment := text[start : end+1]
	var nested [][]rawChange
	if err := json.Unmarshal([]byte(fragment), &nested); err == nil {
		var sets [][]types.FileChange
		for _, set := range nested {
			var changes []types.FileChange
			for _, it := range set {
				path := strings.TrimSpace(it.Path)
				content := it.Content
				if content == "" {
					content = it.Code
				}
				if path == "" || content == "" {
					continue
				}
				changes = append(changes, types.FileChange{Path: path, Content: content})
			}
			if len(changes) > 0 {
				sets = append(sets, changes)
			}
		}
		return sets
	}
	if flat := ChangesFromResponse(raw); len(flat) > 0 {
		return [][]types.FileChange{flat}
	}
	return nil
}

// StepsFromResponse extracts plan steps, one per line, stripping bullets and
// numbering, keeping imperative phrases of 2-14 words, case-insensitively
// deduplicated and capped at max.
func StepsFromResponse(raw string, max int) []string {
	seen := make(map[string]bool)
	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		s := strings.TrimSpace(line)
		s = strings.TrimLeft(s, "-*>")
		s = numberPrefixRegex.ReplaceAllString(s, "")
		s = strings.TrimSpace(s)
		if s == "" || strings.HasPrefix(s, "```") {
			continue
		}
		words := len(strings.Fields(s))
		if words < 2 || words > 14 {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		steps = append(steps, s)
		if len(steps) == max {
			break
		}
	}
	return steps
}

var numberPrefixRegex = regexp.MustCompile(`^\d+[.)]\s*`)

var (
	explanationRegex = regexp.MustCompile(`(?s)EXPLANATION:\s*(.+?)(?:FIXED_CODE:|\x60\x60\x60|$)`)
	fixedCodeRegex   = regexp.MustCompile("(?s)FIXED_CODE:\\s*```(?:\\w+)?\\s*(.+?)\\s*```")
)

// FixFromResponse extracts an explanation and the full corrected file content
// from a repair response. Extraction strategies, in order: a FIXED_CODE
// fenced block, a fenced block tagged with the expected language, the largest
// fenced block of any kind.
func FixFromResponse(raw, language string) (explanation, content string, ok bool) {
	explanation = "Applied automatic fix"
	if m := explanationRegex.FindStringSubmatch(raw); m != nil {
		if e := strings.TrimSpace(m[1]); e != "" {
			explanation = e
		}
	}

	if m := fixedCodeRegex.FindStringSubmatch(raw); m != nil {
		return explanation, strings.TrimSpace(m[1]), true
	}

	blocks := fencedBlocks(raw)
	if lang := strings.ToLower(strings.TrimSpace(language)); lang != "" {
		var best string
		for _, b := range blocks {
			if strings.HasPrefix(b.lang, lang) && len(b.body) > len(best) {
				best = b.body
			}
		}
		if best != "" {
			return explanation, best, true
		}
	}
	var best string
	for _, b := range blocks {
		if len(b.body) > len(best) {
			best = b.body
		}
	}
	if best != "" {
		return explanation, best, true
	}
	return "", "", false
}

type block struct {
	lang string
	body string
}

func fencedBlocks(raw string) []block {
	var blocks []block
	var current strings.Builder
	var lang string
	in := false
	for _, line := range strings.Split(raw, "\n") {
		if m := startOfBlockRegex.FindStringSubmatch(line); m != nil {
			if in {
				blocks = append(blocks, block{lang: lang, body: strings.TrimSpace(current.String())})
				current.Reset()
				in = false
				continue
			}
			in = true
			lang = strings.ToLower(m[1])
			continue
		}
		if in {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	if in && current.Len() > 0 {
		blocks = append(blocks, block{lang: lang, body: strings.TrimSpace(current.String())})
	}
	return blocks
}

func firstFencedBlock(raw string) string {
	blocks := fencedBlocks(raw)
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0].body
}
