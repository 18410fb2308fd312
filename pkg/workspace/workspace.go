// Package workspace scans and copies the live project tree. All scans skip
// the bookkeeping directory and honor the project's ignore rules.
package workspace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/forgeloop/forgeloop/pkg/config"
)

// GetIgnoreRules reads ignore files (.gitignore, .forgeloop/.ignore) and
// returns a gitignore matcher, or nil when no rules exist.
func GetIgnoreRules(rootDir string) *ignore.GitIgnore {
	var allRules []string

	gitignorePath := filepath.Join(rootDir, ".gitignore")
	if rules, err := readIgnoreFile(gitignorePath); err == nil {
		allRules = append(allRules, rules...)
	}

	internalIgnorePath := filepath.Join(rootDir, config.BookkeepingDir, ".ignore")
	if rules, err := readIgnoreFile(internalIgnorePath); err == nil {
		allRules = append(allRules, rules...)
	}

	if len(allRules) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(allRules...)
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// skipRel reports whether a relative path belongs to internal bookkeeping or
// is ignored by project rules.
func skipRel(rel string, rules *ignore.GitIgnore) bool {
	if rel == config.BookkeepingDir || strings.HasPrefix(rel, config.BookkeepingDir+string(filepath.Separator)) {
		return true
	}
	if rules != nil && rules.MatchesPath(rel) {
		return true
	}
	return false
}

// ListFiles returns the relative paths of all regular files in the tree,
// sorted, excluding bookkeeping and ignored paths.
func ListFiles(root string) ([]string, error) {
	rules := GetIgnoreRules(root)
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if skipRel(rel, rules) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Summarize produces a short listing of up to limit files with their first
// line, used as oracle context. Large files are skipped entirely.
func Summarize(root string, limit int) string {
	files, err := ListFiles(root)
	if err != nil {
		return ""
	}
	var entries []string
	for _, rel := range files {
		if len(entries) >= limit {
			break
		}
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil || info.Size() >= 8000 {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		firstLine := ""
		if idx := strings.IndexByte(string(content), '\n'); idx >= 0 {
			firstLine = string(content[:idx])
		} else {
			firstLine = string(content)
		}
		entries = append(entries, fmt.Sprintf("%s | %s", rel, strings.TrimSpace(firstLine)))
	}
	return strings.Join(entries, "\n")
}

// IsEmpty reports whether the project directory holds no files besides
// bookkeeping.
func IsEmpty(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.Name() == config.BookkeepingDir {
			continue
		}
		return false
	}
	return true
}

// WriteScaffold creates the deterministic minimal scaffold used when the
// project directory starts out empty.
func WriteScaffold(root, goal string) error {
	mainContent := "#!/usr/bin/env python3\n" +
		"def main():\n" +
		"    print(\"Hello world\")\n\n" +
		"if __name__ == '__main__':\n" +
		"    main()\n"
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte(mainContent), 0644); err != nil {
		return fmt.Errorf("could not write scaffold main.py: %w", err)
	}
	readme := fmt.Sprintf("# Incremental Project\n\n%s\n", goal)
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte(readme), 0644); err != nil {
		return fmt.Errorf("could not write scaffold README.md: %w", err)
	}
	return nil
}

// InferRunCommand guesses the verification command from the tree: pytest when
// tests exist, otherwise the conventional entry file.
func InferRunCommand(root string) string {
	testFiles, _ := filepath.Glob(filepath.Join(root, "test_*.py"))
	moreTests, _ := filepath.Glob(filepath.Join(root, "tests", "test_*.py"))
	if len(testFiles)+len(moreTests) > 0 {
		return "pytest -q"
	}
	for _, name := range []string{"main.py", "hello.py", "app.py"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return "python " + name
		}
	}
	files, err := ListFiles(root)
	if err == nil {
		for _, rel := range files {
			if strings.HasSuffix(rel, ".py") {
				return "python " + rel
			}
		}
	}
	return "python main.py"
}

// SourcesContain reports whether any small source file in the tree contains
// one of the marker tokens. Used to detect server-style projects.
func SourcesContain(root string, tokens []string) bool {
	files, err := ListFiles(root)
	if err != nil {
		return false
	}
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".py") && !strings.HasSuffix(rel, ".js") {
			continue
		}
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil || info.Size() >= 64*1024 {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		text := strings.ToLower(string(content))
		for _, token := range tokens {
			if strings.Contains(text, token) {
				return true
			}
		}
	}
	return false
}

// CopyTree copies the project tree (minus bookkeeping and ignored paths) into
// dst, creating it if needed. Used for isolated candidate evaluation.
func CopyTree(root, dst string) error {
	rules := GetIgnoreRules(root)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if skipRel(rel, rules) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
