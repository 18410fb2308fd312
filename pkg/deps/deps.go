// Package deps infers third-party dependencies from produced sources and
// keeps the manifest current. It runs only after successful validations so a
// broken intermediate state cannot smuggle phantom dependencies into the
// manifest.
package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/forgeloop/forgeloop/pkg/workspace"
)

var importRegex = regexp.MustCompile(`(?m)^\s*(?:import\s+([A-Za-z_][\w.]*)|from\s+([A-Za-z_][\w.]*)\s+import)`)

// stdlib names that must never land in the manifest. Not exhaustive, just the
// modules small generated projects actually reach for.
var stdlibAllowlist = map[string]bool{
	"abc": true, "argparse": true, "asyncio": true, "base64": true,
	"collections": true, "contextlib": true, "copy": true, "csv": true,
	"dataclasses": true, "datetime": true, "difflib": true, "enum": true,
	"functools": true, "glob": true, "hashlib": true, "heapq": true,
	"http": true, "io": true, "itertools": true, "json": true,
	"logging": true, "math": true, "os": true, "pathlib": true,
	"pickle": true, "queue": true, "random": true, "re": true,
	"shutil": true, "socket": true, "sqlite3": true, "string": true,
	"subprocess": true, "sys": true, "tempfile": true, "threading": true,
	"time": true, "traceback": true, "typing": true, "unittest": true,
	"urllib": true, "uuid": true, "xml": true,
}

// Infer scans produced Python sources for imported top-level modules that are
// neither standard library nor local to the project.
func Infer(root string) ([]string, error) {
	files, err := workspace.ListFiles(root)
	if err != nil {
		return nil, err
	}

	local := make(map[string]bool)
	for _, rel := range files {
		base := filepath.Base(rel)
		if strings.HasSuffix(base, ".py") {
			local[strings.TrimSuffix(base, ".py")] = true
		}
		if dir := strings.Split(rel, string(filepath.Separator))[0]; dir != rel {
			local[dir] = true
		}
	}

	found := make(map[string]bool)
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".py") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			continue
		}
		for _, m := range importRegex.FindAllStringSubmatch(string(content), -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			top := strings.Split(name, ".")[0]
			if top == "" || stdlibAllowlist[top] || local[top] {
				continue
			}
			found[top] = true
		}
	}

	var names []string
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// UpdateManifest appends the given names to requirements.txt when absent,
// without version pins, and returns the names actually added. Already-pinned
// entries are matched by their bare name.
func UpdateManifest(root string, names []string) ([]string, error) {
	manifest := filepath.Join(root, "requirements.txt")
	existing := make(map[string]bool)
	var lines []string
	if data, err := os.ReadFile(manifest); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			lines = append(lines, line)
			fields := strings.FieldsFunc(line, func(r rune) bool {
				return r == '=' || r == '<' || r == '>' || r == '~' || r == '!' || r == '[' || r == ';' || r == ' '
			})
			if len(fields) > 0 {
				existing[strings.ToLower(strings.TrimSpace(fields[0]))] = true
			}
		}
	}

	var added []string
	for _, name := range names {
		if existing[strings.ToLower(name)] {
			continue
		}
		lines = append(lines, name)
		existing[strings.ToLower(name)] = true
		added = append(added, name)
	}
	if len(added) == 0 {
		return nil, nil
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(manifest, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("could not update requirements.txt: %w", err)
	}
	return added, nil
}
