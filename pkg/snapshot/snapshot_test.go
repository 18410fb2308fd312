package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/pkg/config"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndRestore(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Root: root, Retention: 5}

	writeFile(t, root, "main.py", "print('v1')\n")
	writeFile(t, root, "pkg/helper.py", "def help(): pass\n")

	path, err := m.Create("step 1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasSuffix(path, ".tar.gz") {
		t.Errorf("archive path = %q", path)
	}

	// Mutate the tree: edit one file, add another, delete a third.
	writeFile(t, root, "main.py", "print('v2 broken')\n")
	writeFile(t, root, "junk.py", "leftover\n")
	if err := os.Remove(filepath.Join(root, "pkg/helper.py")); err != nil {
		t.Fatal(err)
	}

	if err := m.RestoreLatest(); err != nil {
		t.Fatalf("RestoreLatest failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "main.py"))
	if err != nil || string(data) != "print('v1')\n" {
		t.Errorf("main.py not restored: %q, err=%v", data, err)
	}
	data, err = os.ReadFile(filepath.Join(root, "pkg/helper.py"))
	if err != nil || string(data) != "def help(): pass\n" {
		t.Errorf("deleted file not restored: %q, err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(root, "junk.py")); !os.IsNotExist(err) {
		t.Error("file created after the snapshot survived restore")
	}
}

func TestRestoreLeavesBookkeepingAlone(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Root: root, Retention: 5}

	writeFile(t, root, "main.py", "v1\n")
	if _, err := m.Create("initial"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Negative memory written after the snapshot must survive the rollback.
	writeFile(t, root, filepath.Join(config.BookkeepingDir, "negative.json"), `[{"path":"main.py"}]`)

	if err := m.RestoreLatest(); err != nil {
		t.Fatalf("RestoreLatest failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, config.BookkeepingDir, "negative.json"))
	if err != nil {
		t.Fatalf("bookkeeping lost in restore: %v", err)
	}
	if !strings.Contains(string(data), "main.py") {
		t.Errorf("bookkeeping content changed: %q", data)
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	root := t.TempDir()
	m := &Manager{Root: root, Retention: 2}
	writeFile(t, root, "main.py", "x\n")

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := m.Create("step")
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		paths = append(paths, p)
		time.Sleep(10 * time.Millisecond)
	}

	remaining, err := m.list()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("kept %d archives, want 2", len(remaining))
	}
	if remaining[len(remaining)-1] != paths[3] {
		t.Errorf("newest archive missing: %v", remaining)
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Error("oldest archive not pruned")
	}
}

func TestRestoreWithoutSnapshotFails(t *testing.T) {
	m := &Manager{Root: t.TempDir(), Retention: 5}
	if err := m.RestoreLatest(); err == nil {
		t.Error("expected an error with no snapshot on disk")
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"step 3", "Step-3"},
		{"session start", "Session-Start"},
		{"  weird / label!  ", "Weird-Label"},
		{"", "Snapshot"},
	}
	for _, tt := range tests {
		if got := sanitizeLabel(tt.in); got != tt.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
