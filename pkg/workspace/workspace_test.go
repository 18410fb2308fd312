package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgeloop/forgeloop/pkg/config"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestListFilesSkipsBookkeepingAndIgnored(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.py", "pass\n")
	write(t, root, "pkg/util.py", "pass\n")
	write(t, root, "build/out.bin", "binary\n")
	write(t, root, ".gitignore", "build/\n")
	write(t, root, filepath.Join(config.BookkeepingDir, "state.json"), "{}\n")

	files, err := ListFiles(root)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	joined := strings.Join(files, ",")
	if strings.Contains(joined, config.BookkeepingDir) {
		t.Errorf("bookkeeping leaked into listing: %v", files)
	}
	if strings.Contains(joined, "build/") || strings.Contains(joined, "out.bin") {
		t.Errorf("ignored path leaked into listing: %v", files)
	}
	for _, want := range []string{"main.py", filepath.Join("pkg", "util.py")} {
		found := false
		for _, f := range files {
			if f == want {
				found = true
			}
		}
		if !found {
			t.Errorf("%s missing from listing: %v", want, files)
		}
	}
}

func TestInferRunCommand(t *testing.T) {
	t.Run("tests present", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "main.py", "pass\n")
		write(t, root, "test_main.py", "def test_x(): pass\n")
		if got := InferRunCommand(root); got != "pytest -q" {
			t.Errorf("got %q, want pytest -q", got)
		}
	})
	t.Run("tests in subdirectory", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "tests/test_app.py", "def test_x(): pass\n")
		if got := InferRunCommand(root); got != "pytest -q" {
			t.Errorf("got %q, want pytest -q", got)
		}
	})
	t.Run("conventional entry file", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "app.py", "pass\n")
		if got := InferRunCommand(root); got != "python app.py" {
			t.Errorf("got %q, want python app.py", got)
		}
	})
	t.Run("first python file fallback", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "tool.py", "pass\n")
		if got := InferRunCommand(root); got != "python tool.py" {
			t.Errorf("got %q, want python tool.py", got)
		}
	})
	t.Run("empty tree default", func(t *testing.T) {
		if got := InferRunCommand(t.TempDir()); got != "python main.py" {
			t.Errorf("got %q, want python main.py", got)
		}
	})
}

func TestIsEmpty(t *testing.T) {
	root := t.TempDir()
	if !IsEmpty(root) {
		t.Error("fresh directory not empty")
	}
	write(t, root, filepath.Join(config.BookkeepingDir, "state.json"), "{}\n")
	if !IsEmpty(root) {
		t.Error("bookkeeping alone should still count as empty")
	}
	write(t, root, "main.py", "pass\n")
	if IsEmpty(root) {
		t.Error("directory with a file reported empty")
	}
}

func TestWriteScaffold(t *testing.T) {
	root := t.TempDir()
	if err := WriteScaffold(root, "a todo app"); err != nil {
		t.Fatalf("WriteScaffold failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "main.py"))
	if err != nil {
		t.Fatalf("scaffold main.py missing: %v", err)
	}
	if !strings.Contains(string(data), "Hello world") {
		t.Errorf("scaffold content = %q", data)
	}
	readme, err := os.ReadFile(filepath.Join(root, "README.md"))
	if err != nil || !strings.Contains(string(readme), "a todo app") {
		t.Errorf("README = %q, err=%v", readme, err)
	}
	if got := InferRunCommand(root); got != "python main.py" {
		t.Errorf("scaffold run command = %q", got)
	}
}

func TestSummarize(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.py", "#!/usr/bin/env python3\nprint('x')\n")
	write(t, root, "big.py", strings.Repeat("x", 9000))

	summary := Summarize(root, 15)
	if !strings.Contains(summary, "main.py | #!/usr/bin/env python3") {
		t.Errorf("summary = %q", summary)
	}
	if strings.Contains(summary, "big.py") {
		t.Error("oversized file included in summary")
	}
}

func TestSourcesContain(t *testing.T) {
	root := t.TempDir()
	write(t, root, "app.py", "from flask import Flask\napp = Flask(__name__)\n")
	if !SourcesContain(root, []string{"flask"}) {
		t.Error("marker not found in sources")
	}
	if SourcesContain(root, []string{"django"}) {
		t.Error("absent marker reported found")
	}
}

func TestCopyTree(t *testing.T) {
	root := t.TempDir()
	dst := t.TempDir()
	write(t, root, "main.py", "v1\n")
	write(t, root, "pkg/util.py", "v2\n")
	write(t, root, filepath.Join(config.BookkeepingDir, "state.json"), "{}\n")

	if err := CopyTree(root, dst); err != nil {
		t.Fatalf("CopyTree failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "pkg/util.py"))
	if err != nil || string(data) != "v2\n" {
		t.Errorf("nested file not copied: %q, err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dst, config.BookkeepingDir)); !os.IsNotExist(err) {
		t.Error("bookkeeping copied into scratch tree")
	}
}
