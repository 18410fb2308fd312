package repair

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgeloop/forgeloop/pkg/oracle"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

type fixOracle struct {
	fix      oracle.Fix
	requests []oracle.FixRequest
}

func (f *fixOracle) ProposePlan(ctx context.Context, goal string, technologies []string, maxSteps int) ([]string, error) {
	return nil, nil
}
func (f *fixOracle) ProposeChanges(ctx context.Context, req oracle.ChangeRequest) ([]types.FileChange, error) {
	return nil, nil
}
func (f *fixOracle) ProposeCandidates(ctx context.Context, req oracle.ChangeRequest, count int) ([][]types.FileChange, error) {
	return nil, nil
}
func (f *fixOracle) ProposeFix(ctx context.Context, req oracle.FixRequest) (oracle.Fix, error) {
	f.requests = append(f.requests, req)
	return f.fix, nil
}
func (f *fixOracle) ProposeMicroStep(ctx context.Context, goal, stalledStep string) (string, error) {
	return "", nil
}
func (f *fixOracle) ShrinkChange(ctx context.Context, req oracle.ChangeRequest, change types.FileChange, budget int) (types.FileChange, error) {
	return change, nil
}

func TestRunFixesFailingFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte("broken = True\n"), 0644); err != nil {
		t.Fatal(err)
	}

	orc := &fixOracle{fix: oracle.Fix{Explanation: "set the flag", Content: "fixed = True\n"}}
	loop := &Loop{
		Root:        root,
		Command:     "grep -q fixed main.py",
		Oracle:      orc,
		MaxAttempts: 3,
		Logger:      utils.GetLogger(true),
	}

	out := loop.Run(context.Background(), nil)
	if !out.Success {
		t.Fatalf("repair failed: %+v", out)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one failing run, one after the fix)", out.Attempts)
	}
	if len(out.FixedFiles) != 1 || out.FixedFiles[0] != "main.py" {
		t.Errorf("fixed files = %v", out.FixedFiles)
	}
	if len(orc.requests) != 1 {
		t.Fatalf("fix requests = %d, want 1", len(orc.requests))
	}
	if orc.requests[0].Language != "python" {
		t.Errorf("language = %q", orc.requests[0].Language)
	}

	data, _ := os.ReadFile(filepath.Join(root, "main.py"))
	if string(data) != "fixed = True\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestRunRespectsAttemptBound(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte("broken\n"), 0644); err != nil {
		t.Fatal(err)
	}

	orc := &fixOracle{fix: oracle.Fix{Explanation: "no help", Content: "still broken\n"}}
	loop := &Loop{
		Root:        root,
		Command:     "exit 1",
		Oracle:      orc,
		MaxAttempts: 3,
		Logger:      utils.GetLogger(true),
	}

	out := loop.Run(context.Background(), nil)
	if out.Success {
		t.Fatal("unfixable failure reported success")
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly the bound", out.Attempts)
	}
	if len(orc.requests) != 3 {
		t.Errorf("fix requests = %d, want one per attempt", len(orc.requests))
	}
}

func TestRunPrefersNamedCandidates(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"main.py", "helper.py"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	orc := &fixOracle{fix: oracle.Fix{Explanation: "fix helper", Content: "ok\n"}}
	loop := &Loop{
		Root:        root,
		Command:     "grep -q ok helper.py",
		Oracle:      orc,
		MaxAttempts: 2,
		Logger:      utils.GetLogger(true),
	}

	out := loop.Run(context.Background(), []string{"helper.py"})
	if !out.Success {
		t.Fatalf("repair failed: %+v", out)
	}
	if len(orc.requests) != 1 || orc.requests[0].Path != "helper.py" {
		t.Errorf("targeted %v, want helper.py via the caller's candidate list", orc.requests)
	}
}

func TestRunGivesUpWithoutTarget(t *testing.T) {
	root := t.TempDir() // no source files at all
	orc := &fixOracle{fix: oracle.Fix{Content: "irrelevant\n"}}
	loop := &Loop{
		Root:        root,
		Command:     "exit 1",
		Oracle:      orc,
		MaxAttempts: 3,
		Logger:      utils.GetLogger(true),
	}

	out := loop.Run(context.Background(), nil)
	if out.Success {
		t.Fatal("expected failure with nothing to fix")
	}
	if len(orc.requests) != 0 {
		t.Errorf("oracle consulted despite no target: %v", orc.requests)
	}
}
