package orchestrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/oracle"
	"github.com/forgeloop/forgeloop/pkg/progress"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// fakeOracle scripts the oracle side of a session.
type fakeOracle struct {
	plan      []string
	planCalls int
	changes   func(step string) []types.FileChange
	fix       oracle.Fix
	micro     string
}

func (f *fakeOracle) ProposePlan(ctx context.Context, goal string, technologies []string, maxSteps int) ([]string, error) {
	f.planCalls++
	return f.plan, nil
}

func (f *fakeOracle) ProposeChanges(ctx context.Context, req oracle.ChangeRequest) ([]types.FileChange, error) {
	if f.changes == nil {
		return nil, nil
	}
	return f.changes(req.Step), nil
}

func (f *fakeOracle) ProposeCandidates(ctx context.Context, req oracle.ChangeRequest, count int) ([][]types.FileChange, error) {
	if f.changes == nil {
		return nil, nil
	}
	return [][]types.FileChange{f.changes(req.Step)}, nil
}

func (f *fakeOracle) ProposeFix(ctx context.Context, req oracle.FixRequest) (oracle.Fix, error) {
	return f.fix, nil
}

func (f *fakeOracle) ProposeMicroStep(ctx context.Context, goal, stalledStep string) (string, error) {
	return f.micro, nil
}

func (f *fakeOracle) ShrinkChange(ctx context.Context, req oracle.ChangeRequest, change types.FileChange, budget int) (types.FileChange, error) {
	return change, nil
}

func newSession(t *testing.T, orc oracle.Oracle, opts Options) (*Session, string) {
	t.Helper()
	root := t.TempDir()
	cfg := config.New()
	cfg.Quiet = true
	s, err := New(root, cfg, orc, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, root
}

func TestRunHappyPath(t *testing.T) {
	orc := &fakeOracle{
		plan: []string{"add core logic", "add basic tests"},
		changes: func(step string) []types.FileChange {
			if strings.Contains(step, "tests") {
				return []types.FileChange{{Path: "test_calc.py", Content: "def test_ok(): pass\n"}}
			}
			return []types.FileChange{{Path: "calc.py", Content: "def add(a, b): return a + b\n"}}
		},
	}
	s, root := newSession(t, orc, Options{Goal: "a calculator", RunCommand: "true"})

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}

	// The empty tree was scaffolded before the first step.
	if _, err := os.Stat(filepath.Join(root, "main.py")); err != nil {
		t.Error("scaffold main.py missing")
	}
	for _, name := range []string{"calc.py", "test_calc.py"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("%s not applied", name)
		}
	}

	state, err := LoadState(root)
	if err != nil || state == nil {
		t.Fatalf("state missing after run: %v", err)
	}
	if !state.Success || state.StepIndex != 1 {
		t.Errorf("state = %+v, want final step recorded as success", state)
	}

	pl, err := progress.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if entries := pl.Entries(); len(entries) != 2 {
		t.Errorf("progress entries = %d, want one per step", len(entries))
	}
}

func TestRunHaltsOnMissingDependency(t *testing.T) {
	orc := &fakeOracle{
		plan: []string{"add http client"},
		changes: func(step string) []types.FileChange {
			return []types.FileChange{{Path: "client.py", Content: "import requests\n"}}
		},
	}
	failCmd := `echo "ModuleNotFoundError: No module named 'requests'" >&2; exit 1`
	s, root := newSession(t, orc, Options{Goal: "an http client", RunCommand: failCmd})

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusAwaitingDependency {
		t.Fatalf("status = %s, want awaiting_dependency", out.Status)
	}
	if out.AwaitingDependency != "requests" {
		t.Errorf("dependency = %q, want requests", out.AwaitingDependency)
	}

	data, err := os.ReadFile(filepath.Join(root, "requirements.txt"))
	if err != nil || !strings.Contains(string(data), "requests") {
		t.Errorf("requirements.txt = %q, err=%v", data, err)
	}

	// The halt happens before the repair loop: the applied file stays put
	// for the rerun after the install.
	if _, err := os.Stat(filepath.Join(root, "client.py")); err != nil {
		t.Error("applied change rolled back on dependency halt")
	}
}

func TestRunRecordsDeadEndAndRollsBack(t *testing.T) {
	orc := &fakeOracle{
		plan: []string{"add core logic"},
		changes: func(step string) []types.FileChange {
			return []types.FileChange{{Path: "broken.py", Content: "this will never work\n"}}
		},
		fix: oracle.Fix{Explanation: "tried something", Content: "still broken\n"},
	}
	s, root := newSession(t, orc, Options{Goal: "anything", RunCommand: "exit 1"})

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if out.FailedStep != "add core logic" {
		t.Errorf("failed step = %q", out.FailedStep)
	}

	// The dead end is remembered even though the tree was rolled back.
	negData, err := os.ReadFile(filepath.Join(root, config.BookkeepingDir, "negative.json"))
	if err != nil {
		t.Fatalf("negative memory not persisted: %v", err)
	}
	if !strings.Contains(string(negData), "broken.py") {
		t.Errorf("negative memory = %q", negData)
	}

	// Full rollback: the step's file is gone, the scaffold is back intact.
	if _, err := os.Stat(filepath.Join(root, "broken.py")); !os.IsNotExist(err) {
		t.Error("failed step's file survived rollback")
	}
	data, err := os.ReadFile(filepath.Join(root, "main.py"))
	if err != nil || !strings.Contains(string(data), "Hello world") {
		t.Errorf("scaffold not restored by rollback: %q, err=%v", data, err)
	}

	pl, err := progress.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	entries := pl.Entries()
	if len(entries) != 1 || entries[0].Success {
		t.Errorf("expected one failure entry, got %+v", entries)
	}
}

func TestRunReplacesStalledStepWithMicroStep(t *testing.T) {
	orc := &fakeOracle{
		plan:  []string{"add core logic", "expand the feature set", "polish the docs"},
		micro: "write one tiny helper",
		changes: func(step string) []types.FileChange {
			if step == "write one tiny helper" {
				return []types.FileChange{{Path: "tiny.py", Content: "def tiny(): pass\n"}}
			}
			return nil
		},
	}
	s, root := newSession(t, orc, Options{Goal: "anything", RunCommand: "true"})

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}
	found := false
	for _, step := range out.Steps {
		if step == "write one tiny helper" {
			found = true
		}
	}
	if !found {
		t.Errorf("micro-step did not replace the stalled step in place: %v", out.Steps)
	}
	if _, err := os.Stat(filepath.Join(root, "tiny.py")); err != nil {
		t.Error("micro-step's change not applied")
	}
}

func TestRunStopsWhenReplanningRepeatsItself(t *testing.T) {
	orc := &fakeOracle{
		plan:  []string{"add core logic", "expand the feature set", "polish the docs"},
		micro: "add core logic", // duplicate of an existing step
	}
	s, _ := newSession(t, orc, Options{Goal: "anything", RunCommand: "true"})

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusNoProgress {
		t.Fatalf("status = %s, want no_further_progress", out.Status)
	}
}

func TestRunResumesFromPersistedState(t *testing.T) {
	orc := &fakeOracle{
		changes: func(step string) []types.FileChange {
			return []types.FileChange{{Path: "resumed_" + strings.Fields(step)[0] + ".py", Content: "pass\n"}}
		},
	}
	s, root := newSession(t, orc, Options{Resume: true, RunCommand: "true"})

	// A session that failed at step index 1 of 3.
	state := types.SessionState{
		StepIndex:  1,
		Step:       "second step here",
		Success:    false,
		Plan:       []string{"first step here", "second step here", "third step here"},
		RunCommand: "true",
		Timestamp:  time.Now(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, config.BookkeepingDir), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, config.BookkeepingDir, "state.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", out.Status)
	}
	if orc.planCalls != 0 {
		t.Error("resume must reuse the persisted plan, not replan")
	}

	// The failed step was redone, the completed first step was not.
	if _, err := os.Stat(filepath.Join(root, "resumed_second.py")); err != nil {
		t.Error("failed step not redone on resume")
	}
	if _, err := os.Stat(filepath.Join(root, "resumed_first.py")); !os.IsNotExist(err) {
		t.Error("already completed step was re-executed on resume")
	}
}

func TestResumeIndex(t *testing.T) {
	failed := &types.SessionState{StepIndex: 3, Success: false}
	if got := ResumeIndex(failed); got != 3 {
		t.Errorf("failed step resumes at %d, want 3 (redo)", got)
	}
	succeeded := &types.SessionState{StepIndex: 3, Success: true}
	if got := ResumeIndex(succeeded); got != 4 {
		t.Errorf("successful step resumes at %d, want 4 (advance)", got)
	}
}

func TestLoadStateMissingIsNil(t *testing.T) {
	state, err := LoadState(t.TempDir())
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if state != nil {
		t.Errorf("state = %+v, want nil for a fresh directory", state)
	}
}
