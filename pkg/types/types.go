package types

import "time"

// FileChange is a single file edit proposed by the oracle for the current
// step. It only exists between parsing and apply.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// AppliedChange records one write performed by the applier, with enough of a
// pre-image to revert just this change later.
type AppliedChange struct {
	Path        string `json:"path"`
	HadPrevious bool   `json:"had_previous"`
	Previous    string `json:"previous,omitempty"`
	New         string `json:"new"`
}

// RunResult is the outcome of one verification command run.
type RunResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// StructuredFailure is one test failure extracted from a test runner's output.
type StructuredFailure struct {
	TestName  string `json:"test_name,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Diff      string `json:"diff,omitempty"`
}

// SessionState is the persisted orchestrator state. It always reflects the
// last completed attempt: resume redoes step_index after a failure and
// advances to step_index+1 after a success.
type SessionState struct {
	StepIndex  int       `json:"step_index"`
	Step       string    `json:"step"`
	Success    bool      `json:"success"`
	StdoutTail string    `json:"stdout_tail"`
	StderrTail string    `json:"stderr_tail"`
	Plan       []string  `json:"plan"`
	RunCommand string    `json:"run_command"`
	Timestamp  time.Time `json:"timestamp"`
}

// ProgressEntry is one line of the append-only session audit trail.
type ProgressEntry struct {
	ID              string    `json:"id"`
	Step            int       `json:"step"`
	Label           string    `json:"label"`
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
	AppliedPaths    []string  `json:"applied_paths,omitempty"`
	Fixed           bool      `json:"fixed,omitempty"`
	PartialRollback bool      `json:"partial_rollback,omitempty"`
}

// Introspection carries the context of the previous attempt into the next
// oracle call. It is threaded explicitly; nothing here is ambient state.
type Introspection struct {
	AppliedPaths []string
	Diffs        []string
	StdoutTail   string
	StderrTail   string
}
