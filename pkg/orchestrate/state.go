package orchestrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

func statePath(root string) string {
	return filepath.Join(root, config.BookkeepingDir, "state.json")
}

// LoadState reads the persisted session state, or returns nil when none
// exists.
func LoadState(root string) (*types.SessionState, error) {
	data, err := os.ReadFile(statePath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read session state: %w", err)
	}
	var state types.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("could not parse session state: %w", err)
	}
	return &state, nil
}

// saveState persists the state of the last completed attempt. It is written
// after every run so a crash at any point leaves a resumable session behind.
func (s *Session) saveState(stepIndex int, step string, success bool, res types.RunResult) {
	state := types.SessionState{
		StepIndex:  stepIndex,
		Step:       step,
		Success:    success,
		StdoutTail: utils.Tail(res.Stdout, 1000),
		StderrTail: utils.Tail(res.Stderr, 2000),
		Plan:       s.plan,
		RunCommand: s.runCommand,
		Timestamp:  time.Now(),
	}
	path := statePath(s.Root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.logger.LogError(fmt.Errorf("could not create bookkeeping directory: %w", err))
		return
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.logger.LogError(err)
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.logger.LogError(fmt.Errorf("could not persist session state: %w", err))
	}
}

// ResumeIndex computes where a resumed session picks up: redo the stored step
// when it failed, advance past it when it succeeded.
func ResumeIndex(state *types.SessionState) int {
	if state.Success {
		return state.StepIndex + 1
	}
	return state.StepIndex
}
