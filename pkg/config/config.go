package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BookkeepingDir is the internal state directory kept out of project scans,
// snapshots and rollback overwrites.
const BookkeepingDir = ".forgeloop"

// Config holds the tunables of a build session. The similarity thresholds and
// the score size-penalty divisor are heuristics, not invariants; they are
// configuration precisely so they can be tuned per project.
type Config struct {
	Model               string  `json:"model"`
	MaxSteps            int     `json:"max_steps"`
	PatchBudget         int     `json:"patch_budget"`          // chars, modifications of existing files only
	FixAttempts         int     `json:"fix_attempts"`          // repair loop bound
	StagnationThreshold int     `json:"stagnation_threshold"`  // consecutive no-change steps before replanning
	SnapshotRetention   int     `json:"snapshot_retention"`    // most recent archives kept
	CandidateCount      int     `json:"candidate_count"`       // 0 or 1 disables multi-candidate mode
	SameFileSimilarity  float64 `json:"same_file_similarity"`  // negative-memory fuzzy threshold, same path
	CrossFileSimilarity float64 `json:"cross_file_similarity"` // negative-memory fuzzy threshold, any path
	SizePenaltyDivisor  int     `json:"size_penalty_divisor"`  // candidate score = 100*success + 50*expect - size/divisor
	Temperature         float64 `json:"temperature"`
	DynamicRunCommand   bool    `json:"dynamic_run_command"` // re-infer verification command each step

	Quiet bool `json:"-"` // internal, set from flags
}

// New returns a Config populated with the session defaults.
func New() *Config {
	return &Config{
		Model:               "qwen2.5-coder:14b",
		MaxSteps:            10,
		PatchBudget:         6000,
		FixAttempts:         3,
		StagnationThreshold: 2,
		SnapshotRetention:   5,
		CandidateCount:      1,
		SameFileSimilarity:  0.92,
		CrossFileSimilarity: 0.97,
		SizePenaltyDivisor:  100,
		Temperature:         0.2,
		DynamicRunCommand:   true,
	}
}

func projectConfigPath(root string) string {
	return filepath.Join(root, BookkeepingDir, "config.json")
}

func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, BookkeepingDir, "config.json")
}

// Load reads configuration with project-then-home precedence, starting from
// defaults. A missing config file is not an error.
func Load(root string) (*Config, error) {
	cfg := New()
	if p := homeConfigPath(); p != "" {
		if err := mergeFile(cfg, p); err != nil {
			return nil, err
		}
	}
	if err := mergeFile(cfg, projectConfigPath(root)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration to the project bookkeeping directory.
func (c *Config) Save(root string) error {
	path := projectConfigPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
