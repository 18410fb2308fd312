// Package orchestrate is the top-level state machine of a build session. It
// sequences planning, change application, validation, repair, rollback and
// replanning per step, and persists enough state after every attempt to
// resume an interrupted session.
package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/forgeloop/forgeloop/pkg/applier"
	"github.com/forgeloop/forgeloop/pkg/config"
	"github.com/forgeloop/forgeloop/pkg/deps"
	"github.com/forgeloop/forgeloop/pkg/diagnose"
	"github.com/forgeloop/forgeloop/pkg/evaluate"
	"github.com/forgeloop/forgeloop/pkg/negmem"
	"github.com/forgeloop/forgeloop/pkg/oracle"
	"github.com/forgeloop/forgeloop/pkg/progress"
	"github.com/forgeloop/forgeloop/pkg/repair"
	"github.com/forgeloop/forgeloop/pkg/snapshot"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
	"github.com/forgeloop/forgeloop/pkg/validator"
	"github.com/forgeloop/forgeloop/pkg/workspace"
)

// Status is the terminal state of a session.
type Status string

const (
	StatusSuccess            Status = "success"
	StatusFailed             Status = "failed"
	StatusNoProgress         Status = "no_further_progress"
	StatusAwaitingDependency Status = "awaiting_dependency"
)

// fallbackPlan is used when the oracle cannot produce a usable plan.
var fallbackPlan = []string{
	"create minimal scaffold",
	"add core logic",
	"add basic tests",
	"handle errors",
	"improve documentation",
}

// Options configures one build session.
type Options struct {
	Goal         string
	Technologies []string
	RunCommand   string
	Expect       string
	Resume       bool
}

// Outcome is the session's terminal result.
type Outcome struct {
	Status             Status
	Steps              []string
	FailedStep         string
	Stdout             string
	Stderr             string
	AwaitingDependency string
	Elapsed            time.Duration
}

// Session drives one build session over a project root.
type Session struct {
	Root   string
	Oracle oracle.Oracle

	opts        Options
	cfg         *config.Config
	logger      *utils.Logger
	negative    *negmem.Store
	snapshots   *snapshot.Manager
	progress    *progress.Log
	plan        []string
	runCommand  string
	handledDeps map[string]bool
}

// New assembles a session, loading persisted negative memory and progress so
// reruns inherit both.
func New(root string, cfg *config.Config, orc oracle.Oracle, opts Options) (*Session, error) {
	logger := utils.GetLogger(cfg.Quiet)
	negative, err := negmem.Load(root, cfg)
	if err != nil {
		return nil, err
	}
	progressLog, err := progress.Load(root)
	if err != nil {
		return nil, err
	}
	return &Session{
		Root:        root,
		Oracle:      orc,
		opts:        opts,
		cfg:         cfg,
		logger:      logger,
		negative:    negative,
		snapshots:   &snapshot.Manager{Root: root, Retention: cfg.SnapshotRetention},
		progress:    progressLog,
		handledDeps: make(map[string]bool),
	}, nil
}

// Run executes the session to a terminal state.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	start := time.Now()

	startIndex, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}
	if startIndex >= len(s.plan) {
		s.logger.LogProcessStep("Nothing left to do: resumed past the final step")
		return &Outcome{Status: StatusSuccess, Steps: s.plan, Elapsed: time.Since(start)}, nil
	}

	if _, err := s.snapshots.Create("session start"); err != nil {
		s.logger.LogError(fmt.Errorf("could not create initial snapshot: %w", err))
	}

	stagnation := 0
	introspection := types.Introspection{}

	for i := startIndex; i < len(s.plan); i++ {
		step := s.plan[i]
		s.logger.LogProcessStep(fmt.Sprintf("Step %d/%d: %s", i+1, len(s.plan), step))

		if i > 0 && strings.HasPrefix(strings.ToLower(step), "create minimal") {
			s.logger.LogProcessStep("Skipping redundant minimal scaffold step")
			continue
		}

		if s.cfg.DynamicRunCommand {
			if inferred := workspace.InferRunCommand(s.Root); inferred != s.runCommand && s.opts.RunCommand == "" {
				s.logger.LogProcessStep(fmt.Sprintf("Re-inferred run command: %s -> %s", s.runCommand, inferred))
				s.runCommand = inferred
			}
		}

		applied, diffs := s.proposeAndApply(ctx, step, introspection)
		if len(applied) == 0 {
			s.logger.LogProcessStep("No changes applied this step")
			stagnation++
		} else {
			s.logger.LogProcessStep(fmt.Sprintf("Applied %d file change(s)", len(applied)))
			stagnation = 0
		}

		if stagnation >= s.cfg.StagnationThreshold {
			replaced, ok := s.replan(ctx, step)
			if !ok {
				return &Outcome{Status: StatusNoProgress, Steps: s.plan, FailedStep: step, Elapsed: time.Since(start)}, nil
			}
			s.plan[i] = replaced
			stagnation = 0
			i--
			continue
		}

		res := validator.Run(ctx, s.runCommand, s.Root)
		if res.Success && !validator.CheckExpectation(s.Root, s.runCommand, s.opts.Expect, res) {
			s.logger.LogProcessStep(fmt.Sprintf("Expected substring %q not found; treating run as failure", s.opts.Expect))
			res.Success = false
		}
		s.saveState(i, step, res.Success, res)

		if res.Success {
			s.finishStep(i, step, applied, false, false)
			introspection = types.Introspection{}
			continue
		}

		introspection = types.Introspection{
			AppliedPaths: pathsOf(applied),
			Diffs:        diffs,
			StdoutTail:   utils.Tail(res.Stdout, 400),
			StderrTail:   utils.Tail(res.Stderr, 800),
		}

		d := diagnose.Analyze(s.Root, s.runCommand, res)
		if d.MissingDependency != "" && !s.handledDeps[d.MissingDependency] {
			s.handledDeps[d.MissingDependency] = true
			if _, err := deps.UpdateManifest(s.Root, []string{d.MissingDependency}); err != nil {
				s.logger.LogError(err)
			}
			s.logger.LogProcessStep(fmt.Sprintf("Missing external dependency %q: halting for out-of-band install", d.MissingDependency))
			return &Outcome{
				Status:             StatusAwaitingDependency,
				Steps:              s.plan,
				FailedStep:         step,
				AwaitingDependency: d.MissingDependency,
				Stdout:             res.Stdout,
				Stderr:             res.Stderr,
				Elapsed:            time.Since(start),
			}, nil
		}

		s.logger.LogProcessStep(fmt.Sprintf("Attempting automatic fix loop (up to %d attempts)", s.cfg.FixAttempts))
		loop := &repair.Loop{
			Root:        s.Root,
			Command:     s.runCommand,
			Oracle:      s.Oracle,
			MaxAttempts: s.cfg.FixAttempts,
			Logger:      s.logger,
		}
		fixOut := loop.Run(ctx, d.FixCandidates)
		s.saveState(i, step, fixOut.Success, fixOut.LastResult)
		if fixOut.Success {
			s.logger.LogProcessStep("Fix loop resolved the error")
			s.finishStep(i, step, applied, true, false)
			introspection = types.Introspection{}
			continue
		}

		// The step is a confirmed dead end from here on: remember it before
		// any rollback so the same patch is never proposed again.
		for _, change := range applied {
			if err := s.negative.Record(change.Path, change.New, d.Signature); err != nil {
				s.logger.LogError(err)
			}
		}

		if len(applied) > 0 {
			s.logger.LogProcessStep("Attempting selective rollback of this step's changes")
			app := &applier.Applier{Root: s.Root, Logger: s.logger}
			if err := app.Revert(applied); err != nil {
				s.logger.LogError(err)
			} else {
				retry := validator.Run(ctx, s.runCommand, s.Root)
				if retry.Success && validator.CheckExpectation(s.Root, s.runCommand, s.opts.Expect, retry) {
					s.logger.LogProcessStep("Selective rollback restored a working tree; advancing without this step")
					s.saveState(i, step, true, retry)
					s.finishStep(i, step, nil, false, true)
					introspection = types.Introspection{}
					continue
				}
			}
		}

		s.logger.LogProcessStep("Falling back to full snapshot rollback")
		if err := s.snapshots.RestoreLatest(); err != nil {
			s.logger.LogError(fmt.Errorf("snapshot rollback failed: %w", err))
		}
		if err := s.progress.Append(types.ProgressEntry{Step: i + 1, Label: step, Success: false, AppliedPaths: pathsOf(applied)}); err != nil {
			s.logger.LogError(err)
		}
		return &Outcome{
			Status:     StatusFailed,
			Steps:      s.plan,
			FailedStep: step,
			Stdout:     fixOut.LastResult.Stdout,
			Stderr:     fixOut.LastResult.Stderr,
			Elapsed:    time.Since(start),
		}, nil
	}

	s.logger.LogProcessStep(fmt.Sprintf("Build session complete in %.1fs", time.Since(start).Seconds()))
	return &Outcome{Status: StatusSuccess, Steps: s.plan, Elapsed: time.Since(start)}, nil
}

// prepare resolves the plan, the run command and the starting index, either
// from persisted state (resume) or from a fresh oracle plan.
func (s *Session) prepare(ctx context.Context) (int, error) {
	if s.opts.Resume {
		state, err := LoadState(s.Root)
		if err != nil {
			return 0, err
		}
		if state != nil && len(state.Plan) > 0 {
			s.plan = state.Plan
			s.runCommand = state.RunCommand
			idx := ResumeIndex(state)
			s.logger.LogProcessStep(fmt.Sprintf("Resuming session at step %d/%d", idx+1, len(s.plan)))
			return idx, nil
		}
		s.logger.LogProcessStep("No resumable state found; starting a fresh session")
	}

	steps, err := s.Oracle.ProposePlan(ctx, s.opts.Goal, s.opts.Technologies, s.cfg.MaxSteps)
	if err != nil || len(steps) == 0 {
		if err != nil {
			s.logger.LogError(fmt.Errorf("planning via oracle failed, using fallback: %w", err))
		}
		steps = fallbackPlan
		if len(steps) > s.cfg.MaxSteps {
			steps = steps[:s.cfg.MaxSteps]
		}
	}
	s.plan = steps

	s.logger.LogProcessStep(fmt.Sprintf("Plan steps (%d):", len(s.plan)))
	for i, step := range s.plan {
		s.logger.LogProcessStep(fmt.Sprintf("  %d. %s", i+1, step))
	}

	if workspace.IsEmpty(s.Root) {
		if err := workspace.WriteScaffold(s.Root, s.opts.Goal); err != nil {
			return 0, err
		}
		s.logger.LogProcessStep("Created minimal scaffold: main.py")
	}

	s.runCommand = s.opts.RunCommand
	if s.runCommand == "" {
		s.runCommand = workspace.InferRunCommand(s.Root)
		s.logger.LogProcessStep("Inferred run command: " + s.runCommand)
	} else {
		s.logger.LogProcessStep("Using provided run command: " + s.runCommand)
	}
	return 0, nil
}

// proposeAndApply asks the oracle for this step's changes (single or
// multi-candidate), filters them through negative memory and applies the
// survivors. It returns the applied changes and their diffs.
func (s *Session) proposeAndApply(ctx context.Context, step string, introspection types.Introspection) ([]types.AppliedChange, []string) {
	req := oracle.ChangeRequest{
		Goal:           s.opts.Goal,
		Step:           step,
		Technologies:   s.opts.Technologies,
		ContextSummary: workspace.Summarize(s.Root, 15),
		Expectation:    s.opts.Expect,
		Introspection:  introspection,
	}

	var changes []types.FileChange
	if s.cfg.CandidateCount > 1 {
		changes = s.pickCandidate(ctx, req)
	} else {
		proposed, err := s.Oracle.ProposeChanges(ctx, req)
		if err != nil {
			s.logger.LogError(fmt.Errorf("change generation failed; skipping to run: %w", err))
		}
		changes = s.filterProposals(proposed)
	}
	if len(changes) == 0 {
		return nil, nil
	}

	app := &applier.Applier{
		Root:   s.Root,
		Budget: s.cfg.PatchBudget,
		Logger: s.logger,
		Shrink: func(change types.FileChange, budget int) (types.FileChange, bool) {
			reduced, err := s.Oracle.ShrinkChange(ctx, req, change, budget)
			if err != nil {
				s.logger.LogError(err)
				return types.FileChange{}, false
			}
			return reduced, true
		},
	}
	res, err := app.Apply(changes)
	if err != nil {
		s.logger.LogError(err)
	}
	return res.Applied, res.Diffs
}

// pickCandidate requests alternative change sets and promotes the best
// isolated evaluation into the live tree.
func (s *Session) pickCandidate(ctx context.Context, req oracle.ChangeRequest) []types.FileChange {
	sets, err := s.Oracle.ProposeCandidates(ctx, req, s.cfg.CandidateCount)
	if err != nil {
		s.logger.LogError(fmt.Errorf("candidate generation failed: %w", err))
		return nil
	}
	var filtered [][]types.FileChange
	for _, set := range sets {
		if kept := s.filterProposals(set); len(kept) > 0 {
			filtered = append(filtered, kept)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}

	ev := &evaluate.Evaluator{
		Root:           s.Root,
		Command:        s.runCommand,
		Expectation:    s.opts.Expect,
		Budget:         s.cfg.PatchBudget,
		PenaltyDivisor: s.cfg.SizePenaltyDivisor,
		Logger:         s.logger,
	}
	best := ev.Pick(ctx, filtered)
	if best == nil {
		return filtered[0]
	}
	s.logger.LogProcessStep(fmt.Sprintf("Selected candidate %d (score %d, success=%t)", best.Index+1, best.Score, best.Success))
	return best.Changes
}

// filterProposals drops proposals negative memory recognizes as confirmed
// dead ends.
func (s *Session) filterProposals(changes []types.FileChange) []types.FileChange {
	var kept []types.FileChange
	for _, change := range changes {
		if rejected, reason := s.negative.Rejects(change.Path, change.Content); rejected {
			s.logger.LogProcessStep(fmt.Sprintf("Rejecting proposal for %s: %s", change.Path, reason))
			continue
		}
		kept = append(kept, change)
	}
	return kept
}

// replan asks for a smaller micro-step to replace the stalled plan entry.
// An empty or duplicate answer means the session cannot make progress.
func (s *Session) replan(ctx context.Context, stalledStep string) (string, bool) {
	s.logger.LogProcessStep("Stagnation detected; asking for a smaller micro-step")
	micro, err := s.Oracle.ProposeMicroStep(ctx, s.opts.Goal, stalledStep)
	if err != nil {
		s.logger.LogError(err)
		return "", false
	}
	micro = strings.TrimSpace(micro)
	if micro == "" {
		return "", false
	}
	for _, step := range s.plan {
		if strings.EqualFold(step, micro) {
			return "", false
		}
	}
	s.logger.LogProcessStep("Replacing stalled step with: " + micro)
	return micro, true
}

// finishStep records a successful (or recovered, or partially rolled back)
// step: progress entry, snapshot, dependency inference.
func (s *Session) finishStep(index int, step string, applied []types.AppliedChange, fixed, partialRollback bool) {
	if err := s.progress.Append(types.ProgressEntry{
		Step:            index + 1,
		Label:           step,
		Success:         true,
		AppliedPaths:    pathsOf(applied),
		Fixed:           fixed,
		PartialRollback: partialRollback,
	}); err != nil {
		s.logger.LogError(err)
	}

	label := fmt.Sprintf("step %d", index+1)
	if fixed {
		label += " recovered"
	}
	if _, err := s.snapshots.Create(label); err != nil {
		s.logger.LogError(fmt.Errorf("could not snapshot after %s: %w", label, err))
	}

	names, err := deps.Infer(s.Root)
	if err != nil {
		s.logger.LogError(err)
		return
	}
	added, err := deps.UpdateManifest(s.Root, names)
	if err != nil {
		s.logger.LogError(err)
		return
	}
	if len(added) > 0 {
		s.logger.LogProcessStep("Recorded new dependencies: " + strings.Join(added, ", "))
	}
}

func pathsOf(applied []types.AppliedChange) []string {
	paths := make([]string, 0, len(applied))
	for _, c := range applied {
		paths = append(paths, c.Path)
	}
	return paths
}
