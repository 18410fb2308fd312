// Package evaluate scores alternative candidate change sets in isolated
// scratch copies of the project so the live tree only ever receives the
// winner. Size enters the score negatively: a bigger patch that also works is
// still worse than a smaller one.
package evaluate

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/forgeloop/forgeloop/pkg/applier"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
	"github.com/forgeloop/forgeloop/pkg/validator"
	"github.com/forgeloop/forgeloop/pkg/workspace"
)

// Evaluation is the outcome of trying one candidate in isolation.
type Evaluation struct {
	Index          int
	Score          int
	Success        bool
	ExpectationMet bool
	StdoutTail     string
	StderrTail     string
	TotalSize      int
	Changes        []types.FileChange
}

// Evaluator runs candidate change sets against scratch copies of Root.
type Evaluator struct {
	Root           string
	Command        string
	Expectation    string
	Budget         int
	PenaltyDivisor int
	Logger         *utils.Logger
}

// Pick evaluates all candidates concurrently and returns the best one, or nil
// when no candidate could be evaluated. Ties break by candidate order, so the
// reduction is deterministic regardless of goroutine scheduling.
func (e *Evaluator) Pick(ctx context.Context, candidates [][]types.FileChange) *Evaluation {
	results := make([]*Evaluation, len(candidates))
	var wg sync.WaitGroup
	for i, changes := range candidates {
		if len(changes) == 0 {
			continue
		}
		wg.Add(1)
		go func(idx int, set []types.FileChange) {
			defer wg.Done()
			ev, err := e.evaluate(ctx, idx, set)
			if err != nil {
				e.Logger.LogError(fmt.Errorf("candidate %d evaluation failed: %w", idx+1, err))
				return
			}
			results[idx] = ev
		}(i, changes)
	}
	wg.Wait()

	var best *Evaluation
	for _, ev := range results {
		if ev == nil {
			continue
		}
		if best == nil || ev.Score > best.Score {
			best = ev
		}
	}
	return best
}

func (e *Evaluator) evaluate(ctx context.Context, index int, changes []types.FileChange) (*Evaluation, error) {
	scratch, err := os.MkdirTemp("", "forgeloop-candidate-")
	if err != nil {
		return nil, fmt.Errorf("could not create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := workspace.CopyTree(e.Root, scratch); err != nil {
		return nil, fmt.Errorf("could not copy tree to scratch: %w", err)
	}

	// No shrink hook in scratch mode: an oversized modification simply drops
	// out of the candidate, which the size penalty already discourages.
	app := &applier.Applier{Root: scratch, Budget: e.Budget, Logger: e.Logger}
	if _, err := app.Apply(changes); err != nil {
		return nil, err
	}

	res := validator.Run(ctx, e.Command, scratch)
	expectationMet := e.Expectation != "" && validator.CheckExpectation(scratch, e.Command, e.Expectation, res)

	totalSize := 0
	for _, c := range changes {
		totalSize += len(c.Content)
	}

	ev := &Evaluation{
		Index:          index,
		Success:        res.Success,
		ExpectationMet: expectationMet,
		StdoutTail:     utils.Tail(res.Stdout, 1000),
		StderrTail:     utils.Tail(res.Stderr, 2000),
		TotalSize:      totalSize,
		Changes:        changes,
	}
	ev.Score = score(ev, e.PenaltyDivisor)
	return ev, nil
}

func score(ev *Evaluation, penaltyDivisor int) int {
	s := 0
	if ev.Success {
		s += 100
	}
	if ev.ExpectationMet {
		s += 50
	}
	if penaltyDivisor > 0 {
		s -= ev.TotalSize / penaltyDivisor
	}
	return s
}
