// Package oracle defines the interface to the external code-generation
// service and its default ollama-backed implementation. The oracle is opaque
// and fallible: callers must treat empty or unparseable responses as "no
// proposal" and carry on.
package oracle

import (
	"context"

	"github.com/forgeloop/forgeloop/pkg/types"
)

// ChangeRequest is the context handed to the oracle when asking for the next
// increment of work.
type ChangeRequest struct {
	Goal           string
	Step           string
	Technologies   []string
	ContextSummary string
	Expectation    string
	Introspection  types.Introspection
}

// FixRequest asks for a single-file repair against failing output.
type FixRequest struct {
	Path      string
	Content   string
	Language  string
	ErrorText string
}

// Fix is the oracle's answer to a FixRequest.
type Fix struct {
	Explanation string
	Content     string
}

// Oracle is the external code-generation service. No latency, availability
// or well-formedness guarantee is assumed for any method.
type Oracle interface {
	// ProposePlan returns an ordered list of small incremental step
	// descriptions for the goal, at most maxSteps long.
	ProposePlan(ctx context.Context, goal string, technologies []string, maxSteps int) ([]string, error)

	// ProposeChanges returns the file changes for one step. An empty slice
	// means the oracle had nothing usable to offer.
	ProposeChanges(ctx context.Context, req ChangeRequest) ([]types.FileChange, error)

	// ProposeCandidates returns up to count alternative change sets for the
	// same step, to be evaluated in isolation.
	ProposeCandidates(ctx context.Context, req ChangeRequest, count int) ([][]types.FileChange, error)

	// ProposeFix returns a corrected version of a single failing file.
	ProposeFix(ctx context.Context, req FixRequest) (Fix, error)

	// ProposeMicroStep asks for one smaller replacement step when the
	// session has stagnated.
	ProposeMicroStep(ctx context.Context, goal, stalledStep string) (string, error)

	// ShrinkChange asks for a reduced patch for a single path that stays
	// under budget characters.
	ShrinkChange(ctx context.Context, req ChangeRequest, change types.FileChange, budget int) (types.FileChange, error)
}
