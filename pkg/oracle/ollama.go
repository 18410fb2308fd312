package oracle

import (
	"context"
	"fmt"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"github.com/forgeloop/forgeloop/pkg/parser"
	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

// OllamaOracle is the default Oracle backed by a local ollama server. The
// server address comes from the environment (OLLAMA_HOST), matching the
// ollama CLI conventions.
type OllamaOracle struct {
	client      *ollama.Client
	model       string
	temperature float64
	logger      *utils.Logger
}

// NewOllamaOracle creates the default oracle for the given model.
func NewOllamaOracle(model string, temperature float64, logger *utils.Logger) (*OllamaOracle, error) {
	client, err := ollama.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("could not create ollama client: %w", err)
	}
	return &OllamaOracle{
		client:      client,
		model:       strings.TrimPrefix(model, "ollama:"),
		temperature: temperature,
		logger:      logger,
	}, nil
}

func (o *OllamaOracle) generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := []ollama.Message{}
	if systemPrompt != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: prompt})

	req := &ollama.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Options: map[string]interface{}{
			"temperature": o.temperature,
			"top_p":       1.0,
		},
	}

	var response strings.Builder
	respFunc := func(res ollama.ChatResponse) error {
		response.WriteString(res.Message.Content)
		return nil
	}
	if err := o.client.Chat(ctx, req, respFunc); err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return response.String(), nil
}

// ProposePlan implements Oracle.
func (o *OllamaOracle) ProposePlan(ctx context.Context, goal string, technologies []string, maxSteps int) ([]string, error) {
	response, err := o.generate(ctx, "You are an expert software architect.", buildPlanPrompt(goal, technologies, maxSteps))
	if err != nil {
		return nil, err
	}
	return parser.StepsFromResponse(response, maxSteps), nil
}

// ProposeChanges implements Oracle.
func (o *OllamaOracle) ProposeChanges(ctx context.Context, req ChangeRequest) ([]types.FileChange, error) {
	response, err := o.generate(ctx, "You are a careful incremental software engineer. Respond with JSON only.", buildChangePrompt(req))
	if err != nil {
		return nil, err
	}
	changes := parser.ChangesFromResponse(response)
	if len(changes) == 0 {
		o.logger.Logf("Oracle response yielded no parseable changes for step %q", req.Step)
	}
	return changes, nil
}

// ProposeCandidates implements Oracle.
func (o *OllamaOracle) ProposeCandidates(ctx context.Context, req ChangeRequest, count int) ([][]types.FileChange, error) {
	response, err := o.generate(ctx, "You are a careful incremental software engineer. Respond with JSON only.", buildCandidatePrompt(req, count))
	if err != nil {
		return nil, err
	}
	sets := parser.CandidatesFromResponse(response)
	if len(sets) > count {
		sets = sets[:count]
	}
	return sets, nil
}

// ProposeFix implements Oracle.
func (o *OllamaOracle) ProposeFix(ctx context.Context, req FixRequest) (Fix, error) {
	systemPrompt := "You are a senior engineer fixing code. First explain the fix briefly, then output the full corrected file inside a single code block."
	response, err := o.generate(ctx, systemPrompt, buildFixPrompt(req))
	if err != nil {
		return Fix{}, err
	}
	explanation, content, ok := parser.FixFromResponse(response, req.Language)
	if ok {
		return Fix{Explanation: explanation, Content: content}, nil
	}

	// One strict retry: some models bury the code in prose on the first pass
	// but comply when told to emit only a fenced block.
	retryPrompt := fmt.Sprintf("Return ONLY the full corrected content of FILE %s as a single fenced code block.\nNo prose, no explanation, no headers.\nCurrent error to fix: %s", req.Path, req.ErrorText)
	retryResponse, err := o.generate(ctx, "Output ONLY one fenced code block with the complete corrected file. Do not include any text before or after.", retryPrompt)
	if err != nil {
		return Fix{}, err
	}
	explanation2, content2, ok2 := parser.FixFromResponse(retryResponse, req.Language)
	if !ok2 {
		return Fix{}, fmt.Errorf("could not extract fixed code from oracle response")
	}
	if explanation != "" {
		explanation2 = explanation
	}
	return Fix{Explanation: explanation2, Content: content2}, nil
}

// ProposeMicroStep implements Oracle.
func (o *OllamaOracle) ProposeMicroStep(ctx context.Context, goal, stalledStep string) (string, error) {
	response, err := o.generate(ctx, "You are an expert software architect.", buildMicroStepPrompt(goal, stalledStep))
	if err != nil {
		return "", err
	}
	steps := parser.StepsFromResponse(response, 1)
	if len(steps) == 0 {
		return "", nil
	}
	if len(strings.Fields(steps[0])) > 12 {
		return "", nil
	}
	return steps[0], nil
}

// ShrinkChange implements Oracle.
func (o *OllamaOracle) ShrinkChange(ctx context.Context, req ChangeRequest, change types.FileChange, budget int) (types.FileChange, error) {
	response, err := o.generate(ctx, "You are a careful incremental software engineer. Respond with JSON only.", buildShrinkPrompt(req, change, budget))
	if err != nil {
		return types.FileChange{}, err
	}
	changes := parser.ChangesFromResponse(response)
	for _, c := range changes {
		if c.Path == change.Path {
			return c, nil
		}
	}
	return types.FileChange{}, fmt.Errorf("oracle did not return a reduced patch for %s", change.Path)
}
