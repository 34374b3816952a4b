package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

// LLMOracle asks a language model to name the next speaker.
type LLMOracle struct {
	LLM llm.LLMClient
	// Prompt receives the conversation and the candidate list.
	Prompt string
}

func NewLLMOracle(client llm.LLMClient, prompt string) *LLMOracle {
	return &LLMOracle{LLM: client, Prompt: prompt}
}

func (o *LLMOracle) Choose(ctx context.Context, history []transcript.Message, eligible []string) (string, error) {
	var conv strings.Builder
	for _, m := range history {
		fmt.Fprintf(&conv, "%s: %s\n", m.Author, m.Content.Summary())
	}
	prompt := fmt.Sprintf(o.Prompt, conv.String(), "["+strings.Join(eligible, ", ")+"]")

	answer, err := o.LLM.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("speaker selection: %w", err)
	}
	return answer, nil
}
