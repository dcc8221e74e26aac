package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxbench/callpipeline/pkg/provider/llm"
)

// Summariser compresses a run of conversation messages into a short prose
// summary, used by [ContextManager] to free up token budget without
// discarding earlier context outright.
type Summariser interface {
	Summarise(ctx context.Context, msgs []llm.Message) (string, error)
}

// LLMSummariser implements [Summariser] by asking an [llm.Provider] to
// condense the given messages into a few sentences.
type LLMSummariser struct {
	provider llm.Provider
}

// NewLLMSummariser wraps provider as a [Summariser].
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{provider: provider}
}

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, msgs []llm.Message) (string, error) {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	req := llm.CompletionRequest{
		SystemPrompt: "Summarise the following phone call exchange in two or three sentences. " +
			"Keep any facts the caller or patient stated (names, dates, requests); drop filler.",
		Messages: []llm.Message{{Role: "user", Content: b.String()}},
	}

	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm summariser: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

var _ Summariser = (*LLMSummariser)(nil)
