package handlers

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
	llmpkg "github.com/atlathelper/internal/llm"
	"github.com/atlathelper/internal/retry"
)

const generalSystemPrompt = `You are Atlat Helper, a friendly assistant for
Jira and Confluence. Answer conversationally. When the user wants to work
with issues, boards or documentation, tell them you can do that if they ask
directly.`

// General serves general-chat turns with a plain model call over the full
// transcript. When onToken is non-nil the response is streamed through it
// as it is generated.
type General struct{}

// NewGeneral returns the general chat handler.
func NewGeneral() *General { return &General{} }

// Handle runs one general chat turn, appending the response to st.
func (g *General) Handle(ctx context.Context, model llms.Model, st *state.State, onToken func(string)) error {
	wire := llmpkg.ChatMessages(generalSystemPrompt, st.Messages)

	opts := []llms.CallOption{}
	if onToken != nil {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			onToken(string(chunk))
			return nil
		}))
	}

	var resp *llms.ContentResponse
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		var genErr error
		resp, genErr = model.GenerateContent(ctx, wire, opts...)
		return genErr
	})
	if err != nil {
		return fmt.Errorf("general chat turn: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("general chat turn: model returned no choices")
	}

	st.AppendAssistant(resp.Choices[0].Content)
	return nil
}
