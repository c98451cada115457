// Package toolloop runs a bounded tool-calling exchange with the model: one
// round of tool calls at most, then a final synthesis response. The bound
// keeps a confused model from looping on tool calls forever.
package toolloop

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/agent/tools"
	"github.com/atlathelper/internal/llm"
	"github.com/atlathelper/internal/logging"
	"github.com/atlathelper/internal/retry"
)

var log = logging.Component("toolloop")

// Run sends the transcript to the model with the registry's tools attached.
// When the model requests tool calls, each is executed and a second model
// call synthesizes the final answer from the results. The returned messages
// are the new transcript entries in order; the caller appends them to the
// thread state.
func Run(ctx context.Context, model llms.Model, system string, history []state.Message, reg *tools.Registry) ([]state.Message, error) {
	wire := llm.ChatMessages(system, history)

	resp, err := generate(ctx, model, wire, llms.WithTools(reg.Definitions()))
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	choice := resp.Choices[0]

	if len(choice.ToolCalls) == 0 {
		return []state.Message{{Role: state.RoleAssistant, Content: choice.Content}}, nil
	}

	assistant := state.Message{Role: state.RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, state.ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	out := []state.Message{assistant}

	for _, tc := range assistant.ToolCalls {
		log.Debug().Str("tool", tc.Name).Str("call_id", tc.ID).Msg("executing tool call")
		result := reg.Execute(ctx, tc.Name, tc.Arguments)
		out = append(out, state.Message{
			Role:       state.RoleTool,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
			Content:    result,
		})
	}

	// Synthesis pass: no tools attached, so the model must answer in text.
	wire = llm.ChatMessages(system, append(append([]state.Message(nil), history...), out...))
	final, err := generate(ctx, model, wire)
	if err != nil {
		return nil, fmt.Errorf("synthesis call: %w", err)
	}
	out = append(out, state.Message{Role: state.RoleAssistant, Content: final.Choices[0].Content})
	return out, nil
}

func generate(ctx context.Context, model llms.Model, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	var resp *llms.ContentResponse
	err := retry.Do(ctx, retry.LLMConfig(), func() error {
		var genErr error
		resp, genErr = model.GenerateContent(ctx, msgs, opts...)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}
	return resp, nil
}
