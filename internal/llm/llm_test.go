package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
)

// fakeModel returns canned responses in order.
type fakeModel struct {
	responses []string
	calls     int
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: resp}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Settings{Provider: "watson"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}

func TestFactoryOverrides(t *testing.T) {
	f := NewFactory(Settings{Provider: "gemini", APIKey: "k"})
	_, err := f.Model(context.Background(), map[string]string{"model_provider": "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestGenerateStructuredPlainJSON(t *testing.T) {
	m := &fakeModel{responses: []string{`{"intent":"ticket"}`}}
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, GenerateStructured(context.Background(), m, "classify", &out))
	assert.Equal(t, "ticket", out.Intent)
}

func TestGenerateStructuredCodeFence(t *testing.T) {
	m := &fakeModel{responses: []string{"Here you go:\n```json\n{\"intent\": \"confluence\"}\n```\nDone."}}
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, GenerateStructured(context.Background(), m, "classify", &out))
	assert.Equal(t, "confluence", out.Intent)
}

func TestGenerateStructuredRepairsMalformedJSON(t *testing.T) {
	// trailing comma and single quotes, repairable
	m := &fakeModel{responses: []string{`{'intent': 'board',}`}}
	var out struct {
		Intent string `json:"intent"`
	}
	require.NoError(t, GenerateStructured(context.Background(), m, "classify", &out))
	assert.Equal(t, "board", out.Intent)
}

func TestGenerateStructuredNoJSON(t *testing.T) {
	m := &fakeModel{responses: []string{"I cannot answer that."}}
	var out map[string]any
	require.Error(t, GenerateStructured(context.Background(), m, "classify", &out))
}

func TestExtractJSONBalanced(t *testing.T) {
	got := ExtractJSON(`The answer is {"a": {"b": 1}} as requested.`)
	assert.Equal(t, `{"a": {"b": 1}}`, got)
}

func TestExtractJSONArray(t *testing.T) {
	got := ExtractJSON(`Results: [1, 2, 3] found.`)
	assert.Equal(t, `[1, 2, 3]`, got)
}

func TestChatMessagesConversion(t *testing.T) {
	msgs := []state.Message{
		{Role: state.RoleUser, Content: "create a bug ticket"},
		{Role: state.RoleAssistant, ToolCalls: []state.ToolCall{{ID: "c1", Name: "create_issue", Arguments: `{"summary":"x"}`}}},
		{Role: state.RoleTool, ToolCallID: "c1", ToolName: "create_issue", Content: `{"key":"PROJ-1"}`},
		{Role: state.RoleAssistant, Content: "Created PROJ-1."},
	}
	out := ChatMessages("be helpful", msgs)
	require.Len(t, out, 5)

	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, out[1].Role)

	assert.Equal(t, llms.ChatMessageTypeAI, out[2].Role)
	tc, ok := out[2].Parts[0].(llms.ToolCall)
	require.True(t, ok)
	assert.Equal(t, "c1", tc.ID)
	assert.Equal(t, "create_issue", tc.FunctionCall.Name)

	assert.Equal(t, llms.ChatMessageTypeTool, out[3].Role)
	tr, ok := out[3].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "c1", tr.ToolCallID)

	assert.Equal(t, llms.ChatMessageTypeAI, out[4].Role)
}
