package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentValid(t *testing.T) {
	assert.True(t, IntentTicket.Valid())
	assert.True(t, IntentGeneralChat.Valid())
	assert.False(t, Intent("billing").Valid())
	assert.False(t, Intent("").Valid())
}

func TestLastUserMessage(t *testing.T) {
	s := New()
	assert.Empty(t, s.LastUserMessage())

	s.AppendUser("first")
	s.AppendAssistant("reply")
	s.AppendUser("second")
	assert.Equal(t, "second", s.LastUserMessage())
}

func TestPendingSelectionAtMostOne(t *testing.T) {
	s := New()
	sites := []Site{{ID: "a", Name: "Site A"}, {ID: "b", Name: "Site B"}}

	require.NoError(t, s.SetPendingSelection(sites))
	assert.Equal(t, AwaitingSiteSelection, s.AwaitingInput)
	assert.Len(t, s.AvailableSites, 2)

	err := s.SetPendingSelection(sites)
	require.Error(t, err)

	s.ClearPendingSelection()
	assert.Empty(t, s.AwaitingInput)
	assert.Nil(t, s.AvailableSites)
	require.NoError(t, s.SetPendingSelection(sites))
}

func TestCloneIsDeep(t *testing.T) {
	s := New()
	s.AppendUser("hello")
	s.SetContext("cloud_id", "abc")
	require.NoError(t, s.SetPendingSelection([]Site{{ID: "a", Name: "A"}}))

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.AvailableSites[0].Name = "changed"
	c.SetContext("cloud_id", "zzz")

	assert.Equal(t, "hello", s.Messages[0].Content)
	assert.Equal(t, "A", s.AvailableSites[0].Name)
	assert.Equal(t, "abc", s.GetContext("cloud_id"))
}

func TestValidatePairing(t *testing.T) {
	s := New()
	s.AppendUser("find my bugs")
	s.Append(Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call_1", Name: "search_issues", Arguments: `{"jql":"type=Bug"}`}},
	})
	// unanswered tool call
	require.Error(t, s.Validate())

	s.Append(Message{Role: RoleTool, ToolCallID: "call_1", ToolName: "search_issues", Content: "[]"})
	s.AppendAssistant("No bugs found.")
	require.NoError(t, s.Validate())
}

func TestValidateOrphanToolResult(t *testing.T) {
	s := New()
	s.Append(Message{Role: RoleTool, ToolCallID: "call_9", Content: "ok"})
	require.Error(t, s.Validate())
}

func TestValidateUnknownAwaitingMarker(t *testing.T) {
	s := New()
	s.AwaitingInput = "project_selection"
	require.Error(t, s.Validate())
}

func TestValidateMarkerAndSitesPairing(t *testing.T) {
	s := New()
	s.AwaitingInput = AwaitingSiteSelection
	require.Error(t, s.Validate(), "marker without candidates")

	s = New()
	s.AvailableSites = []Site{{ID: "a", Name: "A"}}
	require.Error(t, s.Validate(), "candidates without marker")

	s = New()
	require.NoError(t, s.SetPendingSelection([]Site{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}))
	require.NoError(t, s.Validate())

	s.ClearPendingSelection()
	require.NoError(t, s.Validate())
}

func TestStateSurvivesJSONRoundTrip(t *testing.T) {
	s := New()
	s.AppendUser("hi")
	s.Intent = IntentTicket
	require.NoError(t, s.SetPendingSelection([]Site{{ID: "x", Name: "X", URL: "https://x.atlassian.net"}}))
	s.SetContext("cloud_id", "x")

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var got State
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, s.Intent, got.Intent)
	assert.Equal(t, s.AwaitingInput, got.AwaitingInput)
	assert.Equal(t, s.AvailableSites, got.AvailableSites)
	assert.Equal(t, s.Context, got.Context)
	assert.Equal(t, s.Messages, got.Messages)
}
