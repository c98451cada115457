// Package state holds the conversation state shared by the supervisor and
// its handlers. The state is what gets checkpointed between turns, so every
// field must survive a JSON round trip.
package state

import (
	"fmt"
)

// Intent is the routing label assigned by the supervisor's classifier.
type Intent string

const (
	IntentTicket      Intent = "ticket"
	IntentConfluence  Intent = "confluence"
	IntentBoard       Intent = "board"
	IntentGeneralChat Intent = "general_chat"
)

// Valid reports whether the intent is one of the known routing labels.
func (i Intent) Valid() bool {
	switch i {
	case IntentTicket, IntentConfluence, IntentBoard, IntentGeneralChat:
		return true
	}
	return false
}

// Message roles. They mirror the chat roles the LLM providers understand.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AwaitingSiteSelection marks a ticket turn paused on the user picking one
// of several Jira sites.
const AwaitingSiteSelection = "cloud_id_selection"

// ToolCall is a tool invocation requested by the assistant.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is a single entry in the conversation transcript.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and ToolName are set only on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Site is a Jira site the user's token can reach.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// State is the durable conversation state for one thread.
type State struct {
	Messages       []Message         `json:"messages"`
	Intent         Intent            `json:"intent,omitempty"`
	AwaitingInput  string            `json:"awaiting_input,omitempty"`
	AvailableSites []Site            `json:"available_sites,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
}

// New returns an empty state ready for the first turn.
func New() *State {
	return &State{Context: map[string]string{}}
}

// AppendUser appends a user message to the transcript.
func (s *State) AppendUser(content string) {
	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: content})
}

// AppendAssistant appends an assistant message to the transcript.
func (s *State) AppendAssistant(content string) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: content})
}

// Append appends an arbitrary message to the transcript.
func (s *State) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// LastUserMessage returns the content of the most recent user message, or
// the empty string when the transcript has none.
func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// SetPendingSelection records that the turn is paused on a site selection.
// At most one pending selection can exist at a time.
func (s *State) SetPendingSelection(sites []Site) error {
	if s.AwaitingInput != "" {
		return fmt.Errorf("selection already pending: %s", s.AwaitingInput)
	}
	s.AwaitingInput = AwaitingSiteSelection
	s.AvailableSites = append([]Site(nil), sites...)
	return nil
}

// ClearPendingSelection discards a pending site selection and its cached
// site list.
func (s *State) ClearPendingSelection() {
	s.AwaitingInput = ""
	s.AvailableSites = nil
}

// SetContext stores a key in the per-thread context map.
func (s *State) SetContext(key, value string) {
	if s.Context == nil {
		s.Context = map[string]string{}
	}
	s.Context[key] = value
}

// GetContext reads a key from the per-thread context map.
func (s *State) GetContext(key string) string {
	return s.Context[key]
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Intent:        s.Intent,
		AwaitingInput: s.AwaitingInput,
	}
	c.Messages = append([]Message(nil), s.Messages...)
	for i := range c.Messages {
		c.Messages[i].ToolCalls = append([]ToolCall(nil), s.Messages[i].ToolCalls...)
	}
	c.AvailableSites = append([]Site(nil), s.AvailableSites...)
	if s.Context != nil {
		c.Context = make(map[string]string, len(s.Context))
		for k, v := range s.Context {
			c.Context[k] = v
		}
	}
	return c
}

// Validate checks structural invariants before the state is persisted:
// every assistant tool call must be answered by a tool result with a
// matching id, and every tool result must answer a preceding call.
func (s *State) Validate() error {
	open := map[string]bool{}
	for i, m := range s.Messages {
		switch m.Role {
		case RoleAssistant:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					return fmt.Errorf("message %d: tool call without id", i)
				}
				open[tc.ID] = true
			}
		case RoleTool:
			if m.ToolCallID == "" {
				return fmt.Errorf("message %d: tool result without tool_call_id", i)
			}
			if !open[m.ToolCallID] {
				return fmt.Errorf("message %d: tool result %q answers no pending call", i, m.ToolCallID)
			}
			delete(open, m.ToolCallID)
		}
	}
	if len(open) > 0 {
		for id := range open {
			return fmt.Errorf("tool call %q has no tool result", id)
		}
	}
	if s.AwaitingInput != "" && s.AwaitingInput != AwaitingSiteSelection {
		return fmt.Errorf("unknown awaiting_input marker %q", s.AwaitingInput)
	}
	// The marker and the cached site list travel together: a pending
	// selection without candidates is unanswerable, candidates without the
	// marker are stale.
	if (s.AwaitingInput == AwaitingSiteSelection) != (len(s.AvailableSites) > 0) {
		return fmt.Errorf("awaiting_input marker %q does not pair with %d cached sites", s.AwaitingInput, len(s.AvailableSites))
	}
	return nil
}
