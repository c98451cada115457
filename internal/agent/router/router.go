// Package router assigns a routing intent to each turn.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/llm"
	"github.com/atlathelper/internal/logging"
)

var log = logging.Component("router")

const classifyPrompt = `You are an intent classifier for an Atlassian assistant.
Classify the user's message into exactly one of these intents:

- ticket: creating, searching, or updating Jira issues
- confluence: searching or asking about Confluence pages and documentation
- board: questions about Jira boards, sprints, or backlog
- general_chat: greetings, small talk, or anything not covered above

Respond with JSON only, in the form {"intent": "<label>"}.

User message: %s`

// ClassificationError means the classifier produced nothing usable. The
// turn is aborted and state is left unpersisted.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("intent classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Classify decides the intent for the current turn. A thread paused on
// site selection routes straight back to the ticket handler without a
// model call, so the user's reply is read as an answer and not a new
// request; shortCircuit is true on that path. A well formed but unknown
// label falls back to general chat.
func Classify(ctx context.Context, model llms.Model, st *state.State) (intent state.Intent, shortCircuit bool, err error) {
	if st.AwaitingInput == state.AwaitingSiteSelection {
		log.Debug().Msg("pending site selection, routing to ticket handler")
		return state.IntentTicket, true, nil
	}

	var out struct {
		Intent string `json:"intent"`
	}
	prompt := fmt.Sprintf(classifyPrompt, st.LastUserMessage())
	if err := llm.GenerateStructured(ctx, model, prompt, &out); err != nil {
		return "", false, &ClassificationError{Err: err}
	}

	intent = state.Intent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !intent.Valid() {
		log.Warn().Str("label", out.Intent).Msg("classifier returned unknown label, using general_chat")
		return state.IntentGeneralChat, false, nil
	}
	log.Debug().Str("intent", string(intent)).Msg("classified turn")
	return intent, false, nil
}
