package handlers

import (
	"context"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
)

const boardMessage = "Board and sprint questions aren't supported yet. I can help with Jira issues and Confluence pages in the meantime."

// Board answers board-intent turns with a fixed capability notice. Board
// support is routed separately so it can grow into a real handler without
// touching the supervisor.
type Board struct{}

// NewBoard returns the board handler.
func NewBoard() *Board { return &Board{} }

// Handle appends the capability notice to st.
func (b *Board) Handle(ctx context.Context, model llms.Model, st *state.State) error {
	st.AppendAssistant(boardMessage)
	return nil
}
