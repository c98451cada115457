// Package tools defines the tool-calling surface exposed to the LLM. Tool
// failures never abort a turn: they come back as textual results so the
// model can explain them to the user.
package tools

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/logging"
)

var log = logging.Component("tools")

// Tool is one callable function offered to the model. Parameters is a JSON
// Schema object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Call        func(ctx context.Context, args string) (string, error)
}

// Registry holds the tools available during one handler invocation.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// NewRegistry builds a registry from the given tools. Later tools replace
// earlier ones with the same name.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{byName: make(map[string]int, len(ts))}
	for _, t := range ts {
		if i, ok := r.byName[t.Name]; ok {
			r.tools[i] = t
			continue
		}
		r.byName[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r
}

// Definitions returns the tool schemas in the langchaingo wire form.
func (r *Registry) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Execute runs the named tool and returns its textual result. Unknown
// tools and tool errors produce result text rather than an error, so the
// model always receives something to respond to.
func (r *Registry) Execute(ctx context.Context, name, args string) string {
	i, ok := r.byName[name]
	if !ok {
		log.Warn().Str("tool", name).Msg("model requested unregistered tool")
		return fmt.Sprintf("error: tool %q is not registered", name)
	}
	out, err := r.tools[i].Call(ctx, args)
	if err != nil {
		log.Debug().Str("tool", name).Err(err).Msg("tool call failed")
		return fmt.Sprintf("error: %v", err)
	}
	return out
}
