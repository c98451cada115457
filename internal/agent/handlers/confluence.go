// Package handlers holds the non-ticket intent handlers: confluence search,
// board questions and general chat.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/agent/toolloop"
	"github.com/atlathelper/internal/agent/tools"
	"github.com/atlathelper/internal/atlassian"
	"github.com/atlathelper/internal/logging"
	"github.com/atlathelper/internal/token"
)

var log = logging.Component("handlers")

const confluenceNotConnected = "Atlassian not connected. Please connect your Atlassian account first, then try again."

const confluenceSystemPrompt = `You are a Confluence assistant. Use the
search_docs tool to find pages relevant to the user's question and answer
from the results, linking the pages you relied on.`

// DocsSearcher is the slice of the Atlassian API the confluence handler
// needs.
type DocsSearcher interface {
	SearchDocs(ctx context.Context, query string, limit int) ([]atlassian.DocResult, error)
}

// SearcherFactory builds a docs searcher bound to a credential. onRefresh
// is invoked when the searcher rotates the token.
type SearcherFactory func(cred token.Credential, onRefresh func(token.Credential)) DocsSearcher

// Confluence serves confluence-intent turns.
type Confluence struct {
	tokens   token.Store
	searcher SearcherFactory
}

// NewConfluence returns a confluence handler.
func NewConfluence(tokens token.Store, factory SearcherFactory) *Confluence {
	return &Confluence{tokens: tokens, searcher: factory}
}

// Handle runs one confluence turn, appending its responses to st.
func (c *Confluence) Handle(ctx context.Context, model llms.Model, st *state.State) error {
	cred, err := c.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || (cred.Expired(time.Now()) && cred.RefreshToken == "") {
		log.Debug().Msg("no usable Atlassian credential for confluence turn")
		st.AppendAssistant(confluenceNotConnected)
		return nil
	}

	searcher := c.searcher(*cred, func(cred token.Credential) {
		if err := c.tokens.Save(ctx, cred); err != nil {
			log.Warn().Err(err).Msg("failed to persist refreshed credential")
		}
	})

	reg := tools.NewRegistry(searchDocsTool(searcher))
	msgs, err := toolloop.Run(ctx, model, confluenceSystemPrompt, st.Messages, reg)
	if err != nil {
		return fmt.Errorf("confluence turn: %w", err)
	}
	for _, m := range msgs {
		st.Append(m)
	}
	return nil
}

func searchDocsTool(searcher DocsSearcher) tools.Tool {
	return tools.Tool{
		Name:        "search_docs",
		Description: "Search Confluence pages by text. Returns page titles, links and excerpts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text search query",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of pages to return (default 5)",
				},
			},
			"required": []string{"query"},
		},
		Call: func(ctx context.Context, args string) (string, error) {
			var in struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if in.Limit <= 0 {
				in.Limit = 5
			}
			results, err := searcher.SearchDocs(ctx, in.Query, in.Limit)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "no pages matched the query", nil
			}
			var b strings.Builder
			for _, r := range results {
				fmt.Fprintf(&b, "%s (%s)", r.Title, r.URL)
				if r.Excerpt != "" {
					fmt.Fprintf(&b, ": %s", r.Excerpt)
				}
				b.WriteString("\n")
			}
			return b.String(), nil
		},
	}
}
