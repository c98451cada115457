package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlathelper/internal/agent/tools"
	"github.com/atlathelper/internal/atlassian"
)

// Tools returns the ticket tool registry bound to the given backend.
func Tools(backend Backend) *tools.Registry {
	return tools.NewRegistry(
		searchIssuesTool(backend),
		createIssueTool(backend),
		listSitesTool(backend),
	)
}

func searchIssuesTool(backend Backend) tools.Tool {
	return tools.Tool{
		Name:        "search_issues",
		Description: "Search Jira issues with a JQL query. Returns matching issues with key, summary, status and assignee.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"jql": map[string]any{
					"type":        "string",
					"description": "JQL query, e.g. 'assignee = currentUser() AND status != Done'",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of issues to return (default 10)",
				},
			},
			"required": []string{"jql"},
		},
		Call: func(ctx context.Context, args string) (string, error) {
			var in struct {
				JQL        string `json:"jql"`
				MaxResults int    `json:"max_results"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if in.MaxResults <= 0 {
				in.MaxResults = 10
			}
			issues, err := backend.SearchIssues(ctx, in.JQL, in.MaxResults)
			if err != nil {
				return "", err
			}
			if len(issues) == 0 {
				return "no issues matched the query", nil
			}
			var b strings.Builder
			for _, is := range issues {
				fmt.Fprintf(&b, "%s: %s", is.Key, is.Fields.Summary)
				if is.Fields.Status != nil {
					fmt.Fprintf(&b, " [%s]", is.Fields.Status.Name)
				}
				if is.Fields.Assignee != nil {
					fmt.Fprintf(&b, " (assignee: %s)", is.Fields.Assignee.DisplayName)
				}
				b.WriteString("\n")
			}
			return b.String(), nil
		},
	}
}

func createIssueTool(backend Backend) tools.Tool {
	return tools.Tool{
		Name:        "create_issue",
		Description: "Create a new Jira issue in a project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_key": map[string]any{
					"type":        "string",
					"description": "Project key, e.g. 'PROJ'",
				},
				"summary": map[string]any{
					"type":        "string",
					"description": "One-line issue summary",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Longer issue description",
				},
				"issue_type": map[string]any{
					"type":        "string",
					"description": "Issue type: Task, Bug or Story (default Task)",
				},
			},
			"required": []string{"project_key", "summary"},
		},
		Call: func(ctx context.Context, args string) (string, error) {
			var in struct {
				ProjectKey  string `json:"project_key"`
				Summary     string `json:"summary"`
				Description string `json:"description"`
				IssueType   string `json:"issue_type"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			issue, err := backend.CreateIssue(ctx, atlassian.CreateIssueRequest{
				ProjectKey:  in.ProjectKey,
				Summary:     in.Summary,
				Description: in.Description,
				IssueType:   in.IssueType,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created issue %s", issue.Key), nil
		},
	}
}

func listSitesTool(backend Backend) tools.Tool {
	return tools.Tool{
		Name:        "list_sites",
		Description: "List the Jira sites the connected account can access.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Call: func(ctx context.Context, args string) (string, error) {
			sites, err := backend.ListSites(ctx)
			if err != nil {
				return "", err
			}
			if len(sites) == 0 {
				return "no sites available", nil
			}
			var b strings.Builder
			for _, s := range sites {
				fmt.Fprintf(&b, "%s (%s)\n", s.Name, s.URL)
			}
			return b.String(), nil
		},
	}
}
