package atlassian

// Site is one accessible Atlassian cloud site (an entry from the
// accessible-resources endpoint).
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Issue is the subset of a Jira issue the assistant works with.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

type IssueFields struct {
	Summary  string `json:"summary"`
	Status   *Named `json:"status,omitempty"`
	Assignee *User  `json:"assignee,omitempty"`
	Priority *Named `json:"priority,omitempty"`
}

type Named struct {
	Name string `json:"name"`
}

type User struct {
	DisplayName string `json:"displayName"`
}

// CreateIssueRequest carries the fields for a new issue.
type CreateIssueRequest struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
}

// DocResult is one Confluence search hit.
type DocResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Excerpt string `json:"excerpt"`
}
