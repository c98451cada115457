// Package atlassian is the authenticated client for the Atlassian cloud API
// gateway (Jira issues, Confluence search, accessible sites). A 401 response
// triggers exactly one token refresh through the exchange proxy followed by
// one retry of the original request; the refreshed credential is handed to a
// persistence callback so the token store stays current.
package atlassian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/atlathelper/internal/authproxy"
	"github.com/atlathelper/internal/token"
)

const DefaultBaseURL = "https://api.atlassian.com"

// Refresher exchanges a refresh token for a new credential. Implemented by
// *authproxy.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*authproxy.TokenResponse, error)
}

// Client issues bearer-authenticated requests against the Atlassian API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	refresher  Refresher
	onRefresh  func(token.Credential)
	cloudID    string

	mu   sync.Mutex
	cred token.Credential
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API gateway base URL (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithCloudID pre-selects the tenant for tenant-scoped operations.
func WithCloudID(id string) Option {
	return func(c *Client) { c.cloudID = id }
}

// WithRefresher enables the 401 refresh-and-retry path.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithOnRefresh registers a callback invoked with the new credential after a
// successful refresh, so the caller can persist it.
func WithOnRefresh(fn func(token.Credential)) Option {
	return func(c *Client) { c.onRefresh = fn }
}

func NewClient(cred token.Credential, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cred:       cred,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CloudID returns the currently selected tenant, empty when unresolved.
func (c *Client) CloudID() string {
	return c.cloudID
}

// do sends the request once, and on a 401 with a refresh token available
// performs exactly one refresh-and-retry cycle. Bounded by construction: the
// retried request's response is returned as-is, success or not.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	c.mu.Lock()
	refreshToken := c.cred.RefreshToken
	c.mu.Unlock()

	if refreshToken == "" || c.refresher == nil {
		return resp, nil
	}

	resp.Body.Close()
	log.Debug().Str("path", path).Msg("access token rejected, refreshing")

	if err := c.refresh(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}

	return c.send(ctx, method, path, query, body)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.cred.AccessToken)
	c.mu.Unlock()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) error {
	tr, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	// The authorization server may rotate the refresh token; keep the old
	// one when it does not.
	newRefresh := tr.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	cred := token.FromOAuthResponse(tr.AccessToken, newRefresh, tr.ExpiresIn, time.Now())

	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()

	if c.onRefresh != nil {
		c.onRefresh(cred)
	}
	return nil
}

// checkStatus maps error statuses onto the package's error taxonomy and
// returns the response body for 2xx responses.
func checkStatus(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return data, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
}

// Request issues an arbitrary API call and decodes the JSON response into out
// (out may be nil to discard the body).
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	resp, err := c.do(ctx, method, path, query, raw)
	if err != nil {
		return err
	}

	data, err := checkStatus(resp)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListSites returns the cloud sites the credential can access.
func (c *Client) ListSites(ctx context.Context) ([]Site, error) {
	var sites []Site
	if err := c.Request(ctx, http.MethodGet, "/oauth/token/accessible-resources", nil, nil, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// SearchIssues runs a JQL search on the selected site.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	if c.cloudID == "" {
		return nil, ErrNoCloudID
	}

	query := url.Values{}
	query.Set("jql", jql)
	query.Set("fields", "summary,status,assignee,priority")
	if maxResults > 0 {
		query.Set("maxResults", strconv.Itoa(maxResults))
	}

	var out struct {
		Issues []Issue `json:"issues"`
	}
	path := fmt.Sprintf("/ex/jira/%s/rest/api/3/search", c.cloudID)
	if err := c.Request(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Issues, nil
}

// CreateIssue creates a new issue on the selected site.
func (c *Client) CreateIssue(ctx context.Context, req CreateIssueRequest) (*Issue, error) {
	if c.cloudID == "" {
		return nil, ErrNoCloudID
	}
	if req.ProjectKey == "" || req.Summary == "" {
		return nil, fmt.Errorf("atlassian: project key and summary are required")
	}

	issueType := req.IssueType
	if issueType == "" {
		issueType = "Task"
	}

	body := map[string]any{
		"fields": map[string]any{
			"project":   map[string]string{"key": req.ProjectKey},
			"summary":   req.Summary,
			"issuetype": map[string]string{"name": issueType},
		},
	}
	if req.Description != "" {
		body["fields"].(map[string]any)["description"] = map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []map[string]any{{
				"type":    "paragraph",
				"content": []map[string]string{{"type": "text", "text": req.Description}},
			}},
		}
	}

	var issue Issue
	path := fmt.Sprintf("/ex/jira/%s/rest/api/3/issue", c.cloudID)
	if err := c.Request(ctx, http.MethodPost, path, nil, body, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// SearchDocs runs a CQL text search against Confluence on the selected site.
func (c *Client) SearchDocs(ctx context.Context, text string, limit int) ([]DocResult, error) {
	if c.cloudID == "" {
		return nil, ErrNoCloudID
	}

	query := url.Values{}
	query.Set("cql", fmt.Sprintf(`text ~ %q`, text))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			Excerpt string `json:"excerpt"`
			URL     string `json:"url"`
		} `json:"results"`
	}
	path := fmt.Sprintf("/ex/confluence/%s/wiki/rest/api/search", c.cloudID)
	if err := c.Request(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}

	results := make([]DocResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, DocResult{Title: r.Title, URL: r.URL, Excerpt: r.Excerpt})
	}
	return results, nil
}
