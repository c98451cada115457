// Package ticket handles Jira issue requests. A turn walks an explicit
// progression: connect the Atlassian account, resolve which Jira site to
// act on, then let the model call issue tools. Site resolution can pause
// the conversation until the user picks a site.
package ticket

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/agent/toolloop"
	"github.com/atlathelper/internal/atlassian"
	"github.com/atlathelper/internal/logging"
	"github.com/atlathelper/internal/token"
)

var log = logging.Component("ticket")

// User-facing messages for the connection and site-resolution steps.
const (
	msgNotConnected = "Atlassian not connected. Please connect your Atlassian account first, then try again."
	msgNoSites      = "Your Atlassian account has no Jira sites. Create or join a site, then try again."
)

// contextKeyCloudID is where the resolved site id lives in thread context.
const contextKeyCloudID = "cloud_id"

const systemPrompt = `You are a Jira assistant. Use the available tools to
search for and create issues on the user's behalf. Summarize tool results
in plain language and include issue keys when you mention issues.`

// Backend is the slice of the Atlassian API the ticket tools need.
type Backend interface {
	ListSites(ctx context.Context) ([]atlassian.Site, error)
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]atlassian.Issue, error)
	CreateIssue(ctx context.Context, req atlassian.CreateIssueRequest) (*atlassian.Issue, error)
}

// BackendFactory builds a backend bound to a credential and, when already
// known, a site. onRefresh is invoked when the backend rotates the token
// so the new credential can be persisted.
type BackendFactory func(cred token.Credential, cloudID string, onRefresh func(token.Credential)) Backend

// Handler serves ticket-intent turns.
type Handler struct {
	tokens  token.Store
	backend BackendFactory
}

// NewHandler returns a ticket handler reading credentials from tokens and
// talking to Atlassian through backends built by factory.
func NewHandler(tokens token.Store, factory BackendFactory) *Handler {
	return &Handler{tokens: tokens, backend: factory}
}

// Handle runs one ticket turn, appending its responses to st.
func (h *Handler) Handle(ctx context.Context, model llms.Model, st *state.State) error {
	cred, err := h.tokens.Get(ctx)
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if !usable(cred) {
		log.Debug().Msg("no usable Atlassian credential, asking user to connect")
		st.ClearPendingSelection()
		st.AppendAssistant(msgNotConnected)
		return nil
	}

	if st.AwaitingInput == state.AwaitingSiteSelection {
		// The selection turn ends with the confirmation either way; the
		// next message acts against the chosen site.
		return h.resolveSelection(ctx, st)
	}

	if st.GetContext(contextKeyCloudID) == "" {
		done, err := h.resolveSite(ctx, *cred, st)
		if err != nil || done {
			return err
		}
	}

	return h.act(ctx, model, *cred, st)
}

// resolveSelection interprets the user's reply to a pending site prompt.
// A mismatch re-prompts and keeps the marker; a match records the site,
// clears the marker and confirms.
func (h *Handler) resolveSelection(ctx context.Context, st *state.State) error {
	reply := strings.TrimSpace(st.LastUserMessage())
	sites := st.AvailableSites

	site, ok := matchSite(reply, sites)
	if !ok {
		log.Debug().Str("reply", reply).Msg("site selection reply matched nothing, re-prompting")
		st.AppendAssistant(sitePrompt(sites))
		return nil
	}

	st.ClearPendingSelection()
	st.SetContext(contextKeyCloudID, site.ID)
	st.AppendAssistant(fmt.Sprintf("Selected site: **%s**", site.Name))
	log.Debug().Str("cloud_id", site.ID).Str("site", site.Name).Msg("site selected by user")
	return nil
}

// usable reports whether the credential can authenticate a request now or
// be refreshed into one.
func usable(cred *token.Credential) bool {
	if cred == nil {
		return false
	}
	if cred.Expired(time.Now()) && cred.RefreshToken == "" {
		return false
	}
	return true
}

// resolveSite determines which Jira site to act on. It returns done=true
// when the turn ends here (no sites, or the user must choose).
func (h *Handler) resolveSite(ctx context.Context, cred token.Credential, st *state.State) (bool, error) {
	backend := h.backend(cred, "", h.persistRefreshed(ctx))
	sites, err := backend.ListSites(ctx)
	if err != nil {
		return false, fmt.Errorf("list sites: %w", err)
	}

	switch len(sites) {
	case 0:
		st.AppendAssistant(msgNoSites)
		return true, nil
	case 1:
		st.SetContext(contextKeyCloudID, sites[0].ID)
		log.Debug().Str("cloud_id", sites[0].ID).Str("site", sites[0].Name).Msg("single site, auto-selected")
		return false, nil
	default:
		cached := make([]state.Site, len(sites))
		for i, s := range sites {
			cached[i] = state.Site{ID: s.ID, Name: s.Name, URL: s.URL}
		}
		if err := st.SetPendingSelection(cached); err != nil {
			return false, err
		}
		st.AppendAssistant(sitePrompt(cached))
		return true, nil
	}
}

// act runs the tool-calling exchange against the resolved site.
func (h *Handler) act(ctx context.Context, model llms.Model, cred token.Credential, st *state.State) error {
	backend := h.backend(cred, st.GetContext(contextKeyCloudID), h.persistRefreshed(ctx))
	reg := Tools(backend)

	msgs, err := toolloop.Run(ctx, model, systemPrompt, st.Messages, reg)
	if err != nil {
		return fmt.Errorf("ticket turn: %w", err)
	}
	for _, m := range msgs {
		st.Append(m)
	}
	return nil
}

func (h *Handler) persistRefreshed(ctx context.Context) func(token.Credential) {
	return func(cred token.Credential) {
		if err := h.tokens.Save(ctx, cred); err != nil {
			log.Warn().Err(err).Msg("failed to persist refreshed credential")
		}
	}
}

// matchSite resolves a user reply against the cached site list. A bare
// number picks by position (1-based); otherwise the first site whose name
// contains the reply, case-insensitively, wins.
func matchSite(reply string, sites []state.Site) (state.Site, bool) {
	if reply == "" {
		return state.Site{}, false
	}
	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(sites) {
			return sites[n-1], true
		}
		return state.Site{}, false
	}
	needle := strings.ToLower(reply)
	for _, s := range sites {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return s, true
		}
	}
	return state.Site{}, false
}

func sitePrompt(sites []state.Site) string {
	var b strings.Builder
	b.WriteString("Multiple Jira sites found. Which one should I use?\n")
	for i, s := range sites {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Name)
		if s.URL != "" {
			fmt.Fprintf(&b, " (%s)", s.URL)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with a number or the site name.")
	return b.String()
}
