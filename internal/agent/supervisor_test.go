package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/checkpoint"
	"github.com/atlathelper/internal/agent/handlers"
	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/agent/ticket"
	"github.com/atlathelper/internal/atlassian"
	"github.com/atlathelper/internal/token"
)

// scriptedModel replays responses in order across calls.
type scriptedModel struct {
	responses []*llms.ContentResponse
	err       error
	calls     int
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp := m.responses[m.calls%len(m.responses)]
	m.calls++

	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil && len(resp.Choices) > 0 {
		for _, c := range resp.Choices[0].Content {
			if err := opts.StreamingFunc(ctx, []byte(string(c))); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", m.err
}

func text(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}
}

// fixedFactory hands out the same model for every turn.
type fixedFactory struct {
	model llms.Model
}

func (f *fixedFactory) Model(ctx context.Context, overrides map[string]string) (llms.Model, error) {
	return f.model, nil
}

type fakeBackend struct {
	sites  []atlassian.Site
	issues []atlassian.Issue
}

func (f *fakeBackend) ListSites(ctx context.Context) ([]atlassian.Site, error) {
	return f.sites, nil
}

func (f *fakeBackend) SearchIssues(ctx context.Context, jql string, maxResults int) ([]atlassian.Issue, error) {
	return f.issues, nil
}

func (f *fakeBackend) CreateIssue(ctx context.Context, req atlassian.CreateIssueRequest) (*atlassian.Issue, error) {
	return &atlassian.Issue{Key: "PROJ-1"}, nil
}

func newSupervisor(t *testing.T, model llms.Model, backend *fakeBackend, connected bool) (*Supervisor, *checkpoint.MemorySaver) {
	t.Helper()
	tokens := token.NewMemoryStore()
	if connected {
		require.NoError(t, tokens.Save(context.Background(), token.Credential{AccessToken: "a", RefreshToken: "r"}))
	}
	ticketH := ticket.NewHandler(tokens, func(cred token.Credential, cloudID string, onRefresh func(token.Credential)) ticket.Backend {
		return backend
	})
	confluenceH := handlers.NewConfluence(tokens, func(cred token.Credential, onRefresh func(token.Credential)) handlers.DocsSearcher {
		return nil
	})
	saver := checkpoint.NewMemorySaver()
	return NewSupervisor(&fixedFactory{model: model}, saver, ticketH, confluenceH), saver
}

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestGeneralChatTurnEventOrder(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "general_chat"}`),
		text("Hi!"),
	}}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	events := collect(sup.Run(context.Background(), Request{ThreadID: "t1", Message: "hello"}))
	require.GreaterOrEqual(t, len(events), 4)

	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, "t1", events[0].ThreadID)
	assert.Equal(t, EventIntent, events[1].Type)
	assert.Equal(t, state.IntentGeneralChat, events[1].Intent)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)

	// Streamed content arrives as tokens, with no duplicate message event.
	var streamed string
	for _, ev := range events {
		switch ev.Type {
		case EventToken:
			streamed += ev.Content
		case EventMessage:
			t.Fatalf("unexpected message event for streamed response: %q", ev.Content)
		}
	}
	assert.Equal(t, "Hi!", streamed)
}

func TestEmptyThreadIDGetsGenerated(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "general_chat"}`),
		text("Hi!"),
	}}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	res, err := sup.RunSync(context.Background(), Request{Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ThreadID)
	assert.Equal(t, "Hi!", res.Response)
}

func TestUnknownLabelFallsBackToGeneralChat(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "billing"}`),
		text("I can help with Jira and Confluence."),
	}}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	res, err := sup.RunSync(context.Background(), Request{ThreadID: "t1", Message: "pay my invoice"})
	require.NoError(t, err)
	assert.Equal(t, state.IntentGeneralChat, res.Intent)
}

func TestClassifierFailureLeavesStateUnpersisted(t *testing.T) {
	model := &scriptedModel{err: errors.New("model unavailable")}
	sup, saver := newSupervisor(t, model, &fakeBackend{}, false)

	_, err := sup.RunSync(context.Background(), Request{ThreadID: "t1", Message: "hello"})
	require.Error(t, err)

	st, loadErr := saver.Load(context.Background(), "t1")
	require.NoError(t, loadErr)
	assert.Nil(t, st, "failed turn must not checkpoint")
}

func TestFailedTurnStreamStillEnds(t *testing.T) {
	model := &scriptedModel{err: errors.New("model unavailable")}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	events := collect(sup.Run(context.Background(), Request{ThreadID: "t1", Message: "hello"}))
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventError, events[len(events)-2].Type)
	assert.Equal(t, EventEnd, events[len(events)-1].Type, "end closes every stream, errors included")
}

func TestAbandonedStreamReleasesThread(t *testing.T) {
	// Long enough to overflow the event channel buffer when streamed
	// token by token.
	long := strings.Repeat("All work and no play makes Jack a dull boy. ", 4)
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "general_chat"}`),
		text(long),
		text(`{"intent": "general_chat"}`),
		text("Still here."),
	}}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	// Reader takes one event and walks away, like a dropped SSE client.
	ctx, cancel := context.WithCancel(context.Background())
	events := sup.Run(ctx, Request{ThreadID: "t1", Message: "hello"})
	<-events
	cancel()

	// The thread must not stay locked by the abandoned turn.
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := sup.RunSync(context.Background(), Request{ThreadID: "t1", Message: "anyone?"})
		assert.NoError(t, err)
		assert.Equal(t, "Still here.", res.Response)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("thread stayed wedged after the stream consumer went away")
	}
}

func TestTicketTurnPersistsAndAppends(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "ticket"}`),
		text("You have no open issues."),
	}}
	backend := &fakeBackend{sites: []atlassian.Site{{ID: "only", Name: "Only"}}}
	sup, saver := newSupervisor(t, model, backend, true)

	res, err := sup.RunSync(context.Background(), Request{ThreadID: "t1", Message: "my issues"})
	require.NoError(t, err)
	assert.Equal(t, state.IntentTicket, res.Intent)
	assert.Equal(t, "You have no open issues.", res.Response)

	st, err := saver.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "my issues", st.Messages[0].Content)
	assert.Equal(t, "only", st.GetContext("cloud_id"))
}

func TestSiteSelectionSpansTurns(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "ticket"}`),
		text(`{"intent": "ticket"}`),
		text("Here are your issues on Site B."),
	}}
	backend := &fakeBackend{sites: []atlassian.Site{
		{ID: "a", Name: "Site A"},
		{ID: "b", Name: "Site B"},
	}}
	sup, saver := newSupervisor(t, model, backend, true)
	ctx := context.Background()

	// First turn pauses on site selection.
	res, err := sup.RunSync(ctx, Request{ThreadID: "t1", Message: "my issues"})
	require.NoError(t, err)
	assert.Contains(t, res.Response, "Multiple Jira sites found")

	st, err := saver.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, state.AwaitingSiteSelection, st.AwaitingInput)

	// The reply routes back to the ticket handler without reclassification
	// (no intent event) and the turn ends at the confirmation.
	events := collect(sup.Run(ctx, Request{ThreadID: "t1", Message: "site b"}))
	var intents []state.Intent
	var messages []string
	for _, ev := range events {
		if ev.Type == EventIntent {
			intents = append(intents, ev.Intent)
		}
		if ev.Type == EventMessage {
			messages = append(messages, ev.Content)
		}
	}
	assert.Empty(t, intents, "short-circuited turn omits the intent event")
	require.Equal(t, []string{"Selected site: **Site B**"}, messages)

	st, err = saver.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, st.AwaitingInput)
	assert.Equal(t, "b", st.GetContext("cloud_id"))

	// The next turn acts against the chosen site.
	res, err = sup.RunSync(ctx, Request{ThreadID: "t1", Message: "so what are they?"})
	require.NoError(t, err)
	assert.Equal(t, state.IntentTicket, res.Intent)
	assert.Equal(t, "Here are your issues on Site B.", res.Response)
}

func TestTranscriptIsAppendOnlyAcrossTurns(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "general_chat"}`),
		text("First reply."),
		text(`{"intent": "general_chat"}`),
		text("Second reply."),
	}}
	sup, saver := newSupervisor(t, model, &fakeBackend{}, false)
	ctx := context.Background()

	_, err := sup.RunSync(ctx, Request{ThreadID: "t1", Message: "one"})
	require.NoError(t, err)
	st1, err := saver.Load(ctx, "t1")
	require.NoError(t, err)

	_, err = sup.RunSync(ctx, Request{ThreadID: "t1", Message: "two"})
	require.NoError(t, err)
	st2, err := saver.Load(ctx, "t1")
	require.NoError(t, err)

	require.Greater(t, len(st2.Messages), len(st1.Messages))
	assert.Equal(t, st1.Messages, st2.Messages[:len(st1.Messages)])
}

func TestBoardTurn(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		text(`{"intent": "board"}`),
	}}
	sup, _ := newSupervisor(t, model, &fakeBackend{}, false)

	res, err := sup.RunSync(context.Background(), Request{ThreadID: "t1", Message: "sprint status"})
	require.NoError(t, err)
	assert.Equal(t, state.IntentBoard, res.Intent)
	assert.Contains(t, res.Response, "aren't supported yet")
}
