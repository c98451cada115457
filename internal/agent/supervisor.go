// Package agent implements the conversation supervisor: it classifies each
// incoming turn, dispatches it to an intent handler, and checkpoints the
// resulting state per thread.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/atlathelper/internal/agent/checkpoint"
	"github.com/atlathelper/internal/agent/handlers"
	"github.com/atlathelper/internal/agent/router"
	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/agent/ticket"
	"github.com/atlathelper/internal/logging"
)

var log = logging.Component("agent")

// ModelFactory builds a chat model, honoring per-request overrides.
type ModelFactory interface {
	Model(ctx context.Context, overrides map[string]string) (llms.Model, error)
}

// Request is one user turn.
type Request struct {
	ThreadID string
	Message  string
	// Config carries per-request model overrides (model_provider,
	// model_name, api_key, base_url).
	Config map[string]string
}

// EventType identifies a turn event.
type EventType string

const (
	EventStart   EventType = "start"
	EventIntent  EventType = "intent"
	EventToken   EventType = "token"
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventEnd     EventType = "end"
)

// Event is one entry in a turn's event stream.
type Event struct {
	Type     EventType    `json:"type"`
	ThreadID string       `json:"thread_id,omitempty"`
	Intent   state.Intent `json:"intent,omitempty"`
	Content  string       `json:"content,omitempty"`
}

// Result is the outcome of a synchronous turn.
type Result struct {
	ThreadID string       `json:"thread_id"`
	Intent   state.Intent `json:"intent"`
	Response string       `json:"response"`
}

// Supervisor routes turns to handlers and owns turn-level concurrency:
// turns on the same thread run one at a time.
type Supervisor struct {
	models      ModelFactory
	checkpoints checkpoint.Saver

	ticketH     *ticket.Handler
	confluenceH *handlers.Confluence
	boardH      *handlers.Board
	generalH    *handlers.General

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// NewSupervisor wires the supervisor with its handlers.
func NewSupervisor(models ModelFactory, checkpoints checkpoint.Saver, ticketH *ticket.Handler, confluenceH *handlers.Confluence) *Supervisor {
	return &Supervisor{
		models:      models,
		checkpoints: checkpoints,
		ticketH:     ticketH,
		confluenceH: confluenceH,
		boardH:      handlers.NewBoard(),
		generalH:    handlers.NewGeneral(),
		threads:     make(map[string]*sync.Mutex),
	}
}

// threadLock returns the mutex guarding one thread's turns.
func (s *Supervisor) threadLock(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.threads[threadID]
	if !ok {
		m = &sync.Mutex{}
		s.threads[threadID] = m
	}
	return m
}

// Run executes one turn, emitting events on the returned channel. Every
// stream finishes with an end event (errors included) before the channel
// closes; a cancelled context closes it early.
func (s *Supervisor) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		s.run(ctx, req, events)
	}()
	return events
}

// RunSync executes one turn and returns the final assistant response.
func (s *Supervisor) RunSync(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	var errMsg string
	var tokens string
	for ev := range s.Run(ctx, req) {
		switch ev.Type {
		case EventStart:
			res.ThreadID = ev.ThreadID
		case EventIntent:
			res.Intent = ev.Intent
		case EventToken:
			tokens += ev.Content
		case EventMessage:
			res.Response = ev.Content
		case EventError:
			errMsg = ev.Content
		}
	}
	if errMsg != "" {
		return nil, fmt.Errorf("%s", errMsg)
	}
	if res.Response == "" {
		res.Response = tokens
	}
	return res, nil
}

func (s *Supervisor) run(ctx context.Context, req Request, events chan<- Event) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	lock := s.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	// A consumer that stops reading (client disconnect mid-stream) must
	// not wedge the thread; sends race the turn context.
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	emit(Event{Type: EventStart, ThreadID: threadID})

	fail := func(err error) {
		log.Error().Str("thread_id", threadID).Err(err).Msg("turn failed")
		if emit(Event{Type: EventError, ThreadID: threadID, Content: err.Error()}) {
			emit(Event{Type: EventEnd, ThreadID: threadID})
		}
	}

	st, err := s.checkpoints.Load(ctx, threadID)
	if err != nil {
		fail(err)
		return
	}
	if st == nil {
		st = state.New()
	}
	st.AppendUser(req.Message)

	model, err := s.models.Model(ctx, req.Config)
	if err != nil {
		fail(err)
		return
	}

	intent, shortCircuit, err := router.Classify(ctx, model, st)
	if err != nil {
		// State stays unpersisted so a retry re-runs the whole turn.
		fail(err)
		return
	}
	st.Intent = intent
	if !shortCircuit {
		emit(Event{Type: EventIntent, ThreadID: threadID, Intent: intent})
	}

	before := len(st.Messages)
	tokensEmitted := false

	switch intent {
	case state.IntentTicket:
		err = s.ticketH.Handle(ctx, model, st)
	case state.IntentConfluence:
		err = s.confluenceH.Handle(ctx, model, st)
	case state.IntentBoard:
		err = s.boardH.Handle(ctx, model, st)
	default:
		err = s.generalH.Handle(ctx, model, st, func(tok string) {
			tokensEmitted = true
			emit(Event{Type: EventToken, ThreadID: threadID, Content: tok})
		})
	}
	if err != nil {
		fail(err)
		return
	}

	if err := st.Validate(); err != nil {
		fail(fmt.Errorf("turn produced invalid state: %w", err))
		return
	}
	if err := s.checkpoints.Save(ctx, threadID, st); err != nil {
		fail(err)
		return
	}

	// Assistant messages appended this turn, except the last one when its
	// content already went out token by token.
	appended := st.Messages[before:]
	for i, m := range appended {
		if m.Role != state.RoleAssistant || m.Content == "" {
			continue
		}
		if tokensEmitted && i == len(appended)-1 {
			continue
		}
		if !emit(Event{Type: EventMessage, ThreadID: threadID, Content: m.Content}) {
			return
		}
	}

	emit(Event{Type: EventEnd, ThreadID: threadID})
}
