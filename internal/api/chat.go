package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/atlathelper/internal/agent"
)

// ChatRequest is the body of POST /agent/chat and /agent/chat/stream.
type ChatRequest struct {
	Message  string            `json:"message"`
	ThreadID string            `json:"thread_id,omitempty"`
	Config   map[string]string `json:"config,omitempty"`
}

// ChatResponse is the body of a successful POST /agent/chat.
type ChatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
	Intent   string `json:"intent"`
}

func (s *Server) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	res, err := s.agent.RunSync(c.Request().Context(), agent.Request{
		ThreadID: req.ThreadID,
		Message:  req.Message,
		Config:   req.Config,
	})
	if err != nil {
		log.Error().Err(err).Msg("chat turn failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, ChatResponse{
		Response: res.Response,
		ThreadID: res.ThreadID,
		Intent:   string(res.Intent),
	})
}

// chatStream emits the turn's events as server-sent events, one JSON event
// per message.
func (s *Server) chatStream(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, _ := resp.Writer.(http.Flusher)

	for ev := range s.agent.Run(c.Request().Context(), agent.Request{
		ThreadID: req.ThreadID,
		Message:  req.Message,
		Config:   req.Config,
	}) {
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}
