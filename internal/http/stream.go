package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/chat"
	"github.com/fyrsmithlabs/supportd/internal/events"
)

type chatResult struct {
	resp *chat.Response
	err  error
}

// handleStream runs a chat message and relays its events as SSE. The
// stream always ends with a done event.
func (s *Server) handleStream(c echo.Context) error {
	req := chat.Request{
		Message:        c.QueryParam("message"),
		ConversationID: c.QueryParam("conversation_id"),
	}
	if c.Request().Method == http.MethodPost {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if !events.ValidConversationID(req.ConversationID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conversation_id")
	}

	// Claim the conversation first; a busy stream must not subscribe.
	call, err := s.chat.Begin(c.Request().Context(), req)
	if err != nil {
		startStream(c)
		return writeLocalFailure(c, req.ConversationID, err)
	}

	var sub *events.Subscription
	if s.events != nil {
		sub, err = s.events.Subscribe(req.ConversationID)
		if err != nil {
			s.logger.Warn(c.Request().Context(), "event subscription failed, streaming final message only", zap.Error(err))
		} else {
			defer sub.Close()
		}
	}

	startStream(c)

	ctx := c.Request().Context()
	results := make(chan chatResult, 1)
	go func() {
		resp, err := call.Run()
		results <- chatResult{resp, err}
	}()

	if sub == nil {
		return s.streamFinal(ctx, c, req.ConversationID, results)
	}
	return s.relay(ctx, c, sub, req.ConversationID, results)
}

func startStream(c echo.Context) {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
}

// relay forwards bus events until done. After the handler returns it waits
// at most StreamGrace for the remaining events.
func (s *Server) relay(ctx context.Context, c echo.Context, sub *events.Subscription, convID string, results <-chan chatResult) error {
	heartbeat := time.NewTicker(s.config.Heartbeat)
	defer heartbeat.Stop()
	var grace <-chan time.Time

	for {
		select {
		case msg := <-sub.C():
			ev := events.Parse(msg)
			if err := writeEvent(c, ev.Type, ev.Data); err != nil {
				return nil
			}
			if ev.Type == events.TypeDone {
				return nil
			}
		case res := <-results:
			if res.resp == nil {
				return writeLocalFailure(c, convID, res.err)
			}
			grace = time.After(s.config.StreamGrace)
		case <-grace:
			s.logger.Debug(ctx, "stream grace expired before done event")
			return writeJSONEvent(c, events.TypeDone, map[string]string{"status": "unknown"})
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Response(), ": heartbeat\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

// streamFinal is used without an event bus: only the final message is sent.
func (s *Server) streamFinal(ctx context.Context, c echo.Context, convID string, results <-chan chatResult) error {
	select {
	case res := <-results:
		if res.resp == nil {
			return writeLocalFailure(c, convID, res.err)
		}
		if res.err != nil {
			_ = writeJSONEvent(c, events.TypeError, map[string]string{
				"error_code": res.resp.ErrorCode,
				"message":    res.resp.ResponseText,
			})
		}
		if err := writeJSONEvent(c, events.TypeMessage, res.resp); err != nil {
			return nil
		}
		return writeJSONEvent(c, events.TypeDone, map[string]string{
			"status":    res.resp.Status,
			"ticket_id": res.resp.TicketID,
		})
	case <-ctx.Done():
		return nil
	}
}

// writeLocalFailure reports errors that were never published, such as a
// busy conversation.
func writeLocalFailure(c echo.Context, convID string, err error) error {
	code, status := "internal", chat.StatusFailed
	msg := "chat request failed"
	switch {
	case errors.Is(err, events.ErrSessionActive):
		code, msg = "conversation_busy", "conversation already has an active request"
	case errors.Is(err, chat.ErrInvalidConversation):
		code, msg = "invalid", "invalid conversation_id"
	}
	_ = writeJSONEvent(c, events.TypeError, map[string]string{"error_code": code, "message": msg, "conversation_id": convID})
	return writeJSONEvent(c, events.TypeDone, map[string]string{"status": status})
}

func writeJSONEvent(c echo.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writeEvent(c, eventType, data)
}

func writeEvent(c echo.Context, eventType string, data []byte) error {
	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}
