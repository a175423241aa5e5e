// Package chat handles one inbound support message end to end: input
// guardrail, pipeline, output guardrail and ticket closure. Progress is
// published to the event bus for streaming clients.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/dispatch"
	"github.com/fyrsmithlabs/supportd/internal/events"
	"github.com/fyrsmithlabs/supportd/internal/guardrail"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/orchestrator"
)

// EscalationMessage is shown when no automated response could be produced.
const EscalationMessage = "We couldn't complete an automated response for your request. Your ticket has been escalated to a support specialist who will follow up shortly."

// CanceledMessage is shown when the caller canceled the conversation.
const CanceledMessage = "Your request was canceled."

// Response statuses.
const (
	StatusResolved  = "resolved"
	StatusEscalated = "escalated"
	StatusRejected  = "rejected"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Error codes beyond the guardrail codes.
const (
	CodeUnavailable    = "unavailable"
	CodePipelineFailed = "pipeline_failed"
	CodeTimeout        = "timeout"
	CodeCanceled       = "canceled"
)

var (
	// ErrRejected means the input guardrail refused the message.
	ErrRejected = errors.New("message rejected")

	// ErrInvalidConversation rejects a malformed conversation id.
	ErrInvalidConversation = errors.New("invalid conversation id")

	// ErrUnavailable means a required provider is not registered.
	ErrUnavailable = errors.New("pipeline unavailable")
)

// Pipeline runs the stage sequence for a ticket. Finish closes the ticket
// with the text the user actually received.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Outcome, error)
	Finish(ctx context.Context, out *orchestrator.Outcome, status ledger.TicketStatus, delivered string) error
}

// Publisher sends conversation events.
type Publisher interface {
	Publish(conversationID, eventType string, payload any) error
}

// Request is one inbound chat message.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Response is the reply to a chat message.
type Response struct {
	Success        bool     `json:"success"`
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	TicketID       string   `json:"ticket_id,omitempty"`
	ResponseText   string   `json:"response_text"`
	Status         string   `json:"status"`
	AgentsUsed     []string `json:"agents_used"`
	ErrorCode      string   `json:"error_code,omitempty"`
	Notes          []string `json:"notes,omitempty"`
}

// Service processes chat messages. It is safe for concurrent use.
type Service struct {
	guard     *guardrail.Guard
	pipeline  Pipeline
	publisher Publisher
	sessions  *events.Sessions
	logger    *logging.Logger
	timeout   time.Duration
	metrics   *Metrics

	input  atomic.Pointer[guardrail.InputOptions]
	output atomic.Pointer[guardrail.OutputOptions]
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where progress events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSessions shares an active-session set, e.g. with the HTTP layer.
func WithSessions(sess *events.Sessions) Option {
	return func(s *Service) {
		if sess != nil {
			s.sessions = sess
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout bounds one message end to end.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithInputOptions overrides the input guardrail options.
func WithInputOptions(o guardrail.InputOptions) Option {
	return func(s *Service) { s.input.Store(&o) }
}

// WithOutputOptions overrides the output guardrail options.
func WithOutputOptions(o guardrail.OutputOptions) Option {
	return func(s *Service) { s.output.Store(&o) }
}

// NewService creates a Service.
func NewService(guard *guardrail.Guard, pipeline Pipeline, opts ...Option) *Service {
	s := &Service{
		guard:    guard,
		pipeline: pipeline,
		sessions: events.NewSessions(),
		logger:   logging.NewNop(),
		metrics:  NewMetrics(),
	}
	in, out := guardrail.DefaultInputOptions(), guardrail.DefaultOutputOptions()
	s.input.Store(&in)
	s.output.Store(&out)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions returns the active-session set.
func (s *Service) Sessions() *events.Sessions { return s.sessions }

// Reload applies guardrail settings from a reloaded configuration. In-flight
// requests keep the options they started with.
func (s *Service) Reload(cfg *config.Config) {
	in := guardrail.InputOptionsFromConfig(cfg.Input)
	out := guardrail.OutputOptionsFromConfig(cfg.Output)
	s.input.Store(&in)
	s.output.Store(&out)
	s.logger.Info(context.Background(), "guardrail settings reloaded",
		zap.Int("blocklist", len(in.Blocklist)),
		zap.String("sensitive_mode", string(out.SensitiveMode)),
	)
}

// InputOptions returns the current input options.
func (s *Service) InputOptions() guardrail.InputOptions { return *s.input.Load() }

// OutputOptions returns the current output options.
func (s *Service) OutputOptions() guardrail.OutputOptions { return *s.output.Load() }

// Cancel cancels the in-flight request of a conversation.
func (s *Service) Cancel(conversationID string) bool {
	ok := s.sessions.Cancel(conversationID)
	if ok {
		s.logger.Info(logging.WithConversationID(context.Background(), conversationID), "conversation canceled")
	}
	return ok
}

// Call is a conversation claimed by Begin and not yet run.
type Call struct {
	s       *Service
	ctx     context.Context
	req     Request
	release func()
}

// Begin claims the conversation of req. It fails with
// ErrInvalidConversation or events.ErrSessionActive. The caller must Run
// or Release the Call.
func (s *Service) Begin(ctx context.Context, req Request) (*Call, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if !events.ValidConversationID(req.ConversationID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConversation, req.ConversationID)
	}
	ctx, release, err := s.sessions.Begin(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return &Call{s: s, ctx: ctx, req: req, release: release}, nil
}

// ConversationID returns the claimed conversation.
func (c *Call) ConversationID() string { return c.req.ConversationID }

// Release gives up the conversation without running the message.
func (c *Call) Release() { c.release() }

// Handle processes one message. The returned Response is nil only for
// ErrInvalidConversation and events.ErrSessionActive; every other outcome,
// including rejection and escalation, comes back as a Response. The error
// is non-nil when the message did not resolve: ErrRejected, ErrUnavailable,
// or the pipeline failure.
func (s *Service) Handle(ctx context.Context, req Request) (*Response, error) {
	call, err := s.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return call.Run()
}

// Run processes the claimed message and releases the conversation. It
// never returns a nil Response.
func (c *Call) Run() (*Response, error) {
	s, convID := c.s, c.req.ConversationID
	defer c.release()

	ctx := c.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx = logging.WithConversationID(ctx, convID)

	resp := &Response{MessageID: uuid.NewString(), ConversationID: convID, AgentsUsed: []string{}}
	start := time.Now()
	defer func() {
		// Free the conversation before done so a client may send its next
		// message as soon as the stream ends.
		c.release()
		s.metrics.observe(resp.Status, time.Since(start).Seconds())
		s.publish(ctx, convID, events.TypeMessage, resp)
		s.publish(ctx, convID, events.TypeDone, doneEvent{Status: resp.Status, TicketID: resp.TicketID})
	}()

	err := s.handle(ctx, c.req.Message, resp)
	if err != nil {
		s.publish(ctx, convID, events.TypeError, errorEvent{Code: resp.ErrorCode, Message: resp.ResponseText})
	}
	return resp, err
}

func (s *Service) handle(ctx context.Context, message string, resp *Response) error {
	convID := resp.ConversationID
	s.publish(ctx, convID, events.TypeStatus, statusEvent{Message: "Validating your request"})

	in := s.guard.ValidateInput(ctx, message, s.InputOptions())
	if !in.Success {
		resp.Status = StatusRejected
		resp.ErrorCode = in.Code.String()
		resp.ResponseText = in.Message
		return fmt.Errorf("%w: %s", ErrRejected, in.Code)
	}

	s.publish(ctx, convID, events.TypeStatus, statusEvent{Message: "Working on your ticket"})
	out, err := s.pipeline.Run(ctx, orchestrator.Request{
		Text:      in.TextOr(message),
		ContextID: convID,
		Progress: func(p orchestrator.Progress) {
			s.publish(ctx, convID, events.TypeAgent, p)
		},
	})
	if out != nil {
		resp.TicketID = out.TicketID
		resp.Notes = out.Notes
		if len(out.AgentsUsed) > 0 {
			resp.AgentsUsed = out.AgentsUsed
		}
	}
	if err != nil {
		return s.failed(ctx, resp, err)
	}

	if strings.TrimSpace(out.Draft) == "" {
		s.finish(ctx, out, ledger.TicketEscalated, "")
		return s.failed(ctx, resp, orchestrator.ErrEmptyDraft)
	}

	s.publish(ctx, convID, events.TypeStatus, statusEvent{Message: "Reviewing the response"})
	checked := s.guard.ValidateOutput(ctx, out.Draft, s.OutputOptions())
	resp.Success = true
	resp.ResponseText = checked.Text
	resp.Status = StatusResolved
	status := ledger.TicketResolved
	if checked.Blocked {
		resp.Status = StatusEscalated
		status = ledger.TicketEscalated
	}
	s.finish(ctx, out, status, checked.Text)
	if len(out.AgentsUsed) > 0 {
		resp.AgentsUsed = out.AgentsUsed
	}
	resp.Notes = out.Notes
	return nil
}

func (s *Service) finish(ctx context.Context, out *orchestrator.Outcome, status ledger.TicketStatus, delivered string) {
	if err := s.pipeline.Finish(ctx, out, status, delivered); err != nil {
		s.logger.Warn(logging.WithTicketID(ctx, out.TicketID), "failed to close ticket", zap.Error(err))
	}
}

// failed fills resp for a pipeline error. The ticket, when one was
// created, is already escalated.
func (s *Service) failed(ctx context.Context, resp *Response, err error) error {
	resp.Status = StatusEscalated
	resp.ResponseText = EscalationMessage
	resp.ErrorCode = CodePipelineFailed

	switch {
	case errors.Is(err, dispatch.ErrUnknownProvider):
		resp.Status = StatusFailed
		resp.ErrorCode = CodeUnavailable
		s.logger.Warn(ctx, "pipeline unavailable", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, dispatch.ErrCanceled) || errors.Is(context.Cause(ctx), events.ErrSessionCanceled):
		resp.Status = StatusCanceled
		resp.ErrorCode = CodeCanceled
		resp.ResponseText = CanceledMessage
	case errors.Is(err, dispatch.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		resp.ErrorCode = CodeTimeout
	}
	if resp.TicketID == "" && resp.Status == StatusEscalated {
		resp.Status = StatusFailed
	}
	s.logger.Warn(ctx, "ticket not resolved",
		zap.String("status", resp.Status),
		zap.String("code", resp.ErrorCode),
		zap.Error(err),
	)
	return err
}

func (s *Service) publish(ctx context.Context, convID, eventType string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(convID, eventType, payload); err != nil {
		s.logger.Debug(ctx, "failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

type statusEvent struct {
	Message string `json:"message"`
}

type errorEvent struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

type doneEvent struct {
	Status   string `json:"status"`
	TicketID string `json:"ticket_id,omitempty"`
}
