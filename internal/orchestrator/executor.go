package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/supportd/internal/dispatch"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/supportd/internal/orchestrator"

// Dispatcher sends one stage to one provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
	Check(names ...string) error
}

// Orchestrator drives tickets through the pipeline.
type Orchestrator struct {
	dispatcher Dispatcher
	ledger     Ledger
	cfg        Config
	plan       ExecutionPlan
	logger     *logging.Logger
	tracer     trace.Tracer
	runs       metric.Int64Counter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTelemetry sets the tracer and meter source.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.tracer = t.Tracer(instrumentationName)
		o.initMetrics(t.Meter(instrumentationName))
	}
}

// New creates an Orchestrator.
func New(d Dispatcher, l Ledger, cfg Config, opts ...Option) (*Orchestrator, error) {
	if d == nil || l == nil {
		return nil, errors.New("orchestrator: dispatcher and ledger are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var tel *telemetry.Telemetry
	o := &Orchestrator{
		dispatcher: d,
		ledger:     l,
		cfg:        cfg,
		plan:       cfg.Plan(),
		logger:     logging.NewNop(),
		tracer:     tel.Tracer(instrumentationName),
	}
	o.initMetrics(tel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) initMetrics(m metric.Meter) {
	o.runs, _ = m.Int64Counter("supportd.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
	)
}

// Plan returns the execution plan used for every ticket.
func (o *Orchestrator) Plan() ExecutionPlan { return o.plan }

// Preflight verifies that every required stage has a registered provider.
// The error is a *StageError wrapping a *dispatch.UnknownProviderError.
func (o *Orchestrator) Preflight() error {
	for _, step := range o.plan.Steps {
		for _, sp := range step {
			if !sp.Required {
				continue
			}
			if err := o.dispatcher.Check(sp.Provider); err != nil {
				return &StageError{Stage: sp.Stage, Provider: sp.Provider, Err: err}
			}
		}
	}
	return nil
}

// Run executes the pipeline for one request. On a required-stage failure
// it returns the partial Outcome with a *StageError and the ticket is
// escalated. A synthesis without text fails with ErrEmptyDraft. On success
// the ticket stays in progress until Finish.
func (o *Orchestrator) Run(ctx context.Context, req Request) (out *Outcome, err error) {
	if req.Text == "" {
		return nil, ErrEmptyRequest
	}
	if req.ContextID == "" {
		req.ContextID = uuid.NewString()
	}
	ctx = logging.WithConversationID(ctx, req.ContextID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("conversation.id", req.ContextID),
	))
	defer func() {
		result := "completed"
		if err != nil {
			result = "aborted"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
		span.End()
	}()

	out = &Outcome{ContextID: req.ContextID, Plan: o.plan, req: req}

	if err := o.Preflight(); err != nil {
		return out, err
	}

	ticket := &ledger.Ticket{ContextID: req.ContextID, Status: ledger.TicketInProgress}
	initial := fallbackTicket(req.Text)
	ticket.Title, ticket.Description = initial.Title, req.Text
	if err := o.ledger.CreateTicket(ctx, ticket); err != nil {
		return out, fmt.Errorf("create ticket: %w", err)
	}
	out.TicketID = ticket.ID
	out.Ticket = TicketFields{Title: ticket.Title, Description: ticket.Description, Priority: ticket.Priority}
	ctx = logging.WithTicketID(ctx, ticket.ID)
	span.SetAttributes(attribute.String("ticket.id", ticket.ID))

	if err := o.ledger.SavePlan(ctx, &ledger.Plan{
		TicketID:    ticket.ID,
		Description: o.plan.Description,
		Stages:      o.plan.stageList(),
	}); err != nil {
		o.logger.Warn(ctx, "failed to record execution plan", zap.Error(err))
	}

	r := &run{o: o, req: req, out: out}
	if err := r.execute(ctx); err != nil {
		o.escalate(ctx, ticket.ID, err)
		return out, err
	}

	o.logger.Info(ctx, "pipeline completed",
		zap.Strings("agents_used", out.AgentsUsed),
		zap.Int("notes", len(out.Notes)),
	)
	return out, nil
}

// Finish closes the ticket of out after the response was delivered
// (resolved) or withheld (escalated). delivered is the text the user
// received after the output guardrail. For a resolved ticket it is
// stored with the memory provider when resolution storage is enabled;
// withheld responses are never stored.
func (o *Orchestrator) Finish(ctx context.Context, out *Outcome, status ledger.TicketStatus, delivered string) error {
	if out == nil || out.TicketID == "" {
		return fmt.Errorf("%w: no ticket to finish", ledger.ErrInvalid)
	}
	ctx = logging.WithTicketID(ctx, out.TicketID)
	if status == ledger.TicketResolved && o.cfg.StoreResolution && strings.TrimSpace(delivered) != "" {
		r := &run{o: o, req: out.req, out: out}
		out.add(r.stage(ctx, StageStoreResolution,
			storeResolutionInput(out.TicketID, out.ContextID, out.Ticket, out, delivered), ""))
	}
	return o.closeTicket(ctx, out.TicketID, status)
}

func (o *Orchestrator) closeTicket(ctx context.Context, ticketID string, status ledger.TicketStatus) error {
	_, err := o.ledger.UpdateTicket(context.WithoutCancel(ctx), ticketID, ledger.TicketUpdate{Status: &status})
	return err
}

func (o *Orchestrator) escalate(ctx context.Context, ticketID string, cause error) {
	if err := o.closeTicket(ctx, ticketID, ledger.TicketEscalated); err != nil {
		o.logger.Warn(ctx, "failed to escalate ticket", zap.Error(err))
	}
	o.logger.Warn(ctx, "pipeline aborted, ticket escalated", zap.Error(cause))
}

// run holds the state of one ticket.
type run struct {
	o   *Orchestrator
	req Request
	out *Outcome
}

func (r *run) execute(ctx context.Context) error {
	o, out := r.o, r.out

	// Normalize.
	res := r.stage(ctx, StageNormalize, normalizeInput(r.req.Text), "")
	out.add(res)
	if res.err != nil {
		return res.abort()
	}
	out.Ticket = ParseTicket(res.Output)
	r.updateTicket(ctx, ledger.TicketUpdate{
		Title:       &out.Ticket.Title,
		Description: &out.Ticket.Description,
		Priority:    &out.Ticket.Priority,
	})

	// Barrier: every member runs to a terminal outcome before any result
	// is read. Members never fail the group.
	barrier := []StageSpec{o.cfg.spec(StageClassify), o.cfg.spec(StageKnowledge), o.cfg.spec(StageMemory)}
	inputs := []string{classifyInput(out.Ticket), knowledgeInput(out.Ticket), memoryInput(out.Ticket, r.req.ContextID)}
	results := make([]StageResult, len(barrier))
	var g errgroup.Group
	for i, sp := range barrier {
		g.Go(func() error {
			results[i] = r.stage(ctx, sp.Stage, inputs[i], "")
			return nil
		})
	}
	_ = g.Wait()
	for _, res := range results {
		out.add(res)
	}
	if results[0].err != nil {
		return results[0].abort()
	}
	c := ParseClassification(results[0].Output)
	out.Classification = &c
	if c.Urgency.Valid() {
		r.updateTicket(ctx, ledger.TicketUpdate{Priority: &c.Urgency})
		out.Ticket.Priority = c.Urgency
	}

	// Reasoning (auxiliary).
	out.add(r.stage(ctx, StageReasoning, reasoningInput(out.Ticket, out), ""))

	// Synthesis continues the conversation's previous reply when there is one.
	var prior string
	if t, err := o.ledger.LastCompletedTask(ctx, r.req.ContextID, string(StageSynthesize)); err == nil {
		prior = t.RemoteID
	}
	res = r.stage(ctx, StageSynthesize, synthesizeInput(out.Ticket, out), prior)
	if res.err == nil && strings.TrimSpace(res.Output) == "" {
		res.Status = StageFailed
		res.err = ErrEmptyDraft
		res.Error = ErrEmptyDraft.Error()
		r.progress(Progress{Stage: res.Stage, Provider: res.Provider, State: ProgressFailed, Message: res.Error})
	}
	out.add(res)
	if res.err != nil {
		return res.abort()
	}
	out.Draft = res.Output
	return nil
}

// stage dispatches one stage and reports progress. Auxiliary stages with
// no provider configured are skipped.
func (r *run) stage(ctx context.Context, s Stage, input, prior string) StageResult {
	o := r.o
	sp := o.cfg.spec(s)
	res := StageResult{Stage: s, Provider: sp.Provider}
	if sp.Provider == "" {
		res.Status = StageSkipped
		r.progress(Progress{Stage: s, State: ProgressSkipped, Message: "no provider configured"})
		return res
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.stage", trace.WithAttributes(
		attribute.String("stage", string(s)),
		attribute.String("provider", sp.Provider),
		attribute.Bool("required", sp.Required),
	))
	defer span.End()

	r.progress(Progress{Stage: s, Provider: sp.Provider, State: ProgressStarted})
	start := time.Now()
	dr, err := o.dispatcher.Dispatch(ctx, dispatch.Request{
		Provider:    sp.Provider,
		Text:        input,
		ContextID:   r.req.ContextID,
		TicketID:    r.out.TicketID,
		PriorTaskID: prior,
		Stage:       string(s),
	})
	res.Duration = time.Since(start)
	if dr != nil {
		res.TaskID = dr.TaskID
	}
	res.dispatched = !errors.Is(err, dispatch.ErrUnknownProvider) && !errors.Is(err, dispatch.ErrEmptyInput)

	if err != nil {
		res.Status = StageFailed
		res.Error = err.Error()
		res.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.progress(Progress{Stage: s, Provider: sp.Provider, State: ProgressFailed, Message: err.Error()})
		if !sp.Required {
			o.logger.Warn(ctx, "auxiliary stage degraded",
				zap.String("stage", string(s)),
				zap.String("provider", sp.Provider),
				zap.Error(err),
			)
		}
		return res
	}

	res.Status = StageCompleted
	res.Output = dr.Text
	r.progress(Progress{Stage: s, Provider: sp.Provider, State: ProgressCompleted})
	return res
}

func (res StageResult) abort() error {
	return &StageError{Stage: res.Stage, Provider: res.Provider, Err: res.err}
}

func (r *run) progress(p Progress) {
	if r.req.Progress != nil {
		r.req.Progress(p)
	}
}

func (r *run) updateTicket(ctx context.Context, u ledger.TicketUpdate) {
	if _, err := r.o.ledger.UpdateTicket(ctx, r.out.TicketID, u); err != nil {
		r.o.logger.Warn(ctx, "failed to update ticket", zap.Error(err))
	}
}
