// Package dispatch sends one task to one provider and waits for it to
// reach a terminal state.
//
// The wait polls task status with exponential backoff, bounded by a
// maximum number of attempts and an overall deadline. It stops as soon
// as the caller's context is canceled and then asks the provider to
// cancel the task.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
	"github.com/fyrsmithlabs/supportd/internal/config"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/registry"
	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/supportd/internal/dispatch"

// Resolver looks up provider connections.
type Resolver interface {
	Resolve(name string) (*registry.Connection, error)
	Names() []string
}

// Config bounds the poll loop.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     uint
	Deadline        time.Duration
	// CancelTimeout bounds the best-effort remote cancel after the wait stops.
	CancelTimeout time.Duration
}

// DefaultConfig polls from 500ms up to 5s intervals for at most two minutes.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		MaxAttempts:     120,
		Deadline:        2 * time.Minute,
		CancelTimeout:   5 * time.Second,
	}
}

// FromAppConfig converts the dispatch config section.
func FromAppConfig(c config.DispatchConfig) Config {
	cfg := DefaultConfig()
	if c.InitialInterval > 0 {
		cfg.InitialInterval = c.InitialInterval.Duration()
	}
	if c.MaxInterval > 0 {
		cfg.MaxInterval = c.MaxInterval.Duration()
	}
	if c.Multiplier >= 1 {
		cfg.Multiplier = c.Multiplier
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.Deadline > 0 {
		cfg.Deadline = c.Deadline.Duration()
	}
	return cfg
}

// Request describes one stage dispatch.
type Request struct {
	Provider    string
	Text        string
	ContextID   string
	TicketID    string
	PriorTaskID string
	// Stage labels the dispatch in traces and status updates.
	Stage string
}

// Result is a completed dispatch.
type Result struct {
	TaskID   string
	Provider string
	Text     string
	State    a2a.TaskState
	Polls    int
	Duration time.Duration
}

// Update reports a task status change to an Observer.
type Update struct {
	// DispatchID is generated locally and is the same for every update of
	// one dispatch. TaskID is the provider's own task id.
	DispatchID string
	TaskID     string
	Provider   string
	Stage      string
	ContextID  string
	TicketID   string
	Input      string
	State      a2a.TaskState
	Output     string
	Err        error
	Duration   time.Duration
}

// Observer receives task status changes, for example to persist them.
// It is called synchronously from the dispatching goroutine.
type Observer func(ctx context.Context, u Update)

// Dispatcher runs the send-then-poll protocol against registered providers.
type Dispatcher struct {
	resolver Resolver
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	observer Observer

	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTelemetry sets the tracer and meter source.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Dispatcher) {
		d.tracer = t.Tracer(instrumentationName)
		d.initMetrics(t.Meter(instrumentationName))
	}
}

// WithObserver sets the status observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// New creates a Dispatcher.
func New(resolver Resolver, cfg Config, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = def.CancelTimeout
	}

	var tel *telemetry.Telemetry
	d := &Dispatcher{
		resolver: resolver,
		cfg:      cfg,
		logger:   logging.NewNop(),
		tracer:   tel.Tracer(instrumentationName),
	}
	d.initMetrics(tel.Meter(instrumentationName))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) initMetrics(m metric.Meter) {
	d.duration, _ = m.Float64Histogram("supportd.dispatch.duration",
		metric.WithDescription("Time from task creation to terminal outcome"),
		metric.WithUnit("s"),
	)
	d.outcomes, _ = m.Int64Counter("supportd.dispatch.outcomes",
		metric.WithDescription("Dispatch outcomes by provider and result"),
	)
}

// Check verifies every name is registered. It returns an
// *UnknownProviderError for the first missing name.
func (d *Dispatcher) Check(names ...string) error {
	for _, name := range names {
		if _, err := d.resolver.Resolve(name); err != nil {
			return &UnknownProviderError{Name: name, Available: d.resolver.Names()}
		}
	}
	return nil
}

// errNotTerminal keeps the poll loop going.
var errNotTerminal = errors.New("task not terminal")

// errDeadline is the cause attached to the wait deadline.
var errDeadline = errors.New("dispatch deadline exceeded")

// Dispatch sends req.Text to req.Provider and waits for the outcome. When
// the task was created but did not complete, the returned Result still
// carries its TaskID.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("provider", req.Provider),
		attribute.String("stage", req.Stage),
	))
	defer span.End()

	res, err := d.dispatch(ctx, req)

	outcome := outcomeOf(err)
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", req.Provider),
		attribute.String("outcome", outcome),
	))
	if res != nil {
		span.SetAttributes(attribute.String("task.id", res.TaskID), attribute.Int("polls", res.Polls))
		d.duration.Record(ctx, res.Duration.Seconds(), metric.WithAttributes(
			attribute.String("provider", req.Provider),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		d.logger.Warn(ctx, "dispatch failed",
			zap.String("provider", req.Provider),
			zap.String("stage", req.Stage),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.Text == "" {
		return nil, ErrEmptyInput
	}
	conn, err := d.resolver.Resolve(req.Provider)
	if err != nil {
		return nil, &UnknownProviderError{Name: req.Provider, Available: d.resolver.Names()}
	}
	client := conn.Client()

	start := time.Now()
	task, err := client.SendTask(ctx, d.sendRequest(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		return nil, fmt.Errorf("%w: send to %s: %v", ErrProtocolViolation, req.Provider, err)
	}

	res := &Result{TaskID: task.ID, Provider: req.Provider, State: task.Status.State}
	update := Update{
		DispatchID: uuid.NewString(),
		TaskID:     task.ID,
		Provider:   req.Provider,
		Stage:      req.Stage,
		ContextID:  req.ContextID,
		TicketID:   req.TicketID,
		Input:      req.Text,
		State:      task.Status.State,
	}
	d.notify(ctx, update)

	final, err := d.wait(ctx, client, task, res, update)
	res.Duration = time.Since(start)
	update.Duration = res.Duration

	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCanceled) {
			d.cancelRemote(ctx, client, task.ID)
			update.State = a2a.StateCanceled
		} else if final != nil {
			update.State = final.Status.State
		} else {
			update.State = a2a.StateFailed
		}
		update.Err = err
		d.notify(ctx, update)
		return res, err
	}

	res.State = final.Status.State
	res.Text = final.ArtifactText()
	update.State = res.State
	update.Output = res.Text
	d.notify(ctx, update)
	return res, nil
}

func (d *Dispatcher) sendRequest(req Request) a2a.SendTaskRequest {
	out := a2a.SendTaskRequest{
		Message: a2a.Message{
			Role:      a2a.RoleUser,
			MessageID: uuid.NewString(),
			ContextID: req.ContextID,
			TaskID:    req.PriorTaskID,
			Parts:     []a2a.Part{a2a.TextPart(req.Text)},
		},
	}
	if req.TicketID != "" || req.Stage != "" {
		out.Metadata = map[string]string{}
		if req.TicketID != "" {
			out.Metadata["ticket_id"] = req.TicketID
		}
		if req.Stage != "" {
			out.Metadata["stage"] = req.Stage
		}
	}
	return out
}

// wait polls until the task is terminal. Failed and canceled tasks return
// the final task along with ErrTaskFailed.
func (d *Dispatcher) wait(ctx context.Context, client *a2a.Client, initial *a2a.Task, res *Result, update Update) (*a2a.Task, error) {
	if initial.Status.State.Terminal() {
		return initial, terminalErr(initial)
	}

	wctx, cancel := context.WithTimeoutCause(ctx, d.cfg.Deadline, errDeadline)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialInterval
	eb.MaxInterval = d.cfg.MaxInterval
	eb.Multiplier = d.cfg.Multiplier
	eb.RandomizationFactor = 0.1
	eb.Reset()

	last := initial.Status.State
	poll := func() (*a2a.Task, error) {
		res.Polls++
		task, err := client.GetTask(wctx, initial.ID)
		if err != nil {
			if wctx.Err() != nil {
				return nil, backoff.Permanent(context.Cause(wctx))
			}
			if transient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: poll %s: %v", ErrProtocolViolation, initial.ID, err))
		}
		if task.Status.State != last {
			last = task.Status.State
			if !task.Status.State.Terminal() {
				u := update
				u.State = last
				d.notify(ctx, u)
			}
		}
		if !task.Status.State.Terminal() {
			return nil, errNotTerminal
		}
		return task, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxElapsedTime(d.cfg.Deadline),
	}
	if d.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(d.cfg.MaxAttempts))
	}

	// Wait before the first poll; the send just returned a fresh task.
	if err := sleep(wctx, d.cfg.InitialInterval); err != nil {
		return nil, d.waitErr(ctx, wctx, err)
	}

	task, err := backoff.Retry(wctx, poll, opts...)
	if err != nil {
		return nil, d.waitErr(ctx, wctx, err)
	}
	return task, terminalErr(task)
}

// waitErr classifies why the poll loop stopped.
func (d *Dispatcher) waitErr(ctx, wctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
	case errors.Is(context.Cause(wctx), errDeadline), errors.Is(err, errDeadline):
		return fmt.Errorf("%w: deadline %s", ErrTimeout, d.cfg.Deadline)
	case errors.Is(err, errNotTerminal):
		return fmt.Errorf("%w: attempt budget exhausted", ErrTimeout)
	case errors.Is(err, ErrProtocolViolation):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
}

func terminalErr(task *a2a.Task) error {
	switch task.Status.State {
	case a2a.StateCompleted:
		return nil
	case a2a.StateFailed, a2a.StateCanceled:
		msg := task.StatusText()
		if msg == "" {
			msg = string(task.Status.State)
		}
		return fmt.Errorf("%w: %s", ErrTaskFailed, msg)
	default:
		return fmt.Errorf("%w: unexpected state %s", ErrProtocolViolation, task.Status.State)
	}
}

// transient reports whether a poll error is worth retrying.
func transient(err error) bool {
	var se *a2a.StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, a2a.ErrMalformed)
}

// cancelRemote asks the provider to stop a task we no longer wait for.
func (d *Dispatcher) cancelRemote(ctx context.Context, client *a2a.Client, taskID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CancelTimeout)
	defer cancel()
	if err := client.CancelTask(cctx, taskID); err != nil {
		d.logger.Debug(ctx, "remote cancel failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (d *Dispatcher) notify(ctx context.Context, u Update) {
	if d.observer != nil {
		d.observer(context.WithoutCancel(ctx), u)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrTaskFailed):
		return "task_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "error"
	}
}
