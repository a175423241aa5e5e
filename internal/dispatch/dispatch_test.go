package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
	"github.com/fyrsmithlabs/supportd/internal/a2a/a2atest"
	"github.com/fyrsmithlabs/supportd/internal/registry"
	"github.com/fyrsmithlabs/supportd/internal/telemetry"
)

func fastConfig() Config {
	return Config{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		MaxAttempts:     200,
		Deadline:        3 * time.Second,
		CancelTimeout:   time.Second,
	}
}

// recorder collects observer updates.
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) observe(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) states() []a2a.TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]a2a.TaskState, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.State
	}
	return out
}

func setup(t *testing.T, providers ...*a2atest.Provider) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, p := range providers {
		_, err := reg.Register(context.Background(), p.URL, "")
		require.NoError(t, err)
	}
	return reg
}

func TestDispatch_Completes(t *testing.T) {
	p := a2atest.New(t, "Response Agent", a2atest.Echo("re: "))
	rec := &recorder{}
	d := New(setup(t, p), fastConfig(), WithObserver(rec.observe))

	res, err := d.Dispatch(context.Background(), Request{
		Provider:    "Response Agent",
		Text:        "where is my order",
		ContextID:   "conv-1",
		TicketID:    "ticket-1",
		PriorTaskID: "task-0",
		Stage:       "synthesize",
	})
	require.NoError(t, err)
	assert.Equal(t, "re: where is my order", res.Text)
	assert.Equal(t, a2a.StateCompleted, res.State)
	assert.NotEmpty(t, res.TaskID)
	assert.Positive(t, res.Polls)

	req := p.Requests()[0]
	assert.Equal(t, "conv-1", req.Message.ContextID)
	assert.Equal(t, "task-0", req.Message.TaskID)
	assert.Equal(t, "ticket-1", req.Metadata["ticket_id"])
	assert.Equal(t, "synthesize", req.Metadata["stage"])

	states := rec.states()
	require.NotEmpty(t, states)
	assert.Equal(t, a2a.StateSubmitted, states[0])
	assert.Equal(t, a2a.StateCompleted, states[len(states)-1])
	for i := 1; i < len(states); i++ {
		assert.True(t, states[i-1].Advances(states[i]), "%s -> %s", states[i-1], states[i])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	dispatchID := rec.updates[0].DispatchID
	require.NotEmpty(t, dispatchID)
	for _, u := range rec.updates {
		assert.Equal(t, dispatchID, u.DispatchID)
		assert.Equal(t, res.TaskID, u.TaskID)
	}
}

func TestDispatch_UnknownProvider(t *testing.T) {
	p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"))
	q := a2atest.New(t, "Memory Agent", a2atest.Reply("ok"))
	d := New(setup(t, p, q), fastConfig())

	_, err := d.Dispatch(context.Background(), Request{Provider: "Billing Agent", Text: "x"})
	require.ErrorIs(t, err, ErrUnknownProvider)

	var upe *UnknownProviderError
	require.True(t, errors.As(err, &upe))
	assert.Equal(t, "Billing Agent", upe.Name)
	assert.Equal(t, []string{"Intent Agent", "Memory Agent"}, upe.Available)
	assert.Contains(t, err.Error(), "Intent Agent, Memory Agent")
	assert.Empty(t, p.Requests())

	assert.NoError(t, d.Check("Intent Agent", "Memory Agent"))
	assert.ErrorIs(t, d.Check("Intent Agent", "RAG Agent"), ErrUnknownProvider)
}

func TestDispatch_EmptyInput(t *testing.T) {
	p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"))
	d := New(setup(t, p), fastConfig())

	_, err := d.Dispatch(context.Background(), Request{Provider: "Intent Agent"})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, p.Requests())
}

func TestDispatch_TaskFailed(t *testing.T) {
	p := a2atest.New(t, "RAG Agent", a2atest.Fail("index offline"))
	rec := &recorder{}
	d := New(setup(t, p), fastConfig(), WithObserver(rec.observe))

	res, err := d.Dispatch(context.Background(), Request{Provider: "RAG Agent", Text: "refund policy"})
	require.ErrorIs(t, err, ErrTaskFailed)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "index offline")
	require.NotNil(t, res)
	assert.NotEmpty(t, res.TaskID)

	states := rec.states()
	assert.Equal(t, a2a.StateFailed, states[len(states)-1])
}

func TestDispatch_ProtocolViolation(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"), a2atest.WithSendStatus(http.StatusBadGateway))
		d := New(setup(t, p), fastConfig())

		res, err := d.Dispatch(context.Background(), Request{Provider: "Intent Agent", Text: "hi"})
		assert.ErrorIs(t, err, ErrProtocolViolation)
		assert.Nil(t, res)
		assert.Len(t, p.Requests(), 1)
	})

	t.Run("not a task handle", func(t *testing.T) {
		p := a2atest.New(t, "Intent Agent", a2atest.Reply("ok"), a2atest.WithMalformedSend())
		d := New(setup(t, p), fastConfig())

		_, err := d.Dispatch(context.Background(), Request{Provider: "Intent Agent", Text: "hi"})
		assert.ErrorIs(t, err, ErrProtocolViolation)
		assert.Len(t, p.Requests(), 1)
	})
}

func TestDispatch_TimeoutOnAttempts(t *testing.T) {
	p := a2atest.New(t, "Memory Agent", a2atest.Hang())
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	d := New(setup(t, p), cfg)
	res, err := d.Dispatch(context.Background(), Request{Provider: "Memory Agent", Text: "recall"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrTaskFailed)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, 1, p.Cancels())
}

func TestDispatch_TimeoutOnDeadline(t *testing.T) {
	p := a2atest.New(t, "Memory Agent", a2atest.Hang())
	cfg := fastConfig()
	cfg.MaxAttempts = 0
	cfg.Deadline = 100 * time.Millisecond

	d := New(setup(t, p), cfg)
	start := time.Now()
	_, err := d.Dispatch(context.Background(), Request{Provider: "Memory Agent", Text: "recall"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_CallerCancel(t *testing.T) {
	p := a2atest.New(t, "Reasoning Agent", a2atest.Hang())
	rec := &recorder{}
	cfg := fastConfig()
	cfg.Deadline = time.Minute
	d := New(setup(t, p), cfg, WithObserver(rec.observe))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := d.Dispatch(ctx, Request{Provider: "Reasoning Agent", Text: "correlate"})
	require.ErrorIs(t, err, ErrCanceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, p.Cancels())

	states := rec.states()
	assert.Equal(t, a2a.StateCanceled, states[len(states)-1])
}

// multiArtifactProvider serves a task that completes with two artifacts.
func multiArtifactProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a2a.CardPath, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(a2a.AgentCard{Name: "Ingestion Agent"})
	})
	mux.HandleFunc("POST /tasks", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(a2a.Task{ID: "t-1", Status: a2a.TaskStatus{State: a2a.StateSubmitted}})
	})
	mux.HandleFunc("GET /tasks/t-1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(a2a.Task{
			ID:     "t-1",
			Status: a2a.TaskStatus{State: a2a.StateCompleted},
			Artifacts: []a2a.Artifact{
				{Parts: []a2a.Part{a2a.TextPart("title: login broken")}},
				{Parts: []a2a.Part{{Kind: a2a.PartFile, File: &a2a.FileRef{URI: "file:///tmp/x"}}, a2a.TextPart("priority: P1")}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_ConcatenatesArtifacts(t *testing.T) {
	srv := multiArtifactProvider(t)
	reg := registry.New()
	_, err := reg.Register(context.Background(), srv.URL, "")
	require.NoError(t, err)

	res, err := New(reg, fastConfig()).Dispatch(context.Background(), Request{Provider: "Ingestion Agent", Text: "help"})
	require.NoError(t, err)
	assert.Equal(t, "title: login broken\npriority: P1", res.Text)
}

func TestDispatch_Telemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	p := a2atest.New(t, "Intent Agent", a2atest.Reply("billing"))
	d := New(setup(t, p), fastConfig(), WithTelemetry(tel.Telemetry))

	_, err := d.Dispatch(context.Background(), Request{Provider: "Intent Agent", Text: "charged twice"})
	require.NoError(t, err)

	tel.AssertSpanExists(t, "dispatch.Dispatch")
	tel.AssertSpanAttribute(t, "dispatch.Dispatch", "provider", "Intent Agent")

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)
	_, ok := telemetry.FindMetric(rm, "supportd.dispatch.outcomes")
	assert.True(t, ok)
}
