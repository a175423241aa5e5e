package a2a

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/logging"
)

// Executor produces the artifact text for one task. Returning an error
// fails the task with the error text as status message. ctx is canceled
// when the task is canceled or the server closes.
type Executor func(ctx context.Context, req SendTaskRequest) (string, error)

// Server hosts one provider: it accepts tasks, runs them asynchronously
// through an Executor and serves their status.
type Server struct {
	card   AgentCard
	exec   Executor
	logger *logging.Logger
	echo   *echo.Echo

	mu      sync.Mutex
	tasks   map[string]*Task
	cancels map[string]context.CancelFunc

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a provider server. A nil logger discards output.
func NewServer(card AgentCard, exec Executor, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, stop := context.WithCancel(context.Background())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		card:    card,
		exec:    exec,
		logger:  logger.Named("a2a"),
		echo:    e,
		tasks:   make(map[string]*Task),
		cancels: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		stop:    stop,
	}
	s.Register(e)
	return s
}

// Register mounts the protocol routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET(CardPath, s.handleCard)
	e.POST("/tasks", s.handleSend)
	e.GET("/tasks/:id", s.handleGet)
	e.POST("/tasks/:id/cancel", s.handleCancel)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// SetURL sets the URL advertised in the agent card.
func (s *Server) SetURL(u string) {
	s.mu.Lock()
	s.card.URL = u
	s.mu.Unlock()
}

// Close cancels running tasks and waits for their executors to return.
func (s *Server) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Server) handleCard(c echo.Context) error {
	s.mu.Lock()
	card := s.card
	s.mu.Unlock()
	return c.JSON(http.StatusOK, card)
}

func (s *Server) handleSend(c echo.Context) error {
	var req SendTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid task request")
	}
	if req.Message.Text() == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message must contain text")
	}

	contextID := req.Message.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	task := &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Status:    TaskStatus{State: StateSubmitted, Timestamp: time.Now().UTC()},
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.cancels[task.ID] = cancel
	snapshot := cloneTask(task)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, task.ID, req)

	s.logger.Debug(c.Request().Context(), "task accepted", zap.String("task_id", task.ID))
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) run(ctx context.Context, id string, req SendTaskRequest) {
	defer s.wg.Done()
	defer s.release(id)

	s.transition(id, StateWorking, nil, nil)

	text, err := s.exec(ctx, req)
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		s.transition(id, StateCanceled, nil, nil)
	case err != nil:
		msg := &Message{Role: RoleAgent, MessageID: uuid.NewString(), Parts: []Part{TextPart(err.Error())}}
		s.transition(id, StateFailed, msg, nil)
	default:
		artifact := Artifact{ArtifactID: uuid.NewString(), Parts: []Part{TextPart(text)}}
		s.transition(id, StateCompleted, nil, []Artifact{artifact})
	}
}

func (s *Server) release(id string) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

// transition moves a task forward. Backward or post-terminal moves are ignored.
func (s *Server) transition(id string, next TaskState, msg *Message, artifacts []Artifact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || !task.Status.State.Advances(next) {
		return false
	}
	task.Status = TaskStatus{State: next, Message: msg, Timestamp: time.Now().UTC()}
	if artifacts != nil {
		task.Artifacts = artifacts
	}
	return true
}

func (s *Server) handleGet(c echo.Context) error {
	s.mu.Lock()
	task, ok := s.tasks[c.Param("id")]
	var snapshot *Task
	if ok {
		snapshot = cloneTask(task)
	}
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleCancel(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	_, ok := s.tasks[id]
	cancel := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}

	s.transition(id, StateCanceled, nil, nil)
	if cancel != nil {
		cancel()
	}
	s.logger.Debug(c.Request().Context(), "task canceled", zap.String("task_id", id))

	s.mu.Lock()
	snapshot := cloneTask(s.tasks[id])
	s.mu.Unlock()
	return c.JSON(http.StatusOK, snapshot)
}

func cloneTask(t *Task) *Task {
	cp := *t
	cp.Artifacts = append([]Artifact(nil), t.Artifacts...)
	return &cp
}
