// Package a2atest provides scripted capability providers for tests.
package a2atest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/supportd/internal/a2a"
)

// Provider is a running fake provider.
type Provider struct {
	*httptest.Server
	Name string

	srv *a2a.Server

	mu       sync.Mutex
	requests []a2a.SendTaskRequest
	cancels  int
}

// Option customizes a Provider.
type Option func(*config)

type config struct {
	description string
	sendStatus  int
	malformed   bool
}

// WithDescription sets the agent card description.
func WithDescription(d string) Option {
	return func(c *config) { c.description = d }
}

// WithSendStatus makes POST /tasks fail with the given HTTP status.
func WithSendStatus(code int) Option {
	return func(c *config) { c.sendStatus = code }
}

// WithMalformedSend makes POST /tasks answer 200 with a body that is not a
// task handle.
func WithMalformedSend() Option {
	return func(c *config) { c.malformed = true }
}

// New starts a provider named name whose tasks run exec. It is closed
// when the test ends.
func New(t testing.TB, name string, exec a2a.Executor, opts ...Option) *Provider {
	t.Helper()
	cfg := &config{description: name + " test provider"}
	for _, opt := range opts {
		opt(cfg)
	}

	p := &Provider{Name: name}
	p.srv = a2a.NewServer(a2a.AgentCard{Name: name, Description: cfg.description, Version: "test"}, exec, nil)

	e := p.srv.Echo()
	e.Pre(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodPost && req.URL.Path == "/tasks" {
				raw, err := io.ReadAll(req.Body)
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, err.Error())
				}
				req.Body = io.NopCloser(bytes.NewReader(raw))
				var body a2a.SendTaskRequest
				if err := json.Unmarshal(raw, &body); err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, err.Error())
				}
				p.mu.Lock()
				p.requests = append(p.requests, body)
				p.mu.Unlock()
				switch {
				case cfg.sendStatus != 0:
					return c.String(cfg.sendStatus, "provider unavailable")
				case cfg.malformed:
					return c.JSON(http.StatusOK, map[string]any{"ok": true})
				}
			}
			if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/cancel") {
				p.mu.Lock()
				p.cancels++
				p.mu.Unlock()
			}
			return next(c)
		}
	})

	p.Server = httptest.NewServer(e)
	p.srv.SetURL(p.Server.URL)
	t.Cleanup(func() {
		p.Server.Close()
		p.srv.Close()
	})
	return p
}

// Requests returns the task requests received so far.
func (p *Provider) Requests() []a2a.SendTaskRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]a2a.SendTaskRequest(nil), p.requests...)
}

// LastText returns the text of the most recent task request.
func (p *Provider) LastText() string {
	reqs := p.Requests()
	if len(reqs) == 0 {
		return ""
	}
	return reqs[len(reqs)-1].Message.Text()
}

// Cancels returns how many cancel requests were received.
func (p *Provider) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancels
}

// Reply answers every task with text.
func Reply(text string) a2a.Executor {
	return func(context.Context, a2a.SendTaskRequest) (string, error) {
		return text, nil
	}
}

// Echo answers with prefix followed by the request text.
func Echo(prefix string) a2a.Executor {
	return func(_ context.Context, req a2a.SendTaskRequest) (string, error) {
		return prefix + req.Message.Text(), nil
	}
}

// Fail fails every task with msg.
func Fail(msg string) a2a.Executor {
	return func(context.Context, a2a.SendTaskRequest) (string, error) {
		return "", errors.New(msg)
	}
}

// Hang never finishes a task until it is canceled.
func Hang() a2a.Executor {
	return func(ctx context.Context, _ a2a.SendTaskRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

// Gate blocks each task until release is closed, then replies with text.
func Gate(release <-chan struct{}, text string) a2a.Executor {
	return func(ctx context.Context, _ a2a.SendTaskRequest) (string, error) {
		select {
		case <-release:
			return text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
