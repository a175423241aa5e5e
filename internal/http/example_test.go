package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/fyrsmithlabs/supportd/internal/chat"
	"github.com/fyrsmithlabs/supportd/internal/guardrail"
	httpserver "github.com/fyrsmithlabs/supportd/internal/http"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
	"github.com/fyrsmithlabs/supportd/internal/logging"
	"github.com/fyrsmithlabs/supportd/internal/orchestrator"
	"github.com/fyrsmithlabs/supportd/internal/registry"
)

type cannedPipeline struct{}

func (cannedPipeline) Run(_ context.Context, req orchestrator.Request) (*orchestrator.Outcome, error) {
	return &orchestrator.Outcome{TicketID: "t-1", ContextID: req.ContextID, Draft: "Thanks, we're on it."}, nil
}

func (cannedPipeline) Finish(context.Context, *orchestrator.Outcome, ledger.TicketStatus, string) error {
	return nil
}

// ExampleServer demonstrates wiring the server and checking its health.
func ExampleServer() {
	svc := chat.NewService(guardrail.New(nil), cannedPipeline{})
	server, err := httpserver.NewServer(svc, registry.New(), logging.NewNop(), nil)
	if err != nil {
		panic(err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	fmt.Println(rec.Code)
	// Output: 200
}
