package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/supportd/internal/dispatch"
	"github.com/fyrsmithlabs/supportd/internal/ledger"
	"github.com/fyrsmithlabs/supportd/internal/logging"
)

// TaskRecorder persists task transitions. *ledger.Store implements it.
type TaskRecorder interface {
	RecordTask(ctx context.Context, t ledger.Task) error
}

// RecordTasks returns a dispatch observer that writes every task
// transition to the ledger. Write failures are logged and otherwise
// ignored so a ledger problem never fails a dispatch.
func RecordTasks(store TaskRecorder, logger *logging.Logger) dispatch.Observer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context, u dispatch.Update) {
		t := ledger.Task{
			ID:         u.DispatchID,
			RemoteID:   u.TaskID,
			ContextID:  u.ContextID,
			TicketID:   u.TicketID,
			Provider:   u.Provider,
			Stage:      u.Stage,
			Status:     u.State,
			Input:      u.Input,
			Output:     u.Output,
			DurationMS: u.Duration.Milliseconds(),
		}
		if u.Err != nil {
			t.ErrorMessage = u.Err.Error()
		}
		if err := store.RecordTask(ctx, t); err != nil {
			logger.Warn(ctx, "failed to record task",
				zap.String("dispatch_id", u.DispatchID),
				zap.String("task_id", u.TaskID),
				zap.String("state", string(u.State)),
				zap.Error(err),
			)
		}
	}
}
