package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/workflow"
)

// Runner executes the processing workflow for one capture event.
type Runner interface {
	Run(ctx context.Context, ev workflow.Event) (*workflow.Outcome, error)
}

// ProcessInput contains parameters for the Process operation.
type ProcessInput struct {
	UserID string
	ID     string
}

// ProcessOutput contains the result of the Process operation.
type ProcessOutput struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Process runs the workflow for one of the user's items and waits for it to
// finish. Items another run currently holds are rejected with CONFLICT.
func Process(ctx context.Context, database *sql.DB, runner Runner, input ProcessInput) (*ProcessOutput, error) {
	if runner == nil {
		return nil, errors.NewInvalidRequest("processing is not configured")
	}
	userID, err := ValidateUser(input.UserID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	it, err := db.GetItem(ctx, database, userID, id)
	if err != nil {
		return nil, err
	}
	if it.Status == item.StatusProcessing {
		return nil, errors.NewConflict("item is already being processed: " + id)
	}

	outcome, err := runner.Run(ctx, workflow.EventFor(it))
	if err != nil {
		return nil, err
	}
	return &ProcessOutput{
		ID:       it.ID,
		Status:   outcome.Status,
		Attempts: outcome.Attempts,
		Error:    outcome.Error,
	}, nil
}
