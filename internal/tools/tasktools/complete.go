package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// CompleteTool marks a task as done.
type CompleteTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewCompleteTool creates a complete_task tool backed by the given store.
func NewCompleteTool(store task.Store, logger *slog.Logger) *CompleteTool {
	return &CompleteTool{store: store, logger: logger}
}

func (t *CompleteTool) Name() string { return "complete_task" }

func (t *CompleteTool) Description() string {
	return "Mark a task as done. Use this when the user says they finished something."
}

func (t *CompleteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "integer",
				"description": "Numeric id of the task to complete",
			},
		},
		"required": []string{"id"},
	}
}

func (t *CompleteTool) Validate(params map[string]any) error {
	_, err := requireID(params)
	return err
}

func (t *CompleteTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	id, _ := requireID(params)

	done := task.StatusDone
	tk, err := t.store.Update(ctx, id, userID, task.Patch{Status: &done})
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "task completed via tool",
		slog.Int64("task_id", id),
		slog.String("user_id", userID),
	)

	return taskPayload(tk), nil
}
