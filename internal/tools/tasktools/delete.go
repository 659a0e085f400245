package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// DeleteTool removes a task permanently.
type DeleteTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewDeleteTool creates a delete_task tool backed by the given store.
func NewDeleteTool(store task.Store, logger *slog.Logger) *DeleteTool {
	return &DeleteTool{store: store, logger: logger}
}

func (t *DeleteTool) Name() string { return "delete_task" }

func (t *DeleteTool) Description() string {
	return "Delete a task permanently. Only use this when the user explicitly asks " +
		"to remove a task; prefer complete_task for finished work."
}

func (t *DeleteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "integer",
				"description": "Numeric id of the task to delete",
			},
		},
		"required": []string{"id"},
	}
}

func (t *DeleteTool) Validate(params map[string]any) error {
	_, err := requireID(params)
	return err
}

func (t *DeleteTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	id, _ := requireID(params)

	if err := t.store.Delete(ctx, id, userID); err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "task deleted via tool",
		slog.Int64("task_id", id),
		slog.String("user_id", userID),
	)

	return map[string]any{"id": id, "deleted": true}, nil
}
