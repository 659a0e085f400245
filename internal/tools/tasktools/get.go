package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// GetTool fetches a single task by id.
type GetTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewGetTool creates a get_task tool backed by the given store.
func NewGetTool(store task.Store, logger *slog.Logger) *GetTool {
	return &GetTool{store: store, logger: logger}
}

func (t *GetTool) Name() string { return "get_task" }

func (t *GetTool) Description() string {
	return "Fetch a single task by its numeric id, including notes and due date."
}

func (t *GetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "integer",
				"description": "Numeric id of the task",
			},
		},
		"required": []string{"id"},
	}
}

func (t *GetTool) Validate(params map[string]any) error {
	_, err := requireID(params)
	return err
}

func (t *GetTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	id, _ := requireID(params)

	tk, err := t.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	return taskPayload(tk), nil
}
