package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// ListTool returns the requesting user's tasks.
type ListTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewListTool creates a list_tasks tool backed by the given store.
func NewListTool(store task.Store, logger *slog.Logger) *ListTool {
	return &ListTool{store: store, logger: logger}
}

func (t *ListTool) Name() string { return "list_tasks" }

func (t *ListTool) Description() string {
	return "List the user's tasks, newest first. Use the status filter to show only " +
		"open ('pending') or finished ('done') tasks; omit it to show everything."
}

func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{string(task.StatusPending), string(task.StatusDone)},
				"description": "Optional status filter",
			},
		},
	}
}

func (t *ListTool) Validate(params map[string]any) error {
	return validateStatus(params)
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	var filter task.Filter
	if s, ok := params["status"].(string); ok {
		filter.Status = task.Status(s)
	}

	items, err := t.store.List(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	payload := make([]map[string]any, len(items))
	for i, tk := range items {
		payload[i] = taskPayload(tk)
	}

	return map[string]any{"tasks": payload, "count": len(payload)}, nil
}
