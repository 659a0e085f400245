package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// UpdateTool modifies fields of an existing task.
type UpdateTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewUpdateTool creates an update_task tool backed by the given store.
func NewUpdateTool(store task.Store, logger *slog.Logger) *UpdateTool {
	return &UpdateTool{store: store, logger: logger}
}

func (t *UpdateTool) Name() string { return "update_task" }

func (t *UpdateTool) Description() string {
	return "Update an existing task's title, notes, status or due date. Only the " +
		"fields provided are changed; everything else is left as-is."
}

func (t *UpdateTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "integer",
				"description": "Numeric id of the task to update",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "New title",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "New notes; an empty string clears them",
			},
			"status": map[string]any{
				"type":        "string",
				"enum":        []string{string(task.StatusPending), string(task.StatusDone)},
				"description": "New status",
			},
			"due_date": map[string]any{
				"type":        "string",
				"description": "New due date as an RFC 3339 timestamp or YYYY-MM-DD date",
			},
		},
		"required": []string{"id"},
	}
}

func (t *UpdateTool) Validate(params map[string]any) error {
	if _, err := requireID(params); err != nil {
		return err
	}
	if v, ok := params["title"]; ok {
		s, sok := v.(string)
		if !sok || s == "" {
			return fmt.Errorf("parameter title must be a non-empty string")
		}
		if len(s) > maxTitleLen {
			return fmt.Errorf("title must be %d characters or fewer", maxTitleLen)
		}
	}
	if err := validateStatus(params); err != nil {
		return err
	}
	if err := validateDueDate(params); err != nil {
		return err
	}
	if !hasUpdatableField(params) {
		return fmt.Errorf("at least one of title, notes, status or due_date is required")
	}
	return nil
}

func hasUpdatableField(params map[string]any) bool {
	for _, key := range []string{"title", "notes", "status", "due_date"} {
		if _, ok := params[key]; ok {
			return true
		}
	}
	return false
}

func (t *UpdateTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	id, _ := requireID(params)

	var patch task.Patch
	if s, ok := params["title"].(string); ok {
		patch.Title = &s
	}
	if s, ok := params["notes"].(string); ok {
		patch.Notes = &s
	}
	if s, ok := params["status"].(string); ok {
		status := task.Status(s)
		patch.Status = &status
	}
	if s, ok := params["due_date"].(string); ok && s != "" {
		due, err := parseDueDate(s)
		if err != nil {
			return nil, err
		}
		patch.DueDate = &due
	}

	tk, err := t.store.Update(ctx, id, userID, patch)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "task updated via tool",
		slog.Int64("task_id", id),
		slog.String("user_id", userID),
	)

	return taskPayload(tk), nil
}
