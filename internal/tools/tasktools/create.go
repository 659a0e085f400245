package tasktools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// CreateTool adds a task to the requesting user's list.
type CreateTool struct {
	store  task.Store
	logger *slog.Logger
}

// NewCreateTool creates a create_task tool backed by the given store.
func NewCreateTool(store task.Store, logger *slog.Logger) *CreateTool {
	return &CreateTool{store: store, logger: logger}
}

func (t *CreateTool) Name() string { return "create_task" }

func (t *CreateTool) Description() string {
	return "Create a new task on the user's task list. Use this when the user asks to " +
		"add, remember or be reminded of something. The title should be a short " +
		"imperative phrase (e.g. 'Buy milk'); put any extra detail in notes."
}

func (t *CreateTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{
				"type":        "string",
				"description": "Short title of the task (e.g. 'Buy milk')",
			},
			"notes": map[string]any{
				"type":        "string",
				"description": "Optional longer notes or context for the task",
			},
			"due_date": map[string]any{
				"type":        "string",
				"description": "Optional due date as an RFC 3339 timestamp or YYYY-MM-DD date",
			},
		},
		"required": []string{"title"},
	}
}

func (t *CreateTool) Validate(params map[string]any) error {
	title, err := requireString(params, "title")
	if err != nil {
		return err
	}
	if len(title) > maxTitleLen {
		return fmt.Errorf("title must be %d characters or fewer", maxTitleLen)
	}
	return validateDueDate(params)
}

func (t *CreateTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	userID := tools.UserIDFromContext(ctx)
	if userID == "" {
		return nil, fmt.Errorf("user identity not available in execution context")
	}

	title, _ := requireString(params, "title")
	notes, _ := params["notes"].(string)

	tk := &task.Task{
		UserID: userID,
		Title:  title,
		Notes:  notes,
		Status: task.StatusPending,
	}
	if s, ok := params["due_date"].(string); ok && s != "" {
		due, err := parseDueDate(s)
		if err != nil {
			return nil, err
		}
		tk.DueDate = &due
	}

	if err := t.store.Create(ctx, tk); err != nil {
		return nil, fmt.Errorf("persisting task: %w", err)
	}

	t.logger.InfoContext(ctx, "task created via tool",
		slog.Int64("task_id", tk.ID),
		slog.String("user_id", userID),
		slog.String("title", title),
	)

	return taskPayload(tk), nil
}
