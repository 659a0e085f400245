// Package tasktools implements the task management tools the assistant
// calls on behalf of users. The LLM converts natural language like
// "remind me to buy milk tomorrow" into structured create_task calls.
// Every tool resolves the owning user from the execution context, never
// from model-supplied arguments.
package tasktools

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// maxTitleLen caps task titles; longer values are rejected at validation.
const maxTitleLen = 500

// RegisterAll registers every task tool on the given registry.
// Called once at startup; the registry panics on duplicates.
func RegisterAll(reg *tools.Registry, store task.Store, logger *slog.Logger) {
	reg.Register(NewCreateTool(store, logger))
	reg.Register(NewListTool(store, logger))
	reg.Register(NewGetTool(store, logger))
	reg.Register(NewUpdateTool(store, logger))
	reg.Register(NewCompleteTool(store, logger))
	reg.Register(NewDeleteTool(store, logger))
}

// taskPayload shapes a task into the data object returned to the model.
func taskPayload(t *task.Task) map[string]any {
	payload := map[string]any{
		"id":         t.ID,
		"title":      t.Title,
		"status":     string(t.Status),
		"created_at": t.CreatedAt.Format(time.RFC3339),
		"updated_at": t.UpdatedAt.Format(time.RFC3339),
	}
	if t.Notes != "" {
		payload["notes"] = t.Notes
	}
	if t.DueDate != nil {
		payload["due_date"] = t.DueDate.Format(time.RFC3339)
	}
	return payload
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}

// requireID extracts the task id. JSON numbers arrive as float64.
func requireID(params map[string]any) (int64, error) {
	v, ok := params["id"]
	if !ok {
		return 0, fmt.Errorf("missing required parameter: id")
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("parameter id must be an integer, got %T", v)
	}
}

// parseDueDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date.
func parseDueDate(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due_date must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	return ts.UTC(), nil
}

// validateDueDate checks the optional due_date parameter if present.
func validateDueDate(params map[string]any) error {
	v, ok := params["due_date"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("parameter due_date must be a string, got %T", v)
	}
	_, err := parseDueDate(s)
	return err
}

// validateStatus checks the optional status parameter if present.
func validateStatus(params map[string]any) error {
	v, ok := params["status"]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("parameter status must be a string, got %T", v)
	}
	if !task.Status(s).Valid() {
		return fmt.Errorf("status must be %q or %q", task.StatusPending, task.StatusDone)
	}
	return nil
}
