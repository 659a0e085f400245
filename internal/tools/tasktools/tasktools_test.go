package tasktools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jkaninda/taskpilot/internal/task"
	"github.com/jkaninda/taskpilot/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userCtx(userID string) context.Context {
	return tools.ContextWithUserID(context.Background(), userID)
}

// --- create_task ---

func TestCreateTool_Execute(t *testing.T) {
	store := newMemStore()
	tool := NewCreateTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T, want map", data)
	}
	if payload["title"] != "Buy milk" {
		t.Errorf("title = %v, want Buy milk", payload["title"])
	}
	if payload["status"] != "pending" {
		t.Errorf("status = %v, want pending", payload["status"])
	}
	id, ok := payload["id"].(int64)
	if !ok || id == 0 {
		t.Errorf("id = %v, want non-zero integer", payload["id"])
	}

	stored, err := store.Get(context.Background(), id, "alice")
	if err != nil {
		t.Fatalf("stored task lookup: %v", err)
	}
	if stored.UserID != "alice" {
		t.Errorf("stored user = %q, want alice", stored.UserID)
	}
}

func TestCreateTool_Validate(t *testing.T) {
	tool := NewCreateTool(newMemStore(), discardLogger())

	if err := tool.Validate(map[string]any{}); err == nil {
		t.Error("expected error for missing title")
	}
	if err := tool.Validate(map[string]any{"title": ""}); err == nil {
		t.Error("expected error for empty title")
	}
	if err := tool.Validate(map[string]any{"title": strings.Repeat("x", maxTitleLen+1)}); err == nil {
		t.Error("expected error for oversized title")
	}
	if err := tool.Validate(map[string]any{"title": "ok", "due_date": "not a date"}); err == nil {
		t.Error("expected error for malformed due_date")
	}
	if err := tool.Validate(map[string]any{"title": "ok", "due_date": "2026-09-01"}); err != nil {
		t.Errorf("plain date should validate: %v", err)
	}
}

func TestCreateTool_DueDate(t *testing.T) {
	store := newMemStore()
	tool := NewCreateTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{
		"title":    "File taxes",
		"due_date": "2026-09-01",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	due, ok := payload["due_date"].(string)
	if !ok || !strings.HasPrefix(due, "2026-09-01") {
		t.Errorf("due_date = %v, want 2026-09-01", payload["due_date"])
	}
}

func TestCreateTool_NoIdentity(t *testing.T) {
	tool := NewCreateTool(newMemStore(), discardLogger())

	_, err := tool.Execute(context.Background(), map[string]any{"title": "Buy milk"})
	if err == nil {
		t.Fatal("expected error without user identity in context")
	}
}

// --- list_tasks ---

func TestListTool_ScopedToUser(t *testing.T) {
	store := newMemStore()
	seedTask(t, store, "alice", "Buy milk", task.StatusPending)
	seedTask(t, store, "alice", "Walk dog", task.StatusDone)
	seedTask(t, store, "bob", "Rob bank", task.StatusPending)

	tool := NewListTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	if payload["count"] != 2 {
		t.Fatalf("count = %v, want 2", payload["count"])
	}
	for _, item := range payload["tasks"].([]map[string]any) {
		if item["title"] == "Rob bank" {
			t.Fatal("another user's task leaked into the listing")
		}
	}
}

func TestListTool_StatusFilter(t *testing.T) {
	store := newMemStore()
	seedTask(t, store, "alice", "Buy milk", task.StatusPending)
	seedTask(t, store, "alice", "Walk dog", task.StatusDone)

	tool := NewListTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{"status": "done"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	items := payload["tasks"].([]map[string]any)
	if len(items) != 1 || items[0]["title"] != "Walk dog" {
		t.Errorf("filtered tasks = %v, want only Walk dog", items)
	}
}

func TestListTool_Validate(t *testing.T) {
	tool := NewListTool(newMemStore(), discardLogger())

	if err := tool.Validate(map[string]any{"status": "archived"}); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := tool.Validate(map[string]any{}); err != nil {
		t.Errorf("empty params should validate: %v", err)
	}
}

// --- get_task ---

func TestGetTool_NotFoundAcrossUsers(t *testing.T) {
	store := newMemStore()
	id := seedTask(t, store, "bob", "Secret plan", task.StatusPending)

	tool := NewGetTool(store, discardLogger())

	_, err := tool.Execute(userCtx("alice"), map[string]any{"id": float64(id)})
	if !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

// --- update_task ---

func TestUpdateTool_Validate(t *testing.T) {
	tool := NewUpdateTool(newMemStore(), discardLogger())

	if err := tool.Validate(map[string]any{"id": float64(1)}); err == nil {
		t.Error("expected error when no updatable field is given")
	}
	if err := tool.Validate(map[string]any{"id": float64(1), "status": "archived"}); err == nil {
		t.Error("expected error for unknown status")
	}
	if err := tool.Validate(map[string]any{"title": "x"}); err == nil {
		t.Error("expected error for missing id")
	}
	if err := tool.Validate(map[string]any{"id": float64(1), "notes": "more detail"}); err != nil {
		t.Errorf("notes-only update should validate: %v", err)
	}
}

func TestUpdateTool_Execute(t *testing.T) {
	store := newMemStore()
	id := seedTask(t, store, "alice", "Buy milk", task.StatusPending)

	tool := NewUpdateTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{
		"id":    float64(id),
		"title": "Buy oat milk",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	if payload["title"] != "Buy oat milk" {
		t.Errorf("title = %v, want Buy oat milk", payload["title"])
	}
	if payload["status"] != "pending" {
		t.Errorf("status = %v, want pending (unchanged)", payload["status"])
	}
}

// --- complete_task ---

func TestCompleteTool_Execute(t *testing.T) {
	store := newMemStore()
	id := seedTask(t, store, "alice", "Buy milk", task.StatusPending)

	tool := NewCompleteTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{"id": float64(id)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	if payload["status"] != "done" {
		t.Errorf("status = %v, want done", payload["status"])
	}
}

// --- delete_task ---

func TestDeleteTool_Execute(t *testing.T) {
	store := newMemStore()
	id := seedTask(t, store, "alice", "Buy milk", task.StatusPending)

	tool := NewDeleteTool(store, discardLogger())

	data, err := tool.Execute(userCtx("alice"), map[string]any{"id": float64(id)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	payload := data.(map[string]any)
	if payload["deleted"] != true {
		t.Errorf("deleted = %v, want true", payload["deleted"])
	}

	if _, err := store.Get(context.Background(), id, "alice"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("task still present after delete: %v", err)
	}
}

func TestDeleteTool_OtherUsersTask(t *testing.T) {
	store := newMemStore()
	id := seedTask(t, store, "bob", "Secret plan", task.StatusPending)

	tool := NewDeleteTool(store, discardLogger())

	if _, err := tool.Execute(userCtx("alice"), map[string]any{"id": float64(id)}); !errors.Is(err, task.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}

	// Bob's task survives.
	if _, err := store.Get(context.Background(), id, "bob"); err != nil {
		t.Errorf("bob's task should survive: %v", err)
	}
}

// --- Registration ---

func TestRegisterAll(t *testing.T) {
	reg := tools.NewRegistry()
	RegisterAll(reg, newMemStore(), discardLogger())

	want := []string{
		"complete_task", "create_task", "delete_task",
		"get_task", "list_tasks", "update_task",
	}
	got := reg.List()
	if len(got) != len(want) {
		t.Fatalf("registered %d tools, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tools[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// --- Helpers ---

func seedTask(t *testing.T, store task.Store, userID, title string, status task.Status) int64 {
	t.Helper()
	tk := &task.Task{UserID: userID, Title: title, Status: status}
	if err := store.Create(context.Background(), tk); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if status != task.StatusPending {
		if _, err := store.Update(context.Background(), tk.ID, userID, task.Patch{Status: &status}); err != nil {
			t.Fatalf("seed status: %v", err)
		}
	}
	return tk.ID
}

// --- In-Memory Store ---

type memStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*task.Task
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[int64]*task.Task)}
}

func (s *memStore) Create(_ context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id int64, userID string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return nil, task.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) List(_ context.Context, userID string, f task.Filter) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.UserID != userID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) Update(_ context.Context, id int64, userID string, p task.Patch) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return nil, task.ErrTaskNotFound
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, id int64, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return task.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}
