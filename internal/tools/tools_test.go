package tools

import (
	"context"
	"testing"
)

// --- Registry ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "create_task"})

	if got := reg.Get("create_task"); got == nil {
		t.Fatal("expected registered tool, got nil")
	}
	if got := reg.Get("missing"); got != nil {
		t.Fatalf("expected nil for unregistered tool, got %v", got)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "create_task"})

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg.Register(&fakeTool{name: "create_task"})
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "list_tasks"})
	reg.Register(&fakeTool{name: "create_task"})
	reg.Register(&fakeTool{name: "delete_task"})

	names := reg.List()
	want := []string{"create_task", "delete_task", "list_tasks"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestToLLMDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "list_tasks", description: "List your tasks"})
	reg.Register(&fakeTool{name: "create_task", description: "Create a task"})

	defs := ToLLMDefinitions(reg)
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	// Ordered by name.
	if defs[0].Name != "create_task" || defs[1].Name != "list_tasks" {
		t.Errorf("definition order = [%s %s], want [create_task list_tasks]", defs[0].Name, defs[1].Name)
	}
	if defs[0].Description != "Create a task" {
		t.Errorf("description = %q, want %q", defs[0].Description, "Create a task")
	}
	if defs[0].InputSchema["type"] != "object" {
		t.Errorf("input schema type = %v, want object", defs[0].InputSchema["type"])
	}
}

// --- Identity Context ---

func TestUserIDContext(t *testing.T) {
	ctx := context.Background()
	if got := UserIDFromContext(ctx); got != "" {
		t.Errorf("user id on empty context = %q, want empty", got)
	}

	ctx = ContextWithUserID(ctx, "alice")
	if got := UserIDFromContext(ctx); got != "alice" {
		t.Errorf("user id = %q, want alice", got)
	}
}
