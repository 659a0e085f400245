package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/taskpilot/internal/chat"
	"github.com/jkaninda/taskpilot/internal/task"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// timestamps are stored at microsecond precision; a short sleep keeps
// consecutive writes distinguishable.
func tick() { time.Sleep(2 * time.Millisecond) }

func appendText(t *testing.T, store chat.Store, convID uuid.UUID, role chat.Role, content string) *chat.Message {
	t.Helper()
	msg := &chat.Message{ConversationID: convID, Role: role, Content: content}
	if _, err := store.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("append %q: %v", content, err)
	}
	return msg
}

// --- Store Lifecycle ---

func TestStore_DriverAndPing(t *testing.T) {
	s := testStore(t)
	if s.Driver() != "sqlite" {
		t.Errorf("driver = %q", s.Driver())
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

// --- Conversations ---

func TestConversations_CreateAndGet(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "alice", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == uuid.Nil {
		t.Fatal("expected an id")
	}
	if conv.Title != chat.DefaultTitle {
		t.Errorf("title = %q, want default", conv.Title)
	}
	if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := store.GetConversation(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "alice" || got.ID != conv.ID {
		t.Errorf("got = %+v", got)
	}

	titled, err := store.CreateConversation(ctx, "alice", "Groceries")
	if err != nil {
		t.Fatalf("create titled: %v", err)
	}
	if titled.Title != "Groceries" {
		t.Errorf("title = %q", titled.Title)
	}
}

func TestConversations_CreateRequiresOwner(t *testing.T) {
	store := testStore(t).Conversations()
	if _, err := store.CreateConversation(context.Background(), "", ""); !errors.Is(err, chat.ErrInvalidOwner) {
		t.Errorf("err = %v, want ErrInvalidOwner", err)
	}
}

func TestConversations_GetErrors(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	if _, err := store.GetConversation(ctx, uuid.New(), "alice"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("unknown id: err = %v, want ErrConversationNotFound", err)
	}

	conv, _ := store.CreateConversation(ctx, "bob", "")
	if _, err := store.GetConversation(ctx, conv.ID, "alice"); !errors.Is(err, chat.ErrForbidden) {
		t.Errorf("other owner: err = %v, want ErrForbidden", err)
	}

	if err := store.SoftDelete(ctx, conv.ID, "bob"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := store.GetConversation(ctx, conv.ID, "bob"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("deleted: err = %v, want ErrConversationNotFound", err)
	}
}

// --- Messages ---

func TestMessages_AppendAndLoadAscending(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	appendText(t, store, conv.ID, chat.RoleUser, "first")
	tick()
	appendText(t, store, conv.ID, chat.RoleAssistant, "second")
	tick()
	appendText(t, store, conv.ID, chat.RoleUser, "third")

	msgs, err := store.LoadMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("count = %d, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("time order violated at %d", i)
		}
	}
}

func TestMessages_AppendBumpsUpdatedAt(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	tick()
	appendText(t, store, conv.ID, chat.RoleUser, "hello")

	got, err := store.GetConversation(ctx, conv.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.UpdatedAt.After(conv.UpdatedAt) {
		t.Errorf("updated_at %v did not advance past %v", got.UpdatedAt, conv.UpdatedAt)
	}
}

func TestMessages_AppendToMissingOrDeleted(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	msg := &chat.Message{ConversationID: uuid.New(), Role: chat.RoleUser, Content: "hi"}
	if _, err := store.AppendMessage(ctx, msg); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("missing: err = %v, want ErrConversationNotFound", err)
	}

	conv, _ := store.CreateConversation(ctx, "alice", "")
	if err := store.SoftDelete(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	msg = &chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "hi"}
	if _, err := store.AppendMessage(ctx, msg); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("deleted: err = %v, want ErrConversationNotFound", err)
	}
}

func TestMessages_RoleOutsideSetRejected(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	msg := &chat.Message{ConversationID: conv.ID, Role: "moderator", Content: "hi"}
	if _, err := store.AppendMessage(ctx, msg); !errors.Is(err, chat.ErrInvalidRole) {
		t.Errorf("err = %v, want ErrInvalidRole", err)
	}

	// One bad role fails the whole batch; nothing is inserted.
	batch := []*chat.Message{
		{Role: chat.RoleAssistant, Content: "ok"},
		{Role: "oracle", Content: "bad"},
	}
	if err := store.AppendMessages(ctx, conv.ID, batch); !errors.Is(err, chat.ErrInvalidRole) {
		t.Errorf("batch err = %v, want ErrInvalidRole", err)
	}
	msgs, _ := store.LoadMessages(ctx, conv.ID, 10)
	if len(msgs) != 0 {
		t.Errorf("count after failed batch = %d, want 0", len(msgs))
	}
}

func TestMessages_WindowKeepsMostRecent(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	for _, content := range []string{"m0", "m1", "m2", "m3", "m4", "m5"} {
		appendText(t, store, conv.ID, chat.RoleUser, content)
		tick()
	}

	msgs, err := store.LoadMessages(ctx, conv.ID, 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("count = %d, want 3", len(msgs))
	}
	for i, want := range []string{"m3", "m4", "m5"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestMessages_UnknownConversationEmpty(t *testing.T) {
	store := testStore(t).Conversations()
	msgs, err := store.LoadMessages(context.Background(), uuid.New(), 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("count = %d, want 0", len(msgs))
	}
}

func TestMessages_HistorySurvivesSoftDelete(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	appendText(t, store, conv.ID, chat.RoleUser, "keep me")
	appendText(t, store, conv.ID, chat.RoleAssistant, "and me")
	if err := store.SoftDelete(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	msgs, err := store.LoadMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("count = %d, want 2", len(msgs))
	}
}

func TestMessages_AppendOnlyStable(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	appendText(t, store, conv.ID, chat.RoleUser, "one")
	appendText(t, store, conv.ID, chat.RoleAssistant, "two")

	first, err := store.LoadMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("load 1: %v", err)
	}
	second, err := store.LoadMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("load 2: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Content != second[i].Content {
			t.Errorf("load differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMessages_ToolCallRoundTrip(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	args := json.RawMessage(`{"title":"Buy milk"}`)
	batch := []*chat.Message{
		{
			Role:      chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "create_task", Arguments: args}},
		},
		{
			Role:       chat.RoleTool,
			Content:    `{"success":true,"data":{"id":1,"title":"Buy milk"}}`,
			ToolCallID: "call_1",
			ToolName:   "create_task",
		},
	}
	if err := store.AppendMessages(ctx, conv.ID, batch); err != nil {
		t.Fatalf("append batch: %v", err)
	}

	msgs, err := store.LoadMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("count = %d, want 2", len(msgs))
	}

	// Batch order is preserved: directive before result.
	if msgs[0].Role != chat.RoleAssistant || msgs[1].Role != chat.RoleTool {
		t.Fatalf("roles = %v, %v", msgs[0].Role, msgs[1].Role)
	}
	calls := msgs[0].ToolCalls
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Name != "create_task" {
		t.Fatalf("calls = %+v", calls)
	}
	var got map[string]any
	if err := json.Unmarshal(calls[0].Arguments, &got); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if got["title"] != "Buy milk" {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
	if msgs[1].ToolCallID != "call_1" || msgs[1].ToolName != "create_task" {
		t.Errorf("tool message link = %+v", msgs[1])
	}
}

// --- Listing ---

func TestConversations_ListNewestActivityFirst(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	a, _ := store.CreateConversation(ctx, "alice", "a")
	tick()
	b, _ := store.CreateConversation(ctx, "alice", "b")
	tick()
	c, _ := store.CreateConversation(ctx, "alice", "c")
	tick()

	// New activity on the oldest conversation moves it to the front.
	appendText(t, store, a.ID, chat.RoleUser, "wake up")

	page, err := store.ListConversations(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Conversations) != 3 {
		t.Fatalf("count = %d, want 3", len(page.Conversations))
	}
	gotOrder := []uuid.UUID{page.Conversations[0].ID, page.Conversations[1].ID, page.Conversations[2].ID}
	wantOrder := []uuid.UUID{a.ID, c.ID, b.ID}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Errorf("order[%d] = %s, want %s", i, gotOrder[i], wantOrder[i])
		}
	}
}

func TestConversations_ListPaginationSweep(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	var created []uuid.UUID
	for i := 0; i < 5; i++ {
		conv, err := store.CreateConversation(ctx, "alice", "")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		created = append(created, conv.ID)
		tick()
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := store.ListConversations(ctx, "alice", cursor, 2)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, c := range page.Conversations {
			if seen[c.ID] {
				t.Errorf("conversation %s appeared twice", c.ID)
			}
			seen[c.ID] = true
		}
		pages++
		if !page.HasMore {
			if page.NextCursor != "" {
				t.Error("last page should carry no cursor")
			}
			break
		}
		if page.NextCursor == "" {
			t.Fatal("hasMore without cursor")
		}
		cursor = page.NextCursor
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	for _, id := range created {
		if !seen[id] {
			t.Errorf("conversation %s missing from sweep", id)
		}
	}
}

func TestConversations_ListStableUnderInsert(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	var created []uuid.UUID
	for i := 0; i < 4; i++ {
		conv, _ := store.CreateConversation(ctx, "alice", "")
		created = append(created, conv.ID)
		tick()
	}

	page1, err := store.ListConversations(ctx, "alice", "", 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}

	// A conversation created between page reads must not shift
	// already-read rows into later pages.
	if _, err := store.CreateConversation(ctx, "alice", "mid-sweep"); err != nil {
		t.Fatalf("mid-sweep create: %v", err)
	}

	seen := map[uuid.UUID]bool{}
	for _, c := range page1.Conversations {
		seen[c.ID] = true
	}
	cursor := page1.NextCursor
	for cursor != "" {
		page, err := store.ListConversations(ctx, "alice", cursor, 2)
		if err != nil {
			t.Fatalf("paging: %v", err)
		}
		for _, c := range page.Conversations {
			if seen[c.ID] {
				t.Errorf("conversation %s appeared twice", c.ID)
			}
			seen[c.ID] = true
		}
		cursor = page.NextCursor
	}

	for _, id := range created {
		if !seen[id] {
			t.Errorf("original conversation %s missing", id)
		}
	}
}

func TestConversations_ListScopedAndInvalidCursor(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()

	mine, _ := store.CreateConversation(ctx, "alice", "")
	store.CreateConversation(ctx, "bob", "")

	page, err := store.ListConversations(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Conversations) != 1 || page.Conversations[0].ID != mine.ID {
		t.Errorf("alice's listing = %+v", page.Conversations)
	}

	if _, err := store.ListConversations(ctx, "alice", "%%%not-base64%%%", 10); !errors.Is(err, chat.ErrInvalidCursor) {
		t.Errorf("err = %v, want ErrInvalidCursor", err)
	}
}

func TestConversations_SoftDelete(t *testing.T) {
	store := testStore(t).Conversations()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "")

	if err := store.SoftDelete(ctx, conv.ID, "bob"); !errors.Is(err, chat.ErrForbidden) {
		t.Errorf("other owner: err = %v, want ErrForbidden", err)
	}
	if err := store.SoftDelete(ctx, uuid.New(), "alice"); !errors.Is(err, chat.ErrConversationNotFound) {
		t.Errorf("unknown: err = %v, want ErrConversationNotFound", err)
	}

	if err := store.SoftDelete(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Idempotent.
	if err := store.SoftDelete(ctx, conv.ID, "alice"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}

	page, _ := store.ListConversations(ctx, "alice", "", 10)
	if len(page.Conversations) != 0 {
		t.Errorf("deleted conversation still listed")
	}
}

// --- Tasks ---

func TestTasks_CreateDefaultsAndGet(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	tk := &task.Task{UserID: "alice", Title: "Buy milk", Notes: "2%", DueDate: &due}
	if err := store.Create(ctx, tk); err != nil {
		t.Fatalf("create: %v", err)
	}
	if tk.ID == 0 {
		t.Fatal("expected an id")
	}
	if tk.Status != task.StatusPending {
		t.Errorf("status = %q, want pending", tk.Status)
	}

	got, err := store.Get(ctx, tk.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Buy milk" || got.Notes != "2%" {
		t.Errorf("got = %+v", got)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}
}

func TestTasks_CreateValidates(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	if err := store.Create(ctx, &task.Task{UserID: "alice"}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("missing title: err = %v, want ErrInvalidTask", err)
	}
	if err := store.Create(ctx, &task.Task{Title: "orphan"}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("missing user: err = %v, want ErrInvalidTask", err)
	}
}

func TestTasks_OwnershipScoping(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	tk := &task.Task{UserID: "bob", Title: "Bob's secret"}
	if err := store.Create(ctx, tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.Get(ctx, tk.ID, "alice"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("get: err = %v, want ErrTaskNotFound", err)
	}
	title := "stolen"
	if _, err := store.Update(ctx, tk.ID, "alice", task.Patch{Title: &title}); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("update: err = %v, want ErrTaskNotFound", err)
	}
	if err := store.Delete(ctx, tk.ID, "alice"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("delete: err = %v, want ErrTaskNotFound", err)
	}

	// Bob's task is untouched.
	got, err := store.Get(ctx, tk.ID, "bob")
	if err != nil {
		t.Fatalf("bob get: %v", err)
	}
	if got.Title != "Bob's secret" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestTasks_ListNewestFirstAndFilter(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	for _, title := range []string{"oldest", "middle", "newest"} {
		if err := store.Create(ctx, &task.Task{UserID: "alice", Title: title}); err != nil {
			t.Fatalf("create %q: %v", title, err)
		}
		tick()
	}
	store.Create(ctx, &task.Task{UserID: "bob", Title: "not alice's"})

	all, err := store.List(ctx, "alice", task.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("count = %d, want 3", len(all))
	}
	for i, want := range []string{"newest", "middle", "oldest"} {
		if all[i].Title != want {
			t.Errorf("all[%d] = %q, want %q", i, all[i].Title, want)
		}
	}

	done := task.StatusDone
	if _, err := store.Update(ctx, all[1].ID, "alice", task.Patch{Status: &done}); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, err := store.List(ctx, "alice", task.Filter{Status: task.StatusPending})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending count = %d, want 2", len(pending))
	}
}

func TestTasks_UpdatePatch(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	tk := &task.Task{UserID: "alice", Title: "Buy milk", Notes: "2%"}
	if err := store.Create(ctx, tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	tick()
	title := "Buy oat milk"
	updated, err := store.Update(ctx, tk.ID, "alice", task.Patch{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Buy oat milk" {
		t.Errorf("title = %q", updated.Title)
	}
	if updated.Notes != "2%" || updated.Status != task.StatusPending {
		t.Errorf("unpatched fields changed: %+v", updated)
	}
	if !updated.UpdatedAt.After(tk.UpdatedAt) {
		t.Error("updated_at did not advance")
	}

	empty := ""
	if _, err := store.Update(ctx, tk.ID, "alice", task.Patch{Title: &empty}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("empty title: err = %v, want ErrInvalidTask", err)
	}
	bad := task.Status("archived")
	if _, err := store.Update(ctx, tk.ID, "alice", task.Patch{Status: &bad}); !errors.Is(err, task.ErrInvalidTask) {
		t.Errorf("bad status: err = %v, want ErrInvalidTask", err)
	}
}

func TestTasks_Delete(t *testing.T) {
	store := testStore(t).Tasks()
	ctx := context.Background()

	tk := &task.Task{UserID: "alice", Title: "ephemeral"}
	if err := store.Create(ctx, tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Delete(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, tk.ID, "alice"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("get after delete: err = %v, want ErrTaskNotFound", err)
	}
	if err := store.Delete(ctx, tk.ID, "alice"); !errors.Is(err, task.ErrTaskNotFound) {
		t.Errorf("double delete: err = %v, want ErrTaskNotFound", err)
	}
}
