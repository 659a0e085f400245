package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/taskpilot/internal/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendMessage_ToolUseResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("expected X-API-Key header, got %q", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("Anthropic-Version") == "" {
			t.Error("missing Anthropic-Version header")
		}

		resp := apiResponse{
			Content: []apiContentBlock{
				{Type: "text", Text: "Creating that for you."},
				{Type: "tool_use", ID: "toolu_1", Name: "create_task", Input: map[string]any{"title": "Buy milk"}},
			},
			StopReason: "tool_use",
			Usage:      apiUsage{InputTokens: 25, OutputTokens: 12},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-5", discardLogger(), WithBaseURL(srv.URL))
	resp, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "create a task"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Creating that for you." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	var args map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil {
		t.Fatalf("unmarshaling arguments: %v", err)
	}
	if args["title"] != "Buy milk" {
		t.Errorf("expected title Buy milk, got %v", args["title"])
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("expected stop reason tool_use, got %q", resp.StopReason)
	}
}

func TestBuildRequest_GroupsToolResults(t *testing.T) {
	// The Messages API wants tool results as tool_result blocks inside a
	// single user message following the assistant's tool_use turn.
	var captured apiRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		resp := apiResponse{
			Content:    []apiContentBlock{{Type: "text", Text: "Both done."}},
			StopReason: "end_turn",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-5", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		SystemPrompt: "You are a task assistant.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "add two tasks"},
			{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{
					{ID: "toolu_1", Name: "create_task", Arguments: json.RawMessage(`{"title":"a"}`)},
					{ID: "toolu_2", Name: "create_task", Arguments: json.RawMessage(`{"title":"b"}`)},
				},
			},
			{Role: llm.RoleTool, ToolCallID: "toolu_1", Content: `{"success":true}`},
			{Role: llm.RoleTool, ToolCallID: "toolu_2", Content: `{"success":true}`},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.System != "You are a task assistant." {
		t.Errorf("system prompt not set: %q", captured.System)
	}
	// user + assistant + one grouped results message = 3.
	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(captured.Messages))
	}
	results := captured.Messages[2]
	if results.Role != "user" {
		t.Errorf("expected results under user role, got %q", results.Role)
	}
	blocks, ok := results.Content.([]any)
	if !ok {
		t.Fatalf("expected structured content, got %T", results.Content)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 tool_result blocks, got %d", len(blocks))
	}
	first, ok := blocks[0].(map[string]any)
	if !ok || first["type"] != "tool_result" || first["tool_use_id"] != "toolu_1" {
		t.Errorf("unexpected first result block: %+v", blocks[0])
	}
}

func TestSendMessage_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"overloaded_error"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", "claude-sonnet-4-5", discardLogger(), WithBaseURL(srv.URL))
	_, err := client.SendMessage(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
