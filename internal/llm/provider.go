// Package llm defines the provider-agnostic interface for LLM chat
// completions with tool calling.
package llm

import (
	"context"
	"encoding/json"
)

// Provider is the abstraction over any LLM backend (OpenAI, Anthropic, etc.).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition // nil = no tool use
}

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model. Arguments is
// the raw JSON object exactly as the model produced it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single turn in the conversation. An assistant message may
// carry ToolCalls; a tool message answers one call, identified by
// ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// Response is what the LLM returns: final text, a tool-call request, or
// both (text alongside calls).
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string // "end_turn", "tool_use", "max_tokens"
}

// HasToolCalls reports whether the model is requesting tool execution.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
