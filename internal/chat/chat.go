// Package chat defines the conversation domain: conversations, ordered
// messages, and the durable store interface the agent core runs against.
// Conversation state lives only in the store; nothing in this package
// caches messages between requests.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a message author role. The set is closed: the store rejects
// any value outside it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the four permitted values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// Sentinel errors returned by Store implementations.
var (
	// ErrConversationNotFound covers both a missing conversation and a
	// soft-deleted one.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrForbidden means the conversation exists but belongs to a
	// different user. Callers log it as a security event.
	ErrForbidden = errors.New("conversation owned by a different user")

	// ErrInvalidRole is returned when a message carries a role outside
	// the closed set.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidOwner is returned when a conversation is created with an
	// empty owner identity.
	ErrInvalidOwner = errors.New("owner identity is required")

	// ErrInvalidCursor is returned for a pagination cursor that does not
	// decode.
	ErrInvalidCursor = errors.New("invalid pagination cursor")
)

// DefaultTitle is assigned to conversations created without one.
const DefaultTitle = "New conversation"

// Pagination bounds for ListConversations.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Conversation is a user-owned sequence of messages.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time  // advances whenever a message is appended
	DeletedAt *time.Time // non-nil = soft-deleted (hidden, not destroyed)
}

// ToolCall is one tool invocation directive as issued by the model.
// Stored verbatim on the assistant message that carried it so the exact
// directives are replayable from history.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry in a conversation's append-only log. Once
// persisted, role, content, and the tool-call payload are immutable;
// corrections happen by appending new messages.
type Message struct {
	ID             int64
	ConversationID uuid.UUID
	Role           Role
	Content        string

	// ToolCalls is set on assistant messages that requested tool
	// invocations.
	ToolCalls []ToolCall

	// ToolCallID and ToolName link a tool message back to the directive
	// it answers.
	ToolCallID string
	ToolName   string

	CreatedAt time.Time
}

// HasToolCalls reports whether the message carries tool-call directives.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ConversationPage is one page of a cursor-paginated listing.
type ConversationPage struct {
	Conversations []*Conversation
	NextCursor    string
	HasMore       bool
}

// Store is durable conversation persistence. Implementations must not
// keep any in-process cache: every call is a read or write against the
// backing database, and a write by one process is visible to the next
// read in any process.
type Store interface {
	// CreateConversation creates an empty conversation owned by userID.
	// An empty title gets DefaultTitle.
	CreateConversation(ctx context.Context, userID, title string) (*Conversation, error)

	// GetConversation returns the conversation if it exists, is not
	// soft-deleted, and is owned by userID. Missing or deleted returns
	// ErrConversationNotFound; owned by someone else returns ErrForbidden.
	GetConversation(ctx context.Context, id uuid.UUID, userID string) (*Conversation, error)

	// AppendMessage appends one message and bumps the conversation's
	// updated_at in the same transaction. Returns the assigned message id.
	// ErrConversationNotFound if the conversation is missing or deleted;
	// ErrInvalidRole if the role is outside the closed set.
	AppendMessage(ctx context.Context, msg *Message) (int64, error)

	// AppendMessages appends a batch atomically, in slice order. Used to
	// persist an assistant tool-call message together with all of its
	// tool results so history can never hold a dangling trailing call.
	AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs []*Message) error

	// LoadMessages returns up to limit most-recent messages in ascending
	// (created_at, id) order, ready to feed to the model oldest-first.
	// Unknown conversation ids yield an empty slice, not an error, and a
	// soft-deleted conversation's history is still returned.
	LoadMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*Message, error)

	// ListConversations returns non-deleted conversations owned by
	// userID, newest activity first (updated_at DESC, id DESC). The
	// cursor is an opaque string from a previous page; empty starts from
	// the top. pageSize is clamped to [1, MaxPageSize].
	ListConversations(ctx context.Context, userID, cursor string, pageSize int) (*ConversationPage, error)

	// SoftDelete hides the conversation from listing and from new turns
	// without removing any rows. Idempotent; ErrForbidden if owned by a
	// different user.
	SoftDelete(ctx context.Context, id uuid.UUID, userID string) error
}

// Cursor is the decoded pagination position: the (updated_at, id) pair of
// the last row on the previous page. Keyset pagination on this pair stays
// stable when new conversations arrive mid-listing, unlike offsets.
type Cursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// EncodeCursor serializes a cursor to an opaque URL-safe string. The
// encoding survives process restarts: it carries only row values, never
// in-memory offsets.
func EncodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%d:%s", c.UpdatedAt.UTC().UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor string. An empty string means
// "first page" and returns nil. Anything malformed returns
// ErrInvalidCursor.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{UpdatedAt: time.UnixMicro(micros).UTC(), ID: id}, nil
}
