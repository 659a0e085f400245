package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message on the chat socket.
type MessageType string

const (
	// Client → Server
	MsgChat MessageType = "chat.message"

	// Server → Client
	MsgReply MessageType = "chat.reply"
	MsgError MessageType = "error"
)

// Envelope is the top-level wrapper for every frame on the chat socket.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"` // Frame ID for correlation.
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope creates an Envelope with a fresh ID and current timestamp.
func NewEnvelope(msgType MessageType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Envelope{
		Type:      msgType,
		ID:        uuid.New().String(),
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the Payload into the given target.
func (e *Envelope) Decode(target any) error {
	return json.Unmarshal(e.Payload, target)
}

// --- Client → Server payloads ---

// ChatPayload is sent with MsgChat to submit one user turn.
type ChatPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"` // Empty = new conversation.
}

// --- Server → Client payloads ---

// ReplyPayload is sent with MsgReply when a turn completes.
type ReplyPayload struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	CorrelationID  string `json:"correlation_id"`
	TokensUsed     int    `json:"tokens_used,omitempty"`
	ToolCalls      int    `json:"tool_calls,omitempty"`
}

// ErrorPayload is sent with MsgError when a turn or frame is rejected.
// The connection stays open; the client may send the next turn.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorPayload.
const (
	CodeBadMessage       = "bad_message"
	CodeNotFound         = "not_found"
	CodeRateLimited      = "rate_limited"
	CodeModelUnavailable = "model_unavailable"
	CodeInternal         = "internal"
)
