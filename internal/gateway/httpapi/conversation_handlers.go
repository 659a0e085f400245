package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/jkaninda/taskpilot/internal/chat"
)

// ConversationSummary is one conversation in the listing.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationListResponse is the JSON response for GET /v1/conversations.
type ConversationListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	NextCursor    string                `json:"next_cursor,omitempty"`
	HasMore       bool                  `json:"has_more"`
}

// ToolCallBody is a tool-call directive as stored on an assistant message.
type ToolCallBody struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// MessageResponse is one message in a conversation's history.
type MessageResponse struct {
	ID         int64          `json:"id"`
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCallBody `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// MessageListResponse is the JSON response for GET /v1/conversations/{id}/messages.
type MessageListResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

func (g *Gateway) handleConversationList(c *okapi.Context) error {
	userID := c.GetString("userID")

	query := c.Request().URL.Query()
	cursor := query.Get("cursor")
	pageSize := 0
	if raw := query.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.AbortBadRequest("page_size must be an integer")
		}
		pageSize = n
	}

	page, err := g.store.ListConversations(c.Context(), userID, cursor, pageSize)
	if err != nil {
		if errors.Is(err, chat.ErrInvalidCursor) {
			return c.AbortBadRequest("invalid cursor")
		}
		g.logger.Error("listing conversations failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("listing failed")
	}

	resp := ConversationListResponse{
		Conversations: make([]ConversationSummary, len(page.Conversations)),
		NextCursor:    page.NextCursor,
		HasMore:       page.HasMore,
	}
	for i, conv := range page.Conversations {
		resp.Conversations[i] = ConversationSummary{
			ID:        conv.ID.String(),
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleConversationMessages(c *okapi.Context) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	// Ownership gate before any history is read.
	if _, err := g.store.GetConversation(c.Context(), id, userID); err != nil {
		return g.conversationError(c, id, userID, err)
	}

	limit := 0
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.AbortBadRequest("limit must be an integer")
		}
		limit = n
	}

	msgs, err := g.store.LoadMessages(c.Context(), id, limit)
	if err != nil {
		g.logger.Error("loading messages failed",
			slog.String("conversation_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("loading messages failed")
	}

	resp := MessageListResponse{
		ConversationID: id.String(),
		Messages:       make([]MessageResponse, len(msgs)),
	}
	for i, m := range msgs {
		mr := MessageResponse{
			ID:         m.ID,
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
			CreatedAt:  m.CreatedAt,
		}
		for _, call := range m.ToolCalls {
			mr.ToolCalls = append(mr.ToolCalls, ToolCallBody{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		resp.Messages[i] = mr
	}
	return c.OK(resp)
}

func (g *Gateway) handleConversationDelete(c *okapi.Context) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid conversation ID")
	}

	if err := g.store.SoftDelete(c.Context(), id, userID); err != nil {
		return g.conversationError(c, id, userID, err)
	}

	g.logger.Info("conversation deleted",
		slog.String("conversation_id", id.String()),
		slog.String("deleted_by", userID),
	)

	return c.OK(map[string]string{"status": "deleted"})
}

// conversationError maps store errors on conversation routes. A foreign
// conversation is a security event: logged, counted, and refused.
func (g *Gateway) conversationError(c *okapi.Context, id uuid.UUID, userID string, err error) error {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "conversation not found"})
	case errors.Is(err, chat.ErrForbidden):
		g.logger.Warn("conversation access denied",
			slog.String("conversation_id", id.String()),
			slog.String("user_id", userID),
		)
		if g.config.Metrics != nil {
			g.config.Metrics.SecurityDenialsTotal.WithLabelValues("conversation").Inc()
		}
		return c.JSON(http.StatusForbidden, okapi.M{"error": "forbidden"})
	default:
		g.logger.Error("conversation store error",
			slog.String("conversation_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("storage error")
	}
}
