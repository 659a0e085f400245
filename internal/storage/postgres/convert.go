package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/taskpilot/internal/chat"
	"github.com/jkaninda/taskpilot/internal/task"
)

// --- Conversation ---

func toConversation(m *ConversationModel) *chat.Conversation {
	conv := &chat.Conversation{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		conv.DeletedAt = &t
	}
	return conv
}

// --- Message ---

func toMessageModel(convID uuid.UUID, now time.Time, msg *chat.Message) (MessageModel, error) {
	var calls JSONB
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return MessageModel{}, fmt.Errorf("marshaling tool calls: %w", err)
		}
		calls = JSONB(data)
	}

	return MessageModel{
		ConversationID: convID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ToolCalls:      calls,
		ToolCallID:     msg.ToolCallID,
		ToolName:       msg.ToolName,
		CreatedAt:      now,
	}, nil
}

func toMessage(m *MessageModel) (*chat.Message, error) {
	msg := &chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           chat.Role(m.Role),
		Content:        m.Content,
		ToolCallID:     m.ToolCallID,
		ToolName:       m.ToolName,
		CreatedAt:      m.CreatedAt,
	}

	if len(m.ToolCalls) > 0 {
		if err := json.Unmarshal(m.ToolCalls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshaling tool calls for message %d: %w", m.ID, err)
		}
	}

	return msg, nil
}

// --- Task ---

func toTaskModel(t *task.Task) TaskModel {
	return TaskModel{
		ID:        t.ID,
		UserID:    t.UserID,
		Title:     t.Title,
		Notes:     t.Notes,
		Status:    string(t.Status),
		DueDate:   t.DueDate,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTask(m *TaskModel) *task.Task {
	return &task.Task{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Notes:     m.Notes,
		Status:    task.Status(m.Status),
		DueDate:   m.DueDate,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
