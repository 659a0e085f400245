package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a json.RawMessage that GORM stores as jsonb on PostgreSQL and
// as text on SQLite.
type JSONB json.RawMessage

// ConversationModel maps to the "conversations" table.
type ConversationModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index:idx_conversations_user_activity,priority:1"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time      `gorm:"index:idx_conversations_user_activity,priority:2"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (ConversationModel) TableName() string { return "conversations" }

// MessageModel maps to the "messages" table. Rows are append-only: there
// is no update or delete path through the repositories, and messages
// survive the soft deletion of their conversation.
type MessageModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conv_order,priority:1"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"type:text"`
	ToolCalls      JSONB     `gorm:"type:jsonb"` // assistant tool-call directives, verbatim
	ToolCallID     string
	ToolName       string
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_order,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

// TaskModel maps to the "tasks" table.
type TaskModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"not null;index:idx_tasks_user_status,priority:1"`
	Title     string `gorm:"not null"`
	Notes     string `gorm:"type:text"`
	Status    string `gorm:"not null;default:'pending';index:idx_tasks_user_status,priority:2"`
	DueDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TaskModel) TableName() string { return "tasks" }
