package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/taskpilot/internal/chat"
)

// Compile-time interface check.
var _ chat.Store = (*ConversationRepository)(nil)

// ConversationRepository implements chat.Store with GORM. It holds no
// state beyond the connection handle, so any number of instances across
// any number of processes see the same conversations.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a ConversationRepository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// nowUTC returns the current time truncated to microseconds, the
// precision both backends store and the pagination cursor encodes.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// CreateConversation creates an empty conversation owned by userID.
func (r *ConversationRepository) CreateConversation(ctx context.Context, userID, title string) (*chat.Conversation, error) {
	if userID == "" {
		return nil, chat.ErrInvalidOwner
	}
	if title == "" {
		title = chat.DefaultTitle
	}

	now := nowUTC()
	model := ConversationModel{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	return toConversation(&model), nil
}

// GetConversation returns the conversation if it exists, is not deleted,
// and belongs to userID.
func (r *ConversationRepository) GetConversation(ctx context.Context, id uuid.UUID, userID string) (*chat.Conversation, error) {
	var model ConversationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, chat.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if model.UserID != userID {
		return nil, chat.ErrForbidden
	}
	return toConversation(&model), nil
}

// AppendMessage appends one message and bumps the conversation's
// updated_at in the same transaction.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *chat.Message) (int64, error) {
	if err := r.appendBatch(ctx, msg.ConversationID, []*chat.Message{msg}); err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// AppendMessages appends a batch atomically, in slice order. Either every
// message lands or none does, so a persisted tool-call directive is never
// separated from its results.
func (r *ConversationRepository) AppendMessages(ctx context.Context, conversationID uuid.UUID, msgs []*chat.Message) error {
	return r.appendBatch(ctx, conversationID, msgs)
}

func (r *ConversationRepository) appendBatch(ctx context.Context, conversationID uuid.UUID, msgs []*chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: %q", chat.ErrInvalidRole, m.Role)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The default scope hides soft-deleted rows, so appending to a
		// deleted conversation fails the same way as a missing one.
		var conv ConversationModel
		err := tx.Select("id").Where("id = ?", conversationID).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}

		now := nowUTC()
		models := make([]MessageModel, 0, len(msgs))
		for _, m := range msgs {
			model, err := toMessageModel(conversationID, now, m)
			if err != nil {
				return err
			}
			models = append(models, model)
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("inserting messages: %w", err)
		}

		if err := tx.Model(&ConversationModel{}).
			Where("id = ?", conversationID).
			Update("updated_at", now).Error; err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}

		// Hand the assigned ids and timestamps back to the caller.
		for i, m := range msgs {
			m.ID = models[i].ID
			m.ConversationID = conversationID
			m.CreatedAt = now
		}
		return nil
	})
}

// LoadMessages returns up to limit most-recent messages, oldest first.
// History is readable even after the conversation is soft-deleted.
func (r *ConversationRepository) LoadMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = chat.DefaultWindow
	}

	// Fetch the newest N, then reverse to ascending (created_at, id).
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	msgs := make([]*chat.Message, len(models))
	for i := range models {
		msg, err := toMessage(&models[len(models)-1-i])
		if err != nil {
			return nil, err
		}
		msgs[i] = msg
	}
	return msgs, nil
}

// ListConversations pages through the user's conversations, newest
// activity first. Keyset pagination on (updated_at, id) keeps the sweep
// stable while new conversations arrive.
func (r *ConversationRepository) ListConversations(ctx context.Context, userID, cursor string, pageSize int) (*chat.ConversationPage, error) {
	cur, err := chat.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = chat.DefaultPageSize
	}
	if pageSize > chat.MaxPageSize {
		pageSize = chat.MaxPageSize
	}

	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC").
		Limit(pageSize + 1)
	if cur != nil {
		q = q.Where("updated_at < ? OR (updated_at = ? AND id < ?)", cur.UpdatedAt, cur.UpdatedAt, cur.ID)
	}

	var models []ConversationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	page := &chat.ConversationPage{}
	if len(models) > pageSize {
		page.HasMore = true
		models = models[:pageSize]
	}
	page.Conversations = make([]*chat.Conversation, len(models))
	for i := range models {
		page.Conversations[i] = toConversation(&models[i])
	}
	if page.HasMore && len(models) > 0 {
		last := models[len(models)-1]
		page.NextCursor = chat.EncodeCursor(chat.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID})
	}
	return page, nil
}

// SoftDelete hides the conversation without removing rows. Repeated
// deletes succeed; deleting another user's conversation is refused.
func (r *ConversationRepository) SoftDelete(ctx context.Context, id uuid.UUID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Unscoped lookup so an already-deleted conversation is found and
		// the delete stays idempotent.
		var model ConversationModel
		err := tx.Unscoped().Where("id = ?", id).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}
		if model.UserID != userID {
			return chat.ErrForbidden
		}
		if model.DeletedAt.Valid {
			return nil
		}
		if err := tx.Where("id = ?", id).Delete(&ConversationModel{}).Error; err != nil {
			return fmt.Errorf("deleting conversation: %w", err)
		}
		return nil
	})
}
