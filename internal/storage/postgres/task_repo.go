package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jkaninda/taskpilot/internal/task"
)

// Compile-time interface check.
var _ task.Store = (*TaskRepository)(nil)

// TaskRepository implements task.Store with GORM. Every query carries the
// owning user id; there is no unscoped read or write path.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create persists a new task and fills ID and timestamps.
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalidTask, err)
	}

	now := nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	model := toTaskModel(t)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}

	t.ID = model.ID
	return nil
}

// Get returns the task only if it is owned by userID. A task owned by a
// different user reads the same as a missing one.
func (r *TaskRepository) Get(ctx context.Context, id int64, userID string) (*task.Task, error) {
	var model TaskModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return toTask(&model), nil
}

// List returns the user's tasks matching the filter, newest first.
func (r *TaskRepository) List(ctx context.Context, userID string, f task.Filter) ([]*task.Task, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, fmt.Errorf("%w: status %q", task.ErrInvalidTask, f.Status)
		}
		q = q.Where("status = ?", string(f.Status))
	}

	var models []TaskModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	tasks := make([]*task.Task, len(models))
	for i := range models {
		tasks[i] = toTask(&models[i])
	}
	return tasks, nil
}

// Update applies the patch and returns the updated task.
func (r *TaskRepository) Update(ctx context.Context, id int64, userID string, p task.Patch) (*task.Task, error) {
	updates := map[string]any{}
	if p.Title != nil {
		if *p.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", task.ErrInvalidTask)
		}
		updates["title"] = *p.Title
	}
	if p.Notes != nil {
		updates["notes"] = *p.Notes
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, fmt.Errorf("%w: status %q", task.ErrInvalidTask, *p.Status)
		}
		updates["status"] = string(*p.Status)
	}
	if p.DueDate != nil {
		updates["due_date"] = *p.DueDate
	}

	var model TaskModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND user_id = ?", id, userID).First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return task.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("loading task: %w", err)
		}
		if len(updates) == 0 {
			return nil
		}

		updates["updated_at"] = nowUTC()
		if err := tx.Model(&model).Updates(updates).Error; err != nil {
			return fmt.Errorf("updating task: %w", err)
		}
		// Re-read so the caller sees exactly what was stored.
		if err := tx.Where("id = ?", id).First(&model).Error; err != nil {
			return fmt.Errorf("reloading task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toTask(&model), nil
}

// Delete removes the task permanently.
func (r *TaskRepository) Delete(ctx context.Context, id int64, userID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&TaskModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return task.ErrTaskNotFound
	}
	return nil
}
