package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/repository"
	"github.com/yakoovad/taskcrew/pkg/logger"
	"go.uber.org/zap"
)

// TaskService covers the team-scoped task records. Every operation is
// gated on caller membership; there are no further invariants.
type TaskService struct {
	tasks       repository.TaskRepository
	memberships repository.MembershipRepository
}

func NewTaskService() *TaskService {
	return &TaskService{}
}

func (t *TaskService) CreateTask(ctx context.Context, teamID, userID, title, description string) (*model.Task, *Error) {
	l := logger.FromContext(ctx)

	if serviceErr := t.requireMember(ctx, teamID, userID); serviceErr != nil {
		return nil, serviceErr
	}
	if title == "" {
		return nil, NewError(ErrorCodeValidation, "task title must not be empty")
	}

	task := &repository.Task{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		Title:       title,
		Description: description,
		Status:      model.TaskStatusTodo,
		CreatedBy:   userID,
	}
	if err := t.tasks.Create(ctx, task); err != nil {
		l.Error("failed to create task", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to create task")
	}

	return taskToModel(task), nil
}

func (t *TaskService) ListTasks(ctx context.Context, teamID, userID string) ([]*model.Task, *Error) {
	l := logger.FromContext(ctx)

	if serviceErr := t.requireMember(ctx, teamID, userID); serviceErr != nil {
		return nil, serviceErr
	}

	tasksRepo, err := t.tasks.ListByTeam(ctx, teamID)
	if err != nil {
		l.Error("failed to list tasks", zap.String("team_id", teamID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to list tasks")
	}

	tasks := make([]*model.Task, 0, len(tasksRepo))
	for _, task := range tasksRepo {
		tasks = append(tasks, taskToModel(task))
	}
	return tasks, nil
}

func (t *TaskService) UpdateTask(ctx context.Context, teamID, taskID, userID string, patch *model.TaskPatch) (*model.Task, *Error) {
	l := logger.FromContext(ctx)

	if serviceErr := t.requireMember(ctx, teamID, userID); serviceErr != nil {
		return nil, serviceErr
	}

	if patch.Status != nil {
		switch *patch.Status {
		case model.TaskStatusTodo, model.TaskStatusInProgress, model.TaskStatusDone:
		default:
			return nil, NewError(ErrorCodeValidation, "status must be todo, in_progress or done")
		}
	}
	if patch.Title != nil && *patch.Title == "" {
		return nil, NewError(ErrorCodeValidation, "task title must not be empty")
	}

	existing, err := t.tasks.Get(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "task not found")
	}
	if err != nil {
		l.Error("failed to get task", zap.String("task_id", taskID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to get task")
	}
	if existing.TeamID != teamID {
		return nil, NewError(ErrorCodeNotFound, "task not found")
	}

	updated, err := t.tasks.Patch(ctx, &repository.TaskPatch{
		ID:          taskID,
		Title:       patch.Title,
		Description: patch.Description,
		Status:      patch.Status,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NewError(ErrorCodeNotFound, "task not found")
	}
	if err != nil {
		l.Error("failed to update task", zap.String("task_id", taskID), zap.Error(err))
		return nil, NewError(ErrorCodeUnspecified, "failed to update task")
	}

	return taskToModel(updated), nil
}

func (t *TaskService) DeleteTask(ctx context.Context, teamID, taskID, userID string) *Error {
	l := logger.FromContext(ctx)

	if serviceErr := t.requireMember(ctx, teamID, userID); serviceErr != nil {
		return serviceErr
	}

	existing, err := t.tasks.Get(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodeNotFound, "task not found")
	}
	if err != nil {
		l.Error("failed to get task", zap.String("task_id", taskID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to get task")
	}
	if existing.TeamID != teamID {
		return NewError(ErrorCodeNotFound, "task not found")
	}

	if err = t.tasks.Delete(ctx, taskID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		l.Error("failed to delete task", zap.String("task_id", taskID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to delete task")
	}

	return nil
}

func (t *TaskService) requireMember(ctx context.Context, teamID, userID string) *Error {
	_, err := t.memberships.Get(ctx, teamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return NewError(ErrorCodePermission, "caller is not a member of this team")
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to check membership", zap.String("team_id", teamID), zap.Error(err))
		return NewError(ErrorCodeUnspecified, "failed to check membership")
	}
	return nil
}

func taskToModel(t *repository.Task) *model.Task {
	return &model.Task{
		ID:          t.ID,
		TeamID:      t.TeamID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		CreatedBy:   t.CreatedBy,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (t *TaskService) WithTaskRepo(r repository.TaskRepository) *TaskService {
	t.tasks = r
	return t
}

func (t *TaskService) WithMembershipRepo(r repository.MembershipRepository) *TaskService {
	t.memberships = r
	return t
}
