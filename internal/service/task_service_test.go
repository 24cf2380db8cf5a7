package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/yakoovad/taskcrew/internal/model"
	"github.com/yakoovad/taskcrew/internal/repository"
)

func newTaskServiceForTest(tasks *MockTaskRepository, memberships *MockMembershipRepository) *TaskService {
	return NewTaskService().WithTaskRepo(tasks).WithMembershipRepo(memberships)
}

func memberOf(teamID, userID string) *repository.Membership {
	return &repository.Membership{TeamID: teamID, UserID: userID, Role: model.RoleMember}
}

func TestTaskService_CreateTask(t *testing.T) {
	tests := []struct {
		name          string
		userID        string
		title         string
		setupMocks    func(*MockTaskRepository, *MockMembershipRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:   "success",
			userID: "user-b",
			title:  "Write release notes",
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
				tr.On("Create", mock.Anything, mock.MatchedBy(func(task *repository.Task) bool {
					return task.TeamID == "team-1" &&
						task.Title == "Write release notes" &&
						task.Status == model.TaskStatusTodo &&
						task.CreatedBy == "user-b"
				})).Return(nil)
			},
		},
		{
			name:   "non-member cannot create",
			userID: "stranger",
			title:  "Write release notes",
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "stranger").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodePermission,
		},
		{
			name:   "empty title",
			userID: "user-b",
			title:  "",
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTaskRepo := new(MockTaskRepository)
			mockMembershipRepo := new(MockMembershipRepository)

			tt.setupMocks(mockTaskRepo, mockMembershipRepo)

			service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

			task, err := service.CreateTask(context.Background(), "team-1", tt.userID, tt.title, "desc")

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, task)
			} else {
				assert.Nil(t, err)
				assert.Equal(t, tt.title, task.Title)
				assert.Equal(t, model.TaskStatusTodo, task.Status)
			}

			mockTaskRepo.AssertExpectations(t)
			mockMembershipRepo.AssertExpectations(t)
		})
	}
}

func TestTaskService_UpdateTask(t *testing.T) {
	statusDone := model.TaskStatusDone
	badStatus := model.TaskStatus("archived")
	emptyTitle := ""

	existing := &repository.Task{ID: "task-1", TeamID: "team-1", Title: "Old", Status: model.TaskStatusTodo}

	tests := []struct {
		name          string
		patch         *model.TaskPatch
		setupMocks    func(*MockTaskRepository, *MockMembershipRepository)
		expectedError bool
		errorCode     ErrorCode
	}{
		{
			name:  "status transition",
			patch: &model.TaskPatch{Status: &statusDone},
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
				tr.On("Get", mock.Anything, "task-1").Return(existing, nil)
				tr.On("Patch", mock.Anything, mock.MatchedBy(func(p *repository.TaskPatch) bool {
					return p.ID == "task-1" && p.Status != nil && *p.Status == model.TaskStatusDone
				})).Return(&repository.Task{ID: "task-1", TeamID: "team-1", Title: "Old", Status: model.TaskStatusDone}, nil)
			},
		},
		{
			name:          "unknown status",
			patch:         &model.TaskPatch{Status: &badStatus},
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeValidation,
		},
		{
			name:  "empty title",
			patch: &model.TaskPatch{Title: &emptyTitle},
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeValidation,
		},
		{
			name:  "task not found",
			patch: &model.TaskPatch{Status: &statusDone},
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
				tr.On("Get", mock.Anything, "task-1").Return(nil, repository.ErrNotFound)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
		{
			name:  "task belongs to another team",
			patch: &model.TaskPatch{Status: &statusDone},
			setupMocks: func(tr *MockTaskRepository, mr *MockMembershipRepository) {
				mr.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
				tr.On("Get", mock.Anything, "task-1").Return(&repository.Task{
					ID: "task-1", TeamID: "other-team", Status: model.TaskStatusTodo,
				}, nil)
			},
			expectedError: true,
			errorCode:     ErrorCodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockTaskRepo := new(MockTaskRepository)
			mockMembershipRepo := new(MockMembershipRepository)

			tt.setupMocks(mockTaskRepo, mockMembershipRepo)

			service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

			task, err := service.UpdateTask(context.Background(), "team-1", "task-1", "user-b", tt.patch)

			if tt.expectedError {
				assert.Error(t, err)
				assert.Equal(t, tt.errorCode, err.Code)
				assert.Nil(t, task)
			} else {
				assert.Nil(t, err)
				assert.Equal(t, model.TaskStatusDone, task.Status)
			}

			mockTaskRepo.AssertExpectations(t)
			mockMembershipRepo.AssertExpectations(t)
		})
	}
}

func TestTaskService_DeleteTask(t *testing.T) {
	existing := &repository.Task{ID: "task-1", TeamID: "team-1", Title: "Old"}

	t.Run("success", func(t *testing.T) {
		mockTaskRepo := new(MockTaskRepository)
		mockMembershipRepo := new(MockMembershipRepository)

		mockMembershipRepo.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
		mockTaskRepo.On("Get", mock.Anything, "task-1").Return(existing, nil)
		mockTaskRepo.On("Delete", mock.Anything, "task-1").Return(nil)

		service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

		err := service.DeleteTask(context.Background(), "team-1", "task-1", "user-b")
		assert.Nil(t, err)

		mockTaskRepo.AssertExpectations(t)
	})

	t.Run("non-member", func(t *testing.T) {
		mockTaskRepo := new(MockTaskRepository)
		mockMembershipRepo := new(MockMembershipRepository)

		mockMembershipRepo.On("Get", mock.Anything, "team-1", "stranger").Return(nil, repository.ErrNotFound)

		service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

		err := service.DeleteTask(context.Background(), "team-1", "task-1", "stranger")
		assert.Error(t, err)
		assert.Equal(t, ErrorCodePermission, err.Code)
	})

	t.Run("task belongs to another team", func(t *testing.T) {
		mockTaskRepo := new(MockTaskRepository)
		mockMembershipRepo := new(MockMembershipRepository)

		mockMembershipRepo.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
		mockTaskRepo.On("Get", mock.Anything, "task-1").Return(&repository.Task{
			ID: "task-1", TeamID: "other-team",
		}, nil)

		service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

		err := service.DeleteTask(context.Background(), "team-1", "task-1", "user-b")
		assert.Error(t, err)
		assert.Equal(t, ErrorCodeNotFound, err.Code)
	})
}

func TestTaskService_ListTasks(t *testing.T) {
	t.Run("members see the team backlog", func(t *testing.T) {
		mockTaskRepo := new(MockTaskRepository)
		mockMembershipRepo := new(MockMembershipRepository)

		mockMembershipRepo.On("Get", mock.Anything, "team-1", "user-b").Return(memberOf("team-1", "user-b"), nil)
		mockTaskRepo.On("ListByTeam", mock.Anything, "team-1").Return([]*repository.Task{
			{ID: "task-1", TeamID: "team-1", Title: "One", Status: model.TaskStatusTodo},
			{ID: "task-2", TeamID: "team-1", Title: "Two", Status: model.TaskStatusDone},
		}, nil)

		service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

		tasks, err := service.ListTasks(context.Background(), "team-1", "user-b")
		assert.Nil(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("non-members are rejected", func(t *testing.T) {
		mockTaskRepo := new(MockTaskRepository)
		mockMembershipRepo := new(MockMembershipRepository)

		mockMembershipRepo.On("Get", mock.Anything, "team-1", "stranger").Return(nil, repository.ErrNotFound)

		service := newTaskServiceForTest(mockTaskRepo, mockMembershipRepo)

		tasks, err := service.ListTasks(context.Background(), "team-1", "stranger")
		assert.Error(t, err)
		assert.Equal(t, ErrorCodePermission, err.Code)
		assert.Nil(t, tasks)
	})
}
