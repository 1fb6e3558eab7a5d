package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"tasksync/internal/database"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/taskstore"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListTasks(ctx context.Context) ([]*models.Task, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Task), args.Error(1)
}

func (m *MockRepository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockRepository) CreateTask(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *MockRepository) DeleteTask(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type recordingBus struct {
	events []string
	last   events.TaskEventPayload
	err    error
}

func (b *recordingBus) PublishJSON(eventType string, payload interface{}) error {
	b.events = append(b.events, eventType)
	if p, ok := payload.(events.TaskEventPayload); ok {
		b.last = p
	}
	return b.err
}

func newTestService(repo *MockRepository, bus *recordingBus) *TaskService {
	logger := zerolog.Nop()
	s := NewTaskService(repo, bus, &logger)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "generated" }
	return s
}

func TestTaskService_CreateTask(t *testing.T) {
	ctx := context.Background()

	t.Run("AssignsIDAndDefaults", func(t *testing.T) {
		repo := new(MockRepository)
		bus := &recordingBus{}
		s := newTestService(repo, bus)

		repo.On("CreateTask", mock.Anything, mock.MatchedBy(func(task *models.Task) bool {
			return task.ID == "generated" && task.Status == models.TaskPending && task.Priority == models.PriorityMedium
		})).Return(nil)

		task := &models.Task{Title: "  Write docs "}
		require.NoError(t, s.CreateTask(ctx, task))
		assert.Equal(t, "Write docs", task.Title)
		assert.Equal(t, s.now(), task.CreatedAt)
		assert.Equal(t, task.CreatedAt, task.UpdatedAt)

		assert.Equal(t, []string{events.EventTaskCreated}, bus.events)
		assert.Equal(t, "generated", bus.last.TaskID)
		var published models.Task
		require.NoError(t, json.Unmarshal(bus.last.Task, &published))
		assert.Equal(t, "Write docs", published.Title)
		repo.AssertExpectations(t)
	})

	t.Run("ProvidedIDMustBeFree", func(t *testing.T) {
		repo := new(MockRepository)
		bus := &recordingBus{}
		s := newTestService(repo, bus)

		repo.On("GetTask", mock.Anything, "t1").Return(&models.Task{ID: "t1"}, nil)

		err := s.CreateTask(ctx, &models.Task{ID: "t1", Title: "dup"})
		assert.ErrorIs(t, err, ErrTaskExists)
		assert.Empty(t, bus.events)
		repo.AssertNotCalled(t, "CreateTask", mock.Anything, mock.Anything)
	})

	t.Run("ProvidedIDKept", func(t *testing.T) {
		repo := new(MockRepository)
		s := newTestService(repo, &recordingBus{})

		repo.On("GetTask", mock.Anything, "t2").Return(nil, fmt.Errorf("task t2: %w", database.ErrNotFound))
		repo.On("CreateTask", mock.Anything, mock.Anything).Return(nil)

		task := &models.Task{ID: "t2", Title: "mine", ExternalID: "7"}
		require.NoError(t, s.CreateTask(ctx, task))
		assert.Equal(t, "t2", task.ID)
		assert.Empty(t, task.ExternalID, "external id is assigned by the provider")
	})

	t.Run("Validation", func(t *testing.T) {
		s := newTestService(new(MockRepository), &recordingBus{})
		assert.ErrorIs(t, s.CreateTask(ctx, nil), ErrInvalidTask)
		assert.ErrorIs(t, s.CreateTask(ctx, &models.Task{Title: " "}), ErrInvalidTask)
		assert.ErrorIs(t, s.CreateTask(ctx, &models.Task{Title: "x", Status: "done"}), ErrInvalidTask)
		assert.ErrorIs(t, s.CreateTask(ctx, &models.Task{Title: "x", Priority: "asap"}), ErrInvalidTask)
	})

	t.Run("EventFailureDoesNotFailCreate", func(t *testing.T) {
		repo := new(MockRepository)
		bus := &recordingBus{err: errors.New("queue full")}
		s := newTestService(repo, bus)
		repo.On("CreateTask", mock.Anything, mock.Anything).Return(nil)

		assert.NoError(t, s.CreateTask(ctx, &models.Task{Title: "x"}))
	})
}

func TestTaskService_UpdateTask(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := new(MockRepository)
	bus := &recordingBus{}
	s := newTestService(repo, bus)

	repo.On("GetTask", mock.Anything, "t1").Return(&models.Task{ID: "t1", ExternalID: "17", CreatedAt: created}, nil)
	repo.On("UpdateTask", mock.Anything, mock.Anything).Return(nil)

	task := &models.Task{ID: "t1", Title: "Ship", Status: models.TaskCompleted, ExternalID: "client-id"}
	require.NoError(t, s.UpdateTask(ctx, task))
	assert.Equal(t, created, task.CreatedAt)
	assert.Equal(t, "17", task.ExternalID)
	assert.Equal(t, s.now(), task.UpdatedAt)
	assert.Equal(t, []string{events.EventTaskUpdated}, bus.events)
	assert.Equal(t, "17", bus.last.ExternalID)

	repo.On("GetTask", mock.Anything, "nope").Return(nil, fmt.Errorf("task nope: %w", taskstore.ErrNotFound))
	err := s.UpdateTask(ctx, &models.Task{ID: "nope", Title: "x"})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskService_DeleteTask(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	bus := &recordingBus{}
	s := newTestService(repo, bus)

	repo.On("GetTask", mock.Anything, "t1").Return(&models.Task{ID: "t1", ExternalID: "4"}, nil)
	repo.On("DeleteTask", mock.Anything, "t1").Return(nil)

	require.NoError(t, s.DeleteTask(ctx, "t1"))
	assert.Equal(t, []string{events.EventTaskDeleted}, bus.events)
	assert.Equal(t, events.TaskEventPayload{TaskID: "t1", ExternalID: "4"}, bus.last)

	repo.On("GetTask", mock.Anything, "gone").Return(nil, fmt.Errorf("task gone: %w", database.ErrNotFound))
	assert.ErrorIs(t, s.DeleteTask(ctx, "gone"), ErrTaskNotFound)
	repo.AssertNumberOfCalls(t, "DeleteTask", 1)
}

func TestTaskService_ListAndGet(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	s := newTestService(repo, &recordingBus{})

	tasks := []*models.Task{{ID: "a"}, {ID: "b"}}
	repo.On("ListTasks", mock.Anything).Return(tasks, nil)
	repo.On("GetTask", mock.Anything, "a").Return(tasks[0], nil)
	repo.On("GetTask", mock.Anything, "z").Return(nil, assert.AnError)

	got, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, tasks, got)

	task, err := s.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", task.ID)

	_, err = s.GetTask(ctx, "z")
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskService_NilBus(t *testing.T) {
	repo := new(MockRepository)
	logger := zerolog.Nop()
	s := NewTaskService(repo, nil, &logger)
	repo.On("CreateTask", mock.Anything, mock.Anything).Return(nil)

	assert.NoError(t, s.CreateTask(context.Background(), &models.Task{Title: "x"}))
}
