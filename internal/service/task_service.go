package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/database"
	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/taskstore"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
	ErrInvalidTask  = errors.New("invalid task")
)

// TaskService applies task mutations to the local repository and announces them on the
// event bus, where the offline coordinator picks them up for sync.
type TaskService struct {
	repo     domain.TaskRepository
	eventBus domain.EventPublisher
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewTaskService(repo domain.TaskRepository, eventBus domain.EventPublisher, logger *zerolog.Logger) *TaskService {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "tasks").Logger()
	}
	return &TaskService{
		repo:     repo,
		eventBus: eventBus,
		logger:   l,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *TaskService) ListTasks(ctx context.Context) ([]*models.Task, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return task, nil
}

// CreateTask assigns an id when none is given, fills defaults and timestamps. The
// external id belongs to the provider and is never taken from the caller.
func (s *TaskService) CreateTask(ctx context.Context, task *models.Task) error {
	if err := validate(task); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = s.newID()
	} else if _, err := s.repo.GetTask(ctx, task.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	task.Normalize()
	task.ExternalID = ""
	now := s.now()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := s.repo.CreateTask(ctx, task); err != nil {
		if errors.Is(err, taskstore.ErrExists) {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
		}
		return fmt.Errorf("failed to create task %s: %w", task.ID, err)
	}

	s.logger.Info().Str("task_id", task.ID).Str("title", task.Title).Msg("Task created")
	s.publish(events.EventTaskCreated, task)
	return nil
}

// UpdateTask replaces the stored task, keeping its creation time and external id.
// A caller-supplied external id is ignored.
func (s *TaskService) UpdateTask(ctx context.Context, task *models.Task) error {
	if err := validate(task); err != nil {
		return err
	}
	existing, err := s.repo.GetTask(ctx, task.ID)
	if err != nil {
		return mapNotFound(err, task.ID)
	}

	task.Normalize()
	task.CreatedAt = existing.CreatedAt
	task.ExternalID = existing.ExternalID
	task.UpdatedAt = s.now()

	if err := s.repo.UpdateTask(ctx, task); err != nil {
		return mapNotFound(err, task.ID)
	}

	s.logger.Info().Str("task_id", task.ID).Str("status", string(task.Status)).Msg("Task updated")
	s.publish(events.EventTaskUpdated, task)
	return nil
}

func (s *TaskService) DeleteTask(ctx context.Context, id string) error {
	existing, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return mapNotFound(err, id)
	}
	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return mapNotFound(err, id)
	}

	s.logger.Info().Str("task_id", id).Msg("Task deleted")
	s.emit(events.EventTaskDeleted, events.TaskEventPayload{TaskID: id, ExternalID: existing.ExternalID})
	return nil
}

func (s *TaskService) publish(eventType string, task *models.Task) {
	raw, err := json.Marshal(task)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to encode task event")
		return
	}
	s.emit(eventType, events.TaskEventPayload{TaskID: task.ID, ExternalID: task.ExternalID, Task: raw})
}

func (s *TaskService) emit(eventType string, payload events.TaskEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("task_id", payload.TaskID).Msg("Task event handler failed")
	}
}

func validate(task *models.Task) error {
	if task == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidTask)
	}
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if task.Status != "" && !task.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, task.Status)
	}
	if task.Priority != "" && !task.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, task.Priority)
	}
	return nil
}

func mapNotFound(err error, id string) error {
	if errors.Is(err, taskstore.ErrNotFound) || errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return err
}
