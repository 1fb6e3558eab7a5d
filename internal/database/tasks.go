package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tasksync/internal/models"
)

// TaskStore keeps tasks in the tasks table; selected with tasks.driver: database.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, title, description, status, priority, feature, version, tags,
       estimated_hours, actual_hours, notes, external_id, created_at, updated_at`

func (s *TaskStore) ListTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *TaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, err
}

func (s *TaskStore) CreateTask(ctx context.Context, task *models.Task) error {
	tags, err := encodeTags(task.Tags)
	if err != nil {
		return err
	}
	query := `INSERT INTO tasks (id, title, description, status, priority, feature, version, tags,
                  estimated_hours, actual_hours, notes, external_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.Title, task.Description, task.Status, task.Priority, task.Feature, task.Version, tags,
		task.EstimatedHours, task.ActualHours, task.Notes, task.ExternalID,
		task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *TaskStore) UpdateTask(ctx context.Context, task *models.Task) error {
	tags, err := encodeTags(task.Tags)
	if err != nil {
		return err
	}
	query := `UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, feature = ?, version = ?,
                  tags = ?, estimated_hours = ?, actual_hours = ?, notes = ?, external_id = ?, updated_at = ?
              WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		task.Title, task.Description, task.Status, task.Priority, task.Feature, task.Version,
		tags, task.EstimatedHours, task.ActualHours, task.Notes, task.ExternalID, task.UpdatedAt.UTC(),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task                                       models.Task
		description, feature, version, tags, notes sql.NullString
		extID                                      sql.NullString
		estimated, actual                          sql.NullFloat64
	)
	err := row.Scan(&task.ID, &task.Title, &description, &task.Status, &task.Priority, &feature, &version, &tags,
		&estimated, &actual, &notes, &extID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	task.Description = description.String
	task.Feature = feature.String
	task.Version = version.String
	task.Notes = notes.String
	task.ExternalID = extID.String
	if estimated.Valid {
		task.EstimatedHours = &estimated.Float64
	}
	if actual.Valid {
		task.ActualHours = &actual.Float64
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &task.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for task %s: %w", task.ID, err)
		}
		if len(task.Tags) == 0 {
			task.Tags = nil
		}
	}
	return &task, nil
}
