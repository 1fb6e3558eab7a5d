package domain

import (
	"context"
	"time"

	"tasksync/internal/models"
)

// SyncStore persists sync records. Both the relational table and the file queue
// implement it so the coordinator can drain whichever is active.
type SyncStore interface {
	Enqueue(ctx context.Context, rec *models.SyncRecord) error
	Get(ctx context.Context, id string) (*models.SyncRecord, error)
	// Pending returns up to limit pending records ordered by creation time.
	Pending(ctx context.Context, limit int) ([]models.SyncRecord, error)
	MarkCompleted(ctx context.Context, id string) error
	// MarkFailedAttempt increments attempts and records errMsg; the record becomes
	// failed once attempts reaches maxAttempts. The resulting status is returned.
	MarkFailedAttempt(ctx context.Context, id, errMsg string, maxAttempts int) (models.SyncStatus, error)
	ResetFailed(ctx context.Context) (int, error)
	// Cleanup removes completed records synced before olderThan.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)
	Stats(ctx context.Context) (models.SyncStats, error)
}

// TaskRepository stores tasks locally, either in the JSON task file or the tasks table.
type TaskRepository interface {
	ListTasks(ctx context.Context) ([]*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Syncer interface {
	Dispatch(ctx context.Context, op models.Operation, entityType, entityID string, data any) (bool, error)
}
