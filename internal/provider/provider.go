// Package provider adapts tasks to external systems: GitHub issues or a hub instance.
package provider

import (
	"context"
	"errors"

	"tasksync/internal/models"
)

// ErrNotConfigured is returned by every operation of a provider missing credentials.
var ErrNotConfigured = errors.New("provider is not configured")

// Provider replays task mutations against an external system. External ids are opaque strings.
type Provider interface {
	Name() string
	IsConfigured() bool
	ListTasks(ctx context.Context) ([]*models.Task, error)
	// CreateTask may return a non-empty external id together with an error when the
	// remote copy was created but not fully applied.
	CreateTask(ctx context.Context, task *models.Task) (string, error)
	UpdateTask(ctx context.Context, externalID string, task *models.Task) error
	// DeleteTask retires the external copy; GitHub closes the issue instead of deleting it.
	DeleteTask(ctx context.Context, externalID string) error
}
