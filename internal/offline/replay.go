package offline

import (
	"context"
	"encoding/json"
	"fmt"

	"tasksync/internal/models"
)

// replay pushes one record through the provider. Only task entities are supported.
func (c *Coordinator) replay(ctx context.Context, rec *models.SyncRecord) error {
	if rec.EntityType != models.EntityTask {
		return fmt.Errorf("unsupported entity type %q", rec.EntityType)
	}

	var task models.Task
	if len(rec.Data) > 0 && string(rec.Data) != "null" {
		if err := json.Unmarshal(rec.Data, &task); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
	}
	if task.ID == "" {
		task.ID = rec.EntityID
	}

	switch rec.Operation {
	case models.OperationCreate, models.OperationUpdate:
		// A create retried after the remote copy already exists becomes an update.
		externalID := c.externalID(ctx, &task)
		if externalID == "" {
			return c.create(ctx, &task)
		}
		return c.provider.UpdateTask(ctx, externalID, &task)
	case models.OperationDelete:
		externalID := c.externalID(ctx, &task)
		if externalID == "" {
			// Never reached the provider, nothing to retire.
			return nil
		}
		return c.provider.DeleteTask(ctx, externalID)
	default:
		return fmt.Errorf("unknown operation %q", rec.Operation)
	}
}

func (c *Coordinator) create(ctx context.Context, task *models.Task) error {
	externalID, err := c.provider.CreateTask(ctx, task)
	if externalID != "" {
		task.ExternalID = externalID
		c.storeExternalID(ctx, task.ID, externalID)
	}
	return err
}

// externalID prefers the id carried by the payload and falls back to the local task.
func (c *Coordinator) externalID(ctx context.Context, task *models.Task) string {
	if task.ExternalID != "" || c.tasks == nil {
		return task.ExternalID
	}
	local, err := c.tasks.GetTask(ctx, task.ID)
	if err != nil {
		return ""
	}
	return local.ExternalID
}

// storeExternalID records the provider id on the local task so later updates target it.
// A task deleted in the meantime is not an error.
func (c *Coordinator) storeExternalID(ctx context.Context, taskID, externalID string) {
	if c.tasks == nil || taskID == "" {
		return
	}
	local, err := c.tasks.GetTask(ctx, taskID)
	if err != nil {
		c.logger.Debug().Err(err).Str("task_id", taskID).Msg("Local task gone, external id not stored")
		return
	}
	if local.ExternalID == externalID {
		return
	}
	local.ExternalID = externalID
	if err := c.tasks.UpdateTask(ctx, local); err != nil {
		c.logger.Warn().Err(err).Str("task_id", taskID).Msg("Failed to store external id")
	}
}
