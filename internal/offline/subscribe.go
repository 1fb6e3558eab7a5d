package offline

import (
	"context"
	"time"

	"tasksync/internal/events"
	"tasksync/internal/models"
)

// Subscribe routes task mutation events into Dispatch.
func (c *Coordinator) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTaskCreated, c.handler(models.OperationCreate))
	bus.Subscribe(events.EventTaskUpdated, c.handler(models.OperationUpdate))
	bus.Subscribe(events.EventTaskDeleted, c.handler(models.OperationDelete))
}

func (c *Coordinator) handler(op models.Operation) events.EventHandler {
	return func(event *events.Event) error {
		var payload events.TaskEventPayload
		if err := event.Decode(&payload); err != nil {
			return err
		}

		var data any = payload.Task
		if op == models.OperationDelete || len(payload.Task) == 0 {
			data = models.Task{ID: payload.TaskID, ExternalID: payload.ExternalID}
		}

		// Event handlers run without a caller context; bound the provider round trip.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := c.Dispatch(ctx, op, models.EntityTask, payload.TaskID, data)
		return err
	}
}

