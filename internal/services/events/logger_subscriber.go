package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

// JobEventTypes are the events the orchestrator publishes
var JobEventTypes = []interfaces.EventType{
	interfaces.EventJobStarted,
	interfaces.EventRowProcessed,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
}

// NewLoggerSubscriber creates an event handler that logs job events at debug level
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().Str("event_type", string(event.Type))

		if payload, ok := event.Payload.(models.JobEvent); ok {
			logEvent = logEvent.
				Str("job_id", payload.JobID).
				Str("status", string(payload.State.Status)).
				Int("current_row", payload.State.CurrentRow).
				Int("total_rows", payload.State.TotalRows)
			if payload.Row != nil {
				logEvent = logEvent.
					Int("row_number", payload.Row.RowNumber).
					Str("row_status", string(payload.Row.Status))
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to every job event type
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range append(append([]interfaces.EventType{}, JobEventTypes...), interfaces.EventStatusChanged) {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().Msg("Logger subscribed to job events")
	return nil
}
