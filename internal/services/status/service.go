package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

// AppState represents the worker state
type AppState string

const (
	StateIdle       AppState = "idle"
	StateProcessing AppState = "processing"
)

// Service tracks whether the worker is busy and broadcasts changes
type Service struct {
	state        AppState
	mu           sync.RWMutex
	eventService interfaces.EventService
	logger       arbor.ILogger
	metadata     map[string]interface{}
	lastJob      map[string]interface{}
}

// NewService creates a new StatusService
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		eventService: eventService,
		logger:       logger,
		metadata:     make(map[string]interface{}),
	}
}

// GetState returns the current state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the state and broadcasts the change
func (s *Service) SetState(state AppState, metadata map[string]interface{}) {
	s.mu.Lock()
	oldState := s.state
	s.state = state
	if metadata != nil {
		s.metadata = metadata
	} else {
		s.metadata = make(map[string]interface{})
	}
	s.mu.Unlock()

	if oldState != state {
		s.logger.Info().
			Str("old_state", string(oldState)).
			Str("new_state", string(state)).
			Msg("Worker state changed")
	}

	s.eventService.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventStatusChanged,
		Payload: map[string]interface{}{
			"state":     string(state),
			"metadata":  metadata,
			"timestamp": time.Now(),
		},
	})
}

// GetStatus returns the state, metadata of the active job and a summary of the last finished job
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metadataCopy := make(map[string]interface{}, len(s.metadata))
	for k, v := range s.metadata {
		metadataCopy[k] = v
	}

	status := map[string]interface{}{
		"state":     string(s.state),
		"metadata":  metadataCopy,
		"timestamp": time.Now(),
	}
	if s.lastJob != nil {
		status["last_job"] = s.lastJob
	}
	return status
}

// SubscribeToJobEvents keeps the state in step with the orchestrator's lifecycle events
func (s *Service) SubscribeToJobEvents() error {
	onStart := func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(models.JobEvent)
		if !ok {
			return nil
		}
		s.SetState(StateProcessing, map[string]interface{}{
			"active_job_id": payload.JobID,
			"mapping_id":    payload.Descriptor.MappingID,
			"dry_run":       payload.Descriptor.DryRun,
		})
		return nil
	}

	onFinish := func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(models.JobEvent)
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.lastJob = map[string]interface{}{
			"job_id":        payload.JobID,
			"status":        string(payload.State.Status),
			"success_count": payload.State.SuccessCount,
			"error_count":   payload.State.ErrorCount,
			"finished_at":   payload.Timestamp,
		}
		s.mu.Unlock()
		s.SetState(StateIdle, nil)
		return nil
	}

	if err := s.eventService.Subscribe(interfaces.EventJobStarted, onStart); err != nil {
		return err
	}
	if err := s.eventService.Subscribe(interfaces.EventJobCompleted, onFinish); err != nil {
		return err
	}
	if err := s.eventService.Subscribe(interfaces.EventJobFailed, onFinish); err != nil {
		return err
	}

	s.logger.Debug().Msg("Status service subscribed to job events")
	return nil
}
