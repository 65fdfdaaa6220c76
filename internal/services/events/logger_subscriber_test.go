package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

func TestNewLoggerSubscriber(t *testing.T) {
	subscriber := NewLoggerSubscriber(arbor.NewLogger())
	ctx := context.Background()

	err := subscriber(ctx, interfaces.Event{
		Type: interfaces.EventRowProcessed,
		Payload: models.JobEvent{
			JobID: "j1",
			State: models.JobState{Status: models.JobStatusProcessing, CurrentRow: 1, TotalRows: 2},
			Row:   &models.RowOutcome{RowNumber: 2, Status: models.RowStatusSuccess},
		},
	})
	assert.NoError(t, err)

	// Payloads of other types are tolerated
	assert.NoError(t, subscriber(ctx, interfaces.Event{Type: interfaces.EventStatusChanged}))
}

func TestSubscribeLoggerToAllEvents(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	require.NoError(t, SubscribeLoggerToAllEvents(service, arbor.NewLogger()))
	for _, eventType := range JobEventTypes {
		assert.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: eventType}))
	}
}

func TestPublishSync_OrderAndErrors(t *testing.T) {
	service := NewService(arbor.NewLogger())
	defer service.Close()

	var order []string
	require.NoError(t, service.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, e interfaces.Event) error {
		order = append(order, "first")
		return nil
	}))
	require.NoError(t, service.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, e interfaces.Event) error {
		order = append(order, "second")
		return errors.New("boom")
	}))
	require.NoError(t, service.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, e interfaces.Event) error {
		panic("handler bug")
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobStarted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, []string{"first", "second"}, order)

	assert.Error(t, service.Subscribe(interfaces.EventJobStarted, nil))
}

func TestPublish_Async(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, service.Subscribe(interfaces.EventJobCompleted, func(ctx context.Context, e interfaces.Event) error {
		defer wg.Done()
		assert.Equal(t, "j1", e.Payload.(models.JobEvent).JobID)
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: models.JobEvent{JobID: "j1"},
	}))
	wg.Wait()

	// Closed services drop events
	require.NoError(t, service.Close())
	assert.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted}))
}

func TestProgressAggregator(t *testing.T) {
	var mu sync.Mutex
	var flushed []models.JobEvent
	agg := NewProgressAggregator(20*time.Millisecond, func(ctx context.Context, e models.JobEvent) {
		mu.Lock()
		flushed = append(flushed, e)
		mu.Unlock()
	}, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	agg.Start(ctx)

	for i := 1; i <= 10; i++ {
		agg.Record(models.JobEvent{JobID: "j1", State: models.JobState{CurrentRow: i}})
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushed) > 0 && flushed[len(flushed)-1].State.CurrentRow == 10
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(flushed), 10, "row events are coalesced")
}

func TestProgressAggregator_FlushJobDropsPending(t *testing.T) {
	var flushed []models.JobEvent
	agg := NewProgressAggregator(time.Hour, func(ctx context.Context, e models.JobEvent) {
		flushed = append(flushed, e)
	}, arbor.NewLogger())

	agg.Record(models.JobEvent{JobID: "j1", State: models.JobState{CurrentRow: 11}})
	agg.FlushJob(context.Background(), models.JobEvent{JobID: "j1", State: models.JobState{Status: models.JobStatusCompleted}})
	agg.flushPending(context.Background())

	require.Len(t, flushed, 1)
	assert.Equal(t, models.JobStatusCompleted, flushed[0].State.Status)
}
