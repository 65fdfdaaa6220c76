package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/models"
)

// ProgressAggregator coalesces row events so listeners see at most one progress
// update per job every interval. Only the latest event per job is kept.
// Terminal events bypass the interval.
type ProgressAggregator struct {
	mu       sync.Mutex
	interval time.Duration
	pending  map[string]models.JobEvent // job_id -> latest unsent event

	onFlush func(ctx context.Context, event models.JobEvent)

	logger arbor.ILogger
}

// NewProgressAggregator creates an aggregator that calls onFlush with coalesced events
func NewProgressAggregator(
	interval time.Duration,
	onFlush func(ctx context.Context, event models.JobEvent),
	logger arbor.ILogger,
) *ProgressAggregator {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &ProgressAggregator{
		interval: interval,
		pending:  make(map[string]models.JobEvent),
		onFlush:  onFlush,
		logger:   logger,
	}
}

// Record stores event as the latest progress for its job
func (a *ProgressAggregator) Record(event models.JobEvent) {
	if event.JobID == "" {
		return
	}
	a.mu.Lock()
	a.pending[event.JobID] = event
	a.mu.Unlock()
}

// FlushJob sends event at once and drops anything pending for the job
func (a *ProgressAggregator) FlushJob(ctx context.Context, event models.JobEvent) {
	a.mu.Lock()
	delete(a.pending, event.JobID)
	a.mu.Unlock()

	a.safeOnFlush(ctx, event)
}

// Start flushes pending events every interval until ctx is done
func (a *ProgressAggregator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.flushPending(context.Background())
				return
			case <-ticker.C:
				a.flushPending(ctx)
			}
		}
	}()
}

func (a *ProgressAggregator) flushPending(ctx context.Context) {
	a.mu.Lock()
	batch := make([]models.JobEvent, 0, len(a.pending))
	for jobID, event := range a.pending {
		batch = append(batch, event)
		delete(a.pending, jobID)
	}
	a.mu.Unlock()

	for _, event := range batch {
		a.safeOnFlush(ctx, event)
	}
}

func (a *ProgressAggregator) safeOnFlush(ctx context.Context, event models.JobEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("job_id", event.JobID).
				Msg("Recovered from panic in progress flush")
		}
	}()
	a.onFlush(ctx, event)
}
