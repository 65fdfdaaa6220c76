package reporter

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
)

const queueSize = 256

// Queue delivers reports for one job asynchronously, in submission order, on a
// single goroutine. Enqueue methods do not wait for delivery but block while the
// buffer is full; they always return nil and delivery errors are logged. Drain
// waits for everything queued so far. A drain that times out cancels the
// delivery in flight and drops the rest, so no report outlives its job's drain.
type Queue struct {
	inner  interfaces.StatusReporter
	logger arbor.ILogger
	ctx    context.Context
	cancel context.CancelFunc

	tasks chan queuedReport
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

type queuedReport struct {
	kind string
	send func(ctx context.Context) error
}

// NewQueue starts a queue in front of inner. ctx bounds every delivery; it should
// outlive the job so terminal reports still go out after a cancellation.
func NewQueue(ctx context.Context, inner interfaces.StatusReporter, logger arbor.ILogger) *Queue {
	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		inner:  inner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan queuedReport, queueSize),
		done:   make(chan struct{}),
	}
	common.SafeGo(logger, "reportQueue", q.run)
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	dropped := 0
	for task := range q.tasks {
		if q.ctx.Err() != nil {
			dropped++
			continue
		}
		if err := task.send(q.ctx); err != nil {
			q.logger.Warn().Err(err).Str("report", task.kind).Msg("Status report not delivered")
		}
	}
	if dropped > 0 {
		q.logger.Warn().Int("dropped", dropped).Msg("Status reports dropped after drain timeout")
	}
}

func (q *Queue) enqueue(kind string, send func(ctx context.Context) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn().Str("report", kind).Msg("Status report queued after drain, dropping")
		return nil
	}
	q.tasks <- queuedReport{kind: kind, send: send}
	return nil
}

// Drain stops accepting reports and waits until queued ones are delivered or ctx ends.
// On timeout the pending reports are abandoned and Drain returns once the sender stops.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
	case <-ctx.Done():
		q.logger.Warn().Msg("Timed out waiting for status reports to drain, abandoning the rest")
		q.cancel()
		<-q.done
	}
}

func (q *Queue) ReportStatus(_ context.Context, jobID string, status models.JobStatus, progress *int) error {
	return q.enqueue(EndpointStatus, func(ctx context.Context) error {
		return q.inner.ReportStatus(ctx, jobID, status, progress)
	})
}

func (q *Queue) ReportProgress(_ context.Context, jobID string, currentRow, totalRows, successCount, errorCount int) error {
	return q.enqueue(EndpointProgress, func(ctx context.Context) error {
		return q.inner.ReportProgress(ctx, jobID, currentRow, totalRows, successCount, errorCount)
	})
}

func (q *Queue) ReportLog(_ context.Context, jobID string, rowNumber int, status models.RowStatus, message string) error {
	return q.enqueue(EndpointLog, func(ctx context.Context) error {
		return q.inner.ReportLog(ctx, jobID, rowNumber, status, message)
	})
}

func (q *Queue) ReportCompletion(_ context.Context, jobID string, results models.JobResults) error {
	return q.enqueue(EndpointComplete, func(ctx context.Context) error {
		return q.inner.ReportCompletion(ctx, jobID, results)
	})
}

func (q *Queue) ReportFailure(_ context.Context, jobID string, jobErr error, failedRows []models.FailedRow) error {
	return q.enqueue(EndpointFailed, func(ctx context.Context) error {
		return q.inner.ReportFailure(ctx, jobID, jobErr, failedRows)
	})
}

// TestConnection is synchronous
func (q *Queue) TestConnection(ctx context.Context) error {
	return q.inner.TestConnection(ctx)
}

// Noop discards reports. Used for local runs without a callback receiver.
type Noop struct {
	Logger arbor.ILogger
}

func (n Noop) log(kind, jobID string) {
	if n.Logger != nil {
		n.Logger.Debug().Str("job_id", jobID).Str("report", kind).Msg("Callback receiver not configured, report dropped")
	}
}

func (n Noop) ReportStatus(_ context.Context, jobID string, _ models.JobStatus, _ *int) error {
	n.log(EndpointStatus, jobID)
	return nil
}

func (n Noop) ReportProgress(_ context.Context, jobID string, _, _, _, _ int) error {
	n.log(EndpointProgress, jobID)
	return nil
}

func (n Noop) ReportLog(_ context.Context, jobID string, _ int, _ models.RowStatus, _ string) error {
	n.log(EndpointLog, jobID)
	return nil
}

func (n Noop) ReportCompletion(_ context.Context, jobID string, _ models.JobResults) error {
	n.log(EndpointComplete, jobID)
	return nil
}

func (n Noop) ReportFailure(_ context.Context, jobID string, _ error, _ []models.FailedRow) error {
	n.log(EndpointFailed, jobID)
	return nil
}

func (n Noop) TestConnection(context.Context) error {
	return nil
}
