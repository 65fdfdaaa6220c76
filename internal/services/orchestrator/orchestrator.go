// Package orchestrator runs import jobs one at a time: it fetches rows, resolves
// the mapping, validates or submits every row, and reports each step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/reporter"
	"github.com/ternarybob/sheetporter/internal/services/sources"
	"github.com/ternarybob/sheetporter/internal/services/validation"
)

const (
	defaultDrainTimeout = 2 * time.Minute
	softFailureReason   = "no success indicator"
)

// Config holds what the orchestrator needs beyond its collaborators
type Config struct {
	TargetBaseURL string // Prefixed to each mapping's form path
	Credentials   interfaces.Credentials
	DrainTimeout  time.Duration // Upper bound on waiting for queued reports after a job
}

// Snapshot is a point-in-time copy of the active job
type Snapshot struct {
	Descriptor models.JobDescriptor `json:"descriptor"`
	State      models.JobState      `json:"state"`
}

// Outcome is the final result of a job
type Outcome struct {
	State   models.JobState    `json:"state"`
	Results *models.JobResults `json:"results,omitempty"`
	Err     error              `json:"-"`
}

// Orchestrator admits at most one job at a time
type Orchestrator struct {
	source   interfaces.RowSource
	mapper   interfaces.FieldMapper
	reporter interfaces.StatusReporter
	sessions interfaces.SessionFactory
	events   interfaces.EventService
	cfg      Config
	logger   arbor.ILogger

	// gate is a single-slot admission semaphore
	gate chan struct{}

	mu     sync.Mutex
	active *job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// job is the orchestrator-owned state of one accepted descriptor
type job struct {
	desc      models.JobDescriptor
	logger    arbor.ILogger
	reports   *reporter.Queue
	cancelled atomic.Bool
	done      chan struct{}

	// guarded by Orchestrator.mu
	state      models.JobState
	failedRows []models.FailedRow
	outcome    Outcome
}

// New creates an orchestrator. events may be nil.
func New(
	source interfaces.RowSource,
	mapper interfaces.FieldMapper,
	statusReporter interfaces.StatusReporter,
	sessions interfaces.SessionFactory,
	events interfaces.EventService,
	cfg Config,
	logger arbor.ILogger,
) *Orchestrator {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		source:   source,
		mapper:   mapper,
		reporter: statusReporter,
		sessions: sessions,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		gate:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit validates desc, takes the admission gate and starts processing in the
// background. It returns a ConcurrentJobError while another job holds the gate.
func (o *Orchestrator) Submit(desc models.JobDescriptor) error {
	_, err := o.start(desc)
	return err
}

// Run submits desc and waits for it to finish
func (o *Orchestrator) Run(ctx context.Context, desc models.JobDescriptor) (Outcome, error) {
	j, err := o.start(desc)
	if err != nil {
		return Outcome{}, err
	}
	select {
	case <-j.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return j.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (o *Orchestrator) start(desc models.JobDescriptor) (*job, error) {
	if err := validation.Struct(desc); err != nil {
		return nil, err
	}

	select {
	case o.gate <- struct{}{}:
	default:
		activeID := ""
		if snap, ok := o.Active(); ok {
			activeID = snap.Descriptor.JobID
		}
		o.logger.Warn().
			Str("job_id", desc.JobID).
			Str("active_job_id", activeID).
			Msg("Job rejected, another job is processing")
		return nil, models.NewConcurrentJobError(activeID)
	}

	now := time.Now()
	j := &job{
		desc:   desc,
		logger: o.logger.WithCorrelationId(desc.JobID),
		done:   make(chan struct{}),
		state: models.JobState{
			JobID:     desc.JobID,
			Status:    models.JobStatusPending,
			StartedAt: now,
			UpdatedAt: now,
		},
	}

	o.mu.Lock()
	o.active = j
	o.mu.Unlock()

	o.wg.Add(1)
	common.SafeGo(o.logger, "job:"+desc.JobID, func() {
		o.run(j)
	})

	j.logger.Info().
		Str("source_id", desc.SourceID).
		Str("range", desc.Range).
		Str("mapping_id", desc.MappingID).
		Bool("dry_run", desc.DryRun).
		Msg("Job accepted")

	return j, nil
}

// run owns the job's lifetime. Deferred steps run in reverse: a panic becomes a
// failure report, queued reports drain, then the gate is released.
func (o *Orchestrator) run(j *job) {
	j.reports = reporter.NewQueue(context.Background(), o.reporter, j.logger)

	defer o.release(j)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), o.cfg.DrainTimeout)
		defer cancel()
		j.reports.Drain(drainCtx)
	}()
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic while processing job")
			o.fail(o.ctx, j, fmt.Errorf("internal error: %v", r))
		}
	}()

	o.process(o.ctx, j)
}

func (o *Orchestrator) release(j *job) {
	o.mu.Lock()
	if o.active == j {
		o.active = nil
	}
	o.mu.Unlock()

	<-o.gate
	close(j.done)
	o.wg.Done()
}

// process implements the job algorithm; every exit path leaves the job terminal
func (o *Orchestrator) process(ctx context.Context, j *job) {
	id := j.desc.JobID

	o.transition(j, models.JobStatusProcessing)
	o.publish(ctx, interfaces.EventJobStarted, j, nil, nil)

	zero := 0
	j.reports.ReportStatus(ctx, id, models.JobStatusProcessing, &zero)

	table, err := o.source.FetchTable(ctx, j.desc.SourceID, j.desc.Range)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}

	rows := sources.ParseWithHeaders(table)
	if len(rows) == 0 {
		o.fail(ctx, j, models.NewEmptySourceError(j.desc.SourceID, j.desc.Range))
		return
	}

	rule, err := o.mapper.Resolve(j.desc.MappingID)
	if err != nil {
		o.fail(ctx, j, err)
		return
	}

	o.mu.Lock()
	j.state.TotalRows = len(rows)
	o.mu.Unlock()

	j.logger.Info().
		Int("total_rows", len(rows)).
		Str("mapping_id", rule.ID).
		Msg("Processing rows")

	if j.desc.DryRun {
		err = o.runDryRun(ctx, j, rows, rule)
	} else {
		err = o.runLive(ctx, j, rows, rule)
	}
	if err != nil {
		o.fail(ctx, j, err)
		return
	}

	o.complete(ctx, j)
}

func (o *Orchestrator) runDryRun(ctx context.Context, j *job, rows []models.MappedRow, rule *models.MappingRule) error {
	for _, row := range rows {
		if j.cancelled.Load() {
			return models.NewJobCancelledError(j.desc.JobID)
		}
		o.recordRow(ctx, j, o.validateRow(row, rule))
	}
	return nil
}

// validateRow never lets a mapper panic escape the row
func (o *Orchestrator) validateRow(row models.MappedRow, rule *models.MappingRule) (outcome models.RowOutcome) {
	outcome.RowNumber = row.RowNumber
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = models.RowStatusError
			outcome.Message = fmt.Sprintf("Validation error: %v", r)
		}
	}()

	result := o.mapper.ValidateRow(row, rule)
	if result.Valid {
		outcome.Status = models.RowStatusSuccess
		outcome.Message = "Row validated successfully"
	} else {
		outcome.Status = models.RowStatusError
		outcome.Message = result.Reason
	}
	return outcome
}

func (o *Orchestrator) runLive(ctx context.Context, j *job, rows []models.MappedRow, rule *models.MappingRule) error {
	if o.sessions == nil {
		return models.NewLaunchError(errors.New("browser automation is not configured"))
	}

	session := o.sessions()
	defer o.closeSession(j, session)

	if err := session.Launch(ctx); err != nil {
		return err
	}
	if err := session.Authenticate(ctx, o.cfg.Credentials); err != nil {
		return err
	}

	formURL := strings.TrimRight(o.cfg.TargetBaseURL, "/") + "/" + strings.TrimLeft(rule.FormPath, "/")

	for _, row := range rows {
		if j.cancelled.Load() {
			return models.NewJobCancelledError(j.desc.JobID)
		}

		outcome, err := o.submitRow(ctx, session, formURL, row, rule)
		if err != nil {
			return err
		}
		o.recordRow(ctx, j, outcome)
	}
	return nil
}

// submitRow turns every per-row failure into an error outcome. The returned error
// is only set for failures that end the job: the session losing its login or its browser.
func (o *Orchestrator) submitRow(ctx context.Context, session interfaces.AutomationSession, formURL string, row models.MappedRow, rule *models.MappingRule) (outcome models.RowOutcome, fatal error) {
	outcome.RowNumber = row.RowNumber
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = models.RowStatusError
			outcome.Message = fmt.Sprintf("Import error: %v", r)
			fatal = nil
		}
	}()

	if err := session.NavigateTo(ctx, formURL); err != nil {
		if models.IsJobFatal(err) {
			return outcome, err
		}
		outcome.Status = models.RowStatusError
		outcome.Message = "Import error: " + err.Error()
		return outcome, nil
	}

	result, err := session.SubmitRow(ctx, row, rule)
	switch {
	case err != nil && models.IsJobFatal(err):
		return outcome, err
	case err != nil:
		outcome.Status = models.RowStatusError
		outcome.Message = "Import error: " + err.Error()
	case result == nil || !result.Success:
		outcome.Status = models.RowStatusError
		outcome.Message = softFailureReason
		if result != nil && result.Reason != "" {
			outcome.Message = result.Reason
		}
	default:
		outcome.Status = models.RowStatusSuccess
		outcome.Message = "Row imported successfully"
	}
	return outcome, nil
}

func (o *Orchestrator) closeSession(j *job, session interfaces.AutomationSession) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Warn().Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered while closing browser session")
		}
	}()
	session.Close()
}

// recordRow updates the tally, then queues the row log and progress reports
func (o *Orchestrator) recordRow(ctx context.Context, j *job, outcome models.RowOutcome) {
	o.mu.Lock()
	j.state.CurrentRow++
	if outcome.Status == models.RowStatusSuccess {
		j.state.SuccessCount++
	} else {
		j.state.ErrorCount++
		if !j.desc.DryRun {
			j.failedRows = append(j.failedRows, models.FailedRow{RowNumber: outcome.RowNumber, Error: outcome.Message})
		}
	}
	j.state.UpdatedAt = time.Now()
	state := j.state
	o.mu.Unlock()

	logEvent := j.logger.Info()
	if outcome.Status != models.RowStatusSuccess {
		logEvent = j.logger.Warn()
	}
	logEvent.
		Int("row_number", outcome.RowNumber).
		Str("status", string(outcome.Status)).
		Int("current_row", state.CurrentRow).
		Int("total_rows", state.TotalRows).
		Msg(outcome.Message)

	id := j.desc.JobID
	j.reports.ReportLog(ctx, id, outcome.RowNumber, outcome.Status, outcome.Message)
	j.reports.ReportProgress(ctx, id, state.CurrentRow, state.TotalRows, state.SuccessCount, state.ErrorCount)

	o.publish(ctx, interfaces.EventRowProcessed, j, &outcome, nil)
}

func (o *Orchestrator) complete(ctx context.Context, j *job) {
	if !o.transition(j, models.JobStatusCompleted) {
		return
	}

	o.mu.Lock()
	results := models.JobResults{
		TotalRows:    j.state.TotalRows,
		SuccessCount: j.state.SuccessCount,
		ErrorCount:   j.state.ErrorCount,
		Type:         j.desc.Type(),
	}
	if !j.desc.DryRun {
		results.FailedRows = append([]models.FailedRow{}, j.failedRows...)
	}
	j.outcome = Outcome{State: j.state, Results: &results}
	o.mu.Unlock()

	j.logger.Info().
		Int("total_rows", results.TotalRows).
		Int("success_count", results.SuccessCount).
		Int("error_count", results.ErrorCount).
		Str("type", string(results.Type)).
		Msg("Job completed")

	j.reports.ReportCompletion(ctx, j.desc.JobID, results)
	o.publish(ctx, interfaces.EventJobCompleted, j, nil, &results)
}

func (o *Orchestrator) fail(ctx context.Context, j *job, jobErr error) {
	if !o.transition(j, models.JobStatusFailed) {
		j.logger.Warn().Err(jobErr).Msg("Error after job reached a terminal state")
		return
	}

	o.mu.Lock()
	failedRows := append([]models.FailedRow(nil), j.failedRows...)
	j.outcome = Outcome{State: j.state, Err: jobErr}
	o.mu.Unlock()

	j.logger.Error().
		Err(jobErr).
		Str("error_kind", string(models.KindOf(jobErr))).
		Msg("Job failed")

	j.reports.ReportFailure(ctx, j.desc.JobID, jobErr, failedRows)
	o.publish(ctx, interfaces.EventJobFailed, j, nil, nil)
}

// transition moves the job forward; it refuses backward or repeated moves
func (o *Orchestrator) transition(j *job, next models.JobStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !j.state.Status.CanTransitionTo(next) {
		return false
	}
	j.state.Status = next
	j.state.UpdatedAt = time.Now()
	return true
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, j *job, row *models.RowOutcome, results *models.JobResults) {
	if o.events == nil {
		return
	}

	o.mu.Lock()
	payload := models.JobEvent{
		JobID:      j.desc.JobID,
		Descriptor: j.desc,
		State:      j.state,
		Row:        row,
		Results:    results,
		Timestamp:  time.Now(),
	}
	if j.outcome.Err != nil {
		payload.Error = j.outcome.Err.Error()
		payload.ErrorKind = models.KindOf(j.outcome.Err)
	}
	o.mu.Unlock()

	// Subscribers are local; synchronous delivery keeps them in job order
	if err := o.events.PublishSync(context.WithoutCancel(ctx), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		j.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event subscribers reported errors")
	}
}

// Active returns a snapshot of the job holding the gate
func (o *Orchestrator) Active() (Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return Snapshot{}, false
	}
	return Snapshot{Descriptor: o.active.desc, State: o.active.state}, true
}

// Busy reports whether a job holds the gate
func (o *Orchestrator) Busy() bool {
	return len(o.gate) > 0
}

// Cancel asks the active job to stop before its next row
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.Lock()
	j := o.active
	o.mu.Unlock()

	if j == nil || j.desc.JobID != jobID {
		return models.NewJobNotFoundError(jobID)
	}
	j.cancelled.Store(true)
	j.logger.Info().Msg("Cancellation requested")
	return nil
}

// Wait blocks until no job is running
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels the active job cooperatively and waits for it; when ctx ends
// first, in-flight operations are interrupted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if snap, ok := o.Active(); ok {
		_ = o.Cancel(snap.Descriptor.JobID)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
