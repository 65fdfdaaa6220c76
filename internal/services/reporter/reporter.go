// Package reporter delivers signed job status callbacks to the system of record.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/signature"
)

// Callback endpoint names under the path prefix
const (
	EndpointStatus   = "job-status"
	EndpointProgress = "job-progress"
	EndpointLog      = "job-log"
	EndpointComplete = "job-complete"
	EndpointFailed   = "job-failed"
	EndpointHealth   = "health"

	DefaultPathPrefix = "wp-json/aoikumo-importer/v1"
	DefaultTimeout    = 10 * time.Second

	healthTimeout = 5 * time.Second
)

// Client posts signed callbacks. It implements interfaces.StatusReporter.
type Client struct {
	baseURL    string
	pathPrefix string
	secret     string
	httpClient *http.Client
	retry      *RetryPolicy
	logger     arbor.ILogger
	now        func() time.Time
}

// Option configures the Client
type Option func(*Client)

// WithPathPrefix sets the path between the base URL and the endpoint names
func WithPathPrefix(prefix string) Option {
	return func(c *Client) {
		c.pathPrefix = strings.Trim(prefix, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRetryPolicy sets the delivery retry policy
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(c *Client) {
		c.retry = policy
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a callback client for baseURL signing with secret
func NewClient(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pathPrefix: DefaultPathPrefix,
		secret:     secret,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retry:      NewRetryPolicy(3, 500*time.Millisecond),
		logger:     arbor.NewLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallbackError is a non-2xx response from the receiver
type CallbackError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

type statusPayload struct {
	JobID     string           `json:"jobId"`
	Status    models.JobStatus `json:"status"`
	Progress  *int             `json:"progress,omitempty"`
	Timestamp string           `json:"timestamp"`
}

type progressPayload struct {
	JobID        string `json:"jobId"`
	CurrentRow   int    `json:"currentRow"`
	TotalRows    int    `json:"totalRows"`
	SuccessCount int    `json:"successCount"`
	ErrorCount   int    `json:"errorCount"`
	Timestamp    string `json:"timestamp"`
}

type logPayload struct {
	JobID     string           `json:"jobId"`
	RowNumber int              `json:"rowNumber"`
	Status    models.RowStatus `json:"status"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
}

type completionPayload struct {
	JobID       string            `json:"jobId"`
	Status      models.JobStatus  `json:"status"`
	Results     models.JobResults `json:"results"`
	CompletedAt string            `json:"completedAt"`
	Timestamp   string            `json:"timestamp"`
}

type failurePayload struct {
	JobID      string             `json:"jobId"`
	Status     models.JobStatus   `json:"status"`
	Error      string             `json:"error"`
	ErrorKind  models.ErrorKind   `json:"errorKind,omitempty"`
	FailedRows []models.FailedRow `json:"failedRows,omitempty"`
	Timestamp  string             `json:"timestamp"`
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}

func (c *Client) endpoint(name string) string {
	if c.pathPrefix == "" {
		return c.baseURL + "/" + name
	}
	return c.baseURL + "/" + c.pathPrefix + "/" + name
}

// ReportStatus sends a status change with optional progress percentage
func (c *Client) ReportStatus(ctx context.Context, jobID string, status models.JobStatus, progress *int) error {
	return c.post(ctx, jobID, EndpointStatus, statusPayload{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Timestamp: c.timestamp(),
	})
}

// ReportProgress sends the running row tally
func (c *Client) ReportProgress(ctx context.Context, jobID string, currentRow, totalRows, successCount, errorCount int) error {
	return c.post(ctx, jobID, EndpointProgress, progressPayload{
		JobID:        jobID,
		CurrentRow:   currentRow,
		TotalRows:    totalRows,
		SuccessCount: successCount,
		ErrorCount:   errorCount,
		Timestamp:    c.timestamp(),
	})
}

// ReportLog sends one row outcome
func (c *Client) ReportLog(ctx context.Context, jobID string, rowNumber int, status models.RowStatus, message string) error {
	return c.post(ctx, jobID, EndpointLog, logPayload{
		JobID:     jobID,
		RowNumber: rowNumber,
		Status:    status,
		Message:   message,
		Timestamp: c.timestamp(),
	})
}

// ReportCompletion sends the terminal completed status with results
func (c *Client) ReportCompletion(ctx context.Context, jobID string, results models.JobResults) error {
	ts := c.timestamp()
	return c.post(ctx, jobID, EndpointComplete, completionPayload{
		JobID:       jobID,
		Status:      models.JobStatusCompleted,
		Results:     results,
		CompletedAt: ts,
		Timestamp:   ts,
	})
}

// ReportFailure sends the terminal failed status with the triggering error
func (c *Client) ReportFailure(ctx context.Context, jobID string, jobErr error, failedRows []models.FailedRow) error {
	message := "unknown error"
	if jobErr != nil {
		message = jobErr.Error()
	}
	return c.post(ctx, jobID, EndpointFailed, failurePayload{
		JobID:      jobID,
		Status:     models.JobStatusFailed,
		Error:      message,
		ErrorKind:  models.KindOf(jobErr),
		FailedRows: failedRows,
		Timestamp:  c.timestamp(),
	})
}

// TestConnection checks the receiver's health endpoint
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(EndpointHealth), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback receiver unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &CallbackError{StatusCode: resp.StatusCode, Endpoint: EndpointHealth, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// post signs and delivers payload, re-signing on every attempt
func (c *Client) post(ctx context.Context, jobID, name string, payload interface{}) error {
	if c.baseURL == "" {
		return errors.New("callback base URL not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	url := c.endpoint(name)

	statusCode, err := c.retry.ExecuteWithRetry(ctx, c.logger, func() (int, error) {
		return c.send(ctx, url, name, body)
	})
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Str("endpoint", name).
			Int("status_code", statusCode).
			Msg("Callback delivery failed")
		return err
	}

	c.logger.Debug().
		Str("job_id", jobID).
		Str("endpoint", name).
		Int("status_code", statusCode).
		Msg("Callback delivered")
	return nil
}

func (c *Client) send(ctx context.Context, url, name string, body []byte) (int, error) {
	ts := signature.Timestamp(c.now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.HeaderSignature, signature.Sign(c.secret, body, ts))
	req.Header.Set(signature.HeaderTimestamp, ts)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &CallbackError{
			StatusCode: resp.StatusCode,
			Endpoint:   name,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return resp.StatusCode, nil
}
