package reporter

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"slices"
	"time"

	"github.com/ternarybob/arbor"
)

// RetryPolicy retries callback deliveries with exponential backoff
type RetryPolicy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes []int
}

// NewRetryPolicy creates a policy for callback delivery
func NewRetryPolicy(maxAttempts int, initialBackoff time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	return &RetryPolicy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    initialBackoff,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: []int{
			408, // Request Timeout
			429, // Too Many Requests
			500, // Internal Server Error
			502, // Bad Gateway
			503, // Service Unavailable
			504, // Gateway Timeout
		},
	}
}

// ShouldRetry decides whether attempt (0-based) may be followed by another
func (p *RetryPolicy) ShouldRetry(attempt int, statusCode int, err error) bool {
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if statusCode > 0 {
		return p.isRetryableStatusCode(statusCode)
	}
	return isRetryableError(err)
}

// CalculateBackoff returns the delay after attempt with ±25% jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}
	return time.Duration(backoff)
}

// ExecuteWithRetry calls fn until it succeeds, fails permanently, or attempts run out.
// fn returns the HTTP status (0 when no response was received) and an error.
func (p *RetryPolicy) ExecuteWithRetry(ctx context.Context, logger arbor.ILogger, fn func() (int, error)) (int, error) {
	var statusCode int
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		statusCode, lastErr = fn()
		if lastErr == nil {
			return statusCode, nil
		}

		if !p.ShouldRetry(attempt, statusCode, lastErr) {
			break
		}

		backoff := p.CalculateBackoff(attempt)
		logger.Debug().
			Int("attempt", attempt+1).
			Int("status_code", statusCode).
			Err(lastErr).
			Dur("backoff", backoff).
			Msg("Retrying callback after backoff")

		select {
		case <-ctx.Done():
			return statusCode, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return statusCode, lastErr
}

func (p *RetryPolicy) isRetryableStatusCode(statusCode int) bool {
	return slices.Contains(p.RetryableStatusCodes, statusCode)
}

// isRetryableError accepts timeouts and connection-level failures
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
