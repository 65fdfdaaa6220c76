package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/signature"
)

const testSecret = "callback-secret"

type receivedCall struct {
	path string
	body map[string]interface{}
}

// receiver verifies signatures like the system of record does
type receiver struct {
	mu       sync.Mutex
	calls    []receivedCall
	verifier *signature.Verifier
}

func newReceiver() *receiver {
	return &receiver{verifier: signature.NewVerifier(testSecret, 0)}
}

func (r *receiver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)

		if err := r.verifier.Verify(body, req.Header.Get(signature.HeaderTimestamp), req.Header.Get(signature.HeaderSignature)); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &decoded))

		r.mu.Lock()
		r.calls = append(r.calls, receivedCall{path: req.URL.Path, body: decoded})
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func TestClient_SignedPayloads(t *testing.T) {
	rcv := newReceiver()
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL+"/", testSecret, WithLogger(arbor.NewLogger()))
	ctx := context.Background()

	progress := 0
	require.NoError(t, c.ReportStatus(ctx, "j1", models.JobStatusProcessing, &progress))
	require.NoError(t, c.ReportProgress(ctx, "j1", 1, 2, 1, 0))
	require.NoError(t, c.ReportLog(ctx, "j1", 2, models.RowStatusSuccess, "Row validated successfully"))
	require.NoError(t, c.ReportCompletion(ctx, "j1", models.JobResults{TotalRows: 2, SuccessCount: 1, ErrorCount: 1, Type: models.JobTypeDryRun}))
	require.NoError(t, c.ReportFailure(ctx, "j1", models.NewEmptySourceError("s", "A:C"), nil))

	require.Len(t, rcv.calls, 5)
	prefix := "/wp-json/aoikumo-importer/v1/"

	assert.Equal(t, prefix+"job-status", rcv.calls[0].path)
	assert.Equal(t, "j1", rcv.calls[0].body["jobId"])
	assert.Equal(t, "processing", rcv.calls[0].body["status"])
	assert.Equal(t, float64(0), rcv.calls[0].body["progress"])
	assert.NotEmpty(t, rcv.calls[0].body["timestamp"])

	assert.Equal(t, prefix+"job-progress", rcv.calls[1].path)
	assert.Equal(t, float64(1), rcv.calls[1].body["currentRow"])
	assert.Equal(t, float64(2), rcv.calls[1].body["totalRows"])
	assert.Equal(t, float64(1), rcv.calls[1].body["successCount"])
	assert.Equal(t, float64(0), rcv.calls[1].body["errorCount"])

	assert.Equal(t, prefix+"job-log", rcv.calls[2].path)
	assert.Equal(t, float64(2), rcv.calls[2].body["rowNumber"])
	assert.Equal(t, "success", rcv.calls[2].body["status"])

	assert.Equal(t, prefix+"job-complete", rcv.calls[3].path)
	assert.Equal(t, "completed", rcv.calls[3].body["status"])
	results := rcv.calls[3].body["results"].(map[string]interface{})
	assert.Equal(t, float64(2), results["total_rows"])
	assert.Equal(t, float64(1), results["success_count"])
	assert.Equal(t, float64(1), results["error_count"])
	assert.Equal(t, "dry_run", results["type"])
	assert.NotContains(t, results, "failed_rows")

	assert.Equal(t, prefix+"job-failed", rcv.calls[4].path)
	assert.Equal(t, "failed", rcv.calls[4].body["status"])
	assert.Contains(t, rcv.calls[4].body["error"], "no data found")
	assert.Equal(t, "empty_source", rcv.calls[4].body["errorKind"])
	assert.NotContains(t, rcv.calls[4].body, "failedRows")
}

func TestClient_ImportCompletionAlwaysListsFailedRows(t *testing.T) {
	rcv := newReceiver()
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret)
	require.NoError(t, c.ReportCompletion(context.Background(), "j3", models.JobResults{
		TotalRows:    2,
		SuccessCount: 2,
		Type:         models.JobTypeImport,
		FailedRows:   []models.FailedRow{},
	}))

	require.Len(t, rcv.calls, 1)
	results := rcv.calls[0].body["results"].(map[string]interface{})
	require.Contains(t, results, "failed_rows")
	assert.Equal(t, []interface{}{}, results["failed_rows"])
}

func TestClient_StatusWithoutProgress(t *testing.T) {
	rcv := newReceiver()
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, WithPathPrefix("/hooks/"))
	require.NoError(t, c.ReportStatus(context.Background(), "j2", models.JobStatusProcessing, nil))

	require.Len(t, rcv.calls, 1)
	assert.Equal(t, "/hooks/job-status", rcv.calls[0].path)
	assert.NotContains(t, rcv.calls[0].body, "progress")
}

func TestClient_WrongSecretRejected(t *testing.T) {
	rcv := newReceiver()
	srv := httptest.NewServer(rcv.handler(t))
	defer srv.Close()

	c := NewClient(srv.URL, "other-secret", WithRetryPolicy(NewRetryPolicy(3, time.Millisecond)))
	err := c.ReportLog(context.Background(), "j1", 2, models.RowStatusError, "x")

	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, http.StatusUnauthorized, cbErr.StatusCode)
	assert.Empty(t, rcv.calls)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, WithRetryPolicy(NewRetryPolicy(3, time.Millisecond)))
	require.NoError(t, c.ReportProgress(context.Background(), "j1", 1, 1, 1, 0))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, WithRetryPolicy(NewRetryPolicy(3, time.Millisecond)))
	require.Error(t, c.ReportProgress(context.Background(), "j1", 1, 1, 1, 0))
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", testSecret)
	assert.Error(t, c.ReportStatus(context.Background(), "j1", models.JobStatusProcessing, nil))
}

func TestClient_TestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wp-json/aoikumo-importer/v1/health" && r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, testSecret).TestConnection(context.Background()))
	assert.Error(t, NewClient(srv.URL, testSecret, WithPathPrefix("nope")).TestConnection(context.Background()))
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)

	assert.True(t, p.ShouldRetry(0, http.StatusBadGateway, errors.New("x")))
	assert.True(t, p.ShouldRetry(1, http.StatusTooManyRequests, errors.New("x")))
	assert.False(t, p.ShouldRetry(2, http.StatusBadGateway, errors.New("x")))
	assert.False(t, p.ShouldRetry(0, http.StatusUnauthorized, errors.New("x")))
	assert.True(t, p.ShouldRetry(0, 0, context.DeadlineExceeded))
	assert.False(t, p.ShouldRetry(0, 0, context.Canceled))
	assert.False(t, p.ShouldRetry(0, 0, errors.New("marshal failure")))
}
