package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/interfaces"
	"github.com/ternarybob/sheetporter/internal/models"
	"github.com/ternarybob/sheetporter/internal/services/events"
)

type staticStatus map[string]interface{}

func (s staticStatus) GetStatus() map[string]interface{} { return s }

func dialWebSocket(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, handler *WebSocketHandler, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return handler.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_Hello(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), &common.WebSocketConfig{})
	defer handler.Close()
	handler.SetStatusProvider(staticStatus{"state": "idle"})

	conn := dialWebSocket(t, handler)
	msg := readMessage(t, conn)

	assert.Equal(t, "hello", msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.NotEmpty(t, payload["server_instance_id"])
	assert.Equal(t, map[string]interface{}{"state": "idle"}, payload["status"])
	waitForClients(t, handler, 1)
}

func TestWebSocket_BroadcastsJobEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	handler := NewWebSocketHandler(eventService, arbor.NewLogger(), &common.WebSocketConfig{ProgressThrottle: "20ms"})
	defer handler.Close()

	conn := dialWebSocket(t, handler)
	readMessage(t, conn) // hello
	waitForClients(t, handler, 1)

	ctx := context.Background()
	desc := models.JobDescriptor{JobID: "job-1", MappingID: "Customers.Basic"}
	publish := func(eventType interfaces.EventType, event models.JobEvent) {
		event.JobID = "job-1"
		event.Descriptor = desc
		require.NoError(t, eventService.PublishSync(ctx, interfaces.Event{Type: eventType, Payload: event}))
	}

	publish(interfaces.EventJobStarted, models.JobEvent{State: models.JobState{Status: models.JobStatusProcessing}})
	assert.Equal(t, "job_started", readMessage(t, conn).Type)

	// Three row events inside one throttle window arrive as the latest one
	for i := 2; i <= 4; i++ {
		publish(interfaces.EventRowProcessed, models.JobEvent{
			State: models.JobState{Status: models.JobStatusProcessing, CurrentRow: i - 1, TotalRows: 3},
			Row:   &models.RowOutcome{RowNumber: i, Status: models.RowStatusSuccess},
		})
	}
	progress := readMessage(t, conn)
	assert.Equal(t, "job_progress", progress.Type)
	state := progress.Payload.(map[string]interface{})["state"].(map[string]interface{})
	assert.Equal(t, float64(3), state["currentRow"])

	publish(interfaces.EventJobCompleted, models.JobEvent{State: models.JobState{Status: models.JobStatusCompleted}})
	assert.Equal(t, "job_completed", readMessage(t, conn).Type)
}

func TestWebSocket_CloseDisconnectsClients(t *testing.T) {
	handler := NewWebSocketHandler(nil, arbor.NewLogger(), nil)

	conn := dialWebSocket(t, handler)
	readMessage(t, conn)
	waitForClients(t, handler, 1)

	handler.Close()
	assert.Equal(t, 0, handler.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestJobMessageType(t *testing.T) {
	assert.Equal(t, "job_started", jobMessageType(models.JobEvent{}))
	assert.Equal(t, "job_progress", jobMessageType(models.JobEvent{Row: &models.RowOutcome{}}))
	assert.Equal(t, "job_completed", jobMessageType(models.JobEvent{State: models.JobState{Status: models.JobStatusCompleted}}))
	assert.Equal(t, "job_failed", jobMessageType(models.JobEvent{State: models.JobState{Status: models.JobStatusFailed}}))
}
