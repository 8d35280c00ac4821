package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

type fakeNotifier struct {
	channels chan string
	err      error
}

func (f *fakeNotifier) TestChannel(_ context.Context, channel string) error {
	f.channels <- channel
	return f.err
}

type fakeStorage struct{ err error }

func (f fakeStorage) TestConnection(context.Context) error { return f.err }

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	return cmd
}

func receive(t *testing.T, send <-chan any) any {
	t.Helper()
	select {
	case msg := <-send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func TestNotificationTestCommand(t *testing.T) {
	notifier := &fakeNotifier{channels: make(chan string, 1), err: errors.New("connection refused")}
	h := NewCommandHandler(notifier, fakeStorage{}, "")
	send := make(chan any, 4)

	h.Handle(command(t, "notifications/test", map[string]string{"channel": "zabbix"}), send, func() {})

	assert.Equal(t, "zabbix", <-notifier.channels)
	result, ok := receive(t, send).(types.WSTestResult)
	require.True(t, ok)
	assert.Equal(t, "zabbix", result.TestType)
	assert.False(t, result.Success)
	assert.Equal(t, "connection refused", result.Error)
}

func TestNotificationTestValidatesChannel(t *testing.T) {
	h := NewCommandHandler(&fakeNotifier{channels: make(chan string, 1)}, fakeStorage{}, "")
	send := make(chan any, 4)

	h.Handle(command(t, "notifications/test", map[string]string{"channel": "pager"}), send, func() {})

	result, ok := receive(t, send).(types.WSCommandResult)
	require.True(t, ok)
	assert.Equal(t, "notifications/test_result", result.Type)
	assert.False(t, result.Success)
	require.Len(t, result.Error.Errors, 1)
	assert.Equal(t, "channel", result.Error.Errors[0].Field)
	assert.Equal(t, "must be one of: webhook zabbix log email", result.Error.Errors[0].Message)

	h.Handle(WSCommand{Type: "notifications/test"}, send, func() {})
	result = receive(t, send).(types.WSCommandResult)
	assert.Equal(t, "is required", result.Error.Errors[0].Message)
}

func TestS3TestCommand(t *testing.T) {
	h := NewCommandHandler(&fakeNotifier{}, fakeStorage{}, "")
	send := make(chan any, 4)

	h.Handle(WSCommand{Type: "recording/test-s3"}, send, func() {})

	result := receive(t, send).(types.WSTestResult)
	assert.Equal(t, "s3", result.TestType)
	assert.True(t, result.Success)
}

func TestRecentEventsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(path)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, logger.LogRecording(eventlog.RecordingStarted, now, &eventlog.RecordingDetails{Filename: "a.wav"}))
	require.NoError(t, logger.LogStorage(eventlog.UploadCompleted, &eventlog.StorageDetails{Filename: "a.wav"}))
	require.NoError(t, logger.LogRecording(eventlog.RecordingFinished, now, &eventlog.RecordingDetails{Filename: "a.wav"}))
	require.NoError(t, logger.Close())

	h := NewCommandHandler(&fakeNotifier{}, fakeStorage{}, path)
	send := make(chan any, 4)
	h.Handle(command(t, "events/recent", map[string]any{"limit": 1, "filter": "recording"}), send, func() {})

	result := receive(t, send).(types.WSCommandResult)
	require.True(t, result.Success)
	page := result.Data.(EventsResponse)
	require.Len(t, page.Events, 1)
	assert.Equal(t, eventlog.RecordingFinished, page.Events[0].Type)
	assert.True(t, page.HasMore)
}

func TestStatusRefreshAndUnknownCommands(t *testing.T) {
	h := NewCommandHandler(&fakeNotifier{}, fakeStorage{}, "")
	send := make(chan any, 4)

	refreshed := false
	h.Handle(WSCommand{Type: "status/refresh"}, send, func() { refreshed = true })
	assert.True(t, refreshed)
	assert.Empty(t, send)

	h.Handle(WSCommand{Type: "outputs/add"}, send, func() {})
	result := receive(t, send).(types.WSCommandResult)
	assert.False(t, result.Success)
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := SecurityHeaders(APIKeyAuth("0123456789abcdef")(ok))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "nope", "", http.StatusUnauthorized},
		{"header", "0123456789abcdef", "", http.StatusNoContent},
		{"query", "", "?api_key=0123456789abcdef", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status"+tt.query, http.NoBody)
			if tt.header != "" {
				req.Header.Set(APIKeyHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		})
	}

	rec := httptest.NewRecorder()
	APIKeyAuth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://recorder.local:8080", true},
		{"http://192.168.1.20", true},
		{"https://evil.example.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://recorder.local:8080/ws", http.NoBody)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(req), tt.origin)
	}
}
