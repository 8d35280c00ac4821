package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/config"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/server"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

const testAPIKey = "0123456789abcdef"

type fakeStatus struct{}

func (fakeStatus) Snapshot() types.Telemetry {
	return types.Telemetry{LevelDB: -23.5, ThresholdDB: -30, Phase: "recording", EventCount: 2}
}

func (fakeStatus) Levels() types.Levels {
	return types.Levels{LevelDB: -23.5, ThresholdDB: -30, Noise: true, Phase: "recording"}
}

func (fakeStatus) TickInterval() time.Duration { return 250 * time.Millisecond }

type fakeNotifier struct{ channel string }

func (f *fakeNotifier) TestChannel(_ context.Context, channel string) error {
	f.channel = channel
	if channel == "email" {
		return errors.New("email not configured")
	}
	return nil
}

type fakeStorage struct{}

func (fakeStorage) TestConnection(context.Context) error { return nil }

func newTestServer(t *testing.T, eventLogPath string) (*Server, *fakeNotifier) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"system": {"port": 8080, "api_key": "` + testAPIKey + `", "station_name": "Test FM"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg := config.New(path)
	require.NoError(t, cfg.Load())

	notifier := &fakeNotifier{}
	srv := NewServer(cfg, ServerDeps{
		Status:       fakeStatus{},
		Notifier:     notifier,
		Storage:      fakeStorage{},
		Version:      NewVersionChecker(),
		Input:        "Line In",
		EventLogPath: eventLogPath,
	})
	return srv, notifier
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(server.APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status types.WSStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, "Line In", status.Input)
	assert.Equal(t, "recording", status.Telemetry.Phase)
	assert.Equal(t, uint64(2), status.Telemetry.EventCount)
	assert.Equal(t, "dev", status.Version.Current)
	assert.False(t, status.Version.UpdateAvail)

	rec = do(t, h, http.MethodGet, "/api/levels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var levels types.Levels
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &levels))
	assert.True(t, levels.Noise)
}

func TestAPIRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := httptest.NewRecorder()
	srv.SetupRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := do(t, srv.SetupRoutes(), http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	logger, err := eventlog.NewLogger(path)
	require.NoError(t, err)
	now := time.Now()
	for range 3 {
		require.NoError(t, logger.LogRecording(eventlog.RecordingStarted, now, &eventlog.RecordingDetails{Filename: "a.wav"}))
	}
	require.NoError(t, logger.LogStorage(eventlog.UploadQueued, &eventlog.StorageDetails{Filename: "a.wav"}))
	require.NoError(t, logger.Close())

	srv, _ := newTestServer(t, path)
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodGet, "/api/events?limit=2&filter=recording", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page server.EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)

	rec = do(t, h, http.MethodGet, "/api/events?filter=storage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, eventlog.UploadQueued, page.Events[0].Type)
	assert.False(t, page.HasMore)

	tests := []struct {
		name  string
		query string
	}{
		{"unknown filter", "?filter=everything"},
		{"limit too large", "?limit=501"},
		{"negative offset", "?offset=-1"},
		{"non-numeric limit", "?limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/events"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAPITestNotification(t *testing.T) {
	srv, notifier := newTestServer(t, "")
	h := srv.SetupRoutes()

	rec := do(t, h, http.MethodPost, "/api/notifications/test", `{"channel": "webhook"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result types.WSTestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "webhook", notifier.channel)

	rec = do(t, h, http.MethodPost, "/api/notifications/test", `{"channel": "email"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "email not configured", result.Error)

	rec = do(t, h, http.MethodPost, "/api/notifications/test", `{"channel": "sms"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be one of")

	rec = do(t, h, http.MethodPost, "/api/notifications/test", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
		{"2.0.0", "2.0.0-rc.1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerVersion(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestFormatBuildTime(t *testing.T) {
	assert.Equal(t, "unknown", formatBuildTime("unknown"))
	assert.Contains(t, formatBuildTime("2025-04-02T07:08:09Z"), "2025")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger, err = newLogger("WARN", "text")
	require.NoError(t, err)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))

	_, err = newLogger("loud", "text")
	require.Error(t, err)
	_, err = newLogger("info", "xml")
	require.Error(t, err)
}

func TestVersionCheck(t *testing.T) {
	var (
		mu     sync.Mutex
		etags  []string
		status atomic.Int32
	)
	status.Store(http.StatusOK)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		etags = append(etags, r.Header.Get("If-None-Match"))
		mu.Unlock()
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name": "v9.9.9"}`))
	}))
	defer ts.Close()

	vc := newVersionChecker(ts.URL, ts.Client())
	require.NoError(t, vc.check(context.Background()))
	assert.Equal(t, "9.9.9", vc.Info().Latest)
	assert.False(t, vc.Info().UpdateAvail, "dev builds never report updates")

	status.Store(http.StatusNotModified)
	require.NoError(t, vc.check(context.Background()))
	mu.Lock()
	assert.Equal(t, []string{"", `"abc"`}, etags)
	mu.Unlock()

	status.Store(http.StatusServiceUnavailable)
	assert.ErrorIs(t, vc.check(context.Background()), errRetryable)

	status.Store(http.StatusBadRequest)
	err := vc.check(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errRetryable)
}

func TestVersionCheckerStop(t *testing.T) {
	vc := newVersionChecker("http://127.0.0.1:0", http.DefaultClient)
	vc.Stop()
	vc.Start()
	vc.Stop()
}

func dialWebSocket(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?api_key=" + testAPIKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestShutdownClosesWebSockets(t *testing.T) {
	srv, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.SetupRoutes())
	defer ts.Close()

	conns := []*websocket.Conn{dialWebSocket(t, ts), dialWebSocket(t, ts)}
	for _, conn := range conns {
		var status types.WSStatusResponse
		require.NoError(t, conn.ReadJSON(&status))
		assert.Equal(t, "status", status.Type)
	}

	require.NoError(t, srv.Shutdown(ts.Config, 2*time.Second))

	srv.mu.Lock()
	assert.Empty(t, srv.conns)
	srv.mu.Unlock()

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				var netErr interface{ Timeout() bool }
				if errors.As(err, &netErr) {
					assert.False(t, netErr.Timeout(), "connection still open")
				}
				break
			}
		}
	}
}
