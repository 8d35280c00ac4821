package server

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

const (
	// DefaultEventLimit is the number of events returned when no limit is given.
	DefaultEventLimit = 50
	// testTimeout bounds a single notification or storage test.
	testTimeout = 2 * time.Minute
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NotificationTester sends a test message through one notification channel.
type NotificationTester interface {
	TestChannel(ctx context.Context, channel string) error
}

// StorageTester verifies the object storage connection.
type StorageTester interface {
	TestConnection(ctx context.Context) error
}

// EventsResponse is the data returned by events/recent.
type EventsResponse struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	notifier     NotificationTester
	storage      StorageTester
	eventLogPath string
}

// NewCommandHandler creates a new command handler. eventLogPath may be
// empty when no event log is kept.
func NewCommandHandler(notifier NotificationTester, storage StorageTester, eventLogPath string) *CommandHandler {
	return &CommandHandler{
		notifier:     notifier,
		storage:      storage,
		eventLogPath: eventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "notifications/test").
// triggerStatusUpdate asks the connection to push a fresh status message.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	switch cmd.Type {
	case "notifications/test":
		h.handleNotificationTest(cmd, send)
	case "recording/test-s3":
		h.handleTestS3(send)
	case "events/recent":
		h.handleRecentEvents(cmd, send)
	case "status/refresh":
		triggerStatusUpdate()
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		SendError(send, cmd.Type, fmt.Errorf("unknown command %q", cmd.Type))
	}
}

// handleNotificationTest runs a channel test and reports a test_result message.
func (h *CommandHandler) handleNotificationTest(cmd WSCommand, send chan<- any) {
	var req NotificationTestRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	h.runTest(send, req.Channel, func(ctx context.Context) error {
		return h.notifier.TestChannel(ctx, req.Channel)
	})
}

// handleTestS3 verifies the configured bucket.
func (h *CommandHandler) handleTestS3(send chan<- any) {
	h.runTest(send, "s3", h.storage.TestConnection)
}

// runTest executes test in the background and sends the outcome.
func (h *CommandHandler) runTest(send chan<- any, testType string, test func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}
		if err := test(ctx); err != nil {
			slog.Warn("test failed", "test", testType, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "test", testType)
		}
		trySend(send, "test_result", result)
	}()
}

// handleRecentEvents returns a page of the event log, newest first.
func (h *CommandHandler) handleRecentEvents(cmd WSCommand, send chan<- any) {
	var req EventsRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		events, hasMore, err := h.ReadEvents(req.Limit, req.Offset, req.Filter)
		if err != nil {
			return nil, err
		}
		return EventsResponse{Events: events, HasMore: hasMore}, nil
	})
}

// ReadEvents reads a page of the event log.
func (h *CommandHandler) ReadEvents(limit, offset int, filter string) ([]eventlog.Event, bool, error) {
	if h.eventLogPath == "" {
		return []eventlog.Event{}, false, nil
	}
	return eventlog.ReadLast(h.eventLogPath, cmp.Or(limit, DefaultEventLimit), offset, eventlog.TypeFilter(filter))
}
