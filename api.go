package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/server"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeValidationError responds with the field errors of a rejected request.
func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": server.ToValidationError(err)})
}

// handleAPIStatus returns the recorder status.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.buildStatus())
}

// handleAPILevels returns the levels of the most recent tick.
// GET /api/levels
func (s *Server) handleAPILevels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Levels())
}

// handleAPIEvents returns a page of the event log, newest first.
// GET /api/events?limit=50&offset=0&filter=recording
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var req server.EventsRequest
	for name, dst := range map[string]*int{"limit": &req.Limit, "offset": &req.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, name+" must be a number")
			return
		}
		*dst = n
	}
	req.Filter = q.Get("filter")

	if err := server.ValidateRequest(&req); err != nil {
		s.writeValidationError(w, err)
		return
	}

	events, hasMore, err := s.commands.ReadEvents(req.Limit, req.Offset, req.Filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, server.EventsResponse{Events: events, HasMore: hasMore})
}

// handleAPITestNotification sends a test message through one channel.
// POST /api/notifications/test {"channel": "webhook"}
func (s *Server) handleAPITestNotification(w http.ResponseWriter, r *http.Request) {
	var req server.NotificationTestRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	if err := server.ValidateRequest(&req); err != nil {
		s.writeValidationError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), notificationTestTimeout)
	defer cancel()

	result := types.WSTestResult{Type: "test_result", TestType: req.Channel, Success: true}
	if err := s.notifier.TestChannel(ctx, req.Channel); err != nil {
		result.Success = false
		result.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, result)
}
