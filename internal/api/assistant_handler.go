package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/assistant"
	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

// turnRequest is the inbound body for one chat turn.
type turnRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// sseSink streams frames as SSE events. Each frame resets the write
// deadline so long tool executions do not starve the connection.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseSink{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

// Send implements assistant.Sink.
func (s *sseSink) Send(fr assistant.Frame) error {
	data, err := json.Marshal(fr.Data)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", fr.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", fr.Type, data); err != nil {
		return fmt.Errorf("write %s frame: %w", fr.Type, err)
	}
	s.flusher.Flush()
	_ = s.rc.SetWriteDeadline(time.Now().Add(120 * time.Second))
	return nil
}

// admitTurn runs every pre-stream check: trip ownership, itinerary
// presence, and the rate limiter. It writes the rejection response
// itself and reports whether the turn may proceed.
func (s *Server) admitTurn(w http.ResponseWriter, r *http.Request, tripID, userID string) bool {
	tr, err := s.trips.Get(tripID, userID)
	if err != nil {
		if errors.Is(err, trip.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "trip not found")
		} else {
			s.errorResponse(w, http.StatusInternalServerError, "load trip failed")
		}
		return false
	}
	if tr.Plan.DayCount() == 0 {
		s.errorResponse(w, http.StatusConflict, "trip has no itinerary yet")
		return false
	}

	decision := s.limiter.Admit(userID)
	if !decision.Allowed {
		retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
		s.stats.RecordRateLimited()
		s.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAPI,
			Kind:      events.KindRateLimited,
			Data:      map[string]any{"user_id": userID, "retry_after_seconds": retryAfter},
		})
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":           "rate limit exceeded",
				"code":              http.StatusTooManyRequests,
				"retryAfterSeconds": retryAfter,
			},
		})
		return false
	}
	return true
}

func (s *Server) handleAssistantTurn(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	userID := userFromContext(r.Context())

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	if !s.admitTurn(w, r, tripID, userID) {
		return
	}

	// A resumed conversation must belong to this caller and this trip.
	// Rejecting here keeps admission failures out of the stream.
	if req.ConversationID != "" {
		conv, err := s.hist.Get(req.ConversationID, userID)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				s.errorResponse(w, http.StatusNotFound, "conversation not found")
			} else {
				s.errorResponse(w, http.StatusInternalServerError, "load conversation failed")
			}
			return
		}
		if conv.TripID != tripID {
			s.errorResponse(w, http.StatusConflict, "conversation belongs to a different trip")
			return
		}
	}

	sink, err := newSSESink(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	res, err := s.loop.Run(r.Context(), assistant.Request{
		UserID:         userID,
		TripID:         tripID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
	}, sink)
	if err != nil {
		// The error frame already streamed; nothing more to send.
		s.logger.Error("assistant turn failed", "trip_id", tripID, "error", err)
		return
	}
	s.stats.Record(res)
}

func (s *Server) handleItinerary(w http.ResponseWriter, r *http.Request) {
	tripID := r.PathValue("id")
	userID := userFromContext(r.Context())

	if !s.admitTurn(w, r, tripID, userID) {
		return
	}

	sink, err := newSSESink(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.gen.Generate(r.Context(), tripID, userID, sink); err != nil {
		s.logger.Error("itinerary generation failed", "trip_id", tripID, "error", err)
	}
}
