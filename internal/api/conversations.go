package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	convs, err := s.hist.ListByUser(userID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list conversations failed")
		return
	}
	s.writeJSON(w, map[string]any{"conversations": convs})
}

// loadConversation resolves the path id with ownership enforced,
// writing the error response itself on failure.
func (s *Server) loadConversation(w http.ResponseWriter, r *http.Request) (*history.Conversation, []history.Message, bool) {
	userID := userFromContext(r.Context())

	conv, err := s.hist.Get(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "conversation not found")
		} else {
			s.errorResponse(w, http.StatusInternalServerError, "load conversation failed")
		}
		return nil, nil, false
	}

	msgs, err := s.hist.Messages(conv.ID, 0)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "load messages failed")
		return nil, nil, false
	}
	return conv, msgs, true
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, msgs, ok := s.loadConversation(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	conv, msgs, ok := s.loadConversation(w, r)
	if !ok {
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = w.Write([]byte(history.TranscriptMarkdown(conv, msgs)))
	case "html":
		rendered, err := history.TranscriptHTML(conv, msgs)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "render transcript failed")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(rendered))
	default:
		s.errorResponse(w, http.StatusBadRequest, "unknown format "+format)
	}
}

func (s *Server) handleTripList(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	trips, err := s.trips.ListByUser(userID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "list trips failed")
		return
	}
	s.writeJSON(w, map[string]any{"trips": trips})
}

func (s *Server) handleTripGet(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	tr, err := s.trips.Get(r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, trip.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "trip not found")
		} else {
			s.errorResponse(w, http.StatusInternalServerError, "load trip failed")
		}
		return
	}
	s.writeJSON(w, tr)
}

func (s *Server) handleTripCreate(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	var req struct {
		Title string    `json:"title"`
		Plan  trip.Plan `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		s.errorResponse(w, http.StatusBadRequest, "title is required")
		return
	}

	tr := &trip.Trip{UserID: userID, Title: req.Title, Plan: req.Plan}
	if err := s.trips.Create(tr); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "create trip failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(tr); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}
